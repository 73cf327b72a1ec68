package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/iayvob/Ads-Analytics-V2/internal/model"
)

var TwitterScopes = []string{"tweet.read", "users.read", "like.read", "follows.read", "offline.access"}

var twitterEndpoints = Endpoints{
	AuthURL:   "https://twitter.com/i/oauth2/authorize",
	TokenURL:  "https://api.twitter.com/2/oauth2/token",
	APIURL:    "https://api.twitter.com/2",
	RevokeURL: "https://api.twitter.com/2/oauth2/revoke",
}

// Twitter is the X/Twitter OAuth 2.0 client. It is a confidential client:
// the token and revoke endpoints get HTTP Basic client credentials, and the
// authorization round-trip is bound with PKCE (S256).
type Twitter struct {
	client
}

var _ Provider = (*Twitter)(nil)

func NewTwitter(creds Credentials, opts Options) *Twitter {
	return &Twitter{
		client: newClient(model.ProviderTwitter, creds, TwitterScopes, oauth2.AuthStyleInHeader, twitterEndpoints, opts),
	}
}

func (t *Twitter) UsesPKCE() bool { return true }

func (t *Twitter) AuthCodeURL(state, redirectURI, codeChallenge string) string {
	return t.authCodeURL(state, redirectURI,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Exchange sends codeVerifier unmodified; the provider checks it against
// the challenge from the authorization request.
func (t *Twitter) Exchange(ctx context.Context, code, redirectURI, codeVerifier string) (*Token, error) {
	tok, err := t.exchange(ctx, code, redirectURI, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}, nil
}

func (t *Twitter) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.ep.APIURL+"/users/me", nil)
	if err != nil {
		return nil, fmt.Errorf("oauth: building identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var me struct {
		Data struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := t.doJSON(req, "identity lookup", &me); err != nil {
		return nil, err
	}
	if me.Data.ID == "" {
		t.logger.Error("identity lookup returned no id")
		return nil, t.upstreamError("identity lookup failed")
	}
	return &Identity{ID: me.Data.ID, Name: me.Data.Name, Username: me.Data.Username}, nil
}

func (t *Twitter) Revoke(ctx context.Context, _, accessToken string) error {
	form := url.Values{
		"token":           {accessToken},
		"token_type_hint": {"access_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.ep.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("oauth: building revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(t.config.ClientID), url.QueryEscape(t.config.ClientSecret))
	return t.doJSON(req, "token revocation", nil)
}
