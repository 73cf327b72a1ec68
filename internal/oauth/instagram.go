package oauth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/iayvob/Ads-Analytics-V2/internal/model"
)

var InstagramScopes = []string{
	"instagram_business_basic",
	"instagram_business_manage_messages",
	"instagram_business_manage_comments",
	"instagram_business_content_publish",
	"instagram_business_manage_insights",
}

var instagramEndpoints = Endpoints{
	AuthURL:   "https://www.instagram.com/oauth/authorize",
	TokenURL:  "https://api.instagram.com/oauth/access_token",
	APIURL:    "https://graph.instagram.com/v23.0",
	RevokeURL: "https://graph.facebook.com",
}

// instagramTokenTTL is the lifetime of an Instagram token. The token
// endpoint does not report it.
const instagramTokenTTL = 60 * 24 * time.Hour

type Instagram struct {
	client
}

var _ Provider = (*Instagram)(nil)

func NewInstagram(creds Credentials, opts Options) *Instagram {
	return &Instagram{
		client: newClient(model.ProviderInstagram, creds, InstagramScopes, oauth2.AuthStyleInParams, instagramEndpoints, opts),
	}
}

func (i *Instagram) UsesPKCE() bool { return false }

func (i *Instagram) AuthCodeURL(state, redirectURI, _ string) string {
	return i.authCodeURL(state, redirectURI)
}

func (i *Instagram) Exchange(ctx context.Context, code, redirectURI, _ string) (*Token, error) {
	tok, err := i.exchange(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       i.now().Add(instagramTokenTTL),
	}, nil
}

func (i *Instagram) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	u := fmt.Sprintf("%s/me?fields=id,username&%s", i.ep.APIURL, accessTokenQuery(accessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("oauth: building identity request: %w", err)
	}

	var me struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := i.doJSON(req, "identity lookup", &me); err != nil {
		return nil, err
	}
	if me.ID == "" {
		i.logger.Error("identity lookup returned no id")
		return nil, i.upstreamError("identity lookup failed")
	}
	return &Identity{ID: me.ID, Username: me.Username}, nil
}

func (i *Instagram) Revoke(ctx context.Context, providerID, accessToken string) error {
	return i.revokeGraphPermissions(ctx, providerID, accessToken)
}
