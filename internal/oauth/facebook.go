package oauth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/iayvob/Ads-Analytics-V2/internal/model"
)

var FacebookScopes = []string{
	"ads_management",
	"ads_read",
	"business_management",
	"pages_read_engagement",
	"pages_manage_ads",
	"pages_manage_metadata",
	"read_insights",
}

var facebookEndpoints = Endpoints{
	AuthURL:   "https://www.facebook.com/v18.0/dialog/oauth",
	TokenURL:  "https://graph.facebook.com/v18.0/oauth/access_token",
	APIURL:    "https://graph.facebook.com",
	RevokeURL: "https://graph.facebook.com",
}

// facebookDefaultTTL applies when the token response has no expires_in.
const facebookDefaultTTL = time.Hour

type Facebook struct {
	client
	configID string
}

var (
	_ Provider        = (*Facebook)(nil)
	_ BusinessFetcher = (*Facebook)(nil)
)

// NewFacebook returns the Facebook client. configID selects a Facebook Login
// for Business configuration and may be empty.
func NewFacebook(creds Credentials, configID string, opts Options) *Facebook {
	return &Facebook{
		client:   newClient(model.ProviderFacebook, creds, FacebookScopes, oauth2.AuthStyleInParams, facebookEndpoints, opts),
		configID: configID,
	}
}

func (f *Facebook) UsesPKCE() bool { return false }

// ConfigID is the Login for Business configuration sent with the
// authorization request, stored with the token for reference.
func (f *Facebook) ConfigID() string { return f.configID }

func (f *Facebook) AuthCodeURL(state, redirectURI, _ string) string {
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("display", "popup")}
	if f.configID != "" {
		opts = append(opts, oauth2.SetAuthURLParam("config_id", f.configID))
	}
	return f.authCodeURL(state, redirectURI, opts...)
}

func (f *Facebook) Exchange(ctx context.Context, code, redirectURI, _ string) (*Token, error) {
	tok, err := f.exchange(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = f.now().Add(facebookDefaultTTL)
	}
	return &Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: expiry}, nil
}

func (f *Facebook) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	var me struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := f.graphGet(ctx, "/me", "id,name,email", accessToken, "identity lookup", &me); err != nil {
		return nil, err
	}
	if me.ID == "" {
		f.logger.Error("identity lookup returned no id")
		return nil, f.upstreamError("identity lookup failed")
	}
	return &Identity{ID: me.ID, Name: me.Name, Email: me.Email}, nil
}

// FetchBusinessData loads the user's businesses and ad accounts
// concurrently. If either call fails the whole result is empty.
func (f *Facebook) FetchBusinessData(ctx context.Context, accessToken string) model.BusinessData {
	var (
		businesses struct {
			Data []model.Business `json:"data"`
		}
		adAccounts struct {
			Data []model.AdAccount `json:"data"`
		}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return f.graphGet(gctx, "/me/businesses", "id,name,verification_status", accessToken, "business lookup", &businesses)
	})
	g.Go(func() error {
		return f.graphGet(gctx, "/me/adaccounts", "id,name,account_status,business", accessToken, "ad account lookup", &adAccounts)
	})
	if err := g.Wait(); err != nil {
		f.logger.Warn("business data unavailable", "error", err)
		return model.BusinessData{}
	}

	return model.BusinessData{
		Businesses:         businesses.Data,
		AdAccounts:         adAccounts.Data,
		PrimaryAdAccountID: model.PrimaryAdAccount(adAccounts.Data),
	}
}

func (f *Facebook) Revoke(ctx context.Context, providerID, accessToken string) error {
	return f.revokeGraphPermissions(ctx, providerID, accessToken)
}

func (f *Facebook) graphGet(ctx context.Context, path, fields, accessToken, op string, out any) error {
	u := fmt.Sprintf("%s%s?fields=%s&%s", f.ep.APIURL, path, fields, accessTokenQuery(accessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("oauth: building %s request: %w", op, err)
	}
	return f.doJSON(req, op, out)
}
