// Package oauth implements the OAuth 2.0 authorization code flow against the
// supported social platforms behind one Provider contract.
//
// FLOW:
//
//	NOT_STARTED ──AuthCodeURL──▶ STATE_ISSUED ──callback──▶ CODE_RECEIVED
//	     ──Exchange──▶ TOKEN_EXCHANGED ──FetchIdentity──▶ IDENTITY_RESOLVED ──▶ LINKED
//
// The state check and the final linking are done by the service layer; this
// package only talks to the providers. Every upstream failure is returned as
// an apperror.Unauthorized with code "upstream_oauth_failure" and a generic
// message. The raw provider response is logged here and never returned.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/iayvob/Ads-Analytics-V2/internal/apperror"
	"github.com/iayvob/Ads-Analytics-V2/internal/model"
)

// Provider is one social platform's OAuth client.
type Provider interface {
	Name() model.ProviderName

	// UsesPKCE reports whether the provider needs a code verifier and
	// challenge for the authorization round-trip.
	UsesPKCE() bool

	// AuthCodeURL builds the URL the browser is sent to. codeChallenge is
	// ignored by providers that do not use PKCE.
	AuthCodeURL(state, redirectURI, codeChallenge string) string

	// Exchange trades the authorization code for tokens. redirectURI must
	// be the value passed to AuthCodeURL.
	Exchange(ctx context.Context, code, redirectURI, codeVerifier string) (*Token, error)

	FetchIdentity(ctx context.Context, accessToken string) (*Identity, error)

	// Revoke invalidates the access token at the provider. Callers treat a
	// failure as non-fatal.
	Revoke(ctx context.Context, providerID, accessToken string) error
}

// BusinessFetcher is implemented by providers that expose business and ad
// account data. It never fails: on any upstream error it returns the zero
// BusinessData.
type BusinessFetcher interface {
	FetchBusinessData(ctx context.Context, accessToken string) model.BusinessData
}

// Token is the result of a code exchange. A zero Expiry means the provider
// did not report one.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// ExpiresAt returns the expiry as a pointer, nil when unknown.
func (t *Token) ExpiresAt() *time.Time {
	if t.Expiry.IsZero() {
		return nil
	}
	e := t.Expiry
	return &e
}

// Identity is the provider's view of the user. Email is empty when the
// provider does not share one.
type Identity struct {
	ID       string
	Name     string
	Username string
	Email    string
}

// Endpoints are the provider URLs. Zero fields fall back to the production
// URLs, so tests can point a provider at an httptest.Server.
type Endpoints struct {
	AuthURL  string
	TokenURL string
	// APIURL is the base URL of identity and business calls.
	APIURL string
	// RevokeURL is the revocation endpoint (Twitter) or the Graph API base
	// the permissions delete is sent to (Facebook, Instagram).
	RevokeURL string
}

func (e Endpoints) withDefaults(d Endpoints) Endpoints {
	if e.AuthURL == "" {
		e.AuthURL = d.AuthURL
	}
	if e.TokenURL == "" {
		e.TokenURL = d.TokenURL
	}
	if e.APIURL == "" {
		e.APIURL = d.APIURL
	}
	if e.RevokeURL == "" {
		e.RevokeURL = d.RevokeURL
	}
	return e
}

// Credentials are an app registration's client id and secret.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Options configure a provider. Zero values are replaced by defaults.
type Options struct {
	Endpoints  Endpoints
	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
}

// client holds what every provider shares: the oauth2 config and the HTTP
// plumbing for identity and revocation calls.
type client struct {
	name   model.ProviderName
	config oauth2.Config
	ep     Endpoints
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time
}

func newClient(name model.ProviderName, creds Credentials, scopes []string, style oauth2.AuthStyle, defaults Endpoints, opts Options) client {
	ep := opts.Endpoints.withDefaults(defaults)
	c := client{
		name: name,
		config: oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   ep.AuthURL,
				TokenURL:  ep.TokenURL,
				AuthStyle: style,
			},
		},
		ep:     ep,
		http:   opts.HTTPClient,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.logger = c.logger.With("provider", string(name))
	return c
}

func (c *client) Name() model.ProviderName { return c.name }

// configFor returns a copy of the oauth2 config bound to redirectURI. The
// shared config is never mutated, so concurrent requests are safe.
func (c *client) configFor(redirectURI string) *oauth2.Config {
	cfg := c.config
	cfg.RedirectURL = redirectURI
	return &cfg
}

func (c *client) authCodeURL(state, redirectURI string, opts ...oauth2.AuthCodeOption) string {
	return c.configFor(redirectURI).AuthCodeURL(state, opts...)
}

// exchange runs the token request through the provider's HTTP client.
func (c *client) exchange(ctx context.Context, code, redirectURI string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	tok, err := c.configFor(redirectURI).Exchange(ctx, code, opts...)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			c.logger.Error("token exchange failed", "status", status, "body", string(re.Body))
		} else {
			c.logger.Error("token exchange failed", "error", err)
		}
		return nil, c.upstreamError("authentication failed")
	}
	return tok, nil
}

// doJSON sends req and decodes a 2xx JSON response into out. Non-2xx
// responses are logged with their body and returned as upstream errors.
func (c *client) doJSON(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error(op+" failed", "error", err)
		return c.upstreamError(op + " failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.logger.Error(op+" failed", "error", err)
		return c.upstreamError(op + " failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error(op+" failed", "status", resp.StatusCode, "body", string(body))
		return c.upstreamError(op + " failed")
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Error(op+" returned invalid JSON", "error", err, "body", string(body))
		return c.upstreamError(op + " failed")
	}
	return nil
}

func (c *client) upstreamError(what string) error {
	return apperror.Unauthorized(apperror.CodeUpstreamOAuthFailure, fmt.Sprintf("%s: %s", c.name, what))
}

// revokeGraphPermissions deletes the app's permissions for the user, which
// is how Facebook and Instagram tokens are revoked.
func (c *client) revokeGraphPermissions(ctx context.Context, providerID, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.ep.RevokeURL+"/"+url.PathEscape(providerID)+"/permissions?"+accessTokenQuery(accessToken), nil)
	if err != nil {
		return fmt.Errorf("oauth: building revoke request: %w", err)
	}
	return c.doJSON(req, "token revocation", nil)
}
