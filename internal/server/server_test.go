package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iayvob/Ads-Analytics-V2/internal/auth"
	"github.com/iayvob/Ads-Analytics-V2/internal/config"
	"github.com/iayvob/Ads-Analytics-V2/internal/model"
	"github.com/iayvob/Ads-Analytics-V2/internal/oauth"
)

// =========================================================================
// FAKE TWITTER
// =========================================================================

type fakeTwitter struct {
	*httptest.Server
	gotVerifier atomic.Value
	revokes     atomic.Int32
}

func newFakeTwitter(t *testing.T) *fakeTwitter {
	t.Helper()
	f := &fakeTwitter{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok, "twitter token requests use basic auth")
		assert.Equal(t, "tw-client", user)
		assert.Equal(t, "tw-secret", pass)
		assert.NoError(t, r.ParseForm())
		f.gotVerifier.Store(r.PostForm.Get("code_verifier"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tw-token","refresh_token":"tw-refresh","token_type":"bearer","expires_in":7200}`)
	})
	mux.HandleFunc("GET /2/users/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tw-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"id":"tw-1","username":"ada","name":"Ada"}}`)
	})
	mux.HandleFunc("POST /revoke", func(w http.ResponseWriter, r *http.Request) {
		f.revokes.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"revoked":true}`)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

// =========================================================================
// HELPERS
// =========================================================================

func testConfig(t *testing.T, overrides map[string]string) *config.Config {
	t.Helper()
	environ := map[string]string{
		"APP_ENV":               "test",
		"APP_URL":               "https://app.example.com/",
		"DB_PATH":               ":memory:",
		"SESSION_SECRET":        strings.Repeat("k", 32),
		"FACEBOOK_APP_ID":       "fb-client",
		"FACEBOOK_APP_SECRET":   "fb-secret",
		"INSTAGRAM_APP_ID":      "ig-client",
		"INSTAGRAM_APP_SECRET":  "ig-secret",
		"TWITTER_CLIENT_ID":     "tw-client",
		"TWITTER_CLIENT_SECRET": "tw-secret",
	}
	for k, v := range overrides {
		environ[k] = v
	}
	cfg, err := config.LoadFrom(environ)
	require.NoError(t, err)
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cfg, logger, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// browser carries the session cookie between requests like a real one.
type browser struct {
	t       *testing.T
	handler http.Handler
	cookie  *http.Cookie
}

func (b *browser) do(method, target string, body io.Reader) *httptest.ResponseRecorder {
	b.t.Helper()
	req := httptest.NewRequest(method, target, body)
	if b.cookie != nil {
		req.AddCookie(b.cookie)
	}
	rr := httptest.NewRecorder()
	b.handler.ServeHTTP(rr, req)

	for _, c := range rr.Result().Cookies() {
		if c.Name != auth.SessionCookieName {
			continue
		}
		if c.MaxAge < 0 {
			b.cookie = nil
		} else {
			b.cookie = c
		}
	}
	return rr
}

// =========================================================================
// TESTS
// =========================================================================

func TestServer_TwitterLoginRoundTrip(t *testing.T) {
	tw := newFakeTwitter(t)
	s := newTestServer(t, testConfig(t, nil),
		WithProviderEndpoints(model.ProviderTwitter, oauth.Endpoints{
			AuthURL:   tw.URL + "/authorize",
			TokenURL:  tw.URL + "/token",
			APIURL:    tw.URL + "/2",
			RevokeURL: tw.URL + "/revoke",
		}),
		WithHTTPClient(tw.Client()),
	)
	b := &browser{t: t, handler: s.Handler()}

	// 1. Start login.
	rr := b.do(http.MethodPost, "/auth/twitter/login", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var start struct {
		AuthURL string `json:"authUrl"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&start))
	authURL, err := url.Parse(start.AuthURL)
	require.NoError(t, err)
	q := authURL.Query()
	assert.Equal(t, "https://app.example.com/auth/twitter/callback", q.Get("redirect_uri"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	state, challenge := q.Get("state"), q.Get("code_challenge")
	require.NotEmpty(t, state)
	require.NotNil(t, b.cookie)

	// 2. Provider redirects back.
	rr = b.do(http.MethodGet, "/auth/twitter/callback?code=auth-code&state="+url.QueryEscape(state), nil)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "https://app.example.com?success=twitter", rr.Header().Get("Location"))

	verifier, _ := tw.gotVerifier.Load().(string)
	assert.Equal(t, challenge, auth.GenerateCodeChallenge(verifier), "verifier matches the challenge")

	// 3. Status reflects the link.
	rr = b.do(http.MethodGet, "/auth/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var status struct {
		Status map[string]bool `json:"status"`
		User   *struct {
			Email         string `json:"email"`
			AuthProviders int    `json:"authProviders"`
		} `json:"user"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.True(t, status.Status["twitter"])
	assert.False(t, status.Status["facebook"])
	require.NotNil(t, status.User)
	assert.Equal(t, "twitter_tw-1@temp.local", status.User.Email)
	assert.Equal(t, 1, status.User.AuthProviders)

	// 4. Replaying the callback fails: the state was single-use.
	rr = b.do(http.MethodGet, "/auth/twitter/callback?code=auth-code&state="+url.QueryEscape(state), nil)
	assert.Equal(t, "https://app.example.com?error=invalid_state", rr.Header().Get("Location"))

	// 5. Logout everywhere.
	rr = b.do(http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int32(1), tw.revokes.Load())
	assert.Nil(t, b.cookie)

	rr = b.do(http.MethodGet, "/auth/status", nil)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.False(t, status.Status["twitter"])
	assert.Nil(t, status.User)

	// 6. Metrics saw it.
	rr = b.do(http.MethodGet, "/metrics", nil)
	assert.Contains(t, rr.Body.String(), `ads_auth_oauth_logins_total{outcome="success",provider="twitter"} 1`)
	assert.Contains(t, rr.Body.String(), `ads_auth_oauth_logins_total{outcome="invalid_state",provider="twitter"} 1`)
}

func TestServer_UnknownProvider(t *testing.T) {
	s := newTestServer(t, testConfig(t, nil))

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/myspace/login", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), `"not_found"`)
}

func TestServer_ProtectedRoutes(t *testing.T) {
	s := newTestServer(t, testConfig(t, nil))

	for _, target := range []string{"/api/user/profile", "/api/admin/stats"} {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, target)
	}

	// The middleware and the services answer a missing session the same way.
	requests := []struct{ method, target string }{
		{http.MethodPost, "/auth/logout"},
		{http.MethodPost, "/auth/facebook/logout"},
		{http.MethodGet, "/api/user/profile"},
	}
	var bodies []string
	for _, req := range requests {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(req.method, req.target, nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, req.target)
		bodies = append(bodies, rr.Body.String())
	}
	assert.JSONEq(t, `{"error":"missing_session","message":"not authenticated"}`, bodies[0])
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[0], bodies[2])
}

func TestServer_RateLimit(t *testing.T) {
	s := newTestServer(t, testConfig(t, map[string]string{"RATE_LIMIT_MAX": "2"}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Health checks are not limited.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServer_CORSPreflight(t *testing.T) {
	s := newTestServer(t, testConfig(t, nil))

	req := httptest.NewRequest(http.MethodOptions, "/auth/status", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/auth/status", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
