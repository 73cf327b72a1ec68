package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iayvob/Ads-Analytics-V2/internal/model"
)

func requestWithSession(t *testing.T, c *SessionCodec, s model.Session) *http.Request {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, c.SetCookie(rec, s))

	req := httptest.NewRequest(http.MethodGet, "/api/user/profile", nil)
	for _, ck := range rec.Result().Cookies() {
		req.AddCookie(ck)
	}
	return req
}

func TestLoadSession_StoresDecodedSession(t *testing.T) {
	c, clock := newTestCodec(t)
	req := requestWithSession(t, c, sampleSession(clock.Now()))

	var got *model.Session
	h := LoadSession(c)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = SessionFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)
}

func TestLoadSession_AnonymousPassesThrough(t *testing.T) {
	c, _ := newTestCodec(t)
	called := false
	h := LoadSession(c)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Nil(t, SessionFromContext(r.Context()))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestRequireSession(t *testing.T) {
	c, clock := newTestCodec(t)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := LoadSession(c)(RequireSession(ok))

	t.Run("no cookie", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"missing_session","message":"not authenticated"}`, rec.Body.String())
	})

	t.Run("session without user", func(t *testing.T) {
		s := model.Session{State: "in-flight", CreatedAt: clock.Now().UnixMilli()}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestWithSession(t, c, s))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("linked session", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestWithSession(t, c, sampleSession(clock.Now())))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
