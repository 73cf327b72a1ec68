package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iayvob/Ads-Analytics-V2/internal/config"
	"github.com/iayvob/Ads-Analytics-V2/internal/model"
)

const testSecret = "test-secret-that-is-at-least-32-bytes!!"

// fakeClock is a settable clock shared between a codec and its test.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCodec(t *testing.T, opts ...SessionOption) (*SessionCodec, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewSessionCodec(testSecret, logger, append([]SessionOption{WithClock(clock.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("NewSessionCodec: %v", err)
	}
	return c, clock
}

func sampleSession(now time.Time) model.Session {
	return model.Session{
		UserID:    "user-1",
		State:     "state-abc",
		CreatedAt: now.UnixMilli(),
		Facebook: &model.FacebookSession{
			AccessToken: "fb-token",
			UserID:      "fb-1",
			Name:        "Ada",
			ExpiresAt:   now.Add(time.Hour).UnixMilli(),
			ConfigID:    "cfg-1",
		},
		Twitter: &model.TwitterSession{AccessToken: "tw-token", UserID: "tw-1", Username: "ada"},
	}
}

// =========================================================================
// CONSTRUCTION
// =========================================================================

func TestNewSessionCodec_ShortSecret(t *testing.T) {
	_, err := NewSessionCodec(strings.Repeat("x", config.MinSecretLength-1), slog.Default())
	if err == nil {
		t.Fatal("NewSessionCodec() should reject secrets shorter than 32 bytes")
	}
}

func TestNewSessionCodec_DerivesKey(t *testing.T) {
	c, _ := newTestCodec(t)
	if string(c.key) == testSecret {
		t.Error("signing key must be derived, not the raw secret")
	}
	if len(c.key) != 32 {
		t.Errorf("key length = %d, want 32", len(c.key))
	}
}

// =========================================================================
// ENCODE / DECODE
// =========================================================================

func TestDecode_RoundTrip(t *testing.T) {
	c, clock := newTestCodec(t)
	want := sampleSession(clock.Now())

	token, err := c.Encode(want)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	clock.Advance(config.SessionDuration - time.Second)
	got := c.Decode(token)
	if got == nil {
		t.Fatal("Decode() = nil, want session")
	}
	if !reflect.DeepEqual(*got, want) {
		t.Errorf("Decode() = %+v, want %+v", *got, want)
	}
}

func TestDecode_ExpiredToken(t *testing.T) {
	c, clock := newTestCodec(t)
	token, err := c.Encode(sampleSession(clock.Now()))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	clock.Advance(config.SessionDuration + time.Second)
	if got := c.Decode(token); got != nil {
		t.Errorf("Decode() of expired token = %+v, want nil", got)
	}
}

// The token itself is fresh but the session inside was created more than
// SessionDuration ago.
func TestDecode_SessionTooOld(t *testing.T) {
	c, clock := newTestCodec(t)
	old := sampleSession(clock.Now().Add(-config.SessionDuration - time.Millisecond))

	token, err := c.Encode(old)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got := c.Decode(token); got != nil {
		t.Errorf("Decode() of stale session = %+v, want nil", got)
	}
}

func TestDecode_Tampered(t *testing.T) {
	c, clock := newTestCodec(t)
	token, _ := c.Encode(sampleSession(clock.Now()))

	parts := strings.Split(token, ".")
	payload := []byte(parts[1])
	if payload[10] == 'A' {
		payload[10] = 'B'
	} else {
		payload[10] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	if got := c.Decode(tampered); got != nil {
		t.Errorf("Decode() of tampered token = %+v, want nil", got)
	}
}

func TestDecode_WrongAlgorithm(t *testing.T) {
	c, clock := newTestCodec(t)
	now := clock.Now()
	claims := sessionClaims{
		Session: sampleSession(now),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	// Same key, different HMAC: must still be rejected.
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(c.key)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	if got := c.Decode(token); got != nil {
		t.Errorf("Decode() of HS512 token = %+v, want nil", got)
	}
}

func TestDecode_OtherSecret(t *testing.T) {
	c, clock := newTestCodec(t)
	other, err := NewSessionCodec(strings.Repeat("z", 40), slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewSessionCodec: %v", err)
	}
	token, _ := other.Encode(sampleSession(clock.Now()))
	if got := c.Decode(token); got != nil {
		t.Error("Decode() accepted a token signed with another secret")
	}
}

func TestDecode_Garbage(t *testing.T) {
	c, _ := newTestCodec(t)
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if got := c.Decode(token); got != nil {
			t.Errorf("Decode(%q) = %+v, want nil", token, got)
		}
	}
}

// =========================================================================
// COOKIES
// =========================================================================

func TestSetCookie_Attributes(t *testing.T) {
	c, clock := newTestCodec(t, WithSecureCookies(true))
	rec := httptest.NewRecorder()

	if err := c.SetCookie(rec, sampleSession(clock.Now())); err != nil {
		t.Fatalf("SetCookie() error = %v", err)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cookies))
	}
	ck := cookies[0]
	if ck.Name != SessionCookieName {
		t.Errorf("Name = %q, want %q", ck.Name, SessionCookieName)
	}
	if !ck.HttpOnly || !ck.Secure {
		t.Errorf("HttpOnly=%v Secure=%v, want both true", ck.HttpOnly, ck.Secure)
	}
	if ck.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", ck.SameSite)
	}
	if ck.Path != "/" {
		t.Errorf("Path = %q, want /", ck.Path)
	}
	if ck.MaxAge != int(config.SessionDuration.Seconds()) {
		t.Errorf("MaxAge = %d, want %d", ck.MaxAge, int(config.SessionDuration.Seconds()))
	}
}

func TestFromRequest(t *testing.T) {
	c, clock := newTestCodec(t)
	rec := httptest.NewRecorder()
	_ = c.SetCookie(rec, sampleSession(clock.Now()))

	req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
	for _, ck := range rec.Result().Cookies() {
		req.AddCookie(ck)
	}

	s := c.FromRequest(req)
	if s == nil || s.UserID != "user-1" {
		t.Fatalf("FromRequest() = %+v, want user-1 session", s)
	}

	if got := c.FromRequest(httptest.NewRequest(http.MethodGet, "/", nil)); got != nil {
		t.Errorf("FromRequest() without cookie = %+v, want nil", got)
	}
}

func TestClearCookie(t *testing.T) {
	c, _ := newTestCodec(t)
	rec := httptest.NewRecorder()
	c.ClearCookie(rec)

	ck := rec.Result().Cookies()[0]
	if ck.MaxAge >= 0 || ck.Value != "" {
		t.Errorf("ClearCookie() produced MaxAge=%d Value=%q, want expired empty cookie", ck.MaxAge, ck.Value)
	}
}
