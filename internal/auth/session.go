// Package auth holds the session cookie codec, the CSRF/PKCE challenge
// generator and the session middleware.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/iayvob/Ads-Analytics-V2/internal/config"
	"github.com/iayvob/Ads-Analytics-V2/internal/model"
)

// SessionCookieName is the name of the cookie carrying the session token.
const SessionCookieName = "session"

const (
	sessionIssuer  = "ads-analytics"
	sessionKeyInfo = "session-cookie"
)

// SessionCodec turns a model.Session into a signed cookie value and back.
//
// TOKEN FORMAT:
// The cookie value is an HS256 JWT. The session record travels in a
// "session" claim next to the registered iat/exp claims:
//
//	{"session": {...}, "iss": "ads-analytics", "iat": 1760000000, "exp": 1760604800}
//
// The token is signed, not encrypted. Anything in the session is readable
// by whoever holds the cookie, which is why the cookie is HttpOnly.
//
// TWO EXPIRY CHECKS:
// jwt rejects a token once exp has passed. Decode additionally rejects a
// token whose session.createdAt is older than config.SessionDuration. The
// second check still holds if exp is ever issued with a different TTL.
type SessionCodec struct {
	key    []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
	logger *slog.Logger
}

type SessionOption func(*SessionCodec)

// WithClock replaces time.Now. Used by tests to move past expiry.
func WithClock(now func() time.Time) SessionOption {
	return func(c *SessionCodec) { c.now = now }
}

// WithSecureCookies sets the Secure attribute on issued cookies. Enabled in
// production.
func WithSecureCookies(secure bool) SessionOption {
	return func(c *SessionCodec) { c.secure = secure }
}

// NewSessionCodec derives the signing key from secret, which must be at
// least config.MinSecretLength bytes.
func NewSessionCodec(secret string, logger *slog.Logger, opts ...SessionOption) (*SessionCodec, error) {
	if len(secret) < config.MinSecretLength {
		return nil, fmt.Errorf("auth: session secret must be at least %d bytes", config.MinSecretLength)
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(sessionKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("auth: deriving session key: %w", err)
	}

	c := &SessionCodec{
		key:    key,
		ttl:    config.SessionDuration,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type sessionClaims struct {
	Session model.Session `json:"session"`
	jwt.RegisteredClaims
}

// Encode signs s with iat = now and exp = now + SessionDuration.
func (c *SessionCodec) Encode(s model.Session) (string, error) {
	now := c.now()
	claims := sessionClaims{
		Session: s,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("auth: signing session: %w", err)
	}
	return signed, nil
}

// Decode verifies token and returns its session. Every failure (bad
// signature, wrong algorithm, expired, malformed, too old) is logged at warn
// level and returns nil, so callers treat a bad session like no session.
func (c *SessionCodec) Decode(token string) *model.Session {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		reason := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = "token expired"
		}
		c.logger.Warn("session decode failed", "reason", reason, "error", err)
		return nil
	}

	s := claims.Session
	if s.Expired(c.now(), c.ttl) {
		c.logger.Warn("session decode failed", "reason", "session too old", "created_at", s.CreatedAt)
		return nil
	}
	return &s
}

// FromRequest decodes the session cookie, returning nil when it is absent
// or invalid.
func (c *SessionCodec) FromRequest(r *http.Request) *model.Session {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	return c.Decode(cookie.Value)
}

// SetCookie encodes s and writes it as the session cookie.
func (c *SessionCodec) SetCookie(w http.ResponseWriter, s model.Session) error {
	token, err := c.Encode(s)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ClearCookie expires the session cookie in the browser.
func (c *SessionCodec) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// NewSession returns an empty session stamped with the codec's clock.
func (c *SessionCodec) NewSession() *model.Session {
	return model.NewSession(c.now())
}
