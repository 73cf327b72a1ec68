package auth

import (
	"context"
	"net/http"

	"github.com/iayvob/Ads-Analytics-V2/internal/apperror"
	"github.com/iayvob/Ads-Analytics-V2/internal/model"
)

// contextKey is an unexported type used for context keys in this package,
// so no other package can read or shadow the values stored here.
type contextKey string

const sessionKey contextKey = "session"

// LoadSession decodes the session cookie once per request and stores the
// result (possibly nil) in the request context. It never blocks a request:
// handlers that need an authenticated user sit behind RequireSession.
func LoadSession(codec *SessionCodec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s := codec.FromRequest(r); s != nil {
				r = r.WithContext(WithSession(r.Context(), s))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession rejects requests whose session has no user with 401
// missing_session, the same body the services return. It
// must run after LoadSession.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserIDFromContext(r.Context()); !ok {
			apperror.WriteHTTP(w, apperror.Unauthorized(apperror.CodeMissingSession, "not authenticated"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *model.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext returns the decoded session, or nil for anonymous
// requests.
func SessionFromContext(ctx context.Context) *model.Session {
	s, _ := ctx.Value(sessionKey).(*model.Session)
	return s
}

// UserIDFromContext returns the session's user ID.
//
// Returns ("", false) if there is no session or the session is not yet
// linked to a user.
func UserIDFromContext(ctx context.Context) (string, bool) {
	s := SessionFromContext(ctx)
	if s == nil || s.UserID == "" {
		return "", false
	}
	return s.UserID, true
}
