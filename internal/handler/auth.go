package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/iayvob/Ads-Analytics-V2/internal/apperror"
	"github.com/iayvob/Ads-Analytics-V2/internal/auth"
	"github.com/iayvob/Ads-Analytics-V2/internal/model"
	"github.com/iayvob/Ads-Analytics-V2/internal/service"
)

// AuthFlow is the part of service.AuthService the handlers depend on.
// Handler tests substitute a fake.
type AuthFlow interface {
	StartLogin(ctx context.Context, provider model.ProviderName, current *model.Session) (*service.LoginStart, error)
	CompleteLogin(ctx context.Context, provider model.ProviderName, params service.CallbackParams, current *model.Session) (*service.LoginResult, error)
	RecordDenied(provider model.ProviderName)
	Disconnect(ctx context.Context, provider model.ProviderName, current *model.Session) (*model.Session, error)
	LogoutAll(ctx context.Context, current *model.Session) ([]service.Settlement, error)
	Status(ctx context.Context, current *model.Session) (*service.Status, error)
}

// AuthHandler serves the OAuth login flow and provider connection endpoints.
//
// HANDLER RESPONSIBILITIES:
//   - HandleLogin     → issue state (+PKCE), return the provider's authorization URL
//   - HandleCallback  → verify state, link the provider, redirect back to the app
//   - HandleDisconnect → revoke and unlink one provider
//   - HandleLogoutAll → revoke and unlink every provider, clear the cookie
//   - HandleStatus    → report which providers are connected
//
// The session lives entirely in the signed cookie. auth.LoadSession has
// already decoded it into the request context; every handler that changes it
// writes the new one back with sessions.SetCookie.
type AuthHandler struct {
	flow     AuthFlow
	sessions *auth.SessionCodec
	appURL   string
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler. appURL is the dashboard origin
// callbacks redirect to.
func NewAuthHandler(flow AuthFlow, sessions *auth.SessionCodec, appURL string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		flow:     flow,
		sessions: sessions,
		appURL:   appURL,
		logger:   logger,
	}
}

// providerParam reads {provider} from the route. An unsupported provider is
// a 404, like any unknown resource.
func providerParam(r *http.Request) (model.ProviderName, error) {
	raw := chi.URLParam(r, "provider")
	p, ok := model.ParseProvider(raw)
	if !ok {
		return "", apperror.NotFound("provider", raw)
	}
	return p, nil
}

// HandleLogin starts an OAuth login.
//
// HTTP: POST /auth/{provider}/login
//
// The fresh state (and, for Twitter, the PKCE verifier) is stored in the
// session cookie set on this response; the callback compares against it.
// Starting a second login overwrites the first one's state.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	provider, err := providerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	start, err := h.flow.StartLogin(r.Context(), provider, auth.SessionFromContext(r.Context()))
	if err != nil {
		h.logger.Error("login start failed", "provider", provider, "error", err)
		writeError(w, err)
		return
	}

	if err := h.sessions.SetCookie(w, *start.Session); err != nil {
		h.logger.Error("writing session cookie failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authUrl": start.AuthURL})
}

// HandleCallback completes an OAuth login.
//
// HTTP: GET /auth/{provider}/callback?code=xxx&state=yyy
//
// The browser arrives here from the provider, so every outcome is a 303
// redirect to the app, never a JSON body:
//
//	?error=<provider>_auth_denied    user declined at the provider
//	?error=invalid_callback          code or state missing
//	?error=invalid_state             state does not match the session
//	?error=<provider>_callback_failed exchange, identity or storage failed
//	?success=<provider>              linked
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	provider, err := providerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()

	if denied := q.Get("error"); denied != "" {
		h.logger.Info("user denied authorization",
			"provider", provider,
			"error", denied,
			"description", q.Get("error_description"),
		)
		h.flow.RecordDenied(provider)
		h.redirect(w, r, "error", string(provider)+"_auth_denied")
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		h.logger.Warn("callback missing code or state", "provider", provider)
		h.redirect(w, r, "error", "invalid_callback")
		return
	}

	res, err := h.flow.CompleteLogin(r.Context(), provider,
		service.CallbackParams{Code: code, State: state},
		auth.SessionFromContext(r.Context()),
	)
	if err != nil {
		if apperror.CodeOf(err) == apperror.CodeInvalidState {
			h.redirect(w, r, "error", apperror.CodeInvalidState)
			return
		}
		h.logger.Error("callback failed", "provider", provider, "error", err)
		h.redirect(w, r, "error", string(provider)+"_callback_failed")
		return
	}

	if err := h.sessions.SetCookie(w, *res.Session); err != nil {
		h.logger.Error("writing session cookie failed", "provider", provider, "error", err)
		h.redirect(w, r, "error", string(provider)+"_callback_failed")
		return
	}
	h.redirect(w, r, "success", string(provider))
}

// HandleDisconnect unlinks one provider from the current user.
//
// HTTP: POST /auth/{provider}/logout (session required)
func (h *AuthHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	provider, err := providerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sess, err := h.flow.Disconnect(r.Context(), provider, auth.SessionFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.sessions.SetCookie(w, *sess); err != nil {
		h.logger.Error("writing session cookie failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleLogoutAll revokes and removes every linked provider, then clears the
// session cookie. Individual revoke failures do not fail the request.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	settlements, err := h.flow.LogoutAll(r.Context(), auth.SessionFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	for _, s := range settlements {
		if s.RemoveErr != nil {
			h.logger.Error("provider left linked after logout",
				"provider", s.Provider,
				"providerID", s.ProviderID,
				"error", s.RemoveErr,
			)
		}
	}

	h.sessions.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out successfully",
	})
}

// HandleStatus reports connection status per provider.
//
// HTTP: GET /auth/status
func (h *AuthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.flow.Status(r.Context(), auth.SessionFromContext(r.Context()))
	if err != nil {
		h.logger.Error("status lookup failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// redirect sends the browser back to the app with key=value added to
// APP_URL's own query, if it has one.
func (h *AuthHandler) redirect(w http.ResponseWriter, r *http.Request, key, value string) {
	http.Redirect(w, r, appendQuery(h.appURL, key, value), http.StatusSeeOther)
}

func appendQuery(base, key, value string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?" + url.Values{key: {value}}.Encode()
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
