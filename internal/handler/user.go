package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/iayvob/Ads-Analytics-V2/internal/auth"
	"github.com/iayvob/Ads-Analytics-V2/internal/model"
)

// Profiles is the part of service.UserService the handlers depend on.
type Profiles interface {
	Profile(ctx context.Context, userID string) (*model.UserWithProviders, error)
	UpdateProfile(ctx context.Context, userID string, update model.UserUpdate) (*model.User, error)
	Stats(ctx context.Context) (*model.ProviderStats, error)
}

// UserHandler serves the profile and admin endpoints. Every route sits
// behind auth.RequireSession.
type UserHandler struct {
	profiles Profiles
	logger   *slog.Logger
}

func NewUserHandler(profiles Profiles, logger *slog.Logger) *UserHandler {
	return &UserHandler{profiles: profiles, logger: logger}
}

// HandleGetProfile returns the user with all linked providers.
//
// HTTP: GET /api/user/profile
func (h *UserHandler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	profile, err := h.profiles.Profile(r.Context(), userID)
	if err != nil {
		h.logger.Error("loading profile failed", "userID", userID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// HandleUpdateProfile applies a partial update to username and/or email.
//
// HTTP: PUT /api/user/profile
//
// Request body: {"username": "...", "email": "..."}, both optional.
func (h *UserHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var update model.UserUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.profiles.UpdateProfile(r.Context(), userID, update)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleStats returns user and provider counts.
//
// HTTP: GET /api/admin/stats
func (h *UserHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.profiles.Stats(r.Context())
	if err != nil {
		h.logger.Error("loading stats failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
