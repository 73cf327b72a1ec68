// Package repository declares the persistence contracts the services depend
// on. Implementations live in sub-packages (see sqlite).
package repository

import (
	"context"
	"time"

	"github.com/iayvob/Ads-Analytics-V2/internal/model"
)

type UserRepository interface {
	// FindOrCreateByEmail returns the user with email, creating it with
	// username when none exists. Repeated calls with the same email return
	// the same user.
	FindOrCreateByEmail(ctx context.Context, email, username string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	UpdateUser(ctx context.Context, id string, update model.UserUpdate) (*model.User, error)
	CountUsers(ctx context.Context) (int, error)
}

// AuthProviderRepository is the token store: one row per (provider,
// providerID), owned by one user.
type AuthProviderRepository interface {
	// UpsertAuthProvider inserts p for userID or, when a row for
	// (p.Provider, p.ProviderID) already exists, updates its token and
	// profile fields. The owner of an existing row is never changed.
	UpsertAuthProvider(ctx context.Context, userID string, p *model.AuthProvider) (*model.AuthProvider, error)

	// FindByProvider returns (nil, nil) when no row matches.
	FindByProvider(ctx context.Context, provider model.ProviderName, providerID string) (*model.AuthProvider, error)

	// ListActive returns the user's rows that have no expiry or expire
	// after now.
	ListActive(ctx context.Context, userID string, now time.Time) ([]model.AuthProvider, error)
	ListByUser(ctx context.Context, userID string) ([]model.AuthProvider, error)
	RemoveAuthProvider(ctx context.Context, provider model.ProviderName, providerID string) error
	CountByProvider(ctx context.Context) (map[model.ProviderName]int, error)

	// DeleteExpired hard-deletes rows that expired before the cutoff and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
