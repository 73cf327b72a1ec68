// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents an application account.
//
// A user is never created from a password: it is the owner of one or more
// linked social provider connections (see AuthProvider). The first provider
// that logs in creates the account; later providers link to it.
//
// WHY Email IS ALWAYS SET:
// Twitter and Instagram do not return an email address. When no real email
// is known we store a synthetic "<provider>_<providerId>@temp.local" address
// so the UNIQUE constraint on email still identifies exactly one account.
type User struct {
	ID        string    `json:"id"        db:"id"`
	Email     string    `json:"email"     db:"email"`
	Username  string    `json:"username"  db:"username"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// UserUpdate carries the mutable profile fields. Nil pointers are left
// unchanged.
type UserUpdate struct {
	Email    *string `json:"email,omitempty"    validate:"omitempty,email,max=254"`
	Username *string `json:"username,omitempty" validate:"omitempty,min=1,max=50"`
}

// UserWithProviders is the profile view: a user plus every linked provider.
type UserWithProviders struct {
	User
	Providers []AuthProvider `json:"authProviders"`
}

// ProviderStats is the aggregate returned by the admin stats endpoint.
type ProviderStats struct {
	TotalUsers int                  `json:"totalUsers"`
	Providers  map[ProviderName]int `json:"providerStats"`
}
