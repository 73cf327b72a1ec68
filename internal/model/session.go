package model

import "time"

// Session is the client-held session record carried in the signed session
// cookie.
//
// The server never stores sessions. Everything here is either in-flight
// authorization state (State and the PKCE pair, present only between login
// initiation and callback) or a denormalized copy of data whose source of
// truth is the auth_providers table. The per-provider pointers can go stale;
// /auth/status reads the store, not these.
//
// WHY THREE POINTERS INSTEAD OF A MAP?
// A map[string]any round-trips through JSON as untyped data. Fixed fields
// keep every provider's sub-record typed while still allowing "any subset of
// providers present" (nil means not linked in this session).
type Session struct {
	UserID        string `json:"userId,omitempty"`
	State         string `json:"state,omitempty"`
	CodeVerifier  string `json:"codeVerifier,omitempty"`
	CodeChallenge string `json:"codeChallenge,omitempty"`
	CreatedAt     int64  `json:"createdAt"` // epoch milliseconds

	Facebook  *FacebookSession  `json:"facebook,omitempty"`
	Instagram *InstagramSession `json:"instagram,omitempty"`
	Twitter   *TwitterSession   `json:"twitter,omitempty"`
}

// ProviderSession is implemented by the per-provider session sub-records.
type ProviderSession interface {
	Provider() ProviderName
}

// FacebookSession holds no business or ad-account lists: an agency account
// can have dozens, and a cookie over 4KB is dropped by the browser. Those
// lists live on the auth_providers row.
type FacebookSession struct {
	AccessToken string `json:"accessToken"`
	UserID      string `json:"userId"`
	Name        string `json:"name,omitempty"`
	ExpiresAt   int64  `json:"expiresAt,omitempty"` // epoch milliseconds, 0 = unknown
	ConfigID    string `json:"configId,omitempty"`
}

type InstagramSession struct {
	AccessToken string `json:"accessToken"`
	UserID      string `json:"userId"`
	Username    string `json:"username,omitempty"`
	ExpiresAt   int64  `json:"expiresAt,omitempty"`
}

type TwitterSession struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	UserID       string `json:"userId"`
	Username     string `json:"username,omitempty"`
	Name         string `json:"name,omitempty"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"`
}

func (*FacebookSession) Provider() ProviderName  { return ProviderFacebook }
func (*InstagramSession) Provider() ProviderName { return ProviderInstagram }
func (*TwitterSession) Provider() ProviderName   { return ProviderTwitter }

// NewSession returns an empty session created at now.
func NewSession(now time.Time) *Session {
	return &Session{CreatedAt: now.UnixMilli()}
}

// Link stores ps as the provider's sub-record, replacing any previous one
// for the same provider and leaving the others untouched.
func (s *Session) Link(ps ProviderSession) {
	switch v := ps.(type) {
	case *FacebookSession:
		s.Facebook = v
	case *InstagramSession:
		s.Instagram = v
	case *TwitterSession:
		s.Twitter = v
	}
}

// Unlink drops the provider's sub-record.
func (s *Session) Unlink(name ProviderName) {
	switch name {
	case ProviderFacebook:
		s.Facebook = nil
	case ProviderInstagram:
		s.Instagram = nil
	case ProviderTwitter:
		s.Twitter = nil
	}
}

// BeginAuthorization records a fresh in-flight authorization round-trip,
// overwriting any previous one. verifier and challenge are empty for
// providers that do not use PKCE.
func (s *Session) BeginAuthorization(state, verifier, challenge string) {
	s.State = state
	s.CodeVerifier = verifier
	s.CodeChallenge = challenge
}

// ClearAuthorization forgets the in-flight state so it cannot be replayed.
func (s *Session) ClearAuthorization() {
	s.State = ""
	s.CodeVerifier = ""
	s.CodeChallenge = ""
}

// Expired reports whether the session is older than ttl.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	return now.UnixMilli()-s.CreatedAt > ttl.Milliseconds()
}

// Clone returns a copy whose provider sub-records can be modified without
// affecting s.
func (s *Session) Clone() *Session {
	c := *s
	if s.Facebook != nil {
		fb := *s.Facebook
		c.Facebook = &fb
	}
	if s.Instagram != nil {
		ig := *s.Instagram
		c.Instagram = &ig
	}
	if s.Twitter != nil {
		tw := *s.Twitter
		c.Twitter = &tw
	}
	return &c
}

// MillisOrZero converts an optional time to epoch milliseconds.
func MillisOrZero(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}
