package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ProviderName identifies a supported social platform.
type ProviderName string

const (
	ProviderFacebook  ProviderName = "facebook"
	ProviderInstagram ProviderName = "instagram"
	ProviderTwitter   ProviderName = "twitter"
)

// AllProviders lists every supported provider in display order.
var AllProviders = []ProviderName{ProviderFacebook, ProviderInstagram, ProviderTwitter}

// ParseProvider maps a URL path segment to a ProviderName.
func ParseProvider(s string) (ProviderName, bool) {
	for _, p := range AllProviders {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// RefreshThreshold is how close to expiry a token must be before
// NeedsRefresh reports true.
const RefreshThreshold = 5 * time.Minute

// AuthProvider is one linked social account: the persisted OAuth token for a
// (Provider, ProviderID) pair, owned by exactly one user.
//
// ExpiresAt is nil when the provider did not report an expiry. Rows whose
// ExpiresAt is in the past are "soft expired": they stay in the table but
// are excluded from ListActive.
type AuthProvider struct {
	ID                   string       `json:"id"`
	UserID               string       `json:"userId"`
	Provider             ProviderName `json:"provider"`
	ProviderID           string       `json:"providerId"`
	AccessToken          string       `json:"-"`
	RefreshToken         string       `json:"-"`
	ExpiresAt            *time.Time   `json:"expiresAt,omitempty"`
	Username             string       `json:"username,omitempty"`
	Email                string       `json:"email,omitempty"`
	AdvertisingAccountID string       `json:"advertisingAccountId,omitempty"`
	BusinessAccounts     []Business   `json:"businessAccounts,omitempty"`
	AdAccounts           []AdAccount  `json:"adAccounts,omitempty"`
	ConfigID             string       `json:"configId,omitempty"`
	CreatedAt            time.Time    `json:"createdAt"`
	UpdatedAt            time.Time    `json:"updatedAt"`
}

// IsTokenExpired reports whether the token's expiry has passed. A token
// without an expiry never expires.
func (p *AuthProvider) IsTokenExpired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// NeedsRefresh reports whether the token expires within RefreshThreshold.
// It is a predicate only; nothing refreshes tokens automatically.
func (p *AuthProvider) NeedsRefresh(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Add(RefreshThreshold).Before(*p.ExpiresAt)
}

type Business struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	VerificationStatus string `json:"verification_status,omitempty"`
}

type AdAccount struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	AccountStatus AccountStatus `json:"account_status"`
}

// AccountStatus is the Graph API ad account status. Depending on API version
// it arrives as a number (1 = active) or as a string ("ACTIVE").
type AccountStatus string

func (s *AccountStatus) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*s = AccountStatus(n.String())
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("account_status: %w", err)
	}
	*s = AccountStatus(str)
	return nil
}

// Active reports whether the status marks an active ad account.
func (s AccountStatus) Active() bool {
	if s == "ACTIVE" {
		return true
	}
	n, err := strconv.Atoi(string(s))
	return err == nil && n == 1
}

// BusinessData is what the Facebook business lookup returns. The zero value
// is the "nothing found" result used when the lookup fails.
type BusinessData struct {
	Businesses         []Business  `json:"businesses"`
	AdAccounts         []AdAccount `json:"adAccounts"`
	PrimaryAdAccountID string      `json:"primaryAdAccountId,omitempty"`
}

// PrimaryAdAccount picks the first active ad account, or "" when none is
// active.
func PrimaryAdAccount(accounts []AdAccount) string {
	for _, a := range accounts {
		if a.AccountStatus.Active() {
			return a.ID
		}
	}
	return ""
}
