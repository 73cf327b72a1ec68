package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/iayvob/Ads-Analytics-V2/internal/apperror"
	"github.com/iayvob/Ads-Analytics-V2/internal/model"
	"github.com/iayvob/Ads-Analytics-V2/internal/oauth"
)

// =========================================================================
// FAKE REPOSITORIES
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository. writes counts
// every mutating call so tests can assert that nothing was written.
type fakeUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.User
	byEmail map[string]*model.User
	nextID  int
	writes  int

	getErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		byID:    make(map[string]*model.User),
		byEmail: make(map[string]*model.User),
		nextID:  1,
	}
}

func (f *fakeUserRepo) FindOrCreateByEmail(_ context.Context, email, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if u, ok := f.byEmail[email]; ok {
		c := *u
		return &c, nil
	}
	u := &model.User{
		ID:        fmt.Sprintf("user-%d", f.nextID),
		Email:     email,
		Username:  username,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.nextID++
	f.byID[u.ID] = u
	f.byEmail[email] = u
	c := *u
	return &c, nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	c := *u
	return &c, nil
}

func (f *fakeUserRepo) UpdateUser(_ context.Context, id string, update model.UserUpdate) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	u, ok := f.byID[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	if update.Email != nil {
		if other, taken := f.byEmail[*update.Email]; taken && other.ID != id {
			return nil, apperror.Conflict("user email", *update.Email)
		}
		delete(f.byEmail, u.Email)
		u.Email = *update.Email
		f.byEmail[u.Email] = u
	}
	if update.Username != nil {
		u.Username = *update.Username
	}
	c := *u
	return &c, nil
}

func (f *fakeUserRepo) CountUsers(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID), nil
}

func (f *fakeUserRepo) count() int {
	n, _ := f.CountUsers(context.Background())
	return n
}

// fakeTokenStore is an in-memory repository.AuthProviderRepository keyed by
// "provider:providerID", with the same keep-the-owner upsert semantics as
// the SQL implementation.
type fakeTokenStore struct {
	mu     sync.Mutex
	rows   map[string]*model.AuthProvider
	nextID int
	writes int

	removeErr map[string]error
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{rows: make(map[string]*model.AuthProvider), removeErr: map[string]error{}}
}

func rowKey(p model.ProviderName, id string) string { return string(p) + ":" + id }

func (f *fakeTokenStore) UpsertAuthProvider(_ context.Context, userID string, p *model.AuthProvider) (*model.AuthProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	key := rowKey(p.Provider, p.ProviderID)
	row := *p
	if existing, ok := f.rows[key]; ok {
		row.ID = existing.ID
		row.UserID = existing.UserID
	} else {
		f.nextID++
		row.ID = fmt.Sprintf("ap-%d", f.nextID)
		row.UserID = userID
	}
	f.rows[key] = &row
	c := row
	return &c, nil
}

func (f *fakeTokenStore) FindByProvider(_ context.Context, provider model.ProviderName, providerID string) (*model.AuthProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[rowKey(provider, providerID)]
	if !ok {
		return nil, nil
	}
	c := *row
	return &c, nil
}

func (f *fakeTokenStore) ListActive(_ context.Context, userID string, now time.Time) ([]model.AuthProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AuthProvider
	for _, row := range f.rows {
		if row.UserID == userID && (row.ExpiresAt == nil || row.ExpiresAt.After(now)) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeTokenStore) ListByUser(_ context.Context, userID string) ([]model.AuthProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AuthProvider
	for _, row := range f.rows {
		if row.UserID == userID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeTokenStore) RemoveAuthProvider(_ context.Context, provider model.ProviderName, providerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	key := rowKey(provider, providerID)
	if err := f.removeErr[key]; err != nil {
		return err
	}
	delete(f.rows, key)
	return nil
}

func (f *fakeTokenStore) CountByProvider(context.Context) (map[model.ProviderName]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[model.ProviderName]int{}
	for _, p := range model.AllProviders {
		out[p] = 0
	}
	for _, row := range f.rows {
		out[row.Provider]++
	}
	return out, nil
}

func (f *fakeTokenStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, errors.New("not used")
}

func (f *fakeTokenStore) get(p model.ProviderName, id string) *model.AuthProvider {
	row, _ := f.FindByProvider(context.Background(), p, id)
	return row
}

func (f *fakeTokenStore) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// =========================================================================
// FAKE PROVIDERS
// =========================================================================

// fakeProvider is a scripted oauth.Provider that records what it was sent.
type fakeProvider struct {
	name model.ProviderName
	pkce bool

	token       *oauth.Token
	exchangeErr error
	identity    *oauth.Identity
	identityErr error
	revokeErr   error

	mu           sync.Mutex
	exchanges    int
	gotVerifier  string
	gotRedirect  string
	revokedUsers []string
}

func (f *fakeProvider) Name() model.ProviderName { return f.name }
func (f *fakeProvider) UsesPKCE() bool           { return f.pkce }

func (f *fakeProvider) AuthCodeURL(state, redirectURI, codeChallenge string) string {
	return fmt.Sprintf("https://%s.example/authorize?state=%s&redirect_uri=%s&code_challenge=%s",
		f.name, state, redirectURI, codeChallenge)
}

func (f *fakeProvider) Exchange(_ context.Context, _, redirectURI, codeVerifier string) (*oauth.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges++
	f.gotVerifier = codeVerifier
	f.gotRedirect = redirectURI
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.token, nil
}

func (f *fakeProvider) FetchIdentity(context.Context, string) (*oauth.Identity, error) {
	if f.identityErr != nil {
		return nil, f.identityErr
	}
	return f.identity, nil
}

func (f *fakeProvider) Revoke(_ context.Context, providerID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedUsers = append(f.revokedUsers, providerID)
	return f.revokeErr
}

// fakeBusinessProvider adds business data, like the Facebook client.
type fakeBusinessProvider struct {
	*fakeProvider
	business model.BusinessData
}

func (f *fakeBusinessProvider) FetchBusinessData(context.Context, string) model.BusinessData {
	return f.business
}

func (f *fakeBusinessProvider) ConfigID() string { return "cfg-1" }

// =========================================================================
// HELPERS
// =========================================================================

var testNow = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRedirectURI(p model.ProviderName) string {
	return "https://ads.example.com/auth/" + string(p) + "/callback"
}

func upstreamErr() error {
	return apperror.Unauthorized(apperror.CodeUpstreamOAuthFailure, "upstream failed")
}
