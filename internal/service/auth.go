// Package service holds the business logic between the HTTP handlers and the
// repositories.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iayvob/Ads-Analytics-V2/internal/apperror"
	"github.com/iayvob/Ads-Analytics-V2/internal/auth"
	"github.com/iayvob/Ads-Analytics-V2/internal/metrics"
	"github.com/iayvob/Ads-Analytics-V2/internal/model"
	"github.com/iayvob/Ads-Analytics-V2/internal/oauth"
	"github.com/iayvob/Ads-Analytics-V2/internal/repository"
)

// RedirectURIFunc returns the OAuth redirect_uri registered for a provider.
type RedirectURIFunc func(model.ProviderName) string

// logoutConcurrency caps parallel revoke+remove tasks during a full logout.
const logoutConcurrency = 4

// AuthService runs the OAuth login flow and links provider accounts to
// local users.
//
// It never touches cookies: every method takes the caller's current session
// (possibly nil) and returns the session the caller should write back.
type AuthService struct {
	providers   *oauth.Registry
	users       repository.UserRepository
	tokens      repository.AuthProviderRepository
	redirectURI RedirectURIFunc
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func NewAuthService(
	providers *oauth.Registry,
	users repository.UserRepository,
	tokens repository.AuthProviderRepository,
	redirectURI RedirectURIFunc,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		providers:   providers,
		users:       users,
		tokens:      tokens,
		redirectURI: redirectURI,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// LoginStart is the result of StartLogin.
type LoginStart struct {
	AuthURL string
	Session *model.Session
}

// StartLogin issues a fresh state (and PKCE pair when the provider needs
// one), stores it in the session and builds the authorization URL. Any
// earlier in-flight state in the session is overwritten.
func (s *AuthService) StartLogin(ctx context.Context, provider model.ProviderName, current *model.Session) (*LoginStart, error) {
	p, err := s.providers.Get(provider)
	if err != nil {
		return nil, err
	}

	sess := s.sessionOrNew(current)

	state := auth.GenerateState()
	var verifier, challenge string
	if p.UsesPKCE() {
		verifier = auth.GenerateCodeVerifier()
		challenge = auth.GenerateCodeChallenge(verifier)
	}
	sess.BeginAuthorization(state, verifier, challenge)

	s.logger.Info("oauth login started", "provider", provider, "pkce", p.UsesPKCE())

	return &LoginStart{
		AuthURL: p.AuthCodeURL(state, s.redirectURI(provider), challenge),
		Session: sess,
	}, nil
}

// CallbackParams are the code and state query parameters of a callback.
type CallbackParams struct {
	Code  string
	State string
}

// LoginResult is the outcome of a successful callback.
type LoginResult struct {
	User         *model.User
	AuthProvider *model.AuthProvider
	Session      *model.Session
}

// CompleteLogin handles a provider callback that carried a code and state.
//
// ALGORITHM:
//  1. The state must equal the session's state exactly. Otherwise the
//     request fails with invalid_state before any network call or write.
//  2. Exchange the code, routing the session's PKCE verifier back unchanged.
//  3. Fetch the identity. For providers with business data, the business
//     lookup runs concurrently and degrades to empty on failure.
//  4. Resolve the local user (see resolveUser).
//  5. Upsert the token row for (provider, providerID).
//  6. Return a session with userId set, this provider's sub-record
//     replaced, other providers' sub-records kept and the in-flight
//     state cleared.
func (s *AuthService) CompleteLogin(ctx context.Context, provider model.ProviderName, params CallbackParams, current *model.Session) (*LoginResult, error) {
	p, err := s.providers.Get(provider)
	if err != nil {
		return nil, err
	}

	if current == nil || current.State == "" ||
		subtle.ConstantTimeCompare([]byte(current.State), []byte(params.State)) != 1 {
		s.logger.Warn("oauth state mismatch",
			"provider", provider,
			"has_session", current != nil,
			"has_state", current != nil && current.State != "",
		)
		s.metrics.RecordLogin(string(provider), metrics.OutcomeInvalidState)
		return nil, apperror.Unauthorized(apperror.CodeInvalidState, "invalid authentication state")
	}

	redirectURI := s.redirectURI(provider)
	tok, err := p.Exchange(ctx, params.Code, redirectURI, current.CodeVerifier)
	if err != nil {
		s.metrics.RecordLogin(string(provider), metrics.OutcomeUpstreamError)
		return nil, fmt.Errorf("service/auth: exchanging %s code: %w", provider, err)
	}

	identity, business, err := s.fetchIdentity(ctx, p, tok.AccessToken)
	if err != nil {
		s.metrics.RecordLogin(string(provider), metrics.OutcomeUpstreamError)
		return nil, fmt.Errorf("service/auth: fetching %s identity: %w", provider, err)
	}

	user, err := s.resolveUser(ctx, provider, identity, current)
	if err != nil {
		s.metrics.RecordLogin(string(provider), metrics.OutcomeError)
		return nil, fmt.Errorf("service/auth: resolving user for %s:%s: %w", provider, identity.ID, err)
	}

	record := &model.AuthProvider{
		Provider:             provider,
		ProviderID:           identity.ID,
		AccessToken:          tok.AccessToken,
		RefreshToken:         tok.RefreshToken,
		ExpiresAt:            tok.ExpiresAt(),
		Username:             displayName(identity),
		Email:                identity.Email,
		AdvertisingAccountID: business.PrimaryAdAccountID,
		BusinessAccounts:     business.Businesses,
		AdAccounts:           business.AdAccounts,
	}
	if c, ok := p.(interface{ ConfigID() string }); ok {
		record.ConfigID = c.ConfigID()
	}

	saved, err := s.tokens.UpsertAuthProvider(ctx, user.ID, record)
	if err != nil {
		s.metrics.RecordLogin(string(provider), metrics.OutcomeError)
		return nil, fmt.Errorf("service/auth: saving %s token: %w", provider, err)
	}
	if saved.UserID != user.ID {
		// The external account already belongs to another user; the row
		// keeps its owner and /auth/status will not show it for this one.
		s.logger.Warn("provider account is linked to another user",
			slog.String("provider", string(provider)),
			slog.String("providerID", identity.ID),
			slog.String("sessionUserID", user.ID),
			slog.String("ownerUserID", saved.UserID),
		)
	}

	sess := current.Clone()
	sess.UserID = user.ID
	sess.Link(providerSession(provider, tok, identity, record.ConfigID))
	sess.ClearAuthorization()

	s.metrics.RecordLogin(string(provider), metrics.OutcomeSuccess)
	s.logger.Info("oauth login completed",
		slog.String("provider", string(provider)),
		slog.String("userID", user.ID),
		slog.String("providerID", identity.ID),
	)

	return &LoginResult{User: user, AuthProvider: saved, Session: sess}, nil
}

// RecordDenied counts a callback where the user declined at the provider.
func (s *AuthService) RecordDenied(provider model.ProviderName) {
	s.metrics.RecordLogin(string(provider), metrics.OutcomeDenied)
}

// fetchIdentity resolves the identity and, when the provider offers it, the
// business data. Identity failure is fatal; business data is best effort.
func (s *AuthService) fetchIdentity(ctx context.Context, p oauth.Provider, accessToken string) (*oauth.Identity, model.BusinessData, error) {
	bf, hasBusiness := p.(oauth.BusinessFetcher)
	if !hasBusiness {
		identity, err := p.FetchIdentity(ctx, accessToken)
		return identity, model.BusinessData{}, err
	}

	var (
		identity *oauth.Identity
		business model.BusinessData
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		identity, err = p.FetchIdentity(gctx, accessToken)
		return err
	})
	g.Go(func() error {
		business = bf.FetchBusinessData(gctx, accessToken)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, model.BusinessData{}, err
	}
	return identity, business, nil
}

// resolveUser picks the local user an identity belongs to, in order:
//
//	(a) the user already in the session, so a logged-in user connecting a
//	    second provider links it to the same account;
//	(b) the owner of an existing row for (provider, providerID);
//	(c) a user found or created by email. Without a real email the
//	    placeholder <provider>_<providerID>@temp.local keeps repeats of
//	    this step idempotent.
//
// A session user that no longer exists falls through to (b).
func (s *AuthService) resolveUser(ctx context.Context, provider model.ProviderName, identity *oauth.Identity, current *model.Session) (*model.User, error) {
	if current.UserID != "" {
		user, err := s.users.GetUserByID(ctx, current.UserID)
		switch {
		case err == nil:
			return user, nil
		case errors.Is(err, apperror.ErrNotFound):
			s.logger.Warn("session user no longer exists", "userID", current.UserID)
		default:
			return nil, err
		}
	}

	existing, err := s.tokens.FindByProvider(ctx, provider, identity.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.users.GetUserByID(ctx, existing.UserID)
	}

	email := strings.ToLower(strings.TrimSpace(identity.Email))
	if email == "" {
		email = PlaceholderEmail(provider, identity.ID)
	}
	return s.users.FindOrCreateByEmail(ctx, email, displayName(identity))
}

// PlaceholderEmail is the synthetic email of a user created from a provider
// that did not share one.
func PlaceholderEmail(provider model.ProviderName, providerID string) string {
	return fmt.Sprintf("%s_%s@temp.local", provider, providerID)
}

func displayName(id *oauth.Identity) string {
	if id.Username != "" {
		return id.Username
	}
	return id.Name
}

// providerSession builds the session cache entry for a freshly linked
// provider. Business data stays out of it; see model.FacebookSession.
func providerSession(provider model.ProviderName, tok *oauth.Token, id *oauth.Identity, configID string) model.ProviderSession {
	expiresAt := model.MillisOrZero(tok.ExpiresAt())
	switch provider {
	case model.ProviderFacebook:
		return &model.FacebookSession{
			AccessToken: tok.AccessToken,
			UserID:      id.ID,
			Name:        id.Name,
			ExpiresAt:   expiresAt,
			ConfigID:    configID,
		}
	case model.ProviderInstagram:
		return &model.InstagramSession{
			AccessToken: tok.AccessToken,
			UserID:      id.ID,
			Username:    id.Username,
			ExpiresAt:   expiresAt,
		}
	default:
		return &model.TwitterSession{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			UserID:       id.ID,
			Username:     id.Username,
			Name:         id.Name,
			ExpiresAt:    expiresAt,
		}
	}
}

// Disconnect unlinks one provider from the session's user: the provider's
// tokens are revoked (best effort), their rows removed and the sub-record
// dropped from the returned session.
func (s *AuthService) Disconnect(ctx context.Context, provider model.ProviderName, current *model.Session) (*model.Session, error) {
	p, err := s.providers.Get(provider)
	if err != nil {
		return nil, err
	}
	if current == nil || current.UserID == "" {
		return nil, apperror.Unauthorized(apperror.CodeMissingSession, "not authenticated")
	}

	rows, err := s.tokens.ListByUser(ctx, current.UserID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: listing providers of %s: %w", current.UserID, err)
	}
	for _, row := range rows {
		if row.Provider != provider {
			continue
		}
		res := s.revokeAndRemove(ctx, p, row)
		if res.RemoveErr != nil {
			return nil, fmt.Errorf("service/auth: disconnecting %s: %w", provider, res.RemoveErr)
		}
	}

	sess := current.Clone()
	sess.Unlink(provider)

	s.logger.Info("provider disconnected", "provider", provider, "userID", current.UserID)
	return sess, nil
}

// Settlement is the outcome of one provider's revoke+remove task during a
// full logout.
type Settlement struct {
	Provider   model.ProviderName
	ProviderID string
	Revoked    bool
	RevokeErr  error
	Removed    bool
	RemoveErr  error
}

// LogoutAll revokes and removes every provider linked to the session's
// user.
//
// Each provider is an independent task run concurrently. Revocation is best
// effort and a failure never stops the removal that follows it, nor any
// other provider's task. All outcomes are returned and logged. An error is
// returned only if the providers cannot be listed at all.
func (s *AuthService) LogoutAll(ctx context.Context, current *model.Session) ([]Settlement, error) {
	if current == nil || current.UserID == "" {
		return nil, apperror.Unauthorized(apperror.CodeMissingSession, "not authenticated")
	}

	rows, err := s.tokens.ListByUser(ctx, current.UserID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: listing providers of %s: %w", current.UserID, err)
	}

	results := make([]Settlement, len(rows))
	// A plain Group, not WithContext: one task failing must not cancel the
	// others.
	var g errgroup.Group
	g.SetLimit(logoutConcurrency)
	for i, row := range rows {
		g.Go(func() error {
			p, err := s.providers.Get(row.Provider)
			if err != nil {
				results[i] = s.removeOnly(ctx, row, err)
				return nil
			}
			results[i] = s.revokeAndRemove(ctx, p, row)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("user logged out from all providers",
		"userID", current.UserID,
		"providers", len(rows),
	)
	return results, nil
}

func (s *AuthService) revokeAndRemove(ctx context.Context, p oauth.Provider, row model.AuthProvider) Settlement {
	res := Settlement{Provider: row.Provider, ProviderID: row.ProviderID}

	if row.IsTokenExpired(s.now()) {
		// Nothing left to revoke.
		res.Revoked = true
	} else if err := p.Revoke(ctx, row.ProviderID, row.AccessToken); err != nil {
		res.RevokeErr = err
		s.metrics.RecordRevocation(string(row.Provider), metrics.OutcomeError)
		s.logger.Warn("token revocation failed",
			"provider", row.Provider,
			"providerID", row.ProviderID,
			"error", err,
		)
	} else {
		res.Revoked = true
		s.metrics.RecordRevocation(string(row.Provider), metrics.OutcomeSuccess)
	}

	s.remove(ctx, row, &res)
	return res
}

func (s *AuthService) removeOnly(ctx context.Context, row model.AuthProvider, revokeErr error) Settlement {
	res := Settlement{Provider: row.Provider, ProviderID: row.ProviderID, RevokeErr: revokeErr}
	s.logger.Warn("no client for provider, skipping revocation", "provider", row.Provider)
	s.remove(ctx, row, &res)
	return res
}

func (s *AuthService) remove(ctx context.Context, row model.AuthProvider, res *Settlement) {
	if err := s.tokens.RemoveAuthProvider(ctx, row.Provider, row.ProviderID); err != nil {
		res.RemoveErr = err
		s.logger.Error("removing provider failed",
			"provider", row.Provider,
			"providerID", row.ProviderID,
			"error", err,
		)
		return
	}
	res.Removed = true
}

// Status is the /auth/status payload. It is rebuilt from the token store,
// so it reflects disconnects and expiry even when the cookie is stale.
type Status struct {
	Status  map[model.ProviderName]bool           `json:"status"`
	Session map[model.ProviderName]ProviderStatus `json:"session"`
	User    *StatusUser                           `json:"user"`
}

// ProviderStatus is one connected provider as shown to the dashboard.
// Tokens are not included.
type ProviderStatus struct {
	UserID     string            `json:"userId"`
	Username   string            `json:"username,omitempty"`
	Email      string            `json:"email,omitempty"`
	ExpiresAt  *time.Time        `json:"expiresAt,omitempty"`
	Businesses []model.Business  `json:"businesses,omitempty"`
	AdAccounts []model.AdAccount `json:"adAccounts,omitempty"`
	ConfigID   string            `json:"configId,omitempty"`
}

type StatusUser struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	CreatedAt     time.Time `json:"createdAt"`
	AuthProviders int       `json:"authProviders"`
}

// Status reports which registered providers the session's user has active. An
// anonymous session, or one whose user is gone, gets an all-false status.
func (s *AuthService) Status(ctx context.Context, current *model.Session) (*Status, error) {
	names := s.providers.Names()
	st := &Status{
		Status:  make(map[model.ProviderName]bool, len(names)),
		Session: map[model.ProviderName]ProviderStatus{},
	}
	for _, p := range names {
		st.Status[p] = false
	}
	if current == nil || current.UserID == "" {
		return st, nil
	}

	user, err := s.users.GetUserByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return st, nil
		}
		return nil, fmt.Errorf("service/auth: loading status user %s: %w", current.UserID, err)
	}

	active, err := s.tokens.ListActive(ctx, user.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("service/auth: listing active providers of %s: %w", user.ID, err)
	}

	for _, row := range active {
		st.Status[row.Provider] = true
		st.Session[row.Provider] = ProviderStatus{
			UserID:     row.ProviderID,
			Username:   row.Username,
			Email:      row.Email,
			ExpiresAt:  row.ExpiresAt,
			Businesses: row.BusinessAccounts,
			AdAccounts: row.AdAccounts,
			ConfigID:   row.ConfigID,
		}
	}
	st.User = &StatusUser{
		ID:            user.ID,
		Email:         user.Email,
		Username:      user.Username,
		CreatedAt:     user.CreatedAt,
		AuthProviders: len(active),
	}
	return st, nil
}

func (s *AuthService) sessionOrNew(current *model.Session) *model.Session {
	if current == nil {
		return model.NewSession(s.now())
	}
	return current.Clone()
}
