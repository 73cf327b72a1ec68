package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/iayvob/Ads-Analytics-V2/internal/apperror"
	"github.com/iayvob/Ads-Analytics-V2/internal/model"
	"github.com/iayvob/Ads-Analytics-V2/internal/repository"
)

// AuthProviderDB is the auth_providers table repository (the token store).
type AuthProviderDB struct {
	db *DB
}

var _ repository.AuthProviderRepository = (*AuthProviderDB)(nil)

const authProviderColumns = `id, user_id, provider, provider_id, access_token, refresh_token,
	expires_at, username, email, advertising_account_id, business_accounts, ad_accounts,
	config_id, created_at, updated_at`

// UpsertAuthProvider writes p in a single statement.
//
// ON CONFLICT(provider, provider_id) DO UPDATE turns a reconnect into an
// update of the existing row, and two concurrent callbacks for the same
// account into one insert plus one update. user_id is deliberately absent
// from the SET list: reconnecting never moves an account to another user.
// An empty refresh token in the new data keeps the stored one.
func (a *AuthProviderDB) UpsertAuthProvider(ctx context.Context, userID string, p *model.AuthProvider) (*model.AuthProvider, error) {
	businesses, err := marshalList(p.BusinessAccounts)
	if err != nil {
		return nil, apperror.Database("failed to save authentication data", err)
	}
	adAccounts, err := marshalList(p.AdAccounts)
	if err != nil {
		return nil, apperror.Database("failed to save authentication data", err)
	}

	now := toMillis(a.db.now())
	_, err = a.db.conn.ExecContext(ctx,
		`INSERT INTO auth_providers (`+authProviderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(provider, provider_id) DO UPDATE SET
			access_token           = excluded.access_token,
			refresh_token          = CASE WHEN excluded.refresh_token = ''
			                              THEN auth_providers.refresh_token
			                              ELSE excluded.refresh_token END,
			expires_at             = excluded.expires_at,
			username               = excluded.username,
			email                  = excluded.email,
			advertising_account_id = excluded.advertising_account_id,
			business_accounts      = excluded.business_accounts,
			ad_accounts            = excluded.ad_accounts,
			config_id              = excluded.config_id,
			updated_at             = excluded.updated_at`,
		xid.New().String(),
		userID,
		string(p.Provider),
		p.ProviderID,
		p.AccessToken,
		p.RefreshToken,
		nullMillis(p.ExpiresAt),
		p.Username,
		p.Email,
		p.AdvertisingAccountID,
		businesses,
		adAccounts,
		p.ConfigID,
		now,
		now,
	)
	if err != nil {
		return nil, apperror.Database("failed to save authentication data",
			fmt.Errorf("sqlite: upserting %s:%s: %w", p.Provider, p.ProviderID, err))
	}

	saved, err := a.FindByProvider(ctx, p.Provider, p.ProviderID)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, apperror.Database("failed to save authentication data",
			fmt.Errorf("sqlite: %s:%s missing after upsert", p.Provider, p.ProviderID))
	}
	return saved, nil
}

// FindByProvider returns the row for (provider, providerID), or nil when
// there is none.
func (a *AuthProviderDB) FindByProvider(ctx context.Context, provider model.ProviderName, providerID string) (*model.AuthProvider, error) {
	row := a.db.conn.QueryRowContext(ctx,
		`SELECT `+authProviderColumns+` FROM auth_providers WHERE provider = ? AND provider_id = ?`,
		string(provider), providerID,
	)
	p, err := scanAuthProvider(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperror.Database("failed to load authentication data",
			fmt.Errorf("sqlite: finding %s:%s: %w", provider, providerID, err))
	}
	return p, nil
}

// ListActive returns the user's providers whose token has not expired.
// Expired rows are filtered, not deleted; see DeleteExpired.
func (a *AuthProviderDB) ListActive(ctx context.Context, userID string, now time.Time) ([]model.AuthProvider, error) {
	return a.list(ctx,
		`WHERE user_id = ? AND (expires_at IS NULL OR expires_at > ?) ORDER BY created_at, provider`,
		userID, toMillis(now),
	)
}

func (a *AuthProviderDB) ListByUser(ctx context.Context, userID string) ([]model.AuthProvider, error) {
	return a.list(ctx, `WHERE user_id = ? ORDER BY created_at, provider`, userID)
}

// RemoveAuthProvider deletes the row. Removing a row that does not exist is
// not an error, so repeated logouts are harmless.
func (a *AuthProviderDB) RemoveAuthProvider(ctx context.Context, provider model.ProviderName, providerID string) error {
	_, err := a.db.conn.ExecContext(ctx,
		`DELETE FROM auth_providers WHERE provider = ? AND provider_id = ?`,
		string(provider), providerID,
	)
	if err != nil {
		return apperror.Database("failed to remove authentication data",
			fmt.Errorf("sqlite: deleting %s:%s: %w", provider, providerID, err))
	}
	return nil
}

func (a *AuthProviderDB) CountByProvider(ctx context.Context) (map[model.ProviderName]int, error) {
	rows, err := a.db.conn.QueryContext(ctx,
		`SELECT provider, COUNT(*) FROM auth_providers GROUP BY provider`)
	if err != nil {
		return nil, apperror.Database("failed to load provider statistics",
			fmt.Errorf("sqlite: counting providers: %w", err))
	}
	defer rows.Close()

	counts := make(map[model.ProviderName]int, len(model.AllProviders))
	for _, p := range model.AllProviders {
		counts[p] = 0
	}
	for rows.Next() {
		var (
			provider string
			n        int
		)
		if err := rows.Scan(&provider, &n); err != nil {
			return nil, apperror.Database("failed to load provider statistics",
				fmt.Errorf("sqlite: scanning provider count: %w", err))
		}
		counts[model.ProviderName(provider)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Database("failed to load provider statistics",
			fmt.Errorf("sqlite: iterating provider counts: %w", err))
	}
	return counts, nil
}

func (a *AuthProviderDB) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := a.db.conn.ExecContext(ctx,
		`DELETE FROM auth_providers WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		toMillis(before),
	)
	if err != nil {
		return 0, apperror.Database("failed to prune expired tokens",
			fmt.Errorf("sqlite: deleting expired providers: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperror.Database("failed to prune expired tokens",
			fmt.Errorf("sqlite: checking rows affected: %w", err))
	}
	return n, nil
}

func (a *AuthProviderDB) list(ctx context.Context, where string, args ...any) ([]model.AuthProvider, error) {
	rows, err := a.db.conn.QueryContext(ctx,
		`SELECT `+authProviderColumns+` FROM auth_providers `+where, args...)
	if err != nil {
		return nil, apperror.Database("failed to load authentication data",
			fmt.Errorf("sqlite: listing providers: %w", err))
	}
	defer rows.Close()

	var out []model.AuthProvider
	for rows.Next() {
		p, err := scanAuthProvider(rows)
		if err != nil {
			return nil, apperror.Database("failed to load authentication data",
				fmt.Errorf("sqlite: scanning provider: %w", err))
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Database("failed to load authentication data",
			fmt.Errorf("sqlite: iterating providers: %w", err))
	}
	return out, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAuthProvider(s scanner) (*model.AuthProvider, error) {
	var (
		p                      model.AuthProvider
		provider               string
		expiresAt              sql.NullInt64
		businesses, adAccounts string
		created, updated       int64
	)
	err := s.Scan(
		&p.ID,
		&p.UserID,
		&provider,
		&p.ProviderID,
		&p.AccessToken,
		&p.RefreshToken,
		&expiresAt,
		&p.Username,
		&p.Email,
		&p.AdvertisingAccountID,
		&businesses,
		&adAccounts,
		&p.ConfigID,
		&created,
		&updated,
	)
	if err != nil {
		return nil, err
	}

	p.Provider = model.ProviderName(provider)
	if expiresAt.Valid {
		t := fromMillis(expiresAt.Int64)
		p.ExpiresAt = &t
	}
	if err := unmarshalList(businesses, &p.BusinessAccounts); err != nil {
		return nil, fmt.Errorf("decoding business_accounts: %w", err)
	}
	if err := unmarshalList(adAccounts, &p.AdAccounts); err != nil {
		return nil, fmt.Errorf("decoding ad_accounts: %w", err)
	}
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	return &p, nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func marshalList[T any](items []T) (string, error) {
	if len(items) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("sqlite: encoding list: %w", err)
	}
	return string(b), nil
}

// unmarshalList leaves *dst nil for an empty list.
func unmarshalList[T any](raw string, dst *[]T) error {
	if raw == "" || raw == "[]" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}
