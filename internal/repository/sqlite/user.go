package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"

	"github.com/iayvob/Ads-Analytics-V2/internal/apperror"
	"github.com/iayvob/Ads-Analytics-V2/internal/model"
	"github.com/iayvob/Ads-Analytics-V2/internal/repository"
)

// UserDB is the users table repository.
type UserDB struct {
	db *DB
}

// Compile-time check that UserDB satisfies the interface.
var _ repository.UserRepository = (*UserDB)(nil)

// FindOrCreateByEmail inserts the user unless the email is taken, then reads
// the row back. ON CONFLICT DO NOTHING makes concurrent first logins for the
// same email converge on one row instead of failing on the UNIQUE index.
func (u *UserDB) FindOrCreateByEmail(ctx context.Context, email, username string) (*model.User, error) {
	now := toMillis(u.db.now())
	_, err := u.db.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, username, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(email) DO NOTHING`,
		xid.New().String(), email, username, now, now,
	)
	if err != nil {
		return nil, apperror.Database("failed to create user account",
			fmt.Errorf("sqlite: inserting user %s: %w", email, err))
	}

	user, err := u.scanOne(ctx, `WHERE email = ?`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.Database("failed to create user account",
				fmt.Errorf("sqlite: user %s vanished after insert", email))
		}
		return nil, apperror.Database("failed to create user account",
			fmt.Errorf("sqlite: reading user %s: %w", email, err))
	}
	return user, nil
}

func (u *UserDB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	user, err := u.scanOne(ctx, `WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, apperror.Database("failed to load user",
			fmt.Errorf("sqlite: getting user %s: %w", id, err))
	}
	return user, nil
}

// UpdateUser applies the non-nil fields of update. Taking an email that
// belongs to another user is a conflict.
func (u *UserDB) UpdateUser(ctx context.Context, id string, update model.UserUpdate) (*model.User, error) {
	sets := []string{"updated_at = ?"}
	args := []any{toMillis(u.db.now())}
	if update.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *update.Email)
	}
	if update.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, *update.Username)
	}
	args = append(args, id)

	res, err := u.db.conn.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Conflict("user email", *update.Email)
		}
		return nil, apperror.Database("failed to update user",
			fmt.Errorf("sqlite: updating user %s: %w", id, err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, apperror.Database("failed to update user",
			fmt.Errorf("sqlite: checking rows affected: %w", err))
	}
	if n == 0 {
		return nil, apperror.NotFound("user", id)
	}

	return u.GetUserByID(ctx, id)
}

func (u *UserDB) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := u.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, apperror.Database("failed to count users",
			fmt.Errorf("sqlite: counting users: %w", err))
	}
	return n, nil
}

func (u *UserDB) scanOne(ctx context.Context, where string, args ...any) (*model.User, error) {
	var (
		user             model.User
		created, updated int64
	)
	err := u.db.conn.QueryRowContext(ctx,
		`SELECT id, email, username, created_at, updated_at FROM users `+where, args...,
	).Scan(&user.ID, &user.Email, &user.Username, &created, &updated)
	if err != nil {
		return nil, err
	}
	user.CreatedAt = fromMillis(created)
	user.UpdatedAt = fromMillis(updated)
	return &user, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
