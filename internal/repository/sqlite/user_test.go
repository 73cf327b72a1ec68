package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/iayvob/Ads-Analytics-V2/internal/apperror"
	"github.com/iayvob/Ads-Analytics-V2/internal/model"
)

func newTestUserDB(t *testing.T) (*DB, *UserDB) {
	t.Helper()
	db := newTestDB(t)
	return db, db.Users()
}

func createTestUser(t *testing.T, u *UserDB, email, username string) *model.User {
	t.Helper()
	user, err := u.FindOrCreateByEmail(context.Background(), email, username)
	if err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// =========================================================================
// FIND OR CREATE
// =========================================================================

func TestFindOrCreateByEmail_Creates(t *testing.T) {
	_, u := newTestUserDB(t)

	user := createTestUser(t, u, "ada@example.com", "Ada")

	if user.ID == "" {
		t.Error("FindOrCreateByEmail() did not set ID")
	}
	if user.Email != "ada@example.com" || user.Username != "Ada" {
		t.Errorf("got %+v, want ada@example.com / Ada", user)
	}
	if user.CreatedAt.IsZero() {
		t.Error("FindOrCreateByEmail() did not set CreatedAt")
	}
}

func TestFindOrCreateByEmail_Idempotent(t *testing.T) {
	_, u := newTestUserDB(t)

	first := createTestUser(t, u, "twitter_42@temp.local", "ada")
	second := createTestUser(t, u, "twitter_42@temp.local", "someone-else")

	if first.ID != second.ID {
		t.Errorf("second call created a new user: %s != %s", first.ID, second.ID)
	}
	if second.Username != "ada" {
		t.Errorf("existing username overwritten: %q", second.Username)
	}

	n, err := u.CountUsers(context.Background())
	if err != nil {
		t.Fatalf("CountUsers() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CountUsers() = %d, want 1", n)
	}
}

func TestFindOrCreateByEmail_Concurrent(t *testing.T) {
	_, u := newTestUserDB(t)

	const workers = 8
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user, err := u.FindOrCreateByEmail(context.Background(), "same@example.com", "same")
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			ids[i] = user.ID
		}()
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("workers resolved different users: %v", ids)
		}
	}
}

// =========================================================================
// GET / UPDATE
// =========================================================================

func TestGetUserByID_NotFound(t *testing.T) {
	_, u := newTestUserDB(t)

	_, err := u.GetUserByID(context.Background(), "nonexistent")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByID() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateUser(t *testing.T) {
	_, u := newTestUserDB(t)
	user := createTestUser(t, u, "old@example.com", "old")

	name := "new name"
	updated, err := u.UpdateUser(context.Background(), user.ID, model.UserUpdate{Username: &name})
	if err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}
	if updated.Username != "new name" {
		t.Errorf("Username = %q, want %q", updated.Username, "new name")
	}
	if updated.Email != "old@example.com" {
		t.Errorf("Email changed to %q although it was not in the update", updated.Email)
	}
}

func TestUpdateUser_EmailTaken(t *testing.T) {
	_, u := newTestUserDB(t)
	createTestUser(t, u, "taken@example.com", "a")
	user := createTestUser(t, u, "mine@example.com", "b")

	email := "taken@example.com"
	_, err := u.UpdateUser(context.Background(), user.ID, model.UserUpdate{Email: &email})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("UpdateUser() error = %v, want ErrConflict", err)
	}
}

func TestUpdateUser_NotFound(t *testing.T) {
	_, u := newTestUserDB(t)

	name := "ghost"
	_, err := u.UpdateUser(context.Background(), "missing", model.UserUpdate{Username: &name})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("UpdateUser() error = %v, want ErrNotFound", err)
	}
}
