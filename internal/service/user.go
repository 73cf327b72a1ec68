package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/iayvob/Ads-Analytics-V2/internal/apperror"
	"github.com/iayvob/Ads-Analytics-V2/internal/model"
	"github.com/iayvob/Ads-Analytics-V2/internal/repository"
)

// UserService serves the profile and admin statistics endpoints.
type UserService struct {
	users    repository.UserRepository
	tokens   repository.AuthProviderRepository
	validate *validator.Validate
	logger   *slog.Logger
}

func NewUserService(users repository.UserRepository, tokens repository.AuthProviderRepository, logger *slog.Logger) *UserService {
	return &UserService{
		users:    users,
		tokens:   tokens,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Profile returns the user together with every linked provider, including
// soft-expired ones.
func (s *UserService) Profile(ctx context.Context, userID string) (*model.UserWithProviders, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/user: loading %s: %w", userID, err)
	}
	providers, err := s.tokens.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/user: listing providers of %s: %w", userID, err)
	}
	if providers == nil {
		providers = []model.AuthProvider{}
	}
	return &model.UserWithProviders{User: *user, Providers: providers}, nil
}

// UpdateProfile sanitizes and validates the update before applying it.
// Emails are trimmed and lowercased; angle brackets are stripped from every
// field.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, update model.UserUpdate) (*model.User, error) {
	if update.Email != nil {
		e := strings.ToLower(SanitizeString(*update.Email))
		update.Email = &e
	}
	if update.Username != nil {
		u := SanitizeString(*update.Username)
		update.Username = &u
	}
	if update.Email == nil && update.Username == nil {
		return nil, apperror.ValidationFailed("", "no fields to update")
	}
	if update.Username != nil && *update.Username == "" {
		return nil, apperror.ValidationFailed("username", "username must not be empty")
	}
	if update.Email != nil && *update.Email == "" {
		return nil, apperror.ValidationFailed("email", "invalid email format")
	}

	if err := s.validate.Struct(update); err != nil {
		return nil, validationError(err)
	}

	user, err := s.users.UpdateUser(ctx, userID, update)
	if err != nil {
		return nil, fmt.Errorf("service/user: updating %s: %w", userID, err)
	}
	s.logger.Info("user profile updated", "userID", userID)
	return user, nil
}

// Stats returns the total user count and the number of linked accounts per
// provider.
func (s *UserService) Stats(ctx context.Context) (*model.ProviderStats, error) {
	total, err := s.users.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/user: counting users: %w", err)
	}
	counts, err := s.tokens.CountByProvider(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/user: counting providers: %w", err)
	}
	return &model.ProviderStats{TotalUsers: total, Providers: counts}, nil
}

// SanitizeString trims whitespace and removes '<' and '>'.
func SanitizeString(s string) string {
	return strings.TrimSpace(strings.NewReplacer("<", "", ">", "").Replace(s))
}

// validationError turns the first validator failure into an AppError naming
// the offending JSON field.
func validationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return apperror.ValidationFailed("", "invalid input")
	}
	fe := ve[0]
	field := strings.ToLower(fe.Field())

	var msg string
	switch fe.Tag() {
	case "email":
		msg = "invalid email format"
	case "min":
		msg = fmt.Sprintf("%s must not be empty", field)
	case "max":
		msg = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		msg = fmt.Sprintf("%s is invalid", field)
	}
	return apperror.ValidationFailed(field, msg)
}
