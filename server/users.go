package server

import (
	"context"
	"errors"
	"log/slog"

	"prosthesisgw/store"
)

// UserStore is the slice of the Record Store the gateway needs for users.
type UserStore interface {
	Create(ctx context.Context, user *store.User) error
	GetByID(ctx context.Context, id string) (*store.User, error)
	List(ctx context.Context) ([]store.User, error)
}

// ReportStore is the slice of the Record Store the gateway needs for reports.
type ReportStore interface {
	List(ctx context.Context) ([]store.Report, error)
}

// UserDirectory maps token subjects onto local user records.
type UserDirectory struct {
	users  UserStore
	logger *slog.Logger
}

// NewUserDirectory wraps a user store.
func NewUserDirectory(users UserStore, logger *slog.Logger) *UserDirectory {
	return &UserDirectory{users: users, logger: logger}
}

// Resolve returns the record for claims.Subject, creating it from the claims on
// first login. Existing records are returned untouched. Two concurrent first
// logins race on the primary key; the loser reads the winner's row.
func (d *UserDirectory) Resolve(ctx context.Context, claims Claims) (*store.User, error) {
	if claims.Subject == "" {
		return nil, newFailure(KindMissingSubject, "resolve user", nil)
	}

	user, err := d.users.GetByID(ctx, claims.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, RecordStoreFailure(err)
	}

	user = userFromClaims(claims)
	err = d.users.Create(ctx, user)
	switch {
	case err == nil:
		d.logger.Info("user created", "user_sub", user.ID)
		return user, nil
	case errors.Is(err, store.ErrConflict):
		existing, getErr := d.users.GetByID(ctx, claims.Subject)
		if getErr != nil {
			// The conflict was on another column, not on the subject.
			return nil, RecordStoreFailure(errors.Join(err, getErr))
		}
		return existing, nil
	default:
		return nil, RecordStoreFailure(err)
	}
}

func userFromClaims(c Claims) *store.User {
	return &store.User{
		ID:                c.Subject,
		Email:             c.Email,
		EmailVerified:     c.EmailVerified,
		Name:              c.Name,
		PreferredUsername: c.PreferredUsername,
		GivenName:         c.GivenName,
		FamilyName:        c.FamilyName,
	}
}
