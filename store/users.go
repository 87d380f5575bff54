package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
)

// UserRepository persists User records.
type UserRepository struct {
	db     bun.IDB
	logger *slog.Logger
}

// NewUserRepository creates a bun-backed user repository.
func NewUserRepository(db bun.IDB, logger *slog.Logger) *UserRepository {
	return &UserRepository{db: db, logger: logger}
}

// Create inserts a new user. A duplicate id or email yields ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user *User) error {
	if _, err := r.db.NewInsert().Model(user).Exec(ctx); err != nil {
		err = translate(err)
		r.logger.Error("store.users.create", "id", user.ID, "error", err)
		return fmt.Errorf("create user %s: %w", user.ID, err)
	}
	r.logger.Info("store.users.create", "id", user.ID)
	return nil
}

// GetByID returns the user with the given subject id or ErrNotFound.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	user := new(User)
	err := r.db.NewSelect().Model(user).Where("?TableAlias.id = ?", id).Scan(ctx)
	if err != nil {
		err = translate(err)
		if !errors.Is(err, ErrNotFound) {
			r.logger.Error("store.users.get", "id", id, "error", err)
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return user, nil
}

// List returns every user ordered by creation time.
func (r *UserRepository) List(ctx context.Context) ([]User, error) {
	var users []User
	if err := r.db.NewSelect().Model(&users).Order("created_at ASC", "id ASC").Scan(ctx); err != nil {
		r.logger.Error("store.users.list", "error", err)
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Update replaces the stored columns of an existing user.
func (r *UserRepository) Update(ctx context.Context, user *User) error {
	res, err := r.db.NewUpdate().Model(user).ExcludeColumn("created_at").WherePK().Exec(ctx)
	if err == nil {
		err = checkAffected(res)
	}
	if err != nil {
		err = translate(err)
		r.logger.Error("store.users.update", "id", user.ID, "error", err)
		return fmt.Errorf("update user %s: %w", user.ID, err)
	}
	return nil
}

// Delete removes the user with the given id.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.NewDelete().Model((*User)(nil)).Where("id = ?", id).Exec(ctx)
	if err == nil {
		err = checkAffected(res)
	}
	if err != nil {
		r.logger.Error("store.users.delete", "id", id, "error", err)
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	return nil
}
