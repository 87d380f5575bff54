package store

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// User is the local anchor for an IdP identity, keyed by the token subject.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID                string    `bun:"id,pk" json:"id"`
	Email             string    `bun:"email,unique,nullzero" json:"email"`
	EmailVerified     bool      `bun:"email_verified,notnull" json:"email_verified"`
	Name              string    `bun:"name" json:"name"`
	PreferredUsername string    `bun:"preferred_username" json:"preferred_username"`
	GivenName         string    `bun:"given_name" json:"given_name"`
	FamilyName        string    `bun:"family_name" json:"family_name"`
	CreatedAt         time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt         time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

var _ bun.BeforeAppendModelHook = (*User)(nil)

// BeforeAppendModel stamps timestamps on insert and update.
func (u *User) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	stamp(query, &u.CreatedAt, &u.UpdatedAt)
	return nil
}

// Report is a prosthesis report. Reports are not owned by a user.
type Report struct {
	bun.BaseModel `bun:"table:reports,alias:r"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	Title     string    `bun:"title,notnull" json:"title"`
	Content   string    `bun:"content,notnull" json:"content"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

var _ bun.BeforeAppendModelHook = (*Report)(nil)

// BeforeAppendModel stamps timestamps on insert and update.
func (r *Report) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	stamp(query, &r.CreatedAt, &r.UpdatedAt)
	return nil
}

func stamp(query bun.Query, created, updated *time.Time) {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if created.IsZero() {
			*created = now
		}
		*updated = now
	case *bun.UpdateQuery:
		*updated = now
	}
}
