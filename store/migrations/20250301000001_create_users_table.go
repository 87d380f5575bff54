package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"prosthesisgw/store"
)

func init() {
	Migrations.MustRegister(up_20250301000001, down_20250301000001)
}

// up_20250301000001 creates the users table.
func up_20250301000001(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().
		Model((*store.User)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

func down_20250301000001(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().
		Model((*store.User)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("drop users table: %w", err)
	}
	return nil
}
