package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"prosthesisgw/store"
)

func init() {
	Migrations.MustRegister(up_20250301000002, down_20250301000002)
}

// up_20250301000002 creates the reports table.
func up_20250301000002(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().
		Model((*store.Report)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create reports table: %w", err)
	}
	return nil
}

func down_20250301000002(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().
		Model((*store.Report)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("drop reports table: %w", err)
	}
	return nil
}
