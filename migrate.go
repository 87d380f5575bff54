package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"prosthesisgw/store"
	"prosthesisgw/store/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending Record Store migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, db *bun.DB, logger *slog.Logger) error {
			group, err := migrations.Apply(ctx, db)
			if err != nil {
				return err
			}
			if group.ID == 0 {
				logger.Info("no new migrations to apply")
			} else {
				logger.Info("applied migration group", "group", group.ID, "migrations", len(group.Migrations))
			}
			return nil
		})
	},
}

var migrateRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the last migration group",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, db *bun.DB, logger *slog.Logger) error {
			group, err := migrations.Rollback(ctx, db)
			if err != nil {
				return err
			}
			if group.ID == 0 {
				logger.Info("no migrations to roll back")
			} else {
				logger.Info("rolled back migration group", "group", group.ID)
			}
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, db *bun.DB, logger *slog.Logger) error {
			ms, err := migrations.Status(ctx, db)
			if err != nil {
				return err
			}
			printMigrationStatus(cmd.OutOrStdout(), ms)
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateRollbackCmd, migrateStatusCmd)
}

func withDB(ctx context.Context, fn func(context.Context, *bun.DB, *slog.Logger) error) error {
	logger, cfg, err := setup()
	if err != nil {
		return err
	}
	db, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer store.Close(db)
	return fn(ctx, db, logger)
}

func printMigrationStatus(w io.Writer, ms migrate.MigrationSlice) {
	for _, m := range ms {
		status := "pending"
		if m.GroupID > 0 {
			status = fmt.Sprintf("applied (group %d)", m.GroupID)
		}
		fmt.Fprintf(w, "%s: %s\n", m.Name, status)
	}
}
