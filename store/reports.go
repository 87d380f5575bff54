package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
)

// ReportRepository persists Report records.
type ReportRepository struct {
	db     bun.IDB
	logger *slog.Logger
}

// NewReportRepository creates a bun-backed report repository.
func NewReportRepository(db bun.IDB, logger *slog.Logger) *ReportRepository {
	return &ReportRepository{db: db, logger: logger}
}

// Create inserts a report and fills in its generated id.
func (r *ReportRepository) Create(ctx context.Context, report *Report) error {
	if _, err := r.db.NewInsert().Model(report).Returning("id").Exec(ctx); err != nil {
		err = translate(err)
		r.logger.Error("store.reports.create", "title", report.Title, "error", err)
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

// GetByID returns the report with the given id or ErrNotFound.
func (r *ReportRepository) GetByID(ctx context.Context, id int64) (*Report, error) {
	report := new(Report)
	err := r.db.NewSelect().Model(report).Where("?TableAlias.id = ?", id).Scan(ctx)
	if err != nil {
		err = translate(err)
		if !errors.Is(err, ErrNotFound) {
			r.logger.Error("store.reports.get", "id", id, "error", err)
		}
		return nil, fmt.Errorf("get report %d: %w", id, err)
	}
	return report, nil
}

// List returns every report ordered by id.
func (r *ReportRepository) List(ctx context.Context) ([]Report, error) {
	var reports []Report
	if err := r.db.NewSelect().Model(&reports).Order("id ASC").Scan(ctx); err != nil {
		r.logger.Error("store.reports.list", "error", err)
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

// Update replaces title and content of an existing report.
func (r *ReportRepository) Update(ctx context.Context, report *Report) error {
	res, err := r.db.NewUpdate().Model(report).ExcludeColumn("created_at").WherePK().Exec(ctx)
	if err == nil {
		err = checkAffected(res)
	}
	if err != nil {
		err = translate(err)
		r.logger.Error("store.reports.update", "id", report.ID, "error", err)
		return fmt.Errorf("update report %d: %w", report.ID, err)
	}
	return nil
}

// Delete removes the report with the given id.
func (r *ReportRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.NewDelete().Model((*Report)(nil)).Where("id = ?", id).Exec(ctx)
	if err == nil {
		err = checkAffected(res)
	}
	if err != nil {
		r.logger.Error("store.reports.delete", "id", id, "error", err)
		return fmt.Errorf("delete report %d: %w", id, err)
	}
	return nil
}
