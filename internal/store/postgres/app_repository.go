package postgres

import (
	"context"
	"fmt"

	"github.com/appforge/usagesync/internal/app"
	"github.com/appforge/usagesync/internal/tenant"
)

// AppRepository implements app.Directory
type AppRepository struct {
	db *DB
}

// NewAppRepository creates a new application repository
func NewAppRepository(db *DB) *AppRepository {
	return &AppRepository{db: db}
}

// ListApplications lists the tenant's applications matching filter
func (r *AppRepository) ListApplications(ctx context.Context, tc tenant.Context, filter app.Filter) ([]*app.Summary, error) {
	query := `
		SELECT id, tenant_id, name, status, updated_at
		FROM apps
		WHERE tenant_id = $1
	`
	args := []any{tc.ID}
	if filter.Development {
		query += " AND status = $2"
		args = append(args, app.StatusDevelopment)
	}
	query += " ORDER BY id"

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	defer rows.Close()

	var apps []*app.Summary
	for rows.Next() {
		var s app.Summary
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Name, &s.Status, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan app: %w", err)
		}
		apps = append(apps, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate apps: %w", err)
	}

	return apps, nil
}

// Create inserts an application
func (r *AppRepository) Create(ctx context.Context, s *app.Summary) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO apps (id, tenant_id, name, status, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, s.ID, s.TenantID, s.Name, s.Status)
	if err != nil {
		return fmt.Errorf("failed to insert app: %w", err)
	}
	return nil
}
