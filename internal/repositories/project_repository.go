package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"printflow/internal/models"
)

// ProjectRepository reads project lifecycle state owned by the order backend.
type ProjectRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Project, error)
	// SetStatus is used by local setups and tests; production status changes
	// arrive from the order backend.
	SetStatus(ctx context.Context, id int64, status string, at time.Time) error
}

type projectRepository struct {
	db *DB
}

func NewProjectRepository(db *DB) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) FindByID(ctx context.Context, id int64) (*models.Project, error) {
	var (
		p       models.Project
		changed nullTime
	)
	err := r.db.queryRow(ctx,
		`SELECT id, status, status_changed_at FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Status, &changed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("find project %d: %w", id, err)
	}
	p.StatusChangedAt = changed.Time
	return &p, nil
}

func (r *projectRepository) SetStatus(ctx context.Context, id int64, status string, at time.Time) error {
	_, err := r.db.exec(ctx, `
		INSERT INTO projects (id, status, status_changed_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, status_changed_at = excluded.status_changed_at`,
		id, status, r.db.ts(at))
	if err != nil {
		return fmt.Errorf("set project %d status: %w", id, err)
	}
	return nil
}
