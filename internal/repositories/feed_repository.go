package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"printflow/internal/models"
)

// FeedRepository stores the in-app reminder feed.
type FeedRepository interface {
	// Append inserts the item once per (user, reminder, occurrence); created
	// reports whether a new row was written.
	Append(ctx context.Context, item *models.FeedItem) (created bool, err error)
	ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.FeedItem, error)
	MarkRead(ctx context.Context, userID, itemID int64, at time.Time) error
}

type feedRepository struct {
	db *DB
}

func NewFeedRepository(db *DB) FeedRepository {
	return &feedRepository{db: db}
}

func (r *feedRepository) Append(ctx context.Context, item *models.FeedItem) (bool, error) {
	err := r.db.queryRow(ctx, `
		INSERT INTO reminder_feed (user_id, reminder_id, project_id, title, message, occurrence_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, reminder_id, occurrence_at) DO NOTHING
		RETURNING id`,
		item.UserID, item.ReminderID, item.ProjectID, item.Title, item.Message,
		r.db.ts(item.OccurrenceAt), r.db.ts(item.CreatedAt),
	).Scan(&item.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("append feed item: %w", err)
	}
	return true, nil
}

func (r *feedRepository) ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.FeedItem, error) {
	query := `SELECT id, user_id, reminder_id, project_id, title, message, occurrence_at, created_at, read_at
FROM reminder_feed WHERE user_id = $1`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $2`

	rows, err := r.db.query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list feed: %w", err)
	}
	defer rows.Close()

	var out []models.FeedItem
	for rows.Next() {
		var (
			it                    models.FeedItem
			occurred, created, rd nullTime
		)
		if err := rows.Scan(&it.ID, &it.UserID, &it.ReminderID, &it.ProjectID, &it.Title, &it.Message,
			&occurred, &created, &rd); err != nil {
			return nil, fmt.Errorf("scan feed item: %w", err)
		}
		it.OccurrenceAt = occurred.Time
		it.CreatedAt = created.Time
		it.ReadAt = rd.ptr()
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *feedRepository) MarkRead(ctx context.Context, userID, itemID int64, at time.Time) error {
	res, err := r.db.exec(ctx,
		`UPDATE reminder_feed SET read_at = $1 WHERE id = $2 AND user_id = $3 AND read_at IS NULL`,
		r.db.ts(at), itemID, userID)
	if err != nil {
		return fmt.Errorf("mark feed item %d read: %w", itemID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists int
	err = r.db.queryRow(ctx, `SELECT 1 FROM reminder_feed WHERE id = $1 AND user_id = $2`, itemID, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrFeedItemNotFound
	}
	return err
}
