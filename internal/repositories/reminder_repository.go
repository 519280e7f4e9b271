package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"printflow/internal/models"
)

type ReminderRepository interface {
	Store(ctx context.Context, r *models.Reminder) error
	FindByID(ctx context.Context, id string) (*models.Reminder, error)
	FindByProject(ctx context.Context, filter models.ReminderFilter) ([]models.Reminder, error)

	// ListAwaitingStage returns active scheduled stage reminders of a project
	// watching status that have no match yet.
	ListAwaitingStage(ctx context.Context, projectID int64, status string) ([]models.Reminder, error)
	// ListAllAwaitingStage returns every active reminder awaiting a match.
	ListAllAwaitingStage(ctx context.Context, limit int) ([]models.Reminder, error)
	// ListDue returns active scheduled reminders of existing projects whose
	// trigger elapsed, whose current occurrence has not been fully delivered and
	// which are not backing off. Reminders waiting longest come first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error)
	// ListActionable returns every active scheduled reminder due at now,
	// delivered or not.
	ListActionable(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error)

	// CompareAndSwap persists the mutable state of r if the stored version still
	// equals r.Version. On success r.Version is incremented.
	CompareAndSwap(ctx context.Context, r *models.Reminder) error
	// MarkDelivered records that the occurrence at occurrenceAt was handed out.
	// It is a no-op when the reminder moved on to another trigger instant.
	MarkDelivered(ctx context.Context, id string, occurrenceAt time.Time) error
	// DeferDispatch counts a failed pass for occurrenceAt and keeps the
	// reminder out of ListDue until retryAt. No-op once the trigger moved.
	DeferDispatch(ctx context.Context, id string, occurrenceAt, retryAt time.Time) error
}

type reminderRepository struct {
	db *DB
}

func NewReminderRepository(db *DB) ReminderRepository {
	return &reminderRepository{db: db}
}

const reminderColumns = `id, project_id, title, message, trigger_mode, remind_at, watch_status,
       delay_minutes, repeat, status, is_active, next_trigger_at, stage_matched_at,
       occurrence_at, cycle_started_at, delivered_at, created_by, recipients,
       channel_in_app, channel_email, timezone, version, created_at, updated_at,
       dispatch_attempts, next_attempt_at`

func (r *reminderRepository) Store(ctx context.Context, rem *models.Reminder) error {
	recipients, err := json.Marshal(nonNilRecipients(rem.Recipients))
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}
	if rem.Version == 0 {
		rem.Version = 1
	}
	query := `
		INSERT INTO project_reminders (
			id, project_id, title, message, trigger_mode, remind_at, watch_status,
			delay_minutes, repeat, status, is_active, next_trigger_at, stage_matched_at,
			occurrence_at, cycle_started_at, delivered_at, created_by, recipients,
			channel_in_app, channel_email, timezone, version, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`
	_, err = r.db.exec(ctx, query,
		rem.ID, rem.ProjectID, rem.Title, rem.Message, string(rem.TriggerMode),
		r.db.nts(rem.RemindAt), nullString(rem.WatchStatus),
		rem.DelayMinutes, string(rem.Repeat), string(rem.Status), rem.IsActive,
		r.db.nts(rem.NextTriggerAt), r.db.nts(rem.StageMatchedAt),
		r.db.nts(rem.OccurrenceAt), r.db.ts(rem.CycleStartedAt), r.db.nts(rem.DeliveredAt),
		rem.CreatedBy, string(recipients),
		rem.Channels.InApp, rem.Channels.Email, rem.Timezone, rem.Version,
		r.db.ts(rem.CreatedAt), r.db.ts(rem.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

func (r *reminderRepository) FindByID(ctx context.Context, id string) (*models.Reminder, error) {
	row := r.db.queryRow(ctx, `SELECT `+reminderColumns+` FROM project_reminders WHERE id = $1`, id)
	rem, err := scanReminder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReminderNotFound
		}
		return nil, fmt.Errorf("find reminder %s: %w", id, err)
	}
	return rem, nil
}

func (r *reminderRepository) FindByProject(ctx context.Context, filter models.ReminderFilter) ([]models.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM project_reminders WHERE project_id = $1`
	args := []interface{}{filter.ProjectID}
	if !filter.IncludeCompleted {
		query += ` AND status = $2`
		args = append(args, string(models.StatusScheduled))
	}
	query += ` ORDER BY created_at DESC, id`
	return r.list(ctx, query, args...)
}

func (r *reminderRepository) ListAwaitingStage(ctx context.Context, projectID int64, status string) ([]models.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM project_reminders
WHERE project_id = $1
  AND watch_status = $2
  AND stage_matched_at IS NULL
  AND trigger_mode = $3
  AND status = $4
  AND is_active = $5
ORDER BY created_at ASC, id`
	return r.list(ctx, query, projectID, status, string(models.TriggerStageBased), string(models.StatusScheduled), true)
}

func (r *reminderRepository) ListAllAwaitingStage(ctx context.Context, limit int) ([]models.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM project_reminders
WHERE stage_matched_at IS NULL
  AND trigger_mode = $1
  AND status = $2
  AND is_active = $3
ORDER BY project_id, created_at
LIMIT $4`
	return r.list(ctx, query, string(models.TriggerStageBased), string(models.StatusScheduled), true, limit)
}

func (r *reminderRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM project_reminders
WHERE status = $1
  AND is_active = $2
  AND next_trigger_at IS NOT NULL
  AND next_trigger_at <= $3
  AND (delivered_at IS NULL OR delivered_at <> next_trigger_at)
  AND (next_attempt_at IS NULL OR next_attempt_at <= $3)
  AND EXISTS (SELECT 1 FROM projects p WHERE p.id = project_reminders.project_id)
ORDER BY COALESCE(next_attempt_at, next_trigger_at) ASC, id
LIMIT $4`
	return r.list(ctx, query, string(models.StatusScheduled), true, r.db.ts(now), limit)
}

func (r *reminderRepository) ListActionable(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM project_reminders
WHERE status = $1
  AND is_active = $2
  AND next_trigger_at IS NOT NULL
  AND next_trigger_at <= $3
ORDER BY next_trigger_at ASC, id
LIMIT $4`
	return r.list(ctx, query, string(models.StatusScheduled), true, r.db.ts(now), limit)
}

func (r *reminderRepository) CompareAndSwap(ctx context.Context, rem *models.Reminder) error {
	query := `
		UPDATE project_reminders SET
			status=$1, is_active=$2, next_trigger_at=$3, stage_matched_at=$4,
			occurrence_at=$5, cycle_started_at=$6,
			delivered_at      = CASE WHEN next_trigger_at = $3 THEN delivered_at ELSE NULL END,
			dispatch_attempts = CASE WHEN next_trigger_at = $3 THEN dispatch_attempts ELSE 0 END,
			next_attempt_at   = CASE WHEN next_trigger_at = $3 THEN next_attempt_at ELSE NULL END,
			version=version+1, updated_at=$7
		WHERE id=$8 AND version=$9`
	// delivery bookkeeping is owned by the dispatcher and survives unless the
	// trigger instant changes
	res, err := r.db.exec(ctx, query,
		string(rem.Status), rem.IsActive, r.db.nts(rem.NextTriggerAt), r.db.nts(rem.StageMatchedAt),
		r.db.nts(rem.OccurrenceAt), r.db.ts(rem.CycleStartedAt),
		r.db.ts(rem.UpdatedAt), rem.ID, rem.Version,
	)
	if err != nil {
		return fmt.Errorf("update reminder %s: %w", rem.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update reminder %s: %w", rem.ID, err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	rem.Version++
	return nil
}

func (r *reminderRepository) MarkDelivered(ctx context.Context, id string, occurrenceAt time.Time) error {
	_, err := r.db.exec(ctx,
		`UPDATE project_reminders SET delivered_at = $1, dispatch_attempts = 0, next_attempt_at = NULL
		 WHERE id = $2 AND next_trigger_at = $1`,
		r.db.ts(occurrenceAt), id)
	if err != nil {
		return fmt.Errorf("mark reminder %s delivered: %w", id, err)
	}
	return nil
}

func (r *reminderRepository) DeferDispatch(ctx context.Context, id string, occurrenceAt, retryAt time.Time) error {
	_, err := r.db.exec(ctx,
		`UPDATE project_reminders SET dispatch_attempts = dispatch_attempts + 1, next_attempt_at = $1
		 WHERE id = $2 AND next_trigger_at = $3`,
		r.db.ts(retryAt), id, r.db.ts(occurrenceAt))
	if err != nil {
		return fmt.Errorf("defer reminder %s: %w", id, err)
	}
	return nil
}

func (r *reminderRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Reminder, error) {
	rows, err := r.db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var out []models.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, *rem)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReminder(s rowScanner) (*models.Reminder, error) {
	var (
		rem                                      models.Reminder
		mode, repeat, status, recipients         string
		watch                                    sql.NullString
		remindAt, next, matched, occurrence, dlv nullTime
		cycle, created, updated, retryAt         nullTime
	)
	if err := s.Scan(
		&rem.ID, &rem.ProjectID, &rem.Title, &rem.Message, &mode, &remindAt, &watch,
		&rem.DelayMinutes, &repeat, &status, &rem.IsActive, &next, &matched,
		&occurrence, &cycle, &dlv, &rem.CreatedBy, &recipients,
		&rem.Channels.InApp, &rem.Channels.Email, &rem.Timezone, &rem.Version, &created, &updated,
		&rem.DispatchAttempts, &retryAt,
	); err != nil {
		return nil, err
	}
	rem.TriggerMode = models.TriggerMode(mode)
	rem.Repeat = models.Repeat(repeat)
	rem.Status = models.NormalizeStatus(status)
	rem.WatchStatus = watch.String
	rem.RemindAt = remindAt.ptr()
	rem.NextTriggerAt = next.ptr()
	rem.StageMatchedAt = matched.ptr()
	rem.OccurrenceAt = occurrence.ptr()
	rem.DeliveredAt = dlv.ptr()
	rem.NextAttemptAt = retryAt.ptr()
	rem.CycleStartedAt = cycle.Time
	rem.CreatedAt = created.Time
	rem.UpdatedAt = updated.Time
	if err := json.Unmarshal([]byte(recipients), &rem.Recipients); err != nil {
		return nil, fmt.Errorf("decode recipients of %s: %w", rem.ID, err)
	}
	return &rem, nil
}

func nonNilRecipients(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
