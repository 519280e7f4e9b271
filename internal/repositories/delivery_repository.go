package repositories

import (
	"context"
	"fmt"
	"time"

	"printflow/internal/models"
)

// DeliveryRepository keeps the per (reminder, occurrence, recipient, channel)
// delivery log so that a pass never resends a pair that already succeeded.
type DeliveryRepository interface {
	Delivered(ctx context.Context, reminderID string, occurrenceAt time.Time) (map[DeliveryKey]bool, error)
	RecordSuccess(ctx context.Context, d models.Delivery, at time.Time) error
	RecordFailure(ctx context.Context, d models.Delivery, cause error) error
}

type DeliveryKey struct {
	RecipientID int64
	Channel     models.Channel
}

type deliveryRepository struct {
	db *DB
}

func NewDeliveryRepository(db *DB) DeliveryRepository {
	return &deliveryRepository{db: db}
}

func (r *deliveryRepository) Delivered(ctx context.Context, reminderID string, occurrenceAt time.Time) (map[DeliveryKey]bool, error) {
	rows, err := r.db.query(ctx, `
		SELECT recipient_id, channel FROM reminder_deliveries
		WHERE reminder_id = $1 AND occurrence_at = $2 AND delivered_at IS NOT NULL`,
		reminderID, r.db.ts(occurrenceAt))
	if err != nil {
		return nil, fmt.Errorf("list deliveries of %s: %w", reminderID, err)
	}
	defer rows.Close()

	out := map[DeliveryKey]bool{}
	for rows.Next() {
		var (
			k  DeliveryKey
			ch string
		)
		if err := rows.Scan(&k.RecipientID, &ch); err != nil {
			return nil, err
		}
		k.Channel = models.Channel(ch)
		out[k] = true
	}
	return out, rows.Err()
}

func (r *deliveryRepository) RecordSuccess(ctx context.Context, d models.Delivery, at time.Time) error {
	_, err := r.db.exec(ctx, `
		INSERT INTO reminder_deliveries (reminder_id, occurrence_at, recipient_id, channel, attempts, last_error, delivered_at)
		VALUES ($1, $2, $3, $4, 1, NULL, $5)
		ON CONFLICT (reminder_id, occurrence_at, recipient_id, channel) DO UPDATE SET
			attempts = reminder_deliveries.attempts + 1,
			last_error = NULL,
			delivered_at = excluded.delivered_at`,
		d.Reminder.ID, r.db.ts(d.OccurrenceAt), d.RecipientID, string(d.Channel), r.db.ts(at))
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

func (r *deliveryRepository) RecordFailure(ctx context.Context, d models.Delivery, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := r.db.exec(ctx, `
		INSERT INTO reminder_deliveries (reminder_id, occurrence_at, recipient_id, channel, attempts, last_error)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (reminder_id, occurrence_at, recipient_id, channel) DO UPDATE SET
			attempts = reminder_deliveries.attempts + 1,
			last_error = excluded.last_error`,
		d.Reminder.ID, r.db.ts(d.OccurrenceAt), d.RecipientID, string(d.Channel), msg)
	if err != nil {
		return fmt.Errorf("record delivery failure: %w", err)
	}
	return nil
}
