package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"printflow/internal/metrics"
	"printflow/internal/models"
	"printflow/internal/repositories"
	"printflow/internal/trigger"
)

const bootstrapLimit = 10000

// StageWatcher arms stage-based reminders when their project reaches the
// watched status. Event handling is best effort and never returns errors to
// the publisher.
type StageWatcher struct {
	reminders repositories.ReminderRepository
	projects  repositories.ProjectRepository
	nudger    Nudger
	now       func() time.Time
	log       zerolog.Logger

	queue chan models.StatusChange
}

func NewStageWatcher(
	reminders repositories.ReminderRepository,
	projects repositories.ProjectRepository,
	nudger Nudger,
	queueSize int,
	now func() time.Time,
	log zerolog.Logger,
) *StageWatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if now == nil {
		now = time.Now
	}
	return &StageWatcher{
		reminders: reminders,
		projects:  projects,
		nudger:    nudger,
		now:       now,
		log:       log.With().Str("component", "stage_watcher").Logger(),
		queue:     make(chan models.StatusChange, queueSize),
	}
}

// Enqueue hands an event to Run. When the queue is full the event is handled
// on the caller's goroutine instead of being dropped.
func (w *StageWatcher) Enqueue(ctx context.Context, ev models.StatusChange) {
	select {
	case w.queue <- ev:
	default:
		w.log.Warn().Int64("project_id", ev.ProjectID).Msg("event queue full, handling inline")
		w.OnProjectStatusChanged(ctx, ev)
	}
}

// Run drains the event queue until ctx is canceled.
func (w *StageWatcher) Run(ctx context.Context) error {
	w.log.Info().Int("queue", cap(w.queue)).Msg("stage watcher starting")
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stage watcher stopping")
			return ctx.Err()
		case ev := <-w.queue:
			w.OnProjectStatusChanged(ctx, ev)
		}
	}
}

// OnProjectStatusChanged arms every active reminder of the project that is
// waiting for exactly newStatus.
func (w *StageWatcher) OnProjectStatusChanged(ctx context.Context, ev models.StatusChange) {
	if ev.NewStatus == "" {
		return
	}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = w.now()
	}
	occurred = occurred.UTC().Truncate(time.Microsecond)

	log := w.log.With().Int64("project_id", ev.ProjectID).Str("status", ev.NewStatus).Logger()

	if _, err := w.projects.FindByID(ctx, ev.ProjectID); err != nil {
		if errors.Is(err, repositories.ErrProjectNotFound) {
			log.Debug().Msg("unknown project, event ignored")
		} else {
			log.Error().Err(err).Msg("resolve project")
		}
		return
	}

	waiting, err := w.reminders.ListAwaitingStage(ctx, ev.ProjectID, ev.NewStatus)
	if err != nil {
		log.Error().Err(err).Msg("list awaiting reminders")
		return
	}
	for i := range waiting {
		if err := w.arm(ctx, &waiting[i], occurred); err != nil {
			log.Error().Err(err).Str("reminder_id", waiting[i].ID).Msg("arm reminder")
		}
	}
}

// Bootstrap arms reminders whose project already sits in the watched status
// since their current watch cycle began. It recovers transitions published
// while the watcher was not running.
func (w *StageWatcher) Bootstrap(ctx context.Context) error {
	waiting, err := w.reminders.ListAllAwaitingStage(ctx, bootstrapLimit)
	if err != nil {
		return err
	}
	armed := 0
	projects := map[int64]*models.Project{}
	for i := range waiting {
		r := &waiting[i]
		p, ok := projects[r.ProjectID]
		if !ok {
			p, err = w.projects.FindByID(ctx, r.ProjectID)
			if err != nil && !errors.Is(err, repositories.ErrProjectNotFound) {
				return err
			}
			projects[r.ProjectID] = p
		}
		if p == nil || p.Status != r.WatchStatus || p.StatusChangedAt.Before(r.CycleStartedAt) {
			continue
		}
		if err := w.arm(ctx, r, p.StatusChangedAt.UTC().Truncate(time.Microsecond)); err != nil {
			w.log.Error().Err(err).Str("reminder_id", r.ID).Msg("bootstrap arm")
			continue
		}
		armed++
	}
	w.log.Info().Int("waiting", len(waiting)).Int("armed", armed).Msg("stage watcher bootstrapped")
	return nil
}

// arm records the match and computes the trigger. A reminder that already
// holds a match keeps it, so the earliest match wins.
func (w *StageWatcher) arm(ctx context.Context, r *models.Reminder, matchedAt time.Time) error {
	for attempt := 1; attempt <= casAttempts; attempt++ {
		if r.Status != models.StatusScheduled || !r.IsActive || !r.AwaitingMatch() {
			return nil
		}
		if r.CycleStartedAt.After(r.CreatedAt) && matchedAt.Before(r.CycleStartedAt) {
			// a Complete re-armed the watch; earlier entries belong to the closed cycle
			return nil
		}

		next, err := trigger.Next(trigger.Params{
			Mode:         models.TriggerStageBased,
			Base:         matchedAt,
			DelayMinutes: r.DelayMinutes,
		})
		if err != nil {
			return err
		}
		matched := matchedAt
		r.StageMatchedAt = &matched
		r.NextTriggerAt = &next
		r.OccurrenceAt = &next
		r.UpdatedAt = w.now().UTC().Truncate(time.Microsecond)

		err = w.reminders.CompareAndSwap(ctx, r)
		if err == nil {
			metrics.StageMatchesTotal.Inc()
			w.log.Info().Str("reminder_id", r.ID).Time("matched_at", matched).Time("next_trigger_at", next).Msg("stage matched")
			if trigger.Due(&next, w.now()) && w.nudger != nil {
				w.nudger.Nudge()
			}
			return nil
		}
		if !errors.Is(err, repositories.ErrVersionConflict) {
			return err
		}
		fresh, err := w.reminders.FindByID(ctx, r.ID)
		if err != nil {
			return err
		}
		*r = *fresh
	}
	return ErrStageArmContention
}

// ErrStageArmContention is returned when a reminder kept changing while being armed.
var ErrStageArmContention = errors.New("reminder changed repeatedly while arming")
