package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"printflow/internal/metrics"
	"printflow/internal/models"
	"printflow/internal/repositories"
)

// DispatcherConfig controls batch size and polling cadence.
type DispatcherConfig struct {
	Interval  time.Duration
	BatchSize int
}

// PassResult summarizes one scheduler pass.
type PassResult struct {
	Due       int
	Delivered int // reminders whose occurrence was fully handed out
	Sent      int
	Failed    int
	Deferred  int // reminders held back for a later pass
}

const (
	retryBaseDelay = time.Minute
	retryMaxDelay  = time.Hour
	// maxPagesPerPass bounds one pass when rows keep reappearing
	maxPagesPerPass = 50
)

// retryDelay doubles from retryBaseDelay per failed pass, capped at retryMaxDelay.
func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 7 {
		return retryMaxDelay
	}
	if d := retryBaseDelay << (attempt - 1); d < retryMaxDelay {
		return d
	}
	return retryMaxDelay
}

// Dispatcher finds due reminders and fans them out to the notifiers. It never
// changes a reminder's status.
type Dispatcher struct {
	reminders  repositories.ReminderRepository
	projects   repositories.ProjectRepository
	deliveries repositories.DeliveryRepository
	notifiers  map[models.Channel]Notifier
	cfg        DispatcherConfig
	now        func() time.Time
	log        zerolog.Logger

	nudge chan struct{}
}

func NewDispatcher(
	reminders repositories.ReminderRepository,
	projects repositories.ProjectRepository,
	deliveries repositories.DeliveryRepository,
	notifiers map[models.Channel]Notifier,
	cfg DispatcherConfig,
	now func() time.Time,
	log zerolog.Logger,
) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		reminders:  reminders,
		projects:   projects,
		deliveries: deliveries,
		notifiers:  notifiers,
		cfg:        cfg,
		now:        now,
		log:        log.With().Str("component", "dispatcher").Logger(),
		nudge:      make(chan struct{}, 1),
	}
}

// Nudge requests a pass without waiting for the next tick. Nudges coalesce.
func (d *Dispatcher) Nudge() {
	select {
	case d.nudge <- struct{}{}:
	default:
	}
}

// Run passes once immediately, then on every tick or nudge until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info().Int("batch", d.cfg.BatchSize).Dur("interval", d.cfg.Interval).Msg("dispatcher starting")
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("dispatcher stopping")
			return ctx.Err()
		case <-ticker.C:
			d.pass(ctx)
		case <-d.nudge:
			d.pass(ctx)
		}
	}
}

func (d *Dispatcher) pass(ctx context.Context) {
	res, err := d.RunOnce(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			d.log.Error().Err(err).Msg("dispatch pass")
		}
		return
	}
	if res.Due > 0 {
		d.log.Info().Int("due", res.Due).Int("delivered", res.Delivered).
			Int("sent", res.Sent).Int("failed", res.Failed).Int("deferred", res.Deferred).Msg("dispatch pass")
	}
}

// RunOnce delivers every due reminder once. It pages through the due set, so
// reminders that cannot be delivered yet never hide newer ones: each is either
// marked delivered or backed off before the next page is read. Only a store
// failure while selecting aborts the pass.
func (d *Dispatcher) RunOnce(ctx context.Context) (PassResult, error) {
	var res PassResult
	now := d.now().UTC()
	seen := make(map[string]struct{})

	for page := 0; page < maxPagesPerPass; page++ {
		due, err := d.reminders.ListDue(ctx, now, d.cfg.BatchSize)
		if err != nil {
			return res, err
		}
		fresh := 0
		for i := range due {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if _, ok := seen[due[i].ID]; ok {
				continue
			}
			seen[due[i].ID] = struct{}{}
			fresh++

			sent, failed, complete := d.deliver(ctx, due[i])
			res.Sent += sent
			res.Failed += failed
			if complete {
				res.Delivered++
				continue
			}
			if d.deferDispatch(ctx, due[i], now) {
				res.Deferred++
			}
		}
		res.Due += fresh
		if len(due) < d.cfg.BatchSize || fresh == 0 {
			break
		}
	}
	metrics.DispatchPassesTotal.Inc()
	return res, nil
}

func (d *Dispatcher) deferDispatch(ctx context.Context, r models.Reminder, now time.Time) bool {
	if r.NextTriggerAt == nil {
		return false
	}
	attempt := r.DispatchAttempts + 1
	retryAt := now.Add(retryDelay(attempt))
	if err := d.reminders.DeferDispatch(ctx, r.ID, *r.NextTriggerAt, retryAt); err != nil {
		d.log.Error().Err(err).Str("reminder_id", r.ID).Msg("defer reminder")
		return false
	}
	d.log.Debug().Str("reminder_id", r.ID).Int("attempt", attempt).Time("retry_at", retryAt).Msg("reminder deferred")
	return true
}

// deliver fans one reminder out to channels × audience, skipping pairs that
// already succeeded for this occurrence.
func (d *Dispatcher) deliver(ctx context.Context, r models.Reminder) (sent, failed int, complete bool) {
	log := d.log.With().Str("reminder_id", r.ID).Int64("project_id", r.ProjectID).Logger()
	if r.NextTriggerAt == nil {
		return 0, 0, false
	}
	occurrence := *r.NextTriggerAt

	if _, err := d.projects.FindByID(ctx, r.ProjectID); err != nil {
		if errors.Is(err, repositories.ErrProjectNotFound) {
			log.Debug().Msg("project missing, reminder inert")
		} else {
			log.Error().Err(err).Msg("resolve project")
		}
		return 0, 0, false
	}

	done, err := d.deliveries.Delivered(ctx, r.ID, occurrence)
	if err != nil {
		log.Error().Err(err).Msg("read delivery log")
		return 0, 0, false
	}

	complete = true
	for _, ch := range enabledChannels(r.Channels) {
		notifier, ok := d.notifiers[ch]
		if !ok {
			// held until the channel is configured; other channels still go out
			log.Warn().Str("channel", string(ch)).Msg("channel has no sink configured, occurrence kept pending")
			complete = false
			continue
		}
		for _, userID := range r.Audience() {
			if done[repositories.DeliveryKey{RecipientID: userID, Channel: ch}] {
				continue
			}
			dl := models.Delivery{Reminder: r, RecipientID: userID, Channel: ch, OccurrenceAt: occurrence}
			if err := notifier.Notify(ctx, dl); err != nil {
				failed++
				complete = false
				derr := DispatchError{ReminderID: r.ID, RecipientID: userID, Channel: ch, Err: err}
				log.Warn().Err(derr).Int64("recipient_id", userID).Str("channel", string(ch)).Msg("delivery failed, will retry")
				metrics.DeliveriesTotal.WithLabelValues(string(ch), "failed").Inc()
				if rerr := d.deliveries.RecordFailure(ctx, dl, err); rerr != nil {
					log.Error().Err(rerr).Msg("record delivery failure")
				}
				continue
			}
			sent++
			metrics.DeliveriesTotal.WithLabelValues(string(ch), "ok").Inc()
			if rerr := d.deliveries.RecordSuccess(ctx, dl, d.now().UTC()); rerr != nil {
				// without the log entry the pair is resent next pass
				complete = false
				log.Error().Err(rerr).Msg("record delivery")
			}
		}
	}

	if complete {
		if err := d.reminders.MarkDelivered(ctx, r.ID, occurrence); err != nil {
			log.Error().Err(err).Msg("mark delivered")
			complete = false
		}
	}
	return sent, failed, complete
}

func enabledChannels(c models.Channels) []models.Channel {
	var out []models.Channel
	if c.InApp {
		out = append(out, models.ChannelInApp)
	}
	if c.Email {
		out = append(out, models.ChannelEmail)
	}
	return out
}
