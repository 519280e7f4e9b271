package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // time zones resolve without host tzdata
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"printflow/internal/authz"
	"printflow/internal/metrics"
	"printflow/internal/models"
	"printflow/internal/repositories"
	"printflow/internal/trigger"
)

// casAttempts bounds the re-read loop of transitions that may be recomputed
// after a concurrent write.
const casAttempts = 3

// actionableLimit caps the due view of a single user.
const actionableLimit = 500

// ReminderService is the reminder store surface plus the acknowledgment state machine.
type ReminderService interface {
	Create(ctx context.Context, projectID int64, actor authz.Actor, cfg models.ReminderConfig) (*models.Reminder, error)
	List(ctx context.Context, projectID int64, includeCompleted bool) ([]models.Reminder, error)
	Get(ctx context.Context, id string, actor authz.Actor) (*models.Reminder, error)
	ListDue(ctx context.Context, actor authz.Actor) ([]models.Reminder, error)

	Snooze(ctx context.Context, id string, actor authz.Actor, minutes int) (*models.Reminder, error)
	Complete(ctx context.Context, id string, actor authz.Actor) (*models.Reminder, error)
	Cancel(ctx context.Context, id string, actor authz.Actor) (*models.Reminder, error)
	SetActive(ctx context.Context, id string, actor authz.Actor, active bool) (*models.Reminder, error)
}

// Nudger asks the dispatcher for an early pass.
type Nudger interface {
	Nudge()
}

type reminderService struct {
	reminders repositories.ReminderRepository
	projects  repositories.ProjectRepository
	nudger    Nudger
	now       func() time.Time
	log       zerolog.Logger
}

func NewReminderService(
	reminders repositories.ReminderRepository,
	projects repositories.ProjectRepository,
	nudger Nudger,
	now func() time.Time,
	log zerolog.Logger,
) ReminderService {
	if now == nil {
		now = time.Now
	}
	return &reminderService{
		reminders: reminders,
		projects:  projects,
		nudger:    nudger,
		now:       now,
		log:       log.With().Str("component", "reminders").Logger(),
	}
}

// clock returns now at the resolution both store dialects keep.
func (s *reminderService) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *reminderService) Create(ctx context.Context, projectID int64, actor authz.Actor, cfg models.ReminderConfig) (*models.Reminder, error) {
	r, err := buildReminder(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := s.projects.FindByID(ctx, projectID); err != nil {
		if errors.Is(err, repositories.ErrProjectNotFound) {
			return nil, NotFoundError{Resource: "project", ID: strconv.FormatInt(projectID, 10)}
		}
		return nil, err
	}

	now := s.clock()
	r.ID = uuid.NewString()
	r.ProjectID = projectID
	r.CreatedBy = actor.UserID
	r.Status = models.StatusScheduled
	r.IsActive = true
	r.CycleStartedAt = now
	r.CreatedAt = now
	r.UpdatedAt = now

	if r.TriggerMode == models.TriggerAbsoluteTime {
		next, err := trigger.Next(trigger.Params{Mode: r.TriggerMode, Base: *r.RemindAt})
		if err != nil {
			return nil, err
		}
		r.NextTriggerAt = &next
		r.OccurrenceAt = &next
	}

	if err := s.reminders.Store(ctx, r); err != nil {
		return nil, err
	}
	s.log.Info().Str("reminder_id", r.ID).Int64("project_id", projectID).
		Str("mode", string(r.TriggerMode)).Msg("reminder created")

	if trigger.Due(r.NextTriggerAt, now) {
		s.nudge()
	}
	return r, nil
}

// buildReminder validates a creation payload and turns it into an unsaved reminder.
func buildReminder(cfg models.ReminderConfig) (*models.Reminder, error) {
	title := strings.TrimSpace(cfg.Title)
	if title == "" {
		return nil, NewValidationError("title", "is required")
	}
	if utf8.RuneCountInString(title) > models.MaxTitleLength {
		return nil, NewValidationError("title", fmt.Sprintf("must be at most %d characters", models.MaxTitleLength))
	}
	message := strings.TrimSpace(cfg.Message)
	if utf8.RuneCountInString(message) > models.MaxMessageLength {
		return nil, NewValidationError("message", fmt.Sprintf("must be at most %d characters", models.MaxMessageLength))
	}
	if !cfg.Channels.Any() {
		return nil, NewValidationError("channels", "at least one of in_app or email must be enabled")
	}

	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, NewValidationError("timezone", "unknown time zone "+strconv.Quote(tz))
	}

	repeat := cfg.Repeat
	switch repeat {
	case "":
		repeat = models.RepeatNone
	case models.RepeatNone, models.RepeatDaily, models.RepeatWeekly, models.RepeatMonthly:
	default:
		return nil, NewValidationError("repeat", "must be one of none, daily, weekly, monthly")
	}

	recipients, err := normalizeRecipients(cfg.Recipients)
	if err != nil {
		return nil, err
	}

	r := &models.Reminder{
		Title:       title,
		Message:     message,
		TriggerMode: cfg.TriggerMode,
		Repeat:      repeat,
		Recipients:  recipients,
		Channels:    cfg.Channels,
		Timezone:    tz,
	}

	switch cfg.TriggerMode {
	case models.TriggerAbsoluteTime:
		at, err := parseRemindAt(cfg.RemindAt, loc)
		if err != nil {
			return nil, err
		}
		r.RemindAt = &at
	case models.TriggerStageBased:
		if strings.TrimSpace(cfg.WatchStatus) == "" {
			return nil, NewValidationError("watch_status", "is required for stage_based reminders")
		}
		// matching is exact, so the value is kept as given
		r.WatchStatus = cfg.WatchStatus
		r.DelayMinutes = trigger.ClampDelay(cfg.DelayMinutes)
	default:
		return nil, NewValidationError("trigger_mode", "must be absolute_time or stage_based")
	}
	return r, nil
}

var naiveLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02 15:04"}

// parseRemindAt accepts RFC3339 instants or wall-clock times in loc.
func parseRemindAt(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, NewValidationError("remind_at", "is required for absolute_time reminders")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC().Truncate(time.Microsecond), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC().Truncate(time.Microsecond), nil
		}
	}
	return time.Time{}, NewValidationError("remind_at", "must be an RFC3339 timestamp")
}

func normalizeRecipients(ids []int64) ([]int64, error) {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, NewValidationError("recipients", "must contain positive user ids")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *reminderService) List(ctx context.Context, projectID int64, includeCompleted bool) ([]models.Reminder, error) {
	if _, err := s.projects.FindByID(ctx, projectID); err != nil {
		if errors.Is(err, repositories.ErrProjectNotFound) {
			return nil, NotFoundError{Resource: "project", ID: strconv.FormatInt(projectID, 10)}
		}
		return nil, err
	}
	return s.reminders.FindByProject(ctx, models.ReminderFilter{ProjectID: projectID, IncludeCompleted: includeCompleted})
}

func (s *reminderService) Get(ctx context.Context, id string, actor authz.Actor) (*models.Reminder, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !authz.CanAct(r, actor) {
		return nil, AuthorizationError{Action: "view", Message: "only the creator, recipients or an admin may view this reminder"}
	}
	return r, nil
}

func (s *reminderService) ListDue(ctx context.Context, actor authz.Actor) ([]models.Reminder, error) {
	list, err := s.reminders.ListActionable(ctx, s.clock(), actionableLimit)
	if err != nil {
		return nil, err
	}
	out := make([]models.Reminder, 0, len(list))
	for i := range list {
		if authz.CanAct(&list[i], actor) {
			out = append(out, list[i])
		}
	}
	return out, nil
}

func (s *reminderService) Snooze(ctx context.Context, id string, actor authz.Actor, minutes int) (*models.Reminder, error) {
	if minutes <= 0 || minutes > models.MaxDelayMinutes {
		return nil, NewValidationError("minutes", fmt.Sprintf("must be between 1 and %d", models.MaxDelayMinutes))
	}
	r, err := s.transition(ctx, "snooze", id, actor, true, func(r *models.Reminder, now time.Time) error {
		if r.NextTriggerAt == nil {
			return ConflictError{Message: "reminder is awaiting its stage match", Current: r}
		}
		next := now.Add(time.Duration(minutes) * time.Minute)
		r.NextTriggerAt = &next
		return nil
	})
	if err == nil {
		s.log.Info().Str("reminder_id", id).Int64("user_id", actor.UserID).Int("minutes", minutes).Msg("reminder snoozed")
	}
	return r, err
}

// Complete never recomputes after a concurrent write: a second caller must not
// advance a repeat rule a second time.
func (s *reminderService) Complete(ctx context.Context, id string, actor authz.Actor) (*models.Reminder, error) {
	r, err := s.transition(ctx, "complete", id, actor, false, func(r *models.Reminder, now time.Time) error {
		return closeOccurrence(r, now)
	})
	if err == nil {
		s.log.Info().Str("reminder_id", id).Int64("user_id", actor.UserID).
			Str("status", string(r.Status)).Msg("reminder completed")
	}
	return r, err
}

// closeOccurrence applies Complete: terminal without a repeat rule, re-armed otherwise.
func closeOccurrence(r *models.Reminder, now time.Time) error {
	switch {
	case r.Repeat == models.RepeatNone || r.Repeat == "":
		r.Status = models.StatusCompleted
		r.NextTriggerAt = nil
		r.OccurrenceAt = nil
	case r.TriggerMode == models.TriggerStageBased:
		r.StageMatchedAt = nil
		r.NextTriggerAt = nil
		r.OccurrenceAt = nil
		r.CycleStartedAt = now
	default:
		next, err := nextAbsolute(r)
		if err != nil {
			return err
		}
		r.NextTriggerAt = &next
		r.OccurrenceAt = &next
	}
	return nil
}

// nextAbsolute advances an absolute reminder by one repeat unit from its
// un-snoozed occurrence, on the calendar of the reminder's time zone.
func nextAbsolute(r *models.Reminder) (time.Time, error) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		loc = time.UTC
	}
	prev := r.OccurrenceAt
	if prev == nil {
		prev = r.NextTriggerAt
	}
	if prev == nil {
		prev = r.RemindAt
	}
	if prev == nil || r.RemindAt == nil {
		return time.Time{}, fmt.Errorf("reminder %s has no occurrence to advance", r.ID)
	}
	p := prev.In(loc)
	next, err := trigger.Next(trigger.Params{
		Mode:     models.TriggerAbsoluteTime,
		Base:     r.RemindAt.In(loc),
		Repeat:   r.Repeat,
		Previous: &p,
	})
	if err != nil {
		return time.Time{}, err
	}
	return next.UTC(), nil
}

func (s *reminderService) Cancel(ctx context.Context, id string, actor authz.Actor) (*models.Reminder, error) {
	r, err := s.transition(ctx, "cancel", id, actor, true, func(r *models.Reminder, _ time.Time) error {
		r.Status = models.StatusCancelled
		r.IsActive = false
		return nil
	})
	if err == nil {
		s.log.Info().Str("reminder_id", id).Int64("user_id", actor.UserID).Msg("reminder cancelled")
	}
	return r, err
}

func (s *reminderService) SetActive(ctx context.Context, id string, actor authz.Actor, active bool) (*models.Reminder, error) {
	action := "pause"
	if active {
		action = "resume"
	}
	r, err := s.transition(ctx, action, id, actor, true, func(r *models.Reminder, _ time.Time) error {
		r.IsActive = active
		return nil
	})
	if err == nil && active && trigger.Due(r.NextTriggerAt, s.clock()) {
		s.nudge()
	}
	return r, err
}

// transition runs one acknowledgment action against the stored reminder.
// Authorization is checked before the terminal check, and both before apply.
// A concurrent write is retried only when recompute is set; the re-read
// repeats every check, so a reminder that became terminal is never overwritten.
func (s *reminderService) transition(
	ctx context.Context,
	action, id string,
	actor authz.Actor,
	recompute bool,
	apply func(r *models.Reminder, now time.Time) error,
) (*models.Reminder, error) {
	allowed := authz.CanAct
	if action == "cancel" || action == "pause" || action == "resume" {
		allowed = authz.CanManage
	}

	var result *models.Reminder
	err := func() error {
		for attempt := 1; ; attempt++ {
			r, err := s.load(ctx, id)
			if err != nil {
				return err
			}
			if !allowed(r, actor) {
				return AuthorizationError{Action: action, Message: denyMessage(action)}
			}
			if r.IsTerminal() {
				return ConflictError{Message: "reminder is already " + string(r.Status), Current: r}
			}
			if (action == "pause" && !r.IsActive) || (action == "resume" && r.IsActive) {
				result = r
				return nil
			}

			now := s.clock()
			if err := apply(r, now); err != nil {
				return err
			}
			r.UpdatedAt = now
			err = s.reminders.CompareAndSwap(ctx, r)
			if err == nil {
				result = r
				return nil
			}
			if !errors.Is(err, repositories.ErrVersionConflict) {
				return err
			}
			if !recompute || attempt >= casAttempts {
				current, lerr := s.load(ctx, id)
				if lerr != nil {
					current = nil
				}
				return ConflictError{Message: "reminder was changed concurrently", Current: current}
			}
			s.log.Debug().Str("reminder_id", id).Str("action", action).Int("attempt", attempt).Msg("version conflict, retrying")
		}
	}()
	metrics.Transition(action, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func denyMessage(action string) string {
	if action == "cancel" || action == "pause" || action == "resume" {
		return "only the creator or an admin may " + action + " this reminder"
	}
	return "only the creator, recipients or an admin may " + action + " this reminder"
}

func (s *reminderService) load(ctx context.Context, id string) (*models.Reminder, error) {
	r, err := s.reminders.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrReminderNotFound) {
			return nil, NotFoundError{Resource: "reminder", ID: id}
		}
		return nil, err
	}
	return r, nil
}

func (s *reminderService) nudge() {
	if s.nudger != nil {
		s.nudger.Nudge()
	}
}
