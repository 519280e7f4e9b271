package models

import "time"

// TriggerMode defines how a reminder obtains its trigger instant.
type TriggerMode string

const (
	TriggerAbsoluteTime TriggerMode = "absolute_time"
	TriggerStageBased   TriggerMode = "stage_based"
)

type Repeat string

const (
	RepeatNone    Repeat = "none"
	RepeatDaily   Repeat = "daily"
	RepeatWeekly  Repeat = "weekly"
	RepeatMonthly Repeat = "monthly"
)

// ReminderStatus is the authoritative lifecycle state of a reminder.
type ReminderStatus string

const (
	StatusScheduled ReminderStatus = "scheduled"
	StatusCompleted ReminderStatus = "completed"
	StatusCancelled ReminderStatus = "cancelled"
)

const (
	MaxTitleLength   = 140
	MaxMessageLength = 800
	MaxDelayMinutes  = 129600 // 90 days
)

// Channels selects the sinks a reminder is delivered to.
type Channels struct {
	InApp bool `json:"in_app"`
	Email bool `json:"email"`
}

// Any reports whether at least one channel is enabled.
func (c Channels) Any() bool { return c.InApp || c.Email }

// Reminder is a scheduled notification attached to a project.
type Reminder struct {
	ID        string `json:"id"`
	ProjectID int64  `json:"project_id"`
	Title     string `json:"title"`
	Message   string `json:"message,omitempty"`

	TriggerMode  TriggerMode `json:"trigger_mode"`
	RemindAt     *time.Time  `json:"remind_at,omitempty"`
	WatchStatus  string      `json:"watch_status,omitempty"`
	DelayMinutes int         `json:"delay_minutes"`
	Repeat       Repeat      `json:"repeat"`

	Status         ReminderStatus `json:"status"`
	IsActive       bool           `json:"is_active"`
	NextTriggerAt  *time.Time     `json:"next_trigger_at"`
	StageMatchedAt *time.Time     `json:"stage_matched_at"`

	// OccurrenceAt is the trigger instant of the current cycle before any snooze.
	OccurrenceAt *time.Time `json:"occurrence_at,omitempty"`
	// CycleStartedAt marks the start of the current watch cycle.
	CycleStartedAt time.Time  `json:"cycle_started_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	// DispatchAttempts counts failed passes for the current trigger instant;
	// NextAttemptAt holds the reminder back from dispatch until then.
	DispatchAttempts int        `json:"-"`
	NextAttemptAt    *time.Time `json:"-"`

	CreatedBy  int64    `json:"created_by"`
	Recipients []int64  `json:"recipients"`
	Channels   Channels `json:"channels"`
	Timezone   string   `json:"timezone"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeStatus maps unknown or legacy values to scheduled.
func NormalizeStatus(s string) ReminderStatus {
	switch ReminderStatus(s) {
	case StatusCompleted:
		return StatusCompleted
	case StatusCancelled:
		return StatusCancelled
	}
	return StatusScheduled
}

func (r *Reminder) IsTerminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusCancelled
}

// AwaitingMatch reports whether a stage-based reminder is still waiting for its watched status.
func (r *Reminder) AwaitingMatch() bool {
	return r.TriggerMode == TriggerStageBased && r.StageMatchedAt == nil
}

// IsDue reports whether the reminder should be surfaced at now.
func (r *Reminder) IsDue(now time.Time) bool {
	return r.Status == StatusScheduled && r.IsActive &&
		r.NextTriggerAt != nil && !r.NextTriggerAt.After(now)
}

// Audience returns recipients plus the creator, without duplicates.
func (r *Reminder) Audience() []int64 {
	seen := make(map[int64]struct{}, len(r.Recipients)+1)
	out := make([]int64, 0, len(r.Recipients)+1)
	for _, id := range append([]int64{r.CreatedBy}, r.Recipients...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// HasRecipient reports whether userID is listed as a recipient.
func (r *Reminder) HasRecipient(userID int64) bool {
	for _, id := range r.Recipients {
		if id == userID {
			return true
		}
	}
	return false
}

// ReminderConfig is the validated creation payload.
type ReminderConfig struct {
	Title        string
	Message      string
	TriggerMode  TriggerMode
	RemindAt     string // RFC3339, or naive local time interpreted in Timezone
	WatchStatus  string
	DelayMinutes int
	Repeat       Repeat
	Recipients   []int64
	Channels     Channels
	Timezone     string
}

// ReminderFilter defines listing parameters.
type ReminderFilter struct {
	ProjectID        int64
	IncludeCompleted bool
}
