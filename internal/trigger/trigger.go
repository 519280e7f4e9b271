// Package trigger computes reminder trigger instants. Everything here is pure.
package trigger

import (
	"errors"
	"time"

	"printflow/internal/models"
)

var (
	ErrNoRecurrence  = errors.New("reminder does not repeat")
	ErrNotMatched    = errors.New("stage-based reminder has no stage match")
	ErrUnknownMode   = errors.New("unknown trigger mode")
	ErrUnknownRepeat = errors.New("unknown repeat rule")
)

// Params is the input of Next.
//
// Base is remindAt for absolute reminders (it also anchors the day of month for
// monthly repeats) and stageMatchedAt for stage-based ones. Previous is the
// previous trigger instant; nil asks for the first occurrence.
type Params struct {
	Mode         models.TriggerMode
	Base         time.Time
	DelayMinutes int
	Repeat       models.Repeat
	Previous     *time.Time
}

// Next returns the next trigger instant.
func Next(p Params) (time.Time, error) {
	switch p.Mode {
	case models.TriggerAbsoluteTime:
		if p.Previous == nil {
			return p.Base, nil
		}
		return Advance(p.Repeat, *p.Previous, p.Base.Day())
	case models.TriggerStageBased:
		// Repeats of a stage watch are re-armed through a new match, so the
		// instant always derives from the current match.
		if p.Base.IsZero() {
			return time.Time{}, ErrNotMatched
		}
		return p.Base.Add(time.Duration(ClampDelay(p.DelayMinutes)) * time.Minute), nil
	}
	return time.Time{}, ErrUnknownMode
}

// Advance moves prev forward by one repeat unit. anchorDay is the day of month
// monthly repeats try to land on.
func Advance(repeat models.Repeat, prev time.Time, anchorDay int) (time.Time, error) {
	switch repeat {
	case models.RepeatDaily:
		return prev.AddDate(0, 0, 1), nil
	case models.RepeatWeekly:
		return prev.AddDate(0, 0, 7), nil
	case models.RepeatMonthly:
		return addMonthClamped(prev, anchorDay), nil
	case models.RepeatNone, "":
		return time.Time{}, ErrNoRecurrence
	}
	return time.Time{}, ErrUnknownRepeat
}

// addMonthClamped returns the same clock time in the following month on
// anchorDay, or on the last day of that month when it is shorter.
func addMonthClamped(prev time.Time, anchorDay int) time.Time {
	y, m, _ := prev.Date()
	m++
	if m > time.December {
		m = time.January
		y++
	}
	day := anchorDay
	if last := daysIn(y, m, prev.Location()); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(y, m, day, prev.Hour(), prev.Minute(), prev.Second(), prev.Nanosecond(), prev.Location())
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}

// ClampDelay bounds a delay to [0, MaxDelayMinutes].
func ClampDelay(minutes int) int {
	if minutes < 0 {
		return 0
	}
	if minutes > models.MaxDelayMinutes {
		return models.MaxDelayMinutes
	}
	return minutes
}

// Due reports whether an instant has elapsed at now. Equality counts as due.
func Due(at *time.Time, now time.Time) bool {
	return at != nil && !at.After(now)
}
