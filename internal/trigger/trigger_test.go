package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printflow/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func TestAbsoluteFirstOccurrenceIsRemindAt(t *testing.T) {
	at := date(2024, time.March, 10)
	got, err := Next(Params{Mode: models.TriggerAbsoluteTime, Base: at, Repeat: models.RepeatDaily})
	require.NoError(t, err)
	assert.Equal(t, at, got)
}

func TestAbsoluteMonthlyClampsToMonthEnd(t *testing.T) {
	anchor := date(2024, time.January, 31)
	want := []time.Time{
		date(2024, time.February, 29),
		date(2024, time.March, 31),
		date(2024, time.April, 30),
	}

	prev := anchor
	for _, w := range want {
		got, err := Next(Params{
			Mode:     models.TriggerAbsoluteTime,
			Base:     anchor,
			Repeat:   models.RepeatMonthly,
			Previous: &prev,
		})
		require.NoError(t, err)
		assert.Equal(t, w, got)
		prev = got
	}
}

func TestAbsoluteMonthlyAcrossYearEnd(t *testing.T) {
	anchor := date(2023, time.December, 31)
	got, err := Advance(models.RepeatMonthly, anchor, anchor.Day())
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.January, 31), got)

	got, err = Advance(models.RepeatMonthly, date(2023, time.January, 31), 31)
	require.NoError(t, err)
	assert.Equal(t, date(2023, time.February, 28), got)
}

func TestAbsoluteDailyAndWeekly(t *testing.T) {
	prev := date(2024, time.February, 28)

	got, err := Next(Params{Mode: models.TriggerAbsoluteTime, Base: prev, Repeat: models.RepeatDaily, Previous: &prev})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.February, 29), got)

	got, err = Next(Params{Mode: models.TriggerAbsoluteTime, Base: prev, Repeat: models.RepeatWeekly, Previous: &prev})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 6), got)
}

func TestAbsoluteWithoutRepeatHasNoNextOccurrence(t *testing.T) {
	prev := date(2024, time.February, 28)
	_, err := Next(Params{Mode: models.TriggerAbsoluteTime, Base: prev, Repeat: models.RepeatNone, Previous: &prev})
	assert.ErrorIs(t, err, ErrNoRecurrence)
}

func TestStageBasedAddsDelay(t *testing.T) {
	matched := date(2024, time.June, 1)

	got, err := Next(Params{Mode: models.TriggerStageBased, Base: matched, DelayMinutes: 60})
	require.NoError(t, err)
	assert.Equal(t, matched.Add(time.Hour), got)

	got, err = Next(Params{Mode: models.TriggerStageBased, Base: matched, DelayMinutes: 0})
	require.NoError(t, err)
	assert.Equal(t, matched, got, "zero delay fires at the match instant")

	got, err = Next(Params{Mode: models.TriggerStageBased, Base: matched, DelayMinutes: -15})
	require.NoError(t, err)
	assert.Equal(t, matched, got, "negative delay is treated as zero")
}

func TestStageBasedIgnoresPreviousTrigger(t *testing.T) {
	matched := date(2024, time.June, 10)
	prev := date(2024, time.June, 1)
	got, err := Next(Params{Mode: models.TriggerStageBased, Base: matched, DelayMinutes: 30, Repeat: models.RepeatDaily, Previous: &prev})
	require.NoError(t, err)
	assert.Equal(t, matched.Add(30*time.Minute), got)
}

func TestStageBasedRequiresMatch(t *testing.T) {
	_, err := Next(Params{Mode: models.TriggerStageBased, DelayMinutes: 5})
	assert.ErrorIs(t, err, ErrNotMatched)
}

func TestClampDelay(t *testing.T) {
	assert.Equal(t, 0, ClampDelay(-1))
	assert.Equal(t, 45, ClampDelay(45))
	assert.Equal(t, models.MaxDelayMinutes, ClampDelay(models.MaxDelayMinutes+1))
}

func TestDue(t *testing.T) {
	now := date(2024, time.June, 1)
	assert.True(t, Due(&now, now))
	past := now.Add(-time.Millisecond)
	assert.True(t, Due(&past, now))
	future := now.Add(time.Millisecond)
	assert.False(t, Due(&future, now))
	assert.False(t, Due(nil, now))
}
