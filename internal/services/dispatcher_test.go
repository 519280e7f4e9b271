package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printflow/internal/models"
)

func TestDispatchFansOutToChannelsAndAudience(t *testing.T) {
	e := newEnv(t)
	cfg := absoluteConfig(t0, models.RepeatNone)
	cfg.Recipients = []int64{creator.UserID, recipient.UserID, 9}
	cfg.Channels = models.Channels{InApp: true, Email: true}
	r := e.create(t, cfg)

	res, err := e.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PassResult{Due: 1, Delivered: 1, Sent: 6}, res)

	assert.ElementsMatch(t, []int64{1, 2, 9}, e.inApp.Recipients())
	assert.ElementsMatch(t, []int64{1, 2, 9}, e.email.Recipients())
	for _, d := range e.inApp.Sent() {
		assert.Equal(t, r.ID, d.Reminder.ID)
		assert.Equal(t, models.ChannelInApp, d.Channel)
		assert.True(t, t0.Equal(d.OccurrenceAt))
	}

	stored := e.reload(t, r.ID)
	assert.Equal(t, models.StatusScheduled, stored.Status, "delivery never changes status")
	assert.Equal(t, r.Version, stored.Version)
}

func TestDispatchSkipsFutureAndDeliveredOccurrences(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, absoluteConfig(t0.Add(time.Minute), models.RepeatNone))

	res, err := e.dispatcher.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Due)

	e.clock.Advance(time.Minute)
	res, err = e.dispatcher.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)

	e.clock.Advance(time.Minute)
	res, err = e.dispatcher.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Due)
	assert.Len(t, e.inApp.Sent(), 2)
}

func TestDispatchRetriesOnlyFailedPairs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.create(t, absoluteConfig(t0, models.RepeatNone))
	e.inApp.failOn = map[int64]error{recipient.UserID: errors.New("feed unavailable")}

	res, err := e.dispatcher.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, PassResult{Due: 1, Sent: 1, Failed: 1, Deferred: 1}, res)
	assert.Equal(t, []int64{creator.UserID}, e.inApp.Recipients())
	stored := e.reload(t, r.ID)
	assert.Nil(t, stored.DeliveredAt)
	assert.Equal(t, 1, stored.DispatchAttempts)

	e.inApp.failOn = nil
	res, err = e.dispatcher.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Due, "backing off until the retry delay passes")

	e.clock.Advance(retryDelay(1))
	res, err = e.dispatcher.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, PassResult{Due: 1, Delivered: 1, Sent: 1}, res)
	assert.Equal(t, []int64{creator.UserID, recipient.UserID}, e.inApp.Recipients())
}

func TestDispatchFailureDoesNotBlockOtherReminders(t *testing.T) {
	e := newEnv(t)
	cfg := absoluteConfig(t0, models.RepeatNone)
	cfg.Recipients = []int64{9}
	e.create(t, cfg)
	other := absoluteConfig(t0, models.RepeatNone)
	other.Recipients = []int64{7}
	e.create(t, other)
	e.inApp.failOn = map[int64]error{9: errors.New("boom")}

	res, err := e.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Due)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Failed)
	assert.ElementsMatch(t, []int64{creator.UserID, creator.UserID, 7}, e.inApp.Recipients())
}

func TestDispatchRedeliversAfterSnooze(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.create(t, absoluteConfig(t0, models.RepeatNone))

	_, err := e.dispatcher.RunOnce(ctx)
	require.NoError(t, err)
	_, err = e.svc.Snooze(ctx, r.ID, recipient, 15)
	require.NoError(t, err)

	e.clock.Advance(15 * time.Minute)
	res, err := e.dispatcher.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	sent := e.inApp.Sent()
	require.Len(t, sent, 4)
	assert.True(t, t0.Add(15*time.Minute).Equal(sent[3].OccurrenceAt))
}

func TestDispatchTreatsMissingProjectAsInert(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	orphan := &models.Reminder{
		ID: uuid.NewString(), ProjectID: 777, Title: "orphan",
		TriggerMode: models.TriggerAbsoluteTime, RemindAt: ptrTime(t0), Repeat: models.RepeatNone,
		Status: models.StatusScheduled, IsActive: true, NextTriggerAt: ptrTime(t0), OccurrenceAt: ptrTime(t0),
		CycleStartedAt: t0, CreatedBy: creator.UserID, Channels: models.Channels{InApp: true},
		Timezone: "UTC", CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, e.reminders.Store(ctx, orphan))

	res, err := e.dispatcher.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Due)
	assert.Empty(t, e.inApp.Sent())

	stored := e.reload(t, orphan.ID)
	assert.Equal(t, models.StatusScheduled, stored.Status)
	assert.Zero(t, stored.DispatchAttempts)
}

func TestDispatchUndeliverableRemindersDoNotStarveOthers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	d := NewDispatcher(e.reminders, e.projects, e.deliveries,
		map[models.Channel]Notifier{models.ChannelInApp: e.inApp},
		DispatcherConfig{BatchSize: 2}, e.clock.Now, zerolog.Nop())

	for i := 0; i < 2; i++ {
		orphan := &models.Reminder{
			ID: uuid.NewString(), ProjectID: 999, Title: "orphan",
			TriggerMode: models.TriggerAbsoluteTime, RemindAt: ptrTime(t0.Add(-time.Hour)), Repeat: models.RepeatNone,
			Status: models.StatusScheduled, IsActive: true,
			NextTriggerAt: ptrTime(t0.Add(-time.Hour)), OccurrenceAt: ptrTime(t0.Add(-time.Hour)),
			CycleStartedAt: t0, CreatedBy: creator.UserID, Channels: models.Channels{InApp: true},
			Timezone: "UTC", CreatedAt: t0, UpdatedAt: t0,
		}
		require.NoError(t, e.reminders.Store(ctx, orphan))

		failing := absoluteConfig(t0.Add(-time.Hour), models.RepeatNone)
		failing.Recipients = []int64{9}
		e.create(t, failing)
	}
	live := absoluteConfig(t0, models.RepeatNone)
	live.Recipients = []int64{7}
	r := e.create(t, live)
	e.inApp.failOn = map[int64]error{9: errors.New("mailbox full")}

	for pass := 0; pass < 5; pass++ {
		_, err := d.RunOnce(ctx)
		require.NoError(t, err)
	}

	var toLive []models.Delivery
	for _, dl := range e.inApp.Sent() {
		if dl.RecipientID == 7 {
			toLive = append(toLive, dl)
		}
	}
	require.Len(t, toLive, 1)
	assert.Equal(t, r.ID, toLive[0].Reminder.ID)
	assert.NotNil(t, e.reload(t, r.ID).DeliveredAt)
}

func TestRetryDelayDoublesUpToCap(t *testing.T) {
	assert.Equal(t, time.Minute, retryDelay(0))
	assert.Equal(t, time.Minute, retryDelay(1))
	assert.Equal(t, 2*time.Minute, retryDelay(2))
	assert.Equal(t, 32*time.Minute, retryDelay(6))
	assert.Equal(t, time.Hour, retryDelay(7))
	assert.Equal(t, time.Hour, retryDelay(100))
}

func TestDispatchHoldsOccurrenceForUnconfiguredChannel(t *testing.T) {
	e := newEnv(t)
	d := NewDispatcher(e.reminders, e.projects, e.deliveries,
		map[models.Channel]Notifier{models.ChannelInApp: e.inApp},
		DispatcherConfig{}, e.clock.Now, zerolog.Nop())
	cfg := absoluteConfig(t0, models.RepeatNone)
	cfg.Channels = models.Channels{InApp: true, Email: true}
	r := e.create(t, cfg)

	ctx := context.Background()
	res, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, PassResult{Due: 1, Sent: 2, Deferred: 1}, res)
	assert.Len(t, e.inApp.Sent(), 2)
	assert.Nil(t, e.reload(t, r.ID).DeliveredAt, "email recipients were never reached")

	// in-app pairs are not repeated while the email half waits
	e.clock.Advance(retryDelay(1))
	res, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, PassResult{Due: 1, Deferred: 1}, res)
	assert.Len(t, e.inApp.Sent(), 2)
}

func TestNudgeTriggersPassBeforeTick(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.dispatcher.Run(ctx) }()

	e.create(t, absoluteConfig(t0, models.RepeatNone))
	e.dispatcher.Nudge()
	e.dispatcher.Nudge()

	assert.Eventually(t, func() bool { return len(e.inApp.Sent()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
