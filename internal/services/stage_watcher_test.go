package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printflow/internal/models"
)

// Entering the watched status arms the reminder; later transitions keep the first match.
func TestStageMatchKeepsEarliestMatch(t *testing.T) {
	e := newEnv(t)
	r := e.create(t, stageConfig("Pending Production", 60, models.RepeatNone))

	match := t0.Add(time.Hour)
	e.statusChange("Pending Production", match)
	armed := e.reload(t, r.ID)
	require.NotNil(t, armed.StageMatchedAt)
	assert.True(t, match.Equal(*armed.StageMatchedAt))
	assert.True(t, match.Add(60*time.Minute).Equal(*armed.NextTriggerAt))

	e.statusChange("Production Completed", match.Add(10*time.Minute))
	e.statusChange("Pending Production", match.Add(20*time.Minute))
	after := e.reload(t, r.ID)
	assert.True(t, match.Equal(*after.StageMatchedAt))
	assert.True(t, match.Add(60*time.Minute).Equal(*after.NextTriggerAt))
	assert.Equal(t, armed.Version, after.Version)
}

func TestStageMatchAcceptsEventStampedBeforeCreation(t *testing.T) {
	e := newEnv(t)
	r := e.create(t, stageConfig("Pending Production", 30, models.RepeatNone))

	// the order backend's clock runs a second behind ours
	entered := t0.Add(-time.Second)
	e.statusChange("Pending Production", entered)
	armed := e.reload(t, r.ID)
	require.NotNil(t, armed.StageMatchedAt)
	assert.True(t, entered.Equal(*armed.StageMatchedAt))
	require.NotNil(t, armed.NextTriggerAt)
	assert.True(t, entered.Add(30*time.Minute).Equal(*armed.NextTriggerAt))
}

func TestStageMatchWithZeroDelayIsDueAtMatch(t *testing.T) {
	e := newEnv(t)
	r := e.create(t, stageConfig("Ready", 0, models.RepeatNone))

	e.statusChange("Ready", t0)
	armed := e.reload(t, r.ID)
	assert.True(t, t0.Equal(*armed.NextTriggerAt))
	assert.Equal(t, 1, e.nudger.Count(), "an immediately due match asks for a pass")
}

func TestStageMatchIsExactAndCaseSensitive(t *testing.T) {
	e := newEnv(t)
	r := e.create(t, stageConfig("Pending Production", 0, models.RepeatNone))

	e.statusChange("pending production", t0.Add(time.Minute))
	e.statusChange("Pending Production ", t0.Add(time.Minute))
	e.statusChange("Pending", t0.Add(time.Minute))
	stored := e.reload(t, r.ID)
	assert.Nil(t, stored.StageMatchedAt)
	assert.Nil(t, stored.NextTriggerAt)
}

func TestStageMatchArmsEveryWatcher(t *testing.T) {
	e := newEnv(t)
	a := e.create(t, stageConfig("Proof Approved", 0, models.RepeatNone))
	b := e.create(t, stageConfig("Proof Approved", 120, models.RepeatDaily))
	paused := e.create(t, stageConfig("Proof Approved", 0, models.RepeatNone))
	_, err := e.svc.SetActive(context.Background(), paused.ID, creator, false)
	require.NoError(t, err)

	match := t0.Add(time.Minute)
	e.statusChange("Proof Approved", match)

	assert.True(t, match.Equal(*e.reload(t, a.ID).NextTriggerAt))
	assert.True(t, match.Add(2*time.Hour).Equal(*e.reload(t, b.ID).NextTriggerAt))
	assert.Nil(t, e.reload(t, paused.ID).StageMatchedAt, "paused reminders are not armed")
}

func TestStageEventForUnknownProjectIsIgnored(t *testing.T) {
	e := newEnv(t)
	assert.NotPanics(t, func() {
		e.watcher.OnProjectStatusChanged(context.Background(),
			models.StatusChange{ProjectID: 4242, NewStatus: "Pending Production", OccurredAt: t0})
	})
}

func TestStageNextTriggerOnlyWithMatch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.create(t, stageConfig("Printing", 15, models.RepeatDaily))

	check := func() {
		s := e.reload(t, r.ID)
		assert.Equal(t, s.StageMatchedAt == nil, s.NextTriggerAt == nil)
	}
	check()
	e.statusChange("Printing", t0.Add(time.Minute))
	check()
	_, err := e.svc.Snooze(ctx, r.ID, creator, 30)
	require.NoError(t, err)
	check()
	_, err = e.svc.Complete(ctx, r.ID, creator)
	require.NoError(t, err)
	check()
	_, err = e.svc.Cancel(ctx, r.ID, creator)
	require.NoError(t, err)
	check()
}

func TestEnqueueIsHandledByRun(t *testing.T) {
	e := newEnv(t)
	r := e.create(t, stageConfig("Shipped", 0, models.RepeatNone))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.watcher.Run(ctx) }()

	e.watcher.Enqueue(ctx, models.StatusChange{ProjectID: projectID, NewStatus: "Shipped", OccurredAt: t0.Add(time.Minute)})
	assert.Eventually(t, func() bool {
		return e.reload(t, r.ID).StageMatchedAt != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestEnqueueWithFullQueueHandlesInline(t *testing.T) {
	e := newEnv(t)
	r := e.create(t, stageConfig("Shipped", 0, models.RepeatNone))
	ctx := context.Background()

	// nothing drains the queue, so the last event overflows
	for i := 0; i < cap(e.watcher.queue); i++ {
		e.watcher.Enqueue(ctx, models.StatusChange{ProjectID: projectID, NewStatus: "Other", OccurredAt: t0})
	}
	e.watcher.Enqueue(ctx, models.StatusChange{ProjectID: projectID, NewStatus: "Shipped", OccurredAt: t0.Add(time.Minute)})

	assert.NotNil(t, e.reload(t, r.ID).StageMatchedAt)
}

func TestBootstrapArmsMissedTransitions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	other := int64(200)
	require.NoError(t, e.projects.SetStatus(ctx, other, "Pending Production", t0.Add(-time.Hour)))
	before, err := e.svc.Create(ctx, other, creator, stageConfig("Pending Production", 10, models.RepeatNone))
	require.NoError(t, err)

	missed := e.create(t, stageConfig("Pending Production", 10, models.RepeatNone))
	otherStatus := e.create(t, stageConfig("Shipped", 10, models.RepeatNone))
	changed := t0.Add(30 * time.Minute)
	require.NoError(t, e.projects.SetStatus(ctx, projectID, "Pending Production", changed))

	require.NoError(t, e.watcher.Bootstrap(ctx))

	armed := e.reload(t, missed.ID)
	require.NotNil(t, armed.StageMatchedAt)
	assert.True(t, changed.Equal(*armed.StageMatchedAt))
	assert.True(t, changed.Add(10*time.Minute).Equal(*armed.NextTriggerAt))

	assert.Nil(t, e.reload(t, otherStatus.ID).StageMatchedAt)
	assert.Nil(t, e.reload(t, before.ID).StageMatchedAt,
		"a status entered before the watch began is not a match")
}
