// Package repotest holds the compliance suite shared by the store backends.
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printflow/internal/models"
	"printflow/internal/repositories"
)

// Run exercises every repository against a freshly migrated database returned by open.
func Run(t *testing.T, open func(t *testing.T) *repositories.DB) {
	t.Helper()

	t.Run("reminder round trip", func(t *testing.T) { reminderRoundTrip(t, open(t)) })
	t.Run("compare and swap", func(t *testing.T) { compareAndSwap(t, open(t)) })
	t.Run("due selection", func(t *testing.T) { dueSelection(t, open(t)) })
	t.Run("dispatch backoff", func(t *testing.T) { dispatchBackoff(t, open(t)) })
	t.Run("awaiting stage", func(t *testing.T) { awaitingStage(t, open(t)) })
	t.Run("project and contact", func(t *testing.T) { projectAndContact(t, open(t)) })
	t.Run("delivery log", func(t *testing.T) { deliveryLog(t, open(t)) })
	t.Run("feed", func(t *testing.T) { feed(t, open(t)) })
}

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func at(minutes int) *time.Time {
	t := base.Add(time.Duration(minutes) * time.Minute)
	return &t
}

func absolute(projectID int64, trigger *time.Time) *models.Reminder {
	return &models.Reminder{
		ID:             uuid.NewString(),
		ProjectID:      projectID,
		Title:          "Call printer",
		Message:        "check proofs",
		TriggerMode:    models.TriggerAbsoluteTime,
		RemindAt:       trigger,
		Repeat:         models.RepeatNone,
		Status:         models.StatusScheduled,
		IsActive:       true,
		NextTriggerAt:  trigger,
		OccurrenceAt:   trigger,
		CycleStartedAt: base,
		CreatedBy:      7,
		Recipients:     []int64{8, 9},
		Channels:       models.Channels{InApp: true},
		Timezone:       "Europe/Berlin",
		CreatedAt:      base,
		UpdatedAt:      base,
	}
}

func staged(projectID int64, watch string) *models.Reminder {
	r := absolute(projectID, nil)
	r.TriggerMode = models.TriggerStageBased
	r.RemindAt = nil
	r.WatchStatus = watch
	r.DelayMinutes = 60
	return r
}

func sameInstant(t *testing.T, want, got *time.Time) {
	t.Helper()
	if want == nil {
		assert.Nil(t, got)
		return
	}
	require.NotNil(t, got)
	assert.True(t, want.Equal(*got), "want %s got %s", want, got)
}

func reminderRoundTrip(t *testing.T, db *repositories.DB) {
	ctx := context.Background()
	repo := repositories.NewReminderRepository(db)

	in := absolute(1, at(30))
	in.Repeat = models.RepeatMonthly
	in.Channels.Email = true
	require.NoError(t, repo.Store(ctx, in))
	assert.Equal(t, int64(1), in.Version)

	got, err := repo.FindByID(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, in.Title, got.Title)
	assert.Equal(t, in.Message, got.Message)
	assert.Equal(t, models.TriggerAbsoluteTime, got.TriggerMode)
	assert.Equal(t, models.RepeatMonthly, got.Repeat)
	assert.Equal(t, models.StatusScheduled, got.Status)
	assert.True(t, got.IsActive)
	assert.Equal(t, []int64{8, 9}, got.Recipients)
	assert.Equal(t, models.Channels{InApp: true, Email: true}, got.Channels)
	assert.Equal(t, "Europe/Berlin", got.Timezone)
	assert.Empty(t, got.WatchStatus)
	sameInstant(t, in.RemindAt, got.RemindAt)
	sameInstant(t, in.NextTriggerAt, got.NextTriggerAt)
	assert.Nil(t, got.StageMatchedAt)
	assert.True(t, base.Equal(got.CycleStartedAt))

	_, err = repo.FindByID(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, repositories.ErrReminderNotFound))

	done := absolute(1, at(10))
	done.Status = models.StatusCompleted
	done.NextTriggerAt = nil
	require.NoError(t, repo.Store(ctx, done))

	open, err := repo.FindByProject(ctx, models.ReminderFilter{ProjectID: 1})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, in.ID, open[0].ID)

	all, err := repo.FindByProject(ctx, models.ReminderFilter{ProjectID: 1, IncludeCompleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func compareAndSwap(t *testing.T, db *repositories.DB) {
	ctx := context.Background()
	repo := repositories.NewReminderRepository(db)

	in := absolute(2, at(0))
	require.NoError(t, repo.Store(ctx, in))

	first, err := repo.FindByID(ctx, in.ID)
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, in.ID)
	require.NoError(t, err)

	first.Status = models.StatusCompleted
	first.NextTriggerAt = nil
	first.UpdatedAt = base.Add(time.Minute)
	require.NoError(t, repo.CompareAndSwap(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Status = models.StatusCancelled
	second.IsActive = false
	err = repo.CompareAndSwap(ctx, second)
	assert.True(t, errors.Is(err, repositories.ErrVersionConflict))

	stored, err := repo.FindByID(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.True(t, stored.IsActive)
	assert.Nil(t, stored.NextTriggerAt)
	assert.Equal(t, int64(2), stored.Version)
}

func dueSelection(t *testing.T, db *repositories.DB) {
	ctx := context.Background()
	repo := repositories.NewReminderRepository(db)
	require.NoError(t, repositories.NewProjectRepository(db).SetStatus(ctx, 3, "Draft", base))
	now := *at(60)

	due := absolute(3, at(0))
	exact := absolute(3, at(60))
	future := absolute(3, at(61))
	paused := absolute(3, at(0))
	paused.IsActive = false
	waiting := staged(3, "Pending Production")
	orphan := absolute(404, at(0))
	for _, r := range []*models.Reminder{due, exact, future, paused, waiting, orphan} {
		require.NoError(t, repo.Store(ctx, r))
	}

	list, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{due.ID, exact.ID}, ids(list))

	require.NoError(t, repo.MarkDelivered(ctx, due.ID, *due.NextTriggerAt))
	list, err = repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{exact.ID}, ids(list))

	actionable, err := repo.ListActionable(ctx, now, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{due.ID, exact.ID}, ids(actionable))

	// a snooze moves the trigger, so the delivered marker no longer applies
	snoozed, err := repo.FindByID(ctx, due.ID)
	require.NoError(t, err)
	snoozed.NextTriggerAt = at(30)
	require.NoError(t, repo.CompareAndSwap(ctx, snoozed))
	list, err = repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{due.ID, exact.ID}, ids(list))

	// marking a stale occurrence is a no-op
	require.NoError(t, repo.MarkDelivered(ctx, exact.ID, *at(-5)))
	got, err := repo.FindByID(ctx, exact.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DeliveredAt)
	assert.Equal(t, int64(1), got.Version)

	limited, err := repo.ListDue(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func dispatchBackoff(t *testing.T, db *repositories.DB) {
	ctx := context.Background()
	repo := repositories.NewReminderRepository(db)
	require.NoError(t, repositories.NewProjectRepository(db).SetStatus(ctx, 5, "Draft", base))
	now := *at(60)

	stuck := absolute(5, at(0))
	fresh := absolute(5, at(30))
	require.NoError(t, repo.Store(ctx, stuck))
	require.NoError(t, repo.Store(ctx, fresh))

	list, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{stuck.ID, fresh.ID}, ids(list))

	require.NoError(t, repo.DeferDispatch(ctx, stuck.ID, *stuck.NextTriggerAt, *at(70)))
	list, err = repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{fresh.ID}, ids(list), "a backing-off reminder is held out")

	// once the retry time passes it queues behind reminders that have waited longer
	list, err = repo.ListDue(ctx, *at(70), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{fresh.ID, stuck.ID}, ids(list))

	got, err := repo.FindByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DispatchAttempts)
	sameInstant(t, at(70), got.NextAttemptAt)
	assert.Equal(t, int64(1), got.Version, "backoff is not a state transition")

	// deferring an occurrence the reminder already left is a no-op
	require.NoError(t, repo.DeferDispatch(ctx, fresh.ID, *at(-5), *at(90)))
	got, err = repo.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Zero(t, got.DispatchAttempts)
	assert.Nil(t, got.NextAttemptAt)

	// moving the trigger starts the new occurrence without backoff
	stale, err := repo.FindByID(ctx, stuck.ID)
	require.NoError(t, err)
	stale.NextTriggerAt = at(65)
	require.NoError(t, repo.CompareAndSwap(ctx, stale))
	got, err = repo.FindByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Zero(t, got.DispatchAttempts)
	assert.Nil(t, got.NextAttemptAt)

	// a delivery recorded after the transition read its row survives the write
	read, err := repo.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	require.NoError(t, repo.MarkDelivered(ctx, fresh.ID, *fresh.NextTriggerAt))
	read.IsActive = false
	require.NoError(t, repo.CompareAndSwap(ctx, read))
	got, err = repo.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	sameInstant(t, fresh.NextTriggerAt, got.DeliveredAt)
}

func awaitingStage(t *testing.T, db *repositories.DB) {
	ctx := context.Background()
	repo := repositories.NewReminderRepository(db)

	a := staged(4, "Pending Production")
	b := staged(4, "Pending Production")
	other := staged(4, "Production Completed")
	elsewhere := staged(5, "Pending Production")
	matched := staged(4, "Pending Production")
	matched.StageMatchedAt = at(0)
	matched.NextTriggerAt = at(60)
	for _, r := range []*models.Reminder{a, b, other, elsewhere, matched} {
		require.NoError(t, repo.Store(ctx, r))
	}

	list, err := repo.ListAwaitingStage(ctx, 4, "Pending Production")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids(list))

	list, err = repo.ListAwaitingStage(ctx, 4, "pending production")
	require.NoError(t, err)
	assert.Empty(t, list)

	all, err := repo.ListAllAwaitingStage(ctx, 100)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID, other.ID, elsewhere.ID}, ids(all))
}

func projectAndContact(t *testing.T, db *repositories.DB) {
	ctx := context.Background()
	projects := repositories.NewProjectRepository(db)
	users := repositories.NewUserRepository(db)

	_, err := projects.FindByID(ctx, 99)
	assert.True(t, errors.Is(err, repositories.ErrProjectNotFound))

	require.NoError(t, projects.SetStatus(ctx, 99, "Draft", base))
	require.NoError(t, projects.SetStatus(ctx, 99, "Pending Production", base.Add(time.Hour)))
	p, err := projects.FindByID(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, "Pending Production", p.Status)
	assert.True(t, base.Add(time.Hour).Equal(p.StatusChangedAt))

	_, err = users.GetContact(ctx, 5)
	assert.True(t, errors.Is(err, repositories.ErrUserNotFound))

	require.NoError(t, users.SaveContact(ctx, &models.Contact{UserID: 5, Email: "a@example.test"}))
	require.NoError(t, users.SaveContact(ctx, &models.Contact{UserID: 5, Email: "b@example.test", TelegramChatID: 42, NotifyTelegram: true}))
	c, err := users.GetContact(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "b@example.test", c.Email)
	assert.Equal(t, int64(42), c.TelegramChatID)
	assert.True(t, c.NotifyTelegram)
}

func deliveryLog(t *testing.T, db *repositories.DB) {
	ctx := context.Background()
	repo := repositories.NewDeliveryRepository(db)

	r := absolute(6, at(0))
	inApp := models.Delivery{Reminder: *r, RecipientID: 8, Channel: models.ChannelInApp, OccurrenceAt: *at(0)}
	email := models.Delivery{Reminder: *r, RecipientID: 8, Channel: models.ChannelEmail, OccurrenceAt: *at(0)}

	require.NoError(t, repo.RecordFailure(ctx, inApp, errors.New("smtp down")))
	done, err := repo.Delivered(ctx, r.ID, *at(0))
	require.NoError(t, err)
	assert.Empty(t, done)

	require.NoError(t, repo.RecordSuccess(ctx, inApp, *at(1)))
	require.NoError(t, repo.RecordFailure(ctx, email, errors.New("smtp down")))
	done, err = repo.Delivered(ctx, r.ID, *at(0))
	require.NoError(t, err)
	assert.Equal(t, map[repositories.DeliveryKey]bool{{RecipientID: 8, Channel: models.ChannelInApp}: true}, done)

	// the next occurrence starts with a clean log
	done, err = repo.Delivered(ctx, r.ID, *at(24 * 60))
	require.NoError(t, err)
	assert.Empty(t, done)
}

func feed(t *testing.T, db *repositories.DB) {
	ctx := context.Background()
	repo := repositories.NewFeedRepository(db)

	item := &models.FeedItem{UserID: 8, ReminderID: uuid.NewString(), ProjectID: 6, Title: "Call printer",
		OccurrenceAt: *at(0), CreatedAt: *at(1)}
	created, err := repo.Append(ctx, item)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, item.ID)

	dup := *item
	dup.ID = 0
	created, err = repo.Append(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, created)

	later := &models.FeedItem{UserID: 8, ReminderID: item.ReminderID, ProjectID: 6, Title: "Call printer",
		OccurrenceAt: *at(24 * 60), CreatedAt: *at(24*60 + 1)}
	_, err = repo.Append(ctx, later)
	require.NoError(t, err)

	list, err := repo.ListForUser(ctx, 8, false, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, later.ID, list[0].ID)

	require.NoError(t, repo.MarkRead(ctx, 8, item.ID, *at(5)))
	require.NoError(t, repo.MarkRead(ctx, 8, item.ID, *at(6)))
	assert.True(t, errors.Is(repo.MarkRead(ctx, 9, item.ID, *at(5)), repositories.ErrFeedItemNotFound))

	unread, err := repo.ListForUser(ctx, 8, true, 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, later.ID, unread[0].ID)

	list, err = repo.ListForUser(ctx, 8, false, 10)
	require.NoError(t, err)
	sameInstant(t, at(5), list[1].ReadAt)
}

func ids(list []models.Reminder) []string {
	out := make([]string, 0, len(list))
	for _, r := range list {
		out = append(out, r.ID)
	}
	return out
}
