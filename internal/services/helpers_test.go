package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"printflow/internal/authz"
	"printflow/internal/models"
	"printflow/internal/repositories"
)

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

const projectID int64 = 100

var (
	creator   = authz.Actor{UserID: 1, RoleID: authz.RoleSales}
	recipient = authz.Actor{UserID: 2, RoleID: authz.RoleProduction}
	stranger  = authz.Actor{UserID: 3, RoleID: authz.RoleManagement}
	admin     = authz.Actor{UserID: 4, RoleID: authz.RoleAdmin}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingNudger struct {
	mu sync.Mutex
	n  int
}

func (c *countingNudger) Nudge() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingNudger) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// recordingNotifier keeps every delivery and fails for the listed recipients.
type recordingNotifier struct {
	mu     sync.Mutex
	sent   []models.Delivery
	failOn map[int64]error
}

func (n *recordingNotifier) Notify(_ context.Context, d models.Delivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.failOn[d.RecipientID]; err != nil {
		return err
	}
	n.sent = append(n.sent, d)
	return nil
}

func (n *recordingNotifier) Sent() []models.Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Delivery(nil), n.sent...)
}

func (n *recordingNotifier) Recipients() []int64 {
	var out []int64
	for _, d := range n.Sent() {
		out = append(out, d.RecipientID)
	}
	return out
}

type env struct {
	db         *repositories.DB
	clock      *testClock
	nudger     *countingNudger
	reminders  repositories.ReminderRepository
	projects   repositories.ProjectRepository
	deliveries repositories.DeliveryRepository
	svc        ReminderService
	watcher    *StageWatcher
	inApp      *recordingNotifier
	email      *recordingNotifier
	dispatcher *Dispatcher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	db, err := repositories.Open(ctx, repositories.DriverSQLite, filepath.Join(t.TempDir(), "services.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repositories.Migrate(ctx, db))

	e := &env{
		db:         db,
		clock:      &testClock{now: t0},
		nudger:     &countingNudger{},
		reminders:  repositories.NewReminderRepository(db),
		projects:   repositories.NewProjectRepository(db),
		deliveries: repositories.NewDeliveryRepository(db),
		inApp:      &recordingNotifier{},
		email:      &recordingNotifier{},
	}
	log := zerolog.Nop()
	e.svc = NewReminderService(e.reminders, e.projects, e.nudger, e.clock.Now, log)
	e.watcher = NewStageWatcher(e.reminders, e.projects, e.nudger, 4, e.clock.Now, log)
	e.dispatcher = NewDispatcher(e.reminders, e.projects, e.deliveries,
		map[models.Channel]Notifier{models.ChannelInApp: e.inApp, models.ChannelEmail: e.email},
		DispatcherConfig{Interval: time.Hour, BatchSize: 50}, e.clock.Now, log)

	require.NoError(t, e.projects.SetStatus(ctx, projectID, "Draft", t0.Add(-24*time.Hour)))
	return e
}

func absoluteConfig(at time.Time, repeat models.Repeat) models.ReminderConfig {
	return models.ReminderConfig{
		Title:       "Confirm paper stock",
		Message:     "Ask the supplier about 350gsm",
		TriggerMode: models.TriggerAbsoluteTime,
		RemindAt:    at.Format(time.RFC3339),
		Repeat:      repeat,
		Recipients:  []int64{recipient.UserID},
		Channels:    models.Channels{InApp: true},
	}
}

func stageConfig(watch string, delay int, repeat models.Repeat) models.ReminderConfig {
	return models.ReminderConfig{
		Title:        "Book the press",
		TriggerMode:  models.TriggerStageBased,
		WatchStatus:  watch,
		DelayMinutes: delay,
		Repeat:       repeat,
		Recipients:   []int64{recipient.UserID},
		Channels:     models.Channels{InApp: true},
	}
}

func (e *env) create(t *testing.T, cfg models.ReminderConfig) *models.Reminder {
	t.Helper()
	r, err := e.svc.Create(context.Background(), projectID, creator, cfg)
	require.NoError(t, err)
	return r
}

func (e *env) reload(t *testing.T, id string) *models.Reminder {
	t.Helper()
	r, err := e.reminders.FindByID(context.Background(), id)
	require.NoError(t, err)
	return r
}

func (e *env) statusChange(status string, at time.Time) {
	e.watcher.OnProjectStatusChanged(context.Background(),
		models.StatusChange{ProjectID: projectID, NewStatus: status, OccurredAt: at})
}

func ptrTime(t time.Time) *time.Time { return &t }
