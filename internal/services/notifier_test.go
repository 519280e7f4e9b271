package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printflow/internal/models"
	"printflow/internal/repositories"
)

type fakeHub struct {
	mu    sync.Mutex
	items map[int64][]models.FeedItem
}

func (h *fakeHub) Publish(userID int64, item models.FeedItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.items == nil {
		h.items = map[int64][]models.FeedItem{}
	}
	h.items[userID] = append(h.items[userID], item)
}

type fakeTelegram struct {
	chats []int64
	err   error
}

func (f *fakeTelegram) SendMessage(chatID int64, _ string) error {
	f.chats = append(f.chats, chatID)
	return f.err
}

type fakeMailer struct {
	to  []string
	err error
}

func (f *fakeMailer) SendReminderEmail(to string, _ models.Reminder, _ time.Time) error {
	f.to = append(f.to, to)
	return f.err
}

func delivery(userID int64, ch models.Channel) models.Delivery {
	return models.Delivery{
		Reminder: models.Reminder{
			ID: "rem-1", ProjectID: projectID, Title: "Confirm <paper>", Timezone: "Europe/Berlin",
		},
		RecipientID:  userID,
		Channel:      ch,
		OccurrenceAt: t0,
	}
}

func TestInAppNotifierWritesFeedOncePerOccurrence(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	users := repositories.NewUserRepository(e.db)
	feed := repositories.NewFeedRepository(e.db)
	require.NoError(t, users.SaveContact(ctx, &models.Contact{UserID: 2, TelegramChatID: 555, NotifyTelegram: true}))
	require.NoError(t, users.SaveContact(ctx, &models.Contact{UserID: 3, TelegramChatID: 556}))

	hub := &fakeHub{}
	tg := &fakeTelegram{}
	n := NewInAppNotifier(feed, users, hub, tg, zerolog.Nop())

	require.NoError(t, n.Notify(ctx, delivery(2, models.ChannelInApp)))
	require.NoError(t, n.Notify(ctx, delivery(2, models.ChannelInApp)))
	require.NoError(t, n.Notify(ctx, delivery(3, models.ChannelInApp)))

	items, err := feed.ListForUser(ctx, 2, false, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "rem-1", items[0].ReminderID)

	assert.Len(t, hub.items[2], 1)
	assert.Len(t, hub.items[3], 1)
	assert.Equal(t, []int64{555}, tg.chats, "only opted-in users get the mirror")
}

func TestInAppNotifierIgnoresTelegramFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	users := repositories.NewUserRepository(e.db)
	require.NoError(t, users.SaveContact(ctx, &models.Contact{UserID: 2, TelegramChatID: 555, NotifyTelegram: true}))

	n := NewInAppNotifier(repositories.NewFeedRepository(e.db), users, nil, &fakeTelegram{err: errors.New("blocked")}, zerolog.Nop())
	assert.NoError(t, n.Notify(ctx, delivery(2, models.ChannelInApp)))
}

func TestEmailNotifier(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	users := repositories.NewUserRepository(e.db)
	require.NoError(t, users.SaveContact(ctx, &models.Contact{UserID: 2, Email: "press@example.test"}))
	require.NoError(t, users.SaveContact(ctx, &models.Contact{UserID: 3}))

	mailer := &fakeMailer{}
	n := NewEmailNotifier(users, mailer, zerolog.Nop())

	require.NoError(t, n.Notify(ctx, delivery(2, models.ChannelEmail)))
	require.NoError(t, n.Notify(ctx, delivery(3, models.ChannelEmail)), "no address is skipped")
	require.NoError(t, n.Notify(ctx, delivery(4, models.ChannelEmail)), "unknown user is skipped")
	assert.Equal(t, []string{"press@example.test"}, mailer.to)

	mailer.err = errors.New("smtp timeout")
	assert.Error(t, n.Notify(ctx, delivery(2, models.ChannelEmail)))
}

func TestFormatLocal(t *testing.T) {
	assert.Equal(t, "06 May 2024 11:00 CEST", formatLocal(t0, "Europe/Berlin"))
	assert.Equal(t, "06 May 2024 09:00 UTC", formatLocal(t0, "nowhere"))
}
