package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printflow/internal/models"
)

func TestFeedHubPublishesToUserSockets(t *testing.T) {
	hub := NewFeedHub(zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, 8)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return hub.Connections(8) == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(9, models.FeedItem{ID: 1, Title: "someone else"})
	hub.Publish(8, models.FeedItem{ID: 2, UserID: 8, Title: "Call printer"})

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, EventReminderDue, ev.Type)
	assert.Equal(t, int64(2), ev.Item.ID)
	assert.Equal(t, "Call printer", ev.Item.Title)

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return hub.Connections(8) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	hub := NewFeedHub(zerolog.Nop())
	assert.NotPanics(t, func() { hub.Publish(1, models.FeedItem{ID: 1}) })
	assert.Zero(t, hub.Connections(1))
}
