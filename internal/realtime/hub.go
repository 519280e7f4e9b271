package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"printflow/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the JWT middleware already authenticated the request
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is the frame pushed to feed subscribers.
type Event struct {
	Type string          `json:"type"`
	Item models.FeedItem `json:"item"`
}

const EventReminderDue = "reminder_due"

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex // gorilla allows one concurrent writer
}

func (c *conn) write(messageType int, v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if v == nil {
		return c.ws.WriteMessage(messageType, nil)
	}
	return c.ws.WriteJSON(v)
}

// FeedHub keeps the open feed sockets of each user.
type FeedHub struct {
	mu    sync.RWMutex
	users map[int64]map[*conn]struct{}
	log   zerolog.Logger
}

func NewFeedHub(log zerolog.Logger) *FeedHub {
	return &FeedHub{
		users: make(map[int64]map[*conn]struct{}),
		log:   log.With().Str("component", "feed_hub").Logger(),
	}
}

// Serve upgrades the request and blocks until the client goes away.
func (h *FeedHub) Serve(w http.ResponseWriter, r *http.Request, userID int64) error {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &conn{ws: ws}
	h.register(userID, c)
	defer h.unregister(userID, c)

	done := make(chan struct{})
	defer close(done)
	go h.ping(c, done)

	ws.SetReadLimit(maxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// clients only send control frames; anything else is discarded
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Int64("user_id", userID).Msg("feed socket closed")
			}
			return nil
		}
	}
}

func (h *FeedHub) ping(c *conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *FeedHub) register(userID int64, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[userID] == nil {
		h.users[userID] = make(map[*conn]struct{})
	}
	h.users[userID][c] = struct{}{}
}

func (h *FeedHub) unregister(userID int64, c *conn) {
	h.mu.Lock()
	if conns, ok := h.users[userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.users, userID)
		}
	}
	h.mu.Unlock()
	_ = c.ws.Close()
}

// Publish pushes item to every socket of userID. Failed sockets are dropped.
func (h *FeedHub) Publish(userID int64, item models.FeedItem) {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	ev := Event{Type: EventReminderDue, Item: item}
	for _, c := range conns {
		if err := c.write(websocket.TextMessage, ev); err != nil {
			h.log.Debug().Err(err).Int64("user_id", userID).Msg("drop feed socket")
			h.unregister(userID, c)
		}
	}
}

// Connections returns the number of open sockets of userID.
func (h *FeedHub) Connections(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}
