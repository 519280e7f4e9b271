package models

import "time"

type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
)

// Delivery is one notice of a due reminder to one recipient on one channel.
type Delivery struct {
	Reminder     Reminder  `json:"reminder"`
	RecipientID  int64     `json:"recipient_id"`
	Channel      Channel   `json:"channel"`
	OccurrenceAt time.Time `json:"occurrence_at"`
}

// FeedItem is an entry of a user's in-app reminder feed.
type FeedItem struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	ReminderID   string     `json:"reminder_id"`
	ProjectID    int64      `json:"project_id"`
	Title        string     `json:"title"`
	Message      string     `json:"message,omitempty"`
	OccurrenceAt time.Time  `json:"occurrence_at"`
	CreatedAt    time.Time  `json:"created_at"`
	ReadAt       *time.Time `json:"read_at,omitempty"`
}

// Project is the slice of the project aggregate the engine reads.
type Project struct {
	ID              int64     `json:"id"`
	Status          string    `json:"status"`
	StatusChangedAt time.Time `json:"status_changed_at"`
}

// StatusChange is a project lifecycle event.
type StatusChange struct {
	ProjectID  int64     `json:"project_id"`
	NewStatus  string    `json:"new_status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Contact holds the addresses a user can be notified at.
type Contact struct {
	UserID         int64  `json:"user_id"`
	Email          string `json:"email"`
	TelegramChatID int64  `json:"telegram_chat_id,omitempty"`
	NotifyTelegram bool   `json:"notify_telegram"`
}
