package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"printflow/internal/models"
)

// UserRepository resolves notification addresses of staff users.
type UserRepository interface {
	GetContact(ctx context.Context, userID int64) (*models.Contact, error)
	SaveContact(ctx context.Context, c *models.Contact) error
}

type userRepository struct {
	db *DB
}

func NewUserRepository(db *DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetContact(ctx context.Context, userID int64) (*models.Contact, error) {
	var (
		c    = models.Contact{UserID: userID}
		chat sql.NullInt64
	)
	err := r.db.queryRow(ctx,
		`SELECT email, telegram_chat_id, notify_telegram FROM users WHERE id = $1`, userID,
	).Scan(&c.Email, &chat, &c.NotifyTelegram)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get contact %d: %w", userID, err)
	}
	if chat.Valid {
		c.TelegramChatID = chat.Int64
	}
	return &c, nil
}

func (r *userRepository) SaveContact(ctx context.Context, c *models.Contact) error {
	var chat interface{}
	if c.TelegramChatID != 0 {
		chat = c.TelegramChatID
	}
	_, err := r.db.exec(ctx, `
		INSERT INTO users (id, email, telegram_chat_id, notify_telegram) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			telegram_chat_id = excluded.telegram_chat_id,
			notify_telegram = excluded.notify_telegram`,
		c.UserID, c.Email, chat, c.NotifyTelegram)
	if err != nil {
		return fmt.Errorf("save contact %d: %w", c.UserID, err)
	}
	return nil
}
