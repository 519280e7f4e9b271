package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/rs/zerolog"

	"printflow/internal/models"
	"printflow/internal/repositories"
)

// Notifier delivers one notice to one recipient on one channel.
type Notifier interface {
	Notify(ctx context.Context, d models.Delivery) error
}

// FeedPublisher pushes new feed items to connected clients.
type FeedPublisher interface {
	Publish(userID int64, item models.FeedItem)
}

// InAppNotifier writes the feed entry, pushes it to open sockets and mirrors
// it to Telegram for users who opted in. Only the feed write decides success.
type InAppNotifier struct {
	feed     repositories.FeedRepository
	users    repositories.UserRepository
	hub      FeedPublisher
	telegram TelegramSender
	now      func() time.Time
	log      zerolog.Logger
}

func NewInAppNotifier(
	feed repositories.FeedRepository,
	users repositories.UserRepository,
	hub FeedPublisher,
	telegram TelegramSender,
	log zerolog.Logger,
) *InAppNotifier {
	return &InAppNotifier{
		feed:     feed,
		users:    users,
		hub:      hub,
		telegram: telegram,
		now:      time.Now,
		log:      log.With().Str("component", "notifier").Str("channel", string(models.ChannelInApp)).Logger(),
	}
}

func (n *InAppNotifier) Notify(ctx context.Context, d models.Delivery) error {
	item := models.FeedItem{
		UserID:       d.RecipientID,
		ReminderID:   d.Reminder.ID,
		ProjectID:    d.Reminder.ProjectID,
		Title:        d.Reminder.Title,
		Message:      d.Reminder.Message,
		OccurrenceAt: d.OccurrenceAt,
		CreatedAt:    n.now().UTC().Truncate(time.Microsecond),
	}
	created, err := n.feed.Append(ctx, &item)
	if err != nil {
		return err
	}
	if !created {
		// already in the feed from an earlier pass
		return nil
	}
	if n.hub != nil {
		n.hub.Publish(d.RecipientID, item)
	}
	n.mirror(ctx, d)
	return nil
}

func (n *InAppNotifier) mirror(ctx context.Context, d models.Delivery) {
	if n.telegram == nil || n.users == nil {
		return
	}
	contact, err := n.users.GetContact(ctx, d.RecipientID)
	if err != nil {
		if !errors.Is(err, repositories.ErrUserNotFound) {
			n.log.Warn().Err(err).Int64("user_id", d.RecipientID).Msg("telegram mirror: contact lookup")
		}
		return
	}
	if !contact.NotifyTelegram || contact.TelegramChatID == 0 {
		return
	}
	text := fmt.Sprintf("<b>%s</b>\n%s\nProject #%d, due %s",
		html.EscapeString(d.Reminder.Title), html.EscapeString(d.Reminder.Message),
		d.Reminder.ProjectID, formatLocal(d.OccurrenceAt, d.Reminder.Timezone))
	if err := n.telegram.SendMessage(contact.TelegramChatID, text); err != nil {
		n.log.Warn().Err(err).Int64("user_id", d.RecipientID).Msg("telegram mirror failed")
	}
}

// EmailNotifier mails the reminder to the recipient's address.
type EmailNotifier struct {
	users  repositories.UserRepository
	mailer EmailService
	log    zerolog.Logger
}

func NewEmailNotifier(users repositories.UserRepository, mailer EmailService, log zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		users:  users,
		mailer: mailer,
		log:    log.With().Str("component", "notifier").Str("channel", string(models.ChannelEmail)).Logger(),
	}
}

// Notify treats users without an address as delivered: retrying cannot help them.
func (n *EmailNotifier) Notify(ctx context.Context, d models.Delivery) error {
	contact, err := n.users.GetContact(ctx, d.RecipientID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			n.log.Warn().Int64("user_id", d.RecipientID).Str("reminder_id", d.Reminder.ID).Msg("unknown user, email skipped")
			return nil
		}
		return err
	}
	if contact.Email == "" {
		n.log.Warn().Int64("user_id", d.RecipientID).Str("reminder_id", d.Reminder.ID).Msg("no email address, skipped")
		return nil
	}
	return n.mailer.SendReminderEmail(contact.Email, d.Reminder, d.OccurrenceAt)
}
