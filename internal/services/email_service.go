package services

import (
	"fmt"
	"html"
	"time"

	"gopkg.in/gomail.v2"

	"printflow/internal/models"
)

type EmailService interface {
	SendReminderEmail(to string, r models.Reminder, occurrenceAt time.Time) error
}

type emailService struct {
	dialer *gomail.Dialer
	from   string
}

func NewEmailService(smtpHost string, smtpPort int, smtpUser, smtpPassword, fromEmail string) EmailService {
	dialer := gomail.NewDialer(smtpHost, smtpPort, smtpUser, smtpPassword)
	return &emailService{
		dialer: dialer,
		from:   fromEmail,
	}
}

func (s *emailService) SendReminderEmail(to string, r models.Reminder, occurrenceAt time.Time) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", fmt.Sprintf("Reminder: %s", r.Title))

	body := fmt.Sprintf(`
		<h3>%s</h3>
		<p>%s</p>
		<p>Project #%d, due %s.</p>
		<p>Open the project to snooze, complete or cancel this reminder.</p>
	`, html.EscapeString(r.Title), html.EscapeString(r.Message), r.ProjectID, formatLocal(occurrenceAt, r.Timezone))

	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send reminder email: %w", err)
	}

	return nil
}

// formatLocal renders an instant in the reminder's display time zone.
func formatLocal(t time.Time, tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02 Jan 2006 15:04 MST")
}
