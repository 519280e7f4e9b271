package services

import (
	"errors"
	"fmt"

	"printflow/internal/models"
)

// ValidationError names the offending field of a rejected configuration.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) ValidationError {
	return ValidationError{Field: field, Message: message}
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// AuthorizationError means the acting user lacks rights for the action.
type AuthorizationError struct {
	Action  string
	Message string
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("not allowed to %s: %s", e.Action, e.Message)
}

func IsAuthorizationError(err error) bool {
	var ae AuthorizationError
	return errors.As(err, &ae)
}

// ConflictError reports that the reminder already moved past what the caller
// expected. Current carries the stored state when it is known.
type ConflictError struct {
	Message string
	Current *models.Reminder
}

func (e ConflictError) Error() string {
	if e.Current != nil {
		return fmt.Sprintf("conflict: %s (reminder %s is %s)", e.Message, e.Current.ID, e.Current.Status)
	}
	return "conflict: " + e.Message
}

func IsConflictError(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce)
}

// AsConflictError extracts a ConflictError from err.
func AsConflictError(err error) (ConflictError, bool) {
	var ce ConflictError
	ok := errors.As(err, &ce)
	return ce, ok
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func IsNotFoundError(err error) bool {
	var ne NotFoundError
	return errors.As(err, &ne)
}

// DispatchError is a failed delivery of one reminder to one recipient on one
// channel. It never aborts a scheduler pass.
type DispatchError struct {
	ReminderID  string
	RecipientID int64
	Channel     models.Channel
	Err         error
}

func (e DispatchError) Error() string {
	return fmt.Sprintf("deliver reminder %s to user %d via %s: %v", e.ReminderID, e.RecipientID, e.Channel, e.Err)
}

func (e DispatchError) Unwrap() error { return e.Err }
