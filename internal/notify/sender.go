package notify

import (
	"context"
	"errors"
	"fmt"

	"sre-platform/internal/models"
)

var (
	ErrNoSender      = errors.New("no sender for channel type")
	ErrMisconfigured = errors.New("channel misconfigured")
	ErrNotRetryable  = errors.New("notification is not retryable")
)

// Sender delivers a message on one type of channel. The returned code is
// the remote response status when there is one, or 0.
type Sender interface {
	Type() models.ChannelType
	Send(ctx context.Context, ch models.Channel, msg Message) (int, error)
}

// StatusError is a delivery rejected by the remote end.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned status %d", e.Code)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.Code, e.Body)
}

func misconfigured(ch models.Channel, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMisconfigured, ch.ID, fmt.Sprintf(format, args...))
}
