package alert

import (
	"errors"
	"fmt"
)

var (
	// ErrDisabled is returned by constructors when a channel has no credentials.
	ErrDisabled = errors.New("alert: channel disabled")
	// ErrDelivery wraps a failed send.
	ErrDelivery = errors.New("alert: delivery failed")
)

// APIError is a non-success reply from the Telegram Bot API.
type APIError struct {
	Status      int
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("telegram: status %d", e.Status)
	}
	return fmt.Sprintf("telegram: status %d: %s", e.Status, e.Description)
}
