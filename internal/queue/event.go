package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
)

// DeliveryEvent is the broker payload describing a delivery outcome.
type DeliveryEvent struct {
	MessageID  string        `json:"messageId,omitempty"`
	Robot      int           `json:"robot"`
	To         string        `json:"to"`
	Method     domain.Method `json:"method"`
	Status     domain.Status `json:"status"`
	AckCode    *int          `json:"ackCode,omitempty"`
	Error      string        `json:"error,omitempty"`
	OccurredAt time.Time     `json:"occurredAt"`
}

func (e DeliveryEvent) Validate() error {
	if strings.TrimSpace(e.To) == "" {
		return fmt.Errorf("to is required")
	}
	if e.Robot < 1 {
		return fmt.Errorf("invalid robot %d", e.Robot)
	}
	if !e.Status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", e.Status)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurredAt is required")
	}
	return nil
}
