package domain

import "time"

// MessageAttempt records a single delivery attempt that reached the messaging gateway.
type MessageAttempt struct {
	ID               string
	MessageID        string
	Robot            int
	ChatID           string
	AckCode          *int
	GatewayMessageID *string
	Error            *string
	CreatedAt        time.Time
}
