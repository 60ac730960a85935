package whatsapp

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
)

// ErrNotReady is returned while a robot session is not connected.
var ErrNotReady = fmt.Errorf("%w: whatsapp client is not ready", domain.ErrUnavailable)

// Client is the messaging capability of a single robot session.
type Client interface {
	Robot() int
	State() State
	Ready() bool
	// AwaitReady blocks until the session is ready or ctx ends.
	AwaitReady(ctx context.Context) error
	// ResolveTarget returns the registered chat of number, or nil when the
	// number is not on WhatsApp.
	ResolveTarget(ctx context.Context, number string) (*ChatTarget, error)
	Send(ctx context.Context, target ChatTarget, text string, media *MediaPayload) (*Ack, error)
	Logout(ctx context.Context) error
	HandleEvent(event EventType) error
}

// ChatTarget is a resolved WhatsApp chat id such as 6281234567890@c.us.
type ChatTarget struct {
	ID string
}

func (t ChatTarget) IsGroup() bool {
	return strings.HasSuffix(t.ID, domain.GroupSuffix)
}

// MediaPayload is an attachment encoded for the gateway.
type MediaPayload struct {
	MimeType string `json:"mimetype"`
	FileName string `json:"filename,omitempty"`
	Data     string `json:"data"`
}

// AckCode mirrors the acknowledgement levels reported by WhatsApp.
type AckCode int

const (
	AckError   AckCode = -1
	AckPending AckCode = 0
	AckServer  AckCode = 1
	AckDevice  AckCode = 2
	AckRead    AckCode = 3
	AckPlayed  AckCode = 4
)

func (c AckCode) String() string {
	switch c {
	case AckError:
		return "ACK_ERROR"
	case AckPending:
		return "ACK_PENDING"
	case AckServer:
		return "ACK_SERVER"
	case AckDevice:
		return "ACK_DEVICE"
	case AckRead:
		return "ACK_READ"
	case AckPlayed:
		return "ACK_PLAYED"
	}
	return fmt.Sprintf("ACK_%d", int(c))
}

// Ack is the gateway response to a send.
type Ack struct {
	MessageID string  `json:"id"`
	Code      AckCode `json:"ack"`
}

// Failed reports an ACK_ERROR. The gateway answers such sends without an
// error, so callers must check it explicitly.
func (a *Ack) Failed() bool {
	return a == nil || a.Code == AckError
}
