package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a message notification.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Method records how a message notification entered the table.
type Method string

const (
	MethodQueued Method = "queued"
	MethodDirect Method = "direct"
)

func (m Method) String() string { return string(m) }

const (
	DefaultRobot      = 1
	MaxMessageContent = 65536
)

// MessageNotification is a WhatsApp message queued for, or recorded after, delivery.
type MessageNotification struct {
	ID          string
	To          string
	Message     *string
	Media       *MediaRef
	Robot       int
	Method      Method
	Status      Status
	ScheduledAt time.Time
	ClaimedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Text returns the message body or an empty string for media-only messages.
func (m *MessageNotification) Text() string {
	if m == nil || m.Message == nil {
		return ""
	}
	return *m.Message
}

// IsDue reports whether the message is pending and its schedule has passed.
func (m *MessageNotification) IsDue(now time.Time) bool {
	return m.Status == StatusPending && !m.ScheduledAt.After(now)
}

func (m *MessageNotification) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: to is required", ErrValidation)
	}
	if strings.TrimSpace(m.Text()) == "" && m.Media == nil {
		return fmt.Errorf("%w: message is required when media is absent", ErrValidation)
	}
	if m.Robot < 1 {
		return fmt.Errorf("%w: invalid robot %d", ErrValidation, m.Robot)
	}
	if !m.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, m.Status)
	}
	if m.Media != nil {
		if err := m.Media.Validate(); err != nil {
			return err
		}
	}
	if n := len([]rune(m.Text())); n > MaxMessageContent {
		return fmt.Errorf("%w: message exceeds %d characters (got %d)", ErrValidation, MaxMessageContent, n)
	}
	return nil
}
