package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid lowercase", input: "success", want: StatusSuccess},
		{name: "valid uppercase with spaces", input: " PENDING ", want: StatusPending},
		{name: "claim marker", input: "in_progress", want: StatusInProgress},
		{name: "invalid", input: "sent", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()

	if StatusPending.IsTerminal() || StatusInProgress.IsTerminal() {
		t.Fatal("pending and in_progress must not be terminal")
	}
	if !StatusSuccess.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Fatal("success and failed must be terminal")
	}
}

func TestMessageNotificationIsDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		status      Status
		scheduledAt time.Time
		want        bool
	}{
		{name: "pending in the past", status: StatusPending, scheduledAt: now.Add(-time.Minute), want: true},
		{name: "pending exactly now", status: StatusPending, scheduledAt: now, want: true},
		{name: "pending in the future", status: StatusPending, scheduledAt: now.Add(time.Second), want: false},
		{name: "failed in the past", status: StatusFailed, scheduledAt: now.Add(-time.Minute), want: false},
		{name: "claimed in the past", status: StatusInProgress, scheduledAt: now.Add(-time.Minute), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := MessageNotification{Status: tt.status, ScheduledAt: tt.scheduledAt}
			if got := m.IsDue(now); got != tt.want {
				t.Fatalf("IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessageNotificationValidate(t *testing.T) {
	t.Parallel()

	text := "hello"
	base := MessageNotification{
		To:      "6281234567890",
		Message: &text,
		Robot:   DefaultRobot,
		Status:  StatusPending,
	}

	tests := []struct {
		name    string
		mutate  func(*MessageNotification)
		wantErr bool
	}{
		{
			name:   "valid message",
			mutate: func(m *MessageNotification) {},
		},
		{
			name: "missing to",
			mutate: func(m *MessageNotification) {
				m.To = "  "
			},
			wantErr: true,
		},
		{
			name: "missing message without media",
			mutate: func(m *MessageNotification) {
				m.Message = nil
			},
			wantErr: true,
		},
		{
			name: "media only",
			mutate: func(m *MessageNotification) {
				m.Message = nil
				ref := MediaRefBySource("tickets/photo.jpg")
				m.Media = &ref
			},
		},
		{
			name: "invalid media ref",
			mutate: func(m *MessageNotification) {
				m.Media = &MediaRef{Kind: "path", Value: "x"}
			},
			wantErr: true,
		},
		{
			name: "invalid robot",
			mutate: func(m *MessageNotification) {
				m.Robot = 0
			},
			wantErr: true,
		},
		{
			name: "invalid status",
			mutate: func(m *MessageNotification) {
				m.Status = Status("sent")
			},
			wantErr: true,
		},
		{
			name: "content over limit",
			mutate: func(m *MessageNotification) {
				long := strings.Repeat("a", MaxMessageContent+1)
				m.Message = &long
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base
			tt.mutate(&current)

			err := current.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestParseMediaRef(t *testing.T) {
	t.Parallel()

	if got := ParseMediaRef("   "); got != nil {
		t.Fatalf("ParseMediaRef(blank) = %+v, want nil", got)
	}

	byID := ParseMediaRef("3fca5840-0fee-11ea-b9dd-05b33a5e4201")
	if byID == nil || byID.Kind != MediaByID {
		t.Fatalf("ParseMediaRef(uuid) = %+v, want ByID", byID)
	}

	bySource := ParseMediaRef(" https://cdn.example.com/a.png ")
	if bySource == nil || bySource.Kind != MediaBySource {
		t.Fatalf("ParseMediaRef(url) = %+v, want BySource", bySource)
	}
	if bySource.Value != "https://cdn.example.com/a.png" {
		t.Fatalf("ParseMediaRef(url).Value = %q, want trimmed url", bySource.Value)
	}
}
