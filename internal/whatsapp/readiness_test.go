package whatsapp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
)

func TestReadinessGateReleasesAllWaiters(t *testing.T) {
	t.Parallel()

	gate := NewReadinessGate(nil)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			errs <- gate.Wait(ctx)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	gate.MarkReady()
	gate.MarkReady()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if !gate.Ready() || gate.State() != StateReady {
		t.Fatalf("gate state = %s, want ready", gate.State())
	}
}

func TestReadinessGateWaitTimesOut(t *testing.T) {
	t.Parallel()

	gate := NewReadinessGate(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := gate.Wait(ctx)
	if !errors.Is(err, ErrNotReady) || !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("Wait() error = %v, want ErrNotReady", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want deadline cause", err)
	}
}

func TestReadinessGateReopensAfterDisconnect(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		states []State
	)
	gate := NewReadinessGate(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	gate.MarkReady()
	gate.MarkDisconnected(StateDisconnected)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := gate.Wait(ctx); err == nil {
		t.Fatal("Wait() after disconnect should block until the next ready")
	}

	gate.MarkReady()
	if err := gate.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() after second ready error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateReady, StateDisconnected, StateReady}
	if len(states) != len(want) {
		t.Fatalf("state changes = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("state changes = %v, want %v", states, want)
		}
	}
}

func TestReadinessGateApply(t *testing.T) {
	t.Parallel()

	gate := NewReadinessGate(nil)

	steps := []struct {
		event EventType
		want  State
	}{
		{event: EventQR, want: StateQR},
		{event: EventAuthenticated, want: StateAuthenticated},
		{event: EventReady, want: StateReady},
		{event: EventAuthenticated, want: StateReady},
		{event: EventAuthFailure, want: StateAuthFailure},
		{event: EventReady, want: StateReady},
		{event: EventDisconnected, want: StateDisconnected},
	}

	for _, step := range steps {
		if err := gate.Apply(step.event); err != nil {
			t.Fatalf("Apply(%s) error = %v", step.event, err)
		}
		if got := gate.State(); got != step.want {
			t.Fatalf("after %s state = %s, want %s", step.event, got, step.want)
		}
	}

	if err := gate.Apply(EventType("change_battery")); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Apply(unknown) error = %v, want ErrValidation", err)
	}
}

func TestParseEventType(t *testing.T) {
	t.Parallel()

	if got, err := ParseEventType(" READY "); err != nil || got != EventReady {
		t.Fatalf("ParseEventType() = %s, %v", got, err)
	}
	if _, err := ParseEventType("message"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ParseEventType(message) error = %v, want ErrValidation", err)
	}
}
