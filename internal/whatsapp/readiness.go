package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
)

// State is the connection state of a robot session.
type State string

const (
	StateStarting      State = "starting"
	StateQR            State = "qr"
	StateAuthenticated State = "authenticated"
	StateReady         State = "ready"
	StateAuthFailure   State = "auth_failure"
	StateDisconnected  State = "disconnected"
)

func (s State) String() string { return string(s) }

// EventType is a lifecycle event emitted by the gateway for a session.
type EventType string

const (
	EventQR            EventType = "qr"
	EventAuthenticated EventType = "authenticated"
	EventAuthFailure   EventType = "auth_failure"
	EventReady         EventType = "ready"
	EventDisconnected  EventType = "disconnected"
)

func ParseEventType(raw string) (EventType, error) {
	event := EventType(strings.ToLower(strings.TrimSpace(raw)))
	switch event {
	case EventQR, EventAuthenticated, EventAuthFailure, EventReady, EventDisconnected:
		return event, nil
	}
	return "", fmt.Errorf("%w: unknown lifecycle event %q", domain.ErrValidation, raw)
}

// ReadinessGate releases waiters once per ready period. The ready channel is
// closed on MarkReady and replaced on the next disconnect.
type ReadinessGate struct {
	mu       sync.Mutex
	state    State
	ready    chan struct{}
	onChange func(State)
}

func NewReadinessGate(onChange func(State)) *ReadinessGate {
	return &ReadinessGate{
		state:    StateStarting,
		ready:    make(chan struct{}),
		onChange: onChange,
	}
}

func (g *ReadinessGate) MarkReady() {
	g.mu.Lock()
	if g.state == StateReady {
		g.mu.Unlock()
		return
	}
	g.state = StateReady
	close(g.ready)
	g.mu.Unlock()

	g.notify(StateReady)
}

// MarkDisconnected leaves the ready period, if any, and records state.
func (g *ReadinessGate) MarkDisconnected(state State) {
	if state == StateReady {
		return
	}

	g.mu.Lock()
	if g.state == state {
		g.mu.Unlock()
		return
	}
	if g.state == StateReady {
		g.ready = make(chan struct{})
	}
	g.state = state
	g.mu.Unlock()

	g.notify(state)
}

// Apply moves the gate according to a gateway lifecycle event.
func (g *ReadinessGate) Apply(event EventType) error {
	switch event {
	case EventReady:
		g.MarkReady()
	case EventDisconnected:
		g.MarkDisconnected(StateDisconnected)
	case EventAuthFailure:
		g.MarkDisconnected(StateAuthFailure)
	case EventQR:
		g.MarkDisconnected(StateQR)
	case EventAuthenticated:
		// authenticated precedes ready; it never closes the gate on its own.
		if !g.Ready() {
			g.MarkDisconnected(StateAuthenticated)
		}
	default:
		return fmt.Errorf("%w: unknown lifecycle event %q", domain.ErrValidation, event)
	}
	return nil
}

func (g *ReadinessGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ready := g.ready
	g.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNotReady, ctx.Err())
	}
}

func (g *ReadinessGate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == StateReady
}

func (g *ReadinessGate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *ReadinessGate) notify(state State) {
	if g.onChange != nil {
		g.onChange(state)
	}
}
