package whatsapp

import (
	"context"
	"errors"
	"testing"

	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
)

type stubClient struct {
	robot int
	gate  *ReadinessGate
}

func newStubClient(robot int) *stubClient {
	return &stubClient{robot: robot, gate: NewReadinessGate(nil)}
}

func (s *stubClient) Robot() int                           { return s.robot }
func (s *stubClient) State() State                         { return s.gate.State() }
func (s *stubClient) Ready() bool                          { return s.gate.Ready() }
func (s *stubClient) AwaitReady(ctx context.Context) error { return s.gate.Wait(ctx) }
func (s *stubClient) HandleEvent(event EventType) error    { return s.gate.Apply(event) }
func (s *stubClient) Logout(context.Context) error         { return nil }

func (s *stubClient) ResolveTarget(context.Context, string) (*ChatTarget, error) {
	return nil, nil
}

func (s *stubClient) Send(context.Context, ChatTarget, string, *MediaPayload) (*Ack, error) {
	return &Ack{Code: AckServer}, nil
}

func TestRegistryGet(t *testing.T) {
	t.Parallel()

	registry, err := NewRegistry(nil, newStubClient(2), newStubClient(1))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	client, err := registry.Get(2)
	if err != nil {
		t.Fatalf("Get(2) error = %v", err)
	}
	if client.Robot() != 2 {
		t.Fatalf("Get(2).Robot() = %d", client.Robot())
	}

	if _, err := registry.Get(3); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Get(3) error = %v, want ErrValidation", err)
	}

	all := registry.All()
	if len(all) != 2 || all[0].Robot() != 1 || all[1].Robot() != 2 {
		t.Fatalf("All() order = %v", all)
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	if _, err := NewRegistry(nil, newStubClient(1), newStubClient(1)); err == nil {
		t.Fatal("NewRegistry() expected error for duplicate robot")
	}
	if _, err := NewRegistry(nil); err == nil {
		t.Fatal("NewRegistry() expected error without clients")
	}
}
