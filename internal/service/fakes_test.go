package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/infra/postgresql/migrations"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/infra/sqlite"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/queue"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/repository"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/whatsapp"
)

type fakeMessageRepo struct {
	createFn          func(ctx context.Context, m *domain.MessageNotification) error
	createBatchFn     func(ctx context.Context, messages []*domain.MessageNotification) error
	getByIDFn         func(ctx context.Context, id string) (*domain.MessageNotification, error)
	findDueFn         func(ctx context.Context, now time.Time, limit int) ([]domain.MessageNotification, error)
	claimFn           func(ctx context.Context, id string, now time.Time) (bool, error)
	releaseClaimFn    func(ctx context.Context, id string) error
	markStatusFn      func(ctx context.Context, id string, status domain.Status) error
	failStaleClaimsFn func(ctx context.Context, olderThan time.Time) (int64, error)
	listFn            func(ctx context.Context, params repository.ListParams) ([]domain.MessageNotification, int64, error)

	mu       sync.Mutex
	marked   map[string][]domain.Status
	released []string
}

func (f *fakeMessageRepo) Create(ctx context.Context, m *domain.MessageNotification) error {
	if f.createFn != nil {
		return f.createFn(ctx, m)
	}
	return nil
}

func (f *fakeMessageRepo) CreateBatch(ctx context.Context, messages []*domain.MessageNotification) error {
	if f.createBatchFn != nil {
		return f.createBatchFn(ctx, messages)
	}
	return nil
}

func (f *fakeMessageRepo) GetByID(ctx context.Context, id string) (*domain.MessageNotification, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeMessageRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]domain.MessageNotification, error) {
	if f.findDueFn != nil {
		return f.findDueFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeMessageRepo) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	if f.claimFn != nil {
		return f.claimFn(ctx, id, now)
	}
	return true, nil
}

func (f *fakeMessageRepo) ReleaseClaim(ctx context.Context, id string) error {
	f.mu.Lock()
	f.released = append(f.released, id)
	f.mu.Unlock()

	if f.releaseClaimFn != nil {
		return f.releaseClaimFn(ctx, id)
	}
	return nil
}

func (f *fakeMessageRepo) MarkStatus(ctx context.Context, id string, status domain.Status) error {
	f.mu.Lock()
	if f.marked == nil {
		f.marked = make(map[string][]domain.Status)
	}
	f.marked[id] = append(f.marked[id], status)
	f.mu.Unlock()

	if f.markStatusFn != nil {
		return f.markStatusFn(ctx, id, status)
	}
	return nil
}

func (f *fakeMessageRepo) FailStaleClaims(ctx context.Context, olderThan time.Time) (int64, error) {
	if f.failStaleClaimsFn != nil {
		return f.failStaleClaimsFn(ctx, olderThan)
	}
	return 0, nil
}

func (f *fakeMessageRepo) List(ctx context.Context, params repository.ListParams) ([]domain.MessageNotification, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakeMessageRepo) markedStatuses(id string) []domain.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Status(nil), f.marked[id]...)
}

func (f *fakeMessageRepo) releasedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []domain.MessageAttempt
	createFn func(ctx context.Context, a *domain.MessageAttempt) error
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.MessageAttempt) error {
	f.mu.Lock()
	f.attempts = append(f.attempts, *a)
	f.mu.Unlock()

	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeAttemptRepo) ListByMessageID(ctx context.Context, messageID string) ([]domain.MessageAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.MessageAttempt
	for _, a := range f.attempts {
		if a.MessageID == messageID {
			out = append(out, a)
		}
	}
	return out, nil
}

type sentMessage struct {
	Target whatsapp.ChatTarget
	Text   string
	Media  *whatsapp.MediaPayload
}

// fakeClient is an in-memory robot session. Resolve and send fail with
// ErrNotReady while the gate is closed, like the gateway client.
type fakeClient struct {
	robot     int
	gate      *whatsapp.ReadinessGate
	resolveFn func(ctx context.Context, number string) (*whatsapp.ChatTarget, error)
	sendFn    func(ctx context.Context, target whatsapp.ChatTarget, text string, media *whatsapp.MediaPayload) (*whatsapp.Ack, error)
	logoutFn  func(ctx context.Context) error

	mu       sync.Mutex
	resolved []string
	sent     []sentMessage
}

func newFakeClient(robot int, ready bool) *fakeClient {
	c := &fakeClient{robot: robot, gate: whatsapp.NewReadinessGate(nil)}
	if ready {
		c.gate.MarkReady()
	}
	return c
}

func (c *fakeClient) Robot() int                                 { return c.robot }
func (c *fakeClient) State() whatsapp.State                      { return c.gate.State() }
func (c *fakeClient) Ready() bool                                { return c.gate.Ready() }
func (c *fakeClient) AwaitReady(ctx context.Context) error       { return c.gate.Wait(ctx) }
func (c *fakeClient) HandleEvent(event whatsapp.EventType) error { return c.gate.Apply(event) }

func (c *fakeClient) ResolveTarget(ctx context.Context, number string) (*whatsapp.ChatTarget, error) {
	if !c.gate.Ready() {
		return nil, whatsapp.ErrNotReady
	}
	c.mu.Lock()
	c.resolved = append(c.resolved, number)
	c.mu.Unlock()

	if c.resolveFn != nil {
		return c.resolveFn(ctx, number)
	}
	return &whatsapp.ChatTarget{ID: domain.PersonalChatID(number)}, nil
}

func (c *fakeClient) Send(ctx context.Context, target whatsapp.ChatTarget, text string, media *whatsapp.MediaPayload) (*whatsapp.Ack, error) {
	if !c.gate.Ready() {
		return nil, whatsapp.ErrNotReady
	}
	c.mu.Lock()
	c.sent = append(c.sent, sentMessage{Target: target, Text: text, Media: media})
	c.mu.Unlock()

	if c.sendFn != nil {
		return c.sendFn(ctx, target, text, media)
	}
	return &whatsapp.Ack{MessageID: "true_" + target.ID + "_3EB0", Code: whatsapp.AckServer}, nil
}

func (c *fakeClient) Logout(ctx context.Context) error {
	if c.logoutFn != nil {
		return c.logoutFn(ctx)
	}
	c.gate.MarkDisconnected(whatsapp.StateDisconnected)
	return nil
}

func (c *fakeClient) sentMessages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

func (c *fakeClient) resolvedNumbers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.resolved...)
}

type fakeMediaResolver struct {
	resolveFn func(ctx context.Context, ref domain.MediaRef) (*whatsapp.MediaPayload, error)
}

func (f *fakeMediaResolver) Resolve(ctx context.Context, ref domain.MediaRef) (*whatsapp.MediaPayload, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, ref)
	}
	return &whatsapp.MediaPayload{MimeType: "image/jpeg", FileName: "photo.jpg", Data: "anBlZw=="}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []queue.DeliveryEvent
	err    error
}

func (f *fakePublisher) Publish(ctx context.Context, event queue.DeliveryEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) published() []queue.DeliveryEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.DeliveryEvent(nil), f.events...)
}

func newRegistry(t *testing.T, clients ...whatsapp.Client) *whatsapp.Registry {
	t.Helper()

	registry, err := whatsapp.NewRegistry(nil, clients...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return registry
}

func newTestWorker(t *testing.T, messages repository.MessageRepository, attempts repository.AttemptRepository, registry ClientProvider, publisher queue.Publisher) *DeliveryWorker {
	t.Helper()

	worker, err := NewDeliveryWorker(
		messages,
		attempts,
		registry,
		&fakeMediaResolver{},
		domain.NewPhoneNormalizer(domain.DefaultCountryCode),
		publisher,
		time.Second,
		nil,
	)
	if err != nil {
		t.Fatalf("NewDeliveryWorker() error = %v", err)
	}
	return worker
}

// newStoreRepo opens a migrated in-memory database.
func newStoreRepo(t *testing.T) *repository.GormMessageRepo {
	t.Helper()

	db, err := sqlite.NewSQLite("file::memory:")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := migrations.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return repository.NewGormMessageRepo(db)
}

func textPtr(s string) *string {
	return &s
}
