package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/observability"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/repository"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/validation"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/whatsapp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultReadyTimeout      = 30 * time.Second
	defaultDirectConcurrency = 4
	maxDirectRecipients      = 1000
)

type WhatsAppServiceConfig struct {
	ReadyTimeout      time.Duration
	DirectConcurrency int
}

// WhatsAppService backs the synchronous send, enqueue, read and robot routes.
type WhatsAppService struct {
	messages     repository.MessageRepository
	clients      ClientProvider
	worker       *DeliveryWorker
	readyTimeout time.Duration
	concurrency  int
	logger       *zap.Logger
	now          func() time.Time
}

type DirectSendInput struct {
	To      []string
	Message string
	Media   *domain.MediaRef
	Robot   int
}

// DirectSendEntry is the outcome for one recipient of a direct send.
type DirectSendEntry struct {
	MessageID string
	To        string
	ChatID    string
	Ack       *whatsapp.Ack
	Error     string
}

type DirectSendResult struct {
	Success []DirectSendEntry
	Failed  []DirectSendEntry
}

type SendExistingInput struct {
	MobilePhone string
	Text        string
	Media       *domain.MediaRef
	Robot       int
}

type EnqueueInput struct {
	To          string
	Message     *string
	Media       *domain.MediaRef
	Robot       int
	ScheduledAt *time.Time
}

type RobotStatus struct {
	Robot int
	State whatsapp.State
	Ready bool
}

func NewWhatsAppService(
	cfg WhatsAppServiceConfig,
	messages repository.MessageRepository,
	clients ClientProvider,
	worker *DeliveryWorker,
	logger *zap.Logger,
) (*WhatsAppService, error) {
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if clients == nil {
		return nil, fmt.Errorf("whatsapp clients are required")
	}
	if worker == nil {
		return nil, fmt.Errorf("delivery worker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	readyTimeout := cfg.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = defaultReadyTimeout
	}
	concurrency := cfg.DirectConcurrency
	if concurrency <= 0 {
		concurrency = defaultDirectConcurrency
	}

	return &WhatsAppService{
		messages:     messages,
		clients:      clients,
		worker:       worker,
		readyTimeout: readyTimeout,
		concurrency:  concurrency,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// SendDirect delivers a message to every recipient right away and stores
// each attempt as a direct record.
func (s *WhatsAppService) SendDirect(ctx context.Context, in DirectSendInput) (*DirectSendResult, error) {
	recipients := make([]string, 0, len(in.To))
	for _, to := range in.To {
		if trimmed := strings.TrimSpace(to); trimmed != "" {
			recipients = append(recipients, trimmed)
		}
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: to is required", domain.ErrValidation)
	}
	if len(recipients) > maxDirectRecipients {
		return nil, fmt.Errorf("%w: at most %d recipients per request", domain.ErrValidation, maxDirectRecipients)
	}
	if strings.TrimSpace(in.Message) == "" && in.Media == nil {
		return nil, fmt.Errorf("%w: message is required when media is empty", domain.ErrValidation)
	}

	robot := robotOrDefault(in.Robot)
	client, err := s.clients.Get(robot)
	if err != nil {
		return nil, err
	}
	if err := s.awaitReady(ctx, client); err != nil {
		return nil, err
	}

	type outcome struct {
		req    DeliveryRequest
		result *DeliveryResult
		err    error
	}
	outcomes := make([]outcome, len(recipients))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, to := range recipients {
		req := DeliveryRequest{To: to, Text: in.Message, Media: in.Media, Robot: robot}
		g.Go(func() error {
			result, err := s.worker.Attempt(groupCtx, req)
			outcomes[i] = outcome{req: req, result: result, err: err}
			return nil
		})
	}
	_ = g.Wait()

	now := s.now().UTC()
	records := make([]*domain.MessageNotification, len(outcomes))
	for i, o := range outcomes {
		status := domain.StatusSuccess
		if o.err != nil {
			status = domain.StatusFailed
		}
		to := o.req.To
		if o.result != nil && o.result.To != "" {
			to = o.result.To
		}

		record := &domain.MessageNotification{
			To:          to,
			Media:       in.Media,
			Robot:       robot,
			Method:      domain.MethodDirect,
			Status:      status,
			ScheduledAt: now,
		}
		if in.Message != "" {
			text := in.Message
			record.Message = &text
		}
		records[i] = record
	}

	storeCtx := context.WithoutCancel(ctx)
	stored := true
	if err := s.messages.CreateBatch(storeCtx, records); err != nil {
		stored = false
		observability.WithContextLogger(s.logger, ctx).Error("failed to store direct send records",
			zap.Int("count", len(records)),
			zap.Error(err),
		)
	}

	result := &DirectSendResult{Success: []DirectSendEntry{}, Failed: []DirectSendEntry{}}
	for i, o := range outcomes {
		messageID := ""
		if stored {
			messageID = records[i].ID
		}
		s.worker.report(storeCtx, messageID, domain.MethodDirect, o.req, o.result, o.err)

		entry := DirectSendEntry{MessageID: messageID, To: records[i].To}
		if o.result != nil {
			entry.ChatID = o.result.ChatID
			entry.Ack = o.result.Ack
		}
		if o.err != nil {
			entry.Error = o.err.Error()
			result.Failed = append(result.Failed, entry)
			continue
		}
		result.Success = append(result.Success, entry)
	}

	return result, nil
}

// SendExisting performs one delivery attempt for a stored record. The record
// is claimed first, so a record already delivered or in flight is a conflict.
func (s *WhatsAppService) SendExisting(ctx context.Context, id string, in SendExistingInput) (*DeliveryResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: message_id is required", domain.ErrValidation)
	}
	to := strings.TrimSpace(in.MobilePhone)
	if to == "" {
		return nil, validation.NewFieldError("mobile_phone", "mobile_phone is required", in.MobilePhone)
	}
	if strings.TrimSpace(in.Text) == "" && in.Media == nil {
		return nil, validation.NewFieldError("text", "text is required when media is empty", in.Text)
	}

	msg, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: message %s is already %s", domain.ErrConflict, id, msg.Status)
	}

	// The caller's recipient and text win; media and robot fall back to the record.
	req := requestFromMessage(*msg)
	req.To = to
	req.Text = in.Text
	if in.Media != nil {
		req.Media = in.Media
	}
	if in.Robot > 0 {
		req.Robot = in.Robot
	}

	client, err := s.clients.Get(req.Robot)
	if err != nil {
		return nil, err
	}
	if err := s.awaitReady(ctx, client); err != nil {
		return nil, err
	}

	claimed, err := s.messages.Claim(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("%w: message %s is already being delivered", domain.ErrConflict, id)
	}

	_, result, err := s.worker.deliver(ctx, *msg, req)
	return result, err
}

// Enqueue stores a pending message for the poller.
func (s *WhatsAppService) Enqueue(ctx context.Context, in EnqueueInput) (*domain.MessageNotification, error) {
	msg := &domain.MessageNotification{
		To:      strings.TrimSpace(in.To),
		Message: in.Message,
		Media:   in.Media,
		Robot:   robotOrDefault(in.Robot),
		Method:  domain.MethodQueued,
		Status:  domain.StatusPending,
	}
	if in.ScheduledAt != nil {
		msg.ScheduledAt = in.ScheduledAt.UTC()
	} else {
		msg.ScheduledAt = s.now().UTC()
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.clients.Get(msg.Robot); err != nil {
		return nil, err
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	observability.WithContextLogger(s.logger, ctx).Info("whatsapp message enqueued",
		append(observability.MessageFields(msg.ID, msg.Robot, msg.To), zap.Time("scheduledAt", msg.ScheduledAt))...,
	)
	return msg, nil
}

func (s *WhatsAppService) Get(ctx context.Context, id string) (*domain.MessageNotification, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	return s.messages.GetByID(ctx, id)
}

func (s *WhatsAppService) List(ctx context.Context, params repository.ListParams) ([]domain.MessageNotification, int64, error) {
	return s.messages.List(ctx, params)
}

func (s *WhatsAppService) Robots() []RobotStatus {
	clients := s.clients.All()
	statuses := make([]RobotStatus, 0, len(clients))
	for _, client := range clients {
		statuses = append(statuses, RobotStatus{
			Robot: client.Robot(),
			State: client.State(),
			Ready: client.Ready(),
		})
	}
	return statuses
}

func (s *WhatsAppService) Logout(ctx context.Context, robot int) error {
	client, err := s.clients.Get(robot)
	if err != nil {
		return err
	}
	if err := client.Logout(ctx); err != nil {
		if errors.Is(err, domain.ErrUnavailable) {
			return err
		}
		return fmt.Errorf("%w: logout robot %d: %w", domain.ErrUnavailable, robot, err)
	}

	s.logger.Info("whatsapp robot logged out", zap.Int("robot", robot))
	return nil
}

// HandleRobotEvent applies a gateway lifecycle event to the robot's readiness gate.
func (s *WhatsAppService) HandleRobotEvent(robot int, rawEvent string) (RobotStatus, error) {
	event, err := whatsapp.ParseEventType(rawEvent)
	if err != nil {
		return RobotStatus{}, err
	}
	client, err := s.clients.Get(robot)
	if err != nil {
		return RobotStatus{}, err
	}
	if err := client.HandleEvent(event); err != nil {
		return RobotStatus{}, err
	}

	return RobotStatus{Robot: robot, State: client.State(), Ready: client.Ready()}, nil
}

func (s *WhatsAppService) awaitReady(ctx context.Context, client whatsapp.Client) error {
	if client.Ready() {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.readyTimeout)
	defer cancel()

	if err := client.AwaitReady(waitCtx); err != nil {
		return fmt.Errorf("robot %d: %w", client.Robot(), err)
	}
	return nil
}

func robotOrDefault(robot int) int {
	if robot < 1 {
		return domain.DefaultRobot
	}
	return robot
}
