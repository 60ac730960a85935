package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/observability"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/queue"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/repository"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/whatsapp"
	"go.uber.org/zap"
)

const defaultDeliveryTimeout = 30 * time.Second

var errDeliveryPanic = errors.New("panic during delivery")

// Delivery stages, also used as the failure reason metric label.
const (
	StageRobot   = "robot"
	StageResolve = "resolve"
	StageMedia   = "media"
	StageSend    = "send"
	StageAck     = "ack"
)

type DeliveryOutcome string

const (
	OutcomeSuccess DeliveryOutcome = "success"
	OutcomeFailed  DeliveryOutcome = "failed"
	// OutcomeSkipped means nothing was sent because the client was not ready.
	// The record is pending again.
	OutcomeSkipped DeliveryOutcome = "skipped"
)

// ClientProvider looks up the WhatsApp client of a robot selector.
type ClientProvider interface {
	Get(robot int) (whatsapp.Client, error)
	All() []whatsapp.Client
}

type MediaResolver interface {
	Resolve(ctx context.Context, ref domain.MediaRef) (*whatsapp.MediaPayload, error)
}

type DeliveryRequest struct {
	To    string
	Text  string
	Media *domain.MediaRef
	Robot int
}

type DeliveryResult struct {
	// To is the recipient after phone normalization.
	To     string
	ChatID string
	Ack    *whatsapp.Ack
}

// DeliveryError tells at which stage a delivery attempt stopped.
type DeliveryError struct {
	Stage string
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is matches domain.ErrDeliveryFailed unless the client was merely unavailable.
func (e *DeliveryError) Is(target error) bool {
	return target == domain.ErrDeliveryFailed && !errors.Is(e.Err, domain.ErrUnavailable)
}

func failureReason(err error) string {
	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return deliveryErr.Stage
	}
	return "unknown"
}

// DeliveryWorker sends one message notification through the client of its
// robot and records the terminal status exactly once.
type DeliveryWorker struct {
	messages   repository.MessageRepository
	attempts   repository.AttemptRepository
	clients    ClientProvider
	media      MediaResolver
	normalizer domain.PhoneNormalizer
	publisher  queue.Publisher
	metrics    *observability.Metrics
	logger     *zap.Logger
	timeout    time.Duration
	now        func() time.Time
}

func NewDeliveryWorker(
	messages repository.MessageRepository,
	attempts repository.AttemptRepository,
	clients ClientProvider,
	media MediaResolver,
	normalizer domain.PhoneNormalizer,
	publisher queue.Publisher,
	timeout time.Duration,
	logger *zap.Logger,
) (*DeliveryWorker, error) {
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if clients == nil {
		return nil, fmt.Errorf("whatsapp clients are required")
	}
	if publisher == nil {
		publisher = queue.NopPublisher{}
	}
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryWorker{
		messages:   messages,
		attempts:   attempts,
		clients:    clients,
		media:      media,
		normalizer: normalizer,
		publisher:  publisher,
		logger:     logger,
		timeout:    timeout,
		now:        time.Now,
	}, nil
}

func (w *DeliveryWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Dispatch claims a due message and delivers it in-process.
func (w *DeliveryWorker) Dispatch(ctx context.Context, msg domain.MessageNotification) error {
	claimed, err := w.messages.Claim(ctx, msg.ID, w.now())
	if err != nil {
		return fmt.Errorf("failed to claim message: %w", err)
	}
	if !claimed {
		w.logger.Debug("message already claimed, skipping",
			observability.MessageFields(msg.ID, msg.Robot, msg.To)...,
		)
		return nil
	}

	w.Deliver(ctx, msg)
	return nil
}

// Deliver sends a claimed message and stores its terminal status. Delivery
// failures are logged, never returned.
func (w *DeliveryWorker) Deliver(ctx context.Context, msg domain.MessageNotification) DeliveryOutcome {
	outcome, _, _ := w.deliver(ctx, msg, requestFromMessage(msg))
	return outcome
}

// Attempt performs one delivery without touching the record store. A panic
// in any stage is returned as a failure of that stage.
func (w *DeliveryWorker) Attempt(ctx context.Context, req DeliveryRequest) (result *DeliveryResult, err error) {
	stage := StageRobot
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in delivery attempt",
				append(observability.MessageFields("", req.Robot, req.To),
					zap.String("stage", stage),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())),
				)...,
			)
			err = &DeliveryError{Stage: stage, Err: fmt.Errorf("%w: %v", errDeliveryPanic, r)}
		}
	}()

	client, err := w.clients.Get(req.Robot)
	if err != nil {
		return nil, &DeliveryError{Stage: StageRobot, Err: err}
	}

	w.metrics.IncWorkerInFlight(req.Robot)
	defer w.metrics.DecWorkerInFlight(req.Robot)
	start := w.now()
	defer func() {
		w.metrics.ObserveMessageSendDuration(req.Robot, w.now().Sub(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	result = &DeliveryResult{To: req.To}

	var target whatsapp.ChatTarget
	if domain.IsGroupID(req.To) {
		target = whatsapp.ChatTarget{ID: req.To}
	} else {
		stage = StageResolve
		number := w.normalizer.Normalize(req.To)
		result.To = number

		resolved, err := client.ResolveTarget(ctx, number)
		if err != nil {
			return result, &DeliveryError{Stage: StageResolve, Err: err}
		}
		if resolved == nil {
			target = whatsapp.ChatTarget{ID: domain.PersonalChatID(number)}
		} else {
			target = *resolved
		}
	}
	result.ChatID = target.ID

	var payload *whatsapp.MediaPayload
	if req.Media != nil {
		stage = StageMedia
		if w.media == nil {
			return result, &DeliveryError{Stage: StageMedia, Err: errors.New("media resolver is not configured")}
		}
		payload, err = w.media.Resolve(ctx, *req.Media)
		if err != nil {
			return result, &DeliveryError{Stage: StageMedia, Err: err}
		}
	}

	stage = StageSend
	ack, err := client.Send(ctx, target, req.Text, payload)
	result.Ack = ack
	if err != nil {
		return result, &DeliveryError{Stage: StageSend, Err: err}
	}
	if ack.Failed() {
		reason := "gateway returned no acknowledgement"
		if ack != nil {
			reason = fmt.Sprintf("gateway acknowledged with %s", ack.Code)
		}
		return result, &DeliveryError{Stage: StageAck, Err: errors.New(reason)}
	}

	return result, nil
}

func (w *DeliveryWorker) deliver(
	ctx context.Context,
	msg domain.MessageNotification,
	req DeliveryRequest,
) (DeliveryOutcome, *DeliveryResult, error) {
	logger := observability.WithContextLogger(w.logger, ctx).
		With(observability.MessageFields(msg.ID, req.Robot, req.To)...)

	result, err := w.Attempt(ctx, req)

	// Store writes must land even when the caller is gone.
	storeCtx := context.WithoutCancel(ctx)

	if errors.Is(err, domain.ErrUnavailable) {
		logger.Warn("whatsapp client unavailable, releasing message", zap.Error(err))
		if releaseErr := w.messages.ReleaseClaim(storeCtx, msg.ID); releaseErr != nil && !errors.Is(releaseErr, domain.ErrConflict) {
			logger.Error("failed to release message claim", zap.Error(releaseErr))
		}
		return OutcomeSkipped, result, err
	}

	status, outcome := domain.StatusSuccess, OutcomeSuccess
	if err != nil {
		status, outcome = domain.StatusFailed, OutcomeFailed
	}

	if markErr := w.messages.MarkStatus(storeCtx, msg.ID, status); markErr != nil {
		logger.Error("failed to mark message status",
			zap.String("status", status.String()),
			zap.Error(markErr),
		)
	}

	w.report(storeCtx, msg.ID, msg.Method, req, result, err)
	return outcome, result, err
}

// report logs and counts a finished attempt, stores its audit row and
// publishes the outcome event.
func (w *DeliveryWorker) report(
	ctx context.Context,
	messageID string,
	method domain.Method,
	req DeliveryRequest,
	result *DeliveryResult,
	sendErr error,
) {
	logger := observability.WithContextLogger(w.logger, ctx).
		With(observability.MessageFields(messageID, req.Robot, req.To)...)

	status := domain.StatusSuccess
	if sendErr != nil {
		status = domain.StatusFailed
		reason := failureReason(sendErr)
		logger.Error("whatsapp delivery failed", zap.String("stage", reason), zap.Error(sendErr))
		w.metrics.IncMessageFailed(req.Robot, reason)
	} else {
		logger.Info("whatsapp message delivered", zap.String("chatId", result.ChatID))
		w.metrics.IncMessageSent(req.Robot)
	}

	w.recordAttempt(ctx, messageID, req.Robot, result, sendErr)
	w.publish(ctx, w.deliveryEvent(messageID, method, req, status, result, sendErr))
}

func (w *DeliveryWorker) recordAttempt(
	ctx context.Context,
	messageID string,
	robot int,
	result *DeliveryResult,
	sendErr error,
) {
	if w.attempts == nil || result == nil || messageID == "" {
		return
	}

	attempt := &domain.MessageAttempt{
		MessageID: messageID,
		Robot:     robot,
		ChatID:    result.ChatID,
		CreatedAt: w.now().UTC(),
	}
	if result.Ack != nil {
		code := int(result.Ack.Code)
		attempt.AckCode = &code
		if id := strings.TrimSpace(result.Ack.MessageID); id != "" {
			attempt.GatewayMessageID = &id
		}
	}
	if sendErr != nil {
		value := sendErr.Error()
		attempt.Error = &value
	}

	if err := w.attempts.Create(ctx, attempt); err != nil {
		w.logger.Error("failed to record delivery attempt",
			append(observability.MessageFields(messageID, robot, result.To), zap.Error(err))...,
		)
	}
}

func (w *DeliveryWorker) deliveryEvent(
	messageID string,
	method domain.Method,
	req DeliveryRequest,
	status domain.Status,
	result *DeliveryResult,
	sendErr error,
) queue.DeliveryEvent {
	event := queue.DeliveryEvent{
		MessageID:  messageID,
		Robot:      req.Robot,
		To:         req.To,
		Method:     method,
		Status:     status,
		OccurredAt: w.now().UTC(),
	}
	if result != nil {
		if result.To != "" {
			event.To = result.To
		}
		if result.Ack != nil {
			code := int(result.Ack.Code)
			event.AckCode = &code
		}
	}
	if sendErr != nil {
		event.Error = sendErr.Error()
	}
	return event
}

func (w *DeliveryWorker) publish(ctx context.Context, event queue.DeliveryEvent) {
	if err := w.publisher.Publish(ctx, event); err != nil {
		w.logger.Warn("failed to publish delivery event",
			append(observability.MessageFields(event.MessageID, event.Robot, event.To), zap.Error(err))...,
		)
	}
}

func requestFromMessage(msg domain.MessageNotification) DeliveryRequest {
	return DeliveryRequest{
		To:    msg.To,
		Text:  msg.Text(),
		Media: msg.Media,
		Robot: robotOrDefault(msg.Robot),
	}
}
