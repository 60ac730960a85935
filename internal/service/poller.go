package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/observability"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/repository"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollSchedule    = "* * * * *"
	defaultPollBatchLimit  = 100
	defaultPollConcurrency = 8
	defaultStaleClaimAfter = 10 * time.Minute
)

// Dispatcher hands a due message over for delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg domain.MessageNotification) error
}

type PollerConfig struct {
	Schedule        string
	Location        *time.Location
	BatchLimit      int
	Concurrency     int
	StaleClaimAfter time.Duration
}

// TickResult summarizes one poller run.
type TickResult struct {
	Skipped     bool
	StaleFailed int64
	Due         int
	Dispatched  int
	NotReady    int
	Errors      int
}

// Poller periodically dispatches due message notifications. Ticks never overlap.
type Poller struct {
	messages   repository.MessageRepository
	clients    ClientProvider
	dispatcher Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger

	schedule    string
	location    *time.Location
	limit       int
	concurrency int
	staleAfter  time.Duration
	now         func() time.Time

	running atomic.Bool
	mu      sync.Mutex
	cron    *cron.Cron
}

func NewPoller(
	cfg PollerConfig,
	messages repository.MessageRepository,
	clients ClientProvider,
	dispatcher Dispatcher,
	logger *zap.Logger,
) (*Poller, error) {
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if clients == nil {
		return nil, fmt.Errorf("whatsapp clients are required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	schedule := cfg.Schedule
	if schedule == "" {
		schedule = defaultPollSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid poll schedule %q: %w", schedule, err)
	}
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	limit := cfg.BatchLimit
	if limit <= 0 {
		limit = defaultPollBatchLimit
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultPollConcurrency
	}
	staleAfter := cfg.StaleClaimAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleClaimAfter
	}

	return &Poller{
		messages:    messages,
		clients:     clients,
		dispatcher:  dispatcher,
		logger:      logger,
		schedule:    schedule,
		location:    location,
		limit:       limit,
		concurrency: concurrency,
		staleAfter:  staleAfter,
		now:         time.Now,
	}, nil
}

func (p *Poller) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Start registers the tick on the cron schedule. Ticks run with ctx until Stop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil {
		return fmt.Errorf("poller already started")
	}

	cronLog := cronLogger{logger: p.logger.Sugar()}
	c := cron.New(
		cron.WithLocation(p.location),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := c.AddFunc(p.schedule, func() { p.tick(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule poller: %w", err)
	}

	c.Start()
	p.cron = c
	p.logger.Info("poller started",
		zap.String("schedule", p.schedule),
		zap.String("tz", p.location.String()),
		zap.Int("concurrency", p.concurrency),
	)
	return nil
}

// Stop halts the schedule and waits for a running tick or ctx.
func (p *Poller) Stop(ctx context.Context) {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()

	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
		p.logger.Info("poller stopped")
	case <-ctx.Done():
		p.logger.Warn("poller stop timed out", zap.Error(ctx.Err()))
	}
}

func (p *Poller) tick(ctx context.Context) {
	result, err := p.RunOnce(ctx)
	if err != nil {
		p.logger.Error("poller tick failed", zap.Error(err))
		return
	}
	if result.Skipped {
		return
	}
	if result.Due > 0 || result.StaleFailed > 0 {
		p.logger.Info("poller tick completed",
			zap.Int("due", result.Due),
			zap.Int("dispatched", result.Dispatched),
			zap.Int("notReady", result.NotReady),
			zap.Int("errors", result.Errors),
			zap.Int64("staleFailed", result.StaleFailed),
		)
	}
}

// RunOnce runs a single tick. It returns a skipped result when another tick
// is still running.
func (p *Poller) RunOnce(ctx context.Context) (TickResult, error) {
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Warn("poller tick skipped, previous tick still running")
		p.metrics.IncPollerTick(observability.TickSkipped)
		return TickResult{Skipped: true}, nil
	}
	defer p.running.Store(false)

	result, err := p.runOnce(ctx)
	if err != nil {
		p.metrics.IncPollerTick(observability.TickError)
		return result, err
	}
	p.metrics.IncPollerTick(observability.TickCompleted)
	return result, nil
}

func (p *Poller) runOnce(ctx context.Context) (TickResult, error) {
	var result TickResult
	now := p.now()

	stale, err := p.messages.FailStaleClaims(ctx, now.Add(-p.staleAfter))
	if err != nil {
		return result, fmt.Errorf("failed to fail stale claims: %w", err)
	}
	if stale > 0 {
		p.logger.Warn("failed stale in-progress messages", zap.Int64("count", stale))
	}
	result.StaleFailed = stale

	due, err := p.messages.FindDue(ctx, now, p.limit)
	if err != nil {
		return result, fmt.Errorf("failed to find due messages: %w", err)
	}
	result.Due = len(due)
	if len(due) == 0 {
		return result, nil
	}

	ready := p.readyRobots()

	var dispatched, failed atomic.Int64
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i := range due {
		msg := due[i]
		robot := requestFromMessage(msg).Robot
		if !ready[robot] {
			result.NotReady++
			continue
		}

		g.Go(func() error {
			if err := p.dispatch(groupCtx, msg); err != nil {
				failed.Add(1)
				p.logger.Error("failed to dispatch message",
					append(observability.MessageFields(msg.ID, msg.Robot, msg.To), zap.Error(err))...,
				)
				return nil
			}
			dispatched.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if result.NotReady > 0 {
		p.logger.Info("due messages left pending, whatsapp client not ready", zap.Int("count", result.NotReady))
	}
	result.Dispatched = int(dispatched.Load())
	result.Errors = int(failed.Load())
	return result, nil
}

// dispatch isolates a single message so a panic cannot abort the tick.
func (p *Poller) dispatch(ctx context.Context, msg domain.MessageNotification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during dispatch: %v", r)
			p.logger.Error("panic in delivery",
				zap.String("messageId", msg.ID),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}()
	return p.dispatcher.Dispatch(ctx, msg)
}

func (p *Poller) readyRobots() map[int]bool {
	clients := p.clients.All()
	ready := make(map[int]bool, len(clients))
	for _, client := range clients {
		ready[client.Robot()] = client.Ready()
	}
	return ready
}

// cronLogger routes robfig/cron logs through zap.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
