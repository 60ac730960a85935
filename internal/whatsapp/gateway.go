package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/ratelimit"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	defaultGatewayTimeout   = 30 * time.Second
	breakerFailureThreshold = 5
	breakerOpenTimeout      = 30 * time.Second

	// connectedState is the session state the gateway reports for a logged-in client.
	connectedState = "CONNECTED"
)

var _ Client = (*GatewayClient)(nil)

type GatewayConfig struct {
	Robot   int
	Session string
	BaseURL string
	Token   string
	Timeout time.Duration
	// OnStateChange observes readiness transitions, e.g. for metrics.
	OnStateChange func(robot int, state State)
}

type resolveRequest struct {
	Number string `json:"number"`
}

type resolveResponse struct {
	ChatID *string `json:"chatId"`
}

type sendRequest struct {
	ChatID  string        `json:"chatId"`
	Text    string        `json:"text,omitempty"`
	Media   *MediaPayload `json:"media,omitempty"`
	Caption string        `json:"caption,omitempty"`
}

type stateResponse struct {
	State string `json:"state"`
}

// GatewayClient talks to the WhatsApp gateway sidecar for one robot session.
// Sends are serialized, paced by the rate limiter and guarded by a circuit breaker.
type GatewayClient struct {
	robot   int
	session string
	http    *resty.Client
	gate    *ReadinessGate
	limiter ratelimit.RateLimiter
	breaker *gobreaker.CircuitBreaker[*Ack]
	logger  *zap.Logger

	sendMu sync.Mutex
}

func NewGatewayClient(cfg GatewayConfig, client *resty.Client, limiter ratelimit.RateLimiter, logger *zap.Logger) (*GatewayClient, error) {
	if cfg.Robot < 1 {
		return nil, fmt.Errorf("invalid robot %d", cfg.Robot)
	}
	session := strings.TrimSpace(cfg.Session)
	if session == "" {
		return nil, fmt.Errorf("gateway session is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}
	if client == nil {
		client = resty.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetRetryCount(0)
	client.SetHeader("Content-Type", "application/json")
	if token := strings.TrimSpace(cfg.Token); token != "" {
		client.SetAuthToken(token)
	}

	robot := cfg.Robot
	logger = logger.With(zap.Int("robot", robot), zap.String("session", session))

	g := &GatewayClient{
		robot:   robot,
		session: session,
		http:    client,
		limiter: limiter,
		logger:  logger,
	}

	g.gate = NewReadinessGate(func(state State) {
		logger.Info("whatsapp session state changed", zap.String("state", state.String()))
		if cfg.OnStateChange != nil {
			cfg.OnStateChange(robot, state)
		}
	})

	g.breaker = gobreaker.NewCircuitBreaker[*Ack](gobreaker.Settings{
		Name:        fmt.Sprintf("whatsapp-robot-%d", robot),
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("gateway circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return g, nil
}

func (g *GatewayClient) Robot() int { return g.robot }

func (g *GatewayClient) State() State { return g.gate.State() }

func (g *GatewayClient) Ready() bool { return g.gate.Ready() }

func (g *GatewayClient) AwaitReady(ctx context.Context) error {
	return g.gate.Wait(ctx)
}

func (g *GatewayClient) HandleEvent(event EventType) error {
	return g.gate.Apply(event)
}

func (g *GatewayClient) ResolveTarget(ctx context.Context, number string) (*ChatTarget, error) {
	if !g.gate.Ready() {
		return nil, ErrNotReady
	}

	var out resolveResponse
	if err := g.call(ctx, "/sessions/{session}/contacts/resolve", resolveRequest{Number: number}, &out); err != nil {
		return nil, err
	}
	if out.ChatID == nil || strings.TrimSpace(*out.ChatID) == "" {
		return nil, nil
	}
	return &ChatTarget{ID: strings.TrimSpace(*out.ChatID)}, nil
}

func (g *GatewayClient) Send(ctx context.Context, target ChatTarget, text string, media *MediaPayload) (*Ack, error) {
	if !g.gate.Ready() {
		return nil, ErrNotReady
	}
	if strings.TrimSpace(target.ID) == "" {
		return nil, &TransportError{Message: "chat id is required"}
	}

	body := sendRequest{ChatID: target.ID}
	if media != nil {
		body.Media = media
		body.Caption = text
	} else {
		body.Text = text
	}

	g.sendMu.Lock()
	defer g.sendMu.Unlock()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx, ratelimit.RobotKey(g.robot)); err != nil {
			return nil, fmt.Errorf("%w: rate limit wait: %w", ErrNotReady, err)
		}
	}

	ack, err := g.breaker.Execute(func() (*Ack, error) {
		var out Ack
		if err := g.call(ctx, "/sessions/{session}/messages", body, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	if err != nil {
		return nil, err
	}
	return ack, nil
}

func (g *GatewayClient) Logout(ctx context.Context) error {
	if err := g.call(ctx, "/sessions/{session}/logout", nil, nil); err != nil {
		return err
	}
	g.gate.MarkDisconnected(StateDisconnected)
	return nil
}

// Probe asks the gateway for the current session state once, so a session
// that was already connected before start-up opens the gate.
func (g *GatewayClient) Probe(ctx context.Context) error {
	response, err := g.http.R().
		SetContext(ctx).
		SetPathParam("session", g.session).
		Get("/sessions/{session}/state")
	if err != nil {
		return &TransportError{Message: "gateway request failed", Transient: true, Cause: err}
	}
	if !response.IsSuccess() {
		return statusError(response.StatusCode(), strings.TrimSpace(response.String()))
	}

	var out stateResponse
	if err := json.Unmarshal(response.Body(), &out); err != nil {
		return &TransportError{StatusCode: response.StatusCode(), Message: "invalid state response", Cause: err}
	}
	if strings.EqualFold(out.State, connectedState) {
		g.gate.MarkReady()
	}
	return nil
}

func (g *GatewayClient) call(ctx context.Context, path string, body any, out any) error {
	request := g.http.R().
		SetContext(ctx).
		SetPathParam("session", g.session)
	if body != nil {
		request.SetBody(body)
	}

	response, err := request.Post(path)
	if err != nil {
		return &TransportError{
			Message:   "gateway request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if !response.IsSuccess() {
		return statusError(response.StatusCode(), strings.TrimSpace(response.String()))
	}

	if out == nil || len(response.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(response.Body(), out); err != nil {
		return &TransportError{StatusCode: response.StatusCode(), Message: "invalid gateway response", Cause: err}
	}
	return nil
}
