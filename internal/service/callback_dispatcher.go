package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
	"go.uber.org/zap"
)

const defaultCallbackTimeout = 60 * time.Second

var _ Dispatcher = (*CallbackDispatcher)(nil)

type callbackRequest struct {
	MobilePhone string `json:"mobile_phone"`
	Text        string `json:"text"`
	Media       string `json:"media,omitempty"`
	Robot       int    `json:"robot"`
}

// CallbackDispatcher delivers due messages by calling the send endpoint of
// the application, which claims and delivers the record itself.
type CallbackDispatcher struct {
	http   *resty.Client
	logger *zap.Logger
}

func NewCallbackDispatcher(appURL string, client *resty.Client, timeout time.Duration, logger *zap.Logger) (*CallbackDispatcher, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(appURL), "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid app url: %w", err)
	}
	if client == nil {
		client = resty.New()
	}
	if timeout <= 0 {
		timeout = defaultCallbackTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")

	return &CallbackDispatcher{http: client, logger: logger}, nil
}

func (d *CallbackDispatcher) Dispatch(ctx context.Context, msg domain.MessageNotification) error {
	body := callbackRequest{
		MobilePhone: msg.To,
		Text:        msg.Text(),
		Robot:       requestFromMessage(msg).Robot,
	}
	if msg.Media != nil {
		body.Media = msg.Media.Value
	}

	response, err := d.http.R().
		SetContext(ctx).
		SetPathParam("id", msg.ID).
		SetBody(body).
		Post("/v1/whatsapp/{id}/send")
	if err != nil {
		return fmt.Errorf("send callback failed: %w", err)
	}

	switch status := response.StatusCode(); {
	case response.IsSuccess():
		return nil
	case status == http.StatusConflict:
		d.logger.Debug("message already claimed by another sender", zap.String("messageId", msg.ID))
		return nil
	case status == http.StatusServiceUnavailable:
		d.logger.Info("send callback deferred, whatsapp client not ready", zap.String("messageId", msg.ID))
		return nil
	case status == http.StatusBadGateway:
		// The endpoint already stored the failed status.
		return nil
	default:
		return fmt.Errorf("send callback returned status %d: %s", status, strings.TrimSpace(response.String()))
	}
}
