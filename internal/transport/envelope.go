package transport

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/observability"
)

const (
	MetaSuccess = "success"
	MetaFailed  = "failed"
)

// Envelope is the response body shared by every /v1 route.
type Envelope struct {
	Data any  `json:"data,omitempty"`
	Meta Meta `json:"meta"`
}

type Meta struct {
	Type       string    `json:"type"`
	Code       int       `json:"code"`
	ResponseID string    `json:"response_id"`
	Messages   []Message `json:"messages"`
}

type Message struct {
	Param   string `json:"param"`
	Message string `json:"message"`
	Value   any    `json:"value"`
}

func NewMeta(c *fiber.Ctx, metaType string, code int, messages ...Message) Meta {
	if messages == nil {
		messages = []Message{}
	}
	return Meta{
		Type:       metaType,
		Code:       code,
		ResponseID: RequestID(c),
		Messages:   messages,
	}
}

// Respond writes data with a success meta carrying a single message.
func Respond(c *fiber.Ctx, code int, data any, message string) error {
	return c.Status(code).JSON(Envelope{
		Data: data,
		Meta: NewMeta(c, MetaSuccess, code, Message{Message: message, Value: ""}),
	})
}

// RequestID returns the id set by the requestid middleware, falling back to
// the X-Request-ID header.
func RequestID(c *fiber.Ctx) string {
	if value, ok := c.Locals("requestid").(string); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
}

// RequestContext copies the request id into the user context, so service
// logs carry the same id as the response_id.
func RequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id := RequestID(c); id != "" {
			c.SetUserContext(observability.WithRequestID(c.UserContext(), id))
		}
		return c.Next()
	}
}
