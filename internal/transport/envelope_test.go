package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/observability"
)

func TestRespondCarriesRequestID(t *testing.T) {
	t.Parallel()

	var contextID string
	app := fiber.New()
	app.Use(requestid.New())
	app.Use(RequestContext())
	app.Get("/ping", func(c *fiber.Ctx) error {
		contextID, _ = observability.RequestIDFromContext(c.UserContext())
		return Respond(c, fiber.StatusOK, fiber.Map{"pong": true}, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(fiber.HeaderXRequestID, "req-42")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	var envelope struct {
		Data map[string]any `json:"data"`
		Meta Meta           `json:"meta"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}

	if envelope.Meta.Type != MetaSuccess || envelope.Meta.Code != fiber.StatusOK || envelope.Meta.ResponseID != "req-42" {
		t.Fatalf("meta = %+v", envelope.Meta)
	}
	if len(envelope.Meta.Messages) != 1 || envelope.Meta.Messages[0].Message != "ok" {
		t.Fatalf("messages = %+v", envelope.Meta.Messages)
	}
	if envelope.Data["pong"] != true {
		t.Fatalf("data = %v", envelope.Data)
	}
	if contextID != "req-42" {
		t.Fatalf("context request id = %q, want req-42", contextID)
	}
}

func TestNewMetaDefaultsToEmptyMessages(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		meta := NewMeta(c, MetaFailed, fiber.StatusConflict)
		if meta.Messages == nil || len(meta.Messages) != 0 {
			t.Errorf("messages = %#v, want empty slice", meta.Messages)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	if _, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil)); err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
}
