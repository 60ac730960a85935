package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/validation"
	"go.uber.org/zap"
)

// ErrorHandler renders every handler error in the failed meta envelope.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		code := StatusCode(err)
		messages := errorMessages(err, code)

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.String("requestId", RequestID(c)),
			zap.Error(err),
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("request error", fields...)
		} else {
			logger.Warn("request rejected", fields...)
		}

		return c.Status(code).JSON(Envelope{
			Meta: NewMeta(c, MetaFailed, code, messages...),
		})
	}
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	// A failed delivery has already been recorded, whatever the stage's cause.
	case errors.Is(err, domain.ErrDeliveryFailed):
		return fiber.StatusBadGateway
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func errorMessages(err error, code int) []Message {
	var validationErr *validation.Error
	if errors.As(err, &validationErr) && len(validationErr.Fields) > 0 {
		messages := make([]Message, 0, len(validationErr.Fields))
		for _, field := range validationErr.Fields {
			messages = append(messages, Message{
				Param:   field.Param,
				Message: field.Message,
				Value:   field.Value,
			})
		}
		return messages
	}

	text := err.Error()
	if code == fiber.StatusInternalServerError {
		text = "internal server error"
	}
	return []Message{{Message: text, Value: ""}}
}
