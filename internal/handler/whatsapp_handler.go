package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/repository"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/service"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/transport"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/validation"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/whatsapp"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type WhatsAppService interface {
	SendDirect(ctx context.Context, in service.DirectSendInput) (*service.DirectSendResult, error)
	SendExisting(ctx context.Context, id string, in service.SendExistingInput) (*service.DeliveryResult, error)
	Enqueue(ctx context.Context, in service.EnqueueInput) (*domain.MessageNotification, error)
	Get(ctx context.Context, id string) (*domain.MessageNotification, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.MessageNotification, int64, error)
	Robots() []service.RobotStatus
	Logout(ctx context.Context, robot int) error
	HandleRobotEvent(robot int, event string) (service.RobotStatus, error)
}

type WhatsAppHandler struct {
	service WhatsAppService
}

func NewWhatsAppHandler(service WhatsAppService) (*WhatsAppHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("whatsapp service is required")
	}
	return &WhatsAppHandler{service: service}, nil
}

func RegisterWhatsAppRoutes(router fiber.Router, service WhatsAppService) error {
	h, err := NewWhatsAppHandler(service)
	if err != nil {
		return err
	}

	wa := router.Group("/v1/whatsapp")
	wa.Post("/send", h.SendDirect)
	wa.Post("/messages", h.EnqueueMessage)
	wa.Get("/messages", h.ListMessages)
	wa.Get("/messages/:id", h.GetMessage)
	wa.Get("/robots", h.ListRobots)
	wa.Post("/robots/:robot/events", h.RobotEvent)
	wa.Post("/robots/:robot/logout", h.Logout)
	wa.Post("/:message_id/send", h.SendExisting)

	return nil
}

// Recipients accepts either a single number or a list of numbers.
type Recipients []string

func (r *Recipients) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*r = Recipients{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.New("to must be a string or an array of strings")
	}
	*r = many
	return nil
}

type sendDirectRequest struct {
	To      Recipients `json:"to" validate:"required,min=1,max=1000"`
	Message string     `json:"message" validate:"required_without=Media,max=65536"`
	Media   string     `json:"media"`
	Robot   int        `json:"robot" validate:"min=0"`
}

type sendExistingRequest struct {
	MobilePhone string `json:"mobile_phone" validate:"required"`
	Text        string `json:"text" validate:"required_without=Media,max=65536"`
	Media       string `json:"media"`
	Robot       int    `json:"robot" validate:"min=0"`
}

type enqueueRequest struct {
	To          string     `json:"to" validate:"required"`
	Message     string     `json:"message" validate:"required_without=Media,max=65536"`
	Media       string     `json:"media"`
	Robot       int        `json:"robot" validate:"min=0"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

type robotEventRequest struct {
	Event string `json:"event" validate:"required"`
}

type messageResponse struct {
	ID          string     `json:"id"`
	To          string     `json:"to"`
	Message     *string    `json:"message"`
	Media       *string    `json:"media"`
	Robot       int        `json:"robot"`
	Method      string     `json:"method"`
	Status      string     `json:"status"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty"`
}

type ackResponse struct {
	ID   string `json:"id"`
	Code int    `json:"ack"`
	Name string `json:"ack_name"`
}

type deliveryResponse struct {
	MessageID string       `json:"message_id,omitempty"`
	To        string       `json:"to"`
	ChatID    string       `json:"chat_id,omitempty"`
	Ack       *ackResponse `json:"ack"`
	Error     string       `json:"error,omitempty"`
}

type sendDirectResponse struct {
	Success []deliveryResponse `json:"success"`
	Failed  []deliveryResponse `json:"failed"`
}

type listMessagesResponse struct {
	Messages   []messageResponse `json:"messages"`
	Pagination pagination        `json:"pagination"`
}

type pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type robotResponse struct {
	Robot int    `json:"robot"`
	State string `json:"state"`
	Ready bool   `json:"ready"`
}

func (h *WhatsAppHandler) SendDirect(c *fiber.Ctx) error {
	var req sendDirectRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result, err := h.service.SendDirect(c.UserContext(), service.DirectSendInput{
		To:      req.To,
		Message: req.Message,
		Media:   domain.ParseMediaRef(req.Media),
		Robot:   req.Robot,
	})
	if err != nil {
		return err
	}

	response := sendDirectResponse{
		Success: toDirectResponses(result.Success),
		Failed:  toDirectResponses(result.Failed),
	}
	return transport.Respond(c, fiber.StatusOK,
		response,
		fmt.Sprintf("%d message(s) sent, %d failed", len(response.Success), len(response.Failed)),
	)
}

// SendExisting delivers a stored message. A failed delivery is answered with
// the failed meta and whatever acknowledgement the gateway returned.
func (h *WhatsAppHandler) SendExisting(c *fiber.Ctx) error {
	var req sendExistingRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result, err := h.service.SendExisting(c.UserContext(), c.Params("message_id"), service.SendExistingInput{
		MobilePhone: req.MobilePhone,
		Text:        req.Text,
		Media:       domain.ParseMediaRef(req.Media),
		Robot:       req.Robot,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrDeliveryFailed) {
			return err
		}
		return c.Status(fiber.StatusBadGateway).JSON(transport.Envelope{
			Data: toDeliveryResponse(result),
			Meta: transport.NewMeta(c, transport.MetaFailed, fiber.StatusBadGateway,
				transport.Message{Message: err.Error(), Value: ""},
			),
		})
	}

	return transport.Respond(c, fiber.StatusOK, toDeliveryResponse(result), "message sent")
}

func (h *WhatsAppHandler) EnqueueMessage(c *fiber.Ctx) error {
	var req enqueueRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	in := service.EnqueueInput{
		To:          req.To,
		Media:       domain.ParseMediaRef(req.Media),
		Robot:       req.Robot,
		ScheduledAt: req.ScheduledAt,
	}
	if req.Message != "" {
		in.Message = &req.Message
	}

	created, err := h.service.Enqueue(c.UserContext(), in)
	if err != nil {
		return err
	}

	return transport.Respond(c, fiber.StatusCreated, toMessageResponse(created), "message queued")
}

func (h *WhatsAppHandler) GetMessage(c *fiber.Ctx) error {
	msg, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return transport.Respond(c, fiber.StatusOK, toMessageResponse(msg), "")
}

func (h *WhatsAppHandler) ListMessages(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return err
	}

	messages, total, err := h.service.List(c.UserContext(), params)
	if err != nil {
		return err
	}

	responses := make([]messageResponse, 0, len(messages))
	for i := range messages {
		responses = append(responses, toMessageResponse(&messages[i]))
	}

	return transport.Respond(c, fiber.StatusOK, listMessagesResponse{
		Messages: responses,
		Pagination: pagination{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	}, "")
}

func (h *WhatsAppHandler) ListRobots(c *fiber.Ctx) error {
	statuses := h.service.Robots()
	responses := make([]robotResponse, 0, len(statuses))
	for _, status := range statuses {
		responses = append(responses, toRobotResponse(status))
	}
	return transport.Respond(c, fiber.StatusOK, responses, "")
}

// RobotEvent receives lifecycle events from the gateway sidecar.
func (h *WhatsAppHandler) RobotEvent(c *fiber.Ctx) error {
	robot, err := robotParam(c)
	if err != nil {
		return err
	}

	var req robotEventRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	status, err := h.service.HandleRobotEvent(robot, req.Event)
	if err != nil {
		return err
	}
	return transport.Respond(c, fiber.StatusOK, toRobotResponse(status), "event applied")
}

func (h *WhatsAppHandler) Logout(c *fiber.Ctx) error {
	robot, err := robotParam(c)
	if err != nil {
		return err
	}

	if err := h.service.Logout(c.UserContext(), robot); err != nil {
		return err
	}
	return transport.Respond(c, fiber.StatusOK, fiber.Map{"robot": robot}, "robot logged out")
}

// parseBody decodes the JSON body into req and validates its tags.
func parseBody(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return validation.Struct(req)
}

func robotParam(c *fiber.Ctx) (int, error) {
	raw := c.Params("robot")
	robot, err := c.ParamsInt("robot")
	if err != nil || robot < 1 {
		return 0, validation.NewFieldError("robot", "robot must be a positive integer", raw)
	}
	return robot, nil
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, validation.NewFieldError("page", "page must be >= 1", params.Page)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, validation.NewFieldError("pageSize",
			fmt.Sprintf("pageSize must be between 1 and %d", maxPageSize), params.PageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, validation.NewFieldError("status", "status is invalid", rawStatus)
		}
		params.Status = &status
	}

	if rawRobot := strings.TrimSpace(c.Query("robot")); rawRobot != "" {
		robot := c.QueryInt("robot", 0)
		if robot < 1 {
			return repository.ListParams{}, validation.NewFieldError("robot", "robot must be a positive integer", rawRobot)
		}
		params.Robot = &robot
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, validation.NewFieldError(field, fmt.Sprintf("%s must be RFC3339", field), trimmed)
	}
	return &t, nil
}

func toMessageResponse(m *domain.MessageNotification) messageResponse {
	if m == nil {
		return messageResponse{}
	}

	response := messageResponse{
		ID:          m.ID,
		To:          m.To,
		Message:     m.Message,
		Robot:       m.Robot,
		Method:      m.Method.String(),
		Status:      m.Status.String(),
		ScheduledAt: m.ScheduledAt,
		ClaimedAt:   m.ClaimedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.Media != nil {
		media := m.Media.String()
		response.Media = &media
	}
	return response
}

func toAckResponse(ack *whatsapp.Ack) *ackResponse {
	if ack == nil {
		return nil
	}
	return &ackResponse{ID: ack.MessageID, Code: int(ack.Code), Name: ack.Code.String()}
}

func toDeliveryResponse(result *service.DeliveryResult) *deliveryResponse {
	if result == nil {
		return nil
	}
	return &deliveryResponse{
		To:     result.To,
		ChatID: result.ChatID,
		Ack:    toAckResponse(result.Ack),
	}
}

func toDirectResponses(entries []service.DirectSendEntry) []deliveryResponse {
	responses := make([]deliveryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, deliveryResponse{
			MessageID: entry.MessageID,
			To:        entry.To,
			ChatID:    entry.ChatID,
			Ack:       toAckResponse(entry.Ack),
			Error:     entry.Error,
		})
	}
	return responses
}

func toRobotResponse(status service.RobotStatus) robotResponse {
	return robotResponse{
		Robot: status.Robot,
		State: status.State.String(),
		Ready: status.Ready,
	}
}
