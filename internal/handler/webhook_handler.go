package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"github.com/kursadbilgin/docflow-engine/internal/service"
	"github.com/kursadbilgin/docflow-engine/internal/transport"
)

type WebhookService interface {
	Create(ctx context.Context, userID string, in service.WebhookInput) (*domain.Webhook, error)
	Update(ctx context.Context, userID string, id string, in service.WebhookInput) (*domain.Webhook, error)
	Delete(ctx context.Context, userID string, id string) error
	Get(ctx context.Context, userID string, id string) (*domain.Webhook, error)
	List(ctx context.Context, userID string) ([]domain.Webhook, error)
	ListDeliveries(ctx context.Context, userID string, webhookID string, limit int) ([]domain.WebhookDelivery, error)
	GetDelivery(ctx context.Context, userID string, deliveryID string) (*service.DeliveryDetails, error)
}

type WebhookHandler struct {
	service WebhookService
}

func NewWebhookHandler(service WebhookService) (*WebhookHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("webhook service is required")
	}
	return &WebhookHandler{service: service}, nil
}

func RegisterWebhookRoutes(router fiber.Router, service WebhookService) error {
	h, err := NewWebhookHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/webhooks", requireUser, h.CreateWebhook)
	v1.Get("/webhooks", requireUser, h.ListWebhooks)
	v1.Get("/webhooks/:id", requireUser, h.GetWebhook)
	v1.Patch("/webhooks/:id", requireUser, h.UpdateWebhook)
	v1.Delete("/webhooks/:id", requireUser, h.DeleteWebhook)
	v1.Get("/webhooks/:id/deliveries", requireUser, h.ListDeliveries)
	v1.Get("/deliveries/:id", requireUser, h.GetDelivery)

	return nil
}

// webhookRequest is shared by create and update. Absent fields keep their stored or
// default values.
type webhookRequest struct {
	URL        *string             `json:"url"`
	Events     []string            `json:"events"`
	Status     *string             `json:"status"`
	Auth       *domain.WebhookAuth `json:"auth"`
	Headers    map[string]string   `json:"headers"`
	MaxRetries *int                `json:"maxRetries"`
	TimeoutMs  *int64              `json:"timeoutMs"`
}

type webhookResponse struct {
	ID         string            `json:"id"`
	URL        string            `json:"url"`
	Events     []string          `json:"events"`
	Status     string            `json:"status"`
	AuthType   string            `json:"authType"`
	Headers    map[string]string `json:"headers,omitempty"`
	MaxRetries int               `json:"maxRetries"`
	TimeoutMs  int64             `json:"timeoutMs"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

type deliveryResponse struct {
	ID          string                 `json:"id"`
	WebhookID   string                 `json:"webhookId"`
	Event       string                 `json:"event"`
	Payload     domain.DeliveryPayload `json:"payload"`
	Status      string                 `json:"status"`
	RetryCount  int                    `json:"retryCount"`
	LastError   *string                `json:"lastError,omitempty"`
	LastAttempt *time.Time             `json:"lastAttempt,omitempty"`
	NextAttempt *time.Time             `json:"nextAttempt,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

type attemptResponse struct {
	AttemptNumber int       `json:"attemptNumber"`
	StatusCode    *int      `json:"statusCode,omitempty"`
	ResponseBody  *string   `json:"responseBody,omitempty"`
	Error         *string   `json:"error,omitempty"`
	DurationMs    int64     `json:"durationMs"`
	CreatedAt     time.Time `json:"createdAt"`
}

type deliveryDetailsResponse struct {
	deliveryResponse
	Attempts []attemptResponse `json:"attempts"`
}

func (h *WebhookHandler) CreateWebhook(c *fiber.Ctx) error {
	in, err := parseWebhookRequest(c)
	if err != nil {
		return err
	}

	webhook, err := h.service.Create(c.UserContext(), requestUserID(c), in)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(toWebhookResponse(webhook))
}

func (h *WebhookHandler) UpdateWebhook(c *fiber.Ctx) error {
	in, err := parseWebhookRequest(c)
	if err != nil {
		return err
	}

	webhook, err := h.service.Update(c.UserContext(), requestUserID(c), c.Params("id"), in)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toWebhookResponse(webhook))
}

func (h *WebhookHandler) DeleteWebhook(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), requestUserID(c), c.Params("id")); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *WebhookHandler) GetWebhook(c *fiber.Ctx) error {
	webhook, err := h.service.Get(c.UserContext(), requestUserID(c), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toWebhookResponse(webhook))
}

func (h *WebhookHandler) ListWebhooks(c *fiber.Ctx) error {
	webhooks, err := h.service.List(c.UserContext(), requestUserID(c))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]webhookResponse, 0, len(webhooks))
	for i := range webhooks {
		data = append(data, toWebhookResponse(&webhooks[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *WebhookHandler) ListDeliveries(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return toHTTPError(fmt.Errorf("%w: limit must be >= 0", domain.ErrValidation))
	}

	deliveries, err := h.service.ListDeliveries(c.UserContext(), requestUserID(c), c.Params("id"), limit)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]deliveryResponse, 0, len(deliveries))
	for i := range deliveries {
		data = append(data, toDeliveryResponse(&deliveries[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *WebhookHandler) GetDelivery(c *fiber.Ctx) error {
	details, err := h.service.GetDelivery(c.UserContext(), requestUserID(c), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}

	resp := deliveryDetailsResponse{
		deliveryResponse: toDeliveryResponse(details.Delivery),
		Attempts:         make([]attemptResponse, 0, len(details.Attempts)),
	}
	for _, a := range details.Attempts {
		resp.Attempts = append(resp.Attempts, attemptResponse{
			AttemptNumber: a.AttemptNumber,
			StatusCode:    a.StatusCode,
			ResponseBody:  a.ResponseBody,
			Error:         a.Error,
			DurationMs:    a.DurationMs,
			CreatedAt:     a.CreatedAt,
		})
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func parseWebhookRequest(c *fiber.Ctx) (service.WebhookInput, error) {
	var req webhookRequest
	if err := c.BodyParser(&req); err != nil {
		return service.WebhookInput{}, fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	in := service.WebhookInput{
		URL:        req.URL,
		Events:     req.Events,
		Auth:       req.Auth,
		Headers:    req.Headers,
		MaxRetries: req.MaxRetries,
	}
	if req.Status != nil {
		status, err := domain.ParseWebhookStatusFromString(*req.Status)
		if err != nil {
			return service.WebhookInput{}, toHTTPError(err)
		}
		in.Status = &status
	}
	if req.TimeoutMs != nil {
		timeout := time.Duration(*req.TimeoutMs) * time.Millisecond
		in.Timeout = &timeout
	}
	return in, nil
}

func toWebhookResponse(w *domain.Webhook) webhookResponse {
	if w == nil {
		return webhookResponse{}
	}

	return webhookResponse{
		ID:         w.ID,
		URL:        w.URL,
		Events:     w.Events,
		Status:     w.Status.String(),
		AuthType:   w.AuthType.String(),
		Headers:    w.Headers,
		MaxRetries: w.MaxRetries,
		TimeoutMs:  w.Timeout.Milliseconds(),
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
	}
}

func toDeliveryResponse(d *domain.WebhookDelivery) deliveryResponse {
	if d == nil {
		return deliveryResponse{}
	}

	return deliveryResponse{
		ID:          d.ID,
		WebhookID:   d.WebhookID,
		Event:       d.Event,
		Payload:     d.Payload,
		Status:      d.Status.String(),
		RetryCount:  d.RetryCount,
		LastError:   d.LastError,
		LastAttempt: d.LastAttempt,
		NextAttempt: d.NextAttempt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// toHTTPError turns domain errors into fiber errors carrying the response status.
// Unclassified errors pass through and are reported as 500.
func toHTTPError(err error) error {
	code := transport.StatusFor(err)
	if code == fiber.StatusInternalServerError {
		return err
	}
	return fiber.NewError(code, err.Error())
}
