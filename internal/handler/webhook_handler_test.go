package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"github.com/kursadbilgin/docflow-engine/internal/service"
)

type stubWebhookService struct {
	createFn         func(ctx context.Context, userID string, in service.WebhookInput) (*domain.Webhook, error)
	updateFn         func(ctx context.Context, userID string, id string, in service.WebhookInput) (*domain.Webhook, error)
	deleteFn         func(ctx context.Context, userID string, id string) error
	getFn            func(ctx context.Context, userID string, id string) (*domain.Webhook, error)
	listFn           func(ctx context.Context, userID string) ([]domain.Webhook, error)
	listDeliveriesFn func(ctx context.Context, userID string, webhookID string, limit int) ([]domain.WebhookDelivery, error)
	getDeliveryFn    func(ctx context.Context, userID string, deliveryID string) (*service.DeliveryDetails, error)
}

func (s *stubWebhookService) Create(ctx context.Context, userID string, in service.WebhookInput) (*domain.Webhook, error) {
	return s.createFn(ctx, userID, in)
}

func (s *stubWebhookService) Update(ctx context.Context, userID string, id string, in service.WebhookInput) (*domain.Webhook, error) {
	return s.updateFn(ctx, userID, id, in)
}

func (s *stubWebhookService) Delete(ctx context.Context, userID string, id string) error {
	return s.deleteFn(ctx, userID, id)
}

func (s *stubWebhookService) Get(ctx context.Context, userID string, id string) (*domain.Webhook, error) {
	return s.getFn(ctx, userID, id)
}

func (s *stubWebhookService) List(ctx context.Context, userID string) ([]domain.Webhook, error) {
	return s.listFn(ctx, userID)
}

func (s *stubWebhookService) ListDeliveries(ctx context.Context, userID string, webhookID string, limit int) ([]domain.WebhookDelivery, error) {
	return s.listDeliveriesFn(ctx, userID, webhookID, limit)
}

func (s *stubWebhookService) GetDelivery(ctx context.Context, userID string, deliveryID string) (*service.DeliveryDetails, error) {
	return s.getDeliveryFn(ctx, userID, deliveryID)
}

func newWebhookTestApp(t *testing.T, svc WebhookService) *fiber.App {
	t.Helper()

	app := newTestApp()
	if err := RegisterWebhookRoutes(app, svc); err != nil {
		t.Fatalf("RegisterWebhookRoutes() error = %v", err)
	}
	return app
}

func TestWebhookHandler_Create(t *testing.T) {
	t.Parallel()

	var got service.WebhookInput
	svc := &stubWebhookService{
		createFn: func(ctx context.Context, userID string, in service.WebhookInput) (*domain.Webhook, error) {
			got = in
			return &domain.Webhook{
				ID:         "wh-1",
				UserID:     userID,
				URL:        *in.URL,
				Events:     in.Events,
				Status:     domain.WebhookStatusActive,
				AuthType:   domain.AuthTypeBasic,
				MaxRetries: *in.MaxRetries,
				Timeout:    *in.Timeout,
			}, nil
		},
	}
	app := newWebhookTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/webhooks", "user-1", `{
		"url": "https://hooks.example.com/in",
		"events": ["batch.completed"],
		"auth": {"type": "BASIC", "basic": {"username": "u", "password": "p"}},
		"maxRetries": 3,
		"timeoutMs": 2500
	}`)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(body))
	}
	if got.Timeout == nil || *got.Timeout != 2500*time.Millisecond {
		t.Fatalf("timeout = %v, want 2.5s", got.Timeout)
	}
	if got.Auth == nil || got.Auth.Basic == nil || got.Auth.Basic.Password != "p" {
		t.Fatalf("auth = %+v", got.Auth)
	}
	if got.Status != nil {
		t.Fatalf("status should be unset, got %v", *got.Status)
	}

	var parsed webhookResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.ID != "wh-1" || parsed.TimeoutMs != 2500 || parsed.MaxRetries != 3 || parsed.Status != "ACTIVE" {
		t.Fatalf("response = %+v", parsed)
	}
}

func TestWebhookHandler_UpdateRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	svc := &stubWebhookService{
		updateFn: func(ctx context.Context, userID string, id string, in service.WebhookInput) (*domain.Webhook, error) {
			t.Error("Update should not be called")
			return nil, nil
		},
	}
	app := newWebhookTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPatch, "/v1/webhooks/wh-1", "user-1", `{"status":"PAUSED"}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", resp.StatusCode, string(body))
	}
}

func TestWebhookHandler_UpdateStatus(t *testing.T) {
	t.Parallel()

	svc := &stubWebhookService{
		updateFn: func(ctx context.Context, userID string, id string, in service.WebhookInput) (*domain.Webhook, error) {
			if in.Status == nil || *in.Status != domain.WebhookStatusInactive {
				t.Errorf("status = %v, want INACTIVE", in.Status)
			}
			return &domain.Webhook{ID: id, Status: domain.WebhookStatusInactive}, nil
		},
	}
	app := newWebhookTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPatch, "/v1/webhooks/wh-1", "user-1", `{"status":"inactive"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
}

func TestWebhookHandler_DeleteAndNotFound(t *testing.T) {
	t.Parallel()

	svc := &stubWebhookService{
		deleteFn: func(ctx context.Context, userID string, id string) error {
			if id == "missing" {
				return fmt.Errorf("%w: webhook %s", domain.ErrNotFound, id)
			}
			return nil
		},
	}
	app := newWebhookTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodDelete, "/v1/webhooks/wh-1", "user-1", "")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodDelete, "/v1/webhooks/missing", "user-1", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestWebhookHandler_ListDeliveries(t *testing.T) {
	t.Parallel()

	next := handlerNow.Add(30 * time.Second)
	var gotLimit int
	svc := &stubWebhookService{
		listDeliveriesFn: func(ctx context.Context, userID string, webhookID string, limit int) ([]domain.WebhookDelivery, error) {
			gotLimit = limit
			return []domain.WebhookDelivery{{
				ID:          "d-1",
				WebhookID:   webhookID,
				Event:       domain.EventBatchCompleted,
				Status:      domain.DeliveryStatusRetryPending,
				RetryCount:  1,
				NextAttempt: &next,
			}}, nil
		},
	}
	app := newWebhookTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/webhooks/wh-1/deliveries?limit=20", "user-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	if gotLimit != 20 {
		t.Fatalf("limit = %d, want 20", gotLimit)
	}

	var parsed struct {
		Data []deliveryResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Data) != 1 || parsed.Data[0].Status != "RETRY_PENDING" || parsed.Data[0].NextAttempt == nil {
		t.Fatalf("data = %+v", parsed.Data)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/webhooks/wh-1/deliveries?limit=-1", "user-1", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for negative limit", resp.StatusCode)
	}
}

func TestWebhookHandler_GetDeliveryWithAttempts(t *testing.T) {
	t.Parallel()

	code := 503
	svc := &stubWebhookService{
		getDeliveryFn: func(ctx context.Context, userID string, deliveryID string) (*service.DeliveryDetails, error) {
			return &service.DeliveryDetails{
				Delivery: &domain.WebhookDelivery{ID: deliveryID, Status: domain.DeliveryStatusFailed, RetryCount: 2},
				Attempts: []domain.DeliveryAttempt{
					{AttemptNumber: 1, StatusCode: &code, DurationMs: 40},
					{AttemptNumber: 2, StatusCode: &code, DurationMs: 38},
				},
			}, nil
		},
	}
	app := newWebhookTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/deliveries/d-1", "user-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed deliveryDetailsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.ID != "d-1" || parsed.Status != "FAILED" || len(parsed.Attempts) != 2 || parsed.Attempts[1].AttemptNumber != 2 {
		t.Fatalf("response = %+v", parsed)
	}
}

func TestWebhookHandler_List(t *testing.T) {
	t.Parallel()

	svc := &stubWebhookService{
		listFn: func(ctx context.Context, userID string) ([]domain.Webhook, error) {
			return []domain.Webhook{{ID: "wh-1", Status: domain.WebhookStatusActive}, {ID: "wh-2", Status: domain.WebhookStatusInactive}}, nil
		},
	}
	app := newWebhookTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/webhooks", "user-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Data []webhookResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Data) != 2 || parsed.Data[1].Status != "INACTIVE" {
		t.Fatalf("data = %+v", parsed.Data)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/webhooks", "", "")
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}
