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
	"github.com/kursadbilgin/docflow-engine/internal/observability"
	"github.com/kursadbilgin/docflow-engine/internal/service"
)

type stubBatchService struct {
	createBatchFn     func(ctx context.Context, userID string, templateID string, files []domain.NewFile) (*domain.BatchProcess, []domain.FileRecord, error)
	addFilesFn        func(ctx context.Context, userID string, batchID string, files []domain.NewFile) (*domain.BatchProcess, []domain.FileRecord, error)
	startProcessingFn func(ctx context.Context, userID string, batchID string) (*domain.BatchProcess, error)
	getBatchFn        func(ctx context.Context, userID string, batchID string) (*service.BatchDetails, error)
	cancelFn          func(ctx context.Context, userID string, batchID string) (*domain.BatchProcess, error)
}

func (s *stubBatchService) CreateBatch(ctx context.Context, userID string, templateID string, files []domain.NewFile) (*domain.BatchProcess, []domain.FileRecord, error) {
	return s.createBatchFn(ctx, userID, templateID, files)
}

func (s *stubBatchService) AddFiles(ctx context.Context, userID string, batchID string, files []domain.NewFile) (*domain.BatchProcess, []domain.FileRecord, error) {
	return s.addFilesFn(ctx, userID, batchID, files)
}

func (s *stubBatchService) StartProcessing(ctx context.Context, userID string, batchID string) (*domain.BatchProcess, error) {
	return s.startProcessingFn(ctx, userID, batchID)
}

func (s *stubBatchService) GetBatch(ctx context.Context, userID string, batchID string) (*service.BatchDetails, error) {
	return s.getBatchFn(ctx, userID, batchID)
}

func (s *stubBatchService) Cancel(ctx context.Context, userID string, batchID string) (*domain.BatchProcess, error) {
	return s.cancelFn(ctx, userID, batchID)
}

func newBatchTestApp(t *testing.T, svc BatchService) *fiber.App {
	t.Helper()

	app := newTestApp()
	app.Use(observability.CorrelationMiddleware())
	if err := RegisterBatchRoutes(app, svc); err != nil {
		t.Fatalf("RegisterBatchRoutes() error = %v", err)
	}
	return app
}

var handlerNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestBatchHandler_CreateBatch(t *testing.T) {
	t.Parallel()

	var gotUser, gotTemplate string
	var gotFiles []domain.NewFile
	svc := &stubBatchService{
		createBatchFn: func(ctx context.Context, userID string, templateID string, files []domain.NewFile) (*domain.BatchProcess, []domain.FileRecord, error) {
			gotUser, gotTemplate, gotFiles = userID, templateID, files
			if _, ok := observability.CorrelationIDFromContext(ctx); !ok {
				t.Error("correlation id missing from request context")
			}
			batch := &domain.BatchProcess{
				ID: "b-1", UserID: userID, TemplateID: templateID, TotalFiles: len(files),
				Status: domain.BatchStatusCreated, CreatedAt: handlerNow, UpdatedAt: handlerNow,
			}
			records := []domain.FileRecord{{ID: "f-1", BatchID: "b-1", FileName: files[0].FileName, StorageKey: files[0].StorageKey, Status: domain.FileStatusPending}}
			return batch, records, nil
		},
	}
	app := newBatchTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/batches", "user-1",
		`{"templateId":"tpl-1","files":[{"fileName":"a.pdf","storageKey":"uploads/a.pdf"}]}`)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(body))
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("X-Request-ID header should be set")
	}
	if gotUser != "user-1" || gotTemplate != "tpl-1" || len(gotFiles) != 1 || gotFiles[0].StorageKey != "uploads/a.pdf" {
		t.Fatalf("service called with %q %q %+v", gotUser, gotTemplate, gotFiles)
	}

	var parsed batchWithFilesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.ID != "b-1" || parsed.Status != "CREATED" || parsed.TotalFiles != 1 {
		t.Fatalf("response = %+v", parsed)
	}
	if len(parsed.Files) != 1 || parsed.Files[0].Status != "PENDING" {
		t.Fatalf("files = %+v", parsed.Files)
	}
}

func TestBatchHandler_RequiresUser(t *testing.T) {
	t.Parallel()

	app := newBatchTestApp(t, &stubBatchService{})

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/b-1", "", "")
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body=%s", resp.StatusCode, string(body))
	}
}

func TestBatchHandler_InvalidBody(t *testing.T) {
	t.Parallel()

	app := newBatchTestApp(t, &stubBatchService{})

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/batches", "user-1", `{"templateId":`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestBatchHandler_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: fmt.Errorf("%w: templateId is required", domain.ErrValidation), want: fiber.StatusBadRequest},
		{name: "not found", err: fmt.Errorf("%w: batch b-1", domain.ErrNotFound), want: fiber.StatusNotFound},
		{name: "invalid state", err: fmt.Errorf("%w: batch is COMPLETED", domain.ErrInvalidState), want: fiber.StatusConflict},
		{name: "persistence", err: fmt.Errorf("%w: connection reset", domain.ErrPersistence), want: fiber.StatusServiceUnavailable},
		{name: "unknown", err: fmt.Errorf("boom"), want: fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &stubBatchService{
				cancelFn: func(ctx context.Context, userID string, batchID string) (*domain.BatchProcess, error) {
					return nil, tt.err
				},
			}
			app := newBatchTestApp(t, svc)

			resp, body := performRequest(t, app, http.MethodPost, "/v1/batches/b-1/cancel", "user-1", "")
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.want, string(body))
			}

			var parsed map[string]string
			if err := json.Unmarshal(body, &parsed); err != nil {
				t.Fatalf("json unmarshal error = %v", err)
			}
			if parsed["error"] == "" {
				t.Fatalf("error body missing: %s", string(body))
			}
			if tt.want == fiber.StatusInternalServerError && parsed["error"] != "internal server error" {
				t.Fatalf("internal error leaked: %q", parsed["error"])
			}
		})
	}
}

func TestBatchHandler_GetBatch(t *testing.T) {
	t.Parallel()

	completedAt := handlerNow.Add(time.Minute)
	svc := &stubBatchService{
		getBatchFn: func(ctx context.Context, userID string, batchID string) (*service.BatchDetails, error) {
			if userID != "user-1" || batchID != "b-1" {
				t.Errorf("GetBatch(%q, %q)", userID, batchID)
			}
			reason := "unreadable"
			return &service.BatchDetails{
				Batch: &domain.BatchProcess{
					ID: "b-1", TemplateID: "tpl-1", TotalFiles: 2, ProcessedFiles: 2,
					Status: domain.BatchStatusCompleted, CompletedAt: &completedAt,
				},
				Files: []domain.FileRecord{
					{ID: "f-1", Status: domain.FileStatusCompleted, Result: json.RawMessage(`{"total":12}`)},
					{ID: "f-2", Status: domain.FileStatusFailed, Error: &reason},
				},
			}, nil
		},
	}
	app := newBatchTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/b-1", "user-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed batchWithFilesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Status != "COMPLETED" || parsed.ProcessedFiles != 2 || parsed.CompletedAt == nil {
		t.Fatalf("response = %+v", parsed.batchResponse)
	}
	if string(parsed.Files[0].Result) != `{"total":12}` || parsed.Files[1].Error == nil {
		t.Fatalf("files = %+v", parsed.Files)
	}
}

func TestBatchHandler_AddFilesAndStart(t *testing.T) {
	t.Parallel()

	svc := &stubBatchService{
		addFilesFn: func(ctx context.Context, userID string, batchID string, files []domain.NewFile) (*domain.BatchProcess, []domain.FileRecord, error) {
			if batchID != "b-1" || len(files) != 2 {
				t.Errorf("AddFiles(%q, %d files)", batchID, len(files))
			}
			return &domain.BatchProcess{ID: batchID, TotalFiles: 3, Status: domain.BatchStatusCreated}, []domain.FileRecord{{ID: "f-2"}, {ID: "f-3"}}, nil
		},
		startProcessingFn: func(ctx context.Context, userID string, batchID string) (*domain.BatchProcess, error) {
			return &domain.BatchProcess{ID: batchID, TotalFiles: 3, Status: domain.BatchStatusCreated}, nil
		},
	}
	app := newBatchTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/batches/b-1/files", "user-1",
		`{"files":[{"fileName":"b.pdf","storageKey":"k/b"},{"fileName":"c.pdf","storageKey":"k/c"}]}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("add files status = %d, body=%s", resp.StatusCode, string(body))
	}
	var added batchWithFilesResponse
	if err := json.Unmarshal(body, &added); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if added.TotalFiles != 3 || len(added.Files) != 2 {
		t.Fatalf("response = %+v", added)
	}

	resp, body = performRequest(t, app, http.MethodPost, "/v1/batches/b-1/start", "user-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("start status = %d, body=%s", resp.StatusCode, string(body))
	}
}

func TestNewBatchHandler_RequiresService(t *testing.T) {
	t.Parallel()

	if _, err := NewBatchHandler(nil); err == nil {
		t.Fatal("NewBatchHandler(nil) should fail")
	}
}
