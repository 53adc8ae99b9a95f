package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"github.com/kursadbilgin/docflow-engine/internal/service"
)

// HeaderUserID carries the authenticated caller. Authentication itself happens in
// front of this service.
const HeaderUserID = "X-User-ID"

type BatchService interface {
	CreateBatch(ctx context.Context, userID string, templateID string, files []domain.NewFile) (*domain.BatchProcess, []domain.FileRecord, error)
	AddFiles(ctx context.Context, userID string, batchID string, files []domain.NewFile) (*domain.BatchProcess, []domain.FileRecord, error)
	StartProcessing(ctx context.Context, userID string, batchID string) (*domain.BatchProcess, error)
	GetBatch(ctx context.Context, userID string, batchID string) (*service.BatchDetails, error)
	Cancel(ctx context.Context, userID string, batchID string) (*domain.BatchProcess, error)
}

type BatchHandler struct {
	service BatchService
}

func NewBatchHandler(service BatchService) (*BatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	return &BatchHandler{service: service}, nil
}

func RegisterBatchRoutes(router fiber.Router, service BatchService) error {
	h, err := NewBatchHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", requireUser, h.CreateBatch)
	v1.Post("/batches/:id/files", requireUser, h.AddFiles)
	v1.Post("/batches/:id/start", requireUser, h.StartProcessing)
	v1.Get("/batches/:id", requireUser, h.GetBatch)
	v1.Post("/batches/:id/cancel", requireUser, h.CancelBatch)

	return nil
}

type fileRequest struct {
	FileName   string `json:"fileName"`
	StorageKey string `json:"storageKey"`
}

type createBatchRequest struct {
	TemplateID string        `json:"templateId"`
	Files      []fileRequest `json:"files"`
}

type addFilesRequest struct {
	Files []fileRequest `json:"files"`
}

type batchResponse struct {
	ID             string     `json:"id"`
	TemplateID     string     `json:"templateId"`
	Status         string     `json:"status"`
	TotalFiles     int        `json:"totalFiles"`
	ProcessedFiles int        `json:"processedFiles"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	CancelledAt    *time.Time `json:"cancelledAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type fileResponse struct {
	ID          string          `json:"id"`
	FileName    string          `json:"fileName"`
	StorageKey  string          `json:"storageKey"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	ProcessedAt *time.Time      `json:"processedAt,omitempty"`
}

type batchWithFilesResponse struct {
	batchResponse
	Files []fileResponse `json:"files"`
}

func (h *BatchHandler) CreateBatch(c *fiber.Ctx) error {
	var req createBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	batch, files, err := h.service.CreateBatch(c.UserContext(), requestUserID(c), req.TemplateID, toNewFiles(req.Files))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toBatchWithFilesResponse(batch, files))
}

func (h *BatchHandler) AddFiles(c *fiber.Ctx) error {
	var req addFilesRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	batch, files, err := h.service.AddFiles(c.UserContext(), requestUserID(c), c.Params("id"), toNewFiles(req.Files))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBatchWithFilesResponse(batch, files))
}

func (h *BatchHandler) StartProcessing(c *fiber.Ctx) error {
	batch, err := h.service.StartProcessing(c.UserContext(), requestUserID(c), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	details, err := h.service.GetBatch(c.UserContext(), requestUserID(c), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBatchWithFilesResponse(details.Batch, details.Files))
}

func (h *BatchHandler) CancelBatch(c *fiber.Ctx) error {
	batch, err := h.service.Cancel(c.UserContext(), requestUserID(c), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func toNewFiles(files []fileRequest) []domain.NewFile {
	out := make([]domain.NewFile, 0, len(files))
	for _, f := range files {
		out = append(out, domain.NewFile{FileName: f.FileName, StorageKey: f.StorageKey})
	}
	return out
}

func toBatchResponse(b *domain.BatchProcess) batchResponse {
	if b == nil {
		return batchResponse{}
	}

	return batchResponse{
		ID:             b.ID,
		TemplateID:     b.TemplateID,
		Status:         b.Status.String(),
		TotalFiles:     b.TotalFiles,
		ProcessedFiles: b.ProcessedFiles,
		CompletedAt:    b.CompletedAt,
		CancelledAt:    b.CancelledAt,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func toBatchWithFilesResponse(b *domain.BatchProcess, files []domain.FileRecord) batchWithFilesResponse {
	resp := batchWithFilesResponse{
		batchResponse: toBatchResponse(b),
		Files:         make([]fileResponse, 0, len(files)),
	}
	for _, f := range files {
		resp.Files = append(resp.Files, fileResponse{
			ID:          f.ID,
			FileName:    f.FileName,
			StorageKey:  f.StorageKey,
			Status:      f.Status.String(),
			Result:      f.Result,
			Error:       f.Error,
			ProcessedAt: f.ProcessedAt,
		})
	}
	return resp
}

func requestUserID(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Get(HeaderUserID))
}

func requireUser(c *fiber.Ctx) error {
	if requestUserID(c) == "" {
		return fiber.NewError(fiber.StatusUnauthorized, HeaderUserID+" header is required")
	}
	return c.Next()
}
