package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"github.com/kursadbilgin/docflow-engine/internal/observability"
	"github.com/kursadbilgin/docflow-engine/internal/queue"
	"github.com/kursadbilgin/docflow-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultMaxBatchFiles = 500

// BatchDetails is a batch with its files.
type BatchDetails struct {
	Batch *domain.BatchProcess
	Files []domain.FileRecord
}

// BatchCompletedPayload is the payload of the batch.completed event.
type BatchCompletedPayload struct {
	BatchID        string       `json:"batchId"`
	TemplateID     string       `json:"templateId"`
	TotalFiles     int          `json:"totalFiles"`
	ProcessedFiles int          `json:"processedFiles"`
	CompletedFiles int          `json:"completedFiles"`
	FailedFiles    int          `json:"failedFiles"`
	Files          []FileOutput `json:"files"`
}

type FileOutput struct {
	FileID   string            `json:"fileId"`
	FileName string            `json:"fileName"`
	Status   domain.FileStatus `json:"status"`
	Result   json.RawMessage   `json:"result,omitempty"`
	Error    *string           `json:"error,omitempty"`
}

// BatchCancelledPayload is the payload of the batch.cancelled event.
type BatchCancelledPayload struct {
	BatchID        string `json:"batchId"`
	TemplateID     string `json:"templateId"`
	TotalFiles     int    `json:"totalFiles"`
	ProcessedFiles int    `json:"processedFiles"`
}

// FileFailedPayload is the payload of the file.failed event.
type FileFailedPayload struct {
	BatchID  string  `json:"batchId"`
	FileID   string  `json:"fileId"`
	FileName string  `json:"fileName"`
	Error    *string `json:"error,omitempty"`
}

// BatchCoordinator owns the batch lifecycle: fan-out of files to the processing
// queue and aggregation of file results into a single completion.
type BatchCoordinator struct {
	batches   repository.BatchRepository
	files     repository.FileRepository
	templates repository.TemplateRepository
	publisher queue.Publisher
	notifier  Notifier
	maxFiles  int
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewBatchCoordinator(
	batches repository.BatchRepository,
	files repository.FileRepository,
	templates repository.TemplateRepository,
	publisher queue.Publisher,
	notifier Notifier,
	maxFiles int,
	logger *zap.Logger,
) (*BatchCoordinator, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if files == nil {
		return nil, fmt.Errorf("file repository is required")
	}
	if templates == nil {
		return nil, fmt.Errorf("template repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if maxFiles < 1 {
		maxFiles = defaultMaxBatchFiles
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchCoordinator{
		batches:   batches,
		files:     files,
		templates: templates,
		publisher: publisher,
		notifier:  notifier,
		maxFiles:  maxFiles,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *BatchCoordinator) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// CreateBatch persists a CREATED batch with one PENDING file per input and enqueues a
// message per file. Publish failures are left to the requeuer.
func (s *BatchCoordinator) CreateBatch(
	ctx context.Context,
	userID string,
	templateID string,
	files []domain.NewFile,
) (*domain.BatchProcess, []domain.FileRecord, error) {
	userID = strings.TrimSpace(userID)
	templateID = strings.TrimSpace(templateID)
	if userID == "" {
		return nil, nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if templateID == "" {
		return nil, nil, fmt.Errorf("%w: template id is required", domain.ErrValidation)
	}
	if err := s.validateFiles(files, 0); err != nil {
		return nil, nil, err
	}

	if _, err := s.templates.GetAccessible(ctx, userID, templateID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: template %s not found", domain.ErrValidation, templateID)
		}
		return nil, nil, persistenceError("load template", err)
	}

	now := s.now().UTC()
	batch := &domain.BatchProcess{
		ID:         uuid.NewString(),
		UserID:     userID,
		TemplateID: templateID,
		TotalFiles: len(files),
		Status:     domain.BatchStatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	records := newFileRecords(batch, files, now)

	if err := s.batches.CreateWithFiles(ctx, batch, records); err != nil {
		return nil, nil, persistenceError("create batch", err)
	}
	if s.metrics != nil {
		s.metrics.IncBatchCreated()
	}

	s.publishFiles(ctx, records)

	s.logger.Info("batch created",
		zap.String("batchId", batch.ID),
		zap.String("userId", userID),
		zap.String("templateId", templateID),
		zap.Int("totalFiles", batch.TotalFiles),
	)
	return batch, derefFiles(records), nil
}

// AddFiles appends files to a CREATED batch.
func (s *BatchCoordinator) AddFiles(
	ctx context.Context,
	userID string,
	batchID string,
	files []domain.NewFile,
) (*domain.BatchProcess, []domain.FileRecord, error) {
	batch, err := s.ownedBatch(ctx, userID, batchID)
	if err != nil {
		return nil, nil, err
	}
	if batch.Status != domain.BatchStatusCreated {
		return nil, nil, fmt.Errorf("%w: batch %s is %s: files can only be added to a CREATED batch",
			domain.ErrInvalidState, batch.ID, batch.Status)
	}
	if err := s.validateFiles(files, batch.TotalFiles); err != nil {
		return nil, nil, err
	}

	records := newFileRecords(batch, files, s.now().UTC())
	updated, err := s.batches.AddFiles(ctx, batch.ID, records)
	if err != nil {
		return nil, nil, persistenceError("add files", err)
	}

	s.publishFiles(ctx, records)

	s.logger.Info("files added to batch",
		zap.String("batchId", updated.ID),
		zap.Int("added", len(records)),
		zap.Int("totalFiles", updated.TotalFiles),
	)
	return updated, derefFiles(records), nil
}

// StartProcessing closes a CREATED batch to further files.
func (s *BatchCoordinator) StartProcessing(ctx context.Context, userID string, batchID string) (*domain.BatchProcess, error) {
	batch, err := s.ownedBatch(ctx, userID, batchID)
	if err != nil {
		return nil, err
	}
	if err := s.batches.MarkProcessing(ctx, batch.ID); err != nil {
		return nil, persistenceError("start batch", err)
	}

	updated, err := s.batches.GetByID(ctx, batch.ID)
	if err != nil {
		return nil, persistenceError("load batch", err)
	}
	return updated, nil
}

func (s *BatchCoordinator) GetBatch(ctx context.Context, userID string, batchID string) (*BatchDetails, error) {
	batch, err := s.ownedBatch(ctx, userID, batchID)
	if err != nil {
		return nil, err
	}

	files, err := s.files.ListByBatch(ctx, batch.ID)
	if err != nil {
		return nil, persistenceError("list batch files", err)
	}
	return &BatchDetails{Batch: batch, Files: files}, nil
}

// ReportFileDone folds a file's terminal status into its batch. Only the call that
// counts the file has any effect, and only the call that completes the batch emits
// batch.completed. Notification failures are logged and never returned.
func (s *BatchCoordinator) ReportFileDone(ctx context.Context, batchID string, outcome domain.FileOutcome) error {
	result, err := s.batches.RecordFileDone(ctx, batchID, outcome.FileID)
	if err != nil {
		return persistenceError("record file done", err)
	}
	if !result.Counted {
		s.logger.Debug("file already counted or not done",
			zap.String("batchId", batchID),
			zap.String("fileId", outcome.FileID),
		)
		return nil
	}

	if outcome.Status == domain.FileStatusFailed {
		s.notifyFileFailed(ctx, result.Batch, outcome.FileID)
	}

	if !result.Completed {
		return nil
	}

	if s.metrics != nil {
		s.metrics.IncBatchCompleted()
	}
	s.logger.Info("batch completed",
		zap.String("batchId", result.Batch.ID),
		zap.Int("totalFiles", result.Batch.TotalFiles),
	)
	s.notifyBatchCompleted(ctx, result.Batch)
	return nil
}

// Cancel moves an open batch to CANCELLED. Files already queued still run; their
// reports never complete the batch.
func (s *BatchCoordinator) Cancel(ctx context.Context, userID string, batchID string) (*domain.BatchProcess, error) {
	batch, err := s.ownedBatch(ctx, userID, batchID)
	if err != nil {
		return nil, err
	}

	cancelled, err := s.batches.Cancel(ctx, batch.ID)
	if err != nil {
		return nil, persistenceError("cancel batch", err)
	}
	if s.metrics != nil {
		s.metrics.IncBatchCancelled()
	}

	s.logger.Info("batch cancelled",
		zap.String("batchId", cancelled.ID),
		zap.Int("processedFiles", cancelled.ProcessedFiles),
		zap.Int("totalFiles", cancelled.TotalFiles),
	)
	s.notify(ctx, cancelled.UserID, domain.EventBatchCancelled, BatchCancelledPayload{
		BatchID:        cancelled.ID,
		TemplateID:     cancelled.TemplateID,
		TotalFiles:     cancelled.TotalFiles,
		ProcessedFiles: cancelled.ProcessedFiles,
	})
	return cancelled, nil
}

func (s *BatchCoordinator) notifyBatchCompleted(ctx context.Context, batch *domain.BatchProcess) {
	files, err := s.files.ListByBatch(ctx, batch.ID)
	if err != nil {
		s.logger.Error("failed to load files for batch completed event",
			zap.String("batchId", batch.ID),
			zap.Error(err),
		)
		return
	}

	payload := BatchCompletedPayload{
		BatchID:        batch.ID,
		TemplateID:     batch.TemplateID,
		TotalFiles:     batch.TotalFiles,
		ProcessedFiles: batch.ProcessedFiles,
		Files:          make([]FileOutput, 0, len(files)),
	}
	for _, f := range files {
		switch f.Status {
		case domain.FileStatusCompleted:
			payload.CompletedFiles++
		case domain.FileStatusFailed:
			payload.FailedFiles++
		}
		payload.Files = append(payload.Files, FileOutput{
			FileID:   f.ID,
			FileName: f.FileName,
			Status:   f.Status,
			Result:   f.Result,
			Error:    f.Error,
		})
	}

	s.notify(ctx, batch.UserID, domain.EventBatchCompleted, payload)
}

func (s *BatchCoordinator) notifyFileFailed(ctx context.Context, batch *domain.BatchProcess, fileID string) {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		s.logger.Error("failed to load file for file failed event",
			zap.String("fileId", fileID),
			zap.Error(err),
		)
		return
	}

	s.notify(ctx, batch.UserID, domain.EventFileFailed, FileFailedPayload{
		BatchID:  batch.ID,
		FileID:   file.ID,
		FileName: file.FileName,
		Error:    file.Error,
	})
}

func (s *BatchCoordinator) notify(ctx context.Context, userID string, event string, payload any) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Notify(ctx, userID, event, payload); err != nil {
		s.logger.Error("failed to notify webhooks",
			zap.String("userId", userID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

func (s *BatchCoordinator) ownedBatch(ctx context.Context, userID string, batchID string) (*domain.BatchProcess, error) {
	userID = strings.TrimSpace(userID)
	batchID = strings.TrimSpace(batchID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if batchID == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
		}
		return nil, persistenceError("load batch", err)
	}
	if batch.UserID != userID {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}
	return batch, nil
}

func (s *BatchCoordinator) validateFiles(files []domain.NewFile, existing int) error {
	if len(files) == 0 {
		return fmt.Errorf("%w: at least one file is required", domain.ErrValidation)
	}
	if existing+len(files) > s.maxFiles {
		return fmt.Errorf("%w: batch size exceeds %d files", domain.ErrValidation, s.maxFiles)
	}
	for _, f := range files {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *BatchCoordinator) publishFiles(ctx context.Context, files []*domain.FileRecord) {
	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	for _, f := range files {
		msg := queue.FileMessage{
			FileID:        f.ID,
			BatchID:       f.BatchID,
			CorrelationID: correlationID,
		}
		if err := s.publisher.Publish(ctx, queue.FileProcessingQueue, msg); err != nil {
			s.logger.Error("failed to publish file message",
				zap.String("fileId", f.ID),
				zap.String("batchId", f.BatchID),
				zap.Error(err),
			)
		}
	}
}

func newFileRecords(batch *domain.BatchProcess, files []domain.NewFile, now time.Time) []*domain.FileRecord {
	records := make([]*domain.FileRecord, 0, len(files))
	for _, f := range files {
		records = append(records, &domain.FileRecord{
			ID:         uuid.NewString(),
			BatchID:    batch.ID,
			TemplateID: batch.TemplateID,
			UserID:     batch.UserID,
			FileName:   strings.TrimSpace(f.FileName),
			StorageKey: strings.TrimSpace(f.StorageKey),
			Status:     domain.FileStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	return records
}

func derefFiles(files []*domain.FileRecord) []domain.FileRecord {
	out := make([]domain.FileRecord, 0, len(files))
	for _, f := range files {
		out = append(out, *f)
	}
	return out
}
