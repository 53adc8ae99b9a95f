package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"github.com/kursadbilgin/docflow-engine/internal/observability"
	"github.com/kursadbilgin/docflow-engine/internal/provider"
	"github.com/kursadbilgin/docflow-engine/internal/queue"
	"github.com/kursadbilgin/docflow-engine/internal/repository"
	"github.com/kursadbilgin/docflow-engine/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency     = 1
	defaultProcessAttempts   = 3
	defaultProcessRetryDelay = 500 * time.Millisecond
	batchCancelledReason     = "batch cancelled"
)

// FileDoneReporter receives a file's terminal status once it is durably recorded.
type FileDoneReporter interface {
	ReportFileDone(ctx context.Context, batchID string, outcome domain.FileOutcome) error
}

type FileWorkerOptions struct {
	Concurrency              int
	RecordResultsAfterCancel bool
	ProcessAttempts          int
	ProcessRetryDelay        time.Duration
}

// FileWorker consumes file-processing messages and runs the document processor.
type FileWorker struct {
	files       repository.FileRepository
	batches     repository.BatchRepository
	storage     storage.FileStorage
	processor   provider.DocumentProcessor
	reporter    FileDoneReporter
	consumer    queue.Consumer
	concurrency int

	recordResultsAfterCancel bool
	processAttempts          int
	processRetryDelay        time.Duration

	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewFileWorker(
	files repository.FileRepository,
	batches repository.BatchRepository,
	fileStorage storage.FileStorage,
	processor provider.DocumentProcessor,
	reporter FileDoneReporter,
	consumer queue.Consumer,
	opts FileWorkerOptions,
	logger *zap.Logger,
) (*FileWorker, error) {
	if files == nil {
		return nil, fmt.Errorf("file repository is required")
	}
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if fileStorage == nil {
		return nil, fmt.Errorf("file storage is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("document processor is required")
	}
	if reporter == nil {
		return nil, fmt.Errorf("file done reporter is required")
	}
	if opts.Concurrency < minWorkerConcurrency {
		opts.Concurrency = minWorkerConcurrency
	}
	if opts.ProcessAttempts < 1 {
		opts.ProcessAttempts = defaultProcessAttempts
	}
	if opts.ProcessRetryDelay <= 0 {
		opts.ProcessRetryDelay = defaultProcessRetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FileWorker{
		files:                    files,
		batches:                  batches,
		storage:                  fileStorage,
		processor:                processor,
		reporter:                 reporter,
		consumer:                 consumer,
		concurrency:              opts.Concurrency,
		recordResultsAfterCancel: opts.RecordResultsAfterCancel,
		processAttempts:          opts.ProcessAttempts,
		processRetryDelay:        opts.ProcessRetryDelay,
		logger:                   logger,
		now:                      time.Now,
	}, nil
}

func (s *FileWorker) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the work queues until context cancellation.
func (s *FileWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.consumer == nil {
		return fmt.Errorf("queue consumer is required")
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.Handle)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

// Handle processes one file. It is safe to call again for the same file: a file in a
// terminal state is only reported when it was never folded into its batch.
func (s *FileWorker) Handle(ctx context.Context, msg queue.FileMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("fileId", msg.FileID))

	file, err := s.files.GetByID(ctx, msg.FileID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("file not found, dropping message")
			return fmt.Errorf("%w: file %s", domain.ErrNotFound, msg.FileID)
		}
		return persistenceError("load file", err)
	}

	if file.Status == domain.FileStatusPending {
		moved, err := s.files.MarkProcessing(ctx, file.ID)
		if err != nil {
			return persistenceError("mark file processing", err)
		}
		if !moved {
			if file, err = s.files.GetByID(ctx, file.ID); err != nil {
				return persistenceError("reload file", err)
			}
		}
	}

	if file.Status.IsDone() {
		if file.Counted {
			logger.Debug("file already processed and counted")
			return nil
		}
		return s.report(ctx, file)
	}

	if s.metrics != nil {
		s.metrics.IncWorkerInFlight(queue.FileProcessingQueue)
		defer s.metrics.DecWorkerInFlight(queue.FileProcessingQueue)
	}

	start := s.now()
	outcome, err := s.run(ctx, file)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ObserveFileProcessDuration(s.now().Sub(start))
	}

	if outcome.err != nil {
		logger.Warn("file processing failed", zap.String("batchId", file.BatchID), zap.Error(outcome.err))
	}
	return s.finish(ctx, file, outcome)
}

// processOutcome is the processor result for a file. err is the failure recorded on
// the file, not an infrastructure error.
type processOutcome struct {
	result json.RawMessage
	err    error
}

// run invokes the processor. A returned error means the message must be redelivered.
func (s *FileWorker) run(ctx context.Context, file *domain.FileRecord) (processOutcome, error) {
	if !s.recordResultsAfterCancel {
		batch, err := s.batches.GetByID(ctx, file.BatchID)
		if err != nil {
			return processOutcome{}, persistenceError("load batch", err)
		}
		if batch.Status == domain.BatchStatusCancelled {
			return processOutcome{err: errors.New(batchCancelledReason)}, nil
		}
	}

	content, err := s.storage.Get(ctx, file.StorageKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
			return processOutcome{err: fmt.Errorf("failed to fetch document: %w", err)}, nil
		}
		return processOutcome{}, fmt.Errorf("failed to fetch document %s: %w", file.StorageKey, err)
	}

	result, procErr := s.process(ctx, provider.ProcessRequest{
		FileID:     file.ID,
		FileName:   file.FileName,
		TemplateID: file.TemplateID,
		Content:    content,
	})
	if procErr != nil && ctx.Err() != nil {
		return processOutcome{}, ctx.Err()
	}
	return processOutcome{result: result, err: procErr}, nil
}

func (s *FileWorker) process(ctx context.Context, req provider.ProcessRequest) (json.RawMessage, error) {
	for attempt := 1; ; attempt++ {
		result, err := s.processor.Process(ctx, req)
		if err == nil || !provider.IsTransient(err) || attempt >= s.processAttempts {
			return result, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * s.processRetryDelay):
		}
	}
}

func (s *FileWorker) finish(ctx context.Context, file *domain.FileRecord, outcome processOutcome) error {
	var moved bool
	var err error
	if outcome.err == nil {
		moved, err = s.files.Complete(ctx, file.ID, outcome.result)
	} else {
		moved, err = s.files.Fail(ctx, file.ID, outcome.err.Error())
	}
	if err != nil {
		return persistenceError("record file result", err)
	}

	if moved {
		status := domain.FileStatusCompleted
		if outcome.err != nil {
			status = domain.FileStatusFailed
		}
		file.Status = status
		if s.metrics != nil {
			s.metrics.IncFileProcessed(string(status))
		}
	} else {
		if file, err = s.files.GetByID(ctx, file.ID); err != nil {
			return persistenceError("reload file", err)
		}
	}

	return s.report(ctx, file)
}

func (s *FileWorker) report(ctx context.Context, file *domain.FileRecord) error {
	if !file.Status.IsDone() {
		return fmt.Errorf("%w: file %s is %s", domain.ErrInvalidState, file.ID, file.Status)
	}
	return s.reporter.ReportFileDone(ctx, file.BatchID, domain.FileOutcome{
		FileID: file.ID,
		Status: file.Status,
	})
}
