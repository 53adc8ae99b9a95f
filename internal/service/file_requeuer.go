package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/docflow-engine/internal/queue"
	"github.com/kursadbilgin/docflow-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRequeueInterval = time.Minute
	defaultRequeueAfter    = 10 * time.Minute
	defaultRequeueLimit    = 100
)

// FileRequeuer periodically republishes files of open batches that stayed PENDING,
// e.g. because publishing failed after the batch was committed.
type FileRequeuer struct {
	files        repository.FileRepository
	publisher    queue.Publisher
	logger       *zap.Logger
	interval     time.Duration
	requeueAfter time.Duration
	limit        int
	now          func() time.Time
}

func NewFileRequeuer(
	files repository.FileRepository,
	publisher queue.Publisher,
	interval time.Duration,
	requeueAfter time.Duration,
	limit int,
	logger *zap.Logger,
) (*FileRequeuer, error) {
	if files == nil {
		return nil, fmt.Errorf("file repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultRequeueInterval
	}
	if requeueAfter <= 0 {
		requeueAfter = defaultRequeueAfter
	}
	if limit <= 0 {
		limit = defaultRequeueLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FileRequeuer{
		files:        files,
		publisher:    publisher,
		logger:       logger,
		interval:     interval,
		requeueAfter: requeueAfter,
		limit:        limit,
		now:          time.Now,
	}, nil
}

func (s *FileRequeuer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.Requeue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("file requeuer initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Requeue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("file requeuer scan failed", zap.Error(err))
			}
		}
	}
}

// Requeue publishes stale PENDING files and returns how many were republished.
func (s *FileRequeuer) Requeue(ctx context.Context) (int, error) {
	stale, err := s.files.GetStalePending(ctx, s.now().Add(-s.requeueAfter), s.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch stale pending files: %w", err)
	}

	requeued := 0
	for i := range stale {
		file := stale[i]
		msg := queue.FileMessage{
			FileID:  file.ID,
			BatchID: file.BatchID,
		}
		if err := s.publisher.Publish(ctx, queue.FileProcessingQueue, msg); err != nil {
			s.logger.Error("failed to requeue pending file",
				zap.String("fileId", file.ID),
				zap.String("batchId", file.BatchID),
				zap.Error(err),
			)
			continue
		}

		if err := s.files.Touch(ctx, file.ID); err != nil {
			s.logger.Error("failed to touch requeued file",
				zap.String("fileId", file.ID),
				zap.Error(err),
			)
			continue
		}
		requeued++
	}

	if requeued > 0 {
		s.logger.Info("requeued pending files", zap.Int("count", requeued))
	}
	return requeued, nil
}
