package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"github.com/kursadbilgin/docflow-engine/internal/queue"
	"go.uber.org/zap"
)

func TestFileRequeuerRequeue(t *testing.T) {
	t.Parallel()

	var gotOlderThan time.Time
	var gotLimit int
	var touched []string
	files := &fakeFileRepo{
		getStalePendingFn: func(ctx context.Context, olderThan time.Time, limit int) ([]domain.FileRecord, error) {
			gotOlderThan = olderThan
			gotLimit = limit
			return []domain.FileRecord{
				{ID: "f-1", BatchID: "b-1", Status: domain.FileStatusPending},
				{ID: "f-2", BatchID: "b-1", Status: domain.FileStatusPending},
				{ID: "f-3", BatchID: "b-2", Status: domain.FileStatusPending},
			}, nil
		},
		touchFn: func(ctx context.Context, id string) error {
			touched = append(touched, id)
			return nil
		},
	}
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.FileMessage) error {
			if queueName != queue.FileProcessingQueue {
				t.Fatalf("queue = %q", queueName)
			}
			if msg.FileID == "f-2" {
				return errors.New("channel closed")
			}
			return nil
		},
	}

	requeuer, err := NewFileRequeuer(files, publisher, time.Minute, 10*time.Minute, 25, zap.NewNop())
	if err != nil {
		t.Fatalf("NewFileRequeuer() error = %v", err)
	}
	requeuer.now = fixedClock

	n, err := requeuer.Requeue(context.Background())
	if err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("requeued = %d, want 2", n)
	}
	if !gotOlderThan.Equal(fixedNow.Add(-10*time.Minute)) || gotLimit != 25 {
		t.Fatalf("GetStalePending(%v, %d)", gotOlderThan, gotLimit)
	}
	if len(touched) != 2 || touched[0] != "f-1" || touched[1] != "f-3" {
		t.Fatalf("touched = %v, want [f-1 f-3]", touched)
	}

	messages := publisher.messages()
	if len(messages) != 2 || messages[1].BatchID != "b-2" {
		t.Fatalf("messages = %+v", messages)
	}
}

func TestFileRequeuerRequeueLookupError(t *testing.T) {
	t.Parallel()

	files := &fakeFileRepo{
		getStalePendingFn: func(ctx context.Context, olderThan time.Time, limit int) ([]domain.FileRecord, error) {
			return nil, errors.New("db down")
		},
	}
	requeuer, err := NewFileRequeuer(files, &fakePublisher{}, 0, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewFileRequeuer() error = %v", err)
	}

	if _, err := requeuer.Requeue(context.Background()); err == nil {
		t.Fatal("Requeue() should fail when the lookup fails")
	}
	if requeuer.interval != defaultRequeueInterval || requeuer.requeueAfter != defaultRequeueAfter || requeuer.limit != defaultRequeueLimit {
		t.Fatalf("defaults = %s/%s/%d", requeuer.interval, requeuer.requeueAfter, requeuer.limit)
	}
}
