package queue

import (
	"errors"
	"fmt"
	"testing"

	"github.com/kursadbilgin/docflow-engine/internal/domain"
)

func TestQueueNames(t *testing.T) {
	work := WorkQueueNames()
	if len(work) != 1 || work[0] != "file.processing" {
		t.Fatalf("WorkQueueNames = %v, want [file.processing]", work)
	}

	dlq := DLQNames()
	if len(dlq) != 1 || dlq[0] != "dlq.file.processing" {
		t.Fatalf("DLQNames = %v, want [dlq.file.processing]", dlq)
	}
}

func TestDLQName(t *testing.T) {
	if got := DLQName(FileProcessingQueue); got != "dlq.file.processing" {
		t.Fatalf("DLQName = %s, want dlq.file.processing", got)
	}
}

func TestFileMessageValidate(t *testing.T) {
	msg := FileMessage{FileID: "f1", BatchID: "b1"}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.FileID = "  "
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty file id")
	}
}

func TestDispositionFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want disposition
	}{
		{name: "success", err: nil, want: dispositionAck},
		{name: "missing file", err: fmt.Errorf("load file: %w", domain.ErrNotFound), want: dispositionReject},
		{name: "invalid payload", err: domain.ErrValidation, want: dispositionReject},
		{name: "persistence", err: fmt.Errorf("%w: db down", domain.ErrPersistence), want: dispositionRequeue},
		{name: "unknown", err: errors.New("boom"), want: dispositionRequeue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dispositionFor(tt.err); got != tt.want {
				t.Fatalf("dispositionFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
