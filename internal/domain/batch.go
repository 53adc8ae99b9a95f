package domain

import (
	"fmt"
	"strings"
	"time"
)

// BatchStatus represents the processing state of a batch.
type BatchStatus string

const (
	BatchStatusCreated    BatchStatus = "CREATED"
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusCancelled  BatchStatus = "CANCELLED"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusCreated, BatchStatusProcessing, BatchStatusCompleted, BatchStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusCancelled
}

func ParseBatchStatusFromString(s string) (BatchStatus, error) {
	st := BatchStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid batch status %q", ErrValidation, s)
	}
	return st, nil
}

// OpenBatchStatuses are the states from which a batch may still complete or be cancelled.
var OpenBatchStatuses = []BatchStatus{BatchStatusCreated, BatchStatusProcessing}

// BatchProcess is one user-submitted job. Files reference it by BatchID; the batch
// never embeds them.
type BatchProcess struct {
	ID             string
	UserID         string
	TemplateID     string
	TotalFiles     int
	ProcessedFiles int
	Status         BatchStatus
	CompletedAt    *time.Time
	CancelledAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Remaining returns how many files have not yet reported done.
func (b *BatchProcess) Remaining() int {
	if b == nil {
		return 0
	}
	return max(b.TotalFiles-b.ProcessedFiles, 0)
}
