package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FileStatus represents the lifecycle state of a single file within a batch.
type FileStatus string

const (
	FileStatusPending    FileStatus = "PENDING"
	FileStatusProcessing FileStatus = "PROCESSING"
	FileStatusCompleted  FileStatus = "COMPLETED"
	FileStatusFailed     FileStatus = "FAILED"
)

func (s FileStatus) String() string { return string(s) }

func (s FileStatus) IsValid() bool {
	switch s {
	case FileStatusPending, FileStatusProcessing, FileStatusCompleted, FileStatusFailed:
		return true
	}
	return false
}

// IsDone reports whether the file counts as done for batch aggregation.
func (s FileStatus) IsDone() bool {
	return s == FileStatusCompleted || s == FileStatusFailed
}

// DoneFileStatuses lists the statuses that count towards a batch's processed files.
var DoneFileStatuses = []FileStatus{FileStatusCompleted, FileStatusFailed}

const (
	MaxFileNameLength = 255
)

// FileRecord is one file within a batch. Counted is set once the file's terminal
// status has been folded into the batch counter.
type FileRecord struct {
	ID          string
	BatchID     string
	TemplateID  string
	UserID      string
	FileName    string
	StorageKey  string
	Status      FileStatus
	Result      json.RawMessage
	Error       *string
	Counted     bool
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewFile describes a file submitted with CreateBatch or AddFiles.
type NewFile struct {
	FileName   string
	StorageKey string
}

func (f NewFile) Validate() error {
	name := strings.TrimSpace(f.FileName)
	if name == "" {
		return fmt.Errorf("%w: file name is required", ErrValidation)
	}
	if len([]rune(name)) > MaxFileNameLength {
		return fmt.Errorf("%w: file name exceeds %d characters", ErrValidation, MaxFileNameLength)
	}
	if strings.TrimSpace(f.StorageKey) == "" {
		return fmt.Errorf("%w: storage key is required for %q", ErrValidation, name)
	}
	return nil
}

// FileOutcome is what a worker reports after durably recording a file's terminal status.
type FileOutcome struct {
	FileID string
	Status FileStatus
}
