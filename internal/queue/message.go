package queue

import (
	"fmt"
	"strings"
)

// FileMessage is the broker payload for file processing.
type FileMessage struct {
	FileID        string `json:"fileId"`
	BatchID       string `json:"batchId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (m FileMessage) Validate() error {
	if strings.TrimSpace(m.FileID) == "" {
		return fmt.Errorf("fileId is required")
	}
	return nil
}
