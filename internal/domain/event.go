package domain

import (
	"fmt"
	"strings"
)

// Event names emitted by the core.
const (
	EventBatchCompleted = "batch.completed"
	EventBatchCancelled = "batch.cancelled"
	EventFileFailed     = "file.failed"
)

var knownEvents = map[string]struct{}{
	EventBatchCompleted: {},
	EventBatchCancelled: {},
	EventFileFailed:     {},
}

func IsKnownEvent(event string) bool {
	_, ok := knownEvents[event]
	return ok
}

// NormalizeEvents trims, lowercases and de-duplicates a subscription's event set.
func NormalizeEvents(events []string) ([]string, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: at least one event is required", ErrValidation)
	}

	seen := make(map[string]struct{}, len(events))
	out := make([]string, 0, len(events))
	for _, raw := range events {
		event := strings.ToLower(strings.TrimSpace(raw))
		if !IsKnownEvent(event) {
			return nil, fmt.Errorf("%w: unknown event %q", ErrValidation, raw)
		}
		if _, ok := seen[event]; ok {
			continue
		}
		seen[event] = struct{}{}
		out = append(out, event)
	}
	return out, nil
}
