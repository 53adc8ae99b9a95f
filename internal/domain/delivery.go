package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DeliveryStatus represents the state of one webhook delivery lineage.
type DeliveryStatus string

const (
	DeliveryStatusPending      DeliveryStatus = "PENDING"
	DeliveryStatusSuccess      DeliveryStatus = "SUCCESS"
	DeliveryStatusFailed       DeliveryStatus = "FAILED"
	DeliveryStatusRetryPending DeliveryStatus = "RETRY_PENDING"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusSuccess, DeliveryStatusFailed, DeliveryStatusRetryPending:
		return true
	}
	return false
}

// IsTerminal reports whether s is SUCCESS or FAILED.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusSuccess || s == DeliveryStatusFailed
}

func ParseDeliveryStatusFromString(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery status %q", ErrValidation, s)
	}
	return st, nil
}

// RetryableDeliveryStatuses are the states the retry sweep picks up.
var RetryableDeliveryStatuses = []DeliveryStatus{DeliveryStatusPending, DeliveryStatusRetryPending}

// DeliveryPayload is the JSON body posted to a webhook.
type DeliveryPayload struct {
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// WebhookDelivery is one delivery lineage for a (webhook, event) pair. NextAttempt is
// only meaningful while the status is PENDING or RETRY_PENDING.
type WebhookDelivery struct {
	ID          string
	WebhookID   string
	UserID      string
	Event       string
	Payload     DeliveryPayload
	Status      DeliveryStatus
	RetryCount  int
	LastError   *string
	LastAttempt *time.Time
	NextAttempt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MarkSuccess moves the delivery to SUCCESS.
func (d *WebhookDelivery) MarkSuccess(at time.Time) {
	d.Status = DeliveryStatusSuccess
	d.LastAttempt = &at
	d.LastError = nil
	d.NextAttempt = nil
}

// MarkFailed moves the delivery to terminal FAILED.
func (d *WebhookDelivery) MarkFailed(at time.Time, reason string) {
	d.Status = DeliveryStatusFailed
	d.LastAttempt = &at
	d.LastError = &reason
	d.NextAttempt = nil
}

// ScheduleRetry increments the retry counter and moves the delivery to RETRY_PENDING.
func (d *WebhookDelivery) ScheduleRetry(at time.Time, next time.Time, reason string) {
	d.Status = DeliveryStatusRetryPending
	d.RetryCount++
	d.LastAttempt = &at
	d.LastError = &reason
	d.NextAttempt = &next
}
