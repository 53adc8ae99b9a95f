package domain

import "time"

// DeliveryAttempt records a single outbound call made for a webhook delivery.
type DeliveryAttempt struct {
	ID            string
	DeliveryID    string
	AttemptNumber int
	StatusCode    *int
	ResponseBody  *string
	Error         *string
	DurationMs    int64
	CreatedAt     time.Time
}
