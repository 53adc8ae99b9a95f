package repository

import (
	"encoding/json"
	"time"

	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"gorm.io/datatypes"
)

// BatchModel is the persistence model for batch_processes.
type BatchModel struct {
	ID             string             `gorm:"type:uuid;primaryKey"`
	UserID         string             `gorm:"type:varchar(64);not null;index"`
	TemplateID     string             `gorm:"type:varchar(64);not null"`
	TotalFiles     int                `gorm:"not null;default:0"`
	ProcessedFiles int                `gorm:"not null;default:0"`
	Status         domain.BatchStatus `gorm:"type:varchar(20);not null"`
	CompletedAt    *time.Time
	CancelledAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (BatchModel) TableName() string {
	return "batch_processes"
}

// FileRecordModel is the persistence model for file_records.
type FileRecordModel struct {
	ID          string            `gorm:"type:uuid;primaryKey"`
	BatchID     string            `gorm:"type:uuid;not null;index"`
	TemplateID  string            `gorm:"type:varchar(64);not null"`
	UserID      string            `gorm:"type:varchar(64);not null"`
	FileName    string            `gorm:"type:varchar(255);not null"`
	StorageKey  string            `gorm:"type:varchar(1024);not null"`
	Status      domain.FileStatus `gorm:"type:varchar(20);not null"`
	Result      datatypes.JSON
	Error       *string `gorm:"type:text"`
	Counted     bool    `gorm:"not null;default:false"`
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (FileRecordModel) TableName() string {
	return "file_records"
}

// TemplateModel is the read-only persistence model for templates.
type TemplateModel struct {
	ID        string `gorm:"type:varchar(64);primaryKey"`
	UserID    string `gorm:"type:varchar(64);not null;index"`
	Name      string `gorm:"type:varchar(255);not null"`
	Public    bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
}

func (TemplateModel) TableName() string {
	return "templates"
}

// WebhookModel is the persistence model for webhooks.
type WebhookModel struct {
	ID            string               `gorm:"type:uuid;primaryKey"`
	UserID        string               `gorm:"type:varchar(64);not null;index"`
	URL           string               `gorm:"type:varchar(2048);not null"`
	Events        []string             `gorm:"type:text;serializer:json"`
	Status        domain.WebhookStatus `gorm:"type:varchar(20);not null"`
	AuthType      domain.AuthType      `gorm:"type:varchar(20);not null"`
	EncryptedAuth string               `gorm:"type:text"`
	Headers       map[string]string    `gorm:"type:text;serializer:json"`
	MaxRetries    int                  `gorm:"not null;default:3"`
	TimeoutMs     int64                `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (WebhookModel) TableName() string {
	return "webhooks"
}

// WebhookDeliveryModel is the persistence model for webhook_deliveries.
type WebhookDeliveryModel struct {
	ID          string                `gorm:"type:uuid;primaryKey"`
	WebhookID   string                `gorm:"type:uuid;not null;index"`
	UserID      string                `gorm:"type:varchar(64);not null"`
	Event       string                `gorm:"type:varchar(64);not null"`
	Payload     datatypes.JSON        `gorm:"not null"`
	Status      domain.DeliveryStatus `gorm:"type:varchar(20);not null"`
	RetryCount  int                   `gorm:"not null;default:0"`
	LastError   *string               `gorm:"type:text"`
	LastAttempt *time.Time
	NextAttempt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (WebhookDeliveryModel) TableName() string {
	return "webhook_deliveries"
}

// DeliveryAttemptModel is the persistence model for webhook_delivery_attempts.
type DeliveryAttemptModel struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	DeliveryID    string  `gorm:"type:uuid;not null;index"`
	AttemptNumber int     `gorm:"not null"`
	StatusCode    *int    `gorm:"type:int"`
	ResponseBody  *string `gorm:"type:text"`
	Error         *string `gorm:"type:text"`
	DurationMs    int64   `gorm:"not null;default:0"`
	CreatedAt     time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "webhook_delivery_attempts"
}

func batchModelFromDomain(b *domain.BatchProcess) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:             b.ID,
		UserID:         b.UserID,
		TemplateID:     b.TemplateID,
		TotalFiles:     b.TotalFiles,
		ProcessedFiles: b.ProcessedFiles,
		Status:         b.Status,
		CompletedAt:    b.CompletedAt,
		CancelledAt:    b.CancelledAt,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.BatchProcess {
	if m == nil {
		return nil
	}

	return &domain.BatchProcess{
		ID:             m.ID,
		UserID:         m.UserID,
		TemplateID:     m.TemplateID,
		TotalFiles:     m.TotalFiles,
		ProcessedFiles: m.ProcessedFiles,
		Status:         m.Status,
		CompletedAt:    m.CompletedAt,
		CancelledAt:    m.CancelledAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func fileModelFromDomain(f *domain.FileRecord) *FileRecordModel {
	if f == nil {
		return nil
	}

	var result datatypes.JSON
	if len(f.Result) > 0 {
		result = datatypes.JSON(f.Result)
	}

	return &FileRecordModel{
		ID:          f.ID,
		BatchID:     f.BatchID,
		TemplateID:  f.TemplateID,
		UserID:      f.UserID,
		FileName:    f.FileName,
		StorageKey:  f.StorageKey,
		Status:      f.Status,
		Result:      result,
		Error:       f.Error,
		Counted:     f.Counted,
		ProcessedAt: f.ProcessedAt,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

func fileModelToDomain(m *FileRecordModel) *domain.FileRecord {
	if m == nil {
		return nil
	}

	var result json.RawMessage
	if len(m.Result) > 0 {
		result = json.RawMessage(m.Result)
	}

	return &domain.FileRecord{
		ID:          m.ID,
		BatchID:     m.BatchID,
		TemplateID:  m.TemplateID,
		UserID:      m.UserID,
		FileName:    m.FileName,
		StorageKey:  m.StorageKey,
		Status:      m.Status,
		Result:      result,
		Error:       m.Error,
		Counted:     m.Counted,
		ProcessedAt: m.ProcessedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func templateModelToDomain(m *TemplateModel) *domain.Template {
	if m == nil {
		return nil
	}

	return &domain.Template{
		ID:        m.ID,
		UserID:    m.UserID,
		Name:      m.Name,
		Public:    m.Public,
		CreatedAt: m.CreatedAt,
	}
}

func webhookModelFromDomain(w *domain.Webhook) *WebhookModel {
	if w == nil {
		return nil
	}

	return &WebhookModel{
		ID:            w.ID,
		UserID:        w.UserID,
		URL:           w.URL,
		Events:        w.Events,
		Status:        w.Status,
		AuthType:      w.AuthType,
		EncryptedAuth: w.EncryptedAuth,
		Headers:       w.Headers,
		MaxRetries:    w.MaxRetries,
		TimeoutMs:     w.Timeout.Milliseconds(),
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
}

func webhookModelToDomain(m *WebhookModel) *domain.Webhook {
	if m == nil {
		return nil
	}

	return &domain.Webhook{
		ID:            m.ID,
		UserID:        m.UserID,
		URL:           m.URL,
		Events:        m.Events,
		Status:        m.Status,
		AuthType:      m.AuthType,
		EncryptedAuth: m.EncryptedAuth,
		Headers:       m.Headers,
		MaxRetries:    m.MaxRetries,
		Timeout:       time.Duration(m.TimeoutMs) * time.Millisecond,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func deliveryModelFromDomain(d *domain.WebhookDelivery) (*WebhookDeliveryModel, error) {
	if d == nil {
		return nil, nil
	}

	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return nil, err
	}

	return &WebhookDeliveryModel{
		ID:          d.ID,
		WebhookID:   d.WebhookID,
		UserID:      d.UserID,
		Event:       d.Event,
		Payload:     datatypes.JSON(payload),
		Status:      d.Status,
		RetryCount:  d.RetryCount,
		LastError:   d.LastError,
		LastAttempt: d.LastAttempt,
		NextAttempt: d.NextAttempt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

func deliveryModelToDomain(m *WebhookDeliveryModel) (*domain.WebhookDelivery, error) {
	if m == nil {
		return nil, nil
	}

	var payload domain.DeliveryPayload
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			return nil, err
		}
	}

	return &domain.WebhookDelivery{
		ID:          m.ID,
		WebhookID:   m.WebhookID,
		UserID:      m.UserID,
		Event:       m.Event,
		Payload:     payload,
		Status:      m.Status,
		RetryCount:  m.RetryCount,
		LastError:   m.LastError,
		LastAttempt: m.LastAttempt,
		NextAttempt: m.NextAttempt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:            a.ID,
		DeliveryID:    a.DeliveryID,
		AttemptNumber: a.AttemptNumber,
		StatusCode:    a.StatusCode,
		ResponseBody:  a.ResponseBody,
		Error:         a.Error,
		DurationMs:    a.DurationMs,
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:            m.ID,
		DeliveryID:    m.DeliveryID,
		AttemptNumber: m.AttemptNumber,
		StatusCode:    m.StatusCode,
		ResponseBody:  m.ResponseBody,
		Error:         m.Error,
		DurationMs:    m.DurationMs,
		CreatedAt:     m.CreatedAt,
	}
}
