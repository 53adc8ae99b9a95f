package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/kursadbilgin/docflow-engine/internal/domain"
	"github.com/kursadbilgin/docflow-engine/internal/provider"
	"github.com/kursadbilgin/docflow-engine/internal/queue"
	"github.com/kursadbilgin/docflow-engine/internal/ratelimit"
	"github.com/kursadbilgin/docflow-engine/internal/repository"
	"github.com/kursadbilgin/docflow-engine/internal/storage"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type fakeBatchRepo struct {
	createWithFilesFn func(ctx context.Context, b *domain.BatchProcess, files []*domain.FileRecord) error
	getByIDFn         func(ctx context.Context, id string) (*domain.BatchProcess, error)
	addFilesFn        func(ctx context.Context, batchID string, files []*domain.FileRecord) (*domain.BatchProcess, error)
	markProcessingFn  func(ctx context.Context, id string) error
	cancelFn          func(ctx context.Context, id string) (*domain.BatchProcess, error)
	recordFileDoneFn  func(ctx context.Context, batchID string, fileID string) (*repository.FileDoneResult, error)
}

func (f *fakeBatchRepo) CreateWithFiles(ctx context.Context, b *domain.BatchProcess, files []*domain.FileRecord) error {
	if f.createWithFilesFn != nil {
		return f.createWithFilesFn(ctx, b, files)
	}
	return nil
}

func (f *fakeBatchRepo) GetByID(ctx context.Context, id string) (*domain.BatchProcess, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeBatchRepo) AddFiles(ctx context.Context, batchID string, files []*domain.FileRecord) (*domain.BatchProcess, error) {
	if f.addFilesFn != nil {
		return f.addFilesFn(ctx, batchID, files)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeBatchRepo) MarkProcessing(ctx context.Context, id string) error {
	if f.markProcessingFn != nil {
		return f.markProcessingFn(ctx, id)
	}
	return nil
}

func (f *fakeBatchRepo) Cancel(ctx context.Context, id string) (*domain.BatchProcess, error) {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeBatchRepo) RecordFileDone(ctx context.Context, batchID string, fileID string) (*repository.FileDoneResult, error) {
	if f.recordFileDoneFn != nil {
		return f.recordFileDoneFn(ctx, batchID, fileID)
	}
	return &repository.FileDoneResult{}, nil
}

var _ repository.BatchRepository = (*fakeBatchRepo)(nil)

type fakeFileRepo struct {
	getByIDFn         func(ctx context.Context, id string) (*domain.FileRecord, error)
	listByBatchFn     func(ctx context.Context, batchID string) ([]domain.FileRecord, error)
	markProcessingFn  func(ctx context.Context, id string) (bool, error)
	completeFn        func(ctx context.Context, id string, result json.RawMessage) (bool, error)
	failFn            func(ctx context.Context, id string, reason string) (bool, error)
	getStalePendingFn func(ctx context.Context, olderThan time.Time, limit int) ([]domain.FileRecord, error)
	touchFn           func(ctx context.Context, id string) error
}

func (f *fakeFileRepo) GetByID(ctx context.Context, id string) (*domain.FileRecord, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeFileRepo) ListByBatch(ctx context.Context, batchID string) ([]domain.FileRecord, error) {
	if f.listByBatchFn != nil {
		return f.listByBatchFn(ctx, batchID)
	}
	return nil, nil
}

func (f *fakeFileRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	if f.markProcessingFn != nil {
		return f.markProcessingFn(ctx, id)
	}
	return true, nil
}

func (f *fakeFileRepo) Complete(ctx context.Context, id string, result json.RawMessage) (bool, error) {
	if f.completeFn != nil {
		return f.completeFn(ctx, id, result)
	}
	return true, nil
}

func (f *fakeFileRepo) Fail(ctx context.Context, id string, reason string) (bool, error) {
	if f.failFn != nil {
		return f.failFn(ctx, id, reason)
	}
	return true, nil
}

func (f *fakeFileRepo) GetStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.FileRecord, error) {
	if f.getStalePendingFn != nil {
		return f.getStalePendingFn(ctx, olderThan, limit)
	}
	return nil, nil
}

func (f *fakeFileRepo) Touch(ctx context.Context, id string) error {
	if f.touchFn != nil {
		return f.touchFn(ctx, id)
	}
	return nil
}

var _ repository.FileRepository = (*fakeFileRepo)(nil)

type fakeTemplateRepo struct {
	getByIDFn       func(ctx context.Context, id string) (*domain.Template, error)
	getAccessibleFn func(ctx context.Context, userID string, id string) (*domain.Template, error)
}

func (f *fakeTemplateRepo) GetByID(ctx context.Context, id string) (*domain.Template, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeTemplateRepo) GetAccessible(ctx context.Context, userID string, id string) (*domain.Template, error) {
	if f.getAccessibleFn != nil {
		return f.getAccessibleFn(ctx, userID, id)
	}
	return &domain.Template{ID: id, UserID: userID, Name: "invoice"}, nil
}

var _ repository.TemplateRepository = (*fakeTemplateRepo)(nil)

type fakeWebhookRepo struct {
	createFn             func(ctx context.Context, w *domain.Webhook) error
	getByIDFn            func(ctx context.Context, id string) (*domain.Webhook, error)
	updateFn             func(ctx context.Context, w *domain.Webhook) error
	deleteFn             func(ctx context.Context, id string) error
	listByUserFn         func(ctx context.Context, userID string) ([]domain.Webhook, error)
	listActiveForEventFn func(ctx context.Context, userID string, event string) ([]domain.Webhook, error)
}

func (f *fakeWebhookRepo) Create(ctx context.Context, w *domain.Webhook) error {
	if f.createFn != nil {
		return f.createFn(ctx, w)
	}
	return nil
}

func (f *fakeWebhookRepo) GetByID(ctx context.Context, id string) (*domain.Webhook, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeWebhookRepo) Update(ctx context.Context, w *domain.Webhook) error {
	if f.updateFn != nil {
		return f.updateFn(ctx, w)
	}
	return nil
}

func (f *fakeWebhookRepo) Delete(ctx context.Context, id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

func (f *fakeWebhookRepo) ListByUser(ctx context.Context, userID string) ([]domain.Webhook, error) {
	if f.listByUserFn != nil {
		return f.listByUserFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeWebhookRepo) ListActiveForEvent(ctx context.Context, userID string, event string) ([]domain.Webhook, error) {
	if f.listActiveForEventFn != nil {
		return f.listActiveForEventFn(ctx, userID, event)
	}
	return nil, nil
}

var _ repository.WebhookRepository = (*fakeWebhookRepo)(nil)

type fakeDeliveryRepo struct {
	createWithAttemptsFn func(ctx context.Context, deliveries []*domain.WebhookDelivery, attempts []*domain.DeliveryAttempt) error
	getByIDFn            func(ctx context.Context, id string) (*domain.WebhookDelivery, error)
	listByWebhookFn      func(ctx context.Context, webhookID string, limit int) ([]domain.WebhookDelivery, error)
	listDueFn            func(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error)
	claimFn              func(ctx context.Context, id string, now time.Time, leaseUntil time.Time) (*domain.WebhookDelivery, error)
	finalizeFn           func(ctx context.Context, d *domain.WebhookDelivery, lease time.Time) error
}

func (f *fakeDeliveryRepo) CreateWithAttempts(ctx context.Context, deliveries []*domain.WebhookDelivery, attempts []*domain.DeliveryAttempt) error {
	if f.createWithAttemptsFn != nil {
		return f.createWithAttemptsFn(ctx, deliveries, attempts)
	}
	return nil
}

func (f *fakeDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.WebhookDelivery, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeDeliveryRepo) ListByWebhook(ctx context.Context, webhookID string, limit int) ([]domain.WebhookDelivery, error) {
	if f.listByWebhookFn != nil {
		return f.listByWebhookFn(ctx, webhookID, limit)
	}
	return nil, nil
}

func (f *fakeDeliveryRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error) {
	if f.listDueFn != nil {
		return f.listDueFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeDeliveryRepo) Claim(ctx context.Context, id string, now time.Time, leaseUntil time.Time) (*domain.WebhookDelivery, error) {
	if f.claimFn != nil {
		return f.claimFn(ctx, id, now, leaseUntil)
	}
	return nil, domain.ErrConflict
}

func (f *fakeDeliveryRepo) Finalize(ctx context.Context, d *domain.WebhookDelivery, lease time.Time) error {
	if f.finalizeFn != nil {
		return f.finalizeFn(ctx, d, lease)
	}
	return nil
}

var _ repository.DeliveryRepository = (*fakeDeliveryRepo)(nil)

type fakeAttemptRepo struct {
	createFn          func(ctx context.Context, a *domain.DeliveryAttempt) error
	getByDeliveryIDFn func(ctx context.Context, deliveryID string) ([]domain.DeliveryAttempt, error)
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeAttemptRepo) GetByDeliveryID(ctx context.Context, deliveryID string) ([]domain.DeliveryAttempt, error) {
	if f.getByDeliveryIDFn != nil {
		return f.getByDeliveryIDFn(ctx, deliveryID)
	}
	return nil, nil
}

var _ repository.AttemptRepository = (*fakeAttemptRepo)(nil)

type fakePublisher struct {
	mu        sync.Mutex
	published []queue.FileMessage
	publishFn func(ctx context.Context, queueName string, msg queue.FileMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.FileMessage) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

func (f *fakePublisher) messages() []queue.FileMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.FileMessage(nil), f.published...)
}

var _ queue.Publisher = (*fakePublisher)(nil)

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	return nil
}

var _ queue.Consumer = (*fakeConsumer)(nil)

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, key string) (bool, error)
	waitFn  func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, key)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

type fakeSender struct {
	sendFn func(ctx context.Context, req provider.WebhookRequest) (*provider.WebhookResponse, error)
}

func (f *fakeSender) Send(ctx context.Context, req provider.WebhookRequest) (*provider.WebhookResponse, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, req)
	}
	return &provider.WebhookResponse{StatusCode: 200}, nil
}

var _ provider.WebhookSender = (*fakeSender)(nil)

type fakeDispatcher struct {
	dispatchFn func(ctx context.Context, webhook *domain.Webhook, delivery *domain.WebhookDelivery) DispatchResult
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, webhook *domain.Webhook, delivery *domain.WebhookDelivery) DispatchResult {
	if f.dispatchFn != nil {
		return f.dispatchFn(ctx, webhook, delivery)
	}
	return DispatchResult{StatusCode: 200}
}

var _ DeliveryDispatcher = (*fakeDispatcher)(nil)

type fakeProcessor struct {
	processFn func(ctx context.Context, req provider.ProcessRequest) (json.RawMessage, error)
}

func (f *fakeProcessor) Process(ctx context.Context, req provider.ProcessRequest) (json.RawMessage, error) {
	if f.processFn != nil {
		return f.processFn(ctx, req)
	}
	return json.RawMessage(`{"total":42}`), nil
}

var _ provider.DocumentProcessor = (*fakeProcessor)(nil)

type fakeStorage struct {
	getFn func(ctx context.Context, key string) ([]byte, error)
}

func (f *fakeStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if f.getFn != nil {
		return f.getFn(ctx, key)
	}
	return []byte("%PDF-1.7"), nil
}

var _ storage.FileStorage = (*fakeStorage)(nil)

type notifyCall struct {
	UserID  string
	Event   string
	Payload any
}

type fakeNotifier struct {
	mu       sync.Mutex
	calls    []notifyCall
	notifyFn func(ctx context.Context, userID string, event string, payload any) ([]domain.WebhookDelivery, error)
}

func (f *fakeNotifier) Notify(ctx context.Context, userID string, event string, payload any) ([]domain.WebhookDelivery, error) {
	f.mu.Lock()
	f.calls = append(f.calls, notifyCall{UserID: userID, Event: event, Payload: payload})
	f.mu.Unlock()

	if f.notifyFn != nil {
		return f.notifyFn(ctx, userID, event, payload)
	}
	return nil, nil
}

func (f *fakeNotifier) eventCalls(event string) []notifyCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]notifyCall, 0, len(f.calls))
	for _, c := range f.calls {
		if c.Event == event {
			out = append(out, c)
		}
	}
	return out
}

var _ Notifier = (*fakeNotifier)(nil)

type fakeReporter struct {
	mu       sync.Mutex
	reports  []domain.FileOutcome
	reportFn func(ctx context.Context, batchID string, outcome domain.FileOutcome) error
}

func (f *fakeReporter) ReportFileDone(ctx context.Context, batchID string, outcome domain.FileOutcome) error {
	f.mu.Lock()
	f.reports = append(f.reports, outcome)
	f.mu.Unlock()

	if f.reportFn != nil {
		return f.reportFn(ctx, batchID, outcome)
	}
	return nil
}

func (f *fakeReporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

var _ FileDoneReporter = (*fakeReporter)(nil)

type fakeCipher struct {
	encryptFn func(plaintext []byte) (string, error)
	decryptFn func(ciphertext string) ([]byte, error)
}

func (f *fakeCipher) Encrypt(plaintext []byte) (string, error) {
	if f.encryptFn != nil {
		return f.encryptFn(plaintext)
	}
	return "sealed:" + string(plaintext), nil
}

func (f *fakeCipher) Decrypt(ciphertext string) ([]byte, error) {
	if f.decryptFn != nil {
		return f.decryptFn(ciphertext)
	}
	const prefix = "sealed:"
	if len(ciphertext) < len(prefix) {
		return nil, errInvalidFakeCiphertext
	}
	return []byte(ciphertext[len(prefix):]), nil
}

var errInvalidFakeCiphertext = errors.New("invalid ciphertext")
