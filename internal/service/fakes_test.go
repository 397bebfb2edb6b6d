package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ledgerline/dispatch/internal/domain"
	"github.com/ledgerline/dispatch/internal/observability"
	"github.com/ledgerline/dispatch/internal/provider"
	"github.com/ledgerline/dispatch/internal/queue"
	"github.com/ledgerline/dispatch/internal/ratelimit"
	"github.com/ledgerline/dispatch/internal/repository"
)

type fakeEventRepo struct {
	createFn  func(ctx context.Context, event *domain.Event) error
	getByIDFn func(ctx context.Context, id string) (*domain.Event, error)
}

func (f *fakeEventRepo) Create(ctx context.Context, event *domain.Event) error {
	if f.createFn != nil {
		return f.createFn(ctx, event)
	}
	return nil
}

func (f *fakeEventRepo) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

type fakeEndpointRepo struct {
	createFn         func(ctx context.Context, endpoint *domain.WebhookEndpoint) error
	getByIDFn        func(ctx context.Context, id string) (*domain.WebhookEndpoint, error)
	updateFn         func(ctx context.Context, endpoint *domain.WebhookEndpoint) error
	updateSecretFn   func(ctx context.Context, id string, secret string) error
	deleteFn         func(ctx context.Context, id string) error
	listByOrgFn      func(ctx context.Context, organizationID string) ([]domain.WebhookEndpoint, error)
	listSubscribedFn func(ctx context.Context, organizationID string, eventType string) ([]domain.WebhookEndpoint, error)
	deactivateFn     func(ctx context.Context, id string, reason string, at time.Time) (bool, error)
}

func (f *fakeEndpointRepo) Create(ctx context.Context, endpoint *domain.WebhookEndpoint) error {
	if f.createFn != nil {
		return f.createFn(ctx, endpoint)
	}
	return nil
}

func (f *fakeEndpointRepo) GetByID(ctx context.Context, id string) (*domain.WebhookEndpoint, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeEndpointRepo) Update(ctx context.Context, endpoint *domain.WebhookEndpoint) error {
	if f.updateFn != nil {
		return f.updateFn(ctx, endpoint)
	}
	return nil
}

func (f *fakeEndpointRepo) UpdateSecret(ctx context.Context, id string, secret string) error {
	if f.updateSecretFn != nil {
		return f.updateSecretFn(ctx, id, secret)
	}
	return nil
}

func (f *fakeEndpointRepo) Delete(ctx context.Context, id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

func (f *fakeEndpointRepo) ListByOrganization(ctx context.Context, organizationID string) ([]domain.WebhookEndpoint, error) {
	if f.listByOrgFn != nil {
		return f.listByOrgFn(ctx, organizationID)
	}
	return nil, nil
}

func (f *fakeEndpointRepo) ListSubscribed(ctx context.Context, organizationID string, eventType string) ([]domain.WebhookEndpoint, error) {
	if f.listSubscribedFn != nil {
		return f.listSubscribedFn(ctx, organizationID, eventType)
	}
	return nil, nil
}

func (f *fakeEndpointRepo) Deactivate(ctx context.Context, id string, reason string, at time.Time) (bool, error) {
	if f.deactivateFn != nil {
		return f.deactivateFn(ctx, id, reason, at)
	}
	return false, nil
}

var _ repository.EndpointRepository = (*fakeEndpointRepo)(nil)

// memDeliveryRepo is an in-memory DeliveryRepository that enforces the same
// pair semantics as the SQL implementation: attempt numbers are assigned per
// (event, endpoint) pair and a successful pair refuses new attempts.
type memDeliveryRepo struct {
	mu       sync.Mutex
	attempts []*domain.DeliveryAttempt
}

func (m *memDeliveryRepo) CreateAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, existing := range m.attempts {
		if existing.EventID != attempt.EventID || existing.EndpointID != attempt.EndpointID {
			continue
		}
		if existing.Status == domain.DeliverySuccess {
			return fmt.Errorf("%w: delivery already succeeded", domain.ErrConflict)
		}
		count++
	}

	attempt.AttemptNumber = count + 1
	stored := *attempt
	m.attempts = append(m.attempts, &stored)
	return nil
}

func (m *memDeliveryRepo) MarkOutcome(ctx context.Context, id string, status domain.DeliveryStatus, httpStatus *int, responseBody *string, errorMessage *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, attempt := range m.attempts {
		if attempt.ID != id || attempt.Status != domain.DeliveryPending {
			continue
		}
		attempt.Status = status
		attempt.HTTPStatusCode = httpStatus
		attempt.ResponseBody = responseBody
		attempt.ErrorMessage = errorMessage
		return nil
	}
	return domain.ErrNotFound
}

func (m *memDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, attempt := range m.attempts {
		if attempt.ID == id {
			copied := *attempt
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memDeliveryRepo) ListByEndpoint(ctx context.Context, endpointID string, limit int) ([]domain.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []domain.DeliveryAttempt
	for _, attempt := range m.attempts {
		if attempt.EndpointID == endpointID {
			result = append(result, *attempt)
		}
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *memDeliveryRepo) ChainStats(ctx context.Context, endpointID string, since time.Time) (repository.ChainStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	succeeded := map[string]bool{}
	for _, attempt := range m.attempts {
		if attempt.EndpointID != endpointID || attempt.CreatedAt.Before(since) {
			continue
		}
		if _, ok := succeeded[attempt.EventID]; !ok {
			succeeded[attempt.EventID] = false
		}
		if attempt.Status == domain.DeliverySuccess {
			succeeded[attempt.EventID] = true
		}
	}

	var stats repository.ChainStats
	for _, ok := range succeeded {
		stats.Total++
		if !ok {
			stats.Failed++
		}
	}
	return stats, nil
}

func (m *memDeliveryRepo) byPair(eventID, endpointID string) []domain.DeliveryAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []domain.DeliveryAttempt
	for _, attempt := range m.attempts {
		if attempt.EventID == eventID && attempt.EndpointID == endpointID {
			result = append(result, *attempt)
		}
	}
	return result
}

var _ repository.DeliveryRepository = (*memDeliveryRepo)(nil)

type fakeDeliverer struct {
	mu        sync.Mutex
	requests  []provider.WebhookRequest
	deliverFn func(ctx context.Context, req provider.WebhookRequest) (*provider.WebhookResponse, error)
}

func (f *fakeDeliverer) Deliver(ctx context.Context, req provider.WebhookRequest) (*provider.WebhookResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.deliverFn != nil {
		return f.deliverFn(ctx, req)
	}
	return &provider.WebhookResponse{StatusCode: 200, Body: "ok"}, nil
}

func (f *fakeDeliverer) calls() []provider.WebhookRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.WebhookRequest(nil), f.requests...)
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.DispatchMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.DispatchMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeNotificationRepo struct {
	mu        sync.Mutex
	outcomes  map[domain.Channel]domain.ChannelDelivery
	createFn  func(ctx context.Context, notification *domain.Notification) error
	getByIDFn func(ctx context.Context, id string) (*domain.Notification, error)
	listFn    func(ctx context.Context, params repository.ListNotificationsParams) ([]domain.Notification, int64, error)
	markRead  func(ctx context.Context, id string) error
	markAll   func(ctx context.Context, userID, organizationID *string) (int64, error)
	appendFn  func(ctx context.Context, id string, channel domain.Channel, outcome domain.ChannelDelivery) error
}

func (f *fakeNotificationRepo) Create(ctx context.Context, notification *domain.Notification) error {
	if f.createFn != nil {
		return f.createFn(ctx, notification)
	}
	return nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) List(ctx context.Context, params repository.ListNotificationsParams) ([]domain.Notification, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakeNotificationRepo) MarkRead(ctx context.Context, id string) error {
	if f.markRead != nil {
		return f.markRead(ctx, id)
	}
	return nil
}

func (f *fakeNotificationRepo) MarkAllRead(ctx context.Context, userID, organizationID *string) (int64, error) {
	if f.markAll != nil {
		return f.markAll(ctx, userID, organizationID)
	}
	return 0, nil
}

func (f *fakeNotificationRepo) AppendChannelDelivery(ctx context.Context, id string, channel domain.Channel, outcome domain.ChannelDelivery) error {
	if f.appendFn != nil {
		return f.appendFn(ctx, id, channel, outcome)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcomes == nil {
		f.outcomes = map[domain.Channel]domain.ChannelDelivery{}
	}
	f.outcomes[channel] = outcome
	return nil
}

func (f *fakeNotificationRepo) recordedOutcome(channel domain.Channel) (domain.ChannelDelivery, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	outcome, ok := f.outcomes[channel]
	return outcome, ok
}

var _ repository.NotificationRepository = (*fakeNotificationRepo)(nil)

type fakePreferenceRepo struct {
	upsertFn func(ctx context.Context, preference *domain.NotificationPreference) error
	userFn   func(ctx context.Context, userID string, notificationType domain.NotificationType) (*domain.NotificationPreference, error)
	orgFn    func(ctx context.Context, organizationID string, notificationType domain.NotificationType) (*domain.NotificationPreference, error)
}

func (f *fakePreferenceRepo) Upsert(ctx context.Context, preference *domain.NotificationPreference) error {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, preference)
	}
	return nil
}

func (f *fakePreferenceRepo) GetForUser(ctx context.Context, userID string, notificationType domain.NotificationType) (*domain.NotificationPreference, error) {
	if f.userFn != nil {
		return f.userFn(ctx, userID, notificationType)
	}
	return nil, domain.ErrNotFound
}

func (f *fakePreferenceRepo) GetForOrganization(ctx context.Context, organizationID string, notificationType domain.NotificationType) (*domain.NotificationPreference, error) {
	if f.orgFn != nil {
		return f.orgFn(ctx, organizationID, notificationType)
	}
	return nil, domain.ErrNotFound
}

var _ repository.PreferenceRepository = (*fakePreferenceRepo)(nil)

type fakeSender struct {
	mu     sync.Mutex
	sends  []string
	sendFn func(ctx context.Context, recipient string, msg provider.Message) (*provider.SendResult, error)
}

func (f *fakeSender) Send(ctx context.Context, recipient string, msg provider.Message) (*provider.SendResult, error) {
	f.mu.Lock()
	f.sends = append(f.sends, recipient)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, recipient, msg)
	}
	return &provider.SendResult{StatusCode: 202}, nil
}

func (f *fakeSender) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

type sinkEvent struct {
	eventType string
	severity  observability.Severity
	metadata  map[string]string
}

type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (s *recordingSink) RecordEvent(_ context.Context, eventType string, severity observability.Severity, metadata map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{eventType: eventType, severity: severity, metadata: metadata})
}

func (s *recordingSink) recorded(eventType string) []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []sinkEvent
	for _, event := range s.events {
		if event.eventType == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

type fakeRateLimiter struct {
	mu     sync.Mutex
	keys   []string
	waitFn func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) { return true, nil }

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()

	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)
