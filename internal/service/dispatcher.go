package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/dispatch/internal/domain"
	"github.com/ledgerline/dispatch/internal/observability"
	"github.com/ledgerline/dispatch/internal/provider"
	"github.com/ledgerline/dispatch/internal/queue"
	"github.com/ledgerline/dispatch/internal/ratelimit"
	"github.com/ledgerline/dispatch/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	maxDeliveryAttempts = 3

	healthWindow        = 24 * time.Hour
	healthMinDeliveries = 5
	healthFailureRate   = 0.8
	deactivationReason  = "High failure rate"

	defaultDispatchFanout = 8
)

// retryDelays holds the fixed waits between automatic attempts. The schedule
// caps at maxDeliveryAttempts, so the last slot is reachable only if the
// attempt ceiling is ever raised.
var retryDelays = []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}

// webhookPayload is the JSON body POSTed to endpoints. Receivers dedup on
// eventId: every attempt for the same event carries the same eventId, while
// id identifies the payload build.
type webhookPayload struct {
	ID        string          `json:"id"`
	EventID   string          `json:"eventId"`
	Type      string          `json:"type"`
	CreatedAt string          `json:"createdAt"`
	Data      json.RawMessage `json:"data"`
}

// Dispatcher runs the webhook delivery pipeline: EmitWebhook persists an
// event and enqueues it, Dispatch fans it out to subscribed endpoints, and
// RetryDelivery replays a stored attempt on demand. Multiple dispatcher
// instances coordinate exclusively through the store: attempt numbering and
// the success-is-terminal rule live in DeliveryRepository, endpoint
// deactivation is a conditional write.
type Dispatcher struct {
	events     repository.EventRepository
	endpoints  repository.EndpointRepository
	deliveries repository.DeliveryRepository
	deliverer  provider.WebhookDeliverer
	publisher  queue.Publisher
	limiter    ratelimit.RateLimiter
	logger     *zap.Logger
	metrics    *observability.Metrics
	sink       observability.EventSink
	fanout     int
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	events repository.EventRepository,
	endpoints repository.EndpointRepository,
	deliveries repository.DeliveryRepository,
	deliverer provider.WebhookDeliverer,
	publisher queue.Publisher,
	limiter ratelimit.RateLimiter,
	fanout int,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if fanout < 1 {
		fanout = defaultDispatchFanout
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		events:     events,
		endpoints:  endpoints,
		deliveries: deliveries,
		deliverer:  deliverer,
		publisher:  publisher,
		limiter:    limiter,
		logger:     logger,
		sink:       observability.NopSink{},
		fanout:     fanout,
		now:        time.Now,
		sleep:      sleepBetweenAttempts,
	}, nil
}

func (s *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *Dispatcher) SetSink(sink observability.EventSink) {
	if s == nil || sink == nil {
		return
	}
	s.sink = sink
}

// EmitWebhook records a domain event and enqueues it for dispatch. The
// caller does not wait for any delivery; a persisted event whose enqueue
// fails is reported as an error so the caller can re-emit.
func (s *Dispatcher) EmitWebhook(ctx context.Context, organizationID string, eventType string, data json.RawMessage) (*domain.Event, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	event := &domain.Event{
		ID:             uuid.NewString(),
		OrganizationID: strings.TrimSpace(organizationID),
		Type:           strings.TrimSpace(eventType),
		Payload:        data,
		CreatedAt:      s.now().UTC(),
	}
	if len(event.Payload) == 0 {
		event.Payload = json.RawMessage(`{}`)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	if err := s.events.Create(ctx, event); err != nil {
		return nil, err
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	msg := queue.DispatchMessage{
		EventID:        event.ID,
		OrganizationID: event.OrganizationID,
		EventType:      event.Type,
		CorrelationID:  correlationID,
	}
	if err := s.publisher.Publish(ctx, queue.DispatchQueue, msg); err != nil {
		s.logger.Error("failed to enqueue dispatch",
			zap.String("eventId", event.ID),
			zap.String("eventType", event.Type),
			zap.Error(err),
		)
		return nil, fmt.Errorf("event %s persisted but dispatch enqueue failed: %w", event.ID, err)
	}

	return event, nil
}

// Dispatch delivers one event to every subscribed active endpoint. Endpoint
// chains run concurrently and are isolated: one failing receiver never
// affects another, and Dispatch itself only fails when the event cannot be
// loaded.
func (s *Dispatcher) Dispatch(ctx context.Context, eventID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(eventID) == "" {
		return fmt.Errorf("%w: event id is required", domain.ErrValidation)
	}

	event, err := s.events.GetByID(ctx, strings.TrimSpace(eventID))
	if err != nil {
		return err
	}

	subscribed, err := s.endpoints.ListSubscribed(ctx, event.OrganizationID, event.Type)
	if err != nil {
		return fmt.Errorf("failed to resolve subscribed endpoints: %w", err)
	}
	if len(subscribed) == 0 {
		s.logger.Debug("no subscribed endpoints for event",
			zap.String("eventId", event.ID),
			zap.String("eventType", event.Type),
		)
		return nil
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for i := range subscribed {
		endpoint := subscribed[i]
		g.Go(func() error {
			s.deliverChain(groupCtx, event, &endpoint)
			return nil
		})
	}

	return g.Wait()
}

// deliverChain runs the attempt loop for one (event, endpoint) pair. All
// attempts replay the same payload bytes; only the signature timestamp moves.
func (s *Dispatcher) deliverChain(ctx context.Context, event *domain.Event, endpoint *domain.WebhookEndpoint) {
	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("eventId", event.ID),
		zap.String("endpointId", endpoint.ID),
	)

	body, err := buildPayload(event)
	if err != nil {
		logger.Error("failed to build webhook payload", zap.Error(err))
		return
	}

	current := endpoint
	for attempt := 1; attempt <= maxDeliveryAttempts; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, retryDelays[attempt-2]); err != nil {
				logger.Warn("retry wait canceled", zap.Error(err))
				return
			}

			// Reload so a deactivation or secret rotation that landed while
			// we were waiting takes effect on this attempt.
			reloaded, err := s.endpoints.GetByID(ctx, endpoint.ID)
			if err != nil {
				logger.Warn("failed to reload endpoint before retry", zap.Error(err))
				return
			}
			current = reloaded
		}

		if !current.Active {
			s.recordDeactivatedAbort(ctx, event, current, logger)
			return
		}

		if err := s.limiter.Wait(ctx, current.ID); err != nil {
			logger.Warn("rate limiter wait failed", zap.Error(err))
			return
		}

		attemptRow := &domain.DeliveryAttempt{
			ID:          uuid.NewString(),
			EventID:     event.ID,
			EndpointID:  current.ID,
			EndpointURL: current.URL,
			Status:      domain.DeliveryPending,
			RequestBody: body,
			CreatedAt:   s.now().UTC(),
		}
		if err := s.deliveries.CreateAttempt(ctx, attemptRow); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				logger.Info("delivery already succeeded, chain stopped")
				return
			}
			logger.Error("failed to create delivery attempt", zap.Error(err))
			return
		}

		outcome := s.attemptDelivery(ctx, attemptRow, current, event, attempt > 1)

		if outcome == nil {
			logger.Info("webhook delivered",
				zap.String("attemptId", attemptRow.ID),
				zap.Int("attemptNumber", attemptRow.AttemptNumber),
			)
			s.sink.RecordEvent(ctx, "webhook.delivery.succeeded", observability.SeverityInfo, map[string]string{
				"eventId":       event.ID,
				"endpointId":    current.ID,
				"attemptId":     attemptRow.ID,
				"attemptNumber": strconv.Itoa(attemptRow.AttemptNumber),
			})
			return
		}

		logger.Warn("webhook delivery attempt failed",
			zap.String("attemptId", attemptRow.ID),
			zap.Int("attemptNumber", attemptRow.AttemptNumber),
			zap.Error(outcome),
		)

		if attempt < maxDeliveryAttempts {
			s.metrics.IncWebhookRetry("automatic")
			continue
		}

		s.sink.RecordEvent(ctx, "webhook.delivery.failed", observability.SeverityWarning, map[string]string{
			"eventId":     event.ID,
			"endpointId":  current.ID,
			"attemptId":   attemptRow.ID,
			"attempts":    strconv.Itoa(attempt),
			"lastError":   outcome.Error(),
			"endpointUrl": current.URL,
		})
		s.runHealthCheck(ctx, current, logger)
	}
}

// attemptDelivery performs one signed POST and records the attempt's terminal
// status. A nil return means the receiver acknowledged with 2xx.
func (s *Dispatcher) attemptDelivery(
	ctx context.Context,
	attempt *domain.DeliveryAttempt,
	endpoint *domain.WebhookEndpoint,
	event *domain.Event,
	isRetry bool,
) error {
	start := s.now()
	resp, sendErr := s.deliverer.Deliver(ctx, provider.WebhookRequest{
		URL:        endpoint.URL,
		Secret:     endpoint.Secret,
		Body:       attempt.RequestBody,
		DeliveryID: attempt.ID,
		EventType:  event.Type,
		Retry:      isRetry,
	})
	duration := s.now().Sub(start)

	if sendErr == nil {
		statusCode := resp.StatusCode
		responseBody := domain.TruncateResponseBody(resp.Body)
		if err := s.deliveries.MarkOutcome(ctx, attempt.ID, domain.DeliverySuccess, &statusCode, &responseBody, nil); err != nil {
			return fmt.Errorf("delivered but failed to record success: %w", err)
		}
		attempt.Status = domain.DeliverySuccess
		s.metrics.IncWebhookDelivery("success")
		s.metrics.ObserveWebhookDeliveryDuration("success", duration)
		return nil
	}

	var statusCode *int
	var responseBody *string
	var providerErr *provider.ProviderError
	if errors.As(sendErr, &providerErr) {
		if providerErr.StatusCode > 0 {
			value := providerErr.StatusCode
			statusCode = &value
		}
		if body := domain.TruncateResponseBody(providerErr.Body); body != "" {
			responseBody = &body
		}
	}
	errorMessage := sendErr.Error()

	if err := s.deliveries.MarkOutcome(ctx, attempt.ID, domain.DeliveryFailed, statusCode, responseBody, &errorMessage); err != nil {
		return fmt.Errorf("failed to record delivery failure: %w (send error: %v)", err, sendErr)
	}
	attempt.Status = domain.DeliveryFailed
	s.metrics.IncWebhookDelivery("failed")
	s.metrics.ObserveWebhookDeliveryDuration("failed", duration)
	return sendErr
}

// recordDeactivatedAbort writes the FAILED marker attempt that documents why
// a chain stopped early.
func (s *Dispatcher) recordDeactivatedAbort(ctx context.Context, event *domain.Event, endpoint *domain.WebhookEndpoint, logger *zap.Logger) {
	attemptRow := &domain.DeliveryAttempt{
		ID:          uuid.NewString(),
		EventID:     event.ID,
		EndpointID:  endpoint.ID,
		EndpointURL: endpoint.URL,
		Status:      domain.DeliveryPending,
		RequestBody: nil,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.deliveries.CreateAttempt(ctx, attemptRow); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			logger.Error("failed to record deactivation abort", zap.Error(err))
		}
		return
	}

	errorMessage := "endpoint deactivated"
	if err := s.deliveries.MarkOutcome(ctx, attemptRow.ID, domain.DeliveryFailed, nil, nil, &errorMessage); err != nil {
		logger.Error("failed to record deactivation abort", zap.Error(err))
		return
	}

	logger.Warn("delivery chain aborted, endpoint deactivated",
		zap.String("attemptId", attemptRow.ID),
	)
	s.sink.RecordEvent(ctx, "webhook.delivery.aborted", observability.SeverityWarning, map[string]string{
		"eventId":    event.ID,
		"endpointId": endpoint.ID,
		"reason":     errorMessage,
	})
}

// runHealthCheck inspects the endpoint's trailing delivery window and turns
// the endpoint off when failures dominate. The conditional write in the
// repository makes the transition exactly-once across dispatcher instances.
func (s *Dispatcher) runHealthCheck(ctx context.Context, endpoint *domain.WebhookEndpoint, logger *zap.Logger) {
	since := s.now().Add(-healthWindow)
	stats, err := s.deliveries.ChainStats(ctx, endpoint.ID, since)
	if err != nil {
		logger.Error("endpoint health check failed", zap.Error(err))
		return
	}

	if stats.Total < healthMinDeliveries {
		return
	}
	failureRate := float64(stats.Failed) / float64(stats.Total)
	if failureRate <= healthFailureRate {
		return
	}

	deactivated, err := s.endpoints.Deactivate(ctx, endpoint.ID, deactivationReason, s.now().UTC())
	if err != nil {
		logger.Error("failed to deactivate unhealthy endpoint", zap.Error(err))
		return
	}
	if !deactivated {
		return
	}

	logger.Warn("endpoint deactivated by health check",
		zap.Int64("windowDeliveries", stats.Total),
		zap.Int64("windowFailures", stats.Failed),
		zap.Float64("failureRate", failureRate),
	)
	s.metrics.IncEndpointDeactivated()
	s.sink.RecordEvent(ctx, "webhook.endpoint.deactivated", observability.SeverityWarning, map[string]string{
		"endpointId":  endpoint.ID,
		"endpointUrl": endpoint.URL,
		"reason":      deactivationReason,
	})
}

// RetryDelivery replays a stored attempt's request body against its endpoint
// exactly once, with a fresh signature. It refuses when the pair already
// succeeded or the endpoint cannot receive.
func (s *Dispatcher) RetryDelivery(ctx context.Context, attemptID string) (*domain.DeliveryAttempt, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(attemptID) == "" {
		return nil, fmt.Errorf("%w: attempt id is required", domain.ErrValidation)
	}

	previous, err := s.deliveries.GetByID(ctx, strings.TrimSpace(attemptID))
	if err != nil {
		return nil, err
	}
	if len(previous.RequestBody) == 0 {
		return nil, fmt.Errorf("%w: attempt %s has no stored request body to replay", domain.ErrConflict, previous.ID)
	}

	endpoint, err := s.endpoints.GetByID(ctx, previous.EndpointID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: endpoint %s is no longer registered", domain.ErrConflict, previous.EndpointID)
		}
		return nil, err
	}
	if !endpoint.Active {
		return nil, fmt.Errorf("%w: endpoint %s is inactive", domain.ErrConflict, endpoint.ID)
	}

	event, err := s.events.GetByID(ctx, previous.EventID)
	if err != nil {
		return nil, err
	}

	attemptRow := &domain.DeliveryAttempt{
		ID:          uuid.NewString(),
		EventID:     previous.EventID,
		EndpointID:  endpoint.ID,
		EndpointURL: endpoint.URL,
		Status:      domain.DeliveryPending,
		RequestBody: previous.RequestBody,
		Manual:      true,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.deliveries.CreateAttempt(ctx, attemptRow); err != nil {
		return nil, err
	}

	s.metrics.IncWebhookRetry("manual")

	if sendErr := s.attemptDelivery(ctx, attemptRow, endpoint, event, true); sendErr != nil {
		observability.WithContextLogger(s.logger, ctx).Warn("manual retry failed",
			zap.String("attemptId", attemptRow.ID),
			zap.String("endpointId", endpoint.ID),
			zap.Error(sendErr),
		)
	}

	return s.deliveries.GetByID(ctx, attemptRow.ID)
}

func buildPayload(event *domain.Event) ([]byte, error) {
	payload := webhookPayload{
		ID:        uuid.NewString(),
		EventID:   event.ID,
		Type:      event.Type,
		CreatedAt: event.CreatedAt.UTC().Format(time.RFC3339),
		Data:      event.Payload,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	return body, nil
}

func sleepBetweenAttempts(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
