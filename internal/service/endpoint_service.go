package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/dispatch/internal/domain"
	"github.com/ledgerline/dispatch/internal/repository"
	"go.uber.org/zap"
)

const (
	secretPrefix    = "whsec_"
	secretRandBytes = 24
)

// EndpointService manages webhook endpoint registrations and their delivery
// history.
type EndpointService struct {
	endpoints  repository.EndpointRepository
	deliveries repository.DeliveryRepository
	logger     *zap.Logger
	now        func() time.Time
}

// EndpointUpdate carries a partial endpoint update. Nil fields are left
// untouched.
type EndpointUpdate struct {
	URL         *string
	Description *string
	EventTypes  []string
	Active      *bool
}

func NewEndpointService(
	endpoints repository.EndpointRepository,
	deliveries repository.DeliveryRepository,
	logger *zap.Logger,
) (*EndpointService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EndpointService{
		endpoints:  endpoints,
		deliveries: deliveries,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Register validates and stores a new endpoint. The signing secret is
// generated server-side and returned exactly once in the response.
func (s *EndpointService) Register(ctx context.Context, endpoint *domain.WebhookEndpoint) (*domain.WebhookEndpoint, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if endpoint == nil {
		return nil, fmt.Errorf("%w: endpoint is required", domain.ErrValidation)
	}

	endpoint.ID = strings.TrimSpace(endpoint.ID)
	if endpoint.ID == "" {
		endpoint.ID = uuid.NewString()
	}
	endpoint.URL = strings.TrimSpace(endpoint.URL)
	endpoint.Description = strings.TrimSpace(endpoint.Description)
	endpoint.EventTypes = normalizeEventTypes(endpoint.EventTypes)

	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	endpoint.Secret = secret
	endpoint.Active = true
	endpoint.DeactivatedAt = nil
	endpoint.DeactivationReason = nil

	now := s.now().UTC()
	endpoint.CreatedAt = now
	endpoint.UpdatedAt = now

	if err := endpoint.Validate(); err != nil {
		return nil, err
	}

	if err := s.endpoints.Create(ctx, endpoint); err != nil {
		return nil, err
	}

	s.logger.Info("webhook endpoint registered",
		zap.String("endpointId", endpoint.ID),
		zap.String("organizationId", endpoint.OrganizationID),
		zap.String("url", endpoint.URL),
	)

	return endpoint, nil
}

func (s *EndpointService) GetByID(ctx context.Context, id string) (*domain.WebhookEndpoint, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: endpoint id is required", domain.ErrValidation)
	}
	return s.endpoints.GetByID(ctx, strings.TrimSpace(id))
}

// Update applies a partial update. A URL change is re-validated; an explicit
// Active=true reactivates an endpoint the health check turned off.
func (s *EndpointService) Update(ctx context.Context, id string, update EndpointUpdate) (*domain.WebhookEndpoint, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	endpoint, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.URL != nil {
		endpoint.URL = strings.TrimSpace(*update.URL)
	}
	if update.Description != nil {
		endpoint.Description = strings.TrimSpace(*update.Description)
	}
	if update.EventTypes != nil {
		endpoint.EventTypes = normalizeEventTypes(update.EventTypes)
	}
	if update.Active != nil {
		endpoint.Active = *update.Active
		if endpoint.Active {
			endpoint.DeactivatedAt = nil
			endpoint.DeactivationReason = nil
		}
	}
	endpoint.UpdatedAt = s.now().UTC()

	if err := endpoint.Validate(); err != nil {
		return nil, err
	}

	if err := s.endpoints.Update(ctx, endpoint); err != nil {
		return nil, err
	}

	return endpoint, nil
}

// RotateSecret replaces the endpoint's signing secret. Deliveries already in
// flight were signed with the old secret; everything after this call uses the
// new one.
func (s *EndpointService) RotateSecret(ctx context.Context, id string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: endpoint id is required", domain.ErrValidation)
	}

	secret, err := generateSecret()
	if err != nil {
		return "", err
	}

	if err := s.endpoints.UpdateSecret(ctx, strings.TrimSpace(id), secret); err != nil {
		return "", err
	}

	s.logger.Info("webhook endpoint secret rotated", zap.String("endpointId", strings.TrimSpace(id)))

	return secret, nil
}

// Delete removes the registration. Delivery history survives: attempt rows
// keep the endpoint URL denormalized.
func (s *EndpointService) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: endpoint id is required", domain.ErrValidation)
	}
	return s.endpoints.Delete(ctx, strings.TrimSpace(id))
}

func (s *EndpointService) List(ctx context.Context, organizationID string) ([]domain.WebhookEndpoint, error) {
	if strings.TrimSpace(organizationID) == "" {
		return nil, fmt.Errorf("%w: organization id is required", domain.ErrValidation)
	}
	return s.endpoints.ListByOrganization(ctx, strings.TrimSpace(organizationID))
}

// ListSubscribed returns active endpoints whose subscriptions match the event
// type, including wildcard subscribers.
func (s *EndpointService) ListSubscribed(ctx context.Context, organizationID string, eventType string) ([]domain.WebhookEndpoint, error) {
	if strings.TrimSpace(organizationID) == "" {
		return nil, fmt.Errorf("%w: organization id is required", domain.ErrValidation)
	}
	if err := domain.ValidateEventType(eventType); err != nil {
		return nil, err
	}
	return s.endpoints.ListSubscribed(ctx, strings.TrimSpace(organizationID), eventType)
}

func (s *EndpointService) ListDeliveries(ctx context.Context, endpointID string, limit int) ([]domain.DeliveryAttempt, error) {
	if strings.TrimSpace(endpointID) == "" {
		return nil, fmt.Errorf("%w: endpoint id is required", domain.ErrValidation)
	}
	if _, err := s.endpoints.GetByID(ctx, strings.TrimSpace(endpointID)); err != nil {
		return nil, err
	}
	return s.deliveries.ListByEndpoint(ctx, strings.TrimSpace(endpointID), limit)
}

func generateSecret() (string, error) {
	raw := make([]byte, secretRandBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate endpoint secret: %w", err)
	}
	return secretPrefix + hex.EncodeToString(raw), nil
}

func normalizeEventTypes(eventTypes []string) []string {
	normalized := make([]string, 0, len(eventTypes))
	seen := make(map[string]struct{}, len(eventTypes))
	for _, eventType := range eventTypes {
		trimmed := strings.TrimSpace(eventType)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized
}
