package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ledgerline/dispatch/internal/domain"
	"gorm.io/gorm"
)

// EndpointRepository persists webhook endpoint registrations.
type EndpointRepository interface {
	Create(ctx context.Context, endpoint *domain.WebhookEndpoint) error
	GetByID(ctx context.Context, id string) (*domain.WebhookEndpoint, error)
	Update(ctx context.Context, endpoint *domain.WebhookEndpoint) error
	UpdateSecret(ctx context.Context, id string, secret string) error
	Delete(ctx context.Context, id string) error
	ListByOrganization(ctx context.Context, organizationID string) ([]domain.WebhookEndpoint, error)
	ListSubscribed(ctx context.Context, organizationID string, eventType string) ([]domain.WebhookEndpoint, error)
	// Deactivate flips active to false with a reason, only if the endpoint is
	// still active. Returns whether this call performed the transition, so
	// concurrent health checks deactivate an endpoint exactly once.
	Deactivate(ctx context.Context, id string, reason string, at time.Time) (bool, error)
}

type GormEndpointRepo struct {
	db *gorm.DB
}

func NewGormEndpointRepo(db *gorm.DB) *GormEndpointRepo {
	return &GormEndpointRepo{db: db}
}

func (r *GormEndpointRepo) Create(ctx context.Context, endpoint *domain.WebhookEndpoint) error {
	model, err := endpointModelFromDomain(endpoint)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	restored, err := endpointModelToDomain(model)
	if err != nil {
		return err
	}
	*endpoint = *restored
	return nil
}

func (r *GormEndpointRepo) GetByID(ctx context.Context, id string) (*domain.WebhookEndpoint, error) {
	var model EndpointModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return endpointModelToDomain(&model)
}

func (r *GormEndpointRepo) Update(ctx context.Context, endpoint *domain.WebhookEndpoint) error {
	model, err := endpointModelFromDomain(endpoint)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&EndpointModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]any{
			"url":         model.URL,
			"description": model.Description,
			"event_types": model.EventTypes,
			"active":      model.Active,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormEndpointRepo) UpdateSecret(ctx context.Context, id string, secret string) error {
	result := r.db.WithContext(ctx).
		Model(&EndpointModel{}).
		Where("id = ?", id).
		Update("secret", secret)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormEndpointRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&EndpointModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormEndpointRepo) ListByOrganization(ctx context.Context, organizationID string) ([]domain.WebhookEndpoint, error) {
	var models []EndpointModel
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	endpoints := make([]domain.WebhookEndpoint, 0, len(models))
	for i := range models {
		endpoint, err := endpointModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, *endpoint)
	}
	return endpoints, nil
}

// ListSubscribed returns active endpoints of the organization subscribed to
// the event type. The subscription match runs in Go rather than in a JSON
// containment query to keep the store portable.
func (r *GormEndpointRepo) ListSubscribed(ctx context.Context, organizationID string, eventType string) ([]domain.WebhookEndpoint, error) {
	var models []EndpointModel
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND active = ?", organizationID, true).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	endpoints := make([]domain.WebhookEndpoint, 0, len(models))
	for i := range models {
		endpoint, err := endpointModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		if endpoint.SubscribedTo(eventType) {
			endpoints = append(endpoints, *endpoint)
		}
	}
	return endpoints, nil
}

func (r *GormEndpointRepo) Deactivate(ctx context.Context, id string, reason string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&EndpointModel{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]any{
			"active":              false,
			"deactivated_at":      at,
			"deactivation_reason": reason,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
