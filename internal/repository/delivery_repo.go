package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerline/dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChainStats summarizes an endpoint's delivery chains inside a time window.
// A chain is one (event, endpoint) pair; it counts as failed when no attempt
// in it succeeded.
type ChainStats struct {
	Total  int64 `gorm:"column:total"`
	Failed int64 `gorm:"column:failed"`
}

// DeliveryRepository persists delivery attempts. It is the coordination point
// between concurrent dispatchers: attempt numbering and the success-is-
// terminal rule are enforced here, under row locks, not in process memory.
type DeliveryRepository interface {
	// CreateAttempt assigns the next attempt number for the (event, endpoint)
	// pair and inserts the row. Returns ErrConflict when the pair already has
	// a successful attempt.
	CreateAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error
	// MarkOutcome records the terminal status of a pending attempt.
	MarkOutcome(ctx context.Context, id string, status domain.DeliveryStatus, httpStatus *int, responseBody *string, errorMessage *string) error
	GetByID(ctx context.Context, id string) (*domain.DeliveryAttempt, error)
	ListByEndpoint(ctx context.Context, endpointID string, limit int) ([]domain.DeliveryAttempt, error)
	ChainStats(ctx context.Context, endpointID string, since time.Time) (ChainStats, error)
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

func (r *GormDeliveryRepo) CreateAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error {
	if err := attempt.Validate(); err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prior []DeliveryAttemptModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("event_id = ? AND endpoint_id = ?", attempt.EventID, attempt.EndpointID).
			Order("attempt_number ASC").
			Find(&prior).Error
		if err != nil {
			return err
		}

		next := 1
		for i := range prior {
			if prior[i].Status == domain.DeliverySuccess {
				return fmt.Errorf("%w: delivery for event %s already succeeded", domain.ErrConflict, attempt.EventID)
			}
			if prior[i].AttemptNumber >= next {
				next = prior[i].AttemptNumber + 1
			}
		}
		attempt.AttemptNumber = next

		model := attemptModelFromDomain(attempt)
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		*attempt = *attemptModelToDomain(model)
		return nil
	})
}

func (r *GormDeliveryRepo) MarkOutcome(
	ctx context.Context,
	id string,
	status domain.DeliveryStatus,
	httpStatus *int,
	responseBody *string,
	errorMessage *string,
) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: outcome status must be terminal, got %q", domain.ErrValidation, status)
	}

	result := r.db.WithContext(ctx).
		Model(&DeliveryAttemptModel{}).
		Where("id = ? AND status = ?", id, domain.DeliveryPending).
		Updates(map[string]any{
			"status":           status,
			"http_status_code": httpStatus,
			"response_body":    responseBody,
			"error_message":    errorMessage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: pending delivery attempt %s", domain.ErrNotFound, id)
	}
	return nil
}

func (r *GormDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.DeliveryAttempt, error) {
	var model DeliveryAttemptModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return attemptModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) ListByEndpoint(ctx context.Context, endpointID string, limit int) ([]domain.DeliveryAttempt, error) {
	if limit < 1 {
		limit = 50
	}

	var models []DeliveryAttemptModel
	err := r.db.WithContext(ctx).
		Where("endpoint_id = ?", endpointID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.DeliveryAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}
	return attempts, nil
}

func (r *GormDeliveryRepo) ChainStats(ctx context.Context, endpointID string, since time.Time) (ChainStats, error) {
	var stats ChainStats
	err := r.db.WithContext(ctx).Raw(`
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE NOT succeeded) AS failed
		FROM (
			SELECT event_id, BOOL_OR(status = ?) AS succeeded
			FROM delivery_attempts
			WHERE endpoint_id = ? AND created_at >= ?
			GROUP BY event_id
		) chains`,
		domain.DeliverySuccess, endpointID, since,
	).Scan(&stats).Error
	if err != nil {
		return ChainStats{}, err
	}
	return stats, nil
}
