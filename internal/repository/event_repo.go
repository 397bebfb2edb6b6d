package repository

import (
	"context"
	"errors"

	"github.com/ledgerline/dispatch/internal/domain"
	"gorm.io/gorm"
)

// EventRepository persists emitted domain events. Events are append-only.
type EventRepository interface {
	Create(ctx context.Context, event *domain.Event) error
	GetByID(ctx context.Context, id string) (*domain.Event, error)
}

type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

func (r *GormEventRepo) Create(ctx context.Context, event *domain.Event) error {
	model := eventModelFromDomain(event)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*event = *eventModelToDomain(model)
	return nil
}

func (r *GormEventRepo) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	var model EventModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return eventModelToDomain(&model), nil
}
