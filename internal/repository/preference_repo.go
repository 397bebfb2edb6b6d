package repository

import (
	"context"
	"errors"

	"github.com/ledgerline/dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PreferenceRepository persists notification channel preferences.
type PreferenceRepository interface {
	Upsert(ctx context.Context, preference *domain.NotificationPreference) error
	// GetForUser and GetForOrganization return ErrNotFound when no preference
	// is stored for the scope and type; callers fall back per the resolution
	// precedence.
	GetForUser(ctx context.Context, userID string, notificationType domain.NotificationType) (*domain.NotificationPreference, error)
	GetForOrganization(ctx context.Context, organizationID string, notificationType domain.NotificationType) (*domain.NotificationPreference, error)
}

type GormPreferenceRepo struct {
	db *gorm.DB
}

func NewGormPreferenceRepo(db *gorm.DB) *GormPreferenceRepo {
	return &GormPreferenceRepo{db: db}
}

func (r *GormPreferenceRepo) Upsert(ctx context.Context, preference *domain.NotificationPreference) error {
	model, err := preferenceModelFromDomain(preference)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "organization_id"}, {Name: "notification_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"channels", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}

	restored, err := preferenceModelToDomain(model)
	if err != nil {
		return err
	}
	*preference = *restored
	return nil
}

func (r *GormPreferenceRepo) GetForUser(
	ctx context.Context,
	userID string,
	notificationType domain.NotificationType,
) (*domain.NotificationPreference, error) {
	var model PreferenceModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND notification_type = ?", userID, notificationType).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return preferenceModelToDomain(&model)
}

func (r *GormPreferenceRepo) GetForOrganization(
	ctx context.Context,
	organizationID string,
	notificationType domain.NotificationType,
) (*domain.NotificationPreference, error) {
	var model PreferenceModel
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND notification_type = ?", organizationID, notificationType).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return preferenceModelToDomain(&model)
}
