package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerline/dispatch/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ListNotificationsParams filters and paginates notification listings.
type ListNotificationsParams struct {
	UserID         *string
	OrganizationID *string
	UnreadOnly     bool
	From           *time.Time
	To             *time.Time
	Page           int
	PageSize       int
}

// NotificationRepository persists in-app notifications.
type NotificationRepository interface {
	Create(ctx context.Context, notification *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	List(ctx context.Context, params ListNotificationsParams) ([]domain.Notification, int64, error)
	// MarkRead flips read to true. Re-marking an already-read notification is
	// a no-op, not an error.
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, userID, organizationID *string) (int64, error)
	// AppendChannelDelivery merges one channel outcome into the notification's
	// data under <channel>Delivery, leaving other keys untouched.
	AppendChannelDelivery(ctx context.Context, id string, channel domain.Channel, outcome domain.ChannelDelivery) error
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, notification *domain.Notification) error {
	model := notificationModelFromDomain(notification)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*notification = *notificationModelToDomain(model)
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) List(ctx context.Context, params ListNotificationsParams) ([]domain.Notification, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationModel{})

	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.OrganizationID != nil {
		query = query.Where("organization_id = ?", *params.OrganizationID)
	}
	if params.UnreadOnly {
		query = query.Where("read = ?", false)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []NotificationModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications, total, nil
}

func (r *GormNotificationRepo) MarkRead(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Update("read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormNotificationRepo) MarkAllRead(ctx context.Context, userID, organizationID *string) (int64, error) {
	if userID == nil && organizationID == nil {
		return 0, fmt.Errorf("%w: a user id or organization id is required", domain.ErrValidation)
	}

	query := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("read = ?", false)
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}
	if organizationID != nil {
		query = query.Where("organization_id = ?", *organizationID)
	}

	result := query.Update("read", true)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormNotificationRepo) AppendChannelDelivery(
	ctx context.Context,
	id string,
	channel domain.Channel,
	outcome domain.ChannelDelivery,
) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model NotificationModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		data := map[string]json.RawMessage{}
		if len(model.Data) > 0 {
			if err := json.Unmarshal(model.Data, &data); err != nil {
				return fmt.Errorf("failed to decode notification data for %s: %w", id, err)
			}
		}

		encoded, err := json.Marshal(outcome)
		if err != nil {
			return fmt.Errorf("failed to encode channel outcome: %w", err)
		}
		data[channel.DeliveryDataKey()] = encoded

		merged, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode notification data: %w", err)
		}

		return tx.Model(&NotificationModel{}).
			Where("id = ?", id).
			Update("data", datatypes.JSON(merged)).Error
	})
}
