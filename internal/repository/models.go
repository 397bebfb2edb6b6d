package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ledgerline/dispatch/internal/domain"
	"gorm.io/datatypes"
)

// EventModel is the persistence model for the events table.
type EventModel struct {
	ID             string         `gorm:"type:uuid;primaryKey"`
	OrganizationID string         `gorm:"type:uuid;not null;index"`
	Type           string         `gorm:"type:varchar(120);not null"`
	Payload        datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time
}

func (EventModel) TableName() string { return "events" }

// EndpointModel is the persistence model for webhook_endpoints.
type EndpointModel struct {
	ID                 string         `gorm:"type:uuid;primaryKey"`
	OrganizationID     string         `gorm:"type:uuid;not null;index"`
	URL                string         `gorm:"type:text;not null"`
	Description        string         `gorm:"type:text"`
	Secret             string         `gorm:"type:varchar(128);not null"`
	EventTypes         datatypes.JSON `gorm:"not null"`
	Active             bool           `gorm:"not null;default:true"`
	DeactivatedAt      *time.Time
	DeactivationReason *string `gorm:"type:text"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (EndpointModel) TableName() string { return "webhook_endpoints" }

// DeliveryAttemptModel is the persistence model for delivery_attempts.
// Append-only: rows are created PENDING and receive exactly one terminal
// outcome update.
type DeliveryAttemptModel struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	EventID        string `gorm:"type:uuid;not null;index:idx_delivery_pair"`
	EndpointID     string `gorm:"type:uuid;not null;index:idx_delivery_pair;index"`
	EndpointURL    string `gorm:"type:text;not null"`
	AttemptNumber  int    `gorm:"not null"`
	Status         domain.DeliveryStatus `gorm:"type:varchar(10);not null"`
	HTTPStatusCode *int                  `gorm:"type:int"`
	ResponseBody   *string               `gorm:"type:text"`
	ErrorMessage   *string               `gorm:"type:text"`
	RequestBody    []byte                `gorm:"type:bytea;not null"`
	Manual         bool                  `gorm:"not null;default:false"`
	CreatedAt      time.Time
}

func (DeliveryAttemptModel) TableName() string { return "delivery_attempts" }

// NotificationModel is the persistence model for notifications.
type NotificationModel struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	UserID         *string `gorm:"type:uuid;index"`
	OrganizationID *string `gorm:"type:uuid;index"`
	Title          string  `gorm:"type:varchar(255);not null"`
	Message        string  `gorm:"type:text;not null"`
	Type           domain.NotificationType `gorm:"type:varchar(10);not null"`
	Data           datatypes.JSON
	Read           bool `gorm:"not null;default:false"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (NotificationModel) TableName() string { return "notifications" }

// PreferenceModel is the persistence model for notification_preferences.
type PreferenceModel struct {
	ID               string  `gorm:"type:uuid;primaryKey"`
	UserID           *string `gorm:"type:uuid"`
	OrganizationID   *string `gorm:"type:uuid"`
	NotificationType domain.NotificationType `gorm:"type:varchar(10);not null"`
	Channels         datatypes.JSON          `gorm:"not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (PreferenceModel) TableName() string { return "notification_preferences" }

func eventModelFromDomain(e *domain.Event) *EventModel {
	if e == nil {
		return nil
	}
	return &EventModel{
		ID:             e.ID,
		OrganizationID: e.OrganizationID,
		Type:           e.Type,
		Payload:        datatypes.JSON(e.Payload),
		CreatedAt:      e.CreatedAt,
	}
}

func eventModelToDomain(m *EventModel) *domain.Event {
	if m == nil {
		return nil
	}
	return &domain.Event{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Type:           m.Type,
		Payload:        json.RawMessage(m.Payload),
		CreatedAt:      m.CreatedAt,
	}
}

func endpointModelFromDomain(e *domain.WebhookEndpoint) (*EndpointModel, error) {
	if e == nil {
		return nil, nil
	}
	eventTypes, err := json.Marshal(e.EventTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event types: %w", err)
	}
	return &EndpointModel{
		ID:                 e.ID,
		OrganizationID:     e.OrganizationID,
		URL:                e.URL,
		Description:        e.Description,
		Secret:             e.Secret,
		EventTypes:         eventTypes,
		Active:             e.Active,
		DeactivatedAt:      e.DeactivatedAt,
		DeactivationReason: e.DeactivationReason,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}, nil
}

func endpointModelToDomain(m *EndpointModel) (*domain.WebhookEndpoint, error) {
	if m == nil {
		return nil, nil
	}
	var eventTypes []string
	if len(m.EventTypes) > 0 {
		if err := json.Unmarshal(m.EventTypes, &eventTypes); err != nil {
			return nil, fmt.Errorf("failed to decode event types for endpoint %s: %w", m.ID, err)
		}
	}
	return &domain.WebhookEndpoint{
		ID:                 m.ID,
		OrganizationID:     m.OrganizationID,
		URL:                m.URL,
		Description:        m.Description,
		Secret:             m.Secret,
		EventTypes:         eventTypes,
		Active:             m.Active,
		DeactivatedAt:      m.DeactivatedAt,
		DeactivationReason: m.DeactivationReason,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}, nil
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}
	return &DeliveryAttemptModel{
		ID:             a.ID,
		EventID:        a.EventID,
		EndpointID:     a.EndpointID,
		EndpointURL:    a.EndpointURL,
		AttemptNumber:  a.AttemptNumber,
		Status:         a.Status,
		HTTPStatusCode: a.HTTPStatusCode,
		ResponseBody:   a.ResponseBody,
		ErrorMessage:   a.ErrorMessage,
		RequestBody:    a.RequestBody,
		Manual:         a.Manual,
		CreatedAt:      a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}
	return &domain.DeliveryAttempt{
		ID:             m.ID,
		EventID:        m.EventID,
		EndpointID:     m.EndpointID,
		EndpointURL:    m.EndpointURL,
		AttemptNumber:  m.AttemptNumber,
		Status:         m.Status,
		HTTPStatusCode: m.HTTPStatusCode,
		ResponseBody:   m.ResponseBody,
		ErrorMessage:   m.ErrorMessage,
		RequestBody:    m.RequestBody,
		Manual:         m.Manual,
		CreatedAt:      m.CreatedAt,
	}
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}
	return &NotificationModel{
		ID:             n.ID,
		UserID:         n.UserID,
		OrganizationID: n.OrganizationID,
		Title:          n.Title,
		Message:        n.Message,
		Type:           n.Type,
		Data:           datatypes.JSON(n.Data),
		Read:           n.Read,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}
	return &domain.Notification{
		ID:             m.ID,
		UserID:         m.UserID,
		OrganizationID: m.OrganizationID,
		Title:          m.Title,
		Message:        m.Message,
		Type:           m.Type,
		Data:           json.RawMessage(m.Data),
		Read:           m.Read,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func preferenceModelFromDomain(p *domain.NotificationPreference) (*PreferenceModel, error) {
	if p == nil {
		return nil, nil
	}
	channels, err := json.Marshal(p.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to encode channels: %w", err)
	}
	return &PreferenceModel{
		ID:               p.ID,
		UserID:           p.UserID,
		OrganizationID:   p.OrganizationID,
		NotificationType: p.NotificationType,
		Channels:         channels,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}, nil
}

func preferenceModelToDomain(m *PreferenceModel) (*domain.NotificationPreference, error) {
	if m == nil {
		return nil, nil
	}
	var channels []domain.Channel
	if len(m.Channels) > 0 {
		if err := json.Unmarshal(m.Channels, &channels); err != nil {
			return nil, fmt.Errorf("failed to decode channels for preference %s: %w", m.ID, err)
		}
	}
	return &domain.NotificationPreference{
		ID:               m.ID,
		UserID:           m.UserID,
		OrganizationID:   m.OrganizationID,
		NotificationType: m.NotificationType,
		Channels:         channels,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}, nil
}
