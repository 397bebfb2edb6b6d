package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/ledgerline/dispatch/internal/domain"
	"github.com/ledgerline/dispatch/internal/repository"
	"github.com/ledgerline/dispatch/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type NotificationService interface {
	Notify(ctx context.Context, req service.NotifyRequest) (*domain.Notification, error)
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	List(ctx context.Context, params repository.ListNotificationsParams) ([]domain.Notification, int64, error)
	MarkAsRead(ctx context.Context, id string) error
	MarkAllAsRead(ctx context.Context, userID, organizationID *string) (int64, error)
	SetPreference(ctx context.Context, preference *domain.NotificationPreference) error
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.CreateNotification)
	v1.Get("/notifications", h.ListNotifications)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Post("/notifications/:id/read", h.MarkAsRead)
	v1.Post("/notifications/read-all", h.MarkAllAsRead)
	v1.Put("/notification-preferences", h.SetPreference)

	return nil
}

type createNotificationRequest struct {
	UserID         *string         `json:"userId"`
	OrganizationID *string         `json:"organizationId"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data"`
	Channels       []string        `json:"channels"`
}

type markAllReadRequest struct {
	UserID         *string `json:"userId"`
	OrganizationID *string `json:"organizationId"`
}

type setPreferenceRequest struct {
	UserID           *string  `json:"userId"`
	OrganizationID   *string  `json:"organizationId"`
	NotificationType string   `json:"notificationType"`
	Channels         []string `json:"channels"`
}

type notificationResponse struct {
	ID             string          `json:"id"`
	UserID         *string         `json:"userId,omitempty"`
	OrganizationID *string         `json:"organizationId,omitempty"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data"`
	Read           bool            `json:"read"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	notificationType := domain.NotificationType(strings.ToUpper(strings.TrimSpace(req.Type)))
	if !notificationType.IsValid() {
		return toHTTPError(fmt.Errorf("%w: invalid notification type %q", domain.ErrValidation, req.Type))
	}

	channels := make([]domain.Channel, 0, len(req.Channels))
	for _, raw := range req.Channels {
		channels = append(channels, domain.Channel(strings.ToUpper(strings.TrimSpace(raw))))
	}

	notification, err := h.service.Notify(c.Context(), service.NotifyRequest{
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		Title:          req.Title,
		Message:        req.Message,
		Type:           notificationType,
		Data:           req.Data,
		Channels:       channels,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	notification, err := h.service.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	notifications, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		responses = append(responses, toNotificationResponse(&notifications[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: responses,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *NotificationHandler) MarkAsRead(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.MarkAsRead(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"read":           true,
	})
}

func (h *NotificationHandler) MarkAllAsRead(c *fiber.Ctx) error {
	var req markAllReadRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	updated, err := h.service.MarkAllAsRead(c.Context(), req.UserID, req.OrganizationID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"updated": updated,
	})
}

func (h *NotificationHandler) SetPreference(c *fiber.Ctx) error {
	var req setPreferenceRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	channels := make([]domain.Channel, 0, len(req.Channels))
	for _, raw := range req.Channels {
		channels = append(channels, domain.Channel(strings.ToUpper(strings.TrimSpace(raw))))
	}

	preference := &domain.NotificationPreference{
		UserID:           req.UserID,
		OrganizationID:   req.OrganizationID,
		NotificationType: domain.NotificationType(strings.ToUpper(strings.TrimSpace(req.NotificationType))),
		Channels:         channels,
	}

	if err := h.service.SetPreference(c.Context(), preference); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"id":               preference.ID,
		"notificationType": preference.NotificationType.String(),
		"channels":         channels,
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListNotificationsParams, error) {
	params := repository.ListNotificationsParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListNotificationsParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListNotificationsParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if userID := strings.TrimSpace(c.Query("userId")); userID != "" {
		params.UserID = &userID
	}
	if organizationID := strings.TrimSpace(c.Query("organizationId")); organizationID != "" {
		params.OrganizationID = &organizationID
	}
	params.UnreadOnly = c.QueryBool("unreadOnly", false)

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListNotificationsParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListNotificationsParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:             n.ID,
		UserID:         n.UserID,
		OrganizationID: n.OrganizationID,
		Title:          n.Title,
		Message:        n.Message,
		Type:           n.Type.String(),
		Data:           n.Data,
		Read:           n.Read,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}
}
