package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/ledgerline/dispatch/internal/domain"
	"github.com/ledgerline/dispatch/internal/observability"
	"github.com/ledgerline/dispatch/internal/service"
)

const (
	defaultDeliveryLimit = 50
	maxDeliveryLimit     = 200
)

type EndpointService interface {
	Register(ctx context.Context, endpoint *domain.WebhookEndpoint) (*domain.WebhookEndpoint, error)
	GetByID(ctx context.Context, id string) (*domain.WebhookEndpoint, error)
	Update(ctx context.Context, id string, update service.EndpointUpdate) (*domain.WebhookEndpoint, error)
	RotateSecret(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, organizationID string) ([]domain.WebhookEndpoint, error)
	ListDeliveries(ctx context.Context, endpointID string, limit int) ([]domain.DeliveryAttempt, error)
}

type DispatchService interface {
	EmitWebhook(ctx context.Context, organizationID string, eventType string, data json.RawMessage) (*domain.Event, error)
	RetryDelivery(ctx context.Context, attemptID string) (*domain.DeliveryAttempt, error)
}

type EndpointHandler struct {
	endpoints EndpointService
	dispatch  DispatchService
}

func NewEndpointHandler(endpoints EndpointService, dispatch DispatchService) (*EndpointHandler, error) {
	if endpoints == nil {
		return nil, fmt.Errorf("endpoint service is required")
	}
	if dispatch == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	return &EndpointHandler{endpoints: endpoints, dispatch: dispatch}, nil
}

func RegisterEndpointRoutes(router fiber.Router, endpoints EndpointService, dispatch DispatchService) error {
	h, err := NewEndpointHandler(endpoints, dispatch)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/webhook-endpoints", h.RegisterEndpoint)
	v1.Get("/webhook-endpoints", h.ListEndpoints)
	v1.Get("/webhook-endpoints/:id", h.GetEndpoint)
	v1.Patch("/webhook-endpoints/:id", h.UpdateEndpoint)
	v1.Delete("/webhook-endpoints/:id", h.DeleteEndpoint)
	v1.Post("/webhook-endpoints/:id/rotate-secret", h.RotateSecret)
	v1.Get("/webhook-endpoints/:id/deliveries", h.ListDeliveries)
	v1.Post("/events", h.EmitEvent)
	v1.Post("/deliveries/:id/retry", h.RetryDelivery)

	return nil
}

type registerEndpointRequest struct {
	OrganizationID string   `json:"organizationId"`
	URL            string   `json:"url"`
	Description    string   `json:"description"`
	EventTypes     []string `json:"eventTypes"`
}

type updateEndpointRequest struct {
	URL         *string  `json:"url"`
	Description *string  `json:"description"`
	EventTypes  []string `json:"eventTypes"`
	Active      *bool    `json:"active"`
}

type emitEventRequest struct {
	OrganizationID string          `json:"organizationId"`
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data"`
}

// endpointResponse never carries the signing secret; registration and
// rotation responses are the only places it appears.
type endpointResponse struct {
	ID                 string     `json:"id"`
	OrganizationID     string     `json:"organizationId"`
	URL                string     `json:"url"`
	Description        string     `json:"description,omitempty"`
	EventTypes         []string   `json:"eventTypes"`
	Active             bool       `json:"active"`
	DeactivatedAt      *time.Time `json:"deactivatedAt,omitempty"`
	DeactivationReason *string    `json:"deactivationReason,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

type registerEndpointResponse struct {
	endpointResponse
	Secret string `json:"secret"`
}

type deliveryResponse struct {
	ID             string    `json:"id"`
	EventID        string    `json:"eventId"`
	EndpointID     string    `json:"endpointId"`
	EndpointURL    string    `json:"endpointUrl"`
	AttemptNumber  int       `json:"attemptNumber"`
	Status         string    `json:"status"`
	HTTPStatusCode *int      `json:"httpStatusCode,omitempty"`
	ResponseBody   *string   `json:"responseBody,omitempty"`
	ErrorMessage   *string   `json:"errorMessage,omitempty"`
	Manual         bool      `json:"manual"`
	CreatedAt      time.Time `json:"createdAt"`
}

type eventResponse struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organizationId"`
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (h *EndpointHandler) RegisterEndpoint(c *fiber.Ctx) error {
	var req registerEndpointRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	endpoint := &domain.WebhookEndpoint{
		OrganizationID: strings.TrimSpace(req.OrganizationID),
		URL:            req.URL,
		Description:    req.Description,
		EventTypes:     req.EventTypes,
	}

	registered, err := h.endpoints.Register(c.Context(), endpoint)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(registerEndpointResponse{
		endpointResponse: toEndpointResponse(registered),
		Secret:           registered.Secret,
	})
}

func (h *EndpointHandler) ListEndpoints(c *fiber.Ctx) error {
	organizationID := strings.TrimSpace(c.Query("organizationId"))
	endpoints, err := h.endpoints.List(c.Context(), organizationID)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]endpointResponse, 0, len(endpoints))
	for i := range endpoints {
		responses = append(responses, toEndpointResponse(&endpoints[i]))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": responses})
}

func (h *EndpointHandler) GetEndpoint(c *fiber.Ctx) error {
	endpoint, err := h.endpoints.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toEndpointResponse(endpoint))
}

func (h *EndpointHandler) UpdateEndpoint(c *fiber.Ctx) error {
	var req updateEndpointRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	endpoint, err := h.endpoints.Update(c.Context(), c.Params("id"), service.EndpointUpdate{
		URL:         req.URL,
		Description: req.Description,
		EventTypes:  req.EventTypes,
		Active:      req.Active,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toEndpointResponse(endpoint))
}

func (h *EndpointHandler) DeleteEndpoint(c *fiber.Ctx) error {
	if err := h.endpoints.Delete(c.Context(), c.Params("id")); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *EndpointHandler) RotateSecret(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	secret, err := h.endpoints.RotateSecret(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"endpointId": id,
		"secret":     secret,
	})
}

func (h *EndpointHandler) ListDeliveries(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultDeliveryLimit)
	if limit < 1 || limit > maxDeliveryLimit {
		return toHTTPError(fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxDeliveryLimit))
	}

	deliveries, err := h.endpoints.ListDeliveries(c.Context(), c.Params("id"), limit)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]deliveryResponse, 0, len(deliveries))
	for i := range deliveries {
		responses = append(responses, toDeliveryResponse(&deliveries[i]))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": responses})
}

func (h *EndpointHandler) EmitEvent(c *fiber.Ctx) error {
	var req emitEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	var ctx context.Context = c.Context()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}

	event, err := h.dispatch.EmitWebhook(ctx, req.OrganizationID, req.Type, req.Data)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(eventResponse{
		ID:             event.ID,
		OrganizationID: event.OrganizationID,
		Type:           event.Type,
		Data:           event.Payload,
		CreatedAt:      event.CreatedAt,
	})
}

func (h *EndpointHandler) RetryDelivery(c *fiber.Ctx) error {
	attempt, err := h.dispatch.RetryDelivery(c.Context(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toDeliveryResponse(attempt))
}

func toEndpointResponse(e *domain.WebhookEndpoint) endpointResponse {
	if e == nil {
		return endpointResponse{}
	}

	eventTypes := e.EventTypes
	if eventTypes == nil {
		eventTypes = []string{}
	}

	return endpointResponse{
		ID:                 e.ID,
		OrganizationID:     e.OrganizationID,
		URL:                e.URL,
		Description:        e.Description,
		EventTypes:         eventTypes,
		Active:             e.Active,
		DeactivatedAt:      e.DeactivatedAt,
		DeactivationReason: e.DeactivationReason,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

func toDeliveryResponse(a *domain.DeliveryAttempt) deliveryResponse {
	if a == nil {
		return deliveryResponse{}
	}

	return deliveryResponse{
		ID:             a.ID,
		EventID:        a.EventID,
		EndpointID:     a.EndpointID,
		EndpointURL:    a.EndpointURL,
		AttemptNumber:  a.AttemptNumber,
		Status:         a.Status.String(),
		HTTPStatusCode: a.HTTPStatusCode,
		ResponseBody:   a.ResponseBody,
		ErrorMessage:   a.ErrorMessage,
		Manual:         a.Manual,
		CreatedAt:      a.CreatedAt,
	}
}
