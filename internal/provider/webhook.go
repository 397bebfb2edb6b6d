package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ledgerline/dispatch/internal/domain"
	"github.com/ledgerline/dispatch/internal/signature"
)

// Each attempt, not the chain, is bounded by this timeout.
const defaultDeliveryTimeout = 10 * time.Second

// WebhookRequest is one signed POST to a subscriber endpoint.
type WebhookRequest struct {
	URL        string
	Secret     string
	Body       []byte
	DeliveryID string
	EventType  string
	Retry      bool
}

// WebhookResponse captures a successful (2xx) receiver response.
type WebhookResponse struct {
	StatusCode int
	Body       string
}

// WebhookDeliverer is the outbound webhook transport port.
type WebhookDeliverer interface {
	Deliver(ctx context.Context, req WebhookRequest) (*WebhookResponse, error)
}

// WebhookClient posts signed event payloads to subscriber endpoints. Signing
// happens per attempt with the secret supplied in the request, so a secret
// rotation takes effect on the next attempt without invalidating the one in
// flight.
type WebhookClient struct {
	client *resty.Client
	now    func() time.Time
}

func NewWebhookClient() *WebhookClient {
	client := resty.New()
	client.SetTimeout(defaultDeliveryTimeout)
	client.SetRetryCount(0)
	wc, _ := NewWebhookClientWithClient(client)
	return wc
}

func NewWebhookClientWithClient(client *resty.Client) (*WebhookClient, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultDeliveryTimeout)
	}
	// Retries are owned by the dispatcher, which persists one row per attempt.
	client.SetRetryCount(0)

	return &WebhookClient{
		client: client,
		now:    time.Now,
	}, nil
}

func (c *WebhookClient) Deliver(ctx context.Context, req WebhookRequest) (*WebhookResponse, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("webhook client is not initialized")
	}
	if err := domain.ValidateEndpointURL(req.URL); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Secret) == "" {
		return nil, fmt.Errorf("%w: endpoint secret is required", domain.ErrValidation)
	}

	ts := c.now()
	request := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Webhook-Signature", signature.Sign(req.Secret, ts, req.Body)).
		SetHeader("X-Webhook-ID", req.DeliveryID).
		SetHeader("X-Webhook-Event", req.EventType).
		SetHeader("X-Webhook-Timestamp", strconv.FormatInt(ts.Unix(), 10)).
		SetBody(req.Body)
	if req.Retry {
		request.SetHeader("X-Webhook-Retry", "true")
	}

	response, err := request.Post(req.URL)
	if err != nil {
		return nil, &ProviderError{
			Message:   "webhook request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "webhook returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &WebhookResponse{
			StatusCode: statusCode,
			Body:       responseBody,
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Body:       responseBody,
		Message:    fmt.Sprintf("receiver returned status %d", statusCode),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}
