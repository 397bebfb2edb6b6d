package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ledgerline/dispatch/internal/domain"
)

const defaultRelayTimeout = 10 * time.Second

type relayRequest struct {
	To      string `json:"to"`
	Channel string `json:"channel"`
	Title   string `json:"title,omitempty"`
	Body    string `json:"body"`
}

// RelaySender posts channel messages to an HTTP relay, one base URL per
// channel (e.g. the internal email gateway). It implements Sender for every
// non-in-app channel.
type RelaySender struct {
	client   *resty.Client
	endpoint string
	channel  domain.Channel
}

func NewRelaySender(channel domain.Channel, endpoint string) (*RelaySender, error) {
	client := resty.New()
	client.SetTimeout(defaultRelayTimeout)
	client.SetRetryCount(0)

	return NewRelaySenderWithClient(channel, endpoint, client)
}

func NewRelaySenderWithClient(channel domain.Channel, endpoint string, client *resty.Client) (*RelaySender, error) {
	if !channel.IsValid() || channel == domain.ChannelInApp {
		return nil, fmt.Errorf("relay sender requires an external channel, got %q", channel)
	}

	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("relay endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid relay endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultRelayTimeout)
	}
	client.SetRetryCount(0)

	return &RelaySender{
		client:   client,
		endpoint: trimmedEndpoint,
		channel:  channel,
	}, nil
}

func (s *RelaySender) Send(ctx context.Context, recipient string, msg Message) (*SendResult, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("relay sender is not initialized")
	}
	if strings.TrimSpace(recipient) == "" {
		return nil, fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	}

	reqBody := relayRequest{
		To:      recipient,
		Channel: strings.ToLower(s.channel.String()),
		Title:   msg.Title,
		Body:    msg.Body,
	}

	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(s.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "relay request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "relay returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResult{
			StatusCode:        statusCode,
			ProviderMessageID: relayMessageID(response),
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Body:       responseBody,
		Message:    fmt.Sprintf("relay returned status %d", statusCode),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func relayMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Message-Id", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}
	return ""
}
