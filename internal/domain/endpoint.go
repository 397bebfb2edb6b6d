package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// EventTypeWildcard subscribes an endpoint to every event type.
const EventTypeWildcard = "*"

// WebhookEndpoint is an organization-owned registration of an HTTPS receiver.
// Secrets are generated server-side and never re-derivable; rotation replaces
// the secret for all deliveries signed after the rotation.
type WebhookEndpoint struct {
	ID                 string
	OrganizationID     string
	URL                string
	Description        string
	Secret             string
	EventTypes         []string
	Active             bool
	DeactivatedAt      *time.Time
	DeactivationReason *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (e *WebhookEndpoint) Validate() error {
	if strings.TrimSpace(e.OrganizationID) == "" {
		return fmt.Errorf("%w: organization id is required", ErrValidation)
	}
	if err := ValidateEndpointURL(e.URL); err != nil {
		return err
	}
	if len(e.EventTypes) == 0 {
		return fmt.Errorf("%w: at least one event type is required", ErrValidation)
	}
	for _, eventType := range e.EventTypes {
		if eventType == EventTypeWildcard {
			continue
		}
		if err := ValidateEventType(eventType); err != nil {
			return err
		}
	}
	return nil
}

// SubscribedTo reports whether the endpoint subscribes to the event type,
// either explicitly or via the wildcard sentinel.
func (e *WebhookEndpoint) SubscribedTo(eventType string) bool {
	for _, subscribed := range e.EventTypes {
		if subscribed == EventTypeWildcard || subscribed == eventType {
			return true
		}
	}
	return false
}

// ValidateEndpointURL requires an absolute http(s) URL with a host.
func ValidateEndpointURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: invalid endpoint url: %v", ErrValidation, err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return fmt.Errorf("%w: endpoint url must be absolute", ErrValidation)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: endpoint url scheme must be http or https", ErrValidation)
	}
	return nil
}
