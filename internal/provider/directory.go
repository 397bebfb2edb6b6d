package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ledgerline/dispatch/internal/domain"
)

const defaultDirectoryTimeout = 5 * time.Second

// Contact is the deliverable addressing info for one user. Empty fields mean
// the user has no recipient for that channel.
type Contact struct {
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	DeviceToken string `json:"deviceToken"`
}

// RecipientDirectory resolves user contact info for external channels.
// Returns ErrNotFound for unknown users.
type RecipientDirectory interface {
	Contact(ctx context.Context, userID string) (*Contact, error)
}

// HTTPDirectory resolves contacts from the platform's user profile service.
type HTTPDirectory struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPDirectory(baseURL string) (*HTTPDirectory, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("directory base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid directory base url: %w", err)
	}

	client := resty.New()
	client.SetTimeout(defaultDirectoryTimeout)
	client.SetRetryCount(0)

	return &HTTPDirectory{client: client, baseURL: trimmed}, nil
}

func (d *HTTPDirectory) Contact(ctx context.Context, userID string) (*Contact, error) {
	if d == nil || d.client == nil {
		return nil, fmt.Errorf("directory is not initialized")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	response, err := d.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("%s/v1/users/%s/contact", d.baseURL, url.PathEscape(userID)))
	if err != nil {
		return nil, fmt.Errorf("directory request failed: %w", err)
	}

	switch {
	case response.StatusCode() == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case response.StatusCode() < http.StatusOK || response.StatusCode() >= http.StatusMultipleChoices:
		return nil, fmt.Errorf("directory returned status %d", response.StatusCode())
	}

	var contact Contact
	if err := json.Unmarshal(response.Body(), &contact); err != nil {
		return nil, fmt.Errorf("failed to decode directory response: %w", err)
	}
	return &contact, nil
}

// StaticDirectory is an in-memory directory for tests and local development.
type StaticDirectory map[string]Contact

func (d StaticDirectory) Contact(_ context.Context, userID string) (*Contact, error) {
	contact, ok := d[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &contact, nil
}
