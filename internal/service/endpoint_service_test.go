package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ledgerline/dispatch/internal/domain"
	"go.uber.org/zap"
)

func newTestEndpointService(t *testing.T, endpoints *fakeEndpointRepo, deliveries *memDeliveryRepo) *EndpointService {
	t.Helper()

	if deliveries == nil {
		deliveries = &memDeliveryRepo{}
	}
	svc, err := NewEndpointService(endpoints, deliveries, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEndpointService() error = %v", err)
	}
	svc.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return svc
}

func TestEndpointServiceRegister(t *testing.T) {
	t.Parallel()

	var stored *domain.WebhookEndpoint
	endpoints := &fakeEndpointRepo{
		createFn: func(ctx context.Context, endpoint *domain.WebhookEndpoint) error {
			stored = endpoint
			return nil
		},
	}
	svc := newTestEndpointService(t, endpoints, nil)

	registered, err := svc.Register(context.Background(), &domain.WebhookEndpoint{
		OrganizationID: "org-1",
		URL:            "https://receiver.example.com/hooks",
		EventTypes:     []string{"invoice.paid", " invoice.paid ", "invoice.voided"},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if stored == nil {
		t.Fatal("endpoint should be persisted")
	}
	if registered.ID == "" {
		t.Fatal("an id should be assigned")
	}
	if !registered.Active {
		t.Fatal("new endpoints start active")
	}
	if !strings.HasPrefix(registered.Secret, "whsec_") {
		t.Fatalf("secret = %q, want whsec_ prefix", registered.Secret)
	}
	if got := len(registered.Secret); got != len("whsec_")+secretRandBytes*2 {
		t.Fatalf("secret length = %d, want %d", got, len("whsec_")+secretRandBytes*2)
	}
	if len(registered.EventTypes) != 2 {
		t.Fatalf("event types = %v, want deduplicated pair", registered.EventTypes)
	}
	if registered.CreatedAt.IsZero() || registered.UpdatedAt.IsZero() {
		t.Fatal("timestamps should be set")
	}
}

func TestEndpointServiceRegisterSecretsAreUnique(t *testing.T) {
	t.Parallel()

	svc := newTestEndpointService(t, &fakeEndpointRepo{}, nil)

	first, err := svc.Register(context.Background(), &domain.WebhookEndpoint{
		OrganizationID: "org-1",
		URL:            "https://a.example.com/hooks",
		EventTypes:     []string{"invoice.paid"},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	second, err := svc.Register(context.Background(), &domain.WebhookEndpoint{
		OrganizationID: "org-1",
		URL:            "https://b.example.com/hooks",
		EventTypes:     []string{"invoice.paid"},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if first.Secret == second.Secret {
		t.Fatal("secrets must be generated per endpoint")
	}
}

func TestEndpointServiceRegisterRejectsBadURL(t *testing.T) {
	t.Parallel()

	createCalled := false
	endpoints := &fakeEndpointRepo{
		createFn: func(ctx context.Context, endpoint *domain.WebhookEndpoint) error {
			createCalled = true
			return nil
		},
	}
	svc := newTestEndpointService(t, endpoints, nil)

	_, err := svc.Register(context.Background(), &domain.WebhookEndpoint{
		OrganizationID: "org-1",
		URL:            "ftp://receiver.example.com/hooks",
		EventTypes:     []string{"invoice.paid"},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Register() error = %v, want ErrValidation", err)
	}
	if createCalled {
		t.Fatal("invalid endpoints must not be persisted")
	}
}

func TestEndpointServiceUpdatePartial(t *testing.T) {
	t.Parallel()

	deactivatedAt := time.Unix(1_600_000_000, 0)
	reason := "High failure rate"
	existing := domain.WebhookEndpoint{
		ID:                 "ep-1",
		OrganizationID:     "org-1",
		URL:                "https://old.example.com/hooks",
		Secret:             "whsec_test",
		EventTypes:         []string{"invoice.paid"},
		Active:             false,
		DeactivatedAt:      &deactivatedAt,
		DeactivationReason: &reason,
	}

	var updated *domain.WebhookEndpoint
	endpoints := &fakeEndpointRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.WebhookEndpoint, error) {
			copied := existing
			return &copied, nil
		},
		updateFn: func(ctx context.Context, endpoint *domain.WebhookEndpoint) error {
			updated = endpoint
			return nil
		},
	}
	svc := newTestEndpointService(t, endpoints, nil)

	newURL := "https://new.example.com/hooks"
	active := true
	result, err := svc.Update(context.Background(), "ep-1", EndpointUpdate{
		URL:    &newURL,
		Active: &active,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if updated == nil {
		t.Fatal("update should be persisted")
	}
	if result.URL != newURL {
		t.Fatalf("url = %q, want %q", result.URL, newURL)
	}
	if len(result.EventTypes) != 1 || result.EventTypes[0] != "invoice.paid" {
		t.Fatalf("event types changed unexpectedly: %v", result.EventTypes)
	}
	if !result.Active {
		t.Fatal("endpoint should be reactivated")
	}
	if result.DeactivatedAt != nil || result.DeactivationReason != nil {
		t.Fatal("reactivation must clear the deactivation markers")
	}
}

func TestEndpointServiceUpdateNotFound(t *testing.T) {
	t.Parallel()

	svc := newTestEndpointService(t, &fakeEndpointRepo{}, nil)

	_, err := svc.Update(context.Background(), "missing", EndpointUpdate{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestEndpointServiceRotateSecret(t *testing.T) {
	t.Parallel()

	var storedSecret string
	endpoints := &fakeEndpointRepo{
		updateSecretFn: func(ctx context.Context, id string, secret string) error {
			if id != "ep-1" {
				t.Fatalf("id = %q, want ep-1", id)
			}
			storedSecret = secret
			return nil
		},
	}
	svc := newTestEndpointService(t, endpoints, nil)

	secret, err := svc.RotateSecret(context.Background(), "ep-1")
	if err != nil {
		t.Fatalf("RotateSecret() error = %v", err)
	}
	if secret != storedSecret {
		t.Fatal("the returned secret must match the stored one")
	}
	if !strings.HasPrefix(secret, "whsec_") {
		t.Fatalf("secret = %q, want whsec_ prefix", secret)
	}
}

func TestEndpointServiceListSubscribedValidatesEventType(t *testing.T) {
	t.Parallel()

	svc := newTestEndpointService(t, &fakeEndpointRepo{}, nil)

	_, err := svc.ListSubscribed(context.Background(), "org-1", "not a type")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ListSubscribed() error = %v, want ErrValidation", err)
	}
}

func TestEndpointServiceListDeliveriesChecksEndpoint(t *testing.T) {
	t.Parallel()

	svc := newTestEndpointService(t, &fakeEndpointRepo{}, nil)

	_, err := svc.ListDeliveries(context.Background(), "missing", 20)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ListDeliveries() error = %v, want ErrNotFound", err)
	}
}
