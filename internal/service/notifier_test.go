package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ledgerline/dispatch/internal/domain"
	"github.com/ledgerline/dispatch/internal/provider"
	"go.uber.org/zap"
)

type fakeDirectory struct {
	contactFn func(ctx context.Context, userID string) (*provider.Contact, error)
}

func (f *fakeDirectory) Contact(ctx context.Context, userID string) (*provider.Contact, error) {
	if f.contactFn != nil {
		return f.contactFn(ctx, userID)
	}
	return nil, domain.ErrNotFound
}

func strPtr(v string) *string { return &v }

func newTestNotifier(
	t *testing.T,
	notifications *fakeNotificationRepo,
	preferences *fakePreferenceRepo,
	directory provider.RecipientDirectory,
	senders map[domain.Channel]provider.Sender,
) *Notifier {
	t.Helper()

	if notifications == nil {
		notifications = &fakeNotificationRepo{}
	}
	if preferences == nil {
		preferences = &fakePreferenceRepo{}
	}
	notifier, err := NewNotifier(notifications, preferences, directory, senders, zap.NewNop())
	if err != nil {
		t.Fatalf("NewNotifier() error = %v", err)
	}
	notifier.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return notifier
}

func TestNotifierNotifyDefaultsToInAppOnly(t *testing.T) {
	t.Parallel()

	var created *domain.Notification
	notifications := &fakeNotificationRepo{
		createFn: func(ctx context.Context, notification *domain.Notification) error {
			created = notification
			return nil
		},
	}
	email := &fakeSender{}
	notifier := newTestNotifier(t, notifications, nil, nil, map[domain.Channel]provider.Sender{
		domain.ChannelEmail: email,
	})

	notification, err := notifier.Notify(context.Background(), NotifyRequest{
		UserID:  strPtr("user-1"),
		Title:   "Invoice paid",
		Message: "Invoice INV-1 was paid.",
		Type:    domain.NotificationSuccess,
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if created == nil || created.ID != notification.ID {
		t.Fatal("notification should be persisted")
	}
	if string(notification.Data) != "{}" {
		t.Fatalf("data = %s, want empty object", notification.Data)
	}
	// No stored preference resolves to the in-app default, so no external send.
	if got := email.recipients(); len(got) != 0 {
		t.Fatalf("email sends = %v, want none", got)
	}
}

func TestNotifierNotifyUsesUserPreference(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{}
	preferences := &fakePreferenceRepo{
		userFn: func(ctx context.Context, userID string, notificationType domain.NotificationType) (*domain.NotificationPreference, error) {
			return &domain.NotificationPreference{
				UserID:           strPtr(userID),
				NotificationType: notificationType,
				Channels:         []domain.Channel{domain.ChannelEmail},
			}, nil
		},
	}
	directory := &fakeDirectory{
		contactFn: func(ctx context.Context, userID string) (*provider.Contact, error) {
			return &provider.Contact{Email: "user@example.com"}, nil
		},
	}
	email := &fakeSender{
		sendFn: func(ctx context.Context, recipient string, msg provider.Message) (*provider.SendResult, error) {
			return &provider.SendResult{StatusCode: 202, ProviderMessageID: "msg-42"}, nil
		},
	}
	notifier := newTestNotifier(t, notifications, preferences, directory, map[domain.Channel]provider.Sender{
		domain.ChannelEmail: email,
	})

	_, err := notifier.Notify(context.Background(), NotifyRequest{
		UserID:  strPtr("user-1"),
		Title:   "Invoice paid",
		Message: "Invoice INV-1 was paid.",
		Type:    domain.NotificationSuccess,
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if got := email.recipients(); len(got) != 1 || got[0] != "user@example.com" {
		t.Fatalf("email recipients = %v, want [user@example.com]", got)
	}
	outcome, ok := notifications.recordedOutcome(domain.ChannelEmail)
	if !ok {
		t.Fatal("email outcome should be recorded on the notification")
	}
	if !outcome.Success {
		t.Fatalf("outcome = %+v, want success", outcome)
	}
	if outcome.ProviderMessageID != "msg-42" {
		t.Fatalf("provider message id = %q, want msg-42", outcome.ProviderMessageID)
	}
}

func TestNotifierNotifySenderFailureDoesNotFail(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{}
	directory := &fakeDirectory{
		contactFn: func(ctx context.Context, userID string) (*provider.Contact, error) {
			return &provider.Contact{Email: "user@example.com"}, nil
		},
	}
	email := &fakeSender{
		sendFn: func(ctx context.Context, recipient string, msg provider.Message) (*provider.SendResult, error) {
			return nil, &provider.ProviderError{StatusCode: 503, Message: "relay unavailable", Transient: true}
		},
	}
	notifier := newTestNotifier(t, notifications, nil, directory, map[domain.Channel]provider.Sender{
		domain.ChannelEmail: email,
	})

	_, err := notifier.Notify(context.Background(), NotifyRequest{
		UserID:   strPtr("user-1"),
		Title:    "Invoice overdue",
		Message:  "Invoice INV-2 is overdue.",
		Type:     domain.NotificationWarning,
		Channels: []domain.Channel{domain.ChannelEmail},
	})
	if err != nil {
		t.Fatalf("Notify() error = %v, external failures must not propagate", err)
	}

	outcome, ok := notifications.recordedOutcome(domain.ChannelEmail)
	if !ok {
		t.Fatal("failed outcome should still be recorded")
	}
	if outcome.Success || outcome.Error == "" {
		t.Fatalf("outcome = %+v, want recorded failure", outcome)
	}
}

func TestNotifierNotifyStoreFailureAbortsBeforeSends(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{
		createFn: func(ctx context.Context, notification *domain.Notification) error {
			return errors.New("connection refused")
		},
	}
	email := &fakeSender{}
	directory := &fakeDirectory{
		contactFn: func(ctx context.Context, userID string) (*provider.Contact, error) {
			return &provider.Contact{Email: "user@example.com"}, nil
		},
	}
	notifier := newTestNotifier(t, notifications, nil, directory, map[domain.Channel]provider.Sender{
		domain.ChannelEmail: email,
	})

	_, err := notifier.Notify(context.Background(), NotifyRequest{
		UserID:   strPtr("user-1"),
		Title:    "Invoice paid",
		Message:  "Invoice INV-1 was paid.",
		Type:     domain.NotificationSuccess,
		Channels: []domain.Channel{domain.ChannelEmail},
	})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("Notify() error = %v, want ErrPersistence", err)
	}
	if got := email.recipients(); len(got) != 0 {
		t.Fatalf("email sends = %v, want none after store failure", got)
	}
}

func TestNotifierNotifySkipsChannelWithoutRecipient(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{}
	directory := &fakeDirectory{
		contactFn: func(ctx context.Context, userID string) (*provider.Contact, error) {
			return &provider.Contact{Phone: "not-a-number"}, nil
		},
	}
	email := &fakeSender{}
	sms := &fakeSender{}
	notifier := newTestNotifier(t, notifications, nil, directory, map[domain.Channel]provider.Sender{
		domain.ChannelEmail: email,
		domain.ChannelSMS:   sms,
	})

	_, err := notifier.Notify(context.Background(), NotifyRequest{
		UserID:   strPtr("user-1"),
		Title:    "Invoice paid",
		Message:  "Invoice INV-1 was paid.",
		Type:     domain.NotificationSuccess,
		Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS},
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if got := email.recipients(); len(got) != 0 {
		t.Fatal("no email send expected without an address")
	}
	if got := sms.recipients(); len(got) != 0 {
		t.Fatal("no sms send expected for an invalid phone number")
	}

	emailOutcome, ok := notifications.recordedOutcome(domain.ChannelEmail)
	if !ok || emailOutcome.Error != "No email recipient" {
		t.Fatalf("email outcome = %+v, want skip reason", emailOutcome)
	}
	smsOutcome, ok := notifications.recordedOutcome(domain.ChannelSMS)
	if !ok || smsOutcome.Error != `Invalid phone number "not-a-number"` {
		t.Fatalf("sms outcome = %+v, want invalid phone skip reason", smsOutcome)
	}
}

func TestNotifierNotifyRejectsInvalidOverrideChannel(t *testing.T) {
	t.Parallel()

	createCalled := false
	notifications := &fakeNotificationRepo{
		createFn: func(ctx context.Context, notification *domain.Notification) error {
			createCalled = true
			return nil
		},
	}
	notifier := newTestNotifier(t, notifications, nil, nil, nil)

	_, err := notifier.Notify(context.Background(), NotifyRequest{
		UserID:   strPtr("user-1"),
		Title:    "Invoice paid",
		Message:  "Invoice INV-1 was paid.",
		Type:     domain.NotificationSuccess,
		Channels: []domain.Channel{domain.Channel("FAX")},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Notify() error = %v, want ErrValidation", err)
	}
	if createCalled {
		t.Fatal("invalid requests must not be persisted")
	}
}

func TestNotifierMarkAllAsReadRequiresScope(t *testing.T) {
	t.Parallel()

	notifier := newTestNotifier(t, nil, nil, nil, nil)

	_, err := notifier.MarkAllAsRead(context.Background(), nil, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("MarkAllAsRead() error = %v, want ErrValidation", err)
	}

	blank := "   "
	_, err = notifier.MarkAllAsRead(context.Background(), &blank, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("MarkAllAsRead() error = %v, want ErrValidation for blank scope", err)
	}
}

func TestNotifierSetPreference(t *testing.T) {
	t.Parallel()

	var stored *domain.NotificationPreference
	preferences := &fakePreferenceRepo{
		upsertFn: func(ctx context.Context, preference *domain.NotificationPreference) error {
			stored = preference
			return nil
		},
	}
	notifier := newTestNotifier(t, nil, preferences, nil, nil)

	err := notifier.SetPreference(context.Background(), &domain.NotificationPreference{
		UserID:           strPtr("user-1"),
		NotificationType: domain.NotificationWarning,
		Channels:         []domain.Channel{domain.ChannelEmail, domain.ChannelSMS},
	})
	if err != nil {
		t.Fatalf("SetPreference() error = %v", err)
	}
	if stored == nil || stored.ID == "" {
		t.Fatal("preference should be stored with a generated id")
	}
	if stored.CreatedAt.IsZero() || stored.UpdatedAt.IsZero() {
		t.Fatal("timestamps should be set")
	}
}

func TestNotifierSetPreferenceRejectsDualScope(t *testing.T) {
	t.Parallel()

	notifier := newTestNotifier(t, nil, nil, nil, nil)

	err := notifier.SetPreference(context.Background(), &domain.NotificationPreference{
		UserID:           strPtr("user-1"),
		OrganizationID:   strPtr("org-1"),
		NotificationType: domain.NotificationInfo,
		Channels:         []domain.Channel{domain.ChannelEmail},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("SetPreference() error = %v, want ErrValidation", err)
	}
}
