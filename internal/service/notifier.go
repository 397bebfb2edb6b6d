package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/dispatch/internal/domain"
	"github.com/ledgerline/dispatch/internal/observability"
	"github.com/ledgerline/dispatch/internal/provider"
	"github.com/ledgerline/dispatch/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultChannelFanout = 4

// NotifyRequest describes one notification to create and fan out.
type NotifyRequest struct {
	UserID         *string
	OrganizationID *string
	Title          string
	Message        string
	Type           domain.NotificationType
	Data           json.RawMessage
	// Channels overrides stored preferences when non-empty. IN_APP is always
	// added regardless.
	Channels []domain.Channel
}

// Notifier creates in-app notifications and pushes them over external
// channels. The in-app record is the source of truth: it is written
// synchronously, and every external channel outcome is folded back into its
// data. External sends are best-effort and never fail the notify call.
type Notifier struct {
	notifications repository.NotificationRepository
	preferences   repository.PreferenceRepository
	directory     provider.RecipientDirectory
	senders       map[domain.Channel]provider.Sender
	logger        *zap.Logger
	metrics       *observability.Metrics
	fanout        int
	now           func() time.Time
}

func NewNotifier(
	notifications repository.NotificationRepository,
	preferences repository.PreferenceRepository,
	directory provider.RecipientDirectory,
	senders map[domain.Channel]provider.Sender,
	logger *zap.Logger,
) (*Notifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if senders == nil {
		senders = map[domain.Channel]provider.Sender{}
	}

	return &Notifier{
		notifications: notifications,
		preferences:   preferences,
		directory:     directory,
		senders:       senders,
		logger:        logger,
		fanout:        defaultChannelFanout,
		now:           time.Now,
	}, nil
}

func (s *Notifier) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Notify persists the notification and fans it out to the resolved channels.
// A store failure aborts before any external send; channel failures are
// recorded against the notification and never propagate.
func (s *Notifier) Notify(ctx context.Context, req NotifyRequest) (*domain.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now().UTC()
	notification := &domain.Notification{
		ID:             uuid.NewString(),
		UserID:         normalizeOptionalString(req.UserID),
		OrganizationID: normalizeOptionalString(req.OrganizationID),
		Title:          strings.TrimSpace(req.Title),
		Message:        strings.TrimSpace(req.Message),
		Type:           req.Type,
		Data:           req.Data,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if len(notification.Data) == 0 {
		notification.Data = json.RawMessage(`{}`)
	}
	if err := notification.Validate(); err != nil {
		return nil, err
	}

	channels, err := s.resolveChannels(ctx, notification, req.Channels)
	if err != nil {
		return nil, err
	}

	if err := s.notifications.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("%w: failed to store notification: %v", domain.ErrPersistence, err)
	}
	s.metrics.IncNotificationCreated(notification.Type.String())

	s.fanOut(ctx, notification, channels)

	return notification, nil
}

// resolveChannels applies the precedence: explicit override, then user
// preference, then organization preference, then the in-app default. IN_APP
// is forced into every result.
func (s *Notifier) resolveChannels(ctx context.Context, notification *domain.Notification, override []domain.Channel) ([]domain.Channel, error) {
	if len(override) > 0 {
		for _, channel := range override {
			if !channel.IsValid() {
				return nil, fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, channel)
			}
		}
		return domain.ResolveChannels(override, nil), nil
	}

	if notification.UserID != nil {
		pref, err := s.preferences.GetForUser(ctx, *notification.UserID, notification.Type)
		if err == nil {
			return domain.ResolveChannels(nil, pref.Channels), nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	if notification.OrganizationID != nil {
		pref, err := s.preferences.GetForOrganization(ctx, *notification.OrganizationID, notification.Type)
		if err == nil {
			return domain.ResolveChannels(nil, pref.Channels), nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	return domain.ResolveChannels(nil, nil), nil
}

// fanOut pushes the notification over every external channel concurrently.
// Tasks always return nil so one channel's failure never cancels another.
func (s *Notifier) fanOut(ctx context.Context, notification *domain.Notification, channels []domain.Channel) {
	external := make([]domain.Channel, 0, len(channels))
	for _, channel := range channels {
		if channel == domain.ChannelInApp {
			continue
		}
		external = append(external, channel)
	}
	if len(external) == 0 {
		return
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for _, channel := range external {
		channel := channel
		g.Go(func() error {
			s.deliverChannel(groupCtx, notification, channel)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Notifier) deliverChannel(ctx context.Context, notification *domain.Notification, channel domain.Channel) {
	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("notificationId", notification.ID),
		zap.String("channel", channel.String()),
	)

	outcome := domain.ChannelDelivery{AttemptedAt: s.now().UTC()}

	recipient, skipReason := s.resolveRecipient(ctx, notification, channel)
	if skipReason != "" {
		outcome.Error = skipReason
		logger.Warn("channel delivery skipped", zap.String("reason", skipReason))
		s.metrics.IncChannelSend(channel.String(), "skipped")
		s.recordOutcome(ctx, notification, channel, outcome, logger)
		return
	}

	sender := s.senders[channel]
	start := s.now()
	result, err := sender.Send(ctx, recipient, provider.Message{
		Title: notification.Title,
		Body:  notification.Message,
	})
	s.metrics.ObserveChannelSendDuration(channel.String(), s.now().Sub(start))

	if err != nil {
		outcome.Error = err.Error()
		logger.Warn("channel delivery failed", zap.Error(err))
		s.metrics.IncChannelSend(channel.String(), "failed")
	} else {
		outcome.Success = true
		if result != nil {
			outcome.ProviderMessageID = result.ProviderMessageID
		}
		s.metrics.IncChannelSend(channel.String(), "success")
	}

	s.recordOutcome(ctx, notification, channel, outcome, logger)
}

// resolveRecipient finds the channel address for the notification's user. A
// non-empty skip reason means the channel cannot be attempted; the reason is
// recorded as the channel outcome.
func (s *Notifier) resolveRecipient(ctx context.Context, notification *domain.Notification, channel domain.Channel) (string, string) {
	if _, ok := s.senders[channel]; !ok {
		return "", fmt.Sprintf("No sender configured for channel %s", channel)
	}
	if notification.UserID == nil {
		return "", "No user recipient"
	}
	if s.directory == nil {
		return "", "No recipient directory configured"
	}

	contact, err := s.directory.Contact(ctx, *notification.UserID)
	if err != nil {
		return "", fmt.Sprintf("Failed to resolve recipient: %v", err)
	}

	switch channel {
	case domain.ChannelEmail:
		if strings.TrimSpace(contact.Email) == "" {
			return "", "No email recipient"
		}
		return contact.Email, ""
	case domain.ChannelSMS:
		phone := strings.TrimSpace(contact.Phone)
		if phone == "" {
			return "", "No phone recipient"
		}
		if !domain.ValidPhoneNumber(phone) {
			return "", fmt.Sprintf("Invalid phone number %q", phone)
		}
		return phone, ""
	case domain.ChannelPush:
		if strings.TrimSpace(contact.DeviceToken) == "" {
			return "", "No push device token"
		}
		return contact.DeviceToken, ""
	default:
		return "", fmt.Sprintf("Unsupported channel %s", channel)
	}
}

// recordOutcome folds the channel result into the notification's data.
// Best-effort: the delivery already happened, so a bookkeeping failure is
// logged and swallowed.
func (s *Notifier) recordOutcome(ctx context.Context, notification *domain.Notification, channel domain.Channel, outcome domain.ChannelDelivery, logger *zap.Logger) {
	if err := s.notifications.AppendChannelDelivery(ctx, notification.ID, channel, outcome); err != nil {
		logger.Warn("failed to record channel outcome", zap.Error(err))
	}
}

func (s *Notifier) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.notifications.GetByID(ctx, strings.TrimSpace(id))
}

func (s *Notifier) List(ctx context.Context, params repository.ListNotificationsParams) ([]domain.Notification, int64, error) {
	if params.UserID == nil && params.OrganizationID == nil {
		return nil, 0, fmt.Errorf("%w: a user id or organization id is required", domain.ErrValidation)
	}
	return s.notifications.List(ctx, params)
}

// MarkAsRead is idempotent: re-reading an already-read notification succeeds.
func (s *Notifier) MarkAsRead(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.notifications.MarkRead(ctx, strings.TrimSpace(id))
}

func (s *Notifier) MarkAllAsRead(ctx context.Context, userID, organizationID *string) (int64, error) {
	userID = normalizeOptionalString(userID)
	organizationID = normalizeOptionalString(organizationID)
	if userID == nil && organizationID == nil {
		return 0, fmt.Errorf("%w: a user id or organization id is required", domain.ErrValidation)
	}
	return s.notifications.MarkAllRead(ctx, userID, organizationID)
}

// SetPreference stores the channel preference for a scope and type,
// replacing any existing row.
func (s *Notifier) SetPreference(ctx context.Context, preference *domain.NotificationPreference) error {
	if preference == nil {
		return fmt.Errorf("%w: preference is required", domain.ErrValidation)
	}

	preference.UserID = normalizeOptionalString(preference.UserID)
	preference.OrganizationID = normalizeOptionalString(preference.OrganizationID)
	preference.ID = strings.TrimSpace(preference.ID)
	if preference.ID == "" {
		preference.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if preference.CreatedAt.IsZero() {
		preference.CreatedAt = now
	}
	preference.UpdatedAt = now

	if err := preference.Validate(); err != nil {
		return err
	}

	return s.preferences.Upsert(ctx, preference)
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
