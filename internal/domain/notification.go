package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// NotificationType classifies a notification for display and preferences.
type NotificationType string

const (
	NotificationInfo    NotificationType = "INFO"
	NotificationSuccess NotificationType = "SUCCESS"
	NotificationWarning NotificationType = "WARNING"
	NotificationError   NotificationType = "ERROR"
)

func (t NotificationType) String() string { return string(t) }

func (t NotificationType) IsValid() bool {
	switch t {
	case NotificationInfo, NotificationSuccess, NotificationWarning, NotificationError:
		return true
	}
	return false
}

func ParseNotificationType(s string) (NotificationType, error) {
	t := NotificationType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid notification type %q", ErrValidation, s)
	}
	return t, nil
}

// Channel is a notification delivery medium. IN_APP is the synchronous source
// of truth; the rest are best-effort external sends.
type Channel string

const (
	ChannelInApp Channel = "IN_APP"
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return c, nil
}

// DeliveryDataKey is the Notification.Data key holding one channel's outcome,
// e.g. emailDelivery.
func (c Channel) DeliveryDataKey() string {
	switch c {
	case ChannelInApp:
		return "inAppDelivery"
	default:
		return strings.ToLower(c.String()) + "Delivery"
	}
}

// Content limits per notification field (in characters).
const (
	MaxNotificationTitle   = 255
	MaxNotificationMessage = 4000
)

// Notification is the persisted in-app record. The core identity fields are
// immutable after creation; Read flips on acknowledgment and Data grows one
// <channel>Delivery sub-object per completed external channel attempt.
type Notification struct {
	ID             string
	UserID         *string
	OrganizationID *string
	Title          string
	Message        string
	Type           NotificationType
	Data           json.RawMessage
	Read           bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (n *Notification) Validate() error {
	if n.UserID == nil && n.OrganizationID == nil {
		return fmt.Errorf("%w: a user id or organization id is required", ErrValidation)
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if !n.Type.IsValid() {
		return fmt.Errorf("%w: invalid notification type %q", ErrValidation, n.Type)
	}
	if titleLen := len([]rune(n.Title)); titleLen > MaxNotificationTitle {
		return fmt.Errorf("%w: title exceeds %d characters (got %d)", ErrValidation, MaxNotificationTitle, titleLen)
	}
	if msgLen := len([]rune(n.Message)); msgLen > MaxNotificationMessage {
		return fmt.Errorf("%w: message exceeds %d characters (got %d)", ErrValidation, MaxNotificationMessage, msgLen)
	}
	return nil
}

// ChannelDelivery is the per-channel outcome recorded into Notification.Data.
type ChannelDelivery struct {
	Success           bool      `json:"success"`
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
	Error             string    `json:"error,omitempty"`
	AttemptedAt       time.Time `json:"attemptedAt"`
}

// E.164-ish: optional +, leading non-zero digit, 7 to 15 digits total.
var phonePattern = regexp.MustCompile(`^\+?[1-9][0-9]{6,14}$`)

// ValidPhoneNumber reports whether a recipient phone number is SMS-deliverable.
func ValidPhoneNumber(s string) bool {
	return phonePattern.MatchString(strings.TrimSpace(s))
}
