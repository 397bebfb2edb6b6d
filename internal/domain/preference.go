package domain

import (
	"fmt"
	"time"
)

// NotificationPreference is a per-user or per-organization mapping from a
// notification type to an ordered channel set. Exactly one of UserID or
// OrganizationID is set.
type NotificationPreference struct {
	ID               string
	UserID           *string
	OrganizationID   *string
	NotificationType NotificationType
	Channels         []Channel
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (p *NotificationPreference) Validate() error {
	if (p.UserID == nil) == (p.OrganizationID == nil) {
		return fmt.Errorf("%w: exactly one of user id or organization id is required", ErrValidation)
	}
	if !p.NotificationType.IsValid() {
		return fmt.Errorf("%w: invalid notification type %q", ErrValidation, p.NotificationType)
	}
	for _, channel := range p.Channels {
		if !channel.IsValid() {
			return fmt.Errorf("%w: invalid channel %q", ErrValidation, channel)
		}
	}
	return nil
}

// ResolveChannels picks the effective channel set for a notification:
// explicit override, else the stored preference, else {IN_APP}. IN_APP is
// always force-included so in-app history is never silently lost. Order is
// preserved and duplicates are dropped.
func ResolveChannels(override, stored []Channel) []Channel {
	source := override
	if len(source) == 0 {
		source = stored
	}

	resolved := make([]Channel, 0, len(source)+1)
	seen := make(map[Channel]struct{}, len(source)+1)

	add := func(c Channel) {
		if !c.IsValid() {
			return
		}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		resolved = append(resolved, c)
	}

	add(ChannelInApp)
	for _, c := range source {
		add(c)
	}

	return resolved
}
