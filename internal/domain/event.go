package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Event type names are dotted lowercase identifiers, e.g. invoice.paid.
var eventTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

// Event is an immutable billing domain fact. It is created once at emission
// time and retained for audit and replay; delivery bookkeeping references it
// by ID.
type Event struct {
	ID             string
	OrganizationID string
	Type           string
	Payload        json.RawMessage
	CreatedAt      time.Time
}

func (e *Event) Validate() error {
	if strings.TrimSpace(e.OrganizationID) == "" {
		return fmt.Errorf("%w: organization id is required", ErrValidation)
	}
	return ValidateEventType(e.Type)
}

func ValidateEventType(eventType string) error {
	if !eventTypePattern.MatchString(eventType) {
		return fmt.Errorf("%w: invalid event type %q", ErrValidation, eventType)
	}
	return nil
}
