package queue

import (
	"fmt"
	"strings"

	"github.com/ledgerline/dispatch/internal/domain"
)

// DispatchMessage is the broker payload that hands an emitted event to the
// dispatch workers. The event body itself stays in the store; the message
// only carries what a worker needs to pick the event up.
type DispatchMessage struct {
	EventID        string `json:"eventId"`
	OrganizationID string `json:"organizationId"`
	EventType      string `json:"eventType"`
	CorrelationID  string `json:"correlationId,omitempty"`
}

func (m DispatchMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return fmt.Errorf("eventId is required")
	}
	if strings.TrimSpace(m.OrganizationID) == "" {
		return fmt.Errorf("organizationId is required")
	}
	if err := domain.ValidateEventType(m.EventType); err != nil {
		return fmt.Errorf("invalid eventType: %w", err)
	}
	return nil
}
