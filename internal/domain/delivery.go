package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryStatus is the state of one HTTP delivery attempt.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "PENDING"
	DeliverySuccess DeliveryStatus = "SUCCESS"
	DeliveryFailed  DeliveryStatus = "FAILED"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryPending, DeliverySuccess, DeliveryFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the attempt reached an outcome.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliverySuccess || s == DeliveryFailed
}

// MaxStoredResponseBody caps persisted receiver response bodies (in runes)
// to bound storage per attempt.
const MaxStoredResponseBody = 1000

// TruncateResponseBody trims a receiver response to the storage cap.
func TruncateResponseBody(body string) string {
	runes := []rune(body)
	if len(runes) <= MaxStoredResponseBody {
		return body
	}
	return string(runes[:MaxStoredResponseBody])
}

// DeliveryAttempt is one row per (event, endpoint) HTTP try. Attempt numbers
// are 1-based and strictly increasing per pair; a SUCCESS attempt is terminal
// for the pair. EndpointURL is denormalized so history survives endpoint
// deletion, and RequestBody holds the exact signed body so a manual retry can
// replay it bit-identically.
type DeliveryAttempt struct {
	ID             string
	EventID        string
	EndpointID     string
	EndpointURL    string
	AttemptNumber  int
	Status         DeliveryStatus
	HTTPStatusCode *int
	ResponseBody   *string
	ErrorMessage   *string
	RequestBody    []byte
	Manual         bool
	CreatedAt      time.Time
}

func (a *DeliveryAttempt) Validate() error {
	if strings.TrimSpace(a.EventID) == "" {
		return fmt.Errorf("%w: event id is required", ErrValidation)
	}
	if strings.TrimSpace(a.EndpointID) == "" {
		return fmt.Errorf("%w: endpoint id is required", ErrValidation)
	}
	if !a.Status.IsValid() {
		return fmt.Errorf("%w: invalid delivery status %q", ErrValidation, a.Status)
	}
	return nil
}
