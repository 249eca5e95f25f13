package domain

import (
	"context"
	"time"
)

// EventType names an audit event.
type EventType string

const (
	EventOracleInitialized         EventType = "oracle_initialized"
	EventOracleRegistered          EventType = "oracle_registered"
	EventMarketRegistered          EventType = "market_registered"
	EventAttestationSubmitted      EventType = "AttestationSubmitted"
	EventAdminSignerAdded          EventType = "admin_signer_added"
	EventRequiredSignaturesUpdated EventType = "required_signatures_updated"
	EventOverrideCooldownUpdated   EventType = "override_cooldown_updated"
	EventEmergencyOverride         EventType = "EmergencyOverride"
)

// Event is one entry of the audit log. Seq is assigned by the EventLog.
type Event struct {
	ID         string         `json:"id"`
	Seq        int64          `json:"seq"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes"`
}

// EventSink receives events after the state change that produced them has
// committed.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// Clock is the source of "now" for every time-dependent rule.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Authenticator verifies that cred proves control of cred.Identity for the
// given canonical operation message. It returns an error wrapping
// ErrUnauthorized on failure.
type Authenticator interface {
	Authenticate(ctx context.Context, cred Credential, message []byte) error
}
