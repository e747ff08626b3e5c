package domain

import "time"

type AuditEventType string

const (
	AuditEventLicenseCreated    AuditEventType = "license.created"
	AuditEventLicenseValidated  AuditEventType = "license.validated"
	AuditEventLicenseUpdated    AuditEventType = "license.updated"
	AuditEventLicenseDeleted    AuditEventType = "license.deleted"
	AuditEventLicenseSuspended  AuditEventType = "license.suspended"
	AuditEventLicenseRenewed    AuditEventType = "license.renewed"
	AuditEventLeaseIssued       AuditEventType = "lease.issued"
	AuditEventActivationAdded   AuditEventType = "activation.created"
	AuditEventActivationRemoved AuditEventType = "activation.removed"
)

// AuditActorSystem is the default actor recorded for service-initiated events.
const AuditActorSystem = "system"

// AuditEvent is one link in a license's hash chain. EventHash commits to
// {event_type, actor, detail, prev_hash}; PrevHash is empty only for the
// first event of a chain. Events are append-only.
type AuditEvent struct {
	ID        string         `json:"id"`
	LicenseID string         `json:"license_id"`
	EventType AuditEventType `json:"event_type"`
	Actor     string         `json:"actor"`
	Detail    map[string]any `json:"detail,omitempty"`
	PrevHash  string         `json:"prev_hash,omitempty"`
	EventHash string         `json:"event_hash"`
	Signature string         `json:"signature"`
	CreatedAt time.Time      `json:"created_at"`
}

// ChainVerification reports a forward walk over one license's chain.
// When Valid is false, EventsChecked is the count of events that passed
// before the break and BreakAt is the offending event id.
type ChainVerification struct {
	Valid         bool   `json:"valid"`
	EventsChecked int    `json:"events_checked"`
	BreakAt       string `json:"break_at,omitempty"`
}
