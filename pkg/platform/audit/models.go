package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "certledger/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryCompliance covers the certificate lifecycle. These events are
	// written fail-closed with the state change they describe.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers rejected or suspicious actions.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers recovery and housekeeping.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions.
type Event struct {
	ID            uuid.UUID
	Category      EventCategory
	Timestamp     time.Time
	InstitutionID id.InstitutionID
	CertificateID id.CertificateID
	TokenID       id.TokenID
	Subject       string
	Action        string
	Reason        string
	RequestID     string
	ActorID       string
}

type AuditEvent string

const (
	EventCertificateIssued     AuditEvent = "certificate_issued"
	EventCertificateMinted     AuditEvent = "certificate_minted"
	EventCertificateRevoked    AuditEvent = "certificate_revoked"
	EventCertificateReconciled AuditEvent = "certificate_reconciled"

	EventBindDeferred AuditEvent = "bind_deferred"
	EventMintOrphaned AuditEvent = "mint_orphaned"

	EventQuotaExceeded AuditEvent = "quota_exceeded"
	EventRevokeDenied  AuditEvent = "revoke_denied"
	EventAddressDenied AuditEvent = "mint_address_denied"

	EventUsageRolledOver AuditEvent = "usage_rolled_over"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventCertificateIssued:     CategoryCompliance,
	EventCertificateMinted:     CategoryCompliance,
	EventCertificateRevoked:    CategoryCompliance,
	EventCertificateReconciled: CategoryCompliance,

	EventMintOrphaned:  CategorySecurity,
	EventQuotaExceeded: CategorySecurity,
	EventRevokeDenied:  CategorySecurity,
	EventAddressDenied: CategorySecurity,

	EventBindDeferred:    CategoryOperations,
	EventUsageRolledOver: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events. Implementations join the caller's unit of
// work when one is present in ctx.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// OutboxEntry is a stored event awaiting relay to the broker.
type OutboxEntry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// Payload is the JSON body written to the outbox and published to Kafka.
type Payload struct {
	ID            string `json:"id"`
	Category      string `json:"category"`
	Timestamp     string `json:"timestamp"`
	InstitutionID string `json:"institution_id,omitempty"`
	CertificateID string `json:"certificate_id,omitempty"`
	TokenID       string `json:"token_id,omitempty"`
	Subject       string `json:"subject,omitempty"`
	Action        string `json:"action"`
	Reason        string `json:"reason,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
	ActorID       string `json:"actor_id,omitempty"`
}

// NewPayload renders an event for the wire. Category is always derived from
// the action.
func NewPayload(event Event) Payload {
	p := Payload{
		ID:        event.ID.String(),
		Category:  string(AuditEvent(event.Action).Category()),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		TokenID:   event.TokenID.String(),
		Subject:   event.Subject,
		Action:    event.Action,
		Reason:    event.Reason,
		RequestID: event.RequestID,
		ActorID:   event.ActorID,
	}
	if !event.InstitutionID.IsNil() {
		p.InstitutionID = event.InstitutionID.String()
	}
	if !event.CertificateID.IsNil() {
		p.CertificateID = event.CertificateID.String()
	}
	return p
}

// Aggregate names the outbox aggregate an event belongs to.
func Aggregate(event Event) (aggregateType, aggregateID string) {
	switch {
	case !event.CertificateID.IsNil():
		return "certificate", event.CertificateID.String()
	case !event.InstitutionID.IsNil():
		return "institution", event.InstitutionID.String()
	default:
		return "audit", event.ID.String()
	}
}
