package consent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/parishops/backend/internal/legal"
	"gorm.io/gorm"
)

// Action is the recorded outcome of a consent event. Only affirmative actions
// ever satisfy consent; everything else is kept for the audit trail and
// ignored during resolution.
type Action string

const (
	// ActionGranted is the canonical affirmative action. It is the only value
	// the writer ever produces.
	ActionGranted Action = "granted"
	// ActionAccept is a deprecated synonym for granted, honored on read for
	// rows written before the value was canonicalized.
	ActionAccept Action = "accept"
	// ActionDeclined records an explicit refusal.
	ActionDeclined Action = "declined"
)

// Affirmative reports whether the action counts as consent.
func (a Action) Affirmative() bool {
	return a == ActionGranted || a == ActionAccept
}

// LegacyDocumentVersion is the version deemed accepted by ledger rows written
// before per-record version tracking existed (document_version IS NULL).
// Resolution must treat those rows as consent to version 1, never as unknown.
const LegacyDocumentVersion int64 = 1

// Source tags carried in the record context to attribute a write to its flow.
const (
	SourceSignup           = "signup"
	SourceReconsentFlow    = "reconsent_flow"
	SourceSilentAcceptance = "silent_acceptance"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidUserID indicates an empty or oversized user identifier.
	ErrInvalidUserID = errors.New("consent: invalid user id")
	// ErrLedgerImmutable indicates an attempt to update or delete a ledger row.
	ErrLedgerImmutable = errors.New("consent: ledger records are append-only")
)

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Record is one event in the append-only consent ledger.
type Record struct {
	RecordID          string             `gorm:"column:record_id;primaryKey;size:190;not null"`
	UserID            string             `gorm:"column:user_id;size:190;not null;index:idx_consent_user_type,priority:1"`
	ConsentType       legal.DocumentType `gorm:"column:consent_type;size:64;not null;index:idx_consent_user_type,priority:2"`
	DocumentID        *string            `gorm:"column:document_id;size:190"`
	DocumentVersion   *int64             `gorm:"column:document_version"`
	Action            Action             `gorm:"column:action;size:32;not null"`
	RecordedAtSeconds int64              `gorm:"column:recorded_at_s;not null;index:idx_consent_user_type,priority:3"`
	IPAddress         *string            `gorm:"column:ip_address;size:64"`
	UserAgent         *string            `gorm:"column:user_agent;size:512"`
	ContextJSON       string             `gorm:"column:context_json;type:text;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "consent_records"
}

// BeforeUpdate refuses in-place mutation; the ledger is the compliance audit
// trail and rows must survive exactly as written.
func (Record) BeforeUpdate(*gorm.DB) error {
	return ErrLedgerImmutable
}

// BeforeDelete refuses deletion for the same reason.
func (Record) BeforeDelete(*gorm.DB) error {
	return ErrLedgerImmutable
}

// ConsentedVersion resolves the accepted version for a record, applying the
// legacy default for rows that predate version tracking.
func (r Record) ConsentedVersion() int64 {
	if r.DocumentVersion == nil {
		return LegacyDocumentVersion
	}
	return *r.DocumentVersion
}

// Provenance carries the caller-supplied request metadata attached to every
// write.
type Provenance struct {
	IPAddress string
	UserAgent string
	Source    string
}

// Status is the derived consent state for one (user, document type) pair. It
// is computed on demand and never persisted.
type Status struct {
	DocumentType       legal.DocumentType
	HasConsent         bool
	ConsentedVersion   *int64
	CurrentVersion     int64
	ConsentedAtSeconds *int64
}

// PendingConsent names a document that still requires the user's explicit
// action. AcceptedVersion is nil when the user never consented at all.
type PendingConsent struct {
	DocumentType    legal.DocumentType
	CurrentVersion  int64
	AcceptedVersion *int64
}
