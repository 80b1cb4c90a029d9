package legal

import (
	"errors"
	"fmt"
	"strings"
)

// DocumentType identifies a lineage of legal documents. New types may be
// introduced without a schema change, so the enum stays an open string.
type DocumentType string

const (
	// DocumentTypeTermsOfService covers the consumer-facing terms.
	DocumentTypeTermsOfService DocumentType = "terms_of_service"
	// DocumentTypePrivacyPolicy covers the privacy policy.
	DocumentTypePrivacyPolicy DocumentType = "privacy_policy"
	// DocumentTypeDPA covers the data-processing addendum signed by church admins.
	DocumentTypeDPA DocumentType = "dpa"
	// DocumentTypeChurchAdminTerms covers the supplemental admin terms.
	DocumentTypeChurchAdminTerms DocumentType = "church_admin_terms"
)

// Status gates consent relevance; only published documents participate in
// resolution.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// AcceptanceType decides whether a version bump demands a fresh user action.
type AcceptanceType string

const (
	// AcceptanceActive requires an explicit click-through.
	AcceptanceActive AcceptanceType = "active"
	// AcceptanceSilent may be recorded on the user's behalf.
	AcceptanceSilent AcceptanceType = "silent"
)

// ErrUnknownDocumentType indicates a document type outside the known set.
var ErrUnknownDocumentType = errors.New("legal: unknown document type")

var knownDocumentTypes = map[DocumentType]struct{}{
	DocumentTypeTermsOfService:   {},
	DocumentTypePrivacyPolicy:    {},
	DocumentTypeDPA:              {},
	DocumentTypeChurchAdminTerms: {},
}

// ParseDocumentType validates raw input against the known set.
func ParseDocumentType(rawInput string) (DocumentType, error) {
	trimmed := DocumentType(strings.ToLower(strings.TrimSpace(rawInput)))
	if _, ok := knownDocumentTypes[trimmed]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDocumentType, rawInput)
	}
	return trimmed, nil
}

// String returns the underlying enum value.
func (t DocumentType) String() string {
	return string(t)
}

// Document models one published (or draft) version of a legal document.
// Body content lives with the authoring workflow; the engine only needs the
// version lineage metadata and a title for read-outs.
type Document struct {
	ID               string         `gorm:"column:id;primaryKey;size:190;not null"`
	DocumentType     DocumentType   `gorm:"column:document_type;size:64;not null;index:idx_legal_current,priority:1"`
	Language         string         `gorm:"column:language;size:16;not null;index:idx_legal_current,priority:2"`
	Version          int64          `gorm:"column:version;not null;default:1"`
	IsCurrent        bool           `gorm:"column:is_current;not null;default:false;index:idx_legal_current,priority:3"`
	Status           Status         `gorm:"column:status;size:16;not null;default:'draft'"`
	AcceptanceType   AcceptanceType `gorm:"column:acceptance_type;size:16;not null;default:'active'"`
	Title            string         `gorm:"column:title;size:320;not null;default:''"`
	EffectiveSeconds int64          `gorm:"column:effective_at_s;not null;default:0"`
	CreatedAtSeconds int64          `gorm:"column:created_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "legal_documents"
}

// ConsentRelevant reports whether the document participates in consent
// resolution at all.
func (d Document) ConsentRelevant() bool {
	return d.Status == StatusPublished && d.IsCurrent
}
