package consent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parishops/backend/internal/legal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordContext struct {
	Source string `json:"source"`
}

// RecordConsent appends one granted row per resolvable requested type,
// carrying the caller's provenance. It is the only write path into the
// ledger. The whole batch lands in a single transaction; a failure leaves the
// ledger untouched. The call fails outright only when no requested type
// resolves to a current document at all — individually unresolvable types in
// a partially resolvable batch are skipped.
func (s *Service) RecordConsent(ctx context.Context, userID UserID, types []legal.DocumentType, language string, provenance Provenance) error {
	if len(types) == 0 {
		return newServiceError(opRecordConsent, "missing_types", errMissingTypes)
	}
	if provenance.Source == "" {
		return newServiceError(opRecordConsent, "missing_source", errMissingSource)
	}

	documents, err := s.registry.CurrentDocuments(ctx, types, language)
	if err != nil {
		s.logError(opRecordConsent, "registry_query_failed", err, zap.String("user_id", userID.String()))
		return newServiceError(opRecordConsent, "registry_query_failed", err)
	}
	if len(documents) == 0 {
		return newServiceError(opRecordConsent, "no_current_document", ErrNoCurrentDocument)
	}

	grants := make([]legal.Document, 0, len(documents))
	for _, documentType := range orderedUniqueTypes(types) {
		document, ok := documents[documentType]
		if !ok {
			s.logger.Warn("consent requested for type without current document",
				zap.String("user_id", userID.String()),
				zap.String("document_type", documentType.String()))
			continue
		}
		grants = append(grants, document)
	}

	if err := s.appendGrants(ctx, userID, grants, provenance); err != nil {
		s.logError(opRecordConsent, "ledger_append_failed", err, zap.String("user_id", userID.String()))
		return newServiceError(opRecordConsent, "ledger_append_failed", err)
	}

	s.logger.Info("consent recorded",
		zap.String("user_id", userID.String()),
		zap.String("source", provenance.Source),
		zap.Int("documents", len(grants)))
	return nil
}

// appendGrants builds one granted record per document and inserts the batch
// atomically. Duplicate rows for the same (user, type, version) are legal:
// concurrent writers may both observe a gap, and a duplicate grant does not
// change resolution.
func (s *Service) appendGrants(ctx context.Context, userID UserID, documents []legal.Document, provenance Provenance) error {
	if len(documents) == 0 {
		return nil
	}

	recordedAt := s.clock().UTC().Unix()
	records := make([]Record, 0, len(documents))
	for _, document := range documents {
		record, err := s.buildGrant(userID, document, provenance, recordedAt)
		if err != nil {
			return err
		}
		records = append(records, record)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for index := range records {
			if err := tx.Create(&records[index]).Error; err != nil {
				return fmt.Errorf("ledger insert failed for %s: %w", records[index].ConsentType, err)
			}
		}
		return nil
	})
}

func (s *Service) buildGrant(userID UserID, document legal.Document, provenance Provenance, recordedAt int64) (Record, error) {
	recordID, err := s.idProvider.NewID()
	if err != nil {
		return Record{}, fmt.Errorf("id generation failed: %w", err)
	}

	contextJSON, err := json.Marshal(recordContext{Source: provenance.Source})
	if err != nil {
		return Record{}, fmt.Errorf("context marshal failed: %w", err)
	}

	documentID := document.ID
	documentVersion := document.Version
	record := Record{
		RecordID:          recordID,
		UserID:            userID.String(),
		ConsentType:       document.DocumentType,
		DocumentID:        &documentID,
		DocumentVersion:   &documentVersion,
		Action:            ActionGranted,
		RecordedAtSeconds: recordedAt,
		ContextJSON:       string(contextJSON),
	}
	if provenance.IPAddress != "" {
		ipAddress := provenance.IPAddress
		record.IPAddress = &ipAddress
	}
	if provenance.UserAgent != "" {
		userAgent := provenance.UserAgent
		record.UserAgent = &userAgent
	}
	return record, nil
}
