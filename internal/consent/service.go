package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parishops/backend/internal/legal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingRegistry   = errors.New("document registry is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingTypes      = errors.New("at least one document type is required")
	errMissingSource     = errors.New("provenance source is required")
	noOpLogger           = zap.NewNop()
)

// ErrNoCurrentDocument indicates the registry has no published current
// document for any requested type in any fallback language.
var ErrNoCurrentDocument = errors.New("consent: no current document for requested types")

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "consent.service.new"
	opStatus        = "consent.status"
	opReconcile     = "consent.reconcile"
	opRecordConsent = "consent.record"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// DocumentRegistry is the read-only contract the engine consumes from the
// document store.
type DocumentRegistry interface {
	CurrentDocuments(ctx context.Context, types []legal.DocumentType, language string) (map[legal.DocumentType]legal.Document, error)
}

// IDProvider issues ledger record identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the consent service.
type ServiceConfig struct {
	Database   *gorm.DB
	Registry   DocumentRegistry
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns consent resolution, reconciliation, and the single write path
// into the ledger. It holds no state between calls.
type Service struct {
	db         *gorm.DB
	registry   DocumentRegistry
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the consent service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Registry == nil {
		return nil, newServiceError(opServiceNew, "missing_registry", errMissingRegistry)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		registry:   cfg.Registry,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// GetConsentStatus derives the consent state per requested type without side
// effects. Dashboards rely on this path never touching the ledger, so silent
// documents are reported as-is rather than auto-granted. Types with no
// current document are omitted from the result.
func (s *Service) GetConsentStatus(ctx context.Context, userID UserID, types []legal.DocumentType, language string) ([]Status, error) {
	if len(types) == 0 {
		return nil, newServiceError(opStatus, "missing_types", errMissingTypes)
	}

	documents, err := s.registry.CurrentDocuments(ctx, types, language)
	if err != nil {
		s.logError(opStatus, "registry_query_failed", err, zap.String("user_id", userID.String()))
		return nil, newServiceError(opStatus, "registry_query_failed", err)
	}

	records, err := s.ledgerRecords(ctx, userID, types)
	if err != nil {
		s.logError(opStatus, "ledger_query_failed", err, zap.String("user_id", userID.String()))
		return nil, newServiceError(opStatus, "ledger_query_failed", err)
	}

	statuses := make([]Status, 0, len(types))
	for _, documentType := range orderedUniqueTypes(types) {
		document, ok := documents[documentType]
		if !ok {
			continue
		}
		statuses = append(statuses, Resolve(records, document))
	}
	return statuses, nil
}

// Reconcile compares the user's ledger against the current documents for the
// requested types. Gaps on silent documents are closed by appending granted
// rows on the user's behalf; gaps on active documents are returned for the
// caller to surface. A type with no current document is skipped so it never
// blocks the user on the others.
func (s *Service) Reconcile(ctx context.Context, userID UserID, types []legal.DocumentType, language string, provenance Provenance) ([]PendingConsent, error) {
	if len(types) == 0 {
		return nil, newServiceError(opReconcile, "missing_types", errMissingTypes)
	}

	documents, err := s.registry.CurrentDocuments(ctx, types, language)
	if err != nil {
		s.logError(opReconcile, "registry_query_failed", err, zap.String("user_id", userID.String()))
		return nil, newServiceError(opReconcile, "registry_query_failed", err)
	}

	records, err := s.ledgerRecords(ctx, userID, types)
	if err != nil {
		s.logError(opReconcile, "ledger_query_failed", err, zap.String("user_id", userID.String()))
		return nil, newServiceError(opReconcile, "ledger_query_failed", err)
	}

	pending := make([]PendingConsent, 0)
	var silentGrants []legal.Document

	for _, documentType := range orderedUniqueTypes(types) {
		document, ok := documents[documentType]
		if !ok {
			continue
		}

		status := Resolve(records, document)
		if status.HasConsent {
			continue
		}

		if document.AcceptanceType == legal.AcceptanceSilent {
			// First-time grants are silently closed too, not only version bumps.
			silentGrants = append(silentGrants, document)
			continue
		}

		pending = append(pending, PendingConsent{
			DocumentType:    document.DocumentType,
			CurrentVersion:  document.Version,
			AcceptedVersion: status.ConsentedVersion,
		})
	}

	if len(silentGrants) > 0 {
		silentProvenance := Provenance{
			IPAddress: provenance.IPAddress,
			UserAgent: provenance.UserAgent,
			Source:    SourceSilentAcceptance,
		}
		if err := s.appendGrants(ctx, userID, silentGrants, silentProvenance); err != nil {
			s.logError(opReconcile, "silent_grant_failed", err, zap.String("user_id", userID.String()))
			return nil, newServiceError(opReconcile, "silent_grant_failed", err)
		}
		s.logger.Info("silent consent recorded",
			zap.String("user_id", userID.String()),
			zap.Int("documents", len(silentGrants)))
	}

	return pending, nil
}

// ledgerRecords loads the user's ledger slice for the requested types. Rows
// come back in recorded order but resolution does not depend on it.
func (s *Service) ledgerRecords(ctx context.Context, userID UserID, types []legal.DocumentType) ([]Record, error) {
	var records []Record
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND consent_type IN ?", userID.String(), orderedUniqueTypes(types)).
		Order("recorded_at_s ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func orderedUniqueTypes(types []legal.DocumentType) []legal.DocumentType {
	seen := make(map[legal.DocumentType]struct{}, len(types))
	unique := make([]legal.DocumentType, 0, len(types))
	for _, documentType := range types {
		if _, ok := seen[documentType]; ok {
			continue
		}
		seen[documentType] = struct{}{}
		unique = append(unique, documentType)
	}
	return unique
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("consent service error", attrs...)
}
