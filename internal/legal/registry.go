package legal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// RegistryConfig describes the dependencies of the document registry.
type RegistryConfig struct {
	Database *gorm.DB
	// FallbackLanguages is tried in order when the requested language has no
	// current document for a type. Remaining languages are tried
	// alphabetically after the configured order is exhausted.
	FallbackLanguages []string
	Logger            *zap.Logger
}

// Registry is the engine's read-only view of published legal documents. The
// authoring workflow that creates versions and flips is_current lives outside
// this service.
type Registry struct {
	db        *gorm.DB
	fallbacks []string
	logger    *zap.Logger
}

// NewRegistry constructs the registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("legal: %w", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	fallbacks := make([]string, 0, len(cfg.FallbackLanguages))
	for _, language := range cfg.FallbackLanguages {
		if normalized := normalizeLanguage(language); normalized != "" {
			fallbacks = append(fallbacks, normalized)
		}
	}
	return &Registry{
		db:        cfg.Database,
		fallbacks: fallbacks,
		logger:    logger,
	}, nil
}

// CurrentDocuments returns the current published document per requested type.
// Selection keys on is_current and status alone; the effective timestamp is
// advisory metadata. Each type resolves independently: the requested language
// first, then the configured fallback order, then any remaining language
// alphabetically. A type with no current document in any language is simply
// absent from the result.
func (r *Registry) CurrentDocuments(ctx context.Context, types []DocumentType, language string) (map[DocumentType]Document, error) {
	if len(types) == 0 {
		return map[DocumentType]Document{}, nil
	}

	var rows []Document
	err := r.db.WithContext(ctx).
		Where("document_type IN ? AND is_current = ? AND status = ?", uniqueTypes(types), true, StatusPublished).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("legal: current document query failed: %w", err)
	}

	byType := make(map[DocumentType][]Document)
	for _, row := range rows {
		byType[row.DocumentType] = append(byType[row.DocumentType], row)
	}

	requested := normalizeLanguage(language)
	result := make(map[DocumentType]Document, len(byType))
	for documentType, candidates := range byType {
		chosen, ok := pickByLanguage(candidates, requested, r.fallbacks)
		if !ok {
			continue
		}
		result[documentType] = chosen
	}

	for _, documentType := range types {
		if _, ok := result[documentType]; !ok {
			r.logger.Debug("no current document for type",
				zap.String("document_type", documentType.String()),
				zap.String("language", requested))
		}
	}

	return result, nil
}

// CurrentDocument resolves a single type with the same fallback policy.
func (r *Registry) CurrentDocument(ctx context.Context, documentType DocumentType, language string) (Document, bool, error) {
	documents, err := r.CurrentDocuments(ctx, []DocumentType{documentType}, language)
	if err != nil {
		return Document{}, false, err
	}
	document, ok := documents[documentType]
	return document, ok, nil
}

// pickByLanguage collapses the candidate rows for one type to a single
// document. Within one language only the highest version survives; storage
// anomalies can briefly leave two rows flagged current.
func pickByLanguage(candidates []Document, requested string, fallbacks []string) (Document, bool) {
	best := make(map[string]Document, len(candidates))
	for _, candidate := range candidates {
		key := normalizeLanguage(candidate.Language)
		current, ok := best[key]
		if !ok || candidate.Version > current.Version {
			best[key] = candidate
		}
	}

	if requested != "" {
		if document, ok := best[requested]; ok {
			return document, true
		}
	}
	for _, fallback := range fallbacks {
		if document, ok := best[fallback]; ok {
			return document, true
		}
	}

	remaining := make([]string, 0, len(best))
	for key := range best {
		remaining = append(remaining, key)
	}
	sort.Strings(remaining)
	if len(remaining) == 0 {
		return Document{}, false
	}
	return best[remaining[0]], true
}

func uniqueTypes(types []DocumentType) []DocumentType {
	seen := make(map[DocumentType]struct{}, len(types))
	unique := make([]DocumentType, 0, len(types))
	for _, documentType := range types {
		if _, ok := seen[documentType]; ok {
			continue
		}
		seen[documentType] = struct{}{}
		unique = append(unique, documentType)
	}
	return unique
}

func normalizeLanguage(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
