package database

import (
	"errors"
	"time"

	"github.com/parishops/backend/internal/legal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationRepairCurrentDocumentFlags = "2026-06-10_repair_current_document_flags"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRepairCurrentDocumentFlags, apply: repairCurrentDocumentFlags},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// repairCurrentDocumentFlags demotes duplicate is_current rows left behind by
// manual document imports, keeping only the highest published version per
// (document_type, language) lineage.
func repairCurrentDocumentFlags(db *gorm.DB) error {
	return db.Model(&legal.Document{}).
		Where("is_current = ? AND status = ?", true, legal.StatusPublished).
		Where(`version < (
			SELECT MAX(peer.version) FROM legal_documents peer
			WHERE peer.document_type = legal_documents.document_type
			  AND peer.language = legal_documents.language
			  AND peer.is_current = ? AND peer.status = ?
		)`, true, legal.StatusPublished).
		Update("is_current", false).Error
}
