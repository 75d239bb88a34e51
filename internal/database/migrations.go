package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meridianworks/meridian/backend/internal/collab"
	"github.com/meridianworks/meridian/backend/internal/documents"
	"github.com/meridianworks/meridian/backend/internal/nodes"
)

const migrationRepairRevisionCounters = "2026-07-14_repair_revision_counters"

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
		{name: migrationRepairRevisionCounters, apply: repairRevisionCounters},
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

// repairRevisionCounters raises each revision counter to the highest revision
// already present in its table. A counter that lags its table, e.g. after a
// partial restore, would otherwise reissue revisions that sync clients have
// already consumed.
func repairRevisionCounters(db *gorm.DB) error {
	tables := []string{
		nodes.TableNodes,
		nodes.TableReactions,
		nodes.TableInteractions,
		collab.TableUsers,
		collab.TableCollaborations,
		documents.TableDocumentUpdates,
	}
	for _, table := range tables {
		statement := `INSERT INTO revision_counters (table_name, last_revision)
			SELECT ?, COALESCE(MAX(revision), 0) FROM ` + table + ` WHERE true
			ON CONFLICT (table_name)
			DO UPDATE SET last_revision = MAX(last_revision, excluded.last_revision)`
		if err := db.Exec(statement, table).Error; err != nil {
			return err
		}
	}
	return nil
}
