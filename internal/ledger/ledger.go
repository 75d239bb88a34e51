// Package ledger assigns the strictly increasing, per-table revision
// numbers that the cursor-based sync protocol orders by. Every row
// mutation passes through Next inside the same transaction that commits
// the row, so a revision is never visible before the row it describes.
package ledger

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrMissingTransaction indicates Next was called without a transaction handle.
	ErrMissingTransaction = errors.New("ledger: transaction handle is required")
	// ErrMissingTable indicates Next was called without a table name.
	ErrMissingTable = errors.New("ledger: table name is required")
)

// RevisionCounter holds the last revision issued for one synced table.
type RevisionCounter struct {
	CountedTable string `gorm:"column:table_name;primaryKey;size:64;not null"`
	LastRevision int64  `gorm:"column:last_revision;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (RevisionCounter) TableName() string {
	return "revision_counters"
}

// Next issues the next revision for the named table. The counter row is
// locked for the duration of the enclosing transaction, so two concurrent
// writers never receive the same value and commit order matches revision
// order per table.
func Next(tx *gorm.DB, table string) (int64, error) {
	if tx == nil {
		return 0, ErrMissingTransaction
	}
	if table == "" {
		return 0, ErrMissingTable
	}

	var counter RevisionCounter
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("table_name = ?", table).
		Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		counter = RevisionCounter{CountedTable: table, LastRevision: 1}
		if createErr := tx.Create(&counter).Error; createErr != nil {
			return 0, fmt.Errorf("ledger: seed counter for %s: %w", table, createErr)
		}
		return counter.LastRevision, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: lock counter for %s: %w", table, err)
	}

	counter.LastRevision++
	if saveErr := tx.Model(&RevisionCounter{}).
		Where("table_name = ?", table).
		Update("last_revision", counter.LastRevision).Error; saveErr != nil {
		return 0, fmt.Errorf("ledger: advance counter for %s: %w", table, saveErr)
	}
	return counter.LastRevision, nil
}
