// Package database opens the SQLite stores and keeps their schemas current.
package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meridianworks/meridian/backend/internal/client"
	"github.com/meridianworks/meridian/backend/internal/collab"
	"github.com/meridianworks/meridian/backend/internal/documents"
	"github.com/meridianworks/meridian/backend/internal/ledger"
	"github.com/meridianworks/meridian/backend/internal/mutations"
	"github.com/meridianworks/meridian/backend/internal/nodes"
	"github.com/meridianworks/meridian/backend/internal/queue"
)

// OpenSQLite establishes the server's SQLite connection and performs schema
// migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&nodes.Node{},
		&nodes.NodeReaction{},
		&nodes.NodeInteraction{},
		&collab.User{},
		&collab.Collaboration{},
		&documents.DocumentUpdate{},
		&mutations.AppliedMutation{},
		&ledger.RevisionCounter{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// OpenAgentSQLite establishes the device agent's SQLite connection holding
// the outbound mutation queue and the inbound sync cursors.
func OpenAgentSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&queue.QueuedMutation{}, &client.SyncCursor{}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("agent database initialized", zap.String("path", path))
	}

	return db, nil
}

func open(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}
