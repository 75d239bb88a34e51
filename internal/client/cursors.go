package client

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meridianworks/meridian/backend/internal/model"
)

// SyncCursor records how far a device has consumed a server-side revision
// stream for one entity kind.
type SyncCursor struct {
	WorkspaceID  string `gorm:"column:workspace_id;primaryKey"`
	EntityKind   string `gorm:"column:entity_kind;primaryKey"`
	LastRevision int64  `gorm:"column:last_revision;not null"`
}

// TableName maps SyncCursor onto the sync_cursors table.
func (SyncCursor) TableName() string {
	return "sync_cursors"
}

var errMissingCursorDatabase = errors.New("client: cursor store requires a database")

// CursorStore persists per-kind sync cursors in the device database so a
// restart resumes pulling where the previous run stopped.
type CursorStore struct {
	db *gorm.DB
}

// NewCursorStore constructs a CursorStore.
func NewCursorStore(db *gorm.DB) (*CursorStore, error) {
	if db == nil {
		return nil, errMissingCursorDatabase
	}
	return &CursorStore{db: db}, nil
}

// Load returns the stored cursor for the kind, or zero when the device has
// never pulled it.
func (s *CursorStore) Load(ctx context.Context, workspaceID model.WorkspaceID, kind model.EntityKind) (int64, error) {
	var record SyncCursor
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND entity_kind = ?", workspaceID.String(), string(kind)).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return record.LastRevision, nil
}

// Advance stores the cursor for the kind. Cursors only move forward; a
// stale write is ignored.
func (s *CursorStore) Advance(ctx context.Context, workspaceID model.WorkspaceID, kind model.EntityKind, revision int64) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "workspace_id"}, {Name: "entity_kind"}},
			DoUpdates: clause.Assignments(map[string]any{
				"last_revision": gorm.Expr("MAX(last_revision, ?)", revision),
			}),
		}).
		Create(&SyncCursor{
			WorkspaceID:  workspaceID.String(),
			EntityKind:   string(kind),
			LastRevision: revision,
		}).Error
}
