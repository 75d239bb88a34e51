package documents

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meridianworks/meridian/backend/internal/model"
)

var (
	errMissingMerger = errors.New("documents: merger is required")
	noOpLogger       = zap.NewNop()
)

// CompactorConfig describes the dependencies for the compaction job.
type CompactorConfig struct {
	Database *gorm.DB
	Merger   Merger
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Compactor folds contiguous delta ranges losslessly. Callers pass the
// slowest known cursor as the floor; deltas above it are never touched, so
// compaction stays invisible to every lagging reader.
type Compactor struct {
	db     *gorm.DB
	merger Merger
	clock  func() time.Time
	logger *zap.Logger
}

// NewCompactor constructs a Compactor.
func NewCompactor(cfg CompactorConfig) (*Compactor, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Merger == nil {
		return nil, errMissingMerger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Compactor{
		db:     cfg.Database,
		merger: cfg.Merger,
		clock:  clock,
		logger: logger,
	}, nil
}

// Compact folds every delta of the document with revision at or below the
// floor into the newest row of that range. The surviving row keeps its
// revision and update id, gains the merged payload, and records the folded
// update ids; the older rows are removed. Returns how many rows were folded
// away.
func (c *Compactor) Compact(ctx context.Context, workspaceID model.WorkspaceID, documentID model.NodeID, floorRevision int64) (int, error) {
	if floorRevision <= 0 {
		return 0, nil
	}

	folded := 0
	txErr := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var updates []DocumentUpdate
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("workspace_id = ? AND document_id = ? AND revision <= ?",
				workspaceID.String(), documentID.String(), floorRevision).
			Order("revision ASC").
			Find(&updates).Error; err != nil {
			return err
		}
		if len(updates) < 2 {
			return nil
		}

		merged, decodeErr := base64.StdEncoding.DecodeString(updates[0].DeltaB64)
		if decodeErr != nil {
			return fmt.Errorf("documents: stored delta %s corrupt: %w", updates[0].UpdateID, decodeErr)
		}
		foldedIDs := make([]string, 0, len(updates))
		for _, update := range updates[:len(updates)-1] {
			foldedIDs = append(foldedIDs, update.UpdateID)
		}
		for _, update := range updates[1:] {
			next, nextErr := base64.StdEncoding.DecodeString(update.DeltaB64)
			if nextErr != nil {
				return fmt.Errorf("documents: stored delta %s corrupt: %w", update.UpdateID, nextErr)
			}
			var mergeErr error
			merged, mergeErr = c.merger.Merge(merged, next)
			if mergeErr != nil {
				return mergeErr
			}
		}

		mergedIDsJSON, marshalErr := json.Marshal(foldedIDs)
		if marshalErr != nil {
			return marshalErr
		}
		survivor := updates[len(updates)-1]
		survivor.DeltaB64 = base64.StdEncoding.EncodeToString(merged)
		rehash, hashErr := hashDeltaPayload(survivor.DeltaB64)
		if hashErr != nil {
			return hashErr
		}
		survivor.DeltaHash = rehash
		survivor.MergedUpdatesJSON = string(mergedIDsJSON)
		if err := tx.Save(&survivor).Error; err != nil {
			return err
		}

		if err := tx.Where("update_id IN ?", foldedIDs).
			Delete(&DocumentUpdate{}).Error; err != nil {
			return err
		}
		folded = len(foldedIDs)
		return nil
	})
	if txErr != nil {
		c.logger.Error("document compaction failed",
			zap.String("workspace_id", workspaceID.String()),
			zap.String("document_id", documentID.String()),
			zap.Int64("floor_revision", floorRevision),
			zap.Error(txErr))
		return 0, txErr
	}

	if folded > 0 {
		c.logger.Info("document compacted",
			zap.String("document_id", documentID.String()),
			zap.Int("folded_updates", folded))
	}
	return folded, nil
}
