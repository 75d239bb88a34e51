// Package queue is the client-side durable mutation queue. A local edit is
// applied optimistically, enqueued here, and drained by the background
// sender; a mutation leaves the queue only on a confirmed success or a
// permanent rejection, which gives the pipeline its at-least-once shape.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meridianworks/meridian/backend/internal/errs"
	"github.com/meridianworks/meridian/backend/internal/model"
)

var (
	errMissingDatabase = errors.New("queue: database handle is required")
	noOpLogger         = zap.NewNop()
)

// QueuedMutation is one durable queue row. Seq preserves enqueue order;
// draining a strict FIFO prefix is what keeps same-entity mutations in
// order across process restarts and retries.
type QueuedMutation struct {
	Seq              int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	MutationID       string `gorm:"column:mutation_id;size:190;not null;uniqueIndex"`
	WorkspaceID      string `gorm:"column:workspace_id;size:190;not null;index"`
	EntityKey        string `gorm:"column:entity_key;size:190;not null;index"`
	MutationType     string `gorm:"column:mutation_type;size:64;not null"`
	MutationJSON     string `gorm:"column:mutation_json;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	Attempts         int    `gorm:"column:attempts;not null;default:0"`
	LastErrorClass   string `gorm:"column:last_error_class;size:32;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (QueuedMutation) TableName() string {
	return "mutation_queue"
}

// Config describes the dependencies of the durable queue.
type Config struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Queue exposes the only four operations that may change queue state, so
// all retry logic stays centralized and testable.
type Queue struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// New constructs the queue over an already-migrated local database.
func New(cfg Config) (*Queue, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Queue{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Enqueue appends a mutation. EntityKey names the node or document the
// mutation touches; it is recorded for observability and diagnostics.
// Re-enqueueing an already-queued mutation id is a no-op.
func (q *Queue) Enqueue(ctx context.Context, workspaceID model.WorkspaceID, mutation model.Mutation, entityKey string) error {
	encoded, err := json.Marshal(mutation)
	if err != nil {
		return fmt.Errorf("queue: encode mutation: %w", err)
	}
	row := QueuedMutation{
		MutationID:       mutation.ID.String(),
		WorkspaceID:      workspaceID.String(),
		EntityKey:        entityKey,
		MutationType:     mutation.Type.String(),
		MutationJSON:     string(encoded),
		CreatedAtSeconds: q.clock().UTC().Unix(),
	}
	return q.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

// Drain returns up to maxBatch mutations in enqueue order without removing
// them. Removal happens only through Acknowledge or a permanent drop, which
// is what gives delivery its at-least-once guarantee.
func (q *Queue) Drain(ctx context.Context, workspaceID model.WorkspaceID, maxBatch int) ([]model.Mutation, error) {
	if maxBatch <= 0 {
		return nil, nil
	}
	var rows []QueuedMutation
	if err := q.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID.String()).
		Order("seq ASC").
		Limit(maxBatch).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	batch := make([]model.Mutation, 0, len(rows))
	for _, row := range rows {
		var mutation model.Mutation
		if err := json.Unmarshal([]byte(row.MutationJSON), &mutation); err != nil {
			// A row we cannot decode can never be sent; drop it rather
			// than wedge the queue head forever.
			q.logger.Error("dropping undecodable queued mutation",
				zap.String("mutation_id", row.MutationID),
				zap.Error(err))
			if deleteErr := q.db.WithContext(ctx).
				Where("mutation_id = ?", row.MutationID).
				Delete(&QueuedMutation{}).Error; deleteErr != nil {
				return nil, deleteErr
			}
			continue
		}
		batch = append(batch, mutation)
	}
	return batch, nil
}

// Acknowledge removes successfully applied mutation ids.
func (q *Queue) Acknowledge(ctx context.Context, ids []model.MutationID) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}
	return q.db.WithContext(ctx).
		Where("mutation_id IN ?", raw).
		Delete(&QueuedMutation{}).Error
}

// RequeueOrDrop keeps a transiently failed mutation for the next drain
// cycle or permanently removes a rejected one. It reports whether the
// mutation was dropped so the caller can surface the failure to the user.
func (q *Queue) RequeueOrDrop(ctx context.Context, id model.MutationID, class errs.Class) (bool, error) {
	if class == errs.ClassPermanent {
		if err := q.db.WithContext(ctx).
			Where("mutation_id = ?", id.String()).
			Delete(&QueuedMutation{}).Error; err != nil {
			return false, err
		}
		q.logger.Warn("mutation permanently rejected",
			zap.String("mutation_id", id.String()))
		return true, nil
	}

	err := q.db.WithContext(ctx).Model(&QueuedMutation{}).
		Where("mutation_id = ?", id.String()).
		Updates(map[string]interface{}{
			"attempts":         gorm.Expr("attempts + 1"),
			"last_error_class": string(class),
		}).Error
	return false, err
}

// Size reports how many mutations are waiting for the workspace; the UI
// uses it for its "still syncing" indicator.
func (q *Queue) Size(ctx context.Context, workspaceID model.WorkspaceID) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&QueuedMutation{}).
		Where("workspace_id = ?", workspaceID.String()).
		Count(&count).Error
	return count, err
}
