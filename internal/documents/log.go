package documents

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/meridianworks/meridian/backend/internal/errs"
	"github.com/meridianworks/meridian/backend/internal/ledger"
	"github.com/meridianworks/meridian/backend/internal/model"
)

var errMissingDatabase = errors.New("documents: database handle is required")

// AppendParams describes one delta to append to a document's update log.
type AppendParams struct {
	UpdateID    string
	WorkspaceID model.WorkspaceID
	DocumentID  model.NodeID
	RootID      string
	DeltaB64    string
	CreatedBy   model.UserID
	NowSeconds  int64
}

// AppendDelta stores a CRDT delta inside the caller's transaction and
// returns the stored row. A byte-identical delta already present for the
// document is detected by content hash and reported as a duplicate without
// consuming a revision.
func AppendDelta(tx *gorm.DB, params AppendParams) (DocumentUpdate, bool, error) {
	if tx == nil {
		return DocumentUpdate{}, false, errMissingDatabase
	}

	deltaHash, hashErr := hashDeltaPayload(params.DeltaB64)
	if hashErr != nil {
		return DocumentUpdate{}, false, fmt.Errorf("%w: delta is not valid base64", errs.ErrValidation)
	}

	var existing DocumentUpdate
	err := tx.Where("workspace_id = ? AND document_id = ? AND delta_hash = ?",
		params.WorkspaceID.String(), params.DocumentID.String(), deltaHash).
		Take(&existing).Error
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return DocumentUpdate{}, false, fmt.Errorf("%w: delta lookup: %v", errs.ErrTransient, err)
	}

	revision, revErr := ledger.Next(tx, TableDocumentUpdates)
	if revErr != nil {
		return DocumentUpdate{}, false, fmt.Errorf("%w: %v", errs.ErrTransient, revErr)
	}

	stored := DocumentUpdate{
		UpdateID:         params.UpdateID,
		WorkspaceID:      params.WorkspaceID.String(),
		DocumentID:       params.DocumentID.String(),
		RootID:           params.RootID,
		DeltaB64:         params.DeltaB64,
		DeltaHash:        deltaHash,
		CreatedBy:        params.CreatedBy.String(),
		CreatedAtSeconds: params.NowSeconds,
		Revision:         revision,
	}
	if createErr := tx.Create(&stored).Error; createErr != nil {
		return DocumentUpdate{}, false, fmt.Errorf("%w: delta insert: %v", errs.ErrTransient, createErr)
	}
	return stored, false, nil
}

// ListUpdates returns a document's deltas in ascending revision order, all
// with revision greater than the supplied cursor.
func ListUpdates(ctx context.Context, db *gorm.DB, workspaceID model.WorkspaceID, documentID model.NodeID, afterRevision int64) ([]DocumentUpdate, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	var updates []DocumentUpdate
	if err := db.WithContext(ctx).
		Where("workspace_id = ? AND document_id = ? AND revision > ?",
			workspaceID.String(), documentID.String(), afterRevision).
		Order("revision ASC").
		Find(&updates).Error; err != nil {
		return nil, err
	}
	return updates, nil
}

// Materialize folds every stored delta for the document into a state using
// the external merge primitive. The result is independent of compaction.
func Materialize(ctx context.Context, db *gorm.DB, merger Merger, workspaceID model.WorkspaceID, documentID model.NodeID) ([]byte, error) {
	if merger == nil {
		return nil, errors.New("documents: merger is required")
	}
	updates, err := ListUpdates(ctx, db, workspaceID, documentID, 0)
	if err != nil {
		return nil, err
	}

	var state []byte
	for _, update := range updates {
		delta, decodeErr := base64.StdEncoding.DecodeString(update.DeltaB64)
		if decodeErr != nil {
			return nil, fmt.Errorf("documents: stored delta %s corrupt: %w", update.UpdateID, decodeErr)
		}
		state, err = merger.Apply(state, delta)
		if err != nil {
			return nil, err
		}
	}
	return state, nil
}

func hashDeltaPayload(deltaB64 string) (string, error) {
	rawBytes, err := base64.StdEncoding.DecodeString(deltaB64)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(rawBytes)
	return hex.EncodeToString(sum[:]), nil
}
