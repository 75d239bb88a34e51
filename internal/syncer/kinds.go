package syncer

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/meridianworks/meridian/backend/internal/collab"
	"github.com/meridianworks/meridian/backend/internal/documents"
	"github.com/meridianworks/meridian/backend/internal/events"
	"github.com/meridianworks/meridian/backend/internal/model"
	"github.com/meridianworks/meridian/backend/internal/nodes"
)

// entityFetcher binds one entity kind to its revision-ordered page query
// and to the event predicate that justifies an eager refetch. The predicate
// is a pure trigger; it never bypasses the revision-ordered query.
type entityFetcher interface {
	kind() model.EntityKind
	fetchPage(ctx context.Context, db *gorm.DB, workspaceID string, afterRevision int64, limit int) ([]Item, error)
	shouldFetch(event events.Event, workspaceID string) bool
}

func fetcherForKind(kind model.EntityKind) (entityFetcher, error) {
	switch kind {
	case model.KindNodes:
		return nodesFetcher{}, nil
	case model.KindReactions:
		return reactionsFetcher{}, nil
	case model.KindInteractions:
		return interactionsFetcher{}, nil
	case model.KindCollaborations:
		return collaborationsFetcher{}, nil
	case model.KindUsers:
		return usersFetcher{}, nil
	case model.KindDocumentUpdates:
		return documentUpdatesFetcher{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownEntityKind, kind.String())
	}
}

// NodeRecord is the wire shape of a synced node row.
type NodeRecord struct {
	NodeID           string `json:"node_id"`
	ParentID         string `json:"parent_id,omitempty"`
	Kind             string `json:"kind"`
	AttributesJSON   string `json:"attributes"`
	CreatedBy        string `json:"created_by"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
	IsDeleted        bool   `json:"is_deleted"`
}

type nodesFetcher struct{}

func (nodesFetcher) kind() model.EntityKind { return model.KindNodes }

func (nodesFetcher) fetchPage(ctx context.Context, db *gorm.DB, workspaceID string, afterRevision int64, limit int) ([]Item, error) {
	var rows []nodes.Node
	if err := db.WithContext(ctx).
		Where("workspace_id = ? AND revision > ?", workspaceID, afterRevision).
		Order("revision ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, Item{
			Cursor: row.Revision,
			Data: NodeRecord{
				NodeID:           row.NodeID,
				ParentID:         row.ParentID,
				Kind:             row.Kind,
				AttributesJSON:   row.AttributesJSON,
				CreatedBy:        row.CreatedBy,
				CreatedAtSeconds: row.CreatedAtSeconds,
				UpdatedAtSeconds: row.UpdatedAtSeconds,
				IsDeleted:        row.IsDeleted,
			},
		})
	}
	return items, nil
}

func (nodesFetcher) shouldFetch(event events.Event, workspaceID string) bool {
	if event.WorkspaceID != workspaceID {
		return false
	}
	switch event.Type {
	case events.EventNodeCreated, events.EventNodeUpdated, events.EventNodeDeleted:
		return true
	default:
		return false
	}
}

// ReactionRecord is the wire shape of a synced reaction row.
type ReactionRecord struct {
	NodeID           string `json:"node_id"`
	CollaboratorID   string `json:"collaborator_id"`
	Reaction         string `json:"reaction"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	IsDeleted        bool   `json:"is_deleted"`
}

type reactionsFetcher struct{}

func (reactionsFetcher) kind() model.EntityKind { return model.KindReactions }

func (reactionsFetcher) fetchPage(ctx context.Context, db *gorm.DB, workspaceID string, afterRevision int64, limit int) ([]Item, error) {
	var rows []nodes.NodeReaction
	if err := db.WithContext(ctx).
		Where("workspace_id = ? AND revision > ?", workspaceID, afterRevision).
		Order("revision ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, Item{
			Cursor: row.Revision,
			Data: ReactionRecord{
				NodeID:           row.NodeID,
				CollaboratorID:   row.CollaboratorID,
				Reaction:         row.Reaction,
				CreatedAtSeconds: row.CreatedAtSeconds,
				IsDeleted:        row.IsDeleted,
			},
		})
	}
	return items, nil
}

func (reactionsFetcher) shouldFetch(event events.Event, workspaceID string) bool {
	if event.WorkspaceID != workspaceID {
		return false
	}
	switch event.Type {
	case events.EventReactionCreated, events.EventReactionDeleted:
		return true
	default:
		return false
	}
}

// InteractionRecord is the wire shape of a synced interaction row.
type InteractionRecord struct {
	NodeID              string `json:"node_id"`
	CollaboratorID      string `json:"collaborator_id"`
	LastSeenAtSeconds   int64  `json:"last_seen_at_s"`
	LastOpenedAtSeconds int64  `json:"last_opened_at_s"`
}

type interactionsFetcher struct{}

func (interactionsFetcher) kind() model.EntityKind { return model.KindInteractions }

func (interactionsFetcher) fetchPage(ctx context.Context, db *gorm.DB, workspaceID string, afterRevision int64, limit int) ([]Item, error) {
	var rows []nodes.NodeInteraction
	if err := db.WithContext(ctx).
		Where("workspace_id = ? AND revision > ?", workspaceID, afterRevision).
		Order("revision ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, Item{
			Cursor: row.Revision,
			Data: InteractionRecord{
				NodeID:              row.NodeID,
				CollaboratorID:      row.CollaboratorID,
				LastSeenAtSeconds:   row.LastSeenAtSeconds,
				LastOpenedAtSeconds: row.LastOpenedAtSeconds,
			},
		})
	}
	return items, nil
}

func (interactionsFetcher) shouldFetch(event events.Event, workspaceID string) bool {
	return event.WorkspaceID == workspaceID && event.Type == events.EventInteractionUpdated
}

// CollaborationRecord is the wire shape of a synced collaboration row.
type CollaborationRecord struct {
	CollaboratorID   string `json:"collaborator_id"`
	Role             string `json:"role"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
	IsDeleted        bool   `json:"is_deleted"`
}

type collaborationsFetcher struct{}

func (collaborationsFetcher) kind() model.EntityKind { return model.KindCollaborations }

func (collaborationsFetcher) fetchPage(ctx context.Context, db *gorm.DB, workspaceID string, afterRevision int64, limit int) ([]Item, error) {
	var rows []collab.Collaboration
	if err := db.WithContext(ctx).
		Where("workspace_id = ? AND revision > ?", workspaceID, afterRevision).
		Order("revision ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, Item{
			Cursor: row.Revision,
			Data: CollaborationRecord{
				CollaboratorID:   row.CollaboratorID,
				Role:             row.Role,
				CreatedAtSeconds: row.CreatedAtSeconds,
				UpdatedAtSeconds: row.UpdatedAtSeconds,
				IsDeleted:        row.IsDeleted,
			},
		})
	}
	return items, nil
}

func (collaborationsFetcher) shouldFetch(event events.Event, workspaceID string) bool {
	return event.WorkspaceID == workspaceID && event.Type == events.EventCollaborationUpdated
}

// UserRecord is the wire shape of a synced user row.
type UserRecord struct {
	UserID           string `json:"user_id"`
	Email            string `json:"email,omitempty"`
	DisplayName      string `json:"display_name,omitempty"`
	AvatarURL        string `json:"avatar_url,omitempty"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
	IsDeleted        bool   `json:"is_deleted"`
}

type usersFetcher struct{}

func (usersFetcher) kind() model.EntityKind { return model.KindUsers }

func (usersFetcher) fetchPage(ctx context.Context, db *gorm.DB, workspaceID string, afterRevision int64, limit int) ([]Item, error) {
	var rows []collab.User
	if err := db.WithContext(ctx).
		Where("workspace_id = ? AND revision > ?", workspaceID, afterRevision).
		Order("revision ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, Item{
			Cursor: row.Revision,
			Data: UserRecord{
				UserID:           row.UserID,
				Email:            row.Email,
				DisplayName:      row.DisplayName,
				AvatarURL:        row.AvatarURL,
				CreatedAtSeconds: row.CreatedAtSeconds,
				UpdatedAtSeconds: row.UpdatedAtSeconds,
				IsDeleted:        row.IsDeleted,
			},
		})
	}
	return items, nil
}

func (usersFetcher) shouldFetch(event events.Event, workspaceID string) bool {
	return event.WorkspaceID == workspaceID && event.Type == events.EventUserUpdated
}

// DocumentUpdateRecord is the wire shape of a synced CRDT delta.
type DocumentUpdateRecord struct {
	UpdateID         string `json:"update_id"`
	DocumentID       string `json:"document_id"`
	RootID           string `json:"root_id,omitempty"`
	DeltaB64         string `json:"delta"`
	CreatedBy        string `json:"created_by"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	MergedUpdates    string `json:"merged_updates,omitempty"`
}

type documentUpdatesFetcher struct{}

func (documentUpdatesFetcher) kind() model.EntityKind { return model.KindDocumentUpdates }

func (documentUpdatesFetcher) fetchPage(ctx context.Context, db *gorm.DB, workspaceID string, afterRevision int64, limit int) ([]Item, error) {
	var rows []documents.DocumentUpdate
	if err := db.WithContext(ctx).
		Where("workspace_id = ? AND revision > ?", workspaceID, afterRevision).
		Order("revision ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, Item{
			Cursor: row.Revision,
			Data: DocumentUpdateRecord{
				UpdateID:         row.UpdateID,
				DocumentID:       row.DocumentID,
				RootID:           row.RootID,
				DeltaB64:         row.DeltaB64,
				CreatedBy:        row.CreatedBy,
				CreatedAtSeconds: row.CreatedAtSeconds,
				MergedUpdates:    row.MergedUpdatesJSON,
			},
		})
	}
	return items, nil
}

func (documentUpdatesFetcher) shouldFetch(event events.Event, workspaceID string) bool {
	return event.WorkspaceID == workspaceID && event.Type == events.EventDocumentUpdated
}
