package mutations

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meridianworks/meridian/backend/internal/collab"
	"github.com/meridianworks/meridian/backend/internal/documents"
	"github.com/meridianworks/meridian/backend/internal/errs"
	"github.com/meridianworks/meridian/backend/internal/events"
	"github.com/meridianworks/meridian/backend/internal/ledger"
	"github.com/meridianworks/meridian/backend/internal/model"
	"github.com/meridianworks/meridian/backend/internal/nodes"
)

type interactionKind int

const (
	interactionSeen interactionKind = iota
	interactionOpened
)

func (s *Service) applyCreateNode(tx *gorm.DB, workspaceID model.WorkspaceID, callerID model.UserID, mutation model.Mutation) (*events.Event, error) {
	var payload model.CreateNodePayload
	if err := json.Unmarshal(mutation.Data, &payload); err != nil {
		return nil, fmt.Errorf("%w: create-node payload: %v", errs.ErrValidation, err)
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	nodeID, idErr := model.NewNodeID(payload.NodeID)
	if idErr != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, idErr)
	}
	if err := s.requireRole(tx, workspaceID, callerID, collab.RoleEditor); err != nil {
		return nil, err
	}

	var existing nodes.Node
	err := tx.Where("node_id = ?", nodeID.String()).Take(&existing).Error
	if err == nil {
		// A different mutation already created this node id.
		return nil, fmt.Errorf("%w: node %s already exists", errs.ErrConflict, nodeID.String())
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: node lookup: %v", errs.ErrTransient, err)
	}

	revision, revErr := ledger.Next(tx, nodes.TableNodes)
	if revErr != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransient, revErr)
	}
	now := s.clock().UTC().Unix()
	createdAt := mutation.CreatedAtSeconds
	if createdAt <= 0 {
		createdAt = now
	}
	node := nodes.Node{
		NodeID:           nodeID.String(),
		WorkspaceID:      workspaceID.String(),
		ParentID:         payload.ParentID,
		Kind:             payload.Kind,
		AttributesJSON:   payload.AttributesJSON,
		CreatedBy:        callerID.String(),
		CreatedAtSeconds: createdAt,
		UpdatedAtSeconds: createdAt,
		Revision:         revision,
	}
	if createErr := tx.Create(&node).Error; createErr != nil {
		return nil, fmt.Errorf("%w: node insert: %v", errs.ErrTransient, createErr)
	}

	return &events.Event{
		Type:        events.EventNodeCreated,
		WorkspaceID: workspaceID.String(),
		UserID:      callerID.String(),
		NodeID:      nodeID.String(),
		Revision:    revision,
	}, nil
}

func (s *Service) applyUpdateNode(tx *gorm.DB, workspaceID model.WorkspaceID, callerID model.UserID, mutation model.Mutation) (*events.Event, error) {
	var payload model.UpdateNodePayload
	if err := json.Unmarshal(mutation.Data, &payload); err != nil {
		return nil, fmt.Errorf("%w: update-node payload: %v", errs.ErrValidation, err)
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	if err := s.requireRole(tx, workspaceID, callerID, collab.RoleEditor); err != nil {
		return nil, err
	}

	node, lookupErr := s.lockNode(tx, workspaceID, payload.NodeID)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if node.IsDeleted {
		return nil, fmt.Errorf("%w: node %s deleted", errs.ErrConflict, node.NodeID)
	}

	revision, revErr := ledger.Next(tx, nodes.TableNodes)
	if revErr != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransient, revErr)
	}
	updatedAt := payload.UpdatedAtSeconds
	if updatedAt <= 0 {
		updatedAt = s.clock().UTC().Unix()
	}
	node.AttributesJSON = payload.AttributesJSON
	node.UpdatedAtSeconds = updatedAt
	node.Revision = revision
	if saveErr := tx.Save(node).Error; saveErr != nil {
		return nil, fmt.Errorf("%w: node save: %v", errs.ErrTransient, saveErr)
	}

	return &events.Event{
		Type:        events.EventNodeUpdated,
		WorkspaceID: workspaceID.String(),
		UserID:      callerID.String(),
		NodeID:      node.NodeID,
		Revision:    revision,
	}, nil
}

func (s *Service) applyDeleteNode(tx *gorm.DB, workspaceID model.WorkspaceID, callerID model.UserID, mutation model.Mutation) (*events.Event, error) {
	var payload model.DeleteNodePayload
	if err := json.Unmarshal(mutation.Data, &payload); err != nil {
		return nil, fmt.Errorf("%w: delete-node payload: %v", errs.ErrValidation, err)
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	if err := s.requireRole(tx, workspaceID, callerID, collab.RoleEditor); err != nil {
		return nil, err
	}

	node, lookupErr := s.lockNode(tx, workspaceID, payload.NodeID)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if node.IsDeleted {
		// Converged already; deleting twice is a safe no-op.
		return nil, nil
	}

	revision, revErr := ledger.Next(tx, nodes.TableNodes)
	if revErr != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransient, revErr)
	}
	node.IsDeleted = true
	node.UpdatedAtSeconds = s.clock().UTC().Unix()
	node.Revision = revision
	if saveErr := tx.Save(node).Error; saveErr != nil {
		return nil, fmt.Errorf("%w: node save: %v", errs.ErrTransient, saveErr)
	}

	return &events.Event{
		Type:        events.EventNodeDeleted,
		WorkspaceID: workspaceID.String(),
		UserID:      callerID.String(),
		NodeID:      node.NodeID,
		Revision:    revision,
	}, nil
}

func (s *Service) applyReaction(tx *gorm.DB, workspaceID model.WorkspaceID, callerID model.UserID, mutation model.Mutation, remove bool) (*events.Event, error) {
	var payload model.ReactionPayload
	if err := json.Unmarshal(mutation.Data, &payload); err != nil {
		return nil, fmt.Errorf("%w: reaction payload: %v", errs.ErrValidation, err)
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	if err := s.requireRole(tx, workspaceID, callerID, collab.RoleCommenter); err != nil {
		return nil, err
	}

	node, lookupErr := s.lockNode(tx, workspaceID, payload.NodeID)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if node.IsDeleted {
		return nil, fmt.Errorf("%w: node %s deleted", errs.ErrConflict, node.NodeID)
	}

	var reaction nodes.NodeReaction
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("workspace_id = ? AND node_id = ? AND collaborator_id = ? AND reaction = ?",
			workspaceID.String(), node.NodeID, callerID.String(), payload.Reaction).
		Take(&reaction).Error
	missing := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !missing {
		return nil, fmt.Errorf("%w: reaction lookup: %v", errs.ErrTransient, err)
	}

	if remove {
		if missing || reaction.IsDeleted {
			// Nothing to remove; converged.
			return nil, nil
		}
		revision, revErr := ledger.Next(tx, nodes.TableReactions)
		if revErr != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrTransient, revErr)
		}
		reaction.IsDeleted = true
		reaction.Revision = revision
		if saveErr := tx.Save(&reaction).Error; saveErr != nil {
			return nil, fmt.Errorf("%w: reaction save: %v", errs.ErrTransient, saveErr)
		}
		return &events.Event{
			Type:        events.EventReactionDeleted,
			WorkspaceID: workspaceID.String(),
			UserID:      callerID.String(),
			NodeID:      node.NodeID,
			Revision:    revision,
		}, nil
	}

	if !missing && !reaction.IsDeleted {
		// Reaction already present; converged.
		return nil, nil
	}
	revision, revErr := ledger.Next(tx, nodes.TableReactions)
	if revErr != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransient, revErr)
	}
	if missing {
		reaction = nodes.NodeReaction{
			WorkspaceID:      workspaceID.String(),
			NodeID:           node.NodeID,
			CollaboratorID:   callerID.String(),
			Reaction:         payload.Reaction,
			CreatedAtSeconds: s.clock().UTC().Unix(),
			Revision:         revision,
		}
		if createErr := tx.Create(&reaction).Error; createErr != nil {
			return nil, fmt.Errorf("%w: reaction insert: %v", errs.ErrTransient, createErr)
		}
	} else {
		reaction.IsDeleted = false
		reaction.CreatedAtSeconds = s.clock().UTC().Unix()
		reaction.Revision = revision
		if saveErr := tx.Save(&reaction).Error; saveErr != nil {
			return nil, fmt.Errorf("%w: reaction save: %v", errs.ErrTransient, saveErr)
		}
	}
	return &events.Event{
		Type:        events.EventReactionCreated,
		WorkspaceID: workspaceID.String(),
		UserID:      callerID.String(),
		NodeID:      node.NodeID,
		Revision:    revision,
	}, nil
}

func (s *Service) applyInteraction(tx *gorm.DB, workspaceID model.WorkspaceID, callerID model.UserID, mutation model.Mutation, kind interactionKind) (*events.Event, error) {
	var payload model.InteractionPayload
	if err := json.Unmarshal(mutation.Data, &payload); err != nil {
		return nil, fmt.Errorf("%w: interaction payload: %v", errs.ErrValidation, err)
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	if err := s.requireRole(tx, workspaceID, callerID, collab.RoleViewer); err != nil {
		return nil, err
	}

	node, lookupErr := s.lockNode(tx, workspaceID, payload.NodeID)
	if lookupErr != nil {
		return nil, lookupErr
	}

	var interaction nodes.NodeInteraction
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("workspace_id = ? AND node_id = ? AND collaborator_id = ?",
			workspaceID.String(), node.NodeID, callerID.String()).
		Take(&interaction).Error
	missing := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !missing {
		return nil, fmt.Errorf("%w: interaction lookup: %v", errs.ErrTransient, err)
	}
	if missing {
		interaction = nodes.NodeInteraction{
			WorkspaceID:          workspaceID.String(),
			NodeID:               node.NodeID,
			CollaboratorID:       callerID.String(),
			FirstObservedSeconds: payload.ObservedAtSeconds,
		}
	}

	// Markers only ever advance; a stale marker from a slower device is
	// absorbed without a revision bump.
	advanced := false
	switch kind {
	case interactionSeen:
		if payload.ObservedAtSeconds > interaction.LastSeenAtSeconds {
			interaction.LastSeenAtSeconds = payload.ObservedAtSeconds
			advanced = true
		}
	case interactionOpened:
		if payload.ObservedAtSeconds > interaction.LastOpenedAtSeconds {
			interaction.LastOpenedAtSeconds = payload.ObservedAtSeconds
			advanced = true
		}
	}
	if !missing && !advanced {
		return nil, nil
	}

	revision, revErr := ledger.Next(tx, nodes.TableInteractions)
	if revErr != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransient, revErr)
	}
	interaction.Revision = revision
	if missing {
		if createErr := tx.Create(&interaction).Error; createErr != nil {
			return nil, fmt.Errorf("%w: interaction insert: %v", errs.ErrTransient, createErr)
		}
	} else if saveErr := tx.Save(&interaction).Error; saveErr != nil {
		return nil, fmt.Errorf("%w: interaction save: %v", errs.ErrTransient, saveErr)
	}

	return &events.Event{
		Type:        events.EventInteractionUpdated,
		WorkspaceID: workspaceID.String(),
		UserID:      callerID.String(),
		NodeID:      node.NodeID,
		Revision:    revision,
	}, nil
}

func (s *Service) applyUpdateDocument(tx *gorm.DB, workspaceID model.WorkspaceID, callerID model.UserID, mutation model.Mutation) (*events.Event, error) {
	var payload model.UpdateDocumentPayload
	if err := json.Unmarshal(mutation.Data, &payload); err != nil {
		return nil, fmt.Errorf("%w: update-document payload: %v", errs.ErrValidation, err)
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	if err := s.requireRole(tx, workspaceID, callerID, collab.RoleEditor); err != nil {
		return nil, err
	}

	node, lookupErr := s.lockNode(tx, workspaceID, payload.DocumentID)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if node.IsDeleted {
		return nil, fmt.Errorf("%w: document %s deleted", errs.ErrConflict, node.NodeID)
	}

	updateID, idErr := s.idProvider.NewID()
	if idErr != nil {
		return nil, fmt.Errorf("%w: id generation: %v", errs.ErrTransient, idErr)
	}
	documentID, docIDErr := model.NewNodeID(payload.DocumentID)
	if docIDErr != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, docIDErr)
	}
	stored, duplicate, appendErr := documents.AppendDelta(tx, documents.AppendParams{
		UpdateID:    updateID,
		WorkspaceID: workspaceID,
		DocumentID:  documentID,
		RootID:      payload.RootID,
		DeltaB64:    payload.DeltaB64,
		CreatedBy:   callerID,
		NowSeconds:  s.clock().UTC().Unix(),
	})
	if appendErr != nil {
		return nil, appendErr
	}
	if duplicate {
		return nil, nil
	}

	return &events.Event{
		Type:        events.EventDocumentUpdated,
		WorkspaceID: workspaceID.String(),
		UserID:      callerID.String(),
		NodeID:      stored.DocumentID,
		Revision:    stored.Revision,
	}, nil
}

func (s *Service) requireRole(tx *gorm.DB, workspaceID model.WorkspaceID, callerID model.UserID, required collab.Role) error {
	allowed, err := collab.HasRole(tx, workspaceID, callerID, required)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%w: %s requires %s on workspace %s",
			errs.ErrUnauthorized, callerID.String(), required.String(), workspaceID.String())
	}
	return nil
}

func (s *Service) lockNode(tx *gorm.DB, workspaceID model.WorkspaceID, rawNodeID string) (*nodes.Node, error) {
	nodeID, idErr := model.NewNodeID(rawNodeID)
	if idErr != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, idErr)
	}
	var node nodes.Node
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("workspace_id = ? AND node_id = ?", workspaceID.String(), nodeID.String()).
		Take(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: node %s", errs.ErrNotFound, nodeID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: node lookup: %v", errs.ErrTransient, err)
	}
	return &node, nil
}
