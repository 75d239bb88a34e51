package model

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPayload indicates that a mutation payload failed validation.
	ErrInvalidPayload = errors.New("model: invalid mutation payload")
)

// CreateNodePayload carries the data for a create-node mutation.
type CreateNodePayload struct {
	NodeID         string `json:"node_id"`
	ParentID       string `json:"parent_id,omitempty"`
	Kind           string `json:"kind"`
	AttributesJSON string `json:"attributes"`
}

// Validate reports whether the payload is structurally usable.
func (p CreateNodePayload) Validate() error {
	if strings.TrimSpace(p.NodeID) == "" {
		return fmt.Errorf("%w: empty node id", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.Kind) == "" {
		return fmt.Errorf("%w: empty node kind", ErrInvalidPayload)
	}
	return nil
}

// UpdateNodePayload carries the data for an update-node mutation.
type UpdateNodePayload struct {
	NodeID           string `json:"node_id"`
	AttributesJSON   string `json:"attributes"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

// Validate reports whether the payload is structurally usable.
func (p UpdateNodePayload) Validate() error {
	if strings.TrimSpace(p.NodeID) == "" {
		return fmt.Errorf("%w: empty node id", ErrInvalidPayload)
	}
	return nil
}

// DeleteNodePayload carries the data for a delete-node mutation.
type DeleteNodePayload struct {
	NodeID string `json:"node_id"`
}

// Validate reports whether the payload is structurally usable.
func (p DeleteNodePayload) Validate() error {
	if strings.TrimSpace(p.NodeID) == "" {
		return fmt.Errorf("%w: empty node id", ErrInvalidPayload)
	}
	return nil
}

// ReactionPayload carries the data for create-reaction and delete-reaction mutations.
type ReactionPayload struct {
	NodeID   string `json:"node_id"`
	Reaction string `json:"reaction"`
}

// Validate reports whether the payload is structurally usable.
func (p ReactionPayload) Validate() error {
	if strings.TrimSpace(p.NodeID) == "" {
		return fmt.Errorf("%w: empty node id", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.Reaction) == "" {
		return fmt.Errorf("%w: empty reaction", ErrInvalidPayload)
	}
	return nil
}

// InteractionPayload carries the data for mark-seen and mark-opened mutations.
type InteractionPayload struct {
	NodeID            string `json:"node_id"`
	ObservedAtSeconds int64  `json:"observed_at_s"`
}

// Validate reports whether the payload is structurally usable.
func (p InteractionPayload) Validate() error {
	if strings.TrimSpace(p.NodeID) == "" {
		return fmt.Errorf("%w: empty node id", ErrInvalidPayload)
	}
	if p.ObservedAtSeconds <= 0 {
		return fmt.Errorf("%w: non-positive observation timestamp", ErrInvalidPayload)
	}
	return nil
}

// UpdateDocumentPayload carries the data for an update-document mutation.
// DeltaB64 is the opaque CRDT delta, base64 encoded for JSON transport.
type UpdateDocumentPayload struct {
	DocumentID string `json:"document_id"`
	RootID     string `json:"root_id,omitempty"`
	DeltaB64   string `json:"delta"`
}

// Validate reports whether the payload is structurally usable.
func (p UpdateDocumentPayload) Validate() error {
	if strings.TrimSpace(p.DocumentID) == "" {
		return fmt.Errorf("%w: empty document id", ErrInvalidPayload)
	}
	trimmedDelta := strings.TrimSpace(p.DeltaB64)
	if trimmedDelta == "" {
		return fmt.Errorf("%w: empty delta", ErrInvalidPayload)
	}
	if _, err := base64.StdEncoding.DecodeString(trimmedDelta); err != nil {
		return fmt.Errorf("%w: delta is not valid base64", ErrInvalidPayload)
	}
	return nil
}
