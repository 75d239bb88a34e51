package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MutationType enumerates the closed set of client mutations. Adding a new
// member requires a matching dispatch arm in the server-side applier.
type MutationType string

const (
	// MutationTypeCreateNode inserts a new node row.
	MutationTypeCreateNode MutationType = "create-node"
	// MutationTypeUpdateNode replaces a node's attributes.
	MutationTypeUpdateNode MutationType = "update-node"
	// MutationTypeDeleteNode marks a node as deleted.
	MutationTypeDeleteNode MutationType = "delete-node"
	// MutationTypeCreateReaction attaches a reaction to a node.
	MutationTypeCreateReaction MutationType = "create-reaction"
	// MutationTypeDeleteReaction removes a reaction from a node.
	MutationTypeDeleteReaction MutationType = "delete-reaction"
	// MutationTypeMarkSeen records that the caller has seen a node.
	MutationTypeMarkSeen MutationType = "mark-seen"
	// MutationTypeMarkOpened records that the caller has opened a node.
	MutationTypeMarkOpened MutationType = "mark-opened"
	// MutationTypeUpdateDocument appends a CRDT delta to a document.
	MutationTypeUpdateDocument MutationType = "update-document"
)

var (
	// ErrInvalidMutationID indicates that a mutation identifier is empty or exceeds storage bounds.
	ErrInvalidMutationID = errors.New("model: invalid mutation id")
	// ErrUnknownMutationType indicates a mutation type outside the closed enum.
	ErrUnknownMutationType = errors.New("model: unknown mutation type")
	// ErrInvalidCursor indicates a sync cursor that is not a non-negative integer.
	ErrInvalidCursor = errors.New("model: invalid cursor")
	// ErrUnknownEntityKind indicates an entity kind outside the synced set.
	ErrUnknownEntityKind = errors.New("model: unknown entity kind")
)

// ParseMutationType validates raw input against the closed enum.
func ParseMutationType(rawInput string) (MutationType, error) {
	candidate := MutationType(strings.ToLower(strings.TrimSpace(rawInput)))
	switch candidate {
	case MutationTypeCreateNode, MutationTypeUpdateNode, MutationTypeDeleteNode,
		MutationTypeCreateReaction, MutationTypeDeleteReaction,
		MutationTypeMarkSeen, MutationTypeMarkOpened, MutationTypeUpdateDocument:
		return candidate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMutationType, rawInput)
	}
}

// String returns the wire name of the mutation type.
func (t MutationType) String() string {
	return string(t)
}

// MutationID represents a validated client-generated mutation identifier.
// It doubles as the server-side idempotence key.
type MutationID string

// NewMutationID validates raw input and returns a MutationID.
func NewMutationID(rawInput string) (MutationID, error) {
	value, err := validateIdentifier(rawInput, ErrInvalidMutationID)
	if err != nil {
		return "", err
	}
	return MutationID(value), nil
}

// String returns the underlying string identifier.
func (id MutationID) String() string {
	return string(id)
}

// Mutation is an immutable, client-generated unit of intended change.
type Mutation struct {
	ID               MutationID      `json:"id"`
	Type             MutationType    `json:"type"`
	CreatedAtSeconds int64           `json:"created_at_s"`
	Data             json.RawMessage `json:"data"`
}

// MutationStatus is the per-item outcome reported by the sync endpoint.
type MutationStatus string

const (
	// StatusSuccess indicates the mutation was applied (or was a detected duplicate).
	StatusSuccess MutationStatus = "success"
	// StatusPermanentError indicates the mutation can never succeed and must not be retried.
	StatusPermanentError MutationStatus = "permanent-error"
	// StatusTransientError indicates the mutation should stay queued and be retried.
	StatusTransientError MutationStatus = "transient-error"
)

// EntityKind enumerates the row families that participate in cursor sync.
type EntityKind string

const (
	// KindNodes syncs node rows.
	KindNodes EntityKind = "nodes"
	// KindReactions syncs node reaction rows.
	KindReactions EntityKind = "reactions"
	// KindInteractions syncs node interaction rows.
	KindInteractions EntityKind = "interactions"
	// KindCollaborations syncs workspace collaboration rows.
	KindCollaborations EntityKind = "collaborations"
	// KindUsers syncs workspace user rows.
	KindUsers EntityKind = "users"
	// KindDocumentUpdates syncs CRDT document update rows.
	KindDocumentUpdates EntityKind = "document-updates"
)

// ParseEntityKind validates raw input against the synced entity kinds.
func ParseEntityKind(rawInput string) (EntityKind, error) {
	candidate := EntityKind(strings.ToLower(strings.TrimSpace(rawInput)))
	switch candidate {
	case KindNodes, KindReactions, KindInteractions, KindCollaborations, KindUsers, KindDocumentUpdates:
		return candidate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEntityKind, rawInput)
	}
}

// String returns the wire name of the entity kind.
func (k EntityKind) String() string {
	return string(k)
}

// AllEntityKinds returns every synced entity kind in a stable order.
func AllEntityKinds() []EntityKind {
	return []EntityKind{
		KindUsers,
		KindCollaborations,
		KindNodes,
		KindReactions,
		KindInteractions,
		KindDocumentUpdates,
	}
}

// ParseCursor converts the wire cursor into a revision value. An empty
// cursor means "from the beginning".
func ParseCursor(rawInput string) (int64, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCursor, rawInput)
	}
	if value < 0 {
		return 0, fmt.Errorf("%w: negative", ErrInvalidCursor)
	}
	return value, nil
}

// FormatCursor renders a revision as a wire cursor.
func FormatCursor(revision int64) string {
	return strconv.FormatInt(revision, 10)
}
