// Package events provides the process-wide publish/subscribe channel that
// nudges synchronizers and feeds client-facing streams. The bus is
// constructed once per process and injected; it carries triggers only, so
// losing an event never loses data; synchronizers re-derive truth from the
// revision-ordered query.
package events

import (
	"sync"
	"time"
)

// EventType names a domain event published after a successful apply.
type EventType string

const (
	// EventNodeCreated fires when a node row is inserted.
	EventNodeCreated EventType = "node-created"
	// EventNodeUpdated fires when a node's attributes change.
	EventNodeUpdated EventType = "node-updated"
	// EventNodeDeleted fires when a node is tombstoned.
	EventNodeDeleted EventType = "node-deleted"
	// EventReactionCreated fires when a reaction is attached.
	EventReactionCreated EventType = "reaction-created"
	// EventReactionDeleted fires when a reaction is removed.
	EventReactionDeleted EventType = "reaction-deleted"
	// EventInteractionUpdated fires when seen/opened state advances.
	EventInteractionUpdated EventType = "interaction-updated"
	// EventDocumentUpdated fires when a CRDT delta is appended.
	EventDocumentUpdated EventType = "document-updated"
	// EventCollaborationUpdated fires when workspace membership changes.
	EventCollaborationUpdated EventType = "collaboration-updated"
	// EventUserUpdated fires when a workspace user profile changes.
	EventUserUpdated EventType = "user-updated"
)

// Event is the payload fanned out to subscribers. Revision identifies the
// committed row the event refers to; subscribers must still fetch through
// their cursor rather than trust the payload for durability.
type Event struct {
	Type        EventType
	WorkspaceID string
	UserID      string
	NodeID      string
	Revision    int64
	OccurredAt  time.Time
}

// Handler receives published events in publish order.
type Handler func(Event)

type subscription struct {
	id      int64
	handler Handler
}

// Bus fans events out synchronously to all subscribers registered at
// publish time, preserving publish order.
type Bus struct {
	mu            sync.RWMutex
	nextID        int64
	subscriptions []subscription
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler and returns its subscription identifier.
func (b *Bus) Subscribe(handler Handler) int64 {
	if handler == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subscriptions = append(b.subscriptions, subscription{id: b.nextID, handler: handler})
	return b.nextID
}

// Unsubscribe removes the handler registered under the identifier.
func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for index, current := range b.subscriptions {
		if current.id == id {
			b.subscriptions = append(b.subscriptions[:index], b.subscriptions[index+1:]...)
			return
		}
	}
}

// Publish delivers the event to every current subscriber in subscription
// order. Handlers run on the publisher's goroutine; a handler that must not
// block publication should hand off to its own channel.
func (b *Bus) Publish(event Event) {
	if event.Type == "" {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	b.mu.RLock()
	copies := make([]subscription, len(b.subscriptions))
	copy(copies, b.subscriptions)
	b.mu.RUnlock()
	for _, current := range copies {
		current.handler(event)
	}
}
