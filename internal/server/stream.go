package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meridianworks/meridian/backend/internal/collab"
	"github.com/meridianworks/meridian/backend/internal/events"
)

const (
	streamEventChanged   = "changed"
	streamEventHeartbeat = "heartbeat"
	streamBufferSize     = 16
	heartbeatInterval    = 25 * time.Second
)

// StreamMessage is what a connected device receives over the event stream.
// It is a nudge, not data: the device reacts by pulling through its cursor.
type StreamMessage struct {
	EventType  string `json:"event_type"`
	EntityType string `json:"entity_type"`
	NodeID     string `json:"node_id,omitempty"`
	Revision   int64  `json:"revision"`
}

// EventStream fans bus events out to per-workspace SSE subscribers. A slow
// subscriber loses nudges, never data.
type EventStream struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]chan StreamMessage
	nextID      int64
}

// NewEventStream constructs an EventStream and wires it to the bus.
func NewEventStream(bus *events.Bus) *EventStream {
	stream := &EventStream{
		subscribers: make(map[string]map[int64]chan StreamMessage),
	}
	if bus != nil {
		bus.Subscribe(stream.dispatch)
	}
	return stream
}

// Subscribe registers a workspace listener. The returned cleanup must run
// when the connection closes; it also runs on context cancellation.
func (s *EventStream) Subscribe(ctx context.Context, workspaceID string) (<-chan StreamMessage, func()) {
	if workspaceID == "" {
		closed := make(chan StreamMessage)
		close(closed)
		return closed, func() {}
	}

	channel := make(chan StreamMessage, streamBufferSize)

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if _, ok := s.subscribers[workspaceID]; !ok {
		s.subscribers[workspaceID] = make(map[int64]chan StreamMessage)
	}
	s.subscribers[workspaceID][id] = channel
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		workspace := s.subscribers[workspaceID]
		if workspace != nil {
			delete(workspace, id)
			if len(workspace) == 0 {
				delete(s.subscribers, workspaceID)
			}
		}
		s.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return channel, cleanup
}

func (s *EventStream) dispatch(event events.Event) {
	s.mu.RLock()
	workspace := s.subscribers[event.WorkspaceID]
	if len(workspace) == 0 {
		s.mu.RUnlock()
		return
	}
	channels := make([]chan StreamMessage, 0, len(workspace))
	for _, channel := range workspace {
		channels = append(channels, channel)
	}
	s.mu.RUnlock()

	message := StreamMessage{
		EventType:  streamEventChanged,
		EntityType: string(event.Type),
		NodeID:     event.NodeID,
		Revision:   event.Revision,
	}
	for _, channel := range channels {
		select {
		case channel <- message:
		default:
		}
	}
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	userID, _, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	workspaceID, ok := h.requestWorkspace(c)
	if !ok {
		return
	}
	if h.stream == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream_unavailable"})
		return
	}

	allowed, err := collab.HasRole(h.db, workspaceID, userID, collab.RoleViewer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stream_failed"})
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	messages, cleanup := h.stream.Subscribe(c.Request.Context(), workspaceID.String())
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case message, open := <-messages:
			if !open {
				return
			}
			c.SSEvent(streamEventChanged, message)
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent(streamEventHeartbeat, gin.H{"at": time.Now().UTC().Unix()})
			c.Writer.Flush()
		}
	}
}
