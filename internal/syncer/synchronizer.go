// Package syncer turns "cursor + entity kind" into the next revision-ordered
// page of rows past that cursor. One synchronizer exists per (subscriber,
// workspace, entity-kind) stream; synchronizers never block each other and
// never persist anything; cursor durability is the subscriber's job.
package syncer

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meridianworks/meridian/backend/internal/events"
	"github.com/meridianworks/meridian/backend/internal/model"
)

// DefaultPageSize bounds one fetch when the caller does not override it.
const DefaultPageSize = 50

const (
	statusPending int32 = iota
	statusFetching
)

var (
	errMissingDatabase  = errors.New("syncer: database handle is required")
	errMissingWorkspace = errors.New("syncer: workspace id is required")
	noOpLogger          = zap.NewNop()
)

// Item pairs one row's wire record with the cursor value that row advances
// the subscriber to.
type Item struct {
	Cursor int64
	Data   any
}

// Message is one page of items in strictly ascending cursor order, all past
// the cursor the caller supplied. The caller must apply every item before
// persisting the last item's cursor.
type Message struct {
	Items []Item
}

// LastCursor returns the cursor the subscriber should persist after applying
// the whole page.
func (m *Message) LastCursor() int64 {
	if m == nil || len(m.Items) == 0 {
		return 0
	}
	return m.Items[len(m.Items)-1].Cursor
}

// Config describes one synchronizer stream.
type Config struct {
	Kind         model.EntityKind
	WorkspaceID  model.WorkspaceID
	SubscriberID string
	Database     *gorm.DB
	Logger       *zap.Logger
	PageSize     int
}

// Synchronizer is the pending/fetching state machine for one stream. The
// status flag is the sole concurrency-control primitive: it is set before
// the storage call begins and restored when it completes, error included.
type Synchronizer struct {
	kind         model.EntityKind
	workspaceID  string
	subscriberID string
	db           *gorm.DB
	logger       *zap.Logger
	pageSize     int
	fetcher      entityFetcher
	status       atomic.Int32
}

// New constructs a Synchronizer for one (subscriber, workspace, kind) stream.
func New(cfg Config) (*Synchronizer, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.WorkspaceID == "" {
		return nil, errMissingWorkspace
	}
	fetcher, err := fetcherForKind(cfg.Kind)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Synchronizer{
		kind:         cfg.Kind,
		workspaceID:  cfg.WorkspaceID.String(),
		subscriberID: cfg.SubscriberID,
		db:           cfg.Database,
		logger:       logger,
		pageSize:     pageSize,
		fetcher:      fetcher,
	}, nil
}

// Kind returns the entity kind this synchronizer streams.
func (s *Synchronizer) Kind() model.EntityKind {
	return s.kind
}

// Fetch returns the next page of rows with revision greater than the cursor,
// or nil when there is nothing to deliver. Nil covers three cases the caller
// treats identically: no new rows, a fetch already in flight (the request is
// dropped, never queued, because two concurrent reads of the same unconsumed range
// could double-deliver), and a storage error, which is logged and absorbed
// so the next trigger simply retries.
func (s *Synchronizer) Fetch(ctx context.Context, cursor int64) *Message {
	if !s.status.CompareAndSwap(statusPending, statusFetching) {
		return nil
	}
	defer s.status.Store(statusPending)

	items, err := s.fetcher.fetchPage(ctx, s.db, s.workspaceID, cursor, s.pageSize)
	if err != nil {
		s.logger.Error("synchronizer fetch failed",
			zap.String("entity_kind", s.kind.String()),
			zap.String("workspace_id", s.workspaceID),
			zap.String("subscriber_id", s.subscriberID),
			zap.Int64("cursor", cursor),
			zap.Error(err))
		return nil
	}
	if len(items) == 0 {
		return nil
	}
	return &Message{Items: items}
}

// HandleEvent fetches eagerly when the event is relevant to this stream.
// The predicate is pure; the returned page still comes from the
// revision-ordered query, so an event-triggered fetch delivers exactly what
// an unconditional poll at the same instant would.
func (s *Synchronizer) HandleEvent(ctx context.Context, event events.Event, cursor int64) *Message {
	if !s.fetcher.shouldFetch(event, s.workspaceID) {
		return nil
	}
	return s.Fetch(ctx, cursor)
}
