package syncer

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meridianworks/meridian/backend/internal/model"
)

// RegistryConfig describes the shared dependencies of all synchronizers.
type RegistryConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
	PageSize int
}

// Registry owns the live synchronizers, one per (subscriber, workspace,
// entity-kind). Acquire creates lazily; Release destroys a subscriber's
// streams when its session closes. Synchronizers are never persisted.
type Registry struct {
	mu            sync.Mutex
	synchronizers map[string]*Synchronizer
	db            *gorm.DB
	logger        *zap.Logger
	pageSize      int
}

// NewRegistry constructs an empty Registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Registry{
		synchronizers: make(map[string]*Synchronizer),
		db:            cfg.Database,
		logger:        logger,
		pageSize:      pageSize,
	}, nil
}

// Acquire returns the synchronizer for the stream, creating it on first use.
func (r *Registry) Acquire(subscriberID string, workspaceID model.WorkspaceID, kind model.EntityKind) (*Synchronizer, error) {
	key := streamKey(subscriberID, workspaceID.String(), kind)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.synchronizers[key]; ok {
		return existing, nil
	}
	created, err := New(Config{
		Kind:         kind,
		WorkspaceID:  workspaceID,
		SubscriberID: subscriberID,
		Database:     r.db,
		Logger:       r.logger,
		PageSize:     r.pageSize,
	})
	if err != nil {
		return nil, err
	}
	r.synchronizers[key] = created
	return created, nil
}

// Release drops every synchronizer belonging to the subscriber. An in-flight
// fetch finishes harmlessly: revisions are assigned independently of any
// synchronizer, so the next session resumes from the durably stored cursor.
func (r *Registry) Release(subscriberID string) {
	prefix := subscriberID + "|"
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.synchronizers {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(r.synchronizers, key)
		}
	}
}

func streamKey(subscriberID, workspaceID string, kind model.EntityKind) string {
	return fmt.Sprintf("%s|%s|%s", subscriberID, workspaceID, kind.String())
}
