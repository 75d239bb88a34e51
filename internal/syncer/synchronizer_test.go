package syncer

import (
	"context"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/meridianworks/meridian/backend/internal/events"
	"github.com/meridianworks/meridian/backend/internal/model"
	"github.com/meridianworks/meridian/backend/internal/nodes"
)

func TestFetchWalksEveryRevisionWithSmallPages(testContext *testing.T) {
	db := mustSyncerDatabase(testContext)
	workspaceID := mustWorkspaceID(testContext, "ws-pages")
	seedNodes(testContext, db, workspaceID.String(), 7)

	synchronizer := mustSynchronizer(testContext, db, workspaceID, 3)

	var collected []int64
	cursor := int64(0)
	for {
		message := synchronizer.Fetch(context.Background(), cursor)
		if message == nil {
			break
		}
		if len(message.Items) > 3 {
			testContext.Fatalf("expected pages of at most three items, got %d", len(message.Items))
		}
		for _, item := range message.Items {
			if item.Cursor <= cursor {
				testContext.Fatalf("expected ascending cursors, got %d after %d", item.Cursor, cursor)
			}
			collected = append(collected, item.Cursor)
		}
		cursor = message.LastCursor()
	}

	if len(collected) != 7 {
		testContext.Fatalf("expected all seven revisions, got %d", len(collected))
	}
	for i, revision := range collected {
		if revision != int64(i+1) {
			testContext.Fatalf("expected revision %d at position %d, got %d", i+1, i, revision)
		}
	}
}

func TestFetchScopesToWorkspace(testContext *testing.T) {
	db := mustSyncerDatabase(testContext)
	workspaceID := mustWorkspaceID(testContext, "ws-mine")
	seedNodes(testContext, db, workspaceID.String(), 2)
	seedNodes(testContext, db, "ws-other", 2)

	synchronizer := mustSynchronizer(testContext, db, workspaceID, 10)
	message := synchronizer.Fetch(context.Background(), 0)
	if message == nil {
		testContext.Fatalf("expected a page")
	}
	for _, item := range message.Items {
		record, ok := item.Data.(NodeRecord)
		if !ok {
			testContext.Fatalf("expected node record, got %T", item.Data)
		}
		if record.NodeID == "" {
			testContext.Fatalf("expected populated node record")
		}
	}
	if len(message.Items) != 2 {
		testContext.Fatalf("expected only this workspace's rows, got %d", len(message.Items))
	}
}

func TestFetchDrainedStreamReturnsNil(testContext *testing.T) {
	db := mustSyncerDatabase(testContext)
	workspaceID := mustWorkspaceID(testContext, "ws-drained")
	seedNodes(testContext, db, workspaceID.String(), 1)

	synchronizer := mustSynchronizer(testContext, db, workspaceID, 10)
	message := synchronizer.Fetch(context.Background(), 0)
	if message == nil {
		testContext.Fatalf("expected first fetch to deliver")
	}
	if follow := synchronizer.Fetch(context.Background(), message.LastCursor()); follow != nil {
		testContext.Fatalf("expected drained stream to return nil, got %d items", len(follow.Items))
	}
}

func TestFetchSuppressedWhileFetchInFlight(testContext *testing.T) {
	db := mustSyncerDatabase(testContext)
	workspaceID := mustWorkspaceID(testContext, "ws-inflight")
	seedNodes(testContext, db, workspaceID.String(), 1)

	synchronizer := mustSynchronizer(testContext, db, workspaceID, 10)
	synchronizer.status.Store(statusFetching)
	if message := synchronizer.Fetch(context.Background(), 0); message != nil {
		testContext.Fatalf("expected in-flight fetch to suppress, got %d items", len(message.Items))
	}

	synchronizer.status.Store(statusPending)
	if message := synchronizer.Fetch(context.Background(), 0); message == nil {
		testContext.Fatalf("expected fetch to deliver once the stream is pending again")
	}
}

func TestHandleEventMatchesUnconditionalPoll(testContext *testing.T) {
	db := mustSyncerDatabase(testContext)
	workspaceID := mustWorkspaceID(testContext, "ws-event")
	seedNodes(testContext, db, workspaceID.String(), 2)

	triggered := mustSynchronizer(testContext, db, workspaceID, 10)
	polled := mustSynchronizer(testContext, db, workspaceID, 10)

	event := events.Event{Type: events.EventNodeCreated, WorkspaceID: workspaceID.String()}
	fromEvent := triggered.HandleEvent(context.Background(), event, 0)
	fromPoll := polled.Fetch(context.Background(), 0)

	if fromEvent == nil || fromPoll == nil {
		testContext.Fatalf("expected both paths to deliver")
	}
	if len(fromEvent.Items) != len(fromPoll.Items) {
		testContext.Fatalf("expected identical pages, got %d and %d items", len(fromEvent.Items), len(fromPoll.Items))
	}
	if fromEvent.LastCursor() != fromPoll.LastCursor() {
		testContext.Fatalf("expected identical cursors, got %d and %d", fromEvent.LastCursor(), fromPoll.LastCursor())
	}
}

func TestHandleEventIgnoresForeignWorkspace(testContext *testing.T) {
	db := mustSyncerDatabase(testContext)
	workspaceID := mustWorkspaceID(testContext, "ws-foreign")
	seedNodes(testContext, db, workspaceID.String(), 1)

	synchronizer := mustSynchronizer(testContext, db, workspaceID, 10)
	event := events.Event{Type: events.EventNodeCreated, WorkspaceID: "ws-elsewhere"}
	if message := synchronizer.HandleEvent(context.Background(), event, 0); message != nil {
		testContext.Fatalf("expected foreign workspace event to be ignored")
	}
}

func TestHandleEventIgnoresIrrelevantEventType(testContext *testing.T) {
	db := mustSyncerDatabase(testContext)
	workspaceID := mustWorkspaceID(testContext, "ws-irrelevant")
	seedNodes(testContext, db, workspaceID.String(), 1)

	synchronizer := mustSynchronizer(testContext, db, workspaceID, 10)
	event := events.Event{Type: events.EventReactionCreated, WorkspaceID: workspaceID.String()}
	if message := synchronizer.HandleEvent(context.Background(), event, 0); message != nil {
		testContext.Fatalf("expected reaction event to be irrelevant to the nodes stream")
	}
}

func TestRegistryReusesAndReleasesStreams(testContext *testing.T) {
	db := mustSyncerDatabase(testContext)
	workspaceID := mustWorkspaceID(testContext, "ws-registry")

	registry, err := NewRegistry(RegistryConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to create registry: %v", err)
	}

	first, err := registry.Acquire("device-a", workspaceID, model.KindNodes)
	if err != nil {
		testContext.Fatalf("acquire failed: %v", err)
	}
	again, err := registry.Acquire("device-a", workspaceID, model.KindNodes)
	if err != nil {
		testContext.Fatalf("second acquire failed: %v", err)
	}
	if first != again {
		testContext.Fatalf("expected same synchronizer for same stream")
	}

	other, err := registry.Acquire("device-b", workspaceID, model.KindNodes)
	if err != nil {
		testContext.Fatalf("acquire for other device failed: %v", err)
	}
	if other == first {
		testContext.Fatalf("expected distinct synchronizers per subscriber")
	}

	registry.Release("device-a")
	recreated, err := registry.Acquire("device-a", workspaceID, model.KindNodes)
	if err != nil {
		testContext.Fatalf("acquire after release failed: %v", err)
	}
	if recreated == first {
		testContext.Fatalf("expected release to discard the old synchronizer")
	}
}

func mustSyncerDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", testContext.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&nodes.Node{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func mustSynchronizer(testContext *testing.T, db *gorm.DB, workspaceID model.WorkspaceID, pageSize int) *Synchronizer {
	testContext.Helper()
	synchronizer, err := New(Config{
		Kind:         model.KindNodes,
		WorkspaceID:  workspaceID,
		SubscriberID: "device-test",
		Database:     db,
		PageSize:     pageSize,
	})
	if err != nil {
		testContext.Fatalf("failed to create synchronizer: %v", err)
	}
	return synchronizer
}

func seedNodes(testContext *testing.T, db *gorm.DB, workspaceID string, count int) {
	testContext.Helper()
	var existing int64
	if err := db.Model(&nodes.Node{}).Where("workspace_id = ?", workspaceID).Count(&existing).Error; err != nil {
		testContext.Fatalf("failed to count existing rows: %v", err)
	}
	for i := 1; i <= count; i++ {
		row := nodes.Node{
			NodeID:           fmt.Sprintf("%s-node-%d", workspaceID, i),
			WorkspaceID:      workspaceID,
			Kind:             "document",
			CreatedBy:        "user-seed",
			CreatedAtSeconds: 1700000000,
			Revision:         existing + int64(i),
		}
		if err := db.Create(&row).Error; err != nil {
			testContext.Fatalf("failed to seed node %d: %v", i, err)
		}
	}
}

func mustWorkspaceID(testContext *testing.T, value string) model.WorkspaceID {
	testContext.Helper()
	id, err := model.NewWorkspaceID(value)
	if err != nil {
		testContext.Fatalf("unexpected workspace id error: %v", err)
	}
	return id
}
