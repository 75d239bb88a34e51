package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/meridianworks/meridian/backend/internal/errs"
	"github.com/meridianworks/meridian/backend/internal/model"
)

func TestDrainReturnsEnqueueOrder(testContext *testing.T) {
	queue, workspaceID := mustQueue(testContext)

	for i := 1; i <= 3; i++ {
		mutation := testMutation(fmt.Sprintf("mut-%d", i))
		if err := queue.Enqueue(context.Background(), workspaceID, mutation, "node-1"); err != nil {
			testContext.Fatalf("enqueue %d failed: %v", i, err)
		}
	}

	batch, err := queue.Drain(context.Background(), workspaceID, 10)
	if err != nil {
		testContext.Fatalf("drain failed: %v", err)
	}
	if len(batch) != 3 {
		testContext.Fatalf("expected three mutations, got %d", len(batch))
	}
	for i, mutation := range batch {
		expected := fmt.Sprintf("mut-%d", i+1)
		if mutation.ID.String() != expected {
			testContext.Fatalf("expected %q at position %d, got %q", expected, i, mutation.ID.String())
		}
	}
}

func TestDrainIsNonDestructive(testContext *testing.T) {
	queue, workspaceID := mustQueue(testContext)

	if err := queue.Enqueue(context.Background(), workspaceID, testMutation("mut-keep"), "node-1"); err != nil {
		testContext.Fatalf("enqueue failed: %v", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		batch, err := queue.Drain(context.Background(), workspaceID, 10)
		if err != nil {
			testContext.Fatalf("drain %d failed: %v", attempt, err)
		}
		if len(batch) != 1 {
			testContext.Fatalf("expected mutation to stay queued on drain %d, got %d", attempt, len(batch))
		}
	}
}

func TestDrainHonorsBatchLimit(testContext *testing.T) {
	queue, workspaceID := mustQueue(testContext)

	for i := 0; i < 5; i++ {
		if err := queue.Enqueue(context.Background(), workspaceID, testMutation(fmt.Sprintf("mut-%d", i)), "node-1"); err != nil {
			testContext.Fatalf("enqueue failed: %v", err)
		}
	}

	batch, err := queue.Drain(context.Background(), workspaceID, 2)
	if err != nil {
		testContext.Fatalf("drain failed: %v", err)
	}
	if len(batch) != 2 {
		testContext.Fatalf("expected batch of two, got %d", len(batch))
	}
}

func TestEnqueueDuplicateMutationIDIsNoOp(testContext *testing.T) {
	queue, workspaceID := mustQueue(testContext)

	mutation := testMutation("mut-once")
	if err := queue.Enqueue(context.Background(), workspaceID, mutation, "node-1"); err != nil {
		testContext.Fatalf("first enqueue failed: %v", err)
	}
	if err := queue.Enqueue(context.Background(), workspaceID, mutation, "node-1"); err != nil {
		testContext.Fatalf("second enqueue failed: %v", err)
	}

	size, err := queue.Size(context.Background(), workspaceID)
	if err != nil {
		testContext.Fatalf("size failed: %v", err)
	}
	if size != 1 {
		testContext.Fatalf("expected one queued mutation, got %d", size)
	}
}

func TestAcknowledgeRemovesMutations(testContext *testing.T) {
	queue, workspaceID := mustQueue(testContext)

	if err := queue.Enqueue(context.Background(), workspaceID, testMutation("mut-ack"), "node-1"); err != nil {
		testContext.Fatalf("enqueue failed: %v", err)
	}
	if err := queue.Acknowledge(context.Background(), []model.MutationID{"mut-ack"}); err != nil {
		testContext.Fatalf("acknowledge failed: %v", err)
	}

	size, err := queue.Size(context.Background(), workspaceID)
	if err != nil {
		testContext.Fatalf("size failed: %v", err)
	}
	if size != 0 {
		testContext.Fatalf("expected empty queue, got %d", size)
	}
}

func TestRequeueOrDropPermanentRemoves(testContext *testing.T) {
	queue, workspaceID := mustQueue(testContext)

	if err := queue.Enqueue(context.Background(), workspaceID, testMutation("mut-rejected"), "node-1"); err != nil {
		testContext.Fatalf("enqueue failed: %v", err)
	}

	dropped, err := queue.RequeueOrDrop(context.Background(), "mut-rejected", errs.ClassPermanent)
	if err != nil {
		testContext.Fatalf("requeue failed: %v", err)
	}
	if !dropped {
		testContext.Fatalf("expected permanent rejection to drop the mutation")
	}

	size, err := queue.Size(context.Background(), workspaceID)
	if err != nil {
		testContext.Fatalf("size failed: %v", err)
	}
	if size != 0 {
		testContext.Fatalf("expected empty queue, got %d", size)
	}
}

func TestRequeueOrDropTransientKeepsAndCounts(testContext *testing.T) {
	queue, workspaceID := mustQueue(testContext)

	if err := queue.Enqueue(context.Background(), workspaceID, testMutation("mut-retry"), "node-1"); err != nil {
		testContext.Fatalf("enqueue failed: %v", err)
	}

	dropped, err := queue.RequeueOrDrop(context.Background(), "mut-retry", errs.ClassTransient)
	if err != nil {
		testContext.Fatalf("requeue failed: %v", err)
	}
	if dropped {
		testContext.Fatalf("expected transient failure to keep the mutation")
	}

	var row QueuedMutation
	if err := queue.db.Where("mutation_id = ?", "mut-retry").Take(&row).Error; err != nil {
		testContext.Fatalf("failed to load queued row: %v", err)
	}
	if row.Attempts != 1 {
		testContext.Fatalf("expected one recorded attempt, got %d", row.Attempts)
	}
	if row.LastErrorClass != string(errs.ClassTransient) {
		testContext.Fatalf("expected transient error class, got %q", row.LastErrorClass)
	}
}

func mustQueue(testContext *testing.T) (*Queue, model.WorkspaceID) {
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
	if err := db.AutoMigrate(&QueuedMutation{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	queue, err := New(Config{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1700000000, 0).UTC() },
	})
	if err != nil {
		testContext.Fatalf("failed to create queue: %v", err)
	}
	workspaceID, err := model.NewWorkspaceID("ws-queue")
	if err != nil {
		testContext.Fatalf("unexpected workspace id error: %v", err)
	}
	return queue, workspaceID
}

func testMutation(id string) model.Mutation {
	return model.Mutation{
		ID:               model.MutationID(id),
		Type:             model.MutationTypeUpdateNode,
		CreatedAtSeconds: 1700000000,
		Data:             []byte(`{"node_id":"node-1","attributes":"{}"}`),
	}
}
