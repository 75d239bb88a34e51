package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/meridianworks/meridian/backend/internal/auth"
	"github.com/meridianworks/meridian/backend/internal/client"
	"github.com/meridianworks/meridian/backend/internal/collab"
	"github.com/meridianworks/meridian/backend/internal/documents"
	"github.com/meridianworks/meridian/backend/internal/events"
	"github.com/meridianworks/meridian/backend/internal/ledger"
	"github.com/meridianworks/meridian/backend/internal/model"
	"github.com/meridianworks/meridian/backend/internal/mutations"
	"github.com/meridianworks/meridian/backend/internal/nodes"
	"github.com/meridianworks/meridian/backend/internal/queue"
	"github.com/meridianworks/meridian/backend/internal/server"
	"github.com/meridianworks/meridian/backend/internal/syncer"
)

const integrationSigningSecret = "integration-secret"

// TestOfflineEditRoundTrip walks the full device loop: edits land in the
// durable queue, the sender drains them to the mutation endpoint, and the
// puller walks the node stream back down through its persisted cursor.
func TestOfflineEditRoundTrip(testContext *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	serverDB := mustIntegrationDatabase(testContext, "server")
	agentDB := mustIntegrationDatabase(testContext, "agent")
	if err := agentDB.AutoMigrate(&queue.QueuedMutation{}, &client.SyncCursor{}); err != nil {
		testContext.Fatalf("failed to migrate agent schema: %v", err)
	}

	workspaceID, err := model.NewWorkspaceID("ws-roundtrip")
	if err != nil {
		testContext.Fatalf("unexpected workspace id error: %v", err)
	}
	userID, err := model.NewUserID("user-roundtrip")
	if err != nil {
		testContext.Fatalf("unexpected user id error: %v", err)
	}
	deviceID, err := model.NewDeviceID("device-laptop")
	if err != nil {
		testContext.Fatalf("unexpected device id error: %v", err)
	}

	memberships, err := collab.NewService(collab.ServiceConfig{Database: serverDB})
	if err != nil {
		testContext.Fatalf("failed to create collab service: %v", err)
	}
	if _, err := memberships.UpsertCollaboration(ctx, workspaceID, userID, collab.RoleEditor); err != nil {
		testContext.Fatalf("failed to grant editor role: %v", err)
	}

	bus := events.NewBus()
	mutationService, err := mutations.NewService(mutations.ServiceConfig{
		Database:   serverDB,
		IDProvider: mutations.NewUUIDProvider(),
		Bus:        bus,
	})
	if err != nil {
		testContext.Fatalf("failed to create mutation service: %v", err)
	}
	registry, err := syncer.NewRegistry(syncer.RegistryConfig{Database: serverDB, PageSize: 2})
	if err != nil {
		testContext.Fatalf("failed to create sync registry: %v", err)
	}
	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(integrationSigningSecret),
		Issuer:        "meridian-auth",
		Audience:      "meridian-api",
		TokenTTL:      time.Hour,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenValidator:  issuer,
		MutationService: mutationService,
		SyncRegistry:    registry,
		EventStream:     server.NewEventStream(bus),
		Database:        serverDB,
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}
	backend := httptest.NewServer(handler)
	defer backend.Close()

	accessToken, _, err := issuer.IssueDeviceToken(ctx, userID, deviceID)
	if err != nil {
		testContext.Fatalf("failed to issue token: %v", err)
	}

	mutationQueue, err := queue.New(queue.Config{Database: agentDB})
	if err != nil {
		testContext.Fatalf("failed to create queue: %v", err)
	}
	for index := 1; index <= 3; index++ {
		nodeID := fmt.Sprintf("node-%d", index)
		payload, marshalErr := json.Marshal(model.CreateNodePayload{
			NodeID:         nodeID,
			Kind:           "document",
			AttributesJSON: fmt.Sprintf(`{"title":"draft %d"}`, index),
		})
		if marshalErr != nil {
			testContext.Fatalf("failed to encode payload: %v", marshalErr)
		}
		mutation := model.Mutation{
			ID:               model.MutationID(fmt.Sprintf("mut-%d", index)),
			Type:             model.MutationTypeCreateNode,
			CreatedAtSeconds: 1700000000 + int64(index),
			Data:             payload,
		}
		if err := mutationQueue.Enqueue(ctx, workspaceID, mutation, nodeID); err != nil {
			testContext.Fatalf("failed to enqueue edit: %v", err)
		}
	}

	sender, err := client.NewSender(client.SenderConfig{
		Queue:       mutationQueue,
		BaseURL:     backend.URL,
		AccessToken: accessToken,
		WorkspaceID: workspaceID,
	})
	if err != nil {
		testContext.Fatalf("failed to create sender: %v", err)
	}
	sent, err := sender.DrainOnce(ctx)
	if err != nil {
		testContext.Fatalf("drain failed: %v", err)
	}
	if sent != 3 {
		testContext.Fatalf("expected three acknowledged edits, got %d", sent)
	}
	size, err := mutationQueue.Size(ctx, workspaceID)
	if err != nil {
		testContext.Fatalf("queue size failed: %v", err)
	}
	if size != 0 {
		testContext.Fatalf("expected drained queue, got %d", size)
	}

	var serverNodes int64
	if err := serverDB.Model(&nodes.Node{}).Where("workspace_id = ?", workspaceID.String()).Count(&serverNodes).Error; err != nil {
		testContext.Fatalf("failed to count nodes: %v", err)
	}
	if serverNodes != 3 {
		testContext.Fatalf("expected three nodes on the server, got %d", serverNodes)
	}

	cursors, err := client.NewCursorStore(agentDB)
	if err != nil {
		testContext.Fatalf("failed to create cursor store: %v", err)
	}
	var pulled []string
	puller, err := client.NewPuller(client.PullerConfig{
		BaseURL:     backend.URL,
		AccessToken: accessToken,
		WorkspaceID: workspaceID,
		Cursors:     cursors,
		Kinds:       []model.EntityKind{model.KindNodes},
		Applier: client.ItemApplierFunc(func(_ context.Context, _ model.EntityKind, data json.RawMessage) error {
			var record struct {
				NodeID string `json:"node_id"`
			}
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			pulled = append(pulled, record.NodeID)
			return nil
		}),
	})
	if err != nil {
		testContext.Fatalf("failed to create puller: %v", err)
	}

	applied, err := puller.PullKind(ctx, model.KindNodes)
	if err != nil {
		testContext.Fatalf("pull failed: %v", err)
	}
	if applied != 3 {
		testContext.Fatalf("expected three pulled records, got %d", applied)
	}
	if len(pulled) != 3 {
		testContext.Fatalf("expected three applied node ids, got %d", len(pulled))
	}

	cursor, err := cursors.Load(ctx, workspaceID, model.KindNodes)
	if err != nil {
		testContext.Fatalf("cursor load failed: %v", err)
	}
	if cursor == 0 {
		testContext.Fatalf("expected the durable cursor to advance")
	}

	// A second pull from the persisted cursor finds nothing new.
	applied, err = puller.PullKind(ctx, model.KindNodes)
	if err != nil {
		testContext.Fatalf("second pull failed: %v", err)
	}
	if applied != 0 {
		testContext.Fatalf("expected a drained stream on resume, got %d", applied)
	}

	// Resending an already-applied batch converges to success without
	// duplicating rows.
	replay, err := json.Marshal(model.CreateNodePayload{
		NodeID:         "node-1",
		Kind:           "document",
		AttributesJSON: `{"title":"draft 1"}`,
	})
	if err != nil {
		testContext.Fatalf("failed to encode replay payload: %v", err)
	}
	if err := mutationQueue.Enqueue(ctx, workspaceID, model.Mutation{
		ID:               "mut-1",
		Type:             model.MutationTypeCreateNode,
		CreatedAtSeconds: 1700000001,
		Data:             replay,
	}, "node-1"); err != nil {
		testContext.Fatalf("failed to enqueue replay: %v", err)
	}
	if _, err := sender.DrainOnce(ctx); err != nil {
		testContext.Fatalf("replay drain failed: %v", err)
	}
	if err := serverDB.Model(&nodes.Node{}).Where("workspace_id = ?", workspaceID.String()).Count(&serverNodes).Error; err != nil {
		testContext.Fatalf("failed to recount nodes: %v", err)
	}
	if serverNodes != 3 {
		testContext.Fatalf("expected replay to leave three nodes, got %d", serverNodes)
	}
}

func mustIntegrationDatabase(testContext *testing.T, suffix string) *gorm.DB {
	testContext.Helper()
	dsn := fmt.Sprintf("file:%s-%s?mode=memory&cache=shared", testContext.Name(), suffix)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&nodes.Node{}, &nodes.NodeReaction{}, &nodes.NodeInteraction{},
		&collab.User{}, &collab.Collaboration{},
		&documents.DocumentUpdate{},
		&mutations.AppliedMutation{}, &ledger.RevisionCounter{},
	); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}
