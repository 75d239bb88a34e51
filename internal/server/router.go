// Package server exposes the sync backend over HTTP: the batched mutation
// endpoint, the cursor-based pull endpoint, and the server-sent event
// stream that nudges connected devices to pull.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meridianworks/meridian/backend/internal/auth"
	"github.com/meridianworks/meridian/backend/internal/collab"
	"github.com/meridianworks/meridian/backend/internal/model"
	"github.com/meridianworks/meridian/backend/internal/mutations"
	"github.com/meridianworks/meridian/backend/internal/syncer"
)

const (
	userIDContextKey   = "meridian_user_id"
	deviceIDContextKey = "meridian_device_id"
)

var (
	errMissingTokenValidator  = errors.New("token validator dependency required")
	errMissingMutationService = errors.New("mutation service dependency required")
	errMissingSyncRegistry    = errors.New("sync registry dependency required")
	errMissingDatabase        = errors.New("database dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// TokenValidator resolves a bearer token to the identity it carries.
type TokenValidator interface {
	ValidateToken(token string) (auth.Identity, error)
}

// Dependencies bundles everything the HTTP surface needs.
type Dependencies struct {
	TokenValidator  TokenValidator
	MutationService *mutations.Service
	SyncRegistry    *syncer.Registry
	EventStream     *EventStream
	Database        *gorm.DB
	Logger          *zap.Logger
}

// NewHTTPHandler builds the gin router with all routes registered.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.MutationService == nil {
		return nil, errMissingMutationService
	}
	if deps.SyncRegistry == nil {
		return nil, errMissingSyncRegistry
	}
	if deps.Database == nil {
		return nil, errMissingDatabase
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:    deps.TokenValidator,
		mutations: deps.MutationService,
		registry:  deps.SyncRegistry,
		stream:    deps.EventStream,
		db:        deps.Database,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/v1/workspaces/:workspaceID")
	protected.Use(handler.authorizeRequest)
	protected.POST("/mutations", handler.handleMutations)
	protected.POST("/sync", handler.handleSync)
	protected.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	tokens    TokenValidator
	mutations *mutations.Service
	registry  *syncer.Registry
	stream    *EventStream
	db        *gorm.DB
	logger    *zap.Logger
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	identity, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, identity.UserID.String())
	c.Set(deviceIDContextKey, identity.DeviceID.String())
	c.Next()
}

func (h *httpHandler) requestIdentity(c *gin.Context) (model.UserID, model.DeviceID, bool) {
	userID, userErr := model.NewUserID(c.GetString(userIDContextKey))
	deviceID, deviceErr := model.NewDeviceID(c.GetString(deviceIDContextKey))
	if userErr != nil || deviceErr != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", "", false
	}
	return userID, deviceID, true
}

func (h *httpHandler) requestWorkspace(c *gin.Context) (model.WorkspaceID, bool) {
	workspaceID, err := model.NewWorkspaceID(c.Param("workspaceID"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_workspace"})
		return "", false
	}
	return workspaceID, true
}

type mutationEnvelopePayload struct {
	ID               string          `json:"id"`
	Type             string          `json:"type"`
	CreatedAtSeconds int64           `json:"created_at_s"`
	Data             json.RawMessage `json:"data"`
}

type mutationsRequestPayload struct {
	Mutations []mutationEnvelopePayload `json:"mutations"`
}

type mutationResultPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type mutationsResponsePayload struct {
	Results []mutationResultPayload `json:"results"`
}

func (h *httpHandler) handleMutations(c *gin.Context) {
	userID, _, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	workspaceID, ok := h.requestWorkspace(c)
	if !ok {
		return
	}

	var request mutationsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Mutations) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	batch := make([]model.Mutation, 0, len(request.Mutations))
	for _, envelope := range request.Mutations {
		batch = append(batch, model.Mutation{
			ID:               model.MutationID(envelope.ID),
			Type:             model.MutationType(envelope.Type),
			CreatedAtSeconds: envelope.CreatedAtSeconds,
			Data:             envelope.Data,
		})
	}

	results, err := h.mutations.ApplyBatch(c.Request.Context(), workspaceID, userID, batch)
	if err != nil {
		h.logger.Error("failed to apply mutation batch", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "apply_failed"})
		return
	}

	response := mutationsResponsePayload{Results: make([]mutationResultPayload, 0, len(results))}
	for _, result := range results {
		response.Results = append(response.Results, mutationResultPayload{
			ID:     result.ID.String(),
			Status: string(result.Status),
		})
	}
	c.JSON(http.StatusOK, response)
}

type syncRequestPayload struct {
	EntityKind string `json:"entity_kind"`
	Cursor     string `json:"cursor"`
}

type syncItemPayload struct {
	Cursor string `json:"cursor"`
	Data   any    `json:"data"`
}

type syncResponsePayload struct {
	Items []syncItemPayload `json:"items"`
}

func (h *httpHandler) handleSync(c *gin.Context) {
	userID, deviceID, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	workspaceID, ok := h.requestWorkspace(c)
	if !ok {
		return
	}

	var request syncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	kind, err := model.ParseEntityKind(request.EntityKind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_entity_kind"})
		return
	}
	cursor, err := model.ParseCursor(request.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
		return
	}

	allowed, err := collab.HasRole(h.db, workspaceID, userID, collab.RoleViewer)
	if err != nil {
		h.logger.Error("membership check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	subscriberID := userID.String() + ":" + deviceID.String()
	synchronizer, err := h.registry.Acquire(subscriberID, workspaceID, kind)
	if err != nil {
		h.logger.Error("failed to acquire synchronizer", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}

	message := synchronizer.Fetch(c.Request.Context(), cursor)
	if message == nil {
		// Drained, suppressed by an in-flight fetch, or a swallowed fetch
		// error. The client retries from its durable cursor either way.
		c.JSON(http.StatusOK, nil)
		return
	}

	response := syncResponsePayload{Items: make([]syncItemPayload, 0, len(message.Items))}
	for _, item := range message.Items {
		response.Items = append(response.Items, syncItemPayload{
			Cursor: model.FormatCursor(item.Cursor),
			Data:   item.Data,
		})
	}
	c.JSON(http.StatusOK, response)
}
