package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/meridianworks/meridian/backend/internal/model"
)

var errMissingCursorStore = errors.New("client: cursor store is required")

type syncRequest struct {
	EntityKind string `json:"entity_kind"`
	Cursor     string `json:"cursor"`
}

type syncItem struct {
	Cursor string          `json:"cursor"`
	Data   json.RawMessage `json:"data"`
}

type syncResponse struct {
	Items []syncItem `json:"items"`
}

// ItemApplier lands a pulled record in the device database. The puller only
// advances its durable cursor after every item of a page applied.
type ItemApplier interface {
	ApplyItem(ctx context.Context, kind model.EntityKind, data json.RawMessage) error
}

// ItemApplierFunc adapts a function to the ItemApplier interface.
type ItemApplierFunc func(ctx context.Context, kind model.EntityKind, data json.RawMessage) error

// ApplyItem implements ItemApplier.
func (f ItemApplierFunc) ApplyItem(ctx context.Context, kind model.EntityKind, data json.RawMessage) error {
	return f(ctx, kind, data)
}

// PullerConfig describes the dependencies of the pull loop.
type PullerConfig struct {
	BaseURL     string
	AccessToken string
	WorkspaceID model.WorkspaceID
	Cursors     *CursorStore
	Applier     ItemApplier
	Kinds       []model.EntityKind
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Puller walks the server's revision streams forward, one entity kind at a
// time, persisting its cursor between pages.
type Puller struct {
	baseURL     string
	accessToken string
	workspaceID model.WorkspaceID
	cursors     *CursorStore
	applier     ItemApplier
	kinds       []model.EntityKind
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewPuller constructs a Puller.
func NewPuller(cfg PullerConfig) (*Puller, error) {
	if cfg.BaseURL == "" {
		return nil, errMissingBaseURL
	}
	if cfg.Cursors == nil {
		return nil, errMissingCursorStore
	}
	if cfg.Applier == nil {
		return nil, errors.New("client: item applier is required")
	}
	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = model.AllEntityKinds()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Puller{
		baseURL:     cfg.BaseURL,
		accessToken: cfg.AccessToken,
		workspaceID: cfg.WorkspaceID,
		cursors:     cfg.Cursors,
		applier:     cfg.Applier,
		kinds:       kinds,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// PullAll pulls every configured entity kind until each stream is drained.
// It returns the total number of applied items.
func (p *Puller) PullAll(ctx context.Context) (int, error) {
	total := 0
	for _, kind := range p.kinds {
		applied, err := p.PullKind(ctx, kind)
		total += applied
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// PullKind pulls pages of one entity kind until the server reports no more
// rows past the cursor. Each page is applied item by item and the durable
// cursor advances only once the whole page landed, so a crash mid-page
// replays the page rather than skipping records.
func (p *Puller) PullKind(ctx context.Context, kind model.EntityKind) (int, error) {
	applied := 0
	for {
		cursor, err := p.cursors.Load(ctx, p.workspaceID, kind)
		if err != nil {
			return applied, fmt.Errorf("client: load cursor for %s: %w", kind, err)
		}
		page, err := p.fetchPage(ctx, kind, cursor)
		if err != nil {
			return applied, err
		}
		if page == nil || len(page.Items) == 0 {
			return applied, nil
		}
		lastCursor := cursor
		for _, item := range page.Items {
			itemCursor, parseErr := model.ParseCursor(item.Cursor)
			if parseErr != nil {
				return applied, fmt.Errorf("client: malformed cursor %q for %s: %w", item.Cursor, kind, parseErr)
			}
			if applyErr := p.applier.ApplyItem(ctx, kind, item.Data); applyErr != nil {
				return applied, fmt.Errorf("client: apply %s item: %w", kind, applyErr)
			}
			applied++
			if itemCursor > lastCursor {
				lastCursor = itemCursor
			}
		}
		if err := p.cursors.Advance(ctx, p.workspaceID, kind, lastCursor); err != nil {
			return applied, fmt.Errorf("client: advance cursor for %s: %w", kind, err)
		}
	}
}

// Run pulls all kinds on a fixed interval until the context ends.
func (p *Puller) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := p.PullAll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("pull cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Puller) fetchPage(ctx context.Context, kind model.EntityKind, cursor int64) (*syncResponse, error) {
	body, err := json.Marshal(syncRequest{
		EntityKind: string(kind),
		Cursor:     model.FormatCursor(cursor),
	})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/workspaces/%s/sync", p.baseURL, p.workspaceID.String())
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+p.accessToken)

	response, err := p.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("client: post sync: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return nil, fmt.Errorf("client: sync endpoint returned %d: %s", response.StatusCode, string(payload))
	}

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("client: read sync response: %w", err)
	}
	// A literal null means the stream is drained or a concurrent fetch of
	// the same stream is already in flight.
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var decoded syncResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("client: decode sync response: %w", err)
	}
	return &decoded, nil
}
