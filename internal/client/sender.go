// Package client holds the device-side halves of the sync protocol: the
// sender that drains the durable mutation queue to the server, and the
// puller that walks revision cursors forward. Both talk plain JSON to the
// backend's HTTP surface.
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

	"github.com/meridianworks/meridian/backend/internal/errs"
	"github.com/meridianworks/meridian/backend/internal/model"
	"github.com/meridianworks/meridian/backend/internal/queue"
)

const (
	defaultMaxBatch        = 50
	defaultInitialInterval = time.Second
	defaultMaxInterval     = time.Minute
)

var (
	errMissingQueue   = errors.New("client: mutation queue is required")
	errMissingBaseURL = errors.New("client: server base url is required")
	noOpLogger        = zap.NewNop()
)

type mutationEnvelope struct {
	ID               string          `json:"id"`
	Type             string          `json:"type"`
	CreatedAtSeconds int64           `json:"created_at_s"`
	Data             json.RawMessage `json:"data"`
}

type mutationsRequest struct {
	Mutations []mutationEnvelope `json:"mutations"`
}

type mutationResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type mutationsResponse struct {
	Results []mutationResult `json:"results"`
}

// SenderConfig describes the dependencies of the background sender.
type SenderConfig struct {
	Queue       *queue.Queue
	BaseURL     string
	AccessToken string
	WorkspaceID model.WorkspaceID
	HTTPClient  *http.Client
	Logger      *zap.Logger
	MaxBatch    int
	// InitialInterval and MaxInterval bound the exponential backoff applied
	// after a transport or server failure.
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Sender drains the mutation queue to the mutation sync endpoint. Transient
// failures leave mutations queued and widen the backoff; permanent
// rejections drop the mutation and surface a warning.
type Sender struct {
	queue       *queue.Queue
	baseURL     string
	accessToken string
	workspaceID model.WorkspaceID
	httpClient  *http.Client
	logger      *zap.Logger
	maxBatch    int
	initial     time.Duration
	max         time.Duration
	nudge       chan struct{}
}

// NewSender constructs a Sender.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if cfg.Queue == nil {
		return nil, errMissingQueue
	}
	if cfg.BaseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatch
	}
	initial := cfg.InitialInterval
	if initial <= 0 {
		initial = defaultInitialInterval
	}
	maxInterval := cfg.MaxInterval
	if maxInterval <= 0 {
		maxInterval = defaultMaxInterval
	}
	return &Sender{
		queue:       cfg.Queue,
		baseURL:     cfg.BaseURL,
		accessToken: cfg.AccessToken,
		workspaceID: cfg.WorkspaceID,
		httpClient:  httpClient,
		logger:      logger,
		maxBatch:    maxBatch,
		initial:     initial,
		max:         maxInterval,
		nudge:       make(chan struct{}, 1),
	}, nil
}

// Nudge asks the run loop to drain immediately, e.g. right after a local
// edit was enqueued.
func (s *Sender) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// Run drains the queue until the context is cancelled. The wait between
// cycles is the idle interval while the queue keeps emptying and grows
// exponentially after failures.
func (s *Sender) Run(ctx context.Context) {
	interval := s.initial
	for {
		sent, err := s.DrainOnce(ctx)
		switch {
		case err != nil:
			interval = s.widen(interval)
			s.logger.Warn("mutation drain failed, backing off",
				zap.Duration("retry_in", interval),
				zap.Error(err))
		case sent > 0:
			interval = s.initial
		}

		select {
		case <-ctx.Done():
			return
		case <-s.nudge:
		case <-time.After(interval):
		}
	}
}

// DrainOnce sends at most one batch and processes its per-item statuses.
// It returns how many mutations were acknowledged.
func (s *Sender) DrainOnce(ctx context.Context) (int, error) {
	batch, err := s.queue.Drain(ctx, s.workspaceID, s.maxBatch)
	if err != nil {
		return 0, fmt.Errorf("client: drain queue: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	results, err := s.postBatch(ctx, batch)
	if err != nil {
		// Transport failure: everything stays queued for the next cycle.
		return 0, err
	}

	acknowledged := make([]model.MutationID, 0, len(results))
	for _, result := range results {
		id, idErr := model.NewMutationID(result.ID)
		if idErr != nil {
			continue
		}
		status := model.MutationStatus(result.Status)
		if status == model.StatusSuccess {
			acknowledged = append(acknowledged, id)
			continue
		}
		dropped, requeueErr := s.queue.RequeueOrDrop(ctx, id, errs.ClassForStatus(status))
		if requeueErr != nil {
			return 0, fmt.Errorf("client: requeue %s: %w", id.String(), requeueErr)
		}
		if dropped {
			s.logger.Warn("local edit rejected by server",
				zap.String("mutation_id", id.String()),
				zap.String("status", string(status)))
		}
	}
	if err := s.queue.Acknowledge(ctx, acknowledged); err != nil {
		// Dropped acknowledgment: the mutations will be resent and the
		// server's idempotence index converges them to success.
		return 0, fmt.Errorf("client: acknowledge: %w", err)
	}
	return len(acknowledged), nil
}

func (s *Sender) postBatch(ctx context.Context, batch []model.Mutation) ([]mutationResult, error) {
	envelopes := make([]mutationEnvelope, 0, len(batch))
	for _, mutation := range batch {
		envelopes = append(envelopes, mutationEnvelope{
			ID:               mutation.ID.String(),
			Type:             mutation.Type.String(),
			CreatedAtSeconds: mutation.CreatedAtSeconds,
			Data:             mutation.Data,
		})
	}
	body, err := json.Marshal(mutationsRequest{Mutations: envelopes})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/workspaces/%s/mutations", s.baseURL, s.workspaceID.String())
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+s.accessToken)

	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("client: post mutations: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return nil, fmt.Errorf("client: mutation endpoint returned %d: %s", response.StatusCode, string(payload))
	}

	var decoded mutationsResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("client: decode mutation response: %w", err)
	}
	return decoded.Results, nil
}

func (s *Sender) widen(interval time.Duration) time.Duration {
	widened := interval * 2
	if widened > s.max {
		return s.max
	}
	if widened < s.initial {
		return s.initial
	}
	return widened
}
