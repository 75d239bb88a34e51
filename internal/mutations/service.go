package mutations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meridianworks/meridian/backend/internal/errs"
	"github.com/meridianworks/meridian/backend/internal/events"
	"github.com/meridianworks/meridian/backend/internal/model"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "mutations.service.new"
	opApplyBatch = "mutations.apply_batch"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues server-assigned identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the mutation applier.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Bus        *events.Bus
	Logger     *zap.Logger
}

// Service is the server-side mutation applier. Each mutation in a batch is
// validated, authorized, and applied in its own transaction; one bad item
// never aborts the rest.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	bus        *events.Bus
	logger     *zap.Logger
}

// NewService constructs the mutation applier.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		bus:        cfg.Bus,
		logger:     logger,
	}, nil
}

// ApplyBatch applies an ordered batch of mutations for one workspace and
// returns a parallel list of per-item statuses. Every successful apply
// publishes its domain events after that item's transaction has committed.
func (s *Service) ApplyBatch(ctx context.Context, workspaceID model.WorkspaceID, callerID model.UserID, batch []model.Mutation) ([]Result, error) {
	if s.db == nil {
		s.logError(opApplyBatch, "missing_database", errMissingDatabase)
		return nil, newServiceError(opApplyBatch, "missing_database", errMissingDatabase)
	}

	results := make([]Result, 0, len(batch))
	for _, mutation := range batch {
		pending, applyErr := s.applyOne(ctx, workspaceID, callerID, mutation)
		status := errs.StatusFor(applyErr)
		if applyErr != nil {
			s.logger.Warn("mutation rejected",
				zap.String("workspace_id", workspaceID.String()),
				zap.String("mutation_id", mutation.ID.String()),
				zap.String("mutation_type", mutation.Type.String()),
				zap.String("status", string(status)),
				zap.Error(applyErr))
		}
		if applyErr == nil {
			for _, event := range pending {
				s.publish(event)
			}
		}
		results = append(results, Result{ID: mutation.ID, Status: status})
	}
	return results, nil
}

func (s *Service) applyOne(ctx context.Context, workspaceID model.WorkspaceID, callerID model.UserID, mutation model.Mutation) ([]events.Event, error) {
	if _, err := model.NewMutationID(mutation.ID.String()); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	if _, err := model.ParseMutationType(mutation.Type.String()); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrMethodNotAllowed, err)
	}

	var pending []events.Event
	duplicate := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := AppliedMutation{
			MutationID:       mutation.ID.String(),
			WorkspaceID:      workspaceID.String(),
			CreatedBy:        callerID.String(),
			MutationType:     mutation.Type.String(),
			AppliedAtSeconds: s.clock().UTC().Unix(),
		}
		insertResult := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
		if insertResult.Error != nil {
			return fmt.Errorf("%w: idempotence insert: %v", errs.ErrTransient, insertResult.Error)
		}
		if insertResult.RowsAffected == 0 {
			// Already applied. Converge to success without side effects.
			duplicate = true
			return nil
		}

		event, dispatchErr := s.dispatch(tx, workspaceID, callerID, mutation)
		if dispatchErr != nil {
			return dispatchErr
		}
		if event != nil {
			pending = append(pending, *event)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	if duplicate {
		return nil, nil
	}
	return pending, nil
}

// dispatch maps each mutation type to exactly one handler. The switch is
// exhaustive over the closed enum; a new member without an arm falls
// through to method-not-allowed instead of aborting the batch.
func (s *Service) dispatch(tx *gorm.DB, workspaceID model.WorkspaceID, callerID model.UserID, mutation model.Mutation) (*events.Event, error) {
	switch mutation.Type {
	case model.MutationTypeCreateNode:
		return s.applyCreateNode(tx, workspaceID, callerID, mutation)
	case model.MutationTypeUpdateNode:
		return s.applyUpdateNode(tx, workspaceID, callerID, mutation)
	case model.MutationTypeDeleteNode:
		return s.applyDeleteNode(tx, workspaceID, callerID, mutation)
	case model.MutationTypeCreateReaction:
		return s.applyReaction(tx, workspaceID, callerID, mutation, false)
	case model.MutationTypeDeleteReaction:
		return s.applyReaction(tx, workspaceID, callerID, mutation, true)
	case model.MutationTypeMarkSeen:
		return s.applyInteraction(tx, workspaceID, callerID, mutation, interactionSeen)
	case model.MutationTypeMarkOpened:
		return s.applyInteraction(tx, workspaceID, callerID, mutation, interactionOpened)
	case model.MutationTypeUpdateDocument:
		return s.applyUpdateDocument(tx, workspaceID, callerID, mutation)
	default:
		return nil, fmt.Errorf("%w: %q", errs.ErrMethodNotAllowed, mutation.Type.String())
	}
}

func (s *Service) publish(event events.Event) {
	if s.bus == nil {
		return
	}
	event.OccurredAt = s.clock().UTC()
	s.bus.Publish(event)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("mutations service error", attrs...)
}
