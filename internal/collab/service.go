package collab

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
	"github.com/meridianworks/meridian/backend/internal/ledger"
	"github.com/meridianworks/meridian/backend/internal/model"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opUpsertUser          = "collab.upsert_user"
	opUpsertCollaboration = "collab.upsert_collaboration"
	opRevokeCollaboration = "collab.revoke_collaboration"
)

// HasRole reports whether the user holds at least the required role in the
// workspace. It is the authorization check every mutation handler runs
// inside its own transaction.
func HasRole(tx *gorm.DB, workspaceID model.WorkspaceID, userID model.UserID, required Role) (bool, error) {
	if tx == nil {
		return false, errMissingDatabase
	}
	var collaboration Collaboration
	err := tx.Where("workspace_id = ? AND collaborator_id = ?", workspaceID.String(), userID.String()).
		Take(&collaboration).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: role lookup: %v", errs.ErrTransient, err)
	}
	if collaboration.IsDeleted {
		return false, nil
	}
	role, roleErr := ParseRole(collaboration.Role)
	if roleErr != nil {
		return false, roleErr
	}
	return role.AtLeast(required), nil
}

// ServiceConfig describes the dependencies for the membership service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Bus      *events.Bus
	Logger   *zap.Logger
}

// Service manages workspace users and collaborations. Membership changes
// come from administrative paths rather than client mutations, but the
// rows sync through the same revision ledger as everything else.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	bus    *events.Bus
	logger *zap.Logger
}

// NewService constructs the membership service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
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
		db:     cfg.Database,
		clock:  clock,
		bus:    cfg.Bus,
		logger: logger,
	}, nil
}

// UpsertUser creates or refreshes a workspace user profile and assigns a
// fresh revision.
func (s *Service) UpsertUser(ctx context.Context, workspaceID model.WorkspaceID, userID model.UserID, email, displayName, avatarURL string) (User, error) {
	var stored User
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock().UTC().Unix()
		revision, revErr := ledger.Next(tx, TableUsers)
		if revErr != nil {
			return revErr
		}

		var existing User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND workspace_id = ?", userID.String(), workspaceID.String()).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			stored = User{
				UserID:           userID.String(),
				WorkspaceID:      workspaceID.String(),
				Email:            email,
				DisplayName:      displayName,
				AvatarURL:        avatarURL,
				CreatedAtSeconds: now,
				UpdatedAtSeconds: now,
				Revision:         revision,
			}
			return tx.Create(&stored).Error
		}
		if err != nil {
			return err
		}

		existing.Email = email
		existing.DisplayName = displayName
		existing.AvatarURL = avatarURL
		existing.UpdatedAtSeconds = now
		existing.IsDeleted = false
		existing.Revision = revision
		stored = existing
		return tx.Save(&existing).Error
	})
	if txErr != nil {
		s.logError(opUpsertUser, "tx_failed", txErr, zap.String("user_id", userID.String()))
		return User{}, txErr
	}

	s.publish(events.Event{
		Type:        events.EventUserUpdated,
		WorkspaceID: workspaceID.String(),
		UserID:      userID.String(),
		Revision:    stored.Revision,
	})
	return stored, nil
}

// UpsertCollaboration grants or changes a collaborator's role and assigns a
// fresh revision.
func (s *Service) UpsertCollaboration(ctx context.Context, workspaceID model.WorkspaceID, collaboratorID model.UserID, role Role) (Collaboration, error) {
	if _, err := ParseRole(role.String()); err != nil {
		return Collaboration{}, err
	}

	var stored Collaboration
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock().UTC().Unix()
		revision, revErr := ledger.Next(tx, TableCollaborations)
		if revErr != nil {
			return revErr
		}

		var existing Collaboration
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("workspace_id = ? AND collaborator_id = ?", workspaceID.String(), collaboratorID.String()).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			stored = Collaboration{
				WorkspaceID:      workspaceID.String(),
				CollaboratorID:   collaboratorID.String(),
				Role:             role.String(),
				CreatedAtSeconds: now,
				UpdatedAtSeconds: now,
				Revision:         revision,
			}
			return tx.Create(&stored).Error
		}
		if err != nil {
			return err
		}

		existing.Role = role.String()
		existing.UpdatedAtSeconds = now
		existing.IsDeleted = false
		existing.Revision = revision
		stored = existing
		return tx.Save(&existing).Error
	})
	if txErr != nil {
		s.logError(opUpsertCollaboration, "tx_failed", txErr,
			zap.String("workspace_id", workspaceID.String()),
			zap.String("collaborator_id", collaboratorID.String()))
		return Collaboration{}, txErr
	}

	s.publish(events.Event{
		Type:        events.EventCollaborationUpdated,
		WorkspaceID: workspaceID.String(),
		UserID:      collaboratorID.String(),
		Revision:    stored.Revision,
	})
	return stored, nil
}

// RevokeCollaboration tombstones a membership so peers drop access on sync.
func (s *Service) RevokeCollaboration(ctx context.Context, workspaceID model.WorkspaceID, collaboratorID model.UserID) error {
	var revision int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Collaboration
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("workspace_id = ? AND collaborator_id = ?", workspaceID.String(), collaboratorID.String()).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: collaboration", errs.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if existing.IsDeleted {
			return nil
		}

		nextRevision, revErr := ledger.Next(tx, TableCollaborations)
		if revErr != nil {
			return revErr
		}
		existing.IsDeleted = true
		existing.UpdatedAtSeconds = s.clock().UTC().Unix()
		existing.Revision = nextRevision
		revision = nextRevision
		return tx.Save(&existing).Error
	})
	if txErr != nil {
		s.logError(opRevokeCollaboration, "tx_failed", txErr,
			zap.String("workspace_id", workspaceID.String()),
			zap.String("collaborator_id", collaboratorID.String()))
		return txErr
	}

	if revision > 0 {
		s.publish(events.Event{
			Type:        events.EventCollaborationUpdated,
			WorkspaceID: workspaceID.String(),
			UserID:      collaboratorID.String(),
			Revision:    revision,
		})
	}
	return nil
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
	s.logger.Error("collab service error", attrs...)
}
