package mutations

import "github.com/meridianworks/meridian/backend/internal/model"

// AppliedMutation is the durable idempotence index: one row per mutation id
// ever applied, inserted in the same transaction as the mutation's effects.
// It doubles as an audit trail of who applied what and when.
type AppliedMutation struct {
	MutationID       string `gorm:"column:mutation_id;primaryKey;size:190;not null"`
	WorkspaceID      string `gorm:"column:workspace_id;size:190;not null;index"`
	CreatedBy        string `gorm:"column:created_by;size:190;not null"`
	MutationType     string `gorm:"column:mutation_type;size:64;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (AppliedMutation) TableName() string {
	return "applied_mutations"
}

// Result is the per-item outcome reported back to the client. A batch never
// fails atomically; every mutation gets exactly one Result.
type Result struct {
	ID     model.MutationID
	Status model.MutationStatus
}
