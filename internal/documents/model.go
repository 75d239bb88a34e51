package documents

// TableDocumentUpdates is the ledger key and storage table for CRDT deltas.
const TableDocumentUpdates = "document_updates"

// DocumentUpdate stores one author's opaque CRDT delta for a document.
// The log is append-only; compaction folds consumed deltas into the newest
// row of the folded range and records the folded ids in MergedUpdatesJSON.
type DocumentUpdate struct {
	UpdateID          string `gorm:"column:update_id;primaryKey;size:190;not null"`
	WorkspaceID       string `gorm:"column:workspace_id;size:190;not null;index:idx_doc_updates_workspace_revision,priority:1;uniqueIndex:idx_doc_updates_dedupe,priority:1"`
	DocumentID        string `gorm:"column:document_id;size:190;not null;index;uniqueIndex:idx_doc_updates_dedupe,priority:2"`
	RootID            string `gorm:"column:root_id;size:190;not null;default:''"`
	DeltaB64          string `gorm:"column:delta_b64;type:text;not null"`
	DeltaHash         string `gorm:"column:delta_hash;size:64;not null;uniqueIndex:idx_doc_updates_dedupe,priority:3"`
	CreatedBy         string `gorm:"column:created_by;size:190;not null"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null"`
	MergedUpdatesJSON string `gorm:"column:merged_updates_json;type:text;not null;default:''"`
	Revision          int64  `gorm:"column:revision;not null;index:idx_doc_updates_workspace_revision,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentUpdate) TableName() string {
	return TableDocumentUpdates
}

// Merger is the capability interface over the external CRDT library.
// Implementations must be commutative and associative under Merge so that
// folding any subset of deltas, in any order, yields the same materialized
// state.
type Merger interface {
	// Merge folds two deltas into one equivalent delta.
	Merge(first, second []byte) ([]byte, error)
	// Apply folds a delta into a materialized base state.
	Apply(baseState, update []byte) ([]byte, error)
}
