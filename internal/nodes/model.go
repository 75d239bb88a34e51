package nodes

// Table names double as ledger keys: every revision column below is
// assigned through the revision ledger under the matching table name.
const (
	// TableNodes is the ledger key and storage table for node rows.
	TableNodes = "nodes"
	// TableReactions is the ledger key and storage table for reaction rows.
	TableReactions = "node_reactions"
	// TableInteractions is the ledger key and storage table for interaction rows.
	TableInteractions = "node_interactions"
)

// Node models a synced workspace object (document, chat, database, file,
// folder). Deleted nodes keep their row as a tombstone with a fresh
// revision so offline peers observe the deletion.
type Node struct {
	NodeID           string `gorm:"column:node_id;primaryKey;size:190;not null"`
	WorkspaceID      string `gorm:"column:workspace_id;size:190;not null;index:idx_nodes_workspace_revision,priority:1"`
	ParentID         string `gorm:"column:parent_id;size:190;not null;default:''"`
	Kind             string `gorm:"column:kind;size:64;not null"`
	AttributesJSON   string `gorm:"column:attributes_json;type:text;not null;default:''"`
	CreatedBy        string `gorm:"column:created_by;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	Revision         int64  `gorm:"column:revision;not null;index:idx_nodes_workspace_revision,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Node) TableName() string {
	return TableNodes
}

// NodeReaction models one collaborator's reaction on a node. Removal is a
// tombstone so the deletion syncs past lagging cursors.
type NodeReaction struct {
	WorkspaceID      string `gorm:"column:workspace_id;primaryKey;size:190;not null;index:idx_reactions_workspace_revision,priority:1"`
	NodeID           string `gorm:"column:node_id;primaryKey;size:190;not null"`
	CollaboratorID   string `gorm:"column:collaborator_id;primaryKey;size:190;not null"`
	Reaction         string `gorm:"column:reaction;primaryKey;size:64;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	Revision         int64  `gorm:"column:revision;not null;index:idx_reactions_workspace_revision,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (NodeReaction) TableName() string {
	return TableReactions
}

// NodeInteraction folds a collaborator's seen/opened markers for one node
// into a single row. Timestamps only ever advance; stale markers from
// slower devices are ignored without a revision bump.
type NodeInteraction struct {
	WorkspaceID          string `gorm:"column:workspace_id;primaryKey;size:190;not null;index:idx_interactions_workspace_revision,priority:1"`
	NodeID               string `gorm:"column:node_id;primaryKey;size:190;not null"`
	CollaboratorID       string `gorm:"column:collaborator_id;primaryKey;size:190;not null"`
	LastSeenAtSeconds    int64  `gorm:"column:last_seen_at_s;not null;default:0"`
	LastOpenedAtSeconds  int64  `gorm:"column:last_opened_at_s;not null;default:0"`
	FirstObservedSeconds int64  `gorm:"column:first_observed_s;not null;default:0"`
	Revision             int64  `gorm:"column:revision;not null;index:idx_interactions_workspace_revision,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (NodeInteraction) TableName() string {
	return TableInteractions
}
