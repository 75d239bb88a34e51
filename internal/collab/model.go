package collab

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// TableUsers is the ledger key and storage table for workspace user rows.
	TableUsers = "workspace_users"
	// TableCollaborations is the ledger key and storage table for collaboration rows.
	TableCollaborations = "collaborations"
)

// ErrUnknownRole indicates a role outside the closed set.
var ErrUnknownRole = errors.New("collab: unknown role")

// Role names a collaborator's capability level inside a workspace.
type Role string

const (
	// RoleOwner can do everything, including deleting the workspace.
	RoleOwner Role = "owner"
	// RoleAdmin manages membership and all content.
	RoleAdmin Role = "admin"
	// RoleEditor creates and modifies content.
	RoleEditor Role = "editor"
	// RoleCommenter reacts and comments but cannot edit content.
	RoleCommenter Role = "commenter"
	// RoleViewer reads content and records interactions.
	RoleViewer Role = "viewer"
)

var roleRanks = map[Role]int{
	RoleViewer:    1,
	RoleCommenter: 2,
	RoleEditor:    3,
	RoleAdmin:     4,
	RoleOwner:     5,
}

// ParseRole validates raw input against the closed role set.
func ParseRole(rawInput string) (Role, error) {
	candidate := Role(strings.ToLower(strings.TrimSpace(rawInput)))
	if _, ok := roleRanks[candidate]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, rawInput)
	}
	return candidate, nil
}

// AtLeast reports whether the role grants the capabilities of required.
func (r Role) AtLeast(required Role) bool {
	return roleRanks[r] >= roleRanks[required]
}

// String returns the wire name of the role.
func (r Role) String() string {
	return string(r)
}

// User models a workspace-visible user profile participating in sync.
type User struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	WorkspaceID      string `gorm:"column:workspace_id;primaryKey;size:190;not null;index:idx_users_workspace_revision,priority:1"`
	Email            string `gorm:"column:email;size:320;not null;default:''"`
	DisplayName      string `gorm:"column:display_name;size:320;not null;default:''"`
	AvatarURL        string `gorm:"column:avatar_url;size:512;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	Revision         int64  `gorm:"column:revision;not null;index:idx_users_workspace_revision,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return TableUsers
}

// Collaboration grants one user a role inside one workspace. Revoked
// memberships tombstone rather than delete so peers drop access on sync.
type Collaboration struct {
	WorkspaceID      string `gorm:"column:workspace_id;primaryKey;size:190;not null;index:idx_collabs_workspace_revision,priority:1"`
	CollaboratorID   string `gorm:"column:collaborator_id;primaryKey;size:190;not null"`
	Role             string `gorm:"column:role;size:32;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	Revision         int64  `gorm:"column:revision;not null;index:idx_collabs_workspace_revision,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Collaboration) TableName() string {
	return TableCollaborations
}
