// Package roles gates shard mutations on the caller's role within the
// owning group. Role definitions live in an external group service; this
// package fetches the group's role set and the caller's membership
// concurrently, rejects identity spoofing, and evaluates the requested
// action against the union of custom and default roles.
package roles

import "fmt"

// Action is a gated mutation class.
type Action string

const (
	ActionWrite  Action = "write"
	ActionRead   Action = "read"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Validate checks if the Action is a valid enum value.
func (a Action) Validate() error {
	switch a {
	case ActionWrite, ActionRead, ActionEdit, ActionDelete:
		return nil
	default:
		return fmt.Errorf("unknown action: %q", a)
	}
}

// Permissions is the per-action grant set of one role.
type Permissions struct {
	Write  bool `json:"write"`
	Read   bool `json:"read"`
	Edit   bool `json:"edit"`
	Delete bool `json:"delete"`
}

// Allows reports whether the permission set grants the action.
func (p Permissions) Allows(action Action) bool {
	switch action {
	case ActionWrite:
		return p.Write
	case ActionRead:
		return p.Read
	case ActionEdit:
		return p.Edit
	case ActionDelete:
		return p.Delete
	default:
		return false
	}
}

// Role is a named permission set within a group.
type Role struct {
	Name        string      `json:"name"`
	Permissions Permissions `json:"permissions"`
}

// DefaultRoles returns the built-in roles every group carries in addition
// to its custom ones. Evaluation unions both sets, so a custom role
// reusing a default name can add permissions but never revoke the
// default grant.
func DefaultRoles() []Role {
	return []Role{
		{Name: "owner", Permissions: Permissions{Write: true, Read: true, Edit: true, Delete: true}},
		{Name: "admin", Permissions: Permissions{Write: true, Read: true, Edit: true, Delete: true}},
		{Name: "moderator", Permissions: Permissions{Write: true, Read: true, Edit: true}},
		{Name: "member", Permissions: Permissions{Read: true}},
	}
}

// HasPermission reports whether any of the member's role names grants the
// action under the group's role set. Roles sharing a name all count;
// unknown role names are ignored.
func HasPermission(memberRoles []string, groupRoles []Role, action Action) bool {
	for _, name := range memberRoles {
		for _, role := range groupRoles {
			if role.Name == name && role.Permissions.Allows(action) {
				return true
			}
		}
	}
	return false
}
