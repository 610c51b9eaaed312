package acl

import (
	"errors"
	"fmt"
)

// ErrUnknownRole is returned when a role name cannot be parsed.
var ErrUnknownRole = errors.New("unknown role")

// Role represents a user's access level for a document. Each role includes
// the rights of the roles below it.
type Role int

const (
	// Viewer can only read document content.
	Viewer Role = iota
	// Editor can also edit, undo and redo.
	Editor
	// Owner can also share and delete the document.
	Owner
)

var roleNames = map[Role]string{
	Viewer: "viewer",
	Editor: "editor",
	Owner:  "owner",
}

// String returns the string representation of the role.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}

	return "unknown"
}

// ParseRole parses "viewer", "editor" or "owner".
func ParseRole(name string) (Role, error) {
	for role, roleName := range roleNames {
		if roleName == name {
			return role, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, name)
}

// MarshalText encodes the role by name.
func (r Role) MarshalText() ([]byte, error) {
	if _, ok := roleNames[r]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, int(r))
	}

	return []byte(r.String()), nil
}

// UnmarshalText decodes a role name.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}

	*r = role

	return nil
}

// Allows reports whether the role grants the action.
func (r Role) Allows(action Action) bool {
	required, ok := requiredRole[action]

	return ok && r >= required
}

// Permission represents a user's access to a specific document.
type Permission struct {
	DocID  string `json:"docId"`
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}
