package acl

import (
	"errors"
	"fmt"
)

// Action represents an operation a user wants to perform.
type Action int

const (
	ActionRead Action = iota
	ActionWrite
	ActionShare
	ActionDelete
)

// requiredRole is the lowest role allowed to perform each action.
var requiredRole = map[Action]Role{
	ActionRead:   Viewer,
	ActionWrite:  Editor,
	ActionShare:  Owner,
	ActionDelete: Owner,
}

// String returns the string representation of the action.
func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionWrite:
		return "write"
	case ActionShare:
		return "share"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Checker validates user permissions for document operations.
type Checker struct {
	store Store
}

// NewChecker creates a new permission checker.
func NewChecker(store Store) *Checker {
	return &Checker{store: store}
}

// CanPerform checks if a user can perform an action on a document.
// A user without any role on the document can do nothing.
func (c *Checker) CanPerform(docID, userID string, action Action) (bool, error) {
	role, err := c.store.GetRole(docID, userID)

	switch {
	case errors.Is(err, ErrPermissionNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("look up role of %s on %s: %w", userID, docID, err)
	}

	return role.Allows(action), nil
}

// RequirePermission returns an error wrapping ErrAccessDenied when the user
// may not perform the action.
func (c *Checker) RequirePermission(docID, userID string, action Action) error {
	allowed, err := c.CanPerform(docID, userID, action)
	if err != nil {
		return err
	}

	if !allowed {
		return fmt.Errorf("%w: %s may not %s %s", ErrAccessDenied, userID, action, docID)
	}

	return nil
}
