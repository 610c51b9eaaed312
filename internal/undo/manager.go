// Package undo keeps the undo and redo histories of one editing session
// consistent while concurrent edits from other sessions are applied to the
// shared document.
//
// Every entry in either history is the inverse of an edit, expressed against
// the current document revision. Remote operations must be passed to
// Transform in the order they are applied to the document, otherwise the
// entries drift away from the revision they were computed for.
package undo

import (
	"errors"
	"fmt"
	"slices"
)

// DefaultMaxItems bounds each history when no explicit size is given.
const DefaultMaxItems = 50

// Operation is the capability the manager needs from an edit type.
type Operation[T any] interface {
	// Compose returns one operation equivalent to the receiver followed by other.
	Compose(other T) (T, error)
	// Transform rebases the receiver and other against each other and
	// returns (receiver', other').
	Transform(other T) (T, T, error)
	// IsNoop reports whether the operation has no observable effect.
	IsNoop() bool
}

// ApplyFunc applies op to the live document and returns its inverse as of
// the resulting revision.
type ApplyFunc[T any] func(op T) (T, error)

// PartialError is returned by an ApplyFunc that reached the document with
// only part of op. Inverse undoes the applied part and Remaining finishes
// op, both against the document as left behind.
type PartialError[T any] struct {
	Inverse   T
	Remaining T
	Err       error
}

func (e *PartialError[T]) Error() string {
	return "partially applied: " + e.Err.Error()
}

func (e *PartialError[T]) Unwrap() error {
	return e.Err
}

// Manager holds the undo and redo histories of a single editing session.
// It is not safe for concurrent use; the owner serializes every call.
type Manager[T Operation[T]] struct {
	maxItems    int
	state       State
	dontCompose bool
	undoStack   []T // oldest first
	redoStack   []T // oldest first
}

// NewManager creates a manager whose histories hold at most maxItems
// entries each. A non-positive maxItems selects DefaultMaxItems.
func NewManager[T Operation[T]](maxItems int) *Manager[T] {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	return &Manager[T]{
		maxItems:  maxItems,
		state:     Normal,
		undoStack: make([]T, 0, maxItems),
		redoStack: make([]T, 0, maxItems),
	}
}

// Add records op, which must be the inverse of the edit just applied.
//
// While undoing or redoing, op goes straight onto the opposite history.
// Otherwise it becomes the new undo top, composed with the current top when
// shouldCompose is set and the previous add did not come from an undo or
// redo. A new local edit always clears the redo history.
func (m *Manager[T]) Add(op T, shouldCompose bool) error {
	switch m.state {
	case Undoing:
		m.redoStack = m.push(m.redoStack, op)
		m.dontCompose = true
	case Redoing:
		m.undoStack = m.push(m.undoStack, op)
		m.dontCompose = true
	case Normal:
		if !m.dontCompose && shouldCompose && len(m.undoStack) > 0 {
			last := len(m.undoStack) - 1

			combined, err := op.Compose(m.undoStack[last])
			if err != nil {
				return fmt.Errorf("compose with undo top: %w", err)
			}

			m.undoStack[last] = combined
		} else {
			m.undoStack = m.push(m.undoStack, op)
		}

		m.dontCompose = false

		clear(m.redoStack)
		m.redoStack = m.redoStack[:0]
	}

	return nil
}

// push appends op and evicts the oldest entry when the history overflows.
func (m *Manager[T]) push(stack []T, op T) []T {
	stack = append(stack, op)

	if len(stack) > m.maxItems {
		stack = slices.Delete(stack, 0, 1)
	}

	return stack
}

// Transform rebases both histories against an operation from another
// session. Entries that become no-ops are dropped. The histories are only
// replaced once both have been rebased successfully.
func (m *Manager[T]) Transform(op T) error {
	undoStack, err := transformStack(m.undoStack, op)
	if err != nil {
		return fmt.Errorf("transform undo history: %w", err)
	}

	redoStack, err := transformStack(m.redoStack, op)
	if err != nil {
		return fmt.Errorf("transform redo history: %w", err)
	}

	m.undoStack = undoStack
	m.redoStack = redoStack

	return nil
}

// transformStack walks stack from newest to oldest, consuming op as it goes,
// and returns a freshly allocated history in oldest-first order.
func transformStack[T Operation[T]](stack []T, op T) ([]T, error) {
	result := make([]T, 0, len(stack))

	for i := len(stack) - 1; i >= 0; i-- {
		stackedPrime, opPrime, err := stack[i].Transform(op)
		if err != nil {
			return nil, err
		}

		if !stackedPrime.IsNoop() {
			result = append(result, stackedPrime)
		}

		op = opPrime
	}

	slices.Reverse(result)

	return result, nil
}

// PerformUndo pops the newest undo entry and hands it to fn, which applies it
// and returns the inverse; the inverse is filed on the redo history.
// It does nothing when there is nothing to undo.
func (m *Manager[T]) PerformUndo(fn ApplyFunc[T]) error {
	if len(m.undoStack) == 0 {
		return nil
	}

	m.state = Undoing
	defer func() { m.state = Normal }()

	last := len(m.undoStack) - 1
	op := m.undoStack[last]
	m.undoStack = slices.Delete(m.undoStack, last, last+1)

	inverse, err := fn(op)
	if err != nil {
		m.undoStack = m.settle(m.undoStack, op, err)

		return fmt.Errorf("apply undo: %w", err)
	}

	return m.Add(inverse, false)
}

// PerformRedo is the mirror image of PerformUndo.
func (m *Manager[T]) PerformRedo(fn ApplyFunc[T]) error {
	if len(m.redoStack) == 0 {
		return nil
	}

	m.state = Redoing
	defer func() { m.state = Normal }()

	last := len(m.redoStack) - 1
	op := m.redoStack[last]
	m.redoStack = slices.Delete(m.redoStack, last, last+1)

	inverse, err := fn(op)
	if err != nil {
		m.redoStack = m.settle(m.redoStack, op, err)

		return fmt.Errorf("apply redo: %w", err)
	}

	return m.Add(inverse, false)
}

// settle puts back what a failed fn left of op. After a partial apply the
// inverse of the applied part is filed like a finished step and only the
// remainder returns to stack.
func (m *Manager[T]) settle(stack []T, op T, err error) []T {
	var partial *PartialError[T]
	if !errors.As(err, &partial) {
		return append(stack, op)
	}

	if !partial.Inverse.IsNoop() {
		// Add cannot fail while undoing or redoing.
		_ = m.Add(partial.Inverse, false)
	}

	if partial.Remaining.IsNoop() {
		return stack
	}

	return append(stack, partial.Remaining)
}

// CanUndo reports whether the undo history is non-empty.
func (m *Manager[T]) CanUndo() bool {
	return len(m.undoStack) != 0
}

// CanRedo reports whether the redo history is non-empty.
func (m *Manager[T]) CanRedo() bool {
	return len(m.redoStack) != 0
}

// IsUndoing reports whether an undo is in progress.
func (m *Manager[T]) IsUndoing() bool {
	return m.state == Undoing
}

// IsRedoing reports whether a redo is in progress.
func (m *Manager[T]) IsRedoing() bool {
	return m.state == Redoing
}

// State returns the current mode.
func (m *Manager[T]) State() State {
	return m.state
}

// MaxItems returns the per-history bound.
func (m *Manager[T]) MaxItems() int {
	return m.maxItems
}

// PeekUndo returns the newest undo entry without removing it.
func (m *Manager[T]) PeekUndo() (T, bool) {
	if len(m.undoStack) == 0 {
		var zero T

		return zero, false
	}

	return m.undoStack[len(m.undoStack)-1], true
}

// UndoStack returns a copy of the undo history, oldest first.
func (m *Manager[T]) UndoStack() []T {
	return slices.Clone(m.undoStack)
}

// RedoStack returns a copy of the redo history, oldest first.
func (m *Manager[T]) RedoStack() []T {
	return slices.Clone(m.redoStack)
}
