package ot

import (
	"errors"
	"slices"
	"sync"
)

// Document errors.
var (
	ErrInvalidPosition = errors.New("invalid position")
	ErrUnknownOpType   = errors.New("unknown operation type")
)

// Edit describes an applied operation in whole-document form.
type Edit struct {
	Forward *TextOperation // The operation as applied
	Inverse *TextOperation // Reverts Forward on the resulting content
}

// Document represents the current state of a collaborative document.
// It is safe for concurrent use.
type Document struct {
	mu      sync.RWMutex
	content []rune
}

// NewDocument creates a new document with the given initial content.
func NewDocument(initial string) *Document {
	return &Document{
		content: []rune(initial),
	}
}

// Apply executes an operation on the document.
// No-op operations (position < 0) are silently ignored.
func (d *Document) Apply(op Operation) error {
	if op.IsNoop() {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.apply(op)
}

// Edit applies op and returns it together with its inverse as text
// operations over the whole document. A no-op yields a retain of the
// current content in both directions.
func (d *Document) Edit(op Operation) (Edit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	before := string(d.content)
	forward := op.Text(len(d.content))

	if !op.IsNoop() {
		if err := d.apply(op); err != nil {
			return Edit{}, err
		}
	}

	return Edit{
		Forward: forward,
		Inverse: forward.Invert(before),
	}, nil
}

func (d *Document) apply(op Operation) error {
	switch op.Type {
	case Insert:
		return d.applyInsert(op)
	case Delete:
		return d.applyDelete(op)
	default:
		return ErrUnknownOpType
	}
}

// Validate reports whether op could be applied to the current content
// without applying it.
func (d *Document) Validate(op Operation) error {
	if op.IsNoop() {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.check(op)
}

func (d *Document) check(op Operation) error {
	switch op.Type {
	case Insert:
		if op.Position < 0 || op.Position > len(d.content) {
			return ErrInvalidPosition
		}
	case Delete:
		if op.Position < 0 || op.Position >= len(d.content) {
			return ErrInvalidPosition
		}
	default:
		return ErrUnknownOpType
	}

	return nil
}

// applyInsert inserts op.Char at the specified position.
func (d *Document) applyInsert(op Operation) error {
	if err := d.check(op); err != nil {
		return err
	}

	d.content = slices.Insert(d.content, op.Position, []rune(op.Char)...)

	return nil
}

// applyDelete removes the character at the specified position.
func (d *Document) applyDelete(op Operation) error {
	if err := d.check(op); err != nil {
		return err
	}

	d.content = slices.Delete(d.content, op.Position, op.Position+1)

	return nil
}

// Content returns the current document content as a string.
func (d *Document) Content() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return string(d.content)
}

// Len returns the number of characters in the document.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.content)
}
