package ot

import "strconv"

// OpType represents the type of operation.
type OpType int

const (
	Insert OpType = iota
	Delete
)

// Operation represents a single edit operation in the document.
type Operation struct {
	Type     OpType
	Position int    // Character position in the document
	Char     string // Character to insert (empty for delete)
	UserID   string // Used for tie-breaking concurrent inserts at same position
}

// NewInsert creates an insert operation.
func NewInsert(char string, position int, userID string) Operation {
	return Operation{
		Type:     Insert,
		Position: position,
		Char:     char,
		UserID:   userID,
	}
}

// NewDelete creates a delete operation.
func NewDelete(position int, userID string) Operation {
	return Operation{
		Type:     Delete,
		Position: position,
		UserID:   userID,
	}
}

// IsInsert returns true if this is an insert operation.
func (o Operation) IsInsert() bool {
	return o.Type == Insert
}

// IsDelete returns true if this is a delete operation.
func (o Operation) IsDelete() bool {
	return o.Type == Delete
}

// IsNoop returns true if the operation has become a no-op (position -1).
func (o Operation) IsNoop() bool {
	return o.Position < 0
}

// String renders the operation as e.g. insert("a")@3 or delete@3.
func (o Operation) String() string {
	pos := strconv.Itoa(o.Position)

	switch {
	case o.IsNoop():
		return "noop"
	case o.IsInsert():
		return "insert(" + strconv.Quote(o.Char) + ")@" + pos
	default:
		return "delete@" + pos
	}
}

// Text converts a character operation into a TextOperation over a document
// of docLen characters. No-op operations become a plain retain.
func (o Operation) Text(docLen int) *TextOperation {
	text := NewTextOperation()

	if o.IsNoop() {
		return text.Retain(docLen)
	}

	switch o.Type {
	case Insert:
		text.Retain(o.Position).Insert(o.Char).Retain(docLen - o.Position)
	case Delete:
		text.Retain(o.Position).Delete(1).Retain(docLen - o.Position - 1)
	}

	return text
}
