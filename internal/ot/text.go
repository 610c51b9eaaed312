package ot

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrLengthMismatch is returned when an operation does not span the content
// or the other operation it is combined with.
var ErrLengthMismatch = errors.New("operation length mismatch")

// Component is one step of a TextOperation. Exactly one field is set.
type Component struct {
	Retain int    // Skip characters
	Insert string // Insert text at the cursor
	Delete int    // Remove characters at the cursor
}

// IsRetain returns true if the component skips characters.
func (c Component) IsRetain() bool {
	return c.Retain > 0
}

// IsInsert returns true if the component inserts text.
func (c Component) IsInsert() bool {
	return c.Insert != ""
}

// IsDelete returns true if the component removes characters.
func (c Component) IsDelete() bool {
	return c.Delete > 0
}

// length is the number of characters the component covers.
func (c Component) length() int {
	switch {
	case c.IsRetain():
		return c.Retain
	case c.IsDelete():
		return c.Delete
	default:
		return utf8.RuneCountInString(c.Insert)
	}
}

// TextOperation is an edit spanning a whole document: a sequence of retain,
// insert and delete components. BaseLen is the length of the content it
// applies to, TargetLen the length of the result.
//
// Operations are built with Retain, Insert and Delete and must not be
// modified once handed to other code.
type TextOperation struct {
	ops       []Component
	baseLen   int
	targetLen int
}

// NewTextOperation creates an empty operation.
func NewTextOperation() *TextOperation {
	return &TextOperation{}
}

// Components returns a copy of the operation's components.
func (o *TextOperation) Components() []Component {
	result := make([]Component, len(o.ops))
	copy(result, o.ops)

	return result
}

// BaseLen returns the length of the content the operation applies to.
func (o *TextOperation) BaseLen() int {
	return o.baseLen
}

// TargetLen returns the length of the content after applying the operation.
func (o *TextOperation) TargetLen() int {
	return o.targetLen
}

// Retain skips n characters.
func (o *TextOperation) Retain(n int) *TextOperation {
	if n <= 0 {
		return o
	}

	o.baseLen += n
	o.targetLen += n

	if last := len(o.ops) - 1; last >= 0 && o.ops[last].IsRetain() {
		o.ops[last].Retain += n
	} else {
		o.ops = append(o.ops, Component{Retain: n})
	}

	return o
}

// Insert inserts s at the cursor. An insert directly after a delete is
// moved in front of it so equal edits have one representation.
func (o *TextOperation) Insert(s string) *TextOperation {
	if s == "" {
		return o
	}

	o.targetLen += utf8.RuneCountInString(s)
	n := len(o.ops)

	switch {
	case n > 0 && o.ops[n-1].IsInsert():
		o.ops[n-1].Insert += s
	case n > 0 && o.ops[n-1].IsDelete():
		if n > 1 && o.ops[n-2].IsInsert() {
			o.ops[n-2].Insert += s
		} else {
			o.ops = append(o.ops, o.ops[n-1])
			o.ops[n-1] = Component{Insert: s}
		}
	default:
		o.ops = append(o.ops, Component{Insert: s})
	}

	return o
}

// Delete removes n characters at the cursor.
func (o *TextOperation) Delete(n int) *TextOperation {
	if n <= 0 {
		return o
	}

	o.baseLen += n

	if last := len(o.ops) - 1; last >= 0 && o.ops[last].IsDelete() {
		o.ops[last].Delete += n
	} else {
		o.ops = append(o.ops, Component{Delete: n})
	}

	return o
}

// IsNoop returns true if the operation leaves any content unchanged.
func (o *TextOperation) IsNoop() bool {
	return len(o.ops) == 0 || (len(o.ops) == 1 && o.ops[0].IsRetain())
}

// Equal reports whether both operations have the same components.
func (o *TextOperation) Equal(other *TextOperation) bool {
	if o.baseLen != other.baseLen || o.targetLen != other.targetLen || len(o.ops) != len(other.ops) {
		return false
	}

	for i := range o.ops {
		if o.ops[i] != other.ops[i] {
			return false
		}
	}

	return true
}

// String renders the operation as e.g. "retain 2, insert \"ab\", delete 1".
func (o *TextOperation) String() string {
	parts := make([]string, 0, len(o.ops))

	for _, c := range o.ops {
		switch {
		case c.IsRetain():
			parts = append(parts, "retain "+strconv.Itoa(c.Retain))
		case c.IsInsert():
			parts = append(parts, "insert "+strconv.Quote(c.Insert))
		case c.IsDelete():
			parts = append(parts, "delete "+strconv.Itoa(c.Delete))
		}
	}

	return strings.Join(parts, ", ")
}

// Apply returns content with the operation applied.
func (o *TextOperation) Apply(content string) (string, error) {
	runes := []rune(content)
	if len(runes) != o.baseLen {
		return "", ErrLengthMismatch
	}

	result := make([]rune, 0, o.targetLen)
	pos := 0

	for _, c := range o.ops {
		switch {
		case c.IsRetain():
			result = append(result, runes[pos:pos+c.Retain]...)
			pos += c.Retain
		case c.IsInsert():
			result = append(result, []rune(c.Insert)...)
		case c.IsDelete():
			pos += c.Delete
		}
	}

	return string(result), nil
}

// Invert returns the operation that undoes o, given the content o was
// applied to.
func (o *TextOperation) Invert(content string) *TextOperation {
	runes := []rune(content)
	inverse := NewTextOperation()
	pos := 0

	for _, c := range o.ops {
		switch {
		case c.IsRetain():
			inverse.Retain(c.Retain)
			pos += c.Retain
		case c.IsInsert():
			inverse.Delete(c.length())
		case c.IsDelete():
			end := min(pos+c.Delete, len(runes))
			inverse.Insert(string(runes[pos:end]))
			pos += c.Delete
		}
	}

	return inverse
}

// Operations splits the operation into character operations that, applied in
// order, have the same effect. Each one is expressed against the document as
// left by the previous ones.
func (o *TextOperation) Operations(userID string) []Operation {
	var result []Operation

	pos := 0

	for _, c := range o.ops {
		switch {
		case c.IsRetain():
			pos += c.Retain
		case c.IsInsert():
			for _, r := range c.Insert {
				result = append(result, NewInsert(string(r), pos, userID))
				pos++
			}
		case c.IsDelete():
			for range c.Delete {
				result = append(result, NewDelete(pos, userID))
			}
		}
	}

	return result
}
