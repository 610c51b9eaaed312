package ot

// componentIter walks the components of an operation, letting callers
// consume a component partially.
type componentIter struct {
	ops []Component
	i   int
}

func newComponentIter(ops []Component) *componentIter {
	return &componentIter{ops: ops}
}

// next returns the following component, or false when exhausted.
func (it *componentIter) next() (Component, bool) {
	if it.i >= len(it.ops) {
		return Component{}, false
	}

	c := it.ops[it.i]
	it.i++

	return c, true
}

// consume takes n characters off c and returns what is left of it, moving to
// the next component when c is used up.
func (it *componentIter) consume(c Component, n int) (Component, bool) {
	if n >= c.length() {
		return it.next()
	}

	switch {
	case c.IsRetain():
		return Component{Retain: c.Retain - n}, true
	case c.IsDelete():
		return Component{Delete: c.Delete - n}, true
	default:
		return Component{Insert: string([]rune(c.Insert)[n:])}, true
	}
}

// Compose merges o and the operation applied right after it into a single
// operation: apply(apply(s, o), other) == apply(s, o.Compose(other)).
func (o *TextOperation) Compose(other *TextOperation) (*TextOperation, error) {
	if o.targetLen != other.baseLen {
		return nil, ErrLengthMismatch
	}

	result := NewTextOperation()
	it1 := newComponentIter(o.ops)
	it2 := newComponentIter(other.ops)
	op1, ok1 := it1.next()
	op2, ok2 := it2.next()

	for ok1 || ok2 {
		// Deletes of the first operation and inserts of the second never
		// interact with the other side.
		if ok1 && op1.IsDelete() {
			result.Delete(op1.Delete)
			op1, ok1 = it1.next()

			continue
		}

		if ok2 && op2.IsInsert() {
			result.Insert(op2.Insert)
			op2, ok2 = it2.next()

			continue
		}

		if !ok1 || !ok2 {
			return nil, ErrLengthMismatch
		}

		n := min(op1.length(), op2.length())

		switch {
		case op1.IsRetain() && op2.IsRetain():
			result.Retain(n)
		case op1.IsInsert() && op2.IsDelete():
			// Text inserted by the first operation is deleted by the second.
		case op1.IsInsert() && op2.IsRetain():
			result.Insert(string([]rune(op1.Insert)[:n]))
		case op1.IsRetain() && op2.IsDelete():
			result.Delete(n)
		default:
			return nil, ErrLengthMismatch
		}

		op1, ok1 = it1.consume(op1, n)
		op2, ok2 = it2.consume(op2, n)
	}

	return result, nil
}

// Transform rebases two concurrent operations against each other and returns
// (o', other') such that o.Compose(other') equals other.Compose(o').
// When both insert at the same place, o's text goes first.
func (o *TextOperation) Transform(other *TextOperation) (*TextOperation, *TextOperation, error) {
	if o.baseLen != other.baseLen {
		return nil, nil, ErrLengthMismatch
	}

	oPrime := NewTextOperation()
	otherPrime := NewTextOperation()
	it1 := newComponentIter(o.ops)
	it2 := newComponentIter(other.ops)
	op1, ok1 := it1.next()
	op2, ok2 := it2.next()

	for ok1 || ok2 {
		if ok1 && op1.IsInsert() {
			oPrime.Insert(op1.Insert)
			otherPrime.Retain(op1.length())
			op1, ok1 = it1.next()

			continue
		}

		if ok2 && op2.IsInsert() {
			oPrime.Retain(op2.length())
			otherPrime.Insert(op2.Insert)
			op2, ok2 = it2.next()

			continue
		}

		if !ok1 || !ok2 {
			return nil, nil, ErrLengthMismatch
		}

		n := min(op1.length(), op2.length())

		switch {
		case op1.IsRetain() && op2.IsRetain():
			oPrime.Retain(n)
			otherPrime.Retain(n)
		case op1.IsDelete() && op2.IsDelete():
			// Both removed the same text.
		case op1.IsDelete() && op2.IsRetain():
			oPrime.Delete(n)
		case op1.IsRetain() && op2.IsDelete():
			otherPrime.Delete(n)
		default:
			return nil, nil, ErrLengthMismatch
		}

		op1, ok1 = it1.consume(op1, n)
		op2, ok2 = it2.consume(op2, n)
	}

	return oPrime, otherPrime, nil
}

// simple returns the single insert or delete of an operation that is at
// most surrounded by retains, together with the position it starts at.
func (o *TextOperation) simple() (Component, int, bool) {
	start := 0
	if len(o.ops) > 0 && o.ops[0].IsRetain() {
		start = o.ops[0].Retain
	}

	switch len(o.ops) {
	case 1:
		return o.ops[0], start, !o.ops[0].IsRetain()
	case 2:
		if o.ops[0].IsRetain() {
			return o.ops[1], start, true
		}

		if o.ops[1].IsRetain() {
			return o.ops[0], start, true
		}
	case 3:
		if o.ops[0].IsRetain() && o.ops[2].IsRetain() {
			return o.ops[1], start, true
		}
	}

	return Component{}, 0, false
}

// ShouldBeComposedWithInverted reports whether o, the inverse of the latest
// edit, continues the typing run whose inverse is other: inserts at adjacent
// positions, or backspace and forward-delete runs.
func (o *TextOperation) ShouldBeComposedWithInverted(other *TextOperation) bool {
	if o.IsNoop() || other.IsNoop() {
		return true
	}

	a, startA, okA := o.simple()
	b, startB, okB := other.simple()

	if !okA || !okB {
		return false
	}

	switch {
	case a.IsInsert() && b.IsInsert():
		return startA+a.length() == startB || startA == startB
	case a.IsDelete() && b.IsDelete():
		return startB+b.Delete == startA
	default:
		return false
	}
}
