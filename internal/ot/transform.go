package ot

// Transform takes two concurrent operations created against the same
// document state and returns op1' (op1 rebased over op2) and op2' (op2
// rebased over op1), so that op1 then op2' and op2 then op1' converge.
//
// A no-op is unaffected by, and does not affect, the other operation.
func Transform(op1, op2 Operation) (Operation, Operation) {
	if op1.IsNoop() || op2.IsNoop() {
		return op1, op2
	}

	switch {
	case op1.IsInsert() && op2.IsInsert():
		return transformInsertInsert(op1, op2)
	case op1.IsDelete() && op2.IsDelete():
		return transformDeleteDelete(op1, op2)
	case op1.IsInsert():
		return transformInsertDelete(op1, op2)
	default:
		op2Prime, op1Prime := transformInsertDelete(op2, op1)

		return op1Prime, op2Prime
	}
}

// insertWins reports whether a stays in place when a and b insert at the
// same position. The lower user ID wins.
func insertWins(a, b Operation) bool {
	return a.UserID < b.UserID
}

func transformInsertInsert(op1, op2 Operation) (Operation, Operation) {
	if op1.Position < op2.Position || (op1.Position == op2.Position && insertWins(op1, op2)) {
		op2.Position++
	} else {
		op1.Position++
	}

	return op1, op2
}

func transformDeleteDelete(op1, op2 Operation) (Operation, Operation) {
	switch {
	case op1.Position < op2.Position:
		op2.Position--
	case op1.Position > op2.Position:
		op1.Position--
	default:
		// Both removed the same character.
		op1.Position = -1
		op2.Position = -1
	}

	return op1, op2
}

// transformInsertDelete handles an insert against a delete. An insert at
// the deleted position lands in front of it.
func transformInsertDelete(ins, del Operation) (Operation, Operation) {
	if ins.Position <= del.Position {
		del.Position++
	} else {
		ins.Position--
	}

	return ins, del
}
