package ot

import (
	"cmp"
	"errors"
	"slices"
	"sync"
)

// Queue errors.
var (
	ErrRevisionTooOld   = errors.New("base revision too old, history unavailable")
	ErrRevisionInFuture = errors.New("base revision is in the future")
)

// SequencedOperation wraps an operation with its assigned revision.
type SequencedOperation struct {
	Operation
	Revision int
}

// Queue manages the sequencing and transformation of concurrent operations.
// It maintains a history of recent operations to transform incoming ops
// that are based on older revisions.
type Queue struct {
	mu          sync.RWMutex
	revision    int                  // Current document revision
	history     []SequencedOperation // Recent operations for transformation
	historySize int                  // Maximum history size to keep
}

// NewQueue creates a new operation queue.
// historySize determines how many past operations to retain for transformation.
func NewQueue(historySize int) *Queue {
	return &Queue{
		revision:    0,
		history:     make([]SequencedOperation, 0, historySize),
		historySize: historySize,
	}
}

// Revision returns the current document revision.
func (q *Queue) Revision() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.revision
}

// HistorySize returns the maximum number of operations kept for transformation.
func (q *Queue) HistorySize() int {
	return q.historySize
}

// SetRevision moves the queue to a revision restored from storage.
// Operations before it are no longer available for transformation.
func (q *Queue) SetRevision(revision int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.revision = revision
	q.history = q.history[:0]
}

// Append sequences an operation that is already expressed against the
// current revision.
func (q *Queue) Append(op Operation) SequencedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.revision++
	result := SequencedOperation{Operation: op, Revision: q.revision}
	q.addToHistory(result)

	return result
}

// Apply takes an operation and its base revision, transforms it against
// any operations that have occurred since that revision, and returns
// the transformed operation with its new sequence number.
func (q *Queue) Apply(op Operation, baseRevision int) (SequencedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	transformed, err := q.rebase(op, baseRevision)
	if err != nil {
		return SequencedOperation{}, err
	}

	q.revision++
	result := SequencedOperation{Operation: transformed, Revision: q.revision}
	q.addToHistory(result)

	return result, nil
}

// Rebase transforms op from baseRevision to the current revision without
// sequencing it.
func (q *Queue) Rebase(op Operation, baseRevision int) (Operation, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.rebase(op, baseRevision)
}

func (q *Queue) rebase(op Operation, baseRevision int) (Operation, error) {
	if baseRevision > q.revision {
		return Operation{}, ErrRevisionInFuture
	}

	// Every operation after baseRevision must still be in history.
	if baseRevision < q.revision && (len(q.history) == 0 || baseRevision < q.history[0].Revision-1) {
		return Operation{}, ErrRevisionTooOld
	}

	for _, histOp := range q.history {
		if histOp.Revision > baseRevision {
			op, _ = Transform(op, histOp.Operation)
		}
	}

	return op, nil
}

// addToHistory adds an operation to history, dropping the oldest entries
// beyond historySize.
func (q *Queue) addToHistory(op SequencedOperation) {
	q.history = append(q.history, op)

	if excess := len(q.history) - q.historySize; excess > 0 {
		q.history = q.history[excess:]
	}
}

// History returns a copy of the retained operations after sinceRevision.
func (q *Queue) History(sinceRevision int) []SequencedOperation {
	q.mu.RLock()
	defer q.mu.RUnlock()

	i, _ := slices.BinarySearchFunc(q.history, sinceRevision+1, func(op SequencedOperation, rev int) int {
		return cmp.Compare(op.Revision, rev)
	})

	return slices.Clone(q.history[i:])
}
