package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/serroba/codoc/internal/ot"
)

// SnapshotPolicy counts operations per document and asks for a snapshot
// every threshold operations. A threshold of zero or less never asks.
type SnapshotPolicy struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int // Operations per document since its last snapshot
}

// NewSnapshotPolicy creates a policy that triggers snapshots every N operations.
func NewSnapshotPolicy(threshold int) *SnapshotPolicy {
	return &SnapshotPolicy{
		threshold: threshold,
		counts:    make(map[string]int),
	}
}

// RecordOperation records that an operation was applied.
// Returns true if a snapshot should be created.
func (p *SnapshotPolicy) RecordOperation(docID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counts[docID]++

	return p.threshold > 0 && p.counts[docID] >= p.threshold
}

// Reset restarts the count after a snapshot is created.
func (p *SnapshotPolicy) Reset(docID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counts[docID] = 0
}

// Forget drops the count of a deleted document.
func (p *SnapshotPolicy) Forget(docID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.counts, docID)
}

// OperationsSinceSnapshot returns the number of operations since the last snapshot.
func (p *SnapshotPolicy) OperationsSinceSnapshot(docID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.counts[docID]
}

// DocumentLoader provides the ability to load a document from storage.
// It handles the snapshot + operation replay pattern.
type DocumentLoader struct {
	store Store
}

// NewDocumentLoader creates a new document loader.
func NewDocumentLoader(store Store) *DocumentLoader {
	return &DocumentLoader{store: store}
}

// LoadResult contains the result of loading a document.
type LoadResult struct {
	Content  string // Reconstructed document content
	Revision int    // Current revision
	IsNew    bool   // True if document didn't exist
}

// ApplyFunc is a function that applies an operation to content.
type ApplyFunc func(content string, op ot.Operation) (string, error)

// Load reconstructs a document's state from storage: the latest snapshot,
// if any, with the operations logged after it replayed on top.
func (l *DocumentLoader) Load(docID string, applyOp ApplyFunc) (LoadResult, error) {
	var result LoadResult

	snapshot, err := l.store.LoadSnapshot(docID)

	switch {
	case errors.Is(err, ErrSnapshotNotFound):
	case err != nil:
		return LoadResult{}, fmt.Errorf("load snapshot: %w", err)
	default:
		result.Content = snapshot.Content
		result.Revision = snapshot.Revision
	}

	ops, err := l.store.LoadOperations(docID, result.Revision)
	if err != nil {
		return LoadResult{}, fmt.Errorf("load operations: %w", err)
	}

	result.IsNew = result.Revision == 0 && len(ops) == 0

	for _, op := range ops {
		result.Content, err = applyOp(result.Content, op.Operation)
		if err != nil {
			return LoadResult{}, fmt.Errorf("replay revision %d: %w", op.Revision, err)
		}

		result.Revision = op.Revision
	}

	return result, nil
}
