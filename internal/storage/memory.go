package storage

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/serroba/codoc/internal/clock"
	"github.com/serroba/codoc/internal/ot"
)

// documentData holds all persisted data for a single document.
// operations is ordered by revision and starts after the snapshot.
type documentData struct {
	snapshot   *Snapshot
	operations []ot.SequencedOperation
}

// latestRevision is the newest revision covered by the snapshot or log.
func (d *documentData) latestRevision() int {
	if n := len(d.operations); n > 0 {
		return d.operations[n-1].Revision
	}

	if d.snapshot != nil {
		return d.snapshot.Revision
	}

	return 0
}

// since returns the index of the first operation after revision.
func (d *documentData) since(revision int) int {
	i, _ := slices.BinarySearchFunc(d.operations, revision+1, func(op ot.SequencedOperation, rev int) int {
		return cmp.Compare(op.Revision, rev)
	})

	return i
}

// MemoryStore is an in-memory implementation of the Store interface.
// Useful for testing and development.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]*documentData
	clock clock.Clock
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the clock used to stamp snapshots.
func WithClock(c clock.Clock) MemoryOption {
	return func(m *MemoryStore) {
		m.clock = c
	}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		docs:  make(map[string]*documentData),
		clock: clock.System{},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// CreateDocument creates a new document with the given ID.
func (m *MemoryStore) CreateDocument(docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[docID]; exists {
		return ErrDocumentExists
	}

	m.docs[docID] = &documentData{}

	return nil
}

// DeleteDocument removes a document and everything persisted for it.
func (m *MemoryStore) DeleteDocument(docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[docID]; !exists {
		return ErrDocumentNotFound
	}

	delete(m.docs, docID)

	return nil
}

// DocumentExists checks if a document exists.
func (m *MemoryStore) DocumentExists(docID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.docs[docID]

	return exists, nil
}

// SaveSnapshot persists a snapshot and drops the operations it covers.
func (m *MemoryStore) SaveSnapshot(docID string, revision int, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, exists := m.docs[docID]
	if !exists {
		return ErrDocumentNotFound
	}

	doc.snapshot = &Snapshot{
		DocID:     docID,
		Revision:  revision,
		Content:   content,
		CreatedAt: m.clock.Now(),
	}

	doc.operations = doc.operations[doc.since(revision):]

	return nil
}

// LoadSnapshot retrieves the latest snapshot for a document.
func (m *MemoryStore) LoadSnapshot(docID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, exists := m.docs[docID]
	if !exists {
		return Snapshot{}, ErrDocumentNotFound
	}

	if doc.snapshot == nil {
		return Snapshot{}, ErrSnapshotNotFound
	}

	return *doc.snapshot, nil
}

// AppendOperation adds an operation to the document's operation log.
// Revisions must increase.
func (m *MemoryStore) AppendOperation(docID string, op ot.SequencedOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, exists := m.docs[docID]
	if !exists {
		return ErrDocumentNotFound
	}

	if latest := doc.latestRevision(); op.Revision <= latest {
		return fmt.Errorf("%w: %d after %d", ErrRevisionOutOfOrder, op.Revision, latest)
	}

	doc.operations = append(doc.operations, op)

	return nil
}

// LoadOperations retrieves all operations after the given revision.
func (m *MemoryStore) LoadOperations(docID string, sinceRevision int) ([]ot.SequencedOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, exists := m.docs[docID]
	if !exists {
		return nil, ErrDocumentNotFound
	}

	return slices.Clone(doc.operations[doc.since(sinceRevision):]), nil
}

// LatestRevision returns the highest revision number for a document.
func (m *MemoryStore) LatestRevision(docID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, exists := m.docs[docID]
	if !exists {
		return 0, ErrDocumentNotFound
	}

	return doc.latestRevision(), nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
