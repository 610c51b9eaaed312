package collab

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/serroba/codoc/internal/acl"
	"github.com/serroba/codoc/internal/clock"
	"github.com/serroba/codoc/internal/storage"
	"github.com/serroba/codoc/internal/ws"
)

// Manager manages multiple document sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// Shared dependencies
	store          storage.Store
	permStore      acl.Store
	hub            *ws.Hub
	snapshotPolicy *storage.SnapshotPolicy
	historySize    int
	undoDepth      int
	composeWindow  time.Duration
	clock          clock.Clock
	logger         *slog.Logger
}

// ManagerConfig holds configuration for creating a manager.
type ManagerConfig struct {
	Store          storage.Store
	PermStore      acl.Store
	Hub            *ws.Hub
	SnapshotPolicy *storage.SnapshotPolicy
	HistorySize    int
	UndoDepth      int
	ComposeWindow  time.Duration
	Clock          clock.Clock
	Logger         *slog.Logger
}

// NewManager creates a new session manager.
func NewManager(cfg ManagerConfig) *Manager {
	historySize := cfg.HistorySize
	if historySize == 0 {
		historySize = defaultHistorySize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		sessions:       make(map[string]*Session),
		store:          cfg.Store,
		permStore:      cfg.PermStore,
		hub:            cfg.Hub,
		snapshotPolicy: cfg.SnapshotPolicy,
		historySize:    historySize,
		undoDepth:      cfg.UndoDepth,
		composeWindow:  cfg.ComposeWindow,
		clock:          cfg.Clock,
		logger:         logger,
	}
}

// GetOrCreateSession returns an existing session or creates a new one.
func (m *Manager) GetOrCreateSession(docID string) (*Session, error) {
	// Try read lock first
	m.mu.RLock()
	session, exists := m.sessions[docID]
	m.mu.RUnlock()

	if exists {
		return session, nil
	}

	// Need to create - acquire write lock
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if session, exists = m.sessions[docID]; exists {
		return session, nil
	}

	// Create new session
	var permChecker *acl.Checker
	if m.permStore != nil {
		permChecker = acl.NewChecker(m.permStore)
	}

	session = NewSession(SessionConfig{
		DocID:          docID,
		Store:          m.store,
		PermChecker:    permChecker,
		Hub:            m.hub,
		SnapshotPolicy: m.snapshotPolicy,
		HistorySize:    m.historySize,
		UndoDepth:      m.undoDepth,
		ComposeWindow:  m.composeWindow,
		Clock:          m.clock,
		Logger:         m.logger,
	})

	if err := session.Load(); err != nil {
		return nil, err
	}

	m.sessions[docID] = session
	m.logger.Info("session opened", "doc", docID)

	return session, nil
}

// GetSession returns an existing session or nil if not found.
func (m *Manager) GetSession(docID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sessions[docID]
}

// CloseSession closes and removes a session.
func (m *Manager) CloseSession(docID string) error {
	m.mu.Lock()
	session, exists := m.sessions[docID]

	if !exists {
		m.mu.Unlock()

		return nil
	}

	delete(m.sessions, docID)
	m.mu.Unlock()

	m.logger.Info("session closed", "doc", docID)

	return session.Close()
}

// DeleteDocument drops the document's session without a final snapshot and
// removes the document from storage. The manager stays locked until the
// document is gone so no caller can reopen it in between.
func (m *Manager) DeleteDocument(docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, exists := m.sessions[docID]; exists {
		delete(m.sessions, docID)
		session.discard()
		m.logger.Info("session discarded", "doc", docID)
	}

	if err := m.store.DeleteDocument(docID); err != nil {
		return err
	}

	if m.snapshotPolicy != nil {
		m.snapshotPolicy.Forget(docID)
	}

	return nil
}

// CloseAll closes all sessions.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))

	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}

	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.DocID(), err))
		}
	}

	return errors.Join(errs...)
}

// SessionCount returns the number of active sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}
