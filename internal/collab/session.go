package collab

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/serroba/codoc/internal/acl"
	"github.com/serroba/codoc/internal/clock"
	"github.com/serroba/codoc/internal/ot"
	"github.com/serroba/codoc/internal/storage"
	"github.com/serroba/codoc/internal/undo"
	"github.com/serroba/codoc/internal/ws"
)

// Common errors.
var (
	ErrSessionClosed = errors.New("session is closed")
)

const (
	defaultHistorySize   = 100
	defaultComposeWindow = time.Second
)

// HistoryState reports where a client stands after an edit, undo or redo.
type HistoryState struct {
	Revision int
	CanUndo  bool
	CanRedo  bool
}

// textHistory is the undo/redo history of one connected client.
type textHistory = undo.Manager[*ot.TextOperation]

// clientHistory tracks a client's history and when it last edited.
type clientHistory struct {
	undo     *textHistory
	lastEdit time.Time
}

// Session coordinates collaborative editing for a single document.
// It wires together OT, storage, ACL, WebSocket broadcasting and the
// per-client undo histories.
type Session struct {
	docID string

	mu        sync.RWMutex
	document  *ot.Document
	queue     *ot.Queue
	histories map[string]*clientHistory
	closed    bool

	// Dependencies
	store          storage.Store
	permChecker    *acl.Checker
	hub            *ws.Hub
	snapshotPolicy *storage.SnapshotPolicy
	undoDepth      int
	composeWindow  time.Duration
	clock          clock.Clock
	logger         *slog.Logger
}

// SessionConfig holds configuration for creating a session.
type SessionConfig struct {
	DocID          string
	Store          storage.Store
	PermChecker    *acl.Checker
	Hub            *ws.Hub
	SnapshotPolicy *storage.SnapshotPolicy
	HistorySize    int

	// UndoDepth bounds each client's undo and redo history.
	UndoDepth int
	// ComposeWindow is how close consecutive edits must be to merge into
	// one undo step.
	ComposeWindow time.Duration
	Clock         clock.Clock
	Logger        *slog.Logger
}

// NewSession creates a new collaborative editing session.
func NewSession(cfg SessionConfig) *Session {
	historySize := cfg.HistorySize
	if historySize == 0 {
		historySize = defaultHistorySize
	}

	composeWindow := cfg.ComposeWindow
	if composeWindow <= 0 {
		composeWindow = defaultComposeWindow
	}

	var clk clock.Clock = clock.System{}
	if cfg.Clock != nil {
		clk = cfg.Clock
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		docID:          cfg.DocID,
		document:       ot.NewDocument(""),
		queue:          ot.NewQueue(historySize),
		histories:      make(map[string]*clientHistory),
		store:          cfg.Store,
		permChecker:    cfg.PermChecker,
		hub:            cfg.Hub,
		snapshotPolicy: cfg.SnapshotPolicy,
		undoDepth:      cfg.UndoDepth,
		composeWindow:  composeWindow,
		clock:          clk,
		logger:         logger.With("component", "collab.Session", "doc", cfg.DocID),
	}
}

// Load initializes the session by loading document state from storage.
func (s *Session) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	loader := storage.NewDocumentLoader(s.store)

	result, err := loader.Load(s.docID, applyOp)
	if err != nil {
		return err
	}

	s.document = ot.NewDocument(result.Content)
	s.queue = ot.NewQueue(s.queue.HistorySize())
	s.queue.SetRevision(result.Revision)
	s.histories = make(map[string]*clientHistory)

	s.logger.Debug("document loaded", "revision", result.Revision, "new", result.IsNew)

	return nil
}

// applyOp applies a stored operation to content (used by DocumentLoader).
func applyOp(content string, op ot.Operation) (string, error) {
	doc := ot.NewDocument(content)

	if err := doc.Apply(op); err != nil {
		return "", err
	}

	return doc.Content(), nil
}

// ApplyOperation processes an operation from a client.
// It checks permissions, applies OT, persists, records the edit in the
// client's undo history and broadcasts it.
func (s *Session) ApplyOperation(clientID, userID string, op ot.Operation, baseRevision int) (HistoryState, error) {
	if err := s.checkWritePermission(userID); err != nil {
		return HistoryState{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return HistoryState{}, ErrSessionClosed
	}

	seqOp, edit, err := s.applyAndPersist(op, baseRevision)
	if err != nil {
		return HistoryState{}, err
	}

	s.recordEdit(clientID, edit)
	s.maybeSnapshot()
	s.broadcast(clientID, seqOp)

	return s.historyState(clientID), nil
}

// checkWritePermission verifies the user has write access.
func (s *Session) checkWritePermission(userID string) error {
	if s.permChecker == nil {
		return nil
	}

	return s.permChecker.RequirePermission(s.docID, userID, acl.ActionWrite)
}

// applyAndPersist rebases op onto the current revision and commits it.
func (s *Session) applyAndPersist(op ot.Operation, baseRevision int) (ot.SequencedOperation, ot.Edit, error) {
	transformed, err := s.queue.Rebase(op, baseRevision)
	if err != nil {
		return ot.SequencedOperation{}, ot.Edit{}, err
	}

	return s.commit(transformed)
}

// commit persists op as the next revision, then applies and sequences it.
// A rejected or unsaved operation leaves the session untouched.
func (s *Session) commit(op ot.Operation) (ot.SequencedOperation, ot.Edit, error) {
	if err := s.document.Validate(op); err != nil {
		return ot.SequencedOperation{}, ot.Edit{}, err
	}

	next := ot.SequencedOperation{Operation: op, Revision: s.queue.Revision() + 1}
	if err := s.store.AppendOperation(s.docID, next); err != nil {
		return ot.SequencedOperation{}, ot.Edit{}, err
	}

	edit, err := s.document.Edit(op)
	if err != nil {
		return ot.SequencedOperation{}, ot.Edit{}, err
	}

	return s.queue.Append(op), edit, nil
}

// recordEdit files the inverse of a client's edit in its own history and
// rebases every other client's history over the edit.
func (s *Session) recordEdit(clientID string, edit ot.Edit) {
	if edit.Forward.IsNoop() {
		return
	}

	s.transformHistories(clientID, edit.Forward)

	h := s.historyFor(clientID)
	now := s.clock.Now()
	compose := s.shouldCompose(h, edit.Inverse, now)
	h.lastEdit = now

	if err := h.undo.Add(edit.Inverse, compose); err != nil {
		s.logger.Warn("dropping undo history", "client", clientID, "error", err)

		h.undo = undo.NewManager[*ot.TextOperation](s.undoDepth)
		_ = h.undo.Add(edit.Inverse, false)
	}
}

// shouldCompose decides whether an edit continues the client's last undo step.
func (s *Session) shouldCompose(h *clientHistory, inverse *ot.TextOperation, now time.Time) bool {
	if h.lastEdit.IsZero() || now.Sub(h.lastEdit) > s.composeWindow {
		return false
	}

	top, ok := h.undo.PeekUndo()

	return ok && inverse.ShouldBeComposedWithInverted(top)
}

// transformHistories rebases the histories of all clients except the author
// of op. A history that cannot be rebased no longer matches the document
// and is discarded.
func (s *Session) transformHistories(authorID string, op *ot.TextOperation) {
	for clientID, h := range s.histories {
		if clientID == authorID {
			continue
		}

		if err := h.undo.Transform(op); err != nil {
			s.logger.Warn("dropping undo history", "client", clientID, "error", err)
			delete(s.histories, clientID)
		}
	}
}

// historyFor returns the client's history, creating it on first use.
func (s *Session) historyFor(clientID string) *clientHistory {
	h, ok := s.histories[clientID]
	if !ok {
		h = &clientHistory{undo: undo.NewManager[*ot.TextOperation](s.undoDepth)}
		s.histories[clientID] = h
	}

	return h
}

// historyState reports the client's position. Callers hold s.mu.
func (s *Session) historyState(clientID string) HistoryState {
	state := HistoryState{Revision: s.queue.Revision()}

	if h, ok := s.histories[clientID]; ok {
		state.CanUndo = h.undo.CanUndo()
		state.CanRedo = h.undo.CanRedo()
	}

	return state
}

// Undo reverts the client's most recent edit that is still undoable.
// With nothing to undo it only reports the current state.
func (s *Session) Undo(clientID, userID string) (HistoryState, error) {
	return s.replay(clientID, userID, (*textHistory).PerformUndo)
}

// Redo reapplies the client's most recently undone edit.
// With nothing to redo it only reports the current state.
func (s *Session) Redo(clientID, userID string) (HistoryState, error) {
	return s.replay(clientID, userID, (*textHistory).PerformRedo)
}

// replay runs an undo or redo against the live document.
func (s *Session) replay(
	clientID, userID string, perform func(*textHistory, undo.ApplyFunc[*ot.TextOperation]) error,
) (HistoryState, error) {
	if err := s.checkWritePermission(userID); err != nil {
		return HistoryState{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return HistoryState{}, ErrSessionClosed
	}

	h, ok := s.histories[clientID]
	if !ok {
		return s.historyState(clientID), nil
	}

	err := perform(h.undo, func(op *ot.TextOperation) (*ot.TextOperation, error) {
		return s.applyText(clientID, userID, op)
	})
	if err != nil {
		return s.historyState(clientID), err
	}

	return s.historyState(clientID), nil
}

// applyText applies a whole-document operation as a run of sequenced
// character operations and returns its inverse. Every character operation
// is persisted and broadcast to all clients, the requester included.
func (s *Session) applyText(clientID, userID string, op *ot.TextOperation) (*ot.TextOperation, error) {
	content := s.document.Content()

	if _, err := op.Apply(content); err != nil {
		return nil, fmt.Errorf("history entry does not fit revision %d: %w", s.queue.Revision(), err)
	}

	applied := ot.NewTextOperation().Retain(s.document.Len())

	for _, charOp := range op.Operations(userID) {
		next, err := applied.Compose(charOp.Text(s.document.Len()))
		if err != nil {
			return nil, s.abortReplay(clientID, content, op, applied, err)
		}

		seqOp, _, err := s.commit(charOp)
		if err != nil {
			return nil, s.abortReplay(clientID, content, op, applied, err)
		}

		applied = next

		s.maybeSnapshot()
		s.broadcast("", seqOp)
	}

	s.transformHistories(clientID, op)

	s.logger.Debug("history replayed", "client", clientID, "op", op.String(), "revision", s.queue.Revision())

	return op.Invert(content), nil
}

// abortReplay handles a replay of op that stopped after applied, its prefix,
// reached the document. Other histories are rebased over applied and the
// requester's history gets the inverse of applied plus what is left of op.
func (s *Session) abortReplay(clientID, content string, op, applied *ot.TextOperation, cause error) error {
	if applied.IsNoop() {
		return cause
	}

	s.transformHistories(clientID, applied)

	inverse := applied.Invert(content)

	remaining, err := inverse.Compose(op)
	if err != nil {
		s.logger.Warn("dropping unfinished history entry", "client", clientID, "error", err)

		remaining = ot.NewTextOperation()
	}

	s.logger.Warn("history replay interrupted",
		"client", clientID, "applied", applied.String(), "revision", s.queue.Revision(), "error", cause)

	return &undo.PartialError[*ot.TextOperation]{Inverse: inverse, Remaining: remaining, Err: cause}
}

// History reports the client's undo and redo availability.
func (s *Session) History(clientID string) HistoryState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.historyState(clientID)
}

// Leave discards the client's undo history.
func (s *Session) Leave(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.histories, clientID)
}

// maybeSnapshot checks if a snapshot should be created and does so.
func (s *Session) maybeSnapshot() {
	if s.snapshotPolicy == nil {
		return
	}

	if s.snapshotPolicy.RecordOperation(s.docID) {
		if err := s.saveSnapshot(); err != nil {
			s.logger.Error("snapshot failed", "revision", s.queue.Revision(), "error", err)
		}

		s.snapshotPolicy.Reset(s.docID)
	}
}

// broadcast sends the operation to connected clients other than excludeClientID.
func (s *Session) broadcast(excludeClientID string, seqOp ot.SequencedOperation) {
	if s.hub == nil {
		return
	}

	s.hub.BroadcastOperation(s.docID, seqOp, excludeClientID)
}

// saveSnapshot persists a snapshot of the current document state.
func (s *Session) saveSnapshot() error {
	return s.store.SaveSnapshot(s.docID, s.queue.Revision(), s.document.Content())
}

// GetState returns the current document state.
// It checks read permission before returning.
func (s *Session) GetState(userID string) (string, int, error) {
	if s.permChecker != nil {
		if err := s.permChecker.RequirePermission(s.docID, userID, acl.ActionRead); err != nil {
			return "", 0, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", 0, ErrSessionClosed
	}

	return s.document.Content(), s.queue.Revision(), nil
}

// DocID returns the document ID for this session.
func (s *Session) DocID() string {
	return s.docID
}

// Revision returns the current revision number.
func (s *Session) Revision() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queue.Revision()
}

// Close closes the session and saves a final snapshot.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.shutdown() {
		return nil
	}

	return s.saveSnapshot()
}

// discard closes the session without a final snapshot.
func (s *Session) discard() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shutdown()
}

// shutdown marks the session closed and reports whether it was open.
// Callers hold s.mu.
func (s *Session) shutdown() bool {
	if s.closed {
		return false
	}

	s.closed = true
	s.histories = make(map[string]*clientHistory)

	return true
}
