package collab_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/serroba/codoc/internal/acl"
	"github.com/serroba/codoc/internal/clock"
	"github.com/serroba/codoc/internal/collab"
	"github.com/serroba/codoc/internal/ot"
	"github.com/serroba/codoc/internal/storage"
	"github.com/serroba/codoc/internal/ws"
	"github.com/stretchr/testify/require"
)

// newHistorySession returns a loaded session on an empty document with a
// stopped clock.
func newHistorySession(t *testing.T, cfg collab.SessionConfig) (*collab.Session, *clock.Manual) {
	t.Helper()

	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}

	if cfg.DocID == "" {
		cfg.DocID = "doc1"
	}

	require.NoError(t, cfg.Store.CreateDocument(cfg.DocID))

	clk := clock.NewManual(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	cfg.Clock = clk

	session := collab.NewSession(cfg)
	require.NoError(t, session.Load())

	return session, clk
}

func requireContent(t *testing.T, session *collab.Session, expected string) {
	t.Helper()

	content, _, err := session.GetState("u1")
	require.NoError(t, err)

	if content != expected {
		t.Errorf("expected content %q, got %q", expected, content)
	}
}

func TestSession_Undo_ComposesTypingRun(t *testing.T) {
	t.Parallel()

	session, _ := newHistorySession(t, collab.SessionConfig{})

	_, err := session.ApplyOperation("c1", "u1", ot.NewInsert("H", 0, "u1"), 0)
	require.NoError(t, err)

	_, err = session.ApplyOperation("c1", "u1", ot.NewInsert("I", 1, "u1"), 1)
	require.NoError(t, err)

	state, err := session.Undo("c1", "u1")
	require.NoError(t, err)

	requireContent(t, session, "")

	if state.CanUndo || !state.CanRedo {
		t.Errorf("expected only redo after undoing the whole run, got %+v", state)
	}

	if state.Revision != 4 {
		t.Errorf("expected revision 4 after two deletes, got %d", state.Revision)
	}

	state, err = session.Redo("c1", "u1")
	require.NoError(t, err)

	requireContent(t, session, "HI")

	if !state.CanUndo || state.CanRedo {
		t.Errorf("expected only undo after redo, got %+v", state)
	}
}

func TestSession_Undo_SeparatesSlowEdits(t *testing.T) {
	t.Parallel()

	session, clk := newHistorySession(t, collab.SessionConfig{ComposeWindow: time.Second})

	_, err := session.ApplyOperation("c1", "u1", ot.NewInsert("H", 0, "u1"), 0)
	require.NoError(t, err)

	clk.Advance(2 * time.Second)

	_, err = session.ApplyOperation("c1", "u1", ot.NewInsert("I", 1, "u1"), 1)
	require.NoError(t, err)

	state, err := session.Undo("c1", "u1")
	require.NoError(t, err)

	requireContent(t, session, "H")

	if !state.CanUndo {
		t.Error("expected the first edit to remain undoable")
	}
}

func TestSession_Undo_SeparatesNonAdjacentEdits(t *testing.T) {
	t.Parallel()

	session, _ := newHistorySession(t, collab.SessionConfig{})

	_, err := session.ApplyOperation("c1", "u1", ot.NewInsert("a", 0, "u1"), 0)
	require.NoError(t, err)

	_, err = session.ApplyOperation("c1", "u1", ot.NewInsert("b", 0, "u1"), 1)
	require.NoError(t, err)

	_, err = session.Undo("c1", "u1")
	require.NoError(t, err)

	requireContent(t, session, "a")
}

func TestSession_Undo_AfterRemoteEdit(t *testing.T) {
	t.Parallel()

	session, _ := newHistorySession(t, collab.SessionConfig{})

	_, err := session.ApplyOperation("c1", "u1", ot.NewInsert("a", 0, "u1"), 0)
	require.NoError(t, err)

	_, err = session.ApplyOperation("c2", "u2", ot.NewInsert("b", 1, "u2"), 1)
	require.NoError(t, err)

	state, err := session.Undo("c1", "u1")
	require.NoError(t, err)

	requireContent(t, session, "b")

	if state.Revision != 3 {
		t.Errorf("expected revision 3, got %d", state.Revision)
	}

	// The other client's history was rebased over the undo.
	_, err = session.Undo("c2", "u2")
	require.NoError(t, err)

	requireContent(t, session, "")
}

func TestSession_Undo_RemoteDeleteCancelsEntry(t *testing.T) {
	t.Parallel()

	session, _ := newHistorySession(t, collab.SessionConfig{})

	_, err := session.ApplyOperation("c1", "u1", ot.NewInsert("x", 0, "u1"), 0)
	require.NoError(t, err)

	_, err = session.ApplyOperation("c2", "u2", ot.NewDelete(0, "u2"), 1)
	require.NoError(t, err)

	if session.History("c1").CanUndo {
		t.Error("expected the insert to be no longer undoable")
	}

	state, err := session.Undo("c1", "u1")
	require.NoError(t, err)

	if state.Revision != 2 {
		t.Errorf("expected revision to stay at 2, got %d", state.Revision)
	}
}

func TestSession_Redo_RebasedOverRemoteEdit(t *testing.T) {
	t.Parallel()

	session, _ := newHistorySession(t, collab.SessionConfig{})

	_, err := session.ApplyOperation("c1", "u1", ot.NewInsert("a", 0, "u1"), 0)
	require.NoError(t, err)

	_, err = session.Undo("c1", "u1")
	require.NoError(t, err)

	_, err = session.ApplyOperation("c2", "u2", ot.NewInsert("z", 0, "u2"), 2)
	require.NoError(t, err)

	_, err = session.Redo("c1", "u1")
	require.NoError(t, err)

	requireContent(t, session, "az")
}

func TestSession_NewEditClearsRedo(t *testing.T) {
	t.Parallel()

	session, _ := newHistorySession(t, collab.SessionConfig{})

	_, err := session.ApplyOperation("c1", "u1", ot.NewInsert("a", 0, "u1"), 0)
	require.NoError(t, err)

	_, err = session.Undo("c1", "u1")
	require.NoError(t, err)

	state, err := session.ApplyOperation("c1", "u1", ot.NewInsert("b", 0, "u1"), 2)
	require.NoError(t, err)

	if state.CanRedo {
		t.Error("expected redo to be cleared by a new edit")
	}
}

func TestSession_Undo_NothingToUndo(t *testing.T) {
	t.Parallel()

	session, _ := newHistorySession(t, collab.SessionConfig{})

	state, err := session.Undo("c1", "u1")
	require.NoError(t, err)

	if state != (collab.HistoryState{}) {
		t.Errorf("expected empty state, got %+v", state)
	}

	state, err = session.Redo("c1", "u1")
	require.NoError(t, err)

	if state.CanUndo || state.CanRedo || state.Revision != 0 {
		t.Errorf("expected empty state, got %+v", state)
	}
}

func TestSession_Undo_RequiresWritePermission(t *testing.T) {
	t.Parallel()

	permStore := acl.NewMemoryStore()
	require.NoError(t, permStore.Grant("doc1", "viewer", acl.Viewer))

	session, _ := newHistorySession(t, collab.SessionConfig{PermChecker: acl.NewChecker(permStore)})

	_, err := session.Undo("c1", "viewer")
	if !errors.Is(err, acl.ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}

	_, err = session.Redo("c1", "viewer")
	if !errors.Is(err, acl.ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
}

func TestSession_Undo_Persists(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	session, _ := newHistorySession(t, collab.SessionConfig{Store: store})

	_, err := session.ApplyOperation("c1", "u1", ot.NewInsert("a", 0, "u1"), 0)
	require.NoError(t, err)

	_, err = session.Undo("c1", "u1")
	require.NoError(t, err)

	ops, err := store.LoadOperations("doc1", 0)
	require.NoError(t, err)
	require.Len(t, ops, 2)

	if !ops[1].IsDelete() || ops[1].Revision != 2 {
		t.Errorf("expected delete at revision 2, got %+v", ops[1])
	}

	// A fresh session replays the log to the same content.
	reloaded := collab.NewSession(collab.SessionConfig{DocID: "doc1", Store: store})
	require.NoError(t, reloaded.Load())
	requireContent(t, reloaded, "")
}

func TestSession_Leave(t *testing.T) {
	t.Parallel()

	session, _ := newHistorySession(t, collab.SessionConfig{})

	_, err := session.ApplyOperation("c1", "u1", ot.NewInsert("a", 0, "u1"), 0)
	require.NoError(t, err)

	session.Leave("c1")

	if session.History("c1").CanUndo {
		t.Error("expected history to be discarded")
	}

	_, err = session.Undo("c1", "u1")
	require.NoError(t, err)

	requireContent(t, session, "a")
}

func TestSession_Undo_AfterClose(t *testing.T) {
	t.Parallel()

	session, _ := newHistorySession(t, collab.SessionConfig{})
	require.NoError(t, session.Close())

	_, err := session.Undo("c1", "u1")
	if !errors.Is(err, collab.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSession_UndoDepth(t *testing.T) {
	t.Parallel()

	session, clk := newHistorySession(t, collab.SessionConfig{UndoDepth: 2})

	for i, char := range []string{"a", "b", "c"} {
		clk.Advance(time.Minute)

		_, err := session.ApplyOperation("c1", "u1", ot.NewInsert(char, i, "u1"), i)
		require.NoError(t, err)
	}

	for range 3 {
		_, err := session.Undo("c1", "u1")
		require.NoError(t, err)
	}

	requireContent(t, session, "a")
}

// recordingConn captures what the hub sends to a client.
type recordingConn struct {
	mu       sync.Mutex
	messages []ws.Message
}

func (c *recordingConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	var msg ws.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, msg)

	return nil
}

func (c *recordingConn) ReadJSON(_ any) error {
	return errors.New("not readable")
}

func (c *recordingConn) Close() error {
	return nil
}

func (c *recordingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.messages)
}

// revisions lists the revisions of the broadcasts received so far.
func (c *recordingConn) revisions(t *testing.T) []int {
	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()

	var result []int

	for _, msg := range c.messages {
		data, err := json.Marshal(msg.Payload)
		require.NoError(t, err)

		var payload ws.BroadcastPayload
		require.NoError(t, json.Unmarshal(data, &payload))

		result = append(result, payload.Revision)
	}

	return result
}

func TestSession_Undo_BroadcastsToRequester(t *testing.T) {
	t.Parallel()

	hub := ws.NewHub()
	conn := &recordingConn{}
	client := ws.NewClient("c1", "u1", conn)
	hub.Register(client)
	hub.Subscribe(client, "doc1")

	session, _ := newHistorySession(t, collab.SessionConfig{Hub: hub})

	_, err := session.ApplyOperation("c1", "u1", ot.NewInsert("a", 0, "u1"), 0)
	require.NoError(t, err)

	_, err = session.Undo("c1", "u1")
	require.NoError(t, err)

	// The edit itself is not echoed back; the undo is.
	require.Eventually(t, func() bool {
		return conn.count() == 1
	}, time.Second, 10*time.Millisecond)
}

var errDiskFull = errors.New("disk full")

// failingStore fails the failAt-th AppendOperation call, counting from 1.
type failingStore struct {
	storage.Store

	mu     sync.Mutex
	calls  int
	failAt int
}

func (f *failingStore) AppendOperation(docID string, op ot.SequencedOperation) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls == f.failAt
	f.mu.Unlock()

	if fail {
		return errDiskFull
	}

	return f.Store.AppendOperation(docID, op)
}

func TestSession_Undo_StorageFailureMidway(t *testing.T) {
	t.Parallel()

	store := &failingStore{Store: storage.NewMemoryStore(), failAt: 5}

	hub := ws.NewHub()
	observer := &recordingConn{}
	client := ws.NewClient("c3", "u3", observer)
	hub.Register(client)
	hub.Subscribe(client, "doc1")

	session, _ := newHistorySession(t, collab.SessionConfig{Store: store, Hub: hub})

	_, err := session.ApplyOperation("c1", "u1", ot.NewInsert("a", 0, "u1"), 0)
	require.NoError(t, err)

	_, err = session.ApplyOperation("c1", "u1", ot.NewInsert("b", 1, "u1"), 1)
	require.NoError(t, err)

	_, err = session.ApplyOperation("c2", "u2", ot.NewInsert("Z", 2, "u2"), 2)
	require.NoError(t, err)

	// The second delete of the undo cannot be stored.
	_, err = session.Undo("c1", "u1")
	require.ErrorIs(t, err, errDiskFull)

	requireContent(t, session, "bZ")

	ops, err := store.LoadOperations("doc1", 0)
	require.NoError(t, err)

	if len(ops) != 4 || session.Revision() != 4 {
		t.Fatalf("expected 4 stored revisions at revision 4, got %d at %d", len(ops), session.Revision())
	}

	require.Eventually(t, func() bool {
		return observer.count() == 4
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, []int{1, 2, 3, 4}, observer.revisions(t))

	// Both histories still fit the document.
	_, err = session.Undo("c1", "u1")
	require.NoError(t, err)
	requireContent(t, session, "Z")

	_, err = session.Undo("c2", "u2")
	require.NoError(t, err)
	requireContent(t, session, "")

	_, err = session.Redo("c1", "u1")
	require.NoError(t, err)
	requireContent(t, session, "b")

	state, err := session.Redo("c1", "u1")
	require.NoError(t, err)
	requireContent(t, session, "ab")

	if state.CanRedo {
		t.Errorf("expected the redo history to be used up, got %+v", state)
	}
}
