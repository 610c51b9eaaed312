package collab_test

import (
	"errors"
	"testing"

	"github.com/serroba/codoc/internal/acl"
	"github.com/serroba/codoc/internal/collab"
	"github.com/serroba/codoc/internal/ot"
	"github.com/serroba/codoc/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestSession_ApplyOperation(t *testing.T) {
	t.Parallel()

	session, _ := newHistorySession(t, collab.SessionConfig{})

	state, err := session.ApplyOperation("c1", "u1", ot.NewInsert("H", 0, "u1"), 0)
	require.NoError(t, err)

	if state != (collab.HistoryState{Revision: 1, CanUndo: true}) {
		t.Errorf("unexpected state %+v", state)
	}

	_, err = session.ApplyOperation("c1", "u1", ot.NewInsert("I", 1, "u1"), 1)
	require.NoError(t, err)

	requireContent(t, session, "HI")

	if session.Revision() != 2 {
		t.Errorf("expected revision 2, got %d", session.Revision())
	}
}

func TestSession_ApplyOperation_TransformsConcurrentEdits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		first  ot.Operation
		second ot.Operation
		want   string
	}{
		{
			name:   "inserts at the same position order by user",
			first:  ot.NewInsert("b", 0, "u2"),
			second: ot.NewInsert("a", 0, "u1"),
			want:   "abxy",
		},
		{
			name:   "insert shifts a later delete",
			first:  ot.NewInsert("z", 0, "u1"),
			second: ot.NewDelete(1, "u2"),
			want:   "zx",
		},
		{
			name:   "same delete twice removes one character",
			first:  ot.NewDelete(0, "u1"),
			second: ot.NewDelete(0, "u2"),
			want:   "y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			session, _ := newHistorySession(t, collab.SessionConfig{})

			_, err := session.ApplyOperation("c0", "u0", ot.NewInsert("x", 0, "u0"), 0)
			require.NoError(t, err)

			_, err = session.ApplyOperation("c0", "u0", ot.NewInsert("y", 1, "u0"), 1)
			require.NoError(t, err)

			// Both edits were made against revision 2.
			_, err = session.ApplyOperation("c1", tt.first.UserID, tt.first, 2)
			require.NoError(t, err)

			_, err = session.ApplyOperation("c2", tt.second.UserID, tt.second, 2)
			require.NoError(t, err)

			requireContent(t, session, tt.want)
		})
	}
}

func TestSession_ApplyOperation_Rejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		op      ot.Operation
		base    int
		wantErr error
	}{
		{name: "future revision", op: ot.NewInsert("a", 0, "u1"), base: 5, wantErr: ot.ErrRevisionInFuture},
		{name: "position past end", op: ot.NewInsert("a", 9, "u1"), base: 0, wantErr: ot.ErrInvalidPosition},
		{name: "delete on empty document", op: ot.NewDelete(0, "u1"), base: 0, wantErr: ot.ErrInvalidPosition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			session, _ := newHistorySession(t, collab.SessionConfig{})

			_, err := session.ApplyOperation("c1", "u1", tt.op, tt.base)
			require.ErrorIs(t, err, tt.wantErr)

			if session.Revision() != 0 {
				t.Errorf("expected a rejected edit to keep revision 0, got %d", session.Revision())
			}
		})
	}
}

func TestSession_ApplyOperation_StorageFailure(t *testing.T) {
	t.Parallel()

	store := &failingStore{Store: storage.NewMemoryStore(), failAt: 1}
	session, _ := newHistorySession(t, collab.SessionConfig{Store: store})

	state, err := session.ApplyOperation("c1", "u1", ot.NewInsert("a", 0, "u1"), 0)
	require.ErrorIs(t, err, errDiskFull)

	if state.CanUndo || session.Revision() != 0 {
		t.Errorf("expected an unsaved edit to leave no trace, got %+v at revision %d", state, session.Revision())
	}

	requireContent(t, session, "")

	// The next edit takes the revision the failed one would have used.
	state, err = session.ApplyOperation("c1", "u1", ot.NewInsert("b", 0, "u1"), 0)
	require.NoError(t, err)

	if state.Revision != 1 {
		t.Errorf("expected revision 1, got %d", state.Revision)
	}

	requireContent(t, session, "b")
}

func TestSession_Permissions(t *testing.T) {
	t.Parallel()

	permStore := acl.NewMemoryStore()
	require.NoError(t, permStore.Grant("doc1", "editor", acl.Editor))
	require.NoError(t, permStore.Grant("doc1", "viewer", acl.Viewer))

	session, _ := newHistorySession(t, collab.SessionConfig{PermChecker: acl.NewChecker(permStore)})

	_, err := session.ApplyOperation("c1", "editor", ot.NewInsert("A", 0, "editor"), 0)
	require.NoError(t, err)

	_, err = session.ApplyOperation("c2", "viewer", ot.NewInsert("B", 1, "viewer"), 1)
	if !errors.Is(err, acl.ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied for viewer write, got %v", err)
	}

	_, _, err = session.GetState("viewer")
	require.NoError(t, err)

	_, _, err = session.GetState("stranger")
	if !errors.Is(err, acl.ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied for stranger read, got %v", err)
	}
}

func TestSession_Load_WithExistingData(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	require.NoError(t, store.CreateDocument("doc1"))
	require.NoError(t, store.SaveSnapshot("doc1", 5, "hello"))
	require.NoError(t, store.AppendOperation("doc1", ot.SequencedOperation{
		Operation: ot.NewInsert("!", 5, "u1"),
		Revision:  6,
	}))

	session := collab.NewSession(collab.SessionConfig{DocID: "doc1", Store: store})
	require.NoError(t, session.Load())

	requireContent(t, session, "hello!")

	// New edits continue the stored revision sequence.
	state, err := session.ApplyOperation("c1", "u1", ot.NewDelete(5, "u1"), 6)
	require.NoError(t, err)

	if state.Revision != 7 {
		t.Errorf("expected revision 7, got %d", state.Revision)
	}
}

func TestSession_Load_UnknownDocument(t *testing.T) {
	t.Parallel()

	session := collab.NewSession(collab.SessionConfig{DocID: "missing", Store: storage.NewMemoryStore()})

	require.ErrorIs(t, session.Load(), storage.ErrDocumentNotFound)
}

func TestSession_SnapshotPolicy(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	policy := storage.NewSnapshotPolicy(2)
	session, _ := newHistorySession(t, collab.SessionConfig{Store: store, SnapshotPolicy: policy})

	for i, char := range []string{"a", "b", "c"} {
		_, err := session.ApplyOperation("c1", "u1", ot.NewInsert(char, i, "u1"), i)
		require.NoError(t, err)
	}

	snapshot, err := store.LoadSnapshot("doc1")
	require.NoError(t, err)

	if snapshot.Content != "ab" || snapshot.Revision != 2 {
		t.Errorf("expected snapshot ab at revision 2, got %+v", snapshot)
	}

	if n := policy.OperationsSinceSnapshot("doc1"); n != 1 {
		t.Errorf("expected 1 operation since snapshot, got %d", n)
	}

	ops, err := store.LoadOperations("doc1", 0)
	require.NoError(t, err)

	if len(ops) != 1 || ops[0].Revision != 3 {
		t.Errorf("expected only revision 3 left in the log, got %v", ops)
	}
}

func TestSession_Close(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	session, _ := newHistorySession(t, collab.SessionConfig{Store: store})

	_, err := session.ApplyOperation("c1", "u1", ot.NewInsert("X", 0, "u1"), 0)
	require.NoError(t, err)

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	snapshot, err := store.LoadSnapshot("doc1")
	require.NoError(t, err)

	if snapshot.Content != "X" {
		t.Errorf("expected final snapshot X, got %q", snapshot.Content)
	}

	_, err = session.ApplyOperation("c1", "u1", ot.NewInsert("Y", 1, "u1"), 1)
	require.ErrorIs(t, err, collab.ErrSessionClosed)

	_, _, err = session.GetState("u1")
	require.ErrorIs(t, err, collab.ErrSessionClosed)

	require.ErrorIs(t, session.Load(), collab.ErrSessionClosed)
}
