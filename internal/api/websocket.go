package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/serroba/codoc/internal/acl"
	"github.com/serroba/codoc/internal/collab"
	"github.com/serroba/codoc/internal/ot"
	"github.com/serroba/codoc/internal/storage"
	"github.com/serroba/codoc/internal/ws"
)

// editSession is the part of collab.Session a connection talks to.
type editSession interface {
	ApplyOperation(clientID, userID string, op ot.Operation, baseRevision int) (collab.HistoryState, error)
	Undo(clientID, userID string) (collab.HistoryState, error)
	Redo(clientID, userID string) (collab.HistoryState, error)
	GetState(userID string) (string, int, error)
	Leave(clientID string)
}

// connection is one WebSocket client editing one document.
type connection struct {
	client  *ws.Client
	session editSession
	docID   string
	userID  string
	logger  *slog.Logger
}

// handleWebSocket handles GET /ws?docId={id}.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	docID := r.URL.Query().Get("docId")
	if docID == "" {
		http.Error(w, "docId query parameter is required", http.StatusBadRequest)

		return
	}

	userID := UserIDFromContext(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "doc", docID, "user", userID, "error", err)

		return
	}

	client := ws.NewClient(uuid.NewString(), userID, conn)
	s.hub.Register(client)
	s.hub.Subscribe(client, docID)

	c := &connection{
		client: client,
		docID:  docID,
		userID: userID,
		logger: s.logger.With("doc", docID, "client", client.ID, "user", userID),
	}

	defer func() {
		s.hub.Unregister(client)
		_ = client.Close()

		c.logger.Debug("client disconnected")
	}()

	session, err := s.manager.GetOrCreateSession(docID)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			_ = client.SendError(ws.ErrorCodeInvalidMessage, "document not found")
		} else {
			c.logger.Error("load session failed", "error", err)
			_ = client.SendError(ws.ErrorCodeInternalError, "failed to load document")
		}

		return
	}

	c.session = session
	defer session.Leave(client.ID)

	c.logger.Debug("client connected")

	if !c.sendState() {
		return
	}

	c.serve()
}

// serve processes incoming messages until the client goes away.
func (c *connection) serve() {
	for {
		msg, err := c.client.Receive()
		if errors.Is(err, ws.ErrInvalidPayload) {
			_ = c.client.SendError(ws.ErrorCodeInvalidMessage, err.Error())

			continue
		}

		if err != nil {
			return
		}

		switch msg.Type {
		case ws.MessageTypeOperation:
			c.handleOperation(msg)
		case ws.MessageTypeSync:
			c.sendState()
		case ws.MessageTypeUndo:
			c.handleHistory(msg, c.session.Undo)
		case ws.MessageTypeRedo:
			c.handleHistory(msg, c.session.Redo)
		default:
			if msg.Type.FromServer() {
				_ = c.client.SendError(ws.ErrorCodeInvalidMessage, "unexpected message type")
			} else {
				_ = c.client.SendError(ws.ErrorCodeInvalidMessage, "unknown message type")
			}
		}
	}
}

// handleOperation applies an edit and acknowledges it.
func (c *connection) handleOperation(msg ws.Message) {
	payload, ok := msg.Payload.(ws.OperationPayload)
	if !ok {
		_ = c.client.SendError(ws.ErrorCodeInvalidMessage, "invalid operation payload")

		return
	}

	var op ot.Operation

	switch payload.OpType {
	case int(ot.Insert):
		op = ot.NewInsert(payload.Char, payload.Position, c.userID)
	case int(ot.Delete):
		op = ot.NewDelete(payload.Position, c.userID)
	default:
		_ = c.client.SendError(ws.ErrorCodeInvalidMessage, "invalid operation type")

		return
	}

	state, err := c.session.ApplyOperation(c.client.ID, c.userID, op, payload.BaseRevision)
	if err != nil {
		c.sendFailure(err)

		return
	}

	_ = c.client.Send(ws.Message{
		Type: ws.MessageTypeAck,
		Payload: ws.AckPayload{
			Revision: state.Revision,
			CanUndo:  state.CanUndo,
			CanRedo:  state.CanRedo,
		},
	})
}

// handleHistory runs an undo or redo and reports the client's new position.
// The resulting edits reach the client as broadcasts.
func (c *connection) handleHistory(msg ws.Message, perform func(clientID, userID string) (collab.HistoryState, error)) {
	if payload, ok := msg.Payload.(ws.DocRequestPayload); ok && payload.DocID != "" && payload.DocID != c.docID {
		_ = c.client.SendError(ws.ErrorCodeInvalidMessage, "connection is bound to another document")

		return
	}

	state, err := perform(c.client.ID, c.userID)
	if err != nil {
		c.sendFailure(err)

		return
	}

	_ = c.client.Send(ws.Message{
		Type: ws.MessageTypeHistory,
		Payload: ws.HistoryPayload{
			DocID:    c.docID,
			Revision: state.Revision,
			CanUndo:  state.CanUndo,
			CanRedo:  state.CanRedo,
		},
	})
}

// sendState sends the full document to the client. It reports whether the
// client may keep editing.
func (c *connection) sendState() bool {
	content, revision, err := c.session.GetState(c.userID)
	if err != nil {
		if errors.Is(err, acl.ErrAccessDenied) {
			_ = c.client.SendError(ws.ErrorCodeAccessDenied, "access denied")
		} else {
			_ = c.client.SendError(ws.ErrorCodeInternalError, "failed to get document state")
		}

		return false
	}

	err = c.client.Send(ws.Message{
		Type: ws.MessageTypeState,
		Payload: ws.StatePayload{
			DocID:    c.docID,
			Content:  content,
			Revision: revision,
		},
	})

	return err == nil
}

func (c *connection) sendFailure(err error) {
	if errors.Is(err, acl.ErrAccessDenied) {
		_ = c.client.SendError(ws.ErrorCodeAccessDenied, "write access denied")

		return
	}

	c.logger.Warn("request failed", "error", err)
	_ = c.client.SendError(ws.ErrorCodeInternalError, err.Error())
}
