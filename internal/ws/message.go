package ws

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	// Client to Server messages.
	MessageTypeOperation MessageType = "operation" // Client submits an edit
	MessageTypeSync      MessageType = "sync"      // Client requests current state
	MessageTypeUndo      MessageType = "undo"      // Client reverts its latest edit
	MessageTypeRedo      MessageType = "redo"      // Client reapplies its latest undo

	// Server to Client messages.
	MessageTypeAck       MessageType = "ack"       // Server confirms operation applied
	MessageTypeBroadcast MessageType = "broadcast" // Server pushes operation to clients
	MessageTypeState     MessageType = "state"     // Server sends full document state
	MessageTypeHistory   MessageType = "history"   // Server answers undo/redo
	MessageTypeError     MessageType = "error"     // Server reports an error
)

// FromServer reports whether only the server sends messages of this type.
func (t MessageType) FromServer() bool {
	switch t {
	case MessageTypeAck, MessageTypeBroadcast, MessageTypeState, MessageTypeHistory, MessageTypeError:
		return true
	default:
		return false
	}
}

// Message is the envelope for all WebSocket communication.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// OperationPayload is sent when a client submits an edit.
type OperationPayload struct {
	DocID        string `json:"docId"`
	BaseRevision int    `json:"baseRevision"`
	OpType       int    `json:"opType"` // 0 = insert, 1 = delete
	Position     int    `json:"position"`
	Char         string `json:"char,omitempty"`
}

// DocRequestPayload names the document of a sync, undo or redo request.
type DocRequestPayload struct {
	DocID string `json:"docId"`
}

// AckPayload confirms an operation was applied.
type AckPayload struct {
	Revision int  `json:"revision"` // The assigned revision number
	CanUndo  bool `json:"canUndo"`
	CanRedo  bool `json:"canRedo"`
}

// HistoryPayload reports the outcome of an undo or redo request.
// Revision is the document revision after the request was handled.
type HistoryPayload struct {
	DocID    string `json:"docId"`
	Revision int    `json:"revision"`
	CanUndo  bool   `json:"canUndo"`
	CanRedo  bool   `json:"canRedo"`
}

// BroadcastPayload pushes an operation to other clients.
type BroadcastPayload struct {
	DocID    string `json:"docId"`
	Revision int    `json:"revision"`
	OpType   int    `json:"opType"`
	Position int    `json:"position"`
	Char     string `json:"char,omitempty"`
	UserID   string `json:"userId"`
}

// StatePayload sends the full document state.
type StatePayload struct {
	DocID    string `json:"docId"`
	Content  string `json:"content"`
	Revision int    `json:"revision"`
}

// ErrorPayload reports an error to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrorCodeAccessDenied   = "access_denied"
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeInternalError  = "internal_error"
)
