package ws

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/serroba/codoc/internal/ot"
)

// Hub tracks connected clients and fans document events out to them.
type Hub struct {
	mu     sync.RWMutex
	logger *slog.Logger

	// clients maps client ID to client
	clients map[string]*Client

	// documents maps document ID to set of client IDs
	documents map[string]map[string]struct{}
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the logger used to report failed deliveries.
func WithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// NewHub creates a new Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		logger:    slog.Default(),
		clients:   make(map[string]*Client),
		documents: make(map[string]map[string]struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
}

// Unregister removes a client from the hub and from its document.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if docID := client.DocID(); docID != "" {
		h.detach(client.ID, docID)
	}

	delete(h.clients, client.ID)
}

// Subscribe moves a client onto a document's broadcast list. A client
// follows one document at a time.
func (h *Hub) Subscribe(client *Client, docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev := client.DocID(); prev != "" && prev != docID {
		h.detach(client.ID, prev)
	}

	if h.documents[docID] == nil {
		h.documents[docID] = make(map[string]struct{})
	}

	h.documents[docID][client.ID] = struct{}{}
	client.SetDocID(docID)
}

// Unsubscribe removes a client from a document's broadcast list.
func (h *Hub) Unsubscribe(client *Client, docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.detach(client.ID, docID)

	if client.DocID() == docID {
		client.SetDocID("")
	}
}

// detach drops clientID from docID and forgets documents nobody follows.
// Callers hold h.mu.
func (h *Hub) detach(clientID, docID string) {
	clients, ok := h.documents[docID]
	if !ok {
		return
	}

	delete(clients, clientID)

	if len(clients) == 0 {
		delete(h.documents, docID)
	}
}

// Broadcast queues a message for every client subscribed to a document
// except excludeClientID. An empty excludeClientID reaches everyone.
// It never waits on a client; successive broadcasts reach each client in
// the order they were made.
func (h *Hub) Broadcast(docID string, msg Message, excludeClientID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for clientID := range h.documents[docID] {
		if clientID == excludeClientID {
			continue
		}

		client, ok := h.clients[clientID]
		if !ok {
			continue
		}

		err := client.Post(msg, func(err error) {
			h.logger.Debug("broadcast failed", "doc", docID, "client", client.ID, "error", err)
		})

		switch {
		case errors.Is(err, ErrSendQueueFull):
			// A client that misses a broadcast can no longer follow the
			// revisions, so it is cut off and has to reconnect.
			h.logger.Warn("dropping stalled client", "doc", docID, "client", client.ID)

			_ = client.Close()
		case err != nil:
			h.logger.Debug("broadcast failed", "doc", docID, "client", client.ID, "error", err)
		}
	}
}

// BroadcastOperation announces a sequenced operation to a document's clients.
func (h *Hub) BroadcastOperation(docID string, op ot.SequencedOperation, excludeClientID string) {
	h.Broadcast(docID, Message{
		Type: MessageTypeBroadcast,
		Payload: BroadcastPayload{
			DocID:    docID,
			Revision: op.Revision,
			OpType:   int(op.Type),
			Position: op.Position,
			Char:     op.Char,
			UserID:   op.UserID,
		},
	}, excludeClientID)
}

// ClientCount returns the number of clients subscribed to a document.
func (h *Hub) ClientCount(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.documents[docID])
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
