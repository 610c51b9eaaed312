package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Client errors.
var (
	ErrClientClosed   = errors.New("client is closed")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrSendQueueFull  = errors.New("send queue is full")
)

// sendQueueSize bounds the messages waiting to be written to one client.
const sendQueueSize = 256

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// outgoing is a queued message; done, when set, gets the write result.
type outgoing struct {
	msg  Message
	done func(error)
}

// Client represents a connected user. Everything sent to it goes through
// one queue drained by a single writer, so messages arrive in the order
// they were handed over.
type Client struct {
	ID     string
	UserID string
	conn   Conn

	outbox      chan outgoing
	quit        chan struct{}
	writerStart sync.Once

	mu     sync.Mutex
	docID  string // Currently subscribed document
	closed bool
}

// NewClient creates a new client wrapper.
func NewClient(id, userID string, conn Conn) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		conn:   conn,
		outbox: make(chan outgoing, sendQueueSize),
		quit:   make(chan struct{}),
	}
}

// Send sends a message to the client and waits until it is written.
func (c *Client) Send(msg Message) error {
	result := make(chan error, 1)

	err := c.enqueue(outgoing{msg: msg, done: func(err error) { result <- err }}, true)
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-c.quit:
		return ErrClientClosed
	}
}

// Post queues a message without waiting for it. A failed write is handed
// to onFail when it is not nil. Post returns ErrSendQueueFull instead of
// blocking when the client has fallen too far behind.
func (c *Client) Post(msg Message, onFail func(error)) error {
	out := outgoing{msg: msg}

	if onFail != nil {
		out.done = func(err error) {
			if err != nil {
				onFail(err)
			}
		}
	}

	return c.enqueue(out, false)
}

// SendError sends an error message to the client.
func (c *Client) SendError(code, message string) error {
	return c.Send(Message{
		Type: MessageTypeError,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}

func (c *Client) enqueue(out outgoing, wait bool) error {
	if c.isClosed() {
		return ErrClientClosed
	}

	c.writerStart.Do(func() { go c.writeLoop() })

	if wait {
		select {
		case c.outbox <- out:
			return nil
		case <-c.quit:
			return ErrClientClosed
		}
	}

	select {
	case c.outbox <- out:
		return nil
	case <-c.quit:
		return ErrClientClosed
	default:
		return ErrSendQueueFull
	}
}

// writeLoop is the only goroutine writing to the connection.
func (c *Client) writeLoop() {
	for {
		select {
		case <-c.quit:
			return
		case out := <-c.outbox:
			err := c.conn.WriteJSON(out.msg)
			if out.done != nil {
				out.done(err)
			}
		}
	}
}

// Receive reads the next message from the client. A message whose payload
// does not decode yields an error wrapping ErrInvalidPayload; the
// connection stays usable. Any other error means the connection is gone.
func (c *Client) Receive() (Message, error) {
	var raw struct {
		Type    MessageType     `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}

	if err := c.conn.ReadJSON(&raw); err != nil {
		return Message{}, err
	}

	payload, err := decodePayload(raw.Type, raw.Payload)
	if err != nil {
		return Message{Type: raw.Type}, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, raw.Type, err)
	}

	return Message{Type: raw.Type, Payload: payload}, nil
}

// decodePayload turns the payload of a client message into its typed form.
// Server-to-client and unknown types keep the raw JSON.
func decodePayload(msgType MessageType, raw json.RawMessage) (any, error) {
	switch msgType {
	case MessageTypeOperation:
		var payload OperationPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}

		return payload, nil
	case MessageTypeSync, MessageTypeUndo, MessageTypeRedo:
		var payload DocRequestPayload
		if len(raw) == 0 || string(raw) == "null" {
			return payload, nil
		}

		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}

		return payload, nil
	default:
		return raw, nil
	}
}

// Close closes the client connection and drops unsent messages. Later
// sends fail with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	close(c.quit)
	c.mu.Unlock()

	return c.conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// DocID returns the document the client is subscribed to.
func (c *Client) DocID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.docID
}

// SetDocID sets the document the client is subscribed to.
func (c *Client) SetDocID(docID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.docID = docID
}
