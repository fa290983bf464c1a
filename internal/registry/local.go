// Package registry implements the connection registry: a local in-memory
// socket table owned exclusively by the accepting instance, plus the
// shared (cross-instance) connection directory backed by Redis.
//
// Every local connection gets a bounded outbound channel drained by its
// own writer goroutine, so broadcast fan-out never becomes a second
// writer racing the connection's own pump.
package registry

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// sendBuffer caps each connection's outbound queue: a slow consumer is
// dropped rather than allowed to block delivery to everyone else on the
// channel.
const sendBuffer = 256

// Meta is the bookkeeping the registry keeps for one local connection.
type Meta struct {
	ConnID      string
	UserID      string
	IP          string
	ClientType  string // "web" or "mobile"
	InstanceID  string
	ConnectedAt time.Time
}

// Conn bundles a socket with its bounded outbound queue. Exactly one
// goroutine (started alongside Register) drains Send and writes to Socket;
// every other goroutine that wants to deliver a frame writes to Send, never
// to Socket directly.
type Conn struct {
	Socket *websocket.Conn
	Send   chan []byte
	Meta   Meta
}

// Local is the in-memory half of the registry: one process's view of its
// own sockets. Reads (SendText, Meta, Count) and the only writer
// (Register/Unregister) are synchronized with a mutex; SendText keeps
// the read lock across its non-blocking channel send.
type Local struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewLocal constructs an empty Local registry.
func NewLocal() *Local {
	return &Local{conns: make(map[string]*Conn)}
}

// Register adds a socket and its metadata under connID, returning the
// Conn whose bounded Send channel the caller's write-pump goroutine
// should drain.
func (l *Local) Register(connID string, socket *websocket.Conn, meta Meta) *Conn {
	c := &Conn{Socket: socket, Send: make(chan []byte, sendBuffer), Meta: meta}
	l.mu.Lock()
	l.conns[connID] = c
	l.mu.Unlock()
	return c
}

// Unregister removes connID and closes its Send channel, signalling the
// write-pump goroutine to exit. A no-op if connID isn't present. The
// close happens under the write lock so it cannot race a SendText holding
// the read lock.
func (l *Local) Unregister(connID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.conns[connID]
	if !ok {
		return
	}
	delete(l.conns, connID)
	close(c.Send)
}

// Meta returns the metadata recorded for connID.
func (l *Local) Meta(connID string) (Meta, bool) {
	l.mu.RLock()
	c, ok := l.conns[connID]
	l.mu.RUnlock()
	if !ok {
		return Meta{}, false
	}
	return c.Meta, true
}

// Count returns the number of locally registered connections.
func (l *Local) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.conns)
}

// SendText enqueues payload on connID's outbound channel. It returns false
// (a miss, not an error) when connID isn't registered locally or its
// channel is full. A full channel means a slow consumer: rather than
// block the caller (the delivery engine, serving every other subscriber
// too), the frame is not queued and that connection's socket is closed,
// so the session's read pump exits and tears the connection down.
//
// The read lock is held across the send itself: Unregister closes the
// channel under the write lock, so a send here can never hit a channel
// that is being closed concurrently. The send is non-blocking, so the
// lock is never held waiting on a consumer.
func (l *Local) SendText(connID string, payload []byte) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.conns[connID]
	if !ok {
		return false
	}
	select {
	case c.Send <- payload:
		return true
	default:
		if c.Socket != nil {
			c.Socket.Close()
		}
		return false
	}
}
