package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/maidsafe/vault-mgr/pkg/log"
	"github.com/maidsafe/vault-mgr/pkg/metrics"
	"github.com/maidsafe/vault-mgr/pkg/wire"
)

// MessageHandler is invoked for each frame received on any connection
// owned by a Transport. All invocations happen on the Transport's
// single dispatch goroutine (§4.5): handlers must not block it.
type MessageHandler func(conn *Connection, payload []byte)

// ErrorHandler is invoked when a connection closes, whether cleanly
// or due to a transport error. The connection's read loop has ended by
// the time this fires; the connection is closed right after the event
// is queued, so the close may still be in progress.
type ErrorHandler func(conn *Connection, err error)

// Transport is a LocalTcpTransport (C5): a TCP listener bound to
// loopback, dispatching every message-received and connection-closed
// event through one executor goroutine so handler code never races
// with itself.
type Transport struct {
	listener net.Listener

	onMessage MessageHandler
	onError   ErrorHandler

	events chan connEvent
	done   chan struct{}

	mu          sync.Mutex
	connections map[*Connection]struct{}
}

// Listen binds a Transport to the given loopback port (0 picks an
// ephemeral port) and starts its accept and dispatch loops.
func Listen(port int, onMessage MessageHandler, onError ErrorHandler) (*Transport, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("[::1]:%d", port))
	if err != nil {
		return nil, fmt.Errorf("transport: listen on port %d: %w", port, err)
	}
	t := &Transport{
		listener:    ln,
		onMessage:   onMessage,
		onError:     onError,
		events:      make(chan connEvent, 256),
		done:        make(chan struct{}),
		connections: make(map[*Connection]struct{}),
	}
	go t.acceptLoop()
	go t.dispatchLoop()
	return t, nil
}

// ListenRange tries ports in [minPort, maxPort] in order, returning
// the first one that binds successfully (§4.7 step 1).
func ListenRange(minPort, maxPort int, onMessage MessageHandler, onError ErrorHandler) (*Transport, error) {
	var lastErr error
	for port := minPort; port <= maxPort; port++ {
		t, err := Listen(port, onMessage, onError)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("transport: no free port in [%d, %d]: %w", minPort, maxPort, lastErr)
}

// Port returns the bound listener's port.
func (t *Transport) Port() int {
	if addr, ok := t.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Dial connects to a manager or worker's loopback listener and
// registers the resulting connection with this Transport's dispatch
// loop, just like an accepted connection.
func (t *Transport) Dial(port int) (*Connection, error) {
	raw, err := net.Dial("tcp", fmt.Sprintf("[::1]:%d", port))
	if err != nil {
		return nil, fmt.Errorf("transport: dial port %d: %w", port, err)
	}
	c := newConnection(raw, t.events)
	t.track(c)
	return c, nil
}

// Close shuts down the listener and every connection it owns.
func (t *Transport) Close() {
	t.listener.Close()
	t.mu.Lock()
	conns := make([]*Connection, 0, len(t.connections))
	for c := range t.connections {
		conns = append(conns, c)
	}
	t.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	close(t.done)
}

func (t *Transport) acceptLoop() {
	for {
		raw, err := t.listener.Accept()
		if err != nil {
			return
		}
		c := newConnection(raw, t.events)
		t.track(c)
	}
}

func (t *Transport) track(c *Connection) {
	t.mu.Lock()
	t.connections[c] = struct{}{}
	t.mu.Unlock()
}

func (t *Transport) untrack(c *Connection) {
	t.mu.Lock()
	delete(t.connections, c)
	t.mu.Unlock()
}

// dispatchLoop is the transport's single executor thread: every
// message-received and connection-closed callback runs here, in
// order, never concurrently with another event from this transport.
func (t *Transport) dispatchLoop() {
	for {
		select {
		case ev := <-t.events:
			switch ev.kind {
			case eventMessage:
				if env, err := wire.Decode(ev.payload); err == nil {
					metrics.MessagesTotal.WithLabelValues(env.Type.String(), "in").Inc()
				}
				if t.onMessage != nil {
					t.onMessage(ev.conn, ev.payload)
				}
			case eventClosed:
				t.untrack(ev.conn)
				if t.onError != nil {
					t.onError(ev.conn, ev.err)
				} else {
					logger := log.WithComponent("transport")
					logger.Debug().Err(ev.err).Msg("connection closed")
				}
			}
		case <-t.done:
			return
		}
	}
}
