package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/maidsafe/vault-mgr/pkg/log"
)

// MaxFrameSize bounds a single frame's payload. An oversize incoming
// length prefix is treated as a protocol violation: reject and close.
const MaxFrameSize = 4 << 20 // 4 MiB

// Connection wraps one accepted or dialed loopback TCP socket with
// the length-prefixed frame protocol (§4.5, grounded in the teacher's
// TcpConnection: 4-byte big-endian size header, a per-connection send
// queue drained by one in-flight write at a time, idempotent Close).
type Connection struct {
	conn net.Conn
	port int

	sendQueue chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	events chan<- connEvent
}

type connEventKind int

const (
	eventMessage connEventKind = iota
	eventClosed
)

type connEvent struct {
	kind    connEventKind
	conn    *Connection
	payload []byte
	err     error
}

func newConnection(raw net.Conn, events chan<- connEvent) *Connection {
	port := 0
	if addr, ok := raw.RemoteAddr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	c := &Connection{
		conn:      raw,
		port:      port,
		sendQueue: make(chan []byte, 64),
		closed:    make(chan struct{}),
		events:    events,
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

// Port returns the peer's loopback port, used as the connection's
// identifier in the rest of the manager.
func (c *Connection) Port() int { return c.port }

// Send enqueues payload for the write loop; never blocks the caller
// beyond the queue being full, matching the non-blocking contract.
func (c *Connection) Send(payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("transport: payload of %d bytes exceeds max frame size %d", len(payload), MaxFrameSize)
	}
	select {
	case c.sendQueue <- payload:
		return nil
	case <-c.closed:
		return fmt.Errorf("transport: connection closed")
	}
}

// Close is idempotent; safe to call from any goroutine.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

func (c *Connection) readLoop() {
	defer c.Close()
	sizeBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(c.conn, sizeBuf); err != nil {
			c.emit(connEvent{kind: eventClosed, conn: c, err: err})
			return
		}
		size := binary.BigEndian.Uint32(sizeBuf)
		if size > MaxFrameSize {
			logger := log.WithComponent("transport")
			logger.Error().Uint32("size", size).Msg("incoming frame exceeds max size, closing connection")
			c.emit(connEvent{kind: eventClosed, conn: c, err: fmt.Errorf("frame too large")})
			return
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			c.emit(connEvent{kind: eventClosed, conn: c, err: err})
			return
		}
		c.emit(connEvent{kind: eventMessage, conn: c, payload: payload})
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case payload := <-c.sendQueue:
			frame := make([]byte, 4+len(payload))
			binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
			copy(frame[4:], payload)
			if _, err := c.conn.Write(frame); err != nil {
				logger := log.WithComponent("transport")
				logger.Error().Err(err).Msg("write failed, closing connection")
				c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) emit(ev connEvent) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}
