/*
Package transport implements LocalTcpTransport (C5): a length-prefixed
framing protocol (4-byte big-endian size + payload) over loopback TCP,
grounded in the teacher's TcpConnection pattern (per-connection send
queue drained by one in-flight write, idempotent once-guarded Close).

Every connection's read loop runs on its own goroutine, but message
and close events funnel through a single per-Transport dispatch
goroutine before reaching caller-supplied handlers, so handler code
never needs to be safe for concurrent invocation from this package.
*/
package transport
