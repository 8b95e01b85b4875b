// Package transport implements the byte stream the executor talks to a
// provider over.
//
// A Transport is used for exactly one call: connect, send one request
// frame, read one response frame, close. Connection-level failures are
// reported through LastErrorCode so the caller can tell a refused
// connection (try another provider) from a timeout (give up).
package transport

import (
	"syscall"
	"time"
)

// Error codes reported by LastErrorCode. Zero means the peer closed the
// connection cleanly or no error occurred.
const (
	CodeNone         = 0
	CodeConnReset    = int(syscall.ECONNRESET)
	CodeTimedOut     = int(syscall.ETIMEDOUT)
	CodeConnRefused  = int(syscall.ECONNREFUSED)
	CodeInProgress   = int(syscall.EINPROGRESS)
	CodeUnknownError = -1
)

// Transport is one connection to a provider.
type Transport interface {
	// Connect dials host:port, failing if it takes longer than timeout.
	Connect(host string, port int, timeout time.Duration) error
	// Send writes all of b.
	Send(b []byte) error
	// SetDeadline bounds later reads and writes by d as well as by the
	// ioTimeout of each operation. The zero time removes the bound.
	SetDeadline(d time.Time)
	// Recv reads at most max bytes. It returns an error and no data if the
	// peer closed the connection or nothing arrived in time.
	Recv(max int) ([]byte, error)
	// Close releases the connection. A forced close resets it instead of
	// shutting it down gracefully.
	Close(force bool) error
	// LastErrorCode returns the system error code of the last failed
	// operation, CodeNone after an orderly close by the peer.
	LastErrorCode() int
}

// Dialer returns a fresh, unconnected Transport whose reads and writes
// are bounded by ioTimeout.
type Dialer func(ioTimeout time.Duration) (Transport, error)
