package transport

import (
	goerrors "errors"
	"io"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"dubbo-client/errors"
)

// TCPTransport is a Transport over a plain TCP connection.
type TCPTransport struct {
	network   string
	ioTimeout time.Duration
	conn      net.Conn
	deadline  time.Time
	lastErr   int
	logger    *zap.Logger
}

// NewTCP returns an unconnected transport for network, which must be one
// of "tcp", "tcp4" or "tcp6".
func NewTCP(network string, ioTimeout time.Duration, logger *zap.Logger) (*TCPTransport, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, errors.E("transport.NewTCP", errors.IO, errors.Errorf("transport unavailable: network %q", network))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCPTransport{network: network, ioTimeout: ioTimeout, logger: logger}, nil
}

// TCPDialer returns a Dialer producing TCP transports.
func TCPDialer(logger *zap.Logger) Dialer {
	return func(ioTimeout time.Duration) (Transport, error) {
		return NewTCP("tcp", ioTimeout, logger)
	}
}

func (t *TCPTransport) Connect(host string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	d := net.Dialer{Timeout: timeout}
	conn, err := d.Dial(t.network, addr)
	if err != nil {
		t.lastErr = errorCode(err)
		return errors.E("transport.Connect", errors.IO, errors.Addr(addr), err)
	}
	t.conn = conn
	t.lastErr = CodeNone
	return nil
}

func (t *TCPTransport) SetDeadline(d time.Time) {
	t.deadline = d
}

// ioDeadline is now+ioTimeout, or the deadline set by SetDeadline if
// that comes first.
func (t *TCPTransport) ioDeadline() time.Time {
	d := time.Now().Add(t.ioTimeout)
	if !t.deadline.IsZero() && t.deadline.Before(d) {
		return t.deadline
	}
	return d
}

func (t *TCPTransport) Send(b []byte) error {
	const op = "transport.Send"
	if t.conn == nil {
		return errors.E(op, errors.IO, errors.Str("not connected"))
	}
	if err := t.conn.SetWriteDeadline(t.ioDeadline()); err != nil {
		t.lastErr = errorCode(err)
		return errors.E(op, errors.IO, err)
	}
	for len(b) > 0 {
		n, err := t.conn.Write(b)
		if err != nil {
			t.lastErr = errorCode(err)
			return errors.E(op, errors.IO, errors.Addr(t.conn.RemoteAddr().String()), err)
		}
		b = b[n:]
	}
	return nil
}

func (t *TCPTransport) Recv(max int) ([]byte, error) {
	const op = "transport.Recv"
	if t.conn == nil {
		return nil, errors.E(op, errors.IO, errors.Str("not connected"))
	}
	if err := t.conn.SetReadDeadline(t.ioDeadline()); err != nil {
		t.lastErr = errorCode(err)
		return nil, errors.E(op, errors.IO, err)
	}
	buf := make([]byte, max)
	n, err := t.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	t.lastErr = errorCode(err)
	return nil, errors.E(op, errors.IO, errors.Addr(t.conn.RemoteAddr().String()), err)
}

func (t *TCPTransport) Close(force bool) error {
	if t.conn == nil {
		return nil
	}
	conn := t.conn
	t.conn = nil
	if tc, ok := conn.(*net.TCPConn); ok && force {
		// Discard unsent data and send RST.
		if err := tc.SetLinger(0); err != nil {
			t.logger.Debug("set linger failed", zap.Error(err))
		}
	}
	return conn.Close()
}

func (t *TCPTransport) LastErrorCode() int {
	return t.lastErr
}

// errorCode maps a network error to the system error code it carries.
func errorCode(err error) int {
	if err == nil || goerrors.Is(err, io.EOF) {
		return CodeNone
	}
	if goerrors.Is(err, os.ErrDeadlineExceeded) {
		return CodeTimedOut
	}
	var ne net.Error
	if goerrors.As(err, &ne) && ne.Timeout() {
		return CodeTimedOut
	}
	var errno syscall.Errno
	if goerrors.As(err, &errno) {
		return int(errno)
	}
	return CodeUnknownError
}
