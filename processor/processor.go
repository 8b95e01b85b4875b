// Package processor executes one call against a set of candidate
// providers: choose a provider, connect, send the request frame, receive
// and decode the response frame.
//
// A Processor holds no per-call state and can be shared freely.
package processor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dubbo-client/endpoint"
	"dubbo-client/errors"
	"dubbo-client/loadbalance"
	"dubbo-client/message"
	"dubbo-client/protocol"
	"dubbo-client/transport"
)

const (
	// maxConnectTries bounds the providers tried per call.
	maxConnectTries = 2
	// logLimit caps the request rendering in send failure logs, in runes.
	logLimit = 512
)

// Result is the outcome of a successful call.
type Result struct {
	Value    any
	Provider string // host:port that served the call
}

// Processor runs calls.
type Processor struct {
	dial     transport.Dialer
	balancer loadbalance.Balancer
	logger   *zap.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithDialer sets the transport factory. The default dials TCP.
func WithDialer(d transport.Dialer) Option {
	return func(p *Processor) { p.dial = d }
}

// WithBalancer sets the provider selection strategy. The default is uniform random.
func WithBalancer(b loadbalance.Balancer) Option {
	return func(p *Processor) { p.balancer = b }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// New returns a Processor.
func New(opts ...Option) *Processor {
	p := &Processor{
		balancer: &loadbalance.RandomBalancer{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.dial == nil {
		p.dial = transport.TCPDialer(p.logger)
	}
	return p
}

// Execute sends req to one of candidates and returns the decoded result.
//
// At most min(len(candidates), 2) providers are tried. A refused
// connection moves on to the next provider; a connect timeout ends the
// attempts. Once connected, no other provider is tried: send and receive
// failures are returned as they are. ioTimeout bounds the connect, each
// read and write, and the whole body transfer; a deadline on ctx bounds
// them too.
func (p *Processor) Execute(ctx context.Context, req message.Request, candidates []*endpoint.URL, ioTimeout time.Duration) (*Result, error) {
	const op = "processor.Execute"
	t, call, err := p.connectAny(ctx, req, candidates, ioTimeout)
	if err != nil {
		return nil, errors.E(op, err)
	}
	addr := errors.Addr(call.Address())
	resp, err := p.roundTrip(ctx, t, &call, ioTimeout)
	if err != nil {
		t.Close(true)
		return nil, errors.E(op, addr, err)
	}
	if err := t.Close(false); err != nil {
		p.logger.Debug("close transport", zap.String("provider", call.Address()), zap.Error(err))
	}
	return &Result{Value: resp.Result, Provider: call.Address()}, nil
}

// Ping sends a heartbeat to u and returns the provider's answer.
func (p *Processor) Ping(ctx context.Context, u *endpoint.URL, ioTimeout time.Duration) (any, error) {
	const op = "processor.Ping"
	hb := message.NewRequest("", "", nil, nil)
	hb.Heartbeat = true
	call := hb.ForProvider(u, ioTimeout)

	t, code, err := p.connect(u, ioTimeout)
	if err != nil {
		return nil, errors.E(op, errors.ConnectionFailed, errors.Addr(u.Address()), errors.Errorf("errcode %d: %v", code, err))
	}
	resp, err := p.roundTrip(ctx, t, &call, ioTimeout)
	if err != nil {
		t.Close(true)
		return nil, errors.E(op, errors.Addr(u.Address()), err)
	}
	t.Close(false)
	return resp.Result, nil
}

// connectAny connects to one of candidates and returns the transport
// together with the request addressed to the chosen provider.
func (p *Processor) connectAny(ctx context.Context, req message.Request, candidates []*endpoint.URL, ioTimeout time.Duration) (transport.Transport, message.Request, error) {
	remaining := append([]*endpoint.URL(nil), candidates...)
	tries := min(len(remaining), maxConnectTries)
	key := req.Service + "." + req.Method

	for i := 0; i < tries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, req, errors.E(errors.ConnectionFailed, err)
		}
		idx, err := p.balancer.Pick(remaining, key)
		if err != nil {
			break
		}
		u := remaining[idx]
		t, code, err := p.connect(u, ioTimeout)
		if err == nil {
			return t, req.ForProvider(u, ioTimeout), nil
		}
		remaining = append(remaining[:idx:idx], remaining[idx+1:]...)
		if code == transport.CodeTimedOut || code == transport.CodeInProgress {
			break
		}
	}
	return nil, req, errors.E(errors.ConnectionFailed, errors.Errorf("no provider of %s could be reached", req.Service))
}

// connect dials one provider. On failure it returns the transport's
// error code.
func (p *Processor) connect(u *endpoint.URL, ioTimeout time.Duration) (transport.Transport, int, error) {
	start := time.Now()
	t, err := p.dial(ioTimeout)
	if err != nil {
		p.logger.Error("connect provider exception", zap.String("provider", u.Address()), zap.Error(err))
		return nil, transport.CodeUnknownError, err
	}
	if err := t.Connect(u.Host(), u.Port(), ioTimeout); err != nil {
		code := t.LastErrorCode()
		p.logger.Error("connect to server failed",
			zap.String("provider", u.Address()),
			zap.Duration("timeout", ioTimeout),
			zap.Int64("cost_us", time.Since(start).Microseconds()),
			zap.Int("errcode", code))
		return nil, code, err
	}
	p.logger.Debug("connected to server",
		zap.String("provider", u.Address()),
		zap.Duration("timeout", ioTimeout),
		zap.Int64("cost_us", time.Since(start).Microseconds()))
	return t, transport.CodeNone, nil
}

// roundTrip sends call over t and reads its response. It never closes t.
func (p *Processor) roundTrip(ctx context.Context, t transport.Transport, call *message.Request, ioTimeout time.Duration) (*message.Response, error) {
	frame, err := protocol.PackRequest(call)
	if err != nil {
		return nil, errors.E(errors.SendFailed, err)
	}
	t.SetDeadline(deadline(ctx, ioTimeout))
	if err := t.Send(frame); err != nil {
		rendered := message.Truncate(call.String(), logLimit)
		p.logger.Error("send data failed", zap.String("request", rendered), zap.Error(err))
		return nil, errors.E(errors.SendFailed, errors.Errorf("send %s: %v", rendered, err))
	}

	hdr, err := recvExact(ctx, t, protocol.HeaderSize, deadline(ctx, ioTimeout))
	if err != nil {
		return nil, err
	}
	resp, err := protocol.ParseResponseHeader(hdr)
	if err != nil {
		return nil, err
	}
	if resp.Seq != call.Seq {
		p.logger.Error("response sequence mismatch", zap.Uint64("response", resp.Seq), zap.Uint64("request", call.Seq))
		return nil, errors.E(errors.SequenceMismatch, errors.Errorf("response sn %d != request sn %d", resp.Seq, call.Seq))
	}

	// The body arrives in chunks of at most MaxRecvLen, all within one
	// ioTimeout. The declared length is not trusted for allocation.
	end := deadline(ctx, ioTimeout)
	body := make([]byte, 0, min(int(resp.Len), protocol.MaxRecvLen))
	for left := int(resp.Len); left > 0; {
		n := min(left, protocol.MaxRecvLen)
		chunk, err := recvExact(ctx, t, n, end)
		if err != nil {
			p.logger.Error("multi recv data failed", zap.Int("left", left), zap.Error(err))
			return nil, err
		}
		body = append(body, chunk...)
		left -= n
	}
	resp.Body = body

	if err := protocol.ParseResponseBody(resp); err != nil {
		if !errors.Is(errors.ProviderError, err) {
			p.logger.Error("parse response body failed", zap.Stringer("response", resp), zap.Error(err))
		}
		return nil, err
	}
	return resp, nil
}

// recvExact reads exactly n bytes from t, giving up at deadline. A
// failed read is reported as PeerClosed if the peer went away and as
// ReceiveTimeout otherwise.
func recvExact(ctx context.Context, t transport.Transport, n int, deadline time.Time) ([]byte, error) {
	buf := make([]byte, 0, n)
	for len(buf) < n {
		if err := ctx.Err(); err != nil {
			return nil, errors.E(errors.ReceiveTimeout, err)
		}
		if !time.Now().Before(deadline) {
			return nil, errors.E(errors.ReceiveTimeout, errors.Errorf("received %d of %d bytes", len(buf), n))
		}
		t.SetDeadline(deadline)
		data, err := t.Recv(n - len(buf))
		if err != nil || len(data) == 0 {
			if err == nil {
				err = errors.Errorf("recv %d bytes returned nothing", n-len(buf))
			}
			switch t.LastErrorCode() {
			case transport.CodeNone, transport.CodeConnReset:
				return nil, errors.E(errors.PeerClosed, err)
			}
			return nil, errors.E(errors.ReceiveTimeout, err)
		}
		buf = append(buf, data...)
	}
	return buf, nil
}

// deadline returns now+ioTimeout, or ctx's deadline if that is earlier.
func deadline(ctx context.Context, ioTimeout time.Duration) time.Time {
	d := time.Now().Add(ioTimeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}
