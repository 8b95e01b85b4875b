// Package providertest runs a Dubbo provider on the loopback interface for
// tests. It speaks both body serializations, answers heartbeats, and can
// be told to misbehave.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (reads frames one after another)
//	  → protocol.ReadRequest → faults → handle (reflect.Call) → protocol.PackResponse → write
package providertest

import (
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dubbo-client/codec"
	"dubbo-client/message"
	"dubbo-client/protocol"
)

// Faults make the server misbehave.
type Faults struct {
	// Status, if set, replaces the OK status; the body is ErrorMsg.
	Status   byte
	ErrorMsg string
	// WrongSeq answers with a sequence number other than the request's.
	WrongSeq bool
	// Chunk, if positive, writes the response frame in pieces of Chunk
	// bytes, ChunkDelay apart.
	Chunk      int
	ChunkDelay time.Duration
	// Truncate, if positive, drops that many bytes from the end of the
	// frame and closes the connection.
	Truncate int
	// Delay is waited before answering.
	Delay time.Duration
	// Silent reads requests and never answers.
	Silent bool
	// Hangup closes the connection after reading a request.
	Hangup bool
}

// Server is a test provider.
type Server struct {
	services map[string]*service // "com.x.Greeter" → *service
	listener net.Listener
	wg       sync.WaitGroup
	shutdown atomic.Bool
	logger   *zap.Logger

	mu       sync.Mutex
	faults   Faults
	last     *message.Request
	conns    map[net.Conn]struct{}
	requests atomic.Int64
}

// NewServer creates a server with no services. A nil logger discards logs.
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		services: make(map[string]*service),
		conns:    make(map[net.Conn]struct{}),
		logger:   logger,
	}
}

// Register exposes the methods of rcvr as the remote service name. rcvr
// must be a pointer to a struct; see service for the accepted methods.
func (s *Server) Register(name string, rcvr any) error {
	svc, err := newService(name, rcvr)
	if err != nil {
		return err
	}
	s.services[name] = svc
	s.logger.Debug("register service", zap.Stringer("service", svc))
	return nil
}

// Start listens on a free loopback port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	s.listener = ln
	go s.serve()
	return nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.shutdown.Load() {
				s.logger.Error("accept failed", zap.Error(err))
			}
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Addr returns host:port the server listens on.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Port returns the port the server listens on.
func (s *Server) Port() int { return s.listener.Addr().(*net.TCPAddr).Port }

// URL returns the provider URL of service on this server with the given
// query parameters, as it would be published in a registry.
func (s *Server) URL(service string, params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	u := "dubbo://" + s.Addr() + "/" + service
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// SetFaults replaces the faults applied to subsequent requests.
func (s *Server) SetFaults(f Faults) {
	s.mu.Lock()
	s.faults = f
	s.mu.Unlock()
}

func (s *Server) currentFaults() Faults {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faults
}

// Requests returns the number of request frames read so far.
func (s *Server) Requests() int { return int(s.requests.Load()) }

// LastRequest returns the last request read, or nil.
func (s *Server) LastRequest() *message.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// handleConn serves one connection. Requests on a connection are answered
// in order.
func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.wg.Done()
	}()
	for {
		req, err := protocol.ReadRequest(conn)
		if req == nil {
			return // connection closed or not a request frame
		}
		s.requests.Add(1)
		s.mu.Lock()
		s.last = req
		s.mu.Unlock()

		f := s.currentFaults()
		if f.Hangup {
			return
		}
		if f.Silent {
			continue
		}

		var resp *message.Response
		if err != nil {
			resp = &message.Response{Status: message.StatusBadRequest, ErrorMsg: err.Error()}
		} else {
			resp = s.handle(req)
		}
		resp.Seq = req.Seq
		resp.Serialization = req.Serialization
		resp.Heartbeat = req.Heartbeat
		if f.Status != 0 {
			resp.Status, resp.ErrorMsg, resp.Result = f.Status, f.ErrorMsg, nil
		}
		if f.WrongSeq {
			resp.Seq++
		}
		if f.Delay > 0 {
			time.Sleep(f.Delay)
		}
		if !s.write(conn, resp, f) {
			return
		}
	}
}

// handle runs one request against the registered services.
func (s *Server) handle(req *message.Request) *message.Response {
	resp := &message.Response{Status: message.StatusOK}
	if req.Heartbeat {
		return resp
	}
	method, params := req.Method, req.Params
	if method == codec.GenericMethod && len(params) == 3 {
		// hessian2 leaves a generic call as ($invoke, [name, types, args])
		name, _ := params[0].(string)
		args, _ := params[2].([]any)
		method, params = name, args
	}

	svc, ok := s.services[req.Service]
	if !ok {
		resp.Status = message.StatusServiceNotFound
		resp.ErrorMsg = fmt.Sprintf("service %s not found", req.Service)
		return resp
	}
	m, ok := svc.method[method]
	if !ok {
		resp.ErrorMsg = fmt.Sprintf("no such method %s in service %s", method, req.Service)
		return resp
	}
	result, err := svc.call(m, params)
	if err != nil {
		resp.ErrorMsg = err.Error()
		return resp
	}
	resp.Result = result
	return resp
}

func (s *Server) write(conn net.Conn, resp *message.Response, f Faults) bool {
	frame, err := protocol.PackResponse(resp)
	if err != nil {
		s.logger.Error("pack response failed", zap.Uint64("sn", resp.Seq), zap.Error(err))
		return false
	}
	if f.Truncate > 0 {
		conn.Write(frame[:max(len(frame)-f.Truncate, 0)])
		return false
	}
	if f.Chunk <= 0 {
		_, err := conn.Write(frame)
		return err == nil
	}
	for len(frame) > 0 {
		n := min(f.Chunk, len(frame))
		if _, err := conn.Write(frame[:n]); err != nil {
			return false
		}
		frame = frame[n:]
		if len(frame) > 0 && f.ChunkDelay > 0 {
			time.Sleep(f.ChunkDelay)
		}
	}
	return true
}

// Shutdown stops accepting, closes open connections and waits up to
// timeout for their handlers to return.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)
	s.listener.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for connections to close")
	}
}
