// Package pool keeps a bounded set of reusable client connections.
//
// Pool design: a buffered channel is the idle list. Buffered channels are
// goroutine-safe and blocking on empty is built in, so a caller waiting
// for a connection simply receives from it.
package pool

import (
	"context"
	"sync"
	"time"

	"dubbo-client/errors"
)

// Conn is a pooled connection.
type Conn interface {
	// Check reports whether the connection is still usable.
	Check() bool
	// Reconnect makes a connection that failed Check usable again.
	Reconnect() error
	Close() error
}

// Options bound the pool.
type Options struct {
	MinConnections int
	MaxConnections int
	// WaitTimeout bounds how long Get waits for a connection when
	// MaxConnections are in use.
	WaitTimeout time.Duration
	// MaxIdleTime is how long a connection may sit idle before it is closed.
	MaxIdleTime time.Duration
	// Heartbeat, if positive, is the interval at which idle connections
	// are checked and expired in the background.
	Heartbeat time.Duration
}

type idleConn[T Conn] struct {
	conn  T
	since time.Time
}

// Pool is a pool of connections created by a factory function.
type Pool[T Conn] struct {
	mu      sync.Mutex
	idle    chan idleConn[T]
	cur     int // connections created and not yet discarded
	closed  bool
	factory func() (T, error)
	opts    Options
	stop    chan struct{}
}

// New returns a pool holding opts.MinConnections connections.
func New[T Conn](factory func() (T, error), opts Options) (*Pool[T], error) {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 1
	}
	if opts.MinConnections > opts.MaxConnections {
		opts.MinConnections = opts.MaxConnections
	}
	p := &Pool[T]{
		idle:    make(chan idleConn[T], opts.MaxConnections),
		factory: factory,
		opts:    opts,
		stop:    make(chan struct{}),
	}
	for i := 0; i < opts.MinConnections; i++ {
		c, err := p.create()
		if err != nil {
			p.Close()
			return nil, err
		}
		p.idle <- idleConn[T]{c, time.Now()}
	}
	if opts.Heartbeat > 0 {
		go p.heartbeat(opts.Heartbeat)
	}
	return p, nil
}

// Get takes a connection from the pool.
// Strategy:
//  1. Take an idle connection if there is one, dropping expired ones
//  2. If none is idle but the pool is under its limit, create a new one
//  3. Otherwise wait up to WaitTimeout for one to be returned
func (p *Pool[T]) Get(ctx context.Context) (T, error) {
	const op = "pool.Get"
	var zero T
	for {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return zero, errors.E(op, errors.PoolExhausted, errors.Str("pool closed"))
		}

		select {
		case ic, ok := <-p.idle:
			if !ok {
				continue
			}
			if c, ok := p.revive(ic); ok {
				return c, nil
			}
			continue
		default:
		}

		c, err := p.create()
		if err == nil {
			return c, nil
		}
		if !errors.Is(errors.PoolExhausted, err) {
			return zero, errors.E(op, err)
		}

		timer := time.NewTimer(p.opts.WaitTimeout)
		select {
		case ic, ok := <-p.idle:
			timer.Stop()
			if !ok {
				return zero, errors.E(op, errors.PoolExhausted, errors.Str("pool closed"))
			}
			if c, ok := p.revive(ic); ok {
				return c, nil
			}
		case <-timer.C:
			return zero, errors.E(op, errors.PoolExhausted, errors.Errorf("no connection available after %v", p.opts.WaitTimeout))
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.E(op, errors.PoolExhausted, ctx.Err())
		}
	}
}

// revive returns ic's connection if it is still fresh and usable,
// discarding it otherwise.
func (p *Pool[T]) revive(ic idleConn[T]) (T, bool) {
	if p.opts.MaxIdleTime > 0 && time.Since(ic.since) > p.opts.MaxIdleTime {
		p.Discard(ic.conn)
		var zero T
		return zero, false
	}
	if !ic.conn.Check() {
		if err := ic.conn.Reconnect(); err != nil {
			p.Discard(ic.conn)
			var zero T
			return zero, false
		}
	}
	return ic.conn, true
}

// Put returns a connection to the pool.
func (p *Pool[T]) Put(c T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		c.Close()
		p.cur--
		return
	}
	select {
	case p.idle <- idleConn[T]{c, time.Now()}:
	default:
		c.Close()
		p.cur--
	}
}

// Discard closes a connection taken from the pool instead of returning it.
func (p *Pool[T]) Discard(c T) {
	c.Close()
	p.mu.Lock()
	p.cur--
	p.mu.Unlock()
}

// Len returns the number of live connections, idle or in use.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

// Close shuts down the pool and closes all idle connections. Connections
// in use are closed when they are returned.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.stop)
	close(p.idle)
	for ic := range p.idle {
		ic.conn.Close()
		p.cur--
	}
	return nil
}

// create makes a new connection unless the pool is at its limit.
// The slot is reserved under the mutex so concurrent callers never
// exceed MaxConnections.
func (p *Pool[T]) create() (T, error) {
	var zero T
	p.mu.Lock()
	if p.cur >= p.opts.MaxConnections {
		p.mu.Unlock()
		return zero, errors.E(errors.PoolExhausted, errors.Str("connection pool exhausted"))
	}
	p.cur++
	p.mu.Unlock()

	c, err := p.factory()
	if err != nil {
		p.mu.Lock()
		p.cur--
		p.mu.Unlock()
		return zero, err
	}
	return c, nil
}

// heartbeat periodically expires idle connections.
func (p *Pool[T]) heartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.reap()
		}
	}
}

// reap checks every connection idle right now once.
func (p *Pool[T]) reap() {
	n := len(p.idle)
	for i := 0; i < n; i++ {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		var ic idleConn[T]
		select {
		case ic = <-p.idle:
		default:
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		if c, ok := p.revive(ic); ok {
			p.putBack(c, ic.since)
		}
	}
}

func (p *Pool[T]) putBack(c T, since time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		c.Close()
		p.cur--
		return
	}
	select {
	case p.idle <- idleConn[T]{c, since}:
	default:
		c.Close()
		p.cur--
	}
}
