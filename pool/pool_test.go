package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"dubbo-client/errors"
)

type fakeConn struct {
	id         int
	healthy    bool
	reconnects int
	closed     bool
	failRecon  bool
}

func (c *fakeConn) Check() bool { return c.healthy }

func (c *fakeConn) Reconnect() error {
	c.reconnects++
	if c.failRecon {
		return errors.Str("reconnect failed")
	}
	c.healthy = true
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func factory(created *atomic.Int32) func() (*fakeConn, error) {
	return func() (*fakeConn, error) {
		n := created.Add(1)
		return &fakeConn{id: int(n), healthy: true}, nil
	}
}

func TestPrefillAndReuse(t *testing.T) {
	var created atomic.Int32
	p, err := New(factory(&created), Options{MinConnections: 2, MaxConnections: 3, WaitTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if created.Load() != 2 || p.Len() != 2 {
		t.Fatalf("prefill created %d, len %d", created.Load(), p.Len())
	}

	c, err := p.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	p.Put(c)
	c2, _ := p.Get(context.Background())
	if created.Load() != 2 {
		t.Fatalf("reuse created a new connection")
	}
	p.Put(c2)
}

func TestExhausted(t *testing.T) {
	var created atomic.Int32
	p, _ := New(factory(&created), Options{MaxConnections: 2, WaitTimeout: 50 * time.Millisecond})
	defer p.Close()

	a, _ := p.Get(context.Background())
	b, _ := p.Get(context.Background())
	if a == nil || b == nil {
		t.Fatal("expect two connections")
	}

	start := time.Now()
	_, err := p.Get(context.Background())
	if !errors.Is(errors.PoolExhausted, err) {
		t.Fatalf("expect PoolExhausted, got %v", err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatalf("Get gave up after %v, before the wait timeout", time.Since(start))
	}

	// A connection returned while waiting is handed over.
	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Put(a)
	}()
	c, err := p.Get(context.Background())
	if err != nil || c != a {
		t.Fatalf("expect returned connection, got %v, %v", c, err)
	}
}

func TestIdleExpiry(t *testing.T) {
	var created atomic.Int32
	p, _ := New(factory(&created), Options{MinConnections: 1, MaxConnections: 1, MaxIdleTime: 10 * time.Millisecond, WaitTimeout: time.Second})
	defer p.Close()
	time.Sleep(20 * time.Millisecond)

	c, err := p.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.id != 2 {
		t.Fatalf("expect a fresh connection, got id %d", c.id)
	}
}

func TestReconnectUnhealthy(t *testing.T) {
	var created atomic.Int32
	p, _ := New(factory(&created), Options{MaxConnections: 1, WaitTimeout: time.Second})
	defer p.Close()

	c, _ := p.Get(context.Background())
	c.healthy = false
	p.Put(c)
	c, _ = p.Get(context.Background())
	if c.reconnects != 1 || !c.healthy {
		t.Fatalf("expect reconnect, got %+v", c)
	}

	c.healthy, c.failRecon = false, true
	p.Put(c)
	c2, err := p.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !c.closed || c2 == c {
		t.Fatalf("expect broken connection replaced")
	}
}

func TestDiscardAndClose(t *testing.T) {
	var created atomic.Int32
	p, _ := New(factory(&created), Options{MinConnections: 1, MaxConnections: 2})
	c, _ := p.Get(context.Background())
	p.Discard(c)
	if !c.closed || p.Len() != 0 {
		t.Fatalf("discard: closed=%v len=%d", c.closed, p.Len())
	}

	d, _ := p.Get(context.Background())
	e, _ := p.Get(context.Background())
	p.Put(d)
	p.Close()
	if !d.closed {
		t.Fatal("idle connection not closed by Close")
	}
	p.Put(e)
	if !e.closed {
		t.Fatal("connection returned after Close not closed")
	}
	if _, err := p.Get(context.Background()); !errors.Is(errors.PoolExhausted, err) {
		t.Fatalf("Get after Close = %v", err)
	}
}

func TestHeartbeatReaps(t *testing.T) {
	var created atomic.Int32
	p, _ := New(factory(&created), Options{
		MinConnections: 1, MaxConnections: 1,
		MaxIdleTime: 5 * time.Millisecond, Heartbeat: 10 * time.Millisecond,
	})
	defer p.Close()
	time.Sleep(50 * time.Millisecond)
	if p.Len() != 0 {
		t.Fatalf("idle connection not reaped, len %d", p.Len())
	}
}
