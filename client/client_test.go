package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"dubbo-client/config"
	"dubbo-client/discovery"
	"dubbo-client/errors"
	"dubbo-client/providertest"
)

type Point struct {
	X, Y int
}

type Greeter struct{}

func (g *Greeter) SayHello(name string) (string, error) { return "hello " + name, nil }
func (g *Greeter) Add(a, b int64) (int64, error)        { return a + b, nil }
func (g *Greeter) Norm(p Point) (int, error)            { return p.X*p.X + p.Y*p.Y, nil }
func (g *Greeter) Nothing() (any, error)                { return nil, nil }
func (g *Greeter) Fail() (string, error)                { return "", stderrors.New("greeter is broken") }

const greeter = "com.x.Greeter"

func startGreeter(t *testing.T) *providertest.Server {
	t.Helper()
	s := providertest.NewServer(nil)
	if err := s.Register(greeter, &Greeter{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Shutdown(time.Second) })
	return s
}

func providerURL(s *providertest.Server, serialization string) string {
	return s.URL(greeter, map[string]string{
		"version":       "1.0.0",
		"group":         "default",
		"serialization": serialization,
	})
}

func newGreeterConn(s *providertest.Server, serialization string, opts ...Option) *Connection {
	driver := &discovery.StaticDriver{URLs: []string{providerURL(s, serialization)}}
	c := NewConnection(driver, append([]Option{WithTimeout(time.Second)}, opts...)...)
	c.SetService(greeter)
	return c
}

func TestTypeOf(t *testing.T) {
	var nilSlice []string
	cases := []struct {
		arg  any
		want string
	}{
		{nil, ObjectType},
		{true, ObjectType},
		{42, ObjectType},
		{int64(42), ObjectType},
		{3.14, ObjectType},
		{"s", ObjectType},
		{json.Number("1"), ObjectType},
		{[]any{1, "a"}, ListType},
		{[]string{"a"}, ListType},
		{nilSlice, ListType},
		{[2]int{1, 2}, ListType},
		{map[string]any{"a": 1}, ObjectType},
		{map[int]string{1: "a"}, ObjectType},
		{Object("com.x.Point", nil), "Lcom/x/Point;"},
		{Object(`App\Model\User`, nil), "LApp/Model/User;"},
	}
	for _, c := range cases {
		got, err := TypeOf(c.arg)
		if err != nil || got != c.want {
			t.Errorf("TypeOf(%#v) = %q, %v; want %q", c.arg, got, err, c.want)
		}
	}
	if _, err := TypeOf(Point{}); err == nil {
		t.Error("TypeOf(struct) has a descriptor")
	}
	if _, err := TypesOf([]any{"a", func() {}}); err == nil {
		t.Error("TypesOf accepted a func")
	}
}

func TestObjectCopiesFields(t *testing.T) {
	fields := map[string]any{"x": 1}
	r := Object("com.x.Point", fields)
	fields["x"] = 2
	if r.Fields()["x"] != 1 || r.JavaClassName() != "com.x.Point" {
		t.Fatalf("record = %+v", r)
	}
}

func TestInvoke(t *testing.T) {
	s := startGreeter(t)
	c := newGreeterConn(s, "fastjson")

	v, err := c.Invoke(context.Background(), "sayHello", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if v != "hello bob" {
		t.Fatalf("sayHello = %#v", v)
	}
	req := s.LastRequest()
	if len(req.Types) != 1 || req.Types[0] != ObjectType {
		t.Fatalf("types = %v", req.Types)
	}
	if req.Group != "default" || req.Extra["version"] != "1.0.0" || req.Extra["path"] != greeter {
		t.Fatalf("attachments = %v", req.Extra)
	}

	v, err = c.Invoke(context.Background(), "norm", Object("com.x.Point", map[string]any{"x": 3, "y": 4}))
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := v.(json.Number); !ok || n.String() != "25" {
		t.Fatalf("norm = %#v", v)
	}
	if got := s.LastRequest().Types[0]; got != "Lcom/x/Point;" {
		t.Fatalf("record descriptor = %q", got)
	}

	if v, err := c.Invoke(context.Background(), "nothing"); err != nil || v != nil {
		t.Fatalf("nothing = %#v, %v", v, err)
	}
}

func TestInvokeHessian2(t *testing.T) {
	s := startGreeter(t)
	c := newGreeterConn(s, "hessian2")

	v, err := c.Invoke(context.Background(), "add", int64(2), int64(3))
	if err != nil {
		t.Fatal(err)
	}
	if v != int64(5) {
		t.Fatalf("add = %#v", v)
	}
	if s.LastRequest().Serialization != 2 {
		t.Fatalf("serialization = %d", s.LastRequest().Serialization)
	}
}

func TestInvokeValidation(t *testing.T) {
	c := NewConnection(&discovery.StaticDriver{})
	_, err := c.Invoke(context.Background(), "sayHello")
	if !errors.Is(errors.MisconfiguredClient, err) || !strings.Contains(err.Error(), "service") {
		t.Fatalf("no service: %v", err)
	}
	c.SetService(greeter)
	c.SetGroup("")
	if _, err := c.Invoke(context.Background(), "sayHello"); !errors.Is(errors.MisconfiguredClient, err) || !strings.Contains(err.Error(), "group") {
		t.Fatalf("no group: %v", err)
	}
	c.SetGroup("g")
	c.SetVersion("")
	if _, err := c.Invoke(context.Background(), "sayHello"); !errors.Is(errors.MisconfiguredClient, err) || !strings.Contains(err.Error(), "version") {
		t.Fatalf("no version: %v", err)
	}
}

func TestInvokeFailures(t *testing.T) {
	s := startGreeter(t)
	c := newGreeterConn(s, "fastjson")

	_, err := c.Invoke(context.Background(), "fail")
	if !errors.Is(errors.InvocationFailed, err) || !errors.Is(errors.ProviderError, err) {
		t.Fatalf("fail: %v", err)
	}
	if errors.Message(err) != "greeter is broken" {
		t.Fatalf("message = %q", errors.Message(err))
	}

	if _, err := c.Invoke(context.Background(), "sayHello", func() {}); !errors.Is(errors.InvocationFailed, err) {
		t.Fatalf("bad argument: %v", err)
	}

	c.SetVersion("9.9.9")
	if _, err := c.Invoke(context.Background(), "sayHello", "bob"); !errors.Is(errors.ConnectionFailed, err) {
		t.Fatalf("no provider: %v", err)
	}

	c.SetVersion(DefaultVersion)
	s.SetFaults(providertest.Faults{WrongSeq: true})
	if _, err := c.Invoke(context.Background(), "sayHello", "bob"); !errors.Is(errors.SequenceMismatch, err) {
		t.Fatalf("wrong seq: %v", err)
	}
	s.SetFaults(providertest.Faults{Hangup: true})
	if _, err := c.Invoke(context.Background(), "sayHello", "bob"); !errors.Is(errors.PeerClosed, err) {
		t.Fatalf("hangup: %v", err)
	}
}

func TestAccountingLine(t *testing.T) {
	s := startGreeter(t)
	core, logs := observer.New(zap.DebugLevel)
	c := newGreeterConn(s, "fastjson", WithLogger(zap.New(core)), WithApp("billing"))

	c.Invoke(context.Background(), "sayHello", "bob")
	c.Invoke(context.Background(), "fail")

	entries := logs.FilterMessage("consumer call").All()
	if len(entries) != 2 {
		t.Fatalf("%d accounting lines, want 2", len(entries))
	}
	ok, failed := entries[0].ContextMap(), entries[1].ContextMap()
	if ok["msg"] != "ok" || ok["target"] != s.Addr() || ok["app"] != "billing" || ok["service"] != greeter {
		t.Fatalf("success line = %v", ok)
	}
	if failed["msg"] != "greeter is broken" || failed["target"] != s.Addr() || failed["method"] != "fail" {
		t.Fatalf("failure line = %v", failed)
	}
}

func TestRelease(t *testing.T) {
	var released *Connection
	c := NewConnection(&discovery.StaticDriver{})
	c.release = func(c *Connection) { released = c }
	c.SetService(greeter)
	c.SetGroup("g")
	c.SetVersion("2.0")
	c.Release()
	if released != c || c.Service() != "" || c.Group() != DefaultGroup || c.Version() != DefaultVersion {
		t.Fatalf("after release: %q %q %q", c.Service(), c.Group(), c.Version())
	}

	if !c.Check() {
		t.Fatal("new connection fails Check")
	}
	c.Close()
	if c.Check() {
		t.Fatal("closed connection passes Check")
	}
	before := c.LastUseTime()
	time.Sleep(time.Millisecond)
	if err := c.Reconnect(); err != nil || !c.Check() || !c.LastUseTime().After(before) {
		t.Fatalf("reconnect: %v", err)
	}
}

func TestDubbo(t *testing.T) {
	s := startGreeter(t)
	cfg := config.Default(providerURL(s, "fastjson"))
	cfg.Pool.MaxConnections = 2

	d, err := New(cfg, "default")
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	svc := d.Service(greeter, "", "")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := svc.Invoke(context.Background(), "sayHello", "bob")
			if err == nil && v != "hello bob" {
				err = errors.Errorf("sayHello = %v", v)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if d.pool.Len() > 2 {
		t.Fatalf("pool grew to %d connections", d.pool.Len())
	}

	if _, err := d.Service(greeter, "", "other").Invoke(context.Background(), "sayHello", "bob"); !errors.Is(errors.ConnectionFailed, err) {
		t.Fatalf("other group: %v", err)
	}
}

func TestDubboCallTimeout(t *testing.T) {
	s := startGreeter(t)
	cfg := config.Default(providerURL(s, "fastjson"))
	cfg.CallTimeout = 0.05
	d, err := New(cfg, "default")
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	s.SetFaults(providertest.Faults{Delay: 300 * time.Millisecond})
	start := time.Now()
	_, err = d.Service(greeter, "", "").Invoke(context.Background(), "sayHello", "bob")
	if !errors.Is(errors.ReceiveTimeout, err) {
		t.Fatalf("expect ReceiveTimeout, got %v", err)
	}
	if time.Since(start) > 250*time.Millisecond {
		t.Fatalf("call took %v", time.Since(start))
	}
}

func TestDubboRateLimit(t *testing.T) {
	s := startGreeter(t)
	cfg := config.Default(providerURL(s, "fastjson"))
	cfg.RateLimit, cfg.RateBurst = 0.001, 1
	d, err := New(cfg, "default")
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	svc := d.Service(greeter, "", "")
	if _, err := svc.Invoke(context.Background(), "sayHello", "bob"); err != nil {
		t.Fatal(err)
	}
	_, err = svc.Invoke(context.Background(), "sayHello", "bob")
	if errors.Message(err) != "rate limit exceeded" {
		t.Fatalf("expect rate limited, got %v", err)
	}
}

func TestNewBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.LoadBalance = "fastest"
	if _, err := New(cfg, "default"); !errors.Is(errors.MisconfiguredClient, err) {
		t.Fatalf("unknown balancer: %v", err)
	}
}
