package test

import (
	"context"
	"net"
	"net/url"
	"strings"
	"testing"
	"time"

	"dubbo-client/client"
	"dubbo-client/config"
	"dubbo-client/discovery"
	"dubbo-client/endpoint"
	"dubbo-client/errors"
	"dubbo-client/loadbalance"
	"dubbo-client/providertest"
	"dubbo-client/registry"
)

// ---- 测试用的服务 ----

type Arith struct{}

func (a *Arith) Add(x, y int64) (int64, error)      { return x + y, nil }
func (a *Arith) Multiply(x, y int64) (int64, error) { return x * y, nil }
func (a *Arith) Repeat(s string, n int) (string, error) {
	return strings.Repeat(s, n), nil
}

const arith = "com.x.Arith"

func startArith(t testing.TB) *providertest.Server {
	t.Helper()
	s := providertest.NewServer(nil)
	if err := s.Register(arith, &Arith{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Shutdown(3 * time.Second) })
	return s
}

func arithURL(s *providertest.Server, serialization string) string {
	return s.URL(arith, map[string]string{"version": "1.0.0", "group": "default", "serialization": serialization})
}

func reachable(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func asInt(t *testing.T, v any) int64 {
	t.Helper()
	switch n := v.(type) {
	case int64:
		return n
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		if err != nil {
			t.Fatal(err)
		}
		return i
	}
	t.Fatalf("result %#v is not an integer", v)
	return 0
}

// TestRegistryDiscovery 完整端到端测试（不依赖 etcd）
// 链路: ServiceClient → Pool → Connection → Middleware → Discovery(registry) → LB → Processor → Protocol → Codec → Provider
func TestRegistryDiscovery(t *testing.T) {
	s1, s2 := startArith(t), startArith(t)

	reg := registry.NewMemory()
	dir := endpoint.ProvidersPath(arith)
	reg.Add(dir, url.QueryEscape(arithURL(s1, "fastjson")))
	reg.Add(dir, url.QueryEscape(arithURL(s2, "hessian2")))

	cfg := config.Default()
	cfg.LoadBalance = "round_robin"
	d, err := client.New(cfg, "default", client.WithDriver(&discovery.RegistryDriver{Registry: reg}))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	svc := d.Service(arith, "1.0.0", "default")
	for i := int64(1); i <= 10; i++ {
		v, err := svc.Invoke(context.Background(), "add", i, i*10)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if got := asInt(t, v); got != i+i*10 {
			t.Fatalf("request %d: expect %d, got %d", i, i+i*10, got)
		}
	}
	if s1.Requests() == 0 || s2.Requests() == 0 {
		t.Fatalf("round robin skipped a provider: %d / %d requests", s1.Requests(), s2.Requests())
	}
}

// TestDeadProviderSkipped 一个 provider 拒绝连接时，第二次尝试落到另一个
func TestDeadProviderSkipped(t *testing.T) {
	s := startArith(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dead := "dubbo://" + ln.Addr().String() + "/" + arith + "?version=1.0.0&group=default"
	ln.Close()

	cfg := config.Default(dead, arithURL(s, "fastjson"))
	d, err := client.New(cfg, "default")
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	svc := d.Service(arith, "", "")
	for i := 0; i < 10; i++ {
		v, err := svc.Invoke(context.Background(), "multiply", int64(4), int64(6))
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if asInt(t, v) != 24 {
			t.Fatalf("multiply = %v", v)
		}
	}
}

// TestLargeResponse 响应体超过单次接收上限时分块读取
func TestLargeResponse(t *testing.T) {
	s := startArith(t)
	s.SetFaults(providertest.Faults{Chunk: 64 << 10})
	c := client.NewConnection(&discovery.StaticDriver{URLs: []string{arithURL(s, "fastjson")}},
		client.WithTimeout(5*time.Second),
		client.WithBalancer(&loadbalance.RoundRobinBalancer{}))
	c.SetService(arith)

	n := 1<<20 + 1000
	v, err := c.Invoke(context.Background(), "repeat", "a", n)
	if err != nil {
		t.Fatal(err)
	}
	if str, ok := v.(string); !ok || len(str) != n {
		t.Fatalf("got %T, want a string of length %d", v, n)
	}
}

func TestProviderTimeout(t *testing.T) {
	s := startArith(t)
	s.SetFaults(providertest.Faults{Silent: true})
	c := client.NewConnection(&discovery.StaticDriver{URLs: []string{arithURL(s, "fastjson")}},
		client.WithTimeout(100*time.Millisecond))
	c.SetService(arith)

	_, err := c.Invoke(context.Background(), "add", int64(1), int64(2))
	if !errors.Is(errors.ReceiveTimeout, err) {
		t.Fatalf("expect ReceiveTimeout, got %v", err)
	}
}

// TestFullIntegrationWithEtcd 完整端到端测试，需要本地 etcd
func TestFullIntegrationWithEtcd(t *testing.T) {
	if !reachable("127.0.0.1:2379") {
		t.Skip("etcd not reachable on 127.0.0.1:2379")
	}
	s := startArith(t)

	// 向 etcd 注册服务实例
	reg, err := registry.NewEtcdRegistry([]string{"127.0.0.1:2379"}, time.Second, nil)
	if err != nil {
		t.Fatalf("failed to connect etcd: %v", err)
	}
	defer reg.Close()
	u, err := endpoint.Parse(arithURL(s, "hessian2"))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := reg.Register(ctx, u, 10); err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	defer reg.Deregister(context.Background(), u)

	f, err := config.Parse([]byte("default:\n  driver: etcd\n  registry: [127.0.0.1:2379]\n"))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := f.Get("default")
	if err != nil {
		t.Fatal(err)
	}
	d, err := client.New(cfg, "default")
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	v, err := d.Service(arith, "", "").Invoke(context.Background(), "add", int64(3), int64(5))
	if err != nil {
		t.Fatalf("call add failed: %v", err)
	}
	if asInt(t, v) != 8 {
		t.Fatalf("add: expect 8, got %v", v)
	}
}

// TestFullIntegrationWithZookeeper 需要本地 ZooKeeper
func TestFullIntegrationWithZookeeper(t *testing.T) {
	if !reachable("127.0.0.1:2181") {
		t.Skip("zookeeper not reachable on 127.0.0.1:2181")
	}
	s := startArith(t)

	reg, err := registry.NewZKRegistry([]string{"127.0.0.1:2181"}, 5*time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()
	u, err := endpoint.Parse(arithURL(s, "fastjson"))
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(context.Background(), u, 0); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(context.Background(), u)

	f, err := config.Parse([]byte("default:\n  driver: zookeeper\n  registry: [127.0.0.1:2181]\n"))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := f.Get("default")
	if err != nil {
		t.Fatal(err)
	}
	d, err := client.New(cfg, "default")
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	v, err := d.Service(arith, "", "").Invoke(context.Background(), "multiply", int64(4), int64(6))
	if err != nil {
		t.Fatal(err)
	}
	if asInt(t, v) != 24 {
		t.Fatalf("multiply: expect 24, got %v", v)
	}
}
