package registry

import (
	"context"
	"net"
	"reflect"
	"testing"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"

	"dubbo-client/endpoint"
)

func TestChildNames(t *testing.T) {
	kvs := []*mvccpb.KeyValue{
		{Key: []byte("/dubbo/com.x.Foo/providers/b")},
		{Key: []byte("/dubbo/com.x.Foo/providers/a")},
		{Key: []byte("/dubbo/com.x.Foo/providers/a/deeper")},
		{Key: []byte("/dubbo/com.x.Foo/providers/")},
	}
	got := childNames("/dubbo/com.x.Foo/providers/", kvs)
	if want := []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("childNames = %v, want %v", got, want)
	}
}

func TestRegisterAndChildren(t *testing.T) {
	conn, err := net.DialTimeout("tcp", "localhost:2379", 200*time.Millisecond)
	if err != nil {
		t.Skip("etcd not reachable on localhost:2379")
	}
	conn.Close()

	reg, err := NewEtcdRegistry([]string{"localhost:2379"}, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u1, _ := endpoint.Parse("dubbo://127.0.0.1:8001/com.test.Arith?version=1.0.0")
	u2, _ := endpoint.Parse("dubbo://127.0.0.1:8002/com.test.Arith?version=1.0.0")
	for _, u := range []*endpoint.URL{u1, u2} {
		if err := reg.Register(ctx, u, 10); err != nil {
			t.Fatal(err)
		}
	}

	names, err := reg.Children(ctx, endpoint.ProvidersPath("com.test.Arith"))
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Fatalf("expect 2 providers, got %d", len(names))
	}

	if err := reg.Deregister(ctx, u1); err != nil {
		t.Fatal(err)
	}
	names, err = reg.Children(ctx, endpoint.ProvidersPath("com.test.Arith"))
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != u2.Encoded() {
		t.Fatalf("expect [%s] after deregister, got %v", u2.Encoded(), names)
	}

	reg.Deregister(ctx, u2)
}
