package registry

import (
	"context"
	"testing"

	"dubbo-client/endpoint"
	"dubbo-client/errors"
)

func TestMemory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	u, err := endpoint.Parse("dubbo://10.0.0.1:20880/com.x.Foo?version=2.0")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Register(ctx, u, 0); err != nil {
		t.Fatal(err)
	}
	names, err := m.Children(ctx, endpoint.ProvidersPath("com.x.Foo"))
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != u.Encoded() {
		t.Fatalf("Children = %v", names)
	}

	m.Fail(errors.Str("session expired"))
	if _, err := m.Children(ctx, endpoint.ProvidersPath("com.x.Foo")); !errors.Is(errors.Registry, err) {
		t.Fatalf("Children after Fail = %v", err)
	}
	m.Fail(nil)

	m.Deregister(ctx, u)
	names, _ = m.Children(ctx, endpoint.ProvidersPath("com.x.Foo"))
	if len(names) != 0 {
		t.Fatalf("Children after Deregister = %v", names)
	}

	m.Close()
	if m.Closed() != 1 {
		t.Fatalf("Closed = %d", m.Closed())
	}
}

func TestMemoryImplements(t *testing.T) {
	var _ Registry = NewMemory()
	var _ Publisher = NewMemory()
	var _ Registry = (*EtcdRegistry)(nil)
	var _ Publisher = (*EtcdRegistry)(nil)
	var _ Registry = (*ZKRegistry)(nil)
	var _ Publisher = (*ZKRegistry)(nil)
}
