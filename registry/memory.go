package registry

import (
	"context"
	"sort"
	"sync"

	"dubbo-client/endpoint"
	"dubbo-client/errors"
)

// Memory is an in-process registry.
type Memory struct {
	mu     sync.Mutex
	nodes  map[string]map[string]bool
	err    error
	closed int
}

// NewMemory returns an empty in-process registry.
func NewMemory() *Memory {
	return &Memory{nodes: make(map[string]map[string]bool)}
}

// Add creates child under dir.
func (m *Memory) Add(dir, child string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nodes[dir] == nil {
		m.nodes[dir] = make(map[string]bool)
	}
	m.nodes[dir][child] = true
}

// Remove deletes child from dir.
func (m *Memory) Remove(dir, child string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes[dir], child)
}

// Fail makes every subsequent Children call return err; nil restores
// normal operation.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Closed reports how many times Close was called.
func (m *Memory) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Memory) Children(ctx context.Context, path string) ([]string, error) {
	const op = "registry.Memory.Children"
	if err := ctx.Err(); err != nil {
		return nil, errors.E(op, errors.Registry, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, errors.E(op, errors.Registry, m.err)
	}
	names := make([]string, 0, len(m.nodes[path]))
	for name := range m.nodes[path] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) Register(ctx context.Context, u *endpoint.URL, ttl int64) error {
	m.Add(endpoint.ProvidersPath(u.Service()), u.Encoded())
	return nil
}

func (m *Memory) Deregister(ctx context.Context, u *endpoint.URL) error {
	m.Remove(endpoint.ProvidersPath(u.Service()), u.Encoded())
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}
