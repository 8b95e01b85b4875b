package registry

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"dubbo-client/endpoint"
	"dubbo-client/errors"
)

// EtcdRegistry keeps the registry tree in etcd: a node at path p is the
// key p, and its children are the keys with prefix p + "/".
//
// Registration uses TTL leases so the entry of a crashed provider expires.
type EtcdRegistry struct {
	client *clientv3.Client
	logger *zap.Logger
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, errors.E("registry.NewEtcdRegistry", errors.Registry, err)
	}
	return &EtcdRegistry{client: c, logger: logger}, nil
}

func (r *EtcdRegistry) Children(ctx context.Context, path string) ([]string, error) {
	prefix := strings.TrimSuffix(path, "/") + "/"
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, errors.E("registry.Etcd.Children", errors.Registry, err)
	}
	return childNames(prefix, resp.Kvs), nil
}

func childNames(prefix string, kvs []*mvccpb.KeyValue) []string {
	seen := make(map[string]bool)
	var names []string
	for _, kv := range kvs {
		rest := strings.TrimPrefix(string(kv.Key), prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		if rest == "" || seen[rest] {
			continue
		}
		seen[rest] = true
		names = append(names, rest)
	}
	sort.Strings(names)
	return names
}

// Register publishes u under its service's providers directory with a
// lease of ttl seconds, renewed until ctx is done or Deregister is called.
//
// The lease ID is a local variable, so one EtcdRegistry can register
// several providers concurrently.
func (r *EtcdRegistry) Register(ctx context.Context, u *endpoint.URL, ttl int64) error {
	const op = "registry.Etcd.Register"
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.E(op, errors.Registry, err)
	}
	if _, err := r.client.Put(ctx, u.RegistryPath(), u.String(), clientv3.WithLease(lease.ID)); err != nil {
		return errors.E(op, errors.Registry, err)
	}
	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return errors.E(op, errors.Registry, err)
	}
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("provider", u.Address()))
	}()
	return nil
}

// Deregister removes u from the registry.
func (r *EtcdRegistry) Deregister(ctx context.Context, u *endpoint.URL) error {
	if _, err := r.client.Delete(ctx, u.RegistryPath()); err != nil {
		return errors.E("registry.Etcd.Deregister", errors.Registry, err)
	}
	return nil
}

// Watch emits the children of path every time they change, until ctx is
// done.
func (r *EtcdRegistry) Watch(ctx context.Context, path string) <-chan []string {
	ch := make(chan []string, 1)
	prefix := strings.TrimSuffix(path, "/") + "/"
	go func() {
		defer close(ch)
		for range r.client.Watch(ctx, prefix, clientv3.WithPrefix()) {
			// Re-list rather than apply individual events.
			names, err := r.Children(ctx, path)
			if err != nil {
				r.logger.Error("watch relist failed", zap.String("path", path), zap.Error(err))
				continue
			}
			select {
			case ch <- names:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
