package registry

import (
	"context"
	goerrors "errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"go.uber.org/zap"

	"dubbo-client/endpoint"
	"dubbo-client/errors"
)

// ZKRegistry reads the registry tree from ZooKeeper.
type ZKRegistry struct {
	conn   *zk.Conn
	logger *zap.Logger
}

// zkLogger routes the ZooKeeper client's Printf logging to zap.
type zkLogger struct{ l *zap.Logger }

func (z zkLogger) Printf(format string, args ...interface{}) {
	z.l.Debug(fmt.Sprintf(format, args...))
}

// NewZKRegistry connects to the given ZooKeeper servers.
func NewZKRegistry(servers []string, sessionTimeout time.Duration, logger *zap.Logger) (*ZKRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(zkLogger{logger.Named("zk")}))
	if err != nil {
		return nil, errors.E("registry.NewZKRegistry", errors.Registry, err)
	}
	return &ZKRegistry{conn: conn, logger: logger}, nil
}

func (r *ZKRegistry) Children(ctx context.Context, p string) ([]string, error) {
	const op = "registry.ZK.Children"
	if err := ctx.Err(); err != nil {
		return nil, errors.E(op, errors.Registry, err)
	}
	names, _, err := r.conn.Children(p)
	if goerrors.Is(err, zk.ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.E(op, errors.Registry, err)
	}
	sort.Strings(names)
	return names, nil
}

// Register creates an ephemeral node for u. The node lives as long as the
// session; ttl is not used.
func (r *ZKRegistry) Register(ctx context.Context, u *endpoint.URL, ttl int64) error {
	const op = "registry.ZK.Register"
	if err := ctx.Err(); err != nil {
		return errors.E(op, errors.Registry, err)
	}
	dir := endpoint.ProvidersPath(u.Service())
	if err := r.mkdirs(dir); err != nil {
		return errors.E(op, errors.Registry, err)
	}
	_, err := r.conn.Create(u.RegistryPath(), []byte(u.String()), zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err != nil && !goerrors.Is(err, zk.ErrNodeExists) {
		return errors.E(op, errors.Registry, err)
	}
	return nil
}

func (r *ZKRegistry) Deregister(ctx context.Context, u *endpoint.URL) error {
	err := r.conn.Delete(u.RegistryPath(), -1)
	if err != nil && !goerrors.Is(err, zk.ErrNoNode) {
		return errors.E("registry.ZK.Deregister", errors.Registry, err)
	}
	return nil
}

func (r *ZKRegistry) mkdirs(dir string) error {
	cur := "/"
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		cur = path.Join(cur, part)
		_, err := r.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && !goerrors.Is(err, zk.ErrNodeExists) {
			return err
		}
	}
	return nil
}

func (r *ZKRegistry) Close() error {
	r.conn.Close()
	return nil
}
