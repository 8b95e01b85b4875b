// Package discovery resolves a service, version and group to the provider
// endpoints that can serve it.
package discovery

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"dubbo-client/config"
	"dubbo-client/endpoint"
	"dubbo-client/errors"
	"dubbo-client/registry"
)

const (
	// DefaultVersion is assumed for providers that publish no version.
	DefaultVersion = "1.0.0"
	// AnyGroup matches every provider group, and is the group of
	// providers that publish none.
	AnyGroup = "*"
)

// Driver looks up providers. Lookup failures are logged, never returned
// as errors: a driver that cannot reach its registry returns no providers.
type Driver interface {
	Providers(ctx context.Context, service, version, group string) ([]*endpoint.URL, error)
}

// RegistryDriver lists providers from a registry.
//
// A lookup that fails for any reason other than ctx ending drops the
// session. When Connect is set the session is closed and the next lookup
// opens a new one; without Connect the session is kept.
type RegistryDriver struct {
	Registry registry.Registry
	Connect  func() (registry.Registry, error)
	Logger   *zap.Logger

	mu sync.Mutex
}

func (d *RegistryDriver) Providers(ctx context.Context, service, version, group string) ([]*endpoint.URL, error) {
	logger := orNop(d.Logger)
	reg, err := d.session()
	if err != nil {
		logger.Error("connect registry failed", zap.String("service", service), zap.Error(err))
		return nil, nil
	}
	names, err := reg.Children(ctx, endpoint.ProvidersPath(service))
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("provider lookup abandoned", zap.String("service", service), zap.Error(err))
			return nil, nil
		}
		d.reset(reg, logger)
		logger.Error("get provider info failed", zap.String("service", service), zap.Error(err))
		return nil, nil
	}
	raw := make([]string, 0, len(names))
	for _, name := range names {
		s, err := url.QueryUnescape(name)
		if err != nil {
			logger.Error("bad provider entry", zap.String("entry", name), zap.Error(err))
			continue
		}
		raw = append(raw, s)
	}
	return Filter(logger, raw, service, version, group), nil
}

// session returns the current registry session, opening one if needed.
func (d *RegistryDriver) session() (registry.Registry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Registry != nil {
		return d.Registry, nil
	}
	if d.Connect == nil {
		return nil, errors.E("discovery.RegistryDriver", errors.Registry, errors.Str("no registry session"))
	}
	reg, err := d.Connect()
	if err != nil {
		return nil, err
	}
	d.Registry = reg
	return reg, nil
}

// reset closes reg if it is still the current session and can be
// replaced.
func (d *RegistryDriver) reset(reg registry.Registry, logger *zap.Logger) {
	d.mu.Lock()
	if d.Connect == nil || d.Registry != reg {
		d.mu.Unlock()
		return
	}
	d.Registry = nil
	d.mu.Unlock()
	if err := reg.Close(); err != nil {
		logger.Debug("closing registry session", zap.Error(err))
	}
}

// Close ends the registry session.
func (d *RegistryDriver) Close() error {
	d.mu.Lock()
	reg := d.Registry
	d.Registry, d.Connect = nil, nil
	d.mu.Unlock()
	if reg == nil {
		return nil
	}
	return reg.Close()
}

// StaticDriver serves a fixed provider list.
type StaticDriver struct {
	URLs   []string
	Logger *zap.Logger
}

func (d *StaticDriver) Providers(ctx context.Context, service, version, group string) ([]*endpoint.URL, error) {
	return Filter(orNop(d.Logger), d.URLs, service, version, group), nil
}

// Filter parses raw provider URLs and keeps those whose service starts
// with service, whose version (DefaultVersion if unset) equals version,
// and whose group matches group. Group AnyGroup matches every provider;
// a provider without a group is in AnyGroup. Unparsable entries are
// logged and skipped.
func Filter(logger *zap.Logger, raw []string, service, version, group string) []*endpoint.URL {
	var urls []*endpoint.URL
	for _, s := range raw {
		u, err := endpoint.Parse(s)
		if err != nil {
			logger.Error("bad provider url", zap.String("url", s), zap.Error(err))
			continue
		}
		if !strings.HasPrefix(u.Service(), service) {
			continue
		}
		if u.Version(DefaultVersion) != version {
			continue
		}
		if group != AnyGroup && group != u.Group(AnyGroup) {
			continue
		}
		logger.Debug("found provider",
			zap.String("service", service), zap.String("version", version),
			zap.String("group", group), zap.String("url", s))
		urls = append(urls, u)
	}
	if len(urls) == 0 {
		logger.Warn("provider info is empty",
			zap.String("service", service), zap.String("version", version), zap.String("group", group))
	}
	return urls
}

// New builds the driver selected by c.Driver.
func New(c *config.Config, logger *zap.Logger) (Driver, error) {
	const op = "discovery.New"
	logger = orNop(logger)
	switch c.Driver {
	case config.DriverStatic:
		return &StaticDriver{URLs: c.Providers, Logger: logger}, nil
	case config.DriverEtcd:
		return newRegistryDriver(op, logger, func() (registry.Registry, error) {
			r, err := registry.NewEtcdRegistry(c.Registry, c.Pool.ConnectTimeoutDuration(), logger)
			if err != nil {
				return nil, err
			}
			return r, nil
		})
	case config.DriverZookeeper:
		return newRegistryDriver(op, logger, func() (registry.Registry, error) {
			r, err := registry.NewZKRegistry(c.Registry, c.Pool.ConnectTimeoutDuration(), logger)
			if err != nil {
				return nil, err
			}
			return r, nil
		})
	}
	return nil, errors.E(op, errors.MisconfiguredClient, errors.Errorf("unknown driver %q", c.Driver))
}

func newRegistryDriver(op string, logger *zap.Logger, connect func() (registry.Registry, error)) (Driver, error) {
	reg, err := connect()
	if err != nil {
		return nil, errors.E(op, err)
	}
	return &RegistryDriver{Registry: reg, Connect: connect, Logger: logger}, nil
}

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
