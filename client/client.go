// Package client is the consumer facade: a Connection invokes methods of
// one remote service, and a Dubbo client hands out pooled Connections.
//
//	d, err := client.New(cfg, "default", client.WithLogger(logger))
//	orders := d.Service("com.x.OrderService", "1.0.0", "")
//	v, err := orders.Invoke(ctx, "getOrder", int64(42))
package client

import (
	"context"
	"io"

	"go.uber.org/zap"

	"dubbo-client/config"
	"dubbo-client/discovery"
	"dubbo-client/errors"
	"dubbo-client/loadbalance"
	"dubbo-client/middleware"
	"dubbo-client/pool"
)

// Dubbo is a pooled client for one configuration section.
type Dubbo struct {
	name   string
	driver discovery.Driver
	pool   *pool.Pool[*Connection]
	logger *zap.Logger
}

// New builds the client configured by cfg. name identifies the
// configuration section in logs. Options override what cfg selects.
func New(cfg *config.Config, name string, opts ...Option) (*Dubbo, error) {
	const op = "client.New"
	o := options{timeout: cfg.IOTimeout(), app: cfg.App}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger.With(zap.String("pool", name))
	o.logger = logger

	if o.balancer == nil {
		b, err := loadbalance.New(cfg.LoadBalance)
		if err != nil {
			return nil, errors.E(op, err)
		}
		o.balancer = b
	}
	if o.driver == nil {
		drv, err := discovery.New(cfg, logger)
		if err != nil {
			return nil, errors.E(op, err)
		}
		o.driver = drv
	}

	// 限流和整体超时由同一个池里的所有连接共享
	var mws []middleware.Middleware
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		mws = append(mws, middleware.RateLimit(cfg.RateLimit, burst))
	}
	if d := cfg.CallTimeoutDuration(); d > 0 {
		mws = append(mws, middleware.Timeout(d))
	}
	o.mws = append(mws, o.mws...)

	d := &Dubbo{name: name, driver: o.driver, logger: logger}
	proc := newProcessor(o)
	p, err := pool.New(func() (*Connection, error) {
		logger.Debug("create connection")
		c := newConnection(o, proc)
		c.release = d.put
		return c, nil
	}, pool.Options{
		MinConnections: cfg.Pool.MinConnections,
		MaxConnections: cfg.Pool.MaxConnections,
		WaitTimeout:    cfg.Pool.WaitTimeoutDuration(),
		MaxIdleTime:    cfg.Pool.MaxIdleTimeDuration(),
		Heartbeat:      cfg.Pool.HeartbeatDuration(),
	})
	if err != nil {
		d.closeDriver()
		return nil, errors.E(op, err)
	}
	d.pool = p
	return d, nil
}

// Connection takes a connection from the pool. The caller must Release it.
func (d *Dubbo) Connection(ctx context.Context) (*Connection, error) {
	return d.pool.Get(ctx)
}

func (d *Dubbo) put(c *Connection) {
	d.pool.Put(c)
}

// Service returns a client of service. An empty version or group keeps
// the connection default.
func (d *Dubbo) Service(service, version, group string) *ServiceClient {
	return &ServiceClient{dubbo: d, service: service, version: version, group: group}
}

// Close closes the pool and the registry session.
func (d *Dubbo) Close() error {
	err := d.pool.Close()
	if cerr := d.closeDriver(); err == nil {
		err = cerr
	}
	return err
}

func (d *Dubbo) closeDriver() error {
	if c, ok := d.driver.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ServiceClient invokes methods of one service through pooled
// connections. It is safe for concurrent use.
type ServiceClient struct {
	dubbo   *Dubbo
	service string
	version string
	group   string
}

// Invoke calls method with args on a connection taken from the pool.
// See Connection.Invoke.
func (s *ServiceClient) Invoke(ctx context.Context, method string, args ...any) (any, error) {
	c, err := s.dubbo.Connection(ctx)
	if err != nil {
		return nil, errors.E("client.Invoke", errors.InvocationFailed, err)
	}
	defer c.Release()

	c.SetService(s.service)
	if s.version != "" {
		c.SetVersion(s.version)
	}
	if s.group != "" {
		c.SetGroup(s.group)
	}
	return c.Invoke(ctx, method, args...)
}
