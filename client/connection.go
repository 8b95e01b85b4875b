package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dubbo-client/discovery"
	"dubbo-client/errors"
	"dubbo-client/loadbalance"
	"dubbo-client/message"
	"dubbo-client/middleware"
	"dubbo-client/processor"
	"dubbo-client/transport"
)

// Defaults a Connection starts with and returns to on Release.
const (
	DefaultGroup   = "default"
	DefaultVersion = discovery.DefaultVersion
	DefaultTimeout = 3 * time.Second
	DefaultApp     = "default"
)

type options struct {
	logger   *zap.Logger
	driver   discovery.Driver
	dialer   transport.Dialer
	balancer loadbalance.Balancer
	timeout  time.Duration
	app      string
	mws      []middleware.Middleware
}

// Option configures a Connection or a Dubbo client.
type Option func(*options)

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithDriver overrides the discovery driver built from configuration.
func WithDriver(d discovery.Driver) Option { return func(o *options) { o.driver = d } }

func WithDialer(d transport.Dialer) Option { return func(o *options) { o.dialer = d } }

func WithBalancer(b loadbalance.Balancer) Option { return func(o *options) { o.balancer = b } }

// WithTimeout sets the I/O timeout of each call.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithApp names the calling application in accounting logs.
func WithApp(app string) Option { return func(o *options) { o.app = app } }

// WithMiddleware adds middleware inside the accounting middleware, in order.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.mws = append(o.mws, mws...) }
}

// Connection invokes the methods of one remote service. It is bound to a
// group, version and service, which can be changed between calls.
// A Connection is not safe for concurrent use; a Dubbo client hands each
// caller its own.
type Connection struct {
	driver  discovery.Driver
	proc    *processor.Processor
	logger  *zap.Logger
	timeout time.Duration
	app     string
	handler middleware.HandlerFunc

	group   string
	version string
	service string

	lastUse time.Time
	closed  bool
	release func(*Connection)
}

// NewConnection returns a Connection resolving providers with driver.
func NewConnection(driver discovery.Driver, opts ...Option) *Connection {
	o := options{driver: driver}
	for _, opt := range opts {
		opt(&o)
	}
	return newConnection(o, newProcessor(o))
}

func newProcessor(o options) *processor.Processor {
	popts := []processor.Option{processor.WithLogger(o.logger), processor.WithDialer(o.dialer)}
	if o.balancer != nil {
		popts = append(popts, processor.WithBalancer(o.balancer))
	}
	return processor.New(popts...)
}

func newConnection(o options, proc *processor.Processor) *Connection {
	c := &Connection{
		driver:  o.driver,
		proc:    proc,
		logger:  o.logger,
		timeout: o.timeout,
		app:     o.app,
		group:   DefaultGroup,
		version: DefaultVersion,
		lastUse: time.Now(),
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.app == "" {
		c.app = DefaultApp
	}
	mws := append([]middleware.Middleware{middleware.Accounting(c.logger)}, o.mws...)
	c.handler = middleware.Chain(mws...)(c.execute)
	return c
}

func (c *Connection) SetGroup(group string)     { c.group = group }
func (c *Connection) SetVersion(version string) { c.version = version }
func (c *Connection) SetService(service string) { c.service = service }

func (c *Connection) Group() string   { return c.group }
func (c *Connection) Version() string { return c.version }
func (c *Connection) Service() string { return c.service }

// Invoke calls method on the bound service with args as its positional
// parameters and returns the provider's result. A null result is nil.
//
// Invoke fails with MisconfiguredClient if the group, version or service
// is empty. Every other failure is an InvocationFailed error wrapping the
// cause, whose message is kept.
func (c *Connection) Invoke(ctx context.Context, method string, args ...any) (any, error) {
	const op = "client.Invoke"
	if err := c.validate(); err != nil {
		return nil, errors.E(op, errors.MisconfiguredClient, err)
	}
	c.lastUse = time.Now()
	c.logger.Debug("invoke",
		zap.String("app", c.app),
		zap.String("service", c.service),
		zap.Duration("timeout", c.timeout),
		zap.String("method", method))

	res, err := c.handler(ctx, &middleware.Invocation{
		Service: c.service,
		Method:  method,
		Group:   c.group,
		Version: c.version,
		App:     c.app,
		Args:    args,
	})
	if err != nil {
		return nil, errors.E(op, errors.InvocationFailed, err)
	}
	return res.Value, nil
}

func (c *Connection) validate() error {
	switch {
	case c.group == "":
		return errors.Str("application group is not set, call SetGroup to set it")
	case c.version == "":
		return errors.Str("application version is not set, call SetVersion to set it")
	case c.service == "":
		return errors.Str("application service is not set, call SetService to set it")
	}
	return nil
}

// execute is the innermost handler: it resolves the providers and runs
// a fresh request against them.
func (c *Connection) execute(ctx context.Context, inv *middleware.Invocation) (*processor.Result, error) {
	types, err := TypesOf(inv.Args)
	if err != nil {
		return nil, err
	}
	candidates, err := c.driver.Providers(ctx, inv.Service, inv.Version, inv.Group)
	if err != nil {
		return nil, err
	}
	req := message.NewRequest(inv.Service, inv.Method, types, inv.Args)
	return c.proc.Execute(ctx, req, candidates, c.timeout)
}

// Check reports whether the connection can be used.
func (c *Connection) Check() bool {
	return !c.closed && c.driver != nil
}

// Reconnect readies a closed connection for use again.
func (c *Connection) Reconnect() error {
	if c.driver == nil {
		return errors.E("client.Reconnect", errors.MisconfiguredClient, errors.Str("no discovery driver"))
	}
	c.closed = false
	c.lastUse = time.Now()
	return nil
}

// Close marks the connection unusable. Calls hold no socket between
// invocations, so there is nothing else to release.
func (c *Connection) Close() error {
	c.closed = true
	return nil
}

// Release resets the binding to its defaults and hands the connection
// back to the pool it came from, if any.
func (c *Connection) Release() {
	c.group, c.version, c.service = DefaultGroup, DefaultVersion, ""
	if c.release != nil {
		c.release(c)
	}
}

func (c *Connection) LastUseTime() time.Time { return c.lastUse }
