// Dubboctl calls Dubbo providers from the command line.
// See the command's usage function for documentation.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"dubbo-client/client"
	"dubbo-client/config"
	"dubbo-client/discovery"
	"dubbo-client/endpoint"
	"dubbo-client/errors"
	"dubbo-client/processor"
	"dubbo-client/registry"
)

const help = `Dubboctl calls Dubbo providers from the command line.

The subcommands are:

  call <service> <method> [args...]
  	Invoke method on service. Each argument is parsed as JSON, and
  	taken as a string if it is not valid JSON. The result is printed
  	as JSON.

  ping <dubbo-url>
  	Send a heartbeat to one provider.

  register <dubbo-url>
  	Publish a provider URL in etcd until interrupted.

  watch <service>
  	Print the providers of service in etcd every time they change.
`

var (
	configFile = flag.String("config", "", "YAML configuration `file`")
	poolName   = flag.String("pool", "default", "configuration `section` to use")
	provider   = flag.String("provider", "", "call this provider `url` directly instead of using a registry")
	version    = flag.String("version", "", "service `version` (default 1.0.0)")
	group      = flag.String("group", "", "service `group` (default \"default\")")
	timeout    = flag.Duration("timeout", 3*time.Second, "I/O timeout of each call")
	ttl        = flag.Int64("ttl", 10, "lease TTL in seconds for register")
	debug      = flag.Bool("debug", false, "log at debug level")
)

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
	}

	logger := newLogger(*debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	args := flag.Args()[1:]
	switch flag.Arg(0) {
	case "call":
		err = call(ctx, logger, args)
	case "ping":
		err = ping(ctx, logger, args)
	case "register":
		err = register(ctx, logger, args)
	case "watch":
		err = watch(ctx, logger, args)
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dubboctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, help)
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "\tdubboctl [flags] <command> [args...]")
	fmt.Fprintln(os.Stderr, "Flags:")
	flag.PrintDefaults()
	os.Exit(2)
}

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// loadConfig returns the configuration selected by the flags.
func loadConfig() (*config.Config, error) {
	if *provider != "" {
		cfg := config.Default(*provider)
		cfg.Timeout = timeout.Seconds()
		return cfg, nil
	}
	if *configFile == "" {
		return nil, errors.E(errors.MisconfiguredClient, errors.Str("need -config or -provider"))
	}
	f, err := config.Load(*configFile)
	if err != nil {
		return nil, err
	}
	return f.Get(*poolName)
}

func call(ctx context.Context, logger *zap.Logger, args []string) error {
	if len(args) < 2 {
		usage()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := client.New(cfg, *poolName, client.WithLogger(logger))
	if err != nil {
		return err
	}
	defer d.Close()

	params := make([]any, 0, len(args)-2)
	for _, a := range args[2:] {
		params = append(params, parseArg(a))
	}
	g := *group
	if *provider != "" && g == "" {
		// A provider named on the command line is called whatever its group.
		g = discovery.AnyGroup
	}
	v, err := d.Service(args[0], *version, g).Invoke(ctx, args[1], params...)
	if err != nil {
		return err
	}
	return printJSON(v)
}

// parseArg decodes a JSON argument, keeping numbers exact.
func parseArg(s string) any {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}
	return v
}

func printJSON(v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(plain(v)); err != nil {
		return err
	}
	_, err := os.Stdout.Write(buf.Bytes())
	return err
}

// plain rewrites hessian2 maps, which encoding/json cannot marshal.
func plain(v any) any {
	switch x := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = plain(val)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, val := range x {
			s[i] = plain(val)
		}
		return s
	}
	return v
}

func ping(ctx context.Context, logger *zap.Logger, args []string) error {
	if len(args) != 1 {
		usage()
	}
	u, err := endpoint.Parse(args[0])
	if err != nil {
		return err
	}
	start := time.Now()
	v, err := processor.New(processor.WithLogger(logger)).Ping(ctx, u, *timeout)
	if err != nil {
		return err
	}
	fmt.Printf("%s answered %v in %v\n", u.Address(), v, time.Since(start).Round(time.Microsecond))
	return nil
}

func etcdRegistry(logger *zap.Logger) (*registry.EtcdRegistry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Driver != config.DriverEtcd {
		return nil, errors.E(errors.MisconfiguredClient, errors.Errorf("section %s uses driver %s, not etcd", *poolName, cfg.Driver))
	}
	return registry.NewEtcdRegistry(cfg.Registry, cfg.Pool.ConnectTimeoutDuration(), logger)
}

func register(ctx context.Context, logger *zap.Logger, args []string) error {
	if len(args) != 1 {
		usage()
	}
	u, err := endpoint.Parse(args[0])
	if err != nil {
		return err
	}
	reg, err := etcdRegistry(logger)
	if err != nil {
		return err
	}
	defer reg.Close()

	if err := reg.Register(ctx, u, *ttl); err != nil {
		return err
	}
	fmt.Printf("registered %s\n", u.RegistryPath())
	<-ctx.Done()

	dctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	return reg.Deregister(dctx, u)
}

func watch(ctx context.Context, logger *zap.Logger, args []string) error {
	if len(args) != 1 {
		usage()
	}
	reg, err := etcdRegistry(logger)
	if err != nil {
		return err
	}
	defer reg.Close()

	path := endpoint.ProvidersPath(args[0])
	names, err := reg.Children(ctx, path)
	if err != nil {
		return err
	}
	printProviders(names)
	for names := range reg.Watch(ctx, path) {
		printProviders(names)
	}
	return nil
}

func printProviders(names []string) {
	fmt.Printf("%s: %d providers\n", time.Now().Format("15:04:05"), len(names))
	for _, n := range names {
		raw, err := url.QueryUnescape(n)
		if err != nil {
			raw = n
		}
		u, err := endpoint.Parse(raw)
		if err != nil {
			fmt.Printf("  ? %s\n", n)
			continue
		}
		fmt.Printf("  %s version=%s group=%s serialization=%s\n",
			u.Address(), u.Version("-"), u.Group("-"), u.Serialization(""))
	}
}
