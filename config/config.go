// Package config loads client configuration from YAML.
//
// A file holds named sections, one per client pool:
//
//	default:
//	  driver: etcd
//	  registry: [127.0.0.1:2379]
//	  timeout: 3
//	  pool:
//	    max_connections: 10
//
// Durations are given in seconds.
package config

import (
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"dubbo-client/errors"
)

// Discovery drivers.
const (
	DriverEtcd      = "etcd"
	DriverZookeeper = "zookeeper"
	DriverStatic    = "static"
)

// Config is one named client section.
type Config struct {
	Driver      string   `yaml:"driver"`
	Registry    []string `yaml:"registry"`
	Providers   []string `yaml:"providers"`
	Timeout     float64  `yaml:"timeout"`
	CallTimeout float64  `yaml:"call_timeout"`
	LoadBalance string   `yaml:"loadbalance"`
	App         string   `yaml:"app"`
	RateLimit   float64  `yaml:"rate_limit"`
	RateBurst   int      `yaml:"rate_burst"`
	Pool        Pool     `yaml:"pool"`
}

// Pool holds connection pool options.
type Pool struct {
	MinConnections int     `yaml:"min_connections"`
	MaxConnections int     `yaml:"max_connections"`
	ConnectTimeout float64 `yaml:"connect_timeout"`
	WaitTimeout    float64 `yaml:"wait_timeout"`
	Heartbeat      float64 `yaml:"heartbeat"`
	MaxIdleTime    float64 `yaml:"max_idle_time"`
}

// File is a parsed configuration file.
type File struct {
	sections map[string]*Config
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.E("config.Load", errors.IO, err)
	}
	return Parse(data)
}

// Parse parses YAML configuration. Unknown keys are an error.
func Parse(data []byte) (*File, error) {
	const op = "config.Parse"
	sections := map[string]*Config{}
	if err := yaml.UnmarshalStrict(data, &sections); err != nil {
		return nil, errors.E(op, errors.MisconfiguredClient, errors.Errorf("parsing YAML: %v", err))
	}
	for name, c := range sections {
		if c == nil {
			c = &Config{}
			sections[name] = c
		}
		c.withDefaults()
		if err := c.validate(); err != nil {
			return nil, errors.E(op, errors.MisconfiguredClient, errors.Errorf("section %q: %v", name, err))
		}
	}
	return &File{sections: sections}, nil
}

// Get returns the section called name.
func (f *File) Get(name string) (*Config, error) {
	c, ok := f.sections[name]
	if !ok {
		return nil, errors.E("config.Get", errors.MisconfiguredClient, errors.Errorf("config[dubbo.%s] does not exist", name))
	}
	return c, nil
}

// Default returns a configuration with every default applied and the
// given static providers.
func Default(providers ...string) *Config {
	c := &Config{Driver: DriverStatic, Providers: providers}
	c.withDefaults()
	return c
}

func (c *Config) withDefaults() {
	if c.Driver == "" {
		c.Driver = DriverEtcd
	}
	if c.Timeout <= 0 {
		c.Timeout = 3
	}
	if c.LoadBalance == "" {
		c.LoadBalance = "random"
	}
	if c.App == "" {
		c.App = "default"
	}
	p := &c.Pool
	if p.MinConnections <= 0 {
		p.MinConnections = 1
	}
	if p.MaxConnections <= 0 {
		p.MaxConnections = 10
	}
	if p.MaxConnections < p.MinConnections {
		p.MaxConnections = p.MinConnections
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = 10
	}
	if p.WaitTimeout <= 0 {
		p.WaitTimeout = 3
	}
	if p.Heartbeat == 0 {
		p.Heartbeat = -1
	}
	if p.MaxIdleTime <= 0 {
		p.MaxIdleTime = 60
	}
}

func (c *Config) validate() error {
	switch c.Driver {
	case DriverEtcd, DriverZookeeper:
		if len(c.Registry) == 0 {
			return errors.Errorf("driver %s needs registry addresses", c.Driver)
		}
	case DriverStatic:
	default:
		return errors.Errorf("unknown driver %q", c.Driver)
	}
	return nil
}

// IOTimeout returns the per-call I/O timeout.
func (c *Config) IOTimeout() time.Duration { return seconds(c.Timeout) }

// CallTimeoutDuration bounds a whole call, discovery included. Zero means
// only IOTimeout applies.
func (c *Config) CallTimeoutDuration() time.Duration {
	if c.CallTimeout <= 0 {
		return 0
	}
	return seconds(c.CallTimeout)
}

func (p Pool) ConnectTimeoutDuration() time.Duration { return seconds(p.ConnectTimeout) }
func (p Pool) WaitTimeoutDuration() time.Duration    { return seconds(p.WaitTimeout) }
func (p Pool) MaxIdleTimeDuration() time.Duration    { return seconds(p.MaxIdleTime) }

// HeartbeatDuration returns the heartbeat interval, or 0 if heartbeats
// are disabled.
func (p Pool) HeartbeatDuration() time.Duration {
	if p.Heartbeat <= 0 {
		return 0
	}
	return seconds(p.Heartbeat)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
