package redikit

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type (
	// Config describes how to reach a single Redis server. A Config is a
	// value: once built it is never mutated, so it can be shared freely
	// between goroutines and concurrent connection attempts.
	Config struct {
		hostname       string
		port           int
		password       *string
		database       *int
		logger         Logger
		connectTimeout time.Duration
		readTimeout    time.Duration
		writeTimeout   time.Duration
	}

	// ConfigFunc is a function used to initialize a new Config.
	ConfigFunc func(*Config)
)

const (
	// DefaultHostname is the host used when none is configured.
	DefaultHostname = "localhost"

	// DefaultPort is the standard Redis port.
	DefaultPort = 6379
)

// NewConfig creates a Config pointing at localhost:6379 and applies
// the given options in order.
func NewConfig(configs ...ConfigFunc) (Config, error) {
	config := Config{
		hostname:       DefaultHostname,
		port:           DefaultPort,
		connectTimeout: time.Second * 5,
		readTimeout:    time.Second * 5,
		writeTimeout:   time.Second * 5,
	}

	for _, f := range configs {
		f(&config)
	}

	if err := config.validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// ParseURL creates a Config from a URL of the form
// redis://[:password@]host[:port][/database]. The given options are
// applied after the values taken from the URL.
func ParseURL(rawurl string, configs ...ConfigFunc) (Config, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrInvalidConfig, err.Error())
	}

	if u.Scheme != "redis" {
		return Config{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidConfig, u.Scheme)
	}

	if u.Hostname() == "" {
		return Config{}, fmt.Errorf("%w: missing host", ErrInvalidConfig)
	}

	values := []ConfigFunc{WithHostname(u.Hostname())}

	if rawPort := u.Port(); rawPort != "" {
		port, err := strconv.Atoi(rawPort)
		if err != nil {
			return Config{}, fmt.Errorf("%w: illegal port %q", ErrInvalidConfig, rawPort)
		}

		values = append(values, WithPort(port))
	}

	if u.User != nil {
		if password, ok := u.User.Password(); ok {
			values = append(values, WithPassword(password))
		}
	}

	if path := strings.TrimPrefix(u.Path, "/"); path != "" {
		database, err := strconv.Atoi(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: illegal database %q", ErrInvalidConfig, path)
		}

		values = append(values, WithDatabase(database))
	}

	return NewConfig(append(values, configs...)...)
}

// WithHostname sets the hostname (default is localhost).
func WithHostname(hostname string) ConfigFunc {
	return func(c *Config) { c.hostname = hostname }
}

// WithPort sets the port (default is 6379).
func WithPort(port int) ConfigFunc {
	return func(c *Config) { c.port = port }
}

// WithPassword sets the password sent with AUTH after connecting
// (default is no authentication).
func WithPassword(password string) ConfigFunc {
	return func(c *Config) { c.password = &password }
}

// WithDatabase sets the logical database selected after connecting
// (default is no explicit selection, which leaves the server on 0).
func WithDatabase(database int) ConfigFunc {
	return func(c *Config) { c.database = &database }
}

// WithConnectionLogger attaches a logger to every connection made from
// this configuration. Commands and replies on those connections are
// written to it.
func WithConnectionLogger(logger Logger) ConfigFunc {
	return func(c *Config) { c.logger = logger }
}

// WithConnectTimeout sets the connect timeout for new connections
// (default is 5 seconds).
func WithConnectTimeout(timeout time.Duration) ConfigFunc {
	return func(c *Config) { c.connectTimeout = timeout }
}

// WithReadTimeout sets the read timeout for new connections (default
// is 5 seconds).
func WithReadTimeout(timeout time.Duration) ConfigFunc {
	return func(c *Config) { c.readTimeout = timeout }
}

// WithWriteTimeout sets the write timeout for new connections (default
// is 5 seconds).
func WithWriteTimeout(timeout time.Duration) ConfigFunc {
	return func(c *Config) { c.writeTimeout = timeout }
}

func (c Config) Hostname() string              { return c.hostname }
func (c Config) Port() int                     { return c.port }
func (c Config) Logger() Logger                { return c.logger }
func (c Config) ConnectTimeout() time.Duration { return c.connectTimeout }
func (c Config) ReadTimeout() time.Duration    { return c.readTimeout }
func (c Config) WriteTimeout() time.Duration   { return c.writeTimeout }

// Password returns the configured password and whether one is set.
func (c Config) Password() (string, bool) {
	if c.password == nil {
		return "", false
	}

	return *c.password, true
}

// Database returns the configured database index and whether one is set.
func (c Config) Database() (int, bool) {
	if c.database == nil {
		return 0, false
	}

	return *c.database, true
}

// Address returns the unresolved host:port pair.
func (c Config) Address() string {
	return net.JoinHostPort(c.hostname, strconv.Itoa(c.port))
}

// String renders the configuration without its password.
func (c Config) String() string {
	s := "redis://" + c.Address()
	if c.password != nil {
		s = "redis://:***@" + c.Address()
	}

	if c.database != nil {
		s += "/" + strconv.Itoa(*c.database)
	}

	return s
}

func (c Config) validate() error {
	if c.hostname == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidConfig)
	}

	if c.port <= 0 || c.port > 65535 {
		return fmt.Errorf("%w: illegal port %d", ErrInvalidConfig, c.port)
	}

	if c.database != nil && *c.database < 0 {
		return fmt.Errorf("%w: illegal database %d", ErrInvalidConfig, *c.database)
	}

	return nil
}
