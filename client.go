package redikit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bradhe/stopwatch"
	"github.com/efritz/backoff"
	"github.com/efritz/glock"
	"github.com/efritz/overcurrent"

	"github.com/efritz/redikit/iface"
)

type (
	// Client is a goroutine-safe, minimal, and pooled Redis client.
	Client = iface.Client

	// Commander is anything that can run a single Redis command.
	Commander = iface.Commander

	client struct {
		pool          Pool
		borrowTimeout *time.Duration
		backoff       BackoffFactory
		maxAttempts   int
		clock         glock.Clock
		logger        Logger
	}

	clientConfig struct {
		poolCapacity  int
		breakerFunc   BreakerFunc
		clock         glock.Clock
		borrowTimeout *time.Duration
		backoff       BackoffFactory
		maxAttempts   int
		correlationID string
		dialer        DialFunc
		logger        Logger
	}

	// ClientConfigFunc is a function used to initialize a new client.
	ClientConfigFunc func(*clientConfig)

	// BackoffFactory creates the backoff used to space out retries of
	// a single command.
	BackoffFactory func() backoff.Backoff
)

// errBorrowPanic marks a connection whose borrower panicked. Its state
// is unknown, so it is closed instead of being reused.
var errBorrowPanic = connErr{errors.New("panic while connection was borrowed")}

func defaultBackoff() backoff.Backoff {
	return backoff.NewExponentialBackoff(time.Millisecond*50, time.Second)
}

// NewClient creates a new Client which makes connections from the
// given configuration. A pool capacity or attempt limit below one is
// ErrInvalidConfig.
func NewClient(config Config, configs ...ClientConfigFunc) (Client, error) {
	c := &clientConfig{
		poolCapacity:  10,
		breakerFunc:   noopBreakerFunc,
		clock:         glock.NewRealClock(),
		borrowTimeout: nil,
		backoff:       defaultBackoff,
		maxAttempts:   3,
		logger:        &defaultLogger{},
	}

	for _, f := range configs {
		f(c)
	}

	if c.poolCapacity < 1 {
		return nil, fmt.Errorf("%w: pool capacity must be positive (got %d)", ErrInvalidConfig, c.poolCapacity)
	}

	if c.maxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be positive (got %d)", ErrInvalidConfig, c.maxAttempts)
	}

	dialer := c.dialer
	if dialer == nil {
		dialer = NewSource(config, c.logger, c.correlationID).Dialer()
	}

	pool, err := NewPool(
		dialer,
		c.poolCapacity,
		c.logger,
		c.breakerFunc,
		c.clock,
	)

	if err != nil {
		return nil, err
	}

	return &client{
		pool:          pool,
		borrowTimeout: c.borrowTimeout,
		backoff:       c.backoff,
		maxAttempts:   c.maxAttempts,
		clock:         c.clock,
		logger:        c.logger,
	}, nil
}

// NewClientFromURL parses the given redis:// URL and creates a client
// from the resulting configuration.
func NewClientFromURL(rawurl string, configs ...ClientConfigFunc) (Client, error) {
	config, err := ParseURL(rawurl)
	if err != nil {
		return nil, err
	}

	return NewClient(config, configs...)
}

// WithPoolCapacity sets the maximum number of concurrent connections
// that can be in use at once (default is 10).
func WithPoolCapacity(capacity int) ClientConfigFunc {
	return func(c *clientConfig) { c.poolCapacity = capacity }
}

// WithBreaker sets the circuit breaker instance to use around new
// connections. The default uses a no-op circuit breaker.
func WithBreaker(breaker overcurrent.CircuitBreaker) ClientConfigFunc {
	return func(c *clientConfig) { c.breakerFunc = breaker.Call }
}

// WithBreakerRegistry sets the overcurrent registry to use and the
// name of the circuit breaker config to use around new connections.
// The default uses a no-op circuit breaker.
func WithBreakerRegistry(registry overcurrent.Registry, name string) ClientConfigFunc {
	return func(c *clientConfig) {
		c.breakerFunc = func(f overcurrent.BreakerFunc) error {
			return registry.Call(name, f, nil)
		}
	}
}

// WithBorrowTimeout sets the maximum time to wait for a connection
// from the pool (default is to wait until the context is done).
func WithBorrowTimeout(timeout time.Duration) ClientConfigFunc {
	return func(c *clientConfig) { c.borrowTimeout = &timeout }
}

// WithBackoff sets the backoff used between retries of a command that
// failed on a stale connection (default is exponential, 50ms to 1s).
func WithBackoff(factory BackoffFactory) ClientConfigFunc {
	return func(c *clientConfig) { c.backoff = factory }
}

// WithMaxAttempts sets the number of times a command is attempted when
// it fails on a stale connection (default is 3).
func WithMaxAttempts(attempts int) ClientConfigFunc {
	return func(c *clientConfig) { c.maxAttempts = attempts }
}

// WithCorrelationID sets the id attached to the log lines of the
// client's connection source (default is a random UUID).
func WithCorrelationID(id string) ClientConfigFunc {
	return func(c *clientConfig) { c.correlationID = id }
}

// WithDialer replaces the connection source used to fill the pool.
func WithDialer(dialer DialFunc) ClientConfigFunc {
	return func(c *clientConfig) { c.dialer = dialer }
}

// WithLogger sets the logger instance (the default will use Go's
// builtin logging library).
func WithLogger(logger Logger) ClientConfigFunc {
	return func(c *clientConfig) { c.logger = logger }
}

func withClock(clock glock.Clock) ClientConfigFunc {
	return func(c *clientConfig) { c.clock = clock }
}

//
// Client Implementation

func (c *client) Close() error {
	return c.pool.Close()
}

func (c *client) Do(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
	if isSessionCommand(command) {
		return nil, fmt.Errorf("%w: %s", ErrSessionCommand, command)
	}

	return c.withRetry(ctx, func(conn Conn) (interface{}, error) {
		return conn.Do(ctx, command, args...)
	})
}

func (c *client) Pipeline() Pipeline {
	return newPipeline(c)
}

func (c *client) Pin(ctx context.Context, f func(Session) error) error {
	conn, err := c.timedBorrow(ctx)
	if err != nil {
		return err
	}

	var (
		s         = &session{conn: conn}
		completed = false
	)

	defer func() {
		switch {
		case !completed:
			c.release(conn, errBorrowPanic)

		case s.dirty():
			// A database switch or an unfinished transaction would leak
			// into the next borrower.
			c.logger.Printf("Discarding pinned connection with modified session state")
			conn.Close()
			c.pool.Release(nil)

		default:
			c.release(conn, s.err)
		}
	}()

	err = f(s)
	completed = true
	return err
}

//
// Client Helper Functions

// Run the given function with a borrowed connection. If the function
// fails because the connection was stale, try again on another (possibly
// fresh) connection after waiting for the next backoff interval.
func (c *client) withRetry(ctx context.Context, f func(Conn) (interface{}, error)) (interface{}, error) {
	b := c.backoff()

	for attempt := 1; ; attempt++ {
		result, err := c.withConn(ctx, f)
		if err == nil || !shouldRetry(err) || attempt >= c.maxAttempts {
			return result, err
		}

		// The TCP connection to the remote Redis server may have been
		// reaped by a proxy (depending on your network topology). If
		// we have an IO error, we can try again.

		interval := b.NextInterval()
		c.logger.Printf("Connection from pool was stale, retrying in %s", interval)

		select {
		case <-c.clock.After(interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Invoke a function with a connection and release the connection back
// to the pool on every exit path.
func (c *client) withConn(ctx context.Context, f func(Conn) (interface{}, error)) (result interface{}, err error) {
	conn, err := c.timedBorrow(ctx)
	if err != nil {
		return nil, err
	}

	completed := false
	defer func() {
		if !completed {
			c.release(conn, errBorrowPanic)
		}
	}()

	result, err = f(conn)
	completed = true
	c.release(conn, err)
	return result, err
}

// Borrows and logs the time it took to return from blocking on the
// pool's borrow method.
func (c *client) timedBorrow(ctx context.Context) (Conn, error) {
	start := stopwatch.Start()
	conn, err := c.borrow(ctx)
	elapsed := start.Stop().Milliseconds()

	if err == nil {
		c.logger.Printf("Received connection after %vms", elapsed)
	} else {
		c.logger.Printf("Could not borrow connection after %vms (%s)", elapsed, err.Error())
	}

	return conn, err
}

// Borrows from the pool using the correct method (depending on if
// a borrow timeout was configured on this client).
func (c *client) borrow(ctx context.Context) (Conn, error) {
	if c.borrowTimeout == nil {
		return c.pool.Borrow(ctx)
	}

	return c.pool.BorrowTimeout(ctx, *c.borrowTimeout)
}

// Release the connection back to the pool. Bad connections never go
// back to the pool, so if the connection broke (or a command on it was
// abandoned mid-flight) we close it and return nil (if we do not do
// this on some code path then the capacity of the pool permanently
// decreases).
func (c *client) release(conn Conn, err error) {
	if isBroken(conn, err) {
		conn.Close()
		conn = nil
	}

	c.pool.Release(conn)
}

func isBroken(conn Conn, err error) bool {
	if conn.Err() != nil {
		return true
	}

	if err == nil {
		return false
	}

	var ce connErr
	return errors.As(err, &ce) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Given an error, determine if we should try to re-invoke the
// command on another (possibly fresh) connection.
func shouldRetry(err error) bool {
	var fe finalErr
	if errors.As(err, &fe) {
		return false
	}

	var ce connErr
	if !errors.As(err, &ce) {
		return false
	}

	return errors.Is(ce, io.EOF) || errors.Is(ce, io.ErrUnexpectedEOF)
}

// Commands which change state bound to one physical connection. These
// are only meaningful on a pinned session.
var sessionCommands = map[string]struct{}{
	"SELECT":  {},
	"MULTI":   {},
	"EXEC":    {},
	"DISCARD": {},
	"WATCH":   {},
	"UNWATCH": {},
}

func isSessionCommand(command string) bool {
	_, ok := sessionCommands[strings.ToUpper(command)]
	return ok
}
