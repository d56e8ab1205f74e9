package redikit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/efritz/glock"
	"github.com/efritz/overcurrent"
	"github.com/hashicorp/go-multierror"

	"github.com/efritz/redikit/iface"
)

type (
	// Pool is a fixed set of connection slots shared by a client.
	Pool = iface.Pool

	// pool tracks every slot in exactly one of two channels: idle holds
	// live connections, empty holds slots with no connection yet (nil).
	pool struct {
		dialer      DialFunc
		capacity    int
		logger      Logger
		breakerFunc BreakerFunc
		clock       glock.Clock
		idle        chan Conn
		empty       chan Conn
		done        chan struct{}
		closeOnce   sync.Once
		dialing     chan struct{}
	}

	// BreakerFunc runs a dial attempt through a circuit breaker. Both
	// overcurrent.CircuitBreaker.Call and a registry lookup fit.
	BreakerFunc func(overcurrent.BreakerFunc) error
)

func noopBreakerFunc(f overcurrent.BreakerFunc) error {
	return f(context.Background())
}

// NewPool creates a pool of the given capacity. No connection is made
// until a slot is first borrowed. A nil breakerFunc or clock is replaced
// by a pass-through breaker and the real clock.
func NewPool(
	dialer DialFunc,
	capacity int,
	logger Logger,
	breakerFunc BreakerFunc,
	clock glock.Clock,
) (Pool, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: pool capacity must be positive (got %d)", ErrInvalidArgument, capacity)
	}

	if breakerFunc == nil {
		breakerFunc = noopBreakerFunc
	}

	if clock == nil {
		clock = glock.NewRealClock()
	}

	p := &pool{
		dialer:      dialer,
		capacity:    capacity,
		logger:      logger,
		breakerFunc: breakerFunc,
		clock:       clock,
		idle:        make(chan Conn, capacity),
		empty:       make(chan Conn, capacity),
		done:        make(chan struct{}),
		dialing:     make(chan struct{}, 1),
	}

	for i := 0; i < capacity; i++ {
		p.empty <- nil
	}

	return p, nil
}

// Close stops new borrows, waits for every slot to come back, and closes
// the live connections. Errors from closing are aggregated.
func (p *pool) Close() error {
	var errs error

	p.closeOnce.Do(func() {
		close(p.done)

		for i := 0; i < p.capacity; i++ {
			conn := p.reclaim()
			if conn == nil {
				continue
			}

			if err := conn.Close(); err != nil {
				p.logger.Printf("Could not close connection (%s)", err.Error())
				errs = multierror.Append(errs, err)
			}
		}
	})

	return errs
}

func (p *pool) Borrow(ctx context.Context) (Conn, error) {
	return p.borrow(ctx, nil)
}

func (p *pool) BorrowTimeout(ctx context.Context, timeout time.Duration) (Conn, error) {
	return p.borrow(ctx, &timeout)
}

// Release hands a slot back. A nil conn marks the slot as empty so the
// next borrower dials.
func (p *pool) Release(conn Conn) {
	if conn != nil {
		p.idle <- conn
		return
	}

	p.empty <- nil
}

//
// Pool Helper Functions

func (p *pool) borrow(ctx context.Context, timeout *time.Duration) (Conn, error) {
	conn, err := p.take(ctx, timeout)
	if err != nil {
		return nil, err
	}

	if conn != nil && IsClosed(conn) {
		p.logger.Printf("Discarding closed connection from pool")
		conn.Close()
		conn = nil
	}

	if conn == nil {
		return p.dial(ctx)
	}

	return conn, nil
}

// take claims a slot. Idle connections are preferred over empty slots so
// the number of open connections stays low under light load. A nil
// timeout waits until ctx is done or the pool closes.
func (p *pool) take(ctx context.Context, timeout *time.Duration) (Conn, error) {
	select {
	case <-p.done:
		return nil, ErrPoolClosed
	default:
	}

	select {
	case conn := <-p.idle:
		return conn, nil
	default:
	}

	select {
	case conn := <-p.idle:
		return conn, nil
	case conn := <-p.empty:
		return conn, nil
	case <-timeoutChan(timeout, p.clock):
		return nil, ErrNoConnection
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrPoolClosed
	}
}

// reclaim blocks until some slot is free during shutdown.
func (p *pool) reclaim() Conn {
	select {
	case conn := <-p.idle:
		return conn
	case conn := <-p.empty:
		return conn
	}
}

// dial fills an empty slot through the breaker. Dials run one at a
// time; a borrower waiting for its turn gives up when ctx is done or
// the pool closes. On any failure the slot is returned empty so
// capacity is not lost.
func (p *pool) dial(ctx context.Context) (Conn, error) {
	select {
	case p.dialing <- struct{}{}:
	case <-ctx.Done():
		p.empty <- nil
		return nil, ctx.Err()
	case <-p.done:
		p.empty <- nil
		return nil, ErrPoolClosed
	}

	defer func() { <-p.dialing }()

	var conn Conn
	err := p.breakerFunc(func(_ context.Context) error {
		dialed, err := p.dialer(ctx)
		conn = dialed
		return err
	})

	if err != nil {
		p.empty <- nil
		p.logger.Printf("Could not connect to Redis (%s)", err.Error())
		return nil, err
	}

	p.logger.Printf("Established a new connection with Redis")
	return conn, nil
}

var neverChan = make(chan time.Time)

// timeoutChan returns a channel that fires after timeout on the given
// clock, or never if timeout is nil.
func timeoutChan(timeout *time.Duration, clock glock.Clock) <-chan time.Time {
	if timeout == nil {
		return neverChan
	}

	return clock.After(*timeout)
}
