package iface

import (
	"context"
	"time"
)

// Pool abstracts a fixed-size Redis connection pool.
type Pool interface {
	// Close will drain all available connections from the pool.
	// Every live connection is closed. This method blocks until
	// every borrowed connection has been released.
	Close() error

	// Borrow will block until a connection value is available in
	// the pool or the context is done. If the slot is empty, then
	// a new connection is dialed in its place.
	Borrow(ctx context.Context) (Conn, error)

	// BorrowTimeout is like borrow, but will return ErrNoConnection
	// if no value is returned to the pool before the given timeout
	// elapses.
	BorrowTimeout(ctx context.Context, timeout time.Duration) (Conn, error)

	// Release returns a connection to the pool. This method must
	// be called exactly once for each successful call to a Borrow
	// method. A connection which encountered an error should be
	// returned to the pool as a nil value.
	Release(conn Conn)
}
