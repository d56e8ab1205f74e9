package redikit

import (
	"context"
	"errors"
	"fmt"

	"github.com/gomodule/redigo/redis"
)

var (
	// ErrNoConnection is returned when the borrow timeout elapses.
	ErrNoConnection = errors.New("no connection available in pool")

	// ErrPoolClosed is returned when borrowing from a closed pool.
	ErrPoolClosed = errors.New("connection pool is closed")

	// ErrInvalidConfig is returned when a configuration or URL cannot
	// describe a reachable Redis server.
	ErrInvalidConfig = errors.New("invalid redis configuration")

	// ErrAddressResolution is returned when the configured host and port
	// cannot be resolved to a network address.
	ErrAddressResolution = errors.New("could not resolve redis address")

	// ErrTransport is returned when connecting to or talking with the
	// remote server failed at the network layer.
	ErrTransport = errors.New("redis transport failure")

	// ErrProtocolRejection is returned when the server answered with an
	// error reply (bad password, wrong type for key, unknown command).
	ErrProtocolRejection = errors.New("redis rejected command")

	// ErrConversion is returned when a wire value cannot be mapped to or
	// from the requested element or entity type.
	ErrConversion = errors.New("redis value conversion failed")

	// ErrInvalidArgument is returned for caller-supplied arguments that
	// are out of range. No command is sent.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSessionCommand is returned when a command that changes
	// per-connection state is run on a pooled client instead of a
	// pinned session.
	ErrSessionCommand = errors.New("command changes connection state and requires a pinned session")
)

// connErr marks an error after which the underlying connection is no
// longer usable.
type connErr struct{ error }

func (e connErr) Unwrap() error {
	return e.error
}

// finalErr marks an error that must be returned to the caller as is,
// even if the connection it came from was stale. The wrapped error is
// still seen by errors.As, so a broken connection is still discarded.
type finalErr struct{ error }

func (e finalErr) Unwrap() error {
	return e.error
}

// classifyError maps a driver error onto the package error taxonomy.
// The broken flag indicates that the connection the error came from
// has failed permanently.
func classifyError(err error, broken bool) error {
	if err == nil {
		return nil
	}

	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return fmt.Errorf("%w: %w", ErrProtocolRejection, err)
	}

	if broken {
		return connErr{fmt.Errorf("%w: %w", ErrTransport, err)}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrTransport, err)
}

func conversionError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConversion, fmt.Sprintf(format, args...))
}

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
