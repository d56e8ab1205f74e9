package iface

import "context"

// Conn abstracts a single, feature-minimal connection to Redis.
type Conn interface {
	Commander

	// Close the connection to the remote Redis server.
	Close() error

	// Err returns a non-nil value once the connection is no longer
	// usable (closed, or broken by a network or protocol failure).
	Err() error

	// Send will publish command as part of a MULTI/EXEC sequence
	// to the remote Redis server.
	Send(command string, args ...interface{}) error
}

// DialFunc creates a ready-to-use connection to Redis or returns an error.
type DialFunc func(ctx context.Context) (Conn, error)
