package iface

import "context"

// Client is a goroutine-safe, minimal, and pooled Redis client.
type Client interface {
	// Do borrows a connection for exactly one command. Commands which
	// alter per-connection state are rejected; use Pin for those.
	Commander

	// Close will close all open connections to the remote Redis server.
	Close() error

	// Pipeline returns a builder object to which commands can be attached.
	// All commands in the pipeline are sent to the remote server in a
	// single request and all results will be returned in a single response.
	// The MULTI/EXEC commands are added implicitly by the client.
	Pipeline() Pipeline

	// Pin borrows a single connection and holds it for the duration of
	// the given function. The connection is released on every exit path.
	Pin(ctx context.Context, f func(Session) error) error
}
