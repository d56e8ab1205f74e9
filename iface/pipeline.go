package iface

import "context"

// Pipeline collects commands and runs them on one connection as a
// single MULTI/EXEC transaction.
type Pipeline interface {
	// Add queues a command. Nothing is sent until Run.
	Add(command string, args ...interface{})

	// Run sends every queued command inside MULTI/EXEC and returns the
	// EXEC reply, which holds one reply per command in order.
	Run(ctx context.Context) (interface{}, error)
}
