package iface

import "context"

// Commander is anything that can run a single command against a remote
// Redis server. Connections, pinned sessions, and pooled clients all
// satisfy it.
type Commander interface {
	// Do runs the command on the remote Redis server and returns its raw
	// response.
	Do(ctx context.Context, command string, args ...interface{}) (interface{}, error)
}
