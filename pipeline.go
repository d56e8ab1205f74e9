package redikit

import (
	"context"
	"fmt"

	"github.com/efritz/redikit/iface"
)

type (
	// Pipeline queues commands to run as one MULTI/EXEC transaction.
	Pipeline = iface.Pipeline

	pipeline struct {
		client   *client
		commands []commandPair
	}

	commandPair struct {
		command string
		args    []interface{}
	}
)

func newPipeline(client *client) Pipeline {
	return &pipeline{
		client:   client,
		commands: []commandPair{},
	}
}

func (p *pipeline) Add(command string, args ...interface{}) {
	p.commands = append(p.commands, commandPair{
		command: command,
		args:    args,
	})
}

// Run fails without borrowing a connection if any queued command would
// change session state.
func (p *pipeline) Run(ctx context.Context) (interface{}, error) {
	for _, command := range p.commands {
		if isSessionCommand(command.command) {
			return nil, fmt.Errorf("%w: %s", ErrSessionCommand, command.command)
		}
	}

	return p.client.withRetry(ctx, func(conn Conn) (interface{}, error) {
		if err := conn.Send("MULTI"); err != nil {
			return nil, err
		}

		// Commands are buffered until EXEC flushes them, so a failure
		// while queueing means nothing has reached the server.

		for _, command := range p.commands {
			if err := conn.Send(command.command, command.args...); err != nil {
				return nil, err
			}
		}

		// Once EXEC is flushed the transaction may have run on the
		// server. A failure from here on is never retried.
		result, err := conn.Do(ctx, "EXEC")
		if err != nil {
			return nil, finalErr{err}
		}

		return result, nil
	})
}
