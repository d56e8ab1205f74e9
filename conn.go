package redikit

import (
	"context"

	"github.com/gomodule/redigo/redis"

	"github.com/efritz/redikit/iface"
)

type (
	// Conn abstracts a single, feature-minimal connection to Redis.
	Conn = iface.Conn

	// DialFunc creates a connection to Redis or returns an error.
	DialFunc = iface.DialFunc

	redigoShim struct {
		conn redis.Conn
	}
)

// dialRedigo opens a raw connection to an already-resolved address. When
// a logger is given, every command and reply on the connection is written
// to it.
func dialRedigo(ctx context.Context, address string, config Config, logger Logger) (Conn, error) {
	conn, err := redis.DialContext(
		ctx,
		"tcp",
		address,
		redis.DialConnectTimeout(config.ConnectTimeout()),
		redis.DialReadTimeout(config.ReadTimeout()),
		redis.DialWriteTimeout(config.WriteTimeout()),
	)

	if err != nil {
		return nil, err
	}

	if logger != nil {
		conn = redis.NewLoggingConn(conn, newStdLogger(logger), "redikit")
	}

	return &redigoShim{conn}, nil
}

// IsClosed returns true if the connection can no longer be used.
func IsClosed(conn Conn) bool {
	return conn.Err() != nil
}

func (s *redigoShim) Close() error {
	return s.conn.Close()
}

func (s *redigoShim) Err() error {
	return s.conn.Err()
}

func (s *redigoShim) Do(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
	result, err := redis.DoContext(s.conn, ctx, command, args...)
	return result, s.wrapError(err)
}

func (s *redigoShim) Send(command string, args ...interface{}) error {
	return s.wrapError(s.conn.Send(command, args...))
}

func (s *redigoShim) wrapError(err error) error {
	// If there's an error on the connection, wrap it and return that
	// so we can flag the retry loop in the client to retry instead of
	// returning the error on this attempt.

	if connErr := s.conn.Err(); connErr != nil {
		if err == nil {
			err = connErr
		}

		return classifyError(err, true)
	}

	return classifyError(err, false)
}
