package redikit

import (
	"context"

	"github.com/gomodule/redigo/redis"
)

// GetValue returns the string stored at key. The boolean result is false
// if the key does not exist.
func GetValue(ctx context.Context, c Commander, key string) (string, bool, error) {
	reply, err := c.Do(ctx, "GET", key)
	if err == nil && reply == nil {
		return "", false, nil
	}

	value, err := convertReply("string", reply, err, redis.String)
	if err != nil {
		return "", false, err
	}

	return value, true, nil
}

// SetValue stores value at key.
func SetValue(ctx context.Context, c Commander, key string, value interface{}) error {
	_, err := c.Do(ctx, "SET", key, value)
	return err
}

// Delete removes the given keys and returns how many existed.
func Delete(ctx context.Context, c Commander, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	args := make([]interface{}, 0, len(keys))
	for _, key := range keys {
		args = append(args, key)
	}

	reply, err := c.Do(ctx, "DEL", args...)
	return convertReply("count", reply, err, redis.Int)
}

// Select switches the logical database of the connection behind c. This
// only makes sense on a pinned Session or a bare Conn; a pooled Client
// rejects it with ErrSessionCommand.
func Select(ctx context.Context, c Commander, database int) error {
	if database < 0 {
		return invalidArgument("database must not be negative (got %d)", database)
	}

	_, err := c.Do(ctx, "SELECT", database)
	return err
}

// Ping checks that the server answers.
func Ping(ctx context.Context, c Commander) error {
	_, err := c.Do(ctx, "PING")
	return err
}
