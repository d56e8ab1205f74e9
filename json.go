package redikit

import (
	"context"
	"encoding/json"

	"github.com/gomodule/redigo/redis"
)

// SetJSON stores the JSON encoding of value at key. If the value cannot
// be encoded no command is sent.
func SetJSON(ctx context.Context, c Commander, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return conversionError("encode json for %q: %s", key, err.Error())
	}

	_, err = c.Do(ctx, "SET", key, data)
	return err
}

// GetJSON decodes the JSON value stored at key. A missing key returns
// nil without error; a value that is present but cannot be decoded is
// an error.
func GetJSON[T any](ctx context.Context, c Commander, key string) (*T, error) {
	reply, err := c.Do(ctx, "GET", key)
	if err == nil && reply == nil {
		return nil, nil
	}

	data, err := convertReply("bytes", reply, err, redis.Bytes)
	if err != nil {
		return nil, err
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, conversionError("decode json at %q: %s", key, err.Error())
	}

	return &value, nil
}
