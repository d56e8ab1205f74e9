package redikit

import (
	"encoding/json"

	"github.com/gomodule/redigo/redis"
)

type (
	// Codec converts elements of type E to command arguments and command
	// replies back to elements. Conversion must be lossless in both
	// directions.
	Codec[E any] interface {
		// Encode converts the element into a command argument.
		Encode(element E) (interface{}, error)

		// Decode converts a single reply value into an element.
		Decode(reply interface{}) (E, error)
	}

	codecFuncs[E any] struct {
		encode func(E) (interface{}, error)
		decode func(interface{}) (E, error)
	}
)

func (c codecFuncs[E]) Encode(element E) (interface{}, error) {
	return c.encode(element)
}

func (c codecFuncs[E]) Decode(reply interface{}) (E, error) {
	return c.decode(reply)
}

// NewCodec creates a Codec from a pair of conversion functions.
func NewCodec[E any](encode func(E) (interface{}, error), decode func(interface{}) (E, error)) Codec[E] {
	return codecFuncs[E]{encode: encode, decode: decode}
}

// StringCodec stores elements as bulk strings.
func StringCodec() Codec[string] {
	return NewCodec(
		func(e string) (interface{}, error) { return e, nil },
		func(reply interface{}) (string, error) { return decodeReply("string", reply, redis.String) },
	)
}

// BytesCodec stores elements as binary-safe bulk strings.
func BytesCodec() Codec[[]byte] {
	return NewCodec(
		func(e []byte) (interface{}, error) { return e, nil },
		func(reply interface{}) ([]byte, error) { return decodeReply("bytes", reply, redis.Bytes) },
	)
}

// IntCodec stores elements as decimal integers.
func IntCodec() Codec[int] {
	return NewCodec(
		func(e int) (interface{}, error) { return e, nil },
		func(reply interface{}) (int, error) { return decodeReply("int", reply, redis.Int) },
	)
}

// Int64Codec stores elements as decimal 64-bit integers.
func Int64Codec() Codec[int64] {
	return NewCodec(
		func(e int64) (interface{}, error) { return e, nil },
		func(reply interface{}) (int64, error) { return decodeReply("int64", reply, redis.Int64) },
	)
}

// Float64Codec stores elements as decimal floating point numbers.
func Float64Codec() Codec[float64] {
	return NewCodec(
		func(e float64) (interface{}, error) { return e, nil },
		func(reply interface{}) (float64, error) { return decodeReply("float64", reply, redis.Float64) },
	)
}

// JSONCodec stores elements as their JSON encoding. Two elements are the
// same member only if they encode to identical bytes.
func JSONCodec[E any]() Codec[E] {
	return NewCodec(
		func(e E) (interface{}, error) {
			data, err := json.Marshal(e)
			if err != nil {
				return nil, conversionError("encode json: %s", err.Error())
			}

			return data, nil
		},
		func(reply interface{}) (E, error) {
			var e E

			data, err := decodeReply("json", reply, redis.Bytes)
			if err != nil {
				return e, err
			}

			if err := json.Unmarshal(data, &e); err != nil {
				return e, conversionError("decode json: %s", err.Error())
			}

			return e, nil
		},
	)
}

// decodeReply runs one of redigo's reply helpers over a single value and
// reports a failure (including a nil reply) as a conversion error.
func decodeReply[T any](kind string, reply interface{}, convert func(interface{}, error) (T, error)) (T, error) {
	value, err := convert(reply, nil)
	if err != nil {
		return value, conversionError("decode %s: %s", kind, err.Error())
	}

	return value, nil
}

// convertReply is decodeReply for the result of a whole command. A
// command error is returned untouched; a reply of the wrong shape is a
// conversion error.
func convertReply[T any](kind string, reply interface{}, err error, convert func(interface{}, error) (T, error)) (T, error) {
	if err != nil {
		var zero T
		return zero, err
	}

	return decodeReply(kind, reply, convert)
}
