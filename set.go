package redikit

import (
	"context"

	"github.com/gomodule/redigo/redis"
)

// Set is a reference to a Redis set holding elements of type E. It
// caches nothing: every method is a single round trip to the server
// through the given commander. Whether the key actually holds a set is
// only discovered when a command runs against it.
//
// https://redis.io/topics/data-types-intro#sets
type Set[E any] struct {
	key    string
	client Commander
	codec  Codec[E]
}

// NewSet creates a reference to the set stored at key.
func NewSet[E any](client Commander, key string, codec Codec[E]) *Set[E] {
	return &Set[E]{
		key:    key,
		client: client,
		codec:  codec,
	}
}

// NewStringSet creates a reference to a set of strings.
func NewStringSet(client Commander, key string) *Set[string] {
	return NewSet(client, key, StringCodec())
}

// NewIntSet creates a reference to a set of integers.
func NewIntSet(client Commander, key string) *Set[int] {
	return NewSet(client, key, IntCodec())
}

// Key returns the key identifying this set.
func (s *Set[E]) Key() string {
	return s.key
}

// Count returns the number of elements in the set.
func (s *Set[E]) Count(ctx context.Context) (int, error) {
	reply, err := s.client.Do(ctx, "SCARD", s.key)
	return convertReply("count", reply, err, redis.Int)
}

// AllElements returns every element of the set. An empty set and a
// missing key both produce an empty slice.
func (s *Set[E]) AllElements(ctx context.Context) ([]E, error) {
	return s.decodeAll(s.client.Do(ctx, "SMEMBERS", s.key))
}

// Contains returns true if the element is a member of the set.
func (s *Set[E]) Contains(ctx context.Context, element E) (bool, error) {
	arg, err := s.codec.Encode(element)
	if err != nil {
		return false, err
	}

	reply, err := s.client.Do(ctx, "SISMEMBER", s.key, arg)
	return convertReply("membership", reply, err, redis.Bool)
}

// Insert adds the elements to the set. Elements already in the set are
// ignored. This returns true if at least one element was added.
func (s *Set[E]) Insert(ctx context.Context, elements ...E) (bool, error) {
	return s.modify(ctx, "SADD", elements)
}

// Remove removes the elements from the set. Elements not in the set are
// ignored. This returns true if at least one element was removed.
func (s *Set[E]) Remove(ctx context.Context, elements ...E) (bool, error) {
	return s.modify(ctx, "SREM", elements)
}

// RemoveAll deletes the set. This returns true only if the set existed.
func (s *Set[E]) RemoveAll(ctx context.Context) (bool, error) {
	reply, err := s.client.Do(ctx, "DEL", s.key)
	deleted, err := convertReply("count", reply, err, redis.Int)
	if err != nil {
		return false, err
	}

	return deleted == 1, nil
}

// PopRandomElement removes and returns a random element. The boolean
// result is false if the set is empty.
func (s *Set[E]) PopRandomElement(ctx context.Context) (E, bool, error) {
	return s.decodeOne(s.client.Do(ctx, "SPOP", s.key))
}

// PopRandomElements removes and returns up to max random elements. Fewer
// elements are returned if the set is smaller than max.
func (s *Set[E]) PopRandomElements(ctx context.Context, max int) ([]E, error) {
	if max <= 0 {
		return nil, invalidArgument("max must be positive (got %d)", max)
	}

	return s.decodeAll(s.client.Do(ctx, "SPOP", s.key, max))
}

// RandomElement returns a random element without removing it. The
// boolean result is false if the set is empty.
func (s *Set[E]) RandomElement(ctx context.Context) (E, bool, error) {
	return s.decodeOne(s.client.Do(ctx, "SRANDMEMBER", s.key))
}

// RandomElements returns random elements without removing them.
//
//	// assume set has 3 elements
//
//	// returns all 3 elements
//	set.RandomElements(ctx, 4, false)
//	// returns 4 elements, with a duplicate
//	set.RandomElements(ctx, 4, true)
//
// Without duplicates, at most max distinct elements are returned. With
// duplicates, exactly max elements are returned from a non-empty set.
func (s *Set[E]) RandomElements(ctx context.Context, max int, allowDuplicates bool) ([]E, error) {
	if max <= 0 {
		return nil, invalidArgument("max must be positive (got %d); use allowDuplicates to pick with repeats", max)
	}

	// A negative count is how the server is told repeats are allowed.
	count := max
	if allowDuplicates {
		count = -max
	}

	return s.decodeAll(s.client.Do(ctx, "SRANDMEMBER", s.key, count))
}

//
// Set Helper Functions

// Send a single command with every encoded element, so bulk changes are
// never split across several round trips.
func (s *Set[E]) modify(ctx context.Context, command string, elements []E) (bool, error) {
	if len(elements) == 0 {
		return false, nil
	}

	args, err := s.encodeAll(elements)
	if err != nil {
		return false, err
	}

	reply, err := s.client.Do(ctx, command, args...)
	changed, err := convertReply("count", reply, err, redis.Int)
	if err != nil {
		return false, err
	}

	return changed > 0, nil
}

func (s *Set[E]) encodeAll(elements []E) ([]interface{}, error) {
	args := make([]interface{}, 0, len(elements)+1)
	args = append(args, s.key)

	for _, element := range elements {
		arg, err := s.codec.Encode(element)
		if err != nil {
			return nil, err
		}

		args = append(args, arg)
	}

	return args, nil
}

// Decode a multi-bulk reply. A single element that fails to convert
// fails the whole call.
func (s *Set[E]) decodeAll(reply interface{}, err error) ([]E, error) {
	if err == nil && reply == nil {
		return []E{}, nil
	}

	values, err := convertReply("elements", reply, err, redis.Values)
	if err != nil {
		return nil, err
	}

	elements := make([]E, 0, len(values))
	for _, value := range values {
		element, err := s.codec.Decode(value)
		if err != nil {
			return nil, err
		}

		elements = append(elements, element)
	}

	return elements, nil
}

// Decode a single bulk reply. A nil reply means the set was empty; any
// other value that fails to convert is an error, not an empty result.
func (s *Set[E]) decodeOne(reply interface{}, err error) (E, bool, error) {
	var zero E
	if err != nil {
		return zero, false, err
	}

	if reply == nil {
		return zero, false, nil
	}

	element, err := s.codec.Decode(reply)
	if err != nil {
		return zero, false, err
	}

	return element, true, nil
}
