package redikit

import (
	"context"
	"strings"

	"github.com/efritz/redikit/iface"
)

type (
	// Session is a single connection held for the duration of a call
	// to Client.Pin.
	Session = iface.Session

	// session tracks the connection state a pinned function leaves
	// behind. A selected database never resets; an open MULTI or WATCH
	// resets on the matching EXEC, DISCARD or UNWATCH.
	session struct {
		conn     Conn
		err      error
		selected bool
		multi    bool
		watching bool
	}
)

func (s *session) Do(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
	result, err := s.conn.Do(ctx, command, args...)
	if err != nil {
		s.err = err
	}

	switch strings.ToUpper(command) {
	case "SELECT":
		s.selected = true

	case "MULTI":
		// A rejected MULTI (nested transaction) leaves the state as it was.
		if err == nil {
			s.multi = true
		}

	case "WATCH":
		if err == nil {
			s.watching = true
		}

	case "EXEC", "DISCARD":
		// Both end the transaction and drop every watched key, even
		// when the server answers with an error.
		s.multi = false
		s.watching = false

	case "UNWATCH":
		if !s.multi {
			s.watching = false
		}
	}

	return result, err
}

// dirty returns true if the connection must not be handed to another
// borrower.
func (s *session) dirty() bool {
	return s.selected || s.multi || s.watching
}
