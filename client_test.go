package redikit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aphistic/sweet"
	"github.com/efritz/backoff"
	"github.com/efritz/glock"
	. "github.com/onsi/gomega"
)

type ClientSuite struct{}

func (s *ClientSuite) TestClose(t sweet.T) {
	var (
		pool   = NewMockPool()
		called = false
		c      = makeClient(pool, nil)
	)

	pool.CloseFunc = func() error {
		called = true
		return nil
	}

	Expect(c.Close()).To(BeNil())
	Expect(called).To(BeTrue())
}

func (s *ClientSuite) TestDo(t sweet.T) {
	var (
		pool     = NewMockPool()
		conn     = NewMockConn()
		released = make(chan Conn, 1)
		c        = makeClient(pool, nil)
	)

	defer close(released)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		return conn, nil
	}

	pool.ReleaseFunc = func(conn Conn) {
		released <- conn
	}

	conn.DoFunc = func(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
		return []string{"BAR", "BAZ", "QUUX"}, nil
	}

	result, err := c.Do(context.Background(), "upper", "bar", "baz", "quux")
	Expect(err).To(BeNil())
	Expect(result).To(Equal([]string{"BAR", "BAZ", "QUUX"}))
	Expect(released).To(Receive(Equal(conn)))
	Expect(conn.DoFuncCallParams[0].Arg1).To(Equal("upper"))
	Expect(conn.DoFuncCallParams[0].Arg2).To(Equal([]interface{}{"bar", "baz", "quux"}))
}

func (s *ClientSuite) TestDoNoConnection(t sweet.T) {
	var (
		pool     = NewMockPool()
		released = make(chan Conn, 1)
		c        = makeClient(pool, nil)
	)

	defer close(released)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		return nil, ErrNoConnection
	}

	pool.ReleaseFunc = func(conn Conn) {
		released <- conn
	}

	_, err := c.Do(context.Background(), "upper", "bar", "baz", "quux")
	Expect(err).To(Equal(ErrNoConnection))

	// Nothing to release
	Consistently(released).ShouldNot(Receive())
}

func (s *ClientSuite) TestDoBorrowTimeout(t sweet.T) {
	var (
		pool    = NewMockPool()
		conn    = NewMockConn()
		timeout = time.Second * 3
		c       = makeClient(pool, nil)
	)

	c.borrowTimeout = &timeout

	pool.BorrowTimeoutFunc = func(ctx context.Context, timeout time.Duration) (Conn, error) {
		return conn, nil
	}

	_, err := c.Do(context.Background(), "ping")
	Expect(err).To(BeNil())
	Expect(pool.BorrowFuncCallCount).To(Equal(0))
	Expect(pool.BorrowTimeoutFuncCallParams).To(HaveLen(1))
	Expect(pool.BorrowTimeoutFuncCallParams[0].Arg1).To(Equal(time.Second * 3))
}

func (s *ClientSuite) TestDoError(t sweet.T) {
	var (
		pool     = NewMockPool()
		conn     = NewMockConn()
		released = make(chan Conn, 1)
		c        = makeClient(pool, nil)
	)

	defer close(released)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		return conn, nil
	}

	pool.ReleaseFunc = func(conn Conn) {
		released <- conn
	}

	conn.DoFunc = func(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
		conn.ErrFunc = func() error { return errors.New("broken pipe") }
		return nil, errors.New("utoh")
	}

	_, err := c.Do(context.Background(), "upper", "bar", "baz", "quux")
	Expect(err).To(MatchError("utoh"))
	Expect(released).To(Receive(BeNil()))
	Expect(conn.CloseFuncCallCount).To(Equal(1))
}

func (s *ClientSuite) TestDoProtocolRejectionKeepsConnection(t sweet.T) {
	var (
		pool     = NewMockPool()
		conn     = NewMockConn()
		released = make(chan Conn, 1)
		c        = makeClient(pool, nil)
	)

	defer close(released)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		return conn, nil
	}

	pool.ReleaseFunc = func(conn Conn) {
		released <- conn
	}

	conn.DoFunc = func(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
		return nil, fmt.Errorf("%w: WRONGTYPE", ErrProtocolRejection)
	}

	_, err := c.Do(context.Background(), "scard", "string-key")
	Expect(errors.Is(err, ErrProtocolRejection)).To(BeTrue())
	Expect(released).To(Receive(Equal(conn)))
	Expect(conn.CloseFuncCallCount).To(Equal(0))
}

func (s *ClientSuite) TestDoCancelledDiscardsConnection(t sweet.T) {
	var (
		pool     = NewMockPool()
		conn     = NewMockConn()
		released = make(chan Conn, 1)
		c        = makeClient(pool, nil)
	)

	defer close(released)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		return conn, nil
	}

	pool.ReleaseFunc = func(conn Conn) {
		released <- conn
	}

	conn.DoFunc = func(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
		return nil, context.Canceled
	}

	_, err := c.Do(context.Background(), "blpop", "list", 0)
	Expect(err).To(Equal(context.Canceled))
	Expect(released).To(Receive(BeNil()))
	Expect(conn.CloseFuncCallCount).To(Equal(1))
}

func (s *ClientSuite) TestDoPanicReleasesConnection(t sweet.T) {
	var (
		pool     = NewMockPool()
		conn     = NewMockConn()
		released = make(chan Conn, 1)
		c        = makeClient(pool, nil)
	)

	defer close(released)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		return conn, nil
	}

	pool.ReleaseFunc = func(conn Conn) {
		released <- conn
	}

	conn.DoFunc = func(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
		panic("utoh")
	}

	Expect(func() { c.Do(context.Background(), "ping") }).To(Panic())
	Expect(released).To(Receive(BeNil()))
}

func (s *ClientSuite) TestDoRejectsSessionCommands(t sweet.T) {
	var (
		pool = NewMockPool()
		c    = makeClient(pool, nil)
	)

	for _, command := range []string{"select", "SELECT", "MULTI", "exec", "DISCARD", "WATCH", "Unwatch"} {
		_, err := c.Do(context.Background(), command)
		Expect(errors.Is(err, ErrSessionCommand)).To(BeTrue(), command)
	}

	Expect(pool.BorrowFuncCallCount).To(Equal(0))
}

func (s *ClientSuite) TestNewClientInvalidOptions(t sweet.T) {
	for _, option := range []ClientConfigFunc{
		WithPoolCapacity(0),
		WithPoolCapacity(-2),
		WithMaxAttempts(0),
	} {
		client, err := NewClient(mustConfig(), WithLogger(testLogger), option)
		Expect(errors.Is(err, ErrInvalidConfig)).To(BeTrue())
		Expect(client).To(BeNil())
	}
}

func (s *ClientSuite) TestDoRetryableError(t sweet.T) {
	var (
		pool        = NewMockPool()
		conn1       = NewMockConn()
		conn2       = NewMockConn()
		clock       = glock.NewMockClock()
		borrowCount = 0
		released    = make(chan Conn, 2)
		c           = makeClient(pool, clock)
	)

	defer close(released)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		c := []Conn{conn1, conn2}[borrowCount]
		borrowCount++
		return c, nil
	}

	pool.ReleaseFunc = func(conn Conn) {
		released <- conn
	}

	conn1.DoFunc = func(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
		return nil, connErr{io.EOF}
	}

	conn2.DoFunc = func(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
		return []string{"BAR", "BAZ", "QUUX"}, nil
	}

	go func() {
		// Unlock the after call in client
		clock.BlockingAdvance(time.Second)
	}()

	result, err := c.Do(context.Background(), "upper", "bar", "baz", "quux")
	Expect(err).To(BeNil())
	Expect(result).To(Equal([]string{"BAR", "BAZ", "QUUX"}))
	Expect(released).To(Receive(BeNil()))
	Expect(released).To(Receive(Equal(conn2)))
}

func (s *ClientSuite) TestDoRetryLimit(t sweet.T) {
	var (
		pool     = NewMockPool()
		clock    = glock.NewMockClock()
		borrowed = 0
		c        = makeClient(pool, clock)
	)

	c.maxAttempts = 2

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		borrowed++
		conn := NewMockConn()
		conn.DoFunc = func(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
			return nil, connErr{io.ErrUnexpectedEOF}
		}

		return conn, nil
	}

	go func() {
		clock.BlockingAdvance(time.Second)
	}()

	_, err := c.Do(context.Background(), "ping")
	Expect(errors.Is(err, io.ErrUnexpectedEOF)).To(BeTrue())
	Expect(borrowed).To(Equal(2))
}

func (s *ClientSuite) TestDoRetryCancelled(t sweet.T) {
	var (
		pool        = NewMockPool()
		conn        = NewMockConn()
		clock       = glock.NewMockClock()
		ctx, cancel = context.WithCancel(context.Background())
		c           = makeClient(pool, clock)
	)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		return conn, nil
	}

	conn.DoFunc = func(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
		cancel()
		return nil, connErr{io.EOF}
	}

	_, err := c.Do(ctx, "ping")
	Expect(err).To(Equal(context.Canceled))
	Expect(pool.BorrowFuncCallCount).To(Equal(1))
}

func (s *ClientSuite) TestPin(t sweet.T) {
	var (
		pool     = NewMockPool()
		conn     = NewMockConn()
		released = make(chan Conn, 1)
		c        = makeClient(pool, nil)
	)

	defer close(released)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		return conn, nil
	}

	pool.ReleaseFunc = func(conn Conn) {
		released <- conn
	}

	err := c.Pin(context.Background(), func(session Session) error {
		if _, err := session.Do(context.Background(), "INCR", "foo"); err != nil {
			return err
		}

		_, err := session.Do(context.Background(), "GET", "foo")
		return err
	})

	Expect(err).To(BeNil())
	Expect(pool.BorrowFuncCallCount).To(Equal(1))
	Expect(conn.DoFuncCallParams).To(HaveLen(2))
	Expect(conn.DoFuncCallParams[0].Arg1).To(Equal("INCR"))
	Expect(conn.DoFuncCallParams[1].Arg1).To(Equal("GET"))
	Expect(released).To(Receive(Equal(conn)))
}

func (s *ClientSuite) TestPinFinishedTransactionKeepsConnection(t sweet.T) {
	for _, commands := range [][]string{
		{"MULTI", "SET", "EXEC"},
		{"MULTI", "SET", "DISCARD"},
		{"WATCH", "UNWATCH"},
		{"WATCH", "MULTI", "SET", "EXEC"},
		{"watch", "multi", "discard"},
	} {
		var (
			pool     = NewMockPool()
			conn     = NewMockConn()
			released = make(chan Conn, 1)
			c        = makeClient(pool, nil)
		)

		pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
			return conn, nil
		}

		pool.ReleaseFunc = func(conn Conn) {
			released <- conn
		}

		err := c.Pin(context.Background(), runAll(commands))
		Expect(err).To(BeNil())
		Expect(released).To(Receive(Equal(conn)), fmt.Sprintf("%v", commands))
		Expect(conn.CloseFuncCallCount).To(Equal(0))
	}
}

func (s *ClientSuite) TestPinUnfinishedTransactionDiscardsConnection(t sweet.T) {
	for _, commands := range [][]string{
		{"MULTI", "SET"},
		{"WATCH"},
		{"WATCH", "MULTI", "UNWATCH"},
		{"multi"},
	} {
		var (
			pool     = NewMockPool()
			conn     = NewMockConn()
			released = make(chan Conn, 1)
			c        = makeClient(pool, nil)
		)

		pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
			return conn, nil
		}

		pool.ReleaseFunc = func(conn Conn) {
			released <- conn
		}

		err := c.Pin(context.Background(), runAll(commands))
		Expect(err).To(BeNil())
		Expect(released).To(Receive(BeNil()), fmt.Sprintf("%v", commands))
		Expect(conn.CloseFuncCallCount).To(Equal(1))
	}
}

func (s *ClientSuite) TestPinRejectedMultiKeepsConnection(t sweet.T) {
	var (
		pool     = NewMockPool()
		conn     = NewMockConn()
		released = make(chan Conn, 1)
		c        = makeClient(pool, nil)
	)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		return conn, nil
	}

	pool.ReleaseFunc = func(conn Conn) {
		released <- conn
	}

	conn.DoFunc = func(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
		return nil, fmt.Errorf("%w: ERR MULTI calls can not be nested", ErrProtocolRejection)
	}

	err := c.Pin(context.Background(), func(session Session) error {
		_, err := session.Do(context.Background(), "MULTI")
		return err
	})

	Expect(errors.Is(err, ErrProtocolRejection)).To(BeTrue())
	Expect(released).To(Receive(Equal(conn)))
}

func (s *ClientSuite) TestPinError(t sweet.T) {
	var (
		pool     = NewMockPool()
		conn     = NewMockConn()
		released = make(chan Conn, 1)
		c        = makeClient(pool, nil)
	)

	defer close(released)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		return conn, nil
	}

	pool.ReleaseFunc = func(conn Conn) {
		released <- conn
	}

	err := c.Pin(context.Background(), func(session Session) error {
		return errors.New("utoh")
	})

	Expect(err).To(MatchError("utoh"))
	Expect(released).To(Receive(Equal(conn)))
}

func (s *ClientSuite) TestPinSelectDiscardsConnection(t sweet.T) {
	var (
		pool     = NewMockPool()
		conn     = NewMockConn()
		released = make(chan Conn, 1)
		c        = makeClient(pool, nil)
	)

	defer close(released)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		return conn, nil
	}

	pool.ReleaseFunc = func(conn Conn) {
		released <- conn
	}

	err := c.Pin(context.Background(), func(session Session) error {
		return Select(context.Background(), session, 2)
	})

	Expect(err).To(BeNil())
	Expect(conn.DoFuncCallParams[0].Arg1).To(Equal("SELECT"))
	Expect(conn.DoFuncCallParams[0].Arg2).To(Equal([]interface{}{2}))
	Expect(conn.CloseFuncCallCount).To(Equal(1))
	Expect(released).To(Receive(BeNil()))
}

func (s *ClientSuite) TestPinNoConnection(t sweet.T) {
	var (
		pool   = NewMockPool()
		called = false
		c      = makeClient(pool, nil)
	)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		return nil, ErrNoConnection
	}

	err := c.Pin(context.Background(), func(session Session) error {
		called = true
		return nil
	})

	Expect(err).To(Equal(ErrNoConnection))
	Expect(called).To(BeFalse())
	Expect(pool.ReleaseFuncCallCount).To(Equal(0))
}

func (s *ClientSuite) TestTransaction(t sweet.T) {
	var (
		pool     = NewMockPool()
		conn     = NewMockConn()
		released = make(chan Conn, 1)
		commands = make(chan commandPair, 5)
		c        = makeClient(pool, nil)
	)

	defer close(released)
	defer close(commands)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		return conn, nil
	}

	pool.ReleaseFunc = func(conn Conn) {
		released <- conn
	}

	conn.DoFunc = func(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
		commands <- commandPair{command, args}
		return []int{1, 2, 3, 4}, nil
	}

	conn.SendFunc = func(command string, args ...interface{}) error {
		commands <- commandPair{command, args}
		return nil
	}

	pipeline := c.Pipeline()
	pipeline.Add("foo", 1, 2, 3)
	pipeline.Add("bar", 2, 3, 4)
	pipeline.Add("baz", 3, 4, 5)

	result, err := pipeline.Run(context.Background())
	Expect(err).To(BeNil())
	Expect(result).To(Equal([]int{1, 2, 3, 4}))

	Eventually(released).Should(Receive(Equal(conn)))
	Eventually(commands).Should(Receive(Equal(commandPair{"MULTI", nil})))
	Eventually(commands).Should(Receive(Equal(commandPair{"foo", []interface{}{1, 2, 3}})))
	Eventually(commands).Should(Receive(Equal(commandPair{"bar", []interface{}{2, 3, 4}})))
	Eventually(commands).Should(Receive(Equal(commandPair{"baz", []interface{}{3, 4, 5}})))
	Eventually(commands).Should(Receive(Equal(commandPair{"EXEC", nil})))
	Consistently(commands).ShouldNot(Receive())
}

func (s *ClientSuite) TestTransactionNoConnection(t sweet.T) {
	var (
		pool     = NewMockPool()
		released = make(chan Conn, 1)
		c        = makeClient(pool, nil)
	)

	defer close(released)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		return nil, ErrNoConnection
	}

	pool.ReleaseFunc = func(conn Conn) {
		released <- conn
	}

	_, err := c.Pipeline().Run(context.Background())
	Expect(err).To(Equal(ErrNoConnection))

	// Nothing to release
	Consistently(released).ShouldNot(Receive())
}

func (s *ClientSuite) TestTransactionRejectsSelect(t sweet.T) {
	var (
		pool = NewMockPool()
		c    = makeClient(pool, nil)
	)

	for _, command := range []string{"SELECT", "MULTI", "EXEC", "DISCARD", "watch", "UNWATCH"} {
		pipeline := c.Pipeline()
		pipeline.Add(command, 1)
		pipeline.Add("GET", "foo")

		_, err := pipeline.Run(context.Background())
		Expect(errors.Is(err, ErrSessionCommand)).To(BeTrue(), command)
	}

	Expect(pool.BorrowFuncCallCount).To(Equal(0))
}

func (s *ClientSuite) TestTransactionExecFailureNotRetried(t sweet.T) {
	var (
		pool     = NewMockPool()
		conn     = NewMockConn()
		released = make(chan Conn, 1)
		c        = makeClient(pool, glock.NewMockClock())
	)

	defer close(released)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		return conn, nil
	}

	pool.ReleaseFunc = func(conn Conn) {
		released <- conn
	}

	conn.DoFunc = func(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
		return nil, connErr{io.EOF}
	}

	pipeline := c.Pipeline()
	pipeline.Add("INCR", "counter")

	_, err := pipeline.Run(context.Background())
	Expect(errors.Is(err, io.EOF)).To(BeTrue())
	Expect(pool.BorrowFuncCallCount).To(Equal(1))
	Expect(released).To(Receive(BeNil()))
	Expect(conn.CloseFuncCallCount).To(Equal(1))
}

func (s *ClientSuite) TestTransactionError(t sweet.T) {
	var (
		pool     = NewMockPool()
		conn     = NewMockConn()
		released = make(chan Conn, 1)
		c        = makeClient(pool, nil)
	)

	defer close(released)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		return conn, nil
	}

	pool.ReleaseFunc = func(conn Conn) {
		released <- conn
	}

	conn.SendFunc = func(command string, args ...interface{}) error {
		if command == "bar" {
			conn.ErrFunc = func() error { return errors.New("broken pipe") }
			return errors.New("utoh")
		}

		return nil
	}

	pipeline := c.Pipeline()
	pipeline.Add("foo", 1, 2, 3)
	pipeline.Add("bar", 2, 3, 4)
	pipeline.Add("baz", 3, 4, 5)
	_, err := pipeline.Run(context.Background())

	Expect(err).To(MatchError("utoh"))
	Eventually(released).Should(Receive(BeNil()))
}

func (s *ClientSuite) TestTransactionRetryableError(t sweet.T) {
	var (
		pool        = NewMockPool()
		conn1       = NewMockConn()
		clock       = glock.NewMockClock()
		borrowCount = 0
		conn2       = NewMockConn()
		released    = make(chan Conn, 2)
		c           = makeClient(pool, clock)
	)

	defer close(released)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		c := []Conn{conn1, conn2}[borrowCount]
		borrowCount++
		return c, nil
	}

	pool.ReleaseFunc = func(conn Conn) {
		released <- conn
	}

	conn2.DoFunc = func(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
		return []int{1, 2, 3, 4}, nil
	}

	conn1.SendFunc = func(command string, args ...interface{}) error {
		if borrowCount == 1 && command == "MULTI" {
			return connErr{io.ErrUnexpectedEOF}
		}

		return nil
	}

	go func() {
		// Unlock the after call in client
		clock.BlockingAdvance(time.Second)
	}()

	pipeline := c.Pipeline()
	pipeline.Add("foo", 1, 2, 3)
	pipeline.Add("bar", 2, 3, 4)
	pipeline.Add("baz", 3, 4, 5)
	result, err := pipeline.Run(context.Background())

	Expect(err).To(BeNil())
	Expect(result).To(Equal([]int{1, 2, 3, 4}))
	Eventually(released).Should(Receive(BeNil()))
	Eventually(released).Should(Receive(Equal(conn2)))
}

func (s *ClientSuite) TestTransactionRetryableErrorAfterMulti(t sweet.T) {
	var (
		pool        = NewMockPool()
		conn1       = NewMockConn()
		clock       = glock.NewMockClock()
		borrowCount = 0
		conn2       = NewMockConn()
		released    = make(chan Conn, 2)
		c           = makeClient(pool, clock)
	)

	defer close(released)

	pool.BorrowFunc = func(ctx context.Context) (Conn, error) {
		c := []Conn{conn1, conn2}[borrowCount]
		borrowCount++
		return c, nil
	}

	pool.ReleaseFunc = func(conn Conn) {
		released <- conn
	}

	conn2.DoFunc = func(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
		return []int{1, 2, 3, 4}, nil
	}

	conn1.SendFunc = func(command string, args ...interface{}) error {
		if borrowCount == 1 && command == "bar" {
			return connErr{io.ErrUnexpectedEOF}
		}

		return nil
	}

	go func() {
		// Unlock the after call in client
		clock.BlockingAdvance(time.Second)
	}()

	pipeline := c.Pipeline()
	pipeline.Add("foo", 1, 2, 3)
	pipeline.Add("bar", 2, 3, 4)
	pipeline.Add("baz", 3, 4, 5)

	result, err := pipeline.Run(context.Background())
	Expect(err).To(BeNil())
	Expect(result).To(Equal([]int{1, 2, 3, 4}))

	Eventually(released).Should(Receive(BeNil()))
	Eventually(released).Should(Receive(Equal(conn2)))
}

//
// Helpers

func makeClient(pool Pool, clock glock.Clock) *client {
	return &client{
		pool:        pool,
		backoff:     testBackoff,
		maxAttempts: 3,
		clock:       clock,
		logger:      testLogger,
	}
}

func testBackoff() backoff.Backoff {
	return backoff.NewConstantBackoff(time.Second)
}

func runAll(commands []string) func(Session) error {
	return func(session Session) error {
		for _, command := range commands {
			if _, err := session.Do(context.Background(), command); err != nil {
				return err
			}
		}

		return nil
	}
}
