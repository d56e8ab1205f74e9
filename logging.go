package redikit

import (
	"fmt"
	"log"
	"strings"

	"github.com/efritz/redikit/iface"
)

type (
	// Logger is an interface to the logger the client writes to.
	Logger = iface.Logger

	defaultLogger struct{}
	nilLogger     struct{}

	// taggedLogger prefixes every message with a fixed key=value pair
	// before handing it to the wrapped logger.
	taggedLogger struct {
		logger Logger
		tag    string
	}

	// loggerWriter lets a Logger stand in for the io.Writer behind a
	// standard library *log.Logger (which is what redigo's logging
	// connection expects).
	loggerWriter struct {
		logger Logger
	}
)

// NewNilLogger creates a logger that discards every message.
func NewNilLogger() Logger {
	return &nilLogger{}
}

func (l *defaultLogger) Printf(format string, args ...interface{}) {
	log.Printf(format, args...)
}

func (l *nilLogger) Printf(format string, args ...interface{}) {
}

func newTaggedLogger(logger Logger, key, value string) Logger {
	if logger == nil {
		return nil
	}

	return &taggedLogger{
		logger: logger,
		tag:    fmt.Sprintf("[%s=%s]", key, value),
	}
}

func (l *taggedLogger) Printf(format string, args ...interface{}) {
	l.logger.Printf("%s %s", l.tag, fmt.Sprintf(format, args...))
}

func newStdLogger(logger Logger) *log.Logger {
	return log.New(&loggerWriter{logger}, "", 0)
}

func (w *loggerWriter) Write(p []byte) (int, error) {
	w.logger.Printf("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
