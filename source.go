package redikit

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
)

type (
	// Source turns a Config into ready-to-use connections. Every
	// connection returned by a source has been authenticated (if a
	// password is configured) and has selected the configured database.
	// A source holds no connections itself.
	Source struct {
		id       string
		config   Config
		logger   Logger
		resolver resolveFunc
		dialer   rawDialFunc
	}

	resolveFunc func(ctx context.Context, host string, port int) (string, error)
	rawDialFunc func(ctx context.Context, address string, config Config, logger Logger) (Conn, error)
)

// sourceLogKey tags every log line written on behalf of a source so
// lines from connections created by the same source can be grouped.
const sourceLogKey = "source"

// NewSource creates a connection source for the given configuration.
// If correlationID is empty a random one is generated.
func NewSource(config Config, logger Logger, correlationID string) *Source {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	if logger == nil {
		logger = &defaultLogger{}
	}

	s := &Source{
		id:       correlationID,
		config:   config,
		logger:   newTaggedLogger(logger, sourceLogKey, correlationID),
		resolver: resolveAddress,
		dialer:   dialRedigo,
	}

	s.logger.Printf("Connection source created for %s", config)
	return s
}

// ID returns the correlation id attached to this source's log lines.
func (s *Source) ID() string {
	return s.id
}

// Config returns the configuration connections are made from.
func (s *Source) Config() Config {
	return s.config
}

// Dialer adapts the source to the dial function expected by a pool.
func (s *Source) Dialer() DialFunc {
	return s.MakeConnection
}

// MakeConnection resolves the configured address, dials it, and then
// issues AUTH and SELECT as configured. A connection that fails either
// command is closed and never returned.
func (s *Source) MakeConnection(ctx context.Context) (Conn, error) {
	address, err := s.resolver(ctx, s.config.Hostname(), s.config.Port())
	if err != nil {
		s.logger.Printf("Failed to resolve address for %s (%s)", s.config, err.Error())
		return nil, fmt.Errorf("%w: %w", ErrAddressResolution, err)
	}

	s.logger.Printf("Making a connection to %s", address)

	conn, err := s.dialer(ctx, address, s.config, s.connectionLogger())
	if err != nil {
		s.logger.Printf("Could not connect to %s (%s)", address, err.Error())
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if password, ok := s.config.Password(); ok {
		if _, err := conn.Do(ctx, "AUTH", password); err != nil {
			s.logger.Printf("Could not authenticate with %s (%s)", address, err.Error())
			s.discard(conn)
			return nil, fmt.Errorf("authenticate: %w", err)
		}
	}

	if database, ok := s.config.Database(); ok {
		s.logger.Printf("Selecting database %d specified by config", database)

		if _, err := conn.Do(ctx, "SELECT", database); err != nil {
			s.logger.Printf("Could not select database %d (%s)", database, err.Error())
			s.discard(conn)
			return nil, fmt.Errorf("select database %d: %w", database, err)
		}
	}

	return conn, nil
}

// connectionLogger returns the logger attached to new connections. The
// configuration's logger is used (tagged with this source's id) and no
// driver logging happens if none is configured.
func (s *Source) connectionLogger() Logger {
	return newTaggedLogger(s.config.Logger(), sourceLogKey, s.id)
}

func (s *Source) discard(conn Conn) {
	if err := conn.Close(); err != nil {
		s.logger.Printf("Could not close connection (%s)", err.Error())
	}
}

// resolveAddress maps host and port onto a single dialable address,
// preferring IPv4 results.
func resolveAddress(ctx context.Context, host string, port int) (string, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", err
	}

	if len(addrs) == 0 {
		return "", &net.DNSError{Err: "no addresses found", Name: host}
	}

	chosen := addrs[0]
	for _, addr := range addrs {
		if addr.IP.To4() != nil {
			chosen = addr
			break
		}
	}

	return net.JoinHostPort(chosen.String(), strconv.Itoa(port)), nil
}
