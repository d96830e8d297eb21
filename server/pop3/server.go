// Package pop3 is the wire-level POP3 listener. It parses commands, drives a
// maildrop.Session per connection and maps the session's errors onto
// +OK/-ERR responses. All maildrop semantics (locking, sequence numbers,
// deferred deletion) live in the maildrop package.
package pop3

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/dunlinmail/dunlin/config"
	"github.com/dunlinmail/dunlin/logger"
	"github.com/dunlinmail/dunlin/maildrop"
	"github.com/dunlinmail/dunlin/pkg/metrics"
)

type Server struct {
	addr     string
	hostname string
	cfg      config.POP3Config
	driver   maildrop.Driver
	registry *maildrop.Registry

	listener net.Listener
}

func New(cfg config.POP3Config, driver maildrop.Driver, registry *maildrop.Registry) *Server {
	hostname := cfg.Hostname
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	return &Server{
		addr:     cfg.Addr,
		hostname: hostname,
		cfg:      cfg,
		driver:   driver,
		registry: registry,
	}
}

// ListenAndServe accepts connections until ctx is cancelled or Close is
// called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	logger.Info("POP3 server listening", "addr", s.addr, "allow_delete", s.cfg.AllowDelete)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Error("accept failed", "error", err)
			continue
		}

		metrics.ConnectionsTotal.Inc()
		metrics.ConnectionsCurrent.Inc()

		sessionCfg := maildrop.Config{
			AllowDelete:     s.cfg.AllowDelete,
			RequirePassword: s.cfg.RequirePassword,
		}
		c := &clientConn{
			server:  s,
			conn:    conn,
			session: maildrop.NewSession(s.driver, s.registry, sessionCfg),
			banner:  apopBanner(s.hostname),
		}
		go func() {
			defer metrics.ConnectionsCurrent.Dec()
			c.handle(ctx)
		}()
	}
}

// Close stops accepting new connections.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
}

// apopBanner builds the msg-id style greeting timestamp used for APOP
// digests (RFC 1939 §7).
func apopBanner(hostname string) string {
	return fmt.Sprintf("<%d.%d@%s>", os.Getpid(), time.Now().UnixNano(), hostname)
}
