/*
Package chat contains the session channel: the connection acceptor, the per-connection
session state machine, direct message relay and the file-transfer pipe.

This file defines the Server, which accepts connections, runs one session goroutine per
connection and tracks live connections for graceful shutdown.
*/
package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"relayd/internal/app/registry"
	"relayd/internal/app/storage"
	"relayd/internal/pkg/limiter"
	"relayd/internal/pkg/logx"
)

// DefaultChunkSize is the file relay chunk size when none is configured.
const DefaultChunkSize = 1024

// ErrServerClosed is returned by Serve after Shutdown has been called.
var ErrServerClosed = errors.New("chat: server closed")

// UnknownTagPolicy decides what an authenticated session does with an unrecognized tag.
type UnknownTagPolicy string

const (
	// UnknownTagLogout ends the session, as if TCPE had been received.
	UnknownTagLogout UnknownTagPolicy = "logout"

	// UnknownTagIgnore skips the record and keeps reading.
	UnknownTagIgnore UnknownTagPolicy = "ignore"
)

// ParseUnknownTagPolicy validates a policy name. The empty string selects UnknownTagLogout.
func ParseUnknownTagPolicy(s string) (UnknownTagPolicy, error) {
	switch UnknownTagPolicy(s) {
	case "", UnknownTagLogout:
		return UnknownTagLogout, nil
	case UnknownTagIgnore:
		return UnknownTagIgnore, nil
	}
	return "", fmt.Errorf("unknown tag policy %q (want %q or %q)", s, UnknownTagLogout, UnknownTagIgnore)
}

// Config holds the tunables of the session channel.
type Config struct {
	// ChunkSize bounds each read/write cycle of the file relay.
	ChunkSize int

	// UnknownTagPolicy applies to unrecognized tags after login.
	UnknownTagPolicy UnknownTagPolicy

	// AcceptLimiter rate-limits new connections per remote IP. Nil disables it.
	AcceptLimiter *limiter.IPRateLimiter

	// Archiver, when set, receives a copy of every relayed file.
	Archiver storage.Archiver

	// ArchivePrefix is prepended to archive object keys.
	ArchivePrefix string
}

// Stats is a snapshot of the session channel counters.
type Stats struct {
	ActiveSessions     int64 `json:"activeSessions"`
	MessagesRelayed    int64 `json:"messagesRelayed"`
	MessagesRejected   int64 `json:"messagesRejected"`
	TransfersCompleted int64 `json:"transfersCompleted"`
	TransfersFailed    int64 `json:"transfersFailed"`
	BytesRelayed       int64 `json:"bytesRelayed"`
}

type counters struct {
	activeSessions     atomic.Int64
	messagesRelayed    atomic.Int64
	messagesRejected   atomic.Int64
	transfersCompleted atomic.Int64
	transfersFailed    atomic.Int64
	bytesRelayed       atomic.Int64
}

// Server accepts session connections and runs their state machines.
type Server struct {
	registry *registry.Registry
	cfg      Config

	// ctx is cancelled by Shutdown; it bounds archive uploads.
	ctx    context.Context
	cancel context.CancelFunc

	// mu protects closing, listeners and conns.
	mu        sync.Mutex
	closing   bool
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}

	// wg tracks session goroutines.
	wg sync.WaitGroup

	stats  counters
	logger zerolog.Logger
}

// NewServer constructs a Server bound to the shared registry.
func NewServer(reg *registry.Registry, cfg Config) *Server {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.UnknownTagPolicy == "" {
		cfg.UnknownTagPolicy = UnknownTagLogout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		registry:  reg,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[net.Conn]struct{}),
		logger:    logx.Component("ChatServer"),
	}
}

// Serve accepts connections on ln until Shutdown is called or Accept fails.
// Each connection is served by its own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln, true) {
		return ErrServerClosed
	}
	defer s.trackListener(ln, false)

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Session listener started.")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() {
				return ErrServerClosed
			}
			return fmt.Errorf("chat: accept: %w", err)
		}

		if !s.cfg.AcceptLimiter.Allow(conn.RemoteAddr()) {
			s.logger.Warn().
				Str("remote", logx.AnonymizeIP(conn.RemoteAddr().String())).
				Msg("Connection rejected: rate limit exceeded.")
			conn.Close()
			continue
		}

		if !s.trackConn(conn, true) {
			conn.Close()
			return ErrServerClosed
		}

		go s.serveConn(conn)
	}
}

// Shutdown stops all listeners, closes every live connection and waits for the session
// goroutines to exit or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for ln := range s.listeners {
		ln.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Chat server shutdown complete.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	return Stats{
		ActiveSessions:     s.stats.activeSessions.Load(),
		MessagesRelayed:    s.stats.messagesRelayed.Load(),
		MessagesRejected:   s.stats.messagesRejected.Load(),
		TransfersCompleted: s.stats.transfersCompleted.Load(),
		TransfersFailed:    s.stats.transfersFailed.Load(),
		BytesRelayed:       s.stats.bytesRelayed.Load(),
	}
}

// serveConn owns conn for its whole lifetime. conn is received by value, never through
// loop-scoped storage of the acceptor.
func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.trackConn(conn, false)

	s.stats.activeSessions.Add(1)
	defer s.stats.activeSessions.Add(-1)

	newSession(s, conn).run()
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) trackListener(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if add {
		if s.closing {
			return false
		}
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
	return true
}

// trackConn registers conn and reserves its slot in wg under the same lock Shutdown
// takes, so no session starts after Shutdown began waiting.
func (s *Server) trackConn(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if add {
		if s.closing {
			return false
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
	} else {
		delete(s.conns, conn)
	}
	return true
}
