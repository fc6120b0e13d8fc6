package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/rcpctl/internal/auth"
	"github.com/danmuck/rcpctl/internal/observability"
	"github.com/danmuck/rcpctl/internal/protocol"
	"github.com/danmuck/rcpctl/internal/protocol/session"
	"github.com/danmuck/rcpctl/internal/services"
	"github.com/danmuck/rcpctl/internal/tools"
	"github.com/danmuck/rcpctl/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const rejectLinger = time.Second

// Config is the rcpd runtime configuration.
type Config struct {
	NodeID            string
	ListenAddr        string
	Session           session.Config
	Auth              auth.Policy
	MaxSessions       int
	Catalog           services.Catalog
	Factory           *services.Factory
	Launcher          tools.Launcher
	DisplayInterval   time.Duration
	ObservabilityAddr string
}

func DefaultConfig() Config {
	return Config{
		NodeID:          "rcpd",
		ListenAddr:      fmt.Sprintf("0.0.0.0:%d", protocol.DefaultPort),
		Session:         session.DefaultConfig(),
		Auth:            auth.DefaultPolicy(),
		MaxSessions:     10,
		Catalog:         services.DefaultCatalog(),
		DisplayInterval: 5 * time.Second,
	}
}

// Stats counts session slots over the server lifetime.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Closed   uint64 `json:"closed"`
}

// Server owns the listener and the session bookkeeping map.
type Server struct {
	cfg     Config
	factory *services.Factory
	clock   func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session

	running atomic.Bool
	started atomic.Int64
	wg      sync.WaitGroup

	accepted atomic.Uint64
	rejected atomic.Uint64
	closed   atomic.Uint64
}

func New(cfg Config) *Server {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = def.NodeID
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.DisplayInterval <= 0 {
		cfg.DisplayInterval = def.DisplayInterval
	}
	if cfg.Catalog.Applications == nil {
		cfg.Catalog.Applications = map[string]services.Application{}
	}
	cfg.Session = cfg.Session.WithDefaults()
	factory := cfg.Factory
	if factory == nil {
		factory = services.DefaultFactory()
	}
	return &Server{
		cfg:      cfg,
		factory:  factory,
		clock:    time.Now,
		sessions: make(map[string]*Session),
	}
}

func (s *Server) Config() Config {
	return s.cfg
}

// Run listens on the configured transport and serves sessions plus the admin
// HTTP surface until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := transport.Listen(s.cfg.Session, s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info().
		Str("addr", ln.Addr().String()).
		Str("transport", string(session.NormalizeTransport(s.cfg.Session.Transport))).
		Int("max_sessions", s.cfg.MaxSessions).
		Msg("server.run listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Serve(gctx, ln)
	})
	if addr := strings.TrimSpace(s.cfg.ObservabilityAddr); addr != "" {
		httpSrv := &http.Server{
			Addr:              addr,
			Handler:           observability.NewRouter(s.cfg.NodeID, s),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", addr).Msg("server.run admin listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server: admin http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

// Serve accepts sessions on ln until ctx is cancelled or ln fails. It
// returns after every session goroutine has finished.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("server: already serving")
	}
	s.started.Store(s.clock().UnixNano())
	defer s.running.Store(false)
	defer ln.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = ln.Close()
		s.closeAll()
	}()

	var err error
	for {
		raw, acceptErr := ln.Accept()
		if acceptErr != nil {
			if ctx.Err() == nil && !errors.Is(acceptErr, net.ErrClosed) {
				err = acceptErr
			}
			break
		}
		s.admit(raw)
	}
	s.closeAll()
	s.wg.Wait()
	log.Info().Uint64("accepted", s.accepted.Load()).Uint64("closed", s.closed.Load()).Msg("server.serve stopped")
	return err
}

// admit reserves a session slot or turns the connection away.
func (s *Server) admit(raw net.Conn) {
	conn := session.NewConn(raw, s.cfg.Session)

	s.mu.Lock()
	if s.cfg.MaxSessions > 0 && len(s.sessions) >= s.cfg.MaxSessions {
		s.mu.Unlock()
		s.rejected.Add(1)
		observability.SessionRejected("server_full")
		log.Warn().Str("remote", conn.RemoteAddr()).Int("max_sessions", s.cfg.MaxSessions).Msg("server.admit rejected")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			turnAway(conn, "server full")
		}()
		return
	}
	sess := newSession(s, uuid.NewString(), conn)
	s.sessions[sess.connID] = sess
	s.mu.Unlock()

	s.accepted.Add(1)
	observability.SessionOpened()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.remove(sess)
		sess.run()
	}()
}

// turnAway reports reason and drains briefly so unread peer bytes do not
// turn the close into a reset that would swallow the Error frame.
func turnAway(conn *session.Conn, reason string) {
	defer conn.Close()
	if err := conn.SendError(reason); err != nil {
		return
	}
	_ = conn.CloseWrite()
	deadline := time.Now().Add(rejectLinger)
	for {
		wait := time.Until(deadline)
		if wait <= 0 {
			return
		}
		if _, err := conn.ReadFrameWithin(wait); err != nil {
			return
		}
	}
}

func (s *Server) remove(sess *Session) {
	s.mu.Lock()
	_, ok := s.sessions[sess.connID]
	if ok {
		delete(s.sessions, sess.connID)
	}
	remaining := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.closed.Add(1)
	observability.SessionClosed(s.clock().Sub(sess.since))
	log.Debug().Str("conn_id", sess.connID).Int("active", remaining).Msg("server.session removed")
}

func (s *Server) closeAll() {
	s.mu.Lock()
	open := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()
	for _, sess := range open {
		_ = sess.conn.Close()
	}
}

func (s *Server) Running() bool {
	return s.running.Load()
}

func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) Uptime() time.Duration {
	if !s.running.Load() {
		return 0
	}
	return s.clock().Sub(time.Unix(0, s.started.Load()))
}

func (s *Server) Stats() Stats {
	return Stats{
		Accepted: s.accepted.Load(),
		Rejected: s.rejected.Load(),
		Closed:   s.closed.Load(),
	}
}

// Sessions returns a snapshot of active sessions ordered by start time.
func (s *Server) Sessions() []SessionSnapshot {
	s.mu.Lock()
	open := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	out := make([]SessionSnapshot, 0, len(open))
	for _, sess := range open {
		out = append(out, sess.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].ConnID < out[j].ConnID
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}

// SessionsSnapshot satisfies observability.StatusSource.
func (s *Server) SessionsSnapshot() any {
	return s.Sessions()
}
