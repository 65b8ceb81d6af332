package server

import (
	"context"
	"errors"
	"net"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/danmuck/jukebox/internal/accounts"
	"github.com/danmuck/jukebox/internal/catalog"
	"github.com/danmuck/jukebox/internal/media"
	"github.com/danmuck/jukebox/internal/observability"
	"github.com/danmuck/jukebox/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// ServiceConfig configures the jukebox session endpoint.
type ServiceConfig struct {
	ListenAddr   string
	AccountsPath string
	CatalogPath  string
	MediaDir     string
	ChunkSize    int
	WireMode     session.WireMode
	// MaxSessions bounds concurrently served connections. One serves each
	// connection to completion before accepting the next.
	MaxSessions     int
	AdminListenAddr string
	CORSOrigins     []string
	Session         session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:      "127.0.0.1:9090",
		AccountsPath:    "usuarios.db",
		CatalogPath:     "media.csv",
		MediaDir:        ".",
		ChunkSize:       media.DefaultChunkSize,
		WireMode:        session.WireFramed,
		MaxSessions:     1,
		AdminListenAddr: "",
		CORSOrigins:     []string{"http://localhost:3000"},
		Session:         session.DefaultConfig(),
	}
}

// Service accepts connections and runs one Engine per connection.
type Service struct {
	cfg  ServiceConfig
	deps Deps

	connsMu sync.Mutex
	conns   map[net.Conn]*Engine
}

// NewService builds a service backed by the files named in cfg.
func NewService(cfg ServiceConfig) *Service {
	return NewServiceWithConfig(cfg, Deps{})
}

// NewServiceWithConfig builds a service using deps, falling back to
// file-backed collaborators for any left nil.
func NewServiceWithConfig(cfg ServiceConfig, deps Deps) *Service {
	defaults := DefaultServiceConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaults.ChunkSize
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaults.MaxSessions
	}
	if cfg.WireMode != "" {
		cfg.Session.Mode = cfg.WireMode
	}
	cfg.Session = cfg.Session.WithDefaults()
	cfg.WireMode = cfg.Session.Mode
	if cfg.WireMode == session.WireLegacy && cfg.ChunkSize > cfg.Session.BufferSize {
		cfg.ChunkSize = cfg.Session.BufferSize
	}
	if limit := cfg.Session.MaxPayloadBytes; uint64(cfg.ChunkSize) > limit {
		cfg.ChunkSize = int(limit)
	}

	if deps.Accounts == nil {
		deps.Accounts = accounts.NewFileStore(cfg.AccountsPath)
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.NewFileSource(cfg.CatalogPath)
	}
	if deps.Library == nil {
		deps.Library = media.NewLibrary(cfg.MediaDir)
	}
	return &Service{
		cfg:   cfg,
		deps:  deps,
		conns: make(map[net.Conn]*Engine),
	}
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

// Run listens on the configured address and blocks until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info().
		Str("addr", ln.Addr().String()).
		Str("mode", string(s.cfg.WireMode)).
		Int("max_sessions", s.cfg.MaxSessions).
		Msg("server.Service.Run listening")

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		go func() {
			adminErr <- s.ServeAdmin(ctx, addr)
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()
	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			stop()
			<-serveErr
			return err
		}
		return <-serveErr
	}
}

// Serve accepts sessions on ln until ctx is done. A new connection is only
// accepted once a session slot is free.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	slots := make(chan struct{}, s.cfg.MaxSessions)
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		conn, err := ln.Accept()
		if err != nil {
			<-slots
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		engine := NewEngine(session.NewConn(conn, s.cfg.Session), s.deps, s.cfg.ChunkSize)
		s.trackConn(conn, engine)
		if ctx.Err() != nil {
			// accepted after shutdown began; closeAllConns may have missed it
			_ = conn.Close()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			s.handleConn(ctx, conn, engine)
		}()
	}
}

func (s *Service) handleConn(ctx context.Context, conn net.Conn, engine *Engine) {
	defer conn.Close()
	defer s.untrackConn(conn)

	logger := log.With().Str("session", engine.ID()).Str("remote", conn.RemoteAddr().String()).Logger()
	observability.SessionOpened()
	logger.Info().Int("active_sessions", s.ActiveSessions()).Msg("server.Service.handleConn connected")

	err := engine.Run(ctx)
	outcome := Outcome(err)
	observability.SessionClosed(string(s.cfg.WireMode), outcome)

	event := logger.Info()
	switch {
	case err == nil:
	case ctx.Err() != nil:
		event = logger.Debug()
	case errors.Is(err, ErrAuthRejected):
		event = logger.Info()
	case errors.Is(err, ErrStorageFailure):
		event = logger.Error()
	default:
		event = logger.Warn()
	}
	event.Err(err).Str("outcome", outcome).Msg("server.Service.handleConn closed")
}

// Sessions returns a snapshot of the sessions being served, oldest first.
func (s *Service) Sessions() []SessionInfo {
	s.connsMu.Lock()
	engines := make([]*Engine, 0, len(s.conns))
	for _, e := range s.conns {
		engines = append(engines, e)
	}
	s.connsMu.Unlock()

	out := make([]SessionInfo, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (s *Service) ActiveSessions() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *Service) trackConn(conn net.Conn, engine *Engine) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = engine
}

func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.connsMu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}
