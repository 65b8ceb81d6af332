package server

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/jukebox/internal/accounts"
	"github.com/danmuck/jukebox/internal/catalog"
	"github.com/danmuck/jukebox/internal/media"
	"github.com/danmuck/jukebox/internal/observability"
	"github.com/danmuck/jukebox/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the position of one session in the protocol.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateInCatalogMenu
	StateListing
	StateFiltering
	StateTransferring
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateInCatalogMenu:
		return "catalog_menu"
	case StateListing:
		return "listing"
	case StateFiltering:
		return "filtering"
	case StateTransferring:
		return "transferring"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Catalog menu opcodes.
const (
	OpList     = "1"
	OpFilter   = "2"
	OpDownload = "3"
)

// Deps are the collaborators an Engine consults.
type Deps struct {
	Accounts accounts.Store
	Catalog  catalog.Source
	Library  *media.Library
}

// SessionInfo is a point-in-time view of one engine.
type SessionInfo struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	Mode       string    `json:"mode"`
	State      string    `json:"state"`
	Username   string    `json:"username,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// Engine drives the protocol for one connection. Run must be called once.
type Engine struct {
	id        string
	conn      session.Conn
	deps      Deps
	chunkSize int
	logger    zerolog.Logger
	startedAt time.Time

	mu       sync.Mutex
	state    State
	username string
}

func NewEngine(conn session.Conn, deps Deps, chunkSize int) *Engine {
	if chunkSize <= 0 {
		chunkSize = media.DefaultChunkSize
	}
	id := uuid.NewString()
	return &Engine{
		id:        id,
		conn:      conn,
		deps:      deps,
		chunkSize: chunkSize,
		startedAt: time.Now(),
		logger: log.With().
			Str("session", id).
			Str("remote", conn.RemoteAddr()).
			Str("mode", string(conn.Mode())).
			Logger(),
	}
}

func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Info() SessionInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return SessionInfo{
		ID:         e.id,
		RemoteAddr: e.conn.RemoteAddr(),
		Mode:       string(e.conn.Mode()),
		State:      e.state.String(),
		Username:   e.username,
		StartedAt:  e.startedAt,
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()
	e.logger.Trace().Str("from", prev.String()).Str("to", s.String()).Msg("server.Engine.state")
}

// Run serves the connection until the peer disconnects or a terminal error
// occurs. A clean disconnect before the handshake or at the catalog menu
// returns nil. The connection is not closed by Run.
func (e *Engine) Run(ctx context.Context) error {
	defer e.setState(StateClosed)

	e.setState(StateUnauthenticated)
	ok, err := e.handshake(ctx)
	if err != nil || !ok {
		return err
	}
	return e.catalogLoop(ctx)
}

// handshake performs the single authentication attempt. ok is false when
// the peer left before sending anything.
func (e *Engine) handshake(ctx context.Context) (bool, error) {
	msg, err := e.conn.Receive(ctx, session.MsgHandshake)
	if err != nil {
		if errors.Is(err, session.ErrPeerClosed) {
			e.logger.Debug().Msg("server.Engine.handshake peer left before handshake")
			return false, nil
		}
		return false, classifyIO("receive handshake", err)
	}
	if msg.IsEnd() {
		e.reply(ctx, session.StatusError)
		return false, fmt.Errorf("%w: end marker in place of handshake", ErrProtocolViolation)
	}

	e.setState(StateAuthenticating)
	hs, err := session.ParseHandshake(msg.Text())
	if err != nil {
		e.logger.Warn().Err(err).Msg("server.Engine.handshake malformed")
		e.reply(ctx, session.StatusError)
		return false, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}

	status, authErr := e.authenticate(ctx, hs)
	observability.RecordAuth(hs.Op.String(), status.String())
	e.logger.Info().
		Str("op", hs.Op.String()).
		Str("user", hs.Username).
		Str("result", status.String()).
		Msg("server.Engine.handshake")

	if err := e.conn.Send(ctx, e.conn.Tokens().StatusMessage(status)); err != nil {
		return false, classifyIO("send auth reply", err)
	}
	if authErr != nil {
		return false, authErr
	}

	e.mu.Lock()
	e.username = hs.Username
	e.mu.Unlock()
	return true, nil
}

func (e *Engine) authenticate(ctx context.Context, hs session.Handshake) (session.Status, error) {
	switch hs.Op {
	case session.OpLogin:
		_, err := accounts.Authenticate(ctx, e.deps.Accounts, hs.Username, hs.Password)
		switch {
		case err == nil:
			return session.StatusSuccess, nil
		case errors.Is(err, accounts.ErrEmptyStore):
			return session.StatusEmptyStore, fmt.Errorf("%w: %w", ErrAuthRejected, err)
		case errors.Is(err, accounts.ErrBadCredentials):
			return session.StatusBadCredentials, fmt.Errorf("%w: %w", ErrAuthRejected, err)
		default:
			e.logger.Error().Err(err).Msg("server.Engine.authenticate store")
			return session.StatusStorageUnavailable, fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
	case session.OpRegister:
		err := e.deps.Accounts.Register(ctx, accounts.Account{Username: hs.Username, Password: hs.Password})
		switch {
		case err == nil:
			return session.StatusSuccess, nil
		case errors.Is(err, accounts.ErrDuplicate):
			return session.StatusDuplicateUser, fmt.Errorf("%w: %w", ErrAuthRejected, err)
		case errors.Is(err, accounts.ErrInvalidAccount):
			return session.StatusBadCredentials, fmt.Errorf("%w: %w", ErrAuthRejected, err)
		case errors.Is(err, accounts.ErrSaveFailed):
			e.logger.Error().Err(err).Msg("server.Engine.register append")
			return session.StatusSaveFailed, fmt.Errorf("%w: %w", ErrStorageFailure, err)
		default:
			e.logger.Error().Err(err).Msg("server.Engine.register store")
			return session.StatusStorageUnavailable, fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
	default:
		return session.StatusError, fmt.Errorf("%w: handshake op %d", ErrProtocolViolation, hs.Op)
	}
}

func (e *Engine) catalogLoop(ctx context.Context) error {
	for {
		e.setState(StateInCatalogMenu)
		msg, err := e.conn.Receive(ctx, session.MsgCommand)
		if err != nil {
			if errors.Is(err, session.ErrPeerClosed) {
				e.logger.Debug().Msg("server.Engine.catalogLoop peer disconnected")
				return nil
			}
			return classifyIO("receive opcode", err)
		}
		opcode := strings.TrimSpace(msg.Text())
		if msg.IsEnd() {
			opcode = msg.Type.String()
		}
		switch opcode {
		case OpList:
			err = e.list(ctx)
		case OpFilter:
			err = e.filter(ctx)
		case OpDownload:
			err = e.download(ctx)
		default:
			e.logger.Warn().Str("opcode", opcode).Msg("server.Engine.catalogLoop unknown opcode")
			e.reply(ctx, session.StatusError)
			return fmt.Errorf("%w: unknown opcode %q", ErrProtocolViolation, opcode)
		}
		if err != nil {
			return err
		}
	}
}

func (e *Engine) list(ctx context.Context) error {
	e.setState(StateListing)
	n, err := e.stream(ctx, e.deps.Catalog.Scan(ctx))
	observability.RecordCatalogQuery("list", n, err == nil)
	if err != nil {
		return err
	}
	e.logger.Info().Int("records", n).Msg("server.Engine.list")
	return nil
}

func (e *Engine) filter(ctx context.Context) error {
	e.setState(StateFiltering)
	kindMsg, err := e.receiveCommand(ctx, "filter kind")
	if err != nil {
		return err
	}
	textMsg, err := e.receiveCommand(ctx, "filter text")
	if err != nil {
		return err
	}
	kind, err := catalog.ParseFilterKind(kindMsg.Text())
	if err != nil {
		// a bad filter kind is the user's mistake; the menu stays open
		e.logger.Warn().Err(err).Msg("server.Engine.filter")
		observability.RecordCatalogQuery("filter", 0, false)
		if err := e.conn.Send(ctx, e.conn.Tokens().StatusMessage(session.StatusError)); err != nil {
			return classifyIO("send filter error", err)
		}
		return nil
	}
	text := textMsg.Text()
	n, err := e.stream(ctx, catalog.Filter(ctx, e.deps.Catalog, kind, text))
	observability.RecordCatalogQuery("filter_"+kind.String(), n, err == nil)
	if err != nil {
		return err
	}
	e.logger.Info().Str("kind", kind.String()).Str("text", text).Int("records", n).Msg("server.Engine.filter")
	return nil
}

// receiveCommand reads one command message inside a sub-exchange, where an
// end marker or a disconnect is not acceptable.
func (e *Engine) receiveCommand(ctx context.Context, what string) (session.Message, error) {
	msg, err := e.conn.Receive(ctx, session.MsgCommand)
	if err != nil {
		return session.Message{}, classifyIO("receive "+what, err)
	}
	if msg.IsEnd() {
		return session.Message{}, fmt.Errorf("%w: end marker in place of %s", ErrProtocolViolation, what)
	}
	return msg, nil
}

// stream sends one record per song followed by an end marker. A catalog
// failure is reported with a storage token and ends the session.
func (e *Engine) stream(ctx context.Context, songs iter.Seq2[catalog.Song, error]) (int, error) {
	n := 0
	for song, err := range songs {
		if err != nil {
			e.logger.Error().Err(err).Int("sent", n).Msg("server.Engine.stream catalog")
			e.reply(ctx, session.StatusStorageUnavailable)
			return n, fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
		if err := e.conn.Send(ctx, session.TextMessage(session.MsgRecord, catalog.FormatLine(song))); err != nil {
			return n, classifyIO("send record", err)
		}
		n++
	}
	if err := e.conn.Send(ctx, session.EndMessage()); err != nil {
		return n, classifyIO("send end", err)
	}
	return n, nil
}

func (e *Engine) download(ctx context.Context) error {
	e.setState(StateTransferring)
	msg, err := e.conn.Receive(ctx, session.MsgCommand)
	if err != nil {
		return classifyIO("receive track name", err)
	}
	if msg.IsEnd() {
		e.logger.Debug().Msg("server.Engine.download cancelled")
		observability.RecordTransfer("cancelled", 0, 0)
		return nil
	}

	name := strings.TrimSpace(msg.Text())
	logger := e.logger.With().Str("track", name).Logger()
	if _, err := media.ParseTrackName(name); err != nil {
		logger.Warn().Err(err).Msg("server.Engine.download")
		return e.noSuchTrack(ctx)
	}
	track, err := e.deps.Library.Open(name)
	switch {
	case errors.Is(err, media.ErrTrackNotFound), errors.Is(err, media.ErrInvalidTrackName):
		logger.Info().Msg("server.Engine.download no such track")
		return e.noSuchTrack(ctx)
	case err != nil:
		logger.Error().Err(err).Msg("server.Engine.download open")
		observability.RecordTransfer("unavailable", 0, 0)
		e.reply(ctx, session.StatusError)
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	defer track.Close()

	start := time.Now()
	sent, err := media.Send(ctx, e.conn, track, e.chunkSize)
	if err != nil {
		observability.RecordTransfer("failed", sent, time.Since(start))
		logger.Warn().Err(err).Int64("bytes", sent).Msg("server.Engine.download aborted")
		if errors.Is(err, media.ErrTrackUnavailable) {
			return fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
		return classifyIO("send track", err)
	}
	observability.RecordTransfer("ok", sent, time.Since(start))
	logger.Info().Int64("bytes", sent).Dur("duration", time.Since(start)).Msg("server.Engine.download")
	return nil
}

func (e *Engine) noSuchTrack(ctx context.Context) error {
	observability.RecordTransfer("not_found", 0, 0)
	if err := e.conn.Send(ctx, session.EndMessage()); err != nil {
		return classifyIO("send end", err)
	}
	return nil
}

// reply sends a best-effort status before the session is torn down.
func (e *Engine) reply(ctx context.Context, s session.Status) {
	if err := e.conn.Send(ctx, e.conn.Tokens().StatusMessage(s)); err != nil {
		e.logger.Debug().Err(err).Str("status", s.String()).Msg("server.Engine.reply")
	}
}
