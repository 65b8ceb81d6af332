package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/jukebox/internal/catalog"
	"github.com/danmuck/jukebox/internal/media"
	"github.com/danmuck/jukebox/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired    = errors.New("client: server address required")
	ErrBadCredentials     = errors.New("client: bad credentials")
	ErrEmptyStore         = errors.New("client: no accounts registered")
	ErrDuplicateUser      = errors.New("client: username already registered")
	ErrSaveFailed         = errors.New("client: server could not save account")
	ErrStorageUnavailable = errors.New("client: server storage unavailable")
	ErrUnexpectedReply    = errors.New("client: unexpected reply")
	ErrInvalidFilter      = errors.New("client: filter rejected by server")
	ErrInvalidOrdinal     = errors.New("client: track ordinal must be positive")
	ErrAlreadyDownloaded  = errors.New("client: track already downloaded")
	ErrNoSuchTrack        = errors.New("client: no such track")
	ErrRemoteUnavailable  = errors.New("client: server could not open track")
)

type Config struct {
	Address     string
	WireMode    session.WireMode
	DownloadDir string
	Session     session.Config
	// MaxConnectAttempts bounds dial retries; zero or less retries forever.
	MaxConnectAttempts int
}

func DefaultConfig() Config {
	return Config{
		Address:            "127.0.0.1:9090",
		WireMode:           session.WireFramed,
		DownloadDir:        ".",
		Session:            session.DefaultConfig(),
		MaxConnectAttempts: 5,
	}
}

func (c Config) withDefaults() Config {
	if c.WireMode != "" {
		c.Session.Mode = c.WireMode
	}
	c.Session = c.Session.WithDefaults()
	c.WireMode = c.Session.Mode
	if strings.TrimSpace(c.DownloadDir) == "" {
		c.DownloadDir = "."
	}
	return c
}

// Reply is the server's answer to a handshake.
type Reply struct {
	Status session.Status
	Token  string
}

// Client is one authenticated-or-not session with a jukebox server. It is
// not safe for concurrent use; the protocol is strictly turn based.
type Client struct {
	cfg  Config
	conn session.Conn
}

// Dial connects to cfg.Address, retrying with backoff.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var attempt int
	for {
		attempt++
		dialer := net.Dialer{Timeout: cfg.Session.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
		if err == nil {
			log.Debug().Str("addr", cfg.Address).Int("attempt", attempt).Msg("client.Dial connected")
			return New(conn, cfg), nil
		}
		log.Warn().Err(err).Str("addr", cfg.Address).Int("attempt", attempt).Msg("client.Dial")
		if cfg.MaxConnectAttempts > 0 && attempt >= cfg.MaxConnectAttempts {
			return nil, err
		}
		if err := session.SleepBackoff(ctx, cfg.Session.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
}

// New wraps an established connection.
func New(conn net.Conn, cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{cfg: cfg, conn: session.NewConn(conn, cfg.Session)}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Tokens() session.Tokens {
	return c.conn.Tokens()
}

func (c *Client) Login(ctx context.Context, username, password string) (Reply, error) {
	return c.handshake(ctx, session.Handshake{Op: session.OpLogin, Username: username, Password: password})
}

func (c *Client) Register(ctx context.Context, username, password string) (Reply, error) {
	return c.handshake(ctx, session.Handshake{Op: session.OpRegister, Username: username, Password: password})
}

func (c *Client) handshake(ctx context.Context, hs session.Handshake) (Reply, error) {
	if err := hs.Validate(); err != nil {
		return Reply{}, err
	}
	if err := c.conn.Send(ctx, session.TextMessage(session.MsgHandshake, hs.String())); err != nil {
		return Reply{}, err
	}
	msg, err := c.conn.Receive(ctx, session.MsgStatus)
	if err != nil {
		return Reply{}, err
	}
	reply := Reply{Status: c.conn.Tokens().Parse(msg.Text()), Token: msg.Text()}
	if msg.IsEnd() {
		reply.Status = session.StatusUnknown
	}
	return reply, statusError(reply)
}

func statusError(r Reply) error {
	switch r.Status {
	case session.StatusSuccess:
		return nil
	case session.StatusBadCredentials:
		return ErrBadCredentials
	case session.StatusEmptyStore:
		return ErrEmptyStore
	case session.StatusDuplicateUser:
		return ErrDuplicateUser
	case session.StatusSaveFailed:
		return ErrSaveFailed
	case session.StatusStorageUnavailable:
		return ErrStorageUnavailable
	default:
		return fmt.Errorf("%w: %q", ErrUnexpectedReply, r.Token)
	}
}

// List returns every catalog line.
func (c *Client) List(ctx context.Context) ([]string, error) {
	if err := c.sendCommand(ctx, "1"); err != nil {
		return nil, err
	}
	return c.receiveLines(ctx)
}

// Filter returns the catalog lines whose artist or genre equals text,
// ignoring case. Line ordinals are those of the full listing.
func (c *Client) Filter(ctx context.Context, kind catalog.FilterKind, text string) ([]string, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %s", catalog.ErrInvalidFilterKind, kind)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty filter text", ErrInvalidFilter)
	}
	for _, cmd := range []string{"2", kind.Opcode(), text} {
		if err := c.sendCommand(ctx, cmd); err != nil {
			return nil, err
		}
	}
	return c.receiveLines(ctx)
}

func (c *Client) receiveLines(ctx context.Context) ([]string, error) {
	var lines []string
	for {
		msg, err := c.conn.Receive(ctx, session.MsgRecord)
		if err != nil {
			return lines, err
		}
		if msg.IsEnd() {
			return lines, nil
		}
		if msg.Type == session.MsgStatus {
			switch c.conn.Tokens().Parse(msg.Text()) {
			case session.StatusStorageUnavailable:
				return lines, ErrStorageUnavailable
			case session.StatusError:
				return lines, ErrInvalidFilter
			default:
				return lines, fmt.Errorf("%w: %q", ErrUnexpectedReply, msg.Text())
			}
		}
		lines = append(lines, msg.Text())
	}
}

// LocalPath is where Download stores the track at ordinal.
func (c *Client) LocalPath(ordinal int) string {
	return filepath.Join(c.cfg.DownloadDir, media.TrackName(ordinal))
}

// Download fetches the track at ordinal into the download directory and
// returns its path. A track already present locally is not requested again.
// The caller must not call Download again after ErrRemoteUnavailable or a
// transport error; the server ends the session in those cases.
func (c *Client) Download(ctx context.Context, ordinal int) (string, error) {
	if ordinal <= 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidOrdinal, ordinal)
	}
	path := c.LocalPath(ordinal)
	if _, err := os.Stat(path); err == nil {
		return path, ErrAlreadyDownloaded
	}

	if err := c.sendCommand(ctx, "3"); err != nil {
		return "", err
	}
	if err := c.sendCommand(ctx, media.TrackName(ordinal)); err != nil {
		return "", err
	}
	msg, err := c.conn.Receive(ctx, session.MsgStatus)
	if err != nil {
		return "", err
	}
	if msg.IsEnd() {
		return "", ErrNoSuchTrack
	}
	switch c.conn.Tokens().Parse(msg.Text()) {
	case session.StatusProceed:
	case session.StatusError:
		return "", ErrRemoteUnavailable
	default:
		return "", fmt.Errorf("%w: %q", ErrUnexpectedReply, msg.Text())
	}

	if err := os.MkdirAll(c.cfg.DownloadDir, 0o755); err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	n, err := media.Receive(ctx, c.conn, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	log.Debug().Str("path", path).Int64("bytes", n).Msg("client.Download complete")
	return path, nil
}

// CancelDownload opens the download exchange and immediately declines to
// name a track.
func (c *Client) CancelDownload(ctx context.Context) error {
	if err := c.sendCommand(ctx, "3"); err != nil {
		return err
	}
	return c.conn.Send(ctx, session.EndMessage())
}

func (c *Client) sendCommand(ctx context.Context, cmd string) error {
	return c.conn.Send(ctx, session.TextMessage(session.MsgCommand, cmd))
}

// ParseOrdinal reads a track ordinal typed by a user.
func ParseOrdinal(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOrdinal, raw)
	}
	return n, nil
}
