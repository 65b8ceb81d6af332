package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/danmuck/jukebox/internal/protocol/frame"
)

var (
	ErrPeerClosed        = errors.New("session: peer closed connection")
	ErrUnexpectedMessage = errors.New("session: unexpected message type")
)

// Conn carries whole protocol messages over one transport connection.
type Conn interface {
	// Send writes one message.
	Send(ctx context.Context, msg Message) error
	// Receive returns the next message. It is of type expect, an end
	// marker, or a status reply cutting a record or chunk sequence short.
	Receive(ctx context.Context, expect MessageType) (Message, error)
	// Tokens is the status vocabulary spoken on this connection.
	Tokens() Tokens
	Mode() WireMode
	RemoteAddr() string
	Close() error
}

// NewConn wraps conn with the codec selected by cfg.Mode.
func NewConn(conn net.Conn, cfg Config) Conn {
	cfg = cfg.WithDefaults()
	if cfg.Mode == WireLegacy {
		return NewLegacyConn(conn, cfg)
	}
	return NewFramedConn(conn, cfg)
}

// IsProtocolViolation reports whether err means the peer broke the protocol
// rather than the transport failing.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrUnexpectedMessage) ||
		errors.Is(err, ErrMalformedHandshake) ||
		errors.Is(err, frame.ErrInvalidMagic) ||
		errors.Is(err, frame.ErrUnsupportedVersion) ||
		errors.Is(err, frame.ErrHeaderLenMismatch) ||
		errors.Is(err, frame.ErrPayloadTooLarge)
}

// FramedConn sends each message as one length-prefixed frame.
type FramedConn struct {
	conn   net.Conn
	reader *bufio.Reader
	cfg    Config
	limits frame.Limits
	tokens Tokens
	nextID uint64
}

func NewFramedConn(conn net.Conn, cfg Config) *FramedConn {
	cfg = cfg.WithDefaults()
	return &FramedConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		cfg:    cfg,
		limits: frame.Limits{MaxPayloadBytes: cfg.MaxPayloadBytes},
		tokens: TokensFor(WireFramed),
	}
}

func (c *FramedConn) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(deadline(ctx, c.cfg.WriteTimeout))
	c.nextID++
	var flags uint32
	if msg.Type == MsgStatus && c.tokens.Parse(msg.Text()) == StatusError {
		flags |= frame.FlagIsError
	}
	if msg.Type == MsgEnd && len(msg.Payload) == 0 {
		msg.Payload = []byte(c.tokens.Sentinel)
	}
	err := frame.WriteFrame(c.conn, frame.Frame{
		Header: frame.Header{
			MessageID:   c.nextID,
			MessageType: uint32(msg.Type),
			Flags:       flags,
		},
		Payload: msg.Payload,
	}, c.limits)
	if err != nil {
		return fmt.Errorf("session: send %s: %w", msg.Type, err)
	}
	return nil
}

func (c *FramedConn) Receive(ctx context.Context, expect MessageType) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	_ = c.conn.SetReadDeadline(deadline(ctx, c.cfg.ReadTimeout))
	fr, err := frame.ReadFrame(c.reader, c.limits)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, fmt.Errorf("%w: %w", ErrPeerClosed, err)
		}
		return Message{}, fmt.Errorf("session: receive %s: %w", expect, err)
	}
	msg := Message{Type: MessageType(fr.Header.MessageType), Payload: fr.Payload}
	if msg.Type == MsgStatus && (expect == MsgRecord || expect == MsgChunk) {
		return msg, nil
	}
	if msg.Type != expect && msg.Type != MsgEnd {
		return Message{}, fmt.Errorf("%w: got %s want %s", ErrUnexpectedMessage, msg.Type, expect)
	}
	return msg, nil
}

func (c *FramedConn) Tokens() Tokens     { return c.tokens }
func (c *FramedConn) Mode() WireMode     { return WireFramed }
func (c *FramedConn) RemoteAddr() string { return remoteAddr(c.conn) }
func (c *FramedConn) Close() error       { return c.conn.Close() }

// deadline picks the earlier of ctx's deadline and now+timeout. The zero
// time clears any deadline.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}

func remoteAddr(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}
