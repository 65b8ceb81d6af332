package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// legacySettle is how long past LegacyEndDelay a receiver waits to decide
// whether a chunk ending in the sentinel was followed by the real end marker.
const legacySettle = 100 * time.Millisecond

// LegacyConn speaks the unframed protocol of the first-generation client and
// server: each Send is one raw write, each Receive is one transport read of
// at most BufferSize bytes, and a read equal to the sentinel is an end marker.
//
// The unframed wire only works while the two sides take turns, so Send
// spaces out consecutive writes (LegacyTurnGap, LegacyEndDelay). Receive
// still copes with writes that TCP merged anyway: records are split on
// their newlines, a proceed token is split from chunk data that follows it,
// and a sentinel at the tail of a chunk read counts as the end marker when
// nothing follows it.
//
// The peer cannot distinguish a data message whose bytes equal the sentinel
// from a real end marker. Framed connections do not have this problem.
type LegacyConn struct {
	conn   net.Conn
	cfg    Config
	tokens Tokens
	buf    []byte

	// bytes read but not yet delivered, and messages already decoded
	pending []byte
	queued  []Message

	lastSent      MessageType
	sentSinceRecv bool
}

func NewLegacyConn(conn net.Conn, cfg Config) *LegacyConn {
	cfg = cfg.WithDefaults()
	return &LegacyConn{
		conn:   conn,
		cfg:    cfg,
		tokens: TokensFor(WireLegacy),
		buf:    make([]byte, cfg.BufferSize),
	}
}

func (c *LegacyConn) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload := msg.Payload
	switch msg.Type {
	case MsgEnd:
		payload = []byte(c.tokens.Sentinel)
	case MsgRecord:
		// listing lines carry their own newline in the legacy format
		payload = append(append(make([]byte, 0, len(payload)+1), payload...), '\n')
	}
	if len(payload) > c.cfg.BufferSize {
		return fmt.Errorf("session: legacy %s payload %d exceeds buffer %d", msg.Type, len(payload), c.cfg.BufferSize)
	}
	if err := pause(ctx, c.gapBefore(msg.Type)); err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(deadline(ctx, c.cfg.WriteTimeout))
	if _, err := c.conn.Write(payload); err != nil {
		return fmt.Errorf("session: send %s: %w", msg.Type, err)
	}
	c.lastSent = msg.Type
	c.sentSinceRecv = true
	return nil
}

// gapBefore picks the pause ahead of a write. Runs of records or chunks may
// merge on the wire since the receiver splits or concatenates them.
func (c *LegacyConn) gapBefore(t MessageType) time.Duration {
	switch {
	case !c.sentSinceRecv:
		return c.cfg.LegacyPacing
	case t == MsgEnd:
		return c.cfg.LegacyEndDelay
	case t == c.lastSent && (t == MsgRecord || t == MsgChunk):
		return c.cfg.LegacyPacing
	default:
		return c.cfg.LegacyTurnGap
	}
}

func (c *LegacyConn) Receive(ctx context.Context, expect MessageType) (Message, error) {
	c.sentSinceRecv = false
	if len(c.queued) > 0 {
		msg := c.queued[0]
		c.queued = c.queued[1:]
		return msg, nil
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if expect == MsgRecord {
		return c.receiveRecord(ctx)
	}

	payload, err := c.next(ctx, expect)
	if err != nil {
		return Message{}, err
	}
	if c.isSentinel(payload) {
		return Message{Type: MsgEnd, Payload: payload}, nil
	}
	switch expect {
	case MsgStatus:
		proceed := []byte(c.tokens.Proceed)
		if len(payload) > len(proceed) && bytes.HasPrefix(payload, proceed) {
			c.pending = payload[len(proceed):]
			return Message{Type: MsgStatus, Payload: proceed}, nil
		}
	case MsgChunk:
		sentinel := []byte(c.tokens.Sentinel)
		if len(payload) > len(sentinel) && bytes.HasSuffix(payload, sentinel) {
			return c.settleChunkTail(ctx, payload)
		}
	}
	return Message{Type: expect, Payload: payload}, nil
}

// receiveRecord returns one newline-terminated line. A bare sentinel ends
// the listing; a bare status token cuts it short.
func (c *LegacyConn) receiveRecord(ctx context.Context) (Message, error) {
	for {
		if i := bytes.IndexByte(c.pending, '\n'); i >= 0 {
			line := bytes.Clone(c.pending[:i])
			c.pending = c.pending[i+1:]
			return Message{Type: MsgRecord, Payload: line}, nil
		}
		if len(c.pending) > 0 {
			if c.isSentinel(c.pending) {
				msg := Message{Type: MsgEnd, Payload: c.pending}
				c.pending = nil
				return msg, nil
			}
			if c.tokens.Parse(string(c.pending)) != StatusUnknown {
				msg := Message{Type: MsgStatus, Payload: c.pending}
				c.pending = nil
				return msg, nil
			}
		}
		p, err := c.read(MsgRecord, deadline(ctx, c.cfg.ReadTimeout))
		if err != nil {
			return Message{}, err
		}
		c.pending = append(c.pending, p...)
	}
}

// settleChunkTail decides whether the sentinel ending payload is file data
// or a merged end marker. A sender pauses LegacyEndDelay before the real
// marker, so if more bytes arrive within that window the tail was data.
func (c *LegacyConn) settleChunkTail(ctx context.Context, payload []byte) (Message, error) {
	window := deadline(ctx, c.cfg.LegacyEndDelay+legacySettle)
	more, err := c.read(MsgChunk, window)
	switch {
	case err == nil:
		c.pending = more
		return Message{Type: MsgChunk, Payload: payload}, nil
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, ErrPeerClosed):
		data := payload[:len(payload)-len(c.tokens.Sentinel)]
		c.queued = append(c.queued, Message{Type: MsgEnd, Payload: []byte(c.tokens.Sentinel)})
		return Message{Type: MsgChunk, Payload: data}, nil
	default:
		return Message{}, err
	}
}

func (c *LegacyConn) next(ctx context.Context, expect MessageType) ([]byte, error) {
	if len(c.pending) > 0 {
		p := c.pending
		c.pending = nil
		return p, nil
	}
	return c.read(expect, deadline(ctx, c.cfg.ReadTimeout))
}

func (c *LegacyConn) read(expect MessageType, until time.Time) ([]byte, error) {
	_ = c.conn.SetReadDeadline(until)
	n, err := c.conn.Read(c.buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %w", ErrPeerClosed, io.EOF)
		}
		return nil, fmt.Errorf("session: receive %s: %w", expect, err)
	}
	return bytes.Clone(c.buf[:n]), nil
}

func (c *LegacyConn) isSentinel(p []byte) bool {
	return bytes.Equal(p, []byte(c.tokens.Sentinel))
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *LegacyConn) Tokens() Tokens     { return c.tokens }
func (c *LegacyConn) Mode() WireMode     { return WireLegacy }
func (c *LegacyConn) RemoteAddr() string { return remoteAddr(c.conn) }
func (c *LegacyConn) Close() error       { return c.conn.Close() }
