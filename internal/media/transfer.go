package media

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/jukebox/internal/protocol/session"
)

// DefaultChunkSize matches the legacy message buffer.
const DefaultChunkSize = session.BufferSize

var ErrIncompleteTransfer = errors.New("media: transfer ended before end marker")

// Send writes the proceed status, the contents of r as chunk messages of at
// most chunkSize bytes, and a final end marker. It returns the number of
// content bytes sent.
func Send(ctx context.Context, conn session.Conn, r io.Reader, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if err := conn.Send(ctx, conn.Tokens().StatusMessage(session.StatusProceed)); err != nil {
		return 0, err
	}
	buf := make([]byte, chunkSize)
	var sent int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := conn.Send(ctx, session.Message{Type: session.MsgChunk, Payload: chunk}); err != nil {
				return sent, err
			}
			sent += int64(n)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return sent, fmt.Errorf("%w: read: %w", ErrTrackUnavailable, rerr)
		}
	}
	if err := conn.Send(ctx, session.EndMessage()); err != nil {
		return sent, err
	}
	return sent, nil
}

// Receive copies chunk messages into w until the end marker arrives and
// returns the number of bytes written. Any error means w is incomplete.
func Receive(ctx context.Context, conn session.Conn, w io.Writer) (int64, error) {
	var written int64
	for {
		msg, err := conn.Receive(ctx, session.MsgChunk)
		if err != nil {
			return written, fmt.Errorf("%w: %w", ErrIncompleteTransfer, err)
		}
		if msg.IsEnd() {
			return written, nil
		}
		if msg.Type == session.MsgStatus {
			return written, fmt.Errorf("%w: remote reported %q", ErrIncompleteTransfer, msg.Text())
		}
		n, err := w.Write(msg.Payload)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
}
