package server

import (
	"errors"
	"fmt"

	"github.com/danmuck/jukebox/internal/protocol/session"
)

// Terminal session errors returned by Engine.Run.
var (
	ErrProtocolViolation = errors.New("server: protocol violation")
	ErrStorageFailure    = errors.New("server: storage failure")
	ErrTransportFailure  = errors.New("server: transport failure")
	ErrAuthRejected      = errors.New("server: authentication rejected")
)

// classifyIO maps a send or receive error onto the terminal taxonomy.
func classifyIO(op string, err error) error {
	if session.IsProtocolViolation(err) {
		return fmt.Errorf("%w: %s: %w", ErrProtocolViolation, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransportFailure, op, err)
}

// Outcome is a short label for a terminal error, used in logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAuthRejected):
		return "auth_rejected"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol_violation"
	case errors.Is(err, ErrStorageFailure):
		return "storage_failure"
	default:
		return "transport_failure"
	}
}
