package session

import (
	"fmt"
	"strings"
	"time"
)

// WireMode selects the connection codec.
type WireMode string

const (
	// WireFramed sends every message as a length-prefixed frame.
	WireFramed WireMode = "framed"
	// WireLegacy sends raw payloads and marks ends with the sentinel token,
	// one message per transport read.
	WireLegacy WireMode = "legacy"
)

// BufferSize is the legacy message buffer capacity and the default chunk size.
const BufferSize = 1024

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport/session defaults. Zero timeouts disable the
// corresponding deadline.
type Config struct {
	Mode            WireMode
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	BufferSize      int
	MaxPayloadBytes uint64
	LegacyPacing    time.Duration
	// LegacyTurnGap separates consecutive legacy sends of different kinds
	// (command then track name, status then first chunk) so the peer reads
	// them as separate messages.
	LegacyTurnGap time.Duration
	// LegacyEndDelay precedes an end marker that follows other sends.
	LegacyEndDelay time.Duration
	Backoff        BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		Mode:            WireFramed,
		ConnectTimeout:  5 * time.Second,
		ReadTimeout:     15 * time.Minute,
		WriteTimeout:    30 * time.Second,
		BufferSize:      BufferSize,
		MaxPayloadBytes: 1024 * 1024,
		LegacyPacing:    50 * time.Microsecond,
		LegacyTurnGap:   100 * time.Millisecond,
		LegacyEndDelay:  500 * time.Millisecond,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills unset structural fields. Timeouts are left alone since
// zero is meaningful there.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(string(c.Mode)) == "" {
		c.Mode = def.Mode
	}
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = def.MaxPayloadBytes
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

// ParseWireMode normalizes a configured mode name.
func ParseWireMode(raw string) (WireMode, error) {
	switch WireMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", WireFramed:
		return WireFramed, nil
	case WireLegacy:
		return WireLegacy, nil
	default:
		return "", fmt.Errorf("session: unknown wire mode %q", raw)
	}
}
