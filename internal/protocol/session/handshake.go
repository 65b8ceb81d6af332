package session

import (
	"errors"
	"fmt"
	"strings"
)

// MaxCredentialLen bounds usernames and passwords in bytes.
const MaxCredentialLen = 25

var ErrMalformedHandshake = errors.New("session: malformed handshake")

// HandshakeOp selects login or registration.
type HandshakeOp int

const (
	OpLogin    HandshakeOp = 1
	OpRegister HandshakeOp = 2
)

func (o HandshakeOp) String() string {
	switch o {
	case OpLogin:
		return "login"
	case OpRegister:
		return "register"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Handshake is the single authentication request that opens a session.
type Handshake struct {
	Op       HandshakeOp
	Username string
	Password string
}

// String renders the wire form "<op>:<username>:<password>".
func (h Handshake) String() string {
	return fmt.Sprintf("%d:%s:%s", int(h.Op), h.Username, h.Password)
}

func (h Handshake) Validate() error {
	if h.Op != OpLogin && h.Op != OpRegister {
		return fmt.Errorf("%w: unknown op %d", ErrMalformedHandshake, int(h.Op))
	}
	if err := validateCredential("username", h.Username); err != nil {
		return err
	}
	return validateCredential("password", h.Password)
}

// ParseHandshake decodes the wire form. Neither field may contain ':'.
func ParseHandshake(raw string) (Handshake, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return Handshake{}, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformedHandshake, len(parts))
	}
	var op HandshakeOp
	switch parts[0] {
	case "1":
		op = OpLogin
	case "2":
		op = OpRegister
	default:
		return Handshake{}, fmt.Errorf("%w: unknown op %q", ErrMalformedHandshake, parts[0])
	}
	h := Handshake{Op: op, Username: parts[1], Password: parts[2]}
	if err := h.Validate(); err != nil {
		return Handshake{}, err
	}
	return h, nil
}

func validateCredential(name, v string) error {
	if v == "" {
		return fmt.Errorf("%w: empty %s", ErrMalformedHandshake, name)
	}
	if len(v) > MaxCredentialLen {
		return fmt.Errorf("%w: %s longer than %d bytes", ErrMalformedHandshake, name, MaxCredentialLen)
	}
	if strings.ContainsAny(v, ":\x00") {
		return fmt.Errorf("%w: %s contains reserved byte", ErrMalformedHandshake, name)
	}
	return nil
}
