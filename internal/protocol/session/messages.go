package session

import "fmt"

// MessageType identifies the payload shape of one message.
type MessageType uint32

const (
	MsgHandshake MessageType = 1
	MsgStatus    MessageType = 2
	MsgCommand   MessageType = 3
	MsgRecord    MessageType = 4
	MsgChunk     MessageType = 5
	MsgEnd       MessageType = 6
)

func (t MessageType) String() string {
	switch t {
	case MsgHandshake:
		return "handshake"
	case MsgStatus:
		return "status"
	case MsgCommand:
		return "command"
	case MsgRecord:
		return "record"
	case MsgChunk:
		return "chunk"
	case MsgEnd:
		return "end"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// Message is one logical protocol message.
type Message struct {
	Type    MessageType
	Payload []byte
}

// TextMessage builds a message carrying a UTF-8 string.
func TextMessage(t MessageType, text string) Message {
	return Message{Type: t, Payload: []byte(text)}
}

// EndMessage marks the end of a record listing or a chunk stream.
func EndMessage() Message {
	return Message{Type: MsgEnd}
}

func (m Message) Text() string {
	return string(m.Payload)
}

func (m Message) IsEnd() bool {
	return m.Type == MsgEnd
}

// Status enumerates the reply tokens the server can emit.
type Status int

const (
	StatusUnknown Status = iota
	StatusSuccess
	StatusStorageUnavailable
	StatusBadCredentials
	StatusEmptyStore
	StatusDuplicateUser
	StatusSaveFailed
	StatusProceed
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusStorageUnavailable:
		return "storage_unavailable"
	case StatusBadCredentials:
		return "bad_credentials"
	case StatusEmptyStore:
		return "empty_store"
	case StatusDuplicateUser:
		return "duplicate_user"
	case StatusSaveFailed:
		return "save_failed"
	case StatusProceed:
		return "proceed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Tokens is the literal wire vocabulary for status replies and the sentinel.
type Tokens struct {
	Success            string
	StorageUnavailable string
	BadCredentials     string
	EmptyStore         string
	DuplicateUser      string
	SaveFailed         string
	Proceed            string
	Error              string
	Sentinel           string
}

// DefaultTokens is the vocabulary used by framed connections.
func DefaultTokens() Tokens {
	return Tokens{
		Success:            "auth.ok",
		StorageUnavailable: "auth.err.storage",
		BadCredentials:     "auth.err.credentials",
		EmptyStore:         "auth.err.empty",
		DuplicateUser:      "auth.err.duplicate",
		SaveFailed:         "auth.err.save",
		Proceed:            "OK",
		Error:              "ERROR",
		Sentinel:           "FIN",
	}
}

// LegacyTokens reproduces the byte strings spoken by the first-generation
// C client and server.
func LegacyTokens() Tokens {
	return Tokens{
		Success:            "Usuario registrado exitosamente.",
		StorageUnavailable: "No se pudo abrir archivo de datos.",
		BadCredentials:     "Error: Datos ingresados erroneos.",
		EmptyStore:         "Base de datos sin usuario alguno. Registre alguno primero.",
		DuplicateUser:      "Error: Usuario ya registrado.",
		SaveFailed:         "Error al guardar nuevo usuario.",
		Proceed:            "OK",
		Error:              "ERROR",
		Sentinel:           "FIN",
	}
}

// TokensFor returns the vocabulary matching a wire mode.
func TokensFor(mode WireMode) Tokens {
	if mode == WireLegacy {
		return LegacyTokens()
	}
	return DefaultTokens()
}

func (t Tokens) Token(s Status) string {
	switch s {
	case StatusSuccess:
		return t.Success
	case StatusStorageUnavailable:
		return t.StorageUnavailable
	case StatusBadCredentials:
		return t.BadCredentials
	case StatusEmptyStore:
		return t.EmptyStore
	case StatusDuplicateUser:
		return t.DuplicateUser
	case StatusSaveFailed:
		return t.SaveFailed
	case StatusProceed:
		return t.Proceed
	default:
		return t.Error
	}
}

// Parse maps a received token back to its status.
func (t Tokens) Parse(token string) Status {
	switch token {
	case t.Success:
		return StatusSuccess
	case t.StorageUnavailable:
		return StatusStorageUnavailable
	case t.BadCredentials:
		return StatusBadCredentials
	case t.EmptyStore:
		return StatusEmptyStore
	case t.DuplicateUser:
		return StatusDuplicateUser
	case t.SaveFailed:
		return StatusSaveFailed
	case t.Proceed:
		return StatusProceed
	case t.Error:
		return StatusError
	default:
		return StatusUnknown
	}
}

// StatusMessage builds the status reply for s.
func (t Tokens) StatusMessage(s Status) Message {
	return TextMessage(MsgStatus, t.Token(s))
}
