package accounts

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
)

const (
	// MaxFieldLen is the usable length of a username or password in bytes.
	MaxFieldLen = 25
	// RecordFieldLen is the on-disk width of one field, terminator included.
	RecordFieldLen = MaxFieldLen + 1
	// RecordLen is the on-disk width of one account record.
	RecordLen = 2 * RecordFieldLen
)

var (
	ErrNotFound           = errors.New("accounts: account not found")
	ErrDuplicate          = errors.New("accounts: username already registered")
	ErrInvalidAccount     = errors.New("accounts: invalid account")
	ErrStorageUnavailable = errors.New("accounts: storage unavailable")
	ErrEmptyStore         = errors.New("accounts: store has no accounts")
	ErrBadCredentials     = errors.New("accounts: bad credentials")

	// ErrSaveFailed marks a failed append. It also matches ErrStorageUnavailable.
	ErrSaveFailed = fmt.Errorf("%w: save failed", ErrStorageUnavailable)
)

// Account is one registered user.
type Account struct {
	Username string
	Password string
}

func (a Account) Validate() error {
	if err := validateField("username", a.Username); err != nil {
		return err
	}
	return validateField("password", a.Password)
}

// Store is the credential store contract.
type Store interface {
	// Exists reports whether at least one account is stored.
	Exists(ctx context.Context) (bool, error)
	// FindByUsername does an exact, case-sensitive lookup.
	FindByUsername(ctx context.Context, username string) (Account, error)
	// Append adds one record without checking uniqueness.
	Append(ctx context.Context, acct Account) error
	// Register appends acct only if its username is absent, atomically
	// with respect to other Register calls on the same store.
	Register(ctx context.Context, acct Account) error
}

// Authenticate checks a username/password pair against store. It returns
// ErrEmptyStore when nothing is registered yet, ErrBadCredentials on any
// mismatch, and wraps ErrStorageUnavailable when the store cannot be read.
func Authenticate(ctx context.Context, store Store, username, password string) (Account, error) {
	ok, err := store.Exists(ctx)
	if err != nil {
		return Account{}, err
	}
	if !ok {
		return Account{}, ErrEmptyStore
	}
	acct, err := store.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return Account{}, ErrBadCredentials
	}
	if err != nil {
		return Account{}, err
	}
	if subtle.ConstantTimeCompare([]byte(acct.Password), []byte(password)) != 1 {
		return Account{}, ErrBadCredentials
	}
	return acct, nil
}

func validateField(name, v string) error {
	if v == "" {
		return fmt.Errorf("%w: empty %s", ErrInvalidAccount, name)
	}
	if len(v) > MaxFieldLen {
		return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidAccount, name, MaxFieldLen)
	}
	if bytes.IndexByte([]byte(v), 0) >= 0 {
		return fmt.Errorf("%w: %s contains NUL", ErrInvalidAccount, name)
	}
	return nil
}

// EncodeRecord renders acct in its fixed-width on-disk form.
func EncodeRecord(acct Account) ([]byte, error) {
	if err := acct.Validate(); err != nil {
		return nil, err
	}
	rec := make([]byte, RecordLen)
	copy(rec[:RecordFieldLen], acct.Username)
	copy(rec[RecordFieldLen:], acct.Password)
	return rec, nil
}

// DecodeRecord parses one fixed-width record.
func DecodeRecord(rec []byte) (Account, error) {
	if len(rec) != RecordLen {
		return Account{}, fmt.Errorf("%w: record length %d", ErrStorageUnavailable, len(rec))
	}
	return Account{
		Username: cString(rec[:RecordFieldLen]),
		Password: cString(rec[RecordFieldLen:]),
	}, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
