package accounts

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps accounts in a flat file of fixed-width records.
type FileStore struct {
	mu   sync.RWMutex
	path string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = "accounts.db"
	}
	return &FileStore{path: resolved}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Exists(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := false
	err := s.each(ctx, func(Account) bool {
		found = true
		return false
	})
	return found, err
}

func (s *FileStore) FindByUsername(ctx context.Context, username string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(ctx, username)
}

func (s *FileStore) Append(ctx context.Context, acct Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(ctx, acct)
}

func (s *FileStore) Register(ctx context.Context, acct Account) error {
	if err := acct.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.find(ctx, acct.Username)
	switch {
	case err == nil:
		return ErrDuplicate
	case !errors.Is(err, ErrNotFound):
		return err
	}
	return s.append(ctx, acct)
}

// Count returns the number of stored records.
func (s *FileStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	err := s.each(ctx, func(Account) bool {
		n++
		return true
	})
	return n, err
}

func (s *FileStore) find(ctx context.Context, username string) (Account, error) {
	var out Account
	found := false
	err := s.each(ctx, func(acct Account) bool {
		if acct.Username == username {
			out = acct
			found = true
			return false
		}
		return true
	})
	if err != nil {
		return Account{}, err
	}
	if !found {
		return Account{}, ErrNotFound
	}
	return out, nil
}

func (s *FileStore) append(ctx context.Context, acct Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := EncodeRecord(acct)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %w", ErrSaveFailed, err)
		}
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrSaveFailed, s.path, err)
	}
	if _, err := f.Write(rec); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: write %s: %w", ErrSaveFailed, s.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrSaveFailed, s.path, err)
	}
	return nil
}

// each calls fn for every record in file order until fn returns false. A
// missing file is an empty store.
func (s *FileStore) each(ctx context.Context, fn func(Account) bool) error {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: open %s: %w", ErrStorageUnavailable, s.path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	rec := make([]byte, RecordLen)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := io.ReadFull(r, rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: %s has a truncated record", ErrStorageUnavailable, s.path)
			}
			return fmt.Errorf("%w: read %s: %w", ErrStorageUnavailable, s.path, err)
		}
		acct, err := DecodeRecord(rec)
		if err != nil {
			return err
		}
		if !fn(acct) {
			return nil
		}
	}
}
