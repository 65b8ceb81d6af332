package accounts

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and development.
type MemoryStore struct {
	mu       sync.Mutex
	accounts []Account
	failNext error
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(seed ...Account) *MemoryStore {
	s := &MemoryStore{}
	s.accounts = append(s.accounts, seed...)
	return s
}

// FailNext makes the next store call return err.
func (s *MemoryStore) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *MemoryStore) Exists(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return false, err
	}
	return len(s.accounts) > 0, nil
}

func (s *MemoryStore) FindByUsername(ctx context.Context, username string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return Account{}, err
	}
	return s.find(username)
}

func (s *MemoryStore) Append(ctx context.Context, acct Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if err := acct.Validate(); err != nil {
		return err
	}
	s.accounts = append(s.accounts, acct)
	return nil
}

func (s *MemoryStore) Register(ctx context.Context, acct Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if err := acct.Validate(); err != nil {
		return err
	}
	if _, err := s.find(acct.Username); err == nil {
		return ErrDuplicate
	}
	s.accounts = append(s.accounts, acct)
	return nil
}

// Snapshot returns a copy of the stored accounts in insertion order.
func (s *MemoryStore) Snapshot() []Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Account, len(s.accounts))
	copy(out, s.accounts)
	return out
}

func (s *MemoryStore) find(username string) (Account, error) {
	for _, acct := range s.accounts {
		if acct.Username == username {
			return acct, nil
		}
	}
	return Account{}, ErrNotFound
}

func (s *MemoryStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}
