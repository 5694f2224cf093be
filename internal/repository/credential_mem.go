package repository

import (
	"context"
	"sync"

	"github.com/coinpilot/coinpilot/internal/model"
)

// MemoryCredentialStore is a process-local stand-in for PostgresCredentialRepo.
// Advisory locks become per-key mutexes, which only serialize callers sharing the store.
type MemoryCredentialStore struct {
	mu     sync.Mutex
	nextID int64
	recs   map[int64]*model.TokenRecord

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		recs:  make(map[int64]*model.TokenRecord),
		locks: make(map[int64]*sync.Mutex),
	}
}

func (s *MemoryCredentialStore) Get(_ context.Context, userID int64, exchange string) (*model.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(userID, exchange)
}

func (s *MemoryCredentialStore) Upsert(_ context.Context, rec *model.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.RefreshAttempts = 0
	if existing, err := s.find(rec.UserID, rec.ExchangeName); err == nil {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else {
		s.nextID++
		rec.ID = s.nextID
	}
	s.recs[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryCredentialStore) DeleteByUser(_ context.Context, userID int64, exchange string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.find(userID, exchange)
	if err != nil {
		return err
	}
	delete(s.recs, rec.ID)
	return nil
}

func (s *MemoryCredentialStore) IncrementRefreshAttempts(_ context.Context, recordID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[recordID]
	if !ok {
		return 0, ErrNotFound
	}
	rec.RefreshAttempts++
	return rec.RefreshAttempts, nil
}

func (s *MemoryCredentialStore) WithLock(ctx context.Context, lockID int64, fn func(tx CredentialTx) error) error {
	l := s.lockFor(lockID)
	l.Lock()
	defer l.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(memCredentialTx{s: s})
}

func (s *MemoryCredentialStore) lockFor(id int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *MemoryCredentialStore) find(userID int64, exchange string) (*model.TokenRecord, error) {
	for _, rec := range s.recs {
		if rec.UserID == userID && rec.ExchangeName == exchange {
			return rec.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

type memCredentialTx struct {
	s *MemoryCredentialStore
}

func (t memCredentialTx) Get(ctx context.Context, userID int64, exchange string) (*model.TokenRecord, error) {
	return t.s.Get(ctx, userID, exchange)
}

func (t memCredentialTx) SaveTokens(_ context.Context, rec *model.TokenRecord) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cur, ok := t.s.recs[rec.ID]
	if !ok {
		return ErrNotFound
	}
	cur.AccessTokenCipher = append([]byte(nil), rec.AccessTokenCipher...)
	cur.RefreshTokenCipher = append([]byte(nil), rec.RefreshTokenCipher...)
	cur.Scope = rec.Scope
	cur.ExpiresAt = rec.ExpiresAt
	cur.RefreshAttempts = 0
	rec.RefreshAttempts = 0
	return nil
}

func (t memCredentialTx) RecordRefreshFailure(_ context.Context, recordID int64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cur, ok := t.s.recs[recordID]
	if !ok {
		return ErrNotFound
	}
	cur.RefreshFailures++
	return nil
}

func (t memCredentialTx) Delete(_ context.Context, recordID int64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	delete(t.s.recs, recordID)
	return nil
}
