package ledger

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

// Init is a no-op for the memory ledger.
func (r *MemoryRepo) Init(ctx context.Context) error {
	return ctx.Err()
}

// Append adds an entry to the end of the ledger.
func (r *MemoryRepo) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := Validate(e); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

// FindByName resolves name against savedAs, then originalFileName.
func (r *MemoryRepo) FindByName(ctx context.Context, name string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return findByName(r.entries, name)
}

// History returns the entries recorded for savedAs.
func (r *MemoryRepo) History(ctx context.Context, savedAs string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return historyOf(r.entries, savedAs), nil
}

// List returns a copy of the ledger.
func (r *MemoryRepo) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out, nil
}

var _ Repo = (*MemoryRepo)(nil)
