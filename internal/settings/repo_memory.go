package settings

import (
	"context"
	"sync"
)

// MemoryRepo stores the settings singleton in memory. Useful for tests.

type MemoryRepo struct {
	mu     sync.Mutex
	val    Settings
	seeded bool
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Get(ctx context.Context) (Settings, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.val, r.seeded, nil
}

func (r *MemoryRepo) Put(ctx context.Context, s Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.val = s
	r.seeded = true
	return nil
}
