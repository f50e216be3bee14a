package calltrack

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory call repository for tests and early development.

type MemoryRepo struct {
	mu    sync.Mutex
	calls map[string]Call
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{calls: map[string]Call{}}
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return cloneCall(c), nil
}

func (r *MemoryRepo) GetByRecoveryKey(ctx context.Context, key string) (Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.RecoveryKey == key {
			return cloneCall(c), true, nil
		}
	}
	return Call{}, false, nil
}

func (r *MemoryRepo) FindByProviderCallID(ctx context.Context, providerCallID string) (Call, bool, error) {
	if providerCallID == "" {
		return Call{}, false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.ProviderCallID == providerCallID {
			return cloneCall(c), true, nil
		}
	}
	return Call{}, false, nil
}

func (r *MemoryRepo) Upsert(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[c.ID] = cloneCall(c)
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, limit int, status CallStatus) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0, len(r.calls))
	for _, c := range r.calls {
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, cloneCall(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListCreatedSince(ctx context.Context, since time.Time) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if !c.CreatedAt.Before(since) {
			out = append(out, cloneCall(c))
		}
	}
	return out, nil
}

func (r *MemoryRepo) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if !c.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) CountUserCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.UserID == userID && !c.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) ListActiveProviderCalls(ctx context.Context) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if c.ProviderCallID == "" {
			continue
		}
		switch c.Status {
		case CallStatusInitiated, CallStatusRinging, CallStatusInProgress:
			out = append(out, cloneCall(c))
		}
	}
	return out, nil
}

func cloneCall(c Call) Call {
	out := c
	out.Attempts = append([]AttemptEvent(nil), c.Attempts...)
	out.ProviderEventKeys = append([]string(nil), c.ProviderEventKeys...)
	out.ProviderEvents = append([]ProviderEvent(nil), c.ProviderEvents...)
	return out
}
