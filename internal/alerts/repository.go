package alerts

import (
	"context"
	"sort"
	"sync"
)

type Repository interface {
	Add(ctx context.Context, a Alert) error

	// List returns alerts newest first; severity filters when non-empty.
	List(ctx context.Context, limit int, severity Severity) ([]Alert, error)
	Count(ctx context.Context) (int, error)
}

type MemoryRepo struct {
	mu     sync.Mutex
	alerts []Alert
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

func (r *MemoryRepo) Add(ctx context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, limit int, severity Severity) ([]Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, 0, len(r.alerts))
	for _, a := range r.alerts {
		if severity != "" && a.Severity != severity {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts), nil
}
