package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryRepo struct {
	mu        sync.Mutex
	jobs      map[string]Job
	recovered map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		jobs:      map[string]Job{},
		recovered: map[string]string{},
	}
}

func (r *MemoryRepo) GetJob(ctx context.Context, id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return j, nil
}

func (r *MemoryRepo) PutJob(ctx context.Context, j Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j
	return nil
}

func (r *MemoryRepo) HasRecoveryKey(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.RecoveryKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepo) SelectDue(ctx context.Context, now time.Time) ([]Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Job, 0)
	for _, j := range r.jobs {
		if j.Status != JobStatusQueued && j.Status != JobStatusRetrying {
			continue
		}
		if j.NextRunAt == nil || j.NextRunAt.After(now) {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].NextRunAt.Before(*out[k].NextRunAt) })
	return out, nil
}

func (r *MemoryRepo) ListJobs(ctx context.Context, limit int, status JobStatus) ([]Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) PendingJobs(ctx context.Context) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queued, retrying := 0, 0
	for _, j := range r.jobs {
		switch j.Status {
		case JobStatusQueued:
			queued++
		case JobStatusRetrying:
			retrying++
		}
	}
	return queued, retrying, nil
}

func (r *MemoryRepo) MarkRecovered(ctx context.Context, recoveryKey, providerCallID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recovered[recoveryKey] = providerCallID
	return nil
}

func (r *MemoryRepo) HasRecoveryRecord(ctx context.Context, recoveryKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.recovered[recoveryKey]
	return ok, nil
}
