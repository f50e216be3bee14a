package scheduler

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("scheduler: job not found")

// Repository persists jobs and the recovered-cart idempotency records.
type Repository interface {
	GetJob(ctx context.Context, id string) (Job, error)
	PutJob(ctx context.Context, j Job) error

	// HasRecoveryKey reports whether any job, in any status, carries the key.
	HasRecoveryKey(ctx context.Context, key string) (bool, error)

	// SelectDue returns queued/retrying jobs with nextRunAt <= now, ordered
	// nextRunAt ascending.
	SelectDue(ctx context.Context, now time.Time) ([]Job, error)

	// ListJobs returns jobs newest first; status filters when non-empty.
	ListJobs(ctx context.Context, limit int, status JobStatus) ([]Job, error)

	// PendingJobs returns the queued and retrying counts. Satisfies
	// alerts.JobGauge.
	PendingJobs(ctx context.Context) (queued int, retrying int, err error)

	// MarkRecovered records that a provider call was successfully started for
	// the recovery key; the record outlives the job and blocks re-enqueue.
	MarkRecovered(ctx context.Context, recoveryKey, providerCallID string) error
	HasRecoveryRecord(ctx context.Context, recoveryKey string) (bool, error)
}
