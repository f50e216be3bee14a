package calltrack

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("calltrack: call not found")

// Repository is the persistence contract for Call aggregates.
//
// Writes replace the full aggregate; the tracker serializes mutations per
// call, so upserts act as atomic per-aggregate writes.
type Repository interface {
	GetByID(ctx context.Context, id string) (Call, error)
	GetByRecoveryKey(ctx context.Context, key string) (Call, bool, error)
	FindByProviderCallID(ctx context.Context, providerCallID string) (Call, bool, error)
	Upsert(ctx context.Context, c Call) error

	// List returns calls newest first; status filters when non-empty.
	List(ctx context.Context, limit int, status CallStatus) ([]Call, error)
	ListCreatedSince(ctx context.Context, since time.Time) ([]Call, error)

	// Day-scoped counters backing the budget guardrails. These must read
	// current store state; implementations must not cache.
	CountCreatedSince(ctx context.Context, since time.Time) (int, error)
	CountUserCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)

	// ListActiveProviderCalls returns calls awaiting a terminal provider
	// status (initiated/ringing/in_progress) that carry a provider call id.
	ListActiveProviderCalls(ctx context.Context) ([]Call, error)
}
