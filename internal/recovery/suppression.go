package recovery

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"
)

// Suppression is a per-user do-not-call record. Presence blocks every future
// recovery job for the user before any provider traffic.
type Suppression struct {
	UserID    string    `json:"userId" db:"user_id"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

type SuppressionRepo interface {
	Put(ctx context.Context, s Suppression) error
	Remove(ctx context.Context, userID string) error
	Exists(ctx context.Context, userID string) (bool, error)
	List(ctx context.Context) ([]Suppression, error)
}

// Registry is the suppression service. It satisfies both the scheduler's
// lookup side and the outcome dispatcher's write side.
type Registry struct {
	repo  SuppressionRepo
	clock func() time.Time
}

func NewRegistry(repo SuppressionRepo) *Registry {
	return &Registry{repo: repo, clock: time.Now}
}

func (r *Registry) Suppress(ctx context.Context, userID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "manual_suppression"
	}
	return r.repo.Put(ctx, Suppression{
		UserID:    userID,
		Reason:    reason,
		CreatedAt: r.clock().UTC(),
	})
}

func (r *Registry) Unsuppress(ctx context.Context, userID string) error {
	return r.repo.Remove(ctx, userID)
}

func (r *Registry) IsSuppressed(ctx context.Context, userID string) (bool, error) {
	return r.repo.Exists(ctx, userID)
}

func (r *Registry) List(ctx context.Context) ([]Suppression, error) {
	return r.repo.List(ctx)
}

type SuppressionMemoryRepo struct {
	mu    sync.Mutex
	users map[string]Suppression
}

func NewSuppressionMemoryRepo() *SuppressionMemoryRepo {
	return &SuppressionMemoryRepo{users: map[string]Suppression{}}
}

func (r *SuppressionMemoryRepo) Put(ctx context.Context, s Suppression) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[s.UserID] = s
	return nil
}

func (r *SuppressionMemoryRepo) Remove(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
	return nil
}

func (r *SuppressionMemoryRepo) Exists(ctx context.Context, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[userID]
	return ok, nil
}

func (r *SuppressionMemoryRepo) List(ctx context.Context) ([]Suppression, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Suppression, 0, len(r.users))
	for _, s := range r.users {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// NOTE: This repository assumes the following table exists:
//
// CREATE TABLE voice_suppressions (
//     user_id    TEXT PRIMARY KEY,
//     reason     TEXT NOT NULL,
//     created_at TIMESTAMPTZ NOT NULL
// );

type SuppressionPostgresRepo struct {
	db *sql.DB
}

func NewSuppressionPostgresRepo(db *sql.DB) *SuppressionPostgresRepo {
	return &SuppressionPostgresRepo{db: db}
}

func (r *SuppressionPostgresRepo) Put(ctx context.Context, s Suppression) error {
	const q = `
INSERT INTO voice_suppressions (user_id, reason, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET reason = EXCLUDED.reason, created_at = EXCLUDED.created_at
`
	_, err := r.db.ExecContext(ctx, q, s.UserID, s.Reason, s.CreatedAt)
	return err
}

func (r *SuppressionPostgresRepo) Remove(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM voice_suppressions WHERE user_id = $1`, userID)
	return err
}

func (r *SuppressionPostgresRepo) Exists(ctx context.Context, userID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM voice_suppressions WHERE user_id = $1)`
	var exists bool
	err := r.db.QueryRowContext(ctx, q, userID).Scan(&exists)
	return exists, err
}

func (r *SuppressionPostgresRepo) List(ctx context.Context) ([]Suppression, error) {
	const q = `SELECT user_id, reason, created_at FROM voice_suppressions ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Suppression, 0)
	for rows.Next() {
		var s Suppression
		if err := rows.Scan(&s.UserID, &s.Reason, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
