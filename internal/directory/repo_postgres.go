package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PostgresRepo reads users, carts and orders from the commerce schema.
//
// NOTE: This repository assumes the following tables exist (owned by the
// surrounding commerce backend, read-only from here):
// - users (id, name, email, phone, timezone)
// - carts (id, user_id, session_id, item_count, total, currency, items JSONB, updated_at)
// - orders (id, user_id, created_at)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) GetUser(ctx context.Context, id string) (User, error) {
	const q = `
SELECT id, COALESCE(name,''), COALESCE(email,''), COALESCE(phone,''), COALESCE(timezone,'')
FROM users
WHERE id = $1
`
	var u User
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Timezone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (r *PostgresRepo) GetCart(ctx context.Context, id string) (Cart, error) {
	const q = `
SELECT id, COALESCE(user_id,''), COALESCE(session_id,''), item_count, total, COALESCE(currency,'USD'), COALESCE(items,'[]'), updated_at
FROM carts
WHERE id = $1
`
	return scanCart(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) ListCarts(ctx context.Context) ([]Cart, error) {
	const q = `
SELECT id, COALESCE(user_id,''), COALESCE(session_id,''), item_count, total, COALESCE(currency,'USD'), COALESCE(items,'[]'), updated_at
FROM carts
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Cart, 0)
	for rows.Next() {
		c, err := scanCart(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) HasOrderSince(ctx context.Context, userID string, since time.Time) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM orders WHERE user_id = $1 AND created_at > $2
)
`
	var exists bool
	if err := r.db.QueryRowContext(ctx, q, userID, since).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCart(row rowScanner) (Cart, error) {
	var c Cart
	var items []byte
	if err := row.Scan(&c.ID, &c.UserID, &c.SessionID, &c.ItemCount, &c.Total, &c.Currency, &items, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Cart{}, ErrNotFound
		}
		return Cart{}, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &c.Items); err != nil {
			return Cart{}, err
		}
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}
