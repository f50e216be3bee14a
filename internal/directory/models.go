package directory

import (
	"context"
	"errors"
	"time"
)

// This package is the read boundary toward the surrounding commerce system.
// Recovery only ever reads users, carts and order history; it never writes
// them. Implementations may be backed by the shared Postgres schema or by
// memory fixtures in tests.

var ErrNotFound = errors.New("directory: not found")

type User struct {
	ID    string `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Email string `json:"email" db:"email"`

	// Phone is E.164 where possible; empty means the user cannot be called.
	Phone string `json:"phone" db:"phone"`

	// Timezone is an IANA zone name; empty falls back to the settings default.
	Timezone string `json:"timezone" db:"timezone"`
}

type CartItem struct {
	ItemID    string `json:"item_id" db:"item_id"`
	ProductID string `json:"product_id" db:"product_id"`
	VariantID string `json:"variant_id" db:"variant_id"`
	Name      string `json:"name" db:"name"`
	Quantity  int    `json:"quantity" db:"quantity"`
}

type Cart struct {
	ID        string     `json:"id" db:"id"`
	UserID    string     `json:"user_id" db:"user_id"`
	SessionID string     `json:"session_id" db:"session_id"`
	ItemCount int        `json:"item_count" db:"item_count"`
	Total     float64    `json:"total" db:"total"`
	Currency  string     `json:"currency" db:"currency"`
	Items     []CartItem `json:"items"`

	// UpdatedAt is the abandonment reference point; it is part of the
	// recovery key, so it must be stable for a given abandonment episode.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type UserDirectory interface {
	GetUser(ctx context.Context, id string) (User, error)
}

type CartDirectory interface {
	GetCart(ctx context.Context, id string) (Cart, error)
	ListCarts(ctx context.Context) ([]Cart, error)
}

type OrderHistory interface {
	// HasOrderSince reports whether the user placed any order strictly after
	// the given instant. Used to skip carts that already converted.
	HasOrderSince(ctx context.Context, userID string, since time.Time) (bool, error)
}
