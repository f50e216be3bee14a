package directory

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory directory for tests and early development.

type Memory struct {
	mu     sync.Mutex
	users  map[string]User
	carts  map[string]Cart
	orders []order
}

type order struct {
	userID    string
	createdAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users: map[string]User{},
		carts: map[string]Cart{},
	}
}

func (m *Memory) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *Memory) PutCart(c Cart) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[c.ID] = c
}

func (m *Memory) RemoveCart(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, id)
}

func (m *Memory) AddOrder(userID string, createdAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, order{userID: userID, createdAt: createdAt})
}

func (m *Memory) GetUser(ctx context.Context, id string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) GetCart(ctx context.Context, id string) (Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[id]
	if !ok {
		return Cart{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListCarts(ctx context.Context) ([]Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Cart, 0, len(m.carts))
	for _, c := range m.carts {
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) HasOrderSince(ctx context.Context, userID string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.userID == userID && o.createdAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}
