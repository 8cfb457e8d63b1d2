package connection

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("connection not found")

// Store persists connections. Implementations must make Update atomic per key.
type Store interface {
	Get(ctx context.Context, key Key) (*Connection, error)
	// Put inserts or replaces the record for c.Key().
	Put(ctx context.Context, c *Connection) error
	// Update applies fn to the current record and saves it; ErrNotFound if absent.
	Update(ctx context.Context, key Key, fn func(c *Connection) error) (*Connection, error)
	// Delete is idempotent.
	Delete(ctx context.Context, key Key) error
	DeleteTenant(ctx context.Context, tenantID string) (int, error)
	List(ctx context.Context, tenantID string) ([]*Connection, error)
}

// MemoryStore is the dev and test Store. Records are copied on the way in and out.
type MemoryStore struct {
	mu    sync.Mutex
	byKey map[Key]*Connection
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{byKey: map[Key]*Connection{}} }

func (s *MemoryStore) Get(ctx context.Context, key Key) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return c.clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, c *Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[c.Key()] = c.clone()
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, key Key, fn func(c *Connection) error) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.byKey[key] = next
	return next.clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byKey, key)
	return nil
}

func (s *MemoryStore) DeleteTenant(ctx context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.byKey {
		if k.TenantID == tenantID {
			delete(s.byKey, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) List(ctx context.Context, tenantID string) ([]*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Connection
	for k, c := range s.byKey {
		if k.TenantID == tenantID {
			out = append(out, c.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}
