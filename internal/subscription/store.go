// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no principal matches.
	ErrNotFound = errors.New("subscription: principal not found")
	// ErrCustomerTaken is returned when a customer reference is already bound
	// to a different principal.
	ErrCustomerTaken = errors.New("subscription: customer reference bound to another principal")
)

// Store persists principals.
type Store interface {
	Get(ctx context.Context, id string) (Principal, error)
	GetByCustomer(ctx context.Context, customerRef string) (Principal, error)
	Put(ctx context.Context, p Principal) error
	Close() error
}

// OpenStore creates a principal Store for backend.
func OpenStore(ctx context.Context, backend, path string) (Store, error) {
	if backend == "" {
		backend = "sqlite"
	}
	switch backend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSqliteStore(ctx, path)
	default:
		return nil, fmt.Errorf("unknown principal store backend: %s", backend)
	}
}

// Register creates a free principal for id unless one exists.
func Register(ctx context.Context, s Store, id string, now time.Time) (Principal, error) {
	p, err := s.Get(ctx, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Principal{}, err
	}
	p = NewPrincipal(id, now)
	if err := s.Put(ctx, p); err != nil {
		return Principal{}, err
	}
	return p, nil
}

// MemoryStore keeps principals in memory.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]Principal
	byCustomer map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]Principal),
		byCustomer: make(map[string]string),
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) GetByCustomer(_ context.Context, ref string) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCustomer[ref]
	if !ok || ref == "" {
		return Principal{}, ErrNotFound
	}
	return s.byID[id], nil
}

func (s *MemoryStore) Put(_ context.Context, p Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CustomerRef != "" {
		if owner, ok := s.byCustomer[p.CustomerRef]; ok && owner != p.ID {
			return ErrCustomerTaken
		}
	}
	if old, ok := s.byID[p.ID]; ok && old.CustomerRef != "" && old.CustomerRef != p.CustomerRef {
		delete(s.byCustomer, old.CustomerRef)
	}
	s.byID[p.ID] = p
	if p.CustomerRef != "" {
		s.byCustomer[p.CustomerRef] = p.ID
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
