// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package subscription

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/cargoforge/internal/billing"
	"github.com/ManuGH/cargoforge/internal/ledger"
)

var t0 = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func newMachine(t *testing.T) (*Machine, Store) {
	t.Helper()
	s := NewMemoryStore()
	_, err := Register(context.Background(), s, "alice", t0)
	require.NoError(t, err)
	clock := t0
	var mu sync.Mutex
	m := NewMachine(s).WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	})
	return m, s
}

func checkout(t *testing.T, m *Machine) Principal {
	t.Helper()
	p, err := m.Apply(context.Background(), billing.NewCheckoutCompleted("cus_1", "sub_1", "pro", "alice"))
	require.NoError(t, err)
	return p
}

func TestTransitionTable(t *testing.T) {
	base := Principal{ID: "alice", Tier: ledger.TierPro, Status: StatusActive, CustomerRef: "cus_1", SubscriptionRef: "sub_1"}
	tests := []struct {
		name string
		ev   billing.Event
		want Principal
	}{
		{"invoice paid keeps tier", billing.NewInvoicePaid("cus_1", "sub_1"),
			Principal{ID: "alice", Tier: ledger.TierPro, Status: StatusActive, CustomerRef: "cus_1", SubscriptionRef: "sub_1"}},
		{"invoice failed", billing.NewInvoiceFailed("cus_1"),
			Principal{ID: "alice", Tier: ledger.TierPro, Status: StatusPastDue, CustomerRef: "cus_1", SubscriptionRef: "sub_1"}},
		{"updated with cancel at period end", billing.NewSubscriptionUpdated("cus_1", "sub_1", "active", true),
			Principal{ID: "alice", Tier: ledger.TierPro, Status: StatusCanceling, CustomerRef: "cus_1", SubscriptionRef: "sub_1"}},
		{"updated carries raw status", billing.NewSubscriptionUpdated("cus_1", "sub_2", "trialing", false),
			Principal{ID: "alice", Tier: ledger.TierPro, Status: Status("trialing"), CustomerRef: "cus_1", SubscriptionRef: "sub_2"}},
		{"deleted downgrades", billing.NewSubscriptionDeleted("cus_1", "sub_1"),
			Principal{ID: "alice", Tier: ledger.TierFree, Status: StatusCanceled, CustomerRef: "cus_1"}},
		{"checkout upgrades", billing.NewCheckoutCompleted("cus_1", "sub_9", "enterprise", ""),
			Principal{ID: "alice", Tier: ledger.TierEnterprise, Status: StatusActive, CustomerRef: "cus_1", SubscriptionRef: "sub_9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transition(base, tt.ev)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Transition mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCheckoutBindsByClientReference(t *testing.T) {
	m, s := newMachine(t)
	p := checkout(t, m)

	assert.Equal(t, ledger.TierPro, p.Tier)
	assert.Equal(t, StatusActive, p.Status)
	assert.Equal(t, "cus_1", p.CustomerRef)

	got, err := s.GetByCustomer(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.ID)
}

func TestCheckoutTwiceIsIdempotent(t *testing.T) {
	m, s := newMachine(t)
	once := checkout(t, m)
	twice := checkout(t, m)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second checkout changed state (-once +twice):\n%s", diff)
	}
	stored, err := s.Get(context.Background(), "alice")
	require.NoError(t, err)
	if diff := cmp.Diff(once, stored); diff != "" {
		t.Errorf("stored state differs (-once +stored):\n%s", diff)
	}
}

func TestEveryEventIsIdempotent(t *testing.T) {
	events := []billing.Event{
		billing.NewInvoicePaid("cus_1", ""),
		billing.NewInvoiceFailed("cus_1"),
		billing.NewSubscriptionUpdated("cus_1", "sub_1", "past_due", false),
		billing.NewSubscriptionUpdated("cus_1", "sub_1", "active", true),
		billing.NewSubscriptionDeleted("cus_1", "sub_1"),
	}
	for _, ev := range events {
		t.Run(ev.Type(), func(t *testing.T) {
			m, _ := newMachine(t)
			checkout(t, m)
			first, err := m.Apply(context.Background(), ev)
			require.NoError(t, err)
			second, err := m.Apply(context.Background(), ev)
			require.NoError(t, err)
			if diff := cmp.Diff(first, second); diff != "" {
				t.Errorf("replay changed state (-first +second):\n%s", diff)
			}
		})
	}
}

// A late InvoicePaid retry after SubscriptionDeleted wins: the last-applied
// event defines the status. Tier stays free because InvoicePaid never
// touches it.
func TestDeletedThenStaleInvoicePaid(t *testing.T) {
	m, _ := newMachine(t)
	checkout(t, m)
	ctx := context.Background()

	_, err := m.Apply(ctx, billing.NewSubscriptionDeleted("cus_1", "sub_1"))
	require.NoError(t, err)
	p, err := m.Apply(ctx, billing.NewInvoicePaid("cus_1", "sub_1"))
	require.NoError(t, err)

	want := Principal{ID: "alice", Tier: ledger.TierFree, Status: StatusActive, CustomerRef: "cus_1"}
	if diff := cmp.Diff(want, p, cmpopts.IgnoreFields(Principal{}, "UpdatedAt")); diff != "" {
		t.Errorf("unexpected state (-want +got):\n%s", diff)
	}
}

func TestUnknownCustomerIsDropped(t *testing.T) {
	m, s := newMachine(t)
	ctx := context.Background()

	_, err := m.Apply(ctx, billing.NewInvoicePaid("cus_ghost", ""))
	assert.ErrorIs(t, err, ErrUnknownCustomer)
	assert.ErrorIs(t, err, billing.ErrUnknownCustomer)

	_, err = m.Apply(ctx, billing.NewCheckoutCompleted("cus_ghost", "sub_1", "pro", "nobody"))
	assert.ErrorIs(t, err, ErrUnknownCustomer)

	p, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusFree, p.Status)
}

func TestConcurrentEventsForOnePrincipal(t *testing.T) {
	m, s := newMachine(t)
	checkout(t, m)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var ev billing.Event = billing.NewInvoicePaid("cus_1", "")
			if i%2 == 0 {
				ev = billing.NewInvoiceFailed("cus_1")
			}
			_, err := m.Apply(ctx, ev)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	p, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, []Status{StatusActive, StatusPastDue}, p.Status)
	assert.Equal(t, ledger.TierPro, p.Tier)
}

func TestStoresRoundTrip(t *testing.T) {
	ctx := context.Background()
	sq, err := NewSqliteStore(ctx, filepath.Join(t.TempDir(), "principals.sqlite"))
	require.NoError(t, err)
	defer sq.Close()

	for name, s := range map[string]Store{"memory": NewMemoryStore(), "sqlite": sq} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "alice")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetByCustomer(ctx, "")
			assert.ErrorIs(t, err, ErrNotFound)

			p := Principal{ID: "alice", Tier: ledger.TierPro, Status: StatusActive, CustomerRef: "cus_1", SubscriptionRef: "sub_1", UpdatedAt: t0}
			require.NoError(t, s.Put(ctx, p))

			got, err := s.GetByCustomer(ctx, "cus_1")
			require.NoError(t, err)
			if diff := cmp.Diff(p, got); diff != "" {
				t.Errorf("round trip (-want +got):\n%s", diff)
			}

			err = s.Put(ctx, Principal{ID: "bob", Tier: ledger.TierFree, Status: StatusFree, CustomerRef: "cus_1", UpdatedAt: t0})
			assert.ErrorIs(t, err, ErrCustomerTaken)

			// Rebinding alice releases the old reference.
			p.CustomerRef = "cus_2"
			require.NoError(t, s.Put(ctx, p))
			_, err = s.GetByCustomer(ctx, "cus_1")
			assert.ErrorIs(t, err, ErrNotFound)

			reg, err := Register(ctx, s, "carol", t0)
			require.NoError(t, err)
			assert.Equal(t, StatusFree, reg.Status)
			again, err := Register(ctx, s, "alice", t0)
			require.NoError(t, err)
			assert.Equal(t, ledger.TierPro, again.Tier)
		})
	}
}
