package arpdb_test

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/arpdb"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/testutil/faketime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// testARPDB is the [arpdb.Interface] for tests.
type testARPDB struct {
	onRefresh   func(ctx context.Context) (err error)
	onNeighbors func() (ns []arpdb.Neighbor)
}

// type check
var _ arpdb.Interface = (*testARPDB)(nil)

// Refresh implements the [arpdb.Interface] interface for *testARPDB.
func (a *testARPDB) Refresh(ctx context.Context) (err error) {
	return a.onRefresh(ctx)
}

// Neighbors implements the [arpdb.Interface] interface for *testARPDB.
func (a *testARPDB) Neighbors() (ns []arpdb.Neighbor) {
	return a.onNeighbors()
}

func TestChecker_IsAvailable(t *testing.T) {
	t.Parallel()

	usedIP := netip.MustParseAddr("192.0.2.10")
	freeIP := netip.MustParseAddr("192.0.2.11")

	refreshes := 0
	arp := &testARPDB{
		onRefresh: func(_ context.Context) (err error) {
			refreshes++

			return nil
		},
		onNeighbors: func() (ns []arpdb.Neighbor) {
			return []arpdb.Neighbor{{
				IP:  usedIP,
				MAC: net.HardwareAddr{0x02, 0, 0, 0, 0, 0x10},
			}}
		},
	}

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &faketime.Clock{
		OnNow: func() (t time.Time) { return now },
	}

	c := arpdb.NewChecker(&arpdb.CheckerConfig{
		Logger:          slogutil.NewDiscardLogger(),
		Clock:           clock,
		ARP:             arp,
		RefreshInterval: time.Minute,
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	ok, err := c.IsAvailable(ctx, usedIP)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.IsAvailable(ctx, freeIP)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 1, refreshes)

	now = now.Add(time.Minute)

	_, err = c.IsAvailable(ctx, freeIP)
	require.NoError(t, err)

	assert.Equal(t, 2, refreshes)
}

func TestChecker_IsAvailable_error(t *testing.T) {
	t.Parallel()

	const testErr errors.Error = "no arp"

	arp := &testARPDB{
		onRefresh: func(_ context.Context) (err error) { return testErr },
		onNeighbors: func() (ns []arpdb.Neighbor) {
			panic("not implemented")
		},
	}

	c := arpdb.NewChecker(&arpdb.CheckerConfig{
		Logger: slogutil.NewDiscardLogger(),
		Clock:  &faketime.Clock{OnNow: time.Now},
		ARP:    arp,
	})

	ok, err := c.IsAvailable(testutil.ContextWithTimeout(t, testTimeout), netip.MustParseAddr("192.0.2.1"))
	assert.ErrorIs(t, err, testErr)
	assert.False(t, ok)
}
