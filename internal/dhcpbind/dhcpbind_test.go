package dhcpbind_test

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpbind"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/testutil/faketime"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// testValid is the valid lifetime of the test pools.
const testValid = time.Hour

// testLogger is the common logger for tests.
var testLogger = slogutil.NewDiscardLogger()

// testStart is the initial time of the test clocks.
var testStart = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// Common link names.
const (
	testLink4 = "lan4"
	testLink6 = "lan6"
)

// testClock is a fake clock that can be moved forward.
type testClock struct {
	*faketime.Clock

	// mu protects now.
	mu  *sync.Mutex
	now time.Time
}

// newTestClock returns a new clock showing testStart.
func newTestClock() (c *testClock) {
	c = &testClock{
		mu:  &sync.Mutex{},
		now: testStart,
	}

	c.Clock = &faketime.Clock{
		OnNow: func() (now time.Time) {
			c.mu.Lock()
			defer c.mu.Unlock()

			return c.now
		},
	}

	return c
}

// advance moves c forward by d.
func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// testStore is a [dhcpbind.Store] for tests.
type testStore struct {
	onLoad   func(ctx context.Context) (bs []*dhcpbind.Binding, err error)
	onPut    func(ctx context.Context, b *dhcpbind.Binding) (err error)
	onDelete func(ctx context.Context, b *dhcpbind.Binding) (err error)
}

// type check
var _ dhcpbind.Store = (*testStore)(nil)

// Load implements the [dhcpbind.Store] interface for *testStore.
func (s *testStore) Load(ctx context.Context) (bs []*dhcpbind.Binding, err error) {
	if s.onLoad == nil {
		return nil, nil
	}

	return s.onLoad(ctx)
}

// Put implements the [dhcpbind.Store] interface for *testStore.
func (s *testStore) Put(ctx context.Context, b *dhcpbind.Binding) (err error) {
	if s.onPut == nil {
		return nil
	}

	return s.onPut(ctx, b)
}

// Delete implements the [dhcpbind.Store] interface for *testStore.
func (s *testStore) Delete(ctx context.Context, b *dhcpbind.Binding) (err error) {
	if s.onDelete == nil {
		return nil
	}

	return s.onDelete(ctx, b)
}

// Close implements the [dhcpbind.Store] interface for *testStore.
func (s *testStore) Close() (err error) { return nil }

// testPeer is a [dhcpbind.FailoverPeer] for tests.
type testPeer struct {
	onMayCommit func(ctx context.Context, b *dhcpbind.Binding) (err error)
	onNotify    func(ctx context.Context, b *dhcpbind.Binding)
}

// type check
var _ dhcpbind.FailoverPeer = (*testPeer)(nil)

// MayCommit implements the [dhcpbind.FailoverPeer] interface for *testPeer.
func (p *testPeer) MayCommit(ctx context.Context, b *dhcpbind.Binding) (err error) {
	return p.onMayCommit(ctx, b)
}

// Notify implements the [dhcpbind.FailoverPeer] interface for *testPeer.
func (p *testPeer) Notify(ctx context.Context, b *dhcpbind.Binding) {
	p.onNotify(ctx, b)
}

// newConfig returns a configuration with an IPv4 link having a pool of size
// addresses starting at 192.0.2.10 and an IPv6 link with an address pool and a
// prefix pool.
func newConfig(clock *testClock, size int) (conf *dhcpbind.Config) {
	start4 := netip.MustParseAddr("192.0.2.10")
	end4 := start4
	for range size - 1 {
		end4 = end4.Next()
	}

	return &dhcpbind.Config{
		Logger: testLogger,
		Clock:  clock,
		Store:  dhcpbind.EmptyStore{},
		Peer:   dhcpbind.EmptyFailoverPeer{},
		Links: []*dhcpbind.LinkConfig{{
			Prefix:    netip.MustParsePrefix("192.0.2.0/24"),
			Name:      testLink4,
			Interface: "eth0",
			Pools: []*dhcpbind.PoolConfig{{
				Start:         start4,
				End:           end4,
				ValidLifetime: testValid,
			}},
		}, {
			Prefix:    netip.MustParsePrefix("2001:db8::/64"),
			Name:      testLink6,
			Interface: "eth0",
			Pools: []*dhcpbind.PoolConfig{{
				Start:         netip.MustParseAddr("2001:db8::100"),
				End:           netip.MustParseAddr("2001:db8::1ff"),
				ValidLifetime: testValid,
			}, {
				Prefix:        netip.MustParsePrefix("2001:db8:100::/56"),
				DelegatedLen:  64,
				ValidLifetime: testValid,
			}},
		}},
		DeclineQuarantine: 10 * time.Minute,
		OfferLifetime:     time.Minute,
	}
}

// newManager is a helper that returns a new manager for conf.
func newManager(tb testing.TB, conf *dhcpbind.Config) (m *dhcpbind.Manager) {
	tb.Helper()

	ctx := testutil.ContextWithTimeout(tb, testTimeout)
	m, err := dhcpbind.New(ctx, conf)
	require.NoError(tb, err)

	return m
}

// newReq4 returns a DHCPv4 request of the client with the id.
func newReq4(m *dhcpbind.Manager, id byte, addr netip.Addr, commit bool) (req *dhcpbind.Request) {
	return &dhcpbind.Request{
		Link:     m.LinkByName(testLink4),
		ClientID: []byte{1, 2, 3, 4, 5, id},
		Addr:     addr,
		IAType:   dhcpbind.IATypeV4,
		Commit:   commit,
	}
}

// allocate is a helper that allocates a binding for req.
func allocate(tb testing.TB, m *dhcpbind.Manager, req *dhcpbind.Request) (b *dhcpbind.Binding) {
	tb.Helper()

	ctx := testutil.ContextWithTimeout(tb, testTimeout)
	b, err := m.Allocate(ctx, req)
	require.NoError(tb, err)
	require.NotNil(tb, b)

	return b
}

// errTest is the common error for tests.
const errTest errors.Error = "test error"
