package dhcpbind_test

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpbind"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bindingOpts are the options for comparing bindings.
var bindingOpts = cmp.Options{
	cmpopts.EquateComparable(netip.Addr{}),
	cmpopts.IgnoreUnexported(dhcpbind.Binding{}),
	cmpopts.SortSlices(func(a, b *dhcpbind.Binding) (less bool) {
		return a.Addr.Less(b.Addr)
	}),
}

// newStoredBindings returns bindings of every type.
func newStoredBindings() (bs []*dhcpbind.Binding) {
	return []*dhcpbind.Binding{{
		Start:     testStart,
		Expiry:    testStart.Add(testValid),
		Link:      testLink4,
		Hostname:  "printer",
		ClientID:  []byte{1, 0, 0x5e, 0, 0x53, 1},
		Addr:      netip.MustParseAddr("192.0.2.10"),
		Preferred: testValid,
		Valid:     testValid,
		T1:        testValid / 2,
		T2:        testValid * 4 / 5,
		IAType:    dhcpbind.IATypeV4,
		State:     dhcpbind.StateActive,
	}, {
		Start:     testStart,
		Expiry:    testStart.Add(testValid),
		Link:      testLink6,
		ClientID:  []byte{0, 3, 0, 1, 0, 0x5e, 0, 0x53, 0, 1},
		Addr:      netip.MustParseAddr("2001:db8::100"),
		Preferred: testValid,
		Valid:     testValid,
		IAID:      42,
		IAType:    dhcpbind.IATypeNA,
		State:     dhcpbind.StateDeclined,
	}, {
		Start:     testStart,
		Expiry:    testStart.Add(testValid),
		Link:      testLink6,
		ClientID:  []byte{0, 3, 0, 1, 0, 0x5e, 0, 0x53, 0, 1},
		Addr:      netip.MustParseAddr("2001:db8:100::"),
		Preferred: testValid,
		Valid:     testValid,
		IAID:      43,
		PrefixLen: 64,
		IAType:    dhcpbind.IATypePD,
		State:     dhcpbind.StateActive,
	}}
}

func TestStores(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		open func(tb testing.TB, path string) (s dhcpbind.Store)
		name string
	}{{
		open: func(tb testing.TB, path string) (s dhcpbind.Store) {
			tb.Helper()

			bs, err := dhcpbind.NewBoltStore(testLogger, path)
			require.NoError(tb, err)

			return bs
		},
		name: "bolt",
	}, {
		open: func(_ testing.TB, path string) (s dhcpbind.Store) {
			return dhcpbind.NewFileStore(testLogger, path)
		},
		name: "json",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := testutil.ContextWithTimeout(t, testTimeout)
			path := filepath.Join(t.TempDir(), "bindings")
			want := newStoredBindings()

			s := tc.open(t, path)
			got, err := s.Load(ctx)
			require.NoError(t, err)
			require.Empty(t, got)

			for _, b := range want {
				require.NoError(t, s.Put(ctx, b))
			}

			require.NoError(t, s.Delete(ctx, want[1]))
			require.NoError(t, s.Close())

			want = append(want[:1], want[2:]...)

			s = tc.open(t, path)
			testutil.CleanupAndRequireSuccess(t, s.Close)

			got, err = s.Load(ctx)
			require.NoError(t, err)

			assert.Empty(t, cmp.Diff(want, got, bindingOpts))

			// Deleting an absent binding is not an error.
			require.NoError(t, s.Delete(ctx, want[0]))
			require.NoError(t, s.Delete(ctx, want[0]))
		})
	}
}

func TestFileStore_errors(t *testing.T) {
	t.Parallel()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	dir := t.TempDir()
	b := newStoredBindings()[0]

	s := dhcpbind.NewFileStore(testLogger, dir)
	err := s.Put(ctx, b)
	require.Error(t, err)

	path := filepath.Join(dir, "bindings.json")
	err = os.WriteFile(path, []byte(`{"bindings":[{"ia_type":"bad"}],"version":1}`), 0o600)
	require.NoError(t, err)

	s = dhcpbind.NewFileStore(testLogger, path)
	got, err := s.Load(ctx)
	require.NoError(t, err)

	assert.Empty(t, got)
}

func TestFileStore_lifetimes(t *testing.T) {
	t.Parallel()

	const data = `{"bindings":[{
	"start":"2026-01-01T00:00:00Z",
	"expires":"2026-01-01T01:00:00Z",
	"link":"eth0",
	"client_id":"01005e005301",
	"addr":"192.0.2.10",
	"ia_type":"v4",
	"state":"active",
	"preferred_lifetime":"1h",
	"valid_lifetime":"1h",
	"t1":"30m",
	"t2":"48m"
}],"version":1}`

	path := filepath.Join(t.TempDir(), "bindings.json")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	s := dhcpbind.NewFileStore(testLogger, path)
	got, err := s.Load(testutil.ContextWithTimeout(t, testTimeout))
	require.NoError(t, err)
	require.Len(t, got, 1)

	b := got[0]
	assert.Equal(t, time.Hour, b.Preferred)
	assert.Equal(t, time.Hour, b.Valid)
	assert.Equal(t, 30*time.Minute, b.T1)
	assert.Equal(t, 48*time.Minute, b.T2)
}

func TestManager_store(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bindings.db")
	clock := newTestClock()

	st, err := dhcpbind.NewBoltStore(testLogger, path)
	require.NoError(t, err)

	conf := newConfig(clock, 4)
	conf.Store = st

	m := newManager(t, conf)

	offer := allocate(t, m, newReq4(m, 2, netip.Addr{}, false))
	b := allocate(t, m, newReq4(m, 1, netip.Addr{}, true))

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, m.Shutdown(ctx))

	st, err = dhcpbind.NewBoltStore(testLogger, path)
	require.NoError(t, err)

	conf.Store = st
	m = newManager(t, conf)
	testutil.CleanupAndRequireSuccess(t, func() (err error) { return m.Shutdown(ctx) })

	// Offers are not stored.
	want := []*dhcpbind.Binding{b}
	assert.Empty(t, cmp.Diff(want, m.Bindings(), bindingOpts))
	assert.NotEqual(t, offer.Addr, b.Addr)
}
