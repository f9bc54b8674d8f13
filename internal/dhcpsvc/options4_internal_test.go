package dhcpsvc

import (
	"math"
	"net/netip"
	"testing"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpbind"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpmsg"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecs(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   time.Duration
		name string
		want uint32
	}{{
		in:   0,
		name: "zero",
		want: 0,
	}, {
		in:   -time.Second,
		name: "negative",
		want: 0,
	}, {
		in:   1500 * time.Millisecond,
		name: "fraction",
		want: 1,
	}, {
		in:   time.Hour,
		name: "hour",
		want: 3600,
	}, {
		in:   time.Duration(math.MaxInt64),
		name: "saturated",
		want: math.MaxUint32,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, secs(tc.in))
		})
	}
}

func TestSetLinkOptions4(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		prefix netip.Prefix
		want   netip.Addr
		name   string
	}{{
		prefix: netip.MustParsePrefix("192.0.2.0/24"),
		want:   netip.MustParseAddr("255.255.255.0"),
		name:   "24",
	}, {
		prefix: netip.MustParsePrefix("10.0.0.0/8"),
		want:   netip.MustParseAddr("255.0.0.0"),
		name:   "8",
	}, {
		prefix: netip.MustParsePrefix("192.0.2.128/25"),
		want:   netip.MustParseAddr("255.255.255.128"),
		name:   "25",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			resp := dhcpmsg.NewMessage4(netip.AddrPort{}, netip.AddrPort{})
			setLinkOptions4(resp, &dhcpbind.Link{Prefix: tc.prefix})

			assert.Equal(t, tc.want, resp.IP(dhcpopt.Code4SubnetMask))
		})
	}

	t.Run("no_link", func(t *testing.T) {
		t.Parallel()

		resp := dhcpmsg.NewMessage4(netip.AddrPort{}, netip.AddrPort{})
		setLinkOptions4(resp, nil)

		assert.False(t, resp.Options.Has(dhcpopt.Code4SubnetMask))
	})
}

func TestImplicitPolicy4(t *testing.T) {
	t.Parallel()

	p := implicitPolicy4()
	require.NotNil(t, p)
	assert.Empty(t, p.Groups)

	require.NoError(t, validatePolicy(p, true))

	ttl := testutil.RequireTypeAssert[*dhcpopt.Uint8](t, p.Options.Get(dhcpopt.Code4DefaultIPTTL))
	assert.Equal(t, uint8(64), ttl.Value)

	bcast := testutil.RequireTypeAssert[*dhcpopt.IP](t, p.Options.Get(dhcpopt.Code4BroadcastAddr))
	assert.Equal(t, netip.MustParseAddr("255.255.255.255"), bcast.Value)

	routers := testutil.RequireTypeAssert[*dhcpopt.IP](t, p.Options.Get(dhcpopt.Code4RouterSolicitAddr))
	assert.Equal(t, netip.MustParseAddr("224.0.0.2"), routers.Value)

	keepAlive := testutil.RequireTypeAssert[*dhcpopt.Uint32](t, p.Options.Get(dhcpopt.Code4TCPKeepAliveTime))
	assert.Equal(t, uint32(7200), keepAlive.Value)

	assert.False(t, p.Options.Has(dhcpopt.Code4InterfaceMTU))
}

func TestDirectedBroadcast4(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		prefix netip.Prefix
		want   netip.Addr
		name   string
	}{{
		prefix: netip.MustParsePrefix("192.0.2.0/24"),
		want:   netip.MustParseAddr("192.0.2.255"),
		name:   "24",
	}, {
		prefix: netip.MustParsePrefix("10.1.2.3/8"),
		want:   netip.MustParseAddr("10.255.255.255"),
		name:   "8_unmasked",
	}, {
		prefix: netip.MustParsePrefix("192.0.2.128/25"),
		want:   netip.MustParseAddr("192.0.2.255"),
		name:   "25",
	}, {
		prefix: netip.MustParsePrefix("192.0.2.7/32"),
		want:   netip.MustParseAddr("192.0.2.7"),
		name:   "32",
	}, {
		prefix: netip.MustParsePrefix("2001:db8::/64"),
		want:   netip.Addr{},
		name:   "ipv6",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, directedBroadcast4(tc.prefix))
		})
	}
}
