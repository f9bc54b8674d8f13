package dhcpsvc_test

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpbind"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpfilter"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpmsg"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpsvc"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/testutil/faketime"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// testValid is the valid lifetime of the test pools.
const testValid = time.Hour

// testIface is the name of the network interface the test links are attached
// to.
const testIface = "eth0"

// Common link names.
const (
	testLink4 = "lan4"
	testLink6 = "lan6"
)

// testLogger is the common logger for tests.
var testLogger = slogutil.NewDiscardLogger()

// testStart is the time of the test clock.
var testStart = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// testClock is the common clock for tests.
var testClock = &faketime.Clock{
	OnNow: func() (now time.Time) { return testStart },
}

// Common addresses.
var (
	testServerID4  = netip.MustParseAddr("192.0.2.1")
	testPoolStart4 = netip.MustParseAddr("192.0.2.10")
	testPoolEnd4   = netip.MustParseAddr("192.0.2.19")
	testRelay4     = netip.MustParseAddr("198.51.100.1")

	testPoolStart6 = netip.MustParseAddr("2001:db8::100")
	testPoolEnd6   = netip.MustParseAddr("2001:db8::1ff")
	testRelayLink6 = netip.MustParseAddr("2001:db8:1::1")
	testOffLink6   = netip.MustParseAddr("2001:db8:ffff::1")
	testUnicast6   = netip.MustParseAddr("2001:db8::1")

	testLocal4  = netip.AddrPortFrom(netip.IPv4Unspecified(), dhcpmsg.ServerPort4)
	testLocal6  = netip.AddrPortFrom(netip.MustParseAddr("ff02::1:2"), dhcpmsg.ServerPort6)
	testRemote4 = netip.AddrPortFrom(netip.IPv4Unspecified(), dhcpmsg.ClientPort4)
	testRemote6 = netip.AddrPortFrom(netip.MustParseAddr("fe80::1"), dhcpmsg.ClientPort6)
)

// Common identifiers.
var (
	testServerDUID = []byte{0x00, 0x03, 0x00, 0x01, 0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	testClientDUID = []byte{0x00, 0x03, 0x00, 0x01, 0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	testOtherDUID  = []byte{0x00, 0x03, 0x00, 0x01, 0x02, 0x00, 0x00, 0x00, 0x00, 0x03}

	testHWAddr = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// newBindingConfig returns the configuration of a binding manager with an IPv4
// link, an IPv6 link attached to testIface, and an IPv6 link only reachable
// through relays.
func newBindingConfig() (conf *dhcpbind.Config) {
	return &dhcpbind.Config{
		Logger: testLogger,
		Clock:  testClock,
		Store:  dhcpbind.EmptyStore{},
		Peer:   dhcpbind.EmptyFailoverPeer{},
		Links: []*dhcpbind.LinkConfig{{
			Prefix:    netip.MustParsePrefix("192.0.2.0/24"),
			Name:      testLink4,
			Interface: testIface,
			Pools: []*dhcpbind.PoolConfig{{
				Start:         testPoolStart4,
				End:           testPoolEnd4,
				ValidLifetime: testValid,
			}},
		}, {
			Prefix:    netip.MustParsePrefix("2001:db8::/64"),
			Name:      testLink6,
			Interface: testIface,
			Pools: []*dhcpbind.PoolConfig{{
				Start:         testPoolStart6,
				End:           testPoolEnd6,
				ValidLifetime: testValid,
			}, {
				Prefix:        netip.MustParsePrefix("2001:db8:100::/56"),
				DelegatedLen:  64,
				ValidLifetime: testValid,
			}},
		}, {
			Prefix: netip.MustParsePrefix("2001:db8:1::/64"),
			Name:   "relayed6",
			Pools: []*dhcpbind.PoolConfig{{
				Start:         netip.MustParseAddr("2001:db8:1::100"),
				End:           netip.MustParseAddr("2001:db8:1::100"),
				ValidLifetime: testValid,
			}},
		}},
		DeclineQuarantine: 10 * time.Minute,
		OfferLifetime:     time.Minute,
	}
}

// newConfig returns a valid dispatcher configuration for bindings.
func newConfig(bindings *dhcpbind.Manager) (conf *dhcpsvc.Config) {
	return &dhcpsvc.Config{
		Logger:      testLogger,
		Clock:       testClock,
		Bindings:    bindings,
		Metrics:     dhcpsvc.EmptyMetrics{},
		AddrChecker: dhcpsvc.EmptyAddressChecker{},
		Policy4: &dhcpfilter.Policy{
			Options: dhcpopt.Options{},
		},
		Policy6: &dhcpfilter.Policy{
			Options: dhcpopt.Options{},
		},
		ServerDUID: testServerDUID,
		ServerID4:  testServerID4,
	}
}

// newBindings is a helper that returns a new binding manager for conf.
func newBindings(tb testing.TB, conf *dhcpbind.Config) (m *dhcpbind.Manager) {
	tb.Helper()

	ctx := testutil.ContextWithTimeout(tb, testTimeout)
	m, err := dhcpbind.New(ctx, conf)
	require.NoError(tb, err)

	return m
}

// newDispatcher is a helper that returns a new dispatcher with the default
// bindings.  modify, if not nil, is called on the configuration before the
// dispatcher is created.
func newDispatcher(
	tb testing.TB,
	modify func(conf *dhcpsvc.Config),
) (d *dhcpsvc.Dispatcher, m *dhcpbind.Manager) {
	tb.Helper()

	m = newBindings(tb, newBindingConfig())

	conf := newConfig(m)
	if modify != nil {
		modify(conf)
	}

	d, err := dhcpsvc.New(conf)
	require.NoError(tb, err)

	return d, m
}

// handle is a helper that passes req to d and returns the reply.
func handle(tb testing.TB, d dhcpsvc.Handler, local netip.AddrPort, req dhcpmsg.Message) (resp dhcpmsg.Message) {
	tb.Helper()

	ctx := testutil.ContextWithTimeout(tb, testTimeout)

	return d.Handle(ctx, local, req)
}

// testMetrics is a [dhcpsvc.Metrics] for tests.
type testMetrics struct {
	onIncrementDecodeErrors   func(ctx context.Context, f dhcpopt.Family)
	onObserveRequest          func(ctx context.Context, f dhcpopt.Family, req, resp string, dur time.Duration)
	onIncrementReplyCacheHits func(ctx context.Context, f dhcpopt.Family)
}

// type check
var _ dhcpsvc.Metrics = (*testMetrics)(nil)

// IncrementDecodeErrors implements the [dhcpsvc.Metrics] interface for
// *testMetrics.
func (m *testMetrics) IncrementDecodeErrors(ctx context.Context, f dhcpopt.Family) {
	m.onIncrementDecodeErrors(ctx, f)
}

// ObserveRequest implements the [dhcpsvc.Metrics] interface for *testMetrics.
func (m *testMetrics) ObserveRequest(
	ctx context.Context,
	f dhcpopt.Family,
	reqType string,
	respType string,
	dur time.Duration,
) {
	m.onObserveRequest(ctx, f, reqType, respType, dur)
}

// IncrementReplyCacheHits implements the [dhcpsvc.Metrics] interface for
// *testMetrics.
func (m *testMetrics) IncrementReplyCacheHits(ctx context.Context, f dhcpopt.Family) {
	m.onIncrementReplyCacheHits(ctx, f)
}

// newMsg6 returns a DHCPv6 message of type typ received on testIface from the
// client with duid.  It carries an IA_NA for each of iaids.
func newMsg6(typ layers.DHCPv6MsgType, duid []byte, iaids ...uint32) (m *dhcpmsg.Message6) {
	m = dhcpmsg.NewMessage6(typ, 0x123456, testLocal6, testRemote6)
	m.IfaceName = testIface

	if duid != nil {
		m.Options.Set(dhcpopt.NewOpaque(dhcpopt.Code6ClientID, duid))
	}

	for _, id := range iaids {
		m.IANAs = append(m.IANAs, &dhcpopt.IANA{IAID: id})
	}

	return m
}

// withServerID sets the server identifier option with duid to m and returns
// it.
func withServerID(m *dhcpmsg.Message6, duid []byte) (res *dhcpmsg.Message6) {
	m.Options.Set(dhcpopt.NewOpaque(dhcpopt.Code6ServerID, duid))

	return m
}

// withAddr puts addr into the first IA_NA of m and returns it.
func withAddr(m *dhcpmsg.Message6, addr netip.Addr) (res *dhcpmsg.Message6) {
	m.IANAs[0].Addrs = append(m.IANAs[0].Addrs, &dhcpopt.IAAddr{Addr: addr})

	return m
}

// reply6 is a helper that passes req to d and returns the DHCPv6 client
// message reply.
func reply6(tb testing.TB, d dhcpsvc.Handler, req dhcpmsg.Packet6) (resp *dhcpmsg.Message6) {
	tb.Helper()

	got := handle(tb, d, testLocal6, req)
	require.NotNil(tb, got)

	return testutil.RequireTypeAssert[*dhcpmsg.Message6](tb, got)
}

// requireStatus is a helper that checks the status code option within opts.
func requireStatus(tb testing.TB, want uint16, st *dhcpopt.StatusCode) {
	tb.Helper()

	require.NotNil(tb, st)
	require.EqualValues(tb, want, st.Status)
}

// msgStatus returns the message-level status code of m, if any.
func msgStatus(m *dhcpmsg.Message6) (st *dhcpopt.StatusCode) {
	st, _ = m.Options.Get(dhcpopt.Code6StatusCode).(*dhcpopt.StatusCode)

	return st
}

// newMsg4 returns a DHCPv4 message of type typ broadcast by the client with
// testHWAddr on testIface.
func newMsg4(typ layers.DHCPMsgType) (m *dhcpmsg.Message4) {
	m = dhcpmsg.NewMessage4(testLocal4, testRemote4)
	m.IfaceName = testIface
	m.Op = layers.DHCPOpRequest
	m.HType = layers.LinkTypeEthernet
	m.XID = 0x12345678
	m.SetHWAddr(testHWAddr)
	m.SetMessageType(typ)

	return m
}

// reply4 is a helper that passes req to d and returns the reply.
func reply4(tb testing.TB, d dhcpsvc.Handler, req *dhcpmsg.Message4) (resp *dhcpmsg.Message4) {
	tb.Helper()

	got := handle(tb, d, testLocal4, req)
	require.NotNil(tb, got)

	return testutil.RequireTypeAssert[*dhcpmsg.Message4](tb, got)
}
