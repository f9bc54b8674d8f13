package dhcpmsg_test

import (
	"encoding/binary"
	"net"
	"net/netip"
	"testing"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpmsg"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Common endpoints for tests.
var (
	testLocal4  = netip.MustParseAddrPort("192.0.2.1:67")
	testRemote4 = netip.MustParseAddrPort("0.0.0.0:68")
)

// testMAC is the common hardware address for tests.
var testMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}

// newTestMessage4 returns a DHCPREQUEST with a few options set.
func newTestMessage4() (m *dhcpmsg.Message4) {
	m = dhcpmsg.NewMessage4(testLocal4, testRemote4)
	m.Op = layers.DHCPOpRequest
	m.SetHWAddr(testMAC)
	m.XID = 0xdeadbeef
	m.Secs = 3
	m.Flags = dhcpmsg.FlagBroadcast
	m.ClientAddr = netip.MustParseAddr("192.0.2.10")
	m.SetMessageType(layers.DHCPMsgTypeRequest)
	m.Options.Set(dhcpopt.NewIP(dhcpopt.Code4RequestedIP, netip.MustParseAddr("192.0.2.10")))
	m.Options.Set(dhcpopt.NewUint8List(dhcpopt.Code4ParamRequestList, 1, 3, 6))
	m.Options.Set(dhcpopt.NewString(dhcpopt.Code4HostName, "printer"))

	return m
}

func TestMessage4_roundTrip(t *testing.T) {
	t.Parallel()

	m := newTestMessage4()
	data := m.Encode()
	require.GreaterOrEqual(t, len(data), 300)

	got, err := dhcpmsg.Decode4(data, testLocal4, testRemote4)
	require.NoError(t, err)

	assert.Equal(t, m, got)
	assert.Equal(t, layers.DHCPMsgTypeRequest, got.MessageType())
	assert.Equal(t, testMAC, got.HWAddr())
	assert.True(t, got.IsBroadcast())
	assert.False(t, got.IsRelayed())
}

func TestMessage4_Encode_messageTypeFirst(t *testing.T) {
	t.Parallel()

	data := newTestMessage4().Encode()

	// Option 53 right after the cookie.
	assert.Equal(t, []byte{53, 1, byte(layers.DHCPMsgTypeRequest)}, data[240:243])
}

func TestDecode4_errors(t *testing.T) {
	t.Parallel()

	valid := newTestMessage4().Encode()

	badCookie := append([]byte{}, valid...)
	badCookie[236] = 0

	testCases := []struct {
		wantErr error
		name    string
		data    []byte
	}{{
		wantErr: dhcpmsg.ErrTruncated,
		name:    "truncated",
		data:    valid[:239],
	}, {
		wantErr: dhcpmsg.ErrBadCookie,
		name:    "bad_cookie",
		data:    badCookie,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := dhcpmsg.Decode4(tc.data, testLocal4, testRemote4)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestDecode4_insomniacslk(t *testing.T) {
	t.Parallel()

	disc, err := dhcpv4.NewDiscovery(testMAC)
	require.NoError(t, err)

	m, err := dhcpmsg.Decode4(disc.ToBytes(), testLocal4, testRemote4)
	require.NoError(t, err)

	assert.Equal(t, layers.DHCPMsgTypeDiscover, m.MessageType())
	assert.Equal(t, binary.BigEndian.Uint32(disc.TransactionID[:]), m.XID)
	assert.Equal(t, testMAC, m.HWAddr())
	assert.True(t, m.Options.Has(dhcpopt.Code4ParamRequestList))
}

func TestMessage4_Encode_insomniacslk(t *testing.T) {
	t.Parallel()

	m := newTestMessage4()
	m.Op = layers.DHCPOpReply
	m.YourAddr = netip.MustParseAddr("192.0.2.10")
	m.SetMessageType(layers.DHCPMsgTypeAck)
	m.Options.Set(dhcpopt.NewUint32(dhcpopt.Code4LeaseTime, 3600))

	parsed, err := dhcpv4.FromBytes(m.Encode())
	require.NoError(t, err)

	assert.Equal(t, dhcpv4.MessageTypeAck, parsed.MessageType())
	assert.Equal(t, net.IP{192, 0, 2, 10}, parsed.YourIPAddr.To4())
	assert.Equal(t, testMAC, parsed.ClientHWAddr)
}

func TestMessage4_Encode_gopacket(t *testing.T) {
	t.Parallel()

	m := newTestMessage4()

	pkt := &layers.DHCPv4{}
	err := pkt.DecodeFromBytes(m.Encode(), gopacket.NilDecodeFeedback)
	require.NoError(t, err)

	assert.Equal(t, layers.DHCPOpRequest, pkt.Operation)
	assert.Equal(t, m.XID, pkt.Xid)
	assert.Equal(t, testMAC, pkt.ClientHWAddr)

	var msgType layers.DHCPMsgType
	for _, o := range pkt.Options {
		if o.Type == layers.DHCPOptMessageType {
			require.Len(t, o.Data, 1)

			msgType = layers.DHCPMsgType(o.Data[0])
		}
	}

	assert.Equal(t, layers.DHCPMsgTypeRequest, msgType)
}
