package dhcpmsg

import (
	"cmp"
	"fmt"
	"net/netip"
	"slices"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/gopacket/layers"
)

// Sizes of the DHCPv6 message headers, see RFC 8415 sections 8 and 9.
const (
	headerLen6      = 4
	relayHeaderLen6 = 34
)

// Packet6 is a DHCPv6 message, either a client-server message or a relay
// envelope.  It is implemented by *Message6 and *RelayMessage6.
type Packet6 interface {
	Message

	// MessageType returns the type of the message.
	MessageType() (typ layers.DHCPv6MsgType)

	// isPacket6 is a marker method.
	isPacket6()
}

// Message6 is a DHCPv6 client-server message.
type Message6 struct {
	// Options are the options of the message, excluding the identity
	// associations.
	Options dhcpopt.Options

	// Local is the address the message was received on or is sent from.
	Local netip.AddrPort

	// Remote is the address the message was received from or is sent to.
	Remote netip.AddrPort

	// IfaceName is the name of the network interface the message was received
	// on, if known.
	IfaceName string

	// IANAs are the IA_NA options in wire order.
	IANAs []*dhcpopt.IANA

	// IATAs are the IA_TA options in wire order.
	IATAs []*dhcpopt.IATA

	// IAPDs are the IA_PD options in wire order.
	IAPDs []*dhcpopt.IAPD

	// XID is the 24-bit transaction identifier.
	XID uint32

	// Type is the message type.
	Type layers.DHCPv6MsgType

	// Unicast is true if the message was received via unicast.
	Unicast bool
}

// NewMessage6 returns a new empty DHCPv6 message.
func NewMessage6(typ layers.DHCPv6MsgType, xid uint32, local, remote netip.AddrPort) (m *Message6) {
	return &Message6{
		Options: dhcpopt.Options{},
		Local:   local,
		Remote:  remote,
		XID:     xid & 0xff_ffff,
		Type:    typ,
	}
}

// NewReply6 returns a reply to req of type typ.
func NewReply6(req *Message6, typ layers.DHCPv6MsgType) (resp *Message6) {
	resp = NewMessage6(typ, req.XID, req.Local, req.Remote)
	resp.IfaceName = req.IfaceName

	return resp
}

// type check
var _ Packet6 = (*Message6)(nil)

// MessageType implements the [Packet6] interface for *Message6.
func (m *Message6) MessageType() (typ layers.DHCPv6MsgType) { return m.Type }

// isPacket6 implements the [Packet6] interface for *Message6.
func (*Message6) isPacket6() {}

// Family implements the [Message] interface for *Message6.
func (*Message6) Family() (f dhcpopt.Family) { return dhcpopt.FamilyV6 }

// Encode implements the [Message] interface for *Message6.  Options are
// written in ascending order of codes with the identity associations in their
// original order.
func (m *Message6) Encode() (b []byte) {
	b = []byte{byte(m.Type), byte(m.XID >> 16), byte(m.XID >> 8), byte(m.XID)}

	opts := make([]dhcpopt.Option, 0, len(m.Options)+len(m.IANAs)+len(m.IATAs)+len(m.IAPDs))
	for _, c := range m.Options.Codes() {
		opts = append(opts, m.Options[c])
	}

	for _, ia := range m.IANAs {
		opts = append(opts, ia)
	}

	for _, ia := range m.IATAs {
		opts = append(opts, ia)
	}

	for _, ia := range m.IAPDs {
		opts = append(opts, ia)
	}

	return appendSorted6(b, opts)
}

// appendSorted6 appends opts to b in ascending order of codes, keeping the
// order of options with equal codes.
func appendSorted6(b []byte, opts []dhcpopt.Option) (res []byte) {
	slices.SortStableFunc(opts, func(a, b dhcpopt.Option) (res int) {
		return cmp.Compare(a.Code(), b.Code())
	})

	res = b
	for _, opt := range opts {
		res = dhcpopt.AppendOption6(res, opt)
	}

	return res
}

// ClientID returns the client DUID or nil if there is none.
func (m *Message6) ClientID() (duid []byte) {
	duid, _ = m.Options.Opaque(dhcpopt.Code6ClientID)

	return duid
}

// ServerID returns the server DUID or nil if there is none.
func (m *Message6) ServerID() (duid []byte) {
	duid, _ = m.Options.Opaque(dhcpopt.Code6ServerID)

	return duid
}

// HasIA returns true if m carries any identity association.
func (m *Message6) HasIA() (ok bool) {
	return len(m.IANAs)+len(m.IATAs)+len(m.IAPDs) > 0
}

// RequestedCodes returns the codes from the option request option.
func (m *Message6) RequestedCodes() (codes []dhcpopt.Code) {
	oro, ok := m.Options.Get(dhcpopt.Code6ORO).(*dhcpopt.Uint16List)
	if !ok {
		return nil
	}

	return oro.Codes()
}

// RelayMessage6 is a DHCPv6 relay-forward or relay-reply envelope.
type RelayMessage6 struct {
	// Options are the options of the envelope, excluding the relay message
	// option.
	Options dhcpopt.Options

	// Inner is the relayed message.
	Inner Packet6

	// Local is the address the message was received on or is sent from.
	Local netip.AddrPort

	// Remote is the address the message was received from or is sent to.
	Remote netip.AddrPort

	// IfaceName is the name of the network interface the message was received
	// on, if known.
	IfaceName string

	// LinkAddr is the link-address field.
	LinkAddr netip.Addr

	// PeerAddr is the peer-address field.
	PeerAddr netip.Addr

	// Type is either [layers.DHCPv6MsgTypeRelayForward] or
	// [layers.DHCPv6MsgTypeRelayReply].
	Type layers.DHCPv6MsgType

	// HopCount is the number of relay agents that have relayed the message.
	HopCount uint8
}

// type check
var _ Packet6 = (*RelayMessage6)(nil)

// MessageType implements the [Packet6] interface for *RelayMessage6.
func (m *RelayMessage6) MessageType() (typ layers.DHCPv6MsgType) { return m.Type }

// isPacket6 implements the [Packet6] interface for *RelayMessage6.
func (*RelayMessage6) isPacket6() {}

// Family implements the [Message] interface for *RelayMessage6.
func (*RelayMessage6) Family() (f dhcpopt.Family) { return dhcpopt.FamilyV6 }

// Encode implements the [Message] interface for *RelayMessage6.
func (m *RelayMessage6) Encode() (b []byte) {
	b = make([]byte, 0, relayHeaderLen6)
	b = append(b, byte(m.Type), m.HopCount)
	link, peer := m.LinkAddr.As16(), m.PeerAddr.As16()
	b = append(b, link[:]...)
	b = append(b, peer[:]...)

	opts := make([]dhcpopt.Option, 0, len(m.Options)+1)
	for _, c := range m.Options.Codes() {
		opts = append(opts, m.Options[c])
	}

	if m.Inner != nil {
		opts = append(opts, dhcpopt.NewOpaque(dhcpopt.Code6RelayMessage, m.Inner.Encode()))
	}

	return appendSorted6(b, opts)
}

// isRelay returns true if typ is a relay envelope type.
func isRelay(typ layers.DHCPv6MsgType) (ok bool) {
	return typ == layers.DHCPv6MsgTypeRelayForward || typ == layers.DHCPv6MsgTypeRelayReply
}

// Decode6 decodes a DHCPv6 message from b.  The endpoints of a relayed message
// are synthesized from the envelope: the link-address becomes the local
// address and the peer-address becomes the remote one.  b must not be modified
// while the result is in use.
func Decode6(b []byte, local, remote netip.AddrPort) (p Packet6, err error) {
	defer func() { err = errors.Annotate(err, "decoding dhcpv6: %w") }()

	return decode6(b, local, remote, 0)
}

// decode6 decodes a message nested into depth relay envelopes.
func decode6(b []byte, local, remote netip.AddrPort, depth int) (p Packet6, err error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("%w: empty", ErrTruncated)
	}

	typ := layers.DHCPv6MsgType(b[0])
	if isRelay(typ) {
		return decodeRelay6(b, local, remote, depth)
	}

	if len(b) < headerLen6 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(b))
	}

	m := NewMessage6(typ, uint32(b[1])<<16|uint32(b[2])<<8|uint32(b[3]), local, remote)
	for _, opt := range dhcpopt.DecodeList6(b[headerLen6:]) {
		switch opt := opt.(type) {
		case *dhcpopt.IANA:
			m.IANAs = append(m.IANAs, opt)
		case *dhcpopt.IATA:
			m.IATAs = append(m.IATAs, opt)
		case *dhcpopt.IAPD:
			m.IAPDs = append(m.IAPDs, opt)
		default:
			m.Options.Set(opt)
		}
	}

	return m, nil
}

// decodeRelay6 decodes a relay envelope nested into depth other envelopes.
func decodeRelay6(b []byte, local, remote netip.AddrPort, depth int) (p Packet6, err error) {
	if depth >= MaxRelayDepth {
		return nil, fmt.Errorf("%w: more than %d envelopes", ErrRelayDepth, MaxRelayDepth)
	}

	if len(b) < relayHeaderLen6 {
		return nil, fmt.Errorf("%w: relay header of %d bytes", ErrTruncated, len(b))
	}

	m := &RelayMessage6{
		Options:  dhcpopt.Options{},
		Local:    local,
		Remote:   remote,
		Type:     layers.DHCPv6MsgType(b[0]),
		HopCount: b[1],
		LinkAddr: netip.AddrFrom16([16]byte(b[2:18])),
		PeerAddr: netip.AddrFrom16([16]byte(b[18:34])),
	}

	var payload []byte
	hasPayload := false
	for _, opt := range dhcpopt.DecodeList6(b[relayHeaderLen6:]) {
		if opt.Code() == dhcpopt.Code6RelayMessage {
			payload, hasPayload = opt.(*dhcpopt.Opaque).Value, true

			continue
		}

		m.Options.Set(opt)
	}

	if !hasPayload {
		return nil, ErrNoRelayMessage
	}

	innerLocal := netip.AddrPortFrom(m.LinkAddr, local.Port())
	innerRemote := netip.AddrPortFrom(m.PeerAddr, ClientPort6)
	m.Inner, err = decode6(payload, innerLocal, innerRemote, depth+1)
	if err != nil {
		return nil, fmt.Errorf("relay at depth %d: %w", depth, err)
	}

	return m, nil
}

// Innermost returns the client-server message wrapped into p and the relay
// envelopes around it, outermost first.
func Innermost(p Packet6) (msg *Message6, relays []*RelayMessage6) {
	for {
		switch v := p.(type) {
		case *Message6:
			return v, relays
		case *RelayMessage6:
			relays = append(relays, v)
			p = v.Inner
		default:
			return nil, relays
		}
	}
}
