package dhcpmsg

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/gopacket/layers"
)

// Sizes of the DHCPv4 message parts, see RFC 2131 section 2.
const (
	headerLen4   = 236
	cookieLen    = 4
	minLen4      = headerLen4 + cookieLen
	minEncoded4  = 300
	chaddrLen    = 16
	snameLen     = 64
	fileLen      = 128
	chaddrOffset = 28
)

// magicCookie is the DHCP magic cookie, see RFC 1497.
var magicCookie = [cookieLen]byte{0x63, 0x82, 0x53, 0x63}

// FlagBroadcast is the broadcast bit of the flags field.
const FlagBroadcast uint16 = 0x8000

// Message4 is a DHCPv4 message.
type Message4 struct {
	// Options are the options of the message, keyed by code.
	Options dhcpopt.Options

	// Local is the address the message was received on or is sent from.
	Local netip.AddrPort

	// Remote is the address the message was received from or is sent to.
	Remote netip.AddrPort

	// IfaceName is the name of the network interface the message was received
	// on, if known.
	IfaceName string

	// ClientAddr is the ciaddr field.
	ClientAddr netip.Addr

	// YourAddr is the yiaddr field.
	YourAddr netip.Addr

	// ServerAddr is the siaddr field.
	ServerAddr netip.Addr

	// GatewayAddr is the giaddr field.
	GatewayAddr netip.Addr

	// XID is the transaction identifier.
	XID uint32

	// Secs is the number of seconds elapsed since the client began the
	// exchange.
	Secs uint16

	// Flags is the flags field.
	Flags uint16

	// CHAddr is the client hardware address field.
	CHAddr [chaddrLen]byte

	// SName is the server host name field.
	SName [snameLen]byte

	// File is the boot file name field.
	File [fileLen]byte

	// Op is the operation code.
	Op layers.DHCPOp

	// HType is the hardware address type.
	HType layers.LinkType

	// HLen is the hardware address length.
	HLen uint8

	// Hops is the number of relay hops.
	Hops uint8

	// Unicast is true if the message was received via unicast.
	Unicast bool
}

// type check
var _ Message = (*Message4)(nil)

// Family implements the [Message] interface for *Message4.
func (*Message4) Family() (f dhcpopt.Family) { return dhcpopt.FamilyV4 }

// NewMessage4 returns a new empty DHCPv4 message.
func NewMessage4(local, remote netip.AddrPort) (m *Message4) {
	return &Message4{
		Options:     dhcpopt.Options{},
		Local:       local,
		Remote:      remote,
		ClientAddr:  netip.IPv4Unspecified(),
		YourAddr:    netip.IPv4Unspecified(),
		ServerAddr:  netip.IPv4Unspecified(),
		GatewayAddr: netip.IPv4Unspecified(),
	}
}

// NewReply4 returns a reply to req of type typ with the fields RFC 2131
// section 4.3.1 requires to be copied from the request.
func NewReply4(req *Message4, typ layers.DHCPMsgType) (resp *Message4) {
	resp = NewMessage4(req.Local, req.Remote)
	resp.IfaceName = req.IfaceName
	resp.Op = layers.DHCPOpReply
	resp.HType = req.HType
	resp.HLen = req.HLen
	resp.XID = req.XID
	resp.Flags = req.Flags
	resp.GatewayAddr = req.GatewayAddr
	resp.CHAddr = req.CHAddr
	resp.SetMessageType(typ)

	return resp
}

// MessageType returns the type of the message from the message type option.
// It returns [layers.DHCPMsgTypeUnspecified] if there is no such option.
func (m *Message4) MessageType() (typ layers.DHCPMsgType) {
	opt, ok := m.Options.Get(dhcpopt.Code4MessageType).(*dhcpopt.Uint8)
	if !ok {
		return layers.DHCPMsgTypeUnspecified
	}

	return layers.DHCPMsgType(opt.Value)
}

// SetMessageType sets the message type option.
func (m *Message4) SetMessageType(typ layers.DHCPMsgType) {
	m.Options.Set(dhcpopt.NewUint8(dhcpopt.Code4MessageType, uint8(typ)))
}

// HWAddr returns the client hardware address limited by the hlen field.
func (m *Message4) HWAddr() (mac net.HardwareAddr) {
	l := min(int(m.HLen), chaddrLen)

	return net.HardwareAddr(m.CHAddr[:l])
}

// SetHWAddr sets the client hardware address fields for an Ethernet address.
func (m *Message4) SetHWAddr(mac net.HardwareAddr) {
	m.HType = layers.LinkTypeEthernet
	m.HLen = uint8(copy(m.CHAddr[:], mac))
}

// IsBroadcast returns true if the client has set the broadcast flag.
func (m *Message4) IsBroadcast() (ok bool) { return m.Flags&FlagBroadcast != 0 }

// IsRelayed returns true if the message has passed through a relay agent.
func (m *Message4) IsRelayed() (ok bool) {
	return m.GatewayAddr.IsValid() && !m.GatewayAddr.IsUnspecified()
}

// IP returns the address from the IP option with code c or an empty address.
func (m *Message4) IP(c dhcpopt.Code) (ip netip.Addr) {
	opt, ok := m.Options.Get(c).(*dhcpopt.IP)
	if !ok {
		return netip.Addr{}
	}

	return opt.Value
}

// Decode4 decodes a DHCPv4 message from b.  b is not retained.
func Decode4(b []byte, local, remote netip.AddrPort) (m *Message4, err error) {
	defer func() { err = errors.Annotate(err, "decoding dhcpv4: %w") }()

	if len(b) < minLen4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(b))
	}

	if [cookieLen]byte(b[headerLen4:minLen4]) != magicCookie {
		return nil, ErrBadCookie
	}

	be := binary.BigEndian
	m = &Message4{
		Local:       local,
		Remote:      remote,
		Op:          layers.DHCPOp(b[0]),
		HType:       layers.LinkType(b[1]),
		HLen:        b[2],
		Hops:        b[3],
		XID:         be.Uint32(b[4:]),
		Secs:        be.Uint16(b[8:]),
		Flags:       be.Uint16(b[10:]),
		ClientAddr:  netip.AddrFrom4([4]byte(b[12:16])),
		YourAddr:    netip.AddrFrom4([4]byte(b[16:20])),
		ServerAddr:  netip.AddrFrom4([4]byte(b[20:24])),
		GatewayAddr: netip.AddrFrom4([4]byte(b[24:28])),
		CHAddr:      [chaddrLen]byte(b[chaddrOffset : chaddrOffset+chaddrLen]),
		SName:       [snameLen]byte(b[44 : 44+snameLen]),
		File:        [fileLen]byte(b[108 : 108+fileLen]),
		Options:     dhcpopt.DecodeList4(b[minLen4:]),
	}

	return m, nil
}

// Encode implements the [Message] interface for *Message4.  The message type
// option is written first, the others in ascending order of codes, and the result is
// padded to the BOOTP minimum.
func (m *Message4) Encode() (b []byte) {
	b = make([]byte, minLen4, 576)

	be := binary.BigEndian
	b[0], b[1], b[2], b[3] = byte(m.Op), byte(m.HType), m.HLen, m.Hops
	be.PutUint32(b[4:], m.XID)
	be.PutUint16(b[8:], m.Secs)
	be.PutUint16(b[10:], m.Flags)
	putAddr4(b[12:], m.ClientAddr)
	putAddr4(b[16:], m.YourAddr)
	putAddr4(b[20:], m.ServerAddr)
	putAddr4(b[24:], m.GatewayAddr)
	copy(b[chaddrOffset:], m.CHAddr[:])
	copy(b[44:], m.SName[:])
	copy(b[108:], m.File[:])
	copy(b[headerLen4:], magicCookie[:])

	if opt := m.Options.Get(dhcpopt.Code4MessageType); opt != nil {
		b = dhcpopt.AppendOption4(b, opt)
	}

	for _, c := range m.Options.Codes() {
		if c != dhcpopt.Code4MessageType {
			b = dhcpopt.AppendOption4(b, m.Options[c])
		}
	}

	b = append(b, byte(dhcpopt.Code4End))
	if len(b) < minEncoded4 {
		b = append(b, make([]byte, minEncoded4-len(b))...)
	}

	return b
}

// putAddr4 writes an IPv4 address to b.  Invalid addresses are written as
// zeros.
func putAddr4(b []byte, ip netip.Addr) {
	if ip.Is4() {
		a := ip.As4()
		copy(b, a[:])
	}
}
