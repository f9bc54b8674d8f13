// Package dhcpmsg contains the in-memory model of DHCPv4 and DHCPv6 messages
// and their wire codec.
package dhcpmsg

import (
	"fmt"
	"net/netip"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/errors"
)

// Well-known DHCP ports.
const (
	ServerPort4 uint16 = 67
	ClientPort4 uint16 = 68
	ClientPort6 uint16 = 546
	ServerPort6 uint16 = 547
)

// MaxRelayDepth is the maximum number of relay envelopes around a DHCPv6
// message, see HOP_COUNT_LIMIT in RFC 8415 section 7.6.
const MaxRelayDepth = 32

const (
	// ErrTruncated is returned when a message is shorter than its fixed
	// header.
	ErrTruncated errors.Error = "truncated message"

	// ErrBadCookie is returned when a DHCPv4 message has no valid magic
	// cookie.
	ErrBadCookie errors.Error = "bad magic cookie"

	// ErrNoRelayMessage is returned when a DHCPv6 relay envelope has no relay
	// message option.
	ErrNoRelayMessage errors.Error = "no relay message option"

	// ErrRelayDepth is returned when DHCPv6 relay envelopes are nested deeper
	// than [MaxRelayDepth].
	ErrRelayDepth errors.Error = "relay nesting too deep"
)

// Message is a DHCP message of either family.  It is implemented by
// *Message4, *Message6, and *RelayMessage6.
type Message interface {
	// Family returns the protocol family of the message.
	Family() (f dhcpopt.Family)

	// Encode returns the wire representation of the message.
	Encode() (b []byte)
}

// Decode decodes a message of family f from b.
func Decode(f dhcpopt.Family, b []byte, local, remote netip.AddrPort) (m Message, err error) {
	switch f {
	case dhcpopt.FamilyV4:
		return Decode4(b, local, remote)
	case dhcpopt.FamilyV6:
		return Decode6(b, local, remote)
	default:
		return nil, fmt.Errorf("family: %w: %d", errors.ErrBadEnumValue, f)
	}
}
