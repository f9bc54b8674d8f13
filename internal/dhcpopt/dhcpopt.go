// Package dhcpopt contains the DHCPv4 and DHCPv6 option codec and the option
// expressions used to match options of inbound messages.
package dhcpopt

import (
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
)

// Code is a DHCP option code.  DHCPv4 codes always fit into a single byte.
type Code uint16

// Family is the protocol family an option or a message belongs to.
type Family uint8

// Family values.
const (
	FamilyV4 Family = 4
	FamilyV6 Family = 6
)

// String implements the [fmt.Stringer] interface for Family.
func (f Family) String() (s string) {
	switch f {
	case FamilyV4:
		return "ipv4"
	case FamilyV6:
		return "ipv6"
	default:
		return fmt.Sprintf("!bad_family_%d", uint8(f))
	}
}

// Option is a single typed DHCP option.
type Option interface {
	// Code returns the option code.
	Code() (c Code)

	// Len returns the length of the payload, excluding the code and length
	// fields.  It must equal the number of bytes appended by Append.
	Len() (n int)

	// Append appends the payload of the option to b and returns the result.
	Append(b []byte) (res []byte)
}

// Matcher is an [Option] that can be compared with an [Expression].
type Matcher interface {
	Option

	// Match returns true if the option satisfies e.  e must not be nil and
	// its code must be equal to the option's one.
	Match(e *Expression) (ok bool)
}

const (
	// ErrTruncated is returned when the data is shorter than the declared
	// length.
	ErrTruncated errors.Error = "truncated data"

	// ErrBadLength is returned when the payload length is not valid for the
	// option kind.
	ErrBadLength errors.Error = "bad payload length"

	// ErrUnknownCode is returned when an option code has no known definition.
	ErrUnknownCode errors.Error = "unknown option code"

	// ErrCompressed is returned when a domain name in an option uses DNS
	// message compression.
	ErrCompressed errors.Error = "compressed domain name"
)

// newLenError returns an error about a bad payload length of an option.
func newLenError(c Code, got int) (err error) {
	return fmt.Errorf("option %d: %w: %d", c, ErrBadLength, got)
}
