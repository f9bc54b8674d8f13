package dhcpopt

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

// Uint8 is an option with a single-byte unsigned value.
type Uint8 struct {
	code  Code
	Value uint8
}

// NewUint8 returns a new *Uint8 option.
func NewUint8(c Code, v uint8) (o *Uint8) { return &Uint8{code: c, Value: v} }

// type check
var _ Matcher = (*Uint8)(nil)

// Code implements the [Option] interface for *Uint8.
func (o *Uint8) Code() (c Code) { return o.code }

// Len implements the [Option] interface for *Uint8.
func (o *Uint8) Len() (n int) { return 1 }

// Append implements the [Option] interface for *Uint8.
func (o *Uint8) Append(b []byte) (res []byte) { return append(b, o.Value) }

// Match implements the [Matcher] interface for *Uint8.
func (o *Uint8) Match(e *Expression) (ok bool) { return matchUint(uint64(o.Value), e) }

// Uint16 is an option with a two-byte unsigned value.
type Uint16 struct {
	code  Code
	Value uint16
}

// NewUint16 returns a new *Uint16 option.
func NewUint16(c Code, v uint16) (o *Uint16) { return &Uint16{code: c, Value: v} }

// type check
var _ Matcher = (*Uint16)(nil)

// Code implements the [Option] interface for *Uint16.
func (o *Uint16) Code() (c Code) { return o.code }

// Len implements the [Option] interface for *Uint16.
func (o *Uint16) Len() (n int) { return 2 }

// Append implements the [Option] interface for *Uint16.
func (o *Uint16) Append(b []byte) (res []byte) { return binary.BigEndian.AppendUint16(b, o.Value) }

// Match implements the [Matcher] interface for *Uint16.
func (o *Uint16) Match(e *Expression) (ok bool) { return matchUint(uint64(o.Value), e) }

// Uint32 is an option with a four-byte unsigned value.
type Uint32 struct {
	code  Code
	Value uint32
}

// NewUint32 returns a new *Uint32 option.
func NewUint32(c Code, v uint32) (o *Uint32) { return &Uint32{code: c, Value: v} }

// type check
var _ Matcher = (*Uint32)(nil)

// Code implements the [Option] interface for *Uint32.
func (o *Uint32) Code() (c Code) { return o.code }

// Len implements the [Option] interface for *Uint32.
func (o *Uint32) Len() (n int) { return 4 }

// Append implements the [Option] interface for *Uint32.
func (o *Uint32) Append(b []byte) (res []byte) { return binary.BigEndian.AppendUint32(b, o.Value) }

// Match implements the [Matcher] interface for *Uint32.
func (o *Uint32) Match(e *Expression) (ok bool) { return matchUint(uint64(o.Value), e) }

// String is an option with a text value.
type String struct {
	code  Code
	Value string
}

// NewString returns a new *String option.
func NewString(c Code, v string) (o *String) { return &String{code: c, Value: v} }

// type check
var _ Matcher = (*String)(nil)

// Code implements the [Option] interface for *String.
func (o *String) Code() (c Code) { return o.code }

// Len implements the [Option] interface for *String.
func (o *String) Len() (n int) { return len(o.Value) }

// Append implements the [Option] interface for *String.
func (o *String) Append(b []byte) (res []byte) { return append(b, o.Value...) }

// Match implements the [Matcher] interface for *String.
func (o *String) Match(e *Expression) (ok bool) { return matchString(o.Value, e) }

// Opaque is an option with an uninterpreted value.  Expressions compare its
// bytes with either the ASCII or the "0x"-prefixed hex form of the operand.
type Opaque struct {
	code  Code
	Value []byte
}

// NewOpaque returns a new *Opaque option.  v is not cloned.
func NewOpaque(c Code, v []byte) (o *Opaque) { return &Opaque{code: c, Value: v} }

// type check
var _ Matcher = (*Opaque)(nil)

// Code implements the [Option] interface for *Opaque.
func (o *Opaque) Code() (c Code) { return o.code }

// Len implements the [Option] interface for *Opaque.
func (o *Opaque) Len() (n int) { return len(o.Value) }

// Append implements the [Option] interface for *Opaque.
func (o *Opaque) Append(b []byte) (res []byte) { return append(b, o.Value...) }

// Match implements the [Matcher] interface for *Opaque.
func (o *Opaque) Match(e *Expression) (ok bool) { return matchBytes(o.Value, e) }

// IP is an option with a single IP address.  The address family defines the
// length.
type IP struct {
	code  Code
	Value netip.Addr
}

// NewIP returns a new *IP option.
func NewIP(c Code, v netip.Addr) (o *IP) { return &IP{code: c, Value: v} }

// type check
var _ Matcher = (*IP)(nil)

// Code implements the [Option] interface for *IP.
func (o *IP) Code() (c Code) { return o.code }

// Len implements the [Option] interface for *IP.
func (o *IP) Len() (n int) { return o.Value.BitLen() / 8 }

// Append implements the [Option] interface for *IP.
func (o *IP) Append(b []byte) (res []byte) { return append(b, o.Value.AsSlice()...) }

// Match implements the [Matcher] interface for *IP.
func (o *IP) Match(e *Expression) (ok bool) {
	if len(e.ips) != 1 {
		return false
	}

	switch e.Op {
	case OpEquals:
		return o.Value == e.ips[0]
	case OpLessThan:
		return o.Value.Less(e.ips[0])
	case OpLessOrEqual:
		return o.Value.Compare(e.ips[0]) <= 0
	case OpGreaterThan:
		return e.ips[0].Less(o.Value)
	case OpGreaterOrEqual:
		return o.Value.Compare(e.ips[0]) >= 0
	default:
		return false
	}
}

// IPList is an option with a list of IP addresses of the same family.
type IPList struct {
	code  Code
	Value []netip.Addr
}

// NewIPList returns a new *IPList option.
func NewIPList(c Code, v ...netip.Addr) (o *IPList) { return &IPList{code: c, Value: v} }

// type check
var _ Matcher = (*IPList)(nil)

// Code implements the [Option] interface for *IPList.
func (o *IPList) Code() (c Code) { return o.code }

// Len implements the [Option] interface for *IPList.
func (o *IPList) Len() (n int) {
	for _, ip := range o.Value {
		n += ip.BitLen() / 8
	}

	return n
}

// Append implements the [Option] interface for *IPList.
func (o *IPList) Append(b []byte) (res []byte) {
	res = b
	for _, ip := range o.Value {
		res = append(res, ip.AsSlice()...)
	}

	return res
}

// Match implements the [Matcher] interface for *IPList.
func (o *IPList) Match(e *Expression) (ok bool) { return matchList(o.Value, e.ips, e) }

// Uint8List is an option with a list of bytes, such as the DHCPv4 parameter
// request list.
type Uint8List struct {
	code  Code
	Value []uint8
}

// NewUint8List returns a new *Uint8List option.
func NewUint8List(c Code, v ...uint8) (o *Uint8List) { return &Uint8List{code: c, Value: v} }

// type check
var _ Matcher = (*Uint8List)(nil)

// Code implements the [Option] interface for *Uint8List.
func (o *Uint8List) Code() (c Code) { return o.code }

// Len implements the [Option] interface for *Uint8List.
func (o *Uint8List) Len() (n int) { return len(o.Value) }

// Append implements the [Option] interface for *Uint8List.
func (o *Uint8List) Append(b []byte) (res []byte) { return append(b, o.Value...) }

// Match implements the [Matcher] interface for *Uint8List.
func (o *Uint8List) Match(e *Expression) (ok bool) {
	vals := make([]uint64, 0, len(o.Value))
	for _, v := range o.Value {
		vals = append(vals, uint64(v))
	}

	return matchList(vals, e.nums, e)
}

// Codes returns the list elements as option codes.
func (o *Uint8List) Codes() (codes []Code) {
	codes = make([]Code, 0, len(o.Value))
	for _, v := range o.Value {
		codes = append(codes, Code(v))
	}

	return codes
}

// Uint16List is an option with a list of two-byte values, such as the DHCPv6
// option request option.
type Uint16List struct {
	code  Code
	Value []uint16
}

// NewUint16List returns a new *Uint16List option.
func NewUint16List(c Code, v ...uint16) (o *Uint16List) { return &Uint16List{code: c, Value: v} }

// type check
var _ Matcher = (*Uint16List)(nil)

// Code implements the [Option] interface for *Uint16List.
func (o *Uint16List) Code() (c Code) { return o.code }

// Len implements the [Option] interface for *Uint16List.
func (o *Uint16List) Len() (n int) { return 2 * len(o.Value) }

// Append implements the [Option] interface for *Uint16List.
func (o *Uint16List) Append(b []byte) (res []byte) {
	res = b
	for _, v := range o.Value {
		res = binary.BigEndian.AppendUint16(res, v)
	}

	return res
}

// Match implements the [Matcher] interface for *Uint16List.
func (o *Uint16List) Match(e *Expression) (ok bool) {
	vals := make([]uint64, 0, len(o.Value))
	for _, v := range o.Value {
		vals = append(vals, uint64(v))
	}

	return matchList(vals, e.nums, e)
}

// Codes returns the list elements as option codes.
func (o *Uint16List) Codes() (codes []Code) {
	codes = make([]Code, 0, len(o.Value))
	for _, v := range o.Value {
		codes = append(codes, Code(v))
	}

	return codes
}

// maxDomainNameLen is the maximum length of a domain name in wire format.
const maxDomainNameLen = 255

// packName appends the uncompressed wire form of name to b.  Names that can't
// be represented in the wire format are skipped.
func packName(b []byte, name string) (res []byte) {
	buf := make([]byte, maxDomainNameLen+1)
	n, err := dns.PackDomainName(dns.Fqdn(name), buf, 0, nil, false)
	if err != nil {
		return b
	}

	return append(b, buf[:n]...)
}

// validateWireName returns an error if name can't be represented in the DNS
// wire format.
func validateWireName(name string) (err error) {
	buf := make([]byte, maxDomainNameLen+1)
	_, err = dns.PackDomainName(dns.Fqdn(name), buf, 0, nil, false)
	if err != nil {
		return fmt.Errorf("domain name %q: %w", name, err)
	}

	return nil
}

// nameLen returns the length of the uncompressed wire form of name.
func nameLen(name string) (n int) {
	return len(packName(nil, name))
}

// compressionMask is the mask of the label length byte set for compression
// pointers and reserved label types, see RFC 1035 section 4.1.4.
const compressionMask byte = 0xC0

// checkUncompressed returns an error if data contains a compression pointer
// or a reserved label type.
func checkUncompressed(data []byte) (err error) {
	for off := 0; off < len(data); {
		l := data[off]
		if l&compressionMask != 0 {
			return fmt.Errorf("label at %d: %w", off, ErrCompressed)
		}

		off += 1 + int(l)
	}

	return nil
}

// unpackNames decodes a sequence of uncompressed wire-format domain names from
// data.
func unpackNames(c Code, data []byte) (names []string, err error) {
	err = checkUncompressed(data)
	if err != nil {
		return nil, fmt.Errorf("option %d: %w", c, err)
	}

	for off := 0; off < len(data); {
		var name string
		name, off, err = dns.UnpackDomainName(data, off)
		if err != nil {
			return nil, fmt.Errorf("option %d: unpacking domain name at %d: %w", c, off, err)
		}

		names = append(names, strings.TrimSuffix(name, "."))
	}

	return names, nil
}

// DomainName is an option with a single domain name in DNS wire format.  The
// value is stored without the trailing dot.
type DomainName struct {
	code  Code
	Value string
}

// NewDomainName returns a new *DomainName option.  It returns an error if
// name can't be encoded.
func NewDomainName(c Code, name string) (o *DomainName, err error) {
	name = strings.TrimSuffix(name, ".")
	err = validateWireName(name)
	if err != nil {
		return nil, err
	}

	return &DomainName{code: c, Value: name}, nil
}

// type check
var _ Matcher = (*DomainName)(nil)

// Code implements the [Option] interface for *DomainName.
func (o *DomainName) Code() (c Code) { return o.code }

// Len implements the [Option] interface for *DomainName.
func (o *DomainName) Len() (n int) { return nameLen(o.Value) }

// Append implements the [Option] interface for *DomainName.
func (o *DomainName) Append(b []byte) (res []byte) { return packName(b, o.Value) }

// Match implements the [Matcher] interface for *DomainName.
func (o *DomainName) Match(e *Expression) (ok bool) { return matchString(o.Value, e) }

// DomainNameList is an option with a list of domain names in DNS wire format.
type DomainNameList struct {
	code  Code
	Value []string
}

// NewDomainNameList returns a new *DomainNameList option.  It returns an error
// if any of names can't be encoded.
func NewDomainNameList(c Code, names ...string) (o *DomainNameList, err error) {
	o = &DomainNameList{code: c, Value: make([]string, 0, len(names))}
	for i, n := range names {
		n = strings.TrimSuffix(n, ".")
		err = validateWireName(n)
		if err != nil {
			return nil, fmt.Errorf("at index %d: %w", i, err)
		}

		o.Value = append(o.Value, n)
	}

	return o, nil
}

// type check
var _ Matcher = (*DomainNameList)(nil)

// Code implements the [Option] interface for *DomainNameList.
func (o *DomainNameList) Code() (c Code) { return o.code }

// Len implements the [Option] interface for *DomainNameList.
func (o *DomainNameList) Len() (n int) {
	for _, name := range o.Value {
		n += nameLen(name)
	}

	return n
}

// Append implements the [Option] interface for *DomainNameList.
func (o *DomainNameList) Append(b []byte) (res []byte) {
	res = b
	for _, name := range o.Value {
		res = packName(res, name)
	}

	return res
}

// Match implements the [Matcher] interface for *DomainNameList.
func (o *DomainNameList) Match(e *Expression) (ok bool) { return matchList(o.Value, e.strs, e) }
