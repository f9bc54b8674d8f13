package dhcpopt

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"github.com/insomniacslk/dhcp/iana"
)

// Infinity is the lifetime value meaning "forever", see RFC 8415 section 7.7.
const Infinity = time.Duration(0xffff_ffff) * time.Second

// secs converts d into the wire representation of a lifetime in seconds.
func secs(d time.Duration) (s uint32) {
	if d >= Infinity {
		return 0xffff_ffff
	}

	return uint32(d / time.Second)
}

// dur converts the wire representation of a lifetime into a duration.
func dur(s uint32) (d time.Duration) { return time.Duration(s) * time.Second }

// StatusCode is the DHCPv6 status code option, see RFC 8415 section 21.13.
type StatusCode struct {
	// Message is the human-readable status message.
	Message string

	// Status is the status value.
	Status iana.StatusCode
}

// NewStatusCode returns a new *StatusCode option.
func NewStatusCode(st iana.StatusCode, msg string) (o *StatusCode) {
	return &StatusCode{Status: st, Message: msg}
}

// type check
var _ Matcher = (*StatusCode)(nil)

// Code implements the [Option] interface for *StatusCode.
func (o *StatusCode) Code() (c Code) { return Code6StatusCode }

// Len implements the [Option] interface for *StatusCode.
func (o *StatusCode) Len() (n int) { return 2 + len(o.Message) }

// Append implements the [Option] interface for *StatusCode.
func (o *StatusCode) Append(b []byte) (res []byte) {
	res = binary.BigEndian.AppendUint16(b, uint16(o.Status))

	return append(res, o.Message...)
}

// Match implements the [Matcher] interface for *StatusCode.  Only the status
// value is compared.
func (o *StatusCode) Match(e *Expression) (ok bool) { return matchUint(uint64(o.Status), e) }

// decodeStatusCode decodes the status code option payload.
func decodeStatusCode(data []byte) (o *StatusCode, err error) {
	if len(data) < 2 {
		return nil, newLenError(Code6StatusCode, len(data))
	}

	return &StatusCode{
		Status:  iana.StatusCode(binary.BigEndian.Uint16(data)),
		Message: string(data[2:]),
	}, nil
}

// IAAddr is the DHCPv6 IA address option, see RFC 8415 section 21.6.
type IAAddr struct {
	// Status is the optional status of the address.
	Status *StatusCode

	// Addr is the leased address.
	Addr netip.Addr

	// Preferred is the preferred lifetime.
	Preferred time.Duration

	// Valid is the valid lifetime.
	Valid time.Duration
}

// type check
var _ Option = (*IAAddr)(nil)

// Code implements the [Option] interface for *IAAddr.
func (o *IAAddr) Code() (c Code) { return Code6IAAddr }

// Len implements the [Option] interface for *IAAddr.
func (o *IAAddr) Len() (n int) { return 24 + nestedLen(o.Status) }

// Append implements the [Option] interface for *IAAddr.
func (o *IAAddr) Append(b []byte) (res []byte) {
	a := o.Addr.As16()
	res = append(b, a[:]...)
	res = binary.BigEndian.AppendUint32(res, secs(o.Preferred))
	res = binary.BigEndian.AppendUint32(res, secs(o.Valid))

	return appendNested(res, o.Status)
}

// decodeIAAddr decodes the IA address option payload.
func decodeIAAddr(data []byte) (o *IAAddr, err error) {
	if len(data) < 24 {
		return nil, newLenError(Code6IAAddr, len(data))
	}

	o = &IAAddr{
		Addr:      netip.AddrFrom16([16]byte(data[:16])),
		Preferred: dur(binary.BigEndian.Uint32(data[16:])),
		Valid:     dur(binary.BigEndian.Uint32(data[20:])),
	}
	o.Status = nestedStatus(DecodeList6(data[24:]))

	return o, nil
}

// IAPrefix is the DHCPv6 IA prefix option, see RFC 8415 section 21.22.
type IAPrefix struct {
	// Status is the optional status of the prefix.
	Status *StatusCode

	// Prefix is the delegated prefix.
	Prefix netip.Prefix

	// Preferred is the preferred lifetime.
	Preferred time.Duration

	// Valid is the valid lifetime.
	Valid time.Duration
}

// type check
var _ Option = (*IAPrefix)(nil)

// Code implements the [Option] interface for *IAPrefix.
func (o *IAPrefix) Code() (c Code) { return Code6IAPrefix }

// Len implements the [Option] interface for *IAPrefix.
func (o *IAPrefix) Len() (n int) { return 25 + nestedLen(o.Status) }

// Append implements the [Option] interface for *IAPrefix.
func (o *IAPrefix) Append(b []byte) (res []byte) {
	res = binary.BigEndian.AppendUint32(b, secs(o.Preferred))
	res = binary.BigEndian.AppendUint32(res, secs(o.Valid))
	res = append(res, uint8(o.Prefix.Bits()))
	a := o.Prefix.Addr().As16()
	res = append(res, a[:]...)

	return appendNested(res, o.Status)
}

// decodeIAPrefix decodes the IA prefix option payload.
func decodeIAPrefix(data []byte) (o *IAPrefix, err error) {
	if len(data) < 25 {
		return nil, newLenError(Code6IAPrefix, len(data))
	}

	bits := int(data[8])
	if bits > 128 {
		return nil, fmt.Errorf("option %d: prefix length %d out of range", Code6IAPrefix, bits)
	}

	o = &IAPrefix{
		Preferred: dur(binary.BigEndian.Uint32(data)),
		Valid:     dur(binary.BigEndian.Uint32(data[4:])),
		Prefix:    netip.PrefixFrom(netip.AddrFrom16([16]byte(data[9:25])), bits),
	}
	o.Status = nestedStatus(DecodeList6(data[25:]))

	return o, nil
}

// IANA is the DHCPv6 identity association for non-temporary addresses option,
// see RFC 8415 section 21.4.
type IANA struct {
	// Status is the optional IA-level status.
	Status *StatusCode

	// Addrs are the addresses of the association.
	Addrs []*IAAddr

	// T1 is the renewal time.
	T1 time.Duration

	// T2 is the rebinding time.
	T2 time.Duration

	// IAID is the identifier of the association.
	IAID uint32
}

// type check
var _ Option = (*IANA)(nil)

// Code implements the [Option] interface for *IANA.
func (o *IANA) Code() (c Code) { return Code6IANA }

// Len implements the [Option] interface for *IANA.
func (o *IANA) Len() (n int) { return 12 + addrsLen(o.Addrs) + nestedLen(o.Status) }

// Append implements the [Option] interface for *IANA.
func (o *IANA) Append(b []byte) (res []byte) {
	res = binary.BigEndian.AppendUint32(b, o.IAID)
	res = binary.BigEndian.AppendUint32(res, secs(o.T1))
	res = binary.BigEndian.AppendUint32(res, secs(o.T2))
	res = appendAddrs(res, o.Addrs)

	return appendNested(res, o.Status)
}

// decodeIANA decodes the IA_NA option payload.
func decodeIANA(data []byte) (o *IANA, err error) {
	if len(data) < 12 {
		return nil, newLenError(Code6IANA, len(data))
	}

	o = &IANA{
		IAID: binary.BigEndian.Uint32(data),
		T1:   dur(binary.BigEndian.Uint32(data[4:])),
		T2:   dur(binary.BigEndian.Uint32(data[8:])),
	}

	nested := DecodeList6(data[12:])
	o.Addrs, o.Status = nestedAddrs(nested), nestedStatus(nested)

	return o, nil
}

// IATA is the DHCPv6 identity association for temporary addresses option, see
// RFC 8415 section 21.5.
type IATA struct {
	// Status is the optional IA-level status.
	Status *StatusCode

	// Addrs are the addresses of the association.
	Addrs []*IAAddr

	// IAID is the identifier of the association.
	IAID uint32
}

// type check
var _ Option = (*IATA)(nil)

// Code implements the [Option] interface for *IATA.
func (o *IATA) Code() (c Code) { return Code6IATA }

// Len implements the [Option] interface for *IATA.
func (o *IATA) Len() (n int) { return 4 + addrsLen(o.Addrs) + nestedLen(o.Status) }

// Append implements the [Option] interface for *IATA.
func (o *IATA) Append(b []byte) (res []byte) {
	res = binary.BigEndian.AppendUint32(b, o.IAID)
	res = appendAddrs(res, o.Addrs)

	return appendNested(res, o.Status)
}

// decodeIATA decodes the IA_TA option payload.
func decodeIATA(data []byte) (o *IATA, err error) {
	if len(data) < 4 {
		return nil, newLenError(Code6IATA, len(data))
	}

	o = &IATA{IAID: binary.BigEndian.Uint32(data)}

	nested := DecodeList6(data[4:])
	o.Addrs, o.Status = nestedAddrs(nested), nestedStatus(nested)

	return o, nil
}

// IAPD is the DHCPv6 identity association for prefix delegation option, see
// RFC 8415 section 21.21.
type IAPD struct {
	// Status is the optional IA-level status.
	Status *StatusCode

	// Prefixes are the prefixes of the association.
	Prefixes []*IAPrefix

	// T1 is the renewal time.
	T1 time.Duration

	// T2 is the rebinding time.
	T2 time.Duration

	// IAID is the identifier of the association.
	IAID uint32
}

// type check
var _ Option = (*IAPD)(nil)

// Code implements the [Option] interface for *IAPD.
func (o *IAPD) Code() (c Code) { return Code6IAPD }

// Len implements the [Option] interface for *IAPD.
func (o *IAPD) Len() (n int) {
	n = 12 + nestedLen(o.Status)
	for _, p := range o.Prefixes {
		n += 4 + p.Len()
	}

	return n
}

// Append implements the [Option] interface for *IAPD.
func (o *IAPD) Append(b []byte) (res []byte) {
	res = binary.BigEndian.AppendUint32(b, o.IAID)
	res = binary.BigEndian.AppendUint32(res, secs(o.T1))
	res = binary.BigEndian.AppendUint32(res, secs(o.T2))
	for _, p := range o.Prefixes {
		res = AppendOption6(res, p)
	}

	return appendNested(res, o.Status)
}

// decodeIAPD decodes the IA_PD option payload.
func decodeIAPD(data []byte) (o *IAPD, err error) {
	if len(data) < 12 {
		return nil, newLenError(Code6IAPD, len(data))
	}

	o = &IAPD{
		IAID: binary.BigEndian.Uint32(data),
		T1:   dur(binary.BigEndian.Uint32(data[4:])),
		T2:   dur(binary.BigEndian.Uint32(data[8:])),
	}

	for _, opt := range DecodeList6(data[12:]) {
		switch opt := opt.(type) {
		case *IAPrefix:
			o.Prefixes = append(o.Prefixes, opt)
		case *StatusCode:
			o.Status = opt
		}
	}

	return o, nil
}

// nestedLen returns the encoded length of an optional nested status option.
func nestedLen(st *StatusCode) (n int) {
	if st == nil {
		return 0
	}

	return 4 + st.Len()
}

// appendNested appends an optional nested status option to b.
func appendNested(b []byte, st *StatusCode) (res []byte) {
	if st == nil {
		return b
	}

	return AppendOption6(b, st)
}

// addrsLen returns the encoded length of nested IA address options.
func addrsLen(addrs []*IAAddr) (n int) {
	for _, a := range addrs {
		n += 4 + a.Len()
	}

	return n
}

// appendAddrs appends nested IA address options to b.
func appendAddrs(b []byte, addrs []*IAAddr) (res []byte) {
	res = b
	for _, a := range addrs {
		res = AppendOption6(res, a)
	}

	return res
}

// nestedAddrs returns the IA address options from opts.
func nestedAddrs(opts []Option) (addrs []*IAAddr) {
	for _, opt := range opts {
		if a, ok := opt.(*IAAddr); ok {
			addrs = append(addrs, a)
		}
	}

	return addrs
}

// nestedStatus returns the last status code option from opts, if any.
func nestedStatus(opts []Option) (st *StatusCode) {
	for _, opt := range opts {
		if s, ok := opt.(*StatusCode); ok {
			st = s
		}
	}

	return st
}
