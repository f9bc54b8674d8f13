package dhcpbind

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
)

// addrSpace is the set of slots a pool allocates from, numbered from zero.
type addrSpace interface {
	// size returns the number of slots.
	size() (n uint64)

	// at returns the address of the slot at off.  off must be less than size.
	at(off uint64) (ip netip.Addr)

	// offset returns the slot of ip.  ok is false if ip is not within the
	// space or is not the first address of a slot.
	offset(ip netip.Addr) (off uint64, ok bool)

	// contains returns true if ip is within the space.
	contains(ip netip.Addr) (ok bool)

	// bounds returns the first and the last addresses of the space.
	bounds() (first, last netip.Addr)

	// String returns the human-readable form of the space.
	String() (s string)
}

// maxSpaceLen is the maximum number of slots in a pool.  The offsets are kept
// within uint32 to bound the memory of the occupation bitset.
const maxSpaceLen = math.MaxUint32

// ipRange is an inclusive range of IP addresses.
//
// It is safe for concurrent use.
type ipRange struct {
	start netip.Addr
	end   netip.Addr
}

// newIPRange creates a new IP address range.  start must be less than or equal
// to end.  The resulting range must not be longer than maxSpaceLen.
func newIPRange(start, end netip.Addr) (r ipRange, err error) {
	defer func() { err = errors.Annotate(err, "invalid ip range: %w") }()

	switch false {
	case start.IsValid() && end.IsValid():
		return ipRange{}, fmt.Errorf("start %s and end %s: %w", start, end, errors.ErrNoValue)
	case start.Is4() == end.Is4():
		return ipRange{}, fmt.Errorf("%s and %s must be within the same address family", start, end)
	case !end.Less(start):
		return ipRange{}, fmt.Errorf("start %s is greater than end %s", start, end)
	default:
		diff := (&big.Int{}).Sub(
			(&big.Int{}).SetBytes(end.AsSlice()),
			(&big.Int{}).SetBytes(start.AsSlice()),
		)

		if !diff.IsUint64() || diff.Uint64() >= maxSpaceLen {
			return ipRange{}, fmt.Errorf("range length must be within %d", uint32(maxSpaceLen))
		}
	}

	return ipRange{
		start: start,
		end:   end,
	}, nil
}

// type check
var _ addrSpace = ipRange{}

// size implements the [addrSpace] interface for ipRange.
func (r ipRange) size() (n uint64) {
	off, _ := r.offset(r.end)

	return off + 1
}

// at implements the [addrSpace] interface for ipRange.
func (r ipRange) at(off uint64) (ip netip.Addr) {
	return addOffset(r.start, off)
}

// offset implements the [addrSpace] interface for ipRange.
func (r ipRange) offset(ip netip.Addr) (off uint64, ok bool) {
	if !r.contains(ip) {
		return 0, false
	}

	startData, ipData := r.start.As16(), ip.As16()
	be := binary.BigEndian

	// Assume that the range length was checked against maxSpaceLen during
	// construction.
	return be.Uint64(ipData[8:]) - be.Uint64(startData[8:]), true
}

// contains implements the [addrSpace] interface for ipRange.
func (r ipRange) contains(ip netip.Addr) (ok bool) {
	// Assume that the end was checked to be within the same address family as
	// the start during construction.
	return r.start.Is4() == ip.Is4() && !ip.Less(r.start) && !r.end.Less(ip)
}

// bounds implements the [addrSpace] interface for ipRange.
func (r ipRange) bounds() (first, last netip.Addr) { return r.start, r.end }

// String implements the [addrSpace] interface for ipRange.
func (r ipRange) String() (s string) {
	return fmt.Sprintf("%s-%s", r.start, r.end)
}

// addOffset returns ip advanced by off addresses.  The result keeps the family
// of ip.
func addOffset(ip netip.Addr, off uint64) (res netip.Addr) {
	data := ip.As16()
	be := binary.BigEndian

	lo := be.Uint64(data[8:])
	hi := be.Uint64(data[:8])

	sum := lo + off
	if sum < lo {
		hi++
	}

	be.PutUint64(data[:8], hi)
	be.PutUint64(data[8:], sum)

	res = netip.AddrFrom16(data)
	if ip.Is4() {
		return res.Unmap()
	}

	return res
}

// prefixRange is the space of equally sized prefixes delegated out of a
// larger IPv6 prefix.
type prefixRange struct {
	// base is the prefix the delegated prefixes are taken from.
	base netip.Prefix

	// bits is the length of the delegated prefixes.
	bits int
}

// maxDelegatedLen is the longest delegated prefix supported.  Slots are
// computed within the upper 64 bits of the address.
const maxDelegatedLen = 64

// newPrefixRange creates a new prefix range.  base must be an IPv6 prefix not
// longer than bits, bits must be within maxDelegatedLen, and the number of
// delegated prefixes must be within maxSpaceLen.
func newPrefixRange(base netip.Prefix, bits int) (r prefixRange, err error) {
	defer func() { err = errors.Annotate(err, "invalid prefix range: %w") }()

	switch false {
	case base.IsValid() && base.Addr().Is6():
		return prefixRange{}, fmt.Errorf("base %s must be a valid ipv6 prefix", base)
	case base.Bits() <= bits && bits <= maxDelegatedLen:
		return prefixRange{}, fmt.Errorf(
			"delegated length %d must be within %d and %d",
			bits,
			base.Bits(),
			maxDelegatedLen,
		)
	case bits-base.Bits() < 32:
		return prefixRange{}, fmt.Errorf("range length must be within %d", uint32(maxSpaceLen))
	}

	return prefixRange{
		base: base.Masked(),
		bits: bits,
	}, nil
}

// type check
var _ addrSpace = prefixRange{}

// size implements the [addrSpace] interface for prefixRange.
func (r prefixRange) size() (n uint64) {
	return 1 << (r.bits - r.base.Bits())
}

// at implements the [addrSpace] interface for prefixRange.
func (r prefixRange) at(off uint64) (ip netip.Addr) {
	data := r.base.Addr().As16()
	be := binary.BigEndian
	hi := be.Uint64(data[:8]) + off<<(maxDelegatedLen-r.bits)
	be.PutUint64(data[:8], hi)

	return netip.AddrFrom16(data)
}

// offset implements the [addrSpace] interface for prefixRange.
func (r prefixRange) offset(ip netip.Addr) (off uint64, ok bool) {
	if !r.contains(ip) {
		return 0, false
	}

	base, data := r.base.Addr().As16(), ip.As16()
	be := binary.BigEndian
	diff := be.Uint64(data[:8]) - be.Uint64(base[:8])

	shift := maxDelegatedLen - r.bits
	if diff&(1<<shift-1) != 0 || be.Uint64(data[8:]) != 0 {
		return 0, false
	}

	return diff >> shift, true
}

// contains implements the [addrSpace] interface for prefixRange.
func (r prefixRange) contains(ip netip.Addr) (ok bool) {
	return r.base.Contains(ip)
}

// bounds implements the [addrSpace] interface for prefixRange.
func (r prefixRange) bounds() (first, last netip.Addr) {
	data := r.base.Addr().As16()
	for i := r.base.Bits(); i < 128; i++ {
		data[i/8] |= 1 << (7 - i%8)
	}

	return r.base.Addr(), netip.AddrFrom16(data)
}

// String implements the [addrSpace] interface for prefixRange.
func (r prefixRange) String() (s string) {
	return fmt.Sprintf("%s by /%d", r.base, r.bits)
}

// overlaps returns true if a and b have at least one common address.
func overlaps(a, b addrSpace) (ok bool) {
	aFirst, aLast := a.bounds()
	bFirst, bLast := b.bounds()
	if aFirst.Is4() != bFirst.Is4() {
		return false
	}

	return !aLast.Less(bFirst) && !bLast.Less(aFirst)
}
