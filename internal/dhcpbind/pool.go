package dhcpbind

import (
	"net/netip"
	"slices"
	"sync"
	"time"
)

// pool is a set of addresses or delegated prefixes bindings are made from.
type pool struct {
	// mu protects occupied, byAddr, and byKey.
	mu *sync.Mutex

	// space is the set of the slots of the pool.
	space addrSpace

	// occupied marks the slots held by the bindings in byAddr.
	occupied *bitSet

	// byAddr are the bindings of the pool by their addresses, including the
	// offered and the quarantined ones.
	byAddr map[netip.Addr]*Binding

	// byKey are the bindings by their identity association.  Declined
	// bindings are not there.
	byKey map[bindingKey]*Binding

	// preferred is the preferred lifetime of the bindings.
	preferred time.Duration

	// valid is the valid lifetime of the bindings.
	valid time.Duration

	// t1 is the renewal time of the bindings.
	t1 time.Duration

	// t2 is the rebinding time of the bindings.
	t2 time.Duration

	// prefixLen is the length of the delegated prefixes, or zero for address
	// pools.
	prefixLen uint8
}

// newPool returns a new empty pool for conf.  conf must be valid.
func newPool(conf *PoolConfig) (p *pool, err error) {
	space, err := conf.space()
	if err != nil {
		return nil, err
	}

	p = &pool{
		mu:       &sync.Mutex{},
		space:    space,
		occupied: newBitSet(),
		byAddr:   map[netip.Addr]*Binding{},
		byKey:    map[bindingKey]*Binding{},
	}

	if conf.IsPrefixPool() {
		p.prefixLen = uint8(conf.DelegatedLen)
	}

	p.preferred, p.valid, p.t1, p.t2 = conf.lifetimes()

	return p, nil
}

// String implements the [fmt.Stringer] interface for *pool.
func (p *pool) String() (s string) {
	return p.space.String()
}

// serves returns true if p hands out bindings of type t.
func (p *pool) serves(t IAType) (ok bool) {
	first, _ := p.space.bounds()
	switch t {
	case IATypeV4:
		return first.Is4()
	case IATypeNA, IATypeTA:
		return first.Is6() && p.prefixLen == 0
	case IATypePD:
		return p.prefixLen != 0
	default:
		return false
	}
}

// isFree returns true if the address can be bound at now.  p.mu must be
// locked.
func (p *pool) isFree(addr netip.Addr, now time.Time) (ok bool) {
	if _, ok = p.space.offset(addr); !ok {
		return false
	}

	b, ok := p.byAddr[addr]

	return !ok || b.isExpired(now)
}

// nextFree returns the lowest free address of p at now.  p.mu must be locked.
func (p *pool) nextFree(now time.Time) (addr netip.Addr, ok bool) {
	size := p.space.size()
	for off := uint64(0); off < size; {
		if p.occupied.isFull(off) {
			off = (off/bitsPerWord + 1) * bitsPerWord

			continue
		}

		if !p.occupied.isSet(off) {
			return p.space.at(off), true
		}

		off++
	}

	// All slots are occupied, so look for the lowest one held by an expired
	// binding.
	for a, b := range p.byAddr {
		if b.isExpired(now) && (!addr.IsValid() || a.Less(addr)) {
			addr = a
		}
	}

	return addr, addr.IsValid()
}

// add puts b into p.  b.Addr must be a slot of p.  p.mu must be locked.
func (p *pool) add(b *Binding) {
	off, _ := p.space.offset(b.Addr)
	p.occupied.set(off, true)

	b.pool = p
	p.byAddr[b.Addr] = b
	if b.State != StateDeclined {
		p.byKey[b.key()] = b
	}
}

// remove removes b from p.  p.mu must be locked.
func (p *pool) remove(b *Binding) {
	if p.byAddr[b.Addr] == b {
		off, _ := p.space.offset(b.Addr)
		p.occupied.set(off, false)
		delete(p.byAddr, b.Addr)
	}

	k := b.key()
	if p.byKey[k] == b {
		delete(p.byKey, k)
	}
}

// newBinding returns a new binding of addr in p for req.
func (p *pool) newBinding(req *Request, addr netip.Addr) (b *Binding) {
	return &Binding{
		Link:      req.Link.Name,
		Hostname:  req.Hostname,
		ClientID:  slices.Clone(req.ClientID),
		Addr:      addr,
		Preferred: p.preferred,
		Valid:     p.valid,
		T1:        p.t1,
		T2:        p.t2,
		IAID:      req.IAID,
		PrefixLen: p.prefixLen,
		IAType:    req.IAType,
	}
}

// extend updates the lifetimes of b as though it was made at now.
func (p *pool) extend(b *Binding, now time.Time) {
	b.Start = now
	b.Expiry = now.Add(p.valid)
	b.Preferred, b.Valid, b.T1, b.T2 = p.preferred, p.valid, p.t1, p.t2
	b.State = StateActive
}

// used returns the number of the occupied slots.  p.mu must be locked.
func (p *pool) used() (n int) {
	return len(p.byAddr)
}
