package dhcpbind

import (
	"hash/maphash"
	"net/netip"
	"sync"
)

// clientStripes is the number of locks serializing the requests of clients
// within a link.
const clientStripes = 64

// Link is a network scope clients are attached to.  It owns the pools the
// bindings of its clients are made from.
type Link struct {
	// seed is the seed for hashing client identities into stripes.
	seed maphash.Seed

	// Prefix is the on-link prefix of the link.
	Prefix netip.Prefix

	// Name is the unique name of the link.
	Name string

	// Interface is the name of the network interface the link is attached to,
	// if any.
	Interface string

	// pools are the pools of the link in the order of allocation.  It's not
	// modified after construction.
	pools []*pool

	// clients serialize the operations on bindings of the same client.  A
	// stripe lock is taken before a pool lock.
	clients [clientStripes]sync.Mutex
}

// newLink returns a new link for conf.  conf must be valid.
func newLink(conf *LinkConfig) (l *Link, err error) {
	l = &Link{
		seed:      maphash.MakeSeed(),
		Prefix:    conf.Prefix.Masked(),
		Name:      conf.Name,
		Interface: conf.Interface,
		pools:     make([]*pool, 0, len(conf.Pools)),
	}

	for _, pc := range conf.Pools {
		var p *pool
		p, err = newPool(pc)
		if err != nil {
			// Don't wrap the error since it's informative enough as is.
			return nil, err
		}

		l.pools = append(l.pools, p)
	}

	return l, nil
}

// Is4 returns true if l is an IPv4 link.
func (l *Link) Is4() (ok bool) {
	return l.Prefix.Addr().Is4()
}

// lockClient locks the stripe of the client with id and returns the function
// unlocking it.
func (l *Link) lockClient(id []byte) (unlock func()) {
	mu := &l.clients[maphash.Bytes(l.seed, id)%clientStripes]
	mu.Lock()

	return mu.Unlock
}

// poolFor returns the pool of l that contains addr and serves t, or nil.
func (l *Link) poolFor(addr netip.Addr, t IAType) (p *pool) {
	for _, p = range l.pools {
		if p.serves(t) && p.space.contains(addr) {
			return p
		}
	}

	return nil
}

// contains returns true if addr is within one of the pools of l.
func (l *Link) contains(addr netip.Addr) (ok bool) {
	for _, p := range l.pools {
		if p.space.contains(addr) {
			return true
		}
	}

	return false
}
