package dhcpbind

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// reuse returns the binding of the identity association of req in p, if it's
// still in effect, committing it if requested.  If the binding has expired, it
// is removed and its address is returned as prev.
func (m *Manager) reuse(
	ctx context.Context,
	p *pool,
	req *Request,
	now time.Time,
) (b *Binding, prev netip.Addr, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.byKey[newKey(req)]
	if !ok {
		return nil, netip.Addr{}, nil
	} else if cur.isExpired(now) {
		m.drop(ctx, p, cur)

		return nil, cur.Addr, nil
	}

	if req.Hostname != "" {
		cur.Hostname = req.Hostname
	}

	switch {
	case cur.State == StateRequested && !req.Commit:
		cur.Expiry = now.Add(m.offerLifetime)
	case req.Commit:
		err = m.commit(ctx, p, cur, now)
		if err != nil {
			return nil, netip.Addr{}, err
		}
	}

	return cur.Clone(), netip.Addr{}, nil
}

// bindAddr binds addr in p for req if it's free.  b is nil if it isn't.
func (m *Manager) bindAddr(
	ctx context.Context,
	p *pool,
	req *Request,
	addr netip.Addr,
	now time.Time,
) (b *Binding, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isFree(addr, now) {
		return nil, nil
	}

	return m.bind(ctx, p, req, addr, now)
}

// bindNext binds the lowest free address of p for req.  b is nil if p is
// exhausted.
func (m *Manager) bindNext(
	ctx context.Context,
	p *pool,
	req *Request,
	now time.Time,
) (b *Binding, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	addr, ok := p.nextFree(now)
	if !ok {
		return nil, nil
	}

	return m.bind(ctx, p, req, addr, now)
}

// bind makes a new binding of addr in p for req.  addr must be free.  p.mu
// must be locked.
func (m *Manager) bind(
	ctx context.Context,
	p *pool,
	req *Request,
	addr netip.Addr,
	now time.Time,
) (b *Binding, err error) {
	if old, ok := p.byAddr[addr]; ok {
		m.drop(ctx, p, old)
	}

	b = p.newBinding(req, addr)
	if !req.Commit {
		b.Start = now
		b.Expiry = now.Add(m.offerLifetime)
		b.State = StateRequested
		p.add(b)

		return b.Clone(), nil
	}

	err = m.peer.MayCommit(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("%w: refused by peer: %w", ErrNoAddrsAvail, err)
	}

	p.extend(b, now)
	p.add(b)

	err = m.store.Put(ctx, b)
	if err != nil {
		p.remove(b)

		return nil, fmt.Errorf("%w: %w: %w", ErrNoAddrsAvail, ErrStore, err)
	}

	m.peer.Notify(ctx, b.Clone())
	m.logger.DebugContext(ctx, "bound", keyLink, b.Link, keyAddr, b.Addr, keyIAType, b.IAType)

	return b.Clone(), nil
}

// commit makes b, which is in effect, active for another valid lifetime.  p.mu
// must be locked.
func (m *Manager) commit(ctx context.Context, p *pool, b *Binding, now time.Time) (err error) {
	err = m.peer.MayCommit(ctx, b)
	if err != nil {
		return fmt.Errorf("%w: refused by peer: %w", ErrNoAddrsAvail, err)
	}

	prev := *b
	p.extend(b, now)

	err = m.store.Put(ctx, b)
	if err != nil {
		*b = prev

		return fmt.Errorf("%w: %w: %w", ErrNoAddrsAvail, ErrStore, err)
	}

	m.peer.Notify(ctx, b.Clone())

	return nil
}

// drop removes b, which has expired, from p and from the store.  p.mu must be
// locked.
func (m *Manager) drop(ctx context.Context, p *pool, b *Binding) {
	p.remove(b)

	switch b.State {
	case StateActive:
		b.State = StateExpired
		m.peer.Notify(ctx, b.Clone())
	case StateDeclined:
		// Go on.
	default:
		// Offers are never stored.
		return
	}

	err := m.store.Delete(ctx, b)
	if err != nil {
		m.logger.WarnContext(ctx, "deleting expired binding", keyAddr, b.Addr, slogutil.KeyError, err)
	}
}

// extend makes the active binding b last another valid lifetime from now.  p.mu
// must be locked.
func (m *Manager) extend(
	ctx context.Context,
	p *pool,
	b *Binding,
	hostname string,
	now time.Time,
) (res *Binding, err error) {
	prev := *b
	p.extend(b, now)
	if hostname != "" {
		b.Hostname = hostname
	}

	err = m.store.Put(ctx, b)
	if err != nil {
		*b = prev

		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	m.peer.Notify(ctx, b.Clone())

	return b.Clone(), nil
}

// boundAddr returns the address of the binding of the identity association of
// req in effect at now, if any.  The stripe of the client must be locked.
func (m *Manager) boundAddr(req *Request, now time.Time) (addr netip.Addr) {
	k := newKey(req)
	for _, p := range req.Link.pools {
		if !p.serves(req.IAType) {
			continue
		}

		p.mu.Lock()
		b, ok := p.byKey[k]
		if ok && !b.isExpired(now) {
			addr = b.Addr
		}
		p.mu.Unlock()

		if addr.IsValid() {
			return addr
		}
	}

	return netip.Addr{}
}

// active returns the active binding of req.Addr in p if it belongs to the
// identity association of req.  p.mu must be locked.
func (p *pool) active(req *Request) (b *Binding, ok bool) {
	b, ok = p.byAddr[req.Addr]
	if !ok || b.State != StateActive || b.key() != newKey(req) {
		return nil, false
	}

	return b, true
}

// Renew extends the binding of req.Addr made for the identity association of
// req.  It returns an error wrapping [ErrNotOnLink] if the address isn't
// within any pool of the link, [ErrNoBinding] if there is no such binding, and
// [ErrStore] if the change could not be stored.
func (m *Manager) Renew(ctx context.Context, req *Request) (b *Binding, err error) {
	defer func() { err = errors.Annotate(err, "renewing %s: %w", req.IAType) }()

	unlock := req.Link.lockClient(req.ClientID)
	defer unlock()

	p := req.Link.poolFor(req.Addr, req.IAType)
	if p == nil {
		return nil, ErrNotOnLink
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.active(req)
	if !ok {
		return nil, ErrNoBinding
	}

	return m.extend(ctx, p, cur, req.Hostname, m.clock.Now())
}

// Rebind is like [Manager.Renew] but for a client that may have been served by
// another server.  If there is no record of the binding, it returns an error
// wrapping [ErrUnknownRebind], unless the manager is configured to verify such
// requests, in which case the address is bound afresh if it's free.
func (m *Manager) Rebind(ctx context.Context, req *Request) (b *Binding, err error) {
	defer func() { err = errors.Annotate(err, "rebinding %s: %w", req.IAType) }()

	unlock := req.Link.lockClient(req.ClientID)
	defer unlock()

	p := req.Link.poolFor(req.Addr, req.IAType)
	if p == nil {
		return nil, ErrNotOnLink
	}

	now := m.clock.Now()
	bound := m.boundAddr(req, now)

	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.active(req); ok {
		return m.extend(ctx, p, cur, req.Hostname, now)
	}

	switch {
	case !p.isFree(req.Addr, now), bound.IsValid():
		return nil, ErrNoBinding
	case !m.verifyUnknownRebind:
		return nil, ErrUnknownRebind
	default:
		fresh := *req
		fresh.Commit = true

		return m.bind(ctx, p, &fresh, req.Addr, now)
	}
}

// Confirm returns true if all addrs are appropriate for link.  It returns
// false if addrs is empty.
func (m *Manager) Confirm(_ context.Context, link *Link, addrs []netip.Addr) (onLink bool) {
	if len(addrs) == 0 {
		return false
	}

	for _, addr := range addrs {
		if !link.contains(addr) {
			return false
		}
	}

	return true
}

// Release removes the binding of req.Addr made for the identity association of
// req.  It returns an error wrapping [ErrNoBinding] if there is no such
// binding and [ErrStore] if the change could not be stored.
func (m *Manager) Release(ctx context.Context, req *Request) (err error) {
	defer func() { err = errors.Annotate(err, "releasing %s: %w", req.IAType) }()

	unlock := req.Link.lockClient(req.ClientID)
	defer unlock()

	p := req.Link.poolFor(req.Addr, req.IAType)
	if p == nil {
		return ErrNoBinding
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.active(req)
	if !ok {
		return ErrNoBinding
	}

	p.remove(b)

	err = m.store.Delete(ctx, b)
	if err != nil {
		p.add(b)

		return fmt.Errorf("%w: %w", ErrStore, err)
	}

	b.State = StateReleased
	m.peer.Notify(ctx, b.Clone())
	m.logger.DebugContext(ctx, "released", keyLink, b.Link, keyAddr, b.Addr, keyIAType, b.IAType)

	return nil
}

// Decline quarantines req.Addr bound for the identity association of req.  The
// address isn't allocated until the quarantine ends.  It returns an error
// wrapping [ErrNoBinding] if there is no such binding and [ErrStore] if the
// change could not be stored.
func (m *Manager) Decline(ctx context.Context, req *Request) (err error) {
	defer func() { err = errors.Annotate(err, "declining %s: %w", req.IAType) }()

	unlock := req.Link.lockClient(req.ClientID)
	defer unlock()

	p := req.Link.poolFor(req.Addr, req.IAType)
	if p == nil {
		return ErrNoBinding
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.byAddr[req.Addr]
	if !ok || b.State == StateDeclined || b.key() != newKey(req) {
		return ErrNoBinding
	}

	prev := *b
	b.State = StateDeclined
	b.Expiry = m.clock.Now().Add(m.declineQuarantine)
	delete(p.byKey, b.key())

	err = m.store.Put(ctx, b)
	if err != nil {
		*b = prev
		p.byKey[b.key()] = b

		return fmt.Errorf("%w: %w", ErrStore, err)
	}

	m.peer.Notify(ctx, b.Clone())
	m.logger.InfoContext(ctx, "declined", keyLink, b.Link, keyAddr, b.Addr, "until", b.Expiry)

	return nil
}

// Lookup returns the binding of the identity association of req in effect,
// either active or offered.
func (m *Manager) Lookup(_ context.Context, req *Request) (b *Binding, ok bool) {
	unlock := req.Link.lockClient(req.ClientID)
	defer unlock()

	now := m.clock.Now()
	k := newKey(req)
	for _, p := range req.Link.pools {
		if !p.serves(req.IAType) {
			continue
		}

		p.mu.Lock()
		b, ok = p.byKey[k]
		if ok && !b.isExpired(now) {
			b = b.Clone()
		} else {
			b, ok = nil, false
		}
		p.mu.Unlock()

		if ok {
			return b, true
		}
	}

	return nil, false
}

// Sweep removes the bindings expired by now, including the offers and the
// quarantined addresses, and returns their number.
func (m *Manager) Sweep(ctx context.Context) (n int) {
	now := m.clock.Now()
	for _, l := range m.links {
		for _, p := range l.pools {
			n += m.sweepPool(ctx, p, now)
		}
	}

	if n > 0 {
		m.logger.DebugContext(ctx, "swept bindings", "num", n)
	}

	return n
}

// sweepPool removes the bindings of p expired by now.
func (m *Manager) sweepPool(ctx context.Context, p *pool, now time.Time) (n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, b := range p.byAddr {
		if b.isExpired(now) {
			m.drop(ctx, p, b)
			n++
		}
	}

	return n
}

// Bindings returns the copies of all bindings, including the offered and the
// quarantined ones.  They are ordered by link, then by pool, then by address.
func (m *Manager) Bindings() (bs []*Binding) {
	for _, l := range m.links {
		for _, p := range l.pools {
			p.mu.Lock()
			start := len(bs)
			for _, b := range p.byAddr {
				bs = append(bs, b.Clone())
			}
			p.mu.Unlock()

			slices.SortFunc(bs[start:], func(a, b *Binding) (res int) {
				return a.Addr.Compare(b.Addr)
			})
		}
	}

	return bs
}

// PoolStats is the occupation of a pool.
type PoolStats struct {
	// Link is the name of the link of the pool.
	Link string

	// Pool is the human-readable form of the pool range.
	Pool string

	// Size is the number of addresses or prefixes in the pool.
	Size uint64

	// Used is the number of bindings in the pool.
	Used int
}

// Stats returns the occupation of every pool.
func (m *Manager) Stats() (stats []*PoolStats) {
	for _, l := range m.links {
		for _, p := range l.pools {
			p.mu.Lock()
			used := p.used()
			p.mu.Unlock()

			stats = append(stats, &PoolStats{
				Link: l.Name,
				Pool: p.String(),
				Size: p.space.size(),
				Used: used,
			})
		}
	}

	return stats
}
