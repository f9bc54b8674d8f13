package dhcpbind

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
)

// Request describes the identity association a binding operation is performed
// for.
type Request struct {
	// Link is the link the client is attached to.  It must not be nil.
	Link *Link

	// ClientID is the identity of the client.  It must not be empty.
	ClientID []byte

	// Hostname is the host name reported by the client, if any.
	Hostname string

	// Addr is the address the client asks for or refers to.  It's a hint for
	// [Manager.Allocate] and the bound address for the other operations.
	Addr netip.Addr

	// IAID is the identifier of the identity association.
	IAID uint32

	// IAType is the type of the identity association.
	IAType IAType

	// Commit makes [Manager.Allocate] make an active binding instead of an
	// offer.
	Commit bool
}

// Manager owns the links, their pools, and the bindings.  All methods are
// safe for concurrent use.
type Manager struct {
	logger *slog.Logger
	clock  timeutil.Clock
	store  Store
	peer   FailoverPeer

	// done is the shutdown signaling channel of the sweeper.
	done chan struct{}

	// links are the links in the configuration order.  It's not modified
	// after construction.
	links []*Link

	// linksByName is the lookup shortcut for links by their names.
	linksByName map[string]*Link

	declineQuarantine   time.Duration
	offerLifetime       time.Duration
	sweepInterval       time.Duration
	verifyUnknownRebind bool
}

// New returns a new manager and loads the stored bindings into it.  conf must
// not be nil.
func New(ctx context.Context, conf *Config) (m *Manager, err error) {
	err = conf.Validate()
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}

	m = &Manager{
		logger:              conf.Logger,
		clock:               conf.Clock,
		store:               conf.Store,
		peer:                conf.Peer,
		done:                make(chan struct{}),
		links:               make([]*Link, 0, len(conf.Links)),
		linksByName:         make(map[string]*Link, len(conf.Links)),
		declineQuarantine:   conf.DeclineQuarantine,
		offerLifetime:       conf.OfferLifetime,
		sweepInterval:       conf.SweepInterval,
		verifyUnknownRebind: conf.VerifyUnknownRebind,
	}

	for _, lc := range conf.Links {
		var l *Link
		l, err = newLink(lc)
		if err != nil {
			return nil, fmt.Errorf("link %q: %w", lc.Name, err)
		}

		m.links = append(m.links, l)
		m.linksByName[l.Name] = l
	}

	err = m.checkOverlaps()
	if err != nil {
		return nil, err
	}

	err = m.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading bindings: %w", err)
	}

	return m, nil
}

// checkOverlaps returns an error if any two pools of m have common addresses.
func (m *Manager) checkOverlaps() (err error) {
	type namedPool struct {
		link string
		p    *pool
	}

	var all []namedPool
	for _, l := range m.links {
		for _, p := range l.pools {
			for _, other := range all {
				if overlaps(p.space, other.p.space) {
					return fmt.Errorf(
						"pool %s of link %q overlaps pool %s of link %q",
						p,
						l.Name,
						other.p,
						other.link,
					)
				}
			}

			all = append(all, namedPool{link: l.Name, p: p})
		}
	}

	return nil
}

// load puts the stored bindings into their pools.  Bindings that don't fit
// the current configuration are skipped.
func (m *Manager) load(ctx context.Context) (err error) {
	bs, err := m.store.Load(ctx)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return err
	}

	now := m.clock.Now()
	var loaded int
	for i, b := range bs {
		l := m.linksByName[b.Link]
		if l == nil {
			m.logger.WarnContext(ctx, "skipping binding", "idx", i, keyLink, b.Link, "reason", "no link")

			continue
		}

		p := l.poolFor(b.Addr, b.IAType)
		if p == nil || p.prefixLen != b.PrefixLen {
			m.logger.WarnContext(ctx, "skipping binding", "idx", i, keyAddr, b.Addr, "reason", "no pool")

			continue
		} else if b.isExpired(now) {
			continue
		}

		if _, ok := p.byAddr[b.Addr]; ok {
			m.logger.WarnContext(ctx, "skipping binding", "idx", i, keyAddr, b.Addr, "reason", "duplicate")

			continue
		}

		p.add(b.Clone())
		loaded++
	}

	m.logger.InfoContext(ctx, "loaded bindings", "num", loaded, "total", len(bs))

	return nil
}

// type check
var _ service.Interface = (*Manager)(nil)

// Start implements the [service.Interface] interface for *Manager.  It starts
// the periodic removal of expired bindings, if configured.
func (m *Manager) Start(ctx context.Context) (err error) {
	if m.sweepInterval > 0 {
		go m.sweepPeriodically(context.WithoutCancel(ctx))
	}

	return nil
}

// Shutdown implements the [service.Interface] interface for *Manager.
func (m *Manager) Shutdown(_ context.Context) (err error) {
	close(m.done)

	return m.store.Close()
}

// sweepPeriodically removes expired bindings every sweep interval.  It is
// intended to be used as a goroutine.
func (m *Manager) sweepPeriodically(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, m.logger)

	t := time.NewTicker(m.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			m.Sweep(ctx)
		case <-m.done:
			return
		}
	}
}

// Links returns the links of m in the configuration order.
func (m *Manager) Links() (ls []*Link) {
	return slices.Clone(m.links)
}

// LinkByName returns the link with the name, or nil.
func (m *Manager) LinkByName(name string) (l *Link) {
	return m.linksByName[name]
}

// LinkForAddr returns the first link whose prefix contains addr, or nil.
func (m *Manager) LinkForAddr(addr netip.Addr) (l *Link) {
	addr = addr.Unmap()
	for _, l = range m.links {
		if l.Prefix.Contains(addr) {
			return l
		}
	}

	return nil
}

// LinkByInterface returns the first link of the family attached to the
// interface with the name, or nil.
func (m *Manager) LinkByInterface(iface string, is4 bool) (l *Link) {
	if iface == "" {
		return nil
	}

	for _, l = range m.links {
		if l.Interface == iface && l.Is4() == is4 {
			return l
		}
	}

	return nil
}

// Allocate returns the binding for req.  It reuses the existing binding of the
// identity association, then tries the requested address, then the lowest
// free address of the pools of the link in their order.  If req.Commit is
// false, the binding is an offer held for the offer lifetime and not stored.
// It returns an error wrapping [ErrNoAddrsAvail] if no address can be bound.
func (m *Manager) Allocate(ctx context.Context, req *Request) (b *Binding, err error) {
	defer func() { err = errors.Annotate(err, "allocating %s: %w", req.IAType) }()

	unlock := req.Link.lockClient(req.ClientID)
	defer unlock()

	now := m.clock.Now()
	hint := req.Addr

	for _, p := range req.Link.pools {
		if !p.serves(req.IAType) {
			continue
		}

		var prev netip.Addr
		b, prev, err = m.reuse(ctx, p, req, now)
		if err != nil {
			return nil, err
		} else if b != nil {
			return b, nil
		} else if !hint.IsValid() {
			hint = prev
		}
	}

	if hint.IsValid() {
		if p := req.Link.poolFor(hint, req.IAType); p != nil {
			b, err = m.bindAddr(ctx, p, req, hint, now)
			if b != nil || err != nil {
				return b, err
			}
		}
	}

	for _, p := range req.Link.pools {
		if !p.serves(req.IAType) {
			continue
		}

		b, err = m.bindNext(ctx, p, req, now)
		if b != nil || err != nil {
			return b, err
		}
	}

	return nil, ErrNoAddrsAvail
}
