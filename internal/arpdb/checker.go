package arpdb

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/timeutil"
)

// CheckerConfig is the configuration structure for a [*Checker].
type CheckerConfig struct {
	// Logger is used to log the refreshes.  It must not be nil.
	Logger *slog.Logger

	// Clock is used to decide if the neighbors are stale.  It must not be nil.
	Clock timeutil.Clock

	// ARP is the source of the neighbors.  It must not be nil.
	ARP Interface

	// RefreshInterval is the minimum time between two refreshes of ARP.  Zero
	// means refreshing on every check.
	RefreshInterval time.Duration
}

// Checker reports an address as used when it's present in the network
// neighborhood.  Its methods are safe for concurrent use.
type Checker struct {
	logger *slog.Logger
	clock  timeutil.Clock
	arp    Interface

	// mu protects lastRefresh.
	mu          *sync.Mutex
	lastRefresh time.Time

	ivl time.Duration
}

// NewChecker returns a new properly initialized *Checker.  c must not be nil.
func NewChecker(c *CheckerConfig) (checker *Checker) {
	return &Checker{
		logger: c.Logger,
		clock:  c.Clock,
		arp:    c.ARP,
		mu:     &sync.Mutex{},
		ivl:    c.RefreshInterval,
	}
}

// IsAvailable returns false if ip is used by a neighbor.  It refreshes the
// neighborhood if the last refresh is older than the refresh interval.
func (c *Checker) IsAvailable(ctx context.Context, ip netip.Addr) (ok bool, err error) {
	err = c.refresh(ctx)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", ip, err)
	}

	for _, n := range c.arp.Neighbors() {
		if n.IP == ip {
			c.logger.DebugContext(ctx, "address in use", "ip", ip, "mac", n.MAC)

			return false, nil
		}
	}

	return true, nil
}

// refresh refreshes c.arp if needed.
func (c *Checker) refresh(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if !c.lastRefresh.IsZero() && now.Sub(c.lastRefresh) < c.ivl {
		return nil
	}

	err = c.arp.Refresh(ctx)
	if err != nil {
		return err
	}

	c.lastRefresh = now

	return nil
}
