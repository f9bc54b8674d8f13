// Package icmpcheck checks if an address is in use by sending it an ICMP echo
// request, see RFC 2131 section 4.4.1.
package icmpcheck

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/go-ping/ping"
)

// Config is the configuration structure for a [*Checker].
type Config struct {
	// Logger is used to log the probes.  It must not be nil.
	Logger *slog.Logger

	// Timeout is the time to wait for the echo reply.  It must be positive.
	Timeout time.Duration

	// Privileged defines if raw sockets are used.  Unprivileged mode uses
	// datagram ICMP sockets, which must be allowed by the system.
	Privileged bool
}

// Checker reports an address as used when it answers an echo request.
type Checker struct {
	logger     *slog.Logger
	timeout    time.Duration
	privileged bool
}

// New returns a new properly initialized *Checker.  c must not be nil.
func New(c *Config) (checker *Checker) {
	return &Checker{
		logger:     c.Logger,
		timeout:    c.Timeout,
		privileged: c.Privileged,
	}
}

// IsAvailable returns false if ip answers an ICMP echo request within the
// timeout.
func (c *Checker) IsAvailable(ctx context.Context, ip netip.Addr) (ok bool, err error) {
	if !ip.IsValid() {
		return false, fmt.Errorf("address: %w", errors.ErrNoValue)
	}

	pinger, err := ping.NewPinger(ip.String())
	if err != nil {
		return false, fmt.Errorf("creating pinger: %w", err)
	}

	pinger.SetPrivileged(c.privileged)
	pinger.Timeout = c.timeout
	pinger.Count = 1

	replied := &atomic.Bool{}
	pinger.OnRecv = func(_ *ping.Packet) {
		replied.Store(true)
	}

	stop := context.AfterFunc(ctx, pinger.Stop)
	defer stop()

	c.logger.DebugContext(ctx, "sending icmp echo", "ip", ip)

	err = pinger.Run()
	if err != nil {
		return false, fmt.Errorf("pinging %s: %w", ip, err)
	}

	if replied.Load() {
		c.logger.InfoContext(ctx, "ip conflict, address is used by another device", "ip", ip)

		return false, nil
	}

	return true, nil
}
