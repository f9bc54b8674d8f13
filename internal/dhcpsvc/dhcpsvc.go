// Package dhcpsvc contains the DHCPv4 and DHCPv6 message processors, the
// dispatcher selecting them for inbound messages, and the UDP transport
// delivering the messages to the dispatcher.
package dhcpsvc

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
)

const (
	// keyInterface is the key for logging the network interface name.
	keyInterface = "iface"

	// keyFamily is the key for logging the handled address family.
	keyFamily = "family"

	// keyType is the key for logging the type of a message.
	keyType = "type"

	// keyXID is the key for logging the transaction identifier of a message.
	keyXID = "xid"

	// keyLink is the key for logging the name of a link.
	keyLink = "link"
)

// respNone is the reply type reported to [Metrics] for dropped requests.
const respNone = "none"

// Metrics is the interface for collecting the statistics of the DHCP service.
// All methods must be safe for concurrent use.
type Metrics interface {
	// IncrementDecodeErrors counts a datagram of family f that could not be
	// decoded.
	IncrementDecodeErrors(ctx context.Context, f dhcpopt.Family)

	// ObserveRequest records a request of family f and type reqType handled
	// within dur.  respType is the type of the reply or "none" if the request
	// was dropped.
	ObserveRequest(
		ctx context.Context,
		f dhcpopt.Family,
		reqType string,
		respType string,
		dur time.Duration,
	)

	// IncrementReplyCacheHits counts a retransmitted request of family f
	// answered from the reply cache.
	IncrementReplyCacheHits(ctx context.Context, f dhcpopt.Family)
}

// EmptyMetrics is a [Metrics] implementation that does nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// IncrementDecodeErrors implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncrementDecodeErrors(_ context.Context, _ dhcpopt.Family) {}

// ObserveRequest implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) ObserveRequest(
	_ context.Context,
	_ dhcpopt.Family,
	_ string,
	_ string,
	_ time.Duration,
) {
}

// IncrementReplyCacheHits implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncrementReplyCacheHits(_ context.Context, _ dhcpopt.Family) {}

// AddressChecker checks if an address is not in use before it's offered, see
// RFC 2131 section 2.2.
type AddressChecker interface {
	// IsAvailable returns true if ip isn't used by any host in the network.
	// Any error is a network error.
	IsAvailable(ctx context.Context, ip netip.Addr) (ok bool, err error)
}

// EmptyAddressChecker is an [AddressChecker] that considers all addresses
// available.
type EmptyAddressChecker struct{}

// type check
var _ AddressChecker = EmptyAddressChecker{}

// IsAvailable implements the [AddressChecker] interface for
// EmptyAddressChecker.
func (EmptyAddressChecker) IsAvailable(_ context.Context, _ netip.Addr) (ok bool, err error) {
	return true, nil
}

// MultiAddressChecker is an [AddressChecker] that considers an address
// available only when all of its checkers do.  The checkers are consulted in
// order, and the first negative answer or error stops the check.
type MultiAddressChecker []AddressChecker

// type check
var _ AddressChecker = MultiAddressChecker(nil)

// IsAvailable implements the [AddressChecker] interface for
// MultiAddressChecker.
func (c MultiAddressChecker) IsAvailable(ctx context.Context, ip netip.Addr) (ok bool, err error) {
	for i, checker := range c {
		ok, err = checker.IsAvailable(ctx, ip)
		if err != nil {
			return false, fmt.Errorf("checker at index %d: %w", i, err)
		} else if !ok {
			return false, nil
		}
	}

	return true, nil
}
