// Package dhcpbind contains the binding manager: the owner of links, address
// pools, and the bindings of clients to addresses.
package dhcpbind

import (
	"context"
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
)

const (
	// keyLink is the key for logging the name of a link.
	keyLink = "link"

	// keyAddr is the key for logging a bound address.
	keyAddr = "addr"

	// keyIAType is the key for logging the type of an identity association.
	keyIAType = "ia_type"
)

// IAType is the type of an identity association a binding is made for.
type IAType uint8

// IAType values.
const (
	// IATypeV4 is the DHCPv4 binding of a client.
	IATypeV4 IAType = iota + 1

	// IATypeNA is a DHCPv6 non-temporary address.
	IATypeNA

	// IATypeTA is a DHCPv6 temporary address.
	IATypeTA

	// IATypePD is a DHCPv6 delegated prefix.
	IATypePD
)

// String implements the [fmt.Stringer] interface for IAType.
func (t IAType) String() (s string) {
	switch t {
	case IATypeV4:
		return "v4"
	case IATypeNA:
		return "na"
	case IATypeTA:
		return "ta"
	case IATypePD:
		return "pd"
	default:
		return fmt.Sprintf("!bad_ia_type_%d", uint8(t))
	}
}

// State is the state of a binding.
type State uint8

// State values.  A binding transitions only from requested to active, and from
// active to expired, released, or declined.
const (
	StateRequested State = iota + 1
	StateActive
	StateExpired
	StateReleased
	StateDeclined
)

// String implements the [fmt.Stringer] interface for State.
func (s State) String() (str string) {
	switch s {
	case StateRequested:
		return "requested"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateReleased:
		return "released"
	case StateDeclined:
		return "declined"
	default:
		return fmt.Sprintf("!bad_state_%d", uint8(s))
	}
}

const (
	// ErrNoAddrsAvail is returned when no address can be allocated.
	ErrNoAddrsAvail errors.Error = "no addresses available"

	// ErrNoBinding is returned when there is no binding matching the request.
	ErrNoBinding errors.Error = "no binding"

	// ErrNotOnLink is returned when the address is not appropriate for the
	// link the client is attached to.
	ErrNotOnLink errors.Error = "not on link"

	// ErrUnknownRebind is returned when a client rebinds an address the server
	// has no record of and the server is configured to not verify such
	// requests.
	ErrUnknownRebind errors.Error = "unknown rebind"

	// ErrStore is returned when the durable store fails to record a change.
	// The change is rolled back.
	ErrStore errors.Error = "binding store failure"
)

// FailoverPeer is the cooperating server that shares the bindings with this
// one.
type FailoverPeer interface {
	// MayCommit returns an error if b must not be committed.
	MayCommit(ctx context.Context, b *Binding) (err error)

	// Notify informs the peer about the change of the state of b.
	Notify(ctx context.Context, b *Binding)
}

// EmptyFailoverPeer is a [FailoverPeer] that allows every commit and ignores
// the notifications.
type EmptyFailoverPeer struct{}

// type check
var _ FailoverPeer = EmptyFailoverPeer{}

// MayCommit implements the [FailoverPeer] interface for EmptyFailoverPeer.
func (EmptyFailoverPeer) MayCommit(_ context.Context, _ *Binding) (err error) { return nil }

// Notify implements the [FailoverPeer] interface for EmptyFailoverPeer.
func (EmptyFailoverPeer) Notify(_ context.Context, _ *Binding) {}
