package dhcpbind

import (
	"net/netip"
	"slices"
	"time"
)

// Binding is the relationship between an identity association of a client and
// an address or a delegated prefix.
type Binding struct {
	// Start is the time the binding was made or last extended.
	Start time.Time

	// Expiry is the time the binding expires.  For declined bindings it's the
	// end of the quarantine.
	Expiry time.Time

	// pool is the pool the address belongs to.
	pool *pool

	// Link is the name of the link the binding belongs to.
	Link string

	// Hostname is the host name reported by the client, if any.
	Hostname string

	// ClientID is the client identity: the DUID for DHCPv6, the client
	// identifier option or the hardware address for DHCPv4.
	ClientID []byte

	// Addr is the bound address or the first address of the delegated prefix.
	Addr netip.Addr

	// Preferred is the preferred lifetime.
	Preferred time.Duration

	// Valid is the valid lifetime.
	Valid time.Duration

	// T1 is the renewal time.
	T1 time.Duration

	// T2 is the rebinding time.
	T2 time.Duration

	// IAID is the identifier of the identity association.  It's zero for
	// DHCPv4 bindings.
	IAID uint32

	// PrefixLen is the length of the delegated prefix for [IATypePD].
	PrefixLen uint8

	// IAType is the type of the identity association.
	IAType IAType

	// State is the current state.
	State State
}

// Clone returns a deep copy of b without the reference to its pool.
func (b *Binding) Clone() (clone *Binding) {
	if b == nil {
		return nil
	}

	c := *b
	c.pool = nil
	c.ClientID = slices.Clone(b.ClientID)

	return &c
}

// Prefix returns the delegated prefix of a [IATypePD] binding.
func (b *Binding) Prefix() (p netip.Prefix) {
	return netip.PrefixFrom(b.Addr, int(b.PrefixLen))
}

// isExpired returns true if b is no longer in effect at now.  Declined
// bindings are in effect until their quarantine ends.
func (b *Binding) isExpired(now time.Time) (ok bool) {
	return !now.Before(b.Expiry)
}

// key returns the identity key of b.
func (b *Binding) key() (k bindingKey) {
	return bindingKey{client: string(b.ClientID), iaid: b.IAID, iaType: b.IAType}
}

// bindingKey identifies the identity association of a client within a link.
type bindingKey struct {
	client string
	iaid   uint32
	iaType IAType
}

// newKey returns the key for the identity association of a request.
func newKey(req *Request) (k bindingKey) {
	return bindingKey{client: string(req.ClientID), iaid: req.IAID, iaType: req.IAType}
}
