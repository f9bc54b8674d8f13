package dhcpbind

import (
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
)

// Config is the configuration of a [Manager].
type Config struct {
	// Logger is used to log the changes of bindings.  It must not be nil.
	Logger *slog.Logger

	// Clock is used to get the current time.  It must not be nil.
	Clock timeutil.Clock

	// Store is the durable storage of bindings.  It must not be nil.
	Store Store

	// Peer is the failover peer.  It must not be nil, use [EmptyFailoverPeer]
	// if there is no peer.
	Peer FailoverPeer

	// Links are the configurations of the links.  It must not be empty and the
	// pools of all links must not overlap.
	Links []*LinkConfig

	// DeclineQuarantine is the time a declined address is excluded from
	// allocation.  It must be positive.
	DeclineQuarantine time.Duration

	// OfferLifetime is the time an offered but not yet committed binding holds
	// its address.  It must be positive.
	OfferLifetime time.Duration

	// SweepInterval is the interval between removals of expired bindings.  It
	// must be non-negative.  If it's zero, the expired bindings are only
	// reclaimed lazily.
	SweepInterval time.Duration

	// VerifyUnknownRebind makes the manager bind the address of a rebinding
	// client it has no record of, if the address is free and on the link.
	VerifyUnknownRebind bool
}

// type check
var _ validate.Interface = (*Config)(nil)

// Validate implements the [validate.Interface] interface for *Config.
func (conf *Config) Validate() (err error) {
	if conf == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotNil("Logger", conf.Logger),
		validate.NotNilInterface("Clock", conf.Clock),
		validate.NotNilInterface("Store", conf.Store),
		validate.NotNilInterface("Peer", conf.Peer),
		validate.NotEmptySlice("Links", conf.Links),
		validatePositive("DeclineQuarantine", conf.DeclineQuarantine),
		validatePositive("OfferLifetime", conf.OfferLifetime),
		validate.NotNegative("SweepInterval", conf.SweepInterval),
	}

	errs = validate.AppendSlice(errs, "Links", conf.Links)

	names := map[string]struct{}{}
	for i, l := range conf.Links {
		if l == nil {
			continue
		} else if _, ok := names[l.Name]; ok {
			errs = append(errs, fmt.Errorf("Links: at index %d: duplicate name %q", i, l.Name))
		}

		names[l.Name] = struct{}{}
	}

	return errors.Join(errs...)
}

// validatePositive returns an error if d is not positive.
func validatePositive(name string, d time.Duration) (err error) {
	if d <= 0 {
		return fmt.Errorf("%s: must be positive, got %s", name, d)
	}

	return nil
}

// LinkConfig is the configuration of a single link.
type LinkConfig struct {
	// Prefix is the on-link prefix.  It must be valid.
	Prefix netip.Prefix

	// Name is the unique name of the link.  It must not be empty.
	Name string

	// Interface is the name of the network interface the link is attached to.
	// It may be empty for links only reachable through relays.
	Interface string

	// Pools are the configurations of the pools in the order of allocation.
	// It must not be empty.
	Pools []*PoolConfig
}

// type check
var _ validate.Interface = (*LinkConfig)(nil)

// Validate implements the [validate.Interface] interface for *LinkConfig.
func (conf *LinkConfig) Validate() (err error) {
	if conf == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotEmpty("Name", conf.Name),
		validate.NotEmptySlice("Pools", conf.Pools),
	}

	if !conf.Prefix.IsValid() {
		errs = append(errs, fmt.Errorf("Prefix: %w", errors.ErrNoValue))

		return errors.Join(errs...)
	}

	errs = validate.AppendSlice(errs, "Pools", conf.Pools)
	for i, p := range conf.Pools {
		if p == nil || p.IsPrefixPool() || !p.Start.IsValid() || !p.End.IsValid() {
			continue
		}

		if !conf.Prefix.Contains(p.Start) || !conf.Prefix.Contains(p.End) {
			errs = append(errs, fmt.Errorf(
				"Pools: at index %d: range %s-%s is not within %s",
				i,
				p.Start,
				p.End,
				conf.Prefix,
			))
		}
	}

	return errors.Join(errs...)
}

// PoolConfig is the configuration of an address pool.  Either the Start and
// End, or the Prefix and DelegatedLen must be set.
type PoolConfig struct {
	// Start is the first address of the range.
	Start netip.Addr

	// End is the last address of the range.  It must not be less than Start.
	End netip.Addr

	// Prefix is the IPv6 prefix delegated prefixes are taken from.
	Prefix netip.Prefix

	// DelegatedLen is the length of the delegated prefixes.
	DelegatedLen int

	// PreferredLifetime is the preferred lifetime of the bindings.  If it's
	// zero, ValidLifetime is used.
	PreferredLifetime time.Duration

	// ValidLifetime is the valid lifetime of the bindings.  It must be
	// positive.
	ValidLifetime time.Duration

	// T1 is the renewal time.  If it's zero, half of the preferred lifetime is
	// used.
	T1 time.Duration

	// T2 is the rebinding time.  If it's zero, 0.8 of the preferred lifetime
	// is used.
	T2 time.Duration
}

// IsPrefixPool returns true if conf describes a pool of delegated prefixes.
func (conf *PoolConfig) IsPrefixPool() (ok bool) {
	return conf.Prefix.IsValid()
}

// type check
var _ validate.Interface = (*PoolConfig)(nil)

// Validate implements the [validate.Interface] interface for *PoolConfig.
func (conf *PoolConfig) Validate() (err error) {
	if conf == nil {
		return errors.ErrNoValue
	}

	_, err = conf.space()
	errs := []error{
		err,
		validatePositive("ValidLifetime", conf.ValidLifetime),
		validate.NotNegative("PreferredLifetime", conf.PreferredLifetime),
		validate.NotNegative("T1", conf.T1),
		validate.NotNegative("T2", conf.T2),
	}

	preferred, _, t1, t2 := conf.lifetimes()
	switch {
	case preferred > conf.ValidLifetime:
		errs = append(errs, fmt.Errorf(
			"PreferredLifetime: %s is greater than ValidLifetime %s",
			preferred,
			conf.ValidLifetime,
		))
	case t1 > t2:
		errs = append(errs, fmt.Errorf("T1: %s is greater than T2 %s", t1, t2))
	}

	return errors.Join(errs...)
}

// space returns the address space conf describes.
func (conf *PoolConfig) space() (s addrSpace, err error) {
	if conf.IsPrefixPool() {
		return newPrefixRange(conf.Prefix, conf.DelegatedLen)
	}

	return newIPRange(conf.Start, conf.End)
}

// lifetimes returns the lifetimes of conf with the defaults applied.
func (conf *PoolConfig) lifetimes() (preferred, valid, t1, t2 time.Duration) {
	valid = conf.ValidLifetime

	preferred = conf.PreferredLifetime
	if preferred == 0 {
		preferred = valid
	}

	t1 = conf.T1
	if t1 == 0 {
		t1 = preferred / 2
	}

	t2 = conf.T2
	if t2 == 0 {
		t2 = preferred * 4 / 5
	}

	return preferred, valid, t1, t2
}
