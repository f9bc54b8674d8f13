package dhcpsvc

import (
	"fmt"
	"log/slog"
	"maps"
	"net/netip"
	"slices"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpbind"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpfilter"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
)

// errUnknownLink is returned when a policy refers to a link the binding
// manager doesn't have.
const errUnknownLink errors.Error = "no such link"

// Config is the configuration of a [Dispatcher].
type Config struct {
	// Logger is used to log the handling of messages.  It must not be nil.
	Logger *slog.Logger

	// Clock is used to measure the handling time.  It must not be nil.
	Clock timeutil.Clock

	// Bindings is the binding manager serving both families.  It must not be
	// nil.
	Bindings *dhcpbind.Manager

	// Metrics collects the statistics.  It must not be nil.
	Metrics Metrics

	// AddrChecker checks the addresses before they are offered to DHCPv4
	// clients.  It must not be nil.
	AddrChecker AddressChecker

	// Policy4 is the global policy for DHCPv4 replies.  It must not be nil.
	Policy4 *dhcpfilter.Policy

	// Policy6 is the global policy for DHCPv6 replies.  It must not be nil.
	Policy6 *dhcpfilter.Policy

	// LinkPolicies are the policies of links keyed by the link names.  Links
	// without a policy only get the global options.
	LinkPolicies map[string]*dhcpfilter.Policy

	// ServerDUID is the DUID of the server put into the Server Identifier
	// option of DHCPv6 replies.  It must not be empty.
	ServerDUID []byte

	// ServerID4 is the address put into the Server Identifier option of
	// DHCPv4 replies.  It must be a valid IPv4 address.
	ServerID4 netip.Addr

	// Unicast is the address the DHCPv6 clients are allowed to unicast their
	// messages to.  If it's not valid, such messages are refused with the
	// UseMulticast status.
	Unicast netip.Addr

	// ReplyCacheTTL is the time a reply is kept in the reply cache.  It must
	// be positive if ReplyCacheSize is positive.
	ReplyCacheTTL time.Duration

	// ReplyCacheSize is the maximum number of replies in the reply cache.  It
	// must be non-negative.  If it's zero, the cache is disabled.
	ReplyCacheSize int

	// Preference is the value of the Preference option sent in DHCPv6
	// ADVERTISE messages.
	Preference uint8

	// RapidCommit enables the two-message exchange for the DHCPv6 clients
	// asking for it, see RFC 8415 section 18.3.1.
	RapidCommit bool

	// SendRequestedOnly makes the replies only carry the configured options
	// the client has asked for.
	SendRequestedOnly bool
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
		validate.NotNil("Bindings", conf.Bindings),
		validate.NotNilInterface("Metrics", conf.Metrics),
		validate.NotNilInterface("AddrChecker", conf.AddrChecker),
		validate.NotNil("Policy4", conf.Policy4),
		validate.NotNil("Policy6", conf.Policy6),
		validate.NotEmptySlice("ServerDUID", conf.ServerDUID),
		validate.NotNegative("ReplyCacheSize", conf.ReplyCacheSize),
	}

	if !conf.ServerID4.Is4() {
		errs = append(errs, fmt.Errorf("ServerID4: %s must be an ipv4 address", conf.ServerID4))
	}

	if conf.Unicast.IsValid() && !conf.Unicast.Is6() {
		errs = append(errs, fmt.Errorf("Unicast: %s must be an ipv6 address", conf.Unicast))
	}

	if conf.ReplyCacheSize > 0 && conf.ReplyCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf(
			"ReplyCacheTTL: %w: %s",
			errors.ErrNotPositive,
			conf.ReplyCacheTTL,
		))
	}

	if conf.Bindings != nil {
		errs = append(errs, conf.validatePolicies()...)
	}

	return errors.Join(errs...)
}

// validatePolicies returns the errors of the options within the policies of
// conf.  conf.Bindings must not be nil.
func (conf *Config) validatePolicies() (errs []error) {
	errs = append(errs, errors.Annotate(validatePolicy(conf.Policy4, true), "Policy4: %w"))
	errs = append(errs, errors.Annotate(validatePolicy(conf.Policy6, false), "Policy6: %w"))

	for _, name := range slices.Sorted(maps.Keys(conf.LinkPolicies)) {
		p := conf.LinkPolicies[name]
		if p == nil {
			errs = append(errs, fmt.Errorf("LinkPolicies: link %q: %w", name, errors.ErrNoValue))

			continue
		}

		l := conf.Bindings.LinkByName(name)
		if l == nil {
			errs = append(errs, fmt.Errorf("LinkPolicies: link %q: %w", name, errUnknownLink))

			continue
		}

		err := errors.Annotate(validatePolicy(p, l.Is4()), "LinkPolicies: link %q: %w", name)
		errs = append(errs, err)
	}

	return errs
}
