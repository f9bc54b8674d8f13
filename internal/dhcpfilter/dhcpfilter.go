// Package dhcpfilter decides which configured options are attached to a DHCP
// reply.
package dhcpfilter

import (
	"fmt"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
)

// Group is a named filter group: the reply options applied when every
// expression of the group matches the inbound message.
type Group struct {
	// Options are set on the reply when the group matches.
	Options dhcpopt.Options

	// Name is the name of the group, used for logging.
	Name string

	// Expressions are the conditions of the group.  A group without
	// expressions never matches.
	Expressions []*dhcpopt.Expression
}

// Matches returns true if every expression of g matches the corresponding
// option of req.  An option absent from req, or not comparable, never matches.
func (g *Group) Matches(req dhcpopt.Options) (ok bool) {
	if len(g.Expressions) == 0 {
		return false
	}

	for _, e := range g.Expressions {
		m, isMatcher := req.Get(e.Code).(dhcpopt.Matcher)
		if !isMatcher || !m.Match(e) {
			return false
		}
	}

	return true
}

// Policy is a set of options and filter groups of a single scope, such as the
// global one or a link.
type Policy struct {
	// Options are set on every reply within the scope.
	Options dhcpopt.Options

	// Groups are the filter groups of the scope, applied in order.
	Groups []*Group
}

// Apply sets the options of policies on reply according to req.  Each policy
// sets its own options first and then the options of its matching groups, so
// later writes to the same code win.  Policies are applied in the given order
// and nil policies are skipped.  If requested is not nil, only the options
// with codes from it are set.  It returns the names of the matched groups.
func Apply(
	reply dhcpopt.Options,
	req dhcpopt.Options,
	requested *container.MapSet[dhcpopt.Code],
	policies ...*Policy,
) (matched []string) {
	for _, p := range policies {
		if p == nil {
			continue
		}

		setOptions(reply, p.Options, requested)

		for _, g := range p.Groups {
			if g.Matches(req) {
				setOptions(reply, g.Options, requested)
				matched = append(matched, g.Name)
			}
		}
	}

	return matched
}

// setOptions sets opts on reply, skipping the codes absent from requested if
// it's not nil.
func setOptions(reply, opts dhcpopt.Options, requested *container.MapSet[dhcpopt.Code]) {
	for _, c := range opts.Codes() {
		if requested != nil && !requested.Has(c) {
			continue
		}

		reply.Set(opts[c])
	}
}

// reserved4 are the DHCPv4 option codes that only the server computes.
var reserved4 = container.NewMapSet(
	dhcpopt.Code4Pad,
	dhcpopt.Code4RequestedIP,
	dhcpopt.Code4LeaseTime,
	dhcpopt.Code4Overload,
	dhcpopt.Code4MessageType,
	dhcpopt.Code4ServerID,
	dhcpopt.Code4ParamRequestList,
	dhcpopt.Code4RenewalTime,
	dhcpopt.Code4RebindingTime,
	dhcpopt.Code4ClientID,
	dhcpopt.Code4End,
)

// reserved6 are the DHCPv6 option codes that only the server computes.
var reserved6 = container.NewMapSet(
	dhcpopt.Code6ClientID,
	dhcpopt.Code6ServerID,
	dhcpopt.Code6IANA,
	dhcpopt.Code6IATA,
	dhcpopt.Code6IAAddr,
	dhcpopt.Code6ORO,
	dhcpopt.Code6Preference,
	dhcpopt.Code6RelayMessage,
	dhcpopt.Code6Unicast,
	dhcpopt.Code6StatusCode,
	dhcpopt.Code6RapidCommit,
	dhcpopt.Code6InterfaceID,
	dhcpopt.Code6IAPD,
	dhcpopt.Code6IAPrefix,
)

// ErrReserved is returned when a configured reply option has a code that only
// the server may set.
const ErrReserved errors.Error = "option code is reserved"

// ValidateReplyOption returns an error if an option with code c within f can't
// be configured as a reply option.
func ValidateReplyOption(f dhcpopt.Family, c dhcpopt.Code) (err error) {
	reserved := reserved4
	if f == dhcpopt.FamilyV6 {
		reserved = reserved6
	}

	if reserved.Has(c) {
		return fmt.Errorf("%s option %d: %w", f, c, ErrReserved)
	}

	return nil
}
