package dhcpsvc

import (
	"context"
	"fmt"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpbind"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpfilter"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
)

// validatePolicy returns an error if p sets an option that only the server may
// set.  p may be nil.
func validatePolicy(p *dhcpfilter.Policy, is4 bool) (err error) {
	if p == nil {
		return nil
	}

	f := dhcpopt.FamilyV6
	if is4 {
		f = dhcpopt.FamilyV4
	}

	var errs []error
	for _, c := range p.Options.Codes() {
		errs = append(errs, dhcpfilter.ValidateReplyOption(f, c))
	}

	for i, g := range p.Groups {
		if g == nil {
			errs = append(errs, fmt.Errorf("group at index %d: %w", i, errors.ErrNoValue))

			continue
		}

		for _, c := range g.Options.Codes() {
			err = dhcpfilter.ValidateReplyOption(f, c)
			errs = append(errs, errors.Annotate(err, "group %q: %w", g.Name))
		}
	}

	return errors.Join(errs...)
}

// applyPolicies sets the options of global and of the policy of link to reply.
// requested are the codes the client has asked for.  base, if not nil, is
// applied first and is always limited to requested.
func (d *Dispatcher) applyPolicies(
	ctx context.Context,
	reply dhcpopt.Options,
	req dhcpopt.Options,
	requested []dhcpopt.Code,
	base *dhcpfilter.Policy,
	global *dhcpfilter.Policy,
	link *dhcpbind.Link,
) {
	reqSet := container.NewMapSet(requested...)
	if base != nil {
		dhcpfilter.Apply(reply, req, reqSet, base)
	}

	var linkPolicy *dhcpfilter.Policy
	if link != nil {
		linkPolicy = d.linkPolicies[link.Name]
	}

	var limit *container.MapSet[dhcpopt.Code]
	if d.sendRequestedOnly {
		limit = reqSet
	}

	matched := dhcpfilter.Apply(reply, req, limit, global, linkPolicy)
	if len(matched) > 0 {
		d.logger.DebugContext(ctx, "filter groups matched", "groups", matched)
	}
}
