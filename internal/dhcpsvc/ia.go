package dhcpsvc

import (
	"net/netip"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpbind"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpmsg"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/insomniacslk/dhcp/iana"
)

// ia6 is an identity association of a DHCPv6 client message and the result of
// its processing.
type ia6 struct {
	// binding is the binding made or extended for the association, if any.
	binding *dhcpbind.Binding

	// status is the association-level status, if any.
	status *dhcpopt.StatusCode

	// err is the error of the binding operation, if any.
	err error

	// addrs are the addresses, or the first addresses of the prefixes, the
	// client has put into the association.
	addrs []netip.Addr

	// iaid is the identifier of the association.
	iaid uint32

	// typ is the type of the association.
	typ dhcpbind.IAType
}

// iasOf returns the identity associations of msg in the order of their types.
func iasOf(msg *dhcpmsg.Message6) (ias []*ia6) {
	ias = make([]*ia6, 0, len(msg.IANAs)+len(msg.IATAs)+len(msg.IAPDs))
	for _, o := range msg.IANAs {
		ias = append(ias, &ia6{
			addrs: iaAddrs(o.Addrs),
			iaid:  o.IAID,
			typ:   dhcpbind.IATypeNA,
		})
	}

	for _, o := range msg.IATAs {
		ias = append(ias, &ia6{
			addrs: iaAddrs(o.Addrs),
			iaid:  o.IAID,
			typ:   dhcpbind.IATypeTA,
		})
	}

	for _, o := range msg.IAPDs {
		a := &ia6{
			iaid: o.IAID,
			typ:  dhcpbind.IATypePD,
		}

		// A prefix with an unspecified address only hints the length.
		for _, p := range o.Prefixes {
			if p.Prefix.IsValid() && !p.Prefix.Addr().IsUnspecified() {
				a.addrs = append(a.addrs, p.Prefix.Addr())
			}
		}

		ias = append(ias, a)
	}

	return ias
}

// iaAddrs returns the valid addresses of opts.
func iaAddrs(opts []*dhcpopt.IAAddr) (addrs []netip.Addr) {
	for _, o := range opts {
		if o.Addr.IsValid() && !o.Addr.IsUnspecified() {
			addrs = append(addrs, o.Addr)
		}
	}

	return addrs
}

// hint returns the address the client prefers, if any.
func (a *ia6) hint() (addr netip.Addr) {
	if len(a.addrs) == 0 {
		return netip.Addr{}
	}

	return a.addrs[0]
}

// setError sets the status of a reflecting err.
func (a *ia6) setError(err error) {
	a.err = err
	a.status = statusOf(a.typ, err)
}

// statusOf returns the status code option reflecting err returned by the
// binding manager for an association of type t.
func statusOf(t dhcpbind.IAType, err error) (st *dhcpopt.StatusCode) {
	switch {
	case errors.Is(err, dhcpbind.ErrNoAddrsAvail):
		if t == dhcpbind.IATypePD {
			return dhcpopt.NewStatusCode(iana.StatusNoPrefixAvail, "no prefixes available")
		}

		return dhcpopt.NewStatusCode(iana.StatusNoAddrsAvail, "no addresses available")
	case
		errors.Is(err, dhcpbind.ErrNoBinding),
		errors.Is(err, dhcpbind.ErrUnknownRebind):
		return dhcpopt.NewStatusCode(iana.StatusNoBinding, "no binding")
	case errors.Is(err, dhcpbind.ErrNotOnLink):
		return dhcpopt.NewStatusCode(iana.StatusNotOnLink, "not on link")
	default:
		return dhcpopt.NewStatusCode(iana.StatusUnspecFail, "internal failure")
	}
}

// addIAs adds the associations of ias having either a binding or a status to
// resp.
func addIAs(resp *dhcpmsg.Message6, ias []*ia6) {
	for _, a := range ias {
		if a.binding == nil && a.status == nil {
			continue
		}

		switch a.typ {
		case dhcpbind.IATypeNA:
			resp.IANAs = append(resp.IANAs, a.iana())
		case dhcpbind.IATypeTA:
			resp.IATAs = append(resp.IATAs, a.iata())
		case dhcpbind.IATypePD:
			resp.IAPDs = append(resp.IAPDs, a.iapd())
		}
	}
}

// iaAddr returns the address option of the binding of a, if any.
func (a *ia6) iaAddr() (addrs []*dhcpopt.IAAddr) {
	b := a.binding
	if b == nil {
		return nil
	}

	return []*dhcpopt.IAAddr{{
		Addr:      b.Addr,
		Preferred: b.Preferred,
		Valid:     b.Valid,
	}}
}

// iana returns the IA_NA option for a.
func (a *ia6) iana() (o *dhcpopt.IANA) {
	o = &dhcpopt.IANA{
		Status: a.status,
		Addrs:  a.iaAddr(),
		IAID:   a.iaid,
	}

	if b := a.binding; b != nil {
		o.T1, o.T2 = b.T1, b.T2
	}

	return o
}

// iata returns the IA_TA option for a.
func (a *ia6) iata() (o *dhcpopt.IATA) {
	return &dhcpopt.IATA{
		Status: a.status,
		Addrs:  a.iaAddr(),
		IAID:   a.iaid,
	}
}

// iapd returns the IA_PD option for a.
func (a *ia6) iapd() (o *dhcpopt.IAPD) {
	o = &dhcpopt.IAPD{
		Status: a.status,
		IAID:   a.iaid,
	}

	if b := a.binding; b != nil {
		o.T1, o.T2 = b.T1, b.T2
		o.Prefixes = []*dhcpopt.IAPrefix{{
			Prefix:    b.Prefix(),
			Preferred: b.Preferred,
			Valid:     b.Valid,
		}}
	}

	return o
}
