package dhcpsvc

import (
	"bytes"
	"context"
	"fmt"
	"net/netip"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpbind"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpmsg"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/gopacket/layers"
	"github.com/insomniacslk/dhcp/iana"
)

const (
	// errNoClientID is returned when a message lacks the required client
	// identifier.
	errNoClientID errors.Error = "no client identifier"

	// errNoServerID is returned when a message lacks the required server
	// identifier.
	errNoServerID errors.Error = "no server identifier"

	// errServerIDMismatch is returned when a message is addressed to another
	// server.
	errServerIDMismatch errors.Error = "server identifier mismatch"

	// errUnexpectedServerID is returned when a message carries a server
	// identifier it must not carry.
	errUnexpectedServerID errors.Error = "unexpected server identifier"

	// errNoLink is returned when the link of the client can't be determined.
	errNoLink errors.Error = "no link for the client"

	// errUnexpectedIA is returned when a message carries an identity
	// association it must not carry.
	errUnexpectedIA errors.Error = "unexpected identity association"

	// errNoAddrs is returned when a message carries no addresses to check.
	errNoAddrs errors.Error = "no addresses"

	// errUnexpectedType is returned for messages the server doesn't process.
	errUnexpectedType errors.Error = "unexpected message type"
)

// processor6 processes a DHCPv6 client message.  resp is nil if the message
// must not be answered, in which case err describes the reason.
type processor6 func(ctx context.Context, req *request6) (resp *dhcpmsg.Message6, err error)

// request6 is a DHCPv6 client message with the context of its handling.
type request6 struct {
	// msg is the client message, unwrapped from the relay envelopes.
	msg *dhcpmsg.Message6

	// link is the link the client is attached to.  It's nil if it can't be
	// determined.
	link *dhcpbind.Link

	// clientID is the DUID of the client.
	clientID []byte
}

// bindingRequest returns the binding manager request for a of req.
func (req *request6) bindingRequest(a *ia6, addr netip.Addr, commit bool) (br *dhcpbind.Request) {
	return &dhcpbind.Request{
		Link:     req.link,
		ClientID: req.clientID,
		Addr:     addr,
		IAID:     a.iaid,
		IAType:   a.typ,
		Commit:   commit,
	}
}

// handle6 unwraps p, processes the client message within it, and wraps the
// reply into the relay envelopes mirroring the ones of p.
func (d *Dispatcher) handle6(
	ctx context.Context,
	local netip.AddrPort,
	p dhcpmsg.Packet6,
) (resp dhcpmsg.Packet6, err error) {
	msg, relays := dhcpmsg.Innermost(p)
	if msg == nil {
		return nil, fmt.Errorf("client message: %w", errors.ErrNoValue)
	}

	for _, r := range relays {
		if r.Type != layers.DHCPv6MsgTypeRelayForward {
			return nil, fmt.Errorf("relay: %w: %s", errUnexpectedType, r.Type)
		}
	}

	proc, ok := d.procs6[msg.Type]
	if !ok {
		return nil, fmt.Errorf("message: %w: %s", errUnexpectedType, msg.Type)
	}

	if len(relays) > 0 {
		msg.IfaceName = relays[0].IfaceName
	}

	req := &request6{
		msg:      msg,
		link:     d.link6(local, msg, relays),
		clientID: msg.ClientID(),
	}

	k := replyKey{
		client: string(req.clientID),
		xid:    msg.XID,
		family: dhcpopt.FamilyV6,
		typ:    uint8(msg.Type),
	}

	if cached, isCached := d.cached(ctx, k); isCached {
		if cp, isPacket := cached.(dhcpmsg.Packet6); isPacket {
			return cp, nil
		}
	}

	reply, err := proc(ctx, req)
	if reply == nil {
		return nil, err
	}

	resp = wrapRelays(reply, relays)
	if len(req.clientID) > 0 {
		d.remember(ctx, k, resp)
	}

	return resp, nil
}

// link6 returns the link of the client that sent msg through relays, which
// are ordered outermost first.
func (d *Dispatcher) link6(
	local netip.AddrPort,
	msg *dhcpmsg.Message6,
	relays []*dhcpmsg.RelayMessage6,
) (l *dhcpbind.Link) {
	for i := len(relays) - 1; i >= 0; i-- {
		addr := relays[i].LinkAddr
		if addr.IsValid() && !addr.IsUnspecified() {
			return d.bindings.LinkForAddr(addr)
		}
	}

	if l = d.bindings.LinkByInterface(msg.IfaceName, false); l != nil {
		return l
	}

	return d.bindings.LinkForAddr(local.Addr())
}

// wrapRelays wraps reply into the relay-reply envelopes mirroring relays,
// which are ordered outermost first.
func wrapRelays(reply *dhcpmsg.Message6, relays []*dhcpmsg.RelayMessage6) (p dhcpmsg.Packet6) {
	p = reply
	for i := len(relays) - 1; i >= 0; i-- {
		r := relays[i]
		env := &dhcpmsg.RelayMessage6{
			Options:   dhcpopt.Options{},
			Inner:     p,
			Local:     r.Local,
			Remote:    r.Remote,
			IfaceName: r.IfaceName,
			LinkAddr:  r.LinkAddr,
			PeerAddr:  r.PeerAddr,
			Type:      layers.DHCPv6MsgTypeRelayReply,
			HopCount:  r.HopCount,
		}

		// See RFC 8415 section 21.18.
		if id := r.Options.Get(dhcpopt.Code6InterfaceID); id != nil {
			env.Options.Set(id)
		}

		p = env
	}

	return p
}

// serverIDRule is the requirement for the server identifier of a client
// message, see RFC 8415 section 16.
type serverIDRule uint8

// serverIDRule values.
const (
	serverIDForbidden serverIDRule = iota
	serverIDRequired
	serverIDOptional
)

// checkIDs6 returns an error if the identifiers of msg violate the rules for
// its type.
func (d *Dispatcher) checkIDs6(
	msg *dhcpmsg.Message6,
	needClientID bool,
	rule serverIDRule,
) (err error) {
	if needClientID && len(msg.ClientID()) == 0 {
		return errNoClientID
	}

	srvID, hasSrvID := msg.Options.Opaque(dhcpopt.Code6ServerID)
	switch rule {
	case serverIDForbidden:
		if hasSrvID {
			return errUnexpectedServerID
		}
	case serverIDRequired:
		if !hasSrvID {
			return errNoServerID
		}

		fallthrough
	default:
		if hasSrvID && !bytes.Equal(srvID, d.serverDUID) {
			return errServerIDMismatch
		}
	}

	return nil
}

// newReply6 returns a reply of type typ to req with the identifiers set.
func (d *Dispatcher) newReply6(req *request6, typ layers.DHCPv6MsgType) (resp *dhcpmsg.Message6) {
	resp = dhcpmsg.NewReply6(req.msg, typ)
	resp.Options.Set(dhcpopt.NewOpaque(dhcpopt.Code6ServerID, d.serverDUID))
	if len(req.clientID) > 0 {
		resp.Options.Set(dhcpopt.NewOpaque(dhcpopt.Code6ClientID, req.clientID))
	}

	return resp
}

// finishReply6 sets the configured options and the server unicast option to
// resp.
func (d *Dispatcher) finishReply6(ctx context.Context, req *request6, resp *dhcpmsg.Message6) {
	requested := req.msg.RequestedCodes()
	d.applyPolicies(ctx, resp.Options, req.msg.Options, requested, nil, d.policy6, req.link)

	if d.unicast.IsValid() {
		resp.Options.Set(dhcpopt.NewIP(dhcpopt.Code6Unicast, d.unicast))
	}
}

// useMulticast returns the reply refusing req if it was received via unicast
// while the server doesn't accept unicast messages, see RFC 8415 section 18.4.
// Otherwise, it returns nil.
func (d *Dispatcher) useMulticast(req *request6) (resp *dhcpmsg.Message6) {
	if !req.msg.Unicast || d.unicast.IsValid() {
		return nil
	}

	resp = d.newReply6(req, layers.DHCPv6MsgTypeReply)
	resp.Options.Set(dhcpopt.NewStatusCode(iana.StatusUseMulticast, "use multicast"))

	return resp
}

// processSolicit processes the SOLICIT message, see RFC 8415 section 18.3.1.
func (d *Dispatcher) processSolicit(
	ctx context.Context,
	req *request6,
) (resp *dhcpmsg.Message6, err error) {
	err = d.checkIDs6(req.msg, true, serverIDForbidden)
	if err != nil {
		return nil, err
	} else if req.link == nil {
		return nil, errNoLink
	}

	rapid := d.rapidCommit && req.msg.Options.Has(dhcpopt.Code6RapidCommit)
	typ := layers.DHCPv6MsgTypeAdverstise
	if rapid {
		typ = layers.DHCPv6MsgTypeReply
	}

	resp = d.newReply6(req, typ)

	ias := iasOf(req.msg)
	bound := 0
	for _, a := range ias {
		b, bindErr := d.bindings.Allocate(ctx, req.bindingRequest(a, a.hint(), rapid))
		if bindErr != nil {
			d.logBindingError(ctx, "allocating for solicit", bindErr)
			a.status = statusOf(a.typ, bindErr)

			continue
		}

		a.binding = b
		bound++
	}

	if len(ias) > 0 && bound == 0 {
		resp.Options.Set(dhcpopt.NewStatusCode(iana.StatusNoAddrsAvail, "no addresses available"))

		return resp, nil
	}

	addIAs(resp, ias)

	if rapid {
		resp.Options.Set(dhcpopt.NewOpaque(dhcpopt.Code6RapidCommit, nil))
	} else {
		resp.Options.Set(dhcpopt.NewUint8(dhcpopt.Code6Preference, d.preference))
	}

	d.finishReply6(ctx, req, resp)

	return resp, nil
}

// processRequest6 processes the REQUEST message, see RFC 8415 section 18.3.2.
func (d *Dispatcher) processRequest6(
	ctx context.Context,
	req *request6,
) (resp *dhcpmsg.Message6, err error) {
	err = d.checkIDs6(req.msg, true, serverIDRequired)
	if err != nil {
		return nil, err
	} else if resp = d.useMulticast(req); resp != nil {
		return resp, nil
	} else if req.link == nil {
		return nil, errNoLink
	}

	resp = d.newReply6(req, layers.DHCPv6MsgTypeReply)

	ias := iasOf(req.msg)
	for _, a := range ias {
		if len(a.addrs) > 0 && !d.bindings.Confirm(ctx, req.link, a.addrs) {
			a.status = statusOf(a.typ, dhcpbind.ErrNotOnLink)

			continue
		}

		b, bindErr := d.bindings.Allocate(ctx, req.bindingRequest(a, a.hint(), true))
		if bindErr != nil {
			d.logBindingError(ctx, "allocating for request", bindErr)
			a.status = statusOf(a.typ, bindErr)

			continue
		}

		a.binding = b
	}

	addIAs(resp, ias)
	d.finishReply6(ctx, req, resp)

	return resp, nil
}

// processRenew processes the RENEW message, see RFC 8415 section 18.3.4.
func (d *Dispatcher) processRenew(
	ctx context.Context,
	req *request6,
) (resp *dhcpmsg.Message6, err error) {
	err = d.checkIDs6(req.msg, true, serverIDRequired)
	if err != nil {
		return nil, err
	} else if resp = d.useMulticast(req); resp != nil {
		return resp, nil
	}

	resp = d.newReply6(req, layers.DHCPv6MsgTypeReply)

	ias := iasOf(req.msg)
	for _, a := range ias {
		d.extend6(ctx, req, a, false)
	}

	addIAs(resp, ias)
	d.finishReply6(ctx, req, resp)

	return resp, nil
}

// processRebind processes the REBIND message, see RFC 8415 section 18.3.5.
// The message is dropped if none of its identity associations is known.
func (d *Dispatcher) processRebind(
	ctx context.Context,
	req *request6,
) (resp *dhcpmsg.Message6, err error) {
	err = d.checkIDs6(req.msg, true, serverIDForbidden)
	if err != nil {
		return nil, err
	}

	resp = d.newReply6(req, layers.DHCPv6MsgTypeReply)

	ias := iasOf(req.msg)
	unknown := 0
	for _, a := range ias {
		d.extend6(ctx, req, a, true)
		if errors.Is(a.err, dhcpbind.ErrUnknownRebind) {
			unknown++
		}
	}

	if len(ias) > 0 && unknown == len(ias) {
		return nil, dhcpbind.ErrUnknownRebind
	}

	addIAs(resp, ias)
	d.finishReply6(ctx, req, resp)

	return resp, nil
}

// extend6 renews or rebinds the binding of a.  If a carries no address, the
// binding currently in effect is extended.
func (d *Dispatcher) extend6(ctx context.Context, req *request6, a *ia6, rebind bool) {
	if req.link == nil {
		a.setError(dhcpbind.ErrNotOnLink)

		return
	}

	addrs := a.addrs
	if len(addrs) == 0 {
		b, ok := d.bindings.Lookup(ctx, req.bindingRequest(a, netip.Addr{}, false))
		if !ok {
			a.setError(dhcpbind.ErrNoBinding)

			return
		}

		addrs = []netip.Addr{b.Addr}
	}

	var err error
	for _, addr := range addrs {
		var b *dhcpbind.Binding
		if rebind {
			b, err = d.bindings.Rebind(ctx, req.bindingRequest(a, addr, true))
		} else {
			b, err = d.bindings.Renew(ctx, req.bindingRequest(a, addr, true))
		}

		if err == nil {
			a.binding = b

			return
		}
	}

	d.logBindingError(ctx, "extending binding", err)
	a.setError(err)
}

// processConfirm processes the CONFIRM message, see RFC 8415 section 18.3.3.
// The message is dropped if it carries no addresses.
func (d *Dispatcher) processConfirm(
	ctx context.Context,
	req *request6,
) (resp *dhcpmsg.Message6, err error) {
	err = d.checkIDs6(req.msg, true, serverIDForbidden)
	if err != nil {
		return nil, err
	}

	var addrs []netip.Addr
	for _, a := range iasOf(req.msg) {
		if a.typ != dhcpbind.IATypePD {
			addrs = append(addrs, a.addrs...)
		}
	}

	if len(addrs) == 0 {
		return nil, errNoAddrs
	} else if req.link == nil {
		return nil, errNoLink
	}

	resp = d.newReply6(req, layers.DHCPv6MsgTypeReply)

	st := dhcpopt.NewStatusCode(iana.StatusSuccess, "all addresses are on link")
	if !d.bindings.Confirm(ctx, req.link, addrs) {
		st = dhcpopt.NewStatusCode(iana.StatusNotOnLink, "not on link")
	}

	resp.Options.Set(st)
	d.finishReply6(ctx, req, resp)

	return resp, nil
}

// processRelease6 processes the RELEASE message, see RFC 8415 section 18.3.7.
func (d *Dispatcher) processRelease6(
	ctx context.Context,
	req *request6,
) (resp *dhcpmsg.Message6, err error) {
	return d.free6(ctx, req, d.bindings.Release, "released")
}

// processDecline6 processes the DECLINE message, see RFC 8415 section 18.3.8.
func (d *Dispatcher) processDecline6(
	ctx context.Context,
	req *request6,
) (resp *dhcpmsg.Message6, err error) {
	return d.free6(ctx, req, d.bindings.Decline, "declined")
}

// free6 applies op to every address of the identity associations of req.  The
// reply carries the message-level success status and the identity
// associations without bindings.
func (d *Dispatcher) free6(
	ctx context.Context,
	req *request6,
	op func(ctx context.Context, br *dhcpbind.Request) (err error),
	done string,
) (resp *dhcpmsg.Message6, err error) {
	err = d.checkIDs6(req.msg, true, serverIDRequired)
	if err != nil {
		return nil, err
	} else if resp = d.useMulticast(req); resp != nil {
		return resp, nil
	}

	resp = d.newReply6(req, layers.DHCPv6MsgTypeReply)

	ias := iasOf(req.msg)
	for _, a := range ias {
		if req.link == nil || len(a.addrs) == 0 {
			a.setError(dhcpbind.ErrNoBinding)

			continue
		}

		for _, addr := range a.addrs {
			opErr := op(ctx, req.bindingRequest(a, addr, false))
			if opErr != nil {
				d.logBindingError(ctx, done, opErr)
				a.setError(opErr)
			}
		}
	}

	addIAs(resp, ias)
	resp.Options.Set(dhcpopt.NewStatusCode(iana.StatusSuccess, done))
	d.finishReply6(ctx, req, resp)

	return resp, nil
}

// processInfoRequest processes the INFORMATION-REQUEST message, see RFC 8415
// section 18.3.6.
func (d *Dispatcher) processInfoRequest(
	ctx context.Context,
	req *request6,
) (resp *dhcpmsg.Message6, err error) {
	if req.msg.HasIA() {
		return nil, errUnexpectedIA
	}

	err = d.checkIDs6(req.msg, false, serverIDOptional)
	if err != nil {
		return nil, err
	}

	// See RFC 8415 section 18.2.6.
	if req.msg.ClientID() == nil {
		d.logger.WarnContext(ctx, "information-request without client id", keyXID, req.msg.XID)
	}

	resp = d.newReply6(req, layers.DHCPv6MsgTypeReply)
	d.finishReply6(ctx, req, resp)

	return resp, nil
}
