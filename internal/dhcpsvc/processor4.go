package dhcpsvc

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpbind"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpmsg"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/gopacket/layers"
)

const (
	// errUnicast is returned for messages that must be broadcast by clients.
	errUnicast errors.Error = "unicast without relay"

	// errBadClientAddr is returned when ciaddr is set or unset contrary to the
	// state of the client.
	errBadClientAddr errors.Error = "unexpected ciaddr"
)

// maxOfferAttempts is the maximum number of addresses tried for a single
// DHCPDISCOVER when the offered addresses turn out to be in use.
const maxOfferAttempts = 3

// processor4 processes a DHCPv4 client message.  resp is nil if the message
// must not be answered, in which case err describes the reason, if any.
type processor4 func(ctx context.Context, req *request4) (resp *dhcpmsg.Message4, err error)

// request4 is a DHCPv4 client message with the context of its handling.
type request4 struct {
	// msg is the client message.
	msg *dhcpmsg.Message4

	// link is the link the client is attached to.  It's nil if it can't be
	// determined.
	link *dhcpbind.Link

	// clientID is the identity of the client.
	clientID []byte
}

// bindingRequest returns the binding manager request of req for addr.
func (req *request4) bindingRequest(addr netip.Addr, commit bool) (br *dhcpbind.Request) {
	return &dhcpbind.Request{
		Link:     req.link,
		ClientID: req.clientID,
		Hostname: hostname4(req.msg),
		Addr:     addr,
		IAType:   dhcpbind.IATypeV4,
		Commit:   commit,
	}
}

// handle4 processes msg received on local.
func (d *Dispatcher) handle4(
	ctx context.Context,
	local netip.AddrPort,
	msg *dhcpmsg.Message4,
) (resp *dhcpmsg.Message4, err error) {
	if msg.Op != layers.DHCPOpRequest {
		return nil, fmt.Errorf("op: %w: %s", errUnexpectedType, msg.Op)
	}

	// The "DHCP message type" option must be included in every DHCP message.
	//
	// See https://datatracker.ietf.org/doc/html/rfc2131#section-3.
	typ := msg.MessageType()
	proc, ok := d.procs4[typ]
	if !ok {
		return nil, fmt.Errorf("message: %w: %s", errUnexpectedType, typ)
	}

	req := &request4{
		msg:      msg,
		link:     d.link4(local, msg),
		clientID: clientID4(msg),
	}

	// A datagram sent to the subnet-directed broadcast address is a broadcast
	// one, see RFC 919.
	if msg.Unicast && req.link != nil && local.Addr() == directedBroadcast4(req.link.Prefix) {
		msg.Unicast = false
	}

	if len(req.clientID) == 0 {
		return nil, errNoClientID
	}

	k := replyKey{
		client: string(req.clientID),
		xid:    msg.XID,
		family: dhcpopt.FamilyV4,
		typ:    uint8(typ),
	}

	if cached, isCached := d.cached(ctx, k); isCached {
		if cm, isMsg := cached.(*dhcpmsg.Message4); isMsg {
			return cm, nil
		}
	}

	resp, err = proc(ctx, req)
	if resp == nil {
		return nil, err
	}

	setRemote4(msg, resp)
	d.remember(ctx, k, resp)

	return resp, nil
}

// link4 returns the link of the client that sent msg received on local.
func (d *Dispatcher) link4(local netip.AddrPort, msg *dhcpmsg.Message4) (l *dhcpbind.Link) {
	if msg.IsRelayed() {
		return d.bindings.LinkForAddr(msg.GatewayAddr)
	}

	if ciaddr := msg.ClientAddr; ciaddr.IsValid() && !ciaddr.IsUnspecified() {
		if l = d.bindings.LinkForAddr(ciaddr); l != nil {
			return l
		}
	}

	if l = d.bindings.LinkByInterface(msg.IfaceName, true); l != nil {
		return l
	}

	return d.bindings.LinkForAddr(local.Addr())
}

// directedBroadcast4 returns the subnet-directed broadcast address of the IPv4
// prefix p.  It returns an invalid address if p isn't an IPv4 one.
func directedBroadcast4(p netip.Prefix) (addr netip.Addr) {
	if !p.Addr().Is4() {
		return netip.Addr{}
	}

	ip := p.Masked().Addr().As4()
	host := ^uint32(0) >> p.Bits()
	for i := range ip {
		ip[i] |= byte(host >> (8 * (3 - i)))
	}

	return netip.AddrFrom4(ip)
}

// setRemote4 sets the destination of resp to req, see RFC 2131 section 4.1.
func setRemote4(req, resp *dhcpmsg.Message4) {
	isNAK := resp.MessageType() == layers.DHCPMsgTypeNak

	switch {
	case req.IsRelayed():
		resp.Remote = netip.AddrPortFrom(req.GatewayAddr, dhcpmsg.ServerPort4)
		if isNAK {
			resp.Flags |= dhcpmsg.FlagBroadcast
		}
	case !isNAK && req.ClientAddr.IsValid() && !req.ClientAddr.IsUnspecified():
		resp.Remote = netip.AddrPortFrom(req.ClientAddr, dhcpmsg.ClientPort4)
	default:
		// Unicasting to yiaddr requires writing the link-layer address of the
		// client into the ARP cache, so the reply is broadcast instead.
		resp.Remote = netip.AddrPortFrom(broadcast4, dhcpmsg.ClientPort4)
	}
}

// broadcast4 is the limited broadcast address.
var broadcast4 = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// newReply4 returns a reply of type typ to req with the server identifier and
// the echoed client options set.
func (d *Dispatcher) newReply4(req *request4, typ layers.DHCPMsgType) (resp *dhcpmsg.Message4) {
	resp = dhcpmsg.NewReply4(req.msg, typ)
	resp.Options.Set(dhcpopt.NewIP(dhcpopt.Code4ServerID, d.serverID4))

	// See RFC 6842.
	if id := req.msg.Options.Get(dhcpopt.Code4ClientID); id != nil {
		resp.Options.Set(id)
	}

	// See RFC 3046 section 2.2.
	if info := req.msg.Options.Get(dhcpopt.Code4RelayAgentInfo); info != nil {
		resp.Options.Set(info)
	}

	return resp
}

// finishReply4 sets the options of the link, the configured and implicit
// options, and the lease options of b, if any, to resp.
func (d *Dispatcher) finishReply4(
	ctx context.Context,
	req *request4,
	resp *dhcpmsg.Message4,
	b *dhcpbind.Binding,
) {
	setLinkOptions4(resp, req.link)

	// If the server recognizes the parameter as a parameter defined in the Host
	// Requirements Document, the server MUST include the default value for that
	// parameter.
	//
	// See https://datatracker.ietf.org/doc/html/rfc2131#section-4.3.1.
	requested := requestedCodes4(req.msg)
	d.applyPolicies(ctx, resp.Options, req.msg.Options, requested, d.implicit4, d.policy4, req.link)

	if b != nil {
		setLeaseOptions4(resp, b)
	}
}

// nak returns the DHCPNAK reply to req with the message for the client.
func (d *Dispatcher) nak(req *request4, msg string) (resp *dhcpmsg.Message4) {
	resp = d.newReply4(req, layers.DHCPMsgTypeNak)
	resp.Options.Set(dhcpopt.NewString(dhcpopt.Code4Message, msg))

	return resp
}

// ack returns the DHCPACK reply to req for b.
func (d *Dispatcher) ack(ctx context.Context, req *request4, b *dhcpbind.Binding) (resp *dhcpmsg.Message4) {
	resp = d.newReply4(req, layers.DHCPMsgTypeAck)
	resp.ClientAddr = req.msg.ClientAddr
	resp.YourAddr = b.Addr
	d.finishReply4(ctx, req, resp, b)

	return resp
}

// processDiscover processes the DHCPDISCOVER message, see RFC 2131 section
// 4.3.1.
func (d *Dispatcher) processDiscover(
	ctx context.Context,
	req *request4,
) (resp *dhcpmsg.Message4, err error) {
	if req.msg.Unicast && !req.msg.IsRelayed() {
		return nil, errUnicast
	} else if req.link == nil {
		return nil, errNoLink
	}

	b, err := d.offer(ctx, req, req.msg.IP(dhcpopt.Code4RequestedIP))
	if err != nil {
		d.logBindingError(ctx, "offering", err)

		return nil, err
	}

	resp = d.newReply4(req, layers.DHCPMsgTypeOffer)
	resp.YourAddr = b.Addr
	d.finishReply4(ctx, req, resp, b)

	return resp, nil
}

// offer allocates an offer for req, preferring hint.  Newly offered addresses
// are checked for being in use, and those used are declined.
func (d *Dispatcher) offer(
	ctx context.Context,
	req *request4,
	hint netip.Addr,
) (b *dhcpbind.Binding, err error) {
	for range maxOfferAttempts {
		b, err = d.bindings.Allocate(ctx, req.bindingRequest(hint, false))
		if err != nil {
			return nil, err
		} else if b.State != dhcpbind.StateRequested {
			return b, nil
		}

		ok, checkErr := d.addrChecker.IsAvailable(ctx, b.Addr)
		if checkErr != nil {
			d.logger.WarnContext(ctx, "checking address", "addr", b.Addr, slogutil.KeyError, checkErr)

			return b, nil
		} else if ok {
			return b, nil
		}

		d.logger.WarnContext(ctx, "address is in use", "addr", b.Addr, keyLink, req.link.Name)

		err = d.bindings.Decline(ctx, req.bindingRequest(b.Addr, false))
		if err != nil {
			return nil, err
		}

		hint = netip.Addr{}
	}

	return nil, fmt.Errorf("after %d attempts: %w", maxOfferAttempts, dhcpbind.ErrNoAddrsAvail)
}

// processRequest4 processes the DHCPREQUEST message, see RFC 2131 section
// 4.3.2.
func (d *Dispatcher) processRequest4(
	ctx context.Context,
	req *request4,
) (resp *dhcpmsg.Message4, err error) {
	srvID := req.msg.IP(dhcpopt.Code4ServerID)
	reqIP := req.msg.IP(dhcpopt.Code4RequestedIP)

	switch {
	case srvID.IsValid() && !srvID.IsUnspecified():
		// If the DHCPREQUEST message contains a server identifier option, the
		// message is in response to a DHCPOFFER message.
		if srvID != d.serverID4 {
			return nil, fmt.Errorf("selecting: %w: %s", errServerIDMismatch, srvID)
		}

		return d.processSelecting(ctx, req, reqIP)
	case reqIP.IsValid() && !reqIP.IsUnspecified():
		// Requested IP address option MUST be filled in with client's notion of
		// its previously assigned address.
		return d.processInitReboot(ctx, req, reqIP)
	default:
		// Server identifier MUST NOT be filled in, requested IP address option
		// MUST NOT be filled in, 'ciaddr' MUST be filled in with client's
		// notion of its previously assigned address.
		return d.processExtend4(ctx, req)
	}
}

// processSelecting processes the DHCPREQUEST message sent in the SELECTING
// state.
func (d *Dispatcher) processSelecting(
	ctx context.Context,
	req *request4,
	reqIP netip.Addr,
) (resp *dhcpmsg.Message4, err error) {
	ciaddr := req.msg.ClientAddr
	switch {
	case ciaddr.IsValid() && !ciaddr.IsUnspecified():
		return nil, fmt.Errorf("selecting: %w: %s", errBadClientAddr, ciaddr)
	case req.msg.Unicast && !req.msg.IsRelayed():
		return nil, fmt.Errorf("selecting: %w", errUnicast)
	case req.link == nil:
		return nil, fmt.Errorf("selecting: %w", errNoLink)
	}

	cur, ok := d.bindings.Lookup(ctx, req.bindingRequest(netip.Addr{}, false))
	if !ok {
		return d.nak(req, "no offer"), nil
	} else if cur.Addr != reqIP {
		d.logger.DebugContext(ctx, "selecting mismatch", "requested", reqIP, "offered", cur.Addr)

		return d.nak(req, "address mismatch"), nil
	}

	b, err := d.bindings.Allocate(ctx, req.bindingRequest(reqIP, true))
	if err != nil {
		d.logBindingError(ctx, "committing offer", err)

		return d.nak(req, "address not available"), nil
	}

	return d.ack(ctx, req, b), nil
}

// processInitReboot processes the DHCPREQUEST message sent in the INIT-REBOOT
// state.
func (d *Dispatcher) processInitReboot(
	ctx context.Context,
	req *request4,
	reqIP netip.Addr,
) (resp *dhcpmsg.Message4, err error) {
	// ciaddr must be zero.  The client is seeking to verify a previously
	// allocated, cached configuration.
	ciaddr := req.msg.ClientAddr
	switch {
	case ciaddr.IsValid() && !ciaddr.IsUnspecified():
		return nil, fmt.Errorf("init-reboot: %w: %s", errBadClientAddr, ciaddr)
	case req.msg.Unicast && !req.msg.IsRelayed():
		return nil, fmt.Errorf("init-reboot: %w", errUnicast)
	case req.link == nil:
		return nil, fmt.Errorf("init-reboot: %w", errNoLink)
	case !req.link.Prefix.Contains(reqIP):
		// If the DHCP server detects that the client is on the wrong net then
		// the server SHOULD send a DHCPNAK message to the client.
		return d.nak(req, "wrong network"), nil
	}

	cur, ok := d.bindings.Lookup(ctx, req.bindingRequest(netip.Addr{}, false))
	if !ok {
		// If the DHCP server has no record of this client, then it MUST remain
		// silent.
		return nil, fmt.Errorf("init-reboot: %w", dhcpbind.ErrNoBinding)
	} else if cur.Addr != reqIP {
		return d.nak(req, "address mismatch"), nil
	}

	b, err := d.bindings.Renew(ctx, req.bindingRequest(reqIP, true))
	switch {
	case err == nil:
		return d.ack(ctx, req, b), nil
	case errors.Is(err, dhcpbind.ErrStore):
		d.logBindingError(ctx, "init-reboot", err)

		return nil, err
	default:
		return d.nak(req, "no binding"), nil
	}
}

// processExtend4 processes the DHCPREQUEST message sent in the RENEWING or
// REBINDING state.  Renewing clients unicast their requests, rebinding ones
// broadcast them.
func (d *Dispatcher) processExtend4(
	ctx context.Context,
	req *request4,
) (resp *dhcpmsg.Message4, err error) {
	ciaddr := req.msg.ClientAddr
	if !ciaddr.IsValid() || ciaddr.IsUnspecified() {
		return nil, fmt.Errorf("extending: %w: %s", errBadClientAddr, ciaddr)
	} else if req.link == nil {
		return nil, fmt.Errorf("extending: %w", errNoLink)
	}

	br := req.bindingRequest(ciaddr, true)

	var b *dhcpbind.Binding
	if req.msg.Unicast {
		b, err = d.bindings.Renew(ctx, br)
	} else {
		b, err = d.bindings.Rebind(ctx, br)
	}

	switch {
	case err == nil:
		return d.ack(ctx, req, b), nil
	case errors.Is(err, dhcpbind.ErrNotOnLink):
		return d.nak(req, "wrong network"), nil
	case errors.Is(err, dhcpbind.ErrNoBinding):
		if _, ok := d.bindings.Lookup(ctx, br); ok {
			return d.nak(req, "address mismatch"), nil
		}

		// If the DHCP server has no record of this client, then it MUST remain
		// silent.
		return nil, err
	default:
		d.logBindingError(ctx, "extending", err)

		return nil, err
	}
}

// checkServerID4 returns an error if msg is addressed to another server.
func (d *Dispatcher) checkServerID4(msg *dhcpmsg.Message4) (err error) {
	srvID := msg.IP(dhcpopt.Code4ServerID)
	if srvID.IsValid() && srvID != d.serverID4 {
		return fmt.Errorf("%w: %s", errServerIDMismatch, srvID)
	}

	return nil
}

// processRelease4 processes the DHCPRELEASE message, see RFC 2131 section
// 4.3.4.  It's never answered.
func (d *Dispatcher) processRelease4(
	ctx context.Context,
	req *request4,
) (resp *dhcpmsg.Message4, err error) {
	err = d.checkServerID4(req.msg)
	if err != nil {
		return nil, err
	} else if req.link == nil {
		return nil, errNoLink
	}

	err = d.bindings.Release(ctx, req.bindingRequest(req.msg.ClientAddr, false))
	if err != nil {
		d.logBindingError(ctx, "releasing", err)
	}

	return nil, nil
}

// processDecline4 processes the DHCPDECLINE message, see RFC 2131 section
// 4.3.3.  It's never answered.
func (d *Dispatcher) processDecline4(
	ctx context.Context,
	req *request4,
) (resp *dhcpmsg.Message4, err error) {
	err = d.checkServerID4(req.msg)
	if err != nil {
		return nil, err
	} else if req.link == nil {
		return nil, errNoLink
	}

	reqIP := req.msg.IP(dhcpopt.Code4RequestedIP)
	if !reqIP.IsValid() {
		return nil, fmt.Errorf("requested ip: %w", errors.ErrNoValue)
	}

	d.logger.WarnContext(ctx, "address reported to be in use", "addr", reqIP, keyLink, req.link.Name)

	err = d.bindings.Decline(ctx, req.bindingRequest(reqIP, false))
	if err != nil {
		d.logBindingError(ctx, "declining", err)
	}

	return nil, nil
}

// processInform processes the DHCPINFORM message, see RFC 2131 section 4.3.5.
// The reply carries neither the address nor the lease time.
func (d *Dispatcher) processInform(
	ctx context.Context,
	req *request4,
) (resp *dhcpmsg.Message4, err error) {
	resp = d.newReply4(req, layers.DHCPMsgTypeAck)
	resp.ClientAddr = req.msg.ClientAddr
	d.finishReply4(ctx, req, resp, nil)

	return resp, nil
}

// clientID4 returns the identity of the client that sent msg: the client
// identifier option or the hardware type with the hardware address.
func clientID4(msg *dhcpmsg.Message4) (id []byte) {
	if id, ok := msg.Options.Opaque(dhcpopt.Code4ClientID); ok && len(id) > 0 {
		return id
	}

	hw := msg.HWAddr()
	if len(hw) == 0 {
		return nil
	}

	return append([]byte{byte(msg.HType)}, hw...)
}

// hostname4 returns the host name option of msg, if any.
func hostname4(msg *dhcpmsg.Message4) (hostname string) {
	if opt, ok := msg.Options.Get(dhcpopt.Code4HostName).(*dhcpopt.String); ok {
		return opt.Value
	}

	return ""
}

// requestedCodes4 returns the codes from the parameter request list of msg.
func requestedCodes4(msg *dhcpmsg.Message4) (codes []dhcpopt.Code) {
	if prl, ok := msg.Options.Get(dhcpopt.Code4ParamRequestList).(*dhcpopt.Uint8List); ok {
		return prl.Codes()
	}

	return nil
}
