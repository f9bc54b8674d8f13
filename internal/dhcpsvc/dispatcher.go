package dhcpsvc

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpbind"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpfilter"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpmsg"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/google/gopacket/layers"
)

// Handler processes the decoded DHCP messages.
type Handler interface {
	// Handle returns the reply to req received on local, or nil if req must
	// not be answered.
	Handle(ctx context.Context, local netip.AddrPort, req dhcpmsg.Message) (resp dhcpmsg.Message)
}

// Dispatcher is the [Handler] selecting the processor for the type of an
// inbound message.  All methods are safe for concurrent use.
type Dispatcher struct {
	logger      *slog.Logger
	clock       timeutil.Clock
	bindings    *dhcpbind.Manager
	metrics     Metrics
	addrChecker AddressChecker
	cache       *replyCache

	// implicit4 are the default values of the DHCPv4 host configuration
	// parameters.
	implicit4 *dhcpfilter.Policy

	policy4      *dhcpfilter.Policy
	policy6      *dhcpfilter.Policy
	linkPolicies map[string]*dhcpfilter.Policy

	procs4 map[layers.DHCPMsgType]processor4
	procs6 map[layers.DHCPv6MsgType]processor6

	serverDUID []byte
	serverID4  netip.Addr
	unicast    netip.Addr

	preference        uint8
	rapidCommit       bool
	sendRequestedOnly bool
}

// New returns a new properly initialized *Dispatcher.  conf must be valid.
func New(conf *Config) (d *Dispatcher, err error) {
	err = conf.Validate()
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}

	d = &Dispatcher{
		logger:            conf.Logger,
		clock:             conf.Clock,
		bindings:          conf.Bindings,
		metrics:           conf.Metrics,
		addrChecker:       conf.AddrChecker,
		cache:             newReplyCache(conf.ReplyCacheSize, conf.ReplyCacheTTL),
		implicit4:         implicitPolicy4(),
		policy4:           conf.Policy4,
		policy6:           conf.Policy6,
		linkPolicies:      conf.LinkPolicies,
		serverDUID:        conf.ServerDUID,
		serverID4:         conf.ServerID4,
		unicast:           conf.Unicast,
		preference:        conf.Preference,
		rapidCommit:       conf.RapidCommit,
		sendRequestedOnly: conf.SendRequestedOnly,
	}

	d.procs4 = map[layers.DHCPMsgType]processor4{
		layers.DHCPMsgTypeDiscover: d.processDiscover,
		layers.DHCPMsgTypeRequest:  d.processRequest4,
		layers.DHCPMsgTypeDecline:  d.processDecline4,
		layers.DHCPMsgTypeRelease:  d.processRelease4,
		layers.DHCPMsgTypeInform:   d.processInform,
	}

	d.procs6 = map[layers.DHCPv6MsgType]processor6{
		layers.DHCPv6MsgTypeSolicit:            d.processSolicit,
		layers.DHCPv6MsgTypeRequest:            d.processRequest6,
		layers.DHCPv6MsgTypeConfirm:            d.processConfirm,
		layers.DHCPv6MsgTypeRenew:              d.processRenew,
		layers.DHCPv6MsgTypeRebind:             d.processRebind,
		layers.DHCPv6MsgTypeRelease:            d.processRelease6,
		layers.DHCPv6MsgTypeDecline:            d.processDecline6,
		layers.DHCPv6MsgTypeInformationRequest: d.processInfoRequest,
	}

	return d, nil
}

// type check
var _ Handler = (*Dispatcher)(nil)

// Handle implements the [Handler] interface for *Dispatcher.
func (d *Dispatcher) Handle(
	ctx context.Context,
	local netip.AddrPort,
	req dhcpmsg.Message,
) (resp dhcpmsg.Message) {
	start := d.clock.Now()
	reqType, respType := respNone, respNone

	var err error
	switch m := req.(type) {
	case *dhcpmsg.Message4:
		reqType = m.MessageType().String()

		var r *dhcpmsg.Message4
		r, err = d.handle4(ctx, local, m)
		if r != nil {
			resp, respType = r, r.MessageType().String()
		}
	case dhcpmsg.Packet6:
		reqType = innerType(m)

		var r dhcpmsg.Packet6
		r, err = d.handle6(ctx, local, m)
		if r != nil {
			resp, respType = r, innerType(r)
		}
	default:
		err = fmt.Errorf("message: %w: %T", errors.ErrBadEnumValue, req)
	}

	if err != nil {
		d.logger.DebugContext(
			ctx,
			"dropping request",
			keyFamily, req.Family(),
			keyType, reqType,
			slogutil.KeyError, err,
		)
	}

	d.metrics.ObserveRequest(ctx, req.Family(), reqType, respType, d.clock.Now().Sub(start))

	return resp
}

// innerType returns the type of the client-server message within p.
func innerType(p dhcpmsg.Packet6) (typ string) {
	msg, _ := dhcpmsg.Innermost(p)
	if msg == nil {
		return p.MessageType().String()
	}

	return msg.Type.String()
}

// cached returns the cached reply for k, if any.
func (d *Dispatcher) cached(ctx context.Context, k replyKey) (resp dhcpmsg.Message, ok bool) {
	resp, ok = d.cache.get(k)
	if ok {
		d.metrics.IncrementReplyCacheHits(ctx, k.family)
		d.logger.DebugContext(ctx, "reply from cache", keyFamily, k.family, keyXID, k.xid)
	}

	return resp, ok
}

// remember caches resp for k.
func (d *Dispatcher) remember(ctx context.Context, k replyKey, resp dhcpmsg.Message) {
	err := d.cache.set(k, resp)
	if err != nil {
		d.logger.WarnContext(ctx, "caching reply", keyXID, k.xid, slogutil.KeyError, err)
	}
}

// logBindingError logs err from the binding manager with the level reflecting
// its cause.
func (d *Dispatcher) logBindingError(ctx context.Context, msg string, err error) {
	lvl := slog.LevelDebug
	if errors.Is(err, dhcpbind.ErrStore) {
		lvl = slog.LevelError
	}

	d.logger.Log(ctx, lvl, msg, slogutil.KeyError, err)
}
