package dhcpsvc

import (
	"net"
	"net/netip"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpbind"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpfilter"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpmsg"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/netutil"
)

// implicitPolicy4 returns the policy with the default values of the host
// configuration parameters listed in Appendix A of RFC 2131.  It's applied
// before the configured policies, so those override the defaults.
func implicitPolicy4() (p *dhcpfilter.Policy) {
	opts := dhcpopt.Options{}

	setIPPerHostOptions(opts)
	setIPPerInterfaceOptions(opts)
	setLinkPerInterfaceOptions(opts)
	setTCPPerHostOptions(opts)

	return &dhcpfilter.Policy{
		Options: opts,
	}
}

// setIPPerHostOptions sets the IP-layer per host DHCPv4 options to opts.
func setIPPerHostOptions(opts dhcpopt.Options) {
	// An Internet host that includes embedded gateway code MUST have a
	// configuration switch to disable the gateway function, and this switch
	// MUST default to the non-gateway mode.
	//
	// See https://datatracker.ietf.org/doc/html/rfc1122#section-3.3.5.
	opts.Set(dhcpopt.NewUint8(dhcpopt.Code4IPForwarding, 0))

	// A host that supports non-local source-routing MUST have a configurable
	// switch to disable forwarding, and this switch MUST default to disabled.
	//
	// See https://datatracker.ietf.org/doc/html/rfc1122#section-3.3.5.
	opts.Set(dhcpopt.NewUint8(dhcpopt.Code4SourceRouting, 0))

	// Do not set the Policy Filter Option since it only makes sense when the
	// non-local source routing is enabled.

	// The minimum legal value is 576.
	//
	// See https://datatracker.ietf.org/doc/html/rfc2132#section-4.4.
	opts.Set(dhcpopt.NewUint16(dhcpopt.Code4MaxDatagramSize, 576))

	// The current recommended default time to live for the Internet Protocol
	// is 64.
	//
	// See https://www.iana.org/assignments/ip-parameters/ip-parameters.xhtml#ip-parameters-2.
	opts.Set(dhcpopt.NewUint8(dhcpopt.Code4DefaultIPTTL, 64))

	// After the PTMU estimate is decreased, the timeout should be set to 10
	// minutes.
	//
	// See https://datatracker.ietf.org/doc/html/rfc1191#section-6.6.
	opts.Set(dhcpopt.NewUint32(dhcpopt.Code4PathMTUAgingTime, uint32((10 * time.Minute).Seconds())))

	// Each set of similar MTUs is associated with a plateau value equal to the
	// lowest MTU in the group.
	//
	// See https://datatracker.ietf.org/doc/html/rfc1191#section-7.
	opts.Set(dhcpopt.NewUint16List(
		dhcpopt.Code4PathMTUPlateaus,
		68, 296, 508, 1006, 1492, 2002, 4352, 8166, 17914,
	))
}

// setIPPerInterfaceOptions sets the IP-layer per interface DHCPv4 options to
// opts.
func setIPPerInterfaceOptions(opts dhcpopt.Options) {
	// Don't set the Interface MTU because client may choose the value on their
	// own since it's listed in the [Host Requirements RFC].
	//
	// [Host Requirements RFC]: https://datatracker.ietf.org/doc/html/rfc1122#section-3.3.3.

	// The connected hosts aren't expected to be multihomed.
	//
	// See https://datatracker.ietf.org/doc/html/rfc1122#section-3.3.3.
	opts.Set(dhcpopt.NewUint8(dhcpopt.Code4AllSubnetsLocal, 0))

	// The subnet mask is provided by options only.
	//
	// See https://datatracker.ietf.org/doc/html/rfc1122#section-3.2.2.9.
	opts.Set(dhcpopt.NewUint8(dhcpopt.Code4MaskDiscovery, 0))

	// A system MUST NOT send an Address Mask Reply unless it is an
	// authoritative agent for address masks.
	//
	// See https://datatracker.ietf.org/doc/html/rfc1122#section-3.2.2.9.
	opts.Set(dhcpopt.NewUint8(dhcpopt.Code4MaskSupplier, 0))

	// See https://datatracker.ietf.org/doc/html/rfc1256#section-5.1.
	opts.Set(dhcpopt.NewUint8(dhcpopt.Code4RouterDiscovery, 1))

	// The all-routers address is preferred wherever possible.
	//
	// See https://datatracker.ietf.org/doc/html/rfc1256#section-5.1.
	allRouters, _ := netip.AddrFromSlice(netutil.IPv4allrouter())
	opts.Set(dhcpopt.NewIP(dhcpopt.Code4RouterSolicitAddr, allRouters.Unmap()))

	// Don't set the Static Routes Option since it should be set up by system
	// administrator.

	// See https://datatracker.ietf.org/doc/html/rfc1122#section-3.2.1.3.
	bcast, _ := netip.AddrFromSlice(netutil.IPv4bcast())
	opts.Set(dhcpopt.NewIP(dhcpopt.Code4BroadcastAddr, bcast.Unmap()))
}

// setLinkPerInterfaceOptions sets the link-layer per interface DHCPv4 options
// to opts.
func setLinkPerInterfaceOptions(opts dhcpopt.Options) {
	// If the system does not dynamically negotiate use of the trailer protocol
	// on a per-destination basis, the default configuration MUST disable the
	// protocol.
	//
	// See https://datatracker.ietf.org/doc/html/rfc1122#section-2.3.1.
	opts.Set(dhcpopt.NewUint8(dhcpopt.Code4ARPTrailers, 0))

	// For proxy ARP situations, the timeout needs to be on the order of a
	// minute.
	//
	// See https://datatracker.ietf.org/doc/html/rfc1122#section-2.3.2.1.
	opts.Set(dhcpopt.NewUint32(dhcpopt.Code4ARPTimeout, uint32(time.Minute.Seconds())))

	// The switch selecting the encapsulation MUST default to RFC 894.
	//
	// See https://datatracker.ietf.org/doc/html/rfc1122#section-2.3.3.
	opts.Set(dhcpopt.NewUint8(dhcpopt.Code4EthernetEncap, 0))
}

// setTCPPerHostOptions sets the TCP per host DHCPv4 options to opts.
func setTCPPerHostOptions(opts dhcpopt.Options) {
	// A reasonable value is about twice the Internet diameter.
	//
	// See https://datatracker.ietf.org/doc/html/rfc1122#section-3.2.1.7.
	opts.Set(dhcpopt.NewUint8(dhcpopt.Code4TCPTTL, 60))

	// The interval MUST be configurable and MUST default to no less than two
	// hours.
	//
	// See https://datatracker.ietf.org/doc/html/rfc1122#section-4.2.3.6.
	opts.Set(dhcpopt.NewUint32(dhcpopt.Code4TCPKeepAliveTime, uint32((2 * time.Hour).Seconds())))

	// Some misbehaved TCP implementations fail to respond to a probe segment
	// unless it contains data.
	//
	// See https://datatracker.ietf.org/doc/html/rfc1122#section-4.2.3.6.
	opts.Set(dhcpopt.NewUint8(dhcpopt.Code4TCPKeepAliveData, 1))
}

// setLinkOptions4 sets the options derived from the prefix of link to resp.
func setLinkOptions4(resp *dhcpmsg.Message4, link *dhcpbind.Link) {
	if link == nil {
		return
	}

	mask, _ := netip.AddrFromSlice(net.CIDRMask(link.Prefix.Bits(), netutil.IPv4BitLen))
	resp.Options.Set(dhcpopt.NewIP(dhcpopt.Code4SubnetMask, mask))
}

// setLeaseOptions4 sets the lease time, renewal time, and rebinding time
// options of b to resp.
func setLeaseOptions4(resp *dhcpmsg.Message4, b *dhcpbind.Binding) {
	resp.Options.Set(dhcpopt.NewUint32(dhcpopt.Code4LeaseTime, secs(b.Valid)))
	resp.Options.Set(dhcpopt.NewUint32(dhcpopt.Code4RenewalTime, secs(b.T1)))
	resp.Options.Set(dhcpopt.NewUint32(dhcpopt.Code4RebindingTime, secs(b.T2)))
}

// secs returns d in whole seconds, saturated to the uint32 range.
func secs(d time.Duration) (s uint32) {
	n := int64(d / time.Second)
	if n < 0 {
		return 0
	} else if n > int64(^uint32(0)) {
		return ^uint32(0)
	}

	return uint32(n)
}
