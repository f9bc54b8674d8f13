package dhcpsvc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpmsg"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/bluele/gcache"
	"github.com/c2h5oh/datasize"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// allServers6 is the All_DHCP_Relay_Agents_and_Servers multicast group, see
// RFC 8415 section 7.1.
var allServers6 = netip.MustParseAddr("ff02::1:2")

// ifaceCacheTTL is the time the name of a network interface is cached for its
// index.
const ifaceCacheTTL = 1 * time.Minute

// TransportConfig is the configuration of a [Transport].
type TransportConfig struct {
	// Logger is used to log the transport events.  It must not be nil.
	Logger *slog.Logger

	// Handler handles the decoded messages.  It must not be nil.
	Handler Handler

	// Metrics counts the undecodable datagrams.  It must not be nil.
	Metrics Metrics

	// Interfaces are the names of the network interfaces to serve.  If empty,
	// all interfaces are served.
	Interfaces []string

	// ListenAddr4 is the address to receive DHCPv4 messages on.  If it's not
	// valid, DHCPv4 isn't served.
	ListenAddr4 netip.AddrPort

	// ListenAddr6 is the address to receive DHCPv6 messages on.  If it's not
	// valid, DHCPv6 isn't served.
	ListenAddr6 netip.AddrPort

	// BufferSize is the size of the buffer for a single datagram.  It must be
	// positive.
	BufferSize datasize.ByteSize

	// Workers is the maximum number of messages handled simultaneously.  It
	// must be positive.
	Workers int
}

// type check
var _ validate.Interface = (*TransportConfig)(nil)

// Validate implements the [validate.Interface] interface for *TransportConfig.
func (conf *TransportConfig) Validate() (err error) {
	if conf == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotNil("Logger", conf.Logger),
		validate.NotNilInterface("Handler", conf.Handler),
		validate.NotNilInterface("Metrics", conf.Metrics),
	}

	if conf.BufferSize == 0 {
		errs = append(errs, fmt.Errorf("BufferSize: %w", errors.ErrNotPositive))
	}

	if conf.Workers <= 0 {
		errs = append(errs, fmt.Errorf("Workers: %w: %d", errors.ErrNotPositive, conf.Workers))
	}

	if a := conf.ListenAddr4; a.IsValid() && !a.Addr().Is4() {
		errs = append(errs, fmt.Errorf("ListenAddr4: %s must be an ipv4 address", a))
	}

	if a := conf.ListenAddr6; a.IsValid() && !a.Addr().Is6() {
		errs = append(errs, fmt.Errorf("ListenAddr6: %s must be an ipv6 address", a))
	}

	if !conf.ListenAddr4.IsValid() && !conf.ListenAddr6.IsValid() {
		errs = append(errs, fmt.Errorf("ListenAddr4, ListenAddr6: %w", errors.ErrNoValue))
	}

	for i, name := range conf.Interfaces {
		errs = append(errs, validate.NotEmpty(fmt.Sprintf("Interfaces[%d]", i), name))
	}

	return errors.Join(errs...)
}

// Transport receives DHCP datagrams over UDP, passes the decoded messages to
// its handler, and sends the replies back.
type Transport struct {
	logger  *slog.Logger
	handler Handler
	metrics Metrics

	// ifaces are the names of the served interfaces.  If empty, all
	// interfaces are served.
	ifaces *container.MapSet[string]

	// ifaceNames caches the interface names keyed by their indexes.
	ifaceNames gcache.Cache

	// sem limits the number of messages handled simultaneously.
	sem chan struct{}

	// wg tracks the reading and handling goroutines.
	wg *sync.WaitGroup

	// mu protects conn4 and conn6.
	mu    *sync.Mutex
	conn4 *ipv4.PacketConn
	conn6 *ipv6.PacketConn

	ifaceList []string
	addr4     netip.AddrPort
	addr6     netip.AddrPort
	bufSize   int
}

// NewTransport returns a new properly initialized *Transport.  conf must not be
// nil.
func NewTransport(conf *TransportConfig) (t *Transport, err error) {
	err = conf.Validate()
	if err != nil {
		return nil, fmt.Errorf("transport configuration: %w", err)
	}

	return &Transport{
		logger:     conf.Logger,
		handler:    conf.Handler,
		metrics:    conf.Metrics,
		ifaces:     container.NewMapSet(conf.Interfaces...),
		ifaceNames: newIfaceNameCache(len(conf.Interfaces)),
		sem:        make(chan struct{}, conf.Workers),
		wg:         &sync.WaitGroup{},
		mu:         &sync.Mutex{},
		ifaceList:  conf.Interfaces,
		addr4:      conf.ListenAddr4,
		addr6:      conf.ListenAddr6,
		bufSize:    int(conf.BufferSize.Bytes()),
	}, nil
}

// newIfaceNameCache returns a cache resolving network interface indexes into
// names.
func newIfaceNameCache(n int) (c gcache.Cache) {
	return gcache.New(max(n, 1) * 4).
		LRU().
		Expiration(ifaceCacheTTL).
		LoaderFunc(func(key any) (v any, err error) {
			iface, err := net.InterfaceByIndex(key.(int))
			if err != nil {
				return nil, err
			}

			return iface.Name, nil
		}).
		Build()
}

// type check
var _ service.Interface = (*Transport)(nil)

// Start implements the [service.Interface] interface for *Transport.  It opens
// the sockets and starts serving them.
func (t *Transport) Start(ctx context.Context) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.addr4.IsValid() {
		t.conn4, err = t.listen4(ctx)
		if err != nil {
			return fmt.Errorf("listening ipv4: %w", err)
		}

		t.addr4 = addrPortOf(t.conn4.LocalAddr())
	}

	if t.addr6.IsValid() {
		t.conn6, err = t.listen6(ctx)
		if err != nil {
			err = fmt.Errorf("listening ipv6: %w", err)
			if t.conn4 != nil {
				err = errors.WithDeferred(err, t.conn4.Close())
				t.conn4 = nil
			}

			return err
		}

		t.addr6 = addrPortOf(t.conn6.LocalAddr())
	}

	// Serve with a context that outlives the start.
	ctx = context.WithoutCancel(ctx)
	if t.conn4 != nil {
		t.wg.Add(1)
		go t.serve4(ctx, t.conn4)
	}

	if t.conn6 != nil {
		t.wg.Add(1)
		go t.serve6(ctx, t.conn6)
	}

	return nil
}

// listen4 opens the DHCPv4 socket.
func (t *Transport) listen4(ctx context.Context) (c *ipv4.PacketConn, err error) {
	lc := &net.ListenConfig{Control: listenControl}
	pc, err := lc.ListenPacket(ctx, "udp4", t.addr4.String())
	if err != nil {
		return nil, err
	}

	c = ipv4.NewPacketConn(pc)
	err = c.SetControlMessage(ipv4.FlagInterface|ipv4.FlagDst, true)
	if err != nil {
		return nil, errors.WithDeferred(fmt.Errorf("setting control message: %w", err), pc.Close())
	}

	t.logger.InfoContext(ctx, "listening", keyFamily, dhcpopt.FamilyV4, "addr", pc.LocalAddr())

	return c, nil
}

// listen6 opens the DHCPv6 socket and joins the multicast group of the servers
// on the served interfaces.
func (t *Transport) listen6(ctx context.Context) (c *ipv6.PacketConn, err error) {
	lc := &net.ListenConfig{Control: listenControl}
	pc, err := lc.ListenPacket(ctx, "udp6", t.addr6.String())
	if err != nil {
		return nil, err
	}

	c = ipv6.NewPacketConn(pc)
	err = c.SetControlMessage(ipv6.FlagInterface|ipv6.FlagDst, true)
	if err != nil {
		return nil, errors.WithDeferred(fmt.Errorf("setting control message: %w", err), pc.Close())
	}

	err = t.joinGroup6(ctx, c)
	if err != nil {
		return nil, errors.WithDeferred(err, pc.Close())
	}

	t.logger.InfoContext(ctx, "listening", keyFamily, dhcpopt.FamilyV6, "addr", pc.LocalAddr())

	return c, nil
}

// joinGroup6 joins the multicast group of the servers on the configured
// interfaces.  When no interfaces are configured, it joins the group on every
// multicast-capable interface that is up and only logs the failures.
func (t *Transport) joinGroup6(ctx context.Context, c *ipv6.PacketConn) (err error) {
	group := &net.UDPAddr{IP: allServers6.AsSlice()}

	if len(t.ifaceList) > 0 {
		for _, name := range t.ifaceList {
			iface, ifaceErr := net.InterfaceByName(name)
			if ifaceErr != nil {
				return fmt.Errorf("interface %q: %w", name, ifaceErr)
			}

			err = c.JoinGroup(iface, group)
			if err != nil {
				return fmt.Errorf("joining %s on %q: %w", allServers6, name, err)
			}
		}

		return nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("listing interfaces: %w", err)
	}

	for _, iface := range ifaces {
		const want = net.FlagUp | net.FlagMulticast
		if iface.Flags&want != want {
			continue
		}

		joinErr := c.JoinGroup(&iface, group)
		if joinErr != nil {
			t.logger.WarnContext(
				ctx,
				"joining multicast group",
				keyInterface, iface.Name,
				slogutil.KeyError, joinErr,
			)
		}
	}

	return nil
}

// Shutdown implements the [service.Interface] interface for *Transport.  It
// closes the sockets and waits for the messages being handled.
func (t *Transport) Shutdown(ctx context.Context) (err error) {
	t.mu.Lock()
	var errs []error
	if t.conn4 != nil {
		errs = append(errs, t.conn4.Close())
	}

	if t.conn6 != nil {
		errs = append(errs, t.conn6.Close())
	}
	t.mu.Unlock()

	err = errors.Join(errs...)
	if err != nil {
		return fmt.Errorf("closing sockets: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer slogutil.RecoverAndLog(ctx, t.logger)

		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for handlers: %w", ctx.Err())
	}
}

// LocalAddr4 returns the address of the DHCPv4 socket, if it's open.
func (t *Transport) LocalAddr4() (addr net.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn4 == nil {
		return nil
	}

	return t.conn4.LocalAddr()
}

// LocalAddr6 returns the address of the DHCPv6 socket, if it's open.
func (t *Transport) LocalAddr6() (addr net.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn6 == nil {
		return nil
	}

	return t.conn6.LocalAddr()
}

// datagram is a received datagram with its addressing.
type datagram struct {
	data      []byte
	local     netip.AddrPort
	remote    netip.AddrPort
	ifaceName string
	ifIndex   int
	unicast   bool
}

// serve4 reads the DHCPv4 datagrams from c until it's closed.  It is intended
// to be used as a goroutine.
func (t *Transport) serve4(ctx context.Context, c *ipv4.PacketConn) {
	defer t.wg.Done()
	defer slogutil.RecoverAndLog(ctx, t.logger)

	port := t.addr4.Port()
	for {
		buf := make([]byte, t.bufSize)
		n, cm, src, err := c.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			t.logger.WarnContext(ctx, "reading", keyFamily, dhcpopt.FamilyV4, slogutil.KeyError, err)

			continue
		}

		dg := &datagram{
			data:   buf[:n],
			local:  t.addr4,
			remote: addrPortOf(src),
		}

		if cm != nil {
			dg.ifIndex = cm.IfIndex
			if dst, ok := netip.AddrFromSlice(cm.Dst); ok {
				dst = dst.Unmap()
				dg.local = netip.AddrPortFrom(dst, port)
				dg.unicast = !dst.IsMulticast() && dst != bcast4
			}
		}

		t.dispatch(ctx, dhcpopt.FamilyV4, dg, func(b []byte, to net.Addr) (err error) {
			_, err = c.WriteTo(b, &ipv4.ControlMessage{IfIndex: dg.ifIndex}, to)

			return err
		})
	}
}

// bcast4 is the limited broadcast address.
var bcast4 = func() (ip netip.Addr) {
	ip, _ = netip.AddrFromSlice(netutil.IPv4bcast())

	return ip.Unmap()
}()

// serve6 reads the DHCPv6 datagrams from c until it's closed.  It is intended
// to be used as a goroutine.
func (t *Transport) serve6(ctx context.Context, c *ipv6.PacketConn) {
	defer t.wg.Done()
	defer slogutil.RecoverAndLog(ctx, t.logger)

	port := t.addr6.Port()
	for {
		buf := make([]byte, t.bufSize)
		n, cm, src, err := c.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			t.logger.WarnContext(ctx, "reading", keyFamily, dhcpopt.FamilyV6, slogutil.KeyError, err)

			continue
		}

		dg := &datagram{
			data:   buf[:n],
			local:  t.addr6,
			remote: addrPortOf(src),
		}

		if cm != nil {
			dg.ifIndex = cm.IfIndex
			if dst, ok := netip.AddrFromSlice(cm.Dst); ok {
				dg.local = netip.AddrPortFrom(dst, port)
				dg.unicast = !dst.IsMulticast()
			}
		}

		t.dispatch(ctx, dhcpopt.FamilyV6, dg, func(b []byte, to net.Addr) (err error) {
			_, err = c.WriteTo(b, &ipv6.ControlMessage{IfIndex: dg.ifIndex}, to)

			return err
		})
	}
}

// addrPortOf returns the address and port of a UDP address.
func addrPortOf(addr net.Addr) (ap netip.AddrPort) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return netip.AddrPort{}
	}

	ap = udpAddr.AddrPort()

	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// writeFunc sends b to the address.
type writeFunc func(b []byte, to net.Addr) (err error)

// dispatch handles dg in a separate goroutine, blocking while the maximum
// number of messages is being handled.
func (t *Transport) dispatch(ctx context.Context, f dhcpopt.Family, dg *datagram, write writeFunc) {
	if dg.ifIndex != 0 {
		name, err := t.ifaceNames.Get(dg.ifIndex)
		if err != nil {
			t.logger.DebugContext(ctx, "resolving interface", "index", dg.ifIndex, slogutil.KeyError, err)
		} else {
			dg.ifaceName = name.(string)
		}
	}

	if len(t.ifaceList) > 0 && !t.ifaces.Has(dg.ifaceName) {
		return
	}

	t.sem <- struct{}{}
	t.wg.Add(1)
	go t.handle(ctx, f, dg, write)
}

// handle decodes dg, passes it to the handler, and writes the reply.  It is
// intended to be used as a goroutine.
func (t *Transport) handle(ctx context.Context, f dhcpopt.Family, dg *datagram, write writeFunc) {
	defer t.wg.Done()
	defer func() { <-t.sem }()
	defer slogutil.RecoverAndLog(ctx, t.logger)

	req, err := dhcpmsg.Decode(f, dg.data, dg.local, dg.remote)
	if err != nil {
		t.metrics.IncrementDecodeErrors(ctx, f)
		t.logger.DebugContext(
			ctx,
			"decoding",
			keyFamily, f,
			keyInterface, dg.ifaceName,
			"remote", dg.remote,
			slogutil.KeyError, err,
		)

		return
	}

	setReceived(req, dg.ifaceName, dg.unicast)

	resp := t.handler.Handle(ctx, dg.local, req)
	if resp == nil {
		return
	}

	to := remoteOf(resp)
	if !to.IsValid() {
		t.logger.WarnContext(ctx, "no reply destination", keyFamily, f)

		return
	}

	err = write(resp.Encode(), net.UDPAddrFromAddrPort(to))
	if err != nil {
		t.logger.WarnContext(ctx, "writing reply", keyFamily, f, "to", to, slogutil.KeyError, err)
	}
}

// setReceived sets the receiving interface and the unicast flag of req.  A
// relayed DHCPv6 message is never considered unicast from the client.
func setReceived(req dhcpmsg.Message, ifaceName string, unicast bool) {
	switch m := req.(type) {
	case *dhcpmsg.Message4:
		m.IfaceName, m.Unicast = ifaceName, unicast
	case *dhcpmsg.Message6:
		m.IfaceName, m.Unicast = ifaceName, unicast
	case *dhcpmsg.RelayMessage6:
		m.IfaceName = ifaceName
	}
}

// remoteOf returns the destination of the reply.
func remoteOf(resp dhcpmsg.Message) (to netip.AddrPort) {
	switch m := resp.(type) {
	case *dhcpmsg.Message4:
		return m.Remote
	case *dhcpmsg.Message6:
		return m.Remote
	case *dhcpmsg.RelayMessage6:
		return m.Remote
	default:
		return netip.AddrPort{}
	}
}
