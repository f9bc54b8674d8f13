// Package configmgr defines the on-disk configuration of the DHCP server and
// assembles the services it describes.
package configmgr

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"slices"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/arpdb"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpbind"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpfilter"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpmsg"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpsvc"
	"github.com/AdguardTeam/AdGuardDHCP/internal/icmpcheck"
	"github.com/AdguardTeam/AdGuardDHCP/internal/metrics"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/yaml.v3"
)

// Defaults for the optional settings.
const (
	defaultOfferLifetime  = 1 * time.Minute
	defaultMetricsTimeout = 10 * time.Second

	// arpRefreshInterval is the minimum time between two reads of the
	// network neighborhood when checking addresses.
	arpRefreshInterval = 5 * time.Second
)

// Config contains the configuration parameters for the configuration manager.
type Config struct {
	// Logger is used for logging until the logger from the configuration file
	// is created.  It must not be nil.
	Logger *slog.Logger

	// Clock is used by the services to get the current time.  It must not be
	// nil.
	Clock timeutil.Clock

	// FileName is the path to the configuration file.
	FileName string

	// Verbose forces the debug logging level.
	Verbose bool
}

// Manager holds the services assembled from the configuration file.
type Manager struct {
	logger     *slog.Logger
	logCloser  io.Closer
	bindings   *dhcpbind.Manager
	dispatcher *dhcpsvc.Dispatcher
	transport  *dhcpsvc.Transport
	metricsSrv *metrics.Server
}

// Validate returns an error if the configuration file with the given name does
// not exist or is invalid.
func Validate(fileName string) (err error) {
	conf, err := read(fileName)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	err = conf.Validate()
	if err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	return nil
}

// New reads the configuration file c.FileName and assembles the services it
// describes.  c must not be nil.
func New(ctx context.Context, c *Config) (m *Manager, err error) {
	conf, err := read(c.FileName)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	err = conf.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	m = &Manager{}
	m.logger, m.logCloser = newLogger(conf.Log, c.Verbose)

	err = m.assemble(ctx, conf, c)
	if err != nil {
		err = fmt.Errorf("assembling services: %w", err)
		if m.logCloser != nil {
			err = errors.WithDeferred(err, m.logCloser.Close())
		}

		return nil, err
	}

	return m, nil
}

// read reads and decodes configuration from the provided filename.
func read(fileName string) (conf *config, err error) {
	defer func() { err = errors.Annotate(err, "reading config: %w") }()

	conf = &config{}
	f, err := os.Open(fileName)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	err = dec.Decode(conf)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	return conf, nil
}

// assemble creates all services and puts them into the corresponding fields.
// conf must be valid.
func (m *Manager) assemble(ctx context.Context, conf *config, c *Config) (err error) {
	store, err := m.newStore(conf.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	m.bindings, err = dhcpbind.New(ctx, m.bindingConfig(conf, c.Clock, store))
	if err != nil {
		return errors.WithDeferred(fmt.Errorf("bindings: %w", err), store.Close())
	}

	reg := prometheus.NewRegistry()
	var svcMetrics dhcpsvc.Metrics = dhcpsvc.EmptyMetrics{}
	if mc := conf.Metrics; mc != nil && mc.Address.IsValid() {
		svcMetrics, err = m.setupMetrics(reg, mc)
		if err != nil {
			return errors.WithDeferred(fmt.Errorf("metrics: %w", err), store.Close())
		}
	}

	dispConf, err := m.dispatcherConfig(ctx, conf, c, svcMetrics)
	if err != nil {
		return errors.WithDeferred(err, store.Close())
	}

	m.dispatcher, err = dhcpsvc.New(dispConf)
	if err != nil {
		return errors.WithDeferred(fmt.Errorf("dispatcher: %w", err), store.Close())
	}

	m.transport, err = dhcpsvc.NewTransport(m.transportConfig(conf.Transport, svcMetrics))
	if err != nil {
		return errors.WithDeferred(fmt.Errorf("transport: %w", err), store.Close())
	}

	return nil
}

// newStore returns the binding store described by c.
func (m *Manager) newStore(c *storageConfig) (s dhcpbind.Store, err error) {
	l := m.logger.With(slogutil.KeyPrefix, "store")
	switch c.Type {
	case storageTypeBolt:
		return dhcpbind.NewBoltStore(l, c.Path)
	case storageTypeJSON:
		return dhcpbind.NewFileStore(l, c.Path), nil
	default:
		return dhcpbind.EmptyStore{}, nil
	}
}

// bindingConfig returns the configuration of the binding manager.
func (m *Manager) bindingConfig(
	conf *config,
	clock timeutil.Clock,
	store dhcpbind.Store,
) (bc *dhcpbind.Config) {
	srv := conf.Server
	bc = &dhcpbind.Config{
		Logger:              m.logger.With(slogutil.KeyPrefix, "dhcpbind"),
		Clock:               clock,
		Store:               store,
		Peer:                dhcpbind.EmptyFailoverPeer{},
		DeclineQuarantine:   time.Duration(srv.DeclineQuarantine),
		OfferLifetime:       cmp.Or(time.Duration(srv.OfferLifetime), defaultOfferLifetime),
		SweepInterval:       time.Duration(srv.SweepInterval),
		VerifyUnknownRebind: srv.VerifyUnknownRebind,
	}

	for _, l := range conf.Links {
		lc := &dhcpbind.LinkConfig{
			Prefix:    l.Prefix,
			Name:      l.Name,
			Interface: l.Interface,
		}

		for _, p := range l.Pools {
			lc.Pools = append(lc.Pools, &dhcpbind.PoolConfig{
				Start:             p.Start,
				End:               p.End,
				Prefix:            p.Prefix,
				DelegatedLen:      p.DelegatedLen,
				PreferredLifetime: time.Duration(p.PreferredLifetime),
				ValidLifetime:     time.Duration(p.ValidLifetime),
				T1:                time.Duration(p.T1),
				T2:                time.Duration(p.T2),
			})
		}

		bc.Links = append(bc.Links, lc)
	}

	return bc
}

// setupMetrics registers the metrics in reg and creates the metrics server.
func (m *Manager) setupMetrics(
	reg *prometheus.Registry,
	c *metricsConfig,
) (svcMetrics *metrics.DHCP, err error) {
	svcMetrics, err = metrics.NewDHCP(reg)
	if err != nil {
		return nil, err
	}

	err = errors.Join(
		reg.Register(metrics.NewPoolCollector(m.bindings)),
		reg.Register(collectors.NewGoCollector()),
		reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})),
	)
	if err != nil {
		return nil, fmt.Errorf("registering collectors: %w", err)
	}

	m.metricsSrv = metrics.NewServer(&metrics.ServerConfig{
		Logger:   m.logger.With(slogutil.KeyPrefix, "metrics"),
		Gatherer: reg,
		Address:  c.Address,
		Timeout:  cmp.Or(time.Duration(c.Timeout), defaultMetricsTimeout),
	})

	return svcMetrics, nil
}

// dispatcherConfig returns the configuration of the message dispatcher.
// m.bindings must be set.
func (m *Manager) dispatcherConfig(
	ctx context.Context,
	conf *config,
	c *Config,
	svcMetrics dhcpsvc.Metrics,
) (dc *dhcpsvc.Config, err error) {
	srv := conf.Server

	duid, err := m.serverDUID(ctx, srv.DUID)
	if err != nil {
		return nil, fmt.Errorf("server duid: %w", err)
	}

	policy4, err := conf.Policy4.toPolicy(dhcpopt.FamilyV4)
	if err != nil {
		return nil, fmt.Errorf("policy_v4: %w", err)
	}

	policy6, err := conf.Policy6.toPolicy(dhcpopt.FamilyV6)
	if err != nil {
		return nil, fmt.Errorf("policy_v6: %w", err)
	}

	linkPolicies := map[string]*dhcpfilter.Policy{}
	for _, l := range conf.Links {
		if l.Policy == nil {
			continue
		}

		f := dhcpopt.FamilyV6
		if l.Prefix.Addr().Is4() {
			f = dhcpopt.FamilyV4
		}

		linkPolicies[l.Name], err = l.Policy.toPolicy(f)
		if err != nil {
			return nil, fmt.Errorf("links: %q: policy: %w", l.Name, err)
		}
	}

	return &dhcpsvc.Config{
		Logger:            m.logger.With(slogutil.KeyPrefix, "dhcpsvc"),
		Clock:             c.Clock,
		Bindings:          m.bindings,
		Metrics:           svcMetrics,
		AddrChecker:       m.addrChecker(srv, c.Clock),
		Policy4:           policy4,
		Policy6:           policy6,
		LinkPolicies:      linkPolicies,
		ServerDUID:        duid,
		ServerID4:         srv.IPv4ID,
		Unicast:           srv.Unicast,
		ReplyCacheTTL:     time.Duration(srv.ReplyCacheTTL),
		ReplyCacheSize:    srv.ReplyCacheSize,
		Preference:        srv.Preference,
		RapidCommit:       srv.RapidCommit,
		SendRequestedOnly: srv.SendRequestedOnly,
	}, nil
}

// addrChecker returns the checker of the addresses before offering them as
// configured by srv.
func (m *Manager) addrChecker(srv *serverConfig, clock timeutil.Clock) (c dhcpsvc.AddressChecker) {
	var checkers dhcpsvc.MultiAddressChecker
	if srv.ARPCheck {
		arpLogger := m.logger.With(slogutil.KeyPrefix, "arpdb")
		checkers = append(checkers, arpdb.NewChecker(&arpdb.CheckerConfig{
			Logger:          arpLogger,
			Clock:           clock,
			ARP:             arpdb.New(arpLogger),
			RefreshInterval: arpRefreshInterval,
		}))
	}

	if srv.ICMPTimeout > 0 {
		checkers = append(checkers, icmpcheck.New(&icmpcheck.Config{
			Logger:     m.logger.With(slogutil.KeyPrefix, "icmpcheck"),
			Timeout:    time.Duration(srv.ICMPTimeout),
			Privileged: true,
		}))
	}

	if len(checkers) == 0 {
		return dhcpsvc.EmptyAddressChecker{}
	}

	return checkers
}

// serverDUID returns the parsed DUID or, if s is empty, a newly generated
// DUID-UUID.  The generated DUID isn't written back to the configuration file,
// so it changes on every start unless configured.
func (m *Manager) serverDUID(ctx context.Context, s string) (duid []byte, err error) {
	if s != "" {
		return parseDUID(s)
	}

	duid, err = newDUIDUUID()
	if err != nil {
		return nil, err
	}

	m.logger.WarnContext(
		ctx,
		"no server duid configured, generated one; put it into server.duid to keep it",
		"duid", formatDUID(duid),
	)

	return duid, nil
}

// transportConfig returns the configuration of the UDP transport.
func (m *Manager) transportConfig(
	c *transportConfig,
	svcMetrics dhcpsvc.Metrics,
) (tc *dhcpsvc.TransportConfig) {
	tc = &dhcpsvc.TransportConfig{
		Logger:     m.logger.With(slogutil.KeyPrefix, "transport"),
		Handler:    m.dispatcher,
		Metrics:    svcMetrics,
		Interfaces: slices.Clone(c.Interfaces),
		BufferSize: c.BufferSize,
		Workers:    c.Workers,
	}

	if c.IPv4 {
		tc.ListenAddr4 = netip.AddrPortFrom(netip.IPv4Unspecified(), dhcpmsg.ServerPort4)
	}

	if c.IPv6 {
		tc.ListenAddr6 = netip.AddrPortFrom(netip.IPv6Unspecified(), dhcpmsg.ServerPort6)
	}

	return tc
}

// Logger returns the logger configured by the configuration file.
func (m *Manager) Logger() (l *slog.Logger) {
	return m.logger
}

// Bindings returns the binding manager.
func (m *Manager) Bindings() (b *dhcpbind.Manager) {
	return m.bindings
}

// Transport returns the UDP transport.
func (m *Manager) Transport() (t *dhcpsvc.Transport) {
	return m.transport
}

// Metrics returns the metrics HTTP server, or nil if metrics are disabled.
func (m *Manager) Metrics() (srv *metrics.Server) {
	return m.metricsSrv
}

// Close closes the log file, if any.  It must be called after the services are
// shut down.
func (m *Manager) Close() (err error) {
	if m.logCloser == nil {
		return nil
	}

	return m.logCloser.Close()
}
