package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpsvc"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// DHCP is the Prometheus-based implementation of the [dhcpsvc.Metrics]
// interface.
type DHCP struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	decodeErrors *prometheus.CounterVec
	cacheHits    *prometheus.CounterVec
}

// NewDHCP registers the DHCP server metrics in reg and returns a properly
// initialized *DHCP.
func NewDHCP(reg prometheus.Registerer) (m *DHCP, err error) {
	const (
		requests     = "requests_total"
		duration     = "request_duration_seconds"
		decodeErrors = "decode_errors_total"
		cacheHits    = "reply_cache_hits_total"
	)

	m = &DHCP{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      requests,
			Namespace: namespace,
			Subsystem: subsystemServer,
			Help:      "The number of handled DHCP requests by their types and reply types.",
		}, []string{labelFamily, labelRequest, labelResponse}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:      duration,
			Namespace: namespace,
			Subsystem: subsystemServer,
			Help:      "The time spent handling a DHCP request.",
			// From 0.1ms to about 3s.
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}, []string{labelFamily}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      decodeErrors,
			Namespace: namespace,
			Subsystem: subsystemServer,
			Help:      "The number of received datagrams that could not be decoded.",
		}, []string{labelFamily}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      cacheHits,
			Namespace: namespace,
			Subsystem: subsystemServer,
			Help:      "The number of retransmitted requests answered from the reply cache.",
		}, []string{labelFamily}),
	}

	collectors := []struct {
		c    prometheus.Collector
		name string
	}{{
		c:    m.requests,
		name: requests,
	}, {
		c:    m.duration,
		name: duration,
	}, {
		c:    m.decodeErrors,
		name: decodeErrors,
	}, {
		c:    m.cacheHits,
		name: cacheHits,
	}}

	var errs []error
	for _, c := range collectors {
		err = reg.Register(c.c)
		if err != nil {
			errs = append(errs, fmt.Errorf("registering metrics %q: %w", c.name, err))
		}
	}

	if err = errors.Join(errs...); err != nil {
		return nil, err
	}

	return m, nil
}

// type check
var _ dhcpsvc.Metrics = (*DHCP)(nil)

// IncrementDecodeErrors implements the [dhcpsvc.Metrics] interface for *DHCP.
func (m *DHCP) IncrementDecodeErrors(_ context.Context, f dhcpopt.Family) {
	m.decodeErrors.WithLabelValues(f.String()).Inc()
}

// ObserveRequest implements the [dhcpsvc.Metrics] interface for *DHCP.
func (m *DHCP) ObserveRequest(
	_ context.Context,
	f dhcpopt.Family,
	reqType string,
	respType string,
	dur time.Duration,
) {
	fam := f.String()
	m.requests.WithLabelValues(fam, reqType, respType).Inc()
	m.duration.WithLabelValues(fam).Observe(dur.Seconds())
}

// IncrementReplyCacheHits implements the [dhcpsvc.Metrics] interface for
// *DHCP.
func (m *DHCP) IncrementReplyCacheHits(_ context.Context, f dhcpopt.Family) {
	m.cacheHits.WithLabelValues(f.String()).Inc()
}
