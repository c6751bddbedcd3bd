// Package metrics grows the teacher's pkg/metrics (dual Prometheus +
// OTel export, InitOTLP background-retry) out of package-level globals
// into an injected Registry — one instance per runtime.Worker,
// constructed in cmd/corestream/main.go and passed down explicitly
// rather than read from shared package state. Per-stream/per-client
// records, kbps EMAs and codec metadata (this file's Sampler and
// stream.go) are corestream's own addition over the teacher's
// connection-count-only metrics.
package metrics

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go.opentelemetry.io/otel"
	otlpmetricgrpc "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"redalf.de/corestream/pkg/log"
)

// Registry is one worker's metrics instance. It owns a private
// Prometheus registry (so multiple Registry instances never collide on
// collector names) and an optional OTel meter.
type Registry struct {
	id string

	promReg *prometheus.Registry

	activePublishers  prometheus.Gauge
	totalPublishers   prometheus.Counter
	activeSubscribers prometheus.Gauge
	totalSubscribers  prometheus.Counter
	packetsReceived   prometheus.Counter
	packetsDispatched prometheus.Counter
	packetsDropped    prometheus.Counter

	allocatorReservations  prometheus.Counter
	allocatorReservedPairs prometheus.Gauge

	meter              metric.Meter
	otelPublishers     metric.Int64UpDownCounter
	otelTotalPub       metric.Int64Counter
	otelSubscribers    metric.Int64UpDownCounter
	otelTotalSub       metric.Int64Counter
	otelPacketsRecv    metric.Int64Counter
	otelPacketsDisp    metric.Int64Counter
	otelPacketsDropped metric.Int64Counter

	streams *streamTable
	clients *clientTable
}

// New creates a Registry scoped to id (typically the worker's name),
// registering its own Prometheus collectors under a per-registry
// constant label so several workers can coexist without name clashes.
func New(id string) *Registry {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"worker": id}

	r := &Registry{
		id:      id,
		promReg: reg,
		streams: newStreamTable(),
		clients: newClientTable(),

		activePublishers:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "corestream_active_publishers", Help: "Active publishers", ConstLabels: labels}),
		totalPublishers:   prometheus.NewCounter(prometheus.CounterOpts{Name: "corestream_publishers_registered_total", Help: "Total publishers registered", ConstLabels: labels}),
		activeSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{Name: "corestream_active_subscribers", Help: "Active subscribers", ConstLabels: labels}),
		totalSubscribers:  prometheus.NewCounter(prometheus.CounterOpts{Name: "corestream_subscribers_registered_total", Help: "Total subscribers registered", ConstLabels: labels}),
		packetsReceived:   prometheus.NewCounter(prometheus.CounterOpts{Name: "corestream_packets_received_total", Help: "Total packets received", ConstLabels: labels}),
		packetsDispatched: prometheus.NewCounter(prometheus.CounterOpts{Name: "corestream_packets_dispatched_total", Help: "Total packets dispatched", ConstLabels: labels}),
		packetsDropped:    prometheus.NewCounter(prometheus.CounterOpts{Name: "corestream_packets_dropped_total", Help: "Total packets dropped", ConstLabels: labels}),

		allocatorReservations:  prometheus.NewCounter(prometheus.CounterOpts{Name: "corestream_allocator_reservations_total", Help: "Total allocator reservations", ConstLabels: labels}),
		allocatorReservedPairs: prometheus.NewGauge(prometheus.GaugeOpts{Name: "corestream_allocator_reserved_pairs", Help: "Current reserved allocator pairs", ConstLabels: labels}),
	}

	reg.MustRegister(r.activePublishers, r.totalPublishers, r.activeSubscribers,
		r.totalSubscribers, r.packetsReceived, r.packetsDispatched, r.packetsDropped,
		r.allocatorReservations, r.allocatorReservedPairs)

	return r
}

// Prometheus exposes the private registry so an admin HTTP handler can
// mount it behind promhttp.HandlerFor.
func (r *Registry) Prometheus() *prometheus.Registry { return r.promReg }

// InitOTLP initializes an OTLP exporter to endpoint, same shape as the
// teacher's: a DNS preflight before constructing the exporter, and on
// failure a background goroutine retrying with exponential backoff so
// startup never blocks on an unreachable collector. Empty endpoint is
// a no-op.
func (r *Registry) InitOTLP(ctx context.Context, endpoint string) error {
	if endpoint == "" {
		return nil
	}

	tryInit := func() error {
		host, _, err := net.SplitHostPort(endpoint)
		if err != nil {
			host = endpoint
		}
		rctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		addrs, err := net.DefaultResolver.LookupHost(rctx, host)
		if err != nil {
			return fmt.Errorf("dns lookup failed for %s: %w", host, err)
		}
		log.Debug("otel: resolved host", "host", host, "addrs", addrs)

		exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
		if err != nil {
			return err
		}

		reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		otel.SetMeterProvider(provider)
		r.meter = provider.Meter("corestream." + r.id)

		var e error
		if r.otelPublishers, e = r.meter.Int64UpDownCounter("corestream_active_publishers"); e != nil {
			return e
		}
		if r.otelTotalPub, e = r.meter.Int64Counter("corestream_publishers_registered_total"); e != nil {
			return e
		}
		if r.otelSubscribers, e = r.meter.Int64UpDownCounter("corestream_active_subscribers"); e != nil {
			return e
		}
		if r.otelTotalSub, e = r.meter.Int64Counter("corestream_subscribers_registered_total"); e != nil {
			return e
		}
		if r.otelPacketsRecv, e = r.meter.Int64Counter("corestream_packets_received_total"); e != nil {
			return e
		}
		if r.otelPacketsDisp, e = r.meter.Int64Counter("corestream_packets_dispatched_total"); e != nil {
			return e
		}
		if r.otelPacketsDropped, e = r.meter.Int64Counter("corestream_packets_dropped_total"); e != nil {
			return e
		}
		return nil
	}

	if err := tryInit(); err == nil {
		log.Info("otel: metrics exporter initialized", "worker", r.id)
		return nil
	} else {
		log.Warn("otel: initial metrics exporter init failed, retrying in background", "err", err)
	}

	go func() {
		backoff := 5 * time.Second
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := tryInit(); err == nil {
				log.Info("otel: metrics exporter initialized (background)", "worker", r.id)
				return
			}
			if backoff < 60*time.Second {
				backoff *= 2
			}
		}
	}()
	return nil
}

func (r *Registry) AddActivePublishers(delta int64) {
	r.activePublishers.Add(float64(delta))
	if r.otelPublishers != nil {
		r.otelPublishers.Add(context.Background(), delta)
	}
}

func (r *Registry) IncTotalPublishers() {
	r.totalPublishers.Inc()
	if r.otelTotalPub != nil {
		r.otelTotalPub.Add(context.Background(), 1)
	}
}

func (r *Registry) AddActiveSubscribers(delta int64) {
	r.activeSubscribers.Add(float64(delta))
	if r.otelSubscribers != nil {
		r.otelSubscribers.Add(context.Background(), delta)
	}
}

func (r *Registry) IncTotalSubscribers() {
	r.totalSubscribers.Inc()
	if r.otelTotalSub != nil {
		r.otelTotalSub.Add(context.Background(), 1)
	}
}

func (r *Registry) IncPacketsReceived() {
	r.packetsReceived.Inc()
	if r.otelPacketsRecv != nil {
		r.otelPacketsRecv.Add(context.Background(), 1)
	}
}

func (r *Registry) IncPacketsDispatched() {
	r.packetsDispatched.Inc()
	if r.otelPacketsDisp != nil {
		r.otelPacketsDisp.Add(context.Background(), 1)
	}
}

func (r *Registry) IncPacketsDropped() {
	r.packetsDropped.Inc()
	if r.otelPacketsDropped != nil {
		r.otelPacketsDropped.Add(context.Background(), 1)
	}
}

func (r *Registry) IncAllocatorReservations() { r.allocatorReservations.Inc() }
func (r *Registry) IncAllocatorReservedPairs() { r.allocatorReservedPairs.Inc() }
func (r *Registry) DecAllocatorReservedPairs() { r.allocatorReservedPairs.Dec() }
func (r *Registry) SetAllocatorReservedPairs(n int64) { r.allocatorReservedPairs.Set(float64(n)) }
