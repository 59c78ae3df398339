package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tripshare/internal/domain"
)

// Collector owns the service's Prometheus registry. It satisfies the metrics
// hooks of the session, viewer and reaper packages and the NATS publisher.
type Collector struct {
	reg *prometheus.Registry

	ActiveTrips  prometheus.Gauge
	TripsStarted prometheus.Counter
	TripsEnded   *prometheus.CounterVec // status label: stopped|arrived

	Writes           *prometheus.CounterVec // result label: ok|error
	WritesSuperseded prometheus.Counter
	WriteDuration    prometheus.Histogram

	ViewerSubscriptions prometheus.Gauge

	TripsReaped  prometheus.Counter
	ReapFailures prometheus.Counter
	ReapsDropped prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	NATSPublishTime prometheus.Histogram

	Retention prometheus.Gauge // seconds
}

// NewCollector creates and registers all metrics.
func NewCollector(retention time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripshare_active_trips",
			Help: "Number of trips currently being shared by this process.",
		}),
		TripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripshare_trips_started_total",
			Help: "Total trips started.",
		}),
		TripsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripshare_trips_ended_total",
			Help: "Total trips ended, by final status.",
		}, []string{"status"}),
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripshare_store_writes_total",
			Help: "Trip record writes, by result.",
		}, []string{"result"}),
		WritesSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripshare_store_writes_superseded_total",
			Help: "Location writes replaced by a newer sample before being sent.",
		}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tripshare_store_write_duration_seconds",
			Help:    "Duration of trip record writes.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		ViewerSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripshare_viewer_subscriptions",
			Help: "Number of live viewer subscriptions.",
		}),
		TripsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripshare_trips_reaped_total",
			Help: "Total trip records deleted after retention.",
		}),
		ReapFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripshare_reap_failures_total",
			Help: "Total failed deletion attempts.",
		}),
		ReapsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripshare_reap_dropped_total",
			Help: "Deletions abandoned after the maximum number of attempts.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripshare_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripshare_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripshare_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		NATSPublishTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tripshare_nats_publish_duration_seconds",
			Help:    "Duration of NATS publish calls.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		Retention: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripshare_retention_seconds",
			Help: "Configured retention of ended trips in seconds.",
		}),
	}

	reg.MustRegister(
		c.ActiveTrips, c.TripsStarted, c.TripsEnded,
		c.Writes, c.WritesSuperseded, c.WriteDuration,
		c.ViewerSubscriptions,
		c.TripsReaped, c.ReapFailures, c.ReapsDropped,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.NATSPublishTime,
		c.Retention,
	)

	c.Retention.Set(retention.Seconds())

	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Session hooks.

func (c *Collector) TripStarted() {
	c.TripsStarted.Inc()
	c.ActiveTrips.Inc()
}

func (c *Collector) TripEnded(status domain.TripStatus) {
	c.TripsEnded.WithLabelValues(string(status)).Inc()
	c.ActiveTrips.Dec()
}

func (c *Collector) WriteCompleted(elapsed time.Duration, err error) {
	c.WriteDuration.Observe(elapsed.Seconds())
	if err != nil {
		c.Writes.WithLabelValues("error").Inc()
		return
	}
	c.Writes.WithLabelValues("ok").Inc()
}

func (c *Collector) WriteSuperseded() { c.WritesSuperseded.Inc() }

// Viewer hooks.

func (c *Collector) ViewerSubscribed()   { c.ViewerSubscriptions.Inc() }
func (c *Collector) ViewerUnsubscribed() { c.ViewerSubscriptions.Dec() }

// Reaper hooks.

func (c *Collector) TripReaped()  { c.TripsReaped.Inc() }
func (c *Collector) ReapFailed()  { c.ReapFailures.Inc() }
func (c *Collector) ReapDropped() { c.ReapsDropped.Inc() }

// Publisher hooks.

func (c *Collector) NATSPublishedInc()  { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) {
	c.NATSPublishTime.Observe(d.Seconds())
}
func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}
