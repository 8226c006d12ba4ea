// Package metrics exports ftpstore measurements to Prometheus.
//
//	collector := metrics.New()
//	store, err := ftpstore.NewFTPAdapter(backend, ftpstore.WithMetrics(collector))
//	...
//	http.Handle("/metrics", collector.Handler())
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gonzalop/ftpstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Config holds the metric naming.
type Config struct {
	Namespace string
	Subsystem string

	// Buckets for the duration histograms, in seconds.
	Buckets []float64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Namespace: "ftpstore",
		Buckets:   prometheus.DefBuckets,
	}
}

// Collector is a Prometheus ftpstore.MetricsCollector with its own
// registry. It is safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	// operationsName is the fully qualified name of Operations.
	operationsName string

	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	TransferBytes     *prometheus.CounterVec
	TransferDuration  *prometheus.HistogramVec
	Sessions          *prometheus.CounterVec
}

var _ ftpstore.MetricsCollector = (*Collector)(nil)

// New returns a collector using DefaultConfig.
func New() *Collector {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig returns a collector with the given naming.
func NewWithConfig(cfg Config) *Collector {
	if len(cfg.Buckets) == 0 {
		cfg.Buckets = prometheus.DefBuckets
	}
	reg := prometheus.NewRegistry()
	ns, sub := cfg.Namespace, cfg.Subsystem

	c := &Collector{
		registry: reg,
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "operations_total",
			Help:      "Total number of storage operations.",
		}, []string{"operation", "status"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "operation_duration_seconds",
			Help:      "Duration of storage operations in seconds, session setup included.",
			Buckets:   cfg.Buckets,
		}, []string{"operation"}),
		TransferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "transfer_bytes_total",
			Help:      "Bytes moved over data connections.",
		}, []string{"direction"}),
		TransferDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "transfer_duration_seconds",
			Help:      "Duration of completed transfers in seconds.",
			Buckets:   cfg.Buckets,
		}, []string{"direction"}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "sessions_total",
			Help:      "Session attempts by encryption mode.",
		}, []string{"encryption", "status"}),
	}

	c.operationsName = prometheus.BuildFQName(ns, sub, "operations_total")
	reg.MustRegister(c.Operations, c.OperationDuration, c.TransferBytes, c.TransferDuration, c.Sessions)
	return c
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordOperation counts an operation and observes its duration.
func (c *Collector) RecordOperation(op string, success bool, duration time.Duration) {
	c.Operations.WithLabelValues(op, status(success)).Inc()
	c.OperationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordTransfer adds a completed transfer.
func (c *Collector) RecordTransfer(direction string, bytes int64, duration time.Duration) {
	c.TransferBytes.WithLabelValues(direction).Add(float64(bytes))
	c.TransferDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

// RecordSession counts a session attempt.
func (c *Collector) RecordSession(encryption string, success bool) {
	c.Sessions.WithLabelValues(encryption, status(success)).Inc()
}

// Registry returns the collector's registry, for adding it to a gatherer
// set or registering more metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// WriteText writes every collected metric to w in the text exposition
// format.
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Summary returns one line per operation label pair, e.g. "add success 3",
// in gathering order.
func (c *Collector) Summary() ([]string, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	var lines []string
	for _, mf := range families {
		if mf.GetName() != c.operationsName {
			continue
		}
		for _, m := range mf.GetMetric() {
			var op, st string
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "operation":
					op = lp.GetValue()
				case "status":
					st = lp.GetValue()
				}
			}
			lines = append(lines, op+" "+st+" "+strconv.FormatFloat(m.GetCounter().GetValue(), 'f', -1, 64))
		}
	}
	return lines, nil
}
