package ftpstore

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/gonzalop/ftpstore/ftp"
)

// Option configures an adapter.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	timeout   time.Duration
	tlsConfig *tls.Config
	dialer    ftp.Dialer
	metrics   MetricsCollector
	bandwidth int64
	observer  ftp.ConnObserver
}

func defaultOptions() options {
	return options{
		logger:  slog.New(slog.DiscardHandler),
		timeout: 30 * time.Second,
		metrics: nopMetrics{},
	}
}

// WithLogger sets the logger for adapter operations and for the protocol
// client underneath. Protocol traffic is logged at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTimeout sets the per-I/O timeout of every session.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithTLSConfig sets the TLS configuration for secure sessions. The adapter
// clones it; ServerName defaults to the backend host when empty.
func WithTLSConfig(config *tls.Config) Option {
	return func(o *options) {
		o.tlsConfig = config
	}
}

// WithDialer sets the dialer used for control and passive data connections.
func WithDialer(dialer ftp.Dialer) Option {
	return func(o *options) {
		o.dialer = dialer
	}
}

// WithMetrics sets the collector receiving operation measurements.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithBandwidthLimit caps every transfer to bytesPerSecond.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(o *options) {
		o.bandwidth = bytesPerSecond
	}
}

// WithConnObserver is called for every socket a session attaches.
func WithConnObserver(fn ftp.ConnObserver) Option {
	return func(o *options) {
		o.observer = fn
	}
}
