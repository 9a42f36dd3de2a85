package loom

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"
)

type config struct {
	bindAddr     string
	bindPort     int
	tlsConfig    *tls.Config
	logHandler   slog.Handler
	msink        metrics.MetricSink
	metricLabels []metrics.Label
	maxFrameSize int
	frameRate    time.Duration
}

// Option to pass to `NewServer`
type Option func(*config) error

// WithListenOn specifies which UDP interface the compositor protocol must
// bind when Serve is called.
func WithListenOn(addr string, port int) Option {
	return func(c *config) error {
		c.bindAddr = addr
		c.bindPort = port
		return nil
	}
}

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithTlsConfig sets the `tls.Config` used by the QUIC listener. Serving
// without one is refused; the transport has no cleartext mode.
func WithTlsConfig(tlsConf *tls.Config) Option {
	return func(c *config) error {
		if tlsConf == nil {
			return ErrNoTLSConfig
		}
		c.tlsConfig = tlsConf.Clone()
		return nil
	}
}

// WithMetricSink allows you to chose how to collect the metrics emitted
// by the server.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced by the
// server.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithMaxFrameSize caps the size of a single wire frame. Frames above the
// cap are refused with ErrTooLargeFrame on both ends.
func WithMaxFrameSize(size int) Option {
	return func(c *config) error {
		if size <= 0 {
			size = DefaultMaxFrameSize
		}
		c.maxFrameSize = size
		return nil
	}
}

// WithFrameRate sets the interval between scene frames driven by Run.
// Ignored when the caller drives UpdateFrame itself.
func WithFrameRate(interval time.Duration) Option {
	return func(c *config) error {
		if interval <= 0 {
			interval = DefaultFrameRate
		}
		c.frameRate = interval
		return nil
	}
}
