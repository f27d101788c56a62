// Package metrics exposes logger activity as Prometheus collectors.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Poll results.
const (
	ResultFix          = "fix"
	ResultNoFix        = "no_fix"
	ResultNoGPS        = "no_gps"
	ResultDisconnected = "disconnected"
	ResultError        = "error"
)

type Collector struct {
	gatherer prometheus.Gatherer

	Polls        *prometheus.CounterVec
	FixMode      prometheus.Gauge
	Satellites   *prometheus.GaugeVec
	LinesWritten prometheus.Counter
	Reconnects   prometheus.Counter
}

// NewCollector registers against reg; nil uses a fresh private registry.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{
		gatherer: gatherer,
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpslog_polls_total",
			Help: "gpsd polls, labeled by outcome.",
		}, []string{"result"}),
		FixMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpslog_fix_mode",
			Help: "Mode of the latest fix (0 no data, 1 no fix, 2 2D, 3 3D).",
		}),
		Satellites: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpslog_satellites",
			Help: "Satellites in the latest sky report, labeled visible or used.",
		}, []string{"kind"}),
		LinesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpslog_lines_written_total",
			Help: "Fix reports appended to the session file.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpslog_gpsd_reconnects_total",
			Help: "Successful gpsd reconnects after a lost session.",
		}),
	}
	for _, col := range []prometheus.Collector{c.Polls, c.FixMode, c.Satellites, c.LinesWritten, c.Reconnects} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return c, nil
}

func (c *Collector) ObservePoll(result string) {
	if c == nil {
		return
	}
	c.Polls.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveFix(mode, used, visible int) {
	if c == nil {
		return
	}
	c.FixMode.Set(float64(mode))
	c.Satellites.WithLabelValues("used").Set(float64(used))
	c.Satellites.WithLabelValues("visible").Set(float64(visible))
}

func (c *Collector) LineWritten() {
	if c == nil {
		return
	}
	c.LinesWritten.Inc()
}

func (c *Collector) Reconnected() {
	if c == nil {
		return
	}
	c.Reconnects.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
