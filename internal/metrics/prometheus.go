package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Prom struct {
	reg *prometheus.Registry

	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge

	AdmissionLatency prometheus.Histogram
}

func NewProm() *Prom {
	reg := prometheus.NewRegistry()
	p := &Prom{
		reg:      reg,
		counters: map[string]prometheus.Counter{},
		gauges:   map[string]prometheus.Gauge{},
		AdmissionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    AdmissionLatencyMs,
			Help:    "Latency of question admission in ms",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}),
	}

	for name, help := range map[string]string{
		QuestionsReceived:  "Total questions received",
		QuestionsAdmitted:  "Total questions admitted to this node",
		QuestionsRejected:  "Total questions rejected (range, auth, oracle)",
		QuestionsDuplicate: "Total admitted questions whose request id was already cached",
		AuthFailures:       "Total signature verification failures",
		StorageFailures:    "Total failed storage handoffs",
		Heartbeats:         "Total successful heartbeats",
		HeartbeatsFailed:   "Total failed heartbeats",
	} {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		p.counters[name] = c
		reg.MustRegister(c)
	}
	for name, help := range map[string]string{
		MessageCacheSize:  "Number of request ids held in the message cache",
		LastHeartbeatUnix: "Unix time of the last successful heartbeat",
	} {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
		p.gauges[name] = g
		reg.MustRegister(g)
	}
	reg.MustRegister(p.AdmissionLatency)
	return p
}

// Handler serves this registry together with the process-wide default
// registry, which carries the range oracle metrics.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.Gatherers{p.reg, prometheus.DefaultGatherer}, promhttp.HandlerOpts{})
}

// Implement Provider
func (p *Prom) SetGauge(name string, value float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(value)
	}
}

func (p *Prom) IncCounter(name string, delta float64) {
	if delta < 0 {
		return
	}
	if c, ok := p.counters[name]; ok {
		c.Add(delta)
	}
}

func (p *Prom) Observe(name string, value float64) {
	switch name {
	case AdmissionLatencyMs:
		p.AdmissionLatency.Observe(value)
	}
}
