package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/glo-fi/Streamtap/tap"
)

// SessionCollector exposes the tap session counters for live capture mode.
// It only reads the session's atomic snapshot, never the stream store, so
// scraping is safe while the capture loop runs.
type SessionCollector struct {
	session *tap.Session

	packets    *prometheus.Desc
	streams    *prometheus.Desc
	cacheHits  *prometheus.Desc
	advisories *prometheus.Desc
}

func NewSessionCollector(session *tap.Session) *SessionCollector {
	return &SessionCollector{
		session: session,
		packets: prometheus.NewDesc(
			"streamtap_packets_total", "Distinct packets processed by the tap engine", nil, nil,
		),
		streams: prometheus.NewDesc(
			"streamtap_streams", "TCP streams currently tracked", nil, nil,
		),
		cacheHits: prometheus.NewDesc(
			"streamtap_cache_hits_total", "Metric lookups served from the result cache", nil, nil,
		),
		advisories: prometheus.NewDesc(
			"streamtap_out_of_order_advisories_total", "Packets flagged possibly out of order by the IP ID increment", nil, nil,
		),
	}
}

func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packets
	ch <- c.streams
	ch <- c.cacheHits
	ch <- c.advisories
}

func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.session.Stats()
	ch <- prometheus.MustNewConstMetric(c.packets, prometheus.CounterValue, float64(stats.Packets))
	ch <- prometheus.MustNewConstMetric(c.streams, prometheus.GaugeValue, float64(stats.Streams))
	ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(stats.CacheHits))
	ch <- prometheus.MustNewConstMetric(c.advisories, prometheus.CounterValue, float64(stats.Advisories))
}
