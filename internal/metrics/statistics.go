package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/objectfs/streamcache/internal/cache"
)

// StatisticsSource provides statistics snapshots. *cache.Statistics implements it.
type StatisticsSource interface {
	Snapshot() cache.StatisticsSnapshot
}

// StatisticsCollector exposes a StatisticsSource as Prometheus gauges. Values
// are read on every scrape, so a statistics reset is visible immediately.
type StatisticsCollector struct {
	source  StatisticsSource
	count   *prometheus.Desc
	size    *prometheus.Desc
	average *prometheus.Desc
}

// NewStatisticsCollector creates a collector for source.
func NewStatisticsCollector(namespace, subsystem string, labels prometheus.Labels, source StatisticsSource) *StatisticsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, []string{"kind"}, labels)
	}
	return &StatisticsCollector{
		source:  source,
		count:   desc("statistics_caches", "Caches created since the last statistics reset"),
		size:    desc("statistics_bytes", "Bytes cached since the last statistics reset"),
		average: desc("statistics_average_bytes", "Average cache size since the last statistics reset"),
	}
}

// Describe implements prometheus.Collector.
func (s *StatisticsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.count
	ch <- s.size
	ch <- s.average
}

// Collect implements prometheus.Collector.
func (s *StatisticsCollector) Collect(ch chan<- prometheus.Metric) {
	snap := s.source.Snapshot()

	for _, kind := range []struct {
		name                 string
		count, size, average int64
	}{
		{cache.KindMemory, snap.MemoryCounter, snap.MemorySize, snap.MemoryAverageSize},
		{cache.KindSpool, snap.SpoolCounter, snap.SpoolSize, snap.SpoolAverageSize},
	} {
		ch <- prometheus.MustNewConstMetric(s.count, prometheus.GaugeValue, float64(kind.count), kind.name)
		ch <- prometheus.MustNewConstMetric(s.size, prometheus.GaugeValue, float64(kind.size), kind.name)
		ch <- prometheus.MustNewConstMetric(s.average, prometheus.GaugeValue, float64(kind.average), kind.name)
	}
}
