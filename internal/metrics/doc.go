/*
Package metrics exports stream caching metrics to Prometheus.

Architecture

	┌─────────────┐
	│  Collector  │  ← cache.Recorder
	└──────┬──────┘
	       │
	   ┌───┴─────────────────────────────┐
	   │                                 │
	┌──▼─────────────────┐     ┌─────────▼──────┐
	│ Prometheus Registry│     │ HTTP Endpoints │
	│ - caches_total     │     │ /metrics       │
	│ - cache_duration   │     │ /health        │
	│ - cache_size_bytes │     │ /debug/caches  │
	│ - statistics_*     │     └────────────────┘
	└────────────────────┘

# Recording Cache Calls

Collector implements cache.Recorder. Pass it to the strategy and every cache
call that consumed a body is counted by kind and status, with its duration
and size:

	collector, err := metrics.NewCollector(metrics.DefaultConfig(), logger)
	if err != nil {
		return err
	}
	strategy := cache.NewStrategy(cfg, cache.WithRecorder(collector))

Failed calls are additionally counted in cache_errors_total by error code.

# Strategy Statistics

RegisterStatistics exposes a strategy's Statistics as gauges read on every
scrape:

	collector.RegisterStatistics("default", strategy.Statistics())

# Serving

Start binds the configured address and serves the registry; Stop shuts the
server down.

	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(ctx)
*/
package metrics
