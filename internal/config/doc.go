/*
Package config provides configuration management for streamcache.

Configuration is assembled from three sources with increasing precedence:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (STREAMCACHE_*)                   │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File (YAML)           │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

Command line flags are applied on top by the CLI.

# Configuration File

	global:
	  log_level: INFO
	  log_format: text
	  log_file: ""
	  component_levels:
	    stream-caching: DEBUG

	stream_caching:
	  enabled: true
	  spool_directory: /var/tmp/streamcache-#uuid#
	  spool_threshold: 128KB      # "-1" disables spooling
	  buffer_size: 4KB
	  spool_cipher: AES/CTR       # or ChaCha20, empty for none
	  remove_spool_directory_when_stopping: true
	  statistics_enabled: false

	metrics:
	  enabled: false
	  address: ":9090"
	  path: /metrics
	  namespace: streamcache

	source:
	  max_concurrency: 8
	  retry:
	    max_attempts: 3
	    initial_delay: 100ms
	    max_delay: 5s
	  s3:
	    region: us-east-1
	    endpoint: ""
	    use_path_style: false

# Environment Variables

	STREAMCACHE_LOG_LEVEL, STREAMCACHE_LOG_FILE, STREAMCACHE_LOG_FORMAT
	STREAMCACHE_ENABLED, STREAMCACHE_SPOOL_DIRECTORY, STREAMCACHE_SPOOL_THRESHOLD
	STREAMCACHE_BUFFER_SIZE, STREAMCACHE_SPOOL_CIPHER
	STREAMCACHE_REMOVE_SPOOL_DIRECTORY_WHEN_STOPPING, STREAMCACHE_STATISTICS_ENABLED
	STREAMCACHE_METRICS_ENABLED, STREAMCACHE_METRICS_ADDRESS
	STREAMCACHE_MAX_CONCURRENCY, STREAMCACHE_S3_REGION, STREAMCACHE_S3_ENDPOINT
	STREAMCACHE_S3_USE_PATH_STYLE, STREAMCACHE_RETRY_MAX_ATTEMPTS

# Usage

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	cacheCfg, err := cfg.StreamCaching.ToCacheConfig()
	if err != nil {
		return err
	}
	strategy := cache.NewStrategy(cacheCfg)
*/
package config
