/*
Package cache turns bodies that can only be read once into caches that can be
read any number of times.

A Strategy consumes an io.Reader in fixed-size chunks. Small bodies stay in
memory; once the number of bytes read reaches the spool threshold the body is
moved to a file in the spool directory, optionally encrypted with a per-file
key.

	        io.Reader (read once)
	                  │
	┌─────────────────────────────────────┐
	│             Strategy                │
	│   chunks of buffer_size bytes       │
	└─────────────────────────────────────┘
	                  │
	┌─────────────────────────────────────┐
	│       buffer.ThresholdWriter        │
	│  memory ──(≥ spool_threshold)──► file│
	└─────────────────────────────────────┘
	          │                   │
	    MemoryCache          SpoolCache
	                     (spool.Manager dir,
	                      AES/CTR or ChaCha20)

# Lifecycle

Settings are changed with the Set methods, or through Config, until Start.
Start validates them, resolves the spool cipher and creates the spool
directory. Cache may then be called concurrently. Stop refuses new calls,
waits for running ones and removes the spool directory when
remove_spool_directory_when_stopping is set.

	strategy := cache.NewStrategy(&cache.Config{
		Enabled:        true,
		SpoolThreshold: 128 * 1024,
		BufferSize:     4096,
		SpoolCipher:    "AES/CTR",
	}, cache.WithLogger(logger))

	if err := strategy.Start(ctx); err != nil {
		return err
	}
	defer strategy.Stop(ctx)

	c, err := strategy.Cache(ctx, resp.Body)
	if err != nil {
		return err
	}
	defer c.Release()

	c.WriteTo(first)
	c.WriteTo(second)

# Thresholds

A body whose length equals the threshold is spooled. A threshold of 0 spools
every non-empty body and a threshold of -1 (SpoolDisabled) keeps every body in
memory regardless of size.

# Statistics

Statistics count caches created per kind and their total and average sizes.
They are disabled by default and reset on Start.

	strategy.Statistics().SetEnabled(true)
	snap := strategy.Statistics().Snapshot()
	fmt.Println(snap.SpoolCounter, snap.SpoolSize)

# Thread Safety

Strategy is safe for concurrent use. A Cache handle's ReadChunk and Reset share
one cursor; use Open or WriteTo for concurrent readers of the same handle, or
give each reader its own Copy.
*/
package cache
