package cli

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/objectfs/streamcache/internal/cache"
	"github.com/objectfs/streamcache/internal/config"
	"github.com/objectfs/streamcache/internal/metrics"
	"github.com/objectfs/streamcache/internal/source"
	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/utils"
)

const (
	kindUncached    = "uncached"
	shutdownTimeout = 10 * time.Second
)

type cacheFlags struct {
	outputDir      string
	stats          bool
	spoolDirectory string
	spoolThreshold string
	bufferSize     string
	cipher         string
}

// apply overrides the stream caching section with the flags that were set.
func (f *cacheFlags) apply(cmd *cobra.Command, cfg *config.Configuration) error {
	sc := &cfg.StreamCaching
	if f.stats {
		sc.StatisticsEnabled = true
	}
	if cmd.Flags().Changed("spool-dir") {
		sc.SpoolDirectory = f.spoolDirectory
	}
	if cmd.Flags().Changed("spool-threshold") {
		sc.SpoolThreshold = f.spoolThreshold
	}
	if cmd.Flags().Changed("buffer-size") {
		sc.BufferSize = f.bufferSize
	}
	if cmd.Flags().Changed("cipher") {
		sc.SpoolCipher = f.cipher
	}
	return cfg.Validate()
}

// inputResult describes one cached input.
type inputResult struct {
	input  string
	kind   string
	length int64
	digest string
	output string
}

func newCacheCmd(opts *options) *cobra.Command {
	flags := &cacheFlags{}

	cmd := &cobra.Command{
		Use:   "cache <input>...",
		Short: "Cache inputs and verify they can be read repeatedly",
		Long: "Read every input once through the stream caching strategy, then read each cache " +
			"back twice and compare digests.\n\n" +
			"Inputs are file paths, file:// URIs, s3://bucket/key or - for standard input.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCache(cmd, opts, flags, args)
		},
	}

	cmd.Flags().StringVarP(&flags.outputDir, "output", "o", "", "Write each cached input into this directory")
	cmd.Flags().BoolVar(&flags.stats, "stats", false, "Enable and print stream caching statistics")
	cmd.Flags().StringVar(&flags.spoolDirectory, "spool-dir", "", "Spool directory (#uuid# is replaced)")
	cmd.Flags().StringVar(&flags.spoolThreshold, "spool-threshold", "", "Spool threshold such as 128KB, -1 disables spooling")
	cmd.Flags().StringVar(&flags.bufferSize, "buffer-size", "", "Streaming buffer size such as 4KB")
	cmd.Flags().StringVar(&flags.cipher, "cipher", "", "Spool cipher: AES/CTR or ChaCha20")

	return cmd
}

func runCache(cmd *cobra.Command, opts *options, flags *cacheFlags, inputs []string) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	if err := flags.apply(cmd, cfg); err != nil {
		return err
	}

	logger, closeLog, err := cfg.Global.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	cacheCfg, err := cfg.StreamCaching.ToCacheConfig()
	if err != nil {
		return err
	}

	collector, err := metrics.NewCollector(cfg.Metrics.ToMetricsConfig(), logger)
	if err != nil {
		return err
	}
	strategy := cache.NewStrategy(cacheCfg, cache.WithLogger(logger), cache.WithRecorder(collector))
	if err := collector.RegisterStatistics("default", strategy.Statistics()); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = collector.Stop(stopCtx)
	}()

	if err := strategy.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := strategy.Stop(stopCtx); err != nil {
			logger.Warn("stream caching did not stop cleanly", map[string]interface{}{"error": err})
		}
	}()

	if flags.outputDir != "" {
		if err := os.MkdirAll(flags.outputDir, 0o750); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	opener := source.NewOpener(cfg.Source.S3.ToS3Options(),
		source.WithLogger(logger),
		source.WithStdin(cmd.InOrStdin()),
		source.WithRetry(cfg.Source.Retry))

	results := make([]inputResult, len(inputs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(cfg.Source.MaxConcurrency)
	for i, input := range inputs {
		eg.Go(func() error {
			res, err := cacheInput(egCtx, strategy, opener, input, outputPath(flags.outputDir, i, input))
			if err != nil {
				return fmt.Errorf("%s: %w", input, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, res := range results {
		line := fmt.Sprintf("%s\t%s\t%s\tsha256:%s", res.input, res.kind, utils.FormatBytes(res.length), res.digest)
		if res.output != "" {
			line += "\t" + res.output
		}
		_, _ = fmt.Fprintln(out, line)
	}
	if strategy.Statistics().Enabled() {
		_, _ = fmt.Fprintf(out, "statistics %s\n", strategy.Statistics())
	}
	return nil
}

// cacheInput caches one input, reads it back twice and optionally writes it to output.
func cacheInput(ctx context.Context, strategy *cache.Strategy, opener *source.Opener, input, output string) (inputResult, error) {
	res := inputResult{input: input, output: output}

	body, err := opener.Open(ctx, input)
	if err != nil {
		return res, err
	}

	c, err := strategy.Cache(ctx, body)
	if err != nil {
		return res, err
	}
	if c == nil {
		// Caching is disabled: the body can be read exactly once.
		defer body.Close()
		return streamOnce(body, res)
	}
	defer c.Release()

	res.kind = cache.KindMemory
	if !c.InMemory() {
		res.kind = cache.KindSpool
	}
	res.length = c.Length()

	first := sha256.New()
	if _, err := c.WriteTo(first); err != nil {
		return res, err
	}

	second := sha256.New()
	if err := c.Reset(); err != nil {
		return res, err
	}
	for {
		chunk, err := c.ReadChunk()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, err
		}
		second.Write(chunk)
	}

	if !bytes.Equal(first.Sum(nil), second.Sum(nil)) {
		return res, errors.NewError(errors.ErrCodeInternalError, "cached content changed between reads").
			WithComponent("cli").
			WithContext("input", input).
			WithStack()
	}
	res.digest = hex.EncodeToString(first.Sum(nil))

	if output != "" {
		if err := writeFile(output, c.WriteTo); err != nil {
			return res, err
		}
	}
	return res, nil
}

func streamOnce(body io.Reader, res inputResult) (inputResult, error) {
	res.kind = kindUncached
	h := sha256.New()

	copyBody := func(w io.Writer) (int64, error) {
		n, err := io.Copy(w, body)
		res.length = n
		if err != nil {
			return n, errors.Wrap(errors.ErrCodeSourceRead, "cannot read input", err).WithComponent("cli")
		}
		return n, nil
	}

	var err error
	if res.output != "" {
		err = writeFile(res.output, func(f io.Writer) (int64, error) {
			return copyBody(io.MultiWriter(h, f))
		})
	} else {
		_, err = copyBody(h)
	}
	if err != nil {
		return res, err
	}

	res.digest = hex.EncodeToString(h.Sum(nil))
	return res, nil
}

func writeFile(name string, write func(io.Writer) (int64, error)) error {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if _, err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// outputPath names the output file for the i-th input, or "" without an output directory.
func outputPath(dir string, i int, input string) string {
	if dir == "" {
		return ""
	}
	base := "stdin"
	if input != "-" {
		base = path.Base(filepath.ToSlash(input))
	}
	return filepath.Join(dir, fmt.Sprintf("%d-%s", i, base))
}
