// Package cli implements the streamcache command line interface.
package cli

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/objectfs/streamcache/internal/config"
	"github.com/objectfs/streamcache/pkg/errors"
)

// Version is set at build time.
var Version = "dev"

// options holds the global flags.
type options struct {
	configFile  string
	logLevel    string
	metricsAddr string
	errorFormat string
}

// load builds the effective configuration: file and environment first,
// then global flags.
func (o *options) load() (*config.Configuration, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Global.LogLevel = o.logLevel
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = o.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewRootCmd creates the root command with all subcommands.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{})
}

func newRootCmd(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "streamcache",
		Short: "Cache single-pass streams for repeated reads",
		Long: "streamcache reads each input once and keeps it in memory or spools it to disk, " +
			"so it can be read again any number of times",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "",
		"Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"Log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address while running")
	rootCmd.PersistentFlags().StringVar(&opts.errorFormat, "error-format", "text",
		"Format of the error report on failure (text or json)")

	rootCmd.AddCommand(newCacheCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))

	return rootCmd
}

// Execute runs the root command until it finishes or the process is
// interrupted. A failure is reported on stderr before it is returned.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &options{}
	cmd := newRootCmd(opts)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		reportError(cmd.ErrOrStderr(), err, opts.errorFormat)
	}
	return err
}

// reportError writes err to w. Caching errors carry a hint in text form and
// are serialized whole in json form.
func reportError(w io.Writer, err error, format string) {
	var ce *errors.CachingError
	isCaching := stderrors.As(err, &ce)

	if format == "json" {
		if isCaching {
			_, _ = fmt.Fprintln(w, ce.JSON())
			return
		}
		data, _ := json.Marshal(map[string]string{"message": err.Error()})
		_, _ = fmt.Fprintln(w, string(data))
		return
	}

	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
	if isCaching {
		_, _ = fmt.Fprintf(w, "Hint: %s\n", ce.GetRecommendation())
	}
}
