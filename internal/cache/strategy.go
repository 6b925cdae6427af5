package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/objectfs/streamcache/internal/buffer"
	"github.com/objectfs/streamcache/internal/spool"
	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/utils"
)

const tracerName = "github.com/objectfs/streamcache/internal/cache"

// Kinds reported to a Recorder.
const (
	KindMemory = "memory"
	KindSpool  = "spool"
)

// Recorder receives one observation per Cache call that consumed a body.
type Recorder interface {
	RecordCache(kind string, duration time.Duration, size int64, err error)
}

type state int

const (
	stateCreated state = iota
	stateStarted
	stateStopping
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateStarted:
		return "started"
	case stateStopping:
		return "stopping"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *utils.StructuredLogger) Option {
	return func(s *Strategy) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracerProvider sets the provider for cache spans. The default is the
// global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Strategy) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithRecorder registers a Recorder, typically the metrics collector.
func WithRecorder(r Recorder) Option {
	return func(s *Strategy) {
		s.recorder = r
	}
}

// WithClassifier replaces NeedsCaching.
func WithClassifier(c Classifier) Option {
	return func(s *Strategy) {
		if c != nil {
			s.classify = c
		}
	}
}

// Strategy turns single-pass bodies into repeatable caches, keeping small
// bodies in memory and spooling large ones to disk.
//
// Settings may be changed until Start. Cache is safe for concurrent use
// between Start and Stop.
type Strategy struct {
	mu       sync.Mutex
	state    state
	cfg      Config
	inflight sync.WaitGroup

	// set by Start
	manager *spool.Manager
	cipher  *spool.Cipher
	pool    *buffer.BytePool

	stats    *Statistics
	logger   *utils.StructuredLogger
	tracer   trace.Tracer
	recorder Recorder
	classify Classifier

	// createSpool opens a new spool file for writing.
	createSpool func(path string) (io.WriteCloser, error)
}

// NewStrategy creates a strategy. A nil cfg uses DefaultConfig.
func NewStrategy(cfg *Config, opts ...Option) *Strategy {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Strategy{
		cfg:      *cfg,
		stats:    NewStatistics(),
		logger:   utils.NewNopLogger(),
		tracer:   otel.GetTracerProvider().Tracer(tracerName),
		classify: NeedsCaching,
		createSpool: func(path string) (io.WriteCloser, error) {
			return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("stream-caching")
	s.stats.SetEnabled(cfg.StatisticsEnabled)
	return s
}

// set applies fn to the configuration if the strategy has not been started.
func (s *Strategy) set(name string, fn func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateCreated {
		return errors.NewError(errors.ErrCodeAlreadyStarted,
			fmt.Sprintf("cannot change %s after start", name)).
			WithComponent("strategy").
			WithOperation("configure").
			WithContext("state", s.state.String())
	}
	fn(&s.cfg)
	return nil
}

func (s *Strategy) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetEnabled turns caching on or off.
func (s *Strategy) SetEnabled(enabled bool) error {
	return s.set("enabled", func(c *Config) { c.Enabled = enabled })
}

// SetSpoolDirectory sets the spool directory pattern; #uuid# is substituted on start.
func (s *Strategy) SetSpoolDirectory(dir string) error {
	return s.set("spool directory", func(c *Config) { c.SpoolDirectory = dir })
}

// SetSpoolThreshold sets the spool threshold in bytes. SpoolDisabled turns spooling off.
func (s *Strategy) SetSpoolThreshold(threshold int64) error {
	return s.set("spool threshold", func(c *Config) { c.SpoolThreshold = threshold })
}

// SetBufferSize sets the chunk size used for streaming.
func (s *Strategy) SetBufferSize(size int) error {
	return s.set("buffer size", func(c *Config) { c.BufferSize = size })
}

// SetSpoolCipher selects the spool cipher. Empty disables encryption.
func (s *Strategy) SetSpoolCipher(name string) error {
	return s.set("spool cipher", func(c *Config) { c.SpoolCipher = name })
}

// SetRemoveSpoolDirectoryWhenStopping controls whether Stop deletes the spool directory.
func (s *Strategy) SetRemoveSpoolDirectoryWhenStopping(remove bool) error {
	return s.set("remove spool directory when stopping", func(c *Config) {
		c.RemoveSpoolDirectoryWhenStopping = remove
	})
}

// Enabled reports whether caching is enabled.
func (s *Strategy) Enabled() bool {
	return s.config().Enabled
}

// SpoolThreshold returns the spool threshold in bytes.
func (s *Strategy) SpoolThreshold() int64 {
	return s.config().SpoolThreshold
}

// BufferSize returns the streaming chunk size.
func (s *Strategy) BufferSize() int {
	return s.config().BufferSize
}

// SpoolCipher returns the configured cipher name.
func (s *Strategy) SpoolCipher() string {
	return s.config().SpoolCipher
}

// RemoveSpoolDirectoryWhenStopping reports whether Stop deletes the spool directory.
func (s *Strategy) RemoveSpoolDirectoryWhenStopping() bool {
	return s.config().RemoveSpoolDirectoryWhenStopping
}

// SpoolDirectory returns the resolved spool directory once started, and the
// configured pattern before that.
func (s *Strategy) SpoolDirectory() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manager != nil {
		if dir := s.manager.Directory(); dir != "" {
			return dir
		}
	}
	if s.cfg.SpoolDirectory == "" {
		return spool.DefaultDirectory()
	}
	return s.cfg.SpoolDirectory
}

// Statistics returns the live statistics.
func (s *Strategy) Statistics() *Statistics {
	return s.stats
}

// SpoolFiles lists the spool files currently on disk.
func (s *Strategy) SpoolFiles() ([]string, error) {
	s.mu.Lock()
	manager := s.manager
	s.mu.Unlock()

	if manager == nil {
		return nil, nil
	}
	return manager.Files()
}

// Start validates the configuration and prepares the spool directory.
// A failed Start leaves the strategy unstarted so it can be corrected and retried.
func (s *Strategy) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateStarted:
		return errors.NewError(errors.ErrCodeAlreadyStarted, "strategy already started").
			WithComponent("strategy").
			WithOperation("start")
	case stateStopping, stateStopped:
		return errors.NewError(errors.ErrCodeInvalidState, "strategy cannot be restarted after stop").
			WithComponent("strategy").
			WithOperation("start").
			WithContext("state", s.state.String())
	}

	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.ErrCodeOperationCanceled, "start canceled", err).
			WithComponent("strategy").
			WithOperation("start")
	}

	if err := s.cfg.Validate(); err != nil {
		return err
	}

	c, err := spool.LookupCipher(s.cfg.SpoolCipher)
	if err != nil {
		return err
	}

	manager := spool.NewManager(s.cfg.SpoolDirectory, s.logger)
	if s.cfg.SpoolEnabled() {
		if _, err := manager.EnsureDirectory(); err != nil {
			return err
		}
	}

	s.manager = manager
	s.cipher = c
	s.pool = buffer.NewBytePool(s.cfg.BufferSize)
	s.stats.Reset()
	s.state = stateStarted

	s.logger.Info("stream caching started", map[string]interface{}{
		"enabled":         s.cfg.Enabled,
		"spool_directory": manager.Directory(),
		"spool_threshold": s.cfg.SpoolThreshold,
		"buffer_size":     s.cfg.BufferSize,
		"spool_cipher":    s.cfg.SpoolCipher,
	})
	return nil
}

// Stop rejects new Cache calls, waits for in-flight ones and removes the
// spool directory if configured. If ctx ends first the strategy is still
// stopped, the directory is kept and an OPERATION_TIMEOUT error is returned.
// Stop on a strategy that is not running is a no-op.
func (s *Strategy) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateStarted {
		s.mu.Unlock()
		return nil
	}
	s.state = stateStopping
	manager := s.manager
	remove := s.cfg.RemoveSpoolDirectoryWhenStopping
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.setState(stateStopped)
		s.logger.Warn("stream caching stopped before in-flight calls finished", map[string]interface{}{
			"spool_directory": manager.Directory(),
		})
		return errors.Wrap(errors.ErrCodeOperationTimeout, "timed out waiting for in-flight cache calls", ctx.Err()).
			WithComponent("strategy").
			WithOperation("stop")
	}

	if remove {
		// Teardown logs its own failures; stopping still succeeds.
		_ = manager.Teardown()
	}
	s.setState(stateStopped)

	s.logger.Info("stream caching stopped", map[string]interface{}{
		"statistics": s.stats.String(),
	})
	return nil
}

func (s *Strategy) setState(st state) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// enter registers an in-flight call. The caller must call s.inflight.Done.
func (s *Strategy) enter() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateStarted:
		s.inflight.Add(1)
		return s.cfg, nil
	case stateCreated:
		return Config{}, errors.NewError(errors.ErrCodeInvalidState, "strategy not started").
			WithComponent("strategy").
			WithOperation("cache")
	default:
		return Config{}, errors.NewError(errors.ErrCodeComponentStopped, "strategy is stopped").
			WithComponent("strategy").
			WithOperation("cache").
			WithContext("state", s.state.String())
	}
}

// Cache consumes body and returns a repeatable Cache of its content. It
// returns (nil, nil) when caching is disabled or body needs no caching; such
// a body is left open for the caller. Otherwise the body is closed afterwards
// if it implements io.Closer, including when the call is rejected because the
// strategy is not running.
func (s *Strategy) Cache(ctx context.Context, body any) (Cache, error) {
	cfg, err := s.enter()
	if err != nil {
		s.closeBody(body)
		return nil, err
	}
	defer s.inflight.Done()

	if !cfg.Enabled || !s.classify(body) {
		return nil, nil
	}
	r, ok := body.(io.Reader)
	if !ok {
		return nil, nil
	}

	ctx, span := s.tracer.Start(ctx, "streamcache.cache")
	defer span.End()

	started := time.Now()
	c, kind, err := s.consume(ctx, cfg, r)

	s.closeBody(body)

	if s.recorder != nil {
		var size int64
		if c != nil {
			size = c.Length()
		}
		s.recorder.RecordCache(kind, time.Since(started), size, err)
	}

	span.SetAttributes(attribute.String("streamcache.kind", kind))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int64("streamcache.length", c.Length()))
	if c.InMemory() {
		s.stats.RecordMemory(c.Length())
	} else {
		s.stats.RecordSpool(c.Length())
	}
	return c, nil
}

func (s *Strategy) closeBody(body any) {
	if closer, ok := body.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warn("failed to close body", map[string]interface{}{"error": err})
		}
	}
}

// consume streams r through a ThresholdWriter. On failure the partial spool
// file, if any, is removed.
func (s *Strategy) consume(ctx context.Context, cfg Config, r io.Reader) (Cache, string, error) {
	var (
		path string
		key  *spool.Key
	)

	spill := func() (io.WriteCloser, error) {
		p, err := s.manager.Allocate()
		if err != nil {
			return nil, err
		}
		f, err := s.createSpool(p)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeSpoolWrite, "cannot create spool file", err).
				WithComponent("strategy").
				WithContext("path", p)
		}
		path = p
		s.logger.Debug("spooling body to disk", map[string]interface{}{"path": p})

		if s.cipher == nil {
			return f, nil
		}
		k, err := s.cipher.NewKey()
		if err != nil {
			_ = f.Close()
			return nil, errors.Wrap(errors.ErrCodeSpoolWrite, "cannot create spool key", err).
				WithComponent("strategy")
		}
		w, err := k.Writer(f)
		if err != nil {
			_ = f.Close()
			return nil, errors.Wrap(errors.ErrCodeSpoolWrite, "cannot initialize spool cipher", err).
				WithComponent("strategy").
				WithContext("cipher", s.cipher.Name())
		}
		key = k
		return w, nil
	}

	threshold := cfg.SpoolThreshold
	initial := cfg.BufferSize
	if threshold >= 0 && threshold < int64(initial) {
		initial = int(threshold)
	}
	tw := buffer.NewThresholdWriter(threshold, initial, spill)

	kind := func() string {
		if tw.Spilled() {
			return KindSpool
		}
		return KindMemory
	}
	fail := func(err error) (Cache, string, error) {
		k := kind()
		tw.Abort()
		if path != "" {
			if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
				s.logger.Warn("failed to delete partial spool file", map[string]interface{}{
					"path":  path,
					"error": rerr,
				})
			}
		}
		return nil, k, err
	}

	buf := s.pool.Get(cfg.BufferSize)
	defer s.pool.Put(buf)

	for {
		if err := ctx.Err(); err != nil {
			return fail(errors.Wrap(errors.ErrCodeOperationCanceled, "caching canceled", err).
				WithComponent("strategy").
				WithOperation("cache"))
		}

		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := tw.Write(buf[:n]); werr != nil {
				return fail(spoolWriteError(werr, path))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fail(errors.Wrap(errors.ErrCodeSourceRead, "cannot read body", rerr).
				WithComponent("strategy").
				WithOperation("cache").
				WithDetail("bytes_read", tw.Len()))
		}
	}

	if err := tw.Close(); err != nil {
		return fail(spoolWriteError(err, path))
	}

	if !tw.Spilled() {
		return NewMemoryCache(tw.Bytes(), cfg.BufferSize), KindMemory, nil
	}

	file := &spoolFile{
		path:   path,
		key:    key,
		length: tw.Len(),
		logger: s.logger,
	}
	return newSpoolCache(file, cfg.BufferSize), KindSpool, nil
}

func spoolWriteError(err error, path string) error {
	if errors.GetCode(err) != errors.ErrCodeUnknownError {
		return err
	}
	return errors.Wrap(errors.ErrCodeSpoolWrite, "cannot write spool file", err).
		WithComponent("strategy").
		WithOperation("cache").
		WithContext("path", path)
}

// String summarizes the configuration.
func (s *Strategy) String() string {
	cfg := s.config()
	return fmt.Sprintf(
		"StreamCachingStrategy[enabled=%t, spoolDirectory=%s, spoolThreshold=%d, bufferSize=%d, "+
			"spoolCipher=%q, removeSpoolDirectoryWhenStopping=%t, statistics=%t]",
		cfg.Enabled, s.SpoolDirectory(), cfg.SpoolThreshold, cfg.BufferSize,
		cfg.SpoolCipher, cfg.RemoveSpoolDirectoryWhenStopping, s.stats.Enabled())
}
