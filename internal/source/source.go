// Package source opens the input bodies handed to the stream caching
// strategy: standard input, local files and S3 objects.
package source

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/retry"
	"github.com/objectfs/streamcache/pkg/utils"
)

// Schemes understood by Open.
const (
	SchemeStdin = "stdin"
	SchemeFile  = "file"
	SchemeS3    = "s3"
)

// Location is a parsed input URI.
type Location struct {
	Scheme string
	// Path is the file path for SchemeFile and the object key for SchemeS3.
	Path   string
	Bucket string
}

// String implements fmt.Stringer.
func (l Location) String() string {
	switch l.Scheme {
	case SchemeStdin:
		return "-"
	case SchemeS3:
		return "s3://" + l.Bucket + "/" + l.Path
	default:
		return l.Path
	}
}

// ParseLocation parses "-", a plain path, file:///path or s3://bucket/key.
func ParseLocation(uri string) (Location, error) {
	switch {
	case uri == "-":
		return Location{Scheme: SchemeStdin}, nil
	case uri == "":
		return Location{}, openError(uri, "empty input", nil)
	case !strings.Contains(uri, "://"):
		return Location{Scheme: SchemeFile, Path: uri}, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, openError(uri, "invalid input URI", err)
	}

	switch u.Scheme {
	case SchemeFile:
		if u.Path == "" {
			return Location{}, openError(uri, "file URI has no path", nil)
		}
		return Location{Scheme: SchemeFile, Path: u.Path}, nil
	case SchemeS3:
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Location{}, openError(uri, "s3 URI must be s3://bucket/key", nil)
		}
		return Location{Scheme: SchemeS3, Bucket: u.Host, Path: key}, nil
	default:
		return Location{}, openError(uri, "unsupported scheme "+u.Scheme, nil)
	}
}

// Body is an opened input. Size is -1 when unknown.
type Body struct {
	io.ReadCloser
	Location Location
	Size     int64
}

// Option configures an Opener.
type Option func(*Opener)

// WithStdin replaces os.Stdin.
func WithStdin(r io.Reader) Option {
	return func(o *Opener) {
		o.stdin = r
	}
}

// WithObjectGetter replaces the S3 client built from the S3 options.
func WithObjectGetter(g ObjectGetter) Option {
	return func(o *Opener) {
		o.s3 = g
	}
}

// WithLogger sets the logger.
func WithLogger(logger *utils.StructuredLogger) Option {
	return func(o *Opener) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRetry sets the retry policy for remote opens.
func WithRetry(cfg retry.Config) Option {
	return func(o *Opener) {
		o.retryer = retry.New(cfg)
	}
}

// Opener opens input bodies. The S3 client is created on first use.
type Opener struct {
	s3Options S3Options
	stdin     io.Reader
	logger    *utils.StructuredLogger
	retryer   *retry.Retryer

	s3Once sync.Once
	s3     ObjectGetter
	s3Err  error

	stdinMu   sync.Mutex
	stdinUsed bool
}

// NewOpener creates an Opener.
func NewOpener(s3Options S3Options, opts ...Option) *Opener {
	o := &Opener{
		s3Options: s3Options,
		stdin:     os.Stdin,
		logger:    utils.NewNopLogger(),
		retryer:   retry.New(retry.DefaultConfig()),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithComponent("source")
	return o
}

// Open opens uri. Standard input can be opened only once.
func (o *Opener) Open(ctx context.Context, uri string) (*Body, error) {
	loc, err := ParseLocation(uri)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("opening input", map[string]interface{}{"input": loc.String()})

	switch loc.Scheme {
	case SchemeStdin:
		return o.openStdin(loc)
	case SchemeS3:
		return o.openS3(ctx, loc)
	default:
		return openFile(loc)
	}
}

func (o *Opener) openStdin(loc Location) (*Body, error) {
	o.stdinMu.Lock()
	defer o.stdinMu.Unlock()

	if o.stdinUsed {
		return nil, openError("-", "standard input can only be read once", nil)
	}
	o.stdinUsed = true
	return &Body{ReadCloser: io.NopCloser(o.stdin), Location: loc, Size: -1}, nil
}

func openFile(loc Location) (*Body, error) {
	f, err := os.Open(loc.Path)
	if err != nil {
		return nil, openError(loc.String(), "cannot open file", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, openError(loc.String(), "cannot stat file", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, openError(loc.String(), "input is a directory", nil)
	}
	return &Body{ReadCloser: f, Location: loc, Size: info.Size()}, nil
}

// openError builds a non-retryable SOURCE_OPEN error.
func openError(uri, message string, cause error) *errors.CachingError {
	e := errors.NewError(errors.ErrCodeSourceOpen, message).
		WithComponent("source").
		WithOperation("open").
		WithContext("input", uri)
	e.Retryable = false
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}
