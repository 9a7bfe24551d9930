package vivid

import (
	"context"
	"io"
	"io/fs"
	"log"
	"net/http"

	"github.com/livefir/vivid/internal/metrics"
	"github.com/livefir/vivid/internal/partcache"
)

// Fetcher loads include bodies by reference. The default implementation
// resolves http(s) URLs through the configured HTTP client and everything
// else against BaseDir or the configured fs.FS.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (io.ReadCloser, string, error)
}

// Config holds document configuration options
type Config struct {
	Logger     *log.Logger
	BaseDir    string       // Root directory for include file resolution
	FS         fs.FS        // If set, include files are read from here instead of BaseDir
	HTTPClient *http.Client // Client used for http(s) include references
	Fetcher    Fetcher      // If set, overrides the built-in include loading
	Indicator  LoadingIndicator
	Metrics    *metrics.Collector
	PartCache  *partcache.Cache
	Minify     bool // Minify serialized HTML output
}

// Option is a functional option for configuring a Document
type Option func(*Config)

// WithLogger sets the logger used for diagnostics
func WithLogger(l *log.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithBaseDir sets the root directory for resolving include file references
func WithBaseDir(dir string) Option {
	return func(c *Config) {
		c.BaseDir = dir
	}
}

// WithFS serves include files from the given filesystem instead of BaseDir
func WithFS(fsys fs.FS) Option {
	return func(c *Config) {
		c.FS = fsys
	}
}

// WithHTTPClient sets the client used to fetch http(s) include references
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithFetcher replaces the built-in include loading entirely
func WithFetcher(f Fetcher) Option {
	return func(c *Config) {
		c.Fetcher = f
	}
}

// WithLoadingIndicator sets the indicator notified around refreshes and fetches
func WithLoadingIndicator(ind LoadingIndicator) Option {
	return func(c *Config) {
		c.Indicator = ind
	}
}

// WithMetrics sets a shared metrics collector
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithPartCache sets a shared cache for fetched include bodies
func WithPartCache(pc *partcache.Cache) Option {
	return func(c *Config) {
		c.PartCache = pc
	}
}

// WithMinify minifies serialized HTML output
func WithMinify(enabled bool) Option {
	return func(c *Config) {
		c.Minify = enabled
	}
}

func defaultConfig() *Config {
	return &Config{
		Logger:     log.Default(),
		BaseDir:    ".",
		HTTPClient: http.DefaultClient,
		Indicator:  nopIndicator{},
		Metrics:    metrics.NewCollector(),
		PartCache:  partcache.New(nil),
	}
}
