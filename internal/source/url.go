package source

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/finderskeepers/keeperd/internal/knowledge"
	"github.com/finderskeepers/keeperd/internal/logging"
)

const (
	// DefaultFetchTimeout bounds one URL download end to end.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxFetchBytes caps a response body at 50 MiB.
	DefaultMaxFetchBytes int64 = 50 << 20

	defaultUserAgent = "keeperd/1.0"
)

// FetcherConfig tunes the URL fetcher.
type FetcherConfig struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
}

func (c FetcherConfig) withDefaults() FetcherConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultFetchTimeout
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxFetchBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	return c
}

// Fetcher downloads documents over HTTP(S) for ingestion. Redirects are
// followed; the URL after redirects becomes the document's source URI.
type Fetcher struct {
	client *http.Client
	cfg    FetcherConfig
	log    *logging.Logger
}

// NewFetcher builds a fetcher with its own bounded HTTP client.
func NewFetcher(cfg FetcherConfig, log *logging.Logger) *Fetcher {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logging.Nop()
	}
	return &Fetcher{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		log:    log.Named("source.url"),
	}
}

// Fetch GETs the URL and returns the body, the Content-Type header, and
// the final URL after redirects. Bodies over the configured cap fail with
// ErrExtractionFailed before any downstream work happens.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", "", knowledge.Validationf("invalid url %q: %v", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", "", knowledge.Validationf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, "", "", knowledge.Validationf("url %q has no host", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", "", knowledge.Validationf("invalid url %q: %v", rawURL, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html, application/xhtml+xml, text/markdown;q=0.9, text/plain;q=0.8, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", "", knowledge.Extractionf("fetch %s: %v", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", "", knowledge.Extractionf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, "", "", knowledge.Extractionf("fetch %s: read body: %v", rawURL, err)
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return nil, "", "", knowledge.Extractionf("size_exceeded: %s is over %d bytes", rawURL, f.cfg.MaxBytes)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	f.log.Debug(ctx, "fetched url",
		zap.String("url", rawURL),
		zap.String("final_url", finalURL),
		zap.Int("bytes", len(body)))
	return body, resp.Header.Get("Content-Type"), finalURL, nil
}
