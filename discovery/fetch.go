package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pevans/sitefeed/scraper"
	"golang.org/x/net/html/charset"
)

// Fetch defaults.
const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	DefaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	DefaultAcceptLanguage = "en-US,en;q=0.9,ru;q=0.8"
	DefaultTimeout        = 30 * time.Second
	DefaultDelay          = 1500 * time.Millisecond

	maxBodySize = 16 << 20
)

// Page is a fetched document with its body decoded to UTF-8.
type Page struct {
	URL      string
	Status   int
	Body     []byte
	Encoding string
}

// PageFetcher retrieves pages.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// FetchError reports a fetch that failed after all retries.
type FetchError struct {
	URL      string
	Status   int
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d after %d attempt(s)", e.URL, e.Status, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %v after %d attempt(s)", e.URL, e.Err, e.Attempts)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ErrHTTPStatus is wrapped by FetchError when the server answered with a
// non-2xx status.
var ErrHTTPStatus = errors.New("unexpected http status")

// FetcherOptions configure an HTTPFetcher.
type FetcherOptions struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	Retry          scraper.RetryConfig
	Throttle       *HostThrottle
	Client         *http.Client
	Logger         *slog.Logger
	// Sleep waits between retries. It defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// HTTPFetcher fetches pages with browser-like headers, a bounded timeout and
// linear retry backoff. Requests to one host are serialized by the throttle.
type HTTPFetcher struct {
	client         *http.Client
	userAgent      string
	acceptLanguage string
	timeout        time.Duration
	retry          scraper.RetryConfig
	throttle       *HostThrottle
	logger         *slog.Logger
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewHTTPFetcher creates a fetcher from opts, filling in defaults.
func NewHTTPFetcher(opts FetcherOptions) *HTTPFetcher {
	f := &HTTPFetcher{
		client:         opts.Client,
		userAgent:      opts.UserAgent,
		acceptLanguage: opts.AcceptLanguage,
		timeout:        opts.Timeout,
		retry:          opts.Retry,
		throttle:       opts.Throttle,
		logger:         opts.Logger,
		sleep:          opts.Sleep,
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	if f.userAgent == "" {
		f.userAgent = DefaultUserAgent
	}
	if f.acceptLanguage == "" {
		f.acceptLanguage = DefaultAcceptLanguage
	}
	if f.timeout <= 0 {
		f.timeout = DefaultTimeout
	}
	if f.retry.Attempts < 1 {
		f.retry.Attempts = 1
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.sleep == nil {
		f.sleep = sleepContext
	}
	return f
}

// ForSource returns a copy of the fetcher using the source's retry policy
// and timeout where they are set. The throttle is shared.
func (f *HTTPFetcher) ForSource(cfg *scraper.SourceConfig) *HTTPFetcher {
	c := *f
	if cfg.Retry.Attempts > 0 {
		c.retry.Attempts = cfg.Retry.Attempts
	}
	if cfg.Retry.Backoff > 0 {
		c.retry.Backoff = cfg.Retry.Backoff
	}
	if cfg.Timeout > 0 {
		c.timeout = cfg.Timeout
	}
	c.logger = f.logger.With("source", cfg.Name)
	return &c
}

// Fetch retrieves rawURL. Transport errors and non-2xx responses are retried
// up to the configured attempts, waiting backoff*attempt between tries.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, &FetchError{URL: rawURL, Attempts: 0, Err: fmt.Errorf("invalid url: %q", rawURL)}
	}

	var lastErr error
	var lastStatus int

	for attempt := 1; attempt <= f.retry.Attempts; attempt++ {
		page, status, err := f.fetchOnce(ctx, u)
		if err == nil {
			return page, nil
		}
		lastErr, lastStatus = err, status

		if ctx.Err() != nil {
			break
		}
		if attempt < f.retry.Attempts {
			wait := f.retry.Backoff * time.Duration(attempt)
			f.logger.Warn("fetch failed, retrying",
				"url", rawURL, "attempt", attempt, "wait", wait, "error", err)
			if err := f.sleep(ctx, wait); err != nil {
				lastErr = err
				break
			}
		}
	}

	return nil, &FetchError{URL: rawURL, Status: lastStatus, Attempts: f.retry.Attempts, Err: lastErr}
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, u *url.URL) (*Page, int, error) {
	if f.throttle != nil {
		release, err := f.throttle.Acquire(ctx, u.Host)
		if err != nil {
			return nil, 0, err
		}
		defer release()
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", DefaultAccept)
	req.Header.Set("Accept-Language", f.acceptLanguage)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, resp.StatusCode, fmt.Errorf("%w: %d %s", ErrHTTPStatus, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read body: %w", err)
	}

	body, encoding, err := DecodeBody(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return &Page{
		URL:      resp.Request.URL.String(),
		Status:   resp.StatusCode,
		Body:     body,
		Encoding: encoding,
	}, resp.StatusCode, nil
}

// DecodeBody converts raw to UTF-8. A BOM or the content type charset is
// trusted; a meta tag or the detector's guess only counts when raw is not
// already valid UTF-8.
func DecodeBody(raw []byte, contentType string) ([]byte, string, error) {
	_, name, certain := charset.DetermineEncoding(raw, contentType)
	if !certain && utf8.Valid(raw) {
		return raw, "utf-8", nil
	}
	if name == "" || strings.EqualFold(name, "utf-8") {
		return raw, "utf-8", nil
	}

	r, err := charset.NewReaderLabel(name, bytes.NewReader(raw))
	if err != nil {
		return raw, "utf-8", nil
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return nil, name, fmt.Errorf("failed to decode %s body: %w", name, err)
	}
	return decoded, name, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsPermanent reports whether err is unlikely to succeed on a later run:
// missing pages, bad URLs and unknown hosts. Everything else is treated as
// transient.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		switch fe.Status {
		case http.StatusNotFound, http.StatusGone:
			return true
		}
	}

	errMsg := strings.ToLower(err.Error())
	for _, marker := range []string{"no such host", "invalid url", "unsupported protocol"} {
		if strings.Contains(errMsg, marker) {
			return true
		}
	}
	return false
}
