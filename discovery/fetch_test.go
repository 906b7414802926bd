package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pevans/sitefeed/logging"
	"github.com/pevans/sitefeed/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleep collects requested waits without sleeping
type recordingSleep struct {
	waits []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func newTestFetcher(attempts int, backoff time.Duration, sleeper *recordingSleep) *HTTPFetcher {
	opts := FetcherOptions{
		Retry:   scraper.RetryConfig{Attempts: attempts, Backoff: backoff},
		Timeout: 5 * time.Second,
		Logger:  logging.Discard(),
	}
	if sleeper != nil {
		opts.Sleep = sleeper.sleep
	}
	return NewHTTPFetcher(opts)
}

// TestFetch_BrowserHeaders verifies requests look like a browser
func TestFetch_BrowserHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla/5.0")
		assert.Contains(t, r.Header.Get("Accept"), "text/html")
		assert.NotEmpty(t, r.Header.Get("Accept-Language"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer server.Close()

	page, err := newTestFetcher(1, 0, nil).Fetch(context.Background(), server.URL+"/list")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, page.Status)
	assert.Equal(t, server.URL+"/list", page.URL)
	assert.Equal(t, "utf-8", page.Encoding)
	assert.Contains(t, string(page.Body), "ok")
}

// TestFetch_RetriesWithLinearBackoff verifies transient failures are retried
func TestFetch_RetriesWithLinearBackoff(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("<html>third time</html>"))
	}))
	defer server.Close()

	sleeper := &recordingSleep{}
	page, err := newTestFetcher(3, 10*time.Millisecond, sleeper).Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Contains(t, string(page.Body), "third time")
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, sleeper.waits)
}

// TestFetch_NotFoundAfterRetries verifies the error after the last attempt
func TestFetch_NotFoundAfterRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := newTestFetcher(2, time.Millisecond, &recordingSleep{}).Fetch(context.Background(), server.URL+"/gone")
	require.Error(t, err)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.Status)
	assert.Equal(t, 2, fe.Attempts)
	assert.Equal(t, server.URL+"/gone", fe.URL)
	assert.ErrorIs(t, err, ErrHTTPStatus)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, int32(2), calls.Load())
	assert.Contains(t, err.Error(), "HTTP 404")
}

// TestFetch_TransportError verifies unreachable hosts become FetchErrors
func TestFetch_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	_, err := newTestFetcher(1, 0, nil).Fetch(context.Background(), addr)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Zero(t, fe.Status)
	assert.False(t, IsPermanent(err))
}

// TestFetch_InvalidURL verifies malformed URLs fail without a request
func TestFetch_InvalidURL(t *testing.T) {
	_, err := newTestFetcher(3, 0, nil).Fetch(context.Background(), "not a url")

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.True(t, IsPermanent(err))
}

// TestFetch_Timeout verifies the per-request timeout
func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	f := NewHTTPFetcher(FetcherOptions{Timeout: 50 * time.Millisecond, Logger: logging.Discard()})
	start := time.Now()
	_, err := f.Fetch(context.Background(), server.URL)

	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// TestFetch_DecodesCharset verifies non-UTF-8 bodies are converted
func TestFetch_DecodesCharset(t *testing.T) {
	// "Привет" in windows-1251
	body := []byte{0xCF, 0xF0, 0xE8, 0xE2, 0xE5, 0xF2}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1251")
		w.Write(append([]byte("<html><body><p>"), append(body, []byte("</p></body></html>")...)...))
	}))
	defer server.Close()

	page, err := newTestFetcher(1, 0, nil).Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Equal(t, "windows-1251", page.Encoding)
	assert.Contains(t, string(page.Body), "Привет")
}

// TestDecodeBody_UTF8WithoutDeclaration verifies undeclared UTF-8 is kept
func TestDecodeBody_UTF8WithoutDeclaration(t *testing.T) {
	raw := []byte("<html><body>20 октября 2025 г.</body></html>")

	body, encoding, err := DecodeBody(raw, "text/html")
	require.NoError(t, err)
	assert.Equal(t, "utf-8", encoding)
	assert.Equal(t, raw, body)
}

// TestForSource verifies per-source overrides and a shared throttle
func TestForSource(t *testing.T) {
	throttle := NewHostThrottle(time.Second)
	base := NewHTTPFetcher(FetcherOptions{Throttle: throttle, Timeout: time.Minute, Logger: logging.Discard()})

	f := base.ForSource(&scraper.SourceConfig{
		Name:    "flaky",
		Retry:   scraper.RetryConfig{Attempts: 4, Backoff: 3 * time.Second},
		Timeout: 10 * time.Second,
	})

	assert.Equal(t, 4, f.retry.Attempts)
	assert.Equal(t, 3*time.Second, f.retry.Backoff)
	assert.Equal(t, 10*time.Second, f.timeout)
	assert.Same(t, throttle, f.throttle)
	assert.Equal(t, 1, base.retry.Attempts, "base fetcher should be unchanged")
}
