// Package fetcher downloads and parses external sources (M3U playlists, the
// provider query API and XMLTV guides) into canonical source records.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/voyagen/guidevault/internal/logging"
	"github.com/voyagen/guidevault/internal/metrics"
)

// maxBodySize bounds a decoded upstream payload.
const maxBodySize = 1 << 30

// Client fetches source payloads. Requests to one host share a circuit
// breaker so a dead provider fails fast instead of holding a job for the full
// timeout on every call.
type Client struct {
	http      *http.Client
	userAgent string

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
}

// NewClient returns a Client. userAgent may be empty; timeout <= 0 means 30s.
func NewClient(userAgent string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		userAgent: userAgent,
		breakers:  make(map[string]*gobreaker.CircuitBreaker[[]byte]),
	}
}

// WithHTTPClient replaces the underlying HTTP client (tests, custom transports).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// Fetch downloads rawURL and returns the decoded body. gzip and brotli
// Content-Encoding are decoded, and a gzip payload served without the header
// (e.g. guide.xml.gz) is detected by its magic bytes. format labels metrics.
func (c *Client) Fetch(ctx context.Context, rawURL, format string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, &FetchError{URL: redact(rawURL), Err: fmt.Errorf("invalid URL")}
	}
	body, err := c.breaker(u.Host).Execute(func() ([]byte, error) {
		return c.get(ctx, rawURL)
	})
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, &FetchError{URL: redact(rawURL), Err: err}
	}
	metrics.FetchedBytes.WithLabelValues(format).Add(float64(len(body)))
	return body, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: redact(rawURL), Err: fmt.Errorf("NewRequest: %w", err)}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept-Encoding", "gzip, br")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{URL: redact(rawURL), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &FetchError{URL: redact(rawURL), StatusCode: resp.StatusCode}
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &FetchError{URL: redact(rawURL), Err: fmt.Errorf("ReadAll: %w", err)}
	}
	body, err := decodeBody(raw, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, &FetchError{URL: redact(rawURL), Err: err}
	}
	return body, nil
}

// decodeBody undoes Content-Encoding and then any gzip layer left in the payload.
func decodeBody(raw []byte, encoding string) ([]byte, error) {
	var err error
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
	case "gzip", "x-gzip":
		if raw, err = gunzip(raw); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
	case "br":
		if raw, err = io.ReadAll(io.LimitReader(brotli.NewReader(bytes.NewReader(raw)), maxBodySize)); err != nil {
			return nil, fmt.Errorf("brotli: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported Content-Encoding %q", encoding)
	}
	return Decompress(raw)
}

// Decompress returns data with a leading gzip layer removed, or data itself
// when it is not gzip-compressed.
func Decompress(data []byte) ([]byte, error) {
	if !IsGzip(data) {
		return data, nil
	}
	out, err := gunzip(data)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return out, nil
}

// IsGzip reports whether data starts with the gzip magic number.
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, maxBodySize))
}

func (c *Client) breaker(host string) *gobreaker.CircuitBreaker[[]byte] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	metrics.CircuitBreakerState.WithLabelValues(host).Set(0)
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors say nothing about upstream health.
		IsSuccessful: func(err error) bool {
			var fe *FetchError
			if errors.As(err, &fe) && fe.StatusCode >= 400 && fe.StatusCode < 500 {
				return true
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("host", name).Str("from", from.String()).Str("to", to.String()).Msg("fetcher: circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	c.breakers[host] = cb
	return cb
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

// redact strips credentials from URLs that end up in job messages.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	q := u.Query()
	for _, k := range []string{"password", "username"} {
		if q.Has(k) {
			q.Set(k, "***")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
