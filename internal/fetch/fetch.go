// Package fetch performs the authenticated GET requests the collector needs.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

const (
	defaultTimeout   = 60 * time.Second
	maxErrorBodySize = 512
)

// PageFetcher retrieves the bytes behind one URL.
type PageFetcher interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPStatusError reports a non-2xx response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: http %d: %s", e.URL, e.StatusCode, strings.TrimSpace(e.Body))
}

// Options configures an HTTPFetcher.
type Options struct {
	// Headers are sent with every request (cookies, authorization, user agent).
	Headers map[string]string
	// ProxyURL accepts http, https and socks5 schemes. Empty means direct.
	ProxyURL string
	// Timeout bounds a single request; zero uses the default.
	Timeout time.Duration
	Logger  *slog.Logger
}

// HTTPFetcher is the PageFetcher backed by net/http.
type HTTPFetcher struct {
	client  *http.Client
	headers http.Header
	logger  *slog.Logger
}

// New builds an HTTPFetcher.
func New(opts Options) (*HTTPFetcher, error) {
	transport, err := newTransport(strings.TrimSpace(opts.ProxyURL))
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	headers := make(http.Header, len(opts.Headers))
	for k, v := range opts.Headers {
		headers.Set(k, os.ExpandEnv(v))
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPFetcher{
		client:  &http.Client{Transport: transport, Timeout: timeout},
		headers: headers,
		logger:  logger,
	}, nil
}

// NewWithClient wraps an existing client; used by tests against httptest servers.
func NewWithClient(client *http.Client, headers map[string]string) *HTTPFetcher {
	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	return &HTTPFetcher{client: client, headers: h, logger: slog.Default()}
}

// Get issues a GET with the static headers and returns the full body.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}
	for k, vs := range f.headers {
		req.Header[k] = append([]string(nil), vs...)
	}

	f.logger.Debug("GET", "url", rawURL)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, &HTTPStatusError{URL: rawURL, StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", rawURL, err)
	}
	return body, nil
}

// CloseIdleConnections drops the pooled connections of this fetcher.
func (f *HTTPFetcher) CloseIdleConnections() {
	f.client.CloseIdleConnections()
}

func newTransport(proxyURL string) (*http.Transport, error) {
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConnsPerHost:   4,
	}
	if proxyURL == "" {
		return base, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse proxy url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		base.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if u.User != nil {
			pw, _ := u.User.Password()
			auth = &proxy.Auth{User: u.User.Username(), Password: pw}
		}
		dialer, err := proxy.SOCKS5("tcp", u.Host, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SOCKS5 proxy %s: %w", u.Host, err)
		}
		base.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			base.DialContext = cd.DialContext
		} else {
			base.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return nil, errors.New("unsupported proxy scheme: " + u.Scheme)
	}
	return base, nil
}
