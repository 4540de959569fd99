// Package catalog issues HTTP requests to a remote manga catalog API and
// fetches binary assets over the same transport.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/robertmeta/manga-cli/apperr"
	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds every request when Options.Timeout is zero.
	DefaultTimeout   = 15 * time.Second
	DefaultUserAgent = "manga-cli/0.1"
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// ProxyAddr routes every request through a SOCKS5 proxy when set.
	ProxyAddr string
	// RateLimit is requests per second; zero disables pacing.
	RateLimit float64
	RateBurst int
	// HTTPClient replaces the client built from Timeout and ProxyAddr.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the catalog API. It does not retry: a failed call surfaces
// immediately and the caller decides whether to degrade.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("catalog base URL is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		var err error
		httpClient, err = newHTTPClient(opts.Timeout, opts.ProxyAddr)
		if err != nil {
			return nil, err
		}
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	client := &Client{
		baseURL:    baseURL,
		userAgent:  userAgent,
		httpClient: httpClient,
		logger:     logger,
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return client, nil
}

// newHTTPClient builds the shared client, optionally dialing through SOCKS5.
func newHTTPClient(timeout time.Duration, proxyAddr string) (*http.Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if proxyAddr == "" {
		return &http.Client{Timeout: timeout}, nil
	}

	dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to configure SOCKS5 proxy %s: %w", proxyAddr, err)
	}

	transport := &http.Transport{
		Proxy:             nil,
		DisableKeepAlives: true,
	}
	if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = contextDialer.DialContext
	} else {
		transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// BaseURL returns the API root requests are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get issues GET {base}{endpoint}?{params} and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values, out any) error {
	target := c.baseURL + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	body, err := c.do(ctx, target)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Decode("response from "+endpoint, err)
	}
	return nil
}

// FetchBytes issues a plain GET of an absolute URL and returns the raw body.
func (c *Client) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	return c.do(ctx, rawURL)
}

func (c *Client) do(ctx context.Context, target string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperr.Transport(err)
		}
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperr.Usage(fmt.Sprintf("invalid request URL %q: %v", target, err))
	}
	request.Header.Set("User-Agent", c.userAgent)

	started := time.Now()
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, apperr.Transport(err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, apperr.Transport(fmt.Errorf("reading response body: %w", err))
	}

	c.logger.Debug("catalog request",
		slog.String("url", target),
		slog.Int("status", response.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Duration("elapsed", time.Since(started)),
	)

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, apperr.HTTP(response.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}
