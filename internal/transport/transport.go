// Package transport wraps an HTTP client for talking to the USMS portal.
// It carries the session cookie jar and TLS context, applies the
// configured timeout to every request, records redirect hops (the portal
// encodes login outcomes in redirect URLs), and maps transport failures
// to the client's error taxonomy.
package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartmeterbn/usms/usmserr"
)

const defaultTimeout = 30 * time.Second

// Response is a fully read portal response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
	// History holds the URLs of redirect hops followed for this request,
	// in order. The final URL is not included.
	History []string
}

// Options configures a Client.
type Options struct {
	// BaseURL is prefixed to relative request paths.
	BaseURL string
	// Timeout bounds each request including redirects and body read.
	Timeout time.Duration
	// TLSConfig overrides the TLS context used for portal connections.
	TLSConfig *tls.Config
}

// Client is the transport adapter. One client owns one cookie jar, i.e.
// one portal session.
type Client struct {
	base   string
	http   *http.Client
	jar    http.CookieJar
	logger *logrus.Logger
}

type historyKey struct{}

// New builds a transport client with a fresh cookie jar.
func New(opts Options, logger *logrus.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	hc := &http.Client{
		Jar:     jar,
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if h, ok := req.Context().Value(historyKey{}).(*[]string); ok {
				*h = append(*h, req.URL.String())
			}
			return nil
		},
	}
	if opts.TLSConfig != nil {
		hc.Transport = &http.Transport{TLSClientConfig: opts.TLSConfig}
	}

	return &Client{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		http:   hc,
		jar:    jar,
		logger: logger,
	}, nil
}

// ResolveURL prefixes the configured base URL to relative paths.
func (c *Client) ResolveURL(path string) string {
	if strings.HasPrefix(path, "http") {
		return path
	}
	return c.base + "/" + strings.TrimLeft(path, "/")
}

// Get issues a GET request. Failures to reach the portal, including
// timeouts, come back as a NetworkError with cache-safe semantics.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.send(ctx, http.MethodGet, path, nil)
}

// PostForm issues an application/x-www-form-urlencoded POST.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) (*Response, error) {
	return c.send(ctx, http.MethodPost, path, strings.NewReader(form.Encode()))
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader) (*Response, error) {
	fullURL := c.ResolveURL(path)

	var history []string
	ctx = context.WithValue(ctx, historyKey{}, &history)

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, &usmserr.NetworkError{URL: fullURL, Err: err}
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.logger.WithFields(logrus.Fields{"method": method, "url": fullURL}).Debug("portal request")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &usmserr.NetworkError{URL: fullURL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &usmserr.NetworkError{URL: fullURL, Err: err}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		FinalURL:   resp.Request.URL.String(),
		History:    history,
	}, nil
}

// ClearCookies drops all session cookies for the portal, ending the
// session locally.
func (c *Client) ClearCookies() {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return
	}
	c.jar = jar
	c.http.Jar = jar
}
