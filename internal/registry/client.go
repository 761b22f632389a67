// Package registry talks to the search index that backs the registry.
//
// Client is a thin synchronous wrapper over the index's document, search,
// bulk and mapping APIs. Loader, Checker and the product helpers are built on
// top of it; none of them keep state besides the client itself.
package registry

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"harvest/internal/logging"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"
)

// Content types used by the index API.
const (
	contentJSON   = "application/json; charset=utf-8"
	contentNDJSON = "application/x-ndjson; charset=utf-8"
)

// Config configures a Client.
type Config struct {
	// URL is the index base URL, e.g. http://localhost:9200.
	URL string

	// Index is the registry index name. Auxiliary indexes derive from it
	// ("<index>-dd", "<index>-refs").
	Index string

	// User and Password enable basic authentication when User is set.
	User     string
	Password string

	// Timeout bounds a single HTTP exchange. Zero means no timeout.
	Timeout time.Duration

	// TrustSelfSigned disables certificate verification.
	TrustSelfSigned bool

	// RequestsPerSecond throttles requests. Zero disables throttling.
	RequestsPerSecond float64

	// Gzip compresses bulk request bodies.
	Gzip bool

	// RetryMax is the transport-level retry count for one request.
	RetryMax int

	// HTTPClient overrides the underlying client (tests).
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client is a synchronous index client. It is safe for concurrent use.
type Client struct {
	base     string
	index    string
	user     string
	password string
	gzip     bool
	http     *retryablehttp.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("registry: url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("registry: invalid url %q: %w", cfg.URL, err)
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("registry: index is required")
	}
	logger := logging.Default(cfg.Logger).With("component", "registry")

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.Logger = logger
	// Hand the final response back instead of an opaque "giving up" error so
	// the index's error body can be reported.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.HTTPClient != nil {
		rc.HTTPClient = cfg.HTTPClient
	} else {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.TrustSelfSigned {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // G402: opt-in for self-signed development clusters
		}
		rc.HTTPClient = &http.Client{Transport: transport, Timeout: cfg.Timeout}
	}

	c := &Client{
		base:     strings.TrimRight(cfg.URL, "/"),
		index:    cfg.Index,
		user:     cfg.User,
		password: cfg.Password,
		gzip:     cfg.Gzip,
		http:     rc,
		logger:   logger,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := max(1, int(cfg.RequestsPerSecond))
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

// Index returns the registry index name.
func (c *Client) Index() string { return c.index }

// DictionaryIndex returns the name of the data dictionary index.
func (c *Client) DictionaryIndex() string { return c.index + "-dd" }

// RefsIndex returns the name of the collection reference index.
func (c *Client) RefsIndex() string { return c.index + "-refs" }

// Do sends one request and returns the response body. Non-2xx responses are
// returned as *ResponseError.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, error) {
	return c.send(ctx, method, path, body, contentType, false)
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, contentType string, compress bool) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var raw any
	if body != nil {
		if compress {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			if _, err := zw.Write(body); err != nil {
				return nil, fmt.Errorf("compress body: %w", err)
			}
			if err := zw.Close(); err != nil {
				return nil, fmt.Errorf("compress body: %w", err)
			}
			body = buf.Bytes()
		}
		raw = body
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, raw)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
		if compress {
			req.Header.Set("Content-Encoding", "gzip")
		}
	}
	req.Header.Set("Accept", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newResponseError(resp.StatusCode, data)
	}
	return data, nil
}

// getJSON issues a request with an optional JSON body and decodes the
// response into out.
func (c *Client) getJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	data, err := c.Do(ctx, method, path, body, contentJSON)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// docPath builds /<index>/<endpoint>/<id> with the id escaped.
func docPath(index, endpoint, id string) string {
	return "/" + url.PathEscape(index) + "/" + endpoint + "/" + url.PathEscape(id)
}
