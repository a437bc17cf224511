package remotefile

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fridgeclinic/internal/config"
	"fridgeclinic/internal/faults"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultTimeout      = 300 * time.Second

	maxErrorBody = 4 << 10
)

// Client talks to the inference service file API: resumable upload, state
// polling and deletion.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
}

// New builds a client from config. A missing or placeholder API key leaves
// the client unavailable; every call then returns faults.ErrNotConfigured.
func New(cfg config.RemoteFilesConfig) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		httpClient:   NewHTTPClient(cfg),
		pollInterval: cfg.PollInterval(),
	}
	if c.baseURL == "" {
		c.baseURL = config.DefaultRemoteBaseURL
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if !c.Available() {
		slog.Warn("remote file api unavailable", "reason", "api key is not configured")
	}
	return c
}

// NewHTTPClient returns the transport shared by the file API and generation
// calls. Certificates are verified unless InsecureSkipTLSVerify is set.
func NewHTTPClient(cfg config.RemoteFilesConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipTLSVerify {
		slog.Warn("TLS certificate verification disabled for the inference service; traffic can be intercepted")
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit opt-in
	}
	timeout := cfg.HTTPTimeout()
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// Available reports whether an API key is configured.
func (c *Client) Available() bool {
	return c != nil && !config.IsPlaceholder(c.apiKey)
}

// SetPollInterval overrides the fixed delay between state checks.
func (c *Client) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.pollInterval = d
	}
}

func (c *Client) notConfigured() error {
	return fmt.Errorf("%w: inference service api key missing", faults.ErrNotConfigured)
}

func (c *Client) endpoint(path string) string {
	q := url.Values{}
	q.Set("key", c.apiKey)
	return c.baseURL + path + "?" + q.Encode()
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s %s: %v", faults.ErrTransport, req.Method, redact(req.URL), err)
	}
	return resp, nil
}

// statusError drains resp and reports a non-2xx status as a transport error.
func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("%w: %s: %d - %s", faults.ErrTransport, op, resp.StatusCode, strings.TrimSpace(string(body)))
}

func ok(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	cp := *u
	q := cp.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		cp.RawQuery = q.Encode()
	}
	return cp.String()
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
