package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/9a4gl/centrometal-web-boiler/internal/infrastructure/config"
)

const (
	defaultTimeout = 30 * time.Second

	// maxBodySize caps how much of a response is read.
	maxBodySize = 8 << 20

	contentTypeJSON = "application/json;charset=UTF-8"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client talks to the vendor web portal over HTTPS.
//
// It owns the cookie jar that carries the authenticated session. The jar
// is replaced by Reinitialize, which is how a relogin starts from scratch.
//
// Thread Safety:
//   - All methods are safe for concurrent use; requests share one session.
type Client struct {
	webroot  string
	username string
	password string
	timeout  time.Duration

	mu   sync.RWMutex
	http *http.Client

	logger Logger
}

// New creates a Client for the account in cfg. No request is made.
//
// Parameters:
//   - cfg: Portal configuration (webroot, credentials, timeout)
//
// Returns:
//   - *Client: Client with an empty session
//   - error: If the cookie jar cannot be created
func New(cfg config.PortalConfig) (*Client, error) {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		webroot:  strings.TrimRight(cfg.Webroot, "/"),
		username: cfg.Username,
		password: cfg.Password,
		timeout:  timeout,
		logger:   noopLogger{},
	}
	if err := c.Reinitialize(); err != nil {
		return nil, err
	}
	return c, nil
}

// SetLogger sets the logger for request tracing.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// Username returns the account name, for log context.
func (c *Client) Username() string {
	return c.username
}

// Webroot returns the portal base URL.
func (c *Client) Webroot() string {
	return c.webroot
}

// Reinitialize drops the current session by replacing the cookie jar.
func (c *Client) Reinitialize() error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("creating cookie jar: %w", err)
	}

	c.mu.Lock()
	if c.http != nil {
		c.http.CloseIdleConnections()
	}
	c.http = &http.Client{
		Jar:     jar,
		Timeout: c.timeout,
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) httpClient() *http.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.http
}

// do sends a request with the portal's Origin and Referer headers and
// returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.webroot+path, body)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Origin", c.webroot)
	req.Header.Set("Referer", c.webroot+"/")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.logger.Debug("portal request", "method", method, "path", path)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading body: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s returned %d", ErrUnexpectedStatus, method, path, resp.StatusCode)
	}
	return data, nil
}

// getHTML fetches path and parses it as an HTML document.
func (c *Client) getHTML(ctx context.Context, path string) (*goquery.Document, error) {
	data, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	return parseHTML(path, data)
}

// postForm posts form values and parses the response as HTML.
func (c *Client) postForm(ctx context.Context, path string, form url.Values) (*goquery.Document, error) {
	data, err := c.do(ctx, http.MethodPost, path, contentTypeForm, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	return parseHTML(path, data)
}

// postJSON posts payload as JSON and decodes the response into out.
// A nil out discards the body.
func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", path, err)
	}

	data, err := c.do(ctx, http.MethodPost, path, contentTypeJSON, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	return nil
}

func parseHTML(path string, data []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	return doc, nil
}
