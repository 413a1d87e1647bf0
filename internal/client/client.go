// Package client is a thin HTTP client for the /api/meadow routes of the
// REST controller.  None of its methods return errors: every failure is
// logged and reported as a false or absent result.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultModuleCount is the number of modules on the stock controller.
const DefaultModuleCount = 3

// Client talks to one controller.
type Client struct {
	base     string
	http     *http.Client
	log      *slog.Logger
	user     string
	password string
	modules  int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client (10s timeout).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets where results and failures are reported.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithBasicAuth sends credentials with every request.
func WithBasicAuth(user, password string) Option {
	return func(c *Client) {
		c.user = user
		c.password = password
	}
}

// WithModuleCount changes the range accepted by TurnOn and TurnOff.
func WithModuleCount(n int) Option {
	return func(c *Client) { c.modules = n }
}

// New returns a client for the controller at baseURL.  A trailing slash is
// ignored.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:    strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     slog.Default(),
		modules: DefaultModuleCount,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the controller address without a trailing slash.
func (c *Client) BaseURL() string {
	return c.base
}

// TurnOn switches module n (1-based) on.
func (c *Client) TurnOn(ctx context.Context, n int) bool {
	return c.setModule(ctx, n, "on")
}

// TurnOff switches module n (1-based) off.
func (c *Client) TurnOff(ctx context.Context, n int) bool {
	return c.setModule(ctx, n, "off")
}

func (c *Client) setModule(ctx context.Context, n int, action string) bool {
	if n < 1 || n > c.modules {
		c.log.Error("invalid module number", "module", n, "max", c.modules)
		return false
	}
	if _, ok := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/meadow/module/%d/%s", n, action), nil); !ok {
		return false
	}
	c.log.Info("module switched", "module", n, "state", action)
	return true
}

type temperatureResponse struct {
	Temperature float64   `json:"Temperature"`
	Event       *string   `json:"Event"`
	Timestamp   time.Time `json:"Timestamp"`
}

// Temperature reads the sensor, tagging the reading with event when it is
// not empty.
func (c *Client) Temperature(ctx context.Context, event string) (float64, bool) {
	var q url.Values
	if event != "" {
		q = url.Values{"eventName": {event}}
	}
	body, ok := c.do(ctx, http.MethodGet, "/api/meadow/temperature", q)
	if !ok {
		return 0, false
	}
	var r temperatureResponse
	if err := json.Unmarshal(body, &r); err != nil {
		c.log.Error("decode temperature", "err", err)
		return 0, false
	}
	c.log.Info("temperature", "celsius", fmt.Sprintf("%.2f", r.Temperature), "event", event)
	return r.Temperature, true
}

// Wait asks the controller to block for ms milliseconds.  Non-positive
// durations are rejected without contacting the controller.
func (c *Client) Wait(ctx context.Context, ms int) bool {
	if ms <= 0 {
		c.log.Error("wait time must be greater than 0", "ms", ms)
		return false
	}
	q := url.Values{"milliseconds": {strconv.Itoa(ms)}}
	if _, ok := c.do(ctx, http.MethodPost, "/api/meadow/wait", q); !ok {
		return false
	}
	c.log.Info("wait done", "ms", ms)
	return true
}

type statusResponse struct {
	ModuleStatus []bool `json:"ModuleStatus"`
}

// Status returns the state of every module keyed by its 1-based number.
func (c *Client) Status(ctx context.Context) (map[int]bool, bool) {
	body, ok := c.do(ctx, http.MethodGet, "/api/meadow/status", nil)
	if !ok {
		return nil, false
	}
	var r statusResponse
	if err := json.Unmarshal(body, &r); err != nil {
		c.log.Error("decode status", "err", err)
		return nil, false
	}
	out := make(map[int]bool, len(r.ModuleStatus))
	for i, on := range r.ModuleStatus {
		out[i+1] = on
	}
	return out, true
}

// do performs one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, q url.Values) ([]byte, bool) {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		c.log.Error("build request", "url", u, "err", err)
		return nil, false
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("communication error", "method", method, "url", u, "err", err)
		return nil, false
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Error("read response", "url", u, "err", err)
		return nil, false
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Error("request failed", "method", method, "url", u,
			"status", resp.StatusCode, "body", strings.TrimSpace(string(body)))
		return nil, false
	}
	return body, true
}
