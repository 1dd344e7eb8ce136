// Package generation talks to the remote video generation backend.
//
// Client issues one request per call and never retries; retry policy belongs
// to whoever drives it. Every call is preceded by a jittered pause drawn from
// [MinDelay, MaxDelay], applied regardless of how the previous call ended.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/bdougie/roastbench/internal/logging"
	"github.com/bdougie/roastbench/internal/models"
)

const (
	defaultMinDelay = 1 * time.Second
	defaultMaxDelay = 5 * time.Second
	defaultTimeout  = 300 * time.Second

	// maxErrorBody caps how much of a failed response is kept on the error
	maxErrorBody = 2048
)

// ErrNoVideoURL is returned when a 2xx response carries no video_url
var ErrNoVideoURL = errors.New("response has no video_url")

// Response is the decoded body of a successful generation call
type Response struct {
	VideoURL string         `json:"video_url"`
	Raw      map[string]any `json:"-"`
}

// Client is the rate-limited client for the generation backend.
// It is safe for concurrent use.
type Client struct {
	endpoint   string
	apiKey     string
	timeout    time.Duration
	minDelay   time.Duration
	maxDelay   time.Duration
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
	jitter     func(min, max time.Duration) time.Duration
	logger     *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient supplies a shared session so connections are pooled across calls.
// Without one, every call opens and closes its own.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithDelay sets the jitter bounds applied before every call
func WithDelay(min, max time.Duration) Option {
	return func(c *Client) {
		c.minDelay = min
		c.maxDelay = max
	}
}

// WithTimeout bounds a single request
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSleep replaces the pause implementation, mainly for tests
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// NewClient builds a client for endpoint. A missing API key is a hard configuration
// error and is reported here, before any batch begins.
func NewClient(endpoint, apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("generation client: %w: api key is empty", models.ErrMissingCredentials)
	}
	if endpoint == "" {
		return nil, errors.New("generation client: endpoint is empty")
	}

	c := &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		timeout:  defaultTimeout,
		minDelay: defaultMinDelay,
		maxDelay: defaultMaxDelay,
		sleep:    sleepCtx,
		jitter:   uniformJitter,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxDelay < c.minDelay {
		return nil, fmt.Errorf("generation client: max delay %v below min delay %v", c.maxDelay, c.minDelay)
	}
	c.logger = logging.OrDefault(c.logger).With("component", "generation")
	return c, nil
}

// NewSession returns a copy of the client bound to a fresh pooled session,
// plus a release func that closes it. Used by long-lived worker loops.
func (c *Client) NewSession() (Generator, func()) {
	hc := newHTTPClient(c.timeout)
	clone := *c
	clone.httpClient = hc
	return &clone, hc.CloseIdleConnections
}

// Generator is anything that can turn a prompt into a generation response
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Response, error)
}

// Generate pauses for the policy delay, then issues a single POST for prompt.
// Non-2xx responses and transport failures come back as *models.TransportError.
func (c *Client) Generate(ctx context.Context, prompt string) (*Response, error) {
	delay := c.jitter(c.minDelay, c.maxDelay)
	if err := c.sleep(ctx, delay); err != nil {
		return nil, &models.TransportError{Op: "generate", Err: err}
	}
	c.logger.Debug("rate limit delay", "delay", delay)

	hc := c.httpClient
	if hc == nil {
		hc = newHTTPClient(c.timeout)
		defer hc.CloseIdleConnections()
	}

	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("generating video", "prompt", truncate(prompt, 50))

	resp, err := hc.Do(req)
	if err != nil {
		return nil, &models.TransportError{Op: "generate", Err: err}
	}
	defer func() {
		// drain so a shared session can reuse the connection
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Error("generation rejected", "status", resp.StatusCode)
		return nil, &models.TransportError{
			Op:         "generate",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(text)),
		}
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &models.TransportError{Op: "generate", Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	out := &Response{Raw: raw}
	if u, ok := raw["video_url"].(string); ok {
		out.VideoURL = u
	}
	if out.VideoURL == "" {
		return out, ErrNoVideoURL
	}

	c.logger.Info("video generated", "video_url", out.VideoURL)
	return out, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
		Timeout:   timeout,
	}
}

func uniformJitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
