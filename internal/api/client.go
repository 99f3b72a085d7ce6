package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/scanboard/realtime/internal/auth"
	"github.com/scanboard/realtime/internal/backoff"
	"github.com/scanboard/realtime/internal/request"
)

// Client provides access to the dashboard REST API.
type Client struct {
	baseURL    string
	token      auth.TokenFunc
	httpClient *http.Client
	logger     *slog.Logger

	retry request.Options
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL string, token auth.TokenFunc, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
		retry: request.Options{
			MaxRetries: 3,
			Policy: backoff.Policy{
				Base:   time.Second,
				Max:    30 * time.Second,
				Jitter: 500 * time.Millisecond,
			},
		},
	}

	for _, opt := range opts {
		opt(c)
	}
	c.retry.Logger = c.logger

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, policy backoff.Policy) ClientOption {
	return func(c *Client) {
		c.retry.MaxRetries = max
		c.retry.Policy = policy
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}
