package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
)

const (
	defaultBaseURL    = "https://api.anthropic.com"
	defaultVersion    = "2023-06-01"
	defaultUserAgent  = "deep-interviewer/1.0"
	defaultMaxRetries = 2
	baseBackoff       = 500 * time.Millisecond
	maxBackoff        = 5 * time.Second
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithVersion sets the API version.
func WithVersion(version string) ClientOption {
	return func(c *Client) {
		c.version = version
	}
}

// WithMaxRetries sets how often a rate-limited or overloaded request is
// retried before the stream starts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client is a custom HTTP client for the Anthropic API.
type Client struct {
	apiKey     string
	baseURL    string
	version    string
	maxRetries int
	httpClient *http.Client
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new Anthropic API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		version:    defaultVersion,
		maxRetries: defaultMaxRetries,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff returns the delay before retry attempt n (1-based).
func backoff(n int) time.Duration {
	d := baseBackoff << (n - 1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

// StreamMessage sends a streaming messages request and returns a channel of
// raw events. Rate-limited and overloaded responses are retried with
// exponential backoff; once the stream has started nothing is retried.
func (c *Client) StreamMessage(ctx context.Context, req *MessagesRequest) (<-chan StreamEventResult, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp *http.Response
	for attempt := 0; ; attempt++ {
		resp, err = c.send(ctx, body)
		if err == nil {
			break
		}
		var apiErr *domain.APIError
		if attempt >= c.maxRetries || !errors.As(err, &apiErr) || !apiErr.Retryable() {
			return nil, err
		}
		wait := backoff(attempt + 1)
		c.logger.Warn("anthropic request failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	out := make(chan StreamEventResult)
	go c.streamReader(ctx, resp.Body, out)
	return out, nil
}

func (c *Client) send(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, statusError(resp.StatusCode, respBody)
	}
	return resp, nil
}

// statusError converts a non-200 response into a canonical error.
func statusError(status int, body []byte) error {
	if apiErr, err := ParseErrorResponse(body); err == nil && apiErr != nil {
		return apiErr.ToCanonical()
	}
	msg := fmt.Sprintf("API error (status %d): %s", status, strings.TrimSpace(string(body)))
	switch status {
	case http.StatusTooManyRequests:
		return domain.ErrRateLimit(msg)
	case http.StatusServiceUnavailable, 529:
		return domain.ErrOverloaded(msg)
	}
	return domain.ErrProvider(msg)
}

// StreamEventResult wraps a streaming event or error.
type StreamEventResult struct {
	EventType string
	Data      json.RawMessage
	Err       error
}

// ParseMessageStart parses a message_start event.
func (r *StreamEventResult) ParseMessageStart() (*MessageStartEvent, error) {
	var event MessageStartEvent
	if err := json.Unmarshal(r.Data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ParseContentBlockStart parses a content_block_start event.
func (r *StreamEventResult) ParseContentBlockStart() (*ContentBlockStartEvent, error) {
	var event ContentBlockStartEvent
	if err := json.Unmarshal(r.Data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ParseContentBlockDelta parses a content_block_delta event.
func (r *StreamEventResult) ParseContentBlockDelta() (*ContentBlockDeltaEvent, error) {
	var event ContentBlockDeltaEvent
	if err := json.Unmarshal(r.Data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ParseContentBlockStop parses a content_block_stop event.
func (r *StreamEventResult) ParseContentBlockStop() (*ContentBlockStopEvent, error) {
	var event ContentBlockStopEvent
	if err := json.Unmarshal(r.Data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ParseMessageDelta parses a message_delta event.
func (r *StreamEventResult) ParseMessageDelta() (*MessageDeltaEvent, error) {
	var event MessageDeltaEvent
	if err := json.Unmarshal(r.Data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ParseError parses an error event sent mid-stream.
func (r *StreamEventResult) ParseError() error {
	apiErr, err := ParseErrorResponse(r.Data)
	if err != nil || apiErr == nil {
		return domain.ErrProvider("malformed error event: " + string(r.Data))
	}
	return apiErr.ToCanonical()
}

func (c *Client) streamReader(ctx context.Context, body io.ReadCloser, out chan<- StreamEventResult) {
	defer close(out)
	defer body.Close()

	send := func(ev StreamEventResult) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	// Increase buffer size for potentially large chunks
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var currentEvent string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "event: ") {
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		}

		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimPrefix(line, "data: ")

			if !send(StreamEventResult{EventType: currentEvent, Data: json.RawMessage(data)}) {
				return
			}

			// Stop on message_stop
			if currentEvent == "message_stop" || currentEvent == "error" {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		send(StreamEventResult{Err: fmt.Errorf("stream read error: %w", err)})
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.version)
	req.Header.Set("User-Agent", defaultUserAgent)
}
