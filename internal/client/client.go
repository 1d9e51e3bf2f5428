// Package client talks to the chat server's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/groupchat/internal/message"
	"go.uber.org/zap"
)

const DefaultTimeout = 10 * time.Second

// maxBody caps how much of a response body is read.
const maxBody = 4 << 20

var (
	// ErrTransportUnavailable covers refused or dropped connections and
	// non-success responses.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrDecode is returned when a response payload cannot be decoded.
	ErrDecode = errors.New("malformed payload")
)

// StatusError reports a non-2xx response. It matches ErrTransportUnavailable.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool { return target == ErrTransportUnavailable }

// HistoryQuery selects a page of history. A zero BeforeID asks for the most
// recent messages.
type HistoryQuery struct {
	Limit    int
	BeforeID message.ID
}

// SendRequest is the body of POST /api/messages.
type SendRequest struct {
	Text        string `json:"text"`
	Sender      string `json:"sender"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// Client is a thin JSON client over the history and send endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the server at baseURL (scheme and host, optional
// path prefix).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// BaseURL returns the server URL the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// History fetches one page, oldest first.
func (c *Client) History(ctx context.Context, q HistoryQuery) ([]message.Message, error) {
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if !q.BeforeID.IsZero() {
		params.Set("before_id", q.BeforeID.String())
	}
	path := "/api/history"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var out []message.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []message.Message{}
	}
	return out, nil
}

// Send posts a message and returns the server's created representation.
func (c *Client) Send(ctx context.Context, req SendRequest) (*message.Message, error) {
	var out message.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", req, &out); err != nil {
		return nil, err
	}
	if out.ID.IsZero() {
		return nil, fmt.Errorf("send: response has no id: %w", ErrDecode)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, ErrTransportUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w: %v", method, path, ErrTransportUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, ErrDecode, err)
	}
	return nil
}
