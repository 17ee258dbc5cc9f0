// Package gatewayclient calls the remote verification gateway over HTTP.
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/example/face-auth/internal/failure"
	"github.com/example/face-auth/internal/gateway"
)

const maxResponseSize = 1 << 20

// Client posts requests to POST /rekognition. Network errors and 502/503/504
// are retried with exponential backoff; every other failure is returned as a
// *failure.Error.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	retries    uint64
	backoff    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRetries sets how many times a transient failure is retried and the
// initial backoff between attempts.
func WithRetries(n uint64, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// New returns a Client for the gateway at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
		retries:    2,
		backoff:    100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("gateway_client")
	return c
}

// Call sends req and returns the decoded response when the gateway reports
// success.
func (c *Client) Call(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal gateway request: %w", err)
	}

	var resp *gateway.Response
	b := retry.WithMaxRetries(c.retries, retry.NewExponential(c.backoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		r, err := c.do(ctx, body)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		c.logger.Warn("gateway call failed", zap.String("action", string(req.Action)), zap.Error(err))
		return nil, failure.Normalize(err)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, body []byte) (*gateway.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+gateway.Path, bytes.NewReader(body))
	if err != nil {
		return nil, failure.Wrap(failure.TransportFailure, "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, failure.Wrap(failure.TransportFailure, "", ctx.Err())
		}
		return nil, retry.RetryableError(failure.Wrap(failure.TransportFailure, "", err))
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, retry.RetryableError(failure.Wrap(failure.TransportFailure, "read gateway response", err))
	}

	switch httpResp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, retry.RetryableError(failure.New(failure.TransportFailure,
			fmt.Sprintf("gateway unavailable: status %d", httpResp.StatusCode)))
	}

	var resp gateway.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, failure.Wrap(failure.TransportFailure,
			fmt.Sprintf("decode gateway response (status %d)", httpResp.StatusCode), err)
	}

	if httpResp.StatusCode != http.StatusOK || !resp.Success {
		return nil, responseFailure(httpResp.StatusCode, &resp)
	}
	return &resp, nil
}

func responseFailure(status int, resp *gateway.Response) *failure.Error {
	msg := resp.Error
	if msg == "" {
		msg = fmt.Sprintf("gateway request failed with status %d", status)
	}
	kind := failure.ParseKind(resp.Kind)
	if kind == failure.Unknown && status == http.StatusBadRequest {
		kind = failure.InvalidRequest
	}
	return failure.New(kind, msg)
}
