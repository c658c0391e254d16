// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpclient provides an HTTP client with retry and backoff.
//
// Retries are driven by a per-status strategy: rate-limit responses honor
// provider reset headers when a parser is configured, transient server
// errors back off conservatively, everything else fails fast.
package httpclient

import (
	"log/slog"
	"math"
	"net/http"
	"time"
)

// RetryStrategy selects how a failed request is retried.
type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	ConservativeRetry
	SmartRetry
)

// RateLimitInfo carries provider rate-limit hints extracted from headers.
type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
	TokensRemaining   int
}

// RateLimitHeaderParser extracts rate-limit hints from response headers.
type RateLimitHeaderParser func(http.Header) RateLimitInfo

// RetryStrategyFunc maps an HTTP status code to a retry strategy.
type RetryStrategyFunc func(int) RetryStrategy

// Client wraps http.Client with retry/backoff handling.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	headerParser RateLimitHeaderParser
	strategyFunc RetryStrategyFunc
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

func WithMaxRetries(max int) Option {
	return func(c *Client) { c.maxRetries = max }
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) { c.baseDelay = delay }
}

func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) { c.headerParser = parser }
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) { c.strategyFunc = strategyFunc }
}

// New creates a retrying HTTP client.
func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   2,
		baseDelay:    time.Second,
		strategyFunc: DefaultRetryStrategy,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// DefaultRetryStrategy retries rate limits smartly and transient server
// errors conservatively.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do executes the request, retrying per the configured strategy.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, &RetryableError{Message: "failed to recreate request body", Err: err}
			}
			req.Body = body
		}

		resp, strategy, info, err := c.attempt(req)
		if strategy == NoRetry || err == nil {
			return resp, err
		}
		lastResp, lastErr = resp, err

		if attempt >= c.maxRetries {
			break
		}

		delay := c.delayFor(strategy, attempt, info)
		if delay <= 0 {
			return resp, err
		}

		slog.Debug("HTTP retry",
			"status", statusOf(resp),
			"attempt", attempt+1,
			"delay", delay,
		)
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(delay)
	}

	return lastResp, &RetryableError{
		StatusCode: statusOf(lastResp),
		Message:    "max retries exceeded",
		Err:        lastErr,
	}
}

func (c *Client) attempt(req *http.Request) (*http.Response, RetryStrategy, RateLimitInfo, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		// Transport errors (connection refused, DNS) get conservative retries.
		return nil, ConservativeRetry, RateLimitInfo{}, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, NoRetry, RateLimitInfo{}, nil
	}

	var info RateLimitInfo
	if c.headerParser != nil {
		info = c.headerParser(resp.Header)
	}

	return resp, c.strategyFunc(resp.StatusCode), info, &RetryableError{
		StatusCode: resp.StatusCode,
		Message:    resp.Status,
	}
}

func (c *Client) delayFor(strategy RetryStrategy, attempt int, info RateLimitInfo) time.Duration {
	switch strategy {
	case SmartRetry:
		if info.RetryAfter > 0 {
			return info.RetryAfter
		}
		if info.ResetTime > 0 {
			if delay := time.Until(time.Unix(info.ResetTime, 0)); delay > 0 {
				return delay
			}
		}
		exp := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		return exp + time.Duration(float64(exp)*0.1)
	case ConservativeRetry:
		return time.Duration(1+attempt) * c.baseDelay
	default:
		return 0
	}
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
