// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrDeliveryFailed is returned by Client.Send once every attempt failed.
var ErrDeliveryFailed = errors.New("log delivery to central node failed")

// Ack is the central node's acknowledgement of one payload.
type Ack struct {
	OK     bool
	ID     string
	Reason string
}

// Transport moves payloads to and from the central node. It is the opaque
// collaborator behind Client; Client adds the retry policy.
type Transport interface {
	Send(ctx context.Context, nodeID, payload string) (Ack, error)
	Query(ctx context.Context, filters map[string]string) ([]string, error)
}

// Defaults for the retry policy.
const (
	DefaultMaxRetries    = 3
	DefaultRetryInterval = 5 * time.Second
	DefaultSendTimeout   = 10 * time.Second
)

// Client ships audit payloads with bounded, fixed-interval retries. There is
// no backoff: each retry starts RetryInterval after the previous attempt ended.
type Client struct {
	transport     Transport
	maxRetries    int
	retryInterval time.Duration
	sendTimeout   time.Duration
	logger        *slog.Logger

	delivered atomic.Uint64
	failed    atomic.Uint64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMaxRetries sets the total number of send attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryInterval sets the fixed delay between attempts.
func WithRetryInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d >= 0 {
			c.retryInterval = d
		}
	}
}

// WithSendTimeout bounds each individual attempt.
func WithSendTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.sendTimeout = d
		}
	}
}

// WithLogger sets the logger for local delivery failures.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient wraps transport with the retry policy.
func NewClient(transport Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport:     transport,
		maxRetries:    DefaultMaxRetries,
		retryInterval: DefaultRetryInterval,
		sendTimeout:   DefaultSendTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send delivers payload on behalf of nodeID. After maxRetries failed
// attempts it logs the failure locally and returns ErrDeliveryFailed.
func (c *Client) Send(ctx context.Context, nodeID, payload string) error {
	var (
		pacer    *rate.Limiter
		lastErr  error
		attempts int
	)
	for attempts < c.maxRetries {
		if pacer != nil {
			if err := pacer.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
		ack, err := c.transport.Send(attemptCtx, nodeID, payload)
		cancel()
		if err == nil && ack.OK {
			c.delivered.Add(1)
			return nil
		}
		if err == nil {
			err = fmt.Errorf("central node rejected payload: %s", ack.Reason)
		}
		lastErr = err
		c.logger.Warn("log delivery attempt failed", "node", nodeID, "attempt", attempts, "max", c.maxRetries, "error", err)
		pacer = c.armPacer(time.Now())
	}

	c.failed.Add(1)
	c.logger.Error("log delivery failed, keeping local copy only", "node", nodeID, "attempts", attempts, "error", lastErr)
	return fmt.Errorf("%w after %d attempt(s): %v", ErrDeliveryFailed, attempts, lastErr)
}

// armPacer returns a limiter whose only token was spent at end, so the next
// Wait lasts one full interval measured from the end of the failed attempt.
func (c *Client) armPacer(end time.Time) *rate.Limiter {
	if c.retryInterval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	pacer := rate.NewLimiter(rate.Every(c.retryInterval), 1)
	pacer.ReserveN(end, 1)
	return pacer
}

// Query asks the central node for payloads matching filters. It is
// best-effort: an empty result is not an error.
func (c *Client) Query(ctx context.Context, filters map[string]string) ([]string, error) {
	queryCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()
	payloads, err := c.transport.Query(queryCtx, filters)
	if err != nil {
		return nil, fmt.Errorf("central node query failed: %w", err)
	}
	return payloads, nil
}

// Stats returns delivered and failed payload counts.
func (c *Client) Stats() (delivered, failed uint64) {
	return c.delivered.Load(), c.failed.Load()
}
