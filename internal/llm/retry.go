package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"time"
)

// Policy controls WithRetry.
type Policy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func DefaultPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:    maxRetries,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      20 * time.Second,
		BackoffFactor: 2.0,
	}
}

type retryClient struct {
	client Client
	policy Policy
	logger *slog.Logger
}

// WithRetry retries transient failures with exponential backoff.
func WithRetry(client Client, policy Policy, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &retryClient{client: client, policy: policy, logger: logger}
}

func (r *retryClient) Model() string {
	return r.client.Model()
}

func (r *retryClient) Complete(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := r.delay(attempt)
			r.logger.Debug("retrying LLM request", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return Response{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, err := r.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !Retryable(err) || attempt >= r.policy.MaxRetries {
			break
		}
	}

	if r.policy.MaxRetries == 0 {
		return Response{}, lastErr
	}
	return Response{}, fmt.Errorf("failed after %d retries: %w", r.policy.MaxRetries, lastErr)
}

func (r *retryClient) delay(attempt int) time.Duration {
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.BackoffFactor, float64(attempt-1))
	if r.policy.MaxDelay > 0 && d > float64(r.policy.MaxDelay) {
		return r.policy.MaxDelay
	}
	return time.Duration(d)
}

// Retryable reports whether err is worth another attempt. Cancellation never is.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
