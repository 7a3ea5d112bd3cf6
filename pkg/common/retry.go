package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gridpilot/gridpilot/pkg/log"
)

// ErrUnavailable is returned when the retry deadline is exhausted without a
// successful response. Callers substitute a typed empty result and record the
// source as down; the error never aborts a decision tick.
var ErrUnavailable = errors.New("source unavailable: retry deadline exhausted")

const (
	// DefaultRetryDeadline leaves 30s of slack inside a 300s tick.
	DefaultRetryDeadline = 270 * time.Second
	// DefaultRetryBackoff is the base backoff; the wait grows linearly with the
	// attempt number and is capped at maxRetryWait.
	DefaultRetryBackoff = 5 * time.Second

	maxRetryWait = 30 * time.Second
)

// RetryOptions bounds GetJSON. Zero values fall back to the defaults above.
type RetryOptions struct {
	Deadline time.Duration
	Backoff  time.Duration
}

// GetJSON issues the request built by newReq until it returns a 2xx response
// or the wall-clock deadline passes. HTTP 429 and transport failures both wait
// min(backoff*attempt, 30s, remaining) before the next attempt. The request is
// rebuilt every attempt so the body and context are fresh.
func GetJSON(ctx context.Context, client *http.Client, newReq func(ctx context.Context) (*http.Request, error), opts RetryOptions) ([]byte, error) {
	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = DefaultRetryDeadline
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}

	start := time.Now()
	attempt := 0
	for {
		attempt++
		remaining := deadline - time.Since(start)
		if remaining <= 0 {
			log.Ctx(ctx).ErrorContext(ctx, "retry deadline exceeded",
				slog.Int("attempts", attempt-1),
				slog.Duration("deadline", deadline))
			return nil, ErrUnavailable
		}

		body, retryable, err := getOnce(ctx, client, newReq)
		if err == nil {
			return body, nil
		}
		if !retryable {
			return nil, err
		}

		remaining = deadline - time.Since(start)
		if remaining <= 0 {
			log.Ctx(ctx).ErrorContext(ctx, "retry deadline exceeded",
				slog.Int("attempts", attempt),
				slog.Any("lastError", err))
			return nil, ErrUnavailable
		}
		wait := min(backoff*time.Duration(attempt), maxRetryWait, remaining)
		log.Ctx(ctx).WarnContext(ctx, "request failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Duration("remaining", remaining),
			slog.Any("error", err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// getOnce performs a single attempt. The second return reports whether the
// failure is worth retrying.
func getOnce(ctx context.Context, client *http.Client, newReq func(ctx context.Context) (*http.Request, error)) ([]byte, bool, error) {
	req, err := newReq(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, fmt.Errorf("rate limited (status %d)", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, true, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, false, nil
}
