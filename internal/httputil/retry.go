package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

var DefaultRetry = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    10 * time.Second,
}

// BackOff returns the exponential policy cfg describes: delays double from
// BaseDelay up to MaxDelay, for at most MaxAttempts tries, stopping when ctx
// is done.
func (cfg RetryConfig) BackOff(ctx context.Context) backoff.BackOff {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetry.MaxAttempts
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.BaseDelay
	exp.MaxInterval = cfg.MaxDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()

	var b backoff.BackOff = &backoff.StopBackOff{}
	if cfg.MaxAttempts > 1 {
		b = backoff.WithMaxRetries(exp, uint64(cfg.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// Do executes an HTTP request with exponential backoff retry.
// The buildReq function is called on each attempt to produce a fresh request
// (required because request bodies are consumed on each attempt).
// Transport errors and 5xx responses are retried; any other response is
// returned to the caller as is.
func Do(ctx context.Context, client *http.Client, cfg RetryConfig, buildReq func() (*http.Request, error)) (*http.Response, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetry.MaxAttempts
	}

	var resp *http.Response
	attempt := 0
	op := func() error {
		attempt++
		req, err := buildReq()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		r, err := client.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(r.Body, 512))
			r.Body.Close()
			return fmt.Errorf("HTTP %d: %s", r.StatusCode, string(body))
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", cfg.MaxAttempts).
			Dur("retry_in", wait).Msg("request failed, retrying")
	}

	err := backoff.RetryNotify(op, cfg.BackOff(ctx), notify)
	if err == nil {
		return resp, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return nil, perm.Err
	}
	return nil, fmt.Errorf("all %d attempts failed, last error: %w", attempt, err)
}
