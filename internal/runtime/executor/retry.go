package executor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/router-for-me/GenGateway/internal/config"
	"github.com/router-for-me/GenGateway/internal/interfaces"
	"github.com/router-for-me/GenGateway/internal/registry"
	log "github.com/sirupsen/logrus"
)

// maxRateLimitRetries is the number of backoff retries before the fallback model is used.
const maxRateLimitRetries = 3

// Sleeper waits for d or until ctx is done, returning ctx.Err() in the latter case.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryState tracks one request's attempt sequence against its primary model.
type RetryState struct {
	Attempt    int
	LastStatus int
	Delay      time.Duration
}

type retryDecision int

const (
	decisionFatal retryDecision = iota
	decisionRetry
	decisionFallback
)

// backoffDelay returns 2^(attempt+1) seconds.
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<(attempt+1)) * time.Second
}

// next records status and decides what follows it. On decisionRetry, Delay holds the
// backoff to wait and Attempt has been advanced.
func (s *RetryState) next(status int) retryDecision {
	s.LastStatus = status
	switch status {
	case http.StatusTooManyRequests:
		if s.Attempt >= maxRateLimitRetries {
			return decisionFallback
		}
		s.Delay = backoffDelay(s.Attempt)
		s.Attempt++
		return decisionRetry
	case http.StatusNotFound, http.StatusForbidden:
		return decisionFallback
	default:
		return decisionFatal
	}
}

func fallbackReason(status int) string {
	if status == http.StatusTooManyRequests {
		return "rate_limited"
	}
	return "unavailable"
}

// sendWithFallback drives the primary model through the retry state machine and, when it
// gives up, sends exactly one request to fallback. It returns the response body and the
// profile that produced it.
func (r *Router) sendWithFallback(ctx context.Context, req interfaces.ImageSynthesisRequest, primary, fallback registry.ModelProfile, token string, cfg config.GatewayConfig) ([]byte, registry.ModelProfile, error) {
	entry := logWithRequestID(ctx).WithField("model", primary.ModelID)
	primaryBody := buildImageBody(req, primary)
	primaryURL := r.modelURL(primary, cfg)

	var state RetryState
	for {
		data, err := r.send(ctx, primaryURL, primaryBody, token, primary.ModelID)
		if err == nil {
			return data, primary, nil
		}
		var upstreamErr *interfaces.UpstreamError
		if !errors.As(err, &upstreamErr) {
			return nil, primary, err
		}

		decision := state.next(upstreamErr.Status)
		if decision == decisionFatal {
			return nil, primary, err
		}
		if decision == decisionFallback {
			break
		}

		r.metrics.RecordRetry(primary.ModelID)
		entry.WithFields(log.Fields{"status": state.LastStatus, "attempt": state.Attempt}).
			Warnf("rate limited, retrying in %s", state.Delay)
		if errSleep := r.sleep(ctx, state.Delay); errSleep != nil {
			return nil, primary, &interfaces.TimeoutError{Err: errSleep}
		}
	}

	reason := fallbackReason(state.LastStatus)
	r.metrics.RecordFallback(reason)
	entry.WithFields(log.Fields{"status": state.LastStatus, "attempt": state.Attempt}).
		Warnf("primary model gave up (%s), falling back to %s", reason, fallback.ModelID)

	data, err := r.send(ctx, r.modelURL(fallback, cfg), buildImageBody(req, fallback), token, fallback.ModelID)
	if err != nil {
		return nil, fallback, err
	}
	return data, fallback, nil
}
