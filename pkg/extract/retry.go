package extract

import (
	"context"
	"math"
	"net"
	"time"

	"github.com/athapong/finkg/pkg/graph/metrics"
	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// RetryConfig controls bounded retry with exponential backoff for calls to
// the extraction capability.
type RetryConfig struct {
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultRetryConfig is suitable for hosted LLM APIs.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:  3,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     10 * time.Second,
	Multiplier:  2.0,
}

// retryDo retries fn on transient failures only; permanent failures and
// caller cancellation return immediately. Exhaustion surfaces as a transient
// CapabilityError for the batch layer to report.
func retryDo[T any](ctx context.Context, rc RetryConfig, logger *logrus.Logger, op string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= rc.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isTransient(err) {
			metrics.ExtractionErrors.WithLabelValues(op, "false").Inc()
			return zero, &CapabilityError{Op: op, Transient: false, Err: err}
		}

		if attempt < rc.MaxRetries {
			wait := time.Duration(float64(rc.InitialWait) * math.Pow(rc.Multiplier, float64(attempt)))
			if wait > rc.MaxWait {
				wait = rc.MaxWait
			}
			logger.WithError(err).WithFields(logrus.Fields{
				"op":      op,
				"attempt": attempt + 1,
				"wait":    wait.String(),
			}).Warn("Transient failure, retrying")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}
	metrics.ExtractionErrors.WithLabelValues(op, "true").Inc()
	return zero, &CapabilityError{Op: op, Transient: true, Err: lastErr}
}

// isTransient classifies network and rate-limit/server-side failures as
// retryable; schema and request errors are permanent.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
