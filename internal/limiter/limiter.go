// Package limiter governs traffic to upstream LLM and embedding APIs: a hard
// cap on in-flight calls, request- and token-per-minute budgets, and
// exponential-backoff retry of transient failures.
package limiter

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/kgforge/kgforge/internal/config"
	"github.com/kgforge/kgforge/internal/metrics"
)

// maxBucketWait bounds a single sleep while waiting for bucket refill, so
// cancellation is observed promptly.
const maxBucketWait = 5 * time.Second

// bucket is a continuously refilling token bucket. capacity <= 0 disables it.
type bucket struct {
	capacity   float64
	refillPerS float64
	available  float64
	lastRefill time.Time
}

func newBucket(perMinute int, now time.Time) *bucket {
	capacity := float64(perMinute)
	if capacity < 0 {
		capacity = 0
	}

	return &bucket{
		capacity:   capacity,
		refillPerS: capacity / 60.0,
		available:  capacity,
		lastRefill: now,
	}
}

func (b *bucket) refill(now time.Time) {
	if b.refillPerS <= 0 {
		b.available = b.capacity
		b.lastRefill = now

		return
	}

	dt := now.Sub(b.lastRefill).Seconds()
	if dt < 0 {
		dt = 0
	}

	b.available = min(b.capacity, b.available+dt*b.refillPerS)
	b.lastRefill = now
}

// waitFor returns how long until need tokens are available, zero if satisfied.
func (b *bucket) waitFor(need float64) time.Duration {
	if b.capacity <= 0 || b.available >= need || b.refillPerS <= 0 {
		return 0
	}

	return time.Duration((need - b.available) / b.refillPerS * float64(time.Second))
}

// Limiter is the per-upstream traffic governor. All waits are cancellable
// through the caller's context.
type Limiter struct {
	name  string
	sem   *semaphore.Weighted
	retry config.RetryConfig
	log   *logrus.Logger

	mu       sync.Mutex
	requests *bucket
	tokens   *bucket

	now func() time.Time
}

// New creates a Limiter for one upstream. Zero rpm/tpm disables the
// respective bound; zero max_in_flight disables the concurrency cap.
func New(name string, concurrency config.ConcurrencyConfig, rate config.RateLimitConfig, retry config.RetryConfig, log *logrus.Logger) *Limiter {
	l := &Limiter{
		name:  name,
		retry: retry,
		log:   log,
		now:   time.Now,
	}

	if concurrency.MaxInFlight > 0 {
		l.sem = semaphore.NewWeighted(int64(concurrency.MaxInFlight))
	}

	now := l.now()
	l.requests = newBucket(rate.RPM, now)
	l.tokens = newBucket(rate.TPM, now)

	return l
}

// Reconciler reports the actual token usage of a finished call so the TPM
// budget can be corrected against the entry estimate.
type Reconciler func(actualTokens int)

// Do runs fn under the governor: concurrency slot, then request + token
// budget, then fn with retry of transient errors. The estimate is debited on
// entry; fn may call the Reconciler to settle the difference once actual
// usage is known.
func (l *Limiter) Do(ctx context.Context, estimatedTokens int, fn func(ctx context.Context, reconcile Reconciler) error) error {
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("%s limiter: acquiring slot: %w", l.name, err)
		}
		defer l.sem.Release(1)
	}

	attempt := 0
	backoff := time.Duration(l.retry.InitialBackoffS * float64(time.Second))

	for {
		if err := l.acquireBudget(ctx, 1, estimatedTokens); err != nil {
			return err
		}

		err := fn(ctx, l.reconcile(estimatedTokens))
		if err == nil {
			metrics.UpstreamCallsTotal.WithLabelValues(l.name, "ok").Inc()

			return nil
		}

		if !Transient(err) {
			metrics.UpstreamCallsTotal.WithLabelValues(l.name, "permanent_error").Inc()

			return err
		}

		if attempt >= l.retry.MaxRetries {
			metrics.UpstreamCallsTotal.WithLabelValues(l.name, "retries_exhausted").Inc()

			return fmt.Errorf("%s limiter: %d retries exhausted: %w", l.name, l.retry.MaxRetries, err)
		}

		metrics.UpstreamRetriesTotal.WithLabelValues(l.name).Inc()

		delay := jitter(min(backoff, time.Duration(l.retry.MaxBackoffS*float64(time.Second))))
		l.log.WithFields(logrus.Fields{
			"upstream": l.name,
			"attempt":  attempt + 1,
			"delay":    delay.String(),
		}).WithError(err).Warn("transient upstream error, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		attempt++
		backoff = time.Duration(float64(backoff) * l.retry.BackoffMultiplier)
	}
}

// acquireBudget blocks until both the request and token buckets can cover the
// ask, sleeping in bounded slices so ctx cancellation is honored.
func (l *Limiter) acquireBudget(ctx context.Context, requests, tokens int) error {
	reqNeed := float64(max(requests, 0))
	tokNeed := float64(max(tokens, 0))

	for {
		l.mu.Lock()

		now := l.now()
		l.requests.refill(now)
		l.tokens.refill(now)

		reqOK := l.requests.capacity <= 0 || l.requests.available >= reqNeed
		tokOK := l.tokens.capacity <= 0 || l.tokens.available >= tokNeed

		if reqOK && tokOK {
			if l.requests.capacity > 0 {
				l.requests.available -= reqNeed
			}
			if l.tokens.capacity > 0 {
				l.tokens.available -= tokNeed
			}

			l.mu.Unlock()

			return nil
		}

		wait := max(l.requests.waitFor(reqNeed), l.tokens.waitFor(tokNeed))
		l.mu.Unlock()

		wait = min(max(wait, 50*time.Millisecond), maxBucketWait)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s limiter: waiting for budget: %w", l.name, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// reconcile settles the TPM budget once the actual token count is known: an
// overestimate is credited back, an underestimate debited.
func (l *Limiter) reconcile(estimated int) Reconciler {
	return func(actual int) {
		if actual < 0 || l.tokens.capacity <= 0 {
			return
		}

		l.mu.Lock()
		defer l.mu.Unlock()

		delta := float64(estimated - actual)
		l.tokens.available = min(l.tokens.capacity, max(0, l.tokens.available+delta))
	}
}

// jitter scales a delay by a uniform factor in [0.5, 1.0].
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.5 + rand.Float64()*0.5)) //nolint:gosec // non-cryptographic jitter
}
