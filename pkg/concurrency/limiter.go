// Package concurrency bounds the number of script evaluations running at
// once. Every conversion job spins up its own JavaScript runtime, so an
// unbounded worker fleet can exhaust memory under a burst of jobs; the
// limiter caps in-flight evaluations and its circuit breaker sheds load
// when failures pile up.
package concurrency

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Metrics tracks limiter usage counters. All fields are updated atomically.
type Metrics struct {
	TotalAcquired   int64
	TotalReleased   int64
	PeakConcurrent  int64
	TotalWaitTimeNs int64
}

// Limiter is a semaphore over script evaluation slots with usage metrics
// and an attached circuit breaker.
type Limiter struct {
	sem            chan struct{}
	active         int64
	metrics        Metrics
	circuitBreaker *CircuitBreaker
}

// NewLimiter creates a limiter allowing at most maxConcurrent script
// evaluations, with a default circuit breaker.
func NewLimiter(maxConcurrent int) *Limiter {
	return NewLimiterWithCircuitBreaker(maxConcurrent, NewCircuitBreaker(100, 30*time.Second))
}

// NewLimiterWithCircuitBreaker creates a limiter with a caller-supplied
// circuit breaker.
func NewLimiterWithCircuitBreaker(maxConcurrent int, cb *CircuitBreaker) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{
		sem:            make(chan struct{}, maxConcurrent),
		circuitBreaker: cb,
	}
}

// Acquire blocks until an evaluation slot is free or the context is done.
// It fails immediately while the circuit breaker is open.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.circuitBreaker.IsOpen() {
		return fmt.Errorf("script evaluation circuit breaker is open")
	}

	start := time.Now()

	select {
	case l.sem <- struct{}{}:
		atomic.AddInt64(&l.metrics.TotalWaitTimeNs, time.Since(start).Nanoseconds())
		atomic.AddInt64(&l.metrics.TotalAcquired, 1)
		l.updatePeak(atomic.AddInt64(&l.active, 1))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		atomic.AddInt64(&l.metrics.TotalReleased, 1)
		atomic.AddInt64(&l.active, -1)
	default:
		// Release without a matching Acquire; nothing to free.
	}
}

// RecordSuccess reports a completed evaluation to the circuit breaker.
func (l *Limiter) RecordSuccess() {
	l.circuitBreaker.RecordSuccess()
}

// RecordFailure reports a failed evaluation to the circuit breaker.
func (l *Limiter) RecordFailure() {
	l.circuitBreaker.RecordFailure()
}

// Active returns the number of evaluations currently holding a slot.
func (l *Limiter) Active() int64 {
	return atomic.LoadInt64(&l.active)
}

// Capacity returns the maximum number of concurrent evaluations.
func (l *Limiter) Capacity() int {
	return cap(l.sem)
}

// Snapshot returns a copy of the usage counters.
func (l *Limiter) Snapshot() Metrics {
	return Metrics{
		TotalAcquired:   atomic.LoadInt64(&l.metrics.TotalAcquired),
		TotalReleased:   atomic.LoadInt64(&l.metrics.TotalReleased),
		PeakConcurrent:  atomic.LoadInt64(&l.metrics.PeakConcurrent),
		TotalWaitTimeNs: atomic.LoadInt64(&l.metrics.TotalWaitTimeNs),
	}
}

// AverageWaitTime reports the mean time spent waiting for a slot.
func (l *Limiter) AverageWaitTime() time.Duration {
	m := l.Snapshot()
	if m.TotalAcquired == 0 {
		return 0
	}
	return time.Duration(m.TotalWaitTimeNs / m.TotalAcquired)
}

// Breaker exposes the attached circuit breaker.
func (l *Limiter) Breaker() *CircuitBreaker {
	return l.circuitBreaker
}

func (l *Limiter) updatePeak(current int64) {
	for {
		peak := atomic.LoadInt64(&l.metrics.PeakConcurrent)
		if current <= peak || atomic.CompareAndSwapInt64(&l.metrics.PeakConcurrent, peak, current) {
			return
		}
	}
}
