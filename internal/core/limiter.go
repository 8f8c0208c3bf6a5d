package core

// limiter.go bounds how many jobs one process runs at once.
//
// The limiter is a semaphore over a buffered channel. When every slot is
// taken, Acquire waits up to maxWait before failing with ErrTooManyJobs.
// Close stops admitting new jobs and WaitForDrain blocks until running ones
// finish, which the HTTP invoker uses during graceful shutdown.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyJobs is returned when all job slots are occupied and the wait
// timeout expires. Clients should retry after a short delay.
var ErrTooManyJobs = errors.New("too many concurrent jobs, please try again later")

// ErrShuttingDown is returned by Acquire after Close.
var ErrShuttingDown = errors.New("ingest service is shutting down")

// DefaultMaxConcurrentJobs is the default limit for parallel jobs.
const DefaultMaxConcurrentJobs = 4

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// JobLimiter controls concurrent job execution.
type JobLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu      sync.Mutex
	active  int
	closed  bool
	drained chan struct{} // closed whenever active drops to zero after Close
}

// NewJobLimiter creates a limiter that allows at most maxConcurrent jobs.
// Callers that cannot acquire a slot within maxWait receive ErrTooManyJobs.
func NewJobLimiter(maxConcurrent int, maxWait time.Duration) *JobLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &JobLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		drained:   make(chan struct{}),
	}
}

// Acquire takes a job slot. The caller must call Release exactly once after
// a nil return.
func (l *JobLimiter) Acquire(ctx context.Context) error {
	if l.isClosed() {
		return ErrShuttingDown
	}

	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			<-l.semaphore
			return ErrShuttingDown
		}
		l.active++
		l.mu.Unlock()
		return nil

	case <-timer.C:
		return ErrTooManyJobs

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (l *JobLimiter) Release() {
	l.mu.Lock()
	l.active--
	if l.closed && l.active == 0 {
		l.signalDrained()
	}
	l.mu.Unlock()

	<-l.semaphore
}

// Close stops admitting jobs. Running jobs are unaffected.
func (l *JobLimiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	if l.active == 0 {
		l.signalDrained()
	}
}

// signalDrained must be called with mu held.
func (l *JobLimiter) signalDrained() {
	select {
	case <-l.drained:
	default:
		close(l.drained)
	}
}

func (l *JobLimiter) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// WaitForDrain closes the limiter and blocks until every running job has
// released its slot or ctx is done.
func (l *JobLimiter) WaitForDrain(ctx context.Context) error {
	l.Close()
	select {
	case <-l.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveCount returns the number of running jobs.
func (l *JobLimiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// MaxConcurrent returns the slot count.
func (l *JobLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// Available returns the number of free slots.
func (l *JobLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// JobLimiterStatus is a snapshot of the limiter for health output.
type JobLimiterStatus struct {
	Active        int  `json:"active"`
	Available     int  `json:"available"`
	MaxConcurrent int  `json:"max_concurrent"`
	Draining      bool `json:"draining"`
}

// Status returns the current limiter state.
func (l *JobLimiter) Status() JobLimiterStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	return JobLimiterStatus{
		Active:        l.active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
		Draining:      l.closed,
	}
}
