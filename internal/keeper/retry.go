package keeper

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// processingStatus is the transient per-plan retry bookkeeping.
// It lives only in memory: a restart resets every plan's retry count to
// zero, which is accepted behavior (the ledger state is what matters).
type processingStatus struct {
	retries    int
	lastDigest string
}

// RetryController tracks attempt counters per plan and schedules delayed
// requeues for failed attempts that still have retry budget.
type RetryController struct {
	mu     sync.Mutex
	status map[string]*processingStatus

	maxRetries int
	delay      time.Duration
	queue      *Queue
}

// NewRetryController creates a controller feeding requeues into the queue.
func NewRetryController(maxRetries int, delay time.Duration, queue *Queue) *RetryController {
	return &RetryController{
		status:     make(map[string]*processingStatus),
		maxRetries: maxRetries,
		delay:      delay,
		queue:      queue,
	}
}

// RecordFailure increments the plan's attempt counter and reports whether
// the retry budget is now exhausted (terminal failure).
func (r *RetryController) RecordFailure(planID string) (exhausted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.status[planID]
	if !ok {
		st = &processingStatus{}
		r.status[planID] = st
	}
	st.retries++
	return st.retries >= r.maxRetries
}

// Retries returns the current attempt count for the plan.
func (r *RetryController) Retries(planID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.status[planID]; ok {
		return st.retries
	}
	return 0
}

// SetLastDigest records the last submitted digest for the plan.
func (r *RetryController) SetLastDigest(planID, digest string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.status[planID]
	if !ok {
		st = &processingStatus{}
		r.status[planID] = st
	}
	st.lastDigest = digest
}

// Clear drops the plan's bookkeeping on terminal success or failure.
func (r *RetryController) Clear(planID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.status, planID)
}

// HasBudget reports whether the plan can still be retried.
func (r *RetryController) HasBudget(planID string) bool {
	return r.Retries(planID) < r.maxRetries
}

// ScheduleRequeue re-enqueues the plan after the configured delay, unless
// the context is cancelled first or the plan is already queued again.
func (r *RetryController) ScheduleRequeue(ctx context.Context, planID string) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.delay):
		}
		if r.queue.Enqueue(planID) {
			slog.Debug("plan requeued for retry", "plan", planID, "retries", r.Retries(planID))
		}
	}()
}
