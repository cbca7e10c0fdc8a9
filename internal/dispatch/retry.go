package dispatch

import (
	"sync"
	"time"

	"github.com/ecyb/daynight-tracking/internal/models"
)

// RetryState is the lifecycle position of a failed batch.
type RetryState string

const (
	RetryPending   RetryState = "pending"
	RetryInFlight  RetryState = "in_flight"
	RetrySucceeded RetryState = "succeeded"
	RetryExhausted RetryState = "exhausted"
	RetryCancelled RetryState = "cancelled"
)

// RetryTask tracks one failed batch through its remaining attempts.
//
//	pending -> in_flight -> succeeded
//	                     -> pending   (attempt failed, budget left)
//	                     -> exhausted (attempt failed, budget spent)
//	pending -> cancelled (session teardown)
type RetryTask struct {
	id uint64

	mu      sync.Mutex
	state   RetryState
	attempt int
	delay   time.Duration
	batch   []models.BehavioralEvent
	done    chan struct{}
	cancel  chan struct{}
}

func newRetryTask(id uint64, batch []models.BehavioralEvent, attempt int) *RetryTask {
	return &RetryTask{
		id:      id,
		state:   RetryPending,
		attempt: attempt,
		batch:   batch,
		done:    make(chan struct{}),
		cancel:  make(chan struct{}),
	}
}

// ID returns the task identifier, unique per dispatcher.
func (t *RetryTask) ID() uint64 {
	return t.id
}

// State returns the current state.
func (t *RetryTask) State() RetryState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Attempt returns the number of the next (or current) delivery attempt.
func (t *RetryTask) Attempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempt
}

// Delay returns the backoff the task is waiting out.
func (t *RetryTask) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}

// Done is closed once the task reaches a terminal state.
func (t *RetryTask) Done() <-chan struct{} {
	return t.done
}

func (t *RetryTask) wait(delay time.Duration) {
	t.mu.Lock()
	t.delay = delay
	t.mu.Unlock()
}

// begin moves a pending task in flight. It fails if the task was cancelled.
func (t *RetryTask) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != RetryPending {
		return false
	}
	t.state = RetryInFlight
	return true
}

// requeue returns an in-flight task to pending for its next attempt.
func (t *RetryTask) requeue(batch []models.BehavioralEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batch = batch
	t.attempt++
	t.state = RetryPending
}

func (t *RetryTask) finish(state RetryState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == RetrySucceeded || t.state == RetryExhausted || t.state == RetryCancelled {
		return
	}
	t.state = state
	close(t.done)
}

// Cancel stops a pending task and returns its batch so the caller can decide
// what to do with it. It returns false if the task is in flight or finished.
func (t *RetryTask) Cancel() ([]models.BehavioralEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != RetryPending {
		return nil, false
	}
	t.state = RetryCancelled
	close(t.cancel)
	close(t.done)
	batch := t.batch
	t.batch = nil
	return batch, true
}

// Backoff returns the wait before retry n (1-based): base * 2^(n-1), capped
// at maxDelay when it is positive.
func Backoff(n int, base, maxDelay time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := base * time.Duration(1<<uint(n-1))
	if maxDelay > 0 && (delay > maxDelay || delay <= 0) {
		delay = maxDelay
	}
	return delay
}
