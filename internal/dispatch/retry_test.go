package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ecyb/daynight-tracking/internal/models"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		n    int
		max  time.Duration
		want time.Duration
	}{
		{n: 1, want: time.Second},
		{n: 2, want: 2 * time.Second},
		{n: 3, want: 4 * time.Second},
		{n: 0, want: time.Second},
		{n: 6, max: 10 * time.Second, want: 10 * time.Second},
		{n: 80, max: 30 * time.Second, want: 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.n, time.Second, tt.max), "retry %d", tt.n)
	}
}

func TestRetryTaskLifecycle(t *testing.T) {
	batch := []models.BehavioralEvent{{EventType: "click"}}
	task := newRetryTask(1, batch, 2)
	assert.Equal(t, RetryPending, task.State())

	assert.True(t, task.begin())
	assert.Equal(t, RetryInFlight, task.State())
	assert.False(t, task.begin(), "already in flight")

	_, ok := task.Cancel()
	assert.False(t, ok, "in-flight tasks cannot be cancelled")

	task.requeue(append(batch, models.BehavioralEvent{EventType: "scroll"}))
	assert.Equal(t, RetryPending, task.State())
	assert.Equal(t, 3, task.Attempt())

	assert.True(t, task.begin())
	task.finish(RetryExhausted)
	assert.Equal(t, RetryExhausted, task.State())
	task.finish(RetrySucceeded)
	assert.Equal(t, RetryExhausted, task.State(), "terminal states stick")

	select {
	case <-task.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestRetryTaskCancel(t *testing.T) {
	batch := []models.BehavioralEvent{{EventType: "click", Timestamp: 1}}
	task := newRetryTask(7, batch, 2)

	got, ok := task.Cancel()
	assert.True(t, ok)
	assert.Equal(t, batch, got)
	assert.Equal(t, RetryCancelled, task.State())
	assert.False(t, task.begin())

	_, ok = task.Cancel()
	assert.False(t, ok)
	assert.Equal(t, uint64(7), task.ID())

	select {
	case <-task.Done():
	default:
		t.Fatal("done not closed")
	}
}
