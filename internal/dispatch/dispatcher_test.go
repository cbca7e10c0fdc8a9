package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/ecyb/daynight-tracking/internal/behavior"
	"github.com/ecyb/daynight-tracking/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

var errDown = errors.New("sink down")

// recordingSink keeps every envelope it is handed. fail decides per call
// (1-based) whether the delivery errors.
type recordingSink struct {
	mu    sync.Mutex
	calls int
	got   []Envelope
	fail  func(call int) bool
	gate  chan struct{}
}

func (s *recordingSink) Send(ctx context.Context, env Envelope) error {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.got = append(s.got, env)
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.fail != nil && s.fail(call) {
		return errDown
	}
	return nil
}

func (s *recordingSink) envelopes() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.got...)
}

func (s *recordingSink) batch(i int) []models.BehavioralEvent {
	envs := s.envelopes()
	return envs[i].Payload.(models.BatchRequest).Events
}

func events(kind string, from, n int) []models.BehavioralEvent {
	out := make([]models.BehavioralEvent, 0, n)
	for i := from; i < from+n; i++ {
		out = append(out, models.BehavioralEvent{EventType: kind, Timestamp: int64(i)})
	}
	return out
}

func timestamps(evs []models.BehavioralEvent) []int64 {
	out := make([]int64, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Timestamp)
	}
	return out
}

func immediate(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func newTestDispatcher(t *testing.T, sink Sink) (*Dispatcher, *behavior.Buffer) {
	t.Helper()
	buf := &behavior.Buffer{}
	id := behavior.Identity{TrackingID: "trk", ProjectID: "proj-1", SessionID: "sess-1"}
	state := func(limit int) models.EmotionSnapshot {
		return models.EmotionSnapshot{CurrentState: "neutral", Intensity: 50}
	}
	d := New(zap.NewNop(), Config{BaseDelay: time.Millisecond}, id, buf, sink, state)
	return d, buf
}

func TestFlushSwapsBeforeSendCompletes(t *testing.T) {
	sink := &recordingSink{gate: make(chan struct{})}
	d, buf := newTestDispatcher(t, sink)

	for _, ev := range events("click", 0, 10) {
		buf.Append(ev)
	}
	require.True(t, d.Flush())

	// The send is blocked; the eleventh event must stay for the next batch.
	buf.Append(models.BehavioralEvent{EventType: "click", Timestamp: 10})
	require.Eventually(t, func() bool { return len(sink.envelopes()) == 1 }, time.Second, 5*time.Millisecond)

	assert.Len(t, sink.batch(0), 10)
	assert.Equal(t, 1, buf.Len())

	close(sink.gate)
	require.NoError(t, d.Close(context.Background()))

	envs := sink.envelopes()
	require.Len(t, envs, 2)
	assert.Equal(t, []int64{10}, timestamps(sink.batch(1)))
	assert.Equal(t, int64(11), d.Stats().SentEvents)
}

func TestFlushEmptyBuffer(t *testing.T) {
	sink := &recordingSink{}
	d, _ := newTestDispatcher(t, sink)
	assert.False(t, d.Flush())
	require.NoError(t, d.Close(context.Background()))
	assert.Empty(t, sink.envelopes())
}

func TestBatchCarriesIdentityAndState(t *testing.T) {
	sink := &recordingSink{}
	d, buf := newTestDispatcher(t, sink)
	buf.Append(models.BehavioralEvent{EventType: "scroll"})
	require.True(t, d.Flush())
	require.NoError(t, d.Close(context.Background()))

	envs := sink.envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, KindBatch, envs[0].Kind)
	req := envs[0].Payload.(models.BatchRequest)
	assert.Equal(t, "trk", req.TrackingID)
	assert.Equal(t, "proj-1", req.ProjectID)
	assert.Equal(t, "sess-1", req.SessionID)
	assert.Equal(t, "neutral", req.EmotionState.CurrentState)
}

func TestRetryExhaustionDropsBatch(t *testing.T) {
	sink := &recordingSink{fail: func(int) bool { return true }}
	d, buf := newTestDispatcher(t, sink)
	d.after = immediate

	for _, ev := range events("click", 0, 3) {
		buf.Append(ev)
	}
	require.True(t, d.Flush())

	require.Eventually(t, func() bool { return d.Stats().DroppedBatches == 1 }, time.Second, 5*time.Millisecond)

	st := d.Stats()
	assert.Equal(t, int64(DefaultMaxAttempts), st.FailedAttempts)
	assert.Equal(t, int64(3), st.DroppedEvents)
	assert.Zero(t, buf.Len())
	require.Eventually(t, func() bool { return len(d.Pending()) == 0 }, time.Second, 5*time.Millisecond)
	for i := range sink.envelopes() {
		assert.Len(t, sink.batch(i), 3)
	}

	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, sink.envelopes(), DefaultMaxAttempts)
}

func TestRepeatedFailuresDoNotGrowBuffer(t *testing.T) {
	sink := &recordingSink{fail: func(int) bool { return true }}
	d, buf := newTestDispatcher(t, sink)
	d.after = immediate

	for round := 0; round < 5; round++ {
		for _, ev := range events("click", round*10, 10) {
			buf.Append(ev)
		}
		require.True(t, d.Flush())
		want := int64(round + 1)
		require.Eventually(t, func() bool { return d.Stats().DroppedBatches == want }, time.Second, 5*time.Millisecond)
		assert.Zero(t, buf.Len())
	}
	assert.Equal(t, int64(50), d.Stats().DroppedEvents)
	require.NoError(t, d.Close(context.Background()))
}

func TestRetryPrependsFailedBatch(t *testing.T) {
	sink := &recordingSink{fail: func(call int) bool { return call == 1 }}
	d, buf := newTestDispatcher(t, sink)
	fire := make(chan time.Time, 1)
	d.after = func(time.Duration) <-chan time.Time { return fire }

	for _, ev := range events("click", 0, 2) {
		buf.Append(ev)
	}
	require.True(t, d.Flush())
	require.Eventually(t, func() bool { return len(d.Pending()) == 1 }, time.Second, 5*time.Millisecond)

	task := d.Pending()[0]
	assert.Equal(t, 2, task.Attempt())
	assert.Equal(t, RetryPending, task.State())
	require.Eventually(t, func() bool { return task.Delay() == time.Millisecond }, time.Second, time.Millisecond)

	buf.Append(models.BehavioralEvent{EventType: "scroll", Timestamp: 2})
	fire <- time.Now()

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("retry did not finish")
	}
	assert.Equal(t, RetrySucceeded, task.State())
	assert.Equal(t, []int64{0, 1, 2}, timestamps(sink.batch(1)))
	assert.Zero(t, buf.Len())

	require.NoError(t, d.Close(context.Background()))
}

func TestCloseRequeuesPendingRetries(t *testing.T) {
	sink := &recordingSink{fail: func(call int) bool { return call == 1 }}
	d, buf := newTestDispatcher(t, sink)
	d.after = func(time.Duration) <-chan time.Time { return nil }

	for _, ev := range events("click", 0, 2) {
		buf.Append(ev)
	}
	require.True(t, d.Flush())
	require.Eventually(t, func() bool { return len(d.Pending()) == 1 }, time.Second, 5*time.Millisecond)
	task := d.Pending()[0]

	buf.Append(models.BehavioralEvent{EventType: "scroll", Timestamp: 5})
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, RetryCancelled, task.State())
	envs := sink.envelopes()
	require.Len(t, envs, 2)
	assert.Equal(t, []int64{0, 1, 5}, timestamps(sink.batch(1)))
	assert.False(t, d.Flush())
}

func TestCloseReportsFinalFlushFailure(t *testing.T) {
	sink := &recordingSink{fail: func(int) bool { return true }}
	d, buf := newTestDispatcher(t, sink)
	buf.Append(models.BehavioralEvent{EventType: "click"})

	err := d.Close(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, int64(1), d.Stats().DroppedBatches)
	assert.NoError(t, d.Close(context.Background()))
}

func TestSendFinal(t *testing.T) {
	var sent atomic.Int32
	sink := SinkFunc(func(_ context.Context, env Envelope) error {
		sent.Add(1)
		if env.Kind != KindFinal {
			return errors.New("unexpected kind")
		}
		req := env.Payload.(models.FinalStateRequest)
		if req.FinalEmotionState.TotalInteractions != 7 {
			return errors.New("unexpected payload")
		}
		return nil
	})
	d, _ := newTestDispatcher(t, sink)

	require.NoError(t, d.SendFinal(context.Background(), models.FinalEmotionState{TotalInteractions: 7}))
	assert.Equal(t, int32(1), sent.Load())
	assert.Equal(t, int64(1), d.Stats().FinalSent)
	require.NoError(t, d.Close(context.Background()))
}

func TestSendFinalNoRetry(t *testing.T) {
	sink := &recordingSink{fail: func(int) bool { return true }}
	d, _ := newTestDispatcher(t, sink)

	err := d.SendFinal(context.Background(), models.FinalEmotionState{})
	assert.ErrorIs(t, err, errDown)
	assert.Len(t, sink.envelopes(), 1)
	assert.Equal(t, int64(1), d.Stats().FinalFailed)
	require.NoError(t, d.Close(context.Background()))
}

func TestSingleAttemptDropsImmediately(t *testing.T) {
	sink := &recordingSink{fail: func(int) bool { return true }}
	buf := &behavior.Buffer{}
	d := New(zap.NewNop(), Config{MaxAttempts: 1}, behavior.Identity{SessionID: "s"}, buf, sink,
		func(int) models.EmotionSnapshot { return models.EmotionSnapshot{} })

	buf.Append(models.BehavioralEvent{EventType: "click"})
	require.True(t, d.Flush())
	require.Eventually(t, func() bool { return d.Stats().DroppedBatches == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, d.Pending())
	require.NoError(t, d.Close(context.Background()))
}
