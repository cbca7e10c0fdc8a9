package dispatch

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ecyb/daynight-tracking/internal/behavior"
	"github.com/ecyb/daynight-tracking/internal/models"
)

// Defaults for Config.
const (
	DefaultMaxAttempts  = 4
	DefaultBaseDelay    = time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultHistoryLimit = 10
	DefaultSendTimeout  = 10 * time.Second
)

// Config controls delivery and retry.
type Config struct {
	// MaxAttempts is the total number of delivery attempts per batch,
	// the first one included.
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	HistoryLimit int
	SendTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	return c
}

// StateSource returns the trailing emotion state attached to a batch, with
// at most historyLimit transitions.
type StateSource func(historyLimit int) models.EmotionSnapshot

// Stats counts deliveries for one dispatcher.
type Stats struct {
	SentBatches    int64
	SentEvents     int64
	FailedAttempts int64
	DroppedBatches int64
	DroppedEvents  int64
	FinalSent      int64
	FinalFailed    int64
}

type counters struct {
	sentBatches    atomic.Int64
	sentEvents     atomic.Int64
	failedAttempts atomic.Int64
	droppedBatches atomic.Int64
	droppedEvents  atomic.Int64
	finalSent      atomic.Int64
	finalFailed    atomic.Int64
}

// Dispatcher drains a session's buffer into a sink.
type Dispatcher struct {
	log   *zap.Logger
	cfg   Config
	id    behavior.Identity
	buf   *behavior.Buffer
	sink  Sink
	state StateSource
	after func(time.Duration) <-chan time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	nextID  uint64
	retries map[uint64]*RetryTask

	stats counters
}

// New creates a dispatcher for one session.
func New(log *zap.Logger, cfg Config, id behavior.Identity, buf *behavior.Buffer, sink Sink, state StateSource) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		log:     log.With(zap.String("session_id", id.SessionID)),
		cfg:     cfg.withDefaults(),
		id:      id,
		buf:     buf,
		sink:    sink,
		state:   state,
		after:   time.After,
		ctx:     ctx,
		cancel:  cancel,
		retries: make(map[uint64]*RetryTask),
	}
}

// Flush hands the whole buffer to a background send. The swap happens before
// Flush returns, so events recorded afterwards belong to the next batch.
// It returns false when there was nothing to send or the dispatcher is closed.
func (d *Dispatcher) Flush() bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	batch := d.buf.Swap()
	if len(batch) == 0 {
		d.mu.Unlock()
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.deliver(batch)
	}()
	return true
}

// deliver runs the first attempt and, on failure, the retry loop.
func (d *Dispatcher) deliver(batch []models.BehavioralEvent) {
	err := d.send(d.ctx, batch, 1)
	if err == nil {
		return
	}
	if d.cfg.MaxAttempts <= 1 {
		d.drop(batch, 1, err)
		return
	}

	task, ok := d.register(batch)
	if !ok {
		// Closed while the first attempt was in flight; let Close pick it up.
		d.buf.Prepend(batch)
		return
	}
	d.runRetry(task)
}

func (d *Dispatcher) register(batch []models.BehavioralEvent) (*RetryTask, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, false
	}
	d.nextID++
	task := newRetryTask(d.nextID, batch, 2)
	d.retries[task.id] = task
	return task, true
}

func (d *Dispatcher) unregister(task *RetryTask) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.retries, task.id)
}

func (d *Dispatcher) runRetry(task *RetryTask) {
	defer d.unregister(task)

	for {
		attempt := task.Attempt()
		delay := Backoff(attempt-1, d.cfg.BaseDelay, d.cfg.MaxDelay)
		task.wait(delay)
		d.log.Warn("Scheduling behavioral events retry",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", d.cfg.MaxAttempts),
			zap.Duration("delay", delay),
		)

		select {
		case <-d.after(delay):
		case <-task.cancel:
			return
		case <-d.ctx.Done():
			if batch, ok := task.Cancel(); ok {
				d.buf.Prepend(batch)
			}
			return
		}

		if !task.begin() {
			return
		}

		// The failed batch goes back in front of anything recorded during
		// the backoff and the whole buffer is retried together.
		d.buf.Prepend(task.batch)
		batch := d.buf.Swap()

		err := d.send(d.ctx, batch, attempt)
		if err == nil {
			task.finish(RetrySucceeded)
			return
		}
		if attempt >= d.cfg.MaxAttempts {
			task.finish(RetryExhausted)
			d.drop(batch, attempt, err)
			return
		}
		if d.isClosed() {
			task.finish(RetryCancelled)
			d.buf.Prepend(batch)
			return
		}
		task.requeue(batch)
	}
}

func (d *Dispatcher) send(ctx context.Context, batch []models.BehavioralEvent, attempt int) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	req := models.BatchRequest{
		TrackingID:   d.id.TrackingID,
		ProjectID:    d.id.ProjectID,
		SessionID:    d.id.SessionID,
		Events:       batch,
		EmotionState: d.state(d.cfg.HistoryLimit),
	}
	err := d.sink.Send(ctx, Envelope{Kind: KindBatch, ProjectID: d.id.ProjectID, SessionID: d.id.SessionID, Payload: req})
	if err != nil {
		d.stats.failedAttempts.Add(1)
		d.log.Warn("Failed to send behavioral events",
			zap.Error(err),
			zap.Int("count", len(batch)),
			zap.Int("attempt", attempt),
		)
		return err
	}

	d.stats.sentBatches.Add(1)
	d.stats.sentEvents.Add(int64(len(batch)))
	d.log.Debug("Behavioral events sent",
		zap.Int("count", len(batch)),
		zap.Int("attempt", attempt),
		zap.String("current_state", req.EmotionState.CurrentState),
	)
	return nil
}

func (d *Dispatcher) drop(batch []models.BehavioralEvent, attempts int, err error) {
	d.stats.droppedBatches.Add(1)
	d.stats.droppedEvents.Add(int64(len(batch)))
	d.log.Error("Dropping behavioral events after exhausting retries",
		zap.Error(err),
		zap.Int("count", len(batch)),
		zap.Int("attempts", attempts),
	)
}

// SendFinal delivers the teardown summary once, without retry.
func (d *Dispatcher) SendFinal(ctx context.Context, final models.FinalEmotionState) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	req := models.FinalStateRequest{
		TrackingID:        d.id.TrackingID,
		ProjectID:         d.id.ProjectID,
		SessionID:         d.id.SessionID,
		FinalEmotionState: final,
	}
	if err := d.sink.Send(ctx, Envelope{Kind: KindFinal, ProjectID: d.id.ProjectID, SessionID: d.id.SessionID, Payload: req}); err != nil {
		d.stats.finalFailed.Add(1)
		d.log.Error("Failed to send final emotion state", zap.Error(err))
		return err
	}
	d.stats.finalSent.Add(1)
	d.log.Debug("Final emotion state sent", zap.Int("transitions", len(final.StateHistory)))
	return nil
}

// Pending returns the retry tasks currently alive, oldest first.
func (d *Dispatcher) Pending() []*RetryTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	tasks := make([]*RetryTask, 0, len(d.retries))
	for _, t := range d.retries {
		tasks = append(tasks, t)
	}
	slices.SortFunc(tasks, func(a, b *RetryTask) int {
		return cmp.Compare(a.id, b.id)
	})
	return tasks
}

func (d *Dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Close cancels pending retries, waits for in-flight sends and makes one
// last delivery attempt for whatever is left in the buffer. Cancelled
// batches go back to the buffer front in their original order first.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	// register refuses new tasks once closed, so this set is final.
	pending := d.Pending()
	for i := len(pending) - 1; i >= 0; i-- {
		if batch, ok := pending[i].Cancel(); ok {
			d.buf.Prepend(batch)
		}
	}

	waited := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		d.cancel()
		<-waited
	}
	defer d.cancel()

	batch := d.buf.Swap()
	if len(batch) == 0 {
		return nil
	}
	if err := d.send(ctx, batch, 1); err != nil {
		d.drop(batch, 1, err)
		return errors.Join(errors.New("dispatch: final flush failed"), err)
	}
	return nil
}

// Stats returns a snapshot of the delivery counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		SentBatches:    d.stats.sentBatches.Load(),
		SentEvents:     d.stats.sentEvents.Load(),
		FailedAttempts: d.stats.failedAttempts.Load(),
		DroppedBatches: d.stats.droppedBatches.Load(),
		DroppedEvents:  d.stats.droppedEvents.Load(),
		FinalSent:      d.stats.finalSent.Load(),
		FinalFailed:    d.stats.finalFailed.Load(),
	}
}
