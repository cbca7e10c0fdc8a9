// Package session ties one page session's inference, recording and delivery
// together and keeps the registry of live sessions.
package session

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ecyb/daynight-tracking/internal/behavior"
	"github.com/ecyb/daynight-tracking/internal/dispatch"
	"github.com/ecyb/daynight-tracking/internal/emotion"
	"github.com/ecyb/daynight-tracking/internal/models"
	"github.com/ecyb/daynight-tracking/internal/signals"
	"github.com/ecyb/daynight-tracking/internal/widgets"
)

// DefaultThrottleInterval is the minimum spacing of scroll and mousemove
// events.
const DefaultThrottleInterval = 100 * time.Millisecond

// Options configures a single session.
type Options struct {
	Identity         behavior.Identity
	Thresholds       signals.Thresholds
	ThrottleInterval time.Duration
	FlushSize        int
	Dispatch         dispatch.Config
	Sink             dispatch.Sink
	Widgets          *widgets.Evaluator
	Clock            func() time.Time
}

// heldEvent is a throttled sample waiting to be scored.
type heldEvent struct {
	ev   models.RawEvent
	at   time.Time
	wall time.Time
}

// Session is the live state of one page session. All methods are safe for
// concurrent use.
type Session struct {
	log        *zap.Logger
	id         behavior.Identity
	clock      func() time.Time
	throttle   time.Duration
	idleAfter  time.Duration
	widgets    *widgets.Evaluator
	recorder   *behavior.Recorder
	dispatcher *dispatch.Dispatcher

	mu        sync.Mutex
	machine   *emotion.Machine
	idle      *time.Timer
	throttled map[emotion.EventType]time.Time
	held      map[emotion.EventType]heldEvent
	anchored  bool
	// lastEvent is the page-clock time of the last accepted event and
	// lastWall the server time it arrived; the idle timer projects one
	// onto the other.
	lastEvent  time.Time
	lastWall   time.Time
	exitIntent bool
	shown      map[string]bool
	pagePath   string
	ended      bool

	visitor     string
	visits      int
	impressions map[string]widgets.Impression
}

// New creates a session. Until its first event arrives the session runs on
// the server clock; from then on it follows the page's timestamps.
func New(log *zap.Logger, opts Options) *Session {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	throttle := opts.ThrottleInterval
	if throttle <= 0 {
		throttle = DefaultThrottleInterval
	}
	sink := opts.Sink
	if sink == nil {
		sink = dispatch.NopSink{}
	}

	det := signals.New(opts.Thresholds)
	start := clock()
	buf := &behavior.Buffer{}

	s := &Session{
		log:       log.With(zap.String("session_id", opts.Identity.SessionID)),
		id:        opts.Identity,
		clock:     clock,
		throttle:  throttle,
		idleAfter: det.Thresholds().IdleAfter,
		widgets:   opts.Widgets,
		recorder:  behavior.NewRecorder(opts.Identity, buf, opts.FlushSize),
		machine:   emotion.NewMachine(det, start),
		throttled: make(map[emotion.EventType]time.Time),
		held:      make(map[emotion.EventType]heldEvent),
		lastEvent: start,
		lastWall:  start,
		shown:     make(map[string]bool),
		visits:    1,
	}
	s.dispatcher = dispatch.New(log, opts.Dispatch, opts.Identity, buf, sink, s.wireState)
	return s
}

// ProjectID returns the project the session belongs to.
func (s *Session) ProjectID() string {
	return s.id.ProjectID
}

// SetVisitor attaches the returning visitor behind the session: how many
// visits they made, this one included, and their widget history.
func (s *Session) SetVisitor(id string, visits int, history map[string]widgets.Impression) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visitor = id
	s.visits = max(visits, 1)
	s.impressions = maps.Clone(history)
}

// Visitor returns the visitor id set by SetVisitor.
func (s *Session) Visitor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visitor
}

// Impression returns what the session knows about the visitor and widget id.
func (s *Session) Impression(widgetID string) (widgets.Impression, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	imp, ok := s.impressions[widgetID]
	return imp, ok
}

// MarkConverted records that the visitor converted through widget id.
func (s *Session) MarkConverted(widgetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.impressions == nil {
		s.impressions = make(map[string]widgets.Impression)
	}
	imp := s.impressions[widgetID]
	imp.Converted = true
	s.impressions[widgetID] = imp
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id.SessionID
}

// Handle runs one raw page event through the engine. It returns false when
// the event was throttled, the session has ended or handling failed. Panics
// are logged and swallowed so a bad event never reaches the page.
func (s *Session) Handle(ctx context.Context, ev models.RawEvent) (handled bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Recovered from panic while handling event",
				zap.Any("panic", r),
				zap.String("event_type", ev.Type),
			)
			handled = false
		}
	}()

	if ctx.Err() != nil {
		return false
	}

	flushDue, ok := s.apply(ev)
	if flushDue {
		s.dispatcher.Flush()
	}
	return ok
}

func (s *Session) apply(ev models.RawEvent) (flushDue, handled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return false, false
	}

	wall := s.clock()
	at := s.eventTime(ev, wall)
	if !s.anchored {
		// The page clock is authoritative: start the session on its
		// timeline, whatever the server clock says.
		s.machine.Anchor(at)
		s.anchored = true
		s.lastEvent = at
		s.lastWall = wall
	}
	typ := emotion.EventType(ev.Type)

	if typ == emotion.EventScroll || typ == emotion.EventMouseMove {
		if last, ok := s.throttled[typ]; ok && at.Sub(last) < s.throttle {
			s.hold(typ, ev, at, wall)
			return false, false
		}
		s.throttled[typ] = at
	}

	flushDue = s.releaseHeld(at)
	if s.process(ev, at, wall) {
		flushDue = true
	}
	s.resetIdle()
	return flushDue, true
}

// eventTime places ev on the page timeline. Events without a timestamp are
// projected from the last one by the server time elapsed since.
func (s *Session) eventTime(ev models.RawEvent, wall time.Time) time.Time {
	if ev.Timestamp > 0 {
		return time.UnixMilli(ev.Timestamp)
	}
	if s.anchored {
		return s.lastEvent.Add(wall.Sub(s.lastWall))
	}
	return wall
}

// hold keeps the latest throttled sample of a burst so the burst still ends
// on its final position. Callers hold s.mu.
func (s *Session) hold(typ emotion.EventType, ev models.RawEvent, at, wall time.Time) {
	s.held[typ] = heldEvent{ev: ev, at: at, wall: wall}
	if typ == emotion.EventScroll {
		s.machine.TrackScrollDepth(ev.Viewport)
	}
	s.lastEvent = at
	s.lastWall = wall
	s.resetIdle()
}

// releaseHeld runs held samples recorded no later than upTo, oldest first.
// A zero upTo releases everything. Callers hold s.mu.
func (s *Session) releaseHeld(upTo time.Time) (flushDue bool) {
	if len(s.held) == 0 {
		return false
	}
	due := make([]heldEvent, 0, len(s.held))
	for typ, h := range s.held {
		if upTo.IsZero() || !h.at.After(upTo) {
			due = append(due, h)
			delete(s.held, typ)
		}
	}
	slices.SortFunc(due, func(a, b heldEvent) int { return a.at.Compare(b.at) })
	for _, h := range due {
		if s.process(h.ev, h.at, h.wall) {
			flushDue = true
		}
	}
	return flushDue
}

// process runs one accepted event through the machine and the recorder.
// Callers hold s.mu.
func (s *Session) process(ev models.RawEvent, at, wall time.Time) (flushDue bool) {
	typ := emotion.EventType(ev.Type)
	in := emotion.Interaction{Type: typ, Target: ev.Target, Viewport: ev.Viewport, At: at}
	update := in
	switch typ {
	case emotion.EventInput:
		form := ""
		if ev.Target != nil {
			form = ev.Target.FormID
		}
		s.machine.NoteFormChange(form)
		update.Type = emotion.EventClick
	case emotion.EventMouseMove:
		update.Type = emotion.EventClick
		update.Target = nil
	case emotion.EventExitIntent:
		s.exitIntent = true
	}

	out := s.machine.Update(update)
	if ev.PagePath != "" {
		s.pagePath = ev.PagePath
	}
	_, flushDue = s.recorder.Record(in, s.pagePath, out)

	if out.Transition != nil {
		s.log.Debug("Emotion state changed",
			zap.String("from", string(out.Transition.From)),
			zap.String("to", string(out.Transition.To)),
			zap.Float64("frustration_score", out.Transition.FrustrationScore),
		)
	}

	if !at.Before(s.lastEvent) {
		s.lastEvent = at
		s.lastWall = wall
	}
	return flushDue
}

// resetIdle rearms the idle timer. Callers hold s.mu.
func (s *Session) resetIdle() {
	if s.idle != nil {
		s.idle.Stop()
	}
	s.idle = time.AfterFunc(s.idleAfter+time.Millisecond, s.onIdle)
}

func (s *Session) onIdle() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.releaseHeld(time.Time{})
	now := s.lastEvent.Add(s.clock().Sub(s.lastWall))
	if s.machine.DetectIdle(now) {
		s.log.Debug("Idle spike detected")
	}
	s.mu.Unlock()

	s.dispatcher.Flush()
}

// SetPagePath sets the path stamped on events that do not carry one.
func (s *Session) SetPagePath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path != "" {
		s.pagePath = path
	}
}

// Snapshot returns the current state including the full history.
func (s *Session) Snapshot() emotion.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Snapshot()
}

// LastActivity returns the server time of the last accepted event.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWall
}

// Ended reports whether End has run.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// NextWidget returns the widget to show now, if any, marks it shown and
// records the impression. Frequency rules run on the server clock since
// they span visits.
func (s *Session) NextWidget() (widgets.Widget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.widgets == nil || s.ended {
		return widgets.Widget{}, false
	}
	snap := s.machine.Snapshot()
	view := widgets.View{
		TimeOnPage:       s.lastEvent.Sub(snap.StartedAt),
		MaxScrollDepth:   snap.MaxScrollDepth,
		ExitIntent:       s.exitIntent,
		State:            string(snap.State),
		FrustrationScore: snap.FrustrationScore,
		VisitCount:       s.visits,
		SessionID:        s.id.SessionID,
		Now:              s.clock(),
		Impressions:      s.impressions,
	}
	w, ok := s.widgets.Next(view, s.shown)
	if ok {
		s.shown[w.ID] = true
		if s.impressions == nil {
			s.impressions = make(map[string]widgets.Impression)
		}
		s.impressions[w.ID] = s.impressions[w.ID].Shown(view.SessionID, view.Now)
		s.log.Info("Widget triggered", zap.String("widget_id", w.ID), zap.String("state", view.State))
	}
	return w, ok
}

// Stats returns the delivery counters of the session's dispatcher.
func (s *Session) Stats() dispatch.Stats {
	return s.dispatcher.Stats()
}

// wireState is the dispatcher's view of the current emotion state.
func (s *Session) wireState(historyLimit int) models.EmotionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return behavior.ToWireSnapshot(s.machine.Snapshot(), s.machine.History(historyLimit))
}

// End tears the session down: pending events are flushed once and, if the
// page saw any interaction, the final summary is sent. Calling End again is
// a no-op.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.releaseHeld(time.Time{})
	s.ended = true
	if s.idle != nil {
		s.idle.Stop()
	}
	s.mu.Unlock()

	var errs []error
	if err := s.dispatcher.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	snap := s.machine.Snapshot()
	now := s.lastEvent.Add(s.clock().Sub(s.lastWall))
	s.mu.Unlock()

	if snap.InteractionCount > 0 {
		if err := s.dispatcher.SendFinal(ctx, behavior.ToFinalState(snap, now)); err != nil {
			errs = append(errs, err)
		}
	}

	s.log.Info("Session ended",
		zap.String("final_state", string(snap.State)),
		zap.Int("interactions", snap.InteractionCount),
		zap.Float64("frustration_score", snap.FrustrationScore),
	)
	return errors.Join(errs...)
}
