package behavior

import (
	"github.com/ecyb/daynight-tracking/internal/emotion"
	"github.com/ecyb/daynight-tracking/internal/models"
)

// DefaultFlushSize is the buffer length that triggers a flush.
const DefaultFlushSize = 10

// Identity names the session an event belongs to.
type Identity struct {
	TrackingID string
	ProjectID  string
	SessionID  string
}

// Recorder turns machine outcomes into behavioural events.
type Recorder struct {
	id        Identity
	buf       *Buffer
	flushSize int
}

// NewRecorder creates a recorder writing into buf.
func NewRecorder(id Identity, buf *Buffer, flushSize int) *Recorder {
	if flushSize <= 0 {
		flushSize = DefaultFlushSize
	}
	return &Recorder{id: id, buf: buf, flushSize: flushSize}
}

// Record builds the event for an interaction and its outcome and appends it.
// flushDue is true when the buffer reached the flush size or the update
// changed the emotional state.
func (r *Recorder) Record(in emotion.Interaction, pagePath string, out emotion.Outcome) (models.BehavioralEvent, bool) {
	s := out.Snapshot
	ev := models.BehavioralEvent{
		EventType:        string(in.Type),
		Timestamp:        in.At.UnixMilli(),
		State:            string(s.State),
		Intensity:        s.Intensity,
		FrustrationScore: s.FrustrationScore,
		ScrollDepth:      s.ScrollDepth,
		MaxScrollDepth:   s.MaxScrollDepth,
		Element:          in.Target.Descriptor(),
		PagePath:         pagePath,
		SessionID:        r.id.SessionID,
		ProjectID:        r.id.ProjectID,
		Metadata:         metadata(s),
	}
	n := r.buf.Append(ev)
	return ev, n >= r.flushSize || out.Transitioned()
}

// Buffer returns the buffer the recorder writes into.
func (r *Recorder) Buffer() *Buffer {
	return r.buf
}

func metadata(s emotion.Snapshot) models.EventMetadata {
	return models.EventMetadata{
		RapidClicks:      s.Counters.RapidClicks,
		DeadClicks:       s.Counters.DeadClicks,
		ScrollStalls:     s.Counters.ScrollStalls,
		FormChurns:       s.Counters.FormChurns,
		IdleSpikes:       s.Counters.IdleSpikes,
		BacktrackEvents:  s.Counters.BacktrackEvents,
		InteractionCount: s.InteractionCount,
	}
}
