package emotion

import (
	"time"

	"github.com/ecyb/daynight-tracking/internal/signals"
)

// Scoring and classification constants.
const (
	scorePerRatio = 10.0
	maxScore      = 100.0

	frustrationAbove       = 70.0
	hesitationAbove        = 40.0
	conversionBelow        = 20.0
	conversionInteractions = 5
	neutralIntensity       = 50.0
)

// Machine accumulates signals for one page session. It is not safe for
// concurrent use; callers serialize Update calls.
type Machine struct {
	det signals.Detectors

	state            State
	intensity        float64
	frustrationScore float64
	interactionCount int
	counters         signals.Counters
	cursors          signals.Cursors
	startedAt        time.Time
	history          []Transition
}

// NewMachine creates a machine in the neutral state, with its timing cursors
// anchored at start.
func NewMachine(det signals.Detectors, start time.Time) *Machine {
	return &Machine{
		det:       det,
		state:     StateNeutral,
		cursors:   signals.NewCursors(start),
		startedAt: start,
	}
}

// Update processes one interaction: runs the detectors that apply to its type,
// raises the frustration score by the fired ratio, reclassifies, and records a
// transition if the state changed.
func (m *Machine) Update(in Interaction) Outcome {
	now := in.At
	m.cursors.LastInteraction = now
	m.interactionCount++

	fired, applicable := 0, 0
	switch in.Type {
	case EventClick:
		if m.det.RageClick(now, &m.cursors, &m.counters) {
			fired++
		}
		if m.det.DeadClick(in.Target, &m.counters) {
			fired++
		}
		applicable += 2

	case EventScroll:
		prevDepth := m.cursors.ScrollDepth
		depth := signals.ScrollDepth(in.Viewport)
		m.cursors.ScrollDepth = depth
		m.cursors.MaxScrollDepth = max(m.cursors.MaxScrollDepth, depth)
		if m.det.ScrollStall(now, &m.cursors, &m.counters) {
			fired++
		}
		if m.det.Backtrack(prevDepth, depth, &m.counters) {
			fired++
		}
		m.cursors.LastScroll = now
		applicable += 2
	}

	ratio := 0.0
	if applicable > 0 {
		ratio = float64(fired) / float64(applicable)
	}
	m.frustrationScore = clampScore(m.frustrationScore + ratio*scorePerRatio)

	previous := m.state
	m.state, m.intensity = classify(m.frustrationScore, m.interactionCount)

	out := Outcome{Fired: fired, Applicable: applicable}
	if m.state != previous {
		tr := Transition{
			At:               now,
			From:             previous,
			To:               m.state,
			Intensity:        m.intensity,
			FrustrationScore: m.frustrationScore,
		}
		m.history = append(m.history, tr)
		out.Transition = &tr
	}
	out.Snapshot = m.snapshot(false)
	return out
}

// classify maps a score and interaction count onto a state. Bands are checked
// in priority order and the first match wins.
func classify(score float64, interactions int) (State, float64) {
	switch {
	case score > frustrationAbove:
		return StateFrustration, score
	case score > hesitationAbove:
		return StateHesitation, score
	case score < conversionBelow && interactions > conversionInteractions:
		return StateConversion, maxScore - score
	default:
		return StateNeutral, neutralIntensity
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > maxScore {
		return maxScore
	}
	return v
}

// Anchor moves the session start, and the cursors measured from it, to
// start. It only applies before the first interaction and reports whether it
// did.
func (m *Machine) Anchor(start time.Time) bool {
	if m.interactionCount > 0 {
		return false
	}
	m.startedAt = start
	m.cursors = signals.NewCursors(start)
	return true
}

// TrackScrollDepth raises the maximum scroll depth without scoring a scroll.
func (m *Machine) TrackScrollDepth(vp *signals.Viewport) {
	m.cursors.MaxScrollDepth = max(m.cursors.MaxScrollDepth, signals.ScrollDepth(vp))
}

// DetectIdle runs the idle-spike detector against the last interaction time.
// It only moves the diagnostic counter.
func (m *Machine) DetectIdle(now time.Time) bool {
	return m.det.IdleSpike(now, &m.cursors, &m.counters)
}

// NoteFormChange counts a field change on form and runs the form-churn
// detector. Switching to another form resets the change count.
func (m *Machine) NoteFormChange(form string) bool {
	if form != m.cursors.ActiveForm {
		m.cursors.ActiveForm = form
		m.cursors.FormFieldChanges = 0
	}
	m.cursors.FormFieldChanges++
	return m.det.FormChurn(&m.cursors, &m.counters)
}

// State returns the current classification.
func (m *Machine) State() State {
	return m.state
}

// FrustrationScore returns the accumulated score.
func (m *Machine) FrustrationScore() float64 {
	return m.frustrationScore
}

// Snapshot returns a copy of the machine including its full history.
func (m *Machine) Snapshot() Snapshot {
	return m.snapshot(true)
}

// History returns up to the last limit transitions, oldest first. A limit of
// zero or less returns the full history.
func (m *Machine) History(limit int) []Transition {
	h := m.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]Transition, len(h))
	copy(out, h)
	return out
}

func (m *Machine) snapshot(withHistory bool) Snapshot {
	s := Snapshot{
		State:            m.state,
		Intensity:        m.intensity,
		FrustrationScore: m.frustrationScore,
		InteractionCount: m.interactionCount,
		ScrollDepth:      m.cursors.ScrollDepth,
		MaxScrollDepth:   m.cursors.MaxScrollDepth,
		Counters:         m.counters,
		StartedAt:        m.startedAt,
		LastInteraction:  m.cursors.LastInteraction,
	}
	if withHistory {
		s.History = m.History(0)
	}
	return s
}
