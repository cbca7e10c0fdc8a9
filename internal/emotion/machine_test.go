package emotion

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecyb/daynight-tracking/internal/signals"
)

var t0 = time.Date(2025, 10, 24, 12, 0, 0, 0, time.UTC)

func newTestMachine() *Machine {
	return NewMachine(signals.New(signals.DefaultThresholds()), t0)
}

func div() *signals.Element {
	return &signals.Element{TagName: "div", ClassName: "hero"}
}

func TestUpdate_TwoDeadClicksOnDiv(t *testing.T) {
	m := newTestMachine()

	first := m.Update(Interaction{Type: EventClick, Target: div(), At: t0.Add(time.Second)})
	assert.Equal(t, 1, first.Fired)
	assert.Equal(t, 2, first.Applicable)
	assert.InDelta(t, 5.0, first.Snapshot.FrustrationScore, 1e-9)

	second := m.Update(Interaction{Type: EventClick, Target: div(), At: t0.Add(1500 * time.Millisecond)})
	assert.Equal(t, 2, second.Fired)
	assert.Equal(t, 2, second.Applicable)
	assert.InDelta(t, 15.0, second.Snapshot.FrustrationScore, 1e-9)

	assert.Equal(t, 1, second.Snapshot.Counters.RapidClicks)
	assert.Equal(t, 2, second.Snapshot.Counters.DeadClicks)
	assert.Equal(t, StateNeutral, second.Snapshot.State)
}

func TestUpdate_ClickWithoutTargetOnlyRageCounts(t *testing.T) {
	m := newTestMachine()

	m.Update(Interaction{Type: EventClick, At: t0.Add(time.Second)})
	out := m.Update(Interaction{Type: EventClick, At: t0.Add(1200 * time.Millisecond)})

	assert.Equal(t, 1, out.Fired)
	assert.Equal(t, 2, out.Applicable)
	assert.Zero(t, out.Snapshot.Counters.DeadClicks)
}

func TestUpdate_OtherEventsHaveNoDenominator(t *testing.T) {
	m := newTestMachine()

	for _, et := range []EventType{EventVisibility, EventResize, EventExitIntent, "custom"} {
		out := m.Update(Interaction{Type: et, At: t0.Add(time.Second)})
		assert.Zero(t, out.Applicable)
		assert.Zero(t, out.Snapshot.FrustrationScore)
	}
	assert.Equal(t, 4, m.Snapshot().InteractionCount)
}

func TestUpdate_ConversionAfterSixthInteraction(t *testing.T) {
	m := newTestMachine()
	m.frustrationScore = 15

	for i := 1; i <= 5; i++ {
		out := m.Update(Interaction{Type: EventVisibility, At: t0.Add(time.Duration(i) * time.Second)})
		require.Equal(t, StateNeutral, out.Snapshot.State, "interaction %d", i)
		assert.Equal(t, neutralIntensity, out.Snapshot.Intensity)
		assert.False(t, out.Transitioned())
	}

	out := m.Update(Interaction{Type: EventVisibility, At: t0.Add(6 * time.Second)})
	assert.Equal(t, StateConversion, out.Snapshot.State)
	assert.InDelta(t, 85.0, out.Snapshot.Intensity, 1e-9)
	require.True(t, out.Transitioned())
	assert.Equal(t, StateNeutral, out.Transition.From)
	assert.Equal(t, StateConversion, out.Transition.To)
}

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		name         string
		score        float64
		interactions int
		want         State
		intensity    float64
	}{
		{"exactly 70 is hesitation", 70, 10, StateHesitation, 70},
		{"just above 70 is frustration", 70.5, 10, StateFrustration, 70.5},
		{"100 is frustration", 100, 1, StateFrustration, 100},
		{"exactly 40 is neutral", 40, 10, StateNeutral, 50},
		{"just above 40 is hesitation", 40.5, 1, StateHesitation, 40.5},
		{"low score few interactions is neutral", 10, 5, StateNeutral, 50},
		{"low score many interactions is conversion", 10, 6, StateConversion, 90},
		{"exactly 20 is neutral", 20, 50, StateNeutral, 50},
		{"middle band is neutral", 30, 2, StateNeutral, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, intensity := classify(tt.score, tt.interactions)
			assert.Equal(t, tt.want, state)
			assert.InDelta(t, tt.intensity, intensity, 1e-9)
		})
	}
}

func TestUpdate_ScoreSeventyClassifiesAsHesitation(t *testing.T) {
	m := newTestMachine()
	m.frustrationScore = 70

	out := m.Update(Interaction{Type: EventResize, At: t0.Add(time.Second)})
	assert.Equal(t, StateHesitation, out.Snapshot.State)
	assert.InDelta(t, 70.0, out.Snapshot.Intensity, 1e-9)
}

func TestUpdate_ScoreClampsAtHundred(t *testing.T) {
	m := newTestMachine()
	m.frustrationScore = 95

	m.Update(Interaction{Type: EventClick, Target: div(), At: t0.Add(time.Second)})
	out := m.Update(Interaction{Type: EventClick, Target: div(), At: t0.Add(1100 * time.Millisecond)})

	assert.Equal(t, 100.0, out.Snapshot.FrustrationScore)
	assert.Equal(t, StateFrustration, out.Snapshot.State)
}

func TestUpdate_ScrollDepthAndBacktrack(t *testing.T) {
	m := newTestMachine()
	vp := func(top float64) *signals.Viewport {
		return &signals.Viewport{ScrollTop: top, ScrollHeight: 2800, ViewportHeight: 800}
	}

	// 5s after start: stall fires, no backtrack.
	out := m.Update(Interaction{Type: EventScroll, Viewport: vp(1600), At: t0.Add(5 * time.Second)})
	assert.Equal(t, 80, out.Snapshot.ScrollDepth)
	assert.Equal(t, 80, out.Snapshot.MaxScrollDepth)
	assert.Equal(t, 1, out.Fired)

	// Quick scroll back up by 60 points: backtrack fires, no stall.
	out = m.Update(Interaction{Type: EventScroll, Viewport: vp(400), At: t0.Add(5200 * time.Millisecond)})
	assert.Equal(t, 20, out.Snapshot.ScrollDepth)
	assert.Equal(t, 80, out.Snapshot.MaxScrollDepth)
	assert.Equal(t, 1, out.Fired)
	assert.Equal(t, 1, out.Snapshot.Counters.BacktrackEvents)
	assert.Equal(t, 1, out.Snapshot.Counters.ScrollStalls)
}

func TestUpdate_MissingViewportDegrades(t *testing.T) {
	m := newTestMachine()

	// First scroll of the page: only the stall fires.
	out := m.Update(Interaction{Type: EventScroll, At: t0.Add(time.Second)})
	assert.Equal(t, 0, out.Snapshot.ScrollDepth)
	assert.Equal(t, 2, out.Applicable)
	assert.Equal(t, 1, out.Fired)

	out = m.Update(Interaction{Type: EventScroll, At: t0.Add(2 * time.Second)})
	assert.Zero(t, out.Fired, "no stall, no backtrack")
	assert.Equal(t, 1, out.Snapshot.Counters.ScrollStalls)
}

func TestUpdate_FirstScrollStallsEvenEarly(t *testing.T) {
	m := newTestMachine()
	vp := &signals.Viewport{ScrollTop: 100, ScrollHeight: 2000, ViewportHeight: 1000}

	out := m.Update(Interaction{Type: EventScroll, Viewport: vp, At: t0.Add(500 * time.Millisecond)})
	assert.Equal(t, 1, out.Snapshot.Counters.ScrollStalls)
	assert.Equal(t, 5.0, out.Snapshot.FrustrationScore)
}

func TestUpdate_TransitionRecordedOnlyOnChange(t *testing.T) {
	m := newTestMachine()

	for i := 0; i < 4; i++ {
		m.Update(Interaction{Type: EventVisibility, At: t0.Add(time.Duration(i) * time.Second)})
	}
	assert.Empty(t, m.Snapshot().History)

	m.frustrationScore = 65
	out := m.Update(Interaction{Type: EventClick, Target: div(), At: t0.Add(10 * time.Second)})
	require.True(t, out.Transitioned())
	assert.Equal(t, StateHesitation, out.Transition.To)
	assert.InDelta(t, 70.0, out.Transition.FrustrationScore, 1e-9)
	assert.Len(t, m.Snapshot().History, 1)
}

func TestUpdate_Invariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	types := []EventType{EventClick, EventScroll, EventVisibility, EventResize}
	targets := []*signals.Element{nil, div(), {TagName: "button"}}

	for run := 0; run < 50; run++ {
		m := newTestMachine()
		now := t0
		prevScore := 0.0
		prevMax := 0

		for i := 0; i < 200; i++ {
			now = now.Add(time.Duration(rng.Intn(5000)) * time.Millisecond)
			in := Interaction{
				Type:   types[rng.Intn(len(types))],
				Target: targets[rng.Intn(len(targets))],
				At:     now,
				Viewport: &signals.Viewport{
					ScrollTop:      float64(rng.Intn(3000)),
					ScrollHeight:   2800,
					ViewportHeight: 800,
				},
			}
			before := m.State()
			historyLen := len(m.history)

			out := m.Update(in)
			s := out.Snapshot

			require.GreaterOrEqual(t, s.FrustrationScore, 0.0)
			require.LessOrEqual(t, s.FrustrationScore, 100.0)
			require.GreaterOrEqual(t, s.FrustrationScore, prevScore)
			require.GreaterOrEqual(t, s.MaxScrollDepth, prevMax)
			if before != s.State {
				require.Len(t, m.history, historyLen+1)
				require.True(t, out.Transitioned())
			} else {
				require.Len(t, m.history, historyLen)
				require.False(t, out.Transitioned())
			}
			require.NotEqual(t, StateRecovery, s.State)
			require.NotEqual(t, StateBounce, s.State)

			prevScore = s.FrustrationScore
			prevMax = s.MaxScrollDepth
		}
	}
}

func TestNoteFormChange(t *testing.T) {
	m := newTestMachine()

	for i := 0; i < 5; i++ {
		assert.False(t, m.NoteFormChange("signup"))
	}
	assert.True(t, m.NoteFormChange("signup"))
	assert.False(t, m.NoteFormChange("newsletter"), "switching forms resets the count")
	assert.Equal(t, 1, m.Snapshot().Counters.FormChurns)
}

func TestDetectIdle(t *testing.T) {
	m := newTestMachine()
	m.Update(Interaction{Type: EventVisibility, At: t0.Add(time.Second)})

	assert.False(t, m.DetectIdle(t0.Add(5*time.Second)))
	assert.True(t, m.DetectIdle(t0.Add(12*time.Second)))
	assert.Equal(t, 1, m.Snapshot().Counters.IdleSpikes)
	assert.Zero(t, m.FrustrationScore())
}

func TestHistory_Limit(t *testing.T) {
	m := newTestMachine()
	for i := 0; i < 15; i++ {
		m.history = append(m.history, Transition{FrustrationScore: float64(i)})
	}

	last := m.History(10)
	require.Len(t, last, 10)
	assert.Equal(t, 5.0, last[0].FrustrationScore)
	assert.Equal(t, 14.0, last[9].FrustrationScore)

	last[0].FrustrationScore = -1
	assert.Equal(t, 5.0, m.history[5].FrustrationScore, "History returns a copy")
	assert.Len(t, m.History(0), 15)
}

func TestStateValid(t *testing.T) {
	assert.True(t, StateRecovery.Valid())
	assert.True(t, StateConversion.Valid())
	assert.False(t, State("angry").Valid())
}

func TestAnchorOnlyBeforeFirstInteraction(t *testing.T) {
	m := newTestMachine()
	page := t0.Add(-time.Hour)

	require.True(t, m.Anchor(page))
	assert.Equal(t, page, m.Snapshot().StartedAt)
	assert.Equal(t, page, m.Snapshot().LastInteraction)

	m.Update(Interaction{Type: EventResize, At: page.Add(time.Second)})
	assert.False(t, m.Anchor(t0))
	assert.Equal(t, page, m.Snapshot().StartedAt)
}

func TestTrackScrollDepthKeepsMaximum(t *testing.T) {
	m := newTestMachine()
	m.TrackScrollDepth(&signals.Viewport{ScrollTop: 600, ScrollHeight: 2000, ViewportHeight: 1000})
	m.TrackScrollDepth(&signals.Viewport{ScrollTop: 100, ScrollHeight: 2000, ViewportHeight: 1000})

	snap := m.Snapshot()
	assert.Equal(t, 60, snap.MaxScrollDepth)
	assert.Zero(t, snap.InteractionCount)
	assert.Zero(t, snap.FrustrationScore)
}
