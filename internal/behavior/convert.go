package behavior

import (
	"time"

	"github.com/ecyb/daynight-tracking/internal/emotion"
	"github.com/ecyb/daynight-tracking/internal/models"
)

// ToWireHistory converts transitions to their wire form.
func ToWireHistory(history []emotion.Transition) []models.TransitionRecord {
	out := make([]models.TransitionRecord, 0, len(history))
	for _, tr := range history {
		out = append(out, models.TransitionRecord{
			Timestamp:        tr.At.UnixMilli(),
			FromState:        string(tr.From),
			ToState:          string(tr.To),
			Intensity:        tr.Intensity,
			FrustrationScore: tr.FrustrationScore,
		})
	}
	return out
}

// ToWireSnapshot builds the trailing emotion state of a batch. history should
// already be bounded by the caller.
func ToWireSnapshot(s emotion.Snapshot, history []emotion.Transition) models.EmotionSnapshot {
	return models.EmotionSnapshot{
		CurrentState:     string(s.State),
		Intensity:        s.Intensity,
		FrustrationScore: s.FrustrationScore,
		StateHistory:     ToWireHistory(history),
	}
}

// ToFinalState builds the teardown summary from a full snapshot.
func ToFinalState(s emotion.Snapshot, now time.Time) models.FinalEmotionState {
	return models.FinalEmotionState{
		CurrentState:      string(s.State),
		Intensity:         s.Intensity,
		FrustrationScore:  s.FrustrationScore,
		TotalInteractions: s.InteractionCount,
		RapidClicks:       s.Counters.RapidClicks,
		DeadClicks:        s.Counters.DeadClicks,
		ScrollStalls:      s.Counters.ScrollStalls,
		FormChurns:        s.Counters.FormChurns,
		IdleSpikes:        s.Counters.IdleSpikes,
		BacktrackEvents:   s.Counters.BacktrackEvents,
		MaxScrollDepth:    s.MaxScrollDepth,
		SessionDuration:   now.Sub(s.StartedAt).Milliseconds(),
		StateHistory:      ToWireHistory(s.History),
	}
}
