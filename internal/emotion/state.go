// Package emotion implements the per-session emotional state machine that
// accumulates a frustration score from detector signals and classifies it.
package emotion

import (
	"time"

	"github.com/ecyb/daynight-tracking/internal/signals"
)

// State is the discrete emotional classification of a session.
type State string

const (
	StateNeutral     State = "neutral"
	StateHesitation  State = "hesitation"
	StateFrustration State = "frustration"
	StateConversion  State = "conversion"

	// Reserved vocabulary. classify never produces these.
	StateRecovery State = "recovery"
	StateBounce   State = "bounce"
)

// Valid reports whether s is part of the state vocabulary.
func (s State) Valid() bool {
	switch s {
	case StateNeutral, StateHesitation, StateFrustration, StateConversion, StateRecovery, StateBounce:
		return true
	}
	return false
}

// EventType is the kind of interaction fed into the machine.
type EventType string

const (
	EventClick      EventType = "click"
	EventScroll     EventType = "scroll"
	EventInput      EventType = "input"
	EventMouseMove  EventType = "mousemove"
	EventVisibility EventType = "visibility"
	EventResize     EventType = "resize"
	EventExitIntent EventType = "exit_intent"
)

// Interaction is one processed UI event.
type Interaction struct {
	Type     EventType
	Target   *signals.Element
	Viewport *signals.Viewport
	At       time.Time
}

// Transition records a change of classified state.
type Transition struct {
	At               time.Time
	From             State
	To               State
	Intensity        float64
	FrustrationScore float64
}

// Snapshot is a point-in-time copy of the machine.
type Snapshot struct {
	State            State
	Intensity        float64
	FrustrationScore float64
	InteractionCount int
	ScrollDepth      int
	MaxScrollDepth   int
	Counters         signals.Counters
	StartedAt        time.Time
	LastInteraction  time.Time
	History          []Transition
}

// Outcome is the result of a single Update.
type Outcome struct {
	Snapshot   Snapshot
	Transition *Transition
	Fired      int
	Applicable int
}

// Transitioned reports whether the update changed the classified state.
func (o Outcome) Transitioned() bool {
	return o.Transition != nil
}
