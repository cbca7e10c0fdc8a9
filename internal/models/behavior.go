// Package models holds the JSON wire payloads exchanged with the behaviour
// sink and the GORM models they are stored as.
package models

import (
	"encoding/json"
	"fmt"

	"github.com/ecyb/daynight-tracking/internal/signals"
)

// EventMetadata is the copy of the cumulative counters taken when an event
// was recorded.
type EventMetadata struct {
	RapidClicks      int `json:"rapidClicks"`
	DeadClicks       int `json:"deadClicks"`
	ScrollStalls     int `json:"scrollStalls"`
	FormChurns       int `json:"formChurns"`
	IdleSpikes       int `json:"idleSpikes"`
	BacktrackEvents  int `json:"backtrackEvents"`
	InteractionCount int `json:"interactionCount"`
}

// BehavioralEvent is one interaction enriched with the emotional state it
// produced.
type BehavioralEvent struct {
	EventType        string              `json:"event_type"`
	Timestamp        int64               `json:"timestamp"`
	State            string              `json:"state"`
	Intensity        float64             `json:"intensity"`
	FrustrationScore float64             `json:"frustration_score"`
	ScrollDepth      int                 `json:"scroll_depth"`
	MaxScrollDepth   int                 `json:"max_scroll_depth"`
	Element          *signals.Descriptor `json:"element"`
	PagePath         string              `json:"page_path"`
	SessionID        string              `json:"session_id"`
	ProjectID        string              `json:"project_id"`
	Metadata         EventMetadata       `json:"metadata"`
}

// TransitionRecord is the wire form of a state change.
type TransitionRecord struct {
	Timestamp        int64   `json:"timestamp"`
	FromState        string  `json:"fromState"`
	ToState          string  `json:"toState"`
	Intensity        float64 `json:"intensity"`
	FrustrationScore float64 `json:"frustrationScore"`
}

// EmotionSnapshot is the trailing state sent with every batch.
type EmotionSnapshot struct {
	CurrentState     string             `json:"currentState"`
	Intensity        float64            `json:"intensity"`
	FrustrationScore float64            `json:"frustrationScore"`
	StateHistory     []TransitionRecord `json:"stateHistory"`
}

// FinalEmotionState is the teardown summary of a session.
type FinalEmotionState struct {
	CurrentState      string             `json:"currentState"`
	Intensity         float64            `json:"intensity"`
	FrustrationScore  float64            `json:"frustrationScore"`
	TotalInteractions int                `json:"totalInteractions"`
	RapidClicks       int                `json:"rapidClicks"`
	DeadClicks        int                `json:"deadClicks"`
	ScrollStalls      int                `json:"scrollStalls"`
	FormChurns        int                `json:"formChurns"`
	IdleSpikes        int                `json:"idleSpikes"`
	BacktrackEvents   int                `json:"backtrackEvents"`
	MaxScrollDepth    int                `json:"maxScrollDepth"`
	SessionDuration   int64              `json:"sessionDuration"`
	StateHistory      []TransitionRecord `json:"stateHistory"`
}

// BatchRequest is the body of one behaviour flush.
type BatchRequest struct {
	TrackingID   string            `json:"tracking_id"`
	ProjectID    string            `json:"project_id"`
	SessionID    string            `json:"session_id"`
	Events       []BehavioralEvent `json:"events"`
	EmotionState EmotionSnapshot   `json:"emotion_state"`
}

// FinalStateRequest is the body of the teardown summary.
type FinalStateRequest struct {
	TrackingID        string            `json:"tracking_id"`
	ProjectID         string            `json:"project_id"`
	SessionID         string            `json:"session_id"`
	FinalEmotionState FinalEmotionState `json:"final_emotion_state"`
}

// IngestEnvelope decodes either request shape posted to the behaviour sink.
type IngestEnvelope struct {
	TrackingID        string             `json:"tracking_id"`
	ProjectID         string             `json:"project_id"`
	SessionID         string             `json:"session_id"`
	Events            []BehavioralEvent  `json:"events,omitempty"`
	EmotionState      *EmotionSnapshot   `json:"emotion_state,omitempty"`
	FinalEmotionState *FinalEmotionState `json:"final_emotion_state,omitempty"`
}

// IsFinal reports whether the envelope carries a teardown summary.
func (e *IngestEnvelope) IsFinal() bool {
	return e.FinalEmotionState != nil
}

// Batch returns the envelope as a batch request.
func (e *IngestEnvelope) Batch() BatchRequest {
	req := BatchRequest{
		TrackingID: e.TrackingID,
		ProjectID:  e.ProjectID,
		SessionID:  e.SessionID,
		Events:     e.Events,
	}
	if e.EmotionState != nil {
		req.EmotionState = *e.EmotionState
	}
	return req
}

// Final returns the envelope as a final state request.
func (e *IngestEnvelope) Final() FinalStateRequest {
	return FinalStateRequest{
		TrackingID:        e.TrackingID,
		ProjectID:         e.ProjectID,
		SessionID:         e.SessionID,
		FinalEmotionState: *e.FinalEmotionState,
	}
}

// DecodeIngest parses a sink request body and checks the identifiers.
func DecodeIngest(body []byte) (*IngestEnvelope, error) {
	var env IngestEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode ingest body: %w", err)
	}
	if env.SessionID == "" || env.ProjectID == "" {
		return nil, fmt.Errorf("decode ingest body: session_id and project_id are required")
	}
	if !env.IsFinal() && env.EmotionState == nil {
		return nil, fmt.Errorf("decode ingest body: neither emotion_state nor final_emotion_state present")
	}
	return &env, nil
}
