package models

import (
	"time"
)

// BehaviorBatch is one flush received by the ingest sink.
type BehaviorBatch struct {
	ID               string `gorm:"primaryKey;size:36"`
	TrackingID       string `gorm:"size:128"`
	ProjectID        string `gorm:"size:128;index"`
	SessionID        string `gorm:"size:128;index"`
	EventCount       int
	CurrentState     string `gorm:"size:32"`
	Intensity        float64
	FrustrationScore float64
	ReceivedAt       time.Time
}

// StoredEvent is a behavioural event as persisted by the sink.
type StoredEvent struct {
	ID               uint   `gorm:"primaryKey"`
	BatchID          string `gorm:"size:36;index"`
	ProjectID        string `gorm:"size:128"`
	SessionID        string `gorm:"size:128"`
	EventType        string `gorm:"size:32"`
	State            string `gorm:"size:32"`
	Intensity        float64
	FrustrationScore float64
	ScrollDepth      int
	MaxScrollDepth   int
	PagePath         string
	ElementTag       string `gorm:"size:32"`
	ElementID        string
	ElementClass     string
	ElementText      string
	RapidClicks      int
	DeadClicks       int
	ScrollStalls     int
	FormChurns       int
	IdleSpikes       int
	BacktrackEvents  int
	InteractionCount int
	OccurredAt       time.Time
}

// StoredTransition is one state change, deduplicated per session and time.
type StoredTransition struct {
	ID               uint      `gorm:"primaryKey"`
	SessionID        string    `gorm:"size:128;uniqueIndex:idx_transition_key"`
	OccurredAt       time.Time `gorm:"uniqueIndex:idx_transition_key"`
	ToState          string    `gorm:"size:32;uniqueIndex:idx_transition_key"`
	FromState        string    `gorm:"size:32"`
	ProjectID        string    `gorm:"size:128"`
	Intensity        float64
	FrustrationScore float64
}

// SessionSummary is the teardown summary of a session.
type SessionSummary struct {
	SessionID         string `gorm:"primaryKey;size:128"`
	TrackingID        string `gorm:"size:128"`
	ProjectID         string `gorm:"size:128;index"`
	FinalState        string `gorm:"size:32"`
	Intensity         float64
	FrustrationScore  float64
	TotalInteractions int
	RapidClicks       int
	DeadClicks        int
	ScrollStalls      int
	FormChurns        int
	IdleSpikes        int
	BacktrackEvents   int
	MaxScrollDepth    int
	SessionDuration   time.Duration
	TransitionCount   int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewStoredEvent flattens a wire event for storage.
func NewStoredEvent(batchID string, ev BehavioralEvent) StoredEvent {
	se := StoredEvent{
		BatchID:          batchID,
		ProjectID:        ev.ProjectID,
		SessionID:        ev.SessionID,
		EventType:        ev.EventType,
		State:            ev.State,
		Intensity:        ev.Intensity,
		FrustrationScore: ev.FrustrationScore,
		ScrollDepth:      ev.ScrollDepth,
		MaxScrollDepth:   ev.MaxScrollDepth,
		PagePath:         ev.PagePath,
		RapidClicks:      ev.Metadata.RapidClicks,
		DeadClicks:       ev.Metadata.DeadClicks,
		ScrollStalls:     ev.Metadata.ScrollStalls,
		FormChurns:       ev.Metadata.FormChurns,
		IdleSpikes:       ev.Metadata.IdleSpikes,
		BacktrackEvents:  ev.Metadata.BacktrackEvents,
		InteractionCount: ev.Metadata.InteractionCount,
		OccurredAt:       time.UnixMilli(ev.Timestamp).UTC(),
	}
	if ev.Element != nil {
		se.ElementTag = ev.Element.TagName
		se.ElementID = ev.Element.ID
		se.ElementClass = ev.Element.ClassName
		se.ElementText = ev.Element.Text
	}
	return se
}

// NewStoredTransition converts a wire transition for storage.
func NewStoredTransition(projectID, sessionID string, tr TransitionRecord) StoredTransition {
	return StoredTransition{
		SessionID:        sessionID,
		ProjectID:        projectID,
		OccurredAt:       time.UnixMilli(tr.Timestamp).UTC(),
		FromState:        tr.FromState,
		ToState:          tr.ToState,
		Intensity:        tr.Intensity,
		FrustrationScore: tr.FrustrationScore,
	}
}
