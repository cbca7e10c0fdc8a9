package models

import (
	"time"

	"github.com/ecyb/daynight-tracking/internal/signals"
)

// RawEvent is an interaction as captured in the page, before inference.
type RawEvent struct {
	Type      string            `json:"type"`
	Timestamp int64             `json:"timestamp"`
	Target    *signals.Element  `json:"target,omitempty"`
	Viewport  *signals.Viewport `json:"viewport,omitempty"`
	PagePath  string            `json:"page_path,omitempty"`
}

// Time converts the millisecond timestamp, falling back to fallback when the
// page did not send one.
func (e RawEvent) Time(fallback time.Time) time.Time {
	if e.Timestamp <= 0 {
		return fallback
	}
	return time.UnixMilli(e.Timestamp)
}

// CollectRequest is a batch of raw interactions posted by the page script.
type CollectRequest struct {
	SessionID string     `json:"session_id,omitempty"`
	VisitorID string     `json:"visitor_id,omitempty"`
	PagePath  string     `json:"page_path"`
	Events    []RawEvent `json:"events" binding:"required"`
}

// CollectResponse tells the page what the engine currently thinks.
type CollectResponse struct {
	SessionID        string  `json:"session_id"`
	State            string  `json:"state"`
	Intensity        float64 `json:"intensity"`
	FrustrationScore float64 `json:"frustration_score"`
	Widget           *Widget `json:"widget,omitempty"`
}

// Widget is the minimal widget reference returned to the page for rendering.
type Widget struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
