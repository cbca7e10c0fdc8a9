package models

import (
	"slices"
	"time"
)

// Widget interaction types reported by the page.
const (
	InteractionView     = "view"
	InteractionExpand   = "expand"
	InteractionClick    = "click"
	InteractionSubmit   = "submit"
	InteractionClose    = "close"
	InteractionCTAClick = "cta_click"
)

var interactionTypes = []string{
	InteractionView, InteractionExpand, InteractionClick,
	InteractionSubmit, InteractionClose, InteractionCTAClick,
}

// IsInteractionType reports whether t is a known widget interaction.
func IsInteractionType(t string) bool {
	return slices.Contains(interactionTypes, t)
}

// ConvertsVisitor reports whether an interaction of type t counts as a
// conversion for after_conversion widgets.
func ConvertsVisitor(t string) bool {
	return t == InteractionClick || t == InteractionSubmit
}

// WidgetInteractionRequest is posted by the page when a visitor acts on a
// widget.
type WidgetInteractionRequest struct {
	SessionID       string         `json:"session_id,omitempty"`
	VisitorID       string         `json:"visitor_id,omitempty"`
	WidgetID        string         `json:"widget_id" binding:"required"`
	InteractionType string         `json:"interaction_type" binding:"required"`
	PagePath        string         `json:"page_path"`
	InteractionData map[string]any `json:"interaction_data,omitempty"`
}

// Visitor counts the visits of one visitor to a project.
type Visitor struct {
	ProjectID string `gorm:"primaryKey;size:128"`
	VisitorID string `gorm:"primaryKey;size:128"`
	Visits    int
	FirstSeen time.Time
	LastSeen  time.Time
}

// WidgetImpression is the display history of one widget for one visitor.
type WidgetImpression struct {
	ProjectID     string `gorm:"primaryKey;size:128"`
	VisitorID     string `gorm:"primaryKey;size:128"`
	WidgetID      string `gorm:"primaryKey;size:128"`
	LastShown     time.Time
	LastSessionID string `gorm:"size:128"`
	Views         int
	Converted     bool
	UpdatedAt     time.Time
}

// WidgetInteraction is one reported widget interaction.
type WidgetInteraction struct {
	ID              uint   `gorm:"primaryKey"`
	ProjectID       string `gorm:"size:128;index:idx_widget_interactions_project"`
	WidgetID        string `gorm:"size:128;index:idx_widget_interactions_project"`
	VisitorID       string `gorm:"size:128"`
	SessionID       string `gorm:"size:128;index"`
	InteractionType string `gorm:"size:32"`
	PagePath        string
	Data            string
	OccurredAt      time.Time
}
