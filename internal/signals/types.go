// Package signals implements the frustration signal detectors that turn raw
// interaction timing and element context into boolean signals.
package signals

import (
	"strings"
	"time"
	"unicode/utf8"
)

// maxElementText bounds the element text carried into behavioural records.
const maxElementText = 100

// Element is a detached description of the DOM element an interaction hit.
// A nil *Element means the interaction had no element context (scroll ticks,
// throttled pointer moves).
type Element struct {
	TagName         string `json:"tagName"`
	ID              string `json:"id,omitempty"`
	ClassName       string `json:"className,omitempty"`
	Text            string `json:"text,omitempty"`
	Role            string `json:"role,omitempty"`
	HasClickHandler bool   `json:"hasClickHandler,omitempty"`
	FormID          string `json:"formId,omitempty"`
}

// Classes splits ClassName into its individual class tokens.
func (e *Element) Classes() []string {
	if e == nil {
		return nil
	}
	return strings.Fields(e.ClassName)
}

// Descriptor is the wire form of an element attached to behavioural events.
type Descriptor struct {
	TagName   string `json:"tagName"`
	ClassName string `json:"className"`
	ID        string `json:"id"`
	Text      string `json:"text"`
}

// Descriptor returns the wire descriptor, or nil when there is no element.
func (e *Element) Descriptor() *Descriptor {
	if e == nil {
		return nil
	}
	return &Descriptor{
		TagName:   strings.ToUpper(e.TagName),
		ClassName: e.ClassName,
		ID:        e.ID,
		Text:      truncateRunes(e.Text, maxElementText),
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// Viewport carries the scroll geometry sampled with a scroll event.
type Viewport struct {
	ScrollTop      float64 `json:"scrollTop"`
	ScrollHeight   float64 `json:"scrollHeight"`
	ViewportHeight float64 `json:"viewportHeight"`
}

// Counters are cumulative, diagnostic-only signal counts for a session.
type Counters struct {
	RapidClicks     int `json:"rapidClicks"`
	DeadClicks      int `json:"deadClicks"`
	ScrollStalls    int `json:"scrollStalls"`
	FormChurns      int `json:"formChurns"`
	IdleSpikes      int `json:"idleSpikes"`
	BacktrackEvents int `json:"backtrackEvents"`
}

// Cursors hold the timing and scroll positions detectors compute deltas from.
type Cursors struct {
	LastInteraction  time.Time
	LastClick        time.Time
	LastScroll       time.Time
	ScrollDepth      int
	MaxScrollDepth   int
	FormFieldChanges int
	ActiveForm       string
}

// NewCursors returns cursors anchored at the session start. The click cursor
// stays zero so the first click of a session is never a rage click; the
// scroll cursor stays zero so the first scroll always counts as a stall.
func NewCursors(start time.Time) Cursors {
	return Cursors{
		LastInteraction: start,
	}
}
