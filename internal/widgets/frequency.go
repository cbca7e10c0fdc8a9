package widgets

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidFrequency is returned when a definition names an unknown
// frequency type or a negative limit.
var ErrInvalidFrequency = errors.New("widgets: invalid frequency")

// FrequencyType limits how often one visitor sees a widget.
type FrequencyType string

const (
	FrequencyAlways          FrequencyType = "always"
	FrequencyOnceSession     FrequencyType = "once_session"
	FrequencyOnceDay         FrequencyType = "once_day"
	FrequencyOnceWeek        FrequencyType = "once_week"
	FrequencyMaxViews        FrequencyType = "max_views"
	FrequencyAfterConversion FrequencyType = "after_conversion"
)

// DefaultMaxViews applies to max_views widgets without a frequency_value.
const DefaultMaxViews = 999

const day = 24 * time.Hour

// Impression is what is remembered about one widget for one visitor.
type Impression struct {
	LastShown     time.Time
	LastSessionID string
	Views         int
	Converted     bool
}

// Shown returns imp after a display in sessionID at now.
func (imp Impression) Shown(sessionID string, now time.Time) Impression {
	imp.LastShown = now
	imp.LastSessionID = sessionID
	imp.Views++
	return imp
}

func (w Widget) validateFrequency() error {
	switch w.FrequencyType {
	case "", FrequencyAlways, FrequencyOnceSession, FrequencyOnceDay,
		FrequencyOnceWeek, FrequencyMaxViews, FrequencyAfterConversion:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidFrequency, w.FrequencyType)
	}
	if w.FrequencyValue < 0 {
		return fmt.Errorf("%w: negative frequency_value", ErrInvalidFrequency)
	}
	if w.CooldownDays < 0 {
		return fmt.Errorf("%w: negative cooldown_days", ErrInvalidFrequency)
	}
	return nil
}

// Allowed reports whether the visitor with history imp may see w again in
// sessionID at now. The cooldown applies on top of every frequency type.
func (w Widget) Allowed(imp Impression, sessionID string, now time.Time) bool {
	switch w.FrequencyType {
	case FrequencyOnceSession:
		if imp.Views > 0 && imp.LastSessionID == sessionID {
			return false
		}
	case FrequencyOnceDay:
		if shownWithin(imp, now, day) {
			return false
		}
	case FrequencyOnceWeek:
		if shownWithin(imp, now, 7*day) {
			return false
		}
	case FrequencyMaxViews:
		limit := w.FrequencyValue
		if limit == 0 {
			limit = DefaultMaxViews
		}
		if imp.Views >= limit {
			return false
		}
	case FrequencyAfterConversion:
		if imp.Converted {
			return false
		}
	}
	if w.CooldownDays > 0 && shownWithin(imp, now, time.Duration(w.CooldownDays)*day) {
		return false
	}
	return true
}

func shownWithin(imp Impression, now time.Time, d time.Duration) bool {
	return !imp.LastShown.IsZero() && now.Sub(imp.LastShown) < d
}
