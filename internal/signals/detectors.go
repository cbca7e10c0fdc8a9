package signals

import (
	"math"
	"slices"
	"strings"
	"time"
)

// Default detector thresholds.
const (
	DefaultRageClickWindow  = 1000 * time.Millisecond
	DefaultScrollStallAfter = 3000 * time.Millisecond
	DefaultIdleAfter        = 10000 * time.Millisecond
	DefaultBacktrackDepth   = 20
	DefaultFormChurnLimit   = 5
)

// interactiveTags are elements that respond to clicks without extra wiring.
var interactiveTags = map[string]bool{
	"A":      true,
	"BUTTON": true,
	"INPUT":  true,
	"SELECT": true,
}

// Thresholds configures the detectors.
type Thresholds struct {
	RageClickWindow  time.Duration
	ScrollStallAfter time.Duration
	IdleAfter        time.Duration
	BacktrackDepth   int
	FormChurnLimit   int
	ClickableClasses []string
}

// DefaultThresholds returns the stock detector configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RageClickWindow:  DefaultRageClickWindow,
		ScrollStallAfter: DefaultScrollStallAfter,
		IdleAfter:        DefaultIdleAfter,
		BacktrackDepth:   DefaultBacktrackDepth,
		FormChurnLimit:   DefaultFormChurnLimit,
		ClickableClasses: []string{"clickable", "btn"},
	}
}

// Detectors evaluates signals against a fixed set of thresholds.
type Detectors struct {
	th Thresholds
}

// New creates detectors. Zero-valued thresholds fall back to the defaults.
func New(th Thresholds) Detectors {
	def := DefaultThresholds()
	if th.RageClickWindow <= 0 {
		th.RageClickWindow = def.RageClickWindow
	}
	if th.ScrollStallAfter <= 0 {
		th.ScrollStallAfter = def.ScrollStallAfter
	}
	if th.IdleAfter <= 0 {
		th.IdleAfter = def.IdleAfter
	}
	if th.BacktrackDepth <= 0 {
		th.BacktrackDepth = def.BacktrackDepth
	}
	if th.FormChurnLimit <= 0 {
		th.FormChurnLimit = def.FormChurnLimit
	}
	if th.ClickableClasses == nil {
		th.ClickableClasses = def.ClickableClasses
	}
	return Detectors{th: th}
}

// Thresholds returns the effective thresholds.
func (d Detectors) Thresholds() Thresholds {
	return d.th
}

// RageClick fires when this click lands within the rage window of the previous
// one. The click cursor is advanced whether or not the signal fires.
func (d Detectors) RageClick(now time.Time, cur *Cursors, cnt *Counters) bool {
	fired := !cur.LastClick.IsZero() && now.Sub(cur.LastClick) < d.th.RageClickWindow
	cur.LastClick = now
	if fired {
		cnt.RapidClicks++
	}
	return fired
}

// DeadClick fires when a click hits an element that does not look clickable.
func (d Detectors) DeadClick(el *Element, cnt *Counters) bool {
	if el == nil {
		return false
	}
	if d.isInteractive(el) {
		return false
	}
	cnt.DeadClicks++
	return true
}

func (d Detectors) isInteractive(el *Element) bool {
	if interactiveTags[strings.ToUpper(el.TagName)] {
		return true
	}
	if el.HasClickHandler || strings.EqualFold(el.Role, "button") {
		return true
	}
	for _, class := range el.Classes() {
		if slices.Contains(d.th.ClickableClasses, class) {
			return true
		}
	}
	return false
}

// ScrollStall fires when the page sat unscrolled for longer than the stall
// window before this scroll. A page that was never scrolled has stalled.
func (d Detectors) ScrollStall(now time.Time, cur *Cursors, cnt *Counters) bool {
	if cur.LastScroll.IsZero() || now.Sub(cur.LastScroll) > d.th.ScrollStallAfter {
		cnt.ScrollStalls++
		return true
	}
	return false
}

// Backtrack fires when the user scrolled back up by more than the backtrack
// depth, in percentage points.
func (d Detectors) Backtrack(prevDepth, depth int, cnt *Counters) bool {
	if depth < prevDepth-d.th.BacktrackDepth {
		cnt.BacktrackEvents++
		return true
	}
	return false
}

// FormChurn fires once the active form has seen too many field changes.
func (d Detectors) FormChurn(cur *Cursors, cnt *Counters) bool {
	if cur.FormFieldChanges > d.th.FormChurnLimit {
		cnt.FormChurns++
		return true
	}
	return false
}

// IdleSpike fires when more than the idle window passed since the last
// interaction.
func (d Detectors) IdleSpike(now time.Time, cur *Cursors, cnt *Counters) bool {
	if now.Sub(cur.LastInteraction) > d.th.IdleAfter {
		cnt.IdleSpikes++
		return true
	}
	return false
}

// ScrollDepth converts viewport geometry into a 0-100 scroll percentage.
func ScrollDepth(vp *Viewport) int {
	if vp == nil {
		return 0
	}
	scrollable := vp.ScrollHeight - vp.ViewportHeight
	if scrollable <= 0 {
		return 0
	}
	depth := int(math.Round(vp.ScrollTop / scrollable * 100))
	if depth < 0 {
		return 0
	}
	if depth > 100 {
		return 100
	}
	return depth
}
