package signals

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2025, 10, 24, 12, 0, 0, 0, time.UTC)

func TestRageClick(t *testing.T) {
	d := New(DefaultThresholds())

	t.Run("first click never fires", func(t *testing.T) {
		cur := NewCursors(t0)
		var cnt Counters

		assert.False(t, d.RageClick(t0, &cur, &cnt))
		assert.Equal(t, t0, cur.LastClick)
		assert.Zero(t, cnt.RapidClicks)
	})

	t.Run("second click inside window fires", func(t *testing.T) {
		cur := NewCursors(t0)
		var cnt Counters
		d.RageClick(t0, &cur, &cnt)

		assert.True(t, d.RageClick(t0.Add(500*time.Millisecond), &cur, &cnt))
		assert.Equal(t, 1, cnt.RapidClicks)
	})

	t.Run("cursor advances even when not firing", func(t *testing.T) {
		cur := NewCursors(t0)
		var cnt Counters
		d.RageClick(t0, &cur, &cnt)

		later := t0.Add(5 * time.Second)
		assert.False(t, d.RageClick(later, &cur, &cnt))
		assert.Equal(t, later, cur.LastClick)
	})

	t.Run("window is exclusive", func(t *testing.T) {
		cur := NewCursors(t0)
		var cnt Counters
		d.RageClick(t0, &cur, &cnt)

		assert.False(t, d.RageClick(t0.Add(time.Second), &cur, &cnt))
	})
}

func TestDeadClick(t *testing.T) {
	d := New(DefaultThresholds())

	tests := []struct {
		name string
		el   *Element
		want bool
	}{
		{"nil target", nil, false},
		{"plain div", &Element{TagName: "div"}, true},
		{"anchor", &Element{TagName: "a"}, false},
		{"button upper case", &Element{TagName: "BUTTON"}, false},
		{"input", &Element{TagName: "input"}, false},
		{"select", &Element{TagName: "select"}, false},
		{"onclick handler", &Element{TagName: "span", HasClickHandler: true}, false},
		{"role button", &Element{TagName: "div", Role: "button"}, false},
		{"clickable class", &Element{TagName: "div", ClassName: "card clickable"}, false},
		{"btn class", &Element{TagName: "div", ClassName: "btn primary"}, false},
		{"unrelated class", &Element{TagName: "div", ClassName: "btn-group"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cnt Counters
			got := d.DeadClick(tt.el, &cnt)
			assert.Equal(t, tt.want, got)
			if tt.want {
				assert.Equal(t, 1, cnt.DeadClicks)
			} else {
				assert.Zero(t, cnt.DeadClicks)
			}
		})
	}
}

func TestDeadClick_CustomClickableClasses(t *testing.T) {
	th := DefaultThresholds()
	th.ClickableClasses = []string{"tile"}
	d := New(th)
	var cnt Counters

	assert.False(t, d.DeadClick(&Element{TagName: "div", ClassName: "tile"}, &cnt))
	assert.True(t, d.DeadClick(&Element{TagName: "div", ClassName: "clickable"}, &cnt))
}

func TestScrollStall(t *testing.T) {
	d := New(DefaultThresholds())
	cur := NewCursors(t0)
	cur.LastScroll = t0
	var cnt Counters

	assert.False(t, d.ScrollStall(t0.Add(3*time.Second), &cur, &cnt))
	assert.True(t, d.ScrollStall(t0.Add(3*time.Second+time.Millisecond), &cur, &cnt))
	assert.Equal(t, 1, cnt.ScrollStalls)
}

func TestFirstScrollIsAStall(t *testing.T) {
	d := New(DefaultThresholds())
	cur := NewCursors(t0)
	var cnt Counters

	assert.True(t, cur.LastScroll.IsZero())
	assert.True(t, d.ScrollStall(t0.Add(500*time.Millisecond), &cur, &cnt))
	assert.Equal(t, 1, cnt.ScrollStalls)
}

func TestBacktrack(t *testing.T) {
	d := New(DefaultThresholds())
	var cnt Counters

	assert.False(t, d.Backtrack(50, 30, &cnt), "exactly 20 points is not a backtrack")
	assert.True(t, d.Backtrack(50, 29, &cnt))
	assert.False(t, d.Backtrack(10, 60, &cnt))
	assert.Equal(t, 1, cnt.BacktrackEvents)
}

func TestFormChurn(t *testing.T) {
	d := New(DefaultThresholds())
	var cnt Counters
	cur := NewCursors(t0)

	cur.FormFieldChanges = 5
	assert.False(t, d.FormChurn(&cur, &cnt))
	cur.FormFieldChanges = 6
	assert.True(t, d.FormChurn(&cur, &cnt))
	assert.Equal(t, 1, cnt.FormChurns)
}

func TestIdleSpike(t *testing.T) {
	d := New(DefaultThresholds())
	var cnt Counters
	cur := NewCursors(t0)

	assert.False(t, d.IdleSpike(t0.Add(10*time.Second), &cur, &cnt))
	assert.True(t, d.IdleSpike(t0.Add(11*time.Second), &cur, &cnt))
	assert.Equal(t, 1, cnt.IdleSpikes)
}

func TestScrollDepth(t *testing.T) {
	tests := []struct {
		name string
		vp   *Viewport
		want int
	}{
		{"nil viewport", nil, 0},
		{"not scrollable", &Viewport{ScrollTop: 0, ScrollHeight: 800, ViewportHeight: 800}, 0},
		{"negative scrollable", &Viewport{ScrollTop: 10, ScrollHeight: 400, ViewportHeight: 800}, 0},
		{"top", &Viewport{ScrollTop: 0, ScrollHeight: 2800, ViewportHeight: 800}, 0},
		{"halfway", &Viewport{ScrollTop: 1000, ScrollHeight: 2800, ViewportHeight: 800}, 50},
		{"rounds", &Viewport{ScrollTop: 333, ScrollHeight: 1800, ViewportHeight: 800}, 33},
		{"overscroll clamps", &Viewport{ScrollTop: 2500, ScrollHeight: 2800, ViewportHeight: 800}, 100},
		{"negative top clamps", &Viewport{ScrollTop: -50, ScrollHeight: 2800, ViewportHeight: 800}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScrollDepth(tt.vp))
		})
	}
}

func TestNew_FillsZeroThresholds(t *testing.T) {
	d := New(Thresholds{IdleAfter: 2 * time.Second})
	th := d.Thresholds()

	assert.Equal(t, 2*time.Second, th.IdleAfter)
	assert.Equal(t, DefaultRageClickWindow, th.RageClickWindow)
	assert.Equal(t, DefaultBacktrackDepth, th.BacktrackDepth)
	assert.Equal(t, []string{"clickable", "btn"}, th.ClickableClasses)
}

func TestElementDescriptor(t *testing.T) {
	var nilEl *Element
	assert.Nil(t, nilEl.Descriptor())

	el := &Element{TagName: "div", ID: "hero", ClassName: "a b", Text: strings.Repeat("é", 150)}
	desc := el.Descriptor()
	assert.Equal(t, "DIV", desc.TagName)
	assert.Equal(t, "hero", desc.ID)
	assert.Equal(t, 100, len([]rune(desc.Text)))
}
