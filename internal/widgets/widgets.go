// Package widgets decides which conversion widget a session is eligible for.
package widgets

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidTrigger is returned when a definition names an unknown trigger
// type or carries an unusable config.
var ErrInvalidTrigger = errors.New("widgets: invalid trigger")

// TriggerType names a display condition.
type TriggerType string

const (
	TriggerTimeOnPage       TriggerType = "time_on_page"
	TriggerScrollDepth      TriggerType = "scroll_depth"
	TriggerExitIntent       TriggerType = "exit_intent"
	TriggerEmotionState     TriggerType = "emotion_state"
	TriggerFrustrationScore TriggerType = "frustration_score"
	TriggerVisitCount       TriggerType = "visit_count"
)

// TriggerConfig holds the parameters of every trigger type; each type reads
// only its own field.
type TriggerConfig struct {
	Seconds    int      `yaml:"seconds,omitempty"`
	Percentage int      `yaml:"percentage,omitempty"`
	States     []string `yaml:"states,omitempty"`
	Min        float64  `yaml:"min,omitempty"`
	Count      int      `yaml:"count,omitempty"`
}

// Trigger is one display condition of a widget.
type Trigger struct {
	Type   TriggerType   `yaml:"type"`
	Config TriggerConfig `yaml:"config"`
}

// Widget matches the YAML structure of a widget definition.
type Widget struct {
	ID             string        `yaml:"id"`
	Name           string        `yaml:"name"`
	Priority       int           `yaml:"priority"`
	Triggers       []Trigger     `yaml:"triggers"`
	FrequencyType  FrequencyType `yaml:"frequency_type"`
	FrequencyValue int           `yaml:"frequency_value"`
	CooldownDays   int           `yaml:"cooldown_days"`
}

// Definitions is the root of the widgets file.
type Definitions struct {
	Widgets []Widget `yaml:"widgets"`
}

// View is what the evaluator knows about a session.
type View struct {
	TimeOnPage       time.Duration
	MaxScrollDepth   int
	ExitIntent       bool
	State            string
	FrustrationScore float64
	VisitCount       int

	// SessionID, Now and Impressions feed the frequency rules. A widget
	// missing from Impressions has never been shown to the visitor.
	SessionID   string
	Now         time.Time
	Impressions map[string]Impression
}

// Load reads and validates a widgets file.
func Load(path string) ([]Widget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read widgets file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates widget definitions.
func Parse(data []byte) ([]Widget, error) {
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal widgets YAML: %w", err)
	}
	seen := make(map[string]bool, len(defs.Widgets))
	for _, w := range defs.Widgets {
		if w.ID == "" {
			return nil, errors.New("widgets: definition without id")
		}
		if seen[w.ID] {
			return nil, fmt.Errorf("widgets: duplicate id %q", w.ID)
		}
		seen[w.ID] = true
		if err := w.Validate(); err != nil {
			return nil, err
		}
	}
	return defs.Widgets, nil
}

// Validate checks the frequency settings and every trigger of w.
func (w Widget) Validate() error {
	if err := w.validateFrequency(); err != nil {
		return fmt.Errorf("widget %q: %w", w.ID, err)
	}
	for i, t := range w.Triggers {
		if err := t.validate(); err != nil {
			return fmt.Errorf("widget %q trigger %d: %w", w.ID, i, err)
		}
	}
	return nil
}

func (t Trigger) validate() error {
	switch t.Type {
	case TriggerTimeOnPage:
		if t.Config.Seconds < 0 {
			return fmt.Errorf("%w: negative seconds", ErrInvalidTrigger)
		}
	case TriggerScrollDepth:
		if t.Config.Percentage < 0 || t.Config.Percentage > 100 {
			return fmt.Errorf("%w: percentage %d out of range", ErrInvalidTrigger, t.Config.Percentage)
		}
	case TriggerEmotionState:
		if len(t.Config.States) == 0 {
			return fmt.Errorf("%w: emotion_state needs states", ErrInvalidTrigger)
		}
	case TriggerVisitCount:
		if t.Config.Count < 0 {
			return fmt.Errorf("%w: negative count", ErrInvalidTrigger)
		}
	case TriggerExitIntent, TriggerFrustrationScore:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTrigger, t.Type)
	}
	return nil
}

// Eligible reports whether every trigger holds for v. A widget without
// triggers is always eligible.
func (w Widget) Eligible(v View) bool {
	for _, t := range w.Triggers {
		if !t.holds(v) {
			return false
		}
	}
	return true
}

func (t Trigger) holds(v View) bool {
	switch t.Type {
	case TriggerTimeOnPage:
		return v.TimeOnPage >= time.Duration(t.Config.Seconds)*time.Second
	case TriggerScrollDepth:
		return v.MaxScrollDepth >= t.Config.Percentage
	case TriggerExitIntent:
		return v.ExitIntent
	case TriggerEmotionState:
		return slices.Contains(t.Config.States, v.State)
	case TriggerFrustrationScore:
		return v.FrustrationScore >= t.Config.Min
	case TriggerVisitCount:
		return v.VisitCount >= max(t.Config.Count, 1)
	}
	return false
}

// Evaluator picks widgets in priority order.
type Evaluator struct {
	widgets []Widget
}

// NewEvaluator orders ws by descending priority; ties keep file order.
func NewEvaluator(ws []Widget) *Evaluator {
	sorted := slices.Clone(ws)
	slices.SortStableFunc(sorted, func(a, b Widget) int {
		return b.Priority - a.Priority
	})
	return &Evaluator{widgets: sorted}
}

// Next returns the highest priority eligible widget whose id is not in shown
// and whose frequency rules let the visitor see it again.
func (e *Evaluator) Next(v View, shown map[string]bool) (Widget, bool) {
	if e == nil {
		return Widget{}, false
	}
	for _, w := range e.widgets {
		if shown[w.ID] {
			continue
		}
		if !w.Allowed(v.Impressions[w.ID], v.SessionID, v.Now) {
			continue
		}
		if w.Eligible(v) {
			return w, true
		}
	}
	return Widget{}, false
}

// Len returns the number of loaded widgets.
func (e *Evaluator) Len() int {
	if e == nil {
		return 0
	}
	return len(e.widgets)
}
