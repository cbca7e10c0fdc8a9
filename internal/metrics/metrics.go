package metrics

import (
	"github.com/ecyb/daynight-tracking/internal/models"
)

type MetricResult struct {
	Value      float64 `json:"value"`
	Calculated bool    `json:"calculated"`
	SampleSize int     `json:"sampleSize,omitempty"`
}

// Metric keys.
const (
	RageClickRate         = "rage_click_rate"
	DeadClickRate         = "dead_click_rate"
	AverageFrustration    = "average_frustration"
	PeakFrustration       = "peak_frustration"
	ScrollReach           = "scroll_reach"
	TimeToFirstTransition = "time_to_first_transition"
)

// clickLike are the event types the click detectors run on.
var clickLike = map[string]bool{
	"click":     true,
	"input":     true,
	"mousemove": true,
}

// CalculateSessionMetrics derives the session report from stored events
// (ordered by time) and transitions. Metrics without enough data come back
// with Calculated false.
func CalculateSessionMetrics(events []models.StoredEvent, transitions []models.StoredTransition) map[string]MetricResult {
	return map[string]MetricResult{
		RageClickRate:         calculateClickRate(events, func(e models.StoredEvent) int { return e.RapidClicks }),
		DeadClickRate:         calculateClickRate(events, func(e models.StoredEvent) int { return e.DeadClicks }),
		AverageFrustration:    calculateAverageFrustration(events),
		PeakFrustration:       calculatePeakFrustration(events),
		ScrollReach:           calculateScrollReach(events),
		TimeToFirstTransition: calculateTimeToFirstTransition(events, transitions),
	}
}

// calculateClickRate divides a cumulative counter, read from the last event,
// by the number of click-like events.
func calculateClickRate(events []models.StoredEvent, counter func(models.StoredEvent) int) MetricResult {
	clicks := 0
	for _, e := range events {
		if clickLike[e.EventType] {
			clicks++
		}
	}
	if clicks == 0 {
		return MetricResult{}
	}

	// Counters only grow, so the largest value is the session total even if
	// events arrived out of order.
	total := 0
	for _, e := range events {
		total = max(total, counter(e))
	}
	return MetricResult{
		Value:      float64(total) / float64(clicks),
		Calculated: true,
		SampleSize: clicks,
	}
}

func calculateAverageFrustration(events []models.StoredEvent) MetricResult {
	if len(events) == 0 {
		return MetricResult{}
	}
	sum := 0.0
	for _, e := range events {
		sum += e.FrustrationScore
	}
	return MetricResult{
		Value:      sum / float64(len(events)),
		Calculated: true,
		SampleSize: len(events),
	}
}

func calculatePeakFrustration(events []models.StoredEvent) MetricResult {
	if len(events) == 0 {
		return MetricResult{}
	}
	peak := 0.0
	for _, e := range events {
		peak = max(peak, e.FrustrationScore)
	}
	return MetricResult{Value: peak, Calculated: true, SampleSize: len(events)}
}

func calculateScrollReach(events []models.StoredEvent) MetricResult {
	reach, scrolls := 0, 0
	for _, e := range events {
		if e.EventType == "scroll" {
			scrolls++
		}
		reach = max(reach, e.MaxScrollDepth)
	}
	if scrolls == 0 {
		return MetricResult{}
	}
	return MetricResult{Value: float64(reach), Calculated: true, SampleSize: scrolls}
}

// calculateTimeToFirstTransition is the number of seconds between the first
// stored event and the first state change.
func calculateTimeToFirstTransition(events []models.StoredEvent, transitions []models.StoredTransition) MetricResult {
	if len(events) == 0 || len(transitions) == 0 {
		return MetricResult{}
	}
	first := events[0].OccurredAt
	for _, e := range events[1:] {
		if e.OccurredAt.Before(first) {
			first = e.OccurredAt
		}
	}
	firstTransition := transitions[0].OccurredAt
	for _, tr := range transitions[1:] {
		if tr.OccurredAt.Before(firstTransition) {
			firstTransition = tr.OccurredAt
		}
	}
	elapsed := firstTransition.Sub(first).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return MetricResult{Value: elapsed, Calculated: true, SampleSize: len(transitions)}
}
