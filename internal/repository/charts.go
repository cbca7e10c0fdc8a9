package repository

import (
	"context"
	"time"

	"github.com/ecyb/daynight-tracking/internal/database"
)

type TimelineDataPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
	State string    `json:"state"`
}

type StateCount struct {
	State string `json:"state"`
	Count int64  `json:"count"`
}

// GetFrustrationTimeline returns the frustration score after every stored
// event of a session.
func GetFrustrationTimeline(ctx context.Context, sessionID string) ([]TimelineDataPoint, error) {
	var data []TimelineDataPoint
	err := database.DB.WithContext(ctx).
		Table("stored_events").
		Select("occurred_at AS date, frustration_score AS value, state").
		Where("session_id = ?", sessionID).
		Order("occurred_at ASC, id ASC").
		Scan(&data).Error
	return data, err
}

// GetStateDistribution counts stored events per emotional state for a
// project, most frequent first.
func GetStateDistribution(ctx context.Context, projectID string) ([]StateCount, error) {
	var counts []StateCount
	err := database.DB.WithContext(ctx).
		Table("stored_events").
		Select("state, COUNT(*) AS count").
		Where("project_id = ?", projectID).
		Group("state").
		Order("count DESC, state ASC").
		Scan(&counts).Error
	return counts, err
}
