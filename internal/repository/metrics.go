package repository

import (
	"context"

	"github.com/ecyb/daynight-tracking/internal/database"
	"github.com/ecyb/daynight-tracking/internal/models"
)

// GetSessionEvents returns the stored events of a session in page order.
func GetSessionEvents(ctx context.Context, sessionID string) ([]models.StoredEvent, error) {
	var events []models.StoredEvent
	err := database.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("occurred_at ASC, id ASC").
		Find(&events).Error
	return events, err
}

// GetSessionTransitions returns the stored transitions of a session, oldest
// first.
func GetSessionTransitions(ctx context.Context, sessionID string) ([]models.StoredTransition, error) {
	var transitions []models.StoredTransition
	err := database.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("occurred_at ASC, id ASC").
		Find(&transitions).Error
	return transitions, err
}

// GetSessionSummary returns the teardown summary of a session.
// gorm.ErrRecordNotFound is returned when the session never ended.
func GetSessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	var summary models.SessionSummary
	if err := database.DB.WithContext(ctx).First(&summary, "session_id = ?", sessionID).Error; err != nil {
		return nil, err
	}
	return &summary, nil
}
