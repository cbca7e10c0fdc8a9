package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ecyb/daynight-tracking/internal/database"
	"github.com/ecyb/daynight-tracking/internal/models"
)

const insertBatchSize = 100

// SaveBatch stores one flush with its events and any transitions it carries
// in a single transaction, returning the new batch id. Transitions already
// stored by an earlier batch of the same session are skipped.
func SaveBatch(ctx context.Context, req models.BatchRequest) (string, error) {
	batch := models.BehaviorBatch{
		ID:               uuid.NewString(),
		TrackingID:       req.TrackingID,
		ProjectID:        req.ProjectID,
		SessionID:        req.SessionID,
		EventCount:       len(req.Events),
		CurrentState:     req.EmotionState.CurrentState,
		Intensity:        req.EmotionState.Intensity,
		FrustrationScore: req.EmotionState.FrustrationScore,
		ReceivedAt:       time.Now().UTC(),
	}

	err := database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&batch).Error; err != nil {
			return err
		}

		if len(req.Events) > 0 {
			events := make([]models.StoredEvent, 0, len(req.Events))
			for _, ev := range req.Events {
				events = append(events, models.NewStoredEvent(batch.ID, ev))
			}
			if err := tx.CreateInBatches(events, insertBatchSize).Error; err != nil {
				return err
			}
		}

		return saveTransitions(tx, req.ProjectID, req.SessionID, req.EmotionState.StateHistory)
	})
	if err != nil {
		return "", err
	}
	return batch.ID, nil
}

// SaveFinalState upserts the session summary and stores the full transition
// history.
func SaveFinalState(ctx context.Context, req models.FinalStateRequest) error {
	fs := req.FinalEmotionState
	summary := models.SessionSummary{
		SessionID:         req.SessionID,
		TrackingID:        req.TrackingID,
		ProjectID:         req.ProjectID,
		FinalState:        fs.CurrentState,
		Intensity:         fs.Intensity,
		FrustrationScore:  fs.FrustrationScore,
		TotalInteractions: fs.TotalInteractions,
		RapidClicks:       fs.RapidClicks,
		DeadClicks:        fs.DeadClicks,
		ScrollStalls:      fs.ScrollStalls,
		FormChurns:        fs.FormChurns,
		IdleSpikes:        fs.IdleSpikes,
		BacktrackEvents:   fs.BacktrackEvents,
		MaxScrollDepth:    fs.MaxScrollDepth,
		SessionDuration:   time.Duration(fs.SessionDuration) * time.Millisecond,
		TransitionCount:   len(fs.StateHistory),
	}

	return database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"tracking_id", "project_id", "final_state", "intensity", "frustration_score",
				"total_interactions", "rapid_clicks", "dead_clicks", "scroll_stalls", "form_churns",
				"idle_spikes", "backtrack_events", "max_scroll_depth", "session_duration",
				"transition_count", "updated_at",
			}),
		}).Create(&summary).Error
		if err != nil {
			return err
		}
		return saveTransitions(tx, req.ProjectID, req.SessionID, fs.StateHistory)
	})
}

func saveTransitions(tx *gorm.DB, projectID, sessionID string, history []models.TransitionRecord) error {
	if len(history) == 0 {
		return nil
	}
	rows := make([]models.StoredTransition, 0, len(history))
	for _, tr := range history {
		rows = append(rows, models.NewStoredTransition(projectID, sessionID, tr))
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}
