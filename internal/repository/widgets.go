package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ecyb/daynight-tracking/internal/database"
	"github.com/ecyb/daynight-tracking/internal/models"
)

type WidgetStat struct {
	WidgetID        string `json:"widget_id"`
	InteractionType string `json:"interaction_type"`
	Count           int64  `json:"count"`
}

var visitorKey = []clause.Column{{Name: "project_id"}, {Name: "visitor_id"}}

var impressionKey = []clause.Column{{Name: "project_id"}, {Name: "visitor_id"}, {Name: "widget_id"}}

// RecordVisit counts one more visit of visitorID and returns the total.
func RecordVisit(ctx context.Context, projectID, visitorID string) (int, error) {
	now := time.Now().UTC()
	var v models.Visitor
	err := database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: visitorKey,
			DoUpdates: clause.Assignments(map[string]any{
				"visits":    gorm.Expr("visitors.visits + 1"),
				"last_seen": now,
			}),
		}).Create(&models.Visitor{
			ProjectID: projectID,
			VisitorID: visitorID,
			Visits:    1,
			FirstSeen: now,
			LastSeen:  now,
		}).Error
		if err != nil {
			return err
		}
		return tx.Where("project_id = ? AND visitor_id = ?", projectID, visitorID).First(&v).Error
	})
	if err != nil {
		return 0, err
	}
	return v.Visits, nil
}

// GetWidgetImpressions returns the display history of every widget the
// visitor has seen or converted through.
func GetWidgetImpressions(ctx context.Context, projectID, visitorID string) ([]models.WidgetImpression, error) {
	var rows []models.WidgetImpression
	err := database.DB.WithContext(ctx).
		Where("project_id = ? AND visitor_id = ?", projectID, visitorID).
		Find(&rows).Error
	return rows, err
}

// SaveWidgetImpression upserts the display history of one widget. The
// conversion flag is only ever set by SaveWidgetInteraction.
func SaveWidgetImpression(ctx context.Context, imp models.WidgetImpression) error {
	return database.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   impressionKey,
		DoUpdates: clause.AssignmentColumns([]string{"last_shown", "last_session_id", "views", "updated_at"}),
	}).Create(&imp).Error
}

// SaveWidgetInteraction stores a reported interaction and, when it converts
// the visitor, flags the widget's impression row.
func SaveWidgetInteraction(ctx context.Context, in models.WidgetInteraction) error {
	if in.OccurredAt.IsZero() {
		in.OccurredAt = time.Now().UTC()
	}
	return database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&in).Error; err != nil {
			return err
		}
		if in.VisitorID == "" || !models.ConvertsVisitor(in.InteractionType) {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   impressionKey,
			DoUpdates: clause.AssignmentColumns([]string{"converted", "updated_at"}),
		}).Create(&models.WidgetImpression{
			ProjectID: in.ProjectID,
			VisitorID: in.VisitorID,
			WidgetID:  in.WidgetID,
			Converted: true,
		}).Error
	})
}

// GetWidgetStats counts stored interactions per widget and type for a
// project.
func GetWidgetStats(ctx context.Context, projectID string) ([]WidgetStat, error) {
	var stats []WidgetStat
	err := database.DB.WithContext(ctx).
		Table("widget_interactions").
		Select("widget_id, interaction_type, COUNT(*) AS count").
		Where("project_id = ?", projectID).
		Group("widget_id, interaction_type").
		Order("widget_id ASC, interaction_type ASC").
		Scan(&stats).Error
	return stats, err
}
