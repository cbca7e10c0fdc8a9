package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ecyb/daynight-tracking/internal/models"
	"github.com/ecyb/daynight-tracking/internal/repository"
	"github.com/ecyb/daynight-tracking/internal/session"
	"github.com/ecyb/daynight-tracking/internal/utils"
)

type WidgetHandler struct {
	log      *zap.Logger
	sessions *session.Manager
}

func NewWidgetHandler(log *zap.Logger, sessions *session.Manager) *WidgetHandler {
	return &WidgetHandler{log: log, sessions: sessions}
}

// Interaction stores a view, click or other action on a widget. Clicks and
// submits convert the visitor, which retires after_conversion widgets.
func (h *WidgetHandler) Interaction(c *gin.Context) {
	var req models.WidgetInteractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Failed to bind widget interaction", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
		return
	}
	if !utils.IsValidIdentifier(req.WidgetID) || !models.IsInteractionType(req.InteractionType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid widget interaction"})
		return
	}

	cookie := sessions.Default(c)
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID, _ = cookie.Get(SessionCookieKey).(string)
	}
	if sessionID != "" && !utils.IsValidIdentifier(sessionID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session id"})
		return
	}
	visitorID, ok := visitorFrom(cookie, req.VisitorID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid visitor id"})
		return
	}

	projectID := h.sessions.ProjectID()
	live, err := h.sessions.Get(sessionID)
	if err == nil {
		projectID = live.ProjectID()
		if visitorID == "" {
			visitorID = live.Visitor()
		}
	}

	var data []byte
	if len(req.InteractionData) > 0 {
		if data, err = json.Marshal(req.InteractionData); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid interaction data"})
			return
		}
	}

	err = repository.SaveWidgetInteraction(c.Request.Context(), models.WidgetInteraction{
		ProjectID:       projectID,
		WidgetID:        req.WidgetID,
		VisitorID:       visitorID,
		SessionID:       sessionID,
		InteractionType: req.InteractionType,
		PagePath:        req.PagePath,
		Data:            string(data),
	})
	if err != nil {
		h.log.Error("Failed to save widget interaction", zap.String("widget_id", req.WidgetID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save interaction"})
		return
	}
	if live != nil && models.ConvertsVisitor(req.InteractionType) {
		live.MarkConverted(req.WidgetID)
	}

	h.log.Debug("Widget interaction recorded",
		zap.String("widget_id", req.WidgetID),
		zap.String("interaction_type", req.InteractionType),
		zap.String("session_id", sessionID),
	)
	c.JSON(http.StatusCreated, gin.H{"status": "recorded"})
}
