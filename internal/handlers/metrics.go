package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ecyb/daynight-tracking/internal/metrics"
	"github.com/ecyb/daynight-tracking/internal/repository"
)

type ReportsHandler struct {
	log *zap.Logger
}

func NewReportsHandler(log *zap.Logger) *ReportsHandler {
	return &ReportsHandler{log: log}
}

// SessionMetrics computes the metrics of a stored session.
func (h *ReportsHandler) SessionMetrics(c *gin.Context) {
	sessionID := c.Param("id")
	ctx := c.Request.Context()

	events, err := repository.GetSessionEvents(ctx, sessionID)
	if err != nil {
		h.log.Error("Failed to get session events", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		return
	}
	if len(events) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	transitions, err := repository.GetSessionTransitions(ctx, sessionID)
	if err != nil {
		h.log.Error("Failed to get session transitions", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"events":     len(events),
		"metrics":    metrics.CalculateSessionMetrics(events, transitions),
	})
}

// ProjectStates returns how stored events of a project spread over the
// emotional states, with a pie chart of the same data.
func (h *ReportsHandler) ProjectStates(c *gin.Context) {
	projectID := c.Param("id")
	counts, err := repository.GetStateDistribution(c.Request.Context(), projectID)
	if err != nil {
		h.log.Error("Failed to get state distribution", zap.String("project_id", projectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load states"})
		return
	}

	var total int64
	for _, sc := range counts {
		total += sc.Count
	}
	c.JSON(http.StatusOK, gin.H{
		"project_id": projectID,
		"total":      total,
		"states":     counts,
		"chart":      generateStatePie(counts).JSON(),
	})
}

// ProjectWidgets counts widget interactions of a project per widget and type.
func (h *ReportsHandler) ProjectWidgets(c *gin.Context) {
	projectID := c.Param("id")
	stats, err := repository.GetWidgetStats(c.Request.Context(), projectID)
	if err != nil {
		h.log.Error("Failed to get widget stats", zap.String("project_id", projectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load widget stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"project_id": projectID, "widgets": stats})
}
