package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ecyb/daynight-tracking/internal/behavior"
	"github.com/ecyb/daynight-tracking/internal/models"
	"github.com/ecyb/daynight-tracking/internal/session"
	"github.com/ecyb/daynight-tracking/internal/signals"
)

type SessionHandler struct {
	log      *zap.Logger
	sessions *session.Manager
}

func NewSessionHandler(log *zap.Logger, sessions *session.Manager) *SessionHandler {
	return &SessionHandler{log: log, sessions: sessions}
}

// StateResponse is the live view of a session.
type StateResponse struct {
	SessionID        string                    `json:"session_id"`
	State            string                    `json:"state"`
	Intensity        float64                   `json:"intensity"`
	FrustrationScore float64                   `json:"frustration_score"`
	InteractionCount int                       `json:"interaction_count"`
	ScrollDepth      int                       `json:"scroll_depth"`
	MaxScrollDepth   int                       `json:"max_scroll_depth"`
	Counters         signals.Counters          `json:"counters"`
	StateHistory     []models.TransitionRecord `json:"state_history"`
	Delivery         DeliveryStats             `json:"delivery"`
}

// DeliveryStats mirrors the dispatcher counters.
type DeliveryStats struct {
	SentBatches    int64 `json:"sent_batches"`
	SentEvents     int64 `json:"sent_events"`
	FailedAttempts int64 `json:"failed_attempts"`
	DroppedEvents  int64 `json:"dropped_events"`
}

// State returns the live snapshot of a session, including its full history.
func (h *SessionHandler) State(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	snap := s.Snapshot()
	stats := s.Stats()
	c.JSON(http.StatusOK, StateResponse{
		SessionID:        s.ID(),
		State:            string(snap.State),
		Intensity:        snap.Intensity,
		FrustrationScore: snap.FrustrationScore,
		InteractionCount: snap.InteractionCount,
		ScrollDepth:      snap.ScrollDepth,
		MaxScrollDepth:   snap.MaxScrollDepth,
		Counters:         snap.Counters,
		StateHistory:     behavior.ToWireHistory(snap.History),
		Delivery: DeliveryStats{
			SentBatches:    stats.SentBatches,
			SentEvents:     stats.SentEvents,
			FailedAttempts: stats.FailedAttempts,
			DroppedEvents:  stats.DroppedEvents,
		},
	})
}

// End tears a session down. Delivery failures are logged, not reported to
// the page.
func (h *SessionHandler) End(c *gin.Context) {
	id := c.Param("id")
	err := h.sessions.End(c.Request.Context(), id)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	case err != nil:
		h.log.Warn("Session ended with delivery errors", zap.String("session_id", id), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended", "session_id": id})
}
