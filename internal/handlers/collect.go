package handlers

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecyb/daynight-tracking/internal/models"
	"github.com/ecyb/daynight-tracking/internal/repository"
	"github.com/ecyb/daynight-tracking/internal/session"
	"github.com/ecyb/daynight-tracking/internal/utils"
	"github.com/ecyb/daynight-tracking/internal/widgets"
)

// Cookie session keys.
const (
	SessionCookieKey = "session_id"
	VisitorCookieKey = "visitor_id"
)

// MaxEventsPerRequest bounds one collect call.
const MaxEventsPerRequest = 500

type CollectHandler struct {
	log      *zap.Logger
	sessions *session.Manager
}

func NewCollectHandler(log *zap.Logger, sessions *session.Manager) *CollectHandler {
	return &CollectHandler{log: log, sessions: sessions}
}

// Collect feeds a batch of page events into the visitor's session and
// answers with the current emotional state and, when one is due, a widget.
func (h *CollectHandler) Collect(c *gin.Context) {
	var req models.CollectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Failed to bind collect request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
		return
	}
	if len(req.Events) > MaxEventsPerRequest {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Too many events"})
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
	if visitorID == "" {
		visitorID = uuid.NewString()
	}

	ctx := c.Request.Context()
	s, created := h.sessions.GetOrCreate(sessionID)
	if created || cookie.Get(SessionCookieKey) != s.ID() || cookie.Get(VisitorCookieKey) != visitorID {
		cookie.Set(SessionCookieKey, s.ID())
		cookie.Set(VisitorCookieKey, visitorID)
		if err := cookie.Save(); err != nil {
			h.log.Warn("Failed to save session cookie", zap.Error(err))
		}
	}

	s, handled, replaced := h.feed(ctx, s, req.PagePath, req.Events)
	if replaced {
		h.log.Info("Session ended while collecting, events moved to a new one", zap.String("session_id", s.ID()))
	}
	if created || replaced {
		h.attachVisitor(ctx, s, visitorID)
	}

	snap := s.Snapshot()
	resp := models.CollectResponse{
		SessionID:        s.ID(),
		State:            string(snap.State),
		Intensity:        snap.Intensity,
		FrustrationScore: snap.FrustrationScore,
	}
	if w, ok := s.NextWidget(); ok {
		resp.Widget = &models.Widget{ID: w.ID, Name: w.Name}
		h.saveImpression(ctx, s, w.ID)
	}

	h.log.Debug("Events collected",
		zap.String("session_id", s.ID()),
		zap.Int("received", len(req.Events)),
		zap.Int("handled", handled),
		zap.String("state", resp.State),
	)
	c.JSON(http.StatusOK, resp)
}

// feed runs events through s. When s was ended between lookup and handling,
// for instance by the reaper, the events go to a fresh session under the same
// id instead of being lost.
func (h *CollectHandler) feed(ctx context.Context, s *session.Session, pagePath string, events []models.RawEvent) (*session.Session, int, bool) {
	handled := run(ctx, s, pagePath, events)
	if handled > 0 || len(events) == 0 || !s.Ended() || ctx.Err() != nil {
		return s, handled, false
	}
	fresh, _ := h.sessions.GetOrCreate(s.ID())
	return fresh, run(ctx, fresh, pagePath, events), true
}

func run(ctx context.Context, s *session.Session, pagePath string, events []models.RawEvent) int {
	s.SetPagePath(pagePath)
	handled := 0
	for _, ev := range events {
		if s.Handle(ctx, ev) {
			handled++
		}
	}
	return handled
}

// visitorFrom prefers the id sent by the page over the cookie. ok is false
// when the page sent a malformed id.
func visitorFrom(cookie sessions.Session, sent string) (string, bool) {
	if sent != "" {
		return sent, utils.IsValidIdentifier(sent)
	}
	id, _ := cookie.Get(VisitorCookieKey).(string)
	if !utils.IsValidIdentifier(id) {
		return "", true
	}
	return id, true
}

// attachVisitor counts the visit and loads the visitor's widget history into
// a new session. Failures only cost the frequency rules their history.
func (h *CollectHandler) attachVisitor(ctx context.Context, s *session.Session, visitorID string) {
	log := h.log.With(zap.String("session_id", s.ID()), zap.String("visitor_id", visitorID))
	visits, err := repository.RecordVisit(ctx, s.ProjectID(), visitorID)
	if err != nil {
		log.Error("Failed to record visit", zap.Error(err))
	}
	rows, err := repository.GetWidgetImpressions(ctx, s.ProjectID(), visitorID)
	if err != nil {
		log.Error("Failed to load widget history", zap.Error(err))
	}
	s.SetVisitor(visitorID, visits, impressionsFromRows(rows))
}

func (h *CollectHandler) saveImpression(ctx context.Context, s *session.Session, widgetID string) {
	visitorID := s.Visitor()
	imp, ok := s.Impression(widgetID)
	if visitorID == "" || !ok {
		return
	}
	err := repository.SaveWidgetImpression(ctx, models.WidgetImpression{
		ProjectID:     s.ProjectID(),
		VisitorID:     visitorID,
		WidgetID:      widgetID,
		LastShown:     imp.LastShown.UTC(),
		LastSessionID: imp.LastSessionID,
		Views:         imp.Views,
	})
	if err != nil {
		h.log.Error("Failed to save widget impression", zap.String("widget_id", widgetID), zap.Error(err))
	}
}

func impressionsFromRows(rows []models.WidgetImpression) map[string]widgets.Impression {
	out := make(map[string]widgets.Impression, len(rows))
	for _, r := range rows {
		out[r.WidgetID] = widgets.Impression{
			LastShown:     r.LastShown,
			LastSessionID: r.LastSessionID,
			Views:         r.Views,
			Converted:     r.Converted,
		}
	}
	return out
}
