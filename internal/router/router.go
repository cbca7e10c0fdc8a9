package router

import (
	"net/http"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/unrolled/secure"
	"go.uber.org/zap"

	"github.com/ecyb/daynight-tracking/internal/config"
	"github.com/ecyb/daynight-tracking/internal/handlers"
	"github.com/ecyb/daynight-tracking/internal/session"
	"github.com/ecyb/daynight-tracking/internal/utils"
)

const sessionCookieName = "daynight"

func keyFunc(c *gin.Context) string {
	return c.ClientIP()
}

func errorHandler(c *gin.Context, info ratelimit.Info) {
	c.Header("Retry-After", time.Until(info.ResetTime).Round(time.Second).String())
	c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests. Try again later."})
}

// Setup builds the HTTP API around the session manager.
func Setup(log *zap.Logger, cfg *config.Config, sessionManager *session.Manager) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(log))

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		IsDevelopment:      !cfg.Server.Production,
	})
	router.Use(func(c *gin.Context) {
		if err := secureMiddleware.Process(c.Writer, c.Request); err != nil {
			c.Abort()
			return
		}
		c.Next()
	})

	router.Use(sessions.Sessions(sessionCookieName, newCookieStore(log, cfg.Server)))

	rateLimitStore := ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
		Rate:  cfg.Server.RateWindow,
		Limit: cfg.Server.RateLimit,
	})
	limiter := ratelimit.RateLimiter(rateLimitStore, &ratelimit.Options{
		ErrorHandler: errorHandler,
		KeyFunc:      keyFunc,
	})

	collectHandler := handlers.NewCollectHandler(log, sessionManager)
	sessionHandler := handlers.NewSessionHandler(log, sessionManager)
	ingestHandler := handlers.NewIngestHandler(log)
	reportsHandler := handlers.NewReportsHandler(log)
	widgetHandler := handlers.NewWidgetHandler(log, sessionManager)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": sessionManager.Len()})
	})

	router.POST("/collect", limiter, NoStore(), collectHandler.Collect)
	router.POST("/track-behavior", limiter, ingestHandler.Track)
	router.POST("/widgets/interactions", limiter, NoStore(), widgetHandler.Interaction)

	sessionRoutes := router.Group("/sessions/:id")
	sessionRoutes.Use(ValidIDParam(), NoStore())
	{
		sessionRoutes.GET("/state", sessionHandler.State)
		sessionRoutes.POST("/end", sessionHandler.End)
	}

	reportRoutes := router.Group("/reports")
	reportRoutes.Use(ValidIDParam())
	{
		reportRoutes.GET("/sessions/:id/metrics", reportsHandler.SessionMetrics)
		reportRoutes.GET("/sessions/:id/chart", reportsHandler.SessionChart)
		reportRoutes.GET("/projects/:id/states", reportsHandler.ProjectStates)
		reportRoutes.GET("/projects/:id/widgets", reportsHandler.ProjectWidgets)
	}

	return router
}

func newCookieStore(log *zap.Logger, cfg config.ServerConfig) cookie.Store {
	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		key, _, err := utils.NewSessionKey()
		if err != nil {
			log.Fatal("Failed to generate session key", zap.Error(err))
		}
		log.Warn("No server.session_secret configured, cookies will not survive a restart")
		secret = key
	}

	store := cookie.NewStore(secret)
	store.Options(sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Production,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   86400 * 7,
	})
	return store
}
