package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ecyb/daynight-tracking/internal/utils"
)

// ValidIDParam rejects requests whose :id path parameter is not a valid
// session or project identifier.
func ValidIDParam() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !utils.IsValidIdentifier(c.Param("id")) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid identifier"})
			return
		}
		c.Next()
	}
}

// NoStore marks responses as uncacheable; they describe live sessions.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
