package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func (h *Handlers) HealthCheck(c *gin.Context) {
	log.Debug("Health check endpoint hit")
	if err := h.Store.DB.PingContext(c.Request.Context()); err != nil {
		log.Errorf("Health check: database unreachable: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "degraded",
			"message": "Database is unreachable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Continuity API is running",
	})
}
