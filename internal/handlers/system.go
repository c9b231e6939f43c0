package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

var startedAt = time.Now()

// Health reports service and database health.
func (h *Handler) Health(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK

	dbStatus := "up"
	if err := h.DB.Health(); err != nil {
		dbStatus = "down"
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":   status,
		"database": dbStatus,
		"uptime":   time.Since(startedAt).Truncate(time.Second).String(),
	})
}
