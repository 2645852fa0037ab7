package handlers

import (
	"net/http"

	"photoflow-go/internal/utils"

	"github.com/gin-gonic/gin"
)

// RegisterSystemRoutes registriert die System-Endpunkte
func (h *APIHandler) RegisterSystemRoutes(router *gin.RouterGroup) {
	router.GET("/system/stats", h.GetSystemStats)
	router.GET("/health", h.GetHealth)
}

// GetSystemStats gibt aktuelle System- und Pipeline-Statistiken zurück
func (h *APIHandler) GetSystemStats(c *gin.Context) {
	system := utils.GetSystemStats(h.orchestrator)

	data, err := h.repo.GetStatistics()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load statistics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"system": system,
		"data":   data,
	})
}

// GetHealth ist der Liveness-Endpunkt der Anwendung
func (h *APIHandler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
