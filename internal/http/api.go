package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hdget/internal/downloader"
	"hdget/internal/service"
)

// Handler exposes live job progress over HTTP. It is read-only: jobs are
// created and canceled by the CLI process that owns the manager.
type Handler struct {
	manager downloader.Manager
	jobs    service.JobService
}

func NewHandler(manager downloader.Manager, jobs service.JobService) *Handler {
	return &Handler{
		manager: manager,
		jobs:    jobs,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/jobs", h.listJobs)
		api.GET("/jobs/:id", h.getJob)
		api.GET("/history", h.listHistory)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Snapshot())
}

func (h *Handler) getJob(c *gin.Context) {
	id := c.Param("id")
	for _, view := range h.manager.Snapshot() {
		if view.ID == id {
			c.JSON(http.StatusOK, view)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
}

func (h *Handler) listHistory(c *gin.Context) {
	jobs, err := h.jobs.ListJobs(c.Request.Context())
	if err != nil {
		if errors.Is(err, service.ErrHistoryDisabled) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, jobs)
}
