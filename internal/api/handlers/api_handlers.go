package handlers

import (
	"photoflow-go/config"
	"photoflow-go/internal/core/models"
	"photoflow-go/internal/core/pipeline"
	"photoflow-go/internal/db/repository"
	"photoflow-go/internal/integrations/visionapi"
	"photoflow-go/internal/server/sse"

	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// APIHandler behandelt API-Anfragen für das System
type APIHandler struct {
	cfg          *config.Config
	repo         repository.Repository
	orchestrator *pipeline.Orchestrator
	vision       *visionapi.Client
	hub          *sse.Hub
}

// NewAPIHandler erstellt einen neuen API-Handler
func NewAPIHandler(cfg *config.Config, repo repository.Repository, orchestrator *pipeline.Orchestrator, vision *visionapi.Client, hub *sse.Hub) *APIHandler {
	return &APIHandler{
		cfg:          cfg,
		repo:         repo,
		orchestrator: orchestrator,
		vision:       vision,
		hub:          hub,
	}
}

// RegisterRoutes registriert alle API-Routen
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup) {
	// Job-Endpunkte
	router.POST("/jobs", h.CreateJob)
	router.GET("/jobs", h.ListJobs)
	router.GET("/jobs/:id", h.GetJob)
	router.DELETE("/jobs/:id", h.CancelJob)

	// Warteschlangen- und Ereignis-Endpunkte
	router.GET("/queue", h.GetQueue)
	router.GET("/events", h.StreamEvents)

	// System-Endpunkte
	router.GET("/status", h.GetStatus)
}

// CreateJob nimmt hochgeladene Bilder entgegen und reiht einen neuen Job ein
func (h *APIHandler) CreateJob(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form data"})
		return
	}

	uploads := form.File["files"]
	if len(uploads) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files uploaded"})
		return
	}

	options, err := parseOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	priority, _ := strconv.Atoi(c.PostForm("priority"))
	userID := c.PostForm("user_id")
	if userID == "" {
		userID = "anonymous"
	}

	// Uploads unter eindeutigen Namen im Upload-Verzeichnis ablegen
	files := make([]string, 0, len(uploads))
	for _, upload := range uploads {
		filename := fmt.Sprintf("%s_%s", uuid.NewString(), filepath.Base(upload.Filename))
		filePath := filepath.Join(h.cfg.Server.UploadDir, filename)
		if err := saveUpload(upload, filePath); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to save upload: %v", err)})
			return
		}
		files = append(files, filePath)
	}

	job, err := h.orchestrator.CreateJob(c.Request.Context(), files, options, userID, priority)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoFiles) || errors.Is(err, pipeline.ErrInvalidRatio) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to create job: %v", err)})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Job accepted",
		"job":     job,
	})
}

// saveUpload speichert eine hochgeladene Datei unter dem Zielpfad
func saveUpload(upload *multipart.FileHeader, dst string) error {
	file, err := upload.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, file)
	return err
}

// parseOptions liest die Verarbeitungsoptionen aus dem Formular. Entweder als
// JSON im Feld "options" oder über Einzelfelder.
func parseOptions(c *gin.Context) (models.ProcessingOptions, error) {
	if raw := c.PostForm("options"); raw != "" {
		var options models.ProcessingOptions
		if err := json.Unmarshal([]byte(raw), &options); err != nil {
			return options, fmt.Errorf("invalid options JSON: %v", err)
		}
		return options, nil
	}

	ratio, err := parseAspectRatio(c.DefaultPostForm("ratio", "square"))
	if err != nil {
		return models.ProcessingOptions{}, err
	}

	options := models.ProcessingOptions{
		TargetRatio:      ratio,
		DetectionEnabled: c.DefaultPostForm("detection", "true") == "true",
		GenerateOutput:   true,
		GenerateArchive:  c.PostForm("archive") == "true",
	}

	rows, _ := strconv.Atoi(c.PostForm("sheet_rows"))
	cols, _ := strconv.Atoi(c.PostForm("sheet_columns"))
	if rows > 0 && cols > 0 {
		options.Sheet = &models.SheetOptions{
			Rows:        rows,
			Columns:     cols,
			Orientation: c.PostForm("sheet_orientation"),
			Format:      c.PostForm("sheet_format"),
		}
	}

	return options, nil
}

// parseAspectRatio akzeptiert benannte Verhältnisse ("square", "portrait",
// ...) oder die Form "B:H"
func parseAspectRatio(value string) (models.AspectRatio, error) {
	switch strings.ToLower(value) {
	case "square":
		return models.RatioSquare, nil
	case "portrait":
		return models.RatioPortrait, nil
	case "landscape":
		return models.RatioLandscape, nil
	case "passport":
		return models.RatioPassport, nil
	case "story":
		return models.RatioStory, nil
	}

	parts := strings.SplitN(value, ":", 2)
	if len(parts) == 2 {
		width, errW := strconv.Atoi(parts[0])
		height, errH := strconv.Atoi(parts[1])
		if errW == nil && errH == nil && width > 0 && height > 0 {
			return models.AspectRatio{Width: width, Height: height, Name: value}, nil
		}
	}
	return models.AspectRatio{}, fmt.Errorf("invalid aspect ratio %q", value)
}

// ListJobs gibt eine Liste von Jobs zurück
func (h *APIHandler) ListJobs(c *gin.Context) {
	// Paginierung
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	// Filtern nach Nutzer (optional)
	userID := c.Query("user")

	var jobs []models.Job
	var total int64
	var err error
	if userID != "" {
		jobs, total, err = h.repo.GetJobsByUser(userID, pageSize, offset)
	} else {
		jobs, total, err = h.repo.GetJobs(pageSize, offset)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to fetch jobs: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs": jobs,
		"pagination": gin.H{
			"page":     page,
			"pageSize": pageSize,
			"total":    total,
		},
	})
}

// GetJob gibt einen einzelnen Job mit Details zurück
func (h *APIHandler) GetJob(c *gin.Context) {
	job, err := h.orchestrator.GetJobStatus(c.Param("id"))
	if err != nil {
		if errors.Is(err, pipeline.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to fetch job: %v", err)})
		return
	}

	c.JSON(http.StatusOK, job)
}

// CancelJob bricht einen wartenden oder laufenden Job ab
func (h *APIHandler) CancelJob(c *gin.Context) {
	err := h.orchestrator.CancelJob(c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "Job cancelled"})
	case errors.Is(err, pipeline.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, pipeline.ErrJobTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "Job already finished"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to cancel job: %v", err)})
	}
}

// GetQueue gibt den Zustand der Warteschlange zurück
func (h *APIHandler) GetQueue(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.GetQueueStatus())
}

// StreamEvents streamt Pipeline-Ereignisse als Server-Sent Events
func (h *APIHandler) StreamEvents(c *gin.Context) {
	client := make(sse.Client, 16)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	log.Debug("SSE stream opened")
	c.Stream(func(w io.Writer) bool {
		select {
		case message, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent("message", string(message))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// GetStatus gibt den Systemstatus samt Vision-Dienst-Zustand zurück
func (h *APIHandler) GetStatus(c *gin.Context) {
	status := gin.H{
		"status":    "ok",
		"timestamp": time.Now(),
		"queue":     h.orchestrator.GetQueueStatus(),
		"vision": gin.H{
			"enabled": h.cfg.Vision.Enabled,
		},
	}

	// Vision-Dienst-Zustand, wenn aktiviert
	if h.cfg.Vision.Enabled && h.vision != nil {
		status["vision"].(gin.H)["health"] = h.vision.HealthState()
	}

	c.JSON(http.StatusOK, status)
}
