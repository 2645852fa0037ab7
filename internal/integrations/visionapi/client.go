package visionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"photoflow-go/config"
	"photoflow-go/internal/core/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Header für die Korrelations-ID einer Anfrage/Antwort
const correlationHeader = "X-Correlation-ID"

// ServiceHealthState ist der beratende Gesundheitszustand des Vision-Dienstes.
// Er ist kein Circuit-Breaker: Aufrufe werden auch im Zustand "unhealthy"
// weiterhin versucht.
type ServiceHealthState struct {
	IsHealthy bool      `json:"is_healthy"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Client ist der resiliente Client für den externen Vision-Dienst
// (Erkennung, Zuschnitt, Stapelverarbeitung, Bogen-Komposition)
type Client struct {
	cfg        config.VisionConfig
	httpClient *http.Client
	baseDelay  time.Duration

	healthMu sync.RWMutex
	health   ServiceHealthState

	stopOnce sync.Once
	stop     chan struct{}
}

// NewClient erstellt einen neuen Vision-Client
func NewClient(cfg config.VisionConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	baseDelay := time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		baseDelay:  baseDelay,
		health:     ServiceHealthState{IsHealthy: true},
		stop:       make(chan struct{}),
	}
}

// --- Anfrage-/Antwort-Typen des Vision-Protokolls ---

// GridLayout beschreibt das Raster eines Druckbogens
type GridLayout struct {
	Rows    int `json:"rows"`
	Columns int `json:"columns"`
}

// DetectRequest ist die Anfrage an POST /api/v1/detect
type DetectRequest struct {
	ImagePath           string   `json:"image_path"`
	DetectionTypes      []string `json:"detection_types"`
	ConfidenceThreshold float64  `json:"confidence_threshold,omitempty"`
	CorrelationID       string   `json:"-"`
}

// CropRequest ist die Anfrage an POST /api/v1/crop
type CropRequest struct {
	ImagePath         string                  `json:"image_path"`
	TargetAspectRatio models.AspectRatio      `json:"target_aspect_ratio"`
	DetectionResults  *models.DetectionResult `json:"detection_results,omitempty"`
	CropStrategy      string                  `json:"crop_strategy"`
	CorrelationID     string                  `json:"-"`
}

// CropResponse ist die Antwort auf eine Zuschnitt-Anfrage
type CropResponse struct {
	ProcessedPath   string            `json:"processed_path"`
	CropCoordinates models.CropArea   `json:"crop_coordinates"`
	FinalDimensions models.Dimensions `json:"final_dimensions"`
}

// BatchRequest ist die Anfrage an POST /api/v1/process-batch
type BatchRequest struct {
	Images            []string                 `json:"images"`
	ProcessingOptions models.ProcessingOptions `json:"processing_options"`
	CorrelationID     string                   `json:"-"`
}

// BatchResponse ist die Antwort auf eine Stapelverarbeitung
type BatchResponse struct {
	ProcessedImages []CropResponse `json:"processed_images"`
	FailedImages    []string       `json:"failed_images"`
}

// ComposeSheetRequest ist die Anfrage an POST /api/v1/compose-sheet
type ComposeSheetRequest struct {
	ProcessedImages  []string   `json:"processed_images"`
	GridLayout       GridLayout `json:"grid_layout"`
	SheetOrientation string     `json:"sheet_orientation"`
	OutputFormat     string     `json:"output_format"`
	CorrelationID    string     `json:"-"`
}

// ComposeSheetResponse ist die Antwort auf eine Bogen-Komposition
type ComposeSheetResponse struct {
	OutputPath string            `json:"output_path"`
	Format     string            `json:"format"`
	Dimensions models.Dimensions `json:"dimensions"`
}

// HealthResponse ist die Antwort auf GET /health
type HealthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// serviceErrorBody ist der strukturierte Fehlerkörper des Dienstes
type serviceErrorBody struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
}

// --- Operationen ---

// Detect lässt Subjekte (Gesichter/Personen) in einem Bild erkennen
func (c *Client) Detect(ctx context.Context, req DetectRequest) (*models.DetectionResult, error) {
	if req.ImagePath == "" {
		return nil, &ValidationError{Message: "image_path must not be empty"}
	}
	if len(req.DetectionTypes) == 0 {
		req.DetectionTypes = []string{"face", "person"}
	}

	var results []models.DetectionResult
	err := c.withRetry(ctx, "detect", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/api/v1/detect", req, req.CorrelationID, &results)
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &models.DetectionResult{}, nil
	}
	return &results[0], nil
}

// Crop delegiert die Zuschnitt-Berechnung samt Rendering an den Dienst
func (c *Client) Crop(ctx context.Context, req CropRequest) (*CropResponse, error) {
	if req.ImagePath == "" {
		return nil, &ValidationError{Message: "image_path must not be empty"}
	}
	if !req.TargetAspectRatio.Valid() {
		return nil, &ValidationError{Message: "target_aspect_ratio must have positive width and height"}
	}

	var resp CropResponse
	err := c.withRetry(ctx, "crop", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/api/v1/crop", req, req.CorrelationID, &resp)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProcessBatch verarbeitet mehrere Bilder in einem Aufruf
func (c *Client) ProcessBatch(ctx context.Context, req BatchRequest) (*BatchResponse, error) {
	if len(req.Images) == 0 {
		return nil, &ValidationError{Message: "images must not be empty"}
	}

	var resp BatchResponse
	err := c.withRetry(ctx, "process-batch", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/api/v1/process-batch", req, req.CorrelationID, &resp)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ComposeSheet lässt den Dienst einen Druckbogen aus verarbeiteten Bildern
// komponieren
func (c *Client) ComposeSheet(ctx context.Context, req ComposeSheetRequest) (*ComposeSheetResponse, error) {
	if len(req.ProcessedImages) == 0 {
		return nil, &ValidationError{Message: "processed_images must not be empty"}
	}
	if req.GridLayout.Rows <= 0 || req.GridLayout.Columns <= 0 {
		return nil, &ValidationError{Message: "grid_layout must have positive rows and columns"}
	}

	var resp ComposeSheetResponse
	err := c.withRetry(ctx, "compose-sheet", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/api/v1/compose-sheet", req, req.CorrelationID, &resp)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckHealth fragt den Gesundheitszustand des Dienstes ab (ein Versuch,
// keine Wiederholung) und aktualisiert den beratenden Zustand
func (c *Client) CheckHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, "", &resp)
	if err != nil {
		c.markUnhealthy(err)
		return nil, err
	}
	if resp.Status == "unhealthy" {
		c.markUnhealthy(fmt.Errorf("service reports status %q", resp.Status))
		return &resp, nil
	}
	c.markHealthy()
	return &resp, nil
}

// StartHealthMonitor startet die periodische Gesundheitsprüfung im
// Hintergrund. Stoppt mit dem Kontext oder über Stop().
func (c *Client) StartHealthMonitor(ctx context.Context) {
	interval := time.Duration(c.cfg.HealthIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}

	go func() {
		log.Infof("Vision health monitor started (interval %s)", interval)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, c.httpClient.Timeout)
				if _, err := c.CheckHealth(probeCtx); err != nil {
					log.Debugf("Vision health probe failed: %v", err)
				}
				cancel()
			case <-ctx.Done():
				log.Info("Vision health monitor stopped")
				return
			case <-c.stop:
				log.Info("Vision health monitor stopped")
				return
			}
		}
	}()
}

// Stop beendet den Gesundheits-Monitor
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Healthy liefert den aktuellen beratenden Gesundheitszustand
func (c *Client) Healthy() bool {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.health.IsHealthy
}

// HealthState liefert eine Kopie des vollständigen Gesundheitszustands
func (c *Client) HealthState() ServiceHealthState {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.health
}

// WithFallback führt den primären Aufruf aus und greift auf den Fallback
// zurück, wenn der Aufruf scheitert UND der Dienst aktuell als ungesund gilt.
// Ohne Fallback wird der Fehler unverändert weitergereicht.
func WithFallback[T any](ctx context.Context, c *Client, primary func(context.Context) (T, error), fallback func() (T, error)) (T, error) {
	result, err := primary(ctx)
	if err == nil {
		return result, nil
	}
	if fallback != nil && !c.Healthy() {
		log.Warnf("Vision service unhealthy, using fallback: %v", err)
		return fallback()
	}
	return result, err
}

// --- Interna ---

// markHealthy setzt den beratenden Zustand auf gesund und loggt den Übergang
func (c *Client) markHealthy() {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	if !c.health.IsHealthy {
		log.Info("Vision service recovered, marking healthy")
	}
	c.health = ServiceHealthState{IsHealthy: true, CheckedAt: time.Now()}
}

// markUnhealthy setzt den beratenden Zustand auf ungesund und loggt den Übergang
func (c *Client) markUnhealthy(err error) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	if c.health.IsHealthy {
		log.Warnf("Vision service marked unhealthy: %v", err)
	}
	c.health = ServiceHealthState{IsHealthy: false, LastError: err.Error(), CheckedAt: time.Now()}
}

// withRetry wiederholt einen Aufruf mit exponentiellem Backoff. Versuch i
// wartet baseDelay * 2^(i-1) vor der Wiederholung. Nicht-wiederholbare
// Fehlerklassen brechen sofort ab.
func (c *Client) withRetry(ctx context.Context, op string, call func(context.Context) error) error {
	maxRetries := c.cfg.MaxRetries

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := call(ctx)
		if err == nil {
			c.markHealthy()
			return nil
		}
		lastErr = err

		if !retryable(err) {
			log.Debugf("Vision %s failed with non-retryable error: %v", op, err)
			return err
		}

		c.markUnhealthy(err)

		if attempt == maxRetries {
			break
		}

		delay := c.baseDelay * (1 << (attempt - 1))
		log.Warnf("Vision %s attempt %d/%d failed, retrying in %s: %v", op, attempt, maxRetries, delay, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &TimeoutError{Op: op, Err: ctx.Err()}
		}
	}

	log.Errorf("Vision %s failed after %d attempts: %v", op, maxRetries, lastErr)
	return lastErr
}

// doJSON führt genau einen HTTP-Aufruf aus und klassifiziert Fehler in die
// geschlossene Taxonomie
func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, correlationID string, out interface{}) error {
	apiURL, err := url.JoinPath(c.cfg.URL, path)
	if err != nil {
		return &ValidationError{Message: fmt.Sprintf("invalid service URL: %v", err)}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &ValidationError{Message: fmt.Sprintf("failed to encode request: %v", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reader)
	if err != nil {
		return &UnknownError{Op: path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}

	// Korrelations-ID injizieren, wenn der Aufrufer keine mitgibt
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	req.Header.Set(correlationHeader, correlationID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(path, err)
	}
	defer resp.Body.Close()

	log.Debugf("Vision %s %s took %s (correlation %s)", method, path, time.Since(start), correlationID)

	if resp.StatusCode != http.StatusOK {
		return parseServiceError(resp, correlationID)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &UnknownError{Op: path, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
	}
	return nil
}

// classifyTransportError ordnet Transportfehler der Taxonomie zu
func classifyTransportError(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Op: op, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	var sysErr *os.SyscallError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) || errors.As(err, &sysErr) {
		return &ConnectionError{Op: op, Err: err}
	}
	if errors.Is(err, io.EOF) {
		return &ConnectionError{Op: op, Err: err}
	}

	// url.Error von http.Client.Do umschließt den eigentlichen Fehler
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &ConnectionError{Op: op, Err: err}
	}

	return &UnknownError{Op: op, Err: err}
}

// parseServiceError liest einen strukturierten Fehlerkörper aus der Antwort
func parseServiceError(resp *http.Response, correlationID string) error {
	bodyBytes, _ := io.ReadAll(resp.Body)

	// Korrelations-ID der Antwort hat Vorrang, falls der Dienst sie zurückgibt
	if echoed := resp.Header.Get(correlationHeader); echoed != "" {
		correlationID = echoed
	}

	var body serviceErrorBody
	if err := json.Unmarshal(bodyBytes, &body); err != nil || body.ErrorCode == "" {
		body.ErrorCode = fmt.Sprintf("http_%d", resp.StatusCode)
		body.Message = string(bodyBytes)
	}

	return &ServiceError{
		StatusCode:    resp.StatusCode,
		Code:          body.ErrorCode,
		Message:       body.Message,
		CorrelationID: correlationID,
		Details:       body.Details,
	}
}
