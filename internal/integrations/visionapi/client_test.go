package visionapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"photoflow-go/config"
	"photoflow-go/internal/core/models"
)

func testConfig(url string) config.VisionConfig {
	return config.VisionConfig{
		Enabled:          true,
		URL:              url,
		TimeoutSeconds:   2,
		MaxRetries:       3,
		RetryBaseDelayMs: 1,
	}
}

func cropRequest() CropRequest {
	return CropRequest{
		ImagePath:         "/data/uploads/photo.jpg",
		TargetAspectRatio: models.RatioSquare,
		CropStrategy:      string(models.StrategyPeopleCentered),
	}
}

func TestCropRetriesThenSucceeds(t *testing.T) {
	// Zwei Fehlversuche, dritter Versuch liefert das Ergebnis
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error_code": "internal", "message": "boom"})
			return
		}
		json.NewEncoder(w).Encode(CropResponse{
			ProcessedPath:   "/data/output/photo_crop.jpg",
			CropCoordinates: models.CropArea{X: 250, Y: 0, Width: 500, Height: 500, Confidence: 0.9},
			FinalDimensions: models.Dimensions{Width: 500, Height: 500},
		})
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	resp, err := client.Crop(context.Background(), cropRequest())
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected exactly 3 transport invocations, got %d", got)
	}
	if resp.ProcessedPath != "/data/output/photo_crop.jpg" {
		t.Errorf("unexpected processed path: %s", resp.ProcessedPath)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	// Dauerhaft unerreichbarer Dienst -> genau maxRetries Versuche, dann
	// ConnectionError
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close() // Verbindung wird ab jetzt abgelehnt

	client := NewClient(testConfig(url))
	_, err := client.Crop(context.Background(), cropRequest())
	if err == nil {
		t.Fatal("expected error from unreachable service")
	}

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("expected ConnectionError, got %T: %v", err, err)
	}
	if client.Healthy() {
		t.Error("expected client to mark service unhealthy after exhausted retries")
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	// Strukturierter 400er -> genau ein Versuch
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error_code": "invalid_aspect_ratio", "message": "bad ratio"})
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	_, err := client.Crop(context.Background(), cropRequest())
	if err == nil {
		t.Fatal("expected error from 400 response")
	}

	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected ServiceError, got %T: %v", err, err)
	}
	if svcErr.Code != "invalid_aspect_ratio" {
		t.Errorf("expected error code invalid_aspect_ratio, got %s", svcErr.Code)
	}
	if svcErr.CorrelationID == "" {
		t.Error("expected a correlation ID on the service error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected exactly 1 transport invocation, got %d", got)
	}
}

func TestValidationErrorsAreLocal(t *testing.T) {
	// Lokale Validierung erzeugt keinerlei Netzwerkverkehr
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))

	cases := []func() error{
		func() error { _, err := client.Detect(context.Background(), DetectRequest{}); return err },
		func() error { _, err := client.Crop(context.Background(), CropRequest{ImagePath: "x"}); return err },
		func() error { _, err := client.ProcessBatch(context.Background(), BatchRequest{}); return err },
		func() error { _, err := client.ComposeSheet(context.Background(), ComposeSheetRequest{}); return err },
	}

	for i, call := range cases {
		err := call()
		var valErr *ValidationError
		if !errors.As(err, &valErr) {
			t.Errorf("case %d: expected ValidationError, got %T: %v", i, err, err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("expected no transport invocations, got %d", got)
	}
}

func TestCorrelationIDInjected(t *testing.T) {
	var seen string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Correlation-ID")
		json.NewEncoder(w).Encode([]models.DetectionResult{})
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	if _, err := client.Detect(context.Background(), DetectRequest{ImagePath: "/data/a.jpg"}); err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if seen == "" {
		t.Error("expected client to inject a correlation ID header")
	}
}

func TestCallerCorrelationIDPreserved(t *testing.T) {
	var seen string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Correlation-ID")
		json.NewEncoder(w).Encode([]models.DetectionResult{})
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	req := DetectRequest{ImagePath: "/data/a.jpg", CorrelationID: "corr-1234"}
	if _, err := client.Detect(context.Background(), req); err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if seen != "corr-1234" {
		t.Errorf("expected caller correlation ID to be preserved, got %q", seen)
	}
}

func TestCheckHealthTransitions(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", UptimeSeconds: 12})
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))

	if _, err := client.CheckHealth(context.Background()); err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !client.Healthy() {
		t.Error("expected healthy state after successful probe")
	}

	healthy = false
	if _, err := client.CheckHealth(context.Background()); err == nil {
		t.Fatal("expected error from unhealthy probe")
	}
	state := client.HealthState()
	if state.IsHealthy {
		t.Error("expected unhealthy state after failed probe")
	}
	if state.LastError == "" {
		t.Error("expected last error to be recorded")
	}

	healthy = true
	if _, err := client.CheckHealth(context.Background()); err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !client.Healthy() {
		t.Error("expected recovery to healthy state")
	}
}

func TestWithFallbackOnlyWhenUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error_code": "internal", "message": "boom"})
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))

	// Nach den Fehlversuchen ist der Zustand ungesund, daher greift der Fallback
	primary := func(ctx context.Context) (*CropResponse, error) {
		return client.Crop(ctx, cropRequest())
	}
	fallback := func() (*CropResponse, error) {
		return &CropResponse{ProcessedPath: "/data/output/fallback.jpg"}, nil
	}

	resp, err := WithFallback(context.Background(), client, primary, fallback)
	if err != nil {
		t.Fatalf("expected fallback result, got error: %v", err)
	}
	if resp.ProcessedPath != "/data/output/fallback.jpg" {
		t.Errorf("expected fallback path, got %s", resp.ProcessedPath)
	}

	// Ohne Fallback propagiert der Fehler
	if _, err := WithFallback(context.Background(), client, primary, nil); err == nil {
		t.Error("expected error to propagate without fallback")
	}
}
