package visionapi

import (
	"context"

	"photoflow-go/internal/core/models"
)

// Detector adaptiert den Vision-Client an die Erkennungs-Schnittstelle der
// Pipeline. Gilt der Dienst als ungesund und scheitert der Aufruf, liefert der
// Detector ein leeres Ergebnis statt eines Fehlers; die Planung fällt dann auf
// ihre Fallback-Strategien zurück.
type Detector struct {
	client  *Client
	degrade bool
}

// NewDetector erstellt einen Detector über dem Vision-Client
func NewDetector(client *Client, gracefulDegradation bool) *Detector {
	return &Detector{client: client, degrade: gracefulDegradation}
}

// Detect beschafft die Erkennungsdaten für ein Bild
func (d *Detector) Detect(ctx context.Context, imagePath string) (*models.DetectionResult, error) {
	req := DetectRequest{
		ImagePath:           imagePath,
		DetectionTypes:      []string{"face", "person"},
		ConfidenceThreshold: d.client.cfg.ConfidenceThreshold,
	}

	primary := func(ctx context.Context) (*models.DetectionResult, error) {
		return d.client.Detect(ctx, req)
	}
	if !d.degrade {
		return primary(ctx)
	}

	return WithFallback(ctx, d.client, primary, func() (*models.DetectionResult, error) {
		return &models.DetectionResult{}, nil
	})
}
