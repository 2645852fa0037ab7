package geometry

import (
	"math"
	"testing"

	"photoflow-go/internal/core/models"
)

func faceDetection(x, y, w, h, confidence float64) models.DetectionResult {
	return models.DetectionResult{
		Faces: []models.Detection{
			{Kind: models.DetectionFace, Box: models.BoundingBox{X: x, Y: y, Width: w, Height: h}, Confidence: confidence},
		},
		Confidence: confidence,
	}
}

func assertContained(t *testing.T, area models.CropArea, dims models.Dimensions) {
	t.Helper()
	if area.X < 0 || area.Y < 0 {
		t.Errorf("crop origin out of bounds: (%d,%d)", area.X, area.Y)
	}
	if area.Width <= 0 || area.Height <= 0 {
		t.Errorf("crop has non-positive size: %dx%d", area.Width, area.Height)
	}
	if area.X+area.Width > dims.Width || area.Y+area.Height > dims.Height {
		t.Errorf("crop %+v exceeds image %dx%d", area, dims.Width, dims.Height)
	}
}

func TestPlanCropFaceCenteredSquare(t *testing.T) {
	// 4000x3000-Bild, ein Gesicht bei (1800,1200,300,300) mit Konfidenz 0.9,
	// Ziel 1:1 -> 3000x3000-Quadrat, nahe am Gesicht zentriert
	dims := models.Dimensions{Width: 4000, Height: 3000}
	det := faceDetection(1800, 1200, 300, 300, 0.9)

	suggestion := PlanCrop(dims, det, models.RatioSquare, DefaultPolicy())

	if suggestion.Strategy != models.StrategyPeopleCentered {
		t.Fatalf("expected people-centered strategy, got %s", suggestion.Strategy)
	}

	area := suggestion.CropArea
	assertContained(t, area, dims)

	if area.Width != 3000 || area.Height != 3000 {
		t.Errorf("expected 3000x3000 crop, got %dx%d", area.Width, area.Height)
	}

	// Gepolsterte Gesichtsbox (10% je Seite) muss vollständig enthalten sein
	padded := models.BoundingBox{X: 1770, Y: 1170, Width: 360, Height: 360}
	crop := models.BoundingBox{
		X:      float64(area.X),
		Y:      float64(area.Y),
		Width:  float64(area.Width),
		Height: float64(area.Height),
	}
	if !crop.Contains(padded) {
		t.Errorf("crop %+v does not contain padded face box %+v", area, padded)
	}

	// Zuschnitt-Mittelpunkt nahe am Gesichts-Mittelpunkt (X-Achse hat Spiel)
	cropCenterX := float64(area.X) + float64(area.Width)/2
	if math.Abs(cropCenterX-1950) > 1 {
		t.Errorf("expected crop centered near face (x=1950), got x=%f", cropCenterX)
	}
}

func TestPlanCropCenterFallback(t *testing.T) {
	// 1000x500-Bild ohne Erkennungen, Fallback "center", Ziel 1:1
	dims := models.Dimensions{Width: 1000, Height: 500}
	policy := DefaultPolicy()
	policy.FallbackStrategy = FallbackCenter

	suggestion := PlanCrop(dims, models.DetectionResult{}, models.RatioSquare, policy)

	if suggestion.Strategy != models.StrategyFallbackCenter {
		t.Fatalf("expected center fallback, got %s", suggestion.Strategy)
	}

	area := suggestion.CropArea
	expected := models.CropArea{X: 250, Y: 0, Width: 500, Height: 500, Confidence: 0.4}
	if area != expected {
		t.Errorf("expected crop %+v, got %+v", expected, area)
	}
	if suggestion.QualityScore != 0.70 {
		t.Errorf("expected quality 0.70, got %f", suggestion.QualityScore)
	}
}

func TestPlanCropFallbackStrategies(t *testing.T) {
	dims := models.Dimensions{Width: 1600, Height: 900}

	tests := []struct {
		strategy string
		want     models.CropStrategy
		quality  float64
	}{
		{FallbackCenter, models.StrategyFallbackCenter, 0.70},
		{FallbackSmart, models.StrategyFallbackSmart, 0.75},
		{FallbackRuleOfThirds, models.StrategyRuleOfThirds, 0.80},
	}

	for _, tt := range tests {
		policy := DefaultPolicy()
		policy.FallbackStrategy = tt.strategy

		suggestion := PlanCrop(dims, models.DetectionResult{}, models.RatioSquare, policy)
		if suggestion.Strategy != tt.want {
			t.Errorf("%s: expected strategy %s, got %s", tt.strategy, tt.want, suggestion.Strategy)
		}
		if suggestion.QualityScore != tt.quality {
			t.Errorf("%s: expected quality %f, got %f", tt.strategy, tt.quality, suggestion.QualityScore)
		}
		if suggestion.CropArea.Confidence != 0.4 {
			t.Errorf("%s: expected confidence 0.4, got %f", tt.strategy, suggestion.CropArea.Confidence)
		}
		assertContained(t, suggestion.CropArea, dims)
	}
}

func TestPlanCropContainment(t *testing.T) {
	// Zuschnitt bleibt für beliebige Eingaben innerhalb des Bildes
	tests := []struct {
		name   string
		dims   models.Dimensions
		det    models.DetectionResult
		target models.AspectRatio
	}{
		{"face at edge", models.Dimensions{Width: 800, Height: 600}, faceDetection(700, 500, 120, 120, 0.8), models.RatioSquare},
		{"face outside ideal crop", models.Dimensions{Width: 2000, Height: 400}, faceDetection(1900, 0, 100, 100, 0.95), models.RatioPortrait},
		{"tiny image", models.Dimensions{Width: 50, Height: 40}, models.DetectionResult{}, models.RatioStory},
		{"subject larger than crop", models.Dimensions{Width: 1000, Height: 1000}, faceDetection(0, 0, 1000, 300, 0.9), models.RatioStory},
		{"no detections wide target", models.Dimensions{Width: 300, Height: 900}, models.DetectionResult{}, models.RatioLandscape},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suggestion := PlanCrop(tt.dims, tt.det, tt.target, DefaultPolicy())
			assertContained(t, suggestion.CropArea, tt.dims)
			if suggestion.QualityScore < 0 || suggestion.QualityScore > 1 {
				t.Errorf("quality out of range: %f", suggestion.QualityScore)
			}
		})
	}
}

func TestPlanCropSubjectInclusion(t *testing.T) {
	// Hohe Konfidenz -> gepolsterte Subjekt-Box vollständig im Zuschnitt
	dims := models.Dimensions{Width: 3000, Height: 2000}
	det := models.DetectionResult{
		Faces: []models.Detection{
			{Kind: models.DetectionFace, Box: models.BoundingBox{X: 400, Y: 300, Width: 200, Height: 200}, Confidence: 0.9},
		},
		People: []models.Detection{
			{Kind: models.DetectionPerson, Box: models.BoundingBox{X: 350, Y: 250, Width: 400, Height: 900}, Confidence: 0.85},
		},
		Confidence: 0.88,
	}

	suggestion := PlanCrop(dims, det, models.RatioPortrait, DefaultPolicy())
	area := suggestion.CropArea
	assertContained(t, area, dims)

	union := det.Faces[0].Box.Union(det.People[0].Box)
	padX := union.Width * 0.1
	padY := union.Height * 0.1
	padded := models.BoundingBox{X: union.X - padX, Y: union.Y - padY, Width: union.Width + 2*padX, Height: union.Height + 2*padY}

	crop := models.BoundingBox{
		X:      float64(area.X),
		Y:      float64(area.Y),
		Width:  float64(area.Width),
		Height: float64(area.Height),
	}
	if !crop.Contains(padded) {
		t.Errorf("crop %+v excludes padded subject bounds %+v", area, padded)
	}
}

func TestPlanCropZeroWeightCentroid(t *testing.T) {
	// Gesamtgewicht 0 -> Schwerpunkt (0,0); Ergebnis bleibt ein gültiger Zuschnitt
	dims := models.Dimensions{Width: 1200, Height: 800}
	det := faceDetection(500, 300, 100, 100, 0)

	suggestion := PlanCrop(dims, det, models.RatioSquare, DefaultPolicy())
	assertContained(t, suggestion.CropArea, dims)
	if suggestion.Strategy != models.StrategyPeopleCentered {
		t.Errorf("expected people-centered strategy, got %s", suggestion.Strategy)
	}
}

func TestFitInside(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name  string
		crop  models.Dimensions
		ratio float64
		want  models.Dimensions
	}{
		{"exact fit", models.Dimensions{Width: 1000, Height: 1000}, 1.0, models.Dimensions{Width: 1000, Height: 1000}},
		{"wide source square target", models.Dimensions{Width: 1000, Height: 500}, 1.0, models.Dimensions{Width: 500, Height: 500}},
		{"tall source wide target", models.Dimensions{Width: 600, Height: 1200}, 1.5, models.Dimensions{Width: 600, Height: 400}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FitInside(tt.crop, tt.ratio, policy)
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
			// Nie-Strecken-Garantie
			if got.Width > tt.crop.Width || got.Height > tt.crop.Height {
				t.Errorf("output %+v exceeds source %+v", got, tt.crop)
			}
		})
	}
}

func TestFitInsideRatioFidelity(t *testing.T) {
	policy := DefaultPolicy()
	crop := models.Dimensions{Width: 4000, Height: 3000}
	ratio := 16.0 / 9.0

	got := FitInside(crop, ratio, policy)
	actual := float64(got.Width) / float64(got.Height)
	if math.Abs(actual-ratio) > 0.01 {
		t.Errorf("expected ratio %f, got %f (%+v)", ratio, actual, got)
	}
}

func TestPlanCropDeterministic(t *testing.T) {
	dims := models.Dimensions{Width: 2400, Height: 1600}
	det := faceDetection(1000, 400, 250, 250, 0.7)

	first := PlanCrop(dims, det, models.RatioPortrait, DefaultPolicy())
	for i := 0; i < 5; i++ {
		if got := PlanCrop(dims, det, models.RatioPortrait, DefaultPolicy()); got != first {
			t.Fatalf("PlanCrop is not deterministic: %+v vs %+v", got, first)
		}
	}
}
