package rendering

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"photoflow-go/config"
	"photoflow-go/internal/core/geometry"
	"photoflow-go/internal/core/models"

	"github.com/disintegration/imaging"
)

func writeTestImage(t *testing.T, dir string, width, height int) string {
	t.Helper()
	img := imaging.New(width, height, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	path := filepath.Join(dir, "source.jpg")
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("failed to write test image: %v", err)
	}
	return path
}

func testRenderer(t *testing.T, dir string) *Renderer {
	t.Helper()
	cfg := config.RenderingConfig{Format: "jpeg", JPEGQuality: 90}
	return NewRenderer(cfg, geometry.DefaultPolicy(), dir)
}

func TestDimensions(t *testing.T) {
	dir := t.TempDir()
	path := writeTestImage(t, dir, 640, 480)

	r := testRenderer(t, dir)
	dims, err := r.Dimensions(path)
	if err != nil {
		t.Fatalf("Dimensions failed: %v", err)
	}
	if dims.Width != 640 || dims.Height != 480 {
		t.Errorf("expected 640x480, got %dx%d", dims.Width, dims.Height)
	}
}

func TestDimensionsMissingFile(t *testing.T) {
	r := testRenderer(t, t.TempDir())
	if _, err := r.Dimensions("/nonexistent/image.jpg"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRenderCropsToArea(t *testing.T) {
	dir := t.TempDir()
	path := writeTestImage(t, dir, 800, 600)

	r := testRenderer(t, dir)
	area := models.CropArea{X: 100, Y: 50, Width: 400, Height: 400, Confidence: 0.9}
	outputPath, dims, err := r.Render(context.Background(), path, area, models.RatioSquare)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if _, err := os.Stat(outputPath); err != nil {
		t.Fatalf("output file missing: %v", err)
	}
	// Standard-Richtlinie verbietet Upscaling: Ausgabe nie größer als der Zuschnitt
	if dims.Width > area.Width || dims.Height > area.Height {
		t.Errorf("output %dx%d exceeds crop %dx%d", dims.Width, dims.Height, area.Width, area.Height)
	}

	written, err := r.Dimensions(outputPath)
	if err != nil {
		t.Fatalf("failed to read output dimensions: %v", err)
	}
	if written != dims {
		t.Errorf("reported dimensions %+v differ from file %+v", dims, written)
	}
}

func TestRenderHonorsCancelledContext(t *testing.T) {
	dir := t.TempDir()
	path := writeTestImage(t, dir, 100, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := testRenderer(t, dir)
	area := models.CropArea{X: 0, Y: 0, Width: 100, Height: 100}
	if _, _, err := r.Render(ctx, path, area, models.RatioSquare); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestRenderOutputFormat(t *testing.T) {
	dir := t.TempDir()
	path := writeTestImage(t, dir, 300, 300)

	for _, format := range []string{"jpeg", "png"} {
		r := NewRenderer(config.RenderingConfig{Format: format}, geometry.DefaultPolicy(), dir)
		outputPath, _, err := r.Render(context.Background(), path, models.CropArea{Width: 300, Height: 300}, models.RatioSquare)
		if err != nil {
			t.Fatalf("Render with format %s failed: %v", format, err)
		}
		wantExt := ".jpg"
		if format == "png" {
			wantExt = ".png"
		}
		if got := filepath.Ext(outputPath); got != wantExt {
			t.Errorf("format %s: expected extension %s, got %s", format, wantExt, got)
		}
	}
}
