package composition

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"photoflow-go/config"
	"photoflow-go/internal/core/models"

	"github.com/disintegration/imaging"
)

func writeTestImages(t *testing.T, dir string, count int) []string {
	t.Helper()
	paths := make([]string, 0, count)
	for i := 0; i < count; i++ {
		img := imaging.New(400, 400, color.NRGBA{R: uint8(40 * i), G: 120, B: 200, A: 255})
		path := filepath.Join(dir, "img-"+string(rune('a'+i))+".jpg")
		if err := imaging.Save(img, path); err != nil {
			t.Fatalf("failed to write test image: %v", err)
		}
		paths = append(paths, path)
	}
	return paths
}

func testSheetsConfig() config.SheetsConfig {
	return config.SheetsConfig{Rows: 2, Columns: 2, Orientation: "portrait", Format: "jpeg"}
}

func TestComposeLocalGrid(t *testing.T) {
	dir := t.TempDir()
	paths := writeTestImages(t, dir, 4)

	c := NewComposer(testSheetsConfig(), nil, dir)
	sheet, err := c.Compose(context.Background(), paths, models.SheetOptions{Rows: 2, Columns: 2})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	if _, err := os.Stat(sheet.OutputPath); err != nil {
		t.Fatalf("sheet file missing: %v", err)
	}
	if sheet.Rows != 2 || sheet.Columns != 2 {
		t.Errorf("expected 2x2 grid, got %dx%d", sheet.Rows, sheet.Columns)
	}
	// Hochformat: 10x15 cm bei 300 DPI
	if sheet.Width != sheetShortSide || sheet.Height != sheetLongSide {
		t.Errorf("expected %dx%d sheet, got %dx%d", sheetShortSide, sheetLongSide, sheet.Width, sheet.Height)
	}
}

func TestComposeDefaultsFromConfig(t *testing.T) {
	dir := t.TempDir()
	paths := writeTestImages(t, dir, 1)

	c := NewComposer(testSheetsConfig(), nil, dir)
	sheet, err := c.Compose(context.Background(), paths, models.SheetOptions{})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if sheet.Rows != 2 || sheet.Columns != 2 {
		t.Errorf("expected config defaults 2x2, got %dx%d", sheet.Rows, sheet.Columns)
	}
}

func TestComposeLandscapeOrientation(t *testing.T) {
	dir := t.TempDir()
	paths := writeTestImages(t, dir, 2)

	c := NewComposer(testSheetsConfig(), nil, dir)
	sheet, err := c.Compose(context.Background(), paths, models.SheetOptions{Rows: 1, Columns: 2, Orientation: "landscape"})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if sheet.Width != sheetLongSide || sheet.Height != sheetShortSide {
		t.Errorf("expected landscape %dx%d, got %dx%d", sheetLongSide, sheetShortSide, sheet.Width, sheet.Height)
	}
}

func TestComposeNoImages(t *testing.T) {
	c := NewComposer(testSheetsConfig(), nil, t.TempDir())
	if _, err := c.Compose(context.Background(), nil, models.SheetOptions{}); err == nil {
		t.Fatal("expected error for empty image list")
	}
}
