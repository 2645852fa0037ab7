package rendering

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"photoflow-go/config"
	"photoflow-go/internal/core/geometry"
	"photoflow-go/internal/core/models"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp" // WebP-Dekodierung für DecodeConfig registrieren
)

// Renderer wendet geplante Zuschnitte auf Quelldateien an und schreibt die
// Ausgabedateien. Die Ausgabemaße folgen der Fit-Inside-Regel: nie größer als
// der Quell-Zuschnitt, sofern die Richtlinie kein Upscaling erlaubt.
type Renderer struct {
	cfg       config.RenderingConfig
	policy    geometry.Policy
	outputDir string
}

// NewRenderer erstellt einen neuen Renderer
func NewRenderer(cfg config.RenderingConfig, policy geometry.Policy, outputDir string) *Renderer {
	return &Renderer{cfg: cfg, policy: policy, outputDir: outputDir}
}

// Dimensions liest die Pixelmaße einer Bilddatei, ohne sie vollständig zu
// dekodieren
func (r *Renderer) Dimensions(imagePath string) (models.Dimensions, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return models.Dimensions{}, fmt.Errorf("failed to open image %s: %w", imagePath, err)
	}
	defer file.Close()

	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return models.Dimensions{}, fmt.Errorf("failed to decode image config of %s: %w", imagePath, err)
	}
	return models.Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
}

// Render schneidet die Quelldatei auf den CropArea zu, skaliert auf die
// Fit-Inside-Maße und schreibt die Ausgabedatei. Liefert Pfad und Maße der
// Ausgabe.
func (r *Renderer) Render(ctx context.Context, sourcePath string, area models.CropArea, target models.AspectRatio) (string, models.Dimensions, error) {
	if err := ctx.Err(); err != nil {
		return "", models.Dimensions{}, err
	}

	src, err := imaging.Open(sourcePath, imaging.AutoOrientation(true))
	if err != nil {
		return "", models.Dimensions{}, fmt.Errorf("failed to open image %s: %w", sourcePath, err)
	}

	rect := image.Rect(area.X, area.Y, area.X+area.Width, area.Y+area.Height)
	cropped := imaging.Crop(src, rect)

	cropDims := models.Dimensions{Width: cropped.Bounds().Dx(), Height: cropped.Bounds().Dy()}
	finalDims := geometry.FitInside(cropDims, target.Ratio(), r.policy)

	out := cropped
	if finalDims != cropDims {
		out = imaging.Resize(cropped, finalDims.Width, finalDims.Height, imaging.Lanczos)
	}

	outputPath := filepath.Join(r.outputDir, fmt.Sprintf("%s.%s", uuid.NewString(), r.extension()))
	if err := r.save(out, outputPath); err != nil {
		return "", models.Dimensions{}, err
	}

	log.Debugf("Rendered %s -> %s (%dx%d, crop %+v)", sourcePath, outputPath, finalDims.Width, finalDims.Height, area)
	return outputPath, finalDims, nil
}

// extension liefert die Dateiendung des konfigurierten Formats
func (r *Renderer) extension() string {
	switch strings.ToLower(r.cfg.Format) {
	case "png":
		return "png"
	case "webp":
		return "webp"
	default:
		return "jpg"
	}
}

// save schreibt das Bild im konfigurierten Format
func (r *Renderer) save(img image.Image, path string) error {
	switch strings.ToLower(r.cfg.Format) {
	case "webp":
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file %s: %w", path, err)
		}
		defer file.Close()
		quality := float32(r.cfg.WebPQuality)
		if quality <= 0 {
			quality = 85
		}
		if err := webp.Encode(file, img, &webp.Options{Quality: quality}); err != nil {
			return fmt.Errorf("failed to encode webp %s: %w", path, err)
		}
		return nil
	case "png":
		if err := imaging.Save(img, path); err != nil {
			return fmt.Errorf("failed to save png %s: %w", path, err)
		}
		return nil
	default:
		quality := r.cfg.JPEGQuality
		if quality <= 0 {
			quality = 90
		}
		if err := imaging.Save(img, path, imaging.JPEGQuality(quality)); err != nil {
			return fmt.Errorf("failed to save jpeg %s: %w", path, err)
		}
		return nil
	}
}
