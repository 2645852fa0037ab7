package composition

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"photoflow-go/config"
	"photoflow-go/internal/core/models"
	"photoflow-go/internal/integrations/visionapi"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	xdraw "golang.org/x/image/draw"
)

// Seitenmaße eines Druckbogens bei 300 DPI (10x15 cm)
const (
	sheetShortSide = 1181
	sheetLongSide  = 1772
	cellMargin     = 24
)

// Composer komponiert Druckbögen aus verarbeiteten Einzelbildern. Primär wird
// die Komposition an den Vision-Dienst delegiert; ist dieser ungesund, wird
// lokal ein einfaches Raster gerendert.
type Composer struct {
	cfg       config.SheetsConfig
	client    *visionapi.Client
	outputDir string
}

// NewComposer erstellt einen neuen Composer. client darf nil sein; dann wird
// immer lokal komponiert.
func NewComposer(cfg config.SheetsConfig, client *visionapi.Client, outputDir string) *Composer {
	return &Composer{cfg: cfg, client: client, outputDir: outputDir}
}

// Compose erzeugt einen Druckbogen aus den übergebenen Bildpfaden
func (c *Composer) Compose(ctx context.Context, imagePaths []string, opts models.SheetOptions) (*models.ComposedSheet, error) {
	if len(imagePaths) == 0 {
		return nil, fmt.Errorf("no images to compose")
	}
	if opts.Rows <= 0 {
		opts.Rows = c.cfg.Rows
	}
	if opts.Columns <= 0 {
		opts.Columns = c.cfg.Columns
	}
	if opts.Orientation == "" {
		opts.Orientation = c.cfg.Orientation
	}
	if opts.Format == "" {
		opts.Format = c.cfg.Format
	}

	if c.client == nil {
		return c.composeLocally(ctx, imagePaths, opts)
	}

	primary := func(ctx context.Context) (*models.ComposedSheet, error) {
		resp, err := c.client.ComposeSheet(ctx, visionapi.ComposeSheetRequest{
			ProcessedImages:  imagePaths,
			GridLayout:       visionapi.GridLayout{Rows: opts.Rows, Columns: opts.Columns},
			SheetOrientation: opts.Orientation,
			OutputFormat:     opts.Format,
		})
		if err != nil {
			return nil, err
		}
		return &models.ComposedSheet{
			OutputPath: resp.OutputPath,
			Format:     resp.Format,
			Rows:       opts.Rows,
			Columns:    opts.Columns,
			Width:      resp.Dimensions.Width,
			Height:     resp.Dimensions.Height,
		}, nil
	}

	return visionapi.WithFallback(ctx, c.client, primary, func() (*models.ComposedSheet, error) {
		log.Warn("Composing sheet locally, vision service unavailable")
		return c.composeLocally(ctx, imagePaths, opts)
	})
}

// composeLocally rendert ein Raster aus den Bildern auf weißem Grund
func (c *Composer) composeLocally(ctx context.Context, imagePaths []string, opts models.SheetOptions) (*models.ComposedSheet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	width, height := sheetShortSide, sheetLongSide
	if opts.Orientation == "landscape" {
		width, height = sheetLongSide, sheetShortSide
	}

	sheet := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.Draw(sheet, sheet.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)

	cellWidth := (width - cellMargin*(opts.Columns+1)) / opts.Columns
	cellHeight := (height - cellMargin*(opts.Rows+1)) / opts.Rows
	if cellWidth <= 0 || cellHeight <= 0 {
		return nil, fmt.Errorf("grid %dx%d leaves no room on %dx%d sheet", opts.Rows, opts.Columns, width, height)
	}

	capacity := opts.Rows * opts.Columns
	for i, path := range imagePaths {
		if i >= capacity {
			log.Warnf("Sheet grid %dx%d full, skipping %d remaining images", opts.Rows, opts.Columns, len(imagePaths)-capacity)
			break
		}

		img, err := imaging.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s for sheet: %w", path, err)
		}

		// In die Zelle einpassen, Seitenverhältnis bleibt erhalten
		fitted := imaging.Fit(img, cellWidth, cellHeight, imaging.Lanczos)

		row := i / opts.Columns
		col := i % opts.Columns
		cellX := cellMargin + col*(cellWidth+cellMargin)
		cellY := cellMargin + row*(cellHeight+cellMargin)
		offsetX := cellX + (cellWidth-fitted.Bounds().Dx())/2
		offsetY := cellY + (cellHeight-fitted.Bounds().Dy())/2

		target := image.Rect(offsetX, offsetY, offsetX+fitted.Bounds().Dx(), offsetY+fitted.Bounds().Dy())
		xdraw.Draw(sheet, target, fitted, fitted.Bounds().Min, xdraw.Over)
	}

	format := opts.Format
	if format != "png" {
		format = "jpeg"
	}
	ext := "jpg"
	if format == "png" {
		ext = "png"
	}
	outputPath := filepath.Join(c.outputDir, fmt.Sprintf("sheet-%s.%s", uuid.NewString(), ext))

	if err := os.MkdirAll(c.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sheet output directory: %w", err)
	}
	if err := imaging.Save(sheet, outputPath, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("failed to save sheet %s: %w", outputPath, err)
	}

	log.Infof("Composed %d images into local sheet %s (%dx%d grid)", min(len(imagePaths), capacity), outputPath, opts.Rows, opts.Columns)
	return &models.ComposedSheet{
		OutputPath: outputPath,
		Format:     format,
		Rows:       opts.Rows,
		Columns:    opts.Columns,
		Width:      width,
		Height:     height,
	}, nil
}
