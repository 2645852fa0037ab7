package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	log "github.com/sirupsen/logrus"
)

// Archiver bündelt die Ausgabedateien eines Jobs in ein ZIP-Archiv
type Archiver struct {
	outputDir string
}

// NewArchiver erstellt einen neuen Archiver
func NewArchiver(outputDir string) *Archiver {
	return &Archiver{outputDir: outputDir}
}

// Archive schreibt die übergebenen Dateien in <outputDir>/<jobID>.zip und
// liefert den Archivpfad
func (a *Archiver) Archive(ctx context.Context, jobID string, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", fmt.Errorf("no files to archive for job %s", jobID)
	}
	if err := os.MkdirAll(a.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	archivePath := filepath.Join(a.outputDir, jobID+".zip")
	archive, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive %s: %w", archivePath, err)
	}
	defer archive.Close()

	writer := zip.NewWriter(archive)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			writer.Close()
			os.Remove(archivePath)
			return "", err
		}
		if err := addFile(writer, path); err != nil {
			writer.Close()
			os.Remove(archivePath)
			return "", err
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize archive %s: %w", archivePath, err)
	}

	log.Infof("Archived %d files for job %s to %s", len(paths), jobID, archivePath)
	return archivePath, nil
}

// addFile schreibt eine einzelne Datei unter ihrem Basisnamen ins Archiv
func addFile(writer *zip.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s for archiving: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to build archive header for %s: %w", path, err)
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	entry, err := writer.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create archive entry for %s: %w", path, err)
	}
	if _, err := io.Copy(entry, file); err != nil {
		return fmt.Errorf("failed to write %s into archive: %w", path, err)
	}
	return nil
}
