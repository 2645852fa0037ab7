package cleanup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"photoflow-go/config"
	"photoflow-go/internal/core/models"
	"photoflow-go/internal/db/repository"

	log "github.com/sirupsen/logrus"
)

// CleanupService ist verantwortlich für die automatische Bereinigung alter
// Job-Artefakte. Er wird außerdem vom Orchestrator für die verzögerte
// Bereinigung einzelner Jobs nach Erreichen eines Endzustands verwendet.
type CleanupService struct {
	repo          repository.Repository
	config        config.CleanupConfig
	checkInterval time.Duration
}

// NewCleanupService erstellt einen neuen Cleanup-Service
func NewCleanupService(repo repository.Repository, cfg config.CleanupConfig) *CleanupService {
	return &CleanupService{
		repo:          repo,
		config:        cfg,
		checkInterval: 24 * time.Hour, // Standardmäßig einmal täglich prüfen
	}
}

// Start startet den Bereinigungsdienst im Hintergrund
func (s *CleanupService) Start(ctx context.Context) {
	log.Info("Cleanup service started")

	// Sofort eine erste Bereinigung durchführen
	if err := s.RunCleanup(ctx); err != nil {
		log.Errorf("Initial cleanup failed: %v", err)
	}

	// Ticker für regelmäßige Bereinigung einrichten
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Info("Running scheduled cleanup")
			if err := s.RunCleanup(ctx); err != nil {
				log.Errorf("Scheduled cleanup failed: %v", err)
			}
		case <-ctx.Done():
			log.Info("Cleanup service stopped")
			return
		}
	}
}

// CleanupJob löscht die hochgeladenen Quelldateien eines einzelnen Jobs.
// Ausgaben und Archive bleiben bis zur Aufbewahrungsfrist erhalten, damit der
// Nutzer sie noch herunterladen kann.
func (s *CleanupService) CleanupJob(jobID string) {
	job, err := s.repo.GetJob(jobID)
	if err != nil || job == nil {
		log.Warnf("Cleanup skipped, job %s not found: %v", jobID, err)
		return
	}

	var files []string
	if err := json.Unmarshal(job.Files, &files); err != nil {
		log.Errorf("Cleanup of job %s failed, corrupt file list: %v", jobID, err)
		return
	}

	removed := removeFiles(files)
	log.Infof("Cleaned up %d/%d uploaded files of job %s", removed, len(files), jobID)
}

// RunCleanup löscht Jobs, deren Aufbewahrungsfrist abgelaufen ist, samt aller
// physischen Artefakte
func (s *CleanupService) RunCleanup(ctx context.Context) error {
	if s.config.RetentionDays <= 0 {
		log.Info("Cleanup disabled (retention days <= 0)")
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.config.RetentionDays)
	log.Infof("Cleaning up jobs finished before %s", cutoff.Format("2006-01-02"))

	jobs, err := s.repo.GetJobsCompletedBefore(cutoff)
	if err != nil {
		return fmt.Errorf("failed to find expired jobs: %w", err)
	}

	log.Infof("Found %d jobs to clean up", len(jobs))

	var deleteCount int
	var errorCount int
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.deleteJobArtifacts(&job); err != nil {
			log.Errorf("Failed to clean up job %s: %v", job.ID, err)
			errorCount++
			continue
		}
		if err := s.repo.DeleteJob(job.ID); err != nil {
			log.Errorf("Failed to delete job record %s: %v", job.ID, err)
			errorCount++
			continue
		}
		deleteCount++
	}

	log.Infof("Cleanup completed: deleted %d jobs, encountered %d errors", deleteCount, errorCount)
	return nil
}

// deleteJobArtifacts löscht Uploads, Ausgaben, Druckbögen und Archiv eines Jobs
func (s *CleanupService) deleteJobArtifacts(job *models.Job) error {
	var files []string
	if err := json.Unmarshal(job.Files, &files); err != nil {
		return fmt.Errorf("corrupt file list: %w", err)
	}
	removeFiles(files)

	images, err := s.repo.GetProcessedImages(job.ID)
	if err != nil {
		return fmt.Errorf("failed to load processed images: %w", err)
	}
	for _, img := range images {
		removeFile(img.OutputPath)
	}

	sheets, err := s.repo.GetComposedSheets(job.ID)
	if err != nil {
		return fmt.Errorf("failed to load sheets: %w", err)
	}
	for _, sheet := range sheets {
		removeFile(sheet.OutputPath)
	}

	return nil
}

// removeFiles löscht eine Liste von Dateien und liefert die Anzahl der
// tatsächlich gelöschten
func removeFiles(paths []string) int {
	removed := 0
	for _, path := range paths {
		if removeFile(path) {
			removed++
		}
	}
	return removed
}

// removeFile löscht eine Datei; eine bereits fehlende Datei gilt nicht als Fehler
func removeFile(path string) bool {
	if path == "" {
		return false
	}
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("Failed to delete file %s: %v", path, err)
		}
		return false
	}
	return true
}
