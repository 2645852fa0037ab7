package repository

import (
	"errors"
	"time"

	"photoflow-go/internal/core/models"

	"gorm.io/gorm"
)

// Repository definiert die Schnittstelle für die Datenbank-Operationen
type Repository interface {
	// Job-Methoden
	CreateJob(job *models.Job) error
	UpdateJob(job *models.Job) error
	GetJob(id string) (*models.Job, error)
	GetJobs(limit, offset int) ([]models.Job, int64, error)
	GetJobsByUser(userID string, limit, offset int) ([]models.Job, int64, error)
	GetJobsCompletedBefore(cutoff time.Time) ([]models.Job, error)
	DeleteJob(id string) error

	// ProcessedImage-Methoden
	CreateProcessedImage(img *models.ProcessedImage) error
	GetProcessedImages(jobID string) ([]models.ProcessedImage, error)

	// Sheet-Methoden
	CreateComposedSheet(sheet *models.ComposedSheet) error
	GetComposedSheets(jobID string) ([]models.ComposedSheet, error)

	// Statistik-Methoden
	GetStatistics() (models.Statistics, error)
}

// SQLiteRepository implementiert die Repository-Schnittstelle für SQLite
type SQLiteRepository struct {
	db *gorm.DB
}

// NewSQLiteRepository erstellt eine neue SQLite-Repository-Instanz
func NewSQLiteRepository(db *gorm.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Job-Methoden

// CreateJob legt einen neuen Job an
func (r *SQLiteRepository) CreateJob(job *models.Job) error {
	return r.db.Create(job).Error
}

// UpdateJob speichert den aktuellen Zustand eines Jobs
func (r *SQLiteRepository) UpdateJob(job *models.Job) error {
	return r.db.Save(job).Error
}

// GetJob holt einen Job anhand seiner ID; nil ohne Fehler, wenn er fehlt
func (r *SQLiteRepository) GetJob(id string) (*models.Job, error) {
	var job models.Job
	result := r.db.Preload("ProcessedImages").Preload("Sheets").First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &job, nil
}

// GetJobs holt Jobs mit Pagination, neueste zuerst
func (r *SQLiteRepository) GetJobs(limit, offset int) ([]models.Job, int64, error) {
	var jobs []models.Job
	var total int64

	r.db.Model(&models.Job{}).Count(&total)
	result := r.db.Order("created_at DESC").Limit(limit).Offset(offset).Find(&jobs)
	if result.Error != nil {
		return nil, 0, result.Error
	}
	return jobs, total, nil
}

// GetJobsByUser holt die Jobs eines Nutzers mit Pagination
func (r *SQLiteRepository) GetJobsByUser(userID string, limit, offset int) ([]models.Job, int64, error) {
	var jobs []models.Job
	var total int64

	r.db.Model(&models.Job{}).Where("user_id = ?", userID).Count(&total)
	result := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&jobs)
	if result.Error != nil {
		return nil, 0, result.Error
	}
	return jobs, total, nil
}

// GetJobsCompletedBefore holt alle Jobs, die vor dem Stichtag einen Endzustand
// erreicht haben
func (r *SQLiteRepository) GetJobsCompletedBefore(cutoff time.Time) ([]models.Job, error) {
	var jobs []models.Job
	result := r.db.Where("completed_at IS NOT NULL AND completed_at < ?", cutoff).Find(&jobs)
	if result.Error != nil {
		return nil, result.Error
	}
	return jobs, nil
}

// DeleteJob löscht einen Job samt abhängiger Datensätze
func (r *SQLiteRepository) DeleteJob(id string) error {
	return r.db.Select("ProcessedImages", "Sheets").Delete(&models.Job{ID: id}).Error
}

// ProcessedImage-Methoden

// CreateProcessedImage legt ein verarbeitetes Bild an
func (r *SQLiteRepository) CreateProcessedImage(img *models.ProcessedImage) error {
	return r.db.Create(img).Error
}

// GetProcessedImages holt alle verarbeiteten Bilder eines Jobs
func (r *SQLiteRepository) GetProcessedImages(jobID string) ([]models.ProcessedImage, error) {
	var images []models.ProcessedImage
	result := r.db.Where("job_id = ?", jobID).Find(&images)
	if result.Error != nil {
		return nil, result.Error
	}
	return images, nil
}

// Sheet-Methoden

// CreateComposedSheet legt einen komponierten Druckbogen an
func (r *SQLiteRepository) CreateComposedSheet(sheet *models.ComposedSheet) error {
	return r.db.Create(sheet).Error
}

// GetComposedSheets holt alle Druckbögen eines Jobs
func (r *SQLiteRepository) GetComposedSheets(jobID string) ([]models.ComposedSheet, error) {
	var sheets []models.ComposedSheet
	result := r.db.Where("job_id = ?", jobID).Find(&sheets)
	if result.Error != nil {
		return nil, result.Error
	}
	return sheets, nil
}

// Statistik-Methoden

// GetStatistics gibt Statistiken über die gespeicherten Daten zurück
func (r *SQLiteRepository) GetStatistics() (models.Statistics, error) {
	var stats models.Statistics

	if err := r.db.Model(&models.Job{}).Count(&stats.TotalJobs).Error; err != nil {
		return stats, err
	}

	activeStates := []models.JobStatus{models.JobProcessing, models.JobComposing, models.JobGeneratingOutput}
	if err := r.db.Model(&models.Job{}).Where("status IN ?", activeStates).Count(&stats.ActiveJobs).Error; err != nil {
		return stats, err
	}
	if err := r.db.Model(&models.Job{}).Where("status = ?", models.JobCompleted).Count(&stats.CompletedJobs).Error; err != nil {
		return stats, err
	}
	if err := r.db.Model(&models.Job{}).Where("status = ?", models.JobFailed).Count(&stats.FailedJobs).Error; err != nil {
		return stats, err
	}

	if err := r.db.Model(&models.ProcessedImage{}).Count(&stats.TotalImages).Error; err != nil {
		return stats, err
	}
	if err := r.db.Model(&models.ComposedSheet{}).Count(&stats.TotalSheets).Error; err != nil {
		return stats, err
	}

	// Ermittle den neuesten Job
	var latest models.Job
	if err := r.db.Order("created_at DESC").First(&latest).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return stats, err
		}
	} else {
		stats.LatestJobAt = &latest.CreatedAt
	}

	// Hole die letzten 5 Jobs
	if err := r.db.Order("created_at DESC").Limit(5).Find(&stats.RecentJobs).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return stats, err
		}
	}

	return stats, nil
}
