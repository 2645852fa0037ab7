package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"photoflow-go/config"
	"photoflow-go/internal/core/geometry"
	"photoflow-go/internal/core/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Lokale Validierungsfehler der Job-Annahme
var (
	ErrNoFiles      = errors.New("job must contain at least one file")
	ErrInvalidRatio = errors.New("target aspect ratio must have positive width and height")
	ErrJobNotFound  = errors.New("job not found")
	ErrJobTerminal  = errors.New("job already reached a terminal state")
)

// StageError kennzeichnet einen Fehler innerhalb einer Verarbeitungsstufe.
// Er wird an der Job-Grenze gefangen und als endgültiges Scheitern des Jobs
// verbucht, nie verschluckt.
type StageError struct {
	Stage models.JobStatus
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Storage ist der Persistenz-Kollaborateur des Orchestrators
type Storage interface {
	CreateJob(job *models.Job) error
	UpdateJob(job *models.Job) error
	GetJob(id string) (*models.Job, error)
	CreateProcessedImage(img *models.ProcessedImage) error
	CreateComposedSheet(sheet *models.ComposedSheet) error
}

// Detector beschafft Erkennungsdaten für ein Bild (üblicherweise über den
// entfernten Vision-Dienst)
type Detector interface {
	Detect(ctx context.Context, imagePath string) (*models.DetectionResult, error)
}

// Renderer wendet einen Zuschnitt auf eine Quelldatei an und erzeugt eine
// Ausgabedatei
type Renderer interface {
	Dimensions(imagePath string) (models.Dimensions, error)
	Render(ctx context.Context, sourcePath string, area models.CropArea, target models.AspectRatio) (string, models.Dimensions, error)
}

// Composer komponiert einen Druckbogen aus verarbeiteten Bildern
type Composer interface {
	Compose(ctx context.Context, imagePaths []string, opts models.SheetOptions) (*models.ComposedSheet, error)
}

// Archiver bündelt die Ausgaben eines Jobs in ein Archiv
type Archiver interface {
	Archive(ctx context.Context, jobID string, paths []string) (string, error)
}

// Cleaner löscht die physischen Artefakte eines Jobs
type Cleaner interface {
	CleanupJob(jobID string)
}

// Deps bündelt die Kollaborateure des Orchestrators. Detector, Composer,
// Archiver und Cleaner sind optional.
type Deps struct {
	Store    Storage
	Detector Detector
	Renderer Renderer
	Composer Composer
	Archiver Archiver
	Cleaner  Cleaner
}

// QueueStatus beschreibt den aktuellen Zustand der Warteschlange
type QueueStatus struct {
	QueueLength   int `json:"queue_length"`
	ActiveJobs    int `json:"active_jobs"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Orchestrator besitzt die Job-Warteschlange, die Nebenläufigkeits-Begrenzung
// und die Zustandsmaschine pro Job. Er wird einmal pro Prozess konstruiert und
// per Dependency-Injection weitergereicht; es gibt keine Paket-Singletons.
type Orchestrator struct {
	cfg    config.PipelineConfig
	policy geometry.Policy
	deps   Deps

	mu        sync.Mutex
	queue     *jobQueue
	active    map[string]struct{}
	cancelled map[string]bool

	obsMu     sync.RWMutex
	observers []Observer

	events chan Event
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewOrchestrator erstellt einen neuen Pipeline-Orchestrator
func NewOrchestrator(cfg config.PipelineConfig, policy geometry.Policy, deps Deps) *Orchestrator {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 3
	}
	if cfg.SchedulerIntervalMs <= 0 {
		cfg.SchedulerIntervalMs = 1000
	}
	if cfg.CleanupDelayMinutes <= 0 {
		cfg.CleanupDelayMinutes = 60
	}

	return &Orchestrator{
		cfg:       cfg,
		policy:    policy,
		deps:      deps,
		queue:     newJobQueue(),
		active:    make(map[string]struct{}),
		cancelled: make(map[string]bool),
		events:    make(chan Event, 256),
		stop:      make(chan struct{}),
	}
}

// Subscribe registriert einen Beobachter für Pipeline-Ereignisse
func (o *Orchestrator) Subscribe(observer Observer) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	o.observers = append(o.observers, observer)
}

// Start startet Ereignis-Verteiler und Scheduler-Schleife
func (o *Orchestrator) Start(ctx context.Context) {
	o.wg.Add(2)

	// Ereignis-Verteiler: fächert Ereignisse an alle Beobachter auf
	go func() {
		defer o.wg.Done()
		for {
			select {
			case event := <-o.events:
				o.obsMu.RLock()
				observers := o.observers
				o.obsMu.RUnlock()
				for _, observer := range observers {
					observer.Notify(event)
				}
			case <-ctx.Done():
				return
			case <-o.stop:
				return
			}
		}
	}()

	// Scheduler: lässt wartende Jobs bis zur Kapazitätsgrenze zu
	go func() {
		defer o.wg.Done()
		interval := time.Duration(o.cfg.SchedulerIntervalMs) * time.Millisecond
		log.Infof("Pipeline scheduler started (interval %s, max %d concurrent jobs)",
			interval, o.cfg.MaxConcurrentJobs)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				o.admitJobs(ctx)
			case <-ctx.Done():
				log.Info("Pipeline scheduler stopped")
				return
			case <-o.stop:
				log.Info("Pipeline scheduler stopped")
				return
			}
		}
	}()
}

// Stop beendet Scheduler und Verteiler und wartet auf deren Ende
func (o *Orchestrator) Stop() {
	close(o.stop)
	o.wg.Wait()
}

// CreateJob validiert die Eingaben, persistiert den Job und reiht ihn ein
func (o *Orchestrator) CreateJob(ctx context.Context, files []string, options models.ProcessingOptions, userID string, priority int) (*models.Job, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if !options.TargetRatio.Valid() {
		return nil, ErrInvalidRatio
	}

	filesJSON, err := json.Marshal(files)
	if err != nil {
		return nil, fmt.Errorf("failed to encode file list: %w", err)
	}
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("failed to encode options: %w", err)
	}

	job := &models.Job{
		ID:       uuid.NewString(),
		UserID:   userID,
		Status:   models.JobPending,
		Priority: priority,
		Files:    datatypes.JSON(filesJSON),
		Options:  datatypes.JSON(optionsJSON),
		Progress: models.JobProgress{TotalImages: len(files)},
	}

	if err := o.deps.Store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	o.mu.Lock()
	o.queue.Push(job.ID, priority)
	queueLen := o.queue.Len()
	activeLen := len(o.active)
	o.mu.Unlock()

	log.Infof("Job %s created for user %s (%d files, priority %d)", job.ID, userID, len(files), priority)
	o.emit(QueueUpdatedEvent{QueueLength: queueLen, ActiveJobs: activeLen})

	return job, nil
}

// GetJobStatus liefert den aktuellen Zustand eines Jobs
func (o *Orchestrator) GetJobStatus(jobID string) (*models.Job, error) {
	job, err := o.deps.Store.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// GetQueueStatus liefert den Zustand von Warteschlange und Aktiv-Menge
func (o *Orchestrator) GetQueueStatus() QueueStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return QueueStatus{
		QueueLength:   o.queue.Len(),
		ActiveJobs:    len(o.active),
		MaxConcurrent: o.cfg.MaxConcurrentJobs,
	}
}

// CancelJob bricht einen Job ab. Wartende Jobs werden sofort entfernt;
// laufende Jobs erhalten ein Abbruch-Flag, das an jeder Bild-Grenze geprüft
// wird.
func (o *Orchestrator) CancelJob(jobID string) error {
	job, err := o.deps.Store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return ErrJobTerminal
	}

	o.mu.Lock()
	removed := o.queue.Remove(jobID)
	if !removed {
		// Läuft bereits: Flag setzen, der Job beendet sich selbst
		o.cancelled[jobID] = true
	}
	queueLen := o.queue.Len()
	activeLen := len(o.active)
	o.mu.Unlock()

	if removed {
		job.Status = models.JobCancelled
		now := time.Now()
		job.CompletedAt = &now
		if err := o.deps.Store.UpdateJob(job); err != nil {
			return fmt.Errorf("failed to persist cancellation: %w", err)
		}
		log.Infof("Job %s cancelled while queued", jobID)
		o.emit(QueueUpdatedEvent{QueueLength: queueLen, ActiveJobs: activeLen})
		o.emit(ProgressUpdatedEvent{JobID: jobID, Progress: job.Progress, Status: job.Status})
		o.scheduleCleanup(jobID)
		return nil
	}

	log.Infof("Job %s flagged for cancellation (in flight)", jobID)
	return nil
}

// admitJobs lässt wartende Jobs zu, solange Kapazität frei ist
func (o *Orchestrator) admitJobs(ctx context.Context) {
	for {
		o.mu.Lock()
		if len(o.active) >= o.cfg.MaxConcurrentJobs || o.queue.Len() == 0 {
			o.mu.Unlock()
			return
		}
		jobID, ok := o.queue.Pop()
		if !ok {
			o.mu.Unlock()
			return
		}
		// Doppelstart-Schutz: ein bereits laufender Job wird nie erneut
		// gestartet
		if _, running := o.active[jobID]; running {
			o.mu.Unlock()
			continue
		}
		o.active[jobID] = struct{}{}
		queueLen := o.queue.Len()
		activeLen := len(o.active)
		o.mu.Unlock()

		o.emit(QueueUpdatedEvent{QueueLength: queueLen, ActiveJobs: activeLen})

		o.wg.Add(1)
		go func(id string) {
			defer o.wg.Done()
			o.runJob(ctx, id)
		}(jobID)
	}
}

// runJob führt alle Stufen eines Jobs aus. Fehler jeder Stufe werden hier
// gefangen und in einen endgültigen failed-Zustand überführt; eine Panik darf
// die Warteschlangen-Buchführung nicht beschädigen.
func (o *Orchestrator) runJob(ctx context.Context, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Job %s panicked: %v", jobID, r)
			if job, err := o.deps.Store.GetJob(jobID); err == nil && job != nil {
				o.failJob(job, fmt.Errorf("internal error: %v", r))
			}
		}
	}()

	job, err := o.deps.Store.GetJob(jobID)
	if err != nil || job == nil {
		log.Errorf("Job %s vanished before start: %v", jobID, err)
		o.release(jobID)
		return
	}
	if job.Status != models.JobPending {
		log.Warnf("Job %s not pending (status %s), skipping start", jobID, job.Status)
		o.release(jobID)
		return
	}

	var files []string
	if err := json.Unmarshal(job.Files, &files); err != nil {
		o.failJob(job, &StageError{Stage: models.JobProcessing, Err: fmt.Errorf("corrupt file list: %w", err)})
		return
	}
	var options models.ProcessingOptions
	if err := json.Unmarshal(job.Options, &options); err != nil {
		o.failJob(job, &StageError{Stage: models.JobProcessing, Err: fmt.Errorf("corrupt options: %w", err)})
		return
	}

	// Stufe 1: Einzelbilder verarbeiten
	job.Status = models.JobProcessing
	job.Progress = models.JobProgress{TotalImages: len(files)}
	if err := o.deps.Store.UpdateJob(job); err != nil {
		o.failJob(job, err)
		return
	}
	o.emit(ProgressUpdatedEvent{JobID: job.ID, Progress: job.Progress, Status: job.Status})

	log.Infof("Job %s processing %d images", job.ID, len(files))

	outputPaths := make([]string, 0, len(files))
	for _, file := range files {
		if o.isCancelled(job.ID) {
			o.cancelInFlight(job)
			return
		}

		outputPath, err := o.processImage(ctx, job, file, options)
		if err != nil {
			o.failJob(job, &StageError{Stage: models.JobProcessing, Err: err})
			return
		}
		outputPaths = append(outputPaths, outputPath)

		job.Progress.ProcessedImages++
		job.Progress.Percentage = int(math.Round(float64(job.Progress.ProcessedImages) / float64(job.Progress.TotalImages) * 100))
		if err := o.deps.Store.UpdateJob(job); err != nil {
			o.failJob(job, err)
			return
		}
		o.emit(ProgressUpdatedEvent{JobID: job.ID, Progress: job.Progress, Status: job.Status})
	}

	// Stufe 2: Druckbogen-Komposition (optional)
	var sheetPaths []string
	if options.Sheet != nil && o.deps.Composer != nil {
		if o.isCancelled(job.ID) {
			o.cancelInFlight(job)
			return
		}

		job.Status = models.JobComposing
		if err := o.deps.Store.UpdateJob(job); err != nil {
			o.failJob(job, err)
			return
		}
		o.emit(ProgressUpdatedEvent{JobID: job.ID, Progress: job.Progress, Status: job.Status})

		sheet, err := o.deps.Composer.Compose(ctx, outputPaths, *options.Sheet)
		if err != nil {
			o.failJob(job, &StageError{Stage: models.JobComposing, Err: err})
			return
		}
		sheet.JobID = job.ID
		if err := o.deps.Store.CreateComposedSheet(sheet); err != nil {
			o.failJob(job, &StageError{Stage: models.JobComposing, Err: err})
			return
		}
		sheetPaths = append(sheetPaths, sheet.OutputPath)
		log.Infof("Job %s composed sheet %s", job.ID, sheet.OutputPath)
	}

	// Stufe 3: Ausgabe-Artefakte (optional)
	var archivePath string
	if options.GenerateArchive && o.deps.Archiver != nil {
		if o.isCancelled(job.ID) {
			o.cancelInFlight(job)
			return
		}

		job.Status = models.JobGeneratingOutput
		if err := o.deps.Store.UpdateJob(job); err != nil {
			o.failJob(job, err)
			return
		}
		o.emit(ProgressUpdatedEvent{JobID: job.ID, Progress: job.Progress, Status: job.Status})

		paths := append(append([]string{}, outputPaths...), sheetPaths...)
		archivePath, err = o.deps.Archiver.Archive(ctx, job.ID, paths)
		if err != nil {
			o.failJob(job, &StageError{Stage: models.JobGeneratingOutput, Err: err})
			return
		}
		log.Infof("Job %s archived output to %s", job.ID, archivePath)
	}

	// Endzustand: completed
	job.Status = models.JobCompleted
	now := time.Now()
	job.CompletedAt = &now
	if err := o.deps.Store.UpdateJob(job); err != nil {
		o.failJob(job, err)
		return
	}

	o.release(job.ID)
	log.Infof("Job %s completed (%d images)", job.ID, len(outputPaths))
	o.emit(ProgressUpdatedEvent{JobID: job.ID, Progress: job.Progress, Status: job.Status})
	o.emit(JobCompletedEvent{JobID: job.ID, OutputPaths: outputPaths, SheetPaths: sheetPaths, ArchivePath: archivePath})
	o.scheduleCleanup(job.ID)
}

// processImage verarbeitet genau ein Bild: Erkennung, Zuschnitt-Planung,
// Rendering, Persistenz
func (o *Orchestrator) processImage(ctx context.Context, job *models.Job, file string, options models.ProcessingOptions) (string, error) {
	dims, err := o.deps.Renderer.Dimensions(file)
	if err != nil {
		return "", fmt.Errorf("failed to read dimensions of %s: %w", file, err)
	}

	detections := models.DetectionResult{}
	if options.DetectionEnabled && o.deps.Detector != nil {
		result, err := o.deps.Detector.Detect(ctx, file)
		if err != nil {
			return "", fmt.Errorf("detection failed for %s: %w", file, err)
		}
		if result != nil {
			detections = *result
		}
	}

	suggestion := geometry.PlanCrop(dims, detections, options.TargetRatio, o.policy)
	log.Debugf("Job %s planned crop for %s: strategy=%s quality=%.2f area=%+v",
		job.ID, file, suggestion.Strategy, suggestion.QualityScore, suggestion.CropArea)

	outputPath, outDims, err := o.deps.Renderer.Render(ctx, file, suggestion.CropArea, options.TargetRatio)
	if err != nil {
		return "", fmt.Errorf("rendering failed for %s: %w", file, err)
	}

	cropJSON, _ := json.Marshal(suggestion.CropArea)
	detJSON, _ := json.Marshal(detections)
	processed := &models.ProcessedImage{
		JobID:        job.ID,
		SourcePath:   file,
		OutputPath:   outputPath,
		Width:        outDims.Width,
		Height:       outDims.Height,
		CropArea:     datatypes.JSON(cropJSON),
		Detections:   datatypes.JSON(detJSON),
		Strategy:     suggestion.Strategy,
		QualityScore: suggestion.QualityScore,
	}
	if err := o.deps.Store.CreateProcessedImage(processed); err != nil {
		return "", fmt.Errorf("failed to persist processed image: %w", err)
	}

	return outputPath, nil
}

// failJob überführt einen Job in den endgültigen failed-Zustand
func (o *Orchestrator) failJob(job *models.Job, cause error) {
	job.Status = models.JobFailed
	job.ErrorMessage = cause.Error()
	now := time.Now()
	job.CompletedAt = &now
	if err := o.deps.Store.UpdateJob(job); err != nil {
		log.Errorf("Failed to persist failure of job %s: %v", job.ID, err)
	}

	o.release(job.ID)
	log.Errorf("Job %s failed: %v", job.ID, cause)
	o.emit(ProgressUpdatedEvent{JobID: job.ID, Progress: job.Progress, Status: job.Status})
	o.emit(JobFailedEvent{JobID: job.ID, Error: cause.Error()})
	o.scheduleCleanup(job.ID)
}

// cancelInFlight überführt einen laufenden Job in den cancelled-Zustand
func (o *Orchestrator) cancelInFlight(job *models.Job) {
	job.Status = models.JobCancelled
	now := time.Now()
	job.CompletedAt = &now
	if err := o.deps.Store.UpdateJob(job); err != nil {
		log.Errorf("Failed to persist cancellation of job %s: %v", job.ID, err)
	}

	o.release(job.ID)
	log.Infof("Job %s cancelled in flight", job.ID)
	o.emit(ProgressUpdatedEvent{JobID: job.ID, Progress: job.Progress, Status: job.Status})
	o.scheduleCleanup(job.ID)
}

// release entfernt einen Job aus der Aktiv-Menge und meldet den neuen
// Warteschlangen-Zustand
func (o *Orchestrator) release(jobID string) {
	o.mu.Lock()
	delete(o.active, jobID)
	delete(o.cancelled, jobID)
	queueLen := o.queue.Len()
	activeLen := len(o.active)
	o.mu.Unlock()

	o.emit(QueueUpdatedEvent{QueueLength: queueLen, ActiveJobs: activeLen})
}

// isCancelled prüft das Abbruch-Flag eines laufenden Jobs
func (o *Orchestrator) isCancelled(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled[jobID]
}

// scheduleCleanup plant die verzögerte Löschung der physischen Artefakte nach
// Erreichen eines Endzustands, unabhängig vom Ausgang
func (o *Orchestrator) scheduleCleanup(jobID string) {
	if o.deps.Cleaner == nil {
		return
	}
	delay := time.Duration(o.cfg.CleanupDelayMinutes) * time.Minute
	time.AfterFunc(delay, func() {
		log.Debugf("Running deferred cleanup for job %s", jobID)
		o.deps.Cleaner.CleanupJob(jobID)
	})
}

// emit stellt ein Ereignis zur Verteilung ein, ohne zu blockieren
func (o *Orchestrator) emit(event Event) {
	select {
	case o.events <- event:
	default:
		log.Warnf("Pipeline event channel full, dropping %s event", event.Kind())
	}
}
