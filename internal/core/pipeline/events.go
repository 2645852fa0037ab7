package pipeline

import (
	"photoflow-go/internal/core/models"
)

// Event ist eine typisierte Benachrichtigung des Orchestrators an passive
// Beobachter
type Event interface {
	Kind() string
}

// QueueUpdatedEvent wird bei jeder Änderung von Warteschlange oder
// Aktiv-Menge gesendet
type QueueUpdatedEvent struct {
	QueueLength int `json:"queue_length"`
	ActiveJobs  int `json:"active_jobs"`
}

func (QueueUpdatedEvent) Kind() string { return "queue_updated" }

// ProgressUpdatedEvent meldet den Fortschritt eines laufenden Jobs
type ProgressUpdatedEvent struct {
	JobID    string             `json:"job_id"`
	Progress models.JobProgress `json:"progress"`
	Status   models.JobStatus   `json:"status"`
}

func (ProgressUpdatedEvent) Kind() string { return "progress_updated" }

// JobCompletedEvent meldet den erfolgreichen Abschluss eines Jobs
type JobCompletedEvent struct {
	JobID       string   `json:"job_id"`
	OutputPaths []string `json:"output_paths"`
	SheetPaths  []string `json:"sheet_paths,omitempty"`
	ArchivePath string   `json:"archive_path,omitempty"`
}

func (JobCompletedEvent) Kind() string { return "job_completed" }

// JobFailedEvent meldet das endgültige Scheitern eines Jobs
type JobFailedEvent struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

func (JobFailedEvent) Kind() string { return "job_failed" }

// Observer empfängt Pipeline-Ereignisse. Implementierungen dürfen nicht
// blockieren; der Orchestrator wartet nicht auf die Verarbeitung.
type Observer interface {
	Notify(event Event)
}

// ObserverFunc erlaubt einfache Funktions-Beobachter
type ObserverFunc func(event Event)

// Notify implementiert das Observer-Interface
func (f ObserverFunc) Notify(event Event) { f(event) }
