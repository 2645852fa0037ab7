package models

import (
	"math"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AspectRatio repräsentiert ein Ziel-Seitenverhältnis (unveränderlicher Werttyp)
type AspectRatio struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Name   string `json:"name"`
}

// Gängige Seitenverhältnisse für Druckformate
var (
	RatioSquare    = AspectRatio{1, 1, "square"}
	RatioPortrait  = AspectRatio{3, 4, "portrait"}
	RatioLandscape = AspectRatio{4, 3, "landscape"}
	RatioPassport  = AspectRatio{7, 9, "passport"}
	RatioStory     = AspectRatio{9, 16, "story"}
)

// Ratio liefert das numerische Seitenverhältnis (Breite / Höhe)
func (r AspectRatio) Ratio() float64 {
	if r.Height == 0 {
		return 0
	}
	return float64(r.Width) / float64(r.Height)
}

// Valid prüft, ob beide Seiten positiv sind
func (r AspectRatio) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// Dimensions repräsentiert Bildabmessungen in Pixeln
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BoundingBox repräsentiert eine Begrenzungsbox im Bildkoordinatensystem (Pixel)
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CenterX liefert die X-Koordinate des Mittelpunkts
func (b BoundingBox) CenterX() float64 { return b.X + b.Width/2 }

// CenterY liefert die Y-Koordinate des Mittelpunkts
func (b BoundingBox) CenterY() float64 { return b.Y + b.Height/2 }

// Area liefert die Fläche der Box
func (b BoundingBox) Area() float64 { return b.Width * b.Height }

// Union liefert die kleinste Box, die beide Boxen umschließt
func (b BoundingBox) Union(other BoundingBox) BoundingBox {
	x1 := math.Min(b.X, other.X)
	y1 := math.Min(b.Y, other.Y)
	x2 := math.Max(b.X+b.Width, other.X+other.Width)
	y2 := math.Max(b.Y+b.Height, other.Y+other.Height)
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Contains prüft, ob die Box eine andere Box vollständig enthält
func (b BoundingBox) Contains(other BoundingBox) bool {
	return other.X >= b.X && other.Y >= b.Y &&
		other.X+other.Width <= b.X+b.Width &&
		other.Y+other.Height <= b.Y+b.Height
}

// DetectionKind unterscheidet die Arten erkannter Subjekte
type DetectionKind string

const (
	DetectionFace   DetectionKind = "face"
	DetectionPerson DetectionKind = "person"
)

// Detection repräsentiert ein erkanntes Subjekt (Gesicht oder Person)
type Detection struct {
	Kind       DetectionKind `json:"kind"`
	Box        BoundingBox   `json:"box"`
	Confidence float64       `json:"confidence"`
}

// DetectionResult fasst alle Erkennungen eines Bildes zusammen
type DetectionResult struct {
	Faces      []Detection `json:"faces"`
	People     []Detection `json:"people"`
	Confidence float64     `json:"confidence"`
}

// All liefert Gesichter und Personen als eine gemeinsame Liste
func (d DetectionResult) All() []Detection {
	all := make([]Detection, 0, len(d.Faces)+len(d.People))
	all = append(all, d.Faces...)
	all = append(all, d.People...)
	return all
}

// Empty prüft, ob keinerlei Subjekte erkannt wurden
func (d DetectionResult) Empty() bool {
	return len(d.Faces) == 0 && len(d.People) == 0
}

// CropArea repräsentiert den berechneten Zuschnitt-Bereich eines Bildes.
// Invariante: 0 <= X, 0 <= Y, X+Width <= Bildbreite, Y+Height <= Bildhöhe.
type CropArea struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

// CropStrategy benennt die verwendete Zuschnitt-Strategie
type CropStrategy string

const (
	StrategyPeopleCentered CropStrategy = "people-centered"
	StrategyFallbackCenter CropStrategy = "fallback-center"
	StrategyFallbackSmart  CropStrategy = "fallback-smart"
	StrategyRuleOfThirds   CropStrategy = "rule-of-thirds"
)

// CropSuggestion ist das Ergebnis der Zuschnitt-Planung für ein Bild
type CropSuggestion struct {
	CropArea     CropArea     `json:"crop_area"`
	Strategy     CropStrategy `json:"strategy"`
	QualityScore float64      `json:"quality_score"`
}

// SheetOptions enthält die Optionen für die Druckbogen-Komposition
type SheetOptions struct {
	Rows        int    `json:"rows"`
	Columns     int    `json:"columns"`
	Orientation string `json:"orientation"`
	Format      string `json:"format"`
}

// ProcessingOptions ist die unveränderliche Konfiguration eines Jobs
type ProcessingOptions struct {
	TargetRatio      AspectRatio   `json:"target_ratio"`
	DetectionEnabled bool          `json:"detection_enabled"`
	Sheet            *SheetOptions `json:"sheet,omitempty"`
	GenerateOutput   bool          `json:"generate_output"`
	GenerateArchive  bool          `json:"generate_archive"`
	NamingEnabled    bool          `json:"naming_enabled"`
	CaptionsEnabled  bool          `json:"captions_enabled"`
}

// JobStatus repräsentiert den Zustand eines Jobs im Verarbeitungs-Lebenszyklus
type JobStatus string

const (
	JobPending          JobStatus = "pending"
	JobProcessing       JobStatus = "processing"
	JobComposing        JobStatus = "composing"
	JobGeneratingOutput JobStatus = "generating_output"
	JobCompleted        JobStatus = "completed"
	JobFailed           JobStatus = "failed"
	JobCancelled        JobStatus = "cancelled"
)

// Terminal prüft, ob der Status ein Endzustand ist
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Active prüft, ob der Job gerade eine Verarbeitungsstufe durchläuft
func (s JobStatus) Active() bool {
	return s == JobProcessing || s == JobComposing || s == JobGeneratingOutput
}

// JobProgress beschreibt den Fortschritt eines Jobs. Wird ausschließlich vom
// Orchestrator mutiert.
type JobProgress struct {
	ProcessedImages int `json:"processed_images"`
	TotalImages     int `json:"total_images"`
	Percentage      int `json:"percentage"`
}

// Job ist die Arbeitseinheit der Pipeline
type Job struct {
	ID           string         `gorm:"primaryKey" json:"id"`
	UserID       string         `gorm:"index" json:"user_id"`
	Status       JobStatus      `gorm:"index" json:"status"`
	Priority     int            `json:"priority"`
	Files        datatypes.JSON `gorm:"type:json" json:"files"`
	Options      datatypes.JSON `gorm:"type:json" json:"options"`
	Progress     JobProgress    `gorm:"embedded;embeddedPrefix:progress_" json:"progress"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`

	ProcessedImages []ProcessedImage `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE;" json:"processed_images,omitempty"`
	Sheets          []ComposedSheet  `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE;" json:"sheets,omitempty"`
}

// ProcessedImage repräsentiert ein zugeschnittenes Einzelbild eines Jobs
type ProcessedImage struct {
	gorm.Model
	JobID        string         `gorm:"index;not null" json:"job_id"`
	SourcePath   string         `json:"source_path"`
	OutputPath   string         `json:"output_path"`
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	CropArea     datatypes.JSON `gorm:"type:json" json:"crop_area"`
	Detections   datatypes.JSON `gorm:"type:json" json:"detections,omitempty"`
	Strategy     CropStrategy   `json:"strategy"`
	QualityScore float64        `json:"quality_score"`
}

// Statistics fasst den Datenbestand der Pipeline zusammen
type Statistics struct {
	TotalJobs     int64      `json:"total_jobs"`
	ActiveJobs    int64      `json:"active_jobs"`
	CompletedJobs int64      `json:"completed_jobs"`
	FailedJobs    int64      `json:"failed_jobs"`
	TotalImages   int64      `json:"total_images"`
	TotalSheets   int64      `json:"total_sheets"`
	LatestJobAt   *time.Time `json:"latest_job_at,omitempty"`
	RecentJobs    []Job      `json:"recent_jobs,omitempty"`
}

// ComposedSheet repräsentiert einen komponierten Druckbogen eines Jobs
type ComposedSheet struct {
	gorm.Model
	JobID      string `gorm:"index;not null" json:"job_id"`
	OutputPath string `json:"output_path"`
	Format     string `json:"format"`
	Rows       int    `json:"rows"`
	Columns    int    `json:"columns"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}
