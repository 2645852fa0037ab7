package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config repräsentiert die Hauptkonfiguration der Anwendung
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Vision    VisionConfig    `mapstructure:"vision"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Crop      CropConfig      `mapstructure:"crop"`
	Rendering RenderingConfig `mapstructure:"rendering"`
	Sheets    SheetsConfig    `mapstructure:"sheets"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
}

// ServerConfig enthält Server-bezogene Einstellungen
type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	DataDir   string `mapstructure:"data_dir"`
	UploadDir string `mapstructure:"upload_dir"`
	OutputDir string `mapstructure:"output_dir"`
	OutputURL string `mapstructure:"output_url"`
}

// LogConfig enthält Log-Einstellungen
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig enthält Datenbankeinstellungen
type DBConfig struct {
	File string `mapstructure:"file"` // für SQLite
}

// VisionConfig enthält die Einstellungen für den externen Vision-Dienst
type VisionConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	URL                 string  `mapstructure:"url"`
	APIKey              string  `mapstructure:"api_key"`
	TimeoutSeconds      int     `mapstructure:"timeout_seconds"`
	MaxRetries          int     `mapstructure:"max_retries"`
	RetryBaseDelayMs    int     `mapstructure:"retry_base_delay_ms"`
	HealthIntervalSecs  int     `mapstructure:"health_interval_seconds"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// PipelineConfig enthält Einstellungen für die Job-Verarbeitung
type PipelineConfig struct {
	MaxConcurrentJobs    int `mapstructure:"max_concurrent_jobs"`
	SchedulerIntervalMs  int `mapstructure:"scheduler_interval_ms"`
	CleanupDelayMinutes  int `mapstructure:"cleanup_delay_minutes"`
}

// CropConfig enthält die Richtlinie für die Zuschnitt-Planung
type CropConfig struct {
	MinCropSize         int     `mapstructure:"min_crop_size"`
	MaxUpscaleFactor    float64 `mapstructure:"max_upscale_factor"`
	FallbackStrategy    string  `mapstructure:"fallback_strategy"` // "center", "smart" oder "rule-of-thirds"
	PreventStretching   bool    `mapstructure:"prevent_stretching"`
	PaddingColor        string  `mapstructure:"padding_color"`
	MaintainAspectRatio bool    `mapstructure:"maintain_aspect_ratio"`
}

// RenderingConfig enthält Einstellungen für die lokale Bildausgabe
type RenderingConfig struct {
	Format      string `mapstructure:"format"` // "jpeg", "png" oder "webp"
	JPEGQuality int    `mapstructure:"jpeg_quality"`
	WebPQuality int    `mapstructure:"webp_quality"`
}

// SheetsConfig enthält Einstellungen für die Druckbogen-Komposition
type SheetsConfig struct {
	Rows        int    `mapstructure:"rows"`
	Columns     int    `mapstructure:"columns"`
	Orientation string `mapstructure:"orientation"` // "portrait" oder "landscape"
	Format      string `mapstructure:"format"`
}

// MQTTConfig enthält die Konfiguration für den MQTT-Client
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// CleanupConfig enthält Bereinigungseinstellungen
type CleanupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// Load lädt die Konfiguration aus Datei, Umgebungsvariablen und Standardwerten
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Standardwerte festlegen
	setDefaults(v)

	// Konfigurationsdatei laden, wenn vorhanden
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Umgebungsvariablen überlagern die Konfiguration
	v.AutomaticEnv()
	v.SetEnvPrefix("PHOTOFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Konfiguration in Struct umwandeln
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Sicherstellen, dass erforderliche Verzeichnisse existieren
	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// setDefaults legt Standardwerte für die Konfiguration fest
func setDefaults(v *viper.Viper) {
	// Server-Standardwerte
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.upload_dir", "/data/uploads")
	v.SetDefault("server.output_dir", "/data/output")
	v.SetDefault("server.output_url", "/output")

	// Log-Standardwerte
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/photoflow.log")

	// DB-Standardwerte
	v.SetDefault("db.file", "/data/photoflow.db")

	// Vision-Dienst-Standardwerte
	v.SetDefault("vision.enabled", true)
	v.SetDefault("vision.url", "http://vision:5000")
	v.SetDefault("vision.timeout_seconds", 30)
	v.SetDefault("vision.max_retries", 3)
	v.SetDefault("vision.retry_base_delay_ms", 500)
	v.SetDefault("vision.health_interval_seconds", 60)
	v.SetDefault("vision.confidence_threshold", 0.5)

	// Pipeline-Standardwerte
	v.SetDefault("pipeline.max_concurrent_jobs", 3)
	v.SetDefault("pipeline.scheduler_interval_ms", 1000)
	v.SetDefault("pipeline.cleanup_delay_minutes", 60)

	// Zuschnitt-Standardwerte
	v.SetDefault("crop.min_crop_size", 200)
	v.SetDefault("crop.max_upscale_factor", 1.0)
	v.SetDefault("crop.fallback_strategy", "smart")
	v.SetDefault("crop.prevent_stretching", true)
	v.SetDefault("crop.padding_color", "#ffffff")
	v.SetDefault("crop.maintain_aspect_ratio", true)

	// Rendering-Standardwerte
	v.SetDefault("rendering.format", "jpeg")
	v.SetDefault("rendering.jpeg_quality", 90)
	v.SetDefault("rendering.webp_quality", 85)

	// Druckbogen-Standardwerte
	v.SetDefault("sheets.rows", 2)
	v.SetDefault("sheets.columns", 2)
	v.SetDefault("sheets.orientation", "portrait")
	v.SetDefault("sheets.format", "jpeg")

	// MQTT-Standardwerte
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "photoflow-go")
	v.SetDefault("mqtt.topic_prefix", "photoflow")

	// Cleanup-Standardwerte
	v.SetDefault("cleanup.retention_days", 30)
}

// ensureDirectories stellt sicher, dass alle erforderlichen Verzeichnisse existieren
func ensureDirectories(cfg *Config) error {
	// Daten-Basisverzeichnis
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// Upload-Verzeichnis
	if err := os.MkdirAll(cfg.Server.UploadDir, 0755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}

	// Ausgabe-Verzeichnis
	if err := os.MkdirAll(cfg.Server.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Log-Verzeichnis
	if cfg.Log.File != "" {
		logDir := filepath.Dir(cfg.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	// Datenbank-Verzeichnis (für SQLite)
	if cfg.DB.File != "" {
		dbDir := filepath.Dir(cfg.DB.File)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
