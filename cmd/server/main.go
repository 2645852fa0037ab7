package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"photoflow-go/config"
	"photoflow-go/internal/api/handlers"
	"photoflow-go/internal/core/geometry"
	"photoflow-go/internal/core/pipeline"
	"photoflow-go/internal/db"
	"photoflow-go/internal/db/repository"
	"photoflow-go/internal/integrations/mqtt"
	"photoflow-go/internal/integrations/visionapi"
	"photoflow-go/internal/logger"
	"photoflow-go/internal/server/sse"
	"photoflow-go/internal/services/cleanup"
	"photoflow-go/internal/services/composition"
	"photoflow-go/internal/services/output"
	"photoflow-go/internal/services/rendering"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "/config/config.yaml", "path to configuration file")
	flag.Parse()

	// Konfiguration laden
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Logger initialisieren
	if err := logger.Init(cfg.Log); err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}

	// Datenbank öffnen und migrieren
	conn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	repo := repository.NewSQLiteRepository(conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Vision-Client samt Gesundheits-Monitor
	var vision *visionapi.Client
	var detector pipeline.Detector
	if cfg.Vision.Enabled {
		vision = visionapi.NewClient(cfg.Vision)
		vision.StartHealthMonitor(ctx)
		defer vision.Stop()
		detector = visionapi.NewDetector(vision, true)
	} else {
		log.Info("Vision service is disabled, running with fallback crop strategies only")
	}

	// Verarbeitungs-Dienste
	policy := geometry.Policy{
		MinCropSize:         cfg.Crop.MinCropSize,
		MaxUpscaleFactor:    cfg.Crop.MaxUpscaleFactor,
		FallbackStrategy:    cfg.Crop.FallbackStrategy,
		PreventStretching:   cfg.Crop.PreventStretching,
		PaddingColor:        cfg.Crop.PaddingColor,
		MaintainAspectRatio: cfg.Crop.MaintainAspectRatio,
	}
	renderer := rendering.NewRenderer(cfg.Rendering, policy, cfg.Server.OutputDir)
	composer := composition.NewComposer(cfg.Sheets, vision, cfg.Server.OutputDir)
	archiver := output.NewArchiver(cfg.Server.OutputDir)
	cleanupService := cleanup.NewCleanupService(repo, cfg.Cleanup)
	go cleanupService.Start(ctx)

	// Orchestrator mit allen Kollaborateuren
	orchestrator := pipeline.NewOrchestrator(cfg.Pipeline, policy, pipeline.Deps{
		Store:    repo,
		Detector: detector,
		Renderer: renderer,
		Composer: composer,
		Archiver: archiver,
		Cleaner:  cleanupService,
	})

	// SSE-Hub als Beobachter der Pipeline
	hub := sse.NewHub()
	go hub.Run()
	orchestrator.Subscribe(hub)

	// MQTT-Client als weiterer Beobachter, wenn aktiviert
	if cfg.MQTT.Enabled {
		mqttClient := mqtt.NewClient(cfg.MQTT)
		if err := mqttClient.Start(); err != nil {
			log.Warnf("Failed to initialize MQTT client: %v. Continuing without MQTT.", err)
		} else {
			orchestrator.Subscribe(mqttClient)
			defer mqttClient.Stop()
		}
	} else {
		log.Info("MQTT is disabled in config.")
	}

	orchestrator.Start(ctx)
	defer orchestrator.Stop()

	// HTTP-Router aufsetzen
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	apiHandler := handlers.NewAPIHandler(cfg, repo, orchestrator, vision, hub)
	api := router.Group("/api")
	apiHandler.RegisterRoutes(api)
	apiHandler.RegisterSystemRoutes(api)

	// Ausgabedateien statisch ausliefern
	router.Static(cfg.Server.OutputURL, cfg.Server.OutputDir)
	log.Infof("Serving output files from %s under %s", cfg.Server.OutputDir, cfg.Server.OutputURL)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Infof("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Auf Beendigungssignal warten
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
	}

	cancel()
	log.Info("Server stopped.")
}
