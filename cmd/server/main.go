package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"permit_flow_app_go/config"
	"permit_flow_app_go/db"
	"permit_flow_app_go/handlers"
	"permit_flow_app_go/middleware"
	"permit_flow_app_go/models"
	"permit_flow_app_go/services"
	"permit_flow_app_go/services/jobs"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
)

func main() {
	// Load configuration
	cfg := config.Load()
	loc := cfg.Location()

	// Initialize database
	database, err := db.Open(db.Options{
		Path:        cfg.DBPath,
		TursoURL:    cfg.TursoDatabaseURL,
		TursoToken:  cfg.TursoAuthToken,
		Environment: cfg.Environment,
	})
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close(database)

	// Run migrations
	if err := db.AutoMigrate(database, &models.PermitType{}, &models.PermitState{}, &models.Permit{}, &models.AuditLog{}); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	if err := services.SeedCatalog(database); err != nil {
		log.Fatalf("Failed to seed permit catalog: %v", err)
	}

	notifier := services.NewEmailNotifier(cfg)
	storage := services.NewStorage(cfg)
	artifacts := &services.ArtifactService{
		DB:       database,
		Renderer: services.NewChromeRenderer(cfg.ChromePath),
		Storage:  storage,
		AppURL:   cfg.AppURL,
		Location: loc,
	}

	catalog := services.NewCatalog(database, cfg.CatalogTTL)
	workflow := services.NewPermitWorkflow(database, catalog)
	workflow.Validator = services.NewPKCS7Validator()
	workflow.Artifacts = artifacts
	workflow.Notifier = notifier
	workflow.Location = loc
	workflow.AppURL = cfg.AppURL
	workflow.Async = true

	// Background jobs
	sweeper := jobs.NewSweeper(database, cfg.SweepInterval)
	sweeper.Notifier = notifier
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start sweeper: %v", err)
	}
	reminders, err := jobs.StartReminderScheduler(database, notifier, loc)
	if err != nil {
		log.Fatalf("Failed to start reminder scheduler: %v", err)
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(echomiddleware.RequestLogger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(echomiddleware.BodyLimit("12M"))

	signLimiter := middleware.NewSignRateLimiter()
	defer signLimiter.Stop()

	routes := &handlers.Routes{
		Permits:     &handlers.PermitHandler{Workflow: workflow, Artifacts: artifacts, Location: loc},
		Catalog:     &handlers.CatalogHandler{DB: database, Catalog: catalog},
		SignLimiter: signLimiter,
	}
	// Development-only routes
	if !cfg.IsProduction() {
		routes.Sweep = &handlers.SweepHandler{Sweeper: sweeper}
	}
	routes.Register(e)

	// Document links of local storage point at the upload directory
	if local, ok := storage.(*services.LocalStorage); ok {
		e.Static(local.GetPublicURL(""), cfg.UploadDir)
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Start server
	go func() {
		log.Printf("Server starting on port %s", cfg.ServerPort)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("[WARNING] Server shutdown: %v", err)
	}
	if err := workflow.Drain(ctx); err != nil {
		log.Printf("[WARNING] Pending document and notification work abandoned: %v", err)
	}
	<-sweeper.Stop().Done()
	<-reminders.Stop().Done()
}
