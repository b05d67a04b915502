package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/motiontrap/camnode/internal/admission"
	"github.com/motiontrap/camnode/internal/camera"
	"github.com/motiontrap/camnode/internal/catalog"
	"github.com/motiontrap/camnode/internal/clock"
	"github.com/motiontrap/camnode/internal/config"
	"github.com/motiontrap/camnode/internal/health"
	"github.com/motiontrap/camnode/internal/logger"
	"github.com/motiontrap/camnode/internal/recorder"
	"github.com/motiontrap/camnode/internal/service"
	"github.com/motiontrap/camnode/internal/storage"
	"github.com/motiontrap/camnode/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting camera node",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Clock and admission gate
	clk := clock.New()
	gate := admission.NewGate(clk, cfg.Node.Admission.WindowMS, log)

	// Frame source
	source, err := camera.NewStillSource(camera.StillSourceConfig{
		Device:  cfg.Node.Camera.Device,
		Width:   cfg.Node.Camera.Width,
		Height:  cfg.Node.Camera.Height,
		Timeout: cfg.Node.Camera.CaptureTimeout,
	}, log)
	if err != nil {
		log.Error("Failed to initialize camera", "error", err)
		os.Exit(1)
	}

	// Capture catalog
	db, err := catalog.NewDatabase(filepath.Join(cfg.Node.DataDir, "db", "catalog.db"))
	if err != nil {
		log.Error("Failed to open capture catalog", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	cat := catalog.NewManager(db, log)

	// Media storage
	store, err := storage.NewService(storage.Config{
		PhotosDir:           cfg.Node.Storage.PhotosDir,
		VideosDir:           cfg.Node.Storage.VideosDir,
		MaxDiskUsagePercent: cfg.Node.Storage.MaxDiskUsagePercent,
	}, log)
	if err != nil {
		log.Error("Failed to initialize media storage", "error", err)
		os.Exit(1)
	}

	// Capture pipeline
	rec := recorder.NewService(recorder.Config{
		Width:           cfg.Node.Camera.Width,
		Height:          cfg.Node.Camera.Height,
		FrameRate:       cfg.Node.Camera.FrameRate,
		MaxDuration:     cfg.Node.Recording.MaxDuration,
		DefaultDuration: cfg.Node.Recording.DefaultDuration,
		StagingBytes:    cfg.Node.Recording.StagingBufferBytes,
	}, clk, gate, source, store, cat, log)

	retention := storage.NewRetentionPolicy(
		cfg.Node.Storage.RetentionDays, cat, store.Monitor(), log)

	svcMgr := service.NewManager(log)

	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(health.NewDiskChecker(store))
	healthMgr.RegisterChecker(health.NewCatalogChecker(db))

	webSrv := web.NewServer(cfg.Node.Web, rec, cat, store, healthMgr, log)

	svcMgr.Register(rec)
	svcMgr.Register(retention)
	svcMgr.Register(webSrv)

	if err := svcMgr.Start(ctx); err != nil {
		log.Error("Failed to start services", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}
