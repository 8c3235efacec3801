package main

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"raffle/internal/config"
	"raffle/internal/handlers"
	"raffle/internal/logging"
	"raffle/internal/realtime"
	"raffle/internal/services"
	"raffle/internal/storage"
	"raffle/internal/tabular"
)

//go:embed all:templates
var templateFS embed.FS

//go:embed all:assets
var assetsFS embed.FS

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Set up logging: google/logger for the domain, zap for access logs
	var logFile io.Writer
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			logger.Fatalf("Failed to open log file %s: %v", cfg.LogFile, err)
		}
		defer f.Close()
		logFile = f
	}
	defer logging.InitDomainLogger("raffle", logFile).Close()

	accessLog, err := logging.NewAccessLogger(cfg.Debug)
	if err != nil {
		logger.Fatalf("Failed to build access logger: %v", err)
	}
	defer func() { _ = accessLog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	// 3. Start the websocket hub for presentation screens
	hub := realtime.NewHub()
	g.Go(func() error {
		hub.Run(gCtx)
		return nil
	})

	// 4. Choose where saved exports go
	sink, err := newExportSink(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize export sink: %v", err)
	}

	// 5. Initialize the Raffle Service
	raffleService := services.NewRaffleService(services.Options{
		Loader:     tabular.NewLoader(cfg.MinColumns, cfg.MaxParticipants),
		Sink:       sink,
		Publisher:  hub,
		ExportName: cfg.ExportFileName,
	})

	// 6. Load HTML templates from the embedded filesystem.
	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		logger.Fatalf("Failed to parse templates: %v", err)
	}

	httpHandler := handlers.NewHTTPHandler(raffleService, templates, hub)

	// 7. Set up the Gin router
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(accessLog))

	assetsSubFS, err := fs.Sub(assetsFS, "assets")
	if err != nil {
		logger.Fatalf("Failed to create assets sub-filesystem: %v", err)
	}
	r.StaticFS("/assets", http.FS(assetsSubFS))

	httpHandler.RegisterPublicRoutes(r)

	tenantRoutes := r.Group("/")
	tenantRoutes.Use(httpHandler.TenantMiddleware())
	httpHandler.RegisterTenantRoutes(tenantRoutes)

	// 8. Start the background janitor to clean up inactive sessions
	g.Go(func() error {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				removed := raffleService.CleanUpInactiveSessions(cfg.SessionTTL)
				logger.Infof("Performed cleanup of inactive sessions, removed %d.", removed)
			}
		}
	})

	// 9. Run the server until a shutdown signal arrives or something fails
	srv := &http.Server{
		Addr:              cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		accessLog.Info("server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("Server stopped with error: %v", err)
		return
	}
	logger.Info("Server exited")
}

func newExportSink(ctx context.Context, cfg *config.Config) (storage.ExportSink, error) {
	if cfg.UseS3() {
		logger.Infof("Saving exports to bucket %s", cfg.S3.Bucket)
		return storage.NewS3Sink(ctx, cfg.S3)
	}
	logger.Infof("Saving exports to directory %s", cfg.ExportDir)
	return storage.NewLocalSink(cfg.ExportDir)
}
