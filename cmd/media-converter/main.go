package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"media-converter/internal/database"
	"media-converter/internal/filesystem"
	"media-converter/internal/handlers"
	"media-converter/internal/jobs"
	"media-converter/internal/logging"
	"media-converter/internal/memory"
	"media-converter/internal/metrics"
	"media-converter/internal/middleware"
	"media-converter/internal/output"
	"media-converter/internal/progress"
	"media-converter/internal/quota"
	"media-converter/internal/runner"
	"media-converter/internal/startup"
	"media-converter/internal/workers"

	"github.com/gorilla/mux"
)

const (
	sweepInterval   = 15 * time.Minute
	metricsInterval = 1 * time.Minute
	shutdownTimeout = 30 * time.Second
)

// interruptedDiagnostic is stored on jobs that were running when the
// previous process exited.
const interruptedDiagnostic = "server restarted while the job was running"

type services struct {
	db        *database.Database
	pipeline  *jobs.Pipeline
	runner    *runner.Runner
	gate      *memory.Gate
	collector *metrics.Collector
	metrics   *http.Server
	stop      chan struct{}
}

func main() {
	startTime := time.Now()

	// Size the Go heap before anything large is allocated
	memory.ConfigureFromEnv()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}
	startup.CheckTools(config)

	metrics.InitializeMetrics()
	metrics.SetAppInfo(startup.Version, startup.Commit, runtime.Version())
	filesystem.SetObserver(metrics.NewFilesystemObserver())
	filesystem.SetDefaultVolumeResolver(filesystem.NewVolumeResolver(map[string]string{
		"uploads":     config.UploadDir,
		"conversions": config.ConversionDir,
		"downloads":   config.DownloadDir,
		"scratch":     config.ScratchDir,
		"progress":    config.ProgressDir,
	}))

	// Initialize database
	dbStart := time.Now()
	db, err := database.New(context.Background(), config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	startup.LogDatabaseInit(time.Since(dbStart))

	if n, err := db.FailRunningJobs(context.Background(), string(runner.KindInternal), interruptedDiagnostic); err != nil {
		logging.Warn("Failed to close out interrupted jobs: %v", err)
	} else if n > 0 {
		logging.Warn("Marked %d interrupted job(s) as failed", n)
	}

	ch, err := progress.New(config.ProgressDir)
	if err != nil {
		startup.LogFatal("Failed to initialize progress channel: %v", err)
	}

	slots := output.NewSlots()
	out := output.NewManager(output.Config{
		DownloadDir:   config.DownloadDir,
		ConversionDir: config.ConversionDir,
		LogDir:        config.LogDir,
	}, slots, db)

	enforcer := quota.New(quota.Config{
		ScratchDir: config.ScratchDir,
		Uploads:    quota.Policy{Name: "uploads", Dir: config.UploadDir, Ceiling: config.UploadQuotaBytes},
		Downloads:  quota.Policy{Name: "downloads", Dir: config.DownloadDir, Ceiling: config.DownloadQuotaBytes},
	}, slots)

	run := runner.New(runner.Config{
		FFmpegPath:     config.FFmpegPath,
		DownloaderPath: config.DownloaderPath,
		Timeout:        config.JobTimeout,
	})

	gate := memory.NewGate(memory.DefaultConfig())
	gate.Start()

	startup.LogPipelineInit(workers.ForJobs(config.MaxJobs), run.Timeout())
	pipeline := jobs.New(jobs.Config{
		UploadDir:  config.UploadDir,
		ScratchDir: config.ScratchDir,
		MaxJobs:    config.MaxJobs,
	}, jobs.Deps{
		Runner:   run,
		Progress: ch,
		Output:   out,
		Quota:    enforcer,
		Store:    db,
		Gate:     gate,
	})

	// Initialize handlers
	h := handlers.New(pipeline, ch, out, db, handlers.Config{
		MaxUploadSize:       config.MaxUploadSize,
		FFmpegAvailable:     config.FFmpegAvailable,
		DownloaderAvailable: config.DownloaderAvailable,
	})

	// Setup router
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: config.SubmitRate,
		Burst:             config.SubmitBurst,
	})
	router := setupRouter(h, limiter)

	// Log routes dynamically
	startup.LogHTTPRoutes(router, config.LogStaticFiles, config.LogHealthChecks)

	// Apply logging middleware
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogStaticFiles = config.LogStaticFiles
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	proxies, err := middleware.ParseProxies(config.TrustedProxies)
	if err != nil {
		startup.LogFatal("Invalid TRUSTED_PROXIES: %v", err)
	}
	handler := middleware.RealIP(proxies)(middleware.Logger(loggingConfig)(router))

	svc := &services{
		db:       db,
		pipeline: pipeline,
		runner:   run,
		gate:     gate,
		stop:     make(chan struct{}),
	}

	// Start metrics collection and server
	if config.MetricsEnabled {
		svc.collector = metrics.NewCollector(&statsAdapter{db: db, out: out, dirs: map[string]string{
			"uploads":     config.UploadDir,
			"conversions": config.ConversionDir,
			"downloads":   config.DownloadDir,
			"scratch":     config.ScratchDir,
			"progress":    config.ProgressDir,
		}}, metricsInterval)
		svc.collector.Start()

		svc.metrics = &http.Server{
			Addr:              ":" + config.MetricsPort,
			Handler:           metricsMux(h),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := svc.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	// Periodic maintenance
	go maintain(svc, config.ProgressRetention)

	// Create server. WriteTimeout stays 0: progress long polls and artifact
	// streams manage their own deadlines.
	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	// Start graceful shutdown handler
	go handleShutdown(srv, svc)

	h.SetReady(true)

	// Start server
	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		startup.LogFatal("Server error: %v", err)
	}
	<-svc.stop
}

func setupRouter(h *handlers.Handlers, limiter *middleware.RateLimiter) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))

	api := h.RegisterRoutes(r, limiter.Middleware)
	api.Use(middleware.Compression(middleware.DefaultCompressionConfig()))

	return r
}

func metricsMux(h *handlers.Handlers) *http.ServeMux {
	m := http.NewServeMux()
	m.Handle("/metrics", h.MetricsHandler())
	m.HandleFunc("/health", h.LivenessCheck)
	return m
}

// maintain sweeps expired jobs with their files and rows, and refreshes
// database metrics until shutdown.
func maintain(svc *services, retention time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-svc.stop:
			return
		case <-ticker.C:
			sweep(svc, retention)
		}
	}
}

func sweep(svc *services, retention time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := svc.pipeline.Sweep(ctx, retention); err != nil {
		logging.Warn("Sweep failed: %v", err)
	}
	svc.db.UpdateDBMetrics()
}

func handleShutdown(srv *http.Server, svc *services) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Draining job pipeline")
	if err := svc.pipeline.Shutdown(ctx); err != nil {
		logging.Warn("Pipeline shutdown error: %v", err)
		startup.LogShutdownStep("Killing external tools")
		svc.runner.Cleanup()
	}
	svc.gate.Stop()
	startup.LogShutdownStepComplete("Job pipeline stopped")

	if svc.collector != nil {
		startup.LogShutdownStep("Stopping metrics collector")
		svc.collector.Stop()
		startup.LogShutdownStepComplete("Metrics collector stopped")
	}

	if svc.metrics != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := svc.metrics.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	startup.LogShutdownStep("Closing database")
	if err := svc.db.Close(); err != nil {
		logging.Warn("Database close error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Database closed")
	}

	startup.LogShutdownComplete()
	close(svc.stop)
}
