package startup

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gorilla/mux"

	"media-converter/internal/logging"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// Config holds all application configuration
type Config struct {
	DataDir       string `env:"DATA_DIR"       envDefault:"/data"`
	UploadDir     string `env:"UPLOAD_DIR"`
	ConversionDir string `env:"CONVERSION_DIR"`
	DownloadDir   string `env:"DOWNLOAD_DIR"`
	ScratchDir    string `env:"SCRATCH_DIR"`
	ProgressDir   string `env:"PROGRESS_DIR"`
	LogDir        string `env:"LOG_DIR"`
	DatabaseDir   string `env:"DATABASE_DIR"`

	Port           string `env:"PORT"            envDefault:"8080"`
	MetricsPort    string `env:"METRICS_PORT"    envDefault:"9090"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`

	FFmpegPath     string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	DownloaderPath string        `env:"YTDLP_PATH"  envDefault:"yt-dlp"`
	JobTimeout     time.Duration `env:"JOB_TIMEOUT" envDefault:"30m"`
	MaxJobs        int           `env:"MAX_JOBS"    envDefault:"0"`

	UploadQuotaBytes   int64         `env:"UPLOAD_QUOTA_BYTES"   envDefault:"1000000000"`
	DownloadQuotaBytes int64         `env:"DOWNLOAD_QUOTA_BYTES" envDefault:"1000000000"`
	MaxUploadSize      int64         `env:"MAX_UPLOAD_SIZE"      envDefault:"5000000000"`
	ProgressRetention  time.Duration `env:"PROGRESS_RETENTION"   envDefault:"24h"`

	// SubmitRate is the sustained submissions per second allowed per client
	// address; 0 disables the limit.
	SubmitRate  float64 `env:"SUBMIT_RATE"  envDefault:"1"`
	SubmitBurst int     `env:"SUBMIT_BURST" envDefault:"10"`

	// TrustedProxies are the networks whose X-Real-IP and X-Forwarded-For
	// headers name the client. Empty means the headers are ignored.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	LogStaticFiles  bool `env:"LOG_STATIC_FILES"  envDefault:"false"`
	LogHealthChecks bool `env:"LOG_HEALTH_CHECKS" envDefault:"true"`

	// Derived paths
	DatabasePath string `env:"-"`

	// Tool availability, filled by CheckTools
	FFmpegAvailable     bool `env:"-"`
	DownloaderAvailable bool `env:"-"`
}

// directories lists the working directories in setup order.
func (c *Config) directories() []struct{ name, path string } {
	return []struct{ name, path string }{
		{"uploads", c.UploadDir},
		{"conversions", c.ConversionDir},
		{"downloads", c.DownloadDir},
		{"scratch", c.ScratchDir},
		{"progress", c.ProgressDir},
		{"logs", c.LogDir},
		{"database", c.DatabaseDir},
	}
}

// ParseConfig reads the environment into a Config and fills derived
// defaults. It touches no files.
func ParseConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	defaults := []struct {
		field *string
		sub   string
	}{
		{&cfg.UploadDir, "uploads"},
		{&cfg.ConversionDir, "conversions"},
		{&cfg.DownloadDir, "downloads"},
		{&cfg.ScratchDir, "scratch"},
		{&cfg.ProgressDir, "progress"},
		{&cfg.LogDir, "logs"},
		{&cfg.DatabaseDir, "database"},
	}
	for _, d := range defaults {
		if *d.field == "" {
			*d.field = filepath.Join(cfg.DataDir, d.sub)
		}
	}

	if cfg.JobTimeout <= 0 {
		return nil, fmt.Errorf("JOB_TIMEOUT must be positive, got %v", cfg.JobTimeout)
	}
	if cfg.MaxJobs < 0 {
		return nil, fmt.Errorf("MAX_JOBS must not be negative, got %d", cfg.MaxJobs)
	}
	if cfg.SubmitRate < 0 {
		return nil, fmt.Errorf("SUBMIT_RATE must not be negative, got %v", cfg.SubmitRate)
	}
	if cfg.SubmitRate > 0 && cfg.SubmitBurst < 1 {
		return nil, fmt.Errorf("SUBMIT_BURST must be at least 1, got %d", cfg.SubmitBurst)
	}
	for _, p := range cfg.TrustedProxies {
		if !validProxy(strings.TrimSpace(p)) {
			return nil, fmt.Errorf("TRUSTED_PROXIES entry %q is not an address or network", p)
		}
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_SIZE must be positive, got %d", cfg.MaxUploadSize)
	}

	cfg.DatabasePath = filepath.Join(cfg.DatabaseDir, "converter.db")
	return cfg, nil
}

// LoadConfig loads and validates configuration from environment variables,
// then prepares every working directory.
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	cfg, err := ParseConfig()
	if err != nil {
		return nil, err
	}

	logging.Info("  DATA_DIR:             %s", cfg.DataDir)
	logging.Info("  PORT:                 %s", cfg.Port)
	logging.Info("  METRICS_PORT:         %s", cfg.MetricsPort)
	logging.Info("  METRICS_ENABLED:      %v", cfg.MetricsEnabled)
	logging.Info("  FFMPEG_PATH:          %s", cfg.FFmpegPath)
	logging.Info("  YTDLP_PATH:           %s", cfg.DownloaderPath)
	logging.Info("  JOB_TIMEOUT:          %v", cfg.JobTimeout)
	logging.Info("  MAX_JOBS:             %d", cfg.MaxJobs)
	logging.Info("  UPLOAD_QUOTA_BYTES:   %d", cfg.UploadQuotaBytes)
	logging.Info("  DOWNLOAD_QUOTA_BYTES: %d", cfg.DownloadQuotaBytes)
	logging.Info("  MAX_UPLOAD_SIZE:      %d", cfg.MaxUploadSize)
	logging.Info("  PROGRESS_RETENTION:   %v", cfg.ProgressRetention)
	logging.Info("  SUBMIT_RATE:          %v/s (burst %d)", cfg.SubmitRate, cfg.SubmitBurst)
	logging.Info("  TRUSTED_PROXIES:      %s", strings.Join(cfg.TrustedProxies, ","))
	logging.Info("  LOG_STATIC_FILES:     %v", cfg.LogStaticFiles)
	logging.Info("  LOG_HEALTH_CHECKS:    %v", cfg.LogHealthChecks)
	logging.Info("  LOG_LEVEL:            %s", logging.GetLevel())

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	if err := PrepareDirectories(cfg); err != nil {
		return nil, err
	}
	cfg.DatabasePath = filepath.Join(cfg.DatabaseDir, "converter.db")

	return cfg, nil
}

func validProxy(s string) bool {
	if s == "" {
		return true
	}
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// PrepareDirectories resolves every working directory to an absolute path,
// creates it and checks that it is writable.
func PrepareDirectories(cfg *Config) error {
	fields := []*string{
		&cfg.UploadDir, &cfg.ConversionDir, &cfg.DownloadDir, &cfg.ScratchDir,
		&cfg.ProgressDir, &cfg.LogDir, &cfg.DatabaseDir,
	}
	for _, f := range fields {
		abs, err := filepath.Abs(*f)
		if err != nil {
			return fmt.Errorf("failed to resolve directory path %s: %w", *f, err)
		}
		*f = abs
	}

	for _, d := range cfg.directories() {
		logging.Info("  %-12s %s", d.name+":", d.path)
		if err := ensureDirectory(d.path, d.name); err != nil {
			return fmt.Errorf("%s directory error: %w", d.name, err)
		}
		if err := testWriteAccess(d.path); err != nil {
			return fmt.Errorf("%s directory is not writable: %w", d.name, err)
		}
	}
	logging.Info("  [OK] All directories are writable")
	return nil
}

// LogDatabaseInit logs database initialization
func LogDatabaseInit(duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DATABASE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] Database initialized in %v", duration)
}

// CheckTools looks up ffmpeg and the downloader, records their availability
// in cfg and logs their versions. Missing tools are warnings: jobs that need
// them fail with an external tool error.
func CheckTools(cfg *Config) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("EXTERNAL TOOLS")
	logging.Info("------------------------------------------------------------")

	if version, err := checkTool(cfg.FFmpegPath, "-version"); err != nil {
		logging.Warn("  FFmpeg check failed: %v", err)
		logging.Warn("  Conversions will fail until ffmpeg is installed")
	} else {
		cfg.FFmpegAvailable = true
		logging.Info("  [OK] FFmpeg is available (%s)", version)
	}

	if version, err := checkTool(cfg.DownloaderPath, "--version"); err != nil {
		logging.Warn("  yt-dlp check failed: %v", err)
		logging.Warn("  Downloads will fail until yt-dlp is installed")
	} else {
		cfg.DownloaderAvailable = true
		logging.Info("  [OK] yt-dlp is available (%s)", version)
	}
}

// LogPipelineInit logs job pool settings.
func LogPipelineInit(workers int, timeout time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("JOB PIPELINE")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Workers:     %d", workers)
	logging.Info("  Job timeout: %v", timeout)
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		name := route.GetName()

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   name,
			})
		}

		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes dynamically
func LogHTTPRoutes(router *mux.Router, logStaticFiles, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))
		logging.Debug("")

		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}

			for _, route := range groups[group] {
				logging.Debug("    %-6s %s", route.Method, route.Path)
			}
			logging.Debug("")
		}
	}

	logging.Info("  HTTP logging enabled")
	if logStaticFiles {
		logging.Info("    Artifact download logging: ON")
	} else {
		logging.Info("    Artifact download logging: OFF (set LOG_STATIC_FILES=true to enable)")
	}
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")

	parts := strings.SplitN(path, "/", 2)
	first := parts[0]

	if first == "api" && len(parts) > 1 {
		subParts := strings.SplitN(parts[1], "/", 2)
		return "api/" + subParts[0]
	}

	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    Application:   http://0.0.0.0:%s", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

func printBanner() {
	banner := `
------------------------------------------------------------
   media-converter
   conversions and downloads over HTTP
------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

// checkTool resolves bin and returns the first line of its version output.
func checkTool(bin, versionFlag string) (string, error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH", bin)
	}
	logging.Debug("  %s path: %s", bin, path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, versionFlag).Output()
	if err != nil {
		return "", fmt.Errorf("failed to get %s version: %w", bin, err)
	}

	first, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(first), nil
}
