package main

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"tubevault/internal/auth"
	"tubevault/internal/config"
	"tubevault/internal/delivery"
	"tubevault/internal/discovery"
	"tubevault/internal/endpoints"
	"tubevault/internal/engine"
	"tubevault/internal/executor"
	"tubevault/internal/history"
	"tubevault/internal/jobs"
	"tubevault/internal/media"
	"tubevault/internal/metadata"
	"tubevault/internal/notify"
	"tubevault/internal/paths"
	"tubevault/internal/runtimeinfo"
	"tubevault/internal/scheduler"
	"tubevault/internal/search"
	"tubevault/internal/server"
	"tubevault/internal/status"
	"tubevault/internal/worker"
	"tubevault/internal/ytdlp"
)

// swappableExecutor lets each run rebuild its executor from the current
// config while the standing worker keeps a stable reference.
type swappableExecutor struct {
	current atomic.Pointer[executor.Executor]
}

func (s *swappableExecutor) Execute(ctx context.Context, job *jobs.Job) (*executor.Outcome, error) {
	return s.current.Load().Execute(ctx, job)
}

type app struct {
	roots       paths.Roots
	enginePaths paths.EnginePaths
	logger      *slog.Logger

	configState *endpoints.ConfigState
	jobStore    *jobs.Store
	history     *history.Store
	searchStore *search.Store
	stateStore  *scheduler.StateStore
	pub         *status.Publisher
	deliveries  *delivery.Registry
	exec        *swappableExecutor
	workers     *worker.Worker
	metaWorker  *metadata.Worker
}

// buildExecutor assembles an executor from the given config snapshot.
func (a *app) buildExecutor(cfg *config.Config, jsOverride, formatOverride string) *executor.Executor {
	jsRuntime := runtimeinfo.ResolveJSRuntime(cfg.JSRuntime, jsOverride)
	downloader := ytdlp.NewClient(config.YtdlpBinary, jsRuntime, a.logger)
	toolchain := media.NewToolchain(config.FFmpegBinary, config.FFprobeBin, a.logger)

	finalFormat := cfg.FinalFormat
	if formatOverride != "" {
		finalFormat = formatOverride
	}
	exec := executor.New(downloader, toolchain, a.history, a.deliveries, a.roots, a.enginePaths, a.pub,
		executor.Config{
			FinalFormat:    finalFormat,
			YtDlpOverrides: cfg.YtDlpOptions,
			CookiesPath:    cfg.YtDlpCookies,
			ThumbsDir:      a.enginePaths.ThumbsDir,
		}, a.logger)
	exec.SetMetadataQueue(a.metaWorker)
	return exec
}

// buildDiscovery wires the YouTube Data API when account tokens exist,
// falling back to anonymous yt-dlp enumeration otherwise.
func (a *app) buildDiscovery(ctx context.Context, cfg *config.Config, prober *ytdlp.Client) (*discovery.Discoverer, *discovery.YouTubeClient) {
	var api *discovery.YouTubeClient
	tokens := auth.NewFileTokenProvider(a.roots.TokensDir, a.logger)
	if ts, err := tokens.GetYouTubeTokenSource(ctx); err == nil {
		client, err := discovery.NewYouTubeClient(ctx, ts)
		if err != nil {
			a.logger.Warn("YouTube API client unavailable", "error", err)
		} else {
			api = client
		}
	} else {
		a.logger.Info("No YouTube account tokens, using public enumeration only")
	}

	var apiClient discovery.APIClient
	if api != nil {
		apiClient = api
	}
	return discovery.NewDiscoverer(apiClient, prober, cfg.YtDlpOptions, a.logger), api
}

// runArchive is the launcher callback: one full or single-URL run.
func (a *app) runArchive(ctx context.Context, runID string, params engine.StartParams) {
	cfg, err := a.configState.Snapshot()
	if err != nil {
		a.logger.Error("Run aborted: config unreadable", "run_id", runID, "error", err)
		a.pub.RecordFailure("config unreadable: " + err.Error())
		return
	}

	exec := a.buildExecutor(cfg, params.JSRuntime, params.FormatOverride)
	a.exec.current.Store(exec)

	jsRuntime := runtimeinfo.ResolveJSRuntime(cfg.JSRuntime, params.JSRuntime)
	prober := ytdlp.NewClient(config.YtdlpBinary, jsRuntime, a.logger)
	disc, api := a.buildDiscovery(ctx, cfg, prober)

	var trimmer engine.PlaylistTrimmer
	if api != nil {
		trimmer = api
	}
	var notifier engine.RunNotifier
	if cfg.Telegram != nil {
		notifier = notify.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, "", a.logger)
	}

	eng := engine.New(cfg, a.roots, a.enginePaths, disc, trimmer, a.history, a.jobStore,
		a.workers, a.pub, notifier, a.logger)

	if params.SingleURL != "" {
		deliveryMode := params.Delivery
		switch deliveryMode {
		case "", "server", "client":
		default:
			a.logger.Warn("Unknown single-URL delivery mode, defaulting to server",
				"delivery", deliveryMode)
			deliveryMode = "server"
		}
		_, err = eng.RunSingle(ctx, engine.SingleOptions{
			URL:          params.SingleURL,
			Destination:  params.Destination,
			Format:       params.FormatOverride,
			DeliveryMode: deliveryMode == "client",
		})
	} else {
		_, err = eng.Run(ctx, engine.RunOptions{RunID: runID})
	}
	if err != nil {
		a.logger.Error("Archive run failed", "run_id", runID, "error", err)
	}
}

func main() {
	roots := paths.NewRoots()
	enginePaths := roots.BuildEnginePaths()
	if err := roots.EnsureAll(enginePaths); err != nil {
		slog.Error("Failed to create data directories", "error", err)
		os.Exit(1)
	}

	// Structured logs go to stdout and to the file the /api/logs tail reads.
	logPath := filepath.Join(enginePaths.LogDir, "tubevault.log")
	logWriter := io.Writer(os.Stdout)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err == nil {
		defer logFile.Close()
		logWriter = io.MultiWriter(os.Stdout, logFile)
	}
	jsonHandler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(jsonHandler)
	slog.SetDefault(logger)

	configPath, err := roots.ResolveConfigPath(os.Getenv("TUBEVAULT_CONFIG"))
	if err != nil {
		slog.Error("Invalid config path", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", enginePaths.DBPath+"?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)")
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	jobStore, err := jobs.NewStore(db)
	if err != nil {
		slog.Error("Failed to initialize job store", "error", err)
		os.Exit(1)
	}
	stateStore, err := scheduler.NewStateStore(db)
	if err != nil {
		slog.Error("Failed to initialize schedule state", "error", err)
		os.Exit(1)
	}
	hist, err := history.Open(enginePaths.DBPath)
	if err != nil {
		slog.Error("Failed to open history store", "error", err)
		os.Exit(1)
	}
	defer hist.Close()
	searchStore, err := search.OpenStore(enginePaths.SearchDBPath, logger)
	if err != nil {
		slog.Error("Failed to open search store", "error", err)
		os.Exit(1)
	}
	defer searchStore.Close()

	a := &app{
		roots:       roots,
		enginePaths: enginePaths,
		logger:      logger,
		configState: endpoints.NewConfigState(roots, configPath),
		jobStore:    jobStore,
		history:     hist,
		searchStore: searchStore,
		stateStore:  stateStore,
		pub:         status.NewPublisher(),
		deliveries:  delivery.NewRegistry(logger),
		exec:        &swappableExecutor{},
	}

	cfg, _, err := config.Load(configPath)
	if err != nil {
		slog.Warn("Config not loadable yet, starting with defaults", "path", configPath, "error", err)
		cfg = &config.Config{}
	}

	// Music metadata enrichment shares the ffmpeg toolchain with downloads.
	toolchain := media.NewToolchain(config.FFmpegBinary, config.FFprobeBin, logger)
	mbClient := metadata.NewMusicBrainzClient("", logger)
	a.metaWorker = metadata.NewWorker(mbClient, toolchain, metadata.SettingsFromConfig(cfg.MusicMetadata),
		enginePaths.YtdlpTempDir, logger)
	defer a.metaWorker.Close()

	a.exec.current.Store(a.buildExecutor(cfg, "", ""))

	a.workers = worker.New(jobStore, a.exec, a.pub, worker.Config{
		PollInterval: time.Duration(config.PollInterval) * time.Second,
		RetryDelay:   time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}, logger)

	launcher := engine.NewLauncher(a.runArchive, logger)

	sched := scheduler.New(stateStore, launcher.RunScheduled, func() *config.Downtime {
		if snapshot, err := a.configState.Snapshot(); err == nil && snapshot.WatchPolicy != nil {
			return snapshot.WatchPolicy.Downtime
		}
		return nil
	}, logger)
	defer sched.Stop()
	schedule := cfg.EffectiveSchedule()
	sched.Apply(schedule)
	if schedule.RunOnStartup {
		if _, err := launcher.Start(engine.StartParams{}); err != nil {
			slog.Warn("Startup run not launched", "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Standing workers drain jobs enqueued outside runs, search mostly.
	go a.workers.Run(ctx)

	var cache search.Cache
	if cfg.Search != nil && cfg.Search.RedisAddr != "" {
		cache = search.NewRedisCache(cfg.Search.RedisAddr, time.Duration(cfg.Search.CacheTTLSecs)*time.Second, logger)
	}
	resolver := search.NewResolver(searchStore, jobStore,
		search.DefaultAdapters(ytdlp.NewClient(config.YtdlpBinary, runtimeinfo.ResolveJSRuntime(cfg.JSRuntime, ""), logger)),
		cache, search.ResolverConfig{
			OutputDir:           roots.DownloadsDir,
			MusicOutputTemplate: cfg.MusicFilenameTemplate,
			FinalFormat:         cfg.FinalFormat,
			MaxAttempts:         cfg.MaxAttempts,
		}, logger)
	go resolver.RunLoop(ctx, 2*time.Second)

	// Reap expired delivery handles in the background.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.deliveries.Sweep()
			}
		}
	}()

	deps := endpoints.Deps{
		Status:        a.pub,
		Launcher:      launcher,
		ConfigState:   a.configState,
		ScheduleState: stateStore,
		Scheduler:     sched,
		History:       hist,
		Jobs:          jobStore,
		Search:        searchStore,
		Delivery:      a.deliveries,
		Version: func(ctx context.Context) runtimeinfo.Info {
			jsRuntime := ""
			if snapshot, err := a.configState.Snapshot(); err == nil {
				jsRuntime = runtimeinfo.ResolveJSRuntime(snapshot.JSRuntime, "")
			}
			return runtimeinfo.Collect(ctx, config.YtdlpBinary, config.FFmpegBinary, jsRuntime)
		},
		Roots:         roots,
		EnginePaths:   enginePaths,
		LogPath:       logPath,
		YtdlpBinary:   config.YtdlpBinary,
		BasicAuthUser: config.BasicAuthUser,
		BasicAuthPass: config.BasicAuthPass,
	}

	srv := server.NewServer(config.Host, config.Port, config.TrustProxy, deps)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed to start", "error", err)
			cancel()
		}
	}()

	slog.Info("Tubevault server started", "host", config.Host, "port", config.Port, "config", configPath)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("Context cancelled")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	} else {
		slog.Info("Server exited gracefully")
	}
}
