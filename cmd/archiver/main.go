// Command archiver runs one archive pass from the command line: either every
// configured playlist or a single URL, then exits. The long-running API server
// lives in cmd/http.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"tubevault/internal/auth"
	"tubevault/internal/config"
	"tubevault/internal/delivery"
	"tubevault/internal/discovery"
	"tubevault/internal/engine"
	"tubevault/internal/executor"
	"tubevault/internal/history"
	"tubevault/internal/jobs"
	"tubevault/internal/media"
	"tubevault/internal/metadata"
	"tubevault/internal/notify"
	"tubevault/internal/paths"
	"tubevault/internal/runtimeinfo"
	"tubevault/internal/status"
	"tubevault/internal/worker"
	"tubevault/internal/ytdlp"
)

const (
	exitOK       = 0
	exitFailed   = 1
	exitSignaled = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	configFlag := flag.String("config", "", "config file path (under the config root)")
	singleURL := flag.String("single-url", "", "download one URL instead of running playlists")
	destination := flag.String("destination", "", "destination directory for --single-url (under the downloads root)")
	format := flag.String("format", "", "final container override, e.g. mp4 or webm")
	jsRuntime := flag.String("js-runtime", "", "JS runtime for yt-dlp, name or name:path")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		info := runtimeinfo.Collect(context.Background(),
			config.YtdlpBinary, config.FFmpegBinary, runtimeinfo.NormalizeJSRuntime(*jsRuntime))
		fmt.Printf("tubevault %s (%s)\ngo %s %s\nyt-dlp %s\nffmpeg %s\n",
			info.AppVersion, info.Commit, info.GoVersion, info.Platform,
			info.YtDlpVersion, info.FFmpegVersion)
		return exitOK
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	roots := paths.NewRoots()
	enginePaths := roots.BuildEnginePaths()
	if err := roots.EnsureAll(enginePaths); err != nil {
		logger.Error("Failed to create data directories", "error", err)
		return exitFailed
	}

	configOverride := *configFlag
	if configOverride == "" {
		configOverride = os.Getenv("TUBEVAULT_CONFIG")
	}
	configPath, err := roots.ResolveConfigPath(configOverride)
	if err != nil {
		logger.Error("Invalid config path", "error", err)
		return exitFailed
	}
	cfg, raw, err := config.Load(configPath)
	if err != nil {
		logger.Error("Failed to load config", "path", configPath, "error", err)
		return exitFailed
	}
	if problems := config.Validate(raw); len(problems) > 0 {
		for _, problem := range problems {
			logger.Error("Config invalid", "error", problem)
		}
		return exitFailed
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var signaled atomic.Bool
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig, ok := <-sigChan
		if !ok {
			return
		}
		logger.Info("Received shutdown signal", "signal", sig)
		signaled.Store(true)
		cancel()
	}()
	defer signal.Stop(sigChan)

	db, err := sql.Open("sqlite", enginePaths.DBPath+"?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)")
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		return exitFailed
	}
	defer db.Close()

	jobStore, err := jobs.NewStore(db)
	if err != nil {
		logger.Error("Failed to initialize job store", "error", err)
		return exitFailed
	}
	hist, err := history.Open(enginePaths.DBPath)
	if err != nil {
		logger.Error("Failed to open history store", "error", err)
		return exitFailed
	}
	defer hist.Close()

	pub := status.NewPublisher()
	deliveries := delivery.NewRegistry(logger)

	finalFormat := cfg.FinalFormat
	if *format != "" {
		finalFormat = *format
	}
	effectiveJS := runtimeinfo.ResolveJSRuntime(cfg.JSRuntime, *jsRuntime)
	downloader := ytdlp.NewClient(config.YtdlpBinary, effectiveJS, logger)
	toolchain := media.NewToolchain(config.FFmpegBinary, config.FFprobeBin, logger)

	mbClient := metadata.NewMusicBrainzClient("", logger)
	metaWorker := metadata.NewWorker(mbClient, toolchain, metadata.SettingsFromConfig(cfg.MusicMetadata),
		enginePaths.YtdlpTempDir, logger)
	defer metaWorker.Close()

	exec := executor.New(downloader, toolchain, hist, deliveries, roots, enginePaths, pub,
		executor.Config{
			FinalFormat:    finalFormat,
			YtDlpOverrides: cfg.YtDlpOptions,
			CookiesPath:    cfg.YtDlpCookies,
			ThumbsDir:      enginePaths.ThumbsDir,
		}, logger)
	exec.SetMetadataQueue(metaWorker)

	workers := worker.New(jobStore, exec, pub, worker.Config{
		PollInterval: time.Duration(config.PollInterval) * time.Second,
		RetryDelay:   time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}, logger)

	var api *discovery.YouTubeClient
	tokens := auth.NewFileTokenProvider(roots.TokensDir, logger)
	if ts, err := tokens.GetYouTubeTokenSource(ctx); err == nil {
		client, err := discovery.NewYouTubeClient(ctx, ts)
		if err != nil {
			logger.Warn("YouTube API client unavailable", "error", err)
		} else {
			api = client
		}
	} else {
		logger.Info("No YouTube account tokens, using public enumeration only")
	}
	var apiClient discovery.APIClient
	var trimmer engine.PlaylistTrimmer
	if api != nil {
		apiClient = api
		trimmer = api
	}
	disc := discovery.NewDiscoverer(apiClient, downloader, cfg.YtDlpOptions, logger)

	var notifier engine.RunNotifier
	if cfg.Telegram != nil {
		notifier = notify.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, "", logger)
	}

	eng := engine.New(cfg, roots, enginePaths, disc, trimmer, hist, jobStore,
		workers, pub, notifier, logger)

	if *singleURL != "" {
		job, err := eng.RunSingle(ctx, engine.SingleOptions{
			URL:         *singleURL,
			Destination: *destination,
			Format:      *format,
		})
		if signaled.Load() {
			return exitSignaled
		}
		if err != nil {
			logger.Error("Single download failed", "url", *singleURL, "error", err)
			return exitFailed
		}
		if job == nil || job.Status != jobs.StatusCompleted {
			reason := "unknown"
			if job != nil && job.LastError != "" {
				reason = job.LastError
			}
			logger.Error("Single download failed", "url", *singleURL, "error", reason)
			return exitFailed
		}
		return exitOK
	}

	summary, err := eng.Run(ctx, engine.RunOptions{Preview: config.Preview})
	if signaled.Load() {
		return exitSignaled
	}
	if err != nil {
		logger.Error("Archive run failed", "error", err)
		return exitFailed
	}
	logger.Info("Archive run complete",
		"enqueued", summary.Enqueued,
		"completed", len(summary.Completed),
		"failed", len(summary.Failed),
		"skipped", summary.Skipped)
	return exitOK
}
