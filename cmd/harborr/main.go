package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/harborr/harborr/internal/api"
	"github.com/harborr/harborr/internal/auth"
	"github.com/harborr/harborr/internal/chunkcache"
	"github.com/harborr/harborr/internal/config"
	"github.com/harborr/harborr/internal/content"
	"github.com/harborr/harborr/internal/database"
	"github.com/harborr/harborr/internal/downloader"
	"github.com/harborr/harborr/internal/downloader/alldebrid"
	"github.com/harborr/harborr/internal/downloader/realdebrid"
	"github.com/harborr/harborr/internal/downloader/torbox"
	dltypes "github.com/harborr/harborr/internal/downloader/types"
	"github.com/harborr/harborr/internal/events"
	"github.com/harborr/harborr/internal/indexer"
	"github.com/harborr/harborr/internal/logger"
	"github.com/harborr/harborr/internal/media"
	"github.com/harborr/harborr/internal/mediaserver"
	"github.com/harborr/harborr/internal/metrics"
	"github.com/harborr/harborr/internal/postprocessor"
	"github.com/harborr/harborr/internal/schedule"
	"github.com/harborr/harborr/internal/scheduler"
	"github.com/harborr/harborr/internal/scraper"
	"github.com/harborr/harborr/internal/symlinker"
	"github.com/harborr/harborr/internal/updater"
	"github.com/harborr/harborr/internal/vfs"
	"github.com/harborr/harborr/internal/websocket"
)

func main() {
	// Client subcommands talk to a running daemon; everything else serves.
	if len(os.Args) > 1 && os.Args[1] != "serve" && !isFlag(os.Args[1]) {
		os.Exit(runCLI(os.Args[1], os.Args[2:]))
	}

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "serve" {
		args = args[1:]
	}

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	os.Exit(serve(*configPath))
}

func isFlag(arg string) bool {
	return len(arg) > 0 && arg[0] == '-'
}

func serve(configPath string) int {
	cfg, v, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer log.Close()

	log.Info().
		Str("version", config.Version).
		Str("db", cfg.Database.Path).
		Msg("Harborr starting")

	m := metrics.New()

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Error().Err(err).Msg("failed to open database")
		return 1
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Error().Err(err).Msg("failed to run migrations")
		return 1
	}

	store := media.NewStore(db.Conn(), log.Logger)
	tasks := schedule.NewStore(db.Conn(), log.Logger)

	cache, err := chunkcache.New(chunkcache.Config{
		Dir:          cfg.Cache.Dir,
		MaxSizeBytes: cfg.Cache.MaxSizeBytes,
		TTL:          time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		Eviction:     chunkcache.Policy(cfg.Cache.Eviction),
	}, log.Logger, m)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize chunk cache")
		return 1
	}

	vfsService := vfs.NewService(store, cache, cfg.Cache.ChunkSize, log.Logger)

	apiKey := cfg.Auth.APIKey
	if apiKey == "" {
		apiKey, err = auth.GenerateAPIKey()
		if err != nil {
			log.Error().Err(err).Msg("failed to generate API key")
			return 1
		}
		log.Warn().Str("api_key", apiKey).Msg("no API key configured; generated one for this run")
	}
	authService, err := auth.NewService(apiKey, "")
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize auth")
		return 1
	}

	hub := websocket.NewHub()
	go hub.Run()
	log.SetBroadcastHub(hub)

	manager := events.NewManager(store, log.Logger, m, cfg.PostProcessing.SubtitlesEnabled)

	indexerClient := indexer.NewClient(cfg.Indexer, log.Logger)
	indexerService := indexer.NewService(store, indexerClient, log.Logger)
	manager.RegisterWorker(indexerService, cfg.Workers.Indexer)

	scrapeTimeout := time.Duration(cfg.Scraper.TimeoutSeconds) * time.Second
	aggregators := []scraper.Aggregator{
		scraper.NewTorrentioClient(cfg.Scraper.TorrentioURL, scrapeTimeout, log.Logger),
	}
	if cfg.Scraper.ZileanURL != "" {
		aggregators = append(aggregators, scraper.NewZileanClient(cfg.Scraper.ZileanURL, scrapeTimeout, log.Logger))
	}
	manager.RegisterWorker(scraper.NewService(store, aggregators, cfg.Scraper, log.Logger), cfg.Workers.Scraper)

	providers := []dltypes.Provider{
		realdebrid.New(cfg.Downloader.RealDebrid, log.Logger),
		torbox.New(cfg.Downloader.TorBox, log.Logger),
		alldebrid.New(cfg.Downloader.AllDebrid, log.Logger),
	}
	downloaderService, err := downloader.NewService(store, providers, cfg.Downloader, log.Logger)
	if err != nil {
		log.Warn().Err(err).Msg("no debrid provider configured; downloads disabled")
	} else {
		manager.RegisterWorker(downloaderService, cfg.Workers.Downloader)
	}

	manager.RegisterWorker(symlinker.NewService(store, cfg.Library, log.Logger), cfg.Workers.Symlinker)

	refresher := mediaserver.NewClient(cfg.MediaServer, log.Logger)
	manager.RegisterWorker(updater.NewService(store, refresher, log.Logger), cfg.Workers.Updater)

	subtitles := postprocessor.NewHTTPProvider("", log.Logger)
	manager.RegisterWorker(postprocessor.NewService(store, subtitles, cfg.PostProcessing, log.Logger), cfg.Workers.PostProcessor)

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("failed to create scheduler")
		return 1
	}

	var sources []scheduler.ContentSource
	if cfg.Content.Requests.Enabled {
		sources = append(sources, content.NewRequestsProvider(cfg.Content.Requests, log.Logger))
	}
	if cfg.Content.Watchlist.Enabled {
		sources = append(sources, content.NewWatchlistProvider(cfg.Content.Watchlist, log.Logger))
	}
	if cfg.Content.Lists.Enabled {
		sources = append(sources, content.NewListsProvider(cfg.Content.Lists, log.Logger))
	}

	jobs := scheduler.NewJobs(store, tasks, manager, indexerService, sources, cfg.Scheduler, m, log.Logger)
	if err := jobs.Register(sched); err != nil {
		log.Error().Err(err).Msg("failed to register scheduled jobs")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Start(ctx)

	if err := sched.Start(); err != nil {
		log.Error().Err(err).Msg("failed to start scheduler")
		return 1
	}

	settings := config.NewSettings(v, "")

	// restart=true re-execs the binary after a clean shutdown.
	shutdownCh := make(chan bool, 1)
	server := api.NewServer(api.Deps{
		DB:       db,
		Store:    store,
		Tasks:    tasks,
		Manager:  manager,
		Sched:    sched,
		Reindex:  indexerService,
		Settings: settings,
		VFS:      vfsService,
		Auth:     authService,
		Hub:      hub,
		Logs:     log,
		Metrics:  m,
		Shutdown: func(restart bool) {
			select {
			case shutdownCh <- restart:
			default:
			}
		},
	}, log.Logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.Server.Address())
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	restart := false
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case restart = <-shutdownCh:
		log.Info().Bool("restart", restart).Msg("shutdown requested via API")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("API server failed")
			return 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API server shutdown failed")
	}
	if err := sched.Stop(); err != nil {
		log.Warn().Err(err).Msg("scheduler shutdown failed")
	}
	manager.Stop()
	cancel()

	if restart {
		exe, err := os.Executable()
		if err == nil {
			cmd := exec.Command(exe, os.Args[1:]...)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			if err := cmd.Start(); err != nil {
				log.Error().Err(err).Msg("restart exec failed")
				return 1
			}
		}
	}

	log.Info().Msg("Harborr stopped")
	return 0
}
