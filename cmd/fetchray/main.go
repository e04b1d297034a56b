package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gwlsn/fetchray/internal/api"
	"github.com/gwlsn/fetchray/internal/config"
	"github.com/gwlsn/fetchray/internal/events"
	"github.com/gwlsn/fetchray/internal/logger"
	"github.com/gwlsn/fetchray/internal/relay"
	"github.com/gwlsn/fetchray/internal/store"
	"github.com/gwlsn/fetchray/internal/ytdlp"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

// shutdownTimeout is how long in-flight downloads get to finish on SIGTERM
const shutdownTimeout = 30 * time.Second

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file (default: ./config/fetchray.yaml)")
	listen := flag.String("listen", "", "Override listen address from config")
	flag.Parse()

	// Determine config path
	cfgPath := *configPath
	if cfgPath == "" {
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			cfgPath = envPath
		} else {
			cfgPath = "config/fetchray.yaml"
		}
	}

	// Load config
	cfg, err := config.Load(cfgPath)
	if err != nil {
		// Initialize logger with default level for this warning
		logger.Init("info", "text")
		logger.Warn("Could not load config", "path", cfgPath, "error", err)
		cfg = config.DefaultConfig()
	}

	// Environment and flags override the file
	cfg.ApplyEnv(os.Getenv)
	if *listen != "" {
		cfg.ListenAddr = *listen
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)

	// Determine config directory for data storage
	configDir := filepath.Dir(cfgPath)
	if configDir == "." {
		configDir = "config"
	}

	tool := ytdlp.NewTool(cfg.YtDlpPath, cfg.KillGrace)
	info := ytdlp.Detect(tool)

	tempDir := cfg.GetTempDir()
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		logger.Error("Temp path is not usable", "path", tempDir, "error", err)
		os.Exit(1)
	}
	// Anything older than two job timeouts belongs to a previous process
	if swept, err := relay.SweepTransient(tempDir, 2*cfg.JobTimeout); err != nil {
		logger.Warn("Could not sweep temp path", "path", tempDir, "error", err)
	} else if swept > 0 {
		logger.Info("Removed stale temp directories", "count", swept)
	}

	rl := relay.New(tool, relay.OptionsFromConfig(cfg))
	broker := events.NewBroker()
	rl.AddNotifier(broker)

	// Download history
	var history store.Store
	dbPath := "(disabled)"
	if cfg.History {
		sqliteStore, err := store.InitStore(cfg.GetDatabasePath(configDir), cfg.HistoryRetention)
		if err != nil {
			logger.Error("Failed to initialize download history", "error", err)
			os.Exit(1)
		}
		defer sqliteStore.Close()
		history = sqliteStore
		dbPath = sqliteStore.Path()
		rl.SetRecorder(sqliteStore)
	}

	// Optional Redis fan-out
	if cfg.RedisAddr != "" {
		publisher, err := events.NewRedisPublisher(context.Background(), cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			logger.Warn("Redis unavailable, job events will not be published", "addr", cfg.RedisAddr, "error", err)
		} else {
			defer publisher.Close()
			rl.AddNotifier(publisher)
		}
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                         FETCHRAY                          ║")
	fmt.Println("║            Paste a link, get the media file back          ║")
	versionLine := fmt.Sprintf("v%s", Version)
	padding := 59 - len(versionLine)
	fmt.Printf("║%*s%s%*s║\n", padding/2, "", versionLine, (padding+1)/2, "")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Config:       %s\n", cfgPath)
	fmt.Printf("  Database:     %s\n", dbPath)
	fmt.Printf("  Temp path:    %s\n", tempDir)
	fmt.Printf("  Delivery:     %s\n", rl.DefaultSink())
	fmt.Printf("  Max jobs:     %d\n", cfg.MaxConcurrentJobs)
	if info.Available {
		fmt.Printf("  yt-dlp:       %s (%s)\n", info.Path, info.Version)
	} else {
		fmt.Printf("  yt-dlp:       %s (NOT FOUND)\n", info.Path)
	}
	fmt.Println()

	handler := api.NewHandler(rl, history, broker, cfg, Version)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server.RegisterOnShutdown(broker.Close)

	fmt.Printf("  Listening on %s\n", cfg.ListenAddr)
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	fmt.Println("─────────────────────────────────────────────────────────────")
	fmt.Printf("  Logging started (level: %s)\n", cfg.LogLevel)
	fmt.Println("─────────────────────────────────────────────────────────────")
	logger.Info("Fetchray started", "version", Version, "listen", cfg.ListenAddr, "ytdlp_available", info.Available)
	if !info.Available {
		logger.Warn("yt-dlp not found, every download will fail until it is installed", "path", cfg.YtDlpPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Println("\n  Shutting down...")
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			// Remaining downloads are cut off; their contexts cancel the tool
			server.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1) //nolint:gocritic // deferred closes are best effort here
	}

	logger.Info("Server stopped")
	fmt.Println("  Goodbye!")
}
