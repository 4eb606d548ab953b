package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/airwavetv/airwave/internal/database"
	"github.com/airwavetv/airwave/internal/database/migrations"
	"github.com/airwavetv/airwave/internal/epg"
	"github.com/airwavetv/airwave/internal/ffmpeg"
	airhttp "github.com/airwavetv/airwave/internal/http"
	"github.com/airwavetv/airwave/internal/http/handlers"
	"github.com/airwavetv/airwave/internal/observability"
	"github.com/airwavetv/airwave/internal/procpool"
	"github.com/airwavetv/airwave/internal/repository"
	"github.com/airwavetv/airwave/internal/resolver"
	"github.com/airwavetv/airwave/internal/selfheal"
	"github.com/airwavetv/airwave/internal/service"
	"github.com/airwavetv/airwave/internal/stream"
	"github.com/airwavetv/airwave/internal/timeline"
	"github.com/airwavetv/airwave/internal/version"
)

// resolverTTL bounds how long resolved media URLs are trusted.
const resolverTTL = 30 * time.Minute

// guideRefreshInterval is how often the materialized timelines are
// extended and trimmed in the background.
const guideRefreshInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the airwave headend",
	Long: `Starts the playout engine and the HTTP surface: HDHomeRun
discovery, channel lineup, MPEG-TS streaming, XMLTV guide and the
status API.`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen address")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	setupLogging(cfg)
	logger := slog.Default()
	logger.Info("starting airwave",
		"version", version.Short(),
		"address", cfg.Server.Address())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	metrics.StartLagSampler(ctx, 5*time.Second)

	// Database and schema.
	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	db.StartStatsMonitor(ctx, metrics, 15*time.Second)

	channels := repository.NewChannelRepository(db.DB)
	schedules := repository.NewScheduleRepository(db.DB)
	playouts := repository.NewPlayoutRepository(db.DB)
	media := repository.NewMediaRepository(db.DB)
	positions := repository.NewPositionRepository(db.DB)

	// FFmpeg binary. Startup fails fast when no usable binary exists;
	// every channel needs one.
	binary, err := ffmpeg.NewBinaryDetector(cfg.FFmpeg.Path).Detect(ctx)
	if err != nil {
		return fmt.Errorf("locating ffmpeg: %w", err)
	}
	logger.Info("ffmpeg detected", "path", binary.Path, "version", binary.Version)

	// Fallback slate. A failed render is tolerated: channels degrade to
	// dropping output during gaps instead of refusing to start.
	slateCfg := stream.DefaultSlateConfig()
	slateCfg.FFmpegPath = binary.Path
	slate := stream.NewSlateGenerator(slateCfg, logger)
	if err := slate.Initialize(ctx); err != nil {
		logger.Warn("slate generation failed, gaps will drop output", "error", err)
	}

	pool := procpool.New(cfg.ProcessPool, cfg.FFmpeg.StartupTimeout, logger, metrics)
	pool.StartMonitor(ctx)

	res := resolver.New(media, logger, resolverTTL)
	builder := timeline.NewBuilder(media, logger, metrics)
	projector := epg.NewProjector(channels, schedules, playouts, positions, media,
		builder, cfg.Playout.BuildDays, logger)

	// The healer must exist before the stream manager so streams can
	// report into it; the manager is attached to the actions afterwards.
	actions := service.NewHealActions(channels, projector, res, logger)
	healer := selfheal.New(cfg.SelfHeal, actions, logger, metrics)

	sessions := stream.NewSessionManager(cfg.Sessions, logger, metrics)
	manager := stream.NewManager(stream.ManagerDeps{
		Channels: channels,
		Timeline: projector,
		Sessions: sessions,
		Stream: stream.ChannelStreamDeps{
			Pool:                   stream.PoolAdapter{Pool: pool},
			Timeline:               projector,
			Resolver:               res,
			Media:                  media,
			Positions:              positions,
			Slate:                  slate,
			Health:                 healer,
			Metrics:                metrics,
			Logger:                 logger,
			FFmpegPath:             binary.Path,
			DefaultHWAccel:         cfg.FFmpeg.DefaultHWAccel,
			StallTimeout:           cfg.FFmpeg.StallTimeout,
			MaxConsecutiveFailures: cfg.SelfHeal.MaxConsecutiveFailures,
			Ring: stream.RingConfig{
				MaxBytes:  int(cfg.Playout.RingBufferSize),
				MaxChunks: cfg.Playout.RingBufferChunks,
			},
		},
		Logger: logger,
	})
	actions.SetManager(manager)
	sessions.SetReleaser(manager)
	sessions.StartSweeper(ctx)
	manager.Start(ctx, cfg.Playout.PreWarmChannels)

	go maintainGuide(ctx, projector, channels, cfg.Playout.BuildDays, logger)

	backups := service.NewBackupService(db.DB, cfg.Database, cfg.Backup, logger)
	if err := backups.Start(ctx); err != nil {
		return fmt.Errorf("starting backup schedule: %w", err)
	}

	// HTTP surface.
	server := airhttp.NewServer(cfg.Server, logger, version.Short())
	router := server.Router()

	tuner := handlers.NewTunerHandler(cfg.Server, cfg.HDHomeRun, channels, logger)
	streamHandler := handlers.NewStreamHandler(manager, tuner.BaseURL, logger)
	guideHandler := handlers.NewGuideHandler(projector, tuner.BaseURL, logger)
	statusHandler := handlers.NewStatusHandler(version.Short(), db.DB, channels,
		manager, sessions, healer, pool)

	if cfg.HDHomeRun.Enabled {
		tuner.Register(router)
	}
	streamHandler.Register(router)
	guideHandler.Register(router)
	statusHandler.Register(server.API())
	router.Handle("/metrics", metrics.Handler())

	if cfg.HDHomeRun.Enabled && cfg.HDHomeRun.EnableSSDP {
		deviceXMLURL := ""
		if cfg.Server.PublicURL != "" {
			deviceXMLURL = cfg.Server.PublicURL + "/device.xml"
		}
		ssdp := airhttp.NewSSDP(tuner.DeviceID(), cfg.HDHomeRun.FriendlyName,
			deviceXMLURL, logger)
		go func() {
			if err := ssdp.Run(ctx); err != nil {
				logger.Warn("ssdp responder stopped", "error", err)
			}
		}()
	}

	serveErr := server.ListenAndServe(ctx)

	// Orderly teardown: stop accepting clients, stop the streams, then
	// reap the process pool.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	manager.Shutdown(shutdownCtx)
	pool.Close(5 * time.Second)

	logger.Info("airwave stopped")
	return serveErr
}

// maintainGuide keeps the materialized timelines covering the guide
// horizon and trims the played-out past.
func maintainGuide(ctx context.Context, projector *epg.Projector,
	channels repository.ChannelRepository, buildDays int, logger *slog.Logger) {

	logger = observability.WithComponent(logger, "guide-maintenance")
	run := func() {
		runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()

		enabled, err := channels.GetEnabled(runCtx)
		if err != nil {
			logger.Error("loading channels for guide refresh", "error", err)
			return
		}
		horizon := time.Now().UTC().AddDate(0, 0, buildDays)
		for _, channel := range enabled {
			if err := projector.EnsureHorizon(runCtx, channel.ID, horizon); err != nil {
				logger.Warn("extending guide failed",
					"channel", channel.Number, "error", err)
			}
		}
		if err := projector.Trim(runCtx); err != nil {
			logger.Warn("trimming played-out history failed", "error", err)
		}
	}

	run()
	ticker := time.NewTicker(guideRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
