package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/vds/internal/alert"
	"github.com/your-org/vds/internal/api"
	"github.com/your-org/vds/internal/api/ws"
	"github.com/your-org/vds/internal/config"
	"github.com/your-org/vds/internal/models"
	"github.com/your-org/vds/internal/observability"
	"github.com/your-org/vds/internal/processing"
	"github.com/your-org/vds/internal/queue"
	"github.com/your-org/vds/internal/storage"
	"github.com/your-org/vds/internal/verdict"
	"github.com/your-org/vds/internal/video"
	"github.com/your-org/vds/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting violence detection service",
		"port", cfg.Server.Port,
		"backend", cfg.Video.Backend,
		"policy", cfg.Verdict.Policy,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Verdict engine
	params, err := verdict.ParamsFromConfig(cfg.Verdict)
	if err != nil {
		slog.Error("verdict params", "error", err)
		os.Exit(1)
	}

	session, err := vision.NewSession(cfg.Detector, params.Threshold)
	if err != nil {
		slog.Error("init inference session", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	engine, err := verdict.NewEngine(session.Detector, session.Renderer, params)
	if err != nil {
		slog.Error("create verdict engine", "error", err)
		os.Exit(1)
	}

	backend, err := video.NewBackend(cfg.Video)
	if err != nil {
		slog.Error("video backend", "error", err)
		os.Exit(1)
	}

	opts := processing.Options{
		UploadDir:  cfg.Server.UploadDir,
		Zone:       cfg.Alerts.TimezoneLabel,
		Backend:    backend,
		Transcoder: video.FFmpegTranscoder{Codec: cfg.Video.BrowserCodec},
		Engine:     engine,
	}

	// Optional Postgres
	var db *storage.PostgresStore
	if cfg.Database.Enabled {
		db, err = storage.NewPostgresStore(ctx, cfg.Database)
		if err != nil {
			slog.Error("connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			slog.Error("migrate postgres", "error", err)
			os.Exit(1)
		}
		opts.Records = db
	}

	// Optional MinIO
	var minioStore *storage.MinIOStore
	if cfg.MinIO.Enabled {
		minioStore, err = storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		opts.Mirror = minioStore
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)
	opts.Events = hub

	// Alerts: through the ALERTS stream when NATS is configured, in process otherwise.
	var producer *queue.Producer
	var dispatcher alert.Dispatcher = alert.NopDispatcher{}
	if cfg.NATS.URL != "" {
		producer, err = queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		dispatcher = alert.NewQueueDispatcher(producer, cfg.Alerts.Timeout)
		opts.Events = producer

		// Completion events come back through DETECTIONS so every API replica broadcasts them.
		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create detection consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		instance := uuid.NewString()
		err = consumer.ConsumeDetections(ctx, instance, func(ctx context.Context, ev models.DetectionEvent) error {
			return hub.PublishDetection(ctx, ev)
		})
		if err != nil {
			slog.Warn("start detection consumer, broadcasting local completions only", "error", err)
			opts.Events = processing.FanOut{producer, hub}
		}
	} else if cfg.Alerts.Enabled {
		dispatcher = alert.NewAsyncDispatcher(alert.NewTelegram(cfg.Alerts), cfg.Alerts.QueueSize, cfg.Alerts.Timeout)
	}
	opts.Alerts = dispatcher

	sweeper := processing.NewSweeper(cfg.Server.UploadDir, cfg.Cleanup)
	go sweeper.Run(ctx, cfg.Cleanup.Interval)
	opts.Sweeper = sweeper

	proc, err := processing.NewProcessor(opts)
	if err != nil {
		slog.Error("create processor", "error", err)
		os.Exit(1)
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:            cfg.Server.APIKey,
		UploadDir:         cfg.Server.UploadDir,
		AllowedExtensions: cfg.Server.AllowedExtensions,
		MaxUploadBytes:    cfg.Server.MaxUploadBytes(),
		Processor:         proc,
		Hub:               hub,
		DB:                db,
		MinIO:             minioStore,
		Producer:          producer,
	})

	// Start HTTP server. Uploads are processed inside the request, so the
	// write timeout has to cover a whole video.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		slog.Warn("drain alert dispatcher", "error", err)
	}
	cancel()

	slog.Info("API server stopped")
}
