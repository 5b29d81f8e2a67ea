package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/takpipe/internal/api"
	"github.com/your-org/takpipe/internal/api/ws"
	"github.com/your-org/takpipe/internal/audit"
	"github.com/your-org/takpipe/internal/config"
	"github.com/your-org/takpipe/internal/cot"
	"github.com/your-org/takpipe/internal/geo"
	"github.com/your-org/takpipe/internal/models"
	"github.com/your-org/takpipe/internal/observability"
	"github.com/your-org/takpipe/internal/pipeline"
	"github.com/your-org/takpipe/internal/queue"
	"github.com/your-org/takpipe/internal/sink"
	"github.com/your-org/takpipe/internal/storage"
	"github.com/your-org/takpipe/pkg/dto"
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

	slog.Info("starting takpipe API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Broadcast the live detection feed to WebSocket clients
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create detection consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeDetections(ctx, "api-detections", func(ctx context.Context, msg jetstream.Msg) error {
		var det models.Detection
		if err := json.Unmarshal(msg.Data(), &det); err != nil {
			return err
		}

		hub.BroadcastDetection(&dto.WSDetection{
			Type:   "detection_resolved",
			Source: det.Source,
			Data:   dto.ToDetectionResponse(&det),
		})

		return nil
	})
	if err != nil {
		slog.Warn("start detection consumer", "error", err)
	}

	// Pipeline components
	resolver := geo.NewResolver(cfg.Geo)
	encoder := cot.NewEncoder(cfg.CoT)
	takSink := sink.NewTAKSink(cfg.Sink)
	auditRec := audit.NewRecorder(db)

	svc := pipeline.New(pipeline.Deps{
		Resolver:        resolver,
		Encoder:         encoder,
		Store:           db,
		Images:          minioStore,
		Publisher:       producer,
		Sink:            takSink,
		Audit:           auditRec,
		DispatchTimeout: cfg.Sink.DispatchTimeout,
	})

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:     cfg.Server.APIKey,
		DB:         db,
		MinIO:      minioStore,
		Producer:   producer,
		Sink:       takSink,
		Hub:        hub,
		Pipeline:   svc,
		Encoder:    encoder,
		Resolver:   resolver,
		GeoConfig:  cfg.Geo,
		MaxRetries: cfg.Queue.MaxRetries,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
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
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
