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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/takpipe/internal/audit"
	"github.com/your-org/takpipe/internal/config"
	"github.com/your-org/takpipe/internal/observability"
	"github.com/your-org/takpipe/internal/offline"
	"github.com/your-org/takpipe/internal/sink"
	"github.com/your-org/takpipe/internal/storage"
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

	slog.Info("starting takpipe offline syncer",
		"scan_interval", cfg.Queue.ScanInterval.String(),
		"max_retries", cfg.Queue.MaxRetries,
	)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	takSink := sink.NewTAKSink(cfg.Sink)
	auditRec := audit.NewRecorder(db)
	syncer := offline.NewSyncer(db, takSink, auditRec, cfg.Queue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go syncer.Run(ctx)

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("syncer metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down syncer...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("syncer stopped")
}
