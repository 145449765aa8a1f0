package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rpattn/opscrm/internal/config"
	"github.com/rpattn/opscrm/internal/db"
	"github.com/rpattn/opscrm/internal/dedupe"
	"github.com/rpattn/opscrm/internal/events"
	"github.com/rpattn/opscrm/internal/export"
	"github.com/rpattn/opscrm/internal/ingestion"
	"github.com/rpattn/opscrm/internal/logger"
	"github.com/rpattn/opscrm/internal/merge"
	"github.com/rpattn/opscrm/internal/middleware"
	"github.com/rpattn/opscrm/internal/repository"
	"github.com/rpattn/opscrm/internal/tracing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

func main() {
	configPath := flag.String("config", ".", "config file or directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = cfg.Log.Format
	logCfg.File = cfg.Log.File
	log := logger.New(logCfg)
	logger.SetDefaultLogger(log)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
	log.Info("Server exited")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = log.WithContext(ctx)

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(ctx, tracing.Config{
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.ServiceName,
			Insecure:    cfg.Tracing.Insecure,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.WithError(err).Warn("Tracer shutdown failed")
			}
		}()
	}

	if err := db.RunMigrations(cfg.Database, log); err != nil {
		return err
	}
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()
	store := repository.NewPostgresStore(conn.Pool)

	var publisher events.Publisher = events.Noop{}
	if cfg.Kafka.Enabled {
		publisher = events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.WithError(err).Warn("Event publisher close failed")
		}
	}()

	classifier := dedupe.NewClassifier()
	if cfg.Matching.FuzzyThreshold > 0 {
		classifier = dedupe.NewClassifier(dedupe.WithSoftMatcher(dedupe.FuzzySoftMatcher{Threshold: cfg.Matching.FuzzyThreshold}))
	}

	imports := ingestion.NewService(store,
		ingestion.WithChunkSize(cfg.Import.ChunkSize),
		ingestion.WithPreviewLimit(cfg.Import.PreviewLimit),
		ingestion.WithClassifier(classifier),
		ingestion.WithPublisher(publisher),
	)
	merges := merge.NewService(store, merge.WithPublisher(publisher))
	reports := export.NewService(store)

	api := http.NewServeMux()
	ingestion.NewHTTPHandler(imports, cfg.Server.MaxUploadMB<<20).Register(api)
	merge.NewHTTPHandler(merges).Register(api)
	export.NewHTTPHandler(reports).Register(api)

	scoped := middleware.ScopeMiddleware(middleware.DataLoaderMiddleware(store.Leads())(api))

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := conn.Pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if cfg.Metrics.Enabled {
		root.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}
	root.Handle("/", scoped)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{middleware.HeaderRequestID, "Content-Disposition"},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      corsHandler.Handler(middleware.LoggingMiddleware(log)(root)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.WriteTimeout * 2,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("Starting import API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
