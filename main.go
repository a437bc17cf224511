package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fridgeclinic/internal/api"
	"fridgeclinic/internal/config"
	"fridgeclinic/internal/diagnosis"
	"fridgeclinic/internal/logging"
	"fridgeclinic/internal/objectstore"
	"fridgeclinic/internal/redis"
	"fridgeclinic/internal/remotefile"
	"fridgeclinic/internal/service/ai"
	"fridgeclinic/internal/service/chat"
	"fridgeclinic/internal/service/history"
	"fridgeclinic/internal/storage"
	"fridgeclinic/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logging.Init(os.Getenv("APP_ENV"))
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("FRIDGECLINIC_CONFIG"))
	if err != nil {
		return err
	}
	if cfg.BasicConfig.Environment != "" {
		logging.Init(cfg.BasicConfig.Environment)
	}

	dbType := os.Getenv("FRIDGECLINIC_DB")
	if dbType == "" {
		dbType = "sqlite3"
		if os.Getenv("DATABASE_URL") != "" {
			dbType = "postgres"
		}
	}
	slog.Info("opening database", "type", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	// Create necessary tables: diagnoses, chat_conversations, chat_messages, remote_file_orphans
	if err := storage.Migrate(db); err != nil {
		return err
	}

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := diagnosis.NewMetrics(registry)
	if err != nil {
		return err
	}

	objects := objectstore.New(cfg.Storage)
	files := remotefile.New(cfg.RemoteFiles)
	generator, err := diagnosis.NewGeminiGenerator(ctx, cfg.RemoteFiles, cfg.Diagnosis.Model)
	if err != nil {
		return err
	}

	historyService, err := history.NewService(db, rdb)
	if err != nil {
		return err
	}
	pipeline := diagnosis.NewPipeline(objects, files, generator, historyService, diagnosis.Options{
		Model:             generator.Model(),
		ProcessingTimeout: cfg.RemoteFiles.Timeout(),
		Metrics:           metrics,
		Orphans:           historyService,
	})

	aiService, err := ai.NewService(ctx, cfg)
	if err != nil {
		return err
	}
	workers := worker.NewManager(rdb)
	defer workers.Stop()
	chatService := chat.NewService(db, historyService, aiService, workers, chat.Options{
		ReplyTimeout: cfg.Chat.ReplyTimeout(),
	})
	sweeper := history.NewSweeper(historyService, files, cfg.Sweeper.Interval(), cfg.Sweeper.MaxAge())

	origins, err := api.LoadAllowedOrigins(cfg.BasicConfig.CORSConfigPath)
	if err != nil {
		return err
	}
	handlers := api.NewHandler(api.Deps{
		Pipeline: pipeline,
		Uploads:  objects,
		History:  historyService,
		Chat:     chatService,
		Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	router := gin.Default()
	router.Use(api.CORS(origins))
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", srv.Addr, "object_store", objects.Available(), "file_api", files.Available(), "chat", aiService.Available())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		return workers.Listen(gctx)
	})
	g.Go(func() error {
		return historyService.Listen(gctx)
	})
	return g.Wait()
}
