package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"filecollect/internal/backends/edr"
	"filecollect/internal/backends/sshfetch"
	"filecollect/internal/collection"
	"filecollect/internal/config"
	cronrunner "filecollect/internal/cron"
	"filecollect/internal/db"
	"filecollect/internal/handler"
	"filecollect/internal/logger"
	"filecollect/internal/report"
	gormrepository "filecollect/internal/repository/gorm"
)

func main() {
	cfgPath := os.Getenv("FC_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("FC_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	var reporter report.Reporter = report.Nop{}
	if strings.TrimSpace(cfg.Reporter.URL) != "" {
		reporter = &report.Client{
			URL:     cfg.Reporter.URL,
			Timeout: cfg.Reporter.Timeout,
			Logger:  logger,
		}
	}

	registry := collection.NewRegistry()
	if err := registry.Register(sshfetch.Driver, sshfetch.New); err != nil {
		logger.Fatal("register ssh driver failed", zap.Error(err))
	}
	if err := registry.Register(edr.Driver, edr.New); err != nil {
		logger.Fatal("register edr driver failed", zap.Error(err))
	}

	manager := collection.NewManager(cfg.Collection, store, logger, reporter)
	if err := manager.LoadWorkers(cfg.Backends, registry); err != nil {
		logger.Fatal("load collection workers failed", zap.Error(err))
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	healthHandler := &handler.HealthHandler{DB: dbConn}
	healthHandler.Register(engine)
	collectionHandler := &handler.CollectionHandler{
		Repo:                   store,
		Logger:                 logger,
		Backends:               cfg.Backends,
		RetryRequiresCompleted: cfg.Collection.RetryRequiresCompleted,
	}
	collectionHandler.Register(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Collection.Enabled {
		if err := manager.Start(ctx); err != nil {
			logger.Fatal("collection manager start failed", zap.Error(err))
		}
	} else {
		logger.Warn("collection manager disabled by config")
	}

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		_, err := cronRunner.Add(cfg.Cron.PurgeCompleted,
			cronrunner.PurgeCompletedJob(store, logger, cfg.Cron.PurgeRetentionDays))
		if err != nil {
			logger.Warn("cron register purge failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	if cfg.Collection.Enabled {
		manager.Stop()
		manager.Wait()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
