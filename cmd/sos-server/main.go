package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"HibiscusSOS/internal/directory"
	handlers "HibiscusSOS/internal/handler"
	"HibiscusSOS/internal/models"
	"HibiscusSOS/pkg/backup"
	"HibiscusSOS/pkg/cache"
	"HibiscusSOS/pkg/config"
	"HibiscusSOS/pkg/logger"
	"HibiscusSOS/pkg/metrics"
	"HibiscusSOS/pkg/scheduler"
	"HibiscusSOS/pkg/util"
	"HibiscusSOS/pkg/websocket"
)

func main() {
	if err := config.Load(); err != nil {
		logger.Error("load config failed", zap.Error(err))
		os.Exit(1)
	}
	cfg := config.GlobalConfig
	logger.Init(cfg.Log)
	defer logger.Sync()

	gin.SetMode(cfg.Mode)

	db, err := util.InitDatabase(cfg.DBDriver, cfg.DSN)
	if err != nil {
		logger.Error("init database failed", zap.Error(err))
		os.Exit(1)
	}
	if err := db.AutoMigrate(&models.Alert{}, &models.Responder{}); err != nil {
		logger.Error("migrate failed", zap.Error(err))
		os.Exit(1)
	}

	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		logger.Error("init cache failed", zap.Error(err))
		os.Exit(1)
	}
	defer c.Close()

	hub := websocket.NewHub(nil)
	defer hub.Close()

	dir := directory.New(db, c, cfg.StaleAlertTTL)
	if err := dir.Migrate(); err != nil {
		logger.Error("migrate directory failed", zap.Error(err))
		os.Exit(1)
	}

	h := handlers.NewHandlers(db, hub, c, metrics.NewMetrics(), dir, cfg)
	engine := gin.New()
	engine.Use(gin.Recovery())
	h.Register(engine)

	// 过期告警清扫与事件归档
	cron := scheduler.NewCron(nil)
	if err := cron.Register("stale-sweep", cfg.StaleSweepSchedule, scheduler.JobFunc(h.SweepStaleAlerts)); err != nil {
		logger.Error("schedule stale sweep failed", zap.Error(err))
		os.Exit(1)
	}
	if cfg.ArchiveSchedule != "" {
		archiver := backup.NewArchiver(db, cfg.ArchivePath, cfg.ArchiveKeep)
		if err := cron.Register("archive", cfg.ArchiveSchedule, archiver); err != nil {
			logger.Error("schedule archive failed", zap.Error(err))
			os.Exit(1)
		}
	}
	cron.Start()
	defer cron.Stop()

	srv := &http.Server{Addr: cfg.Addr, Handler: engine}
	go func() {
		logger.Info("sos server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server exited", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
