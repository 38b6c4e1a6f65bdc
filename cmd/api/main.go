package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-nested-tx/internal/api"
	"github.com/sanosuguru/go-nested-tx/internal/api/handler"
	"github.com/sanosuguru/go-nested-tx/internal/api/middleware"
	"github.com/sanosuguru/go-nested-tx/internal/application"
	"github.com/sanosuguru/go-nested-tx/internal/config"
	"github.com/sanosuguru/go-nested-tx/internal/infrastructure/postgres"
	redisinfra "github.com/sanosuguru/go-nested-tx/internal/infrastructure/redis"
	"github.com/sanosuguru/go-nested-tx/internal/pkg/logger"
	"github.com/sanosuguru/go-nested-tx/internal/pkg/metrics"
	"github.com/sanosuguru/go-nested-tx/internal/worker"
)

func main() {
	cfg := config.Load()
	logger.Set(logger.NewLogger(cfg.App.Env))
	defer logger.Sync()

	db, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		logger.Fatal("データベース接続エラー", zap.Error(err))
	}
	defer db.Close()

	if err := postgres.RunMigrations(db.DB); err != nil {
		logger.Fatal("マイグレーションエラー", zap.Error(err))
	}

	m := metrics.Init()
	conns := postgres.NewConnectionFactory(db, postgres.OptionsFromConfig(&cfg.Transaction, m))

	var lockManager *redisinfra.LockManager
	if cfg.Redis.Enabled() {
		redisClient, err := redisinfra.NewClient(&cfg.Redis)
		if err != nil {
			logger.Fatal("Redis接続エラー", zap.Error(err))
		}
		defer redisClient.Close()
		lockManager = redisinfra.NewLockManager(redisClient)
	}
	probe := application.NewConflictProbe(db, conns, m, lockManager)

	// Echo インスタンス作成
	e := echo.New()
	e.HideBanner = true
	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = api.CustomHTTPErrorHandler
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	middleware.SetupMiddleware(e, m)
	handler.RegisterRoutes(e, handler.NewHealthHandler(db), handler.NewProbeHandler(probe), &cfg.Metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runner *worker.ProbeRunner
	if cfg.Probe.Interval > 0 {
		runner = worker.NewProbeRunner(probe, cfg.Probe.Interval, cfg.Probe.Rounds)
		go runner.Start(ctx)
	}

	go func() {
		if err := e.Start(fmt.Sprintf(":%s", cfg.Server.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("サーバー起動エラー", zap.Error(err))
		}
	}()

	// シグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("サーバーをシャットダウンしています...")

	if runner != nil {
		runner.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("サーバーシャットダウンエラー", zap.Error(err))
		return
	}

	logger.Info("サーバーが正常にシャットダウンしました")
}
