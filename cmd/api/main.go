package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crabzie/hive/config/logger"
	config "github.com/crabzie/hive/config/utils"
	"github.com/crabzie/hive/internal/adapter/http/handler"
	"github.com/crabzie/hive/internal/bootstrap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// _shutdownPeriod is time to wait before gracefully shutting server
// _shutdownHardPeriod is time to wait beofre force closing server
// _readinessDrainDelay is time to sleep while context shutdown message propagate
const (
	_shutdownPeriod      = 10 * time.Second
	_shutdownHardPeriod  = 3 * time.Second
	_readinessDrainDelay = 5 * time.Second
)

func main() {
	rootCtx, rootCtxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCtxCancel()

	// Init config
	appConfig := config.New()
	baseLogger := logger.Build(appConfig.Logger)
	zap.ReplaceGlobals(baseLogger)

	zap.L().Info("Starting the application", zap.String("app", appConfig.App.Name), zap.String("env", appConfig.App.Env), zap.String("owner", appConfig.App.Owner))

	// Init storage, cache & event bus
	infra, err := bootstrap.Open(rootCtx, appConfig, baseLogger, true)
	if err != nil {
		zap.L().Error("Error initializing infrastructure", zap.Error(err))
		os.Exit(1)
	}
	defer infra.Close()

	checks := make(map[string]handler.Check, len(infra.Checks))
	for name, check := range infra.Checks {
		checks[name] = check
	}

	if appConfig.App.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.NewRouter(
		handler.NewTaskHandler(infra.Tasks(appConfig.Await), baseLogger),
		handler.NewBeeHandler(infra.Coordinator),
		handler.NewHealthHandler(checks),
		baseLogger,
	)

	// requests keep running on their own context until shutdown is forced
	ongoingCtx, stopOngoing := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:    appConfig.HTTP.Addr,
		Handler: router,
		BaseContext: func(_ net.Listener) context.Context {
			return ongoingCtx
		},
	}

	go func() {
		zap.L().Info("Http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("Http server failed", zap.Error(err))
			rootCtxCancel()
		}
	}()

	// Wait for ctx cancelation
	<-rootCtx.Done()
	rootCtxCancel()

	// Wait for signal propagation
	time.Sleep(_readinessDrainDelay)
	zap.L().Info("Readiness check propagated, now waiting for ongoing requests to finish")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), _shutdownPeriod)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	stopOngoing()
	if err != nil {
		zap.L().Error("Failed to wait for ongoing requests to finish, waiting for forced cancellation", zap.Error(err))
		time.Sleep(_shutdownHardPeriod)
	}

	zap.L().Info("Graceful shutdown complete.")
}
