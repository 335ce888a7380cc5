package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/crabzie/hive/config/logger"
	config "github.com/crabzie/hive/config/utils"
	"github.com/crabzie/hive/internal/bootstrap"
	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/service"
	"go.uber.org/zap"
)

// _readinessDrainDelay is time to sleep while context shutdown message propagate
const _readinessDrainDelay = 2 * time.Second

func main() {
	rootCtx, rootCtxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCtxCancel()

	// Init config
	appConfig := config.New()
	baseLogger := logger.Build(appConfig.Logger)
	zap.ReplaceGlobals(baseLogger)
	zap.L().Debug("Logger Builded successfully")

	zap.L().Info("Starting the application", zap.String("app", appConfig.App.Name), zap.String("env", appConfig.App.Env), zap.String("owner", appConfig.App.Owner))

	// Init storage, cache & event bus
	infra, err := bootstrap.Open(rootCtx, appConfig, baseLogger, true)
	if err != nil {
		zap.L().Error("Error initializing infrastructure", zap.Error(err))
		os.Exit(1)
	}
	defer infra.Close()
	tasks := infra.Tasks(appConfig.Await)

	// Cron schedules
	schedules := make([]service.Schedule, 0, len(appConfig.Schedules))
	for _, s := range appConfig.Schedules {
		schedules = append(schedules, service.Schedule{
			Name:     s.Name,
			Spec:     s.Spec,
			Command:  s.Command,
			Payload:  s.Payload,
			Priority: domain.Priority(s.Priority),
		})
	}
	scheduler, err := service.NewSchedulerService(tasks, schedules, baseLogger)
	if err != nil {
		zap.L().Error("Error loading schedules", zap.Error(err))
		os.Exit(1)
	}
	for name, next := range scheduler.Next() {
		zap.L().Info("Schedule loaded", zap.String("schedule", name), zap.Time("next", next))
	}

	// Stuck task reaper
	reaper := service.NewStuckReaper(infra.Repo, infra.Coordinator, infra.Publisher, infra.Cache, service.ReaperOptions{
		Interval:   appConfig.Reaper.Interval,
		StuckAfter: appConfig.Reaper.StuckAfter,
		Batch:      appConfig.Reaper.Batch,
	}, baseLogger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scheduler.StartScheduler(rootCtx)
	}()
	go func() {
		defer wg.Done()
		reaper.Run(rootCtx)
	}()

	// Wait for ctx cancelation
	<-rootCtx.Done()
	rootCtxCancel()
	wg.Wait()

	// Wait for signal propagation
	time.Sleep(_readinessDrainDelay)
	zap.L().Info("Graceful shutdown complete.")
}
