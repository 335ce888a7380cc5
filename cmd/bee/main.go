package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/crabzie/hive/config/logger"
	config "github.com/crabzie/hive/config/utils"
	"github.com/crabzie/hive/internal/adapter/handler/bridge"
	"github.com/crabzie/hive/internal/adapter/handler/vitals"
	"github.com/crabzie/hive/internal/adapter/monitoring/prometheus"
	"github.com/crabzie/hive/internal/bootstrap"
	"github.com/crabzie/hive/internal/core/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	rootCtx, rootCtxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCtxCancel()

	// 1. Init Config & Logger
	appConfig := config.New()
	log := logger.Build(appConfig.Logger)
	zap.ReplaceGlobals(log)

	hostname, _ := os.Hostname()
	baseID := appConfig.Bee.ID
	if baseID == "" {
		baseID = hostname
	}
	if baseID == "" {
		baseID = "bee-" + uuid.NewString()[:8]
	}
	log = log.With(zap.String("service", "bee"))
	log.Info("Starting hive bees", zap.String("id", baseID), zap.Int("count", appConfig.Bee.Count))

	// 2. Init Adapters
	infra, err := bootstrap.Open(rootCtx, appConfig, log, true)
	if err != nil {
		log.Fatal("Failed to init infrastructure", zap.Error(err))
	}
	defer infra.Close()
	tasks := infra.Tasks(appConfig.Await)

	// 3. Register handlers, first registration wins per capability
	registry := service.NewHandlerRegistry(log)
	vitalsHandler := vitals.New(prometheus.NewClient(appConfig.Prometheus.URL, log), log)
	if err := registry.Register(vitalsHandler.Descriptor(), vitalsHandler); err != nil {
		log.Fatal("Failed to register handler", zap.Error(err))
	}
	bridgeHandler := bridge.New(tasks, log)
	if err := registry.Register(bridgeHandler.Descriptor(), bridgeHandler); err != nil {
		log.Fatal("Failed to register handler", zap.Error(err))
	}
	if err := registry.Require(appConfig.Bee.Require...); err != nil {
		log.Fatal("Missing required handlers", zap.Error(err))
	}

	router := service.NewCapabilityRouter(registry, appConfig.Router.Rules, appConfig.Router.Default, log)

	// 4. Start Bees
	var wg sync.WaitGroup
	for n := 1; n <= appConfig.Bee.Count; n++ {
		id := baseID
		if appConfig.Bee.Count > 1 {
			id = fmt.Sprintf("%s-%d", baseID, n)
		}
		bee := service.NewBee(service.BeeOptions{
			ID:                id,
			Hostname:          hostname,
			Interval:          appConfig.Bee.Interval,
			Types:             appConfig.Bee.Types,
			HeartbeatInterval: appConfig.Bee.HeartbeatInterval,
			HeartbeatTTL:      appConfig.Bee.HeartbeatTTL,
		}, infra.Repo, router, infra.Publisher, infra.Cache, infra.Coordinator, registry.Capabilities(), log)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bee.Run(rootCtx); err != nil {
				log.Error("Bee stopped", zap.String("bee", bee.ID()), zap.Error(err))
			}
		}()
	}

	log.Info("Bees started successfully. Waiting for tasks...", zap.Strings("capabilities", registry.Capabilities()))

	// 5. Wait for Shutdown, claimed tasks finish before Run returns
	<-rootCtx.Done()
	log.Info("Shutting down...")
	wg.Wait()
	log.Info("Shutdown complete")
}
