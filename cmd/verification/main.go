package main

import (
	"context"
	"time"

	"github.com/crabzie/hive/config/logger"
	config "github.com/crabzie/hive/config/utils"
	"github.com/crabzie/hive/internal/adapter/monitoring/prometheus"
	"github.com/crabzie/hive/internal/bootstrap"
	"github.com/crabzie/hive/internal/core/domain"
	"go.uber.org/zap"
)

func main() {
	// 1. Setup Logger & Config
	appConfig := config.New()
	log := logger.Build(appConfig.Logger)
	ctx := context.Background()

	log.Info("Starting Verification...")

	infra, err := bootstrap.Open(ctx, appConfig, log, true)
	if err != nil {
		log.Fatal("Failed to init infrastructure", zap.Error(err))
	}
	defer infra.Close()

	// 2. Test the task store
	log.Info("--- Testing Task Store ---", zap.String("db", appConfig.DB.Connection))
	tasks := infra.Tasks(appConfig.Await)

	var events <-chan domain.TaskEvent
	subCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if infra.Subscriber != nil {
		if events, err = infra.Subscriber.Subscribe(subCtx, ""); err != nil {
			log.Error("X Events: Subscribe Failed", zap.Error(err))
		}
	}

	task, err := tasks.Enqueue(ctx, domain.EnqueueRequest{
		Command:  "verification_check",
		Priority: domain.PriorityLow,
		Metadata: map[string]any{"source": "verification"},
		// pinned to a bee that never runs so real bees leave it alone
		Affinity: "verification",
	})
	if err != nil {
		log.Fatal("X Store: Enqueue Failed", zap.Error(err))
	}
	log.Info("✓ Store: Enqueue Success", zap.String("task_id", task.ID))

	if fetched, err := tasks.Get(ctx, task.ID); err != nil {
		log.Error("X Store: Get Task Failed", zap.Error(err))
	} else {
		log.Info("✓ Store: Get Task Success", zap.String("FetchedID", fetched.ID), zap.String("status", string(fetched.Status)))
	}

	// 3. Test Redis
	log.Info("--- Testing Redis ---")
	if infra.Coordinator == nil {
		log.Warn("! Redis: not configured, skipped")
	} else {
		bee := &domain.Bee{
			ID:            "verification-bee",
			Status:        domain.BeeStatusActive,
			State:         domain.BeeStateIdle,
			StartedAt:     time.Now().UTC(),
			LastHeartbeat: time.Now().UTC(),
		}
		if err := infra.Coordinator.RegisterBee(ctx, bee, 30*time.Second); err != nil {
			log.Error("X Redis: Register Bee Failed", zap.Error(err))
		} else {
			log.Info("✓ Redis: Register Bee Success")
		}

		bees, err := infra.Coordinator.GetActiveBees(ctx)
		if err != nil {
			log.Error("X Redis: Get Bees Failed", zap.Error(err))
		} else {
			log.Info("✓ Redis: Get Bees Success", zap.Int("Count", len(bees)))
		}
	}

	// 4. Test the event bus
	log.Info("--- Testing Event Bus ---", zap.String("driver", appConfig.Events.Driver))
	if events == nil {
		log.Warn("! Events: not configured, skipped")
	} else {
		select {
		case e := <-events:
			log.Info("✓ Events: Received", zap.String("task_id", e.TaskID), zap.String("to", string(e.To)))
		case <-subCtx.Done():
			log.Error("X Events: nothing received before timeout")
		}
	}

	// 5. Test Prometheus
	log.Info("--- Testing Prometheus ---")
	promClient := prometheus.NewClient(appConfig.Prometheus.URL, log)
	if err := promClient.Ready(ctx); err != nil {
		log.Warn("! Prometheus: Not Ready (vitals checks will fail)", zap.Error(err))
	} else {
		up, err := promClient.Query(ctx, "sum(up)")
		if err != nil {
			log.Warn("! Prometheus: Query Failed (Expected if no data)", zap.Error(err))
		} else {
			log.Info("✓ Prometheus: Query Success", zap.Float64("up", up))
		}
	}

	log.Info("Verification Complete.")
}
