package main

import (
	"context"
	"fmt"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/crabzie/hive/config/logger"
	config "github.com/crabzie/hive/config/utils"
	"github.com/crabzie/hive/internal/bootstrap"
	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
	"go.uber.org/zap"
)

const (
	simulationDuration = 5 * time.Minute
	injectionInterval  = 5 * time.Second
)

var (
	commands   = []string{"check_vitals", "chat_reply", "image_resize", "moderate_post", "bridge_vitals", "unknown_job"}
	priorities = []domain.Priority{domain.PriorityHigh, domain.PriorityNormal, domain.PriorityNormal, domain.PriorityLow}
)

func main() {
	rootCtx, rootCtxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCtxCancel()

	appConfig := config.New()
	log := logger.Build(appConfig.Logger)

	infra, err := bootstrap.Open(rootCtx, appConfig, log, true)
	if err != nil {
		log.Fatal("Failed to init infrastructure (ensure 'make up' is running)", zap.Error(err))
	}
	defer infra.Close()
	tasks := infra.Tasks(appConfig.Await)

	fmt.Println("🚀 Starting 5-minute Traffic Simulation...")
	fmt.Println("   Monitoring bee claims...")

	ctx, cancel := context.WithTimeout(rootCtx, simulationDuration)
	defer cancel()

	ticker := time.NewTicker(injectionInterval)
	defer ticker.Stop()

	// Monitor progress in background
	go monitorProgress(ctx, tasks)

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\n✅ Simulation Complete.")
			return
		case <-ticker.C:
			// Generate a batch of tasks
			batchSize := rand.Intn(5) + 1 // 1-5 tasks
			fmt.Printf("\n[Generator] Injecting %d new tasks...\n", batchSize)

			for i := 0; i < batchSize; i++ {
				req := domain.EnqueueRequest{
					Command:  commands[rand.Intn(len(commands))],
					Priority: priorities[rand.Intn(len(priorities))],
					Payload:  map[string]any{"scope": "basic"},
					Metadata: map[string]any{"source": "simulation"},
				}
				if req.Command == "bridge_vitals" {
					req.Payload = map[string]any{"command": "check_vitals", "wait": true, "timeout": "20s"}
				}

				task, err := tasks.Enqueue(ctx, req)
				if err != nil {
					log.Error("Failed to enqueue task", zap.String("command", req.Command), zap.Error(err))
					continue
				}
				fmt.Printf("   ➕ %s %-14s %s\n", task.Priority, task.Command, task.ID)
			}
		}
	}
}

func monitorProgress(ctx context.Context, tasks port.TaskService) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	seen := map[string]bool{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		done, err := tasks.List(ctx, domain.TaskFilter{
			Statuses: []domain.TaskStatus{domain.TaskStatusCompleted, domain.TaskStatusFailed},
		}, 50)
		if err != nil {
			fmt.Println("Monitor error:", err)
			continue
		}

		for _, t := range done {
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true

			bee := "-"
			if t.AssignedTo != nil {
				bee = *t.AssignedTo
			}
			if t.Status == domain.TaskStatusFailed && t.Error != nil {
				fmt.Printf("   ❌ %s on %s: %s\n", t.ID, bee, *t.Error)
				continue
			}
			fmt.Printf("   👀 %s %s -> %s\n", t.Command, t.ID, bee)
		}
	}
}
