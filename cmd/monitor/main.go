package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/crabzie/hive/config/logger"
	config "github.com/crabzie/hive/config/utils"
	"github.com/crabzie/hive/internal/bootstrap"
	"github.com/crabzie/hive/internal/core/domain"
	"go.uber.org/zap"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[37m"
)

func main() {
	rootCtx, rootCtxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCtxCancel()

	appConfig := config.New()
	log := logger.Build(appConfig.Logger)

	infra, err := bootstrap.Open(rootCtx, appConfig, log, false)
	if err != nil {
		log.Fatal("Failed to init infrastructure", zap.Error(err))
	}
	defer infra.Close()

	if infra.Subscriber == nil {
		fmt.Println(colorRed + "Event stream disabled (events.driver: none), nothing to monitor" + colorReset)
		os.Exit(1)
	}

	// empty task id: every task
	events, err := infra.Subscriber.Subscribe(rootCtx, "")
	if err != nil {
		log.Fatal("Failed to subscribe", zap.Error(err))
	}

	fmt.Println(colorCyan + "🐝 Hive Activity Monitor Starting..." + colorReset)
	fmt.Println(colorGray + "Listening for task events on the " + appConfig.Events.Driver + " bus..." + colorReset)
	fmt.Println("-------------------------------------------------------------------------")

	for e := range events {
		prettify(e)
	}
}

func prettify(e domain.TaskEvent) {
	bee := e.WorkerID
	if bee == "" {
		bee = "-"
	}
	bee = colorBlue + bee + colorReset
	at := e.At.Format("15:04:05")

	switch e.To {
	case domain.TaskStatusPending:
		fmt.Printf("%s [%s] 📥 "+colorYellow+"Enqueued:"+colorReset+"     %s (%s)\n", at, bee, e.TaskID, e.Command)
	case domain.TaskStatusProcessing:
		fmt.Printf("%s [%s] ⚙️  "+colorBlue+"Now Running:"+colorReset+"  %s (%s)\n", at, bee, e.TaskID, e.Command)
	case domain.TaskStatusCompleted:
		fmt.Printf("%s [%s] ✅ "+colorGreen+"Task Finished:"+colorReset+" %s (%s)\n", at, bee, e.TaskID, e.Command)
	case domain.TaskStatusFailed:
		fmt.Printf("%s [%s] ❌ "+colorRed+"Task Failed:"+colorReset+"   %s (%s) %s\n", at, bee, e.TaskID, e.Command, e.Error)
	}
}
