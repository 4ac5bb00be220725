package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/hericahyadi/isp-provisioning-worker/internal/config"
)

func main() {
	// Configuration comes from the environment; during local
	// development a .env file in the working directory or one of its
	// parents seeds it. Deployed pods run without one.
	loadDotenv()

	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideDBPool,
			ProvideRadiusPool,
			ProvideRepository,
			ProvideRadiusStore,
			ProvideDialer,
			ProvideRouterPool,
			ProvideOrchestrator,
			ProvideVoucherManager,
			ProvideReconciler,
			ProvideStatsCache,
			ProvideChecker,
			ProvideMQConnection,
			ProvidePublisher,
			ProvideProcessor,
		),
		fx.Invoke(startWorker, startSweeps),
	)

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Create a temporary logger for startup error messages
	tempLogger, _ := newLogger(&config.Config{ServiceName: "isp-provisioning-worker"})
	tempLogger.Info("starting application...", zap.String("timeout", "30s"))

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			tempLogger.Error("APPLICATION START TIMEOUT: Failed to start within 30 seconds. This usually means a dependency (Database, RabbitMQ or Redis) is not accessible. Check the error messages above for specific connection failures.")
		}
		panic(err)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	// Stop application gracefully
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Println("error stopping app:", err)
	}
}

func loadDotenv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}

	for i := 0; i < 3; i++ {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				fmt.Printf("Loaded environment from: %s\n", path)
			}
			return
		}
		dir = filepath.Dir(dir)
	}

	fmt.Println("No .env file found, using process environment")
}
