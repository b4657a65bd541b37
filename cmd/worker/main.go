package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/crowdsense/crowdsense-worker/internal/config"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lifecycleTimeout = 30 * time.Second

func main() {
	loadDotEnv()

	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideDBPool,
			ProvideStore,
			ProvideAllocator,
			ProvideValidator,
			ProvideDetector,
			ProvideAuthorizer,
			ProvideMQConnection,
			ProvidePublisher,
			ProvideArchiveStore,
			ProvideArchiver,
			ProvideArchiveReader,
			ProvideProjectService,
			ProvideSubmissionService,
			ProvideCompletionService,
			ProvideHTTPApp,
		),
		fx.Invoke(startWorker, startExpirySweeper, startHTTPServer),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// config may not load, so startup failures get their own logger
	bootLogger, _ := newLogger(&config.Config{ServiceName: "crowdsense-worker"})
	bootLogger.Info("starting application...", zap.Duration("timeout", lifecycleTimeout))

	startCtx, startCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if errors.Is(startCtx.Err(), context.DeadlineExceeded) {
			bootLogger.Error("APPLICATION START TIMEOUT: a dependency (Database, RabbitMQ or object storage) did not answer in time, see the connection errors above")
		}
		panic(err)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Println("error stopping app:", err)
	}
}

// loadDotEnv loads the first .env found in the working directory or up to
// two levels above it. Containers usually have none and rely on the environment.
func loadDotEnv() {
	candidates := []string{".env", filepath.Join("..", "..", ".env")}
	if wd, err := os.Getwd(); err == nil {
		parent := filepath.Dir(wd)
		candidates = append(candidates,
			filepath.Join(wd, ".env"),
			filepath.Join(parent, ".env"),
			filepath.Join(filepath.Dir(parent), ".env"),
		)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err == nil {
			abs, _ := filepath.Abs(path)
			fmt.Printf("Loaded environment from: %s\n", abs)
			return
		}
	}

	fmt.Println("No .env file found, using system environment variables")
}
