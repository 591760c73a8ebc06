package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mikey/phish-detect/internal/core"
	"github.com/mikey/phish-detect/internal/di"
	"github.com/mikey/phish-detect/internal/ports"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	messageIngest ports.MessageIngest,
	store core.FlagStore,
	ruleSet *core.RuleSet,
) error {
	defer logger.Sync()

	logger.Info("Starting phish-detect daemon", zap.Int("rules", ruleSet.Len()))

	// Start the ingest frontend
	if err := messageIngest.Start(); err != nil {
		logger.Fatal("Failed to start message ingest", zap.Error(err))
		return err
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")

	// Stop the ingest frontend
	if err := messageIngest.Stop(); err != nil {
		logger.Error("Failed to stop message ingest", zap.Error(err))
	}

	// Close the store if needed
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close store", zap.Error(err))
		}
	} else if closer, ok := store.(interface{ Close() }); ok {
		closer.Close()
	}

	logger.Info("Shutdown complete")
	return nil
}
