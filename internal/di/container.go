package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/phish-detect/internal/config"
	"github.com/mikey/phish-detect/internal/core"
	"github.com/mikey/phish-detect/internal/factory"
	"github.com/mikey/phish-detect/internal/logging"
	"github.com/mikey/phish-detect/internal/parser"
	"github.com/mikey/phish-detect/internal/ports"
	"github.com/mikey/phish-detect/internal/rules"
	"github.com/mikey/phish-detect/internal/utils"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewIngestFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewTextProcessorFactory); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(func(f *factory.TextProcessorFactory) *utils.TextProcessor {
		return f.CreateTextProcessor()
	}); err != nil {
		return nil, err
	}

	// Register message parser
	if err := container.Provide(func(logger *zap.Logger, tp *utils.TextProcessor) core.MessageParser {
		return parser.New(logger, tp)
	}); err != nil {
		return nil, err
	}

	// Register rule set, loaded from the configured setup file
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) (*core.RuleSet, error) {
		return rules.NewLoader(logger).LoadFile(cfg.GetString("rules.path"))
	}); err != nil {
		return nil, err
	}

	// Register flag store
	if err := container.Provide(func(f *factory.StoreFactory) (core.FlagStore, error) {
		return f.CreateFlagStore()
	}); err != nil {
		return nil, err
	}

	// Register detector service
	if err := container.Provide(core.NewDetectorService); err != nil {
		return nil, err
	}

	// Register message ingest
	if err := container.Provide(func(f *factory.IngestFactory) (ports.MessageIngest, error) {
		return f.CreateMessageIngest()
	}); err != nil {
		return nil, err
	}

	return container, nil
}
