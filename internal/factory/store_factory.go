package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mikey/phish-detect/internal/config"
	"github.com/mikey/phish-detect/internal/core"
	"github.com/mikey/phish-detect/internal/store/memory"
	"github.com/mikey/phish-detect/internal/store/mysql"
	"github.com/mikey/phish-detect/internal/store/postgres"
	"github.com/mikey/phish-detect/internal/store/sqlite"
)

// StoreFactory creates flag stores based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateFlagStore creates a flag store based on the configuration
func (f *StoreFactory) CreateFlagStore() (core.FlagStore, error) {
	storeType := f.cfg.GetString("storage.type")

	switch storeType {
	case "memory":
		return memory.New(f.logger), nil
	case "sqlite":
		sqlitePath := f.cfg.GetString("storage.sqlite_path")
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return sqlite.New(sqlitePath, f.logger)
	case "postgres":
		return postgres.New(context.Background(), f.cfg.GetString("storage.postgres_dsn"), f.logger)
	case "mysql":
		return mysql.New(f.cfg.GetString("storage.mysql_dsn"), f.logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storeType)
	}
}
