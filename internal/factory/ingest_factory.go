package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/phish-detect/internal/config"
	"github.com/mikey/phish-detect/internal/core"
	"github.com/mikey/phish-detect/internal/ingest"
	"github.com/mikey/phish-detect/internal/ports"
)

// IngestFactory creates message ingestion frontends based on configuration
type IngestFactory struct {
	cfg     *config.Config
	logger  *zap.Logger
	service *core.DetectorService
}

// NewIngestFactory creates a new ingest factory
func NewIngestFactory(cfg *config.Config, logger *zap.Logger, service *core.DetectorService) *IngestFactory {
	return &IngestFactory{
		cfg:     cfg,
		logger:  logger,
		service: service,
	}
}

// CreateMessageIngest creates a message ingest based on the configuration
func (f *IngestFactory) CreateMessageIngest() (ports.MessageIngest, error) {
	ingestType := f.cfg.GetString("ingest.type")

	switch ingestType {
	case "smtp":
		return ingest.NewSMTPIngest(
			f.service,
			f.logger,
			f.cfg.GetString("ingest.listen_address"),
			f.cfg.GetString("ingest.domain"),
			f.cfg.GetInt64("ingest.max_message_bytes"),
		), nil
	default:
		return nil, fmt.Errorf("unsupported ingest type: %s", ingestType)
	}
}
