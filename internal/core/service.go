package core

import (
	"context"

	"go.uber.org/zap"
)

// DetectorService is the core inspection pipeline: parse, evaluate,
// persist. The rule set is an immutable value fixed at construction, so
// concurrent inspections with different services cannot interfere.
type DetectorService struct {
	parser MessageParser
	rules  *RuleSet
	store  FlagStore
	logger *zap.Logger
}

// NewDetectorService creates a new detector service.
func NewDetectorService(parser MessageParser, rules *RuleSet, store FlagStore, logger *zap.Logger) *DetectorService {
	return &DetectorService{
		parser: parser,
		rules:  rules,
		store:  store,
		logger: logger,
	}
}

// Inspect analyzes one raw message and records it when flagged. The
// analysis result is returned for display regardless of the persist
// outcome. Storage failures surface as *StorageError with nothing
// partially written; there is no retry here.
func (s *DetectorService) Inspect(ctx context.Context, raw []byte) (*AnalysisResult, PersistOutcome, error) {
	email, err := s.parser.Parse(raw)
	if err != nil {
		return nil, OutcomeNone, err
	}

	result := Evaluate(email, s.rules)
	if !result.IsFlagged {
		s.logger.Debug("Email passed inspection",
			zap.String("identity", result.Identity),
			zap.String("from", email.From))
		return result, OutcomeNone, nil
	}

	outcome, err := s.store.Persist(ctx, result)
	if err != nil {
		return result, OutcomeNone, err
	}

	s.logger.Info("Flagged email recorded",
		zap.String("identity", result.Identity),
		zap.String("from", email.From),
		zap.Int("findings", len(result.Findings)),
		zap.String("outcome", outcome.String()))

	return result, outcome, nil
}

// Rules returns the rule set the service inspects with.
func (s *DetectorService) Rules() *RuleSet {
	return s.rules
}
