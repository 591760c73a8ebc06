package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubParser struct {
	email *ParsedEmail
	err   error
}

func (p *stubParser) Parse(raw []byte) (*ParsedEmail, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.email, nil
}

type recordingStore struct {
	persisted []*AnalysisResult
	outcome   PersistOutcome
	err       error
}

func (s *recordingStore) Persist(ctx context.Context, result *AnalysisResult) (PersistOutcome, error) {
	if s.err != nil {
		return OutcomeNone, s.err
	}
	s.persisted = append(s.persisted, result)
	return s.outcome, nil
}

func (s *recordingStore) TopPhrases(ctx context.Context, limit int) ([]PhraseStat, error) {
	return nil, nil
}

func (s *recordingStore) RecentFlagged(ctx context.Context, limit int) ([]FlaggedEmail, error) {
	return nil, nil
}

func (s *recordingStore) FindingsFor(ctx context.Context, identity string) ([]Finding, error) {
	return nil, nil
}

func (s *recordingStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func TestInspectPersistsFlagged(t *testing.T) {
	email := &ParsedEmail{Subject: "urgent action required"}
	store := &recordingStore{outcome: OutcomeInserted}
	svc := NewDetectorService(
		&stubParser{email: email},
		mustRuleSet(t, RuleRow{StartSegment: "subject", EndSegment: "subject", Phrase: "urgent action"}),
		store,
		zap.NewNop(),
	)

	result, outcome, err := svc.Inspect(context.Background(), []byte("raw"))
	require.NoError(t, err)
	assert.True(t, result.IsFlagged)
	assert.Equal(t, OutcomeInserted, outcome)
	require.Len(t, store.persisted, 1)
	assert.Same(t, result, store.persisted[0])
}

func TestInspectSkipsCleanPersist(t *testing.T) {
	store := &recordingStore{outcome: OutcomeInserted}
	svc := NewDetectorService(
		&stubParser{email: &ParsedEmail{Subject: "hello"}},
		mustRuleSet(t, RuleRow{StartSegment: "subject", EndSegment: "subject", Phrase: "urgent action"}),
		store,
		zap.NewNop(),
	)

	result, outcome, err := svc.Inspect(context.Background(), []byte("raw"))
	require.NoError(t, err)
	assert.False(t, result.IsFlagged)
	assert.Equal(t, OutcomeNone, outcome)
	assert.Empty(t, store.persisted)
}

func TestInspectPropagatesParseError(t *testing.T) {
	parseErr := &ParseError{Reason: "malformed message"}
	svc := NewDetectorService(
		&stubParser{err: parseErr},
		mustRuleSet(t, RuleRow{StartSegment: "body", EndSegment: "body", Phrase: "x"}),
		&recordingStore{},
		zap.NewNop(),
	)

	result, outcome, err := svc.Inspect(context.Background(), []byte("junk"))
	assert.Nil(t, result)
	assert.Equal(t, OutcomeNone, outcome)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestInspectPropagatesStorageError(t *testing.T) {
	storeErr := &StorageError{Op: "commit", Err: errors.New("connection lost")}
	svc := NewDetectorService(
		&stubParser{email: &ParsedEmail{Body: "click here"}},
		mustRuleSet(t, RuleRow{StartSegment: "body", EndSegment: "body", Phrase: "click here"}),
		&recordingStore{err: storeErr},
		zap.NewNop(),
	)

	result, outcome, err := svc.Inspect(context.Background(), []byte("raw"))
	require.NotNil(t, result)
	assert.True(t, result.IsFlagged)
	assert.Equal(t, OutcomeNone, outcome)

	var serr *StorageError
	require.ErrorAs(t, err, &serr)
}
