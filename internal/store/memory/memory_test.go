package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/phish-detect/internal/core"
)

func flaggedResult(identity string) *core.AnalysisResult {
	return &core.AnalysisResult{
		IsFlagged: true,
		Identity:  identity,
		Email: &core.ParsedEmail{
			Subject: "URGENT ACTION required now",
			From:    "attacker@example.com",
			To:      "victim@example.com",
			Body:    "Please click here click here to verify.",
			Date:    time.Now().Add(-time.Hour),
		},
		Findings: []core.Finding{
			{Segment: core.SegmentSubject, Phrase: "urgent action", Context: "URGENT ACTION required now", Position: 0},
			{Segment: core.SegmentBody, Phrase: "click here", Context: "Please click here click", Position: 7},
			{Segment: core.SegmentBody, Phrase: "click here", Context: "here click here to", Position: 18},
		},
		EvaluatedAt: time.Now(),
	}
}

func TestPersistInsertThenDuplicate(t *testing.T) {
	store := New(zap.NewNop())
	ctx := context.Background()
	result := flaggedResult("id-1")

	outcome, err := store.Persist(ctx, result)
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeInserted, outcome)

	outcome, err = store.Persist(ctx, result)
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeDuplicateSkipped, outcome)

	emails, err := store.RecentFlagged(ctx, 0)
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "id-1", emails[0].Identity)
	assert.Equal(t, 3, emails[0].FindingCount)
}

func TestPersistCleanWritesNothing(t *testing.T) {
	store := New(zap.NewNop())
	ctx := context.Background()

	outcome, err := store.Persist(ctx, &core.AnalysisResult{
		IsFlagged: false,
		Identity:  "clean-1",
		Email:     &core.ParsedEmail{Subject: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeNone, outcome)

	emails, err := store.RecentFlagged(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, emails)

	stats, err := store.TopPhrases(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestPhraseStatisticsAggregated(t *testing.T) {
	store := New(zap.NewNop())
	ctx := context.Background()

	_, err := store.Persist(ctx, flaggedResult("id-1"))
	require.NoError(t, err)

	// A duplicate must not bump the counters a second time.
	_, err = store.Persist(ctx, flaggedResult("id-1"))
	require.NoError(t, err)

	stats, err := store.TopPhrases(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, "click here", stats[0].Phrase)
	assert.Equal(t, core.SegmentBody, stats[0].Segment)
	assert.Equal(t, int64(2), stats[0].Occurrences)

	assert.Equal(t, "urgent action", stats[1].Phrase)
	assert.Equal(t, core.SegmentSubject, stats[1].Segment)
	assert.Equal(t, int64(1), stats[1].Occurrences)
}

func TestFindingsFor(t *testing.T) {
	store := New(zap.NewNop())
	ctx := context.Background()

	_, err := store.Persist(ctx, flaggedResult("id-1"))
	require.NoError(t, err)

	findings, err := store.FindingsFor(ctx, "id-1")
	require.NoError(t, err)
	require.Len(t, findings, 3)
	assert.Equal(t, "urgent action", findings[0].Phrase)
	assert.Equal(t, 18, findings[2].Position)

	findings, err = store.FindingsFor(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestTopPhrasesLimit(t *testing.T) {
	store := New(zap.NewNop())
	ctx := context.Background()

	_, err := store.Persist(ctx, flaggedResult("id-1"))
	require.NoError(t, err)

	stats, err := store.TopPhrases(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "click here", stats[0].Phrase)
}

func TestDeleteOlderThan(t *testing.T) {
	store := New(zap.NewNop())
	ctx := context.Background()

	_, err := store.Persist(ctx, flaggedResult("id-old"))
	require.NoError(t, err)

	// Nothing is older than a cutoff in the past.
	deleted, err := store.DeleteOlderThan(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	deleted, err = store.DeleteOlderThan(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	emails, err := store.RecentFlagged(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, emails)

	stats, err := store.TopPhrases(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, stats)
}
