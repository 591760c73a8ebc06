package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/phish-detect/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "flags.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func flaggedResult(identity string) *core.AnalysisResult {
	return &core.AnalysisResult{
		IsFlagged: true,
		Identity:  identity,
		Email: &core.ParsedEmail{
			Subject: "URGENT ACTION required now",
			From:    "attacker@example.com",
			To:      "victim@example.com",
			Body:    "Please click here click here to verify.",
			Date:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
		Findings: []core.Finding{
			{Segment: core.SegmentSubject, Phrase: "urgent action", Context: "URGENT ACTION required now", Position: 0},
			{Segment: core.SegmentBody, Phrase: "click here", Context: "Please click here click", Position: 7},
			{Segment: core.SegmentBody, Phrase: "click here", Context: "here click here to", Position: 18},
		},
		EvaluatedAt: time.Now(),
	}
}

func TestPersistRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	outcome, err := store.Persist(ctx, flaggedResult("id-1"))
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeInserted, outcome)

	emails, err := store.RecentFlagged(ctx, 10)
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "id-1", emails[0].Identity)
	assert.Equal(t, "URGENT ACTION required now", emails[0].Subject)
	assert.Equal(t, "attacker@example.com", emails[0].From)
	assert.Equal(t, 3, emails[0].FindingCount)
	assert.Equal(t, 2024, emails[0].ReceivedAt.Year())

	findings, err := store.FindingsFor(ctx, "id-1")
	require.NoError(t, err)
	require.Len(t, findings, 3)
	assert.Equal(t, core.SegmentSubject, findings[0].Segment)
	assert.Equal(t, "urgent action", findings[0].Phrase)
	assert.Equal(t, 0, findings[0].Position)
	assert.Equal(t, "click here", findings[1].Phrase)
	assert.Equal(t, 7, findings[1].Position)
	assert.Equal(t, 18, findings[2].Position)
}

func TestPersistDuplicateSkipped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	outcome, err := store.Persist(ctx, flaggedResult("id-1"))
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeInserted, outcome)

	outcome, err = store.Persist(ctx, flaggedResult("id-1"))
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeDuplicateSkipped, outcome)

	emails, err := store.RecentFlagged(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, emails, 1)

	// The duplicate must not have bumped the counters.
	stats, err := store.TopPhrases(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "click here", stats[0].Phrase)
	assert.Equal(t, int64(2), stats[0].Occurrences)
	assert.Equal(t, "urgent action", stats[1].Phrase)
	assert.Equal(t, int64(1), stats[1].Occurrences)
}

func TestPersistCleanWritesNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	outcome, err := store.Persist(ctx, &core.AnalysisResult{
		IsFlagged: false,
		Identity:  "clean-1",
		Email:     &core.ParsedEmail{Subject: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeNone, outcome)

	emails, err := store.RecentFlagged(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, emails)
}

func TestPhraseStatisticsAccumulateAcrossEmails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Persist(ctx, flaggedResult("id-1"))
	require.NoError(t, err)
	_, err = store.Persist(ctx, flaggedResult("id-2"))
	require.NoError(t, err)

	stats, err := store.TopPhrases(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "click here", stats[0].Phrase)
	assert.Equal(t, int64(4), stats[0].Occurrences)
	assert.Equal(t, int64(2), stats[1].Occurrences)
}

func TestFindingsForUnknownIdentity(t *testing.T) {
	store := newTestStore(t)

	findings, err := store.FindingsFor(context.Background(), "absent")
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestDeleteOlderThan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Persist(ctx, flaggedResult("id-1"))
	require.NoError(t, err)

	deleted, err := store.DeleteOlderThan(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	deleted, err = store.DeleteOlderThan(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	emails, err := store.RecentFlagged(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, emails)

	// Findings go with the email, statistics are pruned to zero.
	findings, err := store.FindingsFor(ctx, "id-1")
	require.NoError(t, err)
	assert.Empty(t, findings)

	stats, err := store.TopPhrases(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, stats)
}
