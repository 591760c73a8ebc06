package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/phish-detect/internal/core"
)

type record struct {
	email    core.FlaggedEmail
	findings []core.Finding
}

// Store is an in-memory implementation of core.FlagStore, used for
// tests and for running without a database. A mutex stands in for the
// transaction scope a real store gets from its database.
type Store struct {
	mu      sync.Mutex
	records map[string]*record
	stats   map[core.Rule]*core.PhraseStat
	logger  *zap.Logger
}

// New creates an empty in-memory store.
func New(logger *zap.Logger) *Store {
	return &Store{
		records: make(map[string]*record),
		stats:   make(map[core.Rule]*core.PhraseStat),
		logger:  logger,
	}
}

// Persist records a flagged result; see core.FlagStore for the
// dedup contract.
func (s *Store) Persist(ctx context.Context, result *core.AnalysisResult) (core.PersistOutcome, error) {
	if !result.IsFlagged {
		return core.OutcomeNone, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[result.Identity]; ok {
		s.logger.Debug("Duplicate flagged email skipped",
			zap.String("identity", result.Identity))
		return core.OutcomeDuplicateSkipped, nil
	}

	now := time.Now()
	findings := make([]core.Finding, len(result.Findings))
	copy(findings, result.Findings)

	s.records[result.Identity] = &record{
		email: core.FlaggedEmail{
			Identity:     result.Identity,
			Subject:      result.Email.Subject,
			From:         result.Email.From,
			To:           result.Email.To,
			ReceivedAt:   result.Email.Date,
			FindingCount: len(findings),
			FlaggedAt:    now,
		},
		findings: findings,
	}

	for rule, count := range core.PhraseCounts(result.Findings) {
		st, ok := s.stats[rule]
		if !ok {
			st = &core.PhraseStat{Phrase: rule.Phrase, Segment: rule.Segment}
			s.stats[rule] = st
		}
		st.Occurrences += int64(count)
		st.LastSeen = now
	}

	return core.OutcomeInserted, nil
}

// TopPhrases returns phrase statistics ordered by occurrence count.
func (s *Store) TopPhrases(ctx context.Context, limit int) ([]core.PhraseStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]core.PhraseStat, 0, len(s.stats))
	for _, st := range s.stats {
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Occurrences != stats[j].Occurrences {
			return stats[i].Occurrences > stats[j].Occurrences
		}
		return stats[i].LastSeen.After(stats[j].LastSeen)
	})
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

// RecentFlagged returns the most recently flagged emails.
func (s *Store) RecentFlagged(ctx context.Context, limit int) ([]core.FlaggedEmail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	emails := make([]core.FlaggedEmail, 0, len(s.records))
	for _, r := range s.records {
		emails = append(emails, r.email)
	}
	sort.Slice(emails, func(i, j int) bool {
		return emails[i].FlaggedAt.After(emails[j].FlaggedAt)
	})
	if limit > 0 && len(emails) > limit {
		emails = emails[:limit]
	}
	return emails, nil
}

// FindingsFor returns the stored findings for one identity.
func (s *Store) FindingsFor(ctx context.Context, identity string) ([]core.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[identity]
	if !ok {
		return nil, nil
	}
	findings := make([]core.Finding, len(r.findings))
	copy(findings, r.findings)
	return findings, nil
}

// DeleteOlderThan removes flagged emails older than the cutoff,
// decrementing phrase statistics accordingly.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for identity, r := range s.records {
		if !r.email.FlaggedAt.Before(cutoff) {
			continue
		}
		for rule, count := range core.PhraseCounts(r.findings) {
			if st, ok := s.stats[rule]; ok {
				st.Occurrences -= int64(count)
				if st.Occurrences <= 0 {
					delete(s.stats, rule)
				}
			}
		}
		delete(s.records, identity)
		deleted++
	}
	return deleted, nil
}
