package core

import (
	"context"
	"time"
)

// MessageParser turns raw message bytes into addressable segments.
type MessageParser interface {
	// Parse returns a ParsedEmail, or a *ParseError when the input is
	// not a well-formed RFC 2822 message.
	Parse(raw []byte) (*ParsedEmail, error)
}

// FlagStore persists flagged emails and answers reporting queries.
// Implementations guarantee that Persist is a single transactional
// unit: either the email, all its findings, and all statistic updates
// land together, or nothing does.
type FlagStore interface {
	// Persist records a flagged result. Clean results write nothing and
	// return OutcomeNone. An already-stored identity returns
	// OutcomeDuplicateSkipped without touching statistics; the store's
	// uniqueness constraint on identity is the authoritative guard.
	Persist(ctx context.Context, result *AnalysisResult) (PersistOutcome, error)

	// TopPhrases returns up to limit phrase statistics ordered by
	// occurrence count, most frequent first.
	TopPhrases(ctx context.Context, limit int) ([]PhraseStat, error)

	// RecentFlagged returns up to limit flagged emails, newest first.
	RecentFlagged(ctx context.Context, limit int) ([]FlaggedEmail, error)

	// FindingsFor returns the stored findings for one flagged email
	// identity, in insertion order.
	FindingsFor(ctx context.Context, identity string) ([]Finding, error)

	// DeleteOlderThan removes flagged emails flagged before the cutoff,
	// with their findings, decrementing phrase statistics accordingly.
	// It returns the number of emails removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
