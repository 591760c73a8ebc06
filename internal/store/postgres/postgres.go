package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mikey/phish-detect/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS flagged_emails (
	id BIGSERIAL PRIMARY KEY,
	identity TEXT NOT NULL UNIQUE,
	subject TEXT NOT NULL DEFAULT '',
	from_addr TEXT NOT NULL DEFAULT '',
	to_addr TEXT NOT NULL DEFAULT '',
	received_at TIMESTAMPTZ NOT NULL,
	finding_count INTEGER NOT NULL,
	flagged_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS findings (
	id BIGSERIAL PRIMARY KEY,
	email_id BIGINT NOT NULL REFERENCES flagged_emails(id) ON DELETE CASCADE,
	segment TEXT NOT NULL,
	phrase TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	match_offset INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_findings_email_id ON findings(email_id);

CREATE TABLE IF NOT EXISTS phrase_statistics (
	id BIGSERIAL PRIMARY KEY,
	phrase TEXT NOT NULL,
	segment TEXT NOT NULL,
	occurrences BIGINT NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL,
	UNIQUE (phrase, segment)
);
`

// Store is a PostgreSQL implementation of core.FlagStore.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New connects to PostgreSQL and ensures the schema exists.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Persist stores a flagged result in a single transaction. The unique
// constraint on identity is the dedup guard: a conflicting insert means
// the email is already recorded and nothing is written, statistics
// included.
func (s *Store) Persist(ctx context.Context, result *core.AnalysisResult) (core.PersistOutcome, error) {
	if !result.IsFlagged {
		return core.OutcomeNone, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.OutcomeNone, &core.StorageError{Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx)

	var emailID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO flagged_emails (identity, subject, from_addr, to_addr, received_at, finding_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (identity) DO NOTHING
		RETURNING id
	`, result.Identity, result.Email.Subject, result.Email.From, result.Email.To,
		result.Email.Date, len(result.Findings)).Scan(&emailID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logger.Debug("Duplicate flagged email skipped",
				zap.String("identity", result.Identity))
			return core.OutcomeDuplicateSkipped, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return core.OutcomeDuplicateSkipped, nil
		}
		return core.OutcomeNone, &core.StorageError{Op: "insert flagged email", Err: err}
	}

	for _, f := range result.Findings {
		_, err = tx.Exec(ctx, `
			INSERT INTO findings (email_id, segment, phrase, context, match_offset)
			VALUES ($1, $2, $3, $4, $5)
		`, emailID, string(f.Segment), f.Phrase, f.Context, f.Position)
		if err != nil {
			return core.OutcomeNone, &core.StorageError{Op: "insert finding", Err: err}
		}
	}

	for rule, count := range core.PhraseCounts(result.Findings) {
		_, err = tx.Exec(ctx, `
			INSERT INTO phrase_statistics (phrase, segment, occurrences, last_seen)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (phrase, segment) DO UPDATE SET
				occurrences = phrase_statistics.occurrences + EXCLUDED.occurrences,
				last_seen = now()
		`, rule.Phrase, string(rule.Segment), count)
		if err != nil {
			return core.OutcomeNone, &core.StorageError{Op: "upsert phrase statistic", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return core.OutcomeNone, &core.StorageError{Op: "commit", Err: err}
	}
	return core.OutcomeInserted, nil
}

// TopPhrases returns phrase statistics ordered by occurrence count.
func (s *Store) TopPhrases(ctx context.Context, limit int) ([]core.PhraseStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT phrase, segment, occurrences, last_seen
		FROM phrase_statistics
		ORDER BY occurrences DESC, last_seen DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, &core.StorageError{Op: "query top phrases", Err: err}
	}
	defer rows.Close()

	var stats []core.PhraseStat
	for rows.Next() {
		var st core.PhraseStat
		var segment string
		if err := rows.Scan(&st.Phrase, &segment, &st.Occurrences, &st.LastSeen); err != nil {
			return nil, &core.StorageError{Op: "scan phrase statistic", Err: err}
		}
		st.Segment = core.Segment(segment)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// RecentFlagged returns the most recently flagged emails.
func (s *Store) RecentFlagged(ctx context.Context, limit int) ([]core.FlaggedEmail, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT identity, subject, from_addr, to_addr, received_at, finding_count, flagged_at
		FROM flagged_emails
		ORDER BY flagged_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, &core.StorageError{Op: "query recent flagged", Err: err}
	}
	defer rows.Close()

	var emails []core.FlaggedEmail
	for rows.Next() {
		var fe core.FlaggedEmail
		if err := rows.Scan(&fe.Identity, &fe.Subject, &fe.From, &fe.To,
			&fe.ReceivedAt, &fe.FindingCount, &fe.FlaggedAt); err != nil {
			return nil, &core.StorageError{Op: "scan flagged email", Err: err}
		}
		emails = append(emails, fe)
	}
	return emails, rows.Err()
}

// FindingsFor returns the stored findings for one identity.
func (s *Store) FindingsFor(ctx context.Context, identity string) ([]core.Finding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.segment, f.phrase, f.context, f.match_offset
		FROM findings f
		JOIN flagged_emails fe ON fe.id = f.email_id
		WHERE fe.identity = $1
		ORDER BY f.id ASC
	`, identity)
	if err != nil {
		return nil, &core.StorageError{Op: "query findings", Err: err}
	}
	defer rows.Close()

	var findings []core.Finding
	for rows.Next() {
		var f core.Finding
		var segment string
		if err := rows.Scan(&segment, &f.Phrase, &f.Context, &f.Position); err != nil {
			return nil, &core.StorageError{Op: "scan finding", Err: err}
		}
		f.Segment = core.Segment(segment)
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// DeleteOlderThan removes flagged emails older than the cutoff together
// with their findings, keeping phrase statistics consistent.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, &core.StorageError{Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE phrase_statistics ps SET occurrences = ps.occurrences - removed.cnt
		FROM (
			SELECT f.phrase, f.segment, COUNT(*) AS cnt
			FROM findings f
			JOIN flagged_emails fe ON fe.id = f.email_id
			WHERE fe.flagged_at < $1
			GROUP BY f.phrase, f.segment
		) removed
		WHERE ps.phrase = removed.phrase AND ps.segment = removed.segment
	`, cutoff)
	if err != nil {
		return 0, &core.StorageError{Op: "decrement phrase statistics", Err: err}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM flagged_emails WHERE flagged_at < $1`, cutoff)
	if err != nil {
		return 0, &core.StorageError{Op: "delete flagged emails", Err: err}
	}

	_, err = tx.Exec(ctx, `DELETE FROM phrase_statistics WHERE occurrences <= 0`)
	if err != nil {
		return 0, &core.StorageError{Op: "prune phrase statistics", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, &core.StorageError{Op: "commit", Err: err}
	}

	deleted := tag.RowsAffected()
	if deleted > 0 {
		s.logger.Info("Pruned old flagged emails",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
