package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mikey/phish-detect/internal/core"
)

// Store is a SQLite implementation of core.FlagStore.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New opens (or creates) a SQLite database at dbPath and ensures the
// schema exists.
func New(dbPath string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS flagged_emails (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identity TEXT NOT NULL UNIQUE,
			subject TEXT NOT NULL DEFAULT '',
			from_addr TEXT NOT NULL DEFAULT '',
			to_addr TEXT NOT NULL DEFAULT '',
			received_at TIMESTAMP NOT NULL,
			finding_count INTEGER NOT NULL,
			flagged_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS findings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email_id INTEGER NOT NULL REFERENCES flagged_emails(id) ON DELETE CASCADE,
			segment TEXT NOT NULL,
			phrase TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			match_offset INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_findings_email_id ON findings(email_id);

		CREATE TABLE IF NOT EXISTS phrase_statistics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			phrase TEXT NOT NULL,
			segment TEXT NOT NULL,
			occurrences INTEGER NOT NULL,
			last_seen TIMESTAMP NOT NULL,
			UNIQUE (phrase, segment)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Persist stores a flagged result in a single transaction; see
// core.FlagStore for the dedup contract.
func (s *Store) Persist(ctx context.Context, result *core.AnalysisResult) (core.PersistOutcome, error) {
	if !result.IsFlagged {
		return core.OutcomeNone, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.OutcomeNone, &core.StorageError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO flagged_emails (identity, subject, from_addr, to_addr, received_at, finding_count, flagged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (identity) DO NOTHING
	`, result.Identity, result.Email.Subject, result.Email.From, result.Email.To,
		result.Email.Date.UTC().Format(time.RFC3339), len(result.Findings), now.Format(time.RFC3339))
	if err != nil {
		return core.OutcomeNone, &core.StorageError{Op: "insert flagged email", Err: err}
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return core.OutcomeNone, &core.StorageError{Op: "insert flagged email", Err: err}
	}
	if inserted == 0 {
		s.logger.Debug("Duplicate flagged email skipped",
			zap.String("identity", result.Identity))
		return core.OutcomeDuplicateSkipped, nil
	}
	emailID, err := res.LastInsertId()
	if err != nil {
		return core.OutcomeNone, &core.StorageError{Op: "insert flagged email", Err: err}
	}

	for _, f := range result.Findings {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO findings (email_id, segment, phrase, context, match_offset)
			VALUES (?, ?, ?, ?, ?)
		`, emailID, string(f.Segment), f.Phrase, f.Context, f.Position)
		if err != nil {
			return core.OutcomeNone, &core.StorageError{Op: "insert finding", Err: err}
		}
	}

	for rule, count := range core.PhraseCounts(result.Findings) {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO phrase_statistics (phrase, segment, occurrences, last_seen)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (phrase, segment) DO UPDATE SET
				occurrences = occurrences + excluded.occurrences,
				last_seen = excluded.last_seen
		`, rule.Phrase, string(rule.Segment), count, now.Format(time.RFC3339))
		if err != nil {
			return core.OutcomeNone, &core.StorageError{Op: "upsert phrase statistic", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return core.OutcomeNone, &core.StorageError{Op: "commit", Err: err}
	}
	return core.OutcomeInserted, nil
}

// TopPhrases returns phrase statistics ordered by occurrence count.
func (s *Store) TopPhrases(ctx context.Context, limit int) ([]core.PhraseStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phrase, segment, occurrences, last_seen
		FROM phrase_statistics
		ORDER BY occurrences DESC, last_seen DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, &core.StorageError{Op: "query top phrases", Err: err}
	}
	defer rows.Close()

	var stats []core.PhraseStat
	for rows.Next() {
		var st core.PhraseStat
		var segment, lastSeen string
		if err := rows.Scan(&st.Phrase, &segment, &st.Occurrences, &lastSeen); err != nil {
			return nil, &core.StorageError{Op: "scan phrase statistic", Err: err}
		}
		st.Segment = core.Segment(segment)
		st.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// RecentFlagged returns the most recently flagged emails.
func (s *Store) RecentFlagged(ctx context.Context, limit int) ([]core.FlaggedEmail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, subject, from_addr, to_addr, received_at, finding_count, flagged_at
		FROM flagged_emails
		ORDER BY flagged_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, &core.StorageError{Op: "query recent flagged", Err: err}
	}
	defer rows.Close()

	var emails []core.FlaggedEmail
	for rows.Next() {
		var fe core.FlaggedEmail
		var receivedAt, flaggedAt string
		if err := rows.Scan(&fe.Identity, &fe.Subject, &fe.From, &fe.To,
			&receivedAt, &fe.FindingCount, &flaggedAt); err != nil {
			return nil, &core.StorageError{Op: "scan flagged email", Err: err}
		}
		fe.ReceivedAt, _ = time.Parse(time.RFC3339, receivedAt)
		fe.FlaggedAt, _ = time.Parse(time.RFC3339, flaggedAt)
		emails = append(emails, fe)
	}
	return emails, rows.Err()
}

// FindingsFor returns the stored findings for one identity.
func (s *Store) FindingsFor(ctx context.Context, identity string) ([]core.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.segment, f.phrase, f.context, f.match_offset
		FROM findings f
		JOIN flagged_emails fe ON fe.id = f.email_id
		WHERE fe.identity = ?
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &core.StorageError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	cut := cutoff.UTC().Format(time.RFC3339)

	rows, err := tx.QueryContext(ctx, `
		SELECT f.phrase, f.segment, COUNT(*)
		FROM findings f
		JOIN flagged_emails fe ON fe.id = f.email_id
		WHERE fe.flagged_at < ?
		GROUP BY f.phrase, f.segment
	`, cut)
	if err != nil {
		return 0, &core.StorageError{Op: "collect phrase deltas", Err: err}
	}
	type delta struct {
		phrase, segment string
		count           int64
	}
	var deltas []delta
	for rows.Next() {
		var d delta
		if err := rows.Scan(&d.phrase, &d.segment, &d.count); err != nil {
			rows.Close()
			return 0, &core.StorageError{Op: "scan phrase delta", Err: err}
		}
		deltas = append(deltas, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, &core.StorageError{Op: "collect phrase deltas", Err: err}
	}

	for _, d := range deltas {
		_, err = tx.ExecContext(ctx, `
			UPDATE phrase_statistics SET occurrences = occurrences - ?
			WHERE phrase = ? AND segment = ?
		`, d.count, d.phrase, d.segment)
		if err != nil {
			return 0, &core.StorageError{Op: "decrement phrase statistics", Err: err}
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM flagged_emails WHERE flagged_at < ?`, cut)
	if err != nil {
		return 0, &core.StorageError{Op: "delete flagged emails", Err: err}
	}
	deleted, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx, `DELETE FROM phrase_statistics WHERE occurrences <= 0`)
	if err != nil {
		return 0, &core.StorageError{Op: "prune phrase statistics", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return 0, &core.StorageError{Op: "commit", Err: err}
	}

	if deleted > 0 {
		s.logger.Info("Pruned old flagged emails",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
