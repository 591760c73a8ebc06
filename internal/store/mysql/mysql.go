package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/mikey/phish-detect/internal/core"
)

const timeLayout = "2006-01-02 15:04:05"

// Store is a MySQL implementation of core.FlagStore.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New connects to MySQL and ensures the schema exists.
func New(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS flagged_emails (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			identity VARCHAR(64) NOT NULL UNIQUE,
			subject TEXT NOT NULL,
			from_addr VARCHAR(500) NOT NULL,
			to_addr VARCHAR(500) NOT NULL,
			received_at TIMESTAMP NOT NULL,
			finding_count INT NOT NULL,
			flagged_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS findings (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			email_id BIGINT NOT NULL,
			segment VARCHAR(32) NOT NULL,
			phrase VARCHAR(500) NOT NULL,
			context TEXT NOT NULL,
			match_offset INT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_findings_email_id (email_id),
			CONSTRAINT fk_findings_email FOREIGN KEY (email_id)
				REFERENCES flagged_emails(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS phrase_statistics (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			phrase VARCHAR(500) NOT NULL,
			segment VARCHAR(32) NOT NULL,
			occurrences BIGINT NOT NULL,
			last_seen TIMESTAMP NOT NULL,
			UNIQUE KEY uq_phrase_segment (phrase, segment)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
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
		ON DUPLICATE KEY UPDATE id = id
	`, result.Identity, result.Email.Subject, result.Email.From, result.Email.To,
		result.Email.Date.UTC().Format(timeLayout), len(result.Findings), now.Format(timeLayout))
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
			ON DUPLICATE KEY UPDATE
				occurrences = occurrences + VALUES(occurrences),
				last_seen = VALUES(last_seen)
		`, rule.Phrase, string(rule.Segment), count, now.Format(timeLayout))
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
		st.LastSeen, _ = time.Parse(timeLayout, lastSeen)
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
		fe.ReceivedAt, _ = time.Parse(timeLayout, receivedAt)
		fe.FlaggedAt, _ = time.Parse(timeLayout, flaggedAt)
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

	cut := cutoff.UTC().Format(timeLayout)

	_, err = tx.ExecContext(ctx, `
		UPDATE phrase_statistics ps
		JOIN (
			SELECT f.phrase, f.segment, COUNT(*) AS cnt
			FROM findings f
			JOIN flagged_emails fe ON fe.id = f.email_id
			WHERE fe.flagged_at < ?
			GROUP BY f.phrase, f.segment
		) removed ON removed.phrase = ps.phrase AND removed.segment = ps.segment
		SET ps.occurrences = ps.occurrences - removed.cnt
	`, cut)
	if err != nil {
		return 0, &core.StorageError{Op: "decrement phrase statistics", Err: err}
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
