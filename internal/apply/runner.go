// Package apply executes a compiled schema statement list against a SQLite
// database. Every generated statement is IF NOT EXISTS, so re-applying the
// same list is a no-op; the runner records a fingerprint of what it applied
// in a bookkeeping table.
package apply

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SchemaTable is the bookkeeping table recording every apply run.
const SchemaTable = "metamark_schema"

// Runner applies statement lists with transaction support.
type Runner struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRunner creates a runner. A nil logger is replaced with a no-op logger.
func NewRunner(db *sql.DB, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{db: db, logger: logger}
}

// Initialize ensures the bookkeeping table exists.
func (r *Runner) Initialize() error {
	query := `
CREATE TABLE IF NOT EXISTS metamark_schema (
	id INTEGER PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	statement_count INTEGER NOT NULL,
	applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("failed to initialize schema table: %w", err)
	}
	return nil
}

// Fingerprint is the SHA-256 of the concatenated statement list, hex-encoded.
func Fingerprint(statements []string) string {
	sum := sha256.Sum256([]byte(strings.Join(statements, "\n")))
	return hex.EncodeToString(sum[:])
}

// Apply executes every statement in order inside one transaction and records
// the list's fingerprint. Any failing statement rolls back the whole run.
func (r *Runner) Apply(statements []string) error {
	if len(statements) == 0 {
		r.logger.Info("nothing to apply")
		return nil
	}
	start := time.Now()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			r.logger.Warn("failed to rollback transaction", zap.Error(err))
		}
	}()

	for i, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("statement %d failed: %w", i+1, err)
		}
	}

	fingerprint := Fingerprint(statements)
	if _, err := tx.Exec(
		"INSERT INTO "+SchemaTable+" (fingerprint, statement_count) VALUES (?, ?)",
		fingerprint, len(statements),
	); err != nil {
		return fmt.Errorf("failed to record schema fingerprint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("schema applied",
		zap.Int("statements", len(statements)),
		zap.String("fingerprint", fingerprint[:12]),
		zap.Duration("took", time.Since(start)))
	return nil
}

// LastFingerprint returns the fingerprint of the most recent apply run, or
// ok=false when nothing has been applied yet.
func (r *Runner) LastFingerprint() (string, bool, error) {
	var fp string
	err := r.db.QueryRow(
		"SELECT fingerprint FROM " + SchemaTable + " ORDER BY id DESC LIMIT 1",
	).Scan(&fp)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read schema fingerprint: %w", err)
	}
	return fp, true, nil
}
