package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so the store can be driven by pgxmock in tests.
type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AccountRun is the persisted record of one account's pass through a run.
type AccountRun struct {
	RunID          string
	AccountID      string
	StartedAt      time.Time
	FinishedAt     time.Time
	TasksCompleted int
	// Error is the account-level failure, empty when the account finished normally.
	Error   string
	Entries []EntryOutcome
}

// EntryOutcome is the final outcome of one dequeued catalog entry.
type EntryOutcome struct {
	EntryID  int
	Title    string
	Outcome  string
	Attempts int
	Reason   string
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS account_runs (
    run_id          UUID        NOT NULL,
    account_id      TEXT        NOT NULL,
    started_at      TIMESTAMPTZ NOT NULL,
    finished_at     TIMESTAMPTZ NOT NULL,
    tasks_completed INTEGER     NOT NULL,
    error           TEXT        NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, account_id)
);
CREATE TABLE IF NOT EXISTS entry_outcomes (
    run_id     UUID    NOT NULL,
    account_id TEXT    NOT NULL,
    entry_id   INTEGER NOT NULL,
    title      TEXT    NOT NULL,
    outcome    TEXT    NOT NULL,
    attempts   INTEGER NOT NULL,
    reason     TEXT    NOT NULL DEFAULT '',
    FOREIGN KEY (run_id, account_id) REFERENCES account_runs (run_id, account_id)
);`

const insertAccountRunSQL = `
INSERT INTO account_runs (run_id, account_id, started_at, finished_at, tasks_completed, error)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (run_id, account_id) DO UPDATE SET
    finished_at = EXCLUDED.finished_at,
    tasks_completed = EXCLUDED.tasks_completed,
    error = EXCLUDED.error;`

var entryOutcomeColumns = []string{"run_id", "account_id", "entry_id", "title", "outcome", "attempts", "reason"}

// OutcomeStore persists run outcomes to PostgreSQL.
type OutcomeStore struct {
	pool DBPool
	log  *zap.Logger
}

// NewOutcomeStore wraps an already connected pool.
func NewOutcomeStore(pool DBPool, logger *zap.Logger) *OutcomeStore {
	return &OutcomeStore{pool: pool, log: logger.Named("store")}
}

// EnsureSchema creates the outcome tables when missing.
func (s *OutcomeStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// RecordAccount writes one account_runs row and its entry outcomes in a single transaction.
func (s *OutcomeStore) RecordAccount(ctx context.Context, run AccountRun) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, insertAccountRunSQL,
		run.RunID, run.AccountID,
		run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.TasksCompleted, run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account run: %w", err)
	}

	if len(run.Entries) > 0 {
		if err := s.copyEntries(ctx, tx, run); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Recorded account outcomes.",
		zap.String("account", run.AccountID),
		zap.Int("entries", len(run.Entries)))
	return nil
}

func (s *OutcomeStore) copyEntries(ctx context.Context, tx pgx.Tx, run AccountRun) error {
	rows := make([][]interface{}, len(run.Entries))
	for i, e := range run.Entries {
		rows[i] = []interface{}{run.RunID, run.AccountID, e.EntryID, e.Title, e.Outcome, e.Attempts, e.Reason}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"entry_outcomes"}, entryOutcomeColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy entry outcomes: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied entry outcomes: expected %d, got %d", len(rows), copyCount)
	}
	return nil
}
