package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func sampleRun() AccountRun {
	started := time.Date(2025, 11, 20, 10, 0, 0, 0, time.FixedZone("EST", -5*3600))
	return AccountRun{
		RunID:          uuid.NewString(),
		AccountID:      "alice",
		StartedAt:      started,
		FinishedAt:     started.Add(3 * time.Minute),
		TasksCompleted: 2,
		Entries: []EntryOutcome{
			{EntryID: 5114, Title: "Fullmetal Alchemist: Brotherhood", Outcome: "added", Attempts: 1},
			{EntryID: 9253, Title: "Steins;Gate", Outcome: "failed", Attempts: 2, Reason: "dialog timeout"},
		},
	}
}

func TestEnsureSchema(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS account_runs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	store := NewOutcomeStore(mockPool, zap.NewNop())
	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecordAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist the account and its entries without rollback errors", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		store := NewOutcomeStore(mockPool, zap.New(observedZapCore))
		run := sampleRun()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertAccountRunSQL)).
			WithArgs(run.RunID, run.AccountID, run.StartedAt.UTC(), run.FinishedAt.UTC(), 2, "").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"entry_outcomes"}, entryOutcomeColumns).
			WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, store.RecordAccount(ctx, run))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "no errors logged on a successful commit")
	})

	t.Run("should skip the copy when no entry was dequeued", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		store := NewOutcomeStore(mockPool, zap.NewNop())
		run := sampleRun()
		run.Entries = nil
		run.TasksCompleted = 0
		run.Error = "authentication failed"

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertAccountRunSQL)).
			WithArgs(run.RunID, run.AccountID, pgxmock.AnyArg(), pgxmock.AnyArg(), 0, "authentication failed").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, store.RecordAccount(ctx, run))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the copy fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		store := NewOutcomeStore(mockPool, zap.NewNop())
		copyErr := errors.New("disk full")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertAccountRunSQL)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"entry_outcomes"}, entryOutcomeColumns).
			WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err = store.RecordAccount(ctx, sampleRun())
		require.Error(t, err)
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report a short copy", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		store := NewOutcomeStore(mockPool, zap.NewNop())

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertAccountRunSQL)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"entry_outcomes"}, entryOutcomeColumns).
			WillReturnResult(1)
		mockPool.ExpectRollback()

		err = store.RecordAccount(ctx, sampleRun())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should surface begin failures", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectBegin().WillReturnError(errors.New("connection refused"))
		err = NewOutcomeStore(mockPool, zap.NewNop()).RecordAccount(ctx, sampleRun())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "begin transaction")
	})
}
