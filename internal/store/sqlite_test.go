package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/chef-cts/internal/domain"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "turns.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteRecordAndStats(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	turns := []*domain.TurnRecord{
		{TurnID: "t1", ThreadID: "conv_1", RunID: "run_1", ThreadCreated: true, Outcome: domain.OutcomeOK, Transport: "http", StartedAt: now, Duration: 100 * time.Millisecond},
		{TurnID: "t2", ThreadID: "conv_1", RunID: "run_2", Outcome: domain.OutcomeOK, Transport: "websocket", StartedAt: now, Duration: 300 * time.Millisecond},
		{TurnID: "t3", ThreadID: "conv_2", ThreadCreated: true, Outcome: domain.OutcomeError, ErrorKind: "timeout", Stage: "run_polling", Transport: "http", StartedAt: now, Duration: 200 * time.Millisecond},
		{TurnID: "t4", Outcome: domain.OutcomeRejected, ErrorKind: "validation", Transport: "http", StartedAt: now.Add(-48 * time.Hour)},
	}
	for _, turn := range turns {
		require.NoError(t, repo.RecordTurn(ctx, turn))
	}

	stats, err := repo.TurnStats(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Total)
	require.EqualValues(t, 2, stats.ThreadsCreated)
	require.EqualValues(t, 2, stats.ByOutcome["ok"])
	require.EqualValues(t, 1, stats.ByOutcome["error"])
	require.EqualValues(t, 1, stats.ByErrorKind["timeout"])
	require.NotContains(t, stats.ByErrorKind, "validation")
	require.InDelta(t, 200, stats.AvgDurationMs, 0.001)
}

func TestSQLiteStatsEmpty(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	stats, err := repo.TurnStats(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, stats.Total)
	require.Empty(t, stats.ByOutcome)
}

func TestSQLiteDeleteTurnsBefore(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.RecordTurn(ctx, &domain.TurnRecord{TurnID: "old", Outcome: domain.OutcomeOK, Transport: "http", StartedAt: now.Add(-10 * 24 * time.Hour)}))
	require.NoError(t, repo.RecordTurn(ctx, &domain.TurnRecord{TurnID: "new", Outcome: domain.OutcomeOK, Transport: "http", StartedAt: now}))

	n, err := repo.DeleteTurnsBefore(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	stats, err := repo.TurnStats(ctx, time.Time{})
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Total)
}

func TestSQLiteDuplicateTurnID(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	turn := &domain.TurnRecord{TurnID: "dup", Outcome: domain.OutcomeOK, Transport: "http", StartedAt: time.Now()}
	require.NoError(t, repo.RecordTurn(ctx, turn))
	require.Error(t, repo.RecordTurn(ctx, turn))
}

func TestRetentionWorkerPrunesOnStart(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, repo.RecordTurn(ctx, &domain.TurnRecord{TurnID: "stale", Outcome: domain.OutcomeOK, Transport: "http", StartedAt: time.Now().Add(-2 * time.Hour)}))

	StartRetentionWorker(ctx, repo, time.Hour, time.Hour)

	require.Eventually(t, func() bool {
		stats, err := repo.TurnStats(context.Background(), time.Time{})
		return err == nil && stats.Total == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSQLitePragmasOnEveryConnection(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	db := repo.(*SQLiteStore).db
	ctx := context.Background()

	// Hold two connections at once so the pool cannot hand back the same one.
	first, err := db.Conn(ctx)
	require.NoError(t, err)
	defer func() { _ = first.Close() }()
	second, err := db.Conn(ctx)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	for _, conn := range []*sql.Conn{first, second} {
		var journal string
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journal))
		require.Equal(t, "wal", journal)

		var busy int
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy))
		require.Equal(t, 5000, busy)

		var sync int
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA synchronous").Scan(&sync))
		require.Equal(t, 1, sync, "NORMAL")
	}
}
