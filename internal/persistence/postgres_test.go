package persistence_test

import (
	"context"
	"testing"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/persistence"
	"StableLedger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// persistAll pushes outputs through a worker and waits for the final flush.
func persistAll(t *testing.T, pw func(<-chan core.CoreOutput) *persistence.PersistenceWorker, outputs []core.CoreOutput) []core.CoreOutput {
	t.Helper()
	in := make(chan core.CoreOutput, len(outputs))
	for _, o := range outputs {
		in <- o
	}
	close(in)

	var flushed []core.CoreOutput
	w := pw(in)
	w.OnFlushed(func(batch []core.CoreOutput) { flushed = append(flushed, batch...) })
	require.NoError(t, w.Run(context.Background()))
	return flushed
}

func TestPostgres_PersistAndRecover(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	live, outputs := logScript(t)
	flushed := persistAll(t, func(in <-chan core.CoreOutput) *persistence.PersistenceWorker {
		return persistence.NewPersistenceWorker(db, in, 4, 50*time.Millisecond, nil)
	}, outputs)
	require.Len(t, flushed, len(outputs))

	snaps := persistence.NewSnapshotManager(db)
	head, err := snaps.GetLatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, live.GetSequence(), head)

	// Re-persisting is a no-op.
	persistAll(t, func(in <-chan core.CoreOutput) *persistence.PersistenceWorker {
		return persistence.NewPersistenceWorker(db, in, 100, 50*time.Millisecond, nil)
	}, outputs)
	var journals int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM event_log.journal`).Scan(&journals))
	var want int
	for _, o := range outputs {
		want += len(o.Batch.Journals)
	}
	assert.Equal(t, want, journals)

	// Cold start: full replay.
	cold := core.NewDeterministicCore(1, core.DefaultConfig(), nil, nil, nil, nil)
	res, err := persistence.NewRecovery(snaps, ingestion.ParseEnvelope, nil).Run(ctx, cold)
	require.NoError(t, err)
	assert.Equal(t, int64(len(outputs)), res.Replayed)
	assert.Equal(t, live.GetStateHash(), res.StateHash)

	// Warm start: snapshot, then nothing left to replay.
	require.NoError(t, persistence.NewSnapshotter(live, snaps, 1, 2, nil).Take(ctx))
	warm := core.NewDeterministicCore(1, core.DefaultConfig(), nil, nil, nil, nil)
	res, err = persistence.NewRecovery(snaps, ingestion.ParseEnvelope, nil).Run(ctx, warm)
	require.NoError(t, err)
	assert.Equal(t, live.GetSequence(), res.SnapshotSequence)
	assert.Zero(t, res.Replayed)
	assert.Equal(t, live.GetStateHash(), warm.GetStateHash())
}

func TestPostgres_IdempotencyChecker(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	_, outputs := logScript(t)
	persistAll(t, func(in <-chan core.CoreOutput) *persistence.PersistenceWorker {
		return persistence.NewPersistenceWorker(db, in, 100, 50*time.Millisecond, nil)
	}, outputs)

	checker := persistence.NewPostgresIdempotencyChecker(db)
	first := outputs[0].Envelope

	dup, err := checker.IsDuplicate(first.EventType.String(), first.IdempotencyKey)
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = checker.IsDuplicate("StableMint", first.IdempotencyKey)
	require.NoError(t, err)
	assert.False(t, dup, "keys are scoped by request type")

	keys, err := checker.RecentKeys(ctx, 2)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	last := outputs[len(outputs)-1].Envelope
	assert.Equal(t, core.CompositeKey(last.EventType.String(), last.IdempotencyKey), keys[1])
}

func TestPostgres_SnapshotAheadOfLogStaysUnverified(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	live, _ := logScript(t)
	snaps := persistence.NewSnapshotManager(db)

	err := persistence.NewSnapshotter(live, snaps, 1, 2, nil).Take(ctx)
	assert.ErrorContains(t, err, "ahead of persisted")

	snap, err := snaps.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestPostgres_SnapshotPruneKeepsNewest(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	_, outputs := logScript(t)
	persistAll(t, func(in <-chan core.CoreOutput) *persistence.PersistenceWorker {
		return persistence.NewPersistenceWorker(db, in, 100, 50*time.Millisecond, nil)
	}, outputs)
	snaps := persistence.NewSnapshotManager(db)

	// Snapshot a replica after each of the last four requests.
	replica := core.NewDeterministicCore(1, core.DefaultConfig(), nil, nil, nil, nil)
	snapshotter := persistence.NewSnapshotter(replica, snaps, 1, 2, nil)
	for i, out := range outputs {
		row, _, err := persistence.RowsFromOutput(out)
		require.NoError(t, err)
		env, err := persistence.EnvelopeFromRow(row)
		require.NoError(t, err)
		evt, err := ingestion.ParseEnvelope(env)
		require.NoError(t, err)
		require.NoError(t, replica.ReplayEnvelope(env, evt))
		if i >= len(outputs)-4 {
			require.NoError(t, snapshotter.Take(ctx))
		}
	}

	var kept []int64
	rows, err := db.QueryContext(ctx, `SELECT sequence FROM event_log.snapshots ORDER BY sequence`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var seq int64
		require.NoError(t, rows.Scan(&seq))
		kept = append(kept, seq)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []int64{replica.GetSequence() - 1, replica.GetSequence()}, kept)

	_, err = snaps.Prune(ctx, 0)
	assert.Error(t, err)
}
