package persistence

import (
	"context"
	"fmt"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/observability"

	"github.com/rs/zerolog"
)

// EnvelopeParser turns a logged envelope back into its typed request.
type EnvelopeParser func(env *event.EventEnvelope) (event.Event, error)

// RecoveryResult summarizes a startup recovery.
type RecoveryResult struct {
	SnapshotSequence int64 // 0 when no snapshot was loaded
	Replayed         int64
	Sequence         int64
	StateHash        [32]byte
}

// Recovery rebuilds a fresh core from the latest verified snapshot plus the
// events logged after it.
type Recovery struct {
	snapshots *SnapshotManager
	parse     EnvelopeParser
	batchSize int
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewRecovery(snapshots *SnapshotManager, parse EnvelopeParser, metrics *observability.Metrics) *Recovery {
	return &Recovery{
		snapshots: snapshots,
		parse:     parse,
		batchSize: 1000,
		metrics:   metrics,
		logger:    observability.NewLogger("recovery"),
	}
}

// Run restores c. Any replay failure is fatal to startup: a log that does
// not reproduce its own hashes must not be served.
func (r *Recovery) Run(ctx context.Context, c *core.DeterministicCore) (RecoveryResult, error) {
	start := time.Now()
	var res RecoveryResult

	snap, err := r.snapshots.LoadLatestSnapshot(ctx)
	if err != nil {
		// Cold replay is always possible; a bad snapshot only costs time.
		r.logger.Warn().Err(err).Msg("failed to load snapshot, replaying full log")
		snap = nil
	}
	if snap != nil {
		c.RestoreFromSnapshot(snap)
		if rep := c.VerifyIntegrity(); !rep.Healthy {
			return res, fmt.Errorf("snapshot at seq=%d fails integrity: %v", snap.Sequence, rep.Problems)
		}
		res.SnapshotSequence = snap.Sequence
		r.logger.Info().
			Int64("seq", snap.Sequence).
			Int("idempotency_keys", len(snap.IdempotencyKeys)).
			Msg("restored snapshot")
	} else {
		r.logger.Info().Msg("no snapshot found, cold start")
	}

	from := c.GetSequence() + 1
	for {
		rows, err := r.snapshots.LoadEventsFrom(ctx, from, r.batchSize)
		if err != nil {
			return res, fmt.Errorf("load events from seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			env, err := EnvelopeFromRow(row)
			if err != nil {
				return res, err
			}
			evt, err := r.parse(env)
			if err != nil {
				return res, fmt.Errorf("parse seq=%d: %w", row.Sequence, err)
			}
			if err := c.ReplayEnvelope(env, evt); err != nil {
				return res, err
			}
			res.Replayed++
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	res.Sequence = c.GetSequence()
	res.StateHash = c.GetStateHash()
	if r.metrics != nil {
		r.metrics.ReplayEventsTotal.Add(float64(res.Replayed))
		r.metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	r.logger.Info().
		Int64("replayed", res.Replayed).
		Int64("seq", res.Sequence).
		Str("state_hash", fmt.Sprintf("%x", res.StateHash)).
		Msg("recovery complete")
	return res, nil
}

// Snapshotter persists core snapshots every interval applied requests.
type Snapshotter struct {
	core      *core.DeterministicCore
	snapshots *SnapshotManager
	interval  int64
	retain    int
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewSnapshotter(c *core.DeterministicCore, snapshots *SnapshotManager, interval int64, retain int, metrics *observability.Metrics) *Snapshotter {
	if interval <= 0 {
		interval = 100_000
	}
	if retain <= 0 {
		retain = 1
	}
	return &Snapshotter{
		core:      c,
		snapshots: snapshots,
		interval:  interval,
		retain:    retain,
		metrics:   metrics,
		logger:    observability.NewLogger("snapshot"),
		lastSeq:   c.GetSequence(),
	}
}

// Run checks every checkEvery whether a snapshot is due.
func (s *Snapshotter) Run(ctx context.Context, checkEvery time.Duration) {
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.core.GetSequence()-s.lastSeq < s.interval {
				continue
			}
			if err := s.Take(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot failed")
			}
		}
	}
}

// Take captures and stores a snapshot of the live state. Live state has
// passed every post-commit check, so it is marked verified right away.
func (s *Snapshotter) Take(ctx context.Context) error {
	start := time.Now()
	snap := s.core.CreateSnapshotState()

	size, err := s.snapshots.SaveSnapshot(ctx, snap, start.UTC())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	// A snapshot ahead of the log would hide the unpersisted tail on restart.
	persisted, err := s.snapshots.GetLatestSequence(ctx)
	if err != nil {
		return fmt.Errorf("read log head: %w", err)
	}
	if persisted < snap.Sequence {
		return fmt.Errorf("snapshot seq=%d ahead of persisted seq=%d, left unverified", snap.Sequence, persisted)
	}
	if err := s.snapshots.MarkVerified(ctx, snap.Sequence); err != nil {
		return fmt.Errorf("mark snapshot verified: %w", err)
	}
	s.lastSeq = snap.Sequence

	pruned, err := s.snapshots.Prune(ctx, s.retain)
	if err != nil {
		s.logger.Warn().Err(err).Msg("snapshot prune failed")
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	s.logger.Info().Int64("seq", snap.Sequence).Int("bytes", size).Int64("pruned", pruned).Msg("snapshot saved")
	return nil
}
