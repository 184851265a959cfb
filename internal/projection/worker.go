package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/observability"
	"StableLedger/internal/state"

	"github.com/rs/zerolog"
)

// WatermarkName is the watermark row the query service reads freshness from.
const WatermarkName = "main"

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SnapshotSource returns the live state used to resync after dropped
// outputs, normally core.DeterministicCore.CreateSnapshotState.
type SnapshotSource func() *core.SnapshotState

// ProjectionWorker updates projection tables from core outputs.
// The projection channel drops when full, so the worker resyncs from a
// live snapshot whenever it sees a sequence gap. Every upsert is guarded by
// last_sequence, so a stale output never overwrites a newer row.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	resync    SnapshotSource
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, resync SnapshotSource, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		resync:    resync,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	if pw.resync != nil {
		if err := pw.Resync(ctx); err != nil {
			pw.logger.Warn().Err(err).Msg("initial projection resync failed")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			seq := output.Envelope.Sequence
			if seq <= pw.lastSeq {
				continue
			}
			if pw.lastSeq > 0 && seq != pw.lastSeq+1 && pw.resync != nil {
				pw.logger.Warn().Int64("last", pw.lastSeq).Int64("seq", seq).Msg("projection gap, resyncing")
				if pw.metrics != nil {
					pw.metrics.ProjectionDrops.WithLabelValues("gap").Add(float64(seq - pw.lastSeq - 1))
				}
				if err := pw.Resync(ctx); err != nil {
					pw.logger.Warn().Err(err).Msg("projection resync failed")
				}
			}

			if err := pw.Apply(ctx, output); err != nil {
				// Projections are eventually consistent; the next gap or
				// restart resyncs them.
				pw.logger.Warn().Err(err).Int64("seq", seq).Msg("projection update failed")
				continue
			}
			if seq > pw.lastSeq {
				pw.lastSeq = seq
			}
		}
	}
}

// Apply writes one output to every projection in a single transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, out core.CoreOutput) error {
	seq := out.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	start := time.Now()
	for _, b := range out.Balances {
		if err := upsertBalance(ctx, tx, b, seq); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}
	pw.observe("balances", start)

	if out.Protocol != nil && out.Protocol.Initialized {
		start = time.Now()
		if err := upsertProtocol(ctx, tx, out.Protocol, seq); err != nil {
			return fmt.Errorf("protocol projection: %w", err)
		}
		pw.observe("protocol", start)
	}

	start = time.Now()
	for i := range out.Pools {
		if err := upsertPool(ctx, tx, &out.Pools[i], seq); err != nil {
			return fmt.Errorf("pool projection: %w", err)
		}
	}
	for i := range out.Vaults {
		if err := upsertVault(ctx, tx, &out.Vaults[i], seq); err != nil {
			return fmt.Errorf("vault projection: %w", err)
		}
	}
	pw.observe("vaults", start)

	if liq, ok := out.Outcome.Data.(event.VaultLiquidated); ok {
		start = time.Now()
		if err := insertLiquidation(ctx, tx, out.Outcome, liq); err != nil {
			return fmt.Errorf("liquidation history: %w", err)
		}
		pw.observe("liquidation_history", start)
	}

	if err := advanceWatermark(ctx, tx, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return tx.Commit()
}

// Resync overwrites the state projections with a live snapshot.
// Liquidation history is append-only and is rebuilt from the event log.
func (pw *ProjectionWorker) Resync(ctx context.Context) error {
	snap := pw.resync()
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := writeSnapshot(ctx, tx, snap); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if snap.Sequence > pw.lastSeq {
		pw.lastSeq = snap.Sequence
	}
	pw.observe("resync", start)
	pw.logger.Info().Int64("seq", snap.Sequence).Msg("projections resynced")
	return nil
}

func (pw *ProjectionWorker) observe(projection string, start time.Time) {
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(projection).Observe(time.Since(start).Seconds())
	}
}

func writeSnapshot(ctx context.Context, ex execer, snap *core.SnapshotState) error {
	seq := snap.Sequence
	for _, b := range snap.Balances {
		if err := upsertBalance(ctx, ex, b, seq); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}
	if snap.Protocol.Initialized {
		if err := upsertProtocol(ctx, ex, &snap.Protocol, seq); err != nil {
			return fmt.Errorf("protocol projection: %w", err)
		}
	}
	for i := range snap.Pools {
		if err := upsertPool(ctx, ex, &snap.Pools[i], seq); err != nil {
			return fmt.Errorf("pool projection: %w", err)
		}
	}
	for i := range snap.Vaults {
		if err := upsertVault(ctx, ex, &snap.Vaults[i], seq); err != nil {
			return fmt.Errorf("vault projection: %w", err)
		}
	}
	if err := rebuildLiquidationHistory(ctx, ex); err != nil {
		return fmt.Errorf("liquidation history: %w", err)
	}
	return advanceWatermark(ctx, ex, seq)
}

func upsertBalance(ctx context.Context, ex execer, b ledger.AccountBalance, seq int64) error {
	var userID interface{}
	if b.Key.IsUser() {
		userID = b.Key.UserID()
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, user_id, sub_type, asset, balance, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_path) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
			WHERE projections.balances.last_sequence <= EXCLUDED.last_sequence
	`, b.Key.AccountPath(), userID, b.Key.SubTypeName(), b.Key.Asset, b.Balance, seq)
	return err
}

func upsertProtocol(ctx context.Context, ex execer, p *state.ProtocolState, seq int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.protocol
			(id, admin, stable_asset, stable_decimals, total_debt, bad_debt, debt_ceiling,
			 stability_fee_bps, liquidation_penalty_bps, close_factor_bps, pool_count, last_sequence)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			admin = EXCLUDED.admin,
			total_debt = EXCLUDED.total_debt,
			bad_debt = EXCLUDED.bad_debt,
			debt_ceiling = EXCLUDED.debt_ceiling,
			stability_fee_bps = EXCLUDED.stability_fee_bps,
			liquidation_penalty_bps = EXCLUDED.liquidation_penalty_bps,
			close_factor_bps = EXCLUDED.close_factor_bps,
			pool_count = EXCLUDED.pool_count,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.protocol.last_sequence <= EXCLUDED.last_sequence
	`, p.Admin, p.StableAsset, int16(p.StableDecimals),
		numeric(p.TotalDebt), numeric(p.BadDebt), numeric(p.DebtCeiling),
		int64(p.StabilityFeeBps), int64(p.LiquidationPenaltyBps), int64(p.CloseFactorBps),
		int64(p.PoolCount), seq)
	return err
}

func upsertPool(ctx context.Context, ex execer, p *state.CollateralPool, seq int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.pools
			(asset_id, decimals, total_collateral, total_shares, collateral_factor_bps,
			 liquidation_factor_bps, interest_rate_model, is_active, created_at, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (asset_id) DO UPDATE SET
			total_collateral = EXCLUDED.total_collateral,
			total_shares = EXCLUDED.total_shares,
			collateral_factor_bps = EXCLUDED.collateral_factor_bps,
			liquidation_factor_bps = EXCLUDED.liquidation_factor_bps,
			is_active = EXCLUDED.is_active,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.pools.last_sequence <= EXCLUDED.last_sequence
	`, p.AssetID, int16(p.Decimals), numeric(p.TotalCollateral), numeric(p.TotalShares),
		int64(p.CollateralFactorBps), int64(p.LiquidationFactorBps), p.InterestRateModel,
		p.IsActive, p.CreatedAt, seq)
	return err
}

func upsertVault(ctx context.Context, ex execer, v *state.UserVault, seq int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.vaults
			(owner, asset_id, collateral_shares, debt_amount, accrued_interest, last_update, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner, asset_id) DO UPDATE SET
			collateral_shares = EXCLUDED.collateral_shares,
			debt_amount = EXCLUDED.debt_amount,
			accrued_interest = EXCLUDED.accrued_interest,
			last_update = EXCLUDED.last_update,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.vaults.last_sequence <= EXCLUDED.last_sequence
	`, v.Owner, v.AssetID, numeric(v.CollateralShares), numeric(v.DebtAmount),
		numeric(v.AccruedInterest), v.LastUpdate, seq)
	return err
}

func insertLiquidation(ctx context.Context, ex execer, o *event.Outcome, liq event.VaultLiquidated) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, liquidator, owner, asset_id, price, debt_repaid, collateral_seized,
			 shares_burned, bad_debt, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (sequence) DO NOTHING
	`, o.Sequence, liq.Liquidator, liq.Owner, o.Pool, numeric(liq.Price), numeric(liq.DebtRepaid),
		numeric(liq.CollateralSeized), numeric(liq.SharesBurned), numeric(liq.BadDebt), o.Timestamp)
	return err
}

// rebuildLiquidationHistory backfills liquidations from the outcomes in
// the persisted event log.
func rebuildLiquidationHistory(ctx context.Context, ex execer) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, liquidator, owner, asset_id, price, debt_repaid, collateral_seized,
			 shares_burned, bad_debt, timestamp)
		SELECT
			e.sequence,
			(e.outcome->'data'->>'liquidator')::uuid,
			(e.outcome->'data'->>'owner')::uuid,
			e.pool_id,
			(e.outcome->'data'->>'price')::numeric,
			(e.outcome->'data'->>'debt_repaid')::numeric,
			(e.outcome->'data'->>'collateral_seized')::numeric,
			(e.outcome->'data'->>'shares_burned')::numeric,
			(e.outcome->'data'->>'bad_debt')::numeric,
			e.timestamp
		FROM event_log.events e
		WHERE e.event_type = $1
		ON CONFLICT (sequence) DO NOTHING
	`, event.EventTypeVaultLiquidate.String())
	return err
}

func advanceWatermark(ctx context.Context, ex execer, seq int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection_name) DO UPDATE
			SET last_sequence = GREATEST(projections.watermark.last_sequence, EXCLUDED.last_sequence),
			    updated_at = NOW()
	`, WatermarkName, seq)
	return err
}

// numeric passes a uint64 to a NUMERIC(20,0) column; database/sql rejects
// uint64 values with the high bit set.
func numeric(v uint64) interface{} {
	return fpmath.ToDecimal(v, 0)
}
