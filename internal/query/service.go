package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"StableLedger/internal/observability"
	"StableLedger/internal/projection"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// QueryService provides read-only access to the projection tables and the
// event log. Every response carries as_of_sequence, the last sequence the
// projections reflect; the in-memory core reads are served elsewhere.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

// GetBalances returns every projected account owned by a user.
func (qs *QueryService) GetBalances(ctx context.Context, owner uuid.UUID) (*BalancesResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT b.account_path, b.sub_type, b.asset, b.balance, b.last_sequence,
		       COALESCE(p.decimals, pr.stable_decimals, 0)
		FROM projections.balances b
		LEFT JOIN projections.pools p ON p.asset_id = b.asset
		LEFT JOIN projections.protocol pr ON pr.stable_asset = b.asset
		WHERE b.user_id = $1
		ORDER BY b.account_path
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &BalancesResponse{Owner: owner, Balances: []BalanceResponse{}, AsOfSequence: asOfSeq}
	for rows.Next() {
		var (
			b        BalanceResponse
			decimals int32
		)
		if err := rows.Scan(&b.AccountPath, &b.SubType, &b.Asset, &b.Balance, &b.LastSequence, &decimals); err != nil {
			return nil, err
		}
		b.Display = decimal.New(b.Balance, -decimals)
		resp.Balances = append(resp.Balances, b)
	}
	return resp, rows.Err()
}

// GetVaults returns a user's projected vaults, optionally for one pool.
func (qs *QueryService) GetVaults(ctx context.Context, owner uuid.UUID, assetID *string) (*VaultsResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT v.asset_id, v.collateral_shares,
		       CASE WHEN p.total_shares = 0 THEN 0
		            ELSE floor(v.collateral_shares * p.total_collateral / p.total_shares) END,
		       v.debt_amount, v.accrued_interest, v.last_update, v.last_sequence,
		       p.decimals, COALESCE(pr.stable_decimals, 0)
		FROM projections.vaults v
		JOIN projections.pools p ON p.asset_id = v.asset_id
		LEFT JOIN projections.protocol pr ON pr.id = 1
		WHERE v.owner = $1
	`
	args := []interface{}{owner}
	if assetID != nil {
		query += " AND v.asset_id = $2"
		args = append(args, *assetID)
	}
	query += " ORDER BY v.asset_id"

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &VaultsResponse{Owner: owner, Vaults: []VaultResponse{}, AsOfSequence: asOfSeq}
	for rows.Next() {
		var (
			v                  VaultResponse
			poolDec, stableDec int32
			shares, collateral decimal.Decimal
			debt, interest     decimal.Decimal
		)
		if err := rows.Scan(&v.AssetID, &shares, &collateral, &debt, &interest,
			&v.LastUpdate, &v.LastSequence, &poolDec, &stableDec); err != nil {
			return nil, err
		}
		v.Owner = owner
		v.CollateralShares = shares
		v.Collateral = collateral.Shift(-poolDec)
		v.DebtAmount = debt.Shift(-stableDec)
		v.AccruedInterest = interest.Shift(-stableDec)
		resp.Vaults = append(resp.Vaults, v)
	}
	return resp, rows.Err()
}

// GetLiquidations pages through liquidation history, newest first.
// owner and assetID filter when set; before is the cursor returned in
// NextBefore.
func (qs *QueryService) GetLiquidations(
	ctx context.Context,
	owner *uuid.UUID,
	assetID *string,
	limit int,
	before *int64,
) (*LiquidationsResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	query := `
		SELECT h.sequence, h.liquidator, h.owner, h.asset_id, h.price, h.debt_repaid,
		       h.collateral_seized, h.shares_burned, h.bad_debt, h.timestamp,
		       COALESCE(p.decimals, 0), COALESCE(pr.stable_decimals, 0)
		FROM projections.liquidation_history h
		LEFT JOIN projections.pools p ON p.asset_id = h.asset_id
		LEFT JOIN projections.protocol pr ON pr.id = 1
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if owner != nil {
		query += fmt.Sprintf(" AND h.owner = $%d", argIdx)
		args = append(args, *owner)
		argIdx++
	}
	if assetID != nil {
		query += fmt.Sprintf(" AND h.asset_id = $%d", argIdx)
		args = append(args, *assetID)
		argIdx++
	}
	if before != nil {
		query += fmt.Sprintf(" AND h.sequence < $%d", argIdx)
		args = append(args, *before)
		argIdx++
	}

	// One extra row tells whether another page exists.
	query += " ORDER BY h.sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit+1)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &LiquidationsResponse{Liquidations: []LiquidationResponse{}, AsOfSequence: asOfSeq}
	for rows.Next() {
		var (
			l                  LiquidationResponse
			poolDec, stableDec int32
		)
		if err := rows.Scan(&l.Sequence, &l.Liquidator, &l.Owner, &l.AssetID, &l.Price,
			&l.DebtRepaid, &l.CollateralSeized, &l.SharesBurned, &l.BadDebt, &l.Timestamp,
			&poolDec, &stableDec); err != nil {
			return nil, err
		}
		l.Price = l.Price.Shift(-8)
		l.DebtRepaid = l.DebtRepaid.Shift(-stableDec)
		l.BadDebt = l.BadDebt.Shift(-stableDec)
		l.CollateralSeized = l.CollateralSeized.Shift(-poolDec)
		l.Timestamp = l.Timestamp.UTC()
		resp.Liquidations = append(resp.Liquidations, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(resp.Liquidations) > limit {
		resp.Liquidations = resp.Liquidations[:limit]
		next := resp.Liquidations[limit-1].Sequence
		resp.NextBefore = &next
	}
	return resp, nil
}

// --- Admin APIs ---

// VerifyLogIntegrity checks the persisted log for contiguous sequences and
// an unbroken hash chain, and the balance projection for per-asset zero-sum.
// Each list is capped at ten entries.
func (qs *QueryService) VerifyLogIntegrity(ctx context.Context) (*LogIntegrityReport, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	report := &LogIntegrityReport{AsOfSequence: asOfSeq}

	var head sql.NullInt64
	if err := qs.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&head); err != nil {
		return nil, err
	}
	report.HeadSequence = head.Int64

	report.SequenceGaps, err = qs.sequences(ctx, `
		SELECT e.sequence FROM event_log.events e
		WHERE e.sequence > (SELECT MIN(sequence) FROM event_log.events)
		  AND NOT EXISTS (SELECT 1 FROM event_log.events p WHERE p.sequence = e.sequence - 1)
		ORDER BY e.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("sequence gaps: %w", err)
	}

	report.HashChainBreaks, err = qs.sequences(ctx, `
		SELECT e.sequence FROM event_log.events e
		JOIN event_log.events p ON p.sequence = e.sequence - 1
		WHERE e.prev_hash <> p.state_hash
		ORDER BY e.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("hash chain: %w", err)
	}

	report.UnbalancedAssets, err = qs.imbalances(ctx, `
		SELECT asset, SUM(balance)::BIGINT
		FROM projections.balances
		GROUP BY asset
		HAVING SUM(balance) <> 0
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("projection balance: %w", err)
	}

	report.IsHealthy = len(report.SequenceGaps) == 0 &&
		len(report.HashChainBreaks) == 0 &&
		len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var (
		seq     int64
		updated time.Time
	)
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence, updated_at FROM projections.watermark WHERE projection_name = $1
	`, projection.WatermarkName).Scan(&seq, &updated)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if qs.metrics != nil {
		qs.metrics.QueryFreshnessLag.WithLabelValues(projection.WatermarkName).Observe(time.Since(updated).Seconds())
	}
	return seq, nil
}

func (qs *QueryService) sequences(ctx context.Context, query string) ([]int64, error) {
	rows, err := qs.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		out = append(out, seq)
	}
	return out, rows.Err()
}

func (qs *QueryService) imbalances(ctx context.Context, query string) ([]UnbalancedAsset, error) {
	rows, err := qs.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UnbalancedAsset
	for rows.Next() {
		var u UnbalancedAsset
		if err := rows.Scan(&u.Asset, &u.Imbalance); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
