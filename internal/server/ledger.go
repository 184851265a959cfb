package server

import (
	"context"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/errcode"
	"StableLedger/internal/event"
	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/oracle"
	"StableLedger/internal/query"
	"StableLedger/internal/state"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CoreReader is the read side of the deterministic core.
type CoreReader interface {
	GetSequence() int64
	Protocol() state.ProtocolState
	Registry() state.PoolRegistry
	Pools() []state.CollateralPool
	Pool(asset string) (state.CollateralPool, bool)
	Vaults(owner uuid.UUID) []state.UserVault
	Vault(owner uuid.UUID, asset string) (state.UserVault, bool)
	StableBalance(owner uuid.UUID) int64
	Balances(owner uuid.UUID) []ledger.AccountBalance
	LatestPrice(asset string) (oracle.Reading, bool)
	OracleConfig() oracle.Config
	VerifyIntegrity() core.IntegrityReport
}

// Submitter applies wire requests, normally ingestion.IngestService.
type Submitter interface {
	Submit(ctx context.Context, kind string, body []byte) (*event.Outcome, error)
}

// LedgerServer is the stableledger.v1.Ledger service.
type LedgerServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	GetProtocol(context.Context, *Empty) (*ProtocolView, error)
	ListPools(context.Context, *Empty) (*PoolsResponse, error)
	ListVaults(context.Context, *OwnerRequest) (*VaultsResponse, error)
	GetVault(context.Context, *VaultRequest) (*VaultResponse, error)
	GetStableBalance(context.Context, *OwnerRequest) (*StableBalanceResponse, error)
	VerifyIntegrity(context.Context, *Empty) (*IntegrityResponse, error)
	GetProjectedBalances(context.Context, *OwnerRequest) (*query.BalancesResponse, error)
	ListLiquidations(context.Context, *LiquidationsRequest) (*query.LiquidationsResponse, error)
}

// LedgerService implements LedgerServer. Engine errors are returned as is
// and mapped to status codes at the transport edge. Core reads are consistent with the
// last applied transition; projected reads may lag and carry
// as_of_sequence.
type LedgerService struct {
	core   CoreReader
	submit Submitter
	query  *query.QueryService // nil without Postgres
	clk    clock.Clock
}

func NewLedgerService(reader CoreReader, submit Submitter, qs *query.QueryService, clk clock.Clock) *LedgerService {
	if clk == nil {
		clk = clock.New()
	}
	return &LedgerService{core: reader, submit: submit, query: qs, clk: clk}
}

func (s *LedgerService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if req.Kind == "" {
		return nil, invalidArgument("kind is required")
	}
	if _, ok := event.EventTypeFromKind(req.Kind); !ok {
		return nil, invalidArgument("unknown request kind %q", req.Kind)
	}
	if len(req.Request) == 0 {
		return nil, invalidArgument("request is required")
	}
	outcome, err := s.submit.Submit(ctx, req.Kind, req.Request)
	if err != nil {
		return nil, err
	}
	return &SubmitResponse{Outcome: outcome}, nil
}

func (s *LedgerService) GetProtocol(ctx context.Context, _ *Empty) (*ProtocolView, error) {
	p := s.core.Protocol()
	r := s.core.Registry()
	return &ProtocolView{
		Initialized:        p.Initialized,
		Admin:              p.Admin,
		StableAsset:        p.StableAsset,
		StableDecimals:     p.StableDecimals,
		GovernanceAsset:    p.GovernanceAsset,
		TotalDebt:          p.TotalDebt,
		DebtCeiling:        p.DebtCeiling,
		BadDebt:            p.BadDebt,
		StabilityFee:       fpmath.BpsToDecimal(p.StabilityFeeBps),
		LiquidationPenalty: fpmath.BpsToDecimal(p.LiquidationPenaltyBps),
		CloseFactor:        fpmath.BpsToDecimal(p.CloseFactorBps),
		PoolCount:          p.PoolCount,
		MaxPools:           r.MaxPools,
		Sequence:           s.core.GetSequence(),
	}, nil
}

func (s *LedgerService) ListPools(ctx context.Context, _ *Empty) (*PoolsResponse, error) {
	now := s.clk.Now()
	pools := s.core.Pools()
	resp := &PoolsResponse{Pools: make([]PoolView, 0, len(pools)), Sequence: s.core.GetSequence()}
	for _, p := range pools {
		view := PoolView{
			AssetID:           p.AssetID,
			Decimals:          p.Decimals,
			TotalCollateral:   p.TotalCollateral,
			TotalShares:       p.TotalShares,
			CollateralFactor:  fpmath.BpsToDecimal(p.CollateralFactorBps),
			LiquidationFactor: fpmath.BpsToDecimal(p.LiquidationFactorBps),
			InterestRateModel: p.InterestRateModel,
			IsActive:          p.IsActive,
			CreatedAt:         p.CreatedAt,
		}
		if r, ok := s.core.LatestPrice(p.AssetID); ok {
			view.Price = s.priceView(r, p.AssetID, now)
		}
		resp.Pools = append(resp.Pools, view)
	}
	return resp, nil
}

func (s *LedgerService) ListVaults(ctx context.Context, req *OwnerRequest) (*VaultsResponse, error) {
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	protocol := s.core.Protocol()
	now := s.clk.Now()

	vaults := s.core.Vaults(owner)
	resp := &VaultsResponse{Owner: owner, Vaults: make([]VaultView, 0, len(vaults)), Sequence: s.core.GetSequence()}
	for _, v := range vaults {
		view, err := s.vaultView(v, protocol, now)
		if err != nil {
			return nil, err
		}
		resp.Vaults = append(resp.Vaults, view)
	}
	return resp, nil
}

func (s *LedgerService) GetVault(ctx context.Context, req *VaultRequest) (*VaultResponse, error) {
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	if req.AssetID == "" {
		return nil, invalidArgument("asset_id is required")
	}
	v, ok := s.core.Vault(owner, req.AssetID)
	if !ok {
		return nil, errcode.New(errcode.CodeVaultNotFound, "no vault for %s in %s", owner, req.AssetID)
	}
	view, err := s.vaultView(v, s.core.Protocol(), s.clk.Now())
	if err != nil {
		return nil, err
	}
	return &VaultResponse{Vault: view, Sequence: s.core.GetSequence()}, nil
}

func (s *LedgerService) GetStableBalance(ctx context.Context, req *OwnerRequest) (*StableBalanceResponse, error) {
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	p := s.core.Protocol()
	if !p.Initialized {
		return nil, errcode.New(errcode.CodeNotInitialized, "protocol not initialized")
	}
	balance := s.core.StableBalance(owner)
	display := fpmath.ToDecimal(uint64(balance), p.StableDecimals)
	if balance < 0 {
		display = fpmath.ToDecimal(uint64(-balance), p.StableDecimals).Neg()
	}
	return &StableBalanceResponse{
		Owner:    owner,
		Asset:    p.StableAsset,
		Balance:  balance,
		Display:  display,
		Sequence: s.core.GetSequence(),
	}, nil
}

func (s *LedgerService) VerifyIntegrity(ctx context.Context, _ *Empty) (*IntegrityResponse, error) {
	resp := &IntegrityResponse{Core: s.core.VerifyIntegrity()}
	resp.Healthy = resp.Core.Healthy
	if s.query != nil {
		report, err := s.query.VerifyLogIntegrity(ctx)
		if err != nil {
			return nil, status.Errorf(codes.Unavailable, "verify event log: %v", err)
		}
		resp.Log = report
		resp.Healthy = resp.Healthy && report.IsHealthy
	}
	return resp, nil
}

func (s *LedgerService) GetProjectedBalances(ctx context.Context, req *OwnerRequest) (*query.BalancesResponse, error) {
	if s.query == nil {
		return nil, status.Error(codes.Unimplemented, "projections are not configured")
	}
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	resp, err := s.query.GetBalances(ctx, owner)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "projected balances: %v", err)
	}
	return resp, nil
}

func (s *LedgerService) ListLiquidations(ctx context.Context, req *LiquidationsRequest) (*query.LiquidationsResponse, error) {
	if s.query == nil {
		return nil, status.Error(codes.Unimplemented, "projections are not configured")
	}
	var (
		owner  *uuid.UUID
		asset  *string
		before *int64
	)
	if req.Owner != "" {
		o, err := parseOwner(req.Owner)
		if err != nil {
			return nil, err
		}
		owner = &o
	}
	if req.AssetID != "" {
		asset = &req.AssetID
	}
	if req.Before > 0 {
		before = &req.Before
	}
	if req.Limit < 0 {
		return nil, invalidArgument("limit must not be negative")
	}
	resp, err := s.query.GetLiquidations(ctx, owner, asset, req.Limit, before)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "liquidation history: %v", err)
	}
	return resp, nil
}

// vaultView values a vault at the pool's latest price, previewing interest
// accrued since its last transition.
func (s *LedgerService) vaultView(v state.UserVault, protocol state.ProtocolState, now time.Time) (VaultView, error) {
	view := VaultView{
		Owner:            v.Owner,
		AssetID:          v.AssetID,
		CollateralShares: v.CollateralShares,
		DebtAmount:       v.DebtAmount,
		AccruedInterest:  v.AccruedInterest,
		LastUpdate:       v.LastUpdate,
	}

	pool, ok := s.core.Pool(v.AssetID)
	if !ok {
		return view, errcode.New(errcode.CodeInvalidPool, "pool %s missing for vault", v.AssetID)
	}
	collateral, err := pool.ShareValue(v.CollateralShares)
	if err != nil {
		return view, err
	}
	view.Collateral = collateral

	if elapsed := now.Unix() - v.LastUpdate; elapsed > 0 {
		pending, err := fpmath.ComputeAccruedInterest(v.DebtAmount, protocol.StabilityFeeBps, elapsed)
		if err != nil {
			return view, err
		}
		view.PendingInterest = pending
	}
	owed, err := fpmath.Add(v.DebtAmount, v.AccruedInterest)
	if err != nil {
		return view, err
	}
	if view.Owed, err = fpmath.Add(owed, view.PendingInterest); err != nil {
		return view, err
	}

	reading, ok := s.core.LatestPrice(v.AssetID)
	if !ok {
		return view, nil
	}
	value, err := fpmath.CollateralValue(collateral, reading.Price, pool.Decimals, protocol.StableDecimals)
	if err != nil {
		return view, err
	}
	view.CollateralValue = &value
	if view.Owed > 0 {
		ratio := fpmath.CollateralRatioBps(value, view.Owed)
		view.CollateralRatioBps = &ratio
		if hf, ok := fpmath.HealthFactor(value, pool.LiquidationFactorBps, view.Owed); ok {
			view.HealthFactor = &hf
		}
		view.Liquidatable = fpmath.BelowFactor(value, pool.LiquidationFactorBps, view.Owed)
	}
	return view, nil
}

func (s *LedgerService) priceView(r oracle.Reading, asset string, now time.Time) *PriceView {
	view := &PriceView{
		Price:      fpmath.PriceToDecimal(r.Price),
		Confidence: fpmath.PriceToDecimal(r.Confidence),
		AsOf:       r.AsOf.Unix(),
		Usable:     true,
	}
	if _, err := oracle.Validate(r, asset, now, s.core.OracleConfig()); err != nil {
		view.Usable = false
		view.Reason = errcode.CodeOf(err).String()
	}
	return view
}

func parseOwner(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, invalidArgument("owner is required")
	}
	owner, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, invalidArgument("invalid owner: %v", err)
	}
	return owner, nil
}
