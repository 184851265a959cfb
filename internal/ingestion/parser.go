package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"StableLedger/internal/event"
	"StableLedger/internal/oracle"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent into a typed event.Event. kind is the
// routing name of the request type (see event.EventType.Kind).
func ParseRawEvent(raw RawEvent, kind string) (event.Event, error) {
	return ParseRequest(kind, raw.Data, raw.Timestamp)
}

// ParseRequest decodes the wire JSON of one request. A request without
// timestamp_us is stamped with receivedAt; one without sequence is
// unsequenced.
func ParseRequest(kind string, data []byte, receivedAt time.Time) (event.Event, error) {
	et, ok := event.EventTypeFromKind(kind)
	if !ok {
		return nil, fmt.Errorf("unknown request kind: %s", kind)
	}
	switch et {
	case event.EventTypeProtocolInitialize:
		return parseProtocolInitialize(data, receivedAt)
	case event.EventTypeRegistryInitialize:
		return parseRegistryInitialize(data, receivedAt)
	case event.EventTypePoolRegister:
		return parsePoolRegister(data, receivedAt)
	case event.EventTypeCollateralDeposit:
		return parseCollateralDeposit(data, receivedAt)
	case event.EventTypeCollateralWithdraw:
		return parseCollateralWithdraw(data, receivedAt)
	case event.EventTypeStableMint:
		return parseStableMint(data, receivedAt)
	case event.EventTypeStableRepay:
		return parseStableRepay(data, receivedAt)
	case event.EventTypeVaultLiquidate:
		return parseVaultLiquidate(data, receivedAt)
	case event.EventTypePriceUpdate:
		return parsePriceUpdate(data, receivedAt)
	case event.EventTypeProtocolParamsUpdate:
		return parseProtocolParamsUpdate(data, receivedAt)
	case event.EventTypePoolStatusUpdate:
		return parsePoolStatusUpdate(data, receivedAt)
	case event.EventTypeStableTransfer:
		return parseStableTransfer(data, receivedAt)
	default:
		return nil, fmt.Errorf("unknown request kind: %s", kind)
	}
}

// ParseEnvelope rebuilds the request stored in a logged envelope.
func ParseEnvelope(env *event.EventEnvelope) (event.Event, error) {
	return ParseRequest(env.EventType.Kind(), env.Payload, env.Timestamp)
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type metaJSON struct {
	RequestID   string `json:"request_id"`
	Caller      string `json:"caller"`
	TimestampUs int64  `json:"timestamp_us,omitempty"`
	Sequence    *int64 `json:"sequence,omitempty"`
}

type readingJSON struct {
	AssetID    string `json:"asset_id"`
	Price      uint64 `json:"price"`
	Confidence uint64 `json:"confidence"`
	AsOfUs     int64  `json:"as_of_us"`
}

func (j metaJSON) decode(receivedAt time.Time) (event.RequestMeta, error) {
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return event.RequestMeta{}, fmt.Errorf("parse request_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return event.RequestMeta{}, fmt.Errorf("parse caller: %w", err)
	}
	ts := receivedAt
	if j.TimestampUs != 0 {
		ts = time.UnixMicro(j.TimestampUs).UTC()
	}
	seq := event.Unsequenced
	if j.Sequence != nil {
		if *j.Sequence < 0 {
			return event.RequestMeta{}, fmt.Errorf("sequence must be >= 0, got %d", *j.Sequence)
		}
		seq = *j.Sequence
	}
	return event.RequestMeta{RequestID: requestID, Caller: caller, Timestamp: ts, Sequence: seq}, nil
}

func encodeMeta(m *event.RequestMeta) metaJSON {
	j := metaJSON{
		RequestID:   m.RequestID.String(),
		Caller:      m.Caller.String(),
		TimestampUs: m.Timestamp.UnixMicro(),
	}
	if m.Sequence != event.Unsequenced {
		seq := m.Sequence
		j.Sequence = &seq
	}
	return j
}

func (j *readingJSON) decode() *oracle.Reading {
	if j == nil {
		return nil
	}
	return &oracle.Reading{
		AssetID:    j.AssetID,
		Price:      j.Price,
		Confidence: j.Confidence,
		AsOf:       time.UnixMicro(j.AsOfUs).UTC(),
	}
}

func encodeReading(r *oracle.Reading) *readingJSON {
	if r == nil {
		return nil
	}
	return &readingJSON{AssetID: r.AssetID, Price: r.Price, Confidence: r.Confidence, AsOfUs: r.AsOf.UnixMicro()}
}

type protocolInitializeJSON struct {
	metaJSON
	StableAsset           string `json:"stable_asset"`
	StableDecimals        uint8  `json:"stable_decimals"`
	GovernanceAsset       string `json:"governance_asset,omitempty"`
	DebtCeiling           uint64 `json:"debt_ceiling"`
	StabilityFeeBps       uint64 `json:"stability_fee_bps"`
	LiquidationPenaltyBps uint64 `json:"liquidation_penalty_bps"`
	CloseFactorBps        uint64 `json:"close_factor_bps,omitempty"`
}

func parseProtocolInitialize(data []byte, receivedAt time.Time) (*event.ProtocolInitialize, error) {
	var j protocolInitializeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ProtocolInitialize: %w", err)
	}
	meta, err := j.decode(receivedAt)
	if err != nil {
		return nil, err
	}
	return &event.ProtocolInitialize{
		RequestMeta:           meta,
		StableAsset:           j.StableAsset,
		StableDecimals:        j.StableDecimals,
		GovernanceAsset:       j.GovernanceAsset,
		DebtCeiling:           j.DebtCeiling,
		StabilityFeeBps:       j.StabilityFeeBps,
		LiquidationPenaltyBps: j.LiquidationPenaltyBps,
		CloseFactorBps:        j.CloseFactorBps,
	}, nil
}

type registryInitializeJSON struct {
	metaJSON
	MaxPools uint32 `json:"max_pools,omitempty"`
}

func parseRegistryInitialize(data []byte, receivedAt time.Time) (*event.RegistryInitialize, error) {
	var j registryInitializeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RegistryInitialize: %w", err)
	}
	meta, err := j.decode(receivedAt)
	if err != nil {
		return nil, err
	}
	return &event.RegistryInitialize{RequestMeta: meta, MaxPools: j.MaxPools}, nil
}

type poolRegisterJSON struct {
	metaJSON
	AssetID              string `json:"asset_id"`
	Decimals             uint8  `json:"decimals"`
	CollateralFactorBps  uint64 `json:"collateral_factor_bps"`
	LiquidationFactorBps uint64 `json:"liquidation_factor_bps"`
	InterestRateModel    string `json:"interest_rate_model,omitempty"`
}

func parsePoolRegister(data []byte, receivedAt time.Time) (*event.PoolRegister, error) {
	var j poolRegisterJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolRegister: %w", err)
	}
	meta, err := j.decode(receivedAt)
	if err != nil {
		return nil, err
	}
	return &event.PoolRegister{
		RequestMeta:          meta,
		AssetID:              j.AssetID,
		Decimals:             j.Decimals,
		CollateralFactorBps:  j.CollateralFactorBps,
		LiquidationFactorBps: j.LiquidationFactorBps,
		InterestRateModel:    j.InterestRateModel,
	}, nil
}

type amountJSON struct {
	metaJSON
	AssetID string       `json:"asset_id"`
	Amount  uint64       `json:"amount"`
	Price   *readingJSON `json:"price,omitempty"`
}

func parseCollateralDeposit(data []byte, receivedAt time.Time) (*event.CollateralDeposit, error) {
	var j amountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CollateralDeposit: %w", err)
	}
	meta, err := j.decode(receivedAt)
	if err != nil {
		return nil, err
	}
	return &event.CollateralDeposit{RequestMeta: meta, AssetID: j.AssetID, Amount: j.Amount}, nil
}

type withdrawJSON struct {
	metaJSON
	AssetID string       `json:"asset_id"`
	Shares  uint64       `json:"shares"`
	Price   *readingJSON `json:"price,omitempty"`
}

func parseCollateralWithdraw(data []byte, receivedAt time.Time) (*event.CollateralWithdraw, error) {
	var j withdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CollateralWithdraw: %w", err)
	}
	meta, err := j.decode(receivedAt)
	if err != nil {
		return nil, err
	}
	return &event.CollateralWithdraw{RequestMeta: meta, AssetID: j.AssetID, Shares: j.Shares, Price: j.Price.decode()}, nil
}

func parseStableMint(data []byte, receivedAt time.Time) (*event.StableMint, error) {
	var j amountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse StableMint: %w", err)
	}
	meta, err := j.decode(receivedAt)
	if err != nil {
		return nil, err
	}
	return &event.StableMint{RequestMeta: meta, AssetID: j.AssetID, Amount: j.Amount, Price: j.Price.decode()}, nil
}

func parseStableRepay(data []byte, receivedAt time.Time) (*event.StableRepay, error) {
	var j amountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse StableRepay: %w", err)
	}
	meta, err := j.decode(receivedAt)
	if err != nil {
		return nil, err
	}
	return &event.StableRepay{RequestMeta: meta, AssetID: j.AssetID, Amount: j.Amount}, nil
}

type liquidateJSON struct {
	metaJSON
	AssetID     string       `json:"asset_id"`
	Owner       string       `json:"owner"`
	DebtToRepay uint64       `json:"debt_to_repay"`
	Price       *readingJSON `json:"price,omitempty"`
}

func parseVaultLiquidate(data []byte, receivedAt time.Time) (*event.VaultLiquidate, error) {
	var j liquidateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse VaultLiquidate: %w", err)
	}
	meta, err := j.decode(receivedAt)
	if err != nil {
		return nil, err
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	return &event.VaultLiquidate{
		RequestMeta: meta,
		AssetID:     j.AssetID,
		Owner:       owner,
		DebtToRepay: j.DebtToRepay,
		Price:       j.Price.decode(),
	}, nil
}

type priceUpdateJSON struct {
	metaJSON
	readingJSON
}

func parsePriceUpdate(data []byte, receivedAt time.Time) (*event.PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdate: %w", err)
	}
	meta, err := j.metaJSON.decode(receivedAt)
	if err != nil {
		return nil, err
	}
	return &event.PriceUpdate{RequestMeta: meta, Reading: *j.readingJSON.decode()}, nil
}

type paramsUpdateJSON struct {
	metaJSON
	DebtCeiling           uint64 `json:"debt_ceiling"`
	StabilityFeeBps       uint64 `json:"stability_fee_bps"`
	LiquidationPenaltyBps uint64 `json:"liquidation_penalty_bps"`
	CloseFactorBps        uint64 `json:"close_factor_bps"`
}

func parseProtocolParamsUpdate(data []byte, receivedAt time.Time) (*event.ProtocolParamsUpdate, error) {
	var j paramsUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ProtocolParamsUpdate: %w", err)
	}
	meta, err := j.decode(receivedAt)
	if err != nil {
		return nil, err
	}
	return &event.ProtocolParamsUpdate{
		RequestMeta:           meta,
		DebtCeiling:           j.DebtCeiling,
		StabilityFeeBps:       j.StabilityFeeBps,
		LiquidationPenaltyBps: j.LiquidationPenaltyBps,
		CloseFactorBps:        j.CloseFactorBps,
	}, nil
}

type poolStatusJSON struct {
	metaJSON
	AssetID  string `json:"asset_id"`
	IsActive bool   `json:"is_active"`
}

func parsePoolStatusUpdate(data []byte, receivedAt time.Time) (*event.PoolStatusUpdate, error) {
	var j poolStatusJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolStatusUpdate: %w", err)
	}
	meta, err := j.decode(receivedAt)
	if err != nil {
		return nil, err
	}
	return &event.PoolStatusUpdate{RequestMeta: meta, AssetID: j.AssetID, IsActive: j.IsActive}, nil
}

type transferJSON struct {
	metaJSON
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

func parseStableTransfer(data []byte, receivedAt time.Time) (*event.StableTransfer, error) {
	var j transferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse StableTransfer: %w", err)
	}
	meta, err := j.decode(receivedAt)
	if err != nil {
		return nil, err
	}
	to, err := uuid.Parse(j.To)
	if err != nil {
		return nil, fmt.Errorf("parse to: %w", err)
	}
	return &event.StableTransfer{RequestMeta: meta, To: to, Amount: j.Amount}, nil
}

// EncodeRequest renders a request in the wire format ParseRequest reads.
// The core stores it as the envelope payload.
func EncodeRequest(evt event.Event) ([]byte, error) {
	var v interface{}
	switch e := evt.(type) {
	case *event.ProtocolInitialize:
		v = protocolInitializeJSON{
			metaJSON:              encodeMeta(&e.RequestMeta),
			StableAsset:           e.StableAsset,
			StableDecimals:        e.StableDecimals,
			GovernanceAsset:       e.GovernanceAsset,
			DebtCeiling:           e.DebtCeiling,
			StabilityFeeBps:       e.StabilityFeeBps,
			LiquidationPenaltyBps: e.LiquidationPenaltyBps,
			CloseFactorBps:        e.CloseFactorBps,
		}
	case *event.RegistryInitialize:
		v = registryInitializeJSON{metaJSON: encodeMeta(&e.RequestMeta), MaxPools: e.MaxPools}
	case *event.PoolRegister:
		v = poolRegisterJSON{
			metaJSON:             encodeMeta(&e.RequestMeta),
			AssetID:              e.AssetID,
			Decimals:             e.Decimals,
			CollateralFactorBps:  e.CollateralFactorBps,
			LiquidationFactorBps: e.LiquidationFactorBps,
			InterestRateModel:    e.InterestRateModel,
		}
	case *event.CollateralDeposit:
		v = amountJSON{metaJSON: encodeMeta(&e.RequestMeta), AssetID: e.AssetID, Amount: e.Amount}
	case *event.CollateralWithdraw:
		v = withdrawJSON{metaJSON: encodeMeta(&e.RequestMeta), AssetID: e.AssetID, Shares: e.Shares, Price: encodeReading(e.Price)}
	case *event.StableMint:
		v = amountJSON{metaJSON: encodeMeta(&e.RequestMeta), AssetID: e.AssetID, Amount: e.Amount, Price: encodeReading(e.Price)}
	case *event.StableRepay:
		v = amountJSON{metaJSON: encodeMeta(&e.RequestMeta), AssetID: e.AssetID, Amount: e.Amount}
	case *event.VaultLiquidate:
		v = liquidateJSON{
			metaJSON:    encodeMeta(&e.RequestMeta),
			AssetID:     e.AssetID,
			Owner:       e.Owner.String(),
			DebtToRepay: e.DebtToRepay,
			Price:       encodeReading(e.Price),
		}
	case *event.PriceUpdate:
		v = priceUpdateJSON{metaJSON: encodeMeta(&e.RequestMeta), readingJSON: *encodeReading(&e.Reading)}
	case *event.ProtocolParamsUpdate:
		v = paramsUpdateJSON{
			metaJSON:              encodeMeta(&e.RequestMeta),
			DebtCeiling:           e.DebtCeiling,
			StabilityFeeBps:       e.StabilityFeeBps,
			LiquidationPenaltyBps: e.LiquidationPenaltyBps,
			CloseFactorBps:        e.CloseFactorBps,
		}
	case *event.PoolStatusUpdate:
		v = poolStatusJSON{metaJSON: encodeMeta(&e.RequestMeta), AssetID: e.AssetID, IsActive: e.IsActive}
	case *event.StableTransfer:
		v = transferJSON{metaJSON: encodeMeta(&e.RequestMeta), To: e.To.String(), Amount: e.Amount}
	default:
		return nil, fmt.Errorf("encode: unsupported request %T", evt)
	}
	return json.Marshal(v)
}
