package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"StableLedger/internal/event"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/oracle"

	"github.com/google/uuid"
)

var receivedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: receivedAt,
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseCollateralDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"caller":       "660e8400-e29b-41d4-a716-446655440001",
		"timestamp_us": int64(1700000000000000),
		"sequence":     int64(42),
		"asset_id":     "SOL",
		"amount":       uint64(1_000_000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "deposit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	d, ok := evt.(*event.CollateralDeposit)
	if !ok {
		t.Fatalf("expected *event.CollateralDeposit, got %T", evt)
	}
	if d.AssetID != "SOL" {
		t.Errorf("asset: got %s, want SOL", d.AssetID)
	}
	if d.Amount != 1_000_000 {
		t.Errorf("amount: got %d, want 1_000_000", d.Amount)
	}
	if d.Sequence != 42 {
		t.Errorf("sequence: got %d, want 42", d.Sequence)
	}
	if !d.Timestamp.Equal(time.UnixMicro(1700000000000000)) {
		t.Errorf("timestamp: got %v", d.Timestamp)
	}
	if d.IdempotencyKey() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("idempotency key: got %s", d.IdempotencyKey())
	}
	if d.EventType() != event.EventTypeCollateralDeposit {
		t.Errorf("event type: got %v, want CollateralDeposit", d.EventType())
	}
}

func TestParse_DefaultsTimestampAndSequence(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": uuid.NewString(),
		"caller":     uuid.NewString(),
		"asset_id":   "SOL",
		"amount":     uint64(10),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "repay")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	meta := evt.Meta()
	if !meta.Timestamp.Equal(receivedAt) {
		t.Errorf("timestamp: got %v, want receive time", meta.Timestamp)
	}
	if meta.Sequence != event.Unsequenced {
		t.Errorf("sequence: got %d, want unsequenced", meta.Sequence)
	}
}

func TestParseVaultLiquidate_WithPrice(t *testing.T) {
	owner := uuid.New()
	payload := map[string]interface{}{
		"request_id":    uuid.NewString(),
		"caller":        uuid.NewString(),
		"timestamp_us":  receivedAt.UnixMicro(),
		"asset_id":      "SOL",
		"owner":         owner.String(),
		"debt_to_repay": uint64(1_000_000_000),
		"price": map[string]interface{}{
			"asset_id":   "SOL",
			"price":      uint64(8_00000000),
			"confidence": uint64(100000),
			"as_of_us":   receivedAt.Add(-time.Second).UnixMicro(),
		},
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "liquidate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	l := evt.(*event.VaultLiquidate)
	if l.Owner != owner {
		t.Errorf("owner: got %s", l.Owner)
	}
	if l.Price == nil || l.Price.Price != 8_00000000 {
		t.Fatalf("price override not parsed: %+v", l.Price)
	}
	if !l.Price.AsOf.Equal(receivedAt.Add(-time.Second)) {
		t.Errorf("as_of: got %v", l.Price.AsOf)
	}
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   uuid.NewString(),
		"caller":       uuid.NewString(),
		"timestamp_us": receivedAt.UnixMicro(),
		"asset_id":     "ETH",
		"price":        uint64(3_000_00000000),
		"confidence":   uint64(1_00000000),
		"as_of_us":     receivedAt.UnixMicro(),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "price_update")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	p := evt.(*event.PriceUpdate)
	if p.Reading.AssetID != "ETH" || p.Reading.Price != 3_000_00000000 {
		t.Errorf("unexpected reading: %+v", p.Reading)
	}
	if got := p.PoolID(); got == nil || *got != "ETH" {
		t.Errorf("pool id: got %v", got)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		payload interface{}
	}{
		{"unknown kind", "trade", map[string]interface{}{}},
		{"bad request id", "deposit", map[string]interface{}{"request_id": "nope", "caller": uuid.NewString()}},
		{"bad caller", "deposit", map[string]interface{}{"request_id": uuid.NewString(), "caller": "nope"}},
		{"negative sequence", "deposit", map[string]interface{}{
			"request_id": uuid.NewString(), "caller": uuid.NewString(), "sequence": -3,
		}},
		{"bad owner", "liquidate", map[string]interface{}{
			"request_id": uuid.NewString(), "caller": uuid.NewString(), "owner": "x",
		}},
		{"bad recipient", "stable_transfer", map[string]interface{}{
			"request_id": uuid.NewString(), "caller": uuid.NewString(), "to": "x",
		}},
		{"wrong amount type", "mint", map[string]interface{}{
			"request_id": uuid.NewString(), "caller": uuid.NewString(), "amount": "lots",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ingestion.ParseRawEvent(rawFromJSON(t, tt.payload), tt.kind); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// Every request type must survive the envelope payload path used by replay.
func TestEncodeRequest_ParsesBack(t *testing.T) {
	meta := func(seq int64) event.RequestMeta {
		return event.RequestMeta{
			RequestID: uuid.New(),
			Caller:    uuid.New(),
			Timestamp: receivedAt,
			Sequence:  seq,
		}
	}
	reading := &oracle.Reading{AssetID: "SOL", Price: 10_00000000, Confidence: 5, AsOf: receivedAt}

	requests := []event.Event{
		&event.ProtocolInitialize{RequestMeta: meta(event.Unsequenced), StableAsset: "USDS", StableDecimals: 6, DebtCeiling: 1_000, StabilityFeeBps: 200, LiquidationPenaltyBps: 1_000},
		&event.RegistryInitialize{RequestMeta: meta(0), MaxPools: 4},
		&event.PoolRegister{RequestMeta: meta(1), AssetID: "SOL", Decimals: 9, CollateralFactorBps: 7_500, LiquidationFactorBps: 8_000, InterestRateModel: "linear"},
		&event.CollateralDeposit{RequestMeta: meta(2), AssetID: "SOL", Amount: 99},
		&event.CollateralWithdraw{RequestMeta: meta(3), AssetID: "SOL", Shares: 7, Price: reading},
		&event.StableMint{RequestMeta: meta(4), AssetID: "SOL", Amount: 5},
		&event.StableRepay{RequestMeta: meta(5), AssetID: "SOL", Amount: 3},
		&event.VaultLiquidate{RequestMeta: meta(6), AssetID: "SOL", Owner: uuid.New(), DebtToRepay: 2, Price: reading},
		&event.PriceUpdate{RequestMeta: meta(7), Reading: *reading},
		&event.ProtocolParamsUpdate{RequestMeta: meta(8), DebtCeiling: 5, CloseFactorBps: 5_000},
		&event.PoolStatusUpdate{RequestMeta: meta(9), AssetID: "SOL", IsActive: true},
		&event.StableTransfer{RequestMeta: meta(10), To: uuid.New(), Amount: 1},
	}

	for _, req := range requests {
		t.Run(req.EventType().String(), func(t *testing.T) {
			payload, err := ingestion.EncodeRequest(req)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			env := &event.EventEnvelope{EventType: req.EventType(), Payload: payload, Timestamp: time.Unix(0, 0)}
			got, err := ingestion.ParseEnvelope(env)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			again, err := ingestion.EncodeRequest(got)
			if err != nil {
				t.Fatalf("re-encode: %v", err)
			}
			if string(again) != string(payload) {
				t.Errorf("payload changed:\n%s\n%s", payload, again)
			}
			if got.IdempotencyKey() != req.IdempotencyKey() || got.SourceSequence() != req.SourceSequence() {
				t.Errorf("meta changed: %+v vs %+v", got.Meta(), req.Meta())
			}
		})
	}
}
