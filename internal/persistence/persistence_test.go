package persistence_test

import (
	"testing"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/oracle"
	"StableLedger/internal/persistence"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// logScript applies a short history and returns what the core emitted.
func logScript(t *testing.T) (*core.DeterministicCore, []core.CoreOutput) {
	t.Helper()
	persist := make(chan core.CoreOutput, 64)
	c := core.NewDeterministicCore(1, core.DefaultConfig(), persist, nil, nil, nil)
	c.SetPayloadEncoder(ingestion.EncodeRequest)

	admin := uuid.MustParse("00000000-0000-0000-0000-00000000a0a0")
	alice := uuid.MustParse("00000000-0000-0000-0000-0000000a11ce")
	now := t0
	n := 0
	meta := func(caller uuid.UUID) event.RequestMeta {
		n++
		now = now.Add(time.Second)
		return event.RequestMeta{
			RequestID: uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(n)}),
			Caller:    caller,
			Timestamp: now,
			Sequence:  event.Unsequenced,
		}
	}

	requests := []func() event.Event{
		func() event.Event {
			return &event.ProtocolInitialize{RequestMeta: meta(admin), StableAsset: "USDS", StableDecimals: 6,
				DebtCeiling: 1_000_000_000_000, StabilityFeeBps: 500, LiquidationPenaltyBps: 1_000}
		},
		func() event.Event { return &event.RegistryInitialize{RequestMeta: meta(admin)} },
		func() event.Event {
			return &event.PoolRegister{RequestMeta: meta(admin), AssetID: "SOL", Decimals: 6,
				CollateralFactorBps: 7_500, LiquidationFactorBps: 8_000}
		},
		func() event.Event {
			m := meta(admin)
			return &event.PriceUpdate{RequestMeta: m, Reading: oracle.Reading{
				AssetID: "SOL", Price: 100_00000000, Confidence: 10_000000, AsOf: m.Timestamp}}
		},
		func() event.Event {
			return &event.CollateralDeposit{RequestMeta: meta(alice), AssetID: "SOL", Amount: 10_000_000}
		},
		func() event.Event { return &event.StableMint{RequestMeta: meta(alice), AssetID: "SOL", Amount: 500_000_000} },
	}
	for _, next := range requests {
		evt := next()
		_, err := c.ProcessEvent(evt)
		require.NoError(t, err, "apply %s", evt.EventType())
	}

	var outputs []core.CoreOutput
	for len(persist) > 0 {
		outputs = append(outputs, <-persist)
	}
	require.Len(t, outputs, len(requests))
	return c, outputs
}

func TestRowsFromOutput(t *testing.T) {
	_, outputs := logScript(t)

	init, journals, err := persistence.RowsFromOutput(outputs[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), init.Sequence)
	assert.Equal(t, "ProtocolInitialize", init.EventType)
	assert.Nil(t, init.PoolID)
	assert.Empty(t, journals)
	assert.Len(t, init.StateHash, 32)
	assert.Len(t, init.PrevHash, 32)
	assert.Contains(t, string(init.Outcome), `"ProtocolInitialized"`)

	deposit, journals, err := persistence.RowsFromOutput(outputs[4])
	require.NoError(t, err)
	assert.Equal(t, "CollateralDeposit", deposit.EventType)
	require.NotNil(t, deposit.PoolID)
	assert.Equal(t, "SOL", *deposit.PoolID)
	require.NotEmpty(t, journals)
	for _, j := range journals {
		assert.Equal(t, deposit.Sequence, j.Sequence)
		assert.Equal(t, deposit.IdempotencyKey, j.EventRef)
		assert.Positive(t, j.Amount)
		assert.NotEqual(t, j.DebitAccount, j.CreditAccount)
	}

	// Each envelope chains to the previous one.
	prev := init.StateHash
	for _, out := range outputs[1:] {
		row, _, err := persistence.RowsFromOutput(out)
		require.NoError(t, err)
		assert.Equal(t, prev, row.PrevHash, "seq=%d", row.Sequence)
		prev = row.StateHash
	}
}

func TestLoggedRowsReplayToSameState(t *testing.T) {
	live, outputs := logScript(t)

	replica := core.NewDeterministicCore(1, core.DefaultConfig(), nil, nil, nil, nil)
	for _, out := range outputs {
		row, _, err := persistence.RowsFromOutput(out)
		require.NoError(t, err)

		env, err := persistence.EnvelopeFromRow(row)
		require.NoError(t, err)
		evt, err := ingestion.ParseEnvelope(env)
		require.NoError(t, err)
		require.NoError(t, replica.ReplayEnvelope(env, evt))
	}

	assert.Equal(t, live.GetSequence(), replica.GetSequence())
	assert.Equal(t, live.GetStateHash(), replica.GetStateHash())
	assert.True(t, replica.VerifyIntegrity().Healthy)
}

func TestReplayRejectsTamperedRow(t *testing.T) {
	_, outputs := logScript(t)

	replica := core.NewDeterministicCore(1, core.DefaultConfig(), nil, nil, nil, nil)
	for i, out := range outputs {
		row, _, err := persistence.RowsFromOutput(out)
		require.NoError(t, err)
		if i == 2 {
			row.StateHash[0] ^= 0xff
		}
		env, err := persistence.EnvelopeFromRow(row)
		require.NoError(t, err)
		evt, err := ingestion.ParseEnvelope(env)
		require.NoError(t, err)

		err = replica.ReplayEnvelope(env, evt)
		if i == 2 {
			assert.ErrorContains(t, err, "state hash mismatch")
			return
		}
		require.NoError(t, err)
	}
	t.Fatal("tampered row was not reached")
}

func TestEnvelopeFromRowRejectsMalformed(t *testing.T) {
	_, err := persistence.EnvelopeFromRow(persistence.EventRow{Sequence: 1, EventType: "Mystery"})
	assert.Error(t, err)

	_, err = persistence.EnvelopeFromRow(persistence.EventRow{
		Sequence: 1, EventType: "StableMint", StateHash: []byte{1}, PrevHash: make([]byte, 32),
	})
	assert.ErrorContains(t, err, "malformed hash")
}

func TestReplayAfterRejectedSequencedRequest(t *testing.T) {
	persist := make(chan core.CoreOutput, 16)
	live := core.NewDeterministicCore(1, core.DefaultConfig(), persist, nil, nil, nil)
	live.SetPayloadEncoder(ingestion.EncodeRequest)

	admin := uuid.MustParse("00000000-0000-0000-0000-00000000a0a0")
	alice := uuid.MustParse("00000000-0000-0000-0000-0000000a11ce")
	now := t0
	n := 0
	meta := func(caller uuid.UUID, seq int64) event.RequestMeta {
		n++
		now = now.Add(time.Second)
		return event.RequestMeta{
			RequestID: uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(n)}),
			Caller:    caller,
			Timestamp: now,
			Sequence:  seq,
		}
	}

	for _, evt := range []event.Event{
		&event.ProtocolInitialize{RequestMeta: meta(admin, event.Unsequenced), StableAsset: "USDS", StableDecimals: 6,
			DebtCeiling: 1_000_000_000_000, LiquidationPenaltyBps: 1_000},
		&event.RegistryInitialize{RequestMeta: meta(admin, event.Unsequenced)},
		&event.PoolRegister{RequestMeta: meta(admin, event.Unsequenced), AssetID: "SOL", Decimals: 6,
			CollateralFactorBps: 7_500, LiquidationFactorBps: 8_000},
		&event.CollateralDeposit{RequestMeta: meta(alice, 0), AssetID: "SOL", Amount: 10_000_000},
	} {
		_, err := live.ProcessEvent(evt)
		require.NoError(t, err, "apply %s", evt.EventType())
	}

	// No SOL price yet: the mint is rejected and leaves sequence 1 unused.
	_, err := live.ProcessEvent(&event.StableMint{RequestMeta: meta(alice, 1), AssetID: "SOL", Amount: 1})
	require.Error(t, err)

	_, err = live.ProcessEvent(&event.CollateralDeposit{RequestMeta: meta(alice, 1), AssetID: "SOL", Amount: 5_000_000})
	require.NoError(t, err)
	_, err = live.ProcessEvent(&event.CollateralDeposit{RequestMeta: meta(alice, 2), AssetID: "SOL", Amount: 5_000_000})
	require.NoError(t, err)

	var outputs []core.CoreOutput
	for len(persist) > 0 {
		outputs = append(outputs, <-persist)
	}
	require.Len(t, outputs, 6)

	replica := core.NewDeterministicCore(1, core.DefaultConfig(), nil, nil, nil, nil)
	for _, out := range outputs {
		row, _, err := persistence.RowsFromOutput(out)
		require.NoError(t, err)
		env, err := persistence.EnvelopeFromRow(row)
		require.NoError(t, err)
		evt, err := ingestion.ParseEnvelope(env)
		require.NoError(t, err)
		require.NoError(t, replica.ReplayEnvelope(env, evt), "seq=%d", env.Sequence)
	}

	assert.Equal(t, live.GetStateHash(), replica.GetStateHash())
	assert.True(t, replica.VerifyIntegrity().Healthy)
}
