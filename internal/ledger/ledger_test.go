package ledger_test

import (
	"errors"
	"math"
	"testing"

	"StableLedger/internal/errcode"
	"StableLedger/internal/ledger"

	"github.com/google/uuid"
)

const stable = "USDS"

func meta(seq int64) ledger.BatchMeta {
	return ledger.BatchMeta{EventRef: "req-1", Sequence: seq, Timestamp: 1_700_000_000_000_000}
}

func mustApply(t *testing.T, bt *ledger.BalanceTracker, batch *ledger.Batch, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.UserStable(userID, stable)

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:stable:USDS"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_PoolPath(t *testing.T) {
	key := ledger.PoolCustody("SOL")
	if path := key.AccountPath(); path != "pool:SOL:custody" {
		t.Errorf("got %q, want %q", path, "pool:SOL:custody")
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	key := ledger.NewSystemAccountKey(ledger.SubTypeStableIssuance, stable)
	if path := key.AccountPath(); path != "system:stable_issuance:USDS" {
		t.Errorf("got %q, want %q", path, "system:stable_issuance:USDS")
	}
}

// ============================================================================
// Test: Generator + BalanceTracker
// ============================================================================

func TestGenerator_DepositWithdraw(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(stable)
	userID := uuid.New()

	batch, err := jg.GenerateDeposit(meta(1), userID, "SOL", 1_000)
	mustApply(t, bt, batch, err)

	if got := bt.GetBalance(ledger.PoolCustody("SOL")); got != 1_000 {
		t.Errorf("custody: got %d, want 1000", got)
	}
	if got := bt.GetBalance(ledger.UserWallet(userID, "SOL")); got != -1_000 {
		t.Errorf("wallet: got %d, want -1000", got)
	}

	batch, err = jg.GenerateWithdraw(meta(2), userID, "SOL", 400)
	mustApply(t, bt, batch, err)

	if got := bt.GetBalance(ledger.PoolCustody("SOL")); got != 600 {
		t.Errorf("custody: got %d, want 600", got)
	}
}

func TestGenerator_MintRepayKeepsIssuanceEqualToPrincipal(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(stable)
	v := ledger.NewInvariantValidator(bt)
	userID := uuid.New()

	batch, err := jg.GenerateMint(meta(1), userID, 5_000)
	mustApply(t, bt, batch, err)

	if err := v.ValidateIssuance(stable, 5_000); err != nil {
		t.Fatalf("after mint: %v", err)
	}

	// 300 repaid: 100 interest burned, 200 principal returned
	batch, err = jg.GenerateRepay(meta(2), userID, 100, 200)
	mustApply(t, bt, batch, err)

	if len(batch.Journals) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(batch.Journals))
	}
	if err := v.ValidateIssuance(stable, 4_800); err != nil {
		t.Errorf("after repay: %v", err)
	}
	if got := bt.GetUserStable(userID, stable); got != 4_700 {
		t.Errorf("user stable: got %d, want 4700", got)
	}
	if got := bt.GetBalance(ledger.NewSystemAccountKey(ledger.SubTypeFeeBurn, stable)); got != 100 {
		t.Errorf("fee burn: got %d, want 100", got)
	}
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("zero-sum: %v", err)
	}
}

func TestGenerator_RepayInterestOnlySkipsZeroLeg(t *testing.T) {
	jg := ledger.NewJournalGenerator(stable)
	batch, err := jg.GenerateRepay(meta(1), uuid.New(), 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Journals) != 1 || batch.Journals[0].JournalType != ledger.JournalTypeRepayInterest {
		t.Errorf("expected a single interest leg, got %+v", batch.Journals)
	}
}

func TestGenerator_Liquidation(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(stable)
	v := ledger.NewInvariantValidator(bt)
	owner, liquidator := uuid.New(), uuid.New()

	batch, err := jg.GenerateDeposit(meta(1), owner, "SOL", 1_000)
	mustApply(t, bt, batch, err)
	batch, err = jg.GenerateMint(meta(2), owner, 7_500)
	mustApply(t, bt, batch, err)
	batch, err = jg.GenerateStableTransfer(meta(3), owner, liquidator, 2_000)
	mustApply(t, bt, batch, err)

	batch, err = jg.GenerateLiquidation(meta(4), ledger.LiquidationLegs{
		Liquidator:    liquidator,
		Asset:         "SOL",
		InterestPaid:  10,
		PrincipalPaid: 990,
		Seized:        137,
		BadDebt:       5,
	})
	mustApply(t, bt, batch, err)

	if len(batch.Journals) != 4 {
		t.Fatalf("expected 4 legs, got %d", len(batch.Journals))
	}
	if err := v.ValidateCustody("SOL", 863); err != nil {
		t.Error(err)
	}
	if err := v.ValidateIssuance(stable, 7_500-990); err != nil {
		t.Error(err)
	}
	if err := v.ValidateBadDebt(stable, 5); err != nil {
		t.Error(err)
	}
	if got := bt.GetBalance(ledger.UserWallet(liquidator, "SOL")); got != 137 {
		t.Errorf("liquidator wallet: got %d, want 137", got)
	}
	if got := bt.GetUserStable(liquidator, stable); got != 1_000 {
		t.Errorf("liquidator stable: got %d, want 1000", got)
	}
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("zero-sum: %v", err)
	}
}

func TestGenerator_LiquidationWriteOff(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(stable)
	v := ledger.NewInvariantValidator(bt)
	owner, liquidator := uuid.New(), uuid.New()

	batch, err := jg.GenerateDeposit(meta(1), owner, "SOL", 1_000)
	mustApply(t, bt, batch, err)
	batch, err = jg.GenerateMint(meta(2), owner, 7_500)
	mustApply(t, bt, batch, err)
	batch, err = jg.GenerateStableTransfer(meta(3), owner, liquidator, 5_000)
	mustApply(t, bt, batch, err)

	// Every share seized; 2,500 of principal is left with nothing behind it.
	batch, err = jg.GenerateLiquidation(meta(4), ledger.LiquidationLegs{
		Liquidator:    liquidator,
		Asset:         "SOL",
		PrincipalPaid: 5_000,
		Seized:        1_000,
		BadDebt:       3_000,
		WrittenOff:    2_500,
	})
	mustApply(t, bt, batch, err)

	last := batch.Journals[len(batch.Journals)-1]
	if last.JournalType != ledger.JournalTypeDebtWriteOff || last.Amount != 2_500 {
		t.Errorf("expected a 2500 write-off leg, got %+v", last)
	}
	if err := v.ValidateIssuance(stable, 0); err != nil {
		t.Error(err)
	}
	if err := v.ValidateBadDebt(stable, 3_000); err != nil {
		t.Error(err)
	}
	if err := v.ValidateCustody("SOL", 0); err != nil {
		t.Error(err)
	}
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("zero-sum: %v", err)
	}
}

func TestGenerator_DeterministicIDs(t *testing.T) {
	a := ledger.NewJournalGenerator(stable)
	b := ledger.NewJournalGenerator(stable)
	userID := uuid.New()

	ba, _ := a.GenerateRepay(meta(9), userID, 1, 2)
	bb, _ := b.GenerateRepay(meta(9), userID, 1, 2)

	if ba.BatchID != bb.BatchID {
		t.Error("batch ids differ for the same sequence")
	}
	for i := range ba.Journals {
		if ba.Journals[i].JournalID != bb.Journals[i].JournalID {
			t.Errorf("journal %d ids differ", i)
		}
	}
	if ba.Journals[0].JournalID == ba.Journals[1].JournalID {
		t.Error("legs share a journal id")
	}
}

func TestGenerator_OverflowingAmount(t *testing.T) {
	jg := ledger.NewJournalGenerator(stable)
	_, err := jg.GenerateMint(meta(1), uuid.New(), ^uint64(0))
	if !errors.Is(err, errcode.ErrOverflow) {
		t.Errorf("expected Overflow, got %v", err)
	}
}

func TestBalanceTracker_ValidateSufficientStable(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(stable)
	userID := uuid.New()

	err := bt.ValidateSufficientStable(userID, stable, 100)
	if !errors.Is(err, errcode.ErrInsufficientStableBalance) {
		t.Errorf("expected InsufficientStableBalance, got %v", err)
	}

	batch, err := jg.GenerateMint(meta(1), userID, 1_000)
	mustApply(t, bt, batch, err)

	if err := bt.ValidateSufficientStable(userID, stable, 1_000); err != nil {
		t.Errorf("should have sufficient balance: %v", err)
	}
	if err := bt.ValidateSufficientStable(userID, stable, 1_001); err == nil {
		t.Error("expected error for 1_001 > 1_000")
	}
}

func TestBalanceTracker_CheckBatchOverflow(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(stable)
	userID := uuid.New()

	batch, err := jg.GenerateDeposit(meta(1), userID, "SOL", math.MaxInt64)
	if err != nil {
		t.Fatal(err)
	}
	if err := bt.CheckBatch(batch); err != nil {
		t.Fatalf("first deposit fits: %v", err)
	}
	mustApply(t, bt, batch, nil)

	batch, err = jg.GenerateDeposit(meta(2), uuid.New(), "SOL", 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := bt.CheckBatch(batch); !errors.Is(err, errcode.ErrOverflow) {
		t.Fatalf("expected Overflow, got %v", err)
	}
	if got := bt.GetBalance(ledger.PoolCustody("SOL")); got != math.MaxInt64 {
		t.Errorf("CheckBatch changed custody: %d", got)
	}

	// Legs of one batch are folded together: two legs that each fit can
	// still overflow jointly.
	joint := &ledger.Batch{Journals: []ledger.Journal{
		{DebitAccount: ledger.UserStable(userID, stable), CreditAccount: ledger.NewSystemAccountKey(ledger.SubTypeStableIssuance, stable), Asset: stable, Amount: math.MaxInt64},
		{DebitAccount: ledger.UserStable(userID, stable), CreditAccount: ledger.NewSystemAccountKey(ledger.SubTypeFeeBurn, stable), Asset: stable, Amount: 1},
	}}
	if err := bt.CheckBatch(joint); !errors.Is(err, errcode.ErrOverflow) {
		t.Errorf("expected Overflow for joint legs, got %v", err)
	}
}

func TestBalanceTracker_SortedAndRestore(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(stable)
	userID := uuid.New()

	batch, err := jg.GenerateDeposit(meta(1), userID, "SOL", 999)
	mustApply(t, bt, batch, err)

	sorted := bt.Sorted()
	if len(sorted) != 2 {
		t.Fatalf("expected 2 balances, got %d", len(sorted))
	}
	if sorted[0].Key.AccountPath() > sorted[1].Key.AccountPath() {
		t.Error("balances not sorted by path")
	}

	restored := ledger.NewBalanceTracker()
	for _, ab := range sorted {
		restored.SetBalance(ab.Key, ab.Balance)
	}
	if restored.GetBalance(ledger.PoolCustody("SOL")) != 999 {
		t.Error("restore lost custody balance")
	}
	if len(restored.UserBalances(userID)) != 1 {
		t.Error("expected one user balance")
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate(t *testing.T) {
	batchID := uuid.New()
	user := ledger.UserWallet(uuid.New(), "SOL")
	custody := ledger.PoolCustody("SOL")

	tests := []struct {
		name    string
		journal ledger.Journal
		wantErr bool
	}{
		{"valid", ledger.Journal{BatchID: batchID, DebitAccount: custody, CreditAccount: user, Asset: "SOL", Amount: 1}, false},
		{"zero amount", ledger.Journal{BatchID: batchID, DebitAccount: custody, CreditAccount: user, Asset: "SOL", Amount: 0}, true},
		{"negative amount", ledger.Journal{BatchID: batchID, DebitAccount: custody, CreditAccount: user, Asset: "SOL", Amount: -100}, true},
		{"self transfer", ledger.Journal{BatchID: batchID, DebitAccount: user, CreditAccount: user, Asset: "SOL", Amount: 1}, true},
		{"mismatched batch", ledger.Journal{BatchID: uuid.New(), DebitAccount: custody, CreditAccount: user, Asset: "SOL", Amount: 1}, true},
		{"mixed assets", ledger.Journal{BatchID: batchID, DebitAccount: custody, CreditAccount: user, Asset: "ETH", Amount: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{tt.journal}}
			err := batch.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	empty := &ledger.Batch{BatchID: batchID}
	if empty.Validate() == nil {
		t.Error("empty batch should fail validation")
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_DetectsCustodyMismatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("empty ledger should have zero global balance: %v", err)
	}

	bt.SetBalance(ledger.PoolCustody("SOL"), 10)
	if err := v.ValidateCustody("SOL", 11); err == nil {
		t.Error("expected custody mismatch")
	}
	if err := v.ValidateGlobalBalance(); err == nil {
		t.Error("expected non-zero global balance")
	}
}
