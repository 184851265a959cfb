package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdraw
	JournalTypeMint
	JournalTypeRepayPrincipal
	JournalTypeRepayInterest
	JournalTypeLiquidationRepayPrincipal
	JournalTypeLiquidationRepayInterest
	JournalTypeLiquidationSeize
	JournalTypeBadDebt
	JournalTypeStableTransfer
	JournalTypeDebtWriteOff
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdraw:
		return "withdraw"
	case JournalTypeMint:
		return "mint"
	case JournalTypeRepayPrincipal:
		return "repay_principal"
	case JournalTypeRepayInterest:
		return "repay_interest"
	case JournalTypeLiquidationRepayPrincipal:
		return "liquidation_repay_principal"
	case JournalTypeLiquidationRepayInterest:
		return "liquidation_repay_interest"
	case JournalTypeLiquidationSeize:
		return "liquidation_seize"
	case JournalTypeBadDebt:
		return "bad_debt"
	case JournalTypeStableTransfer:
		return "stable_transfer"
	case JournalTypeDebtWriteOff:
		return "debt_write_off"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Deterministic: derived from sequence and leg index
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source request
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	Asset         string      // Asset being transferred
	Amount        int64       // Base units (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Request timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount from the credit account to the
// debit account, so every entry balances on its own and multi-leg batches
// balance by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.Asset != j.Asset || j.CreditAccount.Asset != j.Asset {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}

// NetChanges returns the signed change per account the batch would apply.
func (b *Batch) NetChanges() map[AccountKey]int64 {
	deltas := make(map[AccountKey]int64, len(b.Journals)*2)
	for _, j := range b.Journals {
		deltas[j.DebitAccount] += j.Amount
		deltas[j.CreditAccount] -= j.Amount
	}
	return deltas
}
