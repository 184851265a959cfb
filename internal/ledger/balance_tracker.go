package ledger

import (
	"fmt"
	"sort"

	"StableLedger/internal/errcode"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// CheckBatch returns Overflow when applying batch would carry any account
// outside the int64 range. Legs are folded in order, as ApplyBatch does.
func (bt *BalanceTracker) CheckBatch(batch *Batch) error {
	next := make(map[AccountKey]int64, len(batch.Journals)*2)
	move := func(k AccountKey, delta int64) error {
		cur, ok := next[k]
		if !ok {
			cur = bt.balances[k]
		}
		sum := cur + delta
		if (delta > 0 && sum < cur) || (delta < 0 && sum > cur) {
			return errcode.New(errcode.CodeOverflow,
				"account %s balance %d cannot move by %d", k.AccountPath(), cur, delta)
		}
		next[k] = sum
		return nil
	}
	for _, j := range batch.Journals {
		if err := move(j.DebitAccount, j.Amount); err != nil {
			return err
		}
		if err := move(j.CreditAccount, -j.Amount); err != nil {
			return err
		}
	}
	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance overwrites a balance (snapshot restore only).
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	if balance == 0 {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = balance
}

// GetUserStable returns a user's synthetic currency balance.
func (bt *BalanceTracker) GetUserStable(userID uuid.UUID, stableAsset string) int64 {
	return bt.GetBalance(UserStable(userID, stableAsset))
}

// ValidateSufficientStable checks the user can pay required stable.
func (bt *BalanceTracker) ValidateSufficientStable(userID uuid.UUID, stableAsset string, required uint64) error {
	have := bt.GetUserStable(userID, stableAsset)
	if have < 0 || uint64(have) < required {
		return errcode.New(errcode.CodeInsufficientStableBalance,
			"insufficient %s balance: have=%d, need=%d", stableAsset, have, required)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per asset (should be 0 for
// a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[string]int64 {
	totals := make(map[string]int64)

	for key, balance := range bt.balances {
		totals[key.Asset] += balance
	}

	return totals
}

// AccountBalance is one entry of a sorted balance listing.
type AccountBalance struct {
	Key     AccountKey
	Balance int64
}

// Sorted returns all non-zero balances ordered by account path, for
// hashing and snapshots.
func (bt *BalanceTracker) Sorted() []AccountBalance {
	out := make([]AccountBalance, 0, len(bt.balances))
	for k, v := range bt.balances {
		if v == 0 {
			continue
		}
		out = append(out, AccountBalance{Key: k, Balance: v})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.AccountPath() < out[j].Key.AccountPath()
	})
	return out
}

// UserBalances returns every non-zero account a user holds.
func (bt *BalanceTracker) UserBalances(userID uuid.UUID) []AccountBalance {
	out := make([]AccountBalance, 0)
	for _, ab := range bt.Sorted() {
		if ab.Key.IsUser() && ab.Key.UserID() == userID {
			out = append(out, ab)
		}
	}
	return out
}
