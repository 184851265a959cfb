package ledger

import (
	"fmt"
	"sort"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies every asset sums to zero.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	assets := make([]string, 0, len(totals))
	for asset := range totals {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		if totals[asset] != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %d", asset, totals[asset])
		}
	}

	return nil
}

// ValidateCustody verifies pool custody holds exactly the pool's collateral.
func (v *InvariantValidator) ValidateCustody(asset string, totalCollateral uint64) error {
	balance := v.tracker.GetBalance(PoolCustody(asset))
	if balance < 0 || uint64(balance) != totalCollateral {
		return fmt.Errorf("custody for %s holds %d, pool reports %d", asset, balance, totalCollateral)
	}
	return nil
}

// ValidateIssuance verifies outstanding issued stable equals total
// principal debt.
func (v *InvariantValidator) ValidateIssuance(stableAsset string, totalDebt uint64) error {
	issued := -v.tracker.GetBalance(NewSystemAccountKey(SubTypeStableIssuance, stableAsset))
	if issued < 0 || uint64(issued) != totalDebt {
		return fmt.Errorf("stable issuance %d does not match total debt %d", issued, totalDebt)
	}
	return nil
}

// ValidateBadDebt verifies the bad debt memo account matches the protocol
// counter.
func (v *InvariantValidator) ValidateBadDebt(stableAsset string, badDebt uint64) error {
	recorded := v.tracker.GetBalance(NewSystemAccountKey(SubTypeBadDebt, stableAsset))
	if recorded < 0 || uint64(recorded) != badDebt {
		return fmt.Errorf("bad debt account %d does not match counter %d", recorded, badDebt)
	}
	return nil
}

// ValidateAccountsNonNegative checks the given accounts are >= 0.
func (v *InvariantValidator) ValidateAccountsNonNegative(keys []AccountKey) error {
	for _, k := range keys {
		if err := v.tracker.ValidateNonNegative(k); err != nil {
			return err
		}
	}
	return nil
}
