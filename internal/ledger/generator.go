package ledger

import (
	"encoding/binary"
	"math"

	"StableLedger/internal/errcode"

	"github.com/google/uuid"
)

// journalNamespace roots the deterministic batch and journal ids, so a
// replayed request produces byte-identical journals.
var journalNamespace = uuid.MustParse("6f1c7a4e-2b1d-4c9a-9a37-5f0d3c2e8b14")

// BatchMeta identifies the request a batch is generated for.
type BatchMeta struct {
	EventRef  string
	Sequence  int64
	Timestamp int64 // epoch microseconds
}

// JournalGenerator creates balanced journal batches from request effects.
type JournalGenerator struct {
	stableAsset string
}

func NewJournalGenerator(stableAsset string) *JournalGenerator {
	return &JournalGenerator{stableAsset: stableAsset}
}

// SetStableAsset is called once the protocol is initialized.
func (jg *JournalGenerator) SetStableAsset(asset string) {
	jg.stableAsset = asset
}

func (jg *JournalGenerator) StableAsset() string {
	return jg.stableAsset
}

func deterministicID(seq int64, leg int) uuid.UUID {
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(seq))
	binary.BigEndian.PutUint32(buf[8:], uint32(leg))
	return uuid.NewSHA1(journalNamespace, buf[:])
}

type batchBuilder struct {
	batch *Batch
	err   error
}

func newBatchBuilder(meta BatchMeta) *batchBuilder {
	return &batchBuilder{
		batch: &Batch{
			BatchID:   deterministicID(meta.Sequence, -1),
			EventRef:  meta.EventRef,
			Sequence:  meta.Sequence,
			Timestamp: meta.Timestamp,
			Journals:  make([]Journal, 0, 4),
		},
	}
}

// add appends one leg; zero amounts are skipped.
func (b *batchBuilder) add(debit, credit AccountKey, asset string, amount uint64, jt JournalType) {
	if b.err != nil || amount == 0 {
		return
	}
	if amount > math.MaxInt64 {
		b.err = errcode.New(errcode.CodeOverflow, "journal amount %d exceeds ledger range", amount)
		return
	}
	b.batch.Journals = append(b.batch.Journals, Journal{
		JournalID:     deterministicID(b.batch.Sequence, len(b.batch.Journals)),
		BatchID:       b.batch.BatchID,
		EventRef:      b.batch.EventRef,
		Sequence:      b.batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Asset:         asset,
		Amount:        int64(amount),
		JournalType:   jt,
		Timestamp:     b.batch.Timestamp,
	})
}

func (b *batchBuilder) build() (*Batch, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.batch.Validate(); err != nil {
		return nil, err
	}
	return b.batch, nil
}

// GenerateDeposit moves collateral: user:wallet → pool:custody
func (jg *JournalGenerator) GenerateDeposit(meta BatchMeta, owner uuid.UUID, asset string, amount uint64) (*Batch, error) {
	b := newBatchBuilder(meta)
	b.add(PoolCustody(asset), UserWallet(owner, asset), asset, amount, JournalTypeDeposit)
	return b.build()
}

// GenerateWithdraw moves collateral: pool:custody → user:wallet
func (jg *JournalGenerator) GenerateWithdraw(meta BatchMeta, owner uuid.UUID, asset string, amount uint64) (*Batch, error) {
	b := newBatchBuilder(meta)
	b.add(UserWallet(owner, asset), PoolCustody(asset), asset, amount, JournalTypeWithdraw)
	return b.build()
}

// GenerateMint issues stable: system:stable_issuance → user:stable
func (jg *JournalGenerator) GenerateMint(meta BatchMeta, owner uuid.UUID, amount uint64) (*Batch, error) {
	b := newBatchBuilder(meta)
	b.add(UserStable(owner, jg.stableAsset), jg.issuance(), jg.stableAsset, amount, JournalTypeMint)
	return b.build()
}

// GenerateRepay returns principal to issuance and burns interest:
//
//	user:stable → system:stable_issuance  (principal)
//	user:stable → system:fee_burn         (interest)
func (jg *JournalGenerator) GenerateRepay(meta BatchMeta, owner uuid.UUID, interest, principal uint64) (*Batch, error) {
	b := newBatchBuilder(meta)
	user := UserStable(owner, jg.stableAsset)
	b.add(jg.feeBurn(), user, jg.stableAsset, interest, JournalTypeRepayInterest)
	b.add(jg.issuance(), user, jg.stableAsset, principal, JournalTypeRepayPrincipal)
	return b.build()
}

// LiquidationLegs are the balance effects of one liquidation.
type LiquidationLegs struct {
	Liquidator    uuid.UUID
	Asset         string
	InterestPaid  uint64
	PrincipalPaid uint64
	Seized        uint64
	BadDebt       uint64
	WrittenOff    uint64 // principal of a closed vault nobody repaid
}

// GenerateLiquidation settles a liquidation:
//
//	liquidator:stable → fee_burn / stable_issuance   (debt repaid)
//	pool:custody      → liquidator:wallet            (collateral seized)
//	bad_debt_offset   → bad_debt                     (uncovered shortfall memo)
//	bad_debt_offset   → stable_issuance              (principal written off)
func (jg *JournalGenerator) GenerateLiquidation(meta BatchMeta, legs LiquidationLegs) (*Batch, error) {
	b := newBatchBuilder(meta)
	payer := UserStable(legs.Liquidator, jg.stableAsset)
	b.add(jg.feeBurn(), payer, jg.stableAsset, legs.InterestPaid, JournalTypeLiquidationRepayInterest)
	b.add(jg.issuance(), payer, jg.stableAsset, legs.PrincipalPaid, JournalTypeLiquidationRepayPrincipal)
	b.add(UserWallet(legs.Liquidator, legs.Asset), PoolCustody(legs.Asset), legs.Asset, legs.Seized, JournalTypeLiquidationSeize)
	b.add(
		NewSystemAccountKey(SubTypeBadDebt, jg.stableAsset),
		NewSystemAccountKey(SubTypeBadDebtOffset, jg.stableAsset),
		jg.stableAsset, legs.BadDebt, JournalTypeBadDebt,
	)
	b.add(jg.issuance(), NewSystemAccountKey(SubTypeBadDebtOffset, jg.stableAsset), jg.stableAsset, legs.WrittenOff, JournalTypeDebtWriteOff)
	return b.build()
}

// GenerateStableTransfer moves stable between users.
func (jg *JournalGenerator) GenerateStableTransfer(meta BatchMeta, from, to uuid.UUID, amount uint64) (*Batch, error) {
	b := newBatchBuilder(meta)
	b.add(UserStable(to, jg.stableAsset), UserStable(from, jg.stableAsset), jg.stableAsset, amount, JournalTypeStableTransfer)
	return b.build()
}

// GenerateEmpty returns a journal-free batch header for requests that only
// change engine state (admin updates, price readings).
func (jg *JournalGenerator) GenerateEmpty(meta BatchMeta) *Batch {
	return newBatchBuilder(meta).batch
}

func (jg *JournalGenerator) issuance() AccountKey {
	return NewSystemAccountKey(SubTypeStableIssuance, jg.stableAsset)
}

func (jg *JournalGenerator) feeBurn() AccountKey {
	return NewSystemAccountKey(SubTypeFeeBurn, jg.stableAsset)
}
