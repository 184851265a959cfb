package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"StableLedger/internal/errcode"
	"StableLedger/internal/event"
	"StableLedger/internal/ledger"
	"StableLedger/internal/observability"
	"StableLedger/internal/oracle"
	"StableLedger/internal/state"

	"github.com/rs/zerolog"
)

// Config holds the engine parameters that are not protocol state.
type Config struct {
	Oracle              oracle.Config
	IdempotencyCapacity int
	DefaultMaxPools     uint32
}

func DefaultConfig() Config {
	return Config{
		Oracle:              oracle.DefaultConfig(),
		IdempotencyCapacity: DefaultIdempotencyCapacity,
		DefaultMaxPools:     state.DefaultMaxPools,
	}
}

// PayloadEncoder renders a request into the wire bytes stored in the
// event log, so replay can parse it back.
type PayloadEncoder func(event.Event) ([]byte, error)

// DeterministicCore is the single-threaded request processor. Only the
// goroutine driving ProcessEvent mutates state; readers take the read lock
// and the commit of each transition takes the write lock.
type DeterministicCore struct {
	mu sync.RWMutex

	cfg               Config
	sequence          int64 // next sequence to assign
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	protocol          *state.ProtocolState
	registry          *state.PoolRegistry
	pools             *state.PoolArena
	vaults            *state.VaultManager
	feed              *oracle.Feed
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger
	encode            PayloadEncoder

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream needs about one applied request.
// Entity snapshots are copies taken after commit.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
	Outcome  *event.Outcome
	Protocol *state.ProtocolState // nil when untouched
	Pools    []state.CollateralPool
	Vaults   []state.UserVault
	Balances []ledger.AccountBalance // post-commit balances of accounts in Batch
}

func NewDeterministicCore(
	startSequence int64,
	cfg Config,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()

	return &DeterministicCore{
		cfg:               cfg,
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        ledger.NewJournalGenerator(""),
		validator:         ledger.NewInvariantValidator(balanceTracker),
		protocol:          &state.ProtocolState{},
		registry:          &state.PoolRegistry{},
		pools:             state.NewPoolArena(),
		vaults:            state.NewVaultManager(),
		feed:              oracle.NewFeed(),
		idempotency:       NewIdempotencyChecker(cfg.IdempotencyCapacity, dbChecker, metrics),
		sequenceValidator: NewSequenceValidator(metrics),
		metrics:           metrics,
		logger:            zerolog.Nop(),
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// SetLogger replaces the default no-op logger.
func (c *DeterministicCore) SetLogger(l zerolog.Logger) {
	c.logger = l
}

// SetPayloadEncoder installs the wire encoder for envelope payloads.
func (c *DeterministicCore) SetPayloadEncoder(enc PayloadEncoder) {
	c.encode = enc
}

// Result is the answer to one Submission.
type Result struct {
	Outcome *event.Outcome
	Err     error
}

// Submission is a request plus an optional reply channel (buffered, cap 1).
type Submission struct {
	Event  event.Event
	Result chan<- Result
}

// Run drives the core from a single goroutine until ctx is done or in is
// closed. Every ingestion source feeds the same channel, so transitions
// are applied in arrival order.
func (c *DeterministicCore) Run(ctx context.Context, in <-chan Submission) {
	for {
		select {
		case <-ctx.Done():
			return
		case sub, ok := <-in:
			if !ok {
				return
			}
			outcome, err := c.ProcessEvent(sub.Event)
			if sub.Result != nil {
				sub.Result <- Result{Outcome: outcome, Err: err}
			}
		}
	}
}

// ProcessEvent applies one request: dedup, ordering, dispatch on working
// copies, batch validation, commit, hash chain, invariant post-checks and
// emission. A rejected request leaves every piece of state unchanged.
func (c *DeterministicCore) ProcessEvent(evt event.Event) (*event.Outcome, error) {
	out, err := c.apply(evt, true)
	if err != nil {
		return nil, err
	}
	return out.Outcome, nil
}

// ReplayEnvelope re-applies a logged request during recovery. The envelope
// must carry the next sequence, and the recomputed state hash must match
// the logged one. Nothing is emitted.
func (c *DeterministicCore) ReplayEnvelope(env *event.EventEnvelope, evt event.Event) error {
	if env.Sequence != c.sequence {
		return fmt.Errorf("replay sequence %d, core expects %d", env.Sequence, c.sequence)
	}
	out, err := c.apply(evt, false)
	if err != nil {
		return fmt.Errorf("replay seq=%d: %w", env.Sequence, err)
	}
	if out.Envelope.StateHash != env.StateHash {
		return fmt.Errorf("replay seq=%d: state hash mismatch: logged %x, recomputed %x",
			env.Sequence, env.StateHash, out.Envelope.StateHash)
	}
	return nil
}

func (c *DeterministicCore) apply(evt event.Event, emit bool) (*CoreOutput, error) {
	start := time.Now()
	requestType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier). Replayed envelopes are already
	// in the event log, so the lookup would always hit.
	isDuplicate := false
	if emit {
		isDuplicate = c.idempotency.IsDuplicate(requestType, idempotencyKey)
	}

	// Step 2: Source sequence validation
	partition := getPartition(evt)
	if err := c.sequenceValidator.CheckSequence(partition, evt.SourceSequence(), isDuplicate); err != nil {
		c.reject(requestType, err)
		return nil, err
	}

	if isDuplicate {
		err := errcode.New(errcode.CodeDuplicate, "%s %s already applied", requestType, idempotencyKey)
		c.reject(requestType, err)
		return nil, err
	}

	// Step 3: Dispatch on working copies
	meta := evt.Meta()
	if meta.Timestamp.IsZero() {
		err := errcode.New(errcode.CodeInvalidParameter, "request timestamp is required")
		c.reject(requestType, err)
		return nil, err
	}
	t := newTxn(c, meta.Timestamp)
	batchMeta := ledger.BatchMeta{
		EventRef:  idempotencyKey,
		Sequence:  c.sequence,
		Timestamp: meta.Timestamp.UnixMicro(),
	}
	res, err := c.dispatchEvent(t, evt, batchMeta)
	if err != nil {
		c.reject(requestType, err)
		return nil, err
	}

	// Step 4: Validate batch before anything is committed
	if len(res.batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(res.batch); err != nil {
			panic(fmt.Sprintf("FATAL: malformed batch: %v", err))
		}
		if err := c.balanceTracker.CheckBatch(res.batch); err != nil {
			c.reject(requestType, err)
			return nil, err
		}
	}

	var payload []byte
	if c.encode != nil {
		payload, err = c.encode(evt)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	// Step 5: Commit, hash and post-check under the write lock
	c.mu.Lock()
	if len(res.batch.Journals) > 0 {
		if err := c.balanceTracker.ApplyBatch(res.batch); err != nil {
			c.mu.Unlock()
			panic(fmt.Sprintf("FATAL: apply batch: %v", err))
		}
	}
	t.commit()

	hashStart := time.Now()
	digest := c.computeStateDigest(t, res.batch)
	prevHash, stateHash := c.hasher.Advance(c.sequence, digest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	if err := c.postCheckInvariants(t, res.batch); err != nil {
		c.mu.Unlock()
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		PoolID:         evt.PoolID(),
		Timestamp:      meta.Timestamp,
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	outcome := &event.Outcome{
		Type:      res.outcome,
		Sequence:  c.sequence,
		RequestID: idempotencyKey,
		Actor:     meta.Caller,
		Timestamp: meta.Timestamp,
		Data:      res.data,
	}
	if pool := evt.PoolID(); pool != nil {
		outcome.Pool = *pool
	}
	output := CoreOutput{
		Envelope: envelope,
		Batch:    res.batch,
		Outcome:  outcome,
		Balances: c.touchedBalances(res.batch),
	}
	t.snapshotInto(&output)

	c.sequenceValidator.Advance(partition, evt.SourceSequence())
	c.sequence++
	c.mu.Unlock()

	// Step 6: Emit. Persistence blocks (backpressure); projections drop on
	// full and rebuild from the event log.
	if emit {
		if c.persistChan != nil {
			select {
			case c.persistChan <- output:
			default:
				if c.metrics != nil {
					c.metrics.PersistBackpressure.Inc()
				}
				c.persistChan <- output
			}
		}
		if c.projectionChan != nil {
			select {
			case c.projectionChan <- output:
			default:
				if c.metrics != nil {
					c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
				}
			}
		}
	}

	// Step 7: Mark as processed
	c.idempotency.MarkProcessed(requestType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreRequestsApplied.WithLabelValues(requestType).Inc()
		c.metrics.CoreApplyDuration.WithLabelValues(requestType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(output.Envelope.Sequence))
		for _, j := range res.batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
		c.observeProtocol(output)
	}

	return &output, nil
}

func (c *DeterministicCore) reject(requestType string, err error) {
	code := errcode.CodeOf(err)
	if c.metrics != nil {
		c.metrics.CoreRequestsRejected.WithLabelValues(requestType, code.String()).Inc()
	}
	c.logger.Debug().
		Str("request_type", requestType).
		Str("code", code.String()).
		Err(err).
		Msg("request rejected")
}

func (c *DeterministicCore) observeProtocol(out CoreOutput) {
	if out.Protocol != nil {
		c.metrics.TotalDebt.Set(float64(out.Protocol.TotalDebt))
		c.metrics.BadDebt.Set(float64(out.Protocol.BadDebt))
	}
	for _, p := range out.Pools {
		c.metrics.PoolCollateral.WithLabelValues(p.AssetID).Set(float64(p.TotalCollateral))
	}
	if data, ok := out.Outcome.Data.(event.VaultLiquidated); ok {
		c.metrics.Liquidations.WithLabelValues(out.Outcome.Pool, fmt.Sprint(data.BadDebt > 0)).Inc()
		c.metrics.LiquidationSeize.WithLabelValues(out.Outcome.Pool).Add(float64(data.CollateralSeized))
	}
}

// getPartition determines the partition key for source sequence validation
func getPartition(evt event.Event) string {
	if pool := evt.PoolID(); pool != nil {
		return fmt.Sprintf("pool:%s", *pool)
	}
	return "protocol"
}

// outcome is what a handler produces besides the state it changed.
type outcome struct {
	batch   *ledger.Batch
	outcome event.OutcomeType
	data    interface{}
}

func (c *DeterministicCore) dispatchEvent(t *txn, evt event.Event, meta ledger.BatchMeta) (*outcome, error) {
	switch e := evt.(type) {
	case *event.ProtocolInitialize:
		return c.handleProtocolInitialize(t, e, meta)
	case *event.RegistryInitialize:
		return c.handleRegistryInitialize(t, e, meta)
	case *event.PoolRegister:
		return c.handlePoolRegister(t, e, meta)
	case *event.CollateralDeposit:
		return c.handleCollateralDeposit(t, e, meta)
	case *event.CollateralWithdraw:
		return c.handleCollateralWithdraw(t, e, meta)
	case *event.StableMint:
		return c.handleStableMint(t, e, meta)
	case *event.StableRepay:
		return c.handleStableRepay(t, e, meta)
	case *event.VaultLiquidate:
		return c.handleVaultLiquidate(t, e, meta)
	case *event.PriceUpdate:
		return c.handlePriceUpdate(t, e, meta)
	case *event.ProtocolParamsUpdate:
		return c.handleProtocolParamsUpdate(t, e, meta)
	case *event.PoolStatusUpdate:
		return c.handlePoolStatusUpdate(t, e, meta)
	case *event.StableTransfer:
		return c.handleStableTransfer(t, e, meta)
	default:
		return nil, errcode.New(errcode.CodeInvalidParameter, "unknown request type: %T", evt)
	}
}

// GetSequence returns the last applied sequence (0 before the first).
func (c *DeterministicCore) GetSequence() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequence - 1
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasher.GetPrevHash()
}
