package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/observability"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	retryInitialInterval = 100 * time.Millisecond
	retryMaxInterval     = 30 * time.Second
)

// PersistenceWorker appends applied ledger transitions to the event log.
// The core blocks when the persist channel is full, so a slow database
// throttles request intake rather than losing committed vault, pool or
// balance changes.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	// onFlushed receives every output once its batch is committed.
	onFlushed func([]core.CoreOutput)
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *PersistenceWorker {
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       observability.NewLogger("persistence"),
	}
}

// OnFlushed registers a callback run after each committed batch. Outcome
// publishing hangs off it so no mint or liquidation is announced before it
// is durable.
func (pw *PersistenceWorker) OnFlushed(fn func([]core.CoreOutput)) {
	pw.onFlushed = fn
}

// Run groups outputs into one transaction per batchSize outputs or per
// flushTimeout, whichever comes first. It returns nil once the input
// channel is closed and drained, or ctx.Err() after a final flush of what
// the core had already emitted.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	pending := make([]core.CoreOutput, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			pw.finalFlush(pw.drain(pending))
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				pw.finalFlush(pending)
				return nil
			}
			pending = append(pending, output)
			if len(pending) < pw.batchSize {
				continue
			}
			if err := pw.flushWithRetry(ctx, pending); err != nil {
				pw.logger.Error().Err(err).Int("events", len(pending)).Msg("full batch not persisted")
			}
			pending = pending[:0]
			timer.Reset(pw.flushTimeout)

		case <-timer.C:
			if len(pending) > 0 {
				if err := pw.flushWithRetry(ctx, pending); err != nil {
					pw.logger.Error().Err(err).Int("events", len(pending)).Msg("timed batch not persisted")
				}
				pending = pending[:0]
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// drain appends whatever is already buffered on the input channel.
func (pw *PersistenceWorker) drain(pending []core.CoreOutput) []core.CoreOutput {
	for {
		select {
		case output, ok := <-pw.inputChan:
			if !ok {
				return pending
			}
			pending = append(pending, output)
		default:
			return pending
		}
	}
}

func (pw *PersistenceWorker) finalFlush(pending []core.CoreOutput) {
	if len(pending) == 0 {
		return
	}
	if err := pw.flush(context.Background(), pending); err != nil {
		pw.logger.Error().Err(err).Int("events", len(pending)).Msg("final flush failed")
	}
}

// flushWithRetry retries transient database failures with capped
// exponential backoff and no deadline. Rows that cannot be encoded fail
// at once. On cancellation one last attempt runs detached from ctx.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch []core.CoreOutput) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxInterval = retryMaxInterval
	policy.MaxElapsedTime = 0

	attempts := 0
	err := backoff.RetryNotify(
		func() error {
			attempts++
			return pw.flush(ctx, batch)
		},
		backoff.WithContext(policy, ctx),
		func(err error, wait time.Duration) {
			pw.logger.Warn().Err(err).
				Int("attempt", attempts).
				Dur("backoff", wait).
				Int("events", len(batch)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
		},
	)
	if err == nil {
		if attempts > 1 {
			pw.logger.Info().Int("attempts", attempts).Msg("persistence flush recovered")
		}
		return nil
	}
	if ctx.Err() != nil {
		if ferr := pw.flush(context.Background(), batch); ferr != nil {
			return fmt.Errorf("flush on shutdown: %w", ferr)
		}
		return nil
	}
	return err
}

// flush writes one batch of event rows and their journals atomically.
func (pw *PersistenceWorker) flush(ctx context.Context, batch []core.CoreOutput) error {
	start := time.Now()

	events := make([]EventRow, 0, len(batch))
	var journals []JournalRow
	for _, out := range batch {
		row, js, err := RowsFromOutput(out)
		if err != nil {
			pw.countError("encode")
			return backoff.Permanent(err)
		}
		events = append(events, row)
		journals = append(journals, js...)
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, events); err != nil {
		pw.countError("write_events")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	pw.observeFlush(start, events, len(journals))
	if pw.onFlushed != nil {
		done := make([]core.CoreOutput, len(batch))
		copy(done, batch)
		pw.onFlushed(done)
	}
	return nil
}

func (pw *PersistenceWorker) observeFlush(start time.Time, events []EventRow, journals int) {
	if pw.metrics == nil {
		return
	}
	pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
	pw.metrics.PersistBatchSize.Observe(float64(len(events)))
	pw.metrics.PersistEventsWritten.Add(float64(len(events)))
	pw.metrics.PersistJournalsWritten.Add(float64(journals))
	pw.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
	for _, e := range events {
		pw.metrics.ApplyToPersist.Observe(time.Since(e.Timestamp).Seconds())
	}
}

func (pw *PersistenceWorker) countError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
