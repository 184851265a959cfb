package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const OutboundStream = "STABLE_LEDGER_EVENTS"

// OutboundPublisher publishes outcome events to NATS for downstream
// consumers, on stable.ledger.events.{outcome_type}[.{asset}].
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// PublishableEvent is an applied request ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64          `json:"sequence"`
	EventType      string         `json:"event_type"`
	IdempotencyKey string         `json:"idempotency_key"`
	Pool           *string        `json:"pool,omitempty"`
	Outcome        *event.Outcome `json:"outcome"`
	StateHash      string         `json:"state_hash"`
	Timestamp      time.Time      `json:"timestamp"`
}

// NewPublishableEvent builds the outbound message for one core output.
func NewPublishableEvent(out core.CoreOutput) PublishableEvent {
	return PublishableEvent{
		Sequence:       out.Envelope.Sequence,
		EventType:      string(out.Outcome.Type),
		IdempotencyKey: out.Envelope.IdempotencyKey,
		Pool:           out.Envelope.PoolID,
		Outcome:        out.Outcome,
		StateHash:      hex.EncodeToString(out.Envelope.StateHash[:]),
		Timestamp:      out.Envelope.Timestamp,
	}
}

// Subject returns the NATS subject the event is published on.
func (e PublishableEvent) Subject() string {
	subject := fmt.Sprintf("stable.ledger.events.%s", e.EventType)
	if e.Pool != nil && *e.Pool != "" {
		subject = fmt.Sprintf("%s.%s", subject, *e.Pool)
	}
	return subject
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    observability.NewLogger("publisher"),
		metrics:   metrics,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: downstream consumers can read the event log.
				op.logger.Warn().Err(err).Int64("seq", evt.Sequence).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// Msg id lets JetStream drop republished outcomes after a restart.
	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(fmt.Sprintf("seq-%d", evt.Sequence)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	cfg := streamConfig(OutboundStream, "stable.ledger.events.>")
	cfg.Duplicates = 10 * time.Minute
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", OutboundStream).Msg("ensured outbound stream")
	return nil
}
