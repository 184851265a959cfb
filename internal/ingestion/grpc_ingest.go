package ingestion

import (
	"context"
	"fmt"

	"StableLedger/internal/core"
	"StableLedger/internal/errcode"
	"StableLedger/internal/event"
	"StableLedger/internal/observability"

	"github.com/facebookgo/clock"
	"github.com/rs/zerolog"
)

// IngestService is the single entry into the core's submission channel for
// both NATS messages and gRPC/HTTP requests. It stamps requests with the
// shell clock, waits for the core's answer and settles NATS messages.
type IngestService struct {
	submitChan chan<- core.Submission
	clk        clock.Clock
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewIngestService(submitChan chan<- core.Submission, clk clock.Clock, metrics *observability.Metrics) *IngestService {
	if clk == nil {
		clk = clock.New()
	}
	return &IngestService{
		submitChan: submitChan,
		clk:        clk,
		metrics:    metrics,
		logger:     observability.NewLogger("ingest"),
	}
}

// Submit parses a wire request of the given kind and applies it.
func (s *IngestService) Submit(ctx context.Context, kind string, body []byte) (*event.Outcome, error) {
	evt, err := ParseRequest(kind, body, s.clk.Now())
	if err != nil {
		return nil, errcode.New(errcode.CodeInvalidParameter, "%v", err)
	}
	return s.SubmitEvent(ctx, evt, "grpc")
}

// SubmitEvent hands a typed request to the core and waits for the result.
func (s *IngestService) SubmitEvent(ctx context.Context, evt event.Event, source string) (*event.Outcome, error) {
	meta := evt.Meta()
	if meta.Timestamp.IsZero() {
		meta.Timestamp = s.clk.Now()
	}
	received := s.clk.Now()

	result := make(chan core.Result, 1)
	select {
	case s.submitChan <- core.Submission{Event: evt, Result: result}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-result:
		if s.metrics != nil {
			s.metrics.IngestToApply.WithLabelValues(source).Observe(s.clk.Now().Sub(received).Seconds())
		}
		return res.Outcome, res.Err
	case <-ctx.Done():
		// The core still applies the request; the caller can retry with the
		// same request id and get Duplicate.
		return nil, ctx.Err()
	}
}

// RunRaw drains raw NATS requests until ctx is done. Parse failures and
// engine rejections are terminal and acked; anything else is nacked for
// redelivery.
func (s *IngestService) RunRaw(ctx context.Context, rawChan <-chan RawEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}
			s.handleRaw(ctx, raw)
		}
	}
}

func (s *IngestService) handleRaw(ctx context.Context, raw RawEvent) {
	evt, err := ParseRawEvent(raw, raw.Kind)
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable request")
		raw.AckFunc()
		return
	}

	outcome, err := s.SubmitEvent(ctx, evt, "nats")
	switch {
	case err == nil:
		s.logger.Debug().
			Str("subject", raw.Subject).
			Int64("seq", outcome.Sequence).
			Str("outcome", string(outcome.Type)).
			Msg("applied")
		raw.AckFunc()
	case errcode.CodeOf(err) != errcode.CodeUnknown:
		s.logger.Info().Err(err).Str("subject", raw.Subject).Str("request_id", evt.IdempotencyKey()).Msg("request rejected")
		raw.AckFunc()
	default:
		s.logger.Error().Err(err).Str("subject", raw.Subject).Msg(fmt.Sprintf("%s not applied, requeueing", evt.EventType()))
		raw.NakFunc()
	}
}
