package ingestion_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/errcode"
	"StableLedger/internal/event"
	"StableLedger/internal/ingestion"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
)

func startCore(t *testing.T) (chan core.Submission, *clock.Mock) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c := core.NewDeterministicCore(1, core.DefaultConfig(), nil, nil, nil, nil)
	c.SetPayloadEncoder(ingestion.EncodeRequest)
	submit := make(chan core.Submission, 16)
	go c.Run(ctx, submit)

	clk := clock.NewMock()
	clk.Add(1_700_000_000 * time.Second)
	return submit, clk
}

func initBody(requestID, admin uuid.UUID) []byte {
	return []byte(fmt.Sprintf(`{"request_id":%q,"caller":%q,"stable_asset":"USDS","debt_ceiling":1000}`, requestID, admin))
}

func TestIngestService_SubmitStampsClock(t *testing.T) {
	submit, clk := startCore(t)
	svc := ingestion.NewIngestService(submit, clk, nil)

	outcome, err := svc.Submit(context.Background(), "protocol_initialize", initBody(uuid.New(), uuid.New()))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.Type != event.OutcomeProtocolInitialized {
		t.Errorf("outcome: got %s", outcome.Type)
	}
	if !outcome.Timestamp.Equal(clk.Now()) {
		t.Errorf("timestamp: got %v, want %v", outcome.Timestamp, clk.Now())
	}
	if outcome.Sequence != 1 {
		t.Errorf("sequence: got %d, want 1", outcome.Sequence)
	}
}

func TestIngestService_SubmitErrors(t *testing.T) {
	submit, clk := startCore(t)
	svc := ingestion.NewIngestService(submit, clk, nil)

	if _, err := svc.Submit(context.Background(), "protocol_initialize", []byte(`{`)); !errors.Is(err, errcode.ErrInvalidParameter) {
		t.Errorf("malformed body: got %v", err)
	}

	id, admin := uuid.New(), uuid.New()
	if _, err := svc.Submit(context.Background(), "protocol_initialize", initBody(id, admin)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Submit(context.Background(), "protocol_initialize", initBody(id, admin)); !errors.Is(err, errcode.ErrDuplicate) {
		t.Errorf("resubmission: got %v", err)
	}
}

func TestIngestService_RunRawSettlesMessages(t *testing.T) {
	submit, clk := startCore(t)
	svc := ingestion.NewIngestService(submit, clk, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rawChan := make(chan ingestion.RawEvent)
	go svc.RunRaw(ctx, rawChan)

	type settled struct {
		name string
		ack  bool
	}
	results := make(chan settled, 3)
	send := func(name, kind string, data []byte) {
		rawChan <- ingestion.RawEvent{
			Subject:   "stable.requests." + kind + ".test",
			Kind:      kind,
			Data:      data,
			Timestamp: clk.Now(),
			AckFunc:   func() { results <- settled{name, true} },
			NakFunc:   func() { results <- settled{name, false} },
		}
		got := <-results
		if !got.ack {
			t.Errorf("%s: expected ack, got nak", name)
		}
	}

	send("applied", "protocol_initialize", initBody(uuid.New(), uuid.New()))
	send("garbage", "protocol_initialize", []byte(`not json`))
	send("rejected", "protocol_initialize", initBody(uuid.New(), uuid.New())) // AlreadyInitialized
}
