package ingestion

import (
	"context"
	"fmt"
	"time"

	"StableLedger/internal/event"
	"StableLedger/internal/observability"

	"github.com/facebookgo/clock"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	RequestStream = "STABLE_REQUESTS"
	PriceStream   = "STABLE_PRICES"
)

// NATSSubscriber subscribes to JetStream subjects and hands raw requests to
// the shell, which parses them and submits them to the core.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	clk       clock.Clock
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// RawEvent is an undecoded request from NATS.
type RawEvent struct {
	Subject   string
	Kind      string // request routing name, see event.EventType.Kind
	Data      []byte
	Timestamp time.Time // receive time on the shell clock
	AckFunc   func()    // ACK after the core answered
	NakFunc   func()    // NAK for redelivery
}

// SubjectConfig maps a NATS subject to a request kind.
type SubjectConfig struct {
	Subject      string
	Kind         string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns one consumer per request kind on
// stable.requests.<kind>.>, plus the oracle feed on stable.prices.>.
func DefaultSubjects() []SubjectConfig {
	var subjects []SubjectConfig
	for _, et := range event.AllEventTypes() {
		subjects = append(subjects, SubjectConfig{
			Subject:      fmt.Sprintf("stable.requests.%s.>", et.Kind()),
			Kind:         et.Kind(),
			ConsumerName: "ledger-" + et.Kind(),
			StreamName:   RequestStream,
		})
	}
	subjects = append(subjects, SubjectConfig{
		Subject:      "stable.prices.>",
		Kind:         event.EventTypePriceUpdate.Kind(),
		ConsumerName: "ledger-prices",
		StreamName:   PriceStream,
	})
	return subjects
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, clk clock.Clock, metrics *observability.Metrics) *NATSSubscriber {
	if clk == nil {
		clk = clock.New()
	}
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		clk:       clk,
		metrics:   metrics,
		logger:    observability.NewLogger("nats-subscriber"),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		cfg := cfg
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			now := ns.clk.Now()
			if md, err := msg.Metadata(); err == nil && ns.metrics != nil {
				ns.metrics.NATSPullLatency.WithLabelValues(cfg.StreamName).Observe(now.Sub(md.Timestamp).Seconds())
			}
			raw := RawEvent{
				Subject:   msg.Subject(),
				Kind:      cfg.Kind,
				Data:      msg.Data(),
				Timestamp: now,
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

func streamConfig(name string, subjects ...string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
}

// EnsureStreams creates the inbound streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		streamConfig(RequestStream, "stable.requests.>"),
		streamConfig(PriceStream, "stable.prices.>"),
	}
	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("stableledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
