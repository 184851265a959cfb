package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for request payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeProtocolInitialize
	EventTypeRegistryInitialize
	EventTypePoolRegister
	EventTypeCollateralDeposit
	EventTypeCollateralWithdraw
	EventTypeStableMint
	EventTypeStableRepay
	EventTypeVaultLiquidate
	EventTypePriceUpdate
	EventTypeProtocolParamsUpdate
	EventTypePoolStatusUpdate
	EventTypeStableTransfer
)

// Unsequenced marks requests that arrive without an upstream sequence
// (gRPC, HTTP). They skip per-partition ordering checks.
const Unsequenced int64 = -1

// EventEnvelope wraps every request in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Pool context (nil for protocol-wide requests)
	PoolID *string

	// Request timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// Wire-encoded request, replayed through the ingestion parser
	Payload []byte

	// SHA-256 of state AFTER applying this request
	StateHash [32]byte

	// Previous request's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all request payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// PoolID returns the pool context (nil for protocol-wide requests)
	PoolID() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// Meta exposes the common request fields
	Meta() *RequestMeta
}

// RequestMeta carries the fields every request shares.
type RequestMeta struct {
	RequestID uuid.UUID
	Caller    uuid.UUID
	Timestamp time.Time
	Sequence  int64
}

func (m *RequestMeta) IdempotencyKey() string {
	return m.RequestID.String()
}

func (m *RequestMeta) SourceSequence() int64 {
	return m.Sequence
}

func (m *RequestMeta) Meta() *RequestMeta {
	return m
}

var eventTypeNames = map[EventType]string{
	EventTypeProtocolInitialize:   "ProtocolInitialize",
	EventTypeRegistryInitialize:   "RegistryInitialize",
	EventTypePoolRegister:         "PoolRegister",
	EventTypeCollateralDeposit:    "CollateralDeposit",
	EventTypeCollateralWithdraw:   "CollateralWithdraw",
	EventTypeStableMint:           "StableMint",
	EventTypeStableRepay:          "StableRepay",
	EventTypeVaultLiquidate:       "VaultLiquidate",
	EventTypePriceUpdate:          "PriceUpdate",
	EventTypeProtocolParamsUpdate: "ProtocolParamsUpdate",
	EventTypePoolStatusUpdate:     "PoolStatusUpdate",
	EventTypeStableTransfer:       "StableTransfer",
}

// eventTypeKinds are the short names used in NATS subjects and HTTP paths.
var eventTypeKinds = map[EventType]string{
	EventTypeProtocolInitialize:   "protocol_initialize",
	EventTypeRegistryInitialize:   "registry_initialize",
	EventTypePoolRegister:         "pool_register",
	EventTypeCollateralDeposit:    "deposit",
	EventTypeCollateralWithdraw:   "withdraw",
	EventTypeStableMint:           "mint",
	EventTypeStableRepay:          "repay",
	EventTypeVaultLiquidate:       "liquidate",
	EventTypePriceUpdate:          "price_update",
	EventTypeProtocolParamsUpdate: "params_update",
	EventTypePoolStatusUpdate:     "pool_status",
	EventTypeStableTransfer:       "stable_transfer",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// Kind returns the routing name of the request type.
func (et EventType) Kind() string {
	return eventTypeKinds[et]
}

// EventTypeFromKind resolves a routing name.
func EventTypeFromKind(kind string) (EventType, bool) {
	for et, k := range eventTypeKinds {
		if k == kind {
			return et, true
		}
	}
	return EventTypeUnknown, false
}

// ParseEventType resolves the name String returns.
func ParseEventType(name string) (EventType, error) {
	for et, n := range eventTypeNames {
		if n == name {
			return et, nil
		}
	}
	return EventTypeUnknown, fmt.Errorf("unknown event type %q", name)
}

// AllEventTypes lists every request type in discriminator order.
func AllEventTypes() []EventType {
	return []EventType{
		EventTypeProtocolInitialize,
		EventTypeRegistryInitialize,
		EventTypePoolRegister,
		EventTypeCollateralDeposit,
		EventTypeCollateralWithdraw,
		EventTypeStableMint,
		EventTypeStableRepay,
		EventTypeVaultLiquidate,
		EventTypePriceUpdate,
		EventTypeProtocolParamsUpdate,
		EventTypePoolStatusUpdate,
		EventTypeStableTransfer,
	}
}

// IsAdmin reports whether the request type is admin-only.
func (et EventType) IsAdmin() bool {
	switch et {
	case EventTypeRegistryInitialize, EventTypePoolRegister, EventTypePriceUpdate,
		EventTypeProtocolParamsUpdate, EventTypePoolStatusUpdate:
		return true
	}
	return false
}
