package core

import (
	"sort"

	"StableLedger/internal/errcode"
	"StableLedger/internal/event"
	"StableLedger/internal/observability"
)

// SequenceValidator validates upstream source sequences per partition.
// Not thread-safe: only accessed from the single-threaded core.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         metrics,
	}
}

// CheckSequence checks source sequence ordering without moving the cursor.
// Unsequenced requests (gRPC, HTTP) are accepted as-is. A stale sequence
// is fine for a duplicate, which the caller will then drop.
func (sv *SequenceValidator) CheckSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	if sourceSequence == event.Unsequenced {
		return nil
	}
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		if sv.metrics != nil {
			sv.metrics.RequestOutOfOrder.WithLabelValues(partition).Inc()
		}
		return errcode.New(errcode.CodeOutOfOrder,
			"partition=%s, expected=%d, got=%d", partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		return nil
	}

	if sv.metrics != nil {
		sv.metrics.RequestSequenceGap.WithLabelValues(partition).Inc()
	}
	return errcode.New(errcode.CodeSequenceGap,
		"partition=%s, expected=%d, got=%d", partition, expected, sourceSequence)
}

// Advance moves the partition cursor past sourceSequence. Only committed
// requests advance it, so a rejected one can be resubmitted under the same
// sequence and the event log replays without gaps.
func (sv *SequenceValidator) Advance(partition string, sourceSequence int64) {
	if sourceSequence == event.Unsequenced {
		return
	}
	sv.expectedNextSeq[partition] = sourceSequence + 1
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// SetExpectedSequence initializes expected sequence (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// PartitionState is one partition's next expected sequence.
type PartitionState struct {
	Partition string `json:"partition"`
	NextSeq   int64  `json:"next_seq"`
}

// Partitions returns all partition cursors sorted by name, for snapshots.
func (sv *SequenceValidator) Partitions() []PartitionState {
	out := make([]PartitionState, 0, len(sv.expectedNextSeq))
	for p, n := range sv.expectedNextSeq {
		out = append(out, PartitionState{Partition: p, NextSeq: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Partition < out[j].Partition })
	return out
}
