package engine

import (
	"fmt"
	"time"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/portfolio"
)

type RecordKind uint8

const (
	RecordEvent RecordKind = iota + 1
	RecordOrder
	RecordFill
	RecordSnapshot
	RecordConflict
	RecordHalted
	RecordCompleted
	RecordStarted
)

var recordNames = map[RecordKind]string{
	RecordEvent:     "event",
	RecordOrder:     "order",
	RecordFill:      "fill",
	RecordSnapshot:  "snapshot",
	RecordConflict:  "conflict",
	RecordHalted:    "halted",
	RecordCompleted: "completed",
	RecordStarted:   "started",
}

func (k RecordKind) String() string {
	if n, ok := recordNames[k]; ok {
		return n
	}
	return fmt.Sprintf("record(%d)", uint8(k))
}

func (k RecordKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *RecordKind) UnmarshalText(b []byte) error {
	for kind, n := range recordNames {
		if n == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown record kind %q", b)
}

// Record is one entry of the engine's read-only output stream. Exactly one
// of the pointer fields is set, matching Kind; Started, Halted and
// Completed carry the final snapshot or nothing.
type Record struct {
	Kind     RecordKind          `json:"kind"`
	RunID    string              `json:"run_id"`
	Seq      uint64              `json:"seq"`
	Time     time.Time           `json:"time"`
	Event    *market.Event       `json:"event,omitempty"`
	Order    *broker.Order       `json:"order,omitempty"`
	Fill     *broker.Fill        `json:"fill,omitempty"`
	Snapshot *portfolio.Snapshot `json:"snapshot,omitempty"`
	Conflict *ConflictError      `json:"conflict,omitempty"`
	Strategy string              `json:"strategy,omitempty"`
	Reason   string              `json:"reason,omitempty"`
}

// Observer receives records synchronously on the engine goroutine. It
// must not block.
type Observer interface {
	Observe(r Record)
}

type ObserverFunc func(Record)

func (f ObserverFunc) Observe(r Record) { f(r) }

// Recorder keeps every record in memory.
type Recorder struct {
	Records []Record
}

func (r *Recorder) Observe(rec Record) { r.Records = append(r.Records, rec) }

// Kinds lists the record kinds seen, in order.
func (r *Recorder) Kinds() []RecordKind {
	out := make([]RecordKind, len(r.Records))
	for i, rec := range r.Records {
		out[i] = rec.Kind
	}
	return out
}
