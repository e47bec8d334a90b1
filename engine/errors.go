package engine

import (
	"errors"
	"fmt"

	"github.com/rustyeddy/tradecore/broker"
)

var (
	ErrNotIdle      = errors.New("engine already ran")
	ErrMissingFeed  = errors.New("engine: feed is required")
	ErrMissingVenue = errors.New("engine: venue is required")
	ErrMissingStrat = errors.New("engine: strategy is required")
	ErrHalted       = errors.New("run halted")
)

// ConflictError is an execution that could not be reconciled with the
// engine's order book: a fill for an order it never placed, a fill on a
// terminal order, or a fill that would overfill. The order, if any, is
// moved to Unknown and the fill is not applied.
type ConflictError struct {
	OrderID uint64       `json:"order_id"`
	Fill    *broker.Fill `json:"fill,omitempty"`
	Reason  string       `json:"reason"`
}

func (e *ConflictError) Error() string {
	if e.Fill != nil {
		return fmt.Sprintf("reconciliation conflict on order %d fill %s: %s", e.OrderID, e.Fill.ID, e.Reason)
	}
	return fmt.Sprintf("reconciliation conflict on order %d: %s", e.OrderID, e.Reason)
}

// HaltError is returned by Run when the engine stopped before the end of
// the feed.
type HaltError struct {
	Reason string
	Err    error
}

func (e *HaltError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrHalted, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrHalted, e.Reason)
}

func (e *HaltError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrHalted, e.Err}
	}
	return []error{ErrHalted}
}
