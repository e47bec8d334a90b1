package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/tradecore/market"
)

var (
	ErrAlreadyTerminal  = errors.New("order already terminal")
	ErrVenueUnavailable = errors.New("venue unavailable")
	ErrAckTimeout       = errors.New("order acknowledgement timed out")
)

// RejectError is an order-level refusal. It never halts a run by itself.
type RejectError struct {
	OrderID uint64
	Reason  string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("order %d rejected: %s", e.OrderID, e.Reason)
}

func Reject(id uint64, format string, args ...any) error {
	return &RejectError{OrderID: id, Reason: fmt.Sprintf(format, args...)}
}

// IsReject reports whether err is (or wraps) a *RejectError.
func IsReject(err error) bool {
	var re *RejectError
	return errors.As(err, &re)
}

// Venue executes orders. Backtests use a simulated venue, production a
// live one; both honour the same contract so strategies never know which.
type Venue interface {
	Submit(ctx context.Context, o Order) (Ack, error)
	Cancel(ctx context.Context, orderID uint64) error
	// Pending drains reports produced since the last call without blocking.
	Pending() []Report
}

// Matcher is implemented by venues that execute against the event feed.
// The engine calls Match for every event before dispatching it.
type Matcher interface {
	Match(ev market.Event)
}

// Notifier is implemented by venues whose reports arrive asynchronously.
// Ready fires at least once after new reports become available.
type Notifier interface {
	Ready() <-chan struct{}
}

type ReportKind uint8

const (
	// ReportFill carries a Fill.
	ReportFill ReportKind = iota + 1
	// ReportStatus moves an order to Status (cancel confirmed, async reject,
	// Unknown after a disconnect, reconciliation result).
	ReportStatus
	// ReportConflict flags an execution the venue could not match to an
	// order it knows.
	ReportConflict
	// ReportVenueDown is fatal: the venue gave up reconnecting.
	ReportVenueDown
)

func (k ReportKind) String() string {
	switch k {
	case ReportFill:
		return "fill"
	case ReportStatus:
		return "status"
	case ReportConflict:
		return "conflict"
	case ReportVenueDown:
		return "venue_down"
	}
	return fmt.Sprintf("report(%d)", uint8(k))
}

// Report is the unit flowing from a venue back to the engine.
type Report struct {
	Kind    ReportKind
	OrderID uint64
	Fill    Fill
	Status  Status
	Reason  string
	Err     error
}

func FillReport(f Fill) Report {
	return Report{Kind: ReportFill, OrderID: f.OrderID, Fill: f}
}

func StatusReport(id uint64, s Status, reason string) Report {
	return Report{Kind: ReportStatus, OrderID: id, Status: s, Reason: reason}
}
