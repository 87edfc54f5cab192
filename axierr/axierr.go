// package axierr defines the typed error kinds used across the driver
// and supervisor (§7), each wrapping an underlying cause with
// fmt.Errorf's %w the way driver/mjolnir/driver.go wraps its own
// protocol errors.
package axierr

import "fmt"

// Kind identifies which §7 error category an error belongs to.
type Kind int

const (
	KindProtocol Kind = iota
	KindTransport
	KindInvalidPlan
	KindPlotInProgress
	KindCapabilityMismatch
	KindPlannerAssertion
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindTransport:
		return "transport"
	case KindInvalidPlan:
		return "invalid-plan"
	case KindPlotInProgress:
		return "plot-in-progress"
	case KindCapabilityMismatch:
		return "capability-mismatch"
	case KindPlannerAssertion:
		return "planner-assertion"
	default:
		return "unknown"
	}
}

// Error is a typed, wrapped error carrying a §7 Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newErr(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Msg: msg, Err: err}
}

// Protocol wraps a malformed EBB reply or a "!"-prefixed rejection
// (§7 ProtocolError). Fatal to the current plot.
func Protocol(msg string, err error) *Error {
	return newErr(KindProtocol, msg, err)
}

// Transport wraps a serial read/write failure or disconnect (§7
// TransportError). Triggers the reconnect loop.
func Transport(msg string, err error) *Error {
	return newErr(KindTransport, msg, err)
}

// InvalidPlan wraps a Plan deserialization failure or invariant
// violation (§7 InvalidPlan). Nothing is executed.
func InvalidPlan(msg string, err error) *Error {
	return newErr(KindInvalidPlan, msg, err)
}

// PlotInProgress reports that a plot was submitted while one is
// already running (§7 PlotInProgress). State is unchanged.
func PlotInProgress() *Error {
	return newErr(KindPlotInProgress, "a plot is already in progress", nil)
}

// CapabilityMismatch reports a requested feature the connected
// firmware does not support, with no available downgrade (§7
// CapabilityMismatch).
func CapabilityMismatch(msg string) *Error {
	return newErr(KindCapabilityMismatch, msg, nil)
}

// PlannerAssertion wraps a Block invariant violation detected at
// construction time (§7 PlannerAssertion). Indicates a planner bug.
func PlannerAssertion(msg string, err error) *Error {
	return newErr(KindPlannerAssertion, msg, err)
}

// Is reports whether err is (or wraps) an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == k
}
