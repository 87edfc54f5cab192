// package plotsupervisor runs a motion.Plan against an EBB driver one
// motion at a time, reacting to pause/resume/cancel requests arriving
// concurrently from a control channel (§5). It follows the same
// goroutine/channel shape as gui/engraver.go's engraveJob (a worker
// goroutine reporting progress and a terminal error over buffered
// channels, cancelled by closing a quit channel) combined with
// stepper/stepper.go's cooperative select loop for the boundary
// checks, generalized from "per-frame hardware tick" to "per-Motion
// serial round trip".
package plotsupervisor

import (
	"sync"
	"sync/atomic"

	"axiplot.io/axierr"
	"axiplot.io/motion"
)

// State is the supervisor's top-level lifecycle state (§5).
type State int

const (
	StateIdle State = iota
	StatePlotting
	StateCancelling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlotting:
		return "plotting"
	case StateCancelling:
		return "cancelling"
	default:
		return "unknown"
	}
}

// Executor is the subset of ebb.Driver the supervisor drives. Tests
// substitute a fake to exercise the state machine without a
// Simulator.
type Executor interface {
	ExecuteXYMotion(m *motion.XYMotion) error
	MovePen(p motion.PenMotion, pin int) error
	Home(rate int) error
	EnableMotors(mode int) error
	DisableMotors() error
}

// EventSink receives the supervisor's broadcast events (§6 "dev",
// "plan" and the progress/pause/cancelled/finished events named in
// §5). Implementations forward these over the WebSocket/browser
// control channel, which is out of scope here (§1 Non-goals).
type EventSink interface {
	PlanAccepted(plan *motion.Plan)
	Progress(completed, total int)
	Paused()
	Resumed()
	Cancelled()
	Finished(err error)
	DeviceStatus(status string)
}

// Status is a snapshot of the supervisor's state, suitable for
// GET /plot/status (§6).
type Status struct {
	State           State
	Paused          bool
	Completed, Total int
}

// Supervisor coordinates the single serial-writing motion loop
// against concurrent pause/cancel requests (§5). The motion loop
// (run) is the sole writer of the cancellation observation point and
// the sole reader of the request flags; cancelRequested and
// pauseRequested are therefore plain atomic.Bool values rather than
// mutex-guarded fields, per §5's "single-writer pattern on each flag
// avoids locks".
type Supervisor struct {
	executor      Executor
	sink          EventSink
	penUpPos      int
	servoPin      int
	homeRate      int
	microstepMode int

	mu    sync.Mutex
	state State

	cancelRequested atomic.Bool
	pauseRequested  atomic.Bool
	resumeCh        chan struct{}
	completed       atomic.Int64
	total           atomic.Int64

	// Reconnect is invoked after a TransportError, per §7
	// "triggers the reconnect loop". Optional; nil is a no-op.
	Reconnect func()
}

// New constructs a Supervisor. penUpPos is the pen height used for
// the cancel-path pen-up, servoPin selects the hardware's servo pin
// (device.Hardware.ServoPin), homeRate is the rate passed to HM on
// cancellation (§5 S6: "HM,4000"), and microstepMode is the EBB
// microstepping mode passed to EnableMotors on entry to Plotting.
func New(executor Executor, sink EventSink, penUpPos, servoPin, homeRate, microstepMode int) *Supervisor {
	return &Supervisor{
		executor:      executor,
		sink:          sink,
		penUpPos:      penUpPos,
		servoPin:      servoPin,
		homeRate:      homeRate,
		microstepMode: microstepMode,
		resumeCh:      make(chan struct{}),
	}
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	return Status{
		State:     state,
		Paused:    s.pauseRequested.Load(),
		Completed: int(s.completed.Load()),
		Total:     int(s.total.Load()),
	}
}

// Plot starts executing plan, rejecting with axierr.PlotInProgress if
// the supervisor is not Idle (§7, §6 "POST /plot"). Entry to Plotting
// runs PrePlot (§4.3: enable motors, move the pen to the initial
// position of the plan's first pen motion) before the motion loop
// starts; a PrePlot failure leaves the supervisor Idle.
func (s *Supervisor) Plot(plan *motion.Plan) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return axierr.PlotInProgress()
	}
	s.state = StatePlotting
	s.mu.Unlock()

	if err := s.prePlot(plan); err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return err
	}

	s.cancelRequested.Store(false)
	s.pauseRequested.Store(false)
	s.completed.Store(0)
	s.total.Store(int64(len(plan.Motions)))
	s.sink.PlanAccepted(plan)
	go s.run(plan)
	return nil
}

// prePlot enables the motors and, if the plan contains at least one
// pen motion, moves the pen to that first motion's initial position
// (§4.3 "PrePlot").
func (s *Supervisor) prePlot(plan *motion.Plan) error {
	if err := s.executor.EnableMotors(s.microstepMode); err != nil {
		return err
	}
	for _, m := range plan.Motions {
		if m.Kind == motion.KindPen {
			return s.executor.MovePen(motion.PenMotion{InitialPos: m.Pen.InitialPos, FinalPos: m.Pen.InitialPos, Duration: 0}, s.servoPin)
		}
	}
	return nil
}

// Pause requests that the motion loop suspend at the next pen-up
// boundary (§5 suspension point iii).
func (s *Supervisor) Pause() {
	s.pauseRequested.Store(true)
}

// Resume releases a paused motion loop.
func (s *Supervisor) Resume() {
	if s.pauseRequested.CompareAndSwap(true, false) {
		s.mu.Lock()
		close(s.resumeCh)
		s.resumeCh = make(chan struct{})
		s.mu.Unlock()
	}
}

// Cancel requests cooperative cancellation, observed at the next
// motion boundary (§5 "Cancellation semantics").
func (s *Supervisor) Cancel() {
	s.cancelRequested.Store(true)
	// Unblock a paused loop so it can observe the cancel request.
	s.Resume()
}

// run is the single serial-writing motion loop (§5 item 1). It
// executes every motion in plan strictly sequentially, suspending for
// pause only at pen-up boundaries and checking for cancellation after
// every motion boundary.
func (s *Supervisor) run(plan *motion.Plan) {
	total := len(plan.Motions)

	for i, m := range plan.Motions {
		if err := s.executeMotion(m); err != nil {
			s.finishOnError(err)
			return
		}
		s.completed.Store(int64(i + 1))
		s.sink.Progress(i+1, total)

		if m.Kind == motion.KindPen && m.Pen.IsLift() {
			s.awaitResumeIfRequested()
		}
		if s.cancelRequested.Load() {
			s.mu.Lock()
			s.state = StateCancelling
			s.mu.Unlock()
			s.postCancel()
			return
		}
	}
	s.postPlot()
}

func (s *Supervisor) executeMotion(m motion.Motion) error {
	switch m.Kind {
	case motion.KindXY:
		return s.executor.ExecuteXYMotion(m.XY)
	case motion.KindPen:
		return s.executor.MovePen(*m.Pen, s.servoPin)
	default:
		return nil
	}
}

// awaitResumeIfRequested is suspension point (iii): it blocks until
// Resume (or Cancel, which also resumes) is called, but only when a
// pause was requested.
func (s *Supervisor) awaitResumeIfRequested() {
	if !s.pauseRequested.Load() {
		return
	}
	s.mu.Lock()
	ch := s.resumeCh
	s.mu.Unlock()
	s.sink.Paused()
	<-ch
	if !s.cancelRequested.Load() {
		s.sink.Resumed()
	}
}

// ensurePenUp issues an unconditional safety pen-up to the penUpPos
// given to New, independent of the plan's own last
// PenMotion height (§9 open question ii: the final pen-up position is
// the supervisor's responsibility, not the planner's).
func (s *Supervisor) ensurePenUp() {
	s.executor.MovePen(motion.PenMotion{InitialPos: s.penUpPos, FinalPos: s.penUpPos, Duration: 0}, s.servoPin)
}

// postCancel runs the cancel-immune pen-up/home sequence (§5
// "Cancellation semantics") and returns the supervisor to Idle with
// motors disabled (§4.3 exit invariant).
func (s *Supervisor) postCancel() {
	s.ensurePenUp()
	s.executor.Home(s.homeRate)
	s.executor.DisableMotors()
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	s.sink.Cancelled()
}

// postPlot disables the motors after the final pen-up, per the §4.3
// exit invariant, and returns the supervisor to Idle.
func (s *Supervisor) postPlot() {
	s.ensurePenUp()
	s.executor.DisableMotors()
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	s.sink.Finished(nil)
}

// finishOnError handles a ProtocolError or TransportError raised
// mid-motion (§7): the current plot is fatally aborted, the pen is
// lifted and the motors disabled on a best-effort basis (ignoring
// further errors, since the transport may already be gone), the
// supervisor returns to Idle and emits cancelled, and a
// TransportError additionally triggers the reconnect loop.
func (s *Supervisor) finishOnError(err error) {
	s.ensurePenUp()
	s.executor.DisableMotors()
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	s.sink.Cancelled()
	if axierr.Is(err, axierr.KindTransport) && s.Reconnect != nil {
		s.Reconnect()
	}
}
