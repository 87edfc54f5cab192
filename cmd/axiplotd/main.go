// command axiplotd is the HTTP daemon fronting a plotsupervisor.Supervisor:
// it owns the serial connection to an EBB, exposes the §6 HTTP
// endpoints via wire.Handlers, and runs the outer reconnect loop that
// reopens the serial port after a TransportError (§5 "Lifetime").
// Flag parsing and the listener setup follow cmd/cli/main.go's shape;
// the control-channel transport (WebSocket framing) stays an external
// collaborator (§1 Non-goals) behind the wire.Broadcaster interface.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"axiplot.io/axierr"
	"axiplot.io/device"
	"axiplot.io/ebb"
	"axiplot.io/motion"
	"axiplot.io/plotsupervisor"
	"axiplot.io/serialport"
	"axiplot.io/wire"
)

var (
	listenAddr   = flag.String("listen", ":8080", "HTTP listen address")
	serialDev    = flag.String("device", "", "serial device (autodetected if empty)")
	microstep    = flag.Int("microstep", 1, "EBB microstepping mode (1-5)")
	hardware     = flag.String("hardware", "v3", "hardware generation: v3 or brushless")
	penUpPct     = flag.Float64("pen-up", 50, "pen-up height, percent")
	penDownPct   = flag.Float64("pen-down", 60, "pen-down height, percent")
	homeRate     = flag.Int("home-rate", 4000, "HM rate used on cancellation")
	servoTimeout = flag.Int("servo-timeout-usec", 60000000, "SR servo power-off timeout, if supported")
	reconnectMin = flag.Duration("reconnect-min", time.Second, "minimum delay between reconnect attempts")
	reconnectMax = flag.Duration("reconnect-max", 30*time.Second, "maximum delay between reconnect attempts")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	var hw device.Device
	switch *hardware {
	case "v3":
		hw = device.V3(5)
	case "brushless":
		hw = device.Brushless(5)
	default:
		return fmt.Errorf("-hardware must be 'v3' or 'brushless'")
	}

	exec := &reconnectingExecutor{
		openFn: func() (*ebb.Driver, error) { return dial(hw.Hardware.String()) },
		minDelay: *reconnectMin,
		maxDelay: *reconnectMax,
	}

	penUpPos := hw.PenPctToPos(*penUpPct)
	penDownPos := hw.PenPctToPos(*penDownPct)

	broadcaster := &logBroadcaster{}
	sink := wire.Sink{Broadcaster: broadcaster}
	sup := plotsupervisor.New(exec, sink, penUpPos, hw.Hardware.ServoPin(), *homeRate, *microstep)
	sup.Reconnect = exec.reconnect

	exec.connectNow()

	mux := http.NewServeMux()
	wire.Handlers{
		Supervisor:    sup,
		PlanTransform: func(p *motion.Plan) *motion.Plan { return p.WithPenHeights(penUpPos, penDownPos) },
	}.Register(mux)

	log.Printf("axiplotd: listening on %s", *listenAddr)
	return http.ListenAndServe(*listenAddr, mux)
}

func dial(hardwareName string) (*ebb.Driver, error) {
	conn, err := serialport.Open(*serialDev, nil)
	if err != nil {
		return nil, err
	}
	driver := ebb.New(conn)
	if err := driver.EnableMotors(*microstep); err != nil {
		conn.Close()
		return nil, err
	}
	if driver.SupportsSR() {
		on := true
		if err := driver.SetServoTimeout(*servoTimeout, &on); err != nil {
			log.Printf("axiplotd: SR failed: %v", err)
		}
	}
	log.Printf("axiplotd: connected to %s EBB", hardwareName)
	return driver, nil
}

// reconnectingExecutor implements plotsupervisor.Executor over a
// driver reference that the reconnect loop swaps out after a
// TransportError, so the Supervisor itself never has to know the
// connection was ever lost (§5 "Lifetime").
type reconnectingExecutor struct {
	openFn   func() (*ebb.Driver, error)
	minDelay time.Duration
	maxDelay time.Duration

	mu          sync.Mutex
	driver      *ebb.Driver
	reconnecting bool
}

func (e *reconnectingExecutor) current() (*ebb.Driver, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.driver == nil {
		return nil, axierr.Transport("no EBB connected", nil)
	}
	return e.driver, nil
}

func (e *reconnectingExecutor) ExecuteXYMotion(m *motion.XYMotion) error {
	d, err := e.current()
	if err != nil {
		return err
	}
	return d.ExecuteXYMotion(m)
}

func (e *reconnectingExecutor) MovePen(p motion.PenMotion, pin int) error {
	d, err := e.current()
	if err != nil {
		return err
	}
	return d.MovePen(p, pin)
}

func (e *reconnectingExecutor) Home(rate int) error {
	d, err := e.current()
	if err != nil {
		return err
	}
	return d.Home(rate)
}

func (e *reconnectingExecutor) EnableMotors(mode int) error {
	d, err := e.current()
	if err != nil {
		return err
	}
	return d.EnableMotors(mode)
}

func (e *reconnectingExecutor) DisableMotors() error {
	d, err := e.current()
	if err != nil {
		return err
	}
	return d.DisableMotors()
}

func (e *reconnectingExecutor) connectNow() {
	driver, err := e.openFn()
	if err != nil {
		log.Printf("axiplotd: initial connect failed: %v", err)
		e.reconnect()
		return
	}
	e.mu.Lock()
	e.driver = driver
	e.mu.Unlock()
}

// reconnect retries openFn with exponential backoff until it
// succeeds. Only one reconnect attempt runs at a time.
func (e *reconnectingExecutor) reconnect() {
	e.mu.Lock()
	if e.reconnecting {
		e.mu.Unlock()
		return
	}
	e.reconnecting = true
	e.driver = nil
	e.mu.Unlock()

	go func() {
		delay := e.minDelay
		for {
			driver, err := e.openFn()
			if err == nil {
				e.mu.Lock()
				e.driver = driver
				e.reconnecting = false
				e.mu.Unlock()
				return
			}
			log.Printf("axiplotd: reconnect failed: %v, retrying in %s", err, delay)
			time.Sleep(delay)
			delay *= 2
			if delay > e.maxDelay {
				delay = e.maxDelay
			}
		}
	}()
}

// logBroadcaster stands in for the WebSocket/browser-serial transport
// that normally fans wire.Envelope values out to connected clients
// (§1 Non-goals); it just logs them so the daemon is observable on
// its own.
type logBroadcaster struct {
	mu sync.Mutex
}

func (b *logBroadcaster) Broadcast(e wire.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	log.Printf("axiplotd: event %s %s", e.C, string(e.P))
}
