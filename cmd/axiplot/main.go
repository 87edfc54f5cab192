// command axiplot sends a single serialised Plan to an EBB-controlled
// pen plotter over a local serial connection. It mirrors
// cmd/cli/main.go's shape: flag.Parse, a run() error function, and a
// Ctrl-C handler that cancels the in-progress job cooperatively before
// exiting.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"axiplot.io/device"
	"axiplot.io/ebb"
	"axiplot.io/motion"
	"axiplot.io/plotsupervisor"
	"axiplot.io/serialport"
)

var (
	serialDev    = flag.String("device", "", "serial device (autodetected if empty)")
	planPath     = flag.String("plan", "", "path to a serialised Plan (- for stdin)")
	microstep    = flag.Int("microstep", 1, "EBB microstepping mode (1-5)")
	hardware     = flag.String("hardware", "v3", "hardware generation: v3 or brushless")
	penUpPct     = flag.Float64("pen-up", 50, "pen-up height, percent")
	penDownPct   = flag.Float64("pen-down", 60, "pen-down height, percent")
	homeRate     = flag.Int("home-rate", 4000, "HM rate used on cancellation")
	servoTimeout = flag.Int("servo-timeout-usec", 60000000, "SR servo power-off timeout, if supported")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if *planPath == "" {
		return fmt.Errorf("specify -plan")
	}
	plan, err := readPlan(*planPath)
	if err != nil {
		return fmt.Errorf("reading plan: %w", err)
	}

	var dev device.Device
	switch *hardware {
	case "v3":
		dev = device.V3(5)
	case "brushless":
		dev = device.Brushless(5)
	default:
		return fmt.Errorf("-hardware must be 'v3' or 'brushless'")
	}

	conn, err := serialport.Open(*serialDev, nil)
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}
	defer conn.Close()

	driver := ebb.New(conn)
	if driver.SupportsSR() {
		on := true
		if err := driver.SetServoTimeout(*servoTimeout, &on); err != nil {
			log.Printf("axiplot: SR failed: %v", err)
		}
	}

	penUpPos := dev.PenPctToPos(*penUpPct)
	penDownPos := dev.PenPctToPos(*penDownPct)
	plan = plan.WithPenHeights(penUpPos, penDownPos)

	sink := &logSink{done: make(chan struct{})}
	sup := plotsupervisor.New(driver, sink, penUpPos, dev.Hardware.ServoPin(), *homeRate, *microstep)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		signal.Reset(os.Interrupt)
		log.Printf("axiplot: cancelling")
		sup.Cancel()
	}()

	if err := sup.Plot(plan); err != nil {
		return err
	}
	<-sink.done
	return sink.err
}

func readPlan(path string) (*motion.Plan, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return motion.Deserialize(data)
}

// logSink implements plotsupervisor.EventSink by logging to stderr
// and signalling completion on done.
type logSink struct {
	done chan struct{}
	err  error
}

func (s *logSink) PlanAccepted(plan *motion.Plan) {
	log.Printf("axiplot: plan accepted, %d motions", len(plan.Motions))
}

func (s *logSink) Progress(completed, total int) {
	log.Printf("axiplot: progress %d/%d", completed, total)
}

func (s *logSink) Paused() {
	log.Printf("axiplot: paused")
}

func (s *logSink) Resumed() {
	log.Printf("axiplot: resumed")
}

func (s *logSink) Cancelled() {
	log.Printf("axiplot: cancelled")
	close(s.done)
}

func (s *logSink) Finished(err error) {
	s.err = err
	log.Printf("axiplot: finished, err=%v", err)
	close(s.done)
}

func (s *logSink) DeviceStatus(status string) {
	log.Printf("axiplot: device status: %s", status)
}
