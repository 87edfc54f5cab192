// package ebb implements the EiBotBoard (EBB) serial protocol driver
// (§4.2): command framing over a line-oriented serial channel,
// firmware-version capability gating, sub-step error accumulation and
// the LM/XM motion execution paths.
//
// The command/response exchange follows the same shape as
// driver/mjolnir/driver.go's wr/r/expect closures — write once, then
// consume exactly the reply the command promises — but EBB's ASCII
// line protocol (CR-terminated requests, CR/LF responses, mutation
// commands replying "OK", queries replying one comma-separated line,
// errors beginning with "!") replaces MarkingWay's binary framing.
// Because the plot supervisor is already the single serial writer
// (§5), the driver itself stays a simple blocking request/response
// pair rather than the Design Note's full reader-task/FIFO sketch;
// that sketch is the shape to reach for if a future caller needs
// concurrent submission.
package ebb

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"axiplot.io/axierr"
	"axiplot.io/motion"
	"axiplot.io/vmath"
)

// XMSampleInterval is the fixed time step at which XYMotions are
// sampled into XM commands on firmware that lacks LM support (§4.2).
const XMSampleInterval = 15 * time.Millisecond

// firmwareVersion is a parsed major.minor.patch EBB firmware version.
type firmwareVersion struct {
	Major, Minor, Patch int
}

func (v firmwareVersion) atLeast(major, minor, patch int) bool {
	if v.Major != major {
		return v.Major > major
	}
	if v.Minor != minor {
		return v.Minor > minor
	}
	return v.Patch >= patch
}

// Driver is a connection to one EBB over a serial transport. It is
// not safe for concurrent use: the plot supervisor is the single
// writer of the serial port (§5).
type Driver struct {
	mu sync.Mutex
	rw io.ReadWriteCloser
	r  *bufio.Reader
	w  *bufio.Writer

	versionKnown bool
	version      firmwareVersion

	stepMultiplier int
	errX, errY     float64
}

// New wraps an already-open serial connection. Callers use
// serialport.Open to obtain rw.
func New(rw io.ReadWriteCloser) *Driver {
	return &Driver{
		rw:             rw,
		r:              bufio.NewReader(rw),
		w:              bufio.NewWriter(rw),
		stepMultiplier: 1,
	}
}

func (d *Driver) Close() error {
	return d.rw.Close()
}

type responseShape int

const (
	// respLine expects exactly one reply line (EBB query commands).
	respLine responseShape = iota
	// respOK expects zero or more lines followed by a literal "OK"
	// (EBB mutation commands).
	respOK
)

// do writes cmd (CR-terminated) and consumes its reply per shape,
// returning the collected lines. A line beginning with "!" rejects
// the command with a ProtocolError; a read failure is a
// TransportError.
func (d *Driver) do(cmd string, shape responseShape) ([]string, error) {
	if _, err := d.w.WriteString(cmd + "\r"); err != nil {
		return nil, axierr.Transport("write "+cmd, err)
	}
	if err := d.w.Flush(); err != nil {
		return nil, axierr.Transport("flush "+cmd, err)
	}
	switch shape {
	case respLine:
		line, err := d.readLine()
		if err != nil {
			return nil, axierr.Transport("read reply to "+cmd, err)
		}
		if strings.HasPrefix(line, "!") {
			return nil, axierr.Protocol(fmt.Sprintf("command %q rejected", cmd), fmt.Errorf("%s", line))
		}
		return []string{line}, nil
	case respOK:
		var lines []string
		for {
			line, err := d.readLine()
			if err != nil {
				return nil, axierr.Transport("read reply to "+cmd, err)
			}
			if strings.HasPrefix(line, "!") {
				return nil, axierr.Protocol(fmt.Sprintf("command %q rejected", cmd), fmt.Errorf("%s", line))
			}
			if line == "OK" {
				return lines, nil
			}
			lines = append(lines, line)
		}
	default:
		return nil, fmt.Errorf("ebb: invalid response shape %d", shape)
	}
}

func (d *Driver) readLine() (string, error) {
	line, err := d.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Version queries and caches the firmware version (§4.2: "On first
// use, query version via V and parse major.minor.patch from the last
// token").
func (d *Driver) Version() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.version_()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch), nil
}

func (d *Driver) version_() (firmwareVersion, error) {
	if d.versionKnown {
		return d.version, nil
	}
	lines, err := d.do("V", respLine)
	if err != nil {
		return firmwareVersion{}, err
	}
	fields := strings.Fields(lines[0])
	if len(fields) == 0 {
		return firmwareVersion{}, axierr.Protocol("V: empty reply", nil)
	}
	parts := strings.Split(fields[len(fields)-1], ".")
	if len(parts) != 3 {
		return firmwareVersion{}, axierr.Protocol("V: malformed version "+fields[len(fields)-1], nil)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return firmwareVersion{}, axierr.Protocol("V: non-numeric version component "+p, err)
		}
		nums[i] = n
	}
	d.version = firmwareVersion{Major: nums[0], Minor: nums[1], Patch: nums[2]}
	d.versionKnown = true
	return d.version, nil
}

// SupportsLM reports whether the connected firmware implements the
// low-level accelerated move command (§4.2: >= 2.5.3).
func (d *Driver) SupportsLM() bool {
	v, err := d.version_()
	if err != nil {
		return false
	}
	return v.atLeast(2, 5, 3)
}

// SupportsSR reports whether the connected firmware implements the
// servo power-off timeout command (§4.2: >= 2.6.0).
func (d *Driver) SupportsSR() bool {
	v, err := d.version_()
	if err != nil {
		return false
	}
	return v.atLeast(2, 6, 0)
}

// EnableMotors sends EM,m,m, enabling the steppers at microstepping
// mode m (1..5) and recording the step multiplier 2^(5-m) used to
// rescale planner step units to device microsteps at the transport
// boundary (§4.2 "Microstepping math").
func (d *Driver) EnableMotors(mode int) error {
	if mode < 1 || mode > 5 {
		return fmt.Errorf("ebb: invalid microstep mode %d", mode)
	}
	if _, err := d.do(fmt.Sprintf("EM,%d,%d", mode, mode), respOK); err != nil {
		return err
	}
	d.stepMultiplier = 1 << uint(5-mode)
	return nil
}

// DisableMotors sends EM,0,0.
func (d *Driver) DisableMotors() error {
	_, err := d.do("EM,0,0", respOK)
	return err
}

// SetServoTimeout sends SR,usec[,on], if the firmware supports it
// (§4.2, §7 CapabilityMismatch).
func (d *Driver) SetServoTimeout(usec int, on *bool) error {
	if !d.SupportsSR() {
		return axierr.CapabilityMismatch("SR requires firmware >= 2.6.0")
	}
	cmd := fmt.Sprintf("SR,%d", usec)
	if on != nil {
		v := 0
		if *on {
			v = 1
		}
		cmd += fmt.Sprintf(",%d", v)
	}
	_, err := d.do(cmd, respOK)
	return err
}

// MovePen issues an S2 command for pen motion p, on the hardware's
// servo pin. Rate is in servo counts per 24ms tick (§4.2 "Pen
// motion").
func (d *Driver) MovePen(p motion.PenMotion, pin int) error {
	durationMs := p.Duration * 1000
	delta := math.Abs(float64(p.FinalPos - p.InitialPos))
	rate := 0
	if durationMs > 0 {
		rate = int(math.Round(delta * 24 / durationMs))
	}
	cmd := fmt.Sprintf("S2,%d,%d,%d,%d", p.FinalPos, pin, rate, int(math.Round(durationMs)))
	_, err := d.do(cmd, respOK)
	return err
}

// Home sends HM,rate.
func (d *Driver) Home(rate int) error {
	_, err := d.do(fmt.Sprintf("HM,%d", rate), respOK)
	return err
}

// MotionStatus is the parsed reply to QM: global motor-running flag,
// current-command status, per-motor status and FIFO depth.
type MotionStatus struct {
	Global, Cmd, M1, M2, Fifo string
}

// Idle reports whether the EBB has finished executing all queued
// motion (§4.2 "Idle wait").
func (s MotionStatus) Idle() bool {
	return s.Cmd == "0" && s.Fifo == "0"
}

func (d *Driver) QueryMotion() (MotionStatus, error) {
	lines, err := d.do("QM", respLine)
	if err != nil {
		return MotionStatus{}, err
	}
	fields := strings.Split(lines[0], ",")
	if len(fields) != 5 {
		return MotionStatus{}, axierr.Protocol("QM: unexpected field count", fmt.Errorf("%q", lines[0]))
	}
	return MotionStatus{Global: fields[0], Cmd: fields[1], M1: fields[2], M2: fields[3], Fifo: fields[4]}, nil
}

// WaitIdle polls QM at the given interval until the EBB reports no
// command and no FIFO entries outstanding (§4.2 "Idle wait").
func (d *Driver) WaitIdle(poll time.Duration) error {
	for {
		st, err := d.QueryMotion()
		if err != nil {
			return err
		}
		if st.Idle() {
			return nil
		}
		time.Sleep(poll)
	}
}

// quantizeSteps applies the sub-step error accumulator (§4.2): dx, dy
// are the ideal displacement in device microsteps for one move. It
// returns the integer steps to command and whether both are zero
// (meaning the move should be skipped entirely), while updating the
// carried fractional remainder so no microstep is ever lost over an
// arbitrarily long plan.
func (d *Driver) quantizeSteps(dx, dy float64) (stepsX, stepsY int, skip bool) {
	fx := dx + d.errX
	fy := dy + d.errY
	sx := math.Floor(fx)
	sy := math.Floor(fy)
	d.errX = fx - sx
	d.errY = fy - sy
	stepsX, stepsY = int(sx), int(sy)
	return stepsX, stepsY, stepsX == 0 && stepsY == 0
}

// ExecuteXYMotion executes every block of m, using LM if the firmware
// supports it and falling back to time-sampled XM otherwise (§4.2).
func (d *Driver) ExecuteXYMotion(m *motion.XYMotion) error {
	if d.SupportsLM() {
		for _, b := range m.Blocks() {
			if err := d.executeBlockLM(b); err != nil {
				return err
			}
		}
		return nil
	}
	return d.executeMotionXM(m)
}

// axisRateScale converts a step rate (steps/sec) to the EBB's
// fixed-point 25kHz-ISR rate encoding (§4.2 "LM rate encoding").
const axisRateScale = (1 << 31) / 25000.0

func axisRate(stepsPerSec float64) int {
	return int(math.Round(stepsPerSec * axisRateScale))
}

func moveTimeSeconds(steps int, vInitial, vFinal float64) float64 {
	if steps == 0 || vInitial+vFinal == 0 {
		return 0
	}
	return 2 * math.Abs(float64(steps)) / (vInitial + vFinal)
}

func deltaRate(initRate, finalRate int, moveTime float64, steps int) int {
	if steps == 0 || moveTime == 0 {
		return 0
	}
	return int(math.Round(float64(finalRate-initRate) / (moveTime * 25000)))
}

// executeBlockLM issues one LM command for Block b. The EBB's two
// motors drive the CoreXY-style combinations axis1=X+Y, axis2=X-Y
// (§4.2 "LM rate encoding"): per-axis step counts and rates are
// derived from the block's quantized X/Y displacement and its
// initial/final velocity decomposed along the block's direction.
func (d *Driver) executeBlockLM(b motion.Block) error {
	dx := (b.P2.X - b.P1.X) * float64(d.stepMultiplier)
	dy := (b.P2.Y - b.P1.Y) * float64(d.stepMultiplier)
	stepsX, stepsY, skip := d.quantizeSteps(dx, dy)
	if skip {
		return nil
	}

	dir := vmath.Normalize(vmath.Sub(b.P2, b.P1))
	vi, vf := b.VInitial, b.VFinal()
	vxi, vyi := vi*dir.X, vi*dir.Y
	vxf, vyf := vf*dir.X, vf*dir.Y

	r1i, r2i := math.Abs(vxi+vyi), math.Abs(vxi-vyi)
	r1f, r2f := math.Abs(vxf+vyf), math.Abs(vxf-vyf)

	steps1 := stepsX + stepsY
	steps2 := stepsX - stepsY

	initRate1, initRate2 := axisRate(r1i), axisRate(r2i)
	finalRate1, finalRate2 := axisRate(r1f), axisRate(r2f)

	mt1 := moveTimeSeconds(steps1, r1i, r1f)
	mt2 := moveTimeSeconds(steps2, r2i, r2f)

	dR1 := deltaRate(initRate1, finalRate1, mt1, steps1)
	dR2 := deltaRate(initRate2, finalRate2, mt2, steps2)

	cmd := fmt.Sprintf("LM,%d,%d,%d,%d,%d,%d", initRate1, steps1, dR1, initRate2, steps2, dR2)
	_, err := d.do(cmd, respOK)
	return err
}

// executeMotionXM samples m at XMSampleInterval and issues one XM per
// interval, using the same sub-step accumulator as the LM path so
// that the fallback firmware path carries the identical zero-drift
// guarantee (§4.2).
func (d *Driver) executeMotionXM(m *motion.XYMotion) error {
	total := m.Duration()
	dt := XMSampleInterval.Seconds()
	t := 0.0
	prev := m.Instant(0).P
	for t < total {
		next := t + dt
		if next > total {
			next = total
		}
		cur := m.Instant(next).P
		dx := (cur.X - prev.X) * float64(d.stepMultiplier)
		dy := (cur.Y - prev.Y) * float64(d.stepMultiplier)
		stepsX, stepsY, skip := d.quantizeSteps(dx, dy)
		durMs := int(math.Round((next - t) * 1000))
		if !skip {
			cmd := fmt.Sprintf("XM,%d,%d,%d", durMs, stepsX, stepsY)
			if _, err := d.do(cmd, respOK); err != nil {
				return err
			}
		}
		prev = cur
		t = next
	}
	return nil
}
