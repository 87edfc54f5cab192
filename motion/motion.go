// package motion implements the time-parameterised motion primitives
// that make up a Plan: constant-acceleration Blocks grouped into
// XYMotions, and single-move PenMotions. Motion is a tagged sum of the
// two — not an interface hierarchy — so the EBB driver can switch on
// Kind at its boundary (Design Note §9).
package motion

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"axiplot.io/vmath"
)

// velocityEpsilon bounds the numerical noise tolerated when comparing
// velocities across Block boundaries and at motion endpoints.
const velocityEpsilon = 1e-6

// Block is a single constant-acceleration segment of travel between
// two points.
type Block struct {
	Accel    float64    `json:"accel"`
	Duration float64    `json:"duration"`
	VInitial float64    `json:"vInitial"`
	P1       vmath.Vec2 `json:"p1"`
	P2       vmath.Vec2 `json:"p2"`
}

// NewBlock constructs a Block, rejecting invariant violations: initial
// velocity must be non-negative and final velocity must not go
// negative beyond numerical noise (§3).
func NewBlock(accel, duration, vInitial float64, p1, p2 vmath.Vec2) (Block, error) {
	b := Block{Accel: accel, Duration: duration, VInitial: vInitial, P1: p1, P2: p2}
	if vInitial < -velocityEpsilon {
		return Block{}, fmt.Errorf("motion: block has negative initial velocity %v", vInitial)
	}
	if vf := vInitial + accel*duration; vf < -velocityEpsilon {
		return Block{}, fmt.Errorf("motion: block has negative final velocity %v", vf)
	}
	return b, nil
}

// Distance is the length of the segment travelled by this Block.
func (b Block) Distance() float64 {
	return vmath.Length(vmath.Sub(b.P2, b.P1))
}

// VFinal is the velocity at the end of the Block, clamped to zero to
// absorb numerical noise (§3: "vFinal = max(0, vInitial + accel*duration)").
func (b Block) VFinal() float64 {
	return math.Max(0, b.VInitial+b.Accel*b.Duration)
}

// velocityAt returns the velocity at time t (0<=t<=Duration) within the
// block, assuming constant acceleration.
func (b Block) velocityAt(t float64) float64 {
	return math.Max(0, b.VInitial+b.Accel*t)
}

// distanceAt returns the distance travelled from P1 at time t within
// the block.
func (b Block) distanceAt(t float64) float64 {
	return b.VInitial*t + 0.5*b.Accel*t*t
}

// Sample is the result of time-parameterised sampling of an XYMotion:
// elapsed time, position, distance travelled along the path,
// velocity and acceleration.
type Sample struct {
	T float64
	P vmath.Vec2
	S float64
	V float64
	A float64
}

// XYMotion is an ordered, non-empty sequence of Blocks forming a
// continuous path: consecutive blocks share an endpoint and their
// velocities agree there up to numerical noise.
type XYMotion struct {
	blocks []Block

	// prefix sums: durPrefix[i] is the cumulative duration before
	// blocks[i]; distPrefix[i] is the cumulative distance before
	// blocks[i]. Both have len(blocks)+1 entries.
	durPrefix  []float64
	distPrefix []float64
}

// NewXYMotion validates and constructs an XYMotion from blocks.
func NewXYMotion(blocks []Block) (*XYMotion, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("motion: XYMotion requires at least one block")
	}
	for i := 0; i < len(blocks)-1; i++ {
		if !vmath.Equal(blocks[i].P2, blocks[i+1].P1, 1e-6) {
			return nil, fmt.Errorf("motion: block %d end %v does not match block %d start %v",
				i, blocks[i].P2, i+1, blocks[i+1].P1)
		}
		if math.Abs(blocks[i].VFinal()-blocks[i+1].VInitial) > velocityEpsilon {
			return nil, fmt.Errorf("motion: block %d vFinal %v does not match block %d vInitial %v",
				i, blocks[i].VFinal(), i+1, blocks[i+1].VInitial)
		}
	}
	m := &XYMotion{blocks: append([]Block(nil), blocks...)}
	m.buildPrefixes()
	return m, nil
}

func (m *XYMotion) buildPrefixes() {
	m.durPrefix = make([]float64, len(m.blocks)+1)
	m.distPrefix = make([]float64, len(m.blocks)+1)
	for i, b := range m.blocks {
		m.durPrefix[i+1] = m.durPrefix[i] + b.Duration
		m.distPrefix[i+1] = m.distPrefix[i] + b.Distance()
	}
}

func (m *XYMotion) Blocks() []Block {
	return m.blocks
}

func (m *XYMotion) P1() vmath.Vec2 {
	return m.blocks[0].P1
}

func (m *XYMotion) P2() vmath.Vec2 {
	return m.blocks[len(m.blocks)-1].P2
}

func (m *XYMotion) Duration() float64 {
	return m.durPrefix[len(m.durPrefix)-1]
}

// Instant returns a time-parameterised sample of the motion at time
// t, clamped to [0, Duration()]. It locates the containing block via
// binary search over the precomputed duration prefix sums, giving
// O(log n) sampling.
func (m *XYMotion) Instant(t float64) Sample {
	total := m.Duration()
	if t < 0 {
		t = 0
	}
	if t > total {
		t = total
	}
	// Find the last index i such that durPrefix[i] <= t.
	i := sort.Search(len(m.durPrefix), func(i int) bool {
		return m.durPrefix[i] > t
	}) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(m.blocks) {
		i = len(m.blocks) - 1
	}
	b := m.blocks[i]
	lt := t - m.durPrefix[i]
	if lt > b.Duration {
		lt = b.Duration
	}
	dir := vmath.Normalize(vmath.Sub(b.P2, b.P1))
	s := m.distPrefix[i] + b.distanceAt(lt)
	p := vmath.Add(b.P1, vmath.Scale(dir, b.distanceAt(lt)))
	return Sample{
		T: t,
		P: p,
		S: s,
		V: b.velocityAt(lt),
		A: b.Accel,
	}
}

type xyMotionJSON struct {
	Blocks []Block `json:"blocks"`
}

func (m *XYMotion) MarshalJSON() ([]byte, error) {
	return json.Marshal(xyMotionJSON{Blocks: m.blocks})
}

func (m *XYMotion) UnmarshalJSON(data []byte) error {
	var raw xyMotionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	built, err := NewXYMotion(raw.Blocks)
	if err != nil {
		return err
	}
	*m = *built
	return nil
}

// PenMotion is a single servo movement. The pen is "up" iff FinalPos
// > InitialPos (a larger servo count means the pen is higher).
type PenMotion struct {
	InitialPos int     `json:"initialPos"`
	FinalPos   int     `json:"finalPos"`
	Duration   float64 `json:"duration"`
}

// IsLift reports whether this motion raises the pen.
func (p PenMotion) IsLift() bool {
	return p.FinalPos > p.InitialPos
}

// Kind tags which alternative of the Motion sum is populated.
type Kind int

const (
	KindXY Kind = iota
	KindPen
)

// Motion is a tagged sum of XYMotion and PenMotion: a Plan is an
// ordered sequence of these. Exactly one of XY or Pen is populated,
// selected by Kind.
type Motion struct {
	Kind Kind
	XY   *XYMotion
	Pen  *PenMotion
}

func XY(m *XYMotion) Motion {
	return Motion{Kind: KindXY, XY: m}
}

func Pen(p PenMotion) Motion {
	return Motion{Kind: KindPen, Pen: &p}
}

func (m *Motion) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case KindXY:
		return json.Marshal(m.XY)
	case KindPen:
		return json.Marshal(m.Pen)
	default:
		return nil, fmt.Errorf("motion: invalid motion kind %d", m.Kind)
	}
}

func (m *Motion) UnmarshalJSON(data []byte) error {
	var probe struct {
		Blocks *json.RawMessage `json:"blocks"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Blocks != nil {
		xy := &XYMotion{}
		if err := json.Unmarshal(data, xy); err != nil {
			return err
		}
		*m = XY(xy)
		return nil
	}
	var p PenMotion
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = Pen(p)
	return nil
}

// Plan is an ordered sequence of motions produced by the planner: a
// strictly alternating travel/pen-down/draw/pen-up pattern bracketed
// by home position, per §3. A Plan built from zero input polylines
// holds a single zero-distance home-to-home XYMotion.
type Plan struct {
	Motions []Motion
}

// MarshalJSON encodes the Plan as a bare JSON array of motion objects,
// the wire format §6 documents for POST /plot bodies and the "plan"
// broadcast message.
func (p Plan) MarshalJSON() ([]byte, error) {
	if p.Motions == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.Motions)
}

// UnmarshalJSON accepts the bare JSON array wire format (§6).
func (p *Plan) UnmarshalJSON(data []byte) error {
	var motions []Motion
	if err := json.Unmarshal(data, &motions); err != nil {
		return err
	}
	p.Motions = motions
	return nil
}

// WithPenHeights returns a new Plan with every PenMotion's positions
// substituted, preserving timing — used to avoid full replanning when
// only pen heights change (§3, §9). The last pen motion (return-to-
// home lowering, i.e. the final up move) is down→up like every other
// one in the alternating sequence; WithPenHeights alternates starting
// with up→down for every PenMotion in order, exactly mirroring the
// Plan's own construction order.
func (p *Plan) WithPenHeights(upPos, downPos int) *Plan {
	out := &Plan{Motions: make([]Motion, len(p.Motions))}
	down := true
	for i, m := range p.Motions {
		if m.Kind != KindPen {
			out.Motions[i] = m
			continue
		}
		var pm PenMotion
		if down {
			pm = PenMotion{InitialPos: upPos, FinalPos: downPos, Duration: m.Pen.Duration}
		} else {
			pm = PenMotion{InitialPos: downPos, FinalPos: upPos, Duration: m.Pen.Duration}
		}
		down = !down
		out.Motions[i] = Pen(pm)
	}
	return out
}

// PenMotions returns the PenMotions in order, discarding XY motions.
func (p *Plan) PenMotions() []PenMotion {
	var pens []PenMotion
	for _, m := range p.Motions {
		if m.Kind == KindPen {
			pens = append(pens, *m.Pen)
		}
	}
	return pens
}

// Serialize returns the JSON wire format of the Plan (§6).
func (p *Plan) Serialize() ([]byte, error) {
	return json.Marshal(p)
}

// Deserialize parses the JSON wire format of a Plan (§6).
func Deserialize(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
