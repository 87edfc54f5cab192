// package planner implements the constant-acceleration motion planner
// (spec §4.1): it turns a list of polylines into a motion.Plan with
// trapezoidal/triangular velocity profiles and GRBL-style cornering.
package planner

import (
	"fmt"
	"math"

	"axiplot.io/device"
	"axiplot.io/motion"
	"axiplot.io/vmath"
)

// DedupEpsilon is the distance below which consecutive polyline
// points are considered coincident and dropped (§4.1 step 1).
const DedupEpsilon = 1e-9

// cornerEpsilon bounds the numerical comparisons used to detect the
// straight-continuation and full-reversal special cases of the
// cornering formula.
const cornerEpsilon = 1e-9

// backtrackEpsilon is the tolerance on s1 < 0 used to detect that a
// segment was entered too fast to decelerate in time (§4.1 step 4b).
const backtrackEpsilon = 1e-9

// blockEpsilon is the minimum duration a Block must have to survive
// assembly into an XYMotion (§4.1 step 5).
const blockEpsilon = 1e-12

// segment is one edge of the per-polyline segment graph (§4.1 step 2).
// The terminal, zero-length segment appended to every polyline forces
// velocity to zero at the path end: its Dir is the zero vector, which
// cornerVelocity treats as an undefined direction and so always
// returns 0 (§9 open question iii).
type segment struct {
	P1, P2           vmath.Vec2
	Dir              vmath.Vec2
	Dist             float64
	MaxEntryVelocity float64
}

func buildSegments(points []vmath.Vec2, profile device.AccelerationProfile) []*segment {
	n := len(points)
	segs := make([]*segment, n)
	for i := 0; i < n-1; i++ {
		p1, p2 := points[i], points[i+1]
		segs[i] = &segment{
			P1:   p1,
			P2:   p2,
			Dir:  vmath.Normalize(vmath.Sub(p2, p1)),
			Dist: vmath.Length(vmath.Sub(p2, p1)),
		}
	}
	last := points[n-1]
	segs[n-1] = &segment{P1: last, P2: last}
	segs[0].MaxEntryVelocity = 0
	for i := 1; i < n; i++ {
		segs[i].MaxEntryVelocity = cornerVelocity(segs[i-1].Dir, segs[i].Dir, profile)
	}
	return segs
}

// cornerVelocity computes the maximum speed at which the junction
// between two segments with unit directions dirA, dirB can be taken,
// per the classical GRBL cornering heuristic (§4.1 step 3): the
// centripetal acceleration needed to traverse an inscribed arc of
// radius CorneringFactor at the junction must not exceed Acceleration.
//
// c = -dot(dirA, dirB); c ≈ -1 is a straight continuation (no turn,
// unlimited speed) and c ≈ 1 is a full reversal, for which the
// general formula already yields ≈0 without needing a special case.
// The s→1 guard below covers near-straight continuations, where the
// division by (1-s) would blow up; they get MaxVelocity.
func cornerVelocity(dirA, dirB vmath.Vec2, profile device.AccelerationProfile) float64 {
	if vmath.Length(dirA) < cornerEpsilon || vmath.Length(dirB) < cornerEpsilon {
		return 0
	}
	c := -vmath.Dot(dirA, dirB)
	if c <= -1+cornerEpsilon {
		return profile.MaxVelocity
	}
	s := math.Sqrt(math.Max(0, (1-c)/2))
	if s >= 1-cornerEpsilon {
		return profile.MaxVelocity
	}
	v := math.Sqrt(profile.Acceleration * profile.CorneringFactor * s / (1 - s))
	return math.Min(v, profile.MaxVelocity)
}

// buildXYMotion runs the combined forward/backward sweep (§4.1 step
// 4) over points and assembles the resulting Blocks into an XYMotion
// (§4.1 step 5).
func buildXYMotion(points []vmath.Vec2, profile device.AccelerationProfile) (*motion.XYMotion, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("planner: buildXYMotion requires at least one point")
	}
	if len(points) == 1 {
		b, err := motion.NewBlock(0, 0, 0, points[0], points[0])
		if err != nil {
			return nil, err
		}
		return motion.NewXYMotion([]motion.Block{b})
	}

	segs := buildSegments(points, profile)
	n := len(segs)
	blocksPerSeg := make([][]motion.Block, n-1)
	exit := make([]float64, n-1)
	a := profile.Acceleration

	i := 0
	for i < n-1 {
		var vIn float64
		if i == 0 {
			vIn = 0
		} else {
			vIn = math.Min(exit[i-1], segs[i].MaxEntryVelocity)
		}
		d := segs[i].Dist
		vOut := segs[i+1].MaxEntryVelocity

		vPeak := math.Sqrt(math.Max(0, (2*a*d+vIn*vIn+vOut*vOut)/2))
		s1 := (vPeak*vPeak - vIn*vIn) / (2 * a)
		s2 := d - s1

		switch {
		case s1 < -backtrackEpsilon:
			// Entered this segment too fast to decelerate to vOut in
			// time: cap this segment's achievable entry velocity and
			// back up to re-plan the previous segment against it.
			segs[i].MaxEntryVelocity = math.Sqrt(vOut*vOut + 2*a*d)
			if i == 0 {
				// Unreachable: vIn is forced to 0 at the path start,
				// so s1 >= 0 always holds there.
				return nil, fmt.Errorf("planner: internal error, backtrack past path start")
			}
			i--
			continue
		case s2 <= 0:
			vF := math.Sqrt(vIn*vIn + 2*a*d)
			b, err := motion.NewBlock(a, (vF-vIn)/a, vIn, segs[i].P1, segs[i].P2)
			if err != nil {
				return nil, err
			}
			blocksPerSeg[i] = []motion.Block{b}
			exit[i] = vF
		case vPeak > profile.MaxVelocity:
			vmax := profile.MaxVelocity
			s1 = (vmax*vmax - vIn*vIn) / (2 * a)
			s2 = (vmax*vmax - vOut*vOut) / (2 * a)
			cruise := d - s1 - s2
			dir := vmath.Normalize(vmath.Sub(segs[i].P2, segs[i].P1))
			pMid1 := vmath.Add(segs[i].P1, vmath.Scale(dir, s1))
			pMid2 := vmath.Add(pMid1, vmath.Scale(dir, cruise))
			b1, err := motion.NewBlock(a, (vmax-vIn)/a, vIn, segs[i].P1, pMid1)
			if err != nil {
				return nil, err
			}
			b2, err := motion.NewBlock(0, cruise/vmax, vmax, pMid1, pMid2)
			if err != nil {
				return nil, err
			}
			b3, err := motion.NewBlock(-a, (vmax-vOut)/a, vmax, pMid2, segs[i].P2)
			if err != nil {
				return nil, err
			}
			blocksPerSeg[i] = []motion.Block{b1, b2, b3}
			exit[i] = vOut
		default:
			dir := vmath.Normalize(vmath.Sub(segs[i].P2, segs[i].P1))
			pMid := vmath.Add(segs[i].P1, vmath.Scale(dir, s1))
			b1, err := motion.NewBlock(a, (vPeak-vIn)/a, vIn, segs[i].P1, pMid)
			if err != nil {
				return nil, err
			}
			b2, err := motion.NewBlock(-a, (vPeak-vOut)/a, vPeak, pMid, segs[i].P2)
			if err != nil {
				return nil, err
			}
			blocksPerSeg[i] = []motion.Block{b1, b2}
			exit[i] = vOut
		}
		i++
	}

	var all []motion.Block
	for _, bs := range blocksPerSeg {
		for _, b := range bs {
			if b.Duration > blockEpsilon {
				all = append(all, b)
			}
		}
	}
	if len(all) == 0 {
		b, err := motion.NewBlock(0, 0, 0, points[0], points[len(points)-1])
		if err != nil {
			return nil, err
		}
		all = []motion.Block{b}
	}
	return motion.NewXYMotion(all)
}

// Plan builds a complete motion.Plan from a set of polylines (in the
// same unit as penHome — the caller converts mm to steps before
// calling, per §3's "boundary is explicit"), a ToolingProfile and a
// home position. Plans start and end at penHome with zero velocity
// and alternate travel/pen-down/draw/pen-up for every non-empty
// polyline (§4.1 "Plan assembly").
func Plan(paths []vmath.Path, profile device.ToolingProfile, penHome vmath.Vec2) (*motion.Plan, error) {
	var motions []motion.Motion
	cursor := penHome

	for _, path := range paths {
		deduped := vmath.Dedup(path, DedupEpsilon)
		if len(deduped) == 0 {
			continue
		}

		travel, err := buildXYMotion([]vmath.Vec2{cursor, deduped[0]}, profile.PenUpProfile)
		if err != nil {
			return nil, fmt.Errorf("planner: travel motion: %w", err)
		}
		motions = append(motions, motion.XY(travel))
		motions = append(motions, motion.Pen(motion.PenMotion{
			InitialPos: profile.PenUpPos,
			FinalPos:   profile.PenDownPos,
			Duration:   profile.PenDropDuration,
		}))

		draw, err := buildXYMotion(deduped, profile.PenDownProfile)
		if err != nil {
			return nil, fmt.Errorf("planner: draw motion: %w", err)
		}
		motions = append(motions, motion.XY(draw))
		motions = append(motions, motion.Pen(motion.PenMotion{
			InitialPos: profile.PenDownPos,
			FinalPos:   profile.PenUpPos,
			Duration:   profile.PenLiftDuration,
		}))

		cursor = deduped[len(deduped)-1]
	}

	final, err := buildXYMotion([]vmath.Vec2{cursor, penHome}, profile.PenUpProfile)
	if err != nil {
		return nil, fmt.Errorf("planner: final travel: %w", err)
	}
	motions = append(motions, motion.XY(final))

	return &motion.Plan{Motions: motions}, nil
}
