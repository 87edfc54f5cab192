package planner

import (
	"math"
	"testing"

	"axiplot.io/device"
	"axiplot.io/motion"
	"axiplot.io/vmath"
)

func testProfile() device.ToolingProfile {
	accel := device.AccelerationProfile{Acceleration: 1000, MaxVelocity: 250, CorneringFactor: 0.635}
	d := device.V3(5)
	return device.ToolingProfile{
		PenDownProfile:   accel,
		PenUpProfile:     accel,
		PenDownPos:       d.PenPctToPos(60),
		PenUpPos:         d.PenPctToPos(50),
		PenLiftDuration:  0.15,
		PenDropDuration:  0.15,
	}
}

func xyMotions(t *testing.T, p *motion.Plan) []*motion.XYMotion {
	t.Helper()
	var out []*motion.XYMotion
	for _, m := range p.Motions {
		if m.Kind == motion.KindXY {
			out = append(out, m.XY)
		}
	}
	return out
}

func TestS1EmptyInput(t *testing.T) {
	profile := testProfile()
	plan, err := Plan(nil, profile, vmath.Pt(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Motions) != 1 {
		t.Fatalf("got %d motions, want 1", len(plan.Motions))
	}
	xy := plan.Motions[0].XY
	if xy.Duration() != 0 {
		t.Errorf("duration = %v, want 0", xy.Duration())
	}
	if !vmath.Equal(xy.P1(), vmath.Pt(0, 0), 1e-9) || !vmath.Equal(xy.P2(), vmath.Pt(0, 0), 1e-9) {
		t.Errorf("home->home motion endpoints = %v -> %v", xy.P1(), xy.P2())
	}
}

func TestS2SinglePoint(t *testing.T) {
	profile := testProfile()
	plan, err := Plan([]vmath.Path{{vmath.Pt(10, 10)}}, profile, vmath.Pt(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Motions) != 5 {
		t.Fatalf("got %d motions, want 5 (travel, pen, draw, pen, travel)", len(plan.Motions))
	}
	travel := plan.Motions[0].XY
	if !vmath.Equal(travel.P1(), vmath.Pt(0, 0), 1e-9) || !vmath.Equal(travel.P2(), vmath.Pt(10, 10), 1e-9) {
		t.Errorf("first travel = %v -> %v, want (0,0)->(10,10)", travel.P1(), travel.P2())
	}
	draw := plan.Motions[2].XY
	if draw.Duration() != 0 {
		t.Errorf("draw duration = %v, want 0 for single point", draw.Duration())
	}
	if !vmath.Equal(draw.P1(), vmath.Pt(10, 10), 1e-9) {
		t.Errorf("draw position = %v, want (10,10)", draw.P1())
	}
	home := plan.Motions[4].XY
	if !vmath.Equal(home.P2(), vmath.Pt(0, 0), 1e-9) {
		t.Errorf("final travel end = %v, want home", home.P2())
	}
}

func TestS3SingleLine(t *testing.T) {
	profile := testProfile()
	plan, err := Plan([]vmath.Path{{vmath.Pt(10, 10), vmath.Pt(20, 10)}}, profile, vmath.Pt(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	draw := plan.Motions[2].XY
	if draw.Duration() <= 0 {
		t.Fatalf("draw duration = %v, want > 0", draw.Duration())
	}
	start := draw.Instant(0)
	end := draw.Instant(draw.Duration())
	if start.V != 0 {
		t.Errorf("start velocity = %v, want 0", start.V)
	}
	if math.Abs(end.V) > 1e-6 {
		t.Errorf("end velocity = %v, want 0", end.V)
	}
}

func TestS4CollinearExtraPointPreservesDuration(t *testing.T) {
	profile := testProfile()
	p1, err := Plan([]vmath.Path{{vmath.Pt(10, 10), vmath.Pt(30, 10)}}, profile, vmath.Pt(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	p2, err := Plan([]vmath.Path{{vmath.Pt(10, 10), vmath.Pt(25, 10), vmath.Pt(30, 10)}}, profile, vmath.Pt(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	d1 := p1.Motions[2].XY.Duration()
	d2 := p2.Motions[2].XY.Duration()
	if math.Abs(d1-d2) > 1e-6 {
		t.Errorf("collinear extra point changed duration: %v vs %v", d1, d2)
	}
}

func TestS5NinetyDegreeCorner(t *testing.T) {
	profile := testProfile()
	plan, err := Plan([]vmath.Path{{vmath.Pt(10, 10), vmath.Pt(20, 10), vmath.Pt(20, 20)}}, profile, vmath.Pt(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	draw := plan.Motions[2].XY
	// The velocity at the corner vertex (20,10) is the minimum along
	// the draw motion's sampled velocity profile near that point. Both
	// legs have equal length, so the profile is symmetric in time and
	// the corner sits at the midpoint; the middle half of the motion is
	// sampled, which excludes the zero-velocity endpoints.
	a := profile.PenDownProfile.Acceleration
	k := profile.PenDownProfile.CorneringFactor
	s := math.Sqrt(0.5)
	want := math.Sqrt(a * k * s / (1 - s))

	const steps = 2000
	minV := math.Inf(1)
	total := draw.Duration()
	for i := steps / 4; i <= 3*steps/4; i++ {
		t := total * float64(i) / steps
		v := draw.Instant(t).V
		if v < minV {
			minV = v
		}
	}
	if math.Abs(minV-want) > 1e-2 {
		t.Errorf("corner velocity = %v, want %v", minV, want)
	}
}

func TestPlanReturnsHome(t *testing.T) {
	profile := testProfile()
	plan, err := Plan([]vmath.Path{
		{vmath.Pt(10, 10), vmath.Pt(50, 50)},
		{vmath.Pt(5, 5), vmath.Pt(5, 40)},
	}, profile, vmath.Pt(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	last := plan.Motions[len(plan.Motions)-1]
	if last.Kind != motion.KindXY {
		t.Fatalf("last motion kind = %v, want XY", last.Kind)
	}
	if !vmath.Equal(last.XY.P2(), vmath.Pt(0, 0), 1e-9) {
		t.Errorf("plan does not end at home: %v", last.XY.P2())
	}
}

func TestPlanPenAlternation(t *testing.T) {
	profile := testProfile()
	plan, err := Plan([]vmath.Path{
		{vmath.Pt(10, 10), vmath.Pt(50, 50)},
		{vmath.Pt(5, 5), vmath.Pt(5, 40)},
	}, profile, vmath.Pt(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	pens := plan.PenMotions()
	if len(pens)%2 != 0 {
		t.Fatalf("odd number of pen motions: %d", len(pens))
	}
	for i, p := range pens {
		wantDown := i%2 == 0
		if p.IsLift() == wantDown {
			t.Errorf("pen motion %d direction wrong: %+v", i, p)
		}
	}
}

func TestVelocityNeverExceedsMax(t *testing.T) {
	profile := testProfile()
	plan, err := Plan([]vmath.Path{{vmath.Pt(0, 0), vmath.Pt(1000, 0), vmath.Pt(1000, 1000)}}, profile, vmath.Pt(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range xyMotions(t, plan) {
		for _, b := range m.Blocks() {
			if math.Abs(b.Accel) > profile.PenDownProfile.Acceleration+1e-6 &&
				math.Abs(b.Accel) > profile.PenUpProfile.Acceleration+1e-6 {
				t.Errorf("block accel %v exceeds profile bound", b.Accel)
			}
			if b.VInitial > profile.PenDownProfile.MaxVelocity+1e-6 {
				t.Errorf("block vInitial %v exceeds vMax", b.VInitial)
			}
		}
	}
}
