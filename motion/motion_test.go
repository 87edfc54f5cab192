package motion

import (
	"encoding/json"
	"math"
	"testing"

	"axiplot.io/vmath"
)

func straightBlock(t *testing.T, accel, dur, vi float64, p1, p2 vmath.Vec2) Block {
	t.Helper()
	b, err := NewBlock(accel, dur, vi, p1, p2)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	return b
}

func TestBlockInvariantRejectsNegativeVelocity(t *testing.T) {
	if _, err := NewBlock(-10, 1, -1, vmath.Pt(0, 0), vmath.Pt(1, 0)); err == nil {
		t.Fatal("expected error for negative initial velocity")
	}
	// vInitial=1, accel=-10, duration=1 => vFinal = 1-10 = -9, way below eps.
	if _, err := NewBlock(-10, 1, 1, vmath.Pt(0, 0), vmath.Pt(1, 0)); err == nil {
		t.Fatal("expected error for negative final velocity")
	}
}

func TestXYMotionRejectsDiscontinuity(t *testing.T) {
	b0 := straightBlock(t, 0, 1, 5, vmath.Pt(0, 0), vmath.Pt(5, 0))
	b1 := straightBlock(t, 0, 1, 5, vmath.Pt(10, 0), vmath.Pt(15, 0))
	if _, err := NewXYMotion([]Block{b0, b1}); err == nil {
		t.Fatal("expected error for discontinuous blocks")
	}
}

func TestXYMotionInstantEndpoints(t *testing.T) {
	// Accelerate 0->10 over distance 5, then decelerate 10->0 over distance 5.
	accelDur := 10.0 / 10.0 // v = a*t => t = 1; s = a*t*t/2 = 5
	b0 := straightBlock(t, 10, accelDur, 0, vmath.Pt(0, 0), vmath.Pt(5, 0))
	b1 := straightBlock(t, -10, accelDur, 10, vmath.Pt(5, 0), vmath.Pt(10, 0))
	m, err := NewXYMotion([]Block{b0, b1})
	if err != nil {
		t.Fatalf("NewXYMotion: %v", err)
	}
	start := m.Instant(0)
	if start.V != 0 {
		t.Errorf("start velocity = %v, want 0", start.V)
	}
	end := m.Instant(m.Duration())
	if math.Abs(end.V) > 1e-6 {
		t.Errorf("end velocity = %v, want 0", end.V)
	}
	if !vmath.Equal(end.P, vmath.Pt(10, 0), 1e-6) {
		t.Errorf("end position = %v, want (10,0)", end.P)
	}
	mid := m.Instant(accelDur)
	if math.Abs(mid.V-10) > 1e-6 {
		t.Errorf("mid velocity = %v, want 10", mid.V)
	}
}

func TestXYMotionJSONRoundTrip(t *testing.T) {
	b := straightBlock(t, 0, 2, 3, vmath.Pt(1, 1), vmath.Pt(7, 1))
	m, err := NewXYMotion([]Block{b})
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var m2 XYMotion
	if err := json.Unmarshal(data, &m2); err != nil {
		t.Fatal(err)
	}
	if m2.Duration() != m.Duration() || !vmath.Equal(m2.P1(), m.P1(), 1e-9) || !vmath.Equal(m2.P2(), m.P2(), 1e-9) {
		t.Errorf("round trip mismatch: got %+v, want %+v", m2, m)
	}
}

func TestPlanSerializesAsBareArray(t *testing.T) {
	plan := &Plan{Motions: []Motion{
		Pen(PenMotion{InitialPos: 20000, FinalPos: 12000, Duration: 0.2}),
	}}
	data, err := plan.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Serialize did not produce a bare JSON array: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("array length = %d, want 1", len(raw))
	}

	empty := &Plan{}
	data, err = empty.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[]" {
		t.Errorf("empty plan serialized to %q, want \"[]\"", data)
	}
}

func TestPlanRoundTrip(t *testing.T) {
	b := straightBlock(t, 0, 1, 2, vmath.Pt(0, 0), vmath.Pt(2, 0))
	m, err := NewXYMotion([]Block{b})
	if err != nil {
		t.Fatal(err)
	}
	plan := &Plan{Motions: []Motion{
		XY(m),
		Pen(PenMotion{InitialPos: 20000, FinalPos: 12000, Duration: 0.2}),
		XY(m),
		Pen(PenMotion{InitialPos: 12000, FinalPos: 20000, Duration: 0.2}),
	}}
	data, err := plan.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	plan2, err := Deserialize(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan2.Motions) != len(plan.Motions) {
		t.Fatalf("round trip motion count = %d, want %d", len(plan2.Motions), len(plan.Motions))
	}
	for i, mo := range plan.Motions {
		got := plan2.Motions[i]
		if got.Kind != mo.Kind {
			t.Errorf("motion %d kind = %v, want %v", i, got.Kind, mo.Kind)
		}
		if mo.Kind == KindPen && *got.Pen != *mo.Pen {
			t.Errorf("motion %d pen = %+v, want %+v", i, got.Pen, mo.Pen)
		}
		if mo.Kind == KindXY && got.XY.Duration() != mo.XY.Duration() {
			t.Errorf("motion %d xy duration = %v, want %v", i, got.XY.Duration(), mo.XY.Duration())
		}
	}
}

func TestWithPenHeights(t *testing.T) {
	b := straightBlock(t, 0, 1, 2, vmath.Pt(0, 0), vmath.Pt(2, 0))
	m, err := NewXYMotion([]Block{b})
	if err != nil {
		t.Fatal(err)
	}
	plan := &Plan{Motions: []Motion{
		XY(m),
		Pen(PenMotion{InitialPos: 1, FinalPos: 2, Duration: 0.1}),
		XY(m),
		Pen(PenMotion{InitialPos: 2, FinalPos: 1, Duration: 0.1}),
	}}
	out := plan.WithPenHeights(9000, 18000)
	pens := out.PenMotions()
	if len(pens) != 2 {
		t.Fatalf("got %d pen motions, want 2", len(pens))
	}
	if pens[0].InitialPos != 9000 || pens[0].FinalPos != 18000 {
		t.Errorf("pen 0 = %+v, want up->down 9000->18000", pens[0])
	}
	if pens[1].InitialPos != 18000 || pens[1].FinalPos != 9000 {
		t.Errorf("pen 1 = %+v, want down->up 18000->9000", pens[1])
	}
	if pens[0].Duration != 0.1 || pens[1].Duration != 0.1 {
		t.Errorf("durations not preserved: %+v", pens)
	}
}
