package vmath

import (
	"math"
	"testing"
)

func TestDedup(t *testing.T) {
	cases := []struct {
		in   Path
		want int
	}{
		{nil, 0},
		{Path{Pt(0, 0)}, 1},
		{Path{Pt(0, 0), Pt(0, 0), Pt(0, 1e-12)}, 1},
		{Path{Pt(0, 0), Pt(1, 0), Pt(1, 0)}, 2},
	}
	for _, c := range cases {
		got := Dedup(c.in, Epsilon)
		if len(got) != c.want {
			t.Errorf("Dedup(%v) = %v, want len %d", c.in, got, c.want)
		}
	}
}

func TestLengthAndNormalize(t *testing.T) {
	p := Pt(3, 4)
	if got := Length(p); math.Abs(got-5) > Epsilon {
		t.Errorf("Length(%v) = %v, want 5", p, got)
	}
	n := Normalize(p)
	if got := Length(n); math.Abs(got-1) > Epsilon {
		t.Errorf("Length(Normalize(%v)) = %v, want 1", p, got)
	}
	if z := Normalize(Vec2{}); z != (Vec2{}) {
		t.Errorf("Normalize(zero) = %v, want zero", z)
	}
}

func TestRotate90(t *testing.T) {
	p := Pt(1, 0)
	r := Rotate90(p)
	if !Equal(r, Pt(0, 1), Epsilon) {
		t.Errorf("Rotate90(%v) = %v, want (0,1)", p, r)
	}
}

func TestScaleBy(t *testing.T) {
	path := Path{Pt(1, 2), Pt(3, 4)}
	got := path.ScaleBy(5)
	want := Path{Pt(5, 10), Pt(15, 20)}
	for i := range want {
		if !Equal(got[i], want[i], Epsilon) {
			t.Errorf("ScaleBy[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
