// package vmath implements 2D vector math used throughout the planner
// and motion packages: point arithmetic, norms and basic rotation.
package vmath

import "math"

// Epsilon is the default tolerance used to compare vectors and
// scalars that, by construction, should coincide up to floating
// point noise.
const Epsilon = 1e-9

// Vec2 is a 2D point or vector. Input polylines start out in
// millimetres; the caller scales them to steps (Path.ScaleBy) before
// planner.Plan, which does no unit conversion itself. Inside motion
// blocks it is in steps.
type Vec2 struct {
	X, Y float64
}

func Pt(x, y float64) Vec2 {
	return Vec2{X: x, Y: y}
}

func Add(p ...Vec2) Vec2 {
	r := p[0]
	for _, q := range p[1:] {
		r.X += q.X
		r.Y += q.Y
	}
	return r
}

func Sub(a, b Vec2) Vec2 {
	return Vec2{X: a.X - b.X, Y: a.Y - b.Y}
}

func Scale(p Vec2, s float64) Vec2 {
	return Vec2{X: p.X * s, Y: p.Y * s}
}

func Dot(a, b Vec2) float64 {
	return a.X*b.X + a.Y*b.Y
}

func Length(p Vec2) float64 {
	return math.Sqrt(Dot(p, p))
}

func Div(p Vec2, s float64) Vec2 {
	return Vec2{X: p.X / s, Y: p.Y / s}
}

// Normalize returns p scaled to unit length. Returns the zero vector
// if p is (near) zero length.
func Normalize(p Vec2) Vec2 {
	l := Length(p)
	if l < Epsilon {
		return Vec2{}
	}
	return Div(p, l)
}

// Rotate90 returns p rotated by 90 degrees counter-clockwise.
func Rotate90(p Vec2) Vec2 {
	return Vec2{X: -p.Y, Y: p.X}
}

// Equal reports whether a and b are within eps of each other.
func Equal(a, b Vec2, eps float64) bool {
	return Length(Sub(a, b)) <= eps
}

// Path is an ordered sequence of points, in millimetres until scaled
// to steps for planner.Plan.
type Path []Vec2

// Dedup drops consecutive points closer than eps, returning a new
// Path. A single point or empty path is returned unchanged.
func Dedup(p Path, eps float64) Path {
	if len(p) == 0 {
		return p
	}
	out := make(Path, 0, len(p))
	out = append(out, p[0])
	for _, q := range p[1:] {
		if Length(Sub(q, out[len(out)-1])) > eps {
			out = append(out, q)
		}
	}
	return out
}

// ScaleBy multiplies every point in p by s, used at the planner
// boundary to convert millimetres to device microsteps.
func (p Path) ScaleBy(s float64) Path {
	out := make(Path, len(p))
	for i, q := range p {
		out[i] = Scale(q, s)
	}
	return out
}
