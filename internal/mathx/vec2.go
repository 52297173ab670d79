// Package mathx holds the 2D ground-plane vector math shared by the diff
// engine and the movement interpolator.
package mathx

import "math"

type Vec2 struct {
	X float64
	Y float64
}

// FromArray converts a wire position.
func FromArray(a [2]float64) Vec2 { return Vec2{X: a[0], Y: a[1]} }

func (v Vec2) Array() [2]float64 { return [2]float64{v.X, v.Y} }

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }

func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }

func (v Vec2) Scale(k float64) Vec2 { return Vec2{X: v.X * k, Y: v.Y * k} }

func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }

// Dist is the straight-line distance between a and b.
func Dist(a, b Vec2) float64 { return b.Sub(a).Len() }

// Normalize returns the unit vector along v. A zero vector has no direction.
func (v Vec2) Normalize() (Vec2, bool) {
	l := v.Len()
	if l == 0 {
		return Vec2{}, false
	}
	return Vec2{X: v.X / l, Y: v.Y / l}, true
}

// ApproxEqual compares component-wise within eps.
func ApproxEqual(a, b Vec2, eps float64) bool {
	return math.Abs(a.X-b.X) <= eps && math.Abs(a.Y-b.Y) <= eps
}
