package quadtree

import "fmt"

// Default velocity ranges for points created without an explicit velocity.
const (
	MaxSpeedX = 10.0
	MaxSpeedY = 1.0
)

// Rand is the random source used for default velocities.
// *math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Point is a moving entity. X and Y are the rendered integer position and
// always equal the truncated RX and RY.
type Point struct {
	X, Y   int
	RX, RY float64
	VX, VY float64
}

// NewPoint creates a point at (x, y) with a velocity drawn from rng.
func NewPoint(x, y int, rng Rand) *Point {
	return NewPointWithVelocity(x, y, MaxSpeedX*rng.Float64(), MaxSpeedY*rng.Float64())
}

// NewPointWithVelocity creates a point at (x, y) moving by (vx, vy) per step.
func NewPointWithVelocity(x, y int, vx, vy float64) *Point {
	return &Point{
		X:  x,
		Y:  y,
		RX: float64(x),
		RY: float64(y),
		VX: vx,
		VY: vy,
	}
}

// Step advances the point by one tick. Positions outside any bounds are
// allowed here; the tree and the driver deal with them later.
func (p *Point) Step() {
	p.RX += p.VX
	p.RY += p.VY
	p.X = int(p.RX)
	p.Y = int(p.RY)
}

// Reflect inverts the velocity component of every axis on which the point
// lies outside b. The position is left untouched.
func (p *Point) Reflect(b Rect) (flippedX, flippedY bool) {
	if p.X < b.Left || b.Right() <= p.X {
		p.VX = -p.VX
		flippedX = true
	}
	if p.Y < b.Top || b.Bottom() <= p.Y {
		p.VY = -p.VY
		flippedY = true
	}
	return flippedX, flippedY
}

// Clamp moves the point to the nearest position inside b.
func (p *Point) Clamp(b Rect) {
	if x := clamp(p.X, b.Left, b.Right()-1); x != p.X {
		p.X, p.RX = x, float64(x)
	}
	if y := clamp(p.Y, b.Top, b.Bottom()-1); y != p.Y {
		p.Y, p.RY = y, float64(y)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (p *Point) String() string {
	return fmt.Sprintf("Point(x=%d, y=%d, vx=%.2f, vy=%.2f)", p.X, p.Y, p.VX, p.VY)
}
