package quadtree

import "fmt"

// Rect is an axis-aligned rectangle in integer screen space.
type Rect struct {
	Left, Top     int
	Width, Height int
}

// Right is the exclusive right edge.
func (r Rect) Right() int { return r.Left + r.Width }

// Bottom is the exclusive bottom edge.
func (r Rect) Bottom() int { return r.Top + r.Height }

// Contains reports whether (x, y) lies in the half-open rectangle.
func (r Rect) Contains(x, y int) bool {
	return r.Left <= x && x < r.Right() && r.Top <= y && y < r.Bottom()
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.Left, r.Top, r.Width, r.Height)
}

// Intersects reports whether a and b overlap on both axes. The comparison
// is strict, so rectangles sharing only an edge or a corner do not
// intersect.
func Intersects(a, b Rect) bool {
	return b.Left < a.Right() && a.Left < b.Right() &&
		b.Top < a.Bottom() && a.Top < b.Bottom()
}
