package quadtree

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	// ErrOutOfBounds is returned when a point is inserted into a node whose
	// bounds do not contain it.
	ErrOutOfBounds = errors.New("quadtree: point outside node bounds")
	// ErrMaxDepth is returned when a leaf at the depth limit reaches its
	// capacity. The point is still stored.
	ErrMaxDepth = errors.New("quadtree: maximum depth exceeded")

	ErrInvalidCapacity = errors.New("quadtree: capacity must be at least 1")
	ErrInvalidBounds   = errors.New("quadtree: bounds must have positive width and height")
)

// DefaultMaxDepth bounds subdivision for trees built without WithMaxDepth.
const DefaultMaxDepth = 32

// Quadrant indexes the children of an internal node.
type Quadrant int

const (
	UpperLeft Quadrant = iota
	UpperRight
	LowerLeft
	LowerRight
)

func (q Quadrant) String() string {
	switch q {
	case UpperLeft:
		return "upper_left"
	case UpperRight:
		return "upper_right"
	case LowerLeft:
		return "lower_left"
	case LowerRight:
		return "lower_right"
	default:
		return "unknown"
	}
}

// verifyOrder is the order children are reconciled in, and therefore the
// order of a node's displaced list.
var verifyOrder = [4]Quadrant{LowerRight, UpperRight, LowerLeft, UpperLeft}

type options struct {
	maxDepth    int
	heightSplit bool
}

// Option configures a tree at construction.
type Option func(*options)

// WithMaxDepth sets the depth at which leaves stop splitting.
func WithMaxDepth(depth int) Option {
	return func(o *options) {
		if depth >= 0 {
			o.maxDepth = depth
		}
	}
}

// WithHeightSplit halves a node's height by its height. Without it the
// vertical midpoint is taken from half the width, which only matches the
// geometry of square trees.
func WithHeightSplit() Option {
	return func(o *options) {
		o.heightSplit = true
	}
}

// Node is a quadtree node. A node with nil children is a leaf and owns its
// points; otherwise it owns exactly four children and no points.
type Node struct {
	bounds   Rect
	hw, hh   int
	capacity int
	depth    int
	opts     *options

	// population is the number of points stored in leaves under this node.
	population int
	points     []*Point
	children   *[4]*Node

	matched   bool
	// dirty is set while some leaf under the node may still be matched.
	dirty     bool
	collapsed bool
}

// New creates the root of a tree covering bounds. Leaves split once they
// hold capacity points; each level doubles the capacity of its parent.
func New(bounds Rect, capacity int, opts ...Option) (*Node, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	if bounds.Width < 1 || bounds.Height < 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidBounds, bounds)
	}
	o := &options{maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(o)
	}
	return newNode(bounds, capacity, 0, o), nil
}

func newNode(bounds Rect, capacity, depth int, o *options) *Node {
	hh := bounds.Width / 2
	if o.heightSplit {
		hh = bounds.Height / 2
	}
	return &Node{
		bounds:   bounds,
		hw:       bounds.Width / 2,
		hh:       hh,
		capacity: capacity,
		depth:    depth,
		opts:     o,
	}
}

// Insert adds p under n. p must lie inside n's bounds; otherwise nothing
// is changed and an error wrapping ErrOutOfBounds is returned.
func (n *Node) Insert(p *Point) error {
	if !n.bounds.Contains(p.X, p.Y) {
		return fmt.Errorf("%w: (%d,%d) not in %v", ErrOutOfBounds, p.X, p.Y, n.bounds)
	}
	return n.insert(p)
}

func (n *Node) insert(p *Point) error {
	n.population++

	if n.children != nil {
		return n.child(p).insert(p)
	}

	n.points = append(n.points, p)
	if len(n.points) < n.capacity {
		return nil
	}
	if n.depth >= n.opts.maxDepth {
		return fmt.Errorf("%w: leaf %v at depth %d holds %d points", ErrMaxDepth, n.bounds, n.depth, len(n.points))
	}
	return n.split()
}

// split turns a full leaf into an internal node. The right column and the
// bottom row absorb the remainder of the integer halving.
func (n *Node) split() error {
	b := n.bounds
	capacity := n.capacity
	if capacity <= math.MaxInt/2 {
		capacity *= 2
	}
	depth := n.depth + 1

	n.children = &[4]*Node{
		UpperLeft:  newNode(Rect{b.Left, b.Top, n.hw, n.hh}, capacity, depth, n.opts),
		UpperRight: newNode(Rect{b.Left + n.hw, b.Top, b.Width - n.hw, n.hh}, capacity, depth, n.opts),
		LowerLeft:  newNode(Rect{b.Left, b.Top + n.hh, n.hw, b.Height - n.hh}, capacity, depth, n.opts),
		LowerRight: newNode(Rect{b.Left + n.hw, b.Top + n.hh, b.Width - n.hw, b.Height - n.hh}, capacity, depth, n.opts),
	}
	n.collapsed = false

	points := n.points
	n.points = nil

	var err error
	for _, p := range points {
		if e := n.child(p).insert(p); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// quadrant applies the routing rule. Points on a midpoint go right or down.
func (n *Node) quadrant(x, y int) Quadrant {
	right := x >= n.bounds.Left+n.hw
	bottom := y >= n.bounds.Top+n.hh
	switch {
	case right && bottom:
		return LowerRight
	case right:
		return UpperRight
	case bottom:
		return LowerLeft
	default:
		return UpperLeft
	}
}

func (n *Node) child(p *Point) *Node {
	return n.children[n.quadrant(p.X, p.Y)]
}

// Verify moves points that left their leaf. Points still inside n are
// reinserted below n; the rest are removed and returned for an ancestor,
// or the caller at the root, to place. A subtree whose population drops to
// zero collapses into an empty leaf.
func (n *Node) Verify() []*Point {
	var up []*Point

	if n.children != nil {
		var moved []*Point
		for _, q := range verifyOrder {
			moved = append(moved, n.children[q].Verify()...)
		}
		for _, p := range moved {
			if !n.bounds.Contains(p.X, p.Y) {
				up = append(up, p)
				continue
			}
			// ErrMaxDepth still stores the point, so the count stays exact.
			_ = n.child(p).insert(p)
		}
	} else {
		old := n.points
		kept := old[:0]
		for _, p := range old {
			if n.bounds.Contains(p.X, p.Y) {
				kept = append(kept, p)
			} else {
				up = append(up, p)
			}
		}
		clear(old[len(kept):])
		n.points = kept
	}

	n.population -= len(up)
	if n.population == 0 && n.children != nil {
		n.children = nil
		n.points = nil
		n.collapsed = true
	}
	return up
}

// Collide flags every non-empty leaf whose bounds strictly overlap q and
// clears every flag left by an earlier Collide. Subtrees outside q are
// only descended into when they still carry flags.
func (n *Node) Collide(q Rect) {
	n.matched = false

	if !Intersects(n.bounds, q) {
		if n.dirty {
			n.unmark()
		}
		return
	}
	if n.children != nil {
		dirty := false
		for _, c := range n.children {
			c.Collide(q)
			dirty = dirty || c.dirty
		}
		n.dirty = dirty
		return
	}
	n.matched = len(n.points) > 0
	n.dirty = n.matched
}

func (n *Node) unmark() {
	n.matched = false
	n.dirty = false
	if n.children == nil {
		return
	}
	for _, c := range n.children {
		if c.dirty || c.matched {
			c.unmark()
		}
	}
}

// Collect returns the number of points in flagged leaves and clears every
// flag. A second call without a new Collide returns 0.
func (n *Node) Collect() int {
	total := 0
	if n.children != nil {
		for _, c := range n.children {
			total += c.Collect()
		}
	} else if n.matched {
		total = len(n.points)
	}
	n.matched = false
	n.dirty = false
	return total
}

var stackPool = sync.Pool{
	New: func() any {
		stack := make([]*Node, 0, 64)
		return &stack
	},
}

// MatchingLeaves returns the leaves Collide(q) would flag, without
// touching any flag.
func (n *Node) MatchingLeaves(q Rect) []*Node {
	stackPtr := stackPool.Get().(*[]*Node)
	stack := append((*stackPtr)[:0], n)

	var leaves []*Node
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !Intersects(c.bounds, q) {
			continue
		}
		if c.children != nil {
			stack = append(stack,
				c.children[LowerRight], c.children[LowerLeft],
				c.children[UpperRight], c.children[UpperLeft])
			continue
		}
		if len(c.points) > 0 {
			leaves = append(leaves, c)
		}
	}

	stack = stack[:cap(stack)]
	clear(stack)
	*stackPtr = stack[:0]
	stackPool.Put(stackPtr)

	return leaves
}

// CountIn is the number of points a Collide(q) followed by Collect would
// report.
func (n *Node) CountIn(q Rect) int {
	total := 0
	for _, leaf := range n.MatchingLeaves(q) {
		total += len(leaf.points)
	}
	return total
}

// Bounds returns the node's rectangle.
func (n *Node) Bounds() Rect { return n.bounds }

// IsLeaf reports whether the node stores points directly.
func (n *Node) IsLeaf() bool { return n.children == nil }

// Capacity is the point count at which this leaf splits.
func (n *Node) Capacity() int { return n.capacity }

// Depth is 0 for the root.
func (n *Node) Depth() int { return n.depth }

// Population is the number of points stored under the node.
func (n *Node) Population() int { return n.population }

// Matched reports the flag set by the last Collide.
func (n *Node) Matched() bool { return n.matched }

// Collapsed reports whether this node last changed state by collapsing.
// It is for display only.
func (n *Node) Collapsed() bool { return n.collapsed }

// Points returns a copy of a leaf's points, nil for internal nodes.
func (n *Node) Points() []*Point {
	if n.children != nil || len(n.points) == 0 {
		return nil
	}
	out := make([]*Point, len(n.points))
	copy(out, n.points)
	return out
}

// Child returns the child in quadrant q, nil for leaves.
func (n *Node) Child(q Quadrant) *Node {
	if n.children == nil {
		return nil
	}
	return n.children[q]
}

// Children returns the four children in Quadrant order, nil for leaves.
func (n *Node) Children() []*Node {
	if n.children == nil {
		return nil
	}
	children := *n.children
	return children[:]
}

// Walk visits n and its descendants in pre-order. Returning false from fn
// skips the children of the node just visited.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) || n.children == nil {
		return
	}
	for _, c := range n.children {
		c.Walk(fn)
	}
}

// TreeStats summarises the shape of a tree.
type TreeStats struct {
	Nodes    int
	Leaves   int
	MaxDepth int
	Points   int
	// Overfull counts leaves at the depth limit holding capacity or more.
	Overfull int
}

// Stats walks the tree and returns its shape.
func (n *Node) Stats() TreeStats {
	var s TreeStats
	n.Walk(func(c *Node) bool {
		s.Nodes++
		if c.depth > s.MaxDepth {
			s.MaxDepth = c.depth
		}
		if c.children == nil {
			s.Leaves++
			s.Points += len(c.points)
			if len(c.points) >= c.capacity {
				s.Overfull++
			}
		}
		return true
	})
	return s
}
