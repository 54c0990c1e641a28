package sim

import "quadsim/quadtree"

// Box is a rectangle as sent to renderers.
type Box struct {
	Left   int `json:"left" msgpack:"left"`
	Top    int `json:"top" msgpack:"top"`
	Width  int `json:"width" msgpack:"width"`
	Height int `json:"height" msgpack:"height"`
}

func boxOf(r quadtree.Rect) Box {
	return Box{Left: r.Left, Top: r.Top, Width: r.Width, Height: r.Height}
}

// NodeView is the drawable state of one tree node.
type NodeView struct {
	Box
	Depth      int  `json:"depth" msgpack:"depth"`
	Leaf       bool `json:"leaf" msgpack:"leaf"`
	Population int  `json:"population" msgpack:"population"`
	Matched    bool `json:"matched" msgpack:"matched"`
	Collapsed  bool `json:"collapsed" msgpack:"collapsed"`
}

// PointView is the drawable state of one point.
type PointView struct {
	X     int     `json:"x" msgpack:"x"`
	Y     int     `json:"y" msgpack:"y"`
	VX    float64 `json:"vx" msgpack:"vx"`
	VY    float64 `json:"vy" msgpack:"vy"`
	Stray bool    `json:"stray,omitempty" msgpack:"stray,omitempty"`
}

func pointView(p *quadtree.Point) PointView {
	return PointView{X: p.X, Y: p.Y, VX: p.VX, VY: p.VY}
}

// Snapshot is an immutable copy of the simulation taken after the cursor
// query ran, so matched leaves are visible.
type Snapshot struct {
	Tick    uint64      `json:"tick" msgpack:"tick"`
	Bounds  Box         `json:"bounds" msgpack:"bounds"`
	Query   Box         `json:"query" msgpack:"query"`
	Matches int         `json:"matches" msgpack:"matches"`
	Strays  int         `json:"strays" msgpack:"strays"`
	Nodes   []NodeView  `json:"nodes" msgpack:"nodes"`
	Points  []PointView `json:"points" msgpack:"points"`
}

func buildSnapshot(tick uint64, root *quadtree.Node, query quadtree.Rect, points, strays []*quadtree.Point) Snapshot {
	snap := Snapshot{
		Tick:   tick,
		Bounds: boxOf(root.Bounds()),
		Query:  boxOf(query),
		Strays: len(strays),
		Points: make([]PointView, 0, len(points)),
	}

	root.Walk(func(n *quadtree.Node) bool {
		snap.Nodes = append(snap.Nodes, NodeView{
			Box:        boxOf(n.Bounds()),
			Depth:      n.Depth(),
			Leaf:       n.IsLeaf(),
			Population: n.Population(),
			Matched:    n.Matched(),
			Collapsed:  n.Collapsed(),
		})
		return true
	})

	stray := make(map[*quadtree.Point]bool, len(strays))
	for _, p := range strays {
		stray[p] = true
	}
	for _, p := range points {
		v := pointView(p)
		v.Stray = stray[p]
		snap.Points = append(snap.Points, v)
	}
	return snap
}
