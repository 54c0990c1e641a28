package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"quadsim/quadtree"
)

// TickResult describes one tick.
type TickResult struct {
	Tick       uint64
	Matches    int
	Displaced  int
	Reinserted int
	Strays     int
	Duration   time.Duration
}

// Stats tracks the simulation since it started.
type Stats struct {
	Ticks          uint64
	Points         int
	Strays         int
	LastMatches    int
	TotalDisplaced uint64
	InsertErrors   uint64
	AvgTickTime    time.Duration
	Tree           quadtree.TreeStats
}

// Option configures a Simulation.
type Option func(*Simulation)

// WithLogger replaces the logrus standard logger.
func WithLogger(l log.FieldLogger) Option {
	return func(s *Simulation) {
		s.logger = l
	}
}

// WithMetrics records every tick on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Simulation) {
		s.metrics = m
	}
}

// Simulation owns a set of moving points and the quadtree indexing them.
// The tree is single-mutator; the mutex serialises the tick loop against
// handlers adding points or moving the cursor.
type Simulation struct {
	mu sync.Mutex

	cfg    Config
	bounds quadtree.Rect
	root   *quadtree.Node
	rand   *rand.Rand

	// points holds every tracked point; strays is the subset currently
	// outside the tree.
	points []*quadtree.Point
	strays []*quadtree.Point

	cursorX, cursorY int

	tick     uint64
	stats    Stats
	snapshot Snapshot

	logger  log.FieldLogger
	metrics *Metrics
}

// New builds the tree and seeds the initial points from rng.
func New(cfg Config, rng *rand.Rand, opts ...Option) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root, err := quadtree.New(cfg.Bounds(), cfg.Capacity, cfg.treeOptions()...)
	if err != nil {
		return nil, fmt.Errorf("sim: create tree: %w", err)
	}

	s := &Simulation{
		cfg:     cfg,
		bounds:  cfg.Bounds(),
		root:    root,
		rand:    rng,
		cursorX: cfg.Width / 2,
		cursorY: cfg.Height / 2,
		logger:  log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.seed()
	s.snapshot = buildSnapshot(0, s.root, s.queryRect(), s.points, s.strays)
	return s, nil
}

// seed fills each ring's band [border, size-border) with random points.
func (s *Simulation) seed() {
	for i := 0; i < s.cfg.SeedRings; i++ {
		border := i * s.cfg.RingStep
		for j := 0; j < s.cfg.SeedPerRing; j++ {
			x := border + s.rand.Intn(s.cfg.Width-2*border)
			y := border + s.rand.Intn(s.cfg.Height-2*border)
			if _, err := s.add(quadtree.NewPoint(x, y, s.rand)); err != nil {
				s.logger.WithFields(log.Fields{"x": x, "y": y}).WithError(err).Warn("Seed point rejected")
			}
		}
	}
	s.logger.WithFields(log.Fields{"points": len(s.points), "bounds": s.bounds}).Info("Seeded simulation")
}

// AddPoint creates a point at (x, y) with a random velocity.
func (s *Simulation) AddPoint(x, y int) (PointView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(quadtree.NewPoint(x, y, s.rand))
}

// AddPointWithVelocity creates a point at (x, y) moving by (vx, vy).
func (s *Simulation) AddPointWithVelocity(x, y int, vx, vy float64) (PointView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(quadtree.NewPointWithVelocity(x, y, vx, vy))
}

// add tracks p once the tree accepted it. Overflowing the depth limit still
// stores the point, so it is tracked and only logged.
func (s *Simulation) add(p *quadtree.Point) (PointView, error) {
	err := s.root.Insert(p)
	if errors.Is(err, quadtree.ErrOutOfBounds) {
		s.metrics.insertError("out_of_bounds")
		return PointView{}, err
	}
	if err != nil {
		s.insertOverflow(p, err)
	}
	s.points = append(s.points, p)
	return pointView(p), nil
}

func (s *Simulation) insertOverflow(p *quadtree.Point, err error) {
	s.stats.InsertErrors++
	s.metrics.insertError("max_depth")
	s.logger.WithField("point", p).WithError(err).Warn("Insert overflowed")
}

// SetCursor centres the query window on (x, y).
func (s *Simulation) SetCursor(x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursorX, s.cursorY = x, y
}

func (s *Simulation) queryRect() quadtree.Rect {
	r := s.cfg.QueryRadius
	return quadtree.Rect{Left: s.cursorX - r, Top: s.cursorY - r, Width: 2 * r, Height: 2 * r}
}

// Count returns how many points the cursor query would report for q
// right now, without disturbing the tick's match flags.
func (s *Simulation) Count(q quadtree.Rect) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root.CountIn(q)
}

// Tick advances every point, re-validates the tree, runs the cursor query
// and puts displaced points back.
func (s *Simulation) Tick() TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	s.tick++
	res := TickResult{Tick: s.tick}

	for _, p := range s.points {
		p.Step()
	}

	displaced := s.root.Verify()
	res.Displaced = len(displaced)

	s.root.Collide(s.queryRect())
	snap := buildSnapshot(s.tick, s.root, s.queryRect(), s.points, s.strays)
	res.Matches = s.root.Collect()
	snap.Matches = res.Matches
	s.snapshot = snap

	for _, p := range displaced {
		p.Reflect(s.bounds)
		if s.cfg.ClampOnReflect {
			p.Clamp(s.bounds)
		}
	}
	for _, p := range s.strays {
		steer(p, s.bounds)
	}

	pending := make([]*quadtree.Point, 0, len(displaced)+len(s.strays))
	pending = append(pending, displaced...)
	pending = append(pending, s.strays...)
	s.strays = s.strays[:0]

	for _, p := range pending {
		err := s.root.Insert(p)
		switch {
		case err == nil:
			res.Reinserted++
		case errors.Is(err, quadtree.ErrOutOfBounds):
			// Reflection does not move the point; it comes back in on a
			// later tick.
			s.strays = append(s.strays, p)
		default:
			res.Reinserted++
			s.insertOverflow(p, err)
		}
	}
	res.Strays = len(s.strays)
	res.Duration = time.Since(start)

	s.record(res)
	return res
}

// steer turns a stray back toward the bounds on any axis it is leaving.
// Freshly displaced points were already reflected; strays only need their
// velocity corrected when they drift out on a second axis.
func steer(p *quadtree.Point, b quadtree.Rect) {
	if (p.X < b.Left && p.VX < 0) || (p.X >= b.Right() && p.VX > 0) {
		p.VX = -p.VX
	}
	if (p.Y < b.Top && p.VY < 0) || (p.Y >= b.Bottom() && p.VY > 0) {
		p.VY = -p.VY
	}
}

func (s *Simulation) record(res TickResult) {
	tree := s.root.Stats()

	s.stats.Ticks = res.Tick
	s.stats.Points = len(s.points)
	s.stats.Strays = res.Strays
	s.stats.LastMatches = res.Matches
	s.stats.TotalDisplaced += uint64(res.Displaced)
	s.stats.Tree = tree

	// Weighted average, new value weighs 0.1.
	if s.stats.Ticks == 1 {
		s.stats.AvgTickTime = res.Duration
	} else {
		const weight = 0.1
		s.stats.AvgTickTime = time.Duration(float64(s.stats.AvgTickTime)*(1-weight) + float64(res.Duration)*weight)
	}

	s.metrics.observeTick(res, tree, len(s.points))
}

// Snapshot returns the state captured during the last tick.
func (s *Simulation) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Stats returns the running statistics.
func (s *Simulation) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.Points = len(s.points)
	stats.Strays = len(s.strays)
	stats.Tree = s.root.Stats()
	return stats
}

// Config returns the configuration the simulation was built with.
func (s *Simulation) Config() Config {
	return s.cfg
}

// Run ticks at the configured rate until ctx is done, calling onTick after
// every tick when it is not nil.
func (s *Simulation) Run(ctx context.Context, onTick func(TickResult)) error {
	ticker := time.NewTicker(s.cfg.TickInterval())
	defer ticker.Stop()

	s.logger.WithFields(log.Fields{"points": len(s.Snapshot().Points), "rate": s.cfg.TickRate}).Info("Starting simulation")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping simulation")
			return nil
		case <-ticker.C:
			res := s.Tick()
			if onTick != nil {
				onTick(res)
			}
		}
	}
}
