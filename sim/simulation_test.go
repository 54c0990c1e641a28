package sim

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"

	"quadsim/quadtree"
)

var quiet = func() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}()

// emptyConfig is a small field with no seeded points.
func emptyConfig() Config {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 100, 100
	cfg.SeedRings = 0
	cfg.QueryRadius = 5
	return cfg
}

func newSim(t *testing.T, cfg Config, opts ...Option) *Simulation {
	t.Helper()
	opts = append([]Option{WithLogger(quiet)}, opts...)
	s, err := New(cfg, rand.New(rand.NewSource(1)), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero width", func(c *Config) { c.Width = 0 }},
		{"zero capacity", func(c *Config) { c.Capacity = 0 }},
		{"negative depth", func(c *Config) { c.MaxDepth = -1 }},
		{"negative radius", func(c *Config) { c.QueryRadius = -1 }},
		{"zero tick rate", func(c *Config) { c.TickRate = 0 }},
		{"rings too wide", func(c *Config) { c.RingStep = 60 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestNewSeedsRings(t *testing.T) {
	s := newSim(t, DefaultConfig())

	if len(s.points) != 100 {
		t.Fatalf("seeded %d points, want 100", len(s.points))
	}
	if got := s.root.Population(); got != 100 {
		t.Errorf("tree population %d, want 100", got)
	}
	for i, p := range s.points {
		border := (i / 10) * 50
		if p.X < border || p.X >= 1024-border || p.Y < border || p.Y >= 1024-border {
			t.Errorf("point %d at (%d,%d) outside ring band %d", i, p.X, p.Y, border)
		}
	}
	if got := s.Snapshot(); len(got.Points) != 100 || got.Tick != 0 {
		t.Errorf("initial snapshot tick %d with %d points", got.Tick, len(got.Points))
	}
}

func TestTickKeepsEveryPoint(t *testing.T) {
	s := newSim(t, DefaultConfig())

	for i := 0; i < 300; i++ {
		res := s.Tick()
		if got := s.root.Population() + len(s.strays); got != len(s.points) {
			t.Fatalf("tick %d: tree %d + strays %d != tracked %d", res.Tick, s.root.Population(), len(s.strays), len(s.points))
		}
		if res.Strays != len(s.strays) {
			t.Fatalf("tick %d: result reports %d strays, have %d", res.Tick, res.Strays, len(s.strays))
		}
		if res.Reinserted+res.Strays < res.Displaced {
			t.Fatalf("tick %d: displaced %d but placed %d", res.Tick, res.Displaced, res.Reinserted+res.Strays)
		}
	}
	for _, p := range s.strays {
		if s.bounds.Contains(p.X, p.Y) {
			t.Errorf("stray %v is inside the field", p)
		}
	}
}

func TestTickMatchesFlaggedLeaves(t *testing.T) {
	s := newSim(t, DefaultConfig())

	for i := 0; i < 50; i++ {
		s.SetCursor(s.rand.Intn(1024), s.rand.Intn(1024))
		res := s.Tick()
		snap := s.Snapshot()

		want := 0
		for _, n := range snap.Nodes {
			if n.Matched {
				if !n.Leaf {
					t.Fatalf("internal node %+v matched", n.Box)
				}
				want += n.Population
			}
		}
		if res.Matches != want || snap.Matches != want {
			t.Fatalf("tick %d: matches %d (snapshot %d), flagged leaves hold %d", res.Tick, res.Matches, snap.Matches, want)
		}
	}
}

func TestCursorQuery(t *testing.T) {
	s := newSim(t, emptyConfig())
	if _, err := s.AddPointWithVelocity(75, 75, 0, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddPointWithVelocity(10, 90, 0, 0); err != nil {
		t.Fatal(err)
	}

	s.SetCursor(75, 75)
	if res := s.Tick(); res.Matches != 1 {
		t.Errorf("cursor on point: matches %d, want 1", res.Matches)
	}
	if got := s.Snapshot().Query; got != (Box{70, 70, 10, 10}) {
		t.Errorf("query window %+v", got)
	}

	s.SetCursor(-500, -500)
	if res := s.Tick(); res.Matches != 0 {
		t.Errorf("cursor off field: matches %d, want 0", res.Matches)
	}
}

func TestReflectionLeavesPositionAlone(t *testing.T) {
	s := newSim(t, emptyConfig())
	v, err := s.AddPointWithVelocity(99, 50, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if v.X != 99 {
		t.Fatalf("added point at %d", v.X)
	}
	p := s.points[0]

	res := s.Tick()
	if res.Displaced != 1 || res.Strays != 1 || res.Reinserted != 0 {
		t.Fatalf("first tick %+v", res)
	}
	if p.X != 101 || p.VX != -2 {
		t.Fatalf("point after reflection: x=%d vx=%v, want 101 and -2", p.X, p.VX)
	}
	if s.root.Population() != 0 {
		t.Fatalf("stray counted in the tree")
	}

	res = s.Tick()
	if res.Strays != 0 || res.Reinserted != 1 {
		t.Fatalf("second tick %+v", res)
	}
	if p.X != 99 || s.root.Population() != 1 {
		t.Errorf("point at %d, population %d", p.X, s.root.Population())
	}
}

func TestClampOnReflect(t *testing.T) {
	cfg := emptyConfig()
	cfg.ClampOnReflect = true
	s := newSim(t, cfg)
	if _, err := s.AddPointWithVelocity(99, 50, 2, 0); err != nil {
		t.Fatal(err)
	}
	p := s.points[0]

	res := s.Tick()
	if res.Displaced != 1 || res.Reinserted != 1 || res.Strays != 0 {
		t.Fatalf("tick %+v", res)
	}
	if p.X != 99 || p.VX != -2 {
		t.Errorf("point x=%d vx=%v, want 99 and -2", p.X, p.VX)
	}
}

func TestSteer(t *testing.T) {
	b := quadtree.Rect{Width: 10, Height: 10}
	tests := []struct {
		name           string
		x, y           int
		vx, vy         float64
		wantVX, wantVY float64
	}{
		{"leaving left", -3, 5, -1, 0, 1, 0},
		{"returning left", -3, 5, 1, 0, 1, 0},
		{"leaving right", 12, 5, 1, 0.5, -1, 0.5},
		{"leaving bottom", 5, 10, 0, 1, 0, -1},
		{"leaving top", 5, -2, 0, -1, 0, 1},
		{"inside", 5, 5, -1, -1, -1, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := quadtree.NewPointWithVelocity(tt.x, tt.y, tt.vx, tt.vy)
			steer(p, b)
			if p.VX != tt.wantVX || p.VY != tt.wantVY {
				t.Errorf("velocity (%v,%v), want (%v,%v)", p.VX, p.VY, tt.wantVX, tt.wantVY)
			}
		})
	}
}

func TestAddPointOutOfBounds(t *testing.T) {
	s := newSim(t, emptyConfig())
	_, err := s.AddPoint(100, 10)
	if !errors.Is(err, quadtree.ErrOutOfBounds) {
		t.Fatalf("got %v, want ErrOutOfBounds", err)
	}
	if len(s.points) != 0 {
		t.Errorf("rejected point is tracked")
	}
}

func TestCountDoesNotDisturbTick(t *testing.T) {
	s := newSim(t, emptyConfig())
	for _, c := range [][2]int{{10, 10}, {12, 12}, {80, 80}} {
		if _, err := s.AddPointWithVelocity(c[0], c[1], 0, 0); err != nil {
			t.Fatal(err)
		}
	}
	if got := s.Count(quadtree.Rect{Width: 100, Height: 100}); got != 3 {
		t.Errorf("Count = %d, want 3", got)
	}
	s.SetCursor(80, 80)
	if res := s.Tick(); res.Matches != 1 {
		t.Errorf("matches %d, want 1", res.Matches)
	}
}

func TestMetricsRecordTicks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	s := newSim(t, emptyConfig(), WithMetrics(m))
	if _, err := s.AddPointWithVelocity(50, 50, 0, 0); err != nil {
		t.Fatal(err)
	}
	_, _ = s.AddPoint(-1, -1)

	s.SetCursor(50, 50)
	for i := 0; i < 3; i++ {
		s.Tick()
	}

	if got := testutil.ToFloat64(m.ticks); got != 3 {
		t.Errorf("ticks = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.points); got != 1 {
		t.Errorf("points = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.matches); got != 1 {
		t.Errorf("matches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.insertErrors.WithLabelValues("out_of_bounds")); got != 1 {
		t.Errorf("out_of_bounds errors = %v, want 1", got)
	}
}

func TestStats(t *testing.T) {
	s := newSim(t, DefaultConfig())
	for i := 0; i < 10; i++ {
		s.Tick()
	}
	st := s.Stats()
	if st.Ticks != 10 || st.Points != 100 {
		t.Errorf("stats %+v", st)
	}
	if st.Tree.Points+st.Strays != 100 {
		t.Errorf("tree holds %d, strays %d", st.Tree.Points, st.Strays)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := emptyConfig()
	cfg.TickRate = 1000
	s := newSim(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ticks := 0
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(TickResult) { ticks++ })
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	if ticks == 0 {
		t.Error("no ticks ran")
	}
}
