package sim

import (
	"errors"
	"fmt"
	"time"

	"quadsim/quadtree"
)

// Config holds the simulation parameters. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	Width  int
	Height int

	// Capacity is the root leaf capacity; every level doubles it.
	Capacity int
	MaxDepth int

	// Initial points are seeded in SeedRings concentric bands of
	// SeedPerRing points, each band RingStep further from the edges.
	SeedRings   int
	SeedPerRing int
	RingStep    int

	// QueryRadius is the half-size of the square query window around the
	// cursor.
	QueryRadius int
	TickRate    int

	// HeightSplit halves node heights by their height instead of width.
	HeightSplit bool
	// ClampOnReflect pulls displaced points back inside the bounds
	// instead of only flipping their velocity.
	ClampOnReflect bool
}

// DefaultConfig is a 1024x1024 field seeded with
// 100 points and a 100x100 query window, updated 60 times a second.
func DefaultConfig() Config {
	return Config{
		Width:       1024,
		Height:      1024,
		Capacity:    1,
		MaxDepth:    quadtree.DefaultMaxDepth,
		SeedRings:   10,
		SeedPerRing: 10,
		RingStep:    50,
		QueryRadius: 50,
		TickRate:    60,
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch {
	case c.Width < 1 || c.Height < 1:
		return fmt.Errorf("sim: bounds %dx%d must be positive", c.Width, c.Height)
	case c.Capacity < 1:
		return fmt.Errorf("sim: capacity %d must be at least 1", c.Capacity)
	case c.MaxDepth < 0:
		return fmt.Errorf("sim: max depth %d must not be negative", c.MaxDepth)
	case c.SeedRings < 0 || c.SeedPerRing < 0 || c.RingStep < 0:
		return errors.New("sim: seed settings must not be negative")
	case c.QueryRadius < 0:
		return fmt.Errorf("sim: query radius %d must not be negative", c.QueryRadius)
	case c.TickRate < 1:
		return fmt.Errorf("sim: tick rate %d must be at least 1", c.TickRate)
	}
	if c.SeedRings > 0 {
		inner := 2 * (c.SeedRings - 1) * c.RingStep
		if inner >= c.Width || inner >= c.Height {
			return fmt.Errorf("sim: %d seed rings %d apart do not fit in %dx%d", c.SeedRings, c.RingStep, c.Width, c.Height)
		}
	}
	return nil
}

// Bounds is the root rectangle of the tree.
func (c Config) Bounds() quadtree.Rect {
	return quadtree.Rect{Width: c.Width, Height: c.Height}
}

// TickInterval is the period between ticks.
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

func (c Config) treeOptions() []quadtree.Option {
	opts := []quadtree.Option{quadtree.WithMaxDepth(c.MaxDepth)}
	if c.HeightSplit {
		opts = append(opts, quadtree.WithHeightSplit())
	}
	return opts
}
