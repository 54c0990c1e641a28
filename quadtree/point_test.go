package quadtree

import (
	"math/rand"
	"testing"
)

// fixedRand replays a fixed sequence of values.
type fixedRand struct {
	values []float64
	i      int
}

func (r *fixedRand) Float64() float64 {
	v := r.values[r.i%len(r.values)]
	r.i++
	return v
}

func TestNewPointDefaultVelocity(t *testing.T) {
	p := NewPoint(3, 4, &fixedRand{values: []float64{0.5, 0.25}})

	if p.X != 3 || p.Y != 4 || p.RX != 3 || p.RY != 4 {
		t.Fatalf("unexpected position %+v", p)
	}
	if p.VX != 5 {
		t.Errorf("VX = %v, want 5", p.VX)
	}
	if p.VY != 0.25 {
		t.Errorf("VY = %v, want 0.25", p.VY)
	}
}

func TestNewPointVelocityRanges(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		p := NewPoint(0, 0, rng)
		if p.VX < 0 || p.VX >= MaxSpeedX {
			t.Fatalf("VX %v outside [0, %v)", p.VX, MaxSpeedX)
		}
		if p.VY < 0 || p.VY >= MaxSpeedY {
			t.Fatalf("VY %v outside [0, %v)", p.VY, MaxSpeedY)
		}
	}
}

func TestPointStepTruncates(t *testing.T) {
	p := NewPointWithVelocity(0, 0, 0.6, -0.4)

	want := []struct {
		x, y int
	}{
		{0, 0},  // 0.6, -0.4
		{1, 0},  // 1.2, -0.8
		{1, -1}, // 1.8, -1.2
		{2, -1}, // 2.4, -1.6
	}
	for i, w := range want {
		p.Step()
		if p.X != w.x || p.Y != w.y {
			t.Errorf("step %d: got (%d,%d), want (%d,%d)", i+1, p.X, p.Y, w.x, w.y)
		}
		if p.X != int(p.RX) || p.Y != int(p.RY) {
			t.Errorf("step %d: integer position (%d,%d) out of sync with (%v,%v)", i+1, p.X, p.Y, p.RX, p.RY)
		}
	}
}

func TestPointReflect(t *testing.T) {
	bounds := Rect{0, 0, 100, 50}

	tests := []struct {
		name         string
		x, y         int
		wantX, wantY bool
	}{
		{"inside", 10, 10, false, false},
		{"right edge", 100, 10, true, false},
		{"left", -1, 10, true, false},
		{"bottom edge", 10, 50, false, true},
		{"top", 10, -3, false, true},
		{"corner", 120, 60, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPointWithVelocity(tt.x, tt.y, 2, 3)
			fx, fy := p.Reflect(bounds)
			if fx != tt.wantX || fy != tt.wantY {
				t.Fatalf("Reflect = (%v,%v), want (%v,%v)", fx, fy, tt.wantX, tt.wantY)
			}
			if tt.wantX && p.VX != -2 || !tt.wantX && p.VX != 2 {
				t.Errorf("VX = %v", p.VX)
			}
			if tt.wantY && p.VY != -3 || !tt.wantY && p.VY != 3 {
				t.Errorf("VY = %v", p.VY)
			}
			if p.X != tt.x || p.Y != tt.y {
				t.Errorf("position changed to (%d,%d)", p.X, p.Y)
			}
		})
	}
}

func TestPointClamp(t *testing.T) {
	bounds := Rect{0, 0, 100, 50}

	p := NewPointWithVelocity(0, 0, 1, 1)
	p.RX, p.RY = 104.5, -2.5
	p.X, p.Y = int(p.RX), int(p.RY)

	p.Clamp(bounds)
	if p.X != 99 || p.Y != 0 {
		t.Fatalf("Clamp moved point to (%d,%d), want (99,0)", p.X, p.Y)
	}
	if p.X != int(p.RX) || p.Y != int(p.RY) {
		t.Errorf("integer position out of sync: %+v", p)
	}

	in := NewPointWithVelocity(10, 10, 1, 1)
	in.RX = 10.7
	in.Clamp(bounds)
	if in.RX != 10.7 {
		t.Errorf("Clamp touched an in-bounds point: RX = %v", in.RX)
	}
}
