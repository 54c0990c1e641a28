// Command quadview runs a simulation in the terminal. Moving the mouse
// moves the query window, clicking adds a point, space pauses and q, Esc
// or Ctrl-C quits.
package main

import (
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	log "github.com/sirupsen/logrus"

	"quadsim/sim"
)

func statusLine(snap sim.Snapshot, paused bool) string {
	s := fmt.Sprintf(" tick %d  points %d  strays %d  matches %d  nodes %d ",
		snap.Tick, len(snap.Points), snap.Strays, snap.Matches, len(snap.Nodes))
	if paused {
		s += " [paused]"
	}
	return s
}

type app struct {
	screen tcell.Screen
	sim    *sim.Simulation
	view   viewport
	paused bool

	// button tracks the held mouse buttons so a drag adds one point.
	button tcell.ButtonMask
}

func (a *app) resize() {
	cols, rows := a.screen.Size()
	a.view = newViewport(a.sim.Snapshot().Bounds, cols, rows)
	a.screen.Sync()
}

// handle applies one event and reports whether the app keeps running.
func (a *app) handle(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch {
		case ev.Key() == tcell.KeyEscape, ev.Key() == tcell.KeyCtrlC:
			return false
		case ev.Key() == tcell.KeyRune && ev.Rune() == 'q':
			return false
		case ev.Key() == tcell.KeyRune && ev.Rune() == ' ':
			a.paused = !a.paused
		}

	case *tcell.EventMouse:
		cx, cy := ev.Position()
		if !a.view.inside(cx, cy) {
			break
		}
		x, y := a.view.worldAt(cx, cy)
		a.sim.SetCursor(x, y)

		buttons := ev.Buttons()
		if buttons&tcell.Button1 != 0 && a.button&tcell.Button1 == 0 {
			if _, err := a.sim.AddPoint(x, y); err != nil {
				log.WithFields(log.Fields{"x": x, "y": y}).WithError(err).Debug("Click rejected")
			}
		}
		a.button = buttons

	case *tcell.EventResize:
		a.resize()
	}
	return true
}

func (a *app) run() {
	ticker := time.NewTicker(a.sim.Config().TickInterval())
	defer ticker.Stop()

	eventChan := make(chan tcell.Event, 100)
	go func() {
		for {
			ev := a.screen.PollEvent()
			if ev == nil {
				return
			}
			eventChan <- ev
		}
	}()

	draw(a.screen, a.view, a.sim.Snapshot(), a.paused)
	for {
		select {
		case ev := <-eventChan:
			if !a.handle(ev) {
				return
			}
		case <-ticker.C:
			if !a.paused {
				a.sim.Tick()
			}
			draw(a.screen, a.view, a.sim.Snapshot(), a.paused)
		}
	}
}

func main() {
	cfg := sim.DefaultConfig()
	flag.IntVar(&cfg.Width, "width", cfg.Width, "field width")
	flag.IntVar(&cfg.Height, "height", cfg.Height, "field height")
	flag.IntVar(&cfg.Capacity, "capacity", cfg.Capacity, "root leaf capacity")
	flag.IntVar(&cfg.SeedRings, "rings", cfg.SeedRings, "number of seed rings")
	flag.IntVar(&cfg.SeedPerRing, "per-ring", cfg.SeedPerRing, "points per seed ring")
	flag.IntVar(&cfg.QueryRadius, "radius", cfg.QueryRadius, "query window half-size")
	flag.IntVar(&cfg.TickRate, "rate", cfg.TickRate, "ticks per second")
	flag.BoolVar(&cfg.HeightSplit, "height-split", cfg.HeightSplit, "halve node heights by height")
	flag.BoolVar(&cfg.ClampOnReflect, "clamp", cfg.ClampOnReflect, "clamp reflected points into the field")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	logFile := flag.String("log", "", "write debug log output to this file")
	flag.Parse()

	// The screen owns the terminal; logs go to a file or nowhere.
	log.SetOutput(io.Discard)
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open log: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		log.SetOutput(f)
		log.SetLevel(log.DebugLevel)
	}

	s, err := sim.New(cfg, rand.New(rand.NewSource(*seed)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "quadview: %v\n", err)
		os.Exit(1)
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "quadview: %v\n", err)
		os.Exit(1)
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "quadview: %v\n", err)
		os.Exit(1)
	}
	defer screen.Fini()
	screen.EnableMouse()
	screen.HideCursor()

	a := &app{screen: screen, sim: s}
	a.resize()
	a.run()
}
