package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/reiver/go-oi"
	"github.com/reiver/go-telnet"
	log "github.com/sirupsen/logrus"

	"quadsim/quadtree"
	"quadsim/sim"
)

const consoleHelp = `commands (terminate with ';'):
  add X Y [VX VY]   add a point
  cursor X Y        move the query window
  count             points matched by the last tick
  query L T W H     points in leaves overlapping the rectangle
  stats             simulation statistics
  help              this text`

// Console is a telnet handler driving a simulation with ';'-terminated
// text commands.
type Console struct {
	sim    *sim.Simulation
	logger log.FieldLogger
}

// NewConsole creates a console for s.
func NewConsole(s *sim.Simulation, logger log.FieldLogger) *Console {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Console{sim: s, logger: logger}
}

// ServeTELNET implements telnet.Handler. Input is read byte by byte and
// executed each time a ';' arrives.
func (c *Console) ServeTELNET(ctx telnet.Context, w telnet.Writer, r telnet.Reader) {
	var buffer [1]byte
	p := buffer[:]

	var command strings.Builder
	for {
		n, err := r.Read(p)
		if n > 0 {
			switch b := p[0]; b {
			case '\r', '\n':
			case ';':
				if _, werr := oi.LongWriteString(w, c.Execute(command.String())+"\n"); werr != nil {
					return
				}
				command.Reset()
			default:
				command.WriteByte(b)
			}
		}
		if err != nil {
			return
		}
	}
}

// Execute runs one command and returns the reply line.
func (c *Console) Execute(command string) string {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return ""
	}

	switch parts[0] {
	case "add":
		if len(parts) != 3 && len(parts) != 5 {
			return "usage: add X Y [VX VY]"
		}
		x, y, err := parseInts(parts[1], parts[2])
		if err != nil {
			return err.Error()
		}
		var p sim.PointView
		if len(parts) == 5 {
			vx, verr := strconv.ParseFloat(parts[3], 64)
			vy, herr := strconv.ParseFloat(parts[4], 64)
			if err := errors.Join(verr, herr); err != nil {
				return err.Error()
			}
			p, err = c.sim.AddPointWithVelocity(x, y, vx, vy)
		} else {
			p, err = c.sim.AddPoint(x, y)
		}
		if err != nil {
			return err.Error()
		}
		return fmt.Sprintf("added (%d,%d) v=(%.2f,%.2f)", p.X, p.Y, p.VX, p.VY)

	case "cursor":
		if len(parts) != 3 {
			return "usage: cursor X Y"
		}
		x, y, err := parseInts(parts[1], parts[2])
		if err != nil {
			return err.Error()
		}
		c.sim.SetCursor(x, y)
		return fmt.Sprintf("cursor at (%d,%d)", x, y)

	case "count":
		snap := c.sim.Snapshot()
		return fmt.Sprintf("tick %d: %d matches", snap.Tick, snap.Matches)

	case "query":
		if len(parts) != 5 {
			return "usage: query L T W H"
		}
		l, t, err := parseInts(parts[1], parts[2])
		if err != nil {
			return err.Error()
		}
		w, h, err := parseInts(parts[3], parts[4])
		if err != nil {
			return err.Error()
		}
		r := quadtree.Rect{Left: l, Top: t, Width: w, Height: h}
		return fmt.Sprintf("%d points in leaves overlapping %v", c.sim.Count(r), r)

	case "stats":
		st := c.sim.Stats()
		return fmt.Sprintf("ticks=%d points=%d strays=%d matches=%d nodes=%d leaves=%d depth=%d avg_tick=%v",
			st.Ticks, st.Points, st.Strays, st.LastMatches, st.Tree.Nodes, st.Tree.Leaves, st.Tree.MaxDepth, st.AvgTickTime)

	case "help":
		return consoleHelp
	}
	return fmt.Sprintf("unrecognized command: %s", command)
}

func parseInts(a, b string) (int, int, error) {
	x, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.Atoi(b)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

// ServeConsole accepts telnet connections on addr until ctx is done.
func ServeConsole(ctx context.Context, addr string, c *Console) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	c.logger.WithField("addr", l.Addr().String()).Info("Starting telnet console")
	srv := &telnet.Server{Addr: addr, Handler: c}
	err = srv.Serve(l)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
