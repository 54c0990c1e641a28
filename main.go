package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"quadsim/server"
	"quadsim/sim"
)

const statsInterval = 5 * time.Second

// printStats prints the current simulation statistics
func printStats(s *sim.Simulation, srv *server.Server) {
	st := s.Stats()

	fmt.Printf("\n--- Simulation Statistics ---\n")
	fmt.Printf("Ticks: %d, average tick time %v\n", st.Ticks, st.AvgTickTime)
	fmt.Printf("Points: %d tracked, %d outside the field\n", st.Points, st.Strays)
	fmt.Printf("Query: %d matches last tick, %d displaced in total\n", st.LastMatches, st.TotalDisplaced)
	fmt.Printf("Tree: %d nodes, %d leaves, depth %d, %d overfull\n",
		st.Tree.Nodes, st.Tree.Leaves, st.Tree.MaxDepth, st.Tree.Overfull)
	fmt.Printf("Insert errors: %d, websocket clients: %d\n", st.InsertErrors, srv.Clients())
	fmt.Printf("-----------------------------\n")
}

func main() {
	cfg := sim.DefaultConfig()
	flag.IntVar(&cfg.Width, "width", cfg.Width, "field width")
	flag.IntVar(&cfg.Height, "height", cfg.Height, "field height")
	flag.IntVar(&cfg.Capacity, "capacity", cfg.Capacity, "root leaf capacity, doubled at every level")
	flag.IntVar(&cfg.MaxDepth, "max-depth", cfg.MaxDepth, "deepest level a leaf may split to")
	flag.IntVar(&cfg.SeedRings, "rings", cfg.SeedRings, "number of seed rings")
	flag.IntVar(&cfg.SeedPerRing, "per-ring", cfg.SeedPerRing, "points per seed ring")
	flag.IntVar(&cfg.RingStep, "ring-step", cfg.RingStep, "distance between seed rings")
	flag.IntVar(&cfg.QueryRadius, "radius", cfg.QueryRadius, "query window half-size")
	flag.IntVar(&cfg.TickRate, "rate", cfg.TickRate, "ticks per second")
	flag.BoolVar(&cfg.HeightSplit, "height-split", cfg.HeightSplit, "halve node heights by height instead of width")
	flag.BoolVar(&cfg.ClampOnReflect, "clamp", cfg.ClampOnReflect, "clamp reflected points into the field")
	addr := flag.String("addr", ":8080", "HTTP and websocket listen address")
	telnetAddr := flag.String("telnet", ":3456", "telnet console listen address, empty to disable")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	logger := log.StandardLogger()
	s, err := sim.New(cfg, rand.New(rand.NewSource(*seed)),
		sim.WithLogger(logger),
		sim.WithMetrics(sim.NewMetrics(registry)),
	)
	if err != nil {
		log.Fatalf("Failed to create simulation: %v", err)
	}

	srv := server.New(s, registry, logger)
	go func() {
		if err := srv.ListenAndServe(ctx, *addr); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	if *telnetAddr != "" {
		go func() {
			if err := server.ServeConsole(ctx, *telnetAddr, server.NewConsole(s, logger)); err != nil {
				log.WithError(err).Error("Telnet console stopped")
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				printStats(s, srv)
			}
		}
	}()

	fmt.Println("Press Ctrl+C to stop the simulation")
	if err := s.Run(ctx, func(sim.TickResult) {
		srv.Broadcast(s.Snapshot())
	}); err != nil {
		log.WithError(err).Error("Simulation stopped")
	}
	printStats(s, srv)
}
