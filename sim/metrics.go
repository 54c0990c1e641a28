package sim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"quadsim/quadtree"
)

// Metrics exports per-tick simulation figures. A nil *Metrics records
// nothing.
type Metrics struct {
	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	points       prometheus.Gauge
	strays       prometheus.Gauge
	matches      prometheus.Gauge
	displaced    prometheus.Counter
	treeNodes    prometheus.Gauge
	treeDepth    prometheus.Gauge
	insertErrors *prometheus.CounterVec
}

// NewMetrics registers the simulation metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "quadsim_ticks_total",
			Help: "Simulation ticks executed.",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "quadsim_tick_duration_seconds",
			Help:    "Time spent in one tick: step, verify, query and reinsert.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14), // 10µs to ~80ms
		}),
		points: f.NewGauge(prometheus.GaugeOpts{
			Name: "quadsim_points",
			Help: "Points tracked by the simulation.",
		}),
		strays: f.NewGauge(prometheus.GaugeOpts{
			Name: "quadsim_stray_points",
			Help: "Points outside the field waiting to be reinserted.",
		}),
		matches: f.NewGauge(prometheus.GaugeOpts{
			Name: "quadsim_query_matches",
			Help: "Points counted by the last cursor query.",
		}),
		displaced: f.NewCounter(prometheus.CounterOpts{
			Name: "quadsim_displaced_points_total",
			Help: "Points returned by the root during re-validation.",
		}),
		treeNodes: f.NewGauge(prometheus.GaugeOpts{
			Name: "quadsim_tree_nodes",
			Help: "Nodes in the quadtree.",
		}),
		treeDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "quadsim_tree_depth",
			Help: "Depth of the deepest quadtree node.",
		}),
		insertErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quadsim_insert_errors_total",
			Help: "Insertions that failed or overflowed, by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) observeTick(res TickResult, tree quadtree.TreeStats, points int) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(res.Duration.Seconds())
	m.points.Set(float64(points))
	m.strays.Set(float64(res.Strays))
	m.matches.Set(float64(res.Matches))
	m.displaced.Add(float64(res.Displaced))
	m.treeNodes.Set(float64(tree.Nodes))
	m.treeDepth.Set(float64(tree.MaxDepth))
}

func (m *Metrics) insertError(reason string) {
	if m == nil {
		return
	}
	m.insertErrors.WithLabelValues(reason).Inc()
}
