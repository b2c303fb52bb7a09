package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Registry is the Prometheus registry holding every lobby metric. It is kept
// separate from prometheus.DefaultRegisterer so embedding applications can
// choose whether to expose it.
var Registry = prometheus.NewRegistry()

// Stats is the process-wide lobby counter set.
var Stats = newStats(Registry)

type stats struct {
	// Local mirrors of the counters, read by the periodic reporter.
	totalConns  atomic.Int64
	closedConns atomic.Int64
	framesIn    atomic.Int64
	framesOut   atomic.Int64
	beatsOK     atomic.Int64
	beatsFailed atomic.Int64

	conns          *prometheus.CounterVec
	frames         *prometheus.CounterVec
	heartbeats     *prometheus.CounterVec
	meshProcesses  *prometheus.CounterVec
	playersOnline  prometheus.Gauge
	discoveryPolls prometheus.Histogram
}

func newStats(reg prometheus.Registerer) *stats {
	factory := promauto.With(reg)
	return &stats{
		conns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lobby",
			Subsystem: "scaffolding",
			Name:      "connections_total",
			Help:      "Scaffolding connections accepted or closed by the host.",
		}, []string{"event"}),
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lobby",
			Subsystem: "scaffolding",
			Name:      "frames_total",
			Help:      "Scaffolding frames read or written.",
		}, []string{"direction"}),
		heartbeats: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lobby",
			Subsystem: "scaffolding",
			Name:      "heartbeats_total",
			Help:      "Client heartbeat cycles by result.",
		}, []string{"result"}),
		meshProcesses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lobby",
			Subsystem: "mesh",
			Name:      "process_events_total",
			Help:      "Mesh network process lifecycle events.",
		}, []string{"event"}),
		playersOnline: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lobby",
			Name:      "players_online",
			Help:      "Players in the current lobby, host included.",
		}),
		discoveryPolls: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lobby",
			Subsystem: "mesh",
			Name:      "discovery_polls",
			Help:      "Peer list polls needed before the host became visible.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}),
	}
}

func (s *stats) AddConn() {
	s.totalConns.Add(1)
	s.conns.WithLabelValues("accepted").Inc()
}

func (s *stats) RemoveConn() {
	s.closedConns.Add(1)
	s.conns.WithLabelValues("closed").Inc()
}

func (s *stats) AddFrameIn() {
	s.framesIn.Add(1)
	s.frames.WithLabelValues("in").Inc()
}

func (s *stats) AddFrameOut() {
	s.framesOut.Add(1)
	s.frames.WithLabelValues("out").Inc()
}

func (s *stats) HeartbeatOK() {
	s.beatsOK.Add(1)
	s.heartbeats.WithLabelValues("ok").Inc()
}

func (s *stats) HeartbeatFailed() {
	s.beatsFailed.Add(1)
	s.heartbeats.WithLabelValues("failed").Inc()
}

func (s *stats) MeshStarted() { s.meshProcesses.WithLabelValues("started").Inc() }
func (s *stats) MeshExited()  { s.meshProcesses.WithLabelValues("exited").Inc() }

func (s *stats) SetPlayers(n int) { s.playersOnline.Set(float64(n)) }

func (s *stats) ObserveDiscovery(polls int) { s.discoveryPolls.Observe(float64(polls)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs lobby statistics every
// interval. Quiet intervals are skipped. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prevTotal, prevClosed, prevIn, prevOut, prevOK, prevFailed int64
		for {
			select {
			case <-ticker.C:
				total := Stats.totalConns.Load()
				closed := Stats.closedConns.Load()
				in := Stats.framesIn.Load()
				out := Stats.framesOut.Load()
				ok := Stats.beatsOK.Load()
				failed := Stats.beatsFailed.Load()

				if total != prevTotal || closed != prevClosed || in != prevIn || out != prevOut || failed != prevFailed {
					pterm.DefaultLogger.Info(formatStats(total-prevTotal, closed-prevClosed, in-prevIn, out-prevOut, ok-prevOK, failed-prevFailed))
				}

				prevTotal, prevClosed = total, closed
				prevIn, prevOut = in, out
				prevOK, prevFailed = ok, failed

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a one-line summary of the interval's activity.
func formatStats(connUp, connDown, framesIn, framesOut, beatsOK, beatsFailed int64) string {
	return fmt.Sprintf("Conn: %2d↑ %2d↓ | Frames: %4d in %4d out | Heartbeat: %d ok %d failed",
		connUp,
		connDown,
		framesIn,
		framesOut,
		beatsOK,
		beatsFailed,
	)
}
