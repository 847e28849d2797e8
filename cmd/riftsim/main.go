// riftsim runs a fabric of RIFT nodes from a topology file, driving each
// node's LIE/ZTP event loops over real UDP multicast sockets and
// periodically writing a JSON snapshot of the converging fabric.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rift-sim/riftsim/internal/config"
	"github.com/rift-sim/riftsim/internal/lie"
	"github.com/rift-sim/riftsim/internal/metrics"
	"github.com/rift-sim/riftsim/internal/netio"
	"github.com/rift-sim/riftsim/internal/node"
	"github.com/rift-sim/riftsim/internal/riftid"
	"github.com/rift-sim/riftsim/internal/snapshot"
	"github.com/rift-sim/riftsim/internal/topology"
	appversion "github.com/rift-sim/riftsim/internal/version"
	"github.com/rift-sim/riftsim/internal/wire"
)

// tickInterval is the fixed cadence of the per-node event loop's
// external clock input (spec.md §5's TimerTick). It is unrelated to
// --snapshot, which only governs how often the fabric state is dumped.
const tickInterval = 250 * time.Millisecond

// httpShutdownTimeout bounds how long the metrics server is given to
// drain in-flight requests during graceful shutdown.
const httpShutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	rt, err := config.LoadRuntime()
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load runtime config",
			slog.String("error", err.Error()))
		return 1
	}

	topologyPath := flag.String("topology", "", "path to the topology YAML file (required)")
	snapshotInterval := flag.Duration("snapshot", rt.SnapshotInterval, "cadence of snapshot emission")
	maxSnapshots := flag.Int("max-snapshots", rt.MaxSnapshots, "stop after N snapshots (0 = unbounded)")
	maxLevel := flag.String("max-level", rt.LogLevel, "log verbosity: trace|debug|info|warn|error")
	snapshotDir := flag.String("snapshot-dir", "logs", "directory snapshot JSON files are written to")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	flag.Parse()

	levelVar := new(slog.LevelVar)
	levelVar.Set(config.ParseLogLevel(*maxLevel))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar}))

	if *topologyPath == "" {
		logger.Error("missing required flag -topology")
		return 1
	}

	logger.Info("riftsim starting",
		slog.String("version", appversion.Version),
		slog.String("topology", *topologyPath),
		slog.Duration("snapshot_interval", *snapshotInterval),
		slog.Int("max_snapshots", *maxSnapshots),
	)

	desc, err := topology.Load(*topologyPath)
	if err != nil {
		logger.Error("failed to load topology", slog.String("error", err.Error()))
		return 1
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	fab, err := buildFabric(desc, collector, logger)
	if err != nil {
		logger.Error("failed to build fabric", slog.String("error", err.Error()))
		return 1
	}
	defer fab.Close(logger)

	if err := runFabric(fab, runOptions{
		snapshotInterval: *snapshotInterval,
		maxSnapshots:     *maxSnapshots,
		snapshotDir:      *snapshotDir,
		metricsAddr:      *metricsAddr,
		reg:              reg,
		collector:        collector,
		logger:           logger,
	}); err != nil {
		logger.Error("riftsim exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("riftsim stopped")
	return 0
}

// -------------------------------------------------------------------------
// Fabric construction
// -------------------------------------------------------------------------

// fabricNode pairs one constructed node.Node with the netio transport
// for each of its interfaces, in the same order AddInterface assigned
// their link ids (1-based, by position in the topology file).
type fabricNode struct {
	node *node.Node
	ios  []*netio.InterfaceIO
}

// fabric is every node built from a topology.Descriptor.
type fabric struct {
	entries []fabricNode
}

func (f *fabric) nodes() []*node.Node {
	out := make([]*node.Node, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.node)
	}
	return out
}

// Close releases every interface's multicast socket, logging rather
// than failing on errors — teardown is best-effort once the run loop
// has already returned.
func (f *fabric) Close(logger *slog.Logger) {
	for _, e := range f.entries {
		for _, io := range e.ios {
			if err := io.Close(); err != nil {
				logger.Warn("failed to close interface socket", slog.String("error", err.Error()))
			}
		}
	}
}

// buildFabric constructs one node.Node per topology node across every
// shard, wires one netio.InterfaceIO per declared interface, and
// registers each node's LIE sessions against that transport. Link ids
// are assigned by interface position within the node (spec.md §6's
// topology schema carries no explicit link id; only tx/rx ports and
// metric are per-interface).
func buildFabric(desc *topology.Descriptor, collector *metrics.Collector, logger *slog.Logger) (*fabric, error) {
	fab := &fabric{}

	for _, shard := range desc.Shards {
		for _, tn := range shard.Nodes {
			n := node.New(tn.Name, tn.SystemId, tn.Level, logger,
				node.WithMetrics(metrics.NewNodeRecorder(collector, tn.Name)))

			group := tn.RxLIEMcastAddress
			if !group.IsValid() {
				return nil, fmt.Errorf("node %q: no rx_lie_mcast_address resolved", tn.Name)
			}

			entry := fabricNode{node: n}
			for i, ti := range tn.Interfaces {
				linkId := riftid.LinkId(i + 1) //nolint:gosec // G115: interface count per node is small

				io, err := netio.NewInterfaceIO("", group, ti.RxLIEPort, ti.TxLIEPort,
					wire.NewStaticKeyStore(ti.ActiveKey, ti.AcceptKeys), logger)
				if err != nil {
					return nil, fmt.Errorf("node %q interface %q: %w", tn.Name, ti.Name, err)
				}
				entry.ios = append(entry.ios, io)

				if _, err := n.AddInterface(lie.Config{
					LocalLinkId: linkId,
					Name:        ti.Name,
					MTU:         lie.DefaultMTU,
					HoldTime:    lie.DefaultLieHoldTime,
				}, io.Transport); err != nil {
					return nil, fmt.Errorf("node %q interface %q: %w", tn.Name, ti.Name, err)
				}
			}

			fab.entries = append(fab.entries, entry)
		}
	}

	return fab, nil
}

// -------------------------------------------------------------------------
// Running the fabric
// -------------------------------------------------------------------------

type runOptions struct {
	snapshotInterval time.Duration
	maxSnapshots     int
	snapshotDir      string
	metricsAddr      string
	reg              *prometheus.Registry
	collector        *metrics.Collector
	logger           *slog.Logger
}

// runFabric drives every node's event loop and its interfaces' netio
// receivers under one errgroup, tied to a signal-aware context, plus a
// snapshot-writer goroutine. It returns once every goroutine has
// returned — normally after the snapshot writer hits opts.maxSnapshots
// and cancels the shared context.
func runFabric(fab *fabric, opts runOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	for _, e := range fab.entries {
		n := e.node
		g.Go(func() error {
			runNodeLoop(gCtx, n)
			return nil
		})

		for i, io := range e.ios {
			linkId := riftid.LinkId(i + 1) //nolint:gosec // G115
			recv := netio.NewReceiver(netio.LinkDemuxer{Enqueue: n.InboundSink(linkId)}, opts.logger)
			ln := io.Listener
			g.Go(func() error {
				return recv.Run(gCtx, ln)
			})
		}
	}

	var metricsSrv *http.Server
	if opts.metricsAddr != "" {
		metricsSrv = newMetricsServer(opts.metricsAddr, opts.reg)
		g.Go(func() error {
			opts.logger.Info("metrics server listening", slog.String("addr", opts.metricsAddr))
			return listenAndServe(gCtx, metricsSrv)
		})
	}

	g.Go(func() error {
		return runSnapshotWriter(gCtx, fab.nodes(), opts, stop)
	})

	g.Go(func() error {
		return runWatchdog(gCtx, opts.logger)
	})
	notifyReady(opts.logger)

	g.Go(func() error {
		<-gCtx.Done()
		notifyStopping(opts.logger)
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), httpShutdownTimeout)
			defer cancel()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown metrics server: %w", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run fabric: %w", err)
	}
	return nil
}

// runNodeLoop ticks n at a fixed cadence until ctx is cancelled. A node
// is internally single-threaded (spec.md §5): this goroutine is the
// only one that ever calls n.Tick/n.Drain, while netio receiver
// goroutines hand packets off through n.InboundSink instead of touching
// FSM state directly.
func runNodeLoop(ctx context.Context, n *node.Node) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Tick()
		}
	}
}

// runSnapshotWriter captures and writes a snapshot every
// opts.snapshotInterval, stopping (and cancelling the run via stop)
// after opts.maxSnapshots writes (0 = unbounded). Write errors are
// logged and the snapshot skipped, per spec.md §7's error taxonomy.
func runSnapshotWriter(ctx context.Context, nodes []*node.Node, opts runOptions, stop context.CancelFunc) error {
	w := snapshot.NewWriter(opts.snapshotDir)
	ticker := time.NewTicker(opts.snapshotInterval)
	defer ticker.Stop()

	count := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			doc := snapshot.Capture(nodes)
			recordAdjacencyGauges(opts.collector, nodes)

			ts := t.UTC().Format("20060102T150405.000Z")
			if err := w.Write(ts, doc); err != nil {
				opts.logger.Error("failed to write snapshot", slog.String("error", err.Error()))
				continue
			}
			count++
			opts.logger.Debug("wrote snapshot", slog.String("timestamp", ts), slog.Int("count", count))

			if opts.maxSnapshots > 0 && count >= opts.maxSnapshots {
				opts.logger.Info("reached max-snapshots, shutting down", slog.Int("max_snapshots", opts.maxSnapshots))
				stop()
				return nil
			}
		}
	}
}

// recordAdjacencyGauges updates each node's ThreeWayAdjacencies gauge.
// Unlike the counters wired through node.MetricsRecorder, this is a
// point-in-time observation taken from outside the FSM — the same way
// this codebase's session gauges are set by its manager rather than by
// the FSM itself.
func recordAdjacencyGauges(c *metrics.Collector, nodes []*node.Node) {
	for _, n := range nodes {
		threeWay := 0
		for _, s := range n.Interfaces() {
			if s.State() == lie.ThreeWay {
				threeWay++
			}
		}
		c.SetThreeWayAdjacencies(n.Name(), threeWay)
	}
}

// -------------------------------------------------------------------------
// Metrics HTTP server
// -------------------------------------------------------------------------

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func listenAndServe(ctx context.Context, srv *http.Server) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", srv.Addr, err)
	}
	return nil
}

// -------------------------------------------------------------------------
// systemd integration
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		return nil
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", err.Error()))
			}
		}
	}
}
