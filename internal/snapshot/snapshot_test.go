package snapshot_test

import (
	"encoding/json"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rift-sim/riftsim/internal/lie"
	"github.com/rift-sim/riftsim/internal/node"
	"github.com/rift-sim/riftsim/internal/riftid"
	"github.com/rift-sim/riftsim/internal/snapshot"
	"github.com/rift-sim/riftsim/internal/timeclock"
	"github.com/rift-sim/riftsim/internal/wire"
)

type fakeIO struct{ sent []*wire.LIEPacket }

func (f *fakeIO) Send(pkt *wire.LIEPacket) error {
	f.sent = append(f.sent, pkt)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func relay(t *testing.T, from *fakeIO, to *lie.Session, src netip.Addr) {
	t.Helper()
	if len(from.sent) == 0 {
		return
	}
	to.Push(lie.Event{Kind: lie.EventLieRcvd, Packet: from.sent[len(from.sent)-1], SrcAddr: src})
	to.Drain()
}

// twoLeafNodes builds the S1 topology (spec.md §8) and converges it to
// ThreeWay, returning both nodes for a snapshot Capture.
func twoLeafNodes(t *testing.T) (*node.Node, *node.Node) {
	t.Helper()

	clock := timeclock.NewFake(time.Unix(0, 0))
	a := node.New("node1", 1, riftid.Leaf, discardLogger(), node.WithClock(clock))
	b := node.New("node2", 2, riftid.Leaf, discardLogger(), node.WithClock(clock))

	ioA, ioB := &fakeIO{}, &fakeIO{}
	sa, err := a.AddInterface(lie.Config{LocalLinkId: 1, Name: "if1", MTU: 1500, HoldTime: 3}, ioA)
	if err != nil {
		t.Fatalf("a.AddInterface: %v", err)
	}
	sb, err := b.AddInterface(lie.Config{LocalLinkId: 1, Name: "if1", MTU: 1500, HoldTime: 3}, ioB)
	if err != nil {
		t.Fatalf("b.AddInterface: %v", err)
	}

	addrA := netip.MustParseAddr("10.0.0.1")
	addrB := netip.MustParseAddr("10.0.0.2")
	for i := 0; i < 4; i++ {
		a.Tick()
		b.Tick()
		relay(t, ioA, sb, addrA)
		relay(t, ioB, sa, addrB)
		if sa.State() == lie.ThreeWay && sb.State() == lie.ThreeWay {
			break
		}
	}

	if sa.State() != lie.ThreeWay || sb.State() != lie.ThreeWay {
		t.Fatalf("want ThreeWay convergence, got %v / %v", sa.State(), sb.State())
	}
	return a, b
}

func TestCaptureReflectsThreeWayConvergence(t *testing.T) {
	t.Parallel()

	a, b := twoLeafNodes(t)
	doc := snapshot.Capture([]*node.Node{a, b})

	if len(doc.Nodes) != 2 {
		t.Fatalf("want 2 nodes, got %d", len(doc.Nodes))
	}

	byName := map[string]snapshot.Node{}
	for _, n := range doc.Nodes {
		byName[n.Name] = n
	}

	n1, n2 := byName["node1"], byName["node2"]
	if len(n1.Interfaces) != 1 || n1.Interfaces[0].LieState != "ThreeWay" {
		t.Fatalf("node1 interfaces: %+v", n1.Interfaces)
	}
	if n1.Interfaces[0].Neighbor == nil || n1.Interfaces[0].Neighbor.SystemId != 2 {
		t.Fatalf("node1 neighbor: %+v", n1.Interfaces[0].Neighbor)
	}
	if n2.Interfaces[0].Neighbor == nil || n2.Interfaces[0].Neighbor.SystemId != 1 {
		t.Fatalf("node2 neighbor: %+v", n2.Interfaces[0].Neighbor)
	}
	if n1.EffectiveLevel == nil || *n1.EffectiveLevel != 0 {
		t.Fatalf("node1 effective level: %v", n1.EffectiveLevel)
	}
}

func TestWriterWritesWellFormedJSON(t *testing.T) {
	t.Parallel()

	a, b := twoLeafNodes(t)
	doc := snapshot.Capture([]*node.Node{a, b})

	dir := t.TempDir()
	w := snapshot.NewWriter(dir)
	if err := w.Write("20260101T000000Z", doc); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "20260101T000000Z.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	var decoded snapshot.Document
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(decoded.Nodes) != 2 {
		t.Fatalf("want 2 nodes round-tripped, got %d", len(decoded.Nodes))
	}
}
