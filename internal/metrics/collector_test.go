package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rift-sim/riftsim/internal/lie"
	"github.com/rift-sim/riftsim/internal/metrics"
	"github.com/rift-sim/riftsim/internal/riftid"
	"github.com/rift-sim/riftsim/internal/ztp"
)

func TestNewCollectorRegistersEveryMetric(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.EffectiveLevel == nil || c.LieTransitions == nil || c.ZTPTransitions == nil ||
		c.SendFailures == nil || c.OffersPosted == nil || c.ThreeWayAdjacencies == nil {
		t.Fatal("NewCollector: nil metric vector")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather: %v", err)
	}
}

func TestNodeRecorderForwardsIntoLabeledMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	r := metrics.NewNodeRecorder(c, "node1")

	r.RecordLieTransition("if1", lie.OneWay, lie.TwoWay)
	r.RecordSendFailure("if1")
	r.RecordZTPTransition(ztp.ComputeBestOffer, ztp.UpdatingClients)
	r.RecordLevelChange(riftid.Leaf)
	r.RecordOfferPosted()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, want := range []string{
		"riftsim_rift_lie_transitions_total",
		"riftsim_rift_send_failures_total",
		"riftsim_rift_ztp_transitions_total",
		"riftsim_rift_effective_level",
		"riftsim_rift_offers_posted_total",
	} {
		if !found[want] {
			t.Errorf("missing metric family %q in %v", want, found)
		}
	}
}

func TestSetThreeWayAdjacenciesAndOffersPosted(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetThreeWayAdjacencies("node1", 2)
	c.IncOffersPosted("node1")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("want at least one metric family after recording")
	}
}
