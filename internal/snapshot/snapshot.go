// Package snapshot serializes a running fabric's FSM state into the JSON
// document described in spec.md §6, consumed by an external DOT
// renderer. It is grounded on this codebase's session-snapshot pattern
// (a plain data projection of live FSM fields taken atomically, at an
// event-loop boundary), generalized from one BFD session to a full node
// graph.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rift-sim/riftsim/internal/node"
	"github.com/rift-sim/riftsim/internal/riftid"
)

// Neighbor is the optional neighbor projection for one interface.
type Neighbor struct {
	SystemId riftid.SystemId `json:"system_id"`
	LinkId   riftid.LinkId   `json:"link_id"`
}

// Interface is one node interface's FSM projection.
type Interface struct {
	Name     string    `json:"name"`
	LinkId   riftid.LinkId `json:"link_id"`
	LieState string    `json:"lie_state"`
	Neighbor *Neighbor `json:"neighbor,omitempty"`
}

// Node is one node's FSM projection.
type Node struct {
	Name            string             `json:"name"`
	SystemId        riftid.SystemId    `json:"system_id"`
	EffectiveLevel  *int               `json:"effective_level"`
	ConfiguredLevel *int               `json:"configured_level"`
	HAL             *int               `json:"hal"`
	HAT             *int               `json:"hat"`
	HALS            []riftid.SystemId  `json:"hals"`
	ZTPState        string             `json:"ztp_state"`
	Interfaces      []Interface        `json:"interfaces"`
}

// Document is the top-level snapshot document (spec.md §6).
type Document struct {
	Nodes []Node `json:"nodes"`
}

func levelPtr(l riftid.Level) *int {
	v, ok := l.Value()
	if !ok {
		return nil
	}
	return &v
}

// Capture builds a Document from the given nodes' current in-memory
// state. The caller must only invoke Capture at an event-loop boundary
// (after a Node.Drain/Tick has returned), matching spec.md §7's "no
// mid-transition snapshot" guarantee.
func Capture(nodes []*node.Node) Document {
	doc := Document{Nodes: make([]Node, 0, len(nodes))}

	for _, n := range nodes {
		nd := Node{
			Name:            n.Name(),
			SystemId:        n.SystemId(),
			EffectiveLevel:  levelPtr(n.EffectiveLevel()),
			ConfiguredLevel: levelPtr(n.ConfiguredLevel()),
			HAL:             levelPtr(n.HAL()),
			HAT:             levelPtr(n.HAT()),
			HALS:            n.HALS(),
			ZTPState:        n.ZTPState().String(),
		}

		for _, s := range n.Interfaces() {
			iface := Interface{
				Name:     s.Name(),
				LinkId:   s.LinkId(),
				LieState: s.State().String(),
			}
			if nb := s.Neighbor(); nb != nil {
				iface.Neighbor = &Neighbor{SystemId: nb.SystemId, LinkId: nb.LinkId}
			}
			nd.Interfaces = append(nd.Interfaces, iface)
		}

		doc.Nodes = append(doc.Nodes, nd)
	}

	return doc
}

// Writer writes snapshot documents, one <dir>/<timestamp>.json file per
// Write call. It does not capture or schedule snapshots itself, and it
// returns write errors to the caller.
type Writer struct {
	dir string
}

// NewWriter builds a Writer that writes snapshot files under dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Write serializes doc and writes it to <dir>/<timestamp>.json, where
// timestamp is a caller-supplied identifier (typically formatted from
// the current time) so the package stays clear of the forbidden
// wall-clock calls in scripted test paths.
func (w *Writer) Write(timestamp string, doc Document) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir %s: %w", w.dir, err)
	}

	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	path := filepath.Join(w.dir, timestamp+".json")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	return nil
}
