// Package topology loads the RIFT topology YAML file (spec.md §6) into an
// immutable descriptor graph. Grounded on the teacher's koanf-based
// internal/config loader: file provider, YAML parser, defaults-then-
// overlay, and a Validate pass that returns the first error found.
package topology

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/rift-sim/riftsim/internal/riftid"
	"github.com/rift-sim/riftsim/internal/wire"
)

// -------------------------------------------------------------------------
// Raw schema — the exact on-disk shape (spec.md §6)
// -------------------------------------------------------------------------

type rawFile struct {
	Const               rawConst    `koanf:"const"`
	AuthenticationKeys  []rawKey    `koanf:"authentication_keys"`
	Shards              []rawShard  `koanf:"shards"`
}

// rawConst carries the fabric-wide defaults documented in the original
// prototype's topology.rs (SUPPLEMENTED FEATURES #2): multicast addresses
// used when a node omits its own.
type rawConst struct {
	LIEMcastAddress string `koanf:"lie_mcast_address"`
	RxMcastAddress  string `koanf:"rx_mcast_address"`
}

type rawKey struct {
	ID        int    `koanf:"id"`
	Algorithm string `koanf:"algorithm"`
	Secret    string `koanf:"secret"`
}

type rawShard struct {
	ID    int       `koanf:"id"`
	Nodes []rawNode `koanf:"nodes"`
}

type rawNode struct {
	Name                           string         `koanf:"name"`
	SystemId                       uint64         `koanf:"systemid"`
	Level                          string         `koanf:"level"`
	RxLIEMcastAddress              string         `koanf:"rx_lie_mcast_address"`
	RxLIEv6McastAddress            string         `koanf:"rx_lie_v6_mcast_address"`
	RxLIEPort                      uint16         `koanf:"rx_lie_port"`
	Passive                        bool           `koanf:"passive"`
	ActiveOriginAuthenticationKey  int            `koanf:"active_origin_authentication_key"`
	AcceptOriginAuthenticationKeys []int          `koanf:"accept_origin_authentication_keys"`
	V4Prefixes                     []string       `koanf:"v4prefixes"`
	Interfaces                     []rawInterface `koanf:"interfaces"`
}

type rawInterface struct {
	Name                    string `koanf:"name"`
	Metric                  int    `koanf:"metric"`
	TxLIEPort               uint16 `koanf:"tx_lie_port"`
	RxLIEPort               uint16 `koanf:"rx_lie_port"`
	ActiveAuthenticationKey int    `koanf:"active_authentication_key"`
	AcceptAuthenticationKeys []int `koanf:"accept_authentication_keys"`
}

// -------------------------------------------------------------------------
// Descriptor — the resolved, immutable graph this package hands out
// -------------------------------------------------------------------------

// Descriptor is the fully resolved topology: levels parsed, key ids
// resolved to their wire.Key, multicast defaults applied.
type Descriptor struct {
	LIEMcastAddress netip.Addr
	RxMcastAddress  netip.Addr
	Shards          []Shard
}

// Shard is one group of nodes sharing a shard id (spec.md §6).
type Shard struct {
	ID    int
	Nodes []Node
}

// Node is one resolved node descriptor (spec.md §6).
type Node struct {
	Name                 string
	SystemId             riftid.SystemId
	Level                riftid.Level
	RxLIEMcastAddress    netip.Addr
	RxLIEv6McastAddress  netip.Addr
	RxLIEPort            uint16
	Passive              bool
	ActiveKey            *wire.Key
	AcceptKeys           []wire.Key
	V4Prefixes           []netip.Prefix
	Interfaces           []Interface
}

// Interface is one resolved interface descriptor (spec.md §6).
type Interface struct {
	Name       string
	Metric     int
	TxLIEPort  uint16
	RxLIEPort  uint16
	ActiveKey  *wire.Key
	AcceptKeys []wire.Key
}

// -------------------------------------------------------------------------
// Errors
// -------------------------------------------------------------------------

// Sentinel errors for topology loading and validation (spec.md §7:
// configuration errors are fatal at startup).
var (
	ErrUnknownKeyID       = errors.New("topology: unknown authentication key id")
	ErrDuplicateSystemId  = errors.New("topology: duplicate system id within shard")
	ErrPortCollision      = errors.New("topology: port collision across interfaces of the same node")
	ErrEmptyNodeName      = errors.New("topology: node name must not be empty")
	ErrZeroRxLIEPort      = errors.New("topology: rx_lie_port must be nonzero")
)

// -------------------------------------------------------------------------
// Load
// -------------------------------------------------------------------------

// Load reads and parses a topology YAML file at path into a Descriptor,
// running Validate before returning it.
func Load(path string) (*Descriptor, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load topology from %s: %w", path, err)
	}

	var raw rawFile
	if err := k.Unmarshal("", &raw); err != nil {
		return nil, fmt.Errorf("unmarshal topology from %s: %w", path, err)
	}

	d, err := resolve(&raw)
	if err != nil {
		return nil, fmt.Errorf("resolve topology from %s: %w", path, err)
	}

	if err := Validate(d); err != nil {
		return nil, fmt.Errorf("validate topology from %s: %w", path, err)
	}

	return d, nil
}

// resolve converts the raw on-disk schema into a Descriptor: parsing
// levels, resolving key ids against the global key list, and applying
// the const block's multicast defaults (SUPPLEMENTED FEATURES #2).
func resolve(raw *rawFile) (*Descriptor, error) {
	keys := make(map[int]wire.Key, len(raw.AuthenticationKeys))
	for _, rk := range raw.AuthenticationKeys {
		keys[rk.ID] = wire.Key{
			ID:        uint8(rk.ID), //nolint:gosec // G115: key ids are small, validated against the topology schema
			Algorithm: wire.Algorithm(rk.Algorithm),
			Secret:    []byte(rk.Secret),
		}
	}

	lookupKey := func(id int) (*wire.Key, error) {
		if id == 0 {
			return nil, nil
		}
		k, ok := keys[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownKeyID, id)
		}
		return &k, nil
	}

	lookupKeys := func(ids []int) ([]wire.Key, error) {
		out := make([]wire.Key, 0, len(ids))
		for _, id := range ids {
			k, ok := keys[id]
			if !ok {
				return nil, fmt.Errorf("%w: %d", ErrUnknownKeyID, id)
			}
			out = append(out, k)
		}
		return out, nil
	}

	lieMcast, err := parseOptionalAddr(raw.Const.LIEMcastAddress)
	if err != nil {
		return nil, fmt.Errorf("const.lie_mcast_address: %w", err)
	}
	rxMcast, err := parseOptionalAddr(raw.Const.RxMcastAddress)
	if err != nil {
		return nil, fmt.Errorf("const.rx_mcast_address: %w", err)
	}

	d := &Descriptor{LIEMcastAddress: lieMcast, RxMcastAddress: rxMcast}

	for _, rs := range raw.Shards {
		shard := Shard{ID: rs.ID}
		for _, rn := range rs.Nodes {
			node, err := resolveNode(rn, lookupKey, lookupKeys, lieMcast, rxMcast)
			if err != nil {
				return nil, fmt.Errorf("node %q: %w", rn.Name, err)
			}
			shard.Nodes = append(shard.Nodes, node)
		}
		d.Shards = append(d.Shards, shard)
	}

	return d, nil
}

func resolveNode(
	rn rawNode,
	lookupKey func(int) (*wire.Key, error),
	lookupKeys func([]int) ([]wire.Key, error),
	lieMcastDefault, rxMcastDefault netip.Addr,
) (Node, error) {
	level, err := riftid.ParseLevel(rn.Level)
	if err != nil {
		return Node{}, fmt.Errorf("level %q: %w", rn.Level, err)
	}

	rxLIEMcast, err := parseOptionalAddr(rn.RxLIEMcastAddress)
	if err != nil {
		return Node{}, fmt.Errorf("rx_lie_mcast_address: %w", err)
	}
	if !rxLIEMcast.IsValid() {
		rxLIEMcast = lieMcastDefault
	}

	rxLIEv6Mcast, err := parseOptionalAddr(rn.RxLIEv6McastAddress)
	if err != nil {
		return Node{}, fmt.Errorf("rx_lie_v6_mcast_address: %w", err)
	}

	activeKey, err := lookupKey(rn.ActiveOriginAuthenticationKey)
	if err != nil {
		return Node{}, fmt.Errorf("active_origin_authentication_key: %w", err)
	}
	acceptKeys, err := lookupKeys(rn.AcceptOriginAuthenticationKeys)
	if err != nil {
		return Node{}, fmt.Errorf("accept_origin_authentication_keys: %w", err)
	}

	prefixes := make([]netip.Prefix, 0, len(rn.V4Prefixes))
	for _, p := range rn.V4Prefixes {
		parsed, err := netip.ParsePrefix(p)
		if err != nil {
			return Node{}, fmt.Errorf("v4prefixes %q: %w", p, err)
		}
		prefixes = append(prefixes, parsed)
	}

	node := Node{
		Name:                rn.Name,
		SystemId:            riftid.SystemId(rn.SystemId),
		Level:               level,
		RxLIEMcastAddress:   rxLIEMcast,
		RxLIEv6McastAddress: rxLIEv6Mcast,
		RxLIEPort:           rn.RxLIEPort,
		Passive:             rn.Passive,
		ActiveKey:           activeKey,
		AcceptKeys:          acceptKeys,
		V4Prefixes:          prefixes,
	}

	for _, ri := range rn.Interfaces {
		iface, err := resolveInterface(ri, rxMcastDefault, lookupKey, lookupKeys)
		if err != nil {
			return Node{}, fmt.Errorf("interface %q: %w", ri.Name, err)
		}
		node.Interfaces = append(node.Interfaces, iface)
	}

	return node, nil
}

func resolveInterface(
	ri rawInterface,
	_ netip.Addr,
	lookupKey func(int) (*wire.Key, error),
	lookupKeys func([]int) ([]wire.Key, error),
) (Interface, error) {
	activeKey, err := lookupKey(ri.ActiveAuthenticationKey)
	if err != nil {
		return Interface{}, fmt.Errorf("active_authentication_key: %w", err)
	}
	acceptKeys, err := lookupKeys(ri.AcceptAuthenticationKeys)
	if err != nil {
		return Interface{}, fmt.Errorf("accept_authentication_keys: %w", err)
	}

	return Interface{
		Name:       ri.Name,
		Metric:     ri.Metric,
		TxLIEPort:  ri.TxLIEPort,
		RxLIEPort:  ri.RxLIEPort,
		ActiveKey:  activeKey,
		AcceptKeys: acceptKeys,
	}, nil
}

func parseOptionalAddr(s string) (netip.Addr, error) {
	if s == "" {
		return netip.Addr{}, nil
	}
	return netip.ParseAddr(s)
}

// -------------------------------------------------------------------------
// Validate
// -------------------------------------------------------------------------

// Validate checks the resolved descriptor for the configuration errors
// spec.md §7 calls out as fatal at startup: port collisions across
// interfaces of the same node, and duplicate system ids within a shard.
func Validate(d *Descriptor) error {
	for _, shard := range d.Shards {
		seen := make(map[riftid.SystemId]struct{}, len(shard.Nodes))
		for _, node := range shard.Nodes {
			if node.Name == "" {
				return ErrEmptyNodeName
			}
			if node.RxLIEPort == 0 {
				return fmt.Errorf("node %q: %w", node.Name, ErrZeroRxLIEPort)
			}
			if _, dup := seen[node.SystemId]; dup {
				return fmt.Errorf("shard %d, node %q: %w", shard.ID, node.Name, ErrDuplicateSystemId)
			}
			seen[node.SystemId] = struct{}{}

			if err := validatePorts(node); err != nil {
				return fmt.Errorf("node %q: %w", node.Name, err)
			}
		}
	}
	return nil
}

func validatePorts(n Node) error {
	ports := make(map[uint16]string, len(n.Interfaces)*2)
	for _, iface := range n.Interfaces {
		for _, p := range []uint16{iface.TxLIEPort, iface.RxLIEPort} {
			if p == 0 {
				continue
			}
			if owner, used := ports[p]; used && owner != iface.Name {
				return fmt.Errorf("%w: port %d used by %q and %q", ErrPortCollision, p, owner, iface.Name)
			}
			ports[p] = iface.Name
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Link pairing — spec.md §6: "The loader pairs interfaces by matching
// tx_lie_port on one side to rx_lie_port on the other."
// -------------------------------------------------------------------------

// Link is one resolved point-to-point adjacency between two interfaces
// on two different nodes, discovered by port pairing.
type Link struct {
	NodeA, NodeB           string
	InterfaceA, InterfaceB string
}

// PairLinks scans every interface across every node in the descriptor and
// pairs two interfaces whenever one's tx_lie_port equals the other's
// rx_lie_port and vice versa. Interfaces that do not find a reciprocal
// match are omitted; topology files may declare interfaces with no peer
// yet provisioned.
func PairLinks(d *Descriptor) []Link {
	type endpoint struct {
		node, iface       string
		txPort, rxPort    uint16
	}

	var endpoints []endpoint
	for _, shard := range d.Shards {
		for _, node := range shard.Nodes {
			for _, iface := range node.Interfaces {
				endpoints = append(endpoints, endpoint{
					node: node.Name, iface: iface.Name,
					txPort: iface.TxLIEPort, rxPort: iface.RxLIEPort,
				})
			}
		}
	}

	var links []Link
	paired := make(map[int]bool, len(endpoints))
	for i := 0; i < len(endpoints); i++ {
		if paired[i] {
			continue
		}
		for j := i + 1; j < len(endpoints); j++ {
			if paired[j] {
				continue
			}
			a, b := endpoints[i], endpoints[j]
			if a.txPort != 0 && a.txPort == b.rxPort && b.txPort != 0 && b.txPort == a.rxPort {
				links = append(links, Link{NodeA: a.node, InterfaceA: a.iface, NodeB: b.node, InterfaceB: b.iface})
				paired[i], paired[j] = true, true
				break
			}
		}
	}
	return links
}
