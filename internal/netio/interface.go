package netio

import (
	"log/slog"
	"net/netip"

	"github.com/rift-sim/riftsim/internal/wire"
)

// InterfaceIO bundles the Transport and Listener for one interface; they
// share the interface's single multicast Socket, since LIE send and
// receive both happen over the same group (spec.md §6).
type InterfaceIO struct {
	Transport *Transport
	Listener  *Listener
	sock      Socket
}

// NewInterfaceIO opens a multicast socket bound to rxPort on ifaceName,
// joins group, and returns the Transport/Listener pair for one
// interface. dst is the destination the Transport writes to — per
// spec.md §6's port-pairing rule this is group:tx_lie_port, the port the
// peer's interface receives on.
func NewInterfaceIO(ifaceName string, group netip.Addr, rxPort, txPort uint16, ks wire.KeyStore, logger *slog.Logger) (*InterfaceIO, error) {
	sock, err := NewMulticastSocket(ifaceName, group, rxPort)
	if err != nil {
		return nil, err
	}

	dst := netip.AddrPortFrom(group, txPort)
	return &InterfaceIO{
		Transport: NewTransport(sock, dst, ks, logger),
		Listener:  NewListener(sock, ks, logger),
		sock:      sock,
	}, nil
}

// Close releases the shared socket.
func (io *InterfaceIO) Close() error {
	return io.sock.Close()
}

// LinkDemuxer routes a decoded LIE packet into the node that owns this
// interface's Listener, via a sink rather than a direct Session.Push:
// a lie.Session has no locking of its own and may only be driven by its
// owning Node's own event loop goroutine, so handoff happens through
// Enqueue (typically node.Node.InboundSink) instead of touching FSM
// state straight from this receiver goroutine.
type LinkDemuxer struct {
	Enqueue func(pkt *wire.LIEPacket, src netip.Addr)
}

// DemuxLIE implements Demuxer.
func (d LinkDemuxer) DemuxLIE(pkt *wire.LIEPacket, meta PacketMeta) error {
	d.Enqueue(pkt, meta.SrcAddr)
	return nil
}

var _ Demuxer = LinkDemuxer{}
