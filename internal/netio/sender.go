package netio

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"

	"github.com/rift-sim/riftsim/internal/lie"
	"github.com/rift-sim/riftsim/internal/wire"
)

var _ lie.PacketIO = (*Transport)(nil)

// Transport sends LIE packets for one interface over a shared multicast
// Socket. It satisfies lie.PacketIO, which the compile-time assertion
// above checks.
type Transport struct {
	sock   Socket
	dst    netip.AddrPort
	ks     wire.KeyStore
	seq    atomic.Uint32
	logger *slog.Logger
}

// NewTransport builds a Transport that writes to the multicast group at
// dst (the peer's rx_lie_port, per spec.md §6's port-pairing rule: the
// loader pairs this interface's tx_lie_port against the peer's
// rx_lie_port, so dst is simply group:tx_lie_port).
func NewTransport(sock Socket, dst netip.AddrPort, ks wire.KeyStore, logger *slog.Logger) *Transport {
	return &Transport{sock: sock, dst: dst, ks: ks, logger: logger.With(slog.String("component", "netio.transport"))}
}

// Send encodes pkt with the interface's active authentication key (if
// any) and writes it to the configured multicast destination.
func (t *Transport) Send(pkt *wire.LIEPacket) error {
	n := t.seq.Add(1)
	buf, err := wire.EncodeEnveloped(pkt, t.ks, uint16(n))
	if err != nil {
		return fmt.Errorf("netio: encode LIE: %w", err)
	}

	if _, err := t.sock.WriteTo(buf, t.dst); err != nil {
		return fmt.Errorf("netio: send LIE to %s: %w", t.dst, err)
	}
	return nil
}
