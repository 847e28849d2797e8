package netio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rift-sim/riftsim/internal/wire"
)

const maxLIESize = 1500

// Listener wraps a Socket and provides a high-level, context-aware
// receive loop that decodes enveloped LIE packets.
type Listener struct {
	sock   Socket
	ks     wire.KeyStore
	logger *slog.Logger
}

// NewListener builds a Listener over an already-bound Socket, verifying
// received packets against ks (spec.md §6 authentication).
func NewListener(sock Socket, ks wire.KeyStore, logger *slog.Logger) *Listener {
	return &Listener{sock: sock, ks: ks, logger: logger.With(slog.String("component", "netio.listener"))}
}

// Recv blocks until a LIE packet is received and successfully decoded,
// or the socket read fails. ctx is checked before each read; a read
// already blocked is not interrupted by cancellation, only by closing the
// socket. Packets that fail to decode (malformed, or failed
// authentication) are dropped and the read retried.
func (l *Listener) Recv(ctx context.Context) (*wire.LIEPacket, PacketMeta, error) {
	buf := make([]byte, maxLIESize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, PacketMeta{}, fmt.Errorf("listener recv: %w", err)
		}

		n, meta, err := l.sock.ReadFrom(buf)
		if err != nil {
			return nil, PacketMeta{}, fmt.Errorf("listener read: %w", err)
		}

		pkt, err := wire.DecodeEnveloped(buf[:n], l.ks)
		if err != nil {
			l.logger.Debug("dropped undecodable LIE",
				slog.String("src", meta.SrcAddr.String()),
				slog.String("error", err.Error()))
			continue
		}

		return pkt, meta, nil
	}
}

// Close releases the underlying Socket.
func (l *Listener) Close() error {
	return l.sock.Close()
}
