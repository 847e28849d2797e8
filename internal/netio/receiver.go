package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rift-sim/riftsim/internal/wire"
)

// ErrNoListeners indicates Run was called without any listeners.
var ErrNoListeners = errors.New("receiver run: no listeners provided")

// Demuxer routes a decoded LIE packet to the interface session that owns
// the Listener it arrived on. Receiver is built per-listener rather than
// per-node because a LIE Listener already belongs to exactly one
// interface; unlike a shared control-plane socket, there is no
// additional demultiplexing key to recover from the packet itself.
type Demuxer interface {
	DemuxLIE(pkt *wire.LIEPacket, meta PacketMeta) error
}

// Receiver reads LIE packets from one or more Listeners and routes each
// to its Demuxer.
type Receiver struct {
	demuxer Demuxer
	logger  *slog.Logger
}

// NewReceiver creates a Receiver that routes packets to demuxer.
func NewReceiver(demuxer Demuxer, logger *slog.Logger) *Receiver {
	return &Receiver{demuxer: demuxer, logger: logger.With(slog.String("component", "netio.receiver"))}
}

// Run reads from all listeners concurrently, one goroutine per listener,
// until ctx is cancelled. It blocks until every goroutine has returned.
func (r *Receiver) Run(ctx context.Context, listeners ...*Listener) error {
	if len(listeners) == 0 {
		return fmt.Errorf("receiver: %w", ErrNoListeners)
	}

	done := make(chan struct{}, len(listeners))
	for _, ln := range listeners {
		go func(l *Listener) {
			r.recvLoop(ctx, l)
			done <- struct{}{}
		}(ln)
	}

	for i := 0; i < len(listeners); i++ {
		<-done
	}
	return nil
}

func (r *Receiver) recvLoop(ctx context.Context, ln *Listener) {
	for {
		if ctx.Err() != nil {
			return
		}

		pkt, meta, err := ln.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("recv error", slog.String("error", err.Error()))
			continue
		}

		if err := r.demuxer.DemuxLIE(pkt, meta); err != nil {
			r.logger.Debug("demux failed",
				slog.String("src", meta.SrcAddr.String()),
				slog.String("error", err.Error()))
		}
	}
}
