package p2p

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// heartbeatProtocol carries the local block height to every connected peer
// on each heartbeat tick: update_block_height is "stored and gossiped via
// heartbeat" (§4.1), grounded on checksum.go's raw-stream handshake idiom.
const heartbeatProtocol = protocol.ID("/fuelnet-p2p/heartbeat/1.0.0")

// heartbeatInbound is handed from a stream handler goroutine to the driver
// loop once a peer's height frame has been read in full.
type heartbeatInbound struct {
	peer   PeerID
	height uint32
}

// heartbeatGate sends and receives heartbeat frames over a dedicated
// protocol, one new stream per frame.
type heartbeatGate struct {
	host      host.Host
	inboundCh chan heartbeatInbound
}

func newHeartbeatGate(h host.Host) *heartbeatGate {
	g := &heartbeatGate{host: h, inboundCh: make(chan heartbeatInbound, 256)}

	h.SetStreamHandler(heartbeatProtocol, g.handleInbound)

	return g
}

func (g *heartbeatGate) handleInbound(s network.Stream) {
	defer s.Close()

	var buf [4]byte

	if _, err := io.ReadFull(s, buf[:]); err != nil {
		_ = s.Reset()

		return
	}

	height := binary.BigEndian.Uint32(buf[:])

	select {
	case g.inboundCh <- heartbeatInbound{peer: s.Conn().RemotePeer(), height: height}:
	default:
	}
}

// send transmits the local block height to p, best-effort: a failed or slow
// peer never blocks the caller beyond the dial/write itself.
func (g *heartbeatGate) send(ctx context.Context, p peer.ID, height uint32) error {
	s, err := g.host.NewStream(ctx, p, heartbeatProtocol)
	if err != nil {
		return fmt.Errorf("failed to open heartbeat stream to %s: %w", p, err)
	}
	defer s.Close()

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], height)

	w := bufio.NewWriter(s)

	if _, err := w.Write(buf[:]); err != nil {
		_ = s.Reset()

		return fmt.Errorf("failed to write heartbeat: %w", err)
	}

	if err := w.Flush(); err != nil {
		_ = s.Reset()

		return fmt.Errorf("failed to flush heartbeat: %w", err)
	}

	return nil
}
