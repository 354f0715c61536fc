package p2p

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// checksumProtocol exchanges a 32-byte network checksum immediately after
// stream negotiation (§4.4): peers on different networks never complete
// admission and no PeerConnected event is ever surfaced for them.
const checksumProtocol = protocol.ID("/fuelnet-p2p/checksum/1.0.0")

// checksumGate runs the handshake on both dial and listen sides and
// forwards its outcome to the driver loop as a connection-lifecycle event.
type checksumGate struct {
	host     host.Host
	checksum [32]byte
	resultCh chan checksumResult
}

type checksumResult struct {
	peer PeerID
	ok   bool
	err  error
}

func newChecksumGate(h host.Host, checksum [32]byte) *checksumGate {
	g := &checksumGate{host: h, checksum: checksum, resultCh: make(chan checksumResult, 64)}

	h.SetStreamHandler(checksumProtocol, g.handleInbound)

	return g
}

func (g *checksumGate) handleInbound(s network.Stream) {
	defer s.Close()

	remote := s.Conn().RemotePeer()

	if err := g.exchange(s); err != nil {
		g.resultCh <- checksumResult{peer: remote, ok: false, err: err}
		_ = s.Reset()

		return
	}

	g.resultCh <- checksumResult{peer: remote, ok: true}
}

// dial runs the handshake as the dialing side, returning once both
// checksums are exchanged and compared.
func (g *checksumGate) dial(ctx context.Context, p peer.ID) error {
	s, err := g.host.NewStream(ctx, p, checksumProtocol)
	if err != nil {
		return fmt.Errorf("failed to open checksum stream to %s: %w", p, err)
	}
	defer s.Close()

	if err := g.exchange(s); err != nil {
		_ = s.Reset()
		g.resultCh <- checksumResult{peer: p, ok: false, err: err}

		return err
	}

	g.resultCh <- checksumResult{peer: p, ok: true}

	return nil
}

func (g *checksumGate) exchange(s network.Stream) error {
	rw := bufio.NewReadWriter(bufio.NewReader(s), bufio.NewWriter(s))

	if _, err := rw.Write(g.checksum[:]); err != nil {
		return fmt.Errorf("failed to write checksum: %w", err)
	}

	if err := rw.Flush(); err != nil {
		return fmt.Errorf("failed to flush checksum: %w", err)
	}

	var remote [32]byte

	if _, err := io.ReadFull(rw, remote[:]); err != nil {
		return fmt.Errorf("failed to read peer checksum: %w", err)
	}

	if remote != g.checksum {
		return fmt.Errorf("checksum mismatch: peer is on a different network")
	}

	return nil
}
