package p2p

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
)

// identifyEvent is handed to the driver loop once libp2p's identify service
// finishes identifying a peer, feeding update_identify / PeerInfoUpdated
// (§4.1).
type identifyEvent struct {
	peer          PeerID
	clientVersion string
	addrs         []string
}

// subscribeIdentify bridges host.EventBus()'s EvtPeerIdentificationCompleted
// notifications into a channel the driver can select on, closing the
// subscription once ctx is canceled.
func subscribeIdentify(ctx context.Context, h host.Host) (<-chan identifyEvent, error) {
	sub, err := h.EventBus().Subscribe(new(event.EvtPeerIdentificationCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to identify events: %w", err)
	}

	ch := make(chan identifyEvent, 64)

	go func() {
		defer sub.Close()
		defer close(ch)

		for {
			select {
			case <-ctx.Done():
				return

			case raw, ok := <-sub.Out():
				if !ok {
					return
				}

				evt, ok := raw.(event.EvtPeerIdentificationCompleted)
				if !ok {
					continue
				}

				clientVersion, _ := h.Peerstore().Get(evt.Peer, "AgentVersion") //nolint:errcheck
				version, _ := clientVersion.(string)

				addrs := make([]string, 0, len(evt.ListenAddrs))
				for _, a := range evt.ListenAddrs {
					addrs = append(addrs, a.String())
				}

				select {
				case ch <- identifyEvent{peer: evt.Peer, clientVersion: version, addrs: addrs}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}
