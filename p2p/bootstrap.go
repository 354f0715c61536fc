package p2p

import (
	"context"
	"fmt"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	discovery "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	duutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	discoveryPollInterval = 30 * time.Second
	bootstrapDialTimeout  = 10 * time.Second
)

// connEvent is what the Notifiee forwards to the driver loop for every
// connection-lifecycle transition (§4.1, §4.4).
type connEvent struct {
	kind  connEventKind
	peer  PeerID
	addrs []string
}

type connEventKind int

const (
	connEventConnected connEventKind = iota
	connEventDisconnected
)

// newDHT constructs and bootstraps the Kademlia DHT used for
// routing-based peer discovery (§2, §4.4), grounded on
// internal/p2p/dht.go: server mode when we have no bootstrap peers (we
// ARE the bootstrap), otherwise the DHT's default mode seeded with the
// bootstrap peers.
func newDHT(ctx context.Context, h host.Host, bootstrapPeers []peer.AddrInfo) (*dht.IpfsDHT, error) {
	opts := []dht.Option{dht.ProtocolPrefix("/fuelnet-p2p")}

	if len(bootstrapPeers) == 0 {
		opts = append(opts, dht.Mode(dht.ModeServer))
	} else {
		opts = append(opts, dht.BootstrapPeers(bootstrapPeers...))
	}

	kdht, err := dht.New(ctx, h, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create dht: %w", err)
	}

	if err := kdht.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("failed to bootstrap dht: %w", err)
	}

	return kdht, nil
}

// dialReserved makes one connection attempt to every peer in peers, each
// bounded by bootstrapDialTimeout, and tags and protects every peer it
// reaches with the connection manager under tag so it is never pruned
// (Invariant 3). A failed attempt is logged and not retried.
func dialReserved(ctx context.Context, h host.Host, peers []peer.AddrInfo, tag string) {
	for _, p := range peers {
		go func(p peer.AddrInfo) {
			dialCtx, cancel := context.WithTimeout(ctx, bootstrapDialTimeout)
			defer cancel()

			if err := h.Connect(dialCtx, p); err != nil {
				logger.Error("error while connecting to node", "node", p.ID, "error", err)

				return
			}

			logger.Info("successfully connected to node", "node", p.ID, "tag", tag)
			h.ConnManager().Protect(p.ID, tag)
		}(p)
	}
}

// discoverPeers runs the routing-discovery advertise/find loop until ctx
// is canceled, dialing any newly found peer (§4.4), grounded on
// internal/p2p/discover.go.
func discoverPeers(ctx context.Context, h host.Host, kdht *dht.IpfsDHT, rendezvous string) {
	routingDiscovery := discovery.NewRoutingDiscovery(kdht)
	duutil.Advertise(ctx, routingDiscovery, rendezvous)

	ticker := time.NewTicker(discoveryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			peers, err := duutil.FindPeers(ctx, routingDiscovery, rendezvous)
			if err != nil {
				continue
			}

			for _, p := range peers {
				if p.ID == h.ID() || h.Network().Connectedness(p.ID) == network.Connected {
					continue
				}

				dialCtx, cancel := context.WithTimeout(ctx, bootstrapDialTimeout)
				_, _ = h.Network().DialPeer(dialCtx, p.ID)
				cancel()
			}
		}
	}
}

// peerAddrInfos resolves a list of string multiaddrs (each ending in
// /p2p/<id>) into peer.AddrInfo, mirroring internal/p2p/options.go's
// WithBootstrapAddrs.
func peerAddrInfos(addrs []string) ([]peer.AddrInfo, error) {
	infos := make([]peer.AddrInfo, 0, len(addrs))

	for _, a := range addrs {
		maddr, err := ma.NewMultiaddr(a)
		if err != nil {
			return nil, fmt.Errorf("invalid multiaddr %q: %w", a, err)
		}

		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			return nil, fmt.Errorf("invalid peer address %q: %w", a, err)
		}

		infos = append(infos, *info)
	}

	return infos, nil
}

// notifyBundle wires libp2p's connection-lifecycle notifications into the
// driver's connEvent channel (§4.1, §4.4).
func notifyBundle(ch chan<- connEvent) *network.NotifyBundle {
	return &network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			select {
			case ch <- connEvent{kind: connEventConnected, peer: c.RemotePeer(), addrs: []string{c.RemoteMultiaddr().String()}}:
			default:
			}
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			select {
			case ch <- connEvent{kind: connEventDisconnected, peer: c.RemotePeer()}:
			default:
			}
		},
	}
}
