package p2p

import (
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	connmgr "github.com/libp2p/go-libp2p/p2p/net/connmgr"
	libp2ptls "github.com/libp2p/go-libp2p/p2p/security/tls"
)

// Connection manager watermarks, grounded on internal/p2p/host.go's
// ConnMgrLowWater/ConnMgrHighWater but sized against this module's own
// discovery/functional peer caps instead of fixed constants.
const (
	connMgrGracePeriod = time.Minute
)

// newHost builds the libp2p host the Swarm Driver runs on top of: TLS
// security, default transports/muxers, a connection manager sized to the
// configured peer caps, hole punching, and NAT traversal (§2, §4.4).
func newHost(cfg *Config) (host.Host, error) {
	low := cfg.MaxDiscoveryPeersConnected + cfg.MaxFunctionalPeersConnected
	high := low * 2 //nolint:mnd

	connMgr, err := connmgr.NewConnManager(
		low,
		high,
		connmgr.WithGracePeriod(connMgrGracePeriod),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create p2p host connection manager: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(cfg.Key),
		libp2p.ListenAddrStrings(cfg.ListenAddresses...),
		libp2p.Security(libp2ptls.ID, libp2ptls.New),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.ConnectionManager(connMgr),
		libp2p.EnableHolePunching(),
		libp2p.NATPortMap(),
		libp2p.EnableNATService(),
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create p2p host: %w", err)
	}

	return h, nil
}

// protectReservedPeers tags every reserved peer with the connection
// manager so the low/high watermark trimmer never prunes them (§4.1
// Invariant 3).
func protectReservedPeers(h host.Host, reserved []PeerID) {
	cm := h.ConnManager()
	for _, p := range reserved {
		cm.Protect(p, "reserved")
	}
}
