package p2p

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	multiaddr "github.com/multiformats/go-multiaddr"
)

// Node is the embedder-facing handle over the P2P core: gossip
// dissemination, a request/response overlay, peer admission control, and
// connection lifecycle events, all serialized through a single driver
// goroutine (§1, §5).
type Node struct {
	cfg *Config

	host host.Host
	dht  *dht.IpfsDHT
	mdns *mdnsDiscovery

	driver *driver

	preConfirmSub *PreConfirmationSubscription

	cancel context.CancelFunc

	closeOnce sync.Once
}

// New constructs and starts a Node: it builds the libp2p host, joins the
// DHT, dials reserved/bootstrap peers, optionally starts mDNS, and launches
// the driver goroutine (§2, §4.4, §5).
func New(ctx context.Context, cfg *Config) (*Node, error) {
	cfg.applyDefaults()

	if cfg.Key == nil {
		key, _, err := crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate identity key: %w", err)
		}

		cfg.Key = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	h, err := newHost(cfg)
	if err != nil {
		cancel()

		return nil, err
	}

	reserved, err := peerAddrInfos(cfg.ReservedNodes)
	if err != nil {
		cancel()
		_ = h.Close()

		return nil, fmt.Errorf("invalid reserved_nodes: %w", err)
	}

	bootstrap, err := peerAddrInfos(cfg.BootstrapNodes)
	if err != nil {
		cancel()
		_ = h.Close()

		return nil, fmt.Errorf("invalid bootstrap_nodes: %w", err)
	}

	kdht, err := newDHT(runCtx, h, bootstrap)
	if err != nil {
		cancel()
		_ = h.Close()

		return nil, err
	}

	gossip, err := newGossipLayer(runCtx, h, cfg)
	if err != nil {
		cancel()
		_ = kdht.Close()
		_ = h.Close()

		return nil, err
	}

	corr, err := newCorrelator(h)
	if err != nil {
		cancel()
		gossip.close()
		_ = kdht.Close()
		_ = h.Close()

		return nil, err
	}

	var reservedIDs []peer.ID
	for _, ai := range reserved {
		reservedIDs = append(reservedIDs, ai.ID)
		h.Peerstore().AddAddrs(ai.ID, ai.Addrs, time.Hour)
	}

	var bootstrapIDs []peer.ID
	for _, ai := range bootstrap {
		bootstrapIDs = append(bootstrapIDs, ai.ID)
	}

	protectReservedPeers(h, reservedIDs)

	pm := newPeerManager(h.ID(), cfg, reservedIDs, bootstrapIDs)

	var preConfirmSub *PreConfirmationSubscription
	if cfg.SubscribeToPreConfirmations {
		preConfirmSub = newPreConfirmationSubscription(gossipQueueSize)
	}

	var md *mdnsDiscovery
	if cfg.EnableMDNS {
		md, err = newMDNSDiscovery(runCtx, h)
		if err != nil {
			cancel()
			gossip.close()
			_ = kdht.Close()
			_ = h.Close()

			return nil, err
		}
	}

	identifyCh, err := subscribeIdentify(runCtx, h)
	if err != nil {
		cancel()
		gossip.close()
		_ = kdht.Close()
		_ = h.Close()

		return nil, err
	}

	drv := &driver{
		cfg:             cfg,
		host:            h,
		peerManager:     pm,
		gossip:          gossip,
		correlator:      corr,
		checksumGate:    newChecksumGate(h, cfg.Checksum),
		heartbeatGate:   newHeartbeatGate(h),
		identifyCh:      identifyCh,
		mdns:            md,
		preConfirmSub:   preConfirmSub,
		cmdCh:           make(chan any, driverCommandQueueSize),
		connCh:          make(chan connEvent, driverCommandQueueSize),
		eventCh:         make(chan Event, eventQueueSize),
		reserved:        reserved,
		bootstrap:       bootstrap,
		checksumPending: make(map[PeerID]struct{}),
		pendingAddrs:    make(map[PeerID][]string),
		doneCh:          make(chan struct{}),
	}

	h.Network().Notify(notifyBundle(drv.connCh))

	dialReserved(runCtx, h, reserved, "reserved")
	dialReserved(runCtx, h, bootstrap, "bootstrap")

	if cfg.Rendezvous != "" {
		go discoverPeers(runCtx, h, kdht, cfg.Rendezvous)
	}

	go drv.run(runCtx)

	n := &Node{
		cfg:           cfg,
		host:          h,
		dht:           kdht,
		mdns:          md,
		driver:        drv,
		preConfirmSub: preConfirmSub,
		cancel:        cancel,
	}

	return n, nil
}

// Close tears down the driver, the DHT, mDNS (if enabled), and the libp2p
// host. Safe to call more than once.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.cancel()
		<-n.driver.doneCh

		if n.preConfirmSub != nil {
			n.preConfirmSub.Close()
		}

		if n.mdns != nil {
			n.mdns.close()
		}

		n.driver.gossip.close()
		_ = n.dht.Close()
		_ = n.host.Close()
	})

	return nil
}

// NextEvent blocks until an Event is available or ctx is canceled.
func (n *Node) NextEvent(ctx context.Context) (Event, error) {
	select {
	case ev := <-n.driver.eventCh:
		return ev, nil
	case <-n.driver.doneCh:
		return Event{}, ErrClosed
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Publish broadcasts a GossipMessage on its topic. Non-blocking from the
// caller's perspective beyond the round trip to the driver goroutine.
func (n *Node) Publish(ctx context.Context, m *GossipMessage) error {
	result := make(chan error, 1)

	select {
	case n.driver.cmdCh <- cmdPublish{msg: m, result: result}:
	case <-n.driver.doneCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendRequest issues a RequestMessage to target (or a random eligible peer
// if target is nil), returning the assigned RequestID immediately; the
// eventual RequestResult is delivered to reply exactly once (§4.3).
func (n *Node) SendRequest(ctx context.Context, target *PeerID, req RequestMessage, reply ReplySlot) (RequestID, error) {
	result := make(chan sendRequestResult, 1)
	deadline := time.Now().Add(n.cfg.SetRequestTimeout)

	select {
	case n.driver.cmdCh <- cmdSendRequest{target: target, req: req, deadline: deadline, reply: reply, result: result}:
	case <-n.driver.doneCh:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case res := <-result:
		return res.id, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// SendResponse answers a pending inbound request surfaced via an
// InboundRequestMessage event. Must be called at most once per RequestID.
func (n *Node) SendResponse(ctx context.Context, id RequestID, resp *ResponseMessage) error {
	result := make(chan error, 1)

	select {
	case n.driver.cmdCh <- cmdSendResponse{id: id, resp: resp, result: result}:
	case <-n.driver.doneCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReportMessageValidation delivers the consumer's verdict on a message
// surfaced via a GossipsubMessage event, unblocking the topic validator
// goroutine that is waiting on it (§4.2).
func (n *Node) ReportMessageValidation(id MessageID, verdict Acceptance) {
	select {
	case n.driver.cmdCh <- cmdReportValidation{id: id, verdict: verdict}:
	case <-n.driver.doneCh:
	}
}

// UpdateBlockHeight records the local chain height gossiped in heartbeats.
func (n *Node) UpdateBlockHeight(height uint32) {
	select {
	case n.driver.cmdCh <- cmdUpdateBlockHeight{height: height}:
	case <-n.driver.doneCh:
	}
}

// GetPeerInfo returns the Peer Manager's current record for p, or nil if
// not connected.
func (n *Node) GetPeerInfo(ctx context.Context, p PeerID) (*PeerRecord, error) {
	result := make(chan *PeerRecord, 1)

	select {
	case n.driver.cmdCh <- cmdGetPeerInfo{peer: p, result: result}:
	case <-n.driver.doneCh:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case rec := <-result:
		return rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ListPeers returns every currently-connected, non-banned peer id.
func (n *Node) ListPeers(ctx context.Context) ([]PeerID, error) {
	result := make(chan []PeerID, 1)

	select {
	case n.driver.cmdCh <- cmdListPeers{result: result}:
	case <-n.driver.doneCh:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case peers := <-result:
		return peers, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubscribeToPreConfirmations returns the node's pre-confirmation
// subscription handle, or nil if SubscribeToPreConfirmations was not set
// in Config.
func (n *Node) SubscribeToPreConfirmations() *PreConfirmationSubscription {
	return n.preConfirmSub
}

// ID returns the local node's peer id.
func (n *Node) ID() PeerID { return n.host.ID() }

// Addrs returns the multiaddresses the node is currently listening on.
func (n *Node) Addrs() []multiaddr.Multiaddr { return n.host.Addrs() }
