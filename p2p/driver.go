package p2p

import (
	"context"
	"errors"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	driverCommandQueueSize = 256
	eventQueueSize         = 1024
	seenPruneWindow        = 10 * time.Minute
)

// Command variants accepted by the driver loop. Each carries its own
// result channel, the Go substitute for a oneshot reply (§5).
type (
	cmdPublish struct {
		msg    *GossipMessage
		result chan error
	}

	cmdSendRequest struct {
		target   *PeerID
		req      RequestMessage
		deadline time.Time
		reply    ReplySlot
		result   chan sendRequestResult
	}

	cmdSendResponse struct {
		id     RequestID
		resp   *ResponseMessage
		result chan error
	}

	cmdReportValidation struct {
		id      MessageID
		verdict Acceptance
	}

	cmdUpdateBlockHeight struct {
		height uint32
	}

	cmdGetPeerInfo struct {
		peer   PeerID
		result chan *PeerRecord
	}

	cmdListPeers struct {
		result chan []PeerID
	}
)

type sendRequestResult struct {
	id  RequestID
	err error
}

// driver is the single goroutine that owns every piece of mutable state in
// the node: the Peer Manager, the Gossip Layer's validator feedback table,
// and the Correlator's outbound/inbound tables (§5). All commands and
// network events are multiplexed through one select loop; nothing outside
// this goroutine ever mutates peerManager, gossip's seen/pending maps, or
// correlator's outbound table directly.
type driver struct {
	cfg *Config

	host          host.Host
	peerManager   *peerManager
	gossip        *gossipLayer
	correlator    *correlator
	checksumGate  *checksumGate
	heartbeatGate *heartbeatGate
	identifyCh    <-chan identifyEvent
	mdns          *mdnsDiscovery

	preConfirmSub *PreConfirmationSubscription

	cmdCh   chan any
	connCh  chan connEvent
	eventCh chan Event

	localHeight uint32

	reserved  []peer.AddrInfo
	bootstrap []peer.AddrInfo

	checksumPending map[PeerID]struct{}
	pendingAddrs    map[PeerID][]string

	doneCh chan struct{}
}

func (d *driver) run(ctx context.Context) {
	defer close(d.doneCh)

	heartbeat := time.NewTicker(d.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	resetTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}

		if at, ok := d.correlator.deadlines.nextDeadline(); ok {
			delay := time.Until(at)
			if delay < 0 {
				delay = 0
			}

			timer.Reset(delay)
		}
	}

	resetTimer()

	for {
		select {
		case <-ctx.Done():
			for id := range d.correlator.outbound {
				if e := d.correlator.removeOutbound(id); e != nil {
					deliverReply(e.reply, RequestResult{Peer: e.peer, Err: newResponseError(ResponseShutdown)})
				}
			}

			return

		case raw := <-d.cmdCh:
			d.handleCommand(raw)
			resetTimer()

		case ev := <-d.connCh:
			d.handleConnEvent(ev)
			resetTimer()

		case res := <-d.checksumGate.resultCh:
			d.handleChecksumResult(res)

		case hb := <-d.heartbeatGate.inboundCh:
			d.handleHeartbeatInbound(hb)

		case ev := <-d.identifyCh:
			d.handleIdentifyEvent(ev)

		case in := <-d.gossip.inboundCh:
			d.handleGossipInbound(in)

		case sub := <-d.gossip.subscriptionCh:
			d.emit(Event{Kind: EventNewSubscription, Topic: sub.topic, Subscriber: sub.peer})

		case in := <-d.correlator.inboundCh:
			d.emit(Event{Kind: EventInboundRequestMessage, RequestID: in.id, Request: in.req})

		case done := <-d.correlator.outboundDone:
			d.handleOutboundDone(done)
			resetTimer()

		case <-timer.C:
			d.handleTimeouts(time.Now())
			resetTimer()

		case <-heartbeat.C:
			now := time.Now()
			d.gossip.pruneSeen(seenPruneWindow, now)
			d.peerManager.pruneBanLinger(now)
			d.broadcastHeartbeat()
		}
	}
}

func (d *driver) handleCommand(raw any) {
	switch cmd := raw.(type) {
	case cmdPublish:
		cmd.result <- d.gossip.publish(context.Background(), cmd.msg)

	case cmdSendRequest:
		d.handleSendRequest(cmd)

	case cmdSendResponse:
		if d.correlator.deliverResponse(cmd.id, cmd.resp) {
			cmd.result <- nil
		} else {
			cmd.result <- newResponseError(ResponseTimeout)
		}

	case cmdReportValidation:
		d.handleReportValidation(cmd)

	case cmdUpdateBlockHeight:
		d.localHeight = cmd.height

	case cmdGetPeerInfo:
		cmd.result <- d.peerManager.getPeerInfo(cmd.peer)

	case cmdListPeers:
		cmd.result <- d.peerManager.connectedNonBanned()
	}
}

func (d *driver) handleSendRequest(cmd cmdSendRequest) {
	var target PeerID

	if cmd.target != nil {
		target = *cmd.target

		if d.peerManager.isBanned(target) {
			cmd.result <- sendRequestResult{err: newSendError(SendNoEligiblePeer)}

			return
		}
	} else {
		eligible := d.peerManager.connectedNonBanned()

		picked, ok := pickRandomPeer(eligible)
		if !ok {
			cmd.result <- sendRequestResult{err: newSendError(SendNoEligiblePeer)}

			return
		}

		target = picked
	}

	if d.correlator.pendingCount() >= maxOutboundPending {
		cmd.result <- sendRequestResult{err: newSendError(SendFull)}

		return
	}

	id := d.correlator.issue(context.Background(), target, cmd.req, cmd.reply, cmd.deadline)
	cmd.result <- sendRequestResult{id: id}
}

func (d *driver) handleConnEvent(ev connEvent) {
	switch ev.kind {
	case connEventConnected:
		if _, pending := d.checksumPending[ev.peer]; pending {
			return
		}

		d.checksumPending[ev.peer] = struct{}{}
		d.pendingAddrs[ev.peer] = ev.addrs

		go func(p PeerID) {
			_ = d.checksumGate.dial(context.Background(), p)
		}(ev.peer)

	case connEventDisconnected:
		delete(d.checksumPending, ev.peer)

		wasReserved := d.peerManager.onConnectionClosed(ev.peer)

		for _, id := range d.correlator.outboundByPeer(ev.peer) {
			if e := d.correlator.removeOutbound(id); e != nil {
				deliverReply(e.reply, RequestResult{Peer: ev.peer, Err: newResponseError(ResponsePeerDisconnected)})
			}
		}

		d.emit(Event{Kind: EventPeerDisconnected, Peer: ev.peer})

		if wasReserved {
			go d.redialReserved(ev.peer)
		}
	}
}

func (d *driver) handleChecksumResult(res checksumResult) {
	delete(d.checksumPending, res.peer)
	addrs := d.pendingAddrs[res.peer]
	delete(d.pendingAddrs, res.peer)

	if res.err != nil || !res.ok {
		logger.Warn("checksum handshake failed, closing connection", "peer", res.peer, "error", res.err)
		_ = d.closePeer(res.peer)

		return
	}

	decision := d.peerManager.onConnectionEstablished(res.peer, addrs, time.Now())
	if !decision.accept {
		logger.Info("rejected peer admission", "peer", res.peer, "reason", decision.reason.String())
		_ = d.closePeer(res.peer)

		return
	}

	d.emit(Event{Kind: EventPeerConnected, Peer: res.peer})
}

func (d *driver) closePeer(p PeerID) error {
	return d.host.Network().ClosePeer(p)
}

func (d *driver) redialReserved(p PeerID) {
	for _, ai := range d.reserved {
		if ai.ID == p {
			dialReserved(context.Background(), d.host, []peer.AddrInfo{ai}, "reserved")

			return
		}
	}
}

func (d *driver) handleGossipInbound(in gossipInbound) {
	d.gossip.markSeen(in.messageID)

	if in.message != nil && in.message.Kind == GossipPreConfirmation && d.preConfirmSub != nil {
		d.preConfirmSub.deliver(in.message.PreConfirmation)
	}

	d.emit(Event{
		Kind:            EventGossipsubMessage,
		GossipMessageID: in.messageID,
		GossipPeer:      in.peer,
		GossipTopic:     in.topic,
		Message:         in.message,
	})
}

// handleOutboundDone resolves one outbound request's reply slot. A call
// failure is either an ordinary transport/timeout error or, when the
// remote answered with the wrong response variant, a ResponseError already
// carrying ResponseTypeMismatch from translateCallError (§4.3 scenario 5).
func (d *driver) handleOutboundDone(done outboundDone) {
	e := d.correlator.removeOutbound(done.id)
	if e == nil {
		return
	}

	if done.err != nil {
		var respErr *ResponseError
		if errors.As(done.err, &respErr) && respErr.Reason == ResponseTypeMismatch {
			d.peerManager.applyScoreDelta(done.peer, scoreDeltaReject/2, time.Now()) //nolint:mnd
			deliverReply(e.reply, RequestResult{Peer: done.peer, Err: respErr})

			return
		}

		deliverReply(e.reply, RequestResult{Peer: done.peer, Err: newResponseError(ResponseTimeout)})

		return
	}

	if !done.response.Matches(e.kind) {
		d.peerManager.applyScoreDelta(done.peer, scoreDeltaReject/2, time.Now()) //nolint:mnd
		deliverReply(e.reply, RequestResult{Peer: done.peer, Err: newResponseError(ResponseTypeMismatch)})

		return
	}

	deliverReply(e.reply, RequestResult{Peer: done.peer, Response: done.response})
}

func (d *driver) handleTimeouts(now time.Time) {
	for _, id := range d.correlator.deadlines.popDue(now) {
		e, ok := d.correlator.outbound[id]
		if !ok {
			continue
		}

		delete(d.correlator.outbound, id)
		deliverReply(e.reply, RequestResult{Peer: e.peer, Err: newResponseError(ResponseTimeout)})
	}
}

// handleReportValidation routes the consumer's verdict to the blocked
// GossipSub validator and applies the corresponding score delta to the
// message's source peer, requesting a disconnect if the delta crosses the
// graylist threshold (§4.2 Invariant, report_validation).
func (d *driver) handleReportValidation(cmd cmdReportValidation) {
	source, hasSource := d.gossip.sourcePeer(cmd.id)

	delivered := d.gossip.deliverValidation(cmd.id, cmd.verdict)
	if !delivered || !hasSource {
		return
	}

	var delta float64

	switch cmd.verdict {
	case Accept:
		delta = scoreDeltaAccept
	case Reject:
		delta = scoreDeltaReject
	default:
		return
	}

	if d.peerManager.applyScoreDelta(source, delta, time.Now()) {
		_ = d.closePeer(source)
	}
}

// broadcastHeartbeat gossips the local block height to every connected,
// non-banned peer, fired on each heartbeat tick (§4.1).
func (d *driver) broadcastHeartbeat() {
	height := d.localHeight

	for _, p := range d.peerManager.connectedNonBanned() {
		go func(p PeerID) {
			_ = d.heartbeatGate.send(context.Background(), p, height)
		}(p)
	}
}

// handleHeartbeatInbound records a peer's reported block height and
// surfaces PeerInfoUpdated (§4.1, §6).
func (d *driver) handleHeartbeatInbound(hb heartbeatInbound) {
	if d.peerManager.updateHeartbeat(hb.peer, hb.height, time.Now()) {
		d.emit(Event{Kind: EventPeerInfoUpdated, Peer: hb.peer, PeerInfo: d.peerManager.getPeerInfo(hb.peer)})
	}
}

// handleIdentifyEvent records a peer's advertised client version and
// listen addresses and surfaces PeerInfoUpdated (§4.1, §6).
func (d *driver) handleIdentifyEvent(ev identifyEvent) {
	if d.peerManager.updateIdentify(ev.peer, ev.clientVersion, ev.addrs) {
		d.emit(Event{Kind: EventPeerInfoUpdated, Peer: ev.peer, PeerInfo: d.peerManager.getPeerInfo(ev.peer)})
	}
}

func (d *driver) emit(ev Event) {
	select {
	case d.eventCh <- ev:
	case <-d.doneCh:
	}
}

// deliverReply hands a result to a reply slot without blocking the driver
// goroutine: an unbuffered, full, or abandoned ReplySlot is the caller's
// problem, not a reason to wedge the single-threaded driver (§4.3, §5).
func deliverReply(reply ReplySlot, res RequestResult) {
	select {
	case reply <- res:
	default:
	}
}
