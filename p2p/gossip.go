package p2p

import (
	"context"
	"fmt"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
)

// Score deltas applied by the Gossip Layer in response to a consumer's
// validation verdict (§4.2).
const (
	scoreDeltaAccept = 1.0
	scoreDeltaReject = -100.0

	// validationWait bounds how long a topic validator blocks waiting for
	// the consumer to call Node.ReportMessageValidation before defaulting
	// to Ignore, so a slow or absent consumer never wedges the mesh.
	validationWait = 5 * time.Second

	gossipQueueSize = 256
)

// gossipInbound is handed from a topic validator / reader goroutine to the
// driver loop.
type gossipInbound struct {
	messageID MessageID
	peer      PeerID
	topic     Topic
	message   *GossipMessage
}

// gossipSubscription is forwarded to the driver when a peer subscribes to
// one of our topics.
type gossipSubscription struct {
	peer  PeerID
	topic Topic
}

// gossipLayer publishes and delivers topic messages with validator
// feedback (§4.2), built on go-libp2p-pubsub's GossipSub implementation.
type gossipLayer struct {
	ps          *pubsub.PubSub
	topics      map[Topic]*pubsub.Topic
	subs        map[Topic]*pubsub.Subscription
	networkName string

	inboundCh      chan gossipInbound
	subscriptionCh chan gossipSubscription

	seenMu sync.Mutex // guards seen; publish, markSeen and pruneSeen all run on the driver loop
	seen   map[MessageID]time.Time

	pendingMu   sync.Mutex
	pendingVal  map[MessageID]chan Acceptance
	pendingPeer map[MessageID]PeerID

	rateMu      sync.Mutex
	rateBuckets map[PeerID]*tokenBucket
}

func newGossipLayer(ctx context.Context, h host.Host, cfg *Config) (*gossipLayer, error) {
	g := &gossipLayer{
		topics:         make(map[Topic]*pubsub.Topic),
		subs:           make(map[Topic]*pubsub.Subscription),
		networkName:    cfg.NetworkName,
		inboundCh:      make(chan gossipInbound, gossipQueueSize),
		subscriptionCh: make(chan gossipSubscription, gossipQueueSize),
		seen:           make(map[MessageID]time.Time),
		pendingVal:     make(map[MessageID]chan Acceptance),
		pendingPeer:    make(map[MessageID]PeerID),
		rateBuckets:    make(map[PeerID]*tokenBucket),
	}

	ps, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithMessageIdFn(func(m *pubsub.Message) string {
			return string(messageIDFromPayload(m.Data))
		}),
		pubsub.WithMaxMessageSize(cfg.MaxBlockSize),
		pubsub.WithPeerExchange(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gossipsub: %w", err)
	}

	g.ps = ps

	if cfg.SubscribeToNewTx {
		if err := g.joinAndSubscribe(Topic(baseTopicNewTx), cfg); err != nil {
			return nil, err
		}
	}

	if cfg.SubscribeToPreConfirmations {
		if err := g.joinAndSubscribe(Topic(baseTopicTxPreConfirmations), cfg); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func (g *gossipLayer) joinAndSubscribe(base Topic, cfg *Config) error {
	wireName := topicName(string(base), cfg.NetworkName)

	topic, err := g.ps.Join(wireName)
	if err != nil {
		return fmt.Errorf("failed to join topic %q: %w", wireName, err)
	}

	if err := g.ps.RegisterTopicValidator(wireName, g.validatorFor(base)); err != nil {
		return fmt.Errorf("failed to register validator for %q: %w", wireName, err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic %q: %w", wireName, err)
	}

	g.topics[base] = topic
	g.subs[base] = sub

	go g.readLoop(base, sub)
	go g.subscriptionEventLoop(base, topic)

	return nil
}

// validatorFor builds a GossipSub topic validator that blocks (bounded by
// validationWait) until the consumer calls Node.ReportMessageValidation,
// translating Accept/Reject/Ignore into pubsub's own ValidationResult so
// mesh propagation is withheld on Reject/Ignore without us reimplementing
// it (§4.2).
func (g *gossipLayer) validatorFor(base Topic) pubsub.ValidatorEx {
	return func(ctx context.Context, from PeerID, msg *pubsub.Message) pubsub.ValidationResult {
		id := MessageID(msg.ID)

		if !g.allowFromPeer(from) {
			return pubsub.ValidationIgnore
		}

		decoded, err := unmarshalGossipMessage(msg.Data)
		if err != nil {
			return pubsub.ValidationReject
		}

		ch := make(chan Acceptance, 1)
		g.pendingMu.Lock()
		g.pendingVal[id] = ch
		g.pendingPeer[id] = from
		g.pendingMu.Unlock()

		defer func() {
			g.pendingMu.Lock()
			delete(g.pendingVal, id)
			delete(g.pendingPeer, id)
			g.pendingMu.Unlock()
		}()

		select {
		case g.inboundCh <- gossipInbound{messageID: id, peer: from, topic: base, message: decoded}:
		case <-ctx.Done():
			return pubsub.ValidationIgnore
		}

		select {
		case v := <-ch:
			switch v {
			case Accept:
				return pubsub.ValidationAccept
			case Reject:
				return pubsub.ValidationReject
			default:
				return pubsub.ValidationIgnore
			}
		case <-time.After(validationWait):
			return pubsub.ValidationIgnore
		case <-ctx.Done():
			return pubsub.ValidationIgnore
		}
	}
}

func (g *gossipLayer) allowFromPeer(p PeerID) bool {
	g.rateMu.Lock()
	defer g.rateMu.Unlock()

	tb, ok := g.rateBuckets[p]
	if !ok {
		tb = newTokenBucket(gossipRateLimit, gossipRateBurst)
		g.rateBuckets[p] = tb
	}

	return tb.Allow(time.Now())
}

func (g *gossipLayer) readLoop(base Topic, sub *pubsub.Subscription) {
	for {
		if _, err := sub.Next(context.Background()); err != nil {
			return
		}
		// Delivery to the driver happens from the validator itself
		// (validatorFor), since pubsub only calls Next's caller after
		// validation accepts; our validator already forwarded the
		// message for surfacing regardless of the eventual verdict.
	}
}

func (g *gossipLayer) subscriptionEventLoop(base Topic, topic *pubsub.Topic) {
	evts, err := topic.EventHandler()
	if err != nil {
		return
	}

	for {
		evt, err := evts.NextPeerEvent(context.Background())
		if err != nil {
			return
		}

		if evt.Type != pubsub.PeerJoin {
			continue
		}

		select {
		case g.subscriptionCh <- gossipSubscription{peer: evt.Peer, topic: base}:
		default:
		}
	}
}

// sourcePeer returns the peer a still-pending validation was received from,
// used to apply a score delta when the consumer reports its verdict (§4.2).
func (g *gossipLayer) sourcePeer(id MessageID) (PeerID, bool) {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()

	p, ok := g.pendingPeer[id]

	return p, ok
}

// deliverValidation routes a consumer's verdict to the blocked validator
// goroutine, if one is still waiting.
func (g *gossipLayer) deliverValidation(id MessageID, acceptance Acceptance) bool {
	g.pendingMu.Lock()
	ch, ok := g.pendingVal[id]
	g.pendingMu.Unlock()

	if !ok {
		return false
	}

	select {
	case ch <- acceptance:
		return true
	default:
		return false
	}
}

// publish derives the topic, computes the message id, and either enqueues
// the message on the wire (inserting into the local-seen window) or
// returns PublishDuplicate, driven entirely from the driver goroutine.
func (g *gossipLayer) publish(ctx context.Context, m *GossipMessage) error {
	base, err := m.topicBase()
	if err != nil {
		return &PublishError{Reason: PublishNotSubscribed, Err: err}
	}

	topic, ok := g.topics[Topic(base)]
	if !ok {
		return newPublishError(PublishNotSubscribed)
	}

	data, id, err := marshalGossipMessage(m)
	if err != nil {
		return &PublishError{Reason: PublishTransport, Err: err}
	}

	g.seenMu.Lock()
	_, seen := g.seen[id]
	if !seen {
		g.seen[id] = time.Now()
	}
	g.seenMu.Unlock()

	if seen {
		return newPublishError(PublishDuplicate)
	}

	if err := topic.Publish(ctx, data); err != nil {
		return &PublishError{Reason: PublishTransport, Err: err}
	}

	return nil
}

// markSeen records an inbound message's id in the local-seen window so a
// later local republish of the same payload also collapses to Duplicate.
func (g *gossipLayer) markSeen(id MessageID) {
	g.seenMu.Lock()
	defer g.seenMu.Unlock()

	if _, ok := g.seen[id]; !ok {
		g.seen[id] = time.Now()
	}
}

// pruneSeen discards local-seen entries older than window, called from the
// driver's heartbeat tick.
func (g *gossipLayer) pruneSeen(window time.Duration, now time.Time) {
	g.seenMu.Lock()
	defer g.seenMu.Unlock()

	for id, at := range g.seen {
		if now.Sub(at) > window {
			delete(g.seen, id)
		}
	}
}

func (g *gossipLayer) close() {
	for _, sub := range g.subs {
		sub.Cancel()
	}

	for _, t := range g.topics {
		_ = t.Close()
	}
}
