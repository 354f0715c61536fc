package p2p

// EventKind tags the variant carried by an Event, the idiomatic Go
// substitute for a Rust enum (§3).
type EventKind int

const (
	EventPeerConnected EventKind = iota
	EventPeerDisconnected
	EventPeerInfoUpdated
	EventNewSubscription
	EventGossipsubMessage
	EventInboundRequestMessage
)

func (k EventKind) String() string {
	switch k {
	case EventPeerConnected:
		return "peer_connected"
	case EventPeerDisconnected:
		return "peer_disconnected"
	case EventPeerInfoUpdated:
		return "peer_info_updated"
	case EventNewSubscription:
		return "new_subscription"
	case EventGossipsubMessage:
		return "gossipsub_message"
	case EventInboundRequestMessage:
		return "inbound_request_message"
	default:
		return "unknown"
	}
}

// Event is the single type surfaced on Node's event stream. Only the
// field(s) matching Kind are populated, mirroring the sum-type payloads of
// §4 (PeerConnected, PeerDisconnected, PeerInfoUpdated, NewSubscription,
// GossipsubMessage, InboundRequestMessage).
type Event struct {
	Kind EventKind

	// Peer identifies the subject peer for PeerConnected,
	// PeerDisconnected, and PeerInfoUpdated.
	Peer PeerID

	// PeerInfo accompanies PeerInfoUpdated.
	PeerInfo *PeerRecord

	// Topic and Subscriber accompany NewSubscription.
	Topic      Topic
	Subscriber PeerID

	// GossipMessageID, GossipPeer, GossipTopic, and Message accompany
	// GossipsubMessage; the consumer reports its verdict by calling
	// Node.ReportMessageValidation(GossipMessageID, ...).
	GossipMessageID MessageID
	GossipPeer      PeerID
	GossipTopic     Topic
	Message         *GossipMessage

	// RequestID and Request accompany InboundRequestMessage; the
	// consumer MUST eventually call Node.SendResponse(RequestID, ...)
	// exactly once (§4.3).
	RequestID RequestID
	Request   RequestMessage
}
