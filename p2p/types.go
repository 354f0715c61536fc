package p2p

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerID identifies a peer by its long-term public key hash. It is a thin
// alias over libp2p's own type since it already satisfies the spec's
// "opaque 32-byte identifier, equality and hashing only" requirement and is
// directly usable as a map key.
type PeerID = peer.ID

// Range is a half-open integer interval [Start, End).
type Range struct {
	Start uint32
	End   uint32
}

// Len returns the number of items the range covers.
func (r Range) Len() int {
	if r.End <= r.Start {
		return 0
	}

	return int(r.End - r.Start)
}

// TxID identifies a transaction in the pool.
type TxID string

// PeerClass tags how a peer was admitted.
type PeerClass int

const (
	// ClassReserved peers are configured at startup, immutable, never
	// banned, and always guaranteed a connection slot.
	ClassReserved PeerClass = iota
	// ClassBootstrap peers are dialed once at startup for initial
	// discovery; after that they are treated like any other connected
	// peer for eviction purposes.
	ClassBootstrap
	// ClassDiscovered covers every other connected peer (mDNS, DHT,
	// gossip peer-exchange, inbound dials).
	ClassDiscovered
)

func (c PeerClass) String() string {
	switch c {
	case ClassReserved:
		return "reserved"
	case ClassBootstrap:
		return "bootstrap"
	case ClassDiscovered:
		return "discovered"
	default:
		return "unknown"
	}
}

// Heartbeat is the last block-height report received from a peer.
type Heartbeat struct {
	BlockHeight uint32
	LastSeen    time.Time
}

// PeerRecord is the per-connected-peer state the Peer Manager tracks.
type PeerRecord struct {
	Class         PeerClass
	Addresses     map[string]struct{}
	ClientVersion string
	Heartbeat     *Heartbeat
	Score         float64
	Banned        bool

	connectedAt time.Time
}

// Clone returns a value copy safe to hand to callers outside the driver
// goroutine (the Addresses map is copied).
func (p *PeerRecord) Clone() *PeerRecord {
	if p == nil {
		return nil
	}

	out := *p
	out.Addresses = make(map[string]struct{}, len(p.Addresses))

	for a := range p.Addresses {
		out.Addresses[a] = struct{}{}
	}

	if p.Heartbeat != nil {
		hb := *p.Heartbeat
		out.Heartbeat = &hb
	}

	return &out
}

// Acceptance is the consumer's verdict on a received gossip message, fed
// back via Node.ReportMessageValidation.
type Acceptance int

const (
	// Accept propagates the message to the mesh and rewards the source.
	Accept Acceptance = iota
	// Reject withholds propagation and heavily penalizes the source.
	Reject
	// Ignore withholds propagation without any score change.
	Ignore
)

func (a Acceptance) String() string {
	switch a {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	case Ignore:
		return "ignore"
	default:
		return "unknown"
	}
}

// MessageID is the content-derived identifier used to deduplicate gossip
// messages across senders (Invariant 6).
type MessageID string

// RequestID correlates an outbound request to its eventual response
// (Invariant 5).
type RequestID uint64
