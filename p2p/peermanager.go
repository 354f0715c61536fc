package p2p

import (
	"time"
)

// admissionDecision is the Peer Manager's verdict on a connecting peer.
type admissionDecision struct {
	accept bool
	reason AdmissionReason
}

// peerManager classifies peers and enforces admission control (§4.1). It
// is interior to the driver — every method below is called exclusively
// from the driver goroutine, so it needs no locking of its own (§5).
type peerManager struct {
	localID PeerID

	reservedOnly   bool
	maxDiscovery   int
	graylist       float64
	banLinger      time.Duration
	redialMaxBack  time.Duration

	reserved   map[PeerID]struct{}
	bootstrap  map[PeerID]struct{}
	maxBootstrap int

	records map[PeerID]*PeerRecord

	// discoveredCount is the live admission counter for Discovered peers,
	// kept strictly separate from the Reserved roster so a slot is
	// always available for Reserved peers (Invariant 2/3).
	discoveredCount int
	bootstrapCount  int

	// banLingerUntil tracks peers whose ban should be forgotten after the
	// linger window, even though their record was already removed on
	// disconnect.
	banLingerUntil map[PeerID]time.Time
}

func newPeerManager(localID PeerID, cfg *Config, reserved, bootstrap []PeerID) *peerManager {
	pm := &peerManager{
		localID:       localID,
		reservedOnly:  cfg.ReservedNodesOnlyMode,
		maxDiscovery:  cfg.MaxDiscoveryPeersConnected,
		graylist:      cfg.GraylistThreshold,
		banLinger:     cfg.BanLinger,
		redialMaxBack: cfg.ReservedRedialMaxBackoff,
		reserved:      make(map[PeerID]struct{}, len(reserved)),
		bootstrap:     make(map[PeerID]struct{}, len(bootstrap)),
		maxBootstrap:  len(bootstrap),
		records:       make(map[PeerID]*PeerRecord),
		banLingerUntil: make(map[PeerID]time.Time),
	}

	for _, p := range reserved {
		pm.reserved[p] = struct{}{}
	}

	for _, p := range bootstrap {
		pm.bootstrap[p] = struct{}{}
	}

	return pm
}

func (pm *peerManager) classOf(p PeerID) PeerClass {
	if _, ok := pm.reserved[p]; ok {
		return ClassReserved
	}

	if _, ok := pm.bootstrap[p]; ok {
		return ClassBootstrap
	}

	return ClassDiscovered
}

// onConnectionEstablished decides whether to accept a newly-established
// connection, per §4.1's admission rules.
func (pm *peerManager) onConnectionEstablished(p PeerID, addrs []string, now time.Time) admissionDecision {
	if p == pm.localID {
		return admissionDecision{accept: false, reason: AdmissionSelfDial}
	}

	if until, banned := pm.banLingerUntil[p]; banned && now.Before(until) {
		return admissionDecision{accept: false, reason: AdmissionBannedPeer}
	}

	class := pm.classOf(p)

	if pm.reservedOnly && class != ClassReserved {
		return admissionDecision{accept: false, reason: AdmissionReservedOnlyMode}
	}

	switch class {
	case ClassReserved:
		// Always admitted: never counted against the discovery cap
		// and never ejected (Invariant 3).
	case ClassBootstrap:
		if _, exists := pm.records[p]; !exists && pm.bootstrapCount >= pm.maxBootstrap {
			return admissionDecision{accept: false, reason: AdmissionCapacityFull}
		}
	case ClassDiscovered:
		if _, exists := pm.records[p]; !exists && pm.discoveredCount >= pm.maxDiscovery {
			return admissionDecision{accept: false, reason: AdmissionCapacityFull}
		}
	}

	rec, exists := pm.records[p]
	if !exists {
		rec = &PeerRecord{Class: class, Addresses: make(map[string]struct{}), connectedAt: now}
		pm.records[p] = rec

		switch class {
		case ClassBootstrap:
			pm.bootstrapCount++
		case ClassDiscovered:
			pm.discoveredCount++
		case ClassReserved:
		}
	}

	for _, a := range addrs {
		rec.Addresses[a] = struct{}{}
	}

	return admissionDecision{accept: true}
}

// onConnectionClosed removes the record for a disconnected peer and
// reports whether the peer was Reserved (the driver uses this to decide
// whether to schedule an immediate re-dial, §4.1).
func (pm *peerManager) onConnectionClosed(p PeerID) (wasReserved bool) {
	rec, exists := pm.records[p]
	if !exists {
		return pm.classOf(p) == ClassReserved
	}

	switch rec.Class {
	case ClassBootstrap:
		pm.bootstrapCount--
	case ClassDiscovered:
		pm.discoveredCount--
	case ClassReserved:
	}

	delete(pm.records, p)

	return rec.Class == ClassReserved
}

func (pm *peerManager) updateHeartbeat(p PeerID, blockHeight uint32, now time.Time) bool {
	rec, exists := pm.records[p]
	if !exists {
		return false
	}

	rec.Heartbeat = &Heartbeat{BlockHeight: blockHeight, LastSeen: now}

	return true
}

func (pm *peerManager) updateIdentify(p PeerID, clientVersion string, addrs []string) bool {
	rec, exists := pm.records[p]
	if !exists {
		return false
	}

	rec.ClientVersion = clientVersion
	for _, a := range addrs {
		rec.Addresses[a] = struct{}{}
	}

	return true
}

// applyScoreDelta mutates a peer's cumulative score and reports whether a
// disconnect/ban should now be requested. Reserved peers are still scored
// for observability but are never banned (§4.2).
func (pm *peerManager) applyScoreDelta(p PeerID, delta float64, now time.Time) (shouldBan bool) {
	rec, exists := pm.records[p]
	if !exists {
		return false
	}

	rec.Score += delta

	if rec.Class == ClassReserved {
		return false
	}

	if !rec.Banned && rec.Score < pm.graylist {
		rec.Banned = true
		pm.banLingerUntil[p] = now.Add(pm.banLinger)

		return true
	}

	return false
}

func (pm *peerManager) isBanned(p PeerID) bool {
	rec, exists := pm.records[p]

	return exists && rec.Banned
}

func (pm *peerManager) totalPeersConnected() int {
	return len(pm.records)
}

func (pm *peerManager) getPeerInfo(p PeerID) *PeerRecord {
	rec, exists := pm.records[p]
	if !exists {
		return nil
	}

	return rec.Clone()
}

// connectedNonBanned returns the ids of every currently-connected peer not
// marked banned (Reserved peers are never marked, whatever their score),
// used by the Correlator to pick a random eligible target (§4.3).
func (pm *peerManager) connectedNonBanned() []PeerID {
	out := make([]PeerID, 0, len(pm.records))

	for id, rec := range pm.records {
		if !rec.Banned {
			out = append(out, id)
		}
	}

	return out
}

// pruneBanLinger forgets bans whose linger window has elapsed, called
// periodically from the driver's heartbeat tick.
func (pm *peerManager) pruneBanLinger(now time.Time) {
	for id, until := range pm.banLingerUntil {
		if now.After(until) {
			delete(pm.banLingerUntil, id)
		}
	}
}
