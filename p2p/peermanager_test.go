package p2p

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomPeerID(t *testing.T) PeerID {
	t.Helper()

	id, err := test.RandPeerID()
	require.NoError(t, err)

	return id
}

func testConfig() *Config {
	cfg := &Config{NetworkName: "test"}
	cfg.applyDefaults()
	cfg.MaxDiscoveryPeersConnected = 2

	return cfg
}

func TestPeerManagerReservedAlwaysAdmitted(t *testing.T) {
	local := randomPeerID(t)
	reserved := randomPeerID(t)

	cfg := testConfig()
	cfg.MaxDiscoveryPeersConnected = 0

	pm := newPeerManager(local, cfg, []PeerID{reserved}, nil)

	decision := pm.onConnectionEstablished(reserved, []string{"/ip4/127.0.0.1/tcp/1"}, time.Now())
	assert.True(t, decision.accept)
	assert.Equal(t, ClassReserved, pm.classOf(reserved))
}

func TestPeerManagerRejectsSelfDial(t *testing.T) {
	local := randomPeerID(t)
	pm := newPeerManager(local, testConfig(), nil, nil)

	decision := pm.onConnectionEstablished(local, nil, time.Now())
	assert.False(t, decision.accept)
	assert.Equal(t, AdmissionSelfDial, decision.reason)
}

func TestPeerManagerDiscoveryCapacity(t *testing.T) {
	local := randomPeerID(t)
	cfg := testConfig()
	cfg.MaxDiscoveryPeersConnected = 1

	pm := newPeerManager(local, cfg, nil, nil)

	first := randomPeerID(t)
	second := randomPeerID(t)

	now := time.Now()

	decision1 := pm.onConnectionEstablished(first, nil, now)
	assert.True(t, decision1.accept)

	decision2 := pm.onConnectionEstablished(second, nil, now)
	assert.False(t, decision2.accept)
	assert.Equal(t, AdmissionCapacityFull, decision2.reason)
}

func TestPeerManagerReservedOnlyMode(t *testing.T) {
	local := randomPeerID(t)
	reserved := randomPeerID(t)
	other := randomPeerID(t)

	cfg := testConfig()
	cfg.ReservedNodesOnlyMode = true

	pm := newPeerManager(local, cfg, []PeerID{reserved}, nil)

	now := time.Now()

	decision := pm.onConnectionEstablished(other, nil, now)
	assert.False(t, decision.accept)
	assert.Equal(t, AdmissionReservedOnlyMode, decision.reason)

	decision = pm.onConnectionEstablished(reserved, nil, now)
	assert.True(t, decision.accept)
}

func TestPeerManagerScoreBanAndLinger(t *testing.T) {
	local := randomPeerID(t)
	p := randomPeerID(t)

	cfg := testConfig()
	cfg.GraylistThreshold = -10
	cfg.BanLinger = time.Minute

	pm := newPeerManager(local, cfg, nil, nil)

	now := time.Now()
	pm.onConnectionEstablished(p, nil, now)

	shouldBan := pm.applyScoreDelta(p, -20, now)
	assert.True(t, shouldBan)
	assert.True(t, pm.isBanned(p))

	// Disconnect, then a re-dial attempt during the linger window is
	// rejected even though the record itself was removed.
	pm.onConnectionClosed(p)

	decision := pm.onConnectionEstablished(p, nil, now.Add(time.Second))
	assert.False(t, decision.accept)
	assert.Equal(t, AdmissionBannedPeer, decision.reason)

	// After the linger window elapses, the peer may reconnect.
	pm.pruneBanLinger(now.Add(2 * time.Minute))
	decision = pm.onConnectionEstablished(p, nil, now.Add(2*time.Minute))
	assert.True(t, decision.accept)
}

func TestPeerManagerReservedNeverBanned(t *testing.T) {
	local := randomPeerID(t)
	reserved := randomPeerID(t)

	cfg := testConfig()
	cfg.GraylistThreshold = -10

	pm := newPeerManager(local, cfg, []PeerID{reserved}, nil)

	now := time.Now()
	pm.onConnectionEstablished(reserved, nil, now)

	shouldBan := pm.applyScoreDelta(reserved, -1000, now)
	assert.False(t, shouldBan)
	assert.False(t, pm.isBanned(reserved))
}

func TestPeerManagerConnectionClosedReportsReserved(t *testing.T) {
	local := randomPeerID(t)
	reserved := randomPeerID(t)

	pm := newPeerManager(local, testConfig(), []PeerID{reserved}, nil)
	pm.onConnectionEstablished(reserved, nil, time.Now())

	wasReserved := pm.onConnectionClosed(reserved)
	assert.True(t, wasReserved)
}
