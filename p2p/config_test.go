package p2p

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidateRejectsReservedOnlyWithoutReserved(t *testing.T) {
	cfg := &Config{NetworkName: "test", ReservedNodesOnlyMode: true}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "reserved_nodes_only_mode")
}

func TestConfigValidateRequiresNetworkName(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "network_name")
}

func TestConfigValidateRejectsNonPositiveTimeouts(t *testing.T) {
	cfg := &Config{NetworkName: "test", SetRequestTimeout: 0, MaxBlockSize: 1}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "set_request_timeout")
}

func TestConfigApplyDefaults(t *testing.T) {
	cfg := &Config{NetworkName: "test"}
	cfg.applyDefaults()

	assert.Equal(t, []string{DefaultListenAddress}, cfg.ListenAddresses)
	assert.Equal(t, DefaultMaxDiscoveryPeersConnected, cfg.MaxDiscoveryPeersConnected)
	assert.Equal(t, DefaultMaxFunctionalPeersConnected, cfg.MaxFunctionalPeersConnected)
	assert.Equal(t, time.Duration(DefaultSetRequestTimeout), cfg.SetRequestTimeout)
	assert.Equal(t, DefaultMaxBlockSize, cfg.MaxBlockSize)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.HeartbeatInterval)
	assert.Equal(t, DefaultBanLinger, cfg.BanLinger)
	assert.InEpsilon(t, DefaultGraylistThreshold, cfg.GraylistThreshold, 0.0001)
	assert.Equal(t, DefaultReservedRedialMaxBackoff, cfg.ReservedRedialMaxBackoff)

	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigGeneratesKeyWhenUnset(t *testing.T) {
	t.Setenv("FUELNET_P2P_NETWORK_NAME", "devnet")

	cfg, err := LoadConfig()
	assert.NoError(t, err)
	assert.NotNil(t, cfg.Key)
	assert.Equal(t, "devnet", cfg.NetworkName)
}
