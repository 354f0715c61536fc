package p2p

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// DefaultEnvPrefix is the environment variable prefix used when
	// loading Config via LoadConfig.
	DefaultEnvPrefix = "FUELNET_P2P"

	// DefaultListenAddress is the default libp2p listen multiaddress.
	DefaultListenAddress = "/ip4/0.0.0.0/tcp/0"

	// DefaultMaxDiscoveryPeersConnected caps Discovered-class admission.
	DefaultMaxDiscoveryPeersConnected = 50
	// DefaultMaxFunctionalPeersConnected is the default
	// MaxFunctionalPeersConnected.
	DefaultMaxFunctionalPeersConnected = 100
	// DefaultSetRequestTimeout is the outbound-request deadline.
	DefaultSetRequestTimeout = 10 * time.Second
	// DefaultMaxBlockSize bounds request/response frame payloads.
	DefaultMaxBlockSize = 4 * 1024 * 1024
	// DefaultHeartbeatInterval is how often the local block height is
	// gossiped to connected peers.
	DefaultHeartbeatInterval = 10 * time.Second
	// DefaultBanLinger is how long a ban persists past its triggering
	// connection's lifetime.
	DefaultBanLinger = time.Hour
	// DefaultGraylistThreshold is the score below which a peer's
	// messages are dropped and a ban is requested.
	DefaultGraylistThreshold = -100.0
	// DefaultReservedRedialMaxBackoff is the default
	// ReservedRedialMaxBackoff.
	DefaultReservedRedialMaxBackoff = time.Minute
)

// Config collects every option consumed by Node at construction (§6).
type Config struct {
	// Key is the node's long-term identity keypair. If nil, LoadConfig
	// generates a fresh random Ed25519 key.
	Key crypto.PrivKey `json:"-" mapstructure:"-"`

	// ListenAddresses are the libp2p multiaddresses to bind.
	ListenAddresses []string `json:"listen_addresses,omitempty" mapstructure:"listen_addresses"`

	// NetworkName suffixes every gossip topic name. It is not part of the
	// checksum handshake, which compares Checksum only.
	NetworkName string `json:"network_name,omitempty" mapstructure:"network_name"`

	// Checksum is a 32-byte chain/config digest exchanged at connection
	// upgrade; a mismatch aborts the connection.
	Checksum [32]byte `json:"-" mapstructure:"-"`

	// BootstrapNodes are dialed once at startup; a failed dial is not
	// retried.
	BootstrapNodes []string `json:"bootstrap_nodes,omitempty" mapstructure:"bootstrap_nodes"`

	// ReservedNodes are dialed once at startup and once more, immediately,
	// each time a Reserved peer disconnects; a failed dial is not retried.
	// Reserved peers are always guaranteed a connection slot and are never
	// banned.
	ReservedNodes []string `json:"reserved_nodes,omitempty" mapstructure:"reserved_nodes"`

	// ReservedNodesOnlyMode, when true, rejects every non-Reserved peer.
	ReservedNodesOnlyMode bool `json:"reserved_nodes_only_mode,omitempty" mapstructure:"reserved_nodes_only_mode"`

	// MaxDiscoveryPeersConnected caps the Discovered-class admission
	// counter, independent of Reserved/Bootstrap (Invariant 2/3).
	MaxDiscoveryPeersConnected int `json:"max_discovery_peers_connected,omitempty" mapstructure:"max_discovery_peers_connected"`

	// MaxFunctionalPeersConnected, added to MaxDiscoveryPeersConnected,
	// sets the connection manager's low watermark (the high watermark is
	// twice that). It is not passed to GossipSub, whose mesh parameters
	// are the library defaults.
	MaxFunctionalPeersConnected int `json:"max_functional_peers_connected,omitempty" mapstructure:"max_functional_peers_connected"`

	// EnableMDNS toggles local-network peer discovery.
	EnableMDNS bool `json:"enable_mdns,omitempty" mapstructure:"enable_mdns"`

	// SubscribeToNewTx toggles subscription to the NewTx topic.
	SubscribeToNewTx bool `json:"subscribe_to_new_tx,omitempty" mapstructure:"subscribe_to_new_tx"`
	// SubscribeToPreConfirmations toggles subscription to the
	// TxPreConfirmations topic.
	SubscribeToPreConfirmations bool `json:"subscribe_to_pre_confirmations,omitempty" mapstructure:"subscribe_to_pre_confirmations"`

	// SetRequestTimeout is the deadline used for outbound requests.
	SetRequestTimeout time.Duration `json:"set_request_timeout,omitempty" mapstructure:"set_request_timeout"`
	// MaxBlockSize bounds request/response frame payloads.
	MaxBlockSize int `json:"max_block_size,omitempty" mapstructure:"max_block_size"`

	// HeartbeatInterval is how often the local block height is gossiped.
	HeartbeatInterval time.Duration `json:"heartbeat_interval,omitempty" mapstructure:"heartbeat_interval"`
	// BanLinger is how long a ban persists past the triggering
	// connection's lifetime.
	BanLinger time.Duration `json:"ban_linger,omitempty" mapstructure:"ban_linger"`
	// GraylistThreshold is the score below which a peer is graylisted
	// and a ban is requested.
	GraylistThreshold float64 `json:"graylist_threshold,omitempty" mapstructure:"graylist_threshold"`
	// ReservedRedialMaxBackoff is stored in the Peer Manager. The re-dial
	// of a disconnected Reserved peer is a single immediate attempt and
	// applies no backoff.
	ReservedRedialMaxBackoff time.Duration `json:"reserved_redial_max_backoff,omitempty" mapstructure:"reserved_redial_max_backoff"`

	// Rendezvous, when set, enables DHT-routing-discovery advertisement
	// and lookup under this string.
	Rendezvous string `json:"rendezvous,omitempty" mapstructure:"rendezvous"`
}

// Validate rejects contradictory configuration combinations at
// construction time, per §9.
func (c *Config) Validate() error {
	if c.ReservedNodesOnlyMode && len(c.ReservedNodes) == 0 {
		return errors.New("reserved_nodes_only_mode requires at least one reserved node")
	}

	if c.NetworkName == "" {
		return errors.New("network_name must be set")
	}

	if c.MaxDiscoveryPeersConnected < 0 {
		return errors.New("max_discovery_peers_connected must be >= 0")
	}

	if c.SetRequestTimeout <= 0 {
		return errors.New("set_request_timeout must be positive")
	}

	if c.MaxBlockSize <= 0 {
		return errors.New("max_block_size must be positive")
	}

	return nil
}

// applyDefaults fills zero-valued fields with their documented defaults.
func (c *Config) applyDefaults() {
	if len(c.ListenAddresses) == 0 {
		c.ListenAddresses = []string{DefaultListenAddress}
	}

	if c.MaxDiscoveryPeersConnected == 0 {
		c.MaxDiscoveryPeersConnected = DefaultMaxDiscoveryPeersConnected
	}

	if c.MaxFunctionalPeersConnected == 0 {
		c.MaxFunctionalPeersConnected = DefaultMaxFunctionalPeersConnected
	}

	if c.SetRequestTimeout == 0 {
		c.SetRequestTimeout = DefaultSetRequestTimeout
	}

	if c.MaxBlockSize == 0 {
		c.MaxBlockSize = DefaultMaxBlockSize
	}

	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}

	if c.BanLinger == 0 {
		c.BanLinger = DefaultBanLinger
	}

	if c.GraylistThreshold == 0 {
		c.GraylistThreshold = DefaultGraylistThreshold
	}

	if c.ReservedRedialMaxBackoff == 0 {
		c.ReservedRedialMaxBackoff = DefaultReservedRedialMaxBackoff
	}
}

// LoadConfig loads configuration from the environment, following the
// teacher's viper/mapstructure convention (BindEnv + SetDefault per field,
// then a single Unmarshal with decode hooks).
func LoadConfig() (*Config, error) {
	v := viper.NewWithOptions(
		viper.KeyDelimiter("."),
		viper.EnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")),
	)

	v.SetEnvPrefix(DefaultEnvPrefix)
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	_ = v.BindEnv("network_name")

	_ = v.BindEnv("listen_addresses")
	v.SetDefault("listen_addresses", DefaultListenAddress)

	_ = v.BindEnv("bootstrap_nodes")
	_ = v.BindEnv("reserved_nodes")

	_ = v.BindEnv("reserved_nodes_only_mode")
	v.SetDefault("reserved_nodes_only_mode", false)

	_ = v.BindEnv("max_discovery_peers_connected")
	v.SetDefault("max_discovery_peers_connected", DefaultMaxDiscoveryPeersConnected)

	_ = v.BindEnv("max_functional_peers_connected")
	v.SetDefault("max_functional_peers_connected", DefaultMaxFunctionalPeersConnected)

	_ = v.BindEnv("enable_mdns")
	v.SetDefault("enable_mdns", true)

	_ = v.BindEnv("subscribe_to_new_tx")
	v.SetDefault("subscribe_to_new_tx", true)

	_ = v.BindEnv("subscribe_to_pre_confirmations")
	v.SetDefault("subscribe_to_pre_confirmations", true)

	_ = v.BindEnv("set_request_timeout")
	v.SetDefault("set_request_timeout", DefaultSetRequestTimeout)

	_ = v.BindEnv("max_block_size")
	v.SetDefault("max_block_size", DefaultMaxBlockSize)

	_ = v.BindEnv("heartbeat_interval")
	v.SetDefault("heartbeat_interval", DefaultHeartbeatInterval)

	_ = v.BindEnv("ban_linger")
	v.SetDefault("ban_linger", DefaultBanLinger)

	_ = v.BindEnv("graylist_threshold")
	v.SetDefault("graylist_threshold", DefaultGraylistThreshold)

	_ = v.BindEnv("reserved_redial_max_backoff")
	v.SetDefault("reserved_redial_max_backoff", DefaultReservedRedialMaxBackoff)

	_ = v.BindEnv("rendezvous")

	decodeHooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHooks)); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

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

	return cfg, nil
}
