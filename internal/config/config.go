// Package config gathers runtime settings from defaults, an optional .env
// file and LOBBY_* environment variables. Command-line flags are applied on
// top by the CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/PCL-Community/PCL.Core-sub001/internal/lobbycode"
	"github.com/PCL-Community/PCL.Core-sub001/internal/mesh"
)

// EnvPrefix starts every recognised environment variable.
const EnvPrefix = "LOBBY_"

// CommunityRelays are the public relays used when the community tier is
// enabled.
var CommunityRelays = []mesh.Relay{
	{URL: "tcp://public.easytier.top:11010", Tier: mesh.TierCommunity},
}

// Config is the full runtime configuration.
type Config struct {
	PlayerName string
	Vendor     string

	// BinDir holds the mesh executables; empty searches PATH.
	BinDir  string
	DataDir string

	CodeFormat lobbycode.Format

	RelayTiers       mesh.RelayTier
	SelfHostedRelays []string
	CustomRelays     []string

	Protocol     mesh.Protocol
	EnableIPv6   bool
	LatencyFirst bool
	HolePunching bool
	KCPProxy     bool
	QUICProxy    bool
	Encryption   string
	Compression  string

	Heartbeat         time.Duration
	PlayerExpiry      time.Duration
	DiscoveryAttempts int
	DiscoveryInterval time.Duration
	DiscoveryTimeout  time.Duration

	LogLevel   string
	EventsAddr string
	Metrics    bool
}

// Default returns the built-in configuration.
func Default() Config {
	dataDir := ".lobby"
	if dir, err := os.UserConfigDir(); err == nil {
		dataDir = filepath.Join(dir, "lobby")
	}
	return Config{
		Vendor:            "PCL.Core",
		DataDir:           dataDir,
		CodeFormat:        lobbycode.FormatScaffolding,
		RelayTiers:        mesh.TierAll,
		Protocol:          mesh.ProtocolTCP,
		HolePunching:      true,
		KCPProxy:          true,
		QUICProxy:         true,
		Compression:       "zstd",
		Heartbeat:         5 * time.Second,
		PlayerExpiry:      15 * time.Second,
		DiscoveryAttempts: 30,
		DiscoveryInterval: time.Second,
		DiscoveryTimeout:  45 * time.Second,
		LogLevel:          "info",
		EventsAddr:        "127.0.0.1:0",
		Metrics:           true,
	}
}

// Load returns Default overridden by envFile (when it exists) and then by
// the process environment. An empty envFile skips the file.
func Load(envFile string) (Config, error) {
	file := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			file = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}

	lookup := func(key string) (string, bool) {
		key = EnvPrefix + key
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}

	cfg := Default()
	if err := cfg.apply(lookup); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) apply(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			*dst = splitList(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("PLAYER_NAME", &c.PlayerName)
	str("VENDOR", &c.Vendor)
	str("BIN_DIR", &c.BinDir)
	str("DATA_DIR", &c.DataDir)
	list("SELF_HOSTED_RELAYS", &c.SelfHostedRelays)
	list("CUSTOM_RELAYS", &c.CustomRelays)
	boolean("IPV6", &c.EnableIPv6)
	boolean("LATENCY_FIRST", &c.LatencyFirst)
	boolean("HOLE_PUNCHING", &c.HolePunching)
	boolean("KCP_PROXY", &c.KCPProxy)
	boolean("QUIC_PROXY", &c.QUICProxy)
	str("ENCRYPTION", &c.Encryption)
	str("COMPRESSION", &c.Compression)
	duration("HEARTBEAT", &c.Heartbeat)
	duration("PLAYER_EXPIRY", &c.PlayerExpiry)
	integer("DISCOVERY_ATTEMPTS", &c.DiscoveryAttempts)
	duration("DISCOVERY_INTERVAL", &c.DiscoveryInterval)
	duration("DISCOVERY_TIMEOUT", &c.DiscoveryTimeout)
	str("LOG_LEVEL", &c.LogLevel)
	str("EVENTS_ADDR", &c.EventsAddr)
	boolean("METRICS", &c.Metrics)

	if v, ok := lookup("CODE_FORMAT"); ok {
		f, err := lobbycode.ParseFormat(v)
		if err != nil {
			errs = append(errs, err)
		} else {
			c.CodeFormat = f
		}
	}
	if v, ok := lookup("RELAY_TIERS"); ok {
		t, err := mesh.ParseRelayTiers(v)
		if err != nil {
			errs = append(errs, err)
		} else {
			c.RelayTiers = t
		}
	}
	if v, ok := lookup("PROTOCOL"); ok {
		p, err := ParseProtocol(v)
		if err != nil {
			errs = append(errs, err)
		} else {
			c.Protocol = p
		}
	}

	if len(errs) == 0 {
		errs = append(errs, c.Validate())
	}
	return errors.Join(errs...)
}

// ParseProtocol accepts "tcp" or "udp".
func ParseProtocol(s string) (mesh.Protocol, error) {
	switch p := mesh.Protocol(strings.ToLower(strings.TrimSpace(s))); p {
	case mesh.ProtocolTCP, mesh.ProtocolUDP:
		return p, nil
	}
	return "", fmt.Errorf("unknown protocol %q", s)
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch {
	case c.Heartbeat <= 0:
		return fmt.Errorf("heartbeat must be positive")
	case c.PlayerExpiry < c.Heartbeat:
		return fmt.Errorf("player expiry %s is shorter than the heartbeat %s", c.PlayerExpiry, c.Heartbeat)
	case c.DiscoveryAttempts <= 0:
		return fmt.Errorf("discovery attempts must be positive")
	case c.DiscoveryTimeout <= 0:
		return fmt.Errorf("discovery timeout must be positive")
	}
	return nil
}

// Relays returns every configured relay, tagged by tier.
func (c Config) Relays() []mesh.Relay {
	var out []mesh.Relay
	for _, u := range c.SelfHostedRelays {
		out = append(out, mesh.Relay{URL: u, Tier: mesh.TierSelfHosted})
	}
	out = append(out, CommunityRelays...)
	for _, u := range c.CustomRelays {
		out = append(out, mesh.Relay{URL: u, Tier: mesh.TierCustom})
	}
	return out
}

// MeshTemplate returns the per-session mesh settings. Role, network and
// ports are left for the controller to fill in.
func (c Config) MeshTemplate() mesh.Config {
	return mesh.Config{
		Relays:       c.Relays(),
		RelayTiers:   c.RelayTiers,
		Protocol:     c.Protocol,
		EnableIPv6:   c.EnableIPv6,
		LatencyFirst: c.LatencyFirst,
		HolePunching: c.HolePunching,
		KCPProxy:     c.KCPProxy,
		QUICProxy:    c.QUICProxy,
		Encryption:   c.Encryption,
		Compression:  c.Compression,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
