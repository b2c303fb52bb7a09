package mesh

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Role selects how the process joins the virtual network.
type Role uint8

const (
	RoleHost Role = iota
	RoleGuest
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "guest"
}

// Protocol is the preferred transport between peers.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// RelayTier classifies relay nodes; tiers combine as a bit mask.
type RelayTier uint8

const (
	TierSelfHosted RelayTier = 1 << iota
	TierCommunity
	TierCustom

	TierAll = TierSelfHosted | TierCommunity | TierCustom
)

// ParseRelayTiers parses a comma-separated list such as "community,custom".
func ParseRelayTiers(s string) (RelayTier, error) {
	var tiers RelayTier
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "":
		case "self", "selfhosted", "self-hosted":
			tiers |= TierSelfHosted
		case "community":
			tiers |= TierCommunity
		case "custom":
			tiers |= TierCustom
		case "all":
			tiers |= TierAll
		default:
			return 0, fmt.Errorf("unknown relay tier %q", part)
		}
	}
	return tiers, nil
}

// Relay is one rendezvous/forwarding node URL, e.g. tcp://relay.example:11010.
type Relay struct {
	URL  string
	Tier RelayTier
}

// FilterRelays keeps the relays whose tier is enabled in tiers.
func FilterRelays(relays []Relay, tiers RelayTier) []Relay {
	out := make([]Relay, 0, len(relays))
	for _, r := range relays {
		if r.Tier&tiers != 0 && r.URL != "" {
			out = append(out, r)
		}
	}
	return out
}

const (
	// DefaultHostIP is the fixed virtual address of the lobby host.
	DefaultHostIP = "10.144.144.1"

	hostHostnamePrefix  = "scaffolding-mc-server-"
	guestHostnamePrefix = "scaffolding-mc-client-"
)

// HostHostname is the hostname a lobby host announces. It carries the
// scaffolding port so guests can find it from the peer list alone.
func HostHostname(scaffoldingPort int) string {
	return hostHostnamePrefix + strconv.Itoa(scaffoldingPort)
}

// ParseHostHostname extracts the scaffolding port from a host hostname.
func ParseHostHostname(hostname string) (int, bool) {
	rest, ok := strings.CutPrefix(hostname, hostHostnamePrefix)
	if !ok {
		return 0, false
	}
	port, err := strconv.Atoi(rest)
	if err != nil || port < 1 || port > 65535 {
		return 0, false
	}
	return port, true
}

// Config is everything needed to launch one mesh process.
type Config struct {
	Role          Role
	NetworkName   string
	NetworkSecret string

	// RPCPort is the local management port; zero allocates one.
	RPCPort int

	// Host role only.
	HostIP          string
	GamePort        int
	ScaffoldingPort int

	// Guest role only; empty draws a random hostname.
	Hostname string

	Relays     []Relay
	RelayTiers RelayTier

	Protocol     Protocol
	EnableIPv6   bool
	LatencyFirst bool
	HolePunching bool
	KCPProxy     bool
	QUICProxy    bool
	Encryption   string
	Compression  string
}

// Validate checks the role-specific requirements.
func (c Config) Validate() error {
	if c.NetworkName == "" {
		return fmt.Errorf("mesh config: empty network name")
	}
	if c.Role == RoleHost {
		if c.ScaffoldingPort < 1 || c.ScaffoldingPort > 65535 {
			return fmt.Errorf("mesh config: invalid scaffolding port %d", c.ScaffoldingPort)
		}
		if c.GamePort < 0 || c.GamePort > 65535 {
			return fmt.Errorf("mesh config: invalid game port %d", c.GamePort)
		}
	}
	return nil
}

// Args renders the command line for the core process.
func (c Config) Args() []string {
	args := []string{
		"--no-tun",
		"--multi-thread",
		"--network-name", c.NetworkName,
		"--network-secret", c.NetworkSecret,
		"--rpc-portal", fmt.Sprintf("127.0.0.1:%d", c.RPCPort),
		"--private-mode", "true",
	}

	if c.Encryption != "" {
		args = append(args, "--encryption-algorithm", c.Encryption)
	}
	if c.Compression != "" {
		args = append(args, "--compression", c.Compression)
	}
	if c.KCPProxy {
		args = append(args, "--enable-kcp-proxy")
	}
	if c.QUICProxy {
		args = append(args, "--enable-quic-proxy")
	}
	if c.Protocol != "" {
		args = append(args, "--default-protocol", string(c.Protocol))
	}
	if !c.EnableIPv6 {
		args = append(args, "--disable-ipv6")
	}
	if c.LatencyFirst {
		args = append(args, "--latency-first")
	}
	if !c.HolePunching {
		args = append(args, "--disable-udp-hole-punching")
	}

	tiers := c.RelayTiers
	if tiers == 0 {
		tiers = TierAll
	}
	for _, r := range FilterRelays(c.Relays, tiers) {
		args = append(args, "--peers", r.URL)
	}

	switch c.Role {
	case RoleHost:
		ip := c.HostIP
		if ip == "" {
			ip = DefaultHostIP
		}
		args = append(args,
			"--ipv4", ip,
			"--hostname", HostHostname(c.ScaffoldingPort),
			"--tcp-whitelist", strconv.Itoa(c.ScaffoldingPort),
		)
		if c.GamePort > 0 {
			args = append(args,
				"--tcp-whitelist", strconv.Itoa(c.GamePort),
				"--udp-whitelist", strconv.Itoa(c.GamePort),
			)
		}
	default:
		hostname := c.Hostname
		if hostname == "" {
			hostname = guestHostnamePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		}
		args = append(args, "--dhcp", "--hostname", hostname)
	}

	return args
}
