package mesh

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/PCL-Community/PCL.Core-sub001/internal/player"
)

// Peer is one node of the virtual network as reported by the cli tool.
type Peer struct {
	ID             string
	Hostname       string
	VirtualAddress string
	LatencyMs      int
	LossPct        float64
	Cost           string
	NatType        string
	Version        string

	// IsHost is set when the hostname follows the lobby host convention.
	IsHost bool
	// ScaffoldingPort is parsed from the host hostname.
	ScaffoldingPort int
}

// IsLocal reports whether the row describes the querying node itself.
func (p Peer) IsLocal() bool { return strings.EqualFold(p.Cost, "local") }

// Profile converts the peer into a player profile shell; the display name
// and machine id are only known once the scaffolding handshake ran.
func (p Peer) Profile() player.Profile {
	kind := player.KindGuest
	if p.IsHost {
		kind = player.KindHost
	}
	return player.Profile{
		Name:           p.Hostname,
		Kind:           kind,
		VirtualAddress: p.VirtualAddress,
		LatencyMs:      p.LatencyMs,
		PacketLossPct:  p.LossPct,
	}
}

// PeerList is a classified peer listing. Host is nil while no host is visible.
type PeerList struct {
	Peers []Peer
	Host  *Peer
}

// looseString accepts either a JSON string or a JSON number.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	*s = looseString(data)
	return nil
}

type peerRow struct {
	ID          looseString `json:"id"`
	CIDR        string      `json:"cidr"`
	IPv4        string      `json:"ipv4"`
	Hostname    string      `json:"hostname"`
	Cost        string      `json:"cost"`
	LatMs       looseString `json:"lat_ms"`
	LossRate    looseString `json:"loss_rate"`
	NatType     string      `json:"nat_type"`
	Version     string      `json:"version"`
	TunnelProto string      `json:"tunnel_proto"`
}

// ParsePeers decodes the cli tool's JSON peer array.
func ParsePeers(data []byte) ([]Peer, error) {
	var rows []peerRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("invalid peer list: %w", err)
	}

	peers := make([]Peer, 0, len(rows))
	for _, r := range rows {
		addr := r.IPv4
		if addr == "" {
			addr = r.CIDR
		}
		if i := strings.IndexByte(addr, '/'); i >= 0 {
			addr = addr[:i]
		}

		p := Peer{
			ID:             string(r.ID),
			Hostname:       r.Hostname,
			VirtualAddress: addr,
			LatencyMs:      parseLatency(string(r.LatMs)),
			LossPct:        parseLoss(string(r.LossRate)),
			Cost:           r.Cost,
			NatType:        r.NatType,
			Version:        r.Version,
		}
		p.ScaffoldingPort, p.IsHost = ParseHostHostname(r.Hostname)
		peers = append(peers, p)
	}
	return peers, nil
}

// ClassifyPeers picks the lobby host out of peers. Two or more peers
// claiming the host hostname yield ErrDuplicateHost.
func ClassifyPeers(peers []Peer) (PeerList, error) {
	list := PeerList{Peers: peers}
	var hosts []string
	for i := range peers {
		if !peers[i].IsHost {
			continue
		}
		hosts = append(hosts, fmt.Sprintf("%s(%s)", peers[i].Hostname, peers[i].VirtualAddress))
		if list.Host == nil {
			list.Host = &peers[i]
		}
	}
	if len(hosts) > 1 {
		return PeerList{Peers: peers}, fmt.Errorf("%w: %s", ErrDuplicateHost, strings.Join(hosts, ", "))
	}
	return list, nil
}

func parseLatency(s string) int {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "ms"))
	if s == "" || s == "-" {
		return player.LatencyUnknown
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsNaN(v) {
		return player.LatencyUnknown
	}
	return int(math.Round(v))
}

func parseLoss(s string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
