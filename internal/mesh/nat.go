package mesh

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NatType is the orchestrator's own NAT classification.
type NatType uint8

const (
	NatUnknown NatType = iota
	NatOpen
	NatFullCone
	NatRestricted
	NatPortRestricted
	NatSymmetric
	NatSymmetricEasy
	NatBlocked
)

var natNames = [...]string{
	NatUnknown:        "unknown",
	NatOpen:           "open",
	NatFullCone:       "full-cone",
	NatRestricted:     "restricted",
	NatPortRestricted: "port-restricted",
	NatSymmetric:      "symmetric",
	NatSymmetricEasy:  "symmetric-easy",
	NatBlocked:        "blocked",
}

func (n NatType) String() string {
	if int(n) < len(natNames) {
		return natNames[n]
	}
	return "unknown"
}

func (n NatType) MarshalJSON() ([]byte, error) { return json.Marshal(n.String()) }

// natFromCode maps the process's numeric STUN classification.
func natFromCode(code int) NatType {
	switch code {
	case 1, 2: // open internet, no PAT
		return NatOpen
	case 3:
		return NatFullCone
	case 4:
		return NatRestricted
	case 5:
		return NatPortRestricted
	case 6:
		return NatSymmetric
	case 7: // symmetric with UDP firewall
		return NatBlocked
	case 8, 9: // symmetric with predictable port increments
		return NatSymmetricEasy
	default:
		return NatUnknown
	}
}

// NatStatus is the result of a STUN probe.
type NatStatus struct {
	UDP          NatType  `json:"udp"`
	TCP          NatType  `json:"tcp"`
	SupportsIPv6 bool     `json:"supports_ipv6"`
	PublicIPs    []string `json:"public_ips,omitempty"`
}

type stunReport struct {
	UDPNatType int      `json:"udp_nat_type"`
	TCPNatType int      `json:"tcp_nat_type"`
	PublicIP   []string `json:"public_ip"`
}

// ParseNatStatus decodes the cli tool's JSON STUN report.
func ParseNatStatus(data []byte) (NatStatus, error) {
	var r stunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return NatStatus{}, fmt.Errorf("invalid stun report: %w", err)
	}
	st := NatStatus{
		UDP:       natFromCode(r.UDPNatType),
		TCP:       natFromCode(r.TCPNatType),
		PublicIPs: r.PublicIP,
	}
	for _, ip := range r.PublicIP {
		if strings.Contains(ip, ":") {
			st.SupportsIPv6 = true
			break
		}
	}
	return st, nil
}
