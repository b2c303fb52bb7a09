// Package player defines the lobby participant model shared by the mesh,
// scaffolding and session layers.
package player

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind tells the lobby host apart from its guests.
type Kind uint8

const (
	KindGuest Kind = iota
	KindHost
)

func (k Kind) String() string {
	if k == KindHost {
		return "HOST"
	}
	return "GUEST"
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch strings.ToUpper(s) {
	case "HOST":
		*k = KindHost
	case "GUEST", "":
		*k = KindGuest
	default:
		return fmt.Errorf("unknown player kind %q", s)
	}
	return nil
}

// LatencyUnknown is the placeholder latency reported for peers whose route
// has not been measured yet.
const LatencyUnknown = 1000

// Profile describes one participant of a lobby.
type Profile struct {
	Name           string  `json:"name"`
	MachineID      string  `json:"machine_id"`
	Vendor         string  `json:"vendor,omitempty"`
	Kind           Kind    `json:"kind"`
	VirtualAddress string  `json:"-"`
	LatencyMs      int     `json:"-"`
	PacketLossPct  float64 `json:"-"`
}

// IsHost reports whether p is the lobby host.
func (p Profile) IsHost() bool { return p.Kind == KindHost }

// HasLatency reports whether the latency holds a measured value.
func (p Profile) HasLatency() bool { return p.LatencyMs >= 0 && p.LatencyMs != LatencyUnknown }

// HostFirst returns a copy of profiles with every host entry moved to the
// front. Relative order inside each group is preserved (stable partition).
func HostFirst(profiles []Profile) []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		if p.IsHost() {
			out = append(out, p)
		}
	}
	for _, p := range profiles {
		if !p.IsHost() {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns an independent copy of profiles.
func Clone(profiles []Profile) []Profile {
	if profiles == nil {
		return nil
	}
	out := make([]Profile, len(profiles))
	copy(out, profiles)
	return out
}
