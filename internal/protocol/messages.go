package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/PCL-Community/PCL.Core-sub001/internal/player"
)

// PlayerPing is the body of a c:player_ping request.
type PlayerPing struct {
	Name      string `json:"name"`
	MachineID string `json:"machine_id"`
	Vendor    string `json:"vendor"`
}

// NewPlayerPing builds a c:player_ping request.
func NewPlayerPing(ping PlayerPing) (Request, error) {
	body, err := json.Marshal(ping)
	if err != nil {
		return Request{}, err
	}
	return Request{Type: TypePlayerPing, Body: body}, nil
}

// ParsePlayerPing decodes a c:player_ping body.
func ParsePlayerPing(body []byte) (PlayerPing, error) {
	var ping PlayerPing
	if err := json.Unmarshal(body, &ping); err != nil {
		return PlayerPing{}, fmt.Errorf("invalid player ping: %w", err)
	}
	if ping.MachineID == "" {
		return PlayerPing{}, fmt.Errorf("invalid player ping: missing machine id")
	}
	return ping, nil
}

// EncodeProfiles serializes a player list for c:player_profile_list.
func EncodeProfiles(profiles []player.Profile) ([]byte, error) {
	if profiles == nil {
		profiles = []player.Profile{}
	}
	return json.Marshal(profiles)
}

// DecodeProfiles parses a c:player_profile_list body, host first.
func DecodeProfiles(body []byte) ([]player.Profile, error) {
	var profiles []player.Profile
	if err := json.Unmarshal(body, &profiles); err != nil {
		return nil, fmt.Errorf("invalid profile list: %w", err)
	}
	return player.HostFirst(profiles), nil
}

// EncodePort serializes a c:server_port body.
func EncodePort(port int) []byte {
	return binary.BigEndian.AppendUint16(nil, uint16(port))
}

// DecodePort parses a c:server_port body.
func DecodePort(body []byte) (int, error) {
	if len(body) != 2 {
		return 0, fmt.Errorf("invalid server port body: %d bytes", len(body))
	}
	return int(binary.BigEndian.Uint16(body)), nil
}

// EncodeProtocols serializes a c:protocols body: NUL-separated type tags.
func EncodeProtocols(types []string) []byte {
	return bytes.Join(toBytes(types), []byte{0})
}

// DecodeProtocols parses a c:protocols body.
func DecodeProtocols(body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	parts := bytes.Split(body, []byte{0})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) > 0 {
			out = append(out, string(p))
		}
	}
	return out
}

func toBytes(ss []string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}
