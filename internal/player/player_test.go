package player

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostFirstIsStable(t *testing.T) {
	in := []Profile{
		{Name: "a", Kind: KindGuest},
		{Name: "b", Kind: KindGuest},
		{Name: "host", Kind: KindHost},
		{Name: "c", Kind: KindGuest},
	}

	out := HostFirst(in)

	names := make([]string, len(out))
	for i, p := range out {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"host", "a", "b", "c"}, names)
	assert.Equal(t, "a", in[0].Name, "input must not be reordered")
}

func TestKindJSON(t *testing.T) {
	data, err := json.Marshal(Profile{Name: "Steve", MachineID: "m1", Kind: KindHost})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Steve","machine_id":"m1","kind":"HOST"}`, string(data))

	var p Profile
	require.NoError(t, json.Unmarshal([]byte(`{"name":"Alex","machine_id":"m2","kind":"guest"}`), &p))
	assert.Equal(t, KindGuest, p.Kind)

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"ADMIN"}`), &p))
}

func TestHasLatency(t *testing.T) {
	assert.False(t, Profile{LatencyMs: LatencyUnknown}.HasLatency())
	assert.False(t, Profile{LatencyMs: -1}.HasLatency())
	assert.True(t, Profile{LatencyMs: 12}.HasLatency())
}
