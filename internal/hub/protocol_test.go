package hub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_SetsTypeField(t *testing.T) {
	msg := encode("subscription:confirmed", map[string]any{"feedName": "TimingData"})

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg, &decoded))
	assert.Equal(t, "subscription:confirmed", decoded["type"])
	assert.Equal(t, "TimingData", decoded["feedName"])
}

func TestEncode_UnmarshalableFieldFallsBackToBareType(t *testing.T) {
	msg := encode("feed:x", map[string]any{"bad": make(chan int)})

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg, &decoded))
	assert.Equal(t, "feed:x", decoded["type"])
	assert.Len(t, decoded, 1, "the fallback frame carries only type, nothing else")
}
