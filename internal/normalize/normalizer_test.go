package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/f1-relay/internal/feed"
)

func frame(kind feed.Kind, ts time.Time, payload map[string]any) feed.Frame {
	return feed.Frame{FeedName: kind, Timestamp: ts, Payload: payload}
}

func TestNormalize_DedupStrictEquality(t *testing.T) {
	n := New()
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	_, ok := n.Normalize(frame(feed.KindWeather, ts, map[string]any{"AirTemp": "20.0"}))
	require.True(t, ok)

	_, ok = n.Normalize(frame(feed.KindWeather, ts, map[string]any{"AirTemp": "20.0"}))
	assert.False(t, ok, "identical feed+timestamp must be dropped as a duplicate")

	_, ok = n.Normalize(frame(feed.KindWeather, ts.Add(time.Second), map[string]any{"AirTemp": "21.0"}))
	assert.True(t, ok, "a later timestamp on the same feed is not a duplicate")
}

func TestNormalize_OutOfOrderStillForwarded(t *testing.T) {
	n := New()
	later := time.Date(2024, 1, 1, 10, 0, 5, 0, time.UTC)
	earlier := later.Add(-time.Second)

	_, ok := n.Normalize(frame(feed.KindWeather, later, map[string]any{}))
	require.True(t, ok)

	_, ok = n.Normalize(frame(feed.KindWeather, earlier, map[string]any{}))
	assert.True(t, ok, "an out-of-order earlier frame is forwarded, not treated as a dup")
}

func TestNormalizeTimingData_PresenceAwareBestLap(t *testing.T) {
	payload := map[string]any{
		"Lines": map[string]any{
			"1": map[string]any{
				"Position":     1.0,
				"LastLapTime":  map[string]any{"Value": "1:23.456"},
				"NumberOfLaps": 10.0,
			},
			"44": map[string]any{
				"Position":    2.0,
				"LastLapTime": map[string]any{"Value": "1:24.000"},
				"BestLapTime": map[string]any{"Value": "1:22.000"},
			},
		},
	}
	snap := normalizeTimingData(payload)

	line1 := snap.Lines["1"]
	assert.Nil(t, line1.BestLapTime, "BestLapTime absent from raw payload must stay nil, not zero-value empty string")

	line44 := snap.Lines["44"]
	require.NotNil(t, line44.BestLapTime)
	assert.Equal(t, "1:22.000", *line44.BestLapTime)

	require.NotNil(t, snap.Overall)
	assert.Equal(t, "1", snap.Overall.DriverNumber, "driver 1's 1:23.456 is lexicographically smaller than 1:24.000")
}

func TestNormalizeCarData_ChannelIndices(t *testing.T) {
	payload := map[string]any{
		"Entries": []any{
			map[string]any{
				"Cars": map[string]any{
					"1": map[string]any{
						"Channels": map[string]any{
							"0": 310.0, "2": 11000.0, "3": 7.0, "4": 100.0, "5": 0.0, "45": 1.0,
						},
					},
				},
			},
		},
	}
	snap := normalizeCarData(payload)
	car := snap.Cars["1"]
	require.NotNil(t, car.Speed)
	assert.Equal(t, 310.0, *car.Speed)
	require.NotNil(t, car.DRS)
	assert.Equal(t, 1.0, *car.DRS)
}

func TestNormalizeTrackStatus_FlagLookup(t *testing.T) {
	out := normalizeTrackStatus(map[string]any{"Status": "2", "Message": "Yellow"})
	assert.Equal(t, "Yellow", out["flag"])

	out = normalizeTrackStatus(map[string]any{"Status": "99"})
	assert.Equal(t, "Unknown", out["flag"], "unrecognized codes fall back to Unknown rather than panicking")
}

func TestFlatten_LowerCamelCase(t *testing.T) {
	out := flatten(map[string]any{"SessionType": "Race", "Meeting": map[string]any{"Name": "test"}})
	assert.Equal(t, "Race", out["sessionType"])
	assert.NotNil(t, out["meeting"])
}
