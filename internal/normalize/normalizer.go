// Package normalize turns raw UpstreamClient feed.Frame values into
// canonical feed.Event values: timestamp-based dedup plus per-feed field
// remapping. A Normalizer is a pure function of its inputs modulo a
// small per-feed last-timestamp memo.
package normalize

import (
	"sort"

	"github.com/adred-codev/f1-relay/internal/feed"
)

// Normalizer deduplicates and canonicalizes raw frames. Not safe for
// concurrent use by multiple producers; the Coordinator is the sole
// caller, matching the single-writer discipline of spec §5.
type Normalizer struct {
	lastSeen map[feed.Kind]string // raw timestamp strings, compared by strict equality
}

// New returns an empty Normalizer.
func New() *Normalizer {
	return &Normalizer{lastSeen: make(map[feed.Kind]string)}
}

// rawTimestamp renders a frame's monotonic timestamp the way upstream
// emits it, so dedup equality matches on the same representation the
// spec describes ("2024-01-01T10:00:00.000Z").
func rawTimestamp(f feed.Frame) string {
	return f.Timestamp.Format("2006-01-02T15:04:05.000Z")
}

// Normalize applies dedup then per-feed transformation. Returns
// (event, true) when a canonical event is produced, (zero, false) when
// the frame is dropped as a duplicate.
func (n *Normalizer) Normalize(f feed.Frame) (feed.Event, bool) {
	ts := rawTimestamp(f)
	if last, ok := n.lastSeen[f.FeedName]; ok && last == ts {
		return feed.Event{}, false
	}
	// Only advance the memo forward in wall-clock time; earlier
	// out-of-order frames are still forwarded (spec §4.2).
	if last, ok := n.lastSeen[f.FeedName]; !ok || ts > last {
		n.lastSeen[f.FeedName] = ts
	}

	body := n.transform(f)
	return feed.Event{FeedName: f.FeedName, Timestamp: f.Timestamp, Body: body}, true
}

func (n *Normalizer) transform(f feed.Frame) any {
	switch f.FeedName {
	case feed.KindTimingData:
		return normalizeTimingData(f.Payload)
	case feed.KindCarData:
		return normalizeCarData(f.Payload)
	case feed.KindPosition:
		return normalizePosition(f.Payload)
	case feed.KindTrackStatus:
		return normalizeTrackStatus(f.Payload)
	case feed.KindSessionInfo, feed.KindSessionData, feed.KindDriverList,
		feed.KindWeather, feed.KindRaceControl:
		return flatten(f.Payload)
	case feed.KindHeartbeat:
		return HeartbeatPayload{Value: f.Payload["value"]}
	default:
		if !feed.Known(f.FeedName) {
			return feed.GenericPayload{Raw: f.Payload}
		}
		return flatten(f.Payload)
	}
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok && s != ""
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func ptrString(v any) *string {
	if s, ok := asString(v); ok {
		return &s
	}
	return nil
}

func ptrInt(v any) *int {
	if f, ok := asFloat(v); ok {
		i := int(f)
		return &i
	}
	return nil
}

func ptrFloat(v any) *float64 {
	if f, ok := asFloat(v); ok {
		return &f
	}
	return nil
}

// valueOf reads the ".Value" field the upstream hub nests timing
// strings under, e.g. LastLapTime: {"Value": "1:23.456"}.
func valueOf(v any) any {
	if m := asMap(v); m != nil {
		return m["Value"]
	}
	return nil
}

func normalizeTimingData(payload map[string]any) TimingSnapshot {
	snap := TimingSnapshot{Lines: make(map[string]TimingLine)}
	lines := asMap(payload["Lines"])
	// stable iteration for deterministic fastest-mark resolution on ties
	nums := make([]string, 0, len(lines))
	for k := range lines {
		nums = append(nums, k)
	}
	sort.Strings(nums)

	for _, num := range nums {
		raw := asMap(lines[num])
		line := TimingLine{DriverNumber: num, Status: StatusRunning}
		line.Position = ptrInt(raw["Position"])
		line.LastLapTime = ptrString(valueOf(raw["LastLapTime"]))
		line.NumberOfLaps = ptrInt(raw["NumberOfLaps"])
		line.TimeDiffToFastest = ptrString(raw["TimeDiffToFastest"])
		line.TimeDiffToPositionAhead = ptrString(raw["TimeDiffToPositionAhead"])
		line.InPit = asBool(raw["InPit"])
		line.Retired = asBool(raw["Retired"])
		if asBool(raw["Stopped"]) {
			line.Status = StatusStopped
		}

		// BestLapTime is included only when the field is present and
		// its nested Value is non-empty; absence differs from null.
		if bestRaw, present := raw["BestLapTime"]; present {
			if s, ok := asString(valueOf(bestRaw)); ok {
				line.BestLapTime = &s
			}
		}

		if sectors, ok := raw["Sectors"].([]any); ok {
			for i := 0; i < 3 && i < len(sectors); i++ {
				line.Sectors[i] = ptrString(valueOf(sectors[i]))
			}
		}

		snap.Lines[num] = line

		if line.LastLapTime != nil {
			updateFastest(&snap.Overall, num, *line.LastLapTime)
		}
		for i, s := range line.Sectors {
			if s != nil {
				updateFastest(&snap.SectorFastest[i], num, *s)
			}
		}
	}
	return snap
}

// updateFastest keeps *mark pointed at the driver with the
// lexicographically smallest time string, correct for the upstream
// "M:SS.sss" format (spec §4.2).
func updateFastest(mark **FastestMark, driverNumber, t string) {
	if *mark == nil || t < (*mark).Time {
		*mark = &FastestMark{DriverNumber: driverNumber, Time: t}
	}
}

func normalizeCarData(payload map[string]any) CarDataSnapshot {
	snap := CarDataSnapshot{Cars: make(map[string]CarChannels)}
	entries, _ := payload["Entries"].([]any)
	if len(entries) == 0 {
		return snap
	}
	last := asMap(entries[len(entries)-1])
	cars := asMap(last["Cars"])
	for num, raw := range cars {
		rawCar := asMap(raw)
		channels := asMap(rawCar["Channels"])
		snap.Cars[num] = CarChannels{
			Speed:    ptrFloat(channels["0"]),
			RPM:      ptrFloat(channels["2"]),
			Gear:     ptrFloat(channels["3"]),
			Throttle: ptrFloat(channels["4"]),
			Brake:    ptrFloat(channels["5"]),
			DRS:      ptrFloat(channels["45"]),
		}
	}
	return snap
}

func normalizePosition(payload map[string]any) PositionSnapshot {
	snap := PositionSnapshot{Cars: make(map[string]PositionPoint)}
	positions, _ := payload["Position"].([]any)
	if len(positions) == 0 {
		return snap
	}
	last := asMap(positions[len(positions)-1])
	cars := asMap(last["Entries"])
	for num, raw := range cars {
		rawCar := asMap(raw)
		snap.Cars[num] = PositionPoint{
			X:      ptrFloat(rawCar["X"]),
			Y:      ptrFloat(rawCar["Y"]),
			Z:      ptrFloat(rawCar["Z"]),
			Status: ptrString(rawCar["Status"]),
		}
	}
	return snap
}

func normalizeTrackStatus(payload map[string]any) FlatPayload {
	out := flatten(payload)
	if code, ok := asString(payload["Status"]); ok {
		out["flag"] = trackStatusFlag(code)
	} else {
		out["flag"] = trackStatusFlag("")
	}
	return out
}

// flatten maps upstream PascalCase (or arbitrary) top-level keys to
// lowerCamelCase canonical field names. Nested structures and array
// values pass through unchanged; missing fields simply never appear
// (callers treat absence as null).
func flatten(payload map[string]any) FlatPayload {
	out := make(FlatPayload, len(payload))
	for k, v := range payload {
		out[lowerCamel(k)] = v
	}
	return out
}

func lowerCamel(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if r[0] >= 'A' && r[0] <= 'Z' {
		r[0] = r[0] - 'A' + 'a'
	}
	return string(r)
}
