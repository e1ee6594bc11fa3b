package hub

import "encoding/json"

// Inbound message kinds recognized on the push socket (spec §4.5, §6).
const (
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
	msgPing        = "ping"
	requestPrefix  = "request:"
)

type inbound struct {
	Type string `json:"type"`
	Feed string `json:"feed"`
}

func encode(kind string, fields map[string]any) []byte {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["type"] = kind
	data, err := json.Marshal(out)
	if err != nil {
		// fields are always JSON-safe domain values; a marshal failure
		// here means a caller bug, not a runtime condition to recover from.
		return []byte(`{"type":"` + kind + `"}`)
	}
	return data
}
