package upstream

// ConnState is the UpstreamClient session state (spec §3, §4.1).
type ConnState int

const (
	Disconnected ConnState = iota
	Negotiating
	Opening
	Starting
	Connected
	Reconnecting
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Negotiating:
		return "Negotiating"
	case Opening:
		return "Opening"
	case Starting:
		return "Starting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	default:
		return "Unknown"
	}
}
