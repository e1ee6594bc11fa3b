package normalize

// DriverStatus is the canonical running/stopped state for a timing line.
type DriverStatus string

const (
	StatusRunning DriverStatus = "RUNNING"
	StatusStopped DriverStatus = "STOPPED"
)

// TimingLine is one driver's canonical timing data, presence-aware on
// bestLap: BestLapTime is non-nil only when the raw frame carries
// BestLapTime with a non-empty Value. An absent field and one whose
// Value is null or empty both give nil.
type TimingLine struct {
	DriverNumber            string
	Position                *int
	LastLapTime             *string
	BestLapTime             *string
	NumberOfLaps            *int
	Sectors                 [3]*string
	TimeDiffToFastest       *string
	TimeDiffToPositionAhead *string
	Status                  DriverStatus
	InPit                   bool
	Retired                 bool
}

// FastestMark names the driver currently holding a fastest time.
type FastestMark struct {
	DriverNumber string
	Time         string
}

// TimingSnapshot is the canonical body of a TimingData event.
type TimingSnapshot struct {
	Lines         map[string]TimingLine
	Overall       *FastestMark
	SectorFastest [3]*FastestMark
}

// CarChannels is one driver's car-telemetry sample.
type CarChannels struct {
	Speed    *float64
	RPM      *float64
	Gear     *float64
	Throttle *float64
	Brake    *float64
	DRS      *float64
}

// CarDataSnapshot is the canonical body of a CarData event.
type CarDataSnapshot struct {
	Cars map[string]CarChannels
}

// PositionPoint is one driver's 3D position sample.
type PositionPoint struct {
	X      *float64
	Y      *float64
	Z      *float64
	Status *string
}

// PositionSnapshot is the canonical body of a Position event.
type PositionSnapshot struct {
	Cars map[string]PositionPoint
}

// FlatPayload is the canonical body of SessionInfo/SessionData/
// DriverList/Weather/RaceControl/TrackStatus events: a flattened,
// lowerCamelCase field map. TrackStatus additionally sets "flag".
type FlatPayload map[string]any

// HeartbeatPayload is the canonical body of a Heartbeat event.
type HeartbeatPayload struct {
	Value any
}

var trackStatusFlags = map[string]string{
	"1": "Green",
	"2": "Yellow",
	"3": "SafetyCar",
	"4": "Red",
	"5": "VirtualSafetyCar",
	"6": "SafetyCarEnding",
	"7": "VirtualSafetyCarEnding",
}

func trackStatusFlag(code string) string {
	if name, ok := trackStatusFlags[code]; ok {
		return name
	}
	return "Unknown"
}
