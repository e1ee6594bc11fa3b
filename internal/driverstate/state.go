// Package driverstate holds the merged per-driver standings view.
// Single-writer (the Coordinator); readers get a consistent snapshot
// copy, matching the concurrency discipline of spec §5.
package driverstate

import (
	"sort"
	"strconv"
	"sync"

	"github.com/adred-codev/f1-relay/internal/normalize"
)

// Record is one driver's merged state. CompletedLaps never decreases.
// BestLap is replaced whenever a merged line carries one, even when the
// new time is slower than the held value.
type Record struct {
	DriverNumber            string
	Name                    string
	Position                *int
	LastLap                 *string
	BestLap                 *string
	CompletedLaps           int
	Gap                     *string
	Interval                *string
	InPit                   bool
	Status                  normalize.DriverStatus
	LastUpdate              int64 // unix nanos
}

// NameLookup resolves a driver number to a display name, falling back
// to "#n" when unknown. The core treats driver reference data as an
// external collaborator (spec §1 out of scope).
type NameLookup func(driverNumber string) (string, bool)

// State is the merged DriverTable plus its derived ordering.
type State struct {
	mu      sync.RWMutex
	records map[string]*Record
	lookup  NameLookup
}

// New returns an empty State. lookup may be nil, in which case every
// driver falls back to "#n".
func New(lookup NameLookup) *State {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	return &State{records: make(map[string]*Record), lookup: lookup}
}

// Merge applies one driver's timing line to the table, per spec §4.3:
// non-null event fields overwrite; bestLap overwrites only on presence
// (Normalizer encodes presence as a non-nil pointer) and is not
// compared with the held value; completedLaps takes max(old, new).
func (s *State) Merge(line normalize.TimingLine, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[line.DriverNumber]
	if !ok {
		name, _ := s.lookup(line.DriverNumber)
		if name == "" {
			name = "#" + line.DriverNumber
		}
		rec = &Record{DriverNumber: line.DriverNumber, Name: name}
		s.records[line.DriverNumber] = rec
	}

	if line.Position != nil {
		rec.Position = line.Position
	}
	if line.LastLapTime != nil {
		rec.LastLap = line.LastLapTime
	}
	if line.BestLapTime != nil {
		rec.BestLap = line.BestLapTime
	}
	if line.NumberOfLaps != nil && *line.NumberOfLaps > rec.CompletedLaps {
		rec.CompletedLaps = *line.NumberOfLaps
	}
	if line.TimeDiffToFastest != nil {
		rec.Gap = line.TimeDiffToFastest
	}
	if line.TimeDiffToPositionAhead != nil {
		rec.Interval = line.TimeDiffToPositionAhead
	}
	rec.InPit = line.InPit
	rec.Status = line.Status
	rec.LastUpdate = now
}

// Get returns a copy of one driver's record.
func (s *State) Get(driverNumber string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[driverNumber]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Ordered returns a stable-sorted snapshot: ascending by position with
// unset positions last, ties broken by driver number parsed as an
// integer. Computed on demand, not eagerly materialized.
func (s *State) Ordered() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].Position, out[j].Position
		switch {
		case pi == nil && pj == nil:
			return driverNumInt(out[i].DriverNumber) < driverNumInt(out[j].DriverNumber)
		case pi == nil:
			return false
		case pj == nil:
			return true
		case *pi != *pj:
			return *pi < *pj
		default:
			return driverNumInt(out[i].DriverNumber) < driverNumInt(out[j].DriverNumber)
		}
	})
	return out
}

func driverNumInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 1 << 30
	}
	return n
}
