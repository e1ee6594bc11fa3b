package driverstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/f1-relay/internal/normalize"
)

func ptr[T any](v T) *T { return &v }

func TestMerge_NonNullOverwritesAndUnknownFallback(t *testing.T) {
	s := New(nil)
	s.Merge(normalize.TimingLine{DriverNumber: "44", Position: ptr(1)}, 1)

	rec, ok := s.Get("44")
	require.True(t, ok)
	assert.Equal(t, "#44", rec.Name, "unknown drivers fall back to #n")
	require.NotNil(t, rec.Position)
	assert.Equal(t, 1, *rec.Position)

	// A later merge with a nil Position must not clobber the existing value.
	s.Merge(normalize.TimingLine{DriverNumber: "44", LastLapTime: ptr("1:23.000")}, 2)
	rec, _ = s.Get("44")
	require.NotNil(t, rec.Position)
	assert.Equal(t, 1, *rec.Position, "non-null-carrying fields only overwrite when present")
	require.NotNil(t, rec.LastLap)
	assert.Equal(t, "1:23.000", *rec.LastLap)
}

func TestMerge_CompletedLapsMonotonic(t *testing.T) {
	s := New(nil)
	s.Merge(normalize.TimingLine{DriverNumber: "1", NumberOfLaps: ptr(5)}, 1)
	s.Merge(normalize.TimingLine{DriverNumber: "1", NumberOfLaps: ptr(3)}, 2)

	rec, _ := s.Get("1")
	assert.Equal(t, 5, rec.CompletedLaps, "completed laps must never regress")
}

func TestMerge_NameLookup(t *testing.T) {
	lookup := func(num string) (string, bool) {
		if num == "1" {
			return "Max Verstappen", true
		}
		return "", false
	}
	s := New(lookup)
	s.Merge(normalize.TimingLine{DriverNumber: "1"}, 1)
	rec, _ := s.Get("1")
	assert.Equal(t, "Max Verstappen", rec.Name)
}

func TestOrdered_PositionSortWithNilsLast(t *testing.T) {
	s := New(nil)
	s.Merge(normalize.TimingLine{DriverNumber: "44", Position: ptr(2)}, 1)
	s.Merge(normalize.TimingLine{DriverNumber: "1", Position: ptr(1)}, 1)
	s.Merge(normalize.TimingLine{DriverNumber: "16"}, 1) // no position

	ordered := s.Ordered()
	require.Len(t, ordered, 3)
	assert.Equal(t, "1", ordered[0].DriverNumber)
	assert.Equal(t, "44", ordered[1].DriverNumber)
	assert.Equal(t, "16", ordered[2].DriverNumber, "unset position sorts last")
}

func TestOrdered_TieBreakByDriverNumber(t *testing.T) {
	s := New(nil)
	s.Merge(normalize.TimingLine{DriverNumber: "44"}, 1)
	s.Merge(normalize.TimingLine{DriverNumber: "1"}, 1)

	ordered := s.Ordered()
	require.Len(t, ordered, 2)
	assert.Equal(t, "1", ordered[0].DriverNumber, "both nil-position, ties break by parsed driver number")
}
