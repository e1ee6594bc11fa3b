package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionAdmitter_GlobalBurstCap(t *testing.T) {
	a := newConnectionAdmitter(2, 1, 10, 10)
	assert.True(t, a.allow("1.1.1.1"))
	assert.True(t, a.allow("2.2.2.2"))
	assert.False(t, a.allow("3.3.3.3"), "a third attempt beyond the global burst is rejected")
}

func TestConnectionAdmitter_PerIPBurstCap(t *testing.T) {
	a := newConnectionAdmitter(100, 100, 1, 1)
	assert.True(t, a.allow("1.1.1.1"))
	assert.False(t, a.allow("1.1.1.1"), "a second attempt from the same IP beyond its burst is rejected")
	assert.True(t, a.allow("2.2.2.2"), "a different IP has its own independent bucket")
}

func TestConnectionAdmitter_DefaultsAppliedOnZero(t *testing.T) {
	a := newConnectionAdmitter(0, 0, 0, 0)
	assert.Equal(t, 300, a.global.Burst())
	assert.Equal(t, 10, a.ipBurst)
}

func TestConnectionAdmitter_Sweep(t *testing.T) {
	a := newConnectionAdmitter(100, 100, 1, 1)
	a.allow("1.1.1.1")
	a.ipTTL = 0
	a.sweep()
	a.mu.Lock()
	_, exists := a.ip["1.1.1.1"]
	a.mu.Unlock()
	assert.False(t, exists, "sweep evicts buckets idle past the TTL")
}
