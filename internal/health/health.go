// Package health implements the HealthReporter: it aggregates status
// from the other components for the external /health endpoint, grounded
// on ws/internal/single/core/handlers_http.go's threshold-based health
// logic (goroutine and connection counts checked against configured
// limits, not host maximums). Process CPU and RSS are reported but do
// not affect the status.
package health

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/adred-codev/f1-relay/internal/cache"
	"github.com/adred-codev/f1-relay/internal/hub"
	"github.com/adred-codev/f1-relay/internal/upstream"
)

// Limits are the configured thresholds a health check is judged
// against; these are container/profile limits, not host capacity.
type Limits struct {
	MaxGoroutines  int
	MaxConnections int
}

// Reporter aggregates status across the relay's components.
type Reporter struct {
	up     *upstream.Client
	hub    *hub.Hub
	tier   *cache.Tier
	limits Limits
	proc   *process.Process
}

// New builds a Reporter. If the current process cannot be opened for
// sampling, CPU/memory sampling is skipped.
func New(up *upstream.Client, h *hub.Hub, tier *cache.Tier, limits Limits) *Reporter {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Reporter{up: up, hub: h, tier: tier, limits: limits, proc: proc}
}

type status struct {
	Status        string   `json:"status"`
	Upstream      string   `json:"upstream"`
	Connections   int      `json:"connections"`
	Goroutines    int      `json:"goroutines"`
	CPUPercent    float64  `json:"cpuPercent,omitempty"`
	MemoryRSSBytes uint64  `json:"memoryRssBytes,omitempty"`
	CacheHitRate  float64  `json:"cacheHitRate"`
	CacheFailover bool     `json:"cacheFailover"`
	Warnings      []string `json:"warnings,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// Handler serves GET /health.
func (r *Reporter) Handler(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	upstreamState := r.up.State()
	goroutines := runtime.NumGoroutine()
	conns := r.hub.ConnectionCount()

	healthy := true
	var warnings, errs []string

	if upstreamState != upstreamConnected() {
		if upstreamState == upstreamReconnecting() {
			warnings = append(warnings, "upstream is reconnecting")
		} else {
			healthy = false
			errs = append(errs, "upstream is not connected")
		}
	}
	if goroutines > r.limits.MaxGoroutines {
		healthy = false
		errs = append(errs, "goroutine count exceeds configured limit")
	} else if float64(goroutines) > 0.9*float64(r.limits.MaxGoroutines) {
		warnings = append(warnings, "goroutine count near configured limit")
	}
	if conns > r.limits.MaxConnections {
		healthy = false
		errs = append(errs, "connection count exceeds configured capacity")
	} else if conns == r.limits.MaxConnections {
		warnings = append(warnings, "server at full connection capacity")
	}

	st := "healthy"
	code := http.StatusOK
	if !healthy {
		st = "unhealthy"
		code = http.StatusServiceUnavailable
	} else if len(warnings) > 0 {
		st = "degraded"
	}

	body := status{
		Status:        st,
		Upstream:      upstreamState.String(),
		Connections:   conns,
		Goroutines:    goroutines,
		CacheHitRate:  r.tier.Stats.HitRate(),
		CacheFailover: r.tier.FailoverActive(),
		Warnings:      warnings,
		Errors:        errs,
	}
	if r.proc != nil {
		if cpu, err := r.proc.CPUPercent(); err == nil {
			body.CPUPercent = cpu
		}
		if mem, err := r.proc.MemoryInfo(); err == nil && mem != nil {
			body.MemoryRSSBytes = mem.RSS
		}
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func upstreamConnected() upstream.ConnState    { return upstream.Connected }
func upstreamReconnecting() upstream.ConnState { return upstream.Reconnecting }
