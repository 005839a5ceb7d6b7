package limits

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// GoroutineLimiter bounds concurrent goroutines with a semaphore.
type GoroutineLimiter struct {
	sem chan struct{}
}

// NewGoroutineLimiter creates a limiter allowing up to max concurrent holders.
func NewGoroutineLimiter(max int) *GoroutineLimiter {
	return &GoroutineLimiter{sem: make(chan struct{}, max)}
}

// Acquire attempts to take a slot without blocking.
func (gl *GoroutineLimiter) Acquire() bool {
	select {
	case gl.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot.
func (gl *GoroutineLimiter) Release() { <-gl.sem }

// ResourceGuardConfig is the static configuration a ResourceGuard enforces.
type ResourceGuardConfig struct {
	MaxConnections     int
	MaxGoroutines      int
	CPURejectThreshold float64 // reject new connections above this CPU%
	CPUPauseThreshold  float64 // StartMonitoring logs a warning when host memory use exceeds this percentage
}

// ResourceGuard is admission control for new WebSocket connections: a
// hard connection ceiling plus CPU/goroutine safety brakes, sampled on
// an interval rather than per-request (cheap, predictable).
//
// Trimmed to the single concern this server needs: there is no
// message-queue consumer to pause here, only connection admission.
type ResourceGuard struct {
	cfg    ResourceGuardConfig
	logger zerolog.Logger

	currentConns *int64
	currentCPU   atomic.Value // float64
}

// NewResourceGuard wires a ResourceGuard against the server's live
// connection counter.
func NewResourceGuard(cfg ResourceGuardConfig, logger zerolog.Logger, currentConns *int64) *ResourceGuard {
	rg := &ResourceGuard{cfg: cfg, logger: logger, currentConns: currentConns}
	rg.currentCPU.Store(0.0)
	return rg
}

// ShouldAcceptConnection applies the admission checks in order: hard
// connection limit, CPU emergency brake, goroutine limit.
func (rg *ResourceGuard) ShouldAcceptConnection() (accept bool, reason string) {
	currentConns := atomic.LoadInt64(rg.currentConns)
	if currentConns >= int64(rg.cfg.MaxConnections) {
		return false, fmt.Sprintf("at max connections (%d)", rg.cfg.MaxConnections)
	}

	currentCPU := rg.currentCPU.Load().(float64)
	if currentCPU > rg.cfg.CPURejectThreshold {
		return false, fmt.Sprintf("CPU %.1f%% > %.1f%%", currentCPU, rg.cfg.CPURejectThreshold)
	}

	currentGoros := runtime.NumGoroutine()
	if currentGoros > rg.cfg.MaxGoroutines {
		return false, fmt.Sprintf("goroutine limit exceeded (%d > %d)", currentGoros, rg.cfg.MaxGoroutines)
	}

	return true, "OK"
}

// StartMonitoring samples host CPU/memory on an interval and updates
// the guard's live CPU reading until ctx is cancelled.
func (rg *ResourceGuard) StartMonitoring(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				percents, err := cpu.Percent(0, false)
				if err == nil && len(percents) > 0 {
					rg.currentCPU.Store(percents[0])
				}
				vm, err := mem.VirtualMemory()
				if err == nil && vm.UsedPercent > rg.cfg.CPUPauseThreshold {
					rg.logger.Warn().
						Float64("memory_used_pct", vm.UsedPercent).
						Msg("memory usage high")
				}
			}
		}
	}()
}

// CurrentCPU returns the last-sampled CPU percentage.
func (rg *ResourceGuard) CurrentCPU() float64 {
	return rg.currentCPU.Load().(float64)
}
