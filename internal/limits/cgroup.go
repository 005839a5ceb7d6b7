package limits

import (
	"os"
	"strconv"
	"strings"
)

// memoryLimitFromCgroup reads the container memory limit in bytes from
// the cgroup filesystem. Tries cgroup v2 first, then falls back to
// cgroup v1. Returns 0 if no limit is detected (bare metal, VM, or an
// unconstrained cgroup v2 container). An unconstrained cgroup v1
// container reports a very large limit, which is returned as-is.
func memoryLimitFromCgroup() int64 {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			if v, err := strconv.ParseInt(limitStr, 10, 64); err == nil {
				return v
			}
		}
	}
	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		if v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
			return v
		}
	}
	return 0
}

const (
	runtimeOverheadBytes = 128 * 1024 * 1024
	bytesPerConnection   = 180 * 1024 // send buffer + action log + session overhead
	minAutoConnections   = 100
	maxAutoConnections   = 50000
	defaultAutoConnections = 10000
)

// connectionsForMemory derives a safe MaxConnections from a container
// memory ceiling, reserving runtimeOverheadBytes for the Go runtime and
// budgeting bytesPerConnection per live session.
func connectionsForMemory(memoryLimitBytes int64) int {
	if memoryLimitBytes == 0 {
		return defaultAutoConnections
	}

	available := memoryLimitBytes - runtimeOverheadBytes
	if available < 0 {
		available = memoryLimitBytes / 2
	}

	conns := int(available / bytesPerConnection)
	if conns < minAutoConnections {
		conns = minAutoConnections
	}
	if conns > maxAutoConnections {
		conns = maxAutoConnections
	}
	return conns
}

// DetectMaxConnections derives a MaxConnections ceiling from the
// container's memory limit, for deployments that would rather size the
// connection cap off available memory than hand-tune WS_MAX_CONNECTIONS.
// Returns defaultAutoConnections when run outside a cgroup, or when the
// limit can't be read (bare metal, VMs, unconstrained cgroup v2
// containers); an unconstrained cgroup v1 container gets
// maxAutoConnections.
func DetectMaxConnections() int {
	return connectionsForMemory(memoryLimitFromCgroup())
}
