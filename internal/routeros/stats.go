package routeros

import (
	"strconv"
)

// MemoryStats holds router memory usage in bytes
type MemoryStats struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

// Statistics is the typed view of /system/resource/print and
// /system/health/print. Temperature is reported as "N/A" on boards
// without a sensor.
type Statistics struct {
	CPULoad     int         `json:"cpu"`
	Memory      MemoryStats `json:"memory"`
	Uptime      string      `json:"uptime"`
	Version     string      `json:"version"`
	BoardName   string      `json:"board_name"`
	Temperature string      `json:"temperature"`
}

func parseStatistics(resource, health []map[string]string) *Statistics {
	stats := &Statistics{Temperature: "N/A"}

	if len(resource) > 0 {
		row := resource[0]
		stats.CPULoad, _ = strconv.Atoi(row["cpu-load"])
		stats.Uptime = row["uptime"]
		stats.Version = row["version"]
		stats.BoardName = row["board-name"]

		total, _ := strconv.ParseUint(row["total-memory"], 10, 64)
		free, _ := strconv.ParseUint(row["free-memory"], 10, 64)
		stats.Memory = MemoryStats{Total: total, Free: free}
		if total >= free {
			stats.Memory.Used = total - free
		}
	}

	if len(health) > 0 {
		if temp, ok := health[0]["temperature"]; ok && temp != "" {
			stats.Temperature = temp
		}
	}

	return stats
}
