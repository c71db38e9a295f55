package models

import "time"

// BridgeMetrics is the telemetry snapshot published to the local broker.
type BridgeMetrics struct {
	Timestamp       time.Time         `json:"timestamp"`
	CPUPercent      float64           `json:"cpu_percent"`
	MemoryUsedBytes uint64            `json:"memory_used_bytes"`
	MemoryPercent   float64           `json:"memory_percent"`
	Goroutines      int               `json:"goroutines"`
	LinkStates      map[string]string `json:"link_states"`
}
