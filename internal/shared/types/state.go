package types

import "time"

// StatsSnapshot is a point-in-time copy of the proxy counters.
type StatsSnapshot struct {
	Uptime     time.Duration `json:"uptime"`
	Requests   uint64        `json:"requests"`
	Downloads  int           `json:"downloads"`
	InFlight   int           `json:"inFlight"`
	SnapshotAt time.Time     `json:"snapshotAt"`
}
