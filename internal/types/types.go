package types

import "time"

// WorldResult is one latency measurement for a single world
type WorldResult struct {
	WorldID     int     `json:"world_id" yaml:"world_id"`
	AveragePing float64 `json:"average_ping_ms" yaml:"average_ping_ms"`
}

// Stats holds run statistics
type Stats struct {
	TargetsTotal     int       `json:"targets_total" yaml:"targets_total"`
	TargetsProbed    int       `json:"targets_probed" yaml:"targets_probed"`
	TargetsUnmatched int       `json:"targets_unmatched" yaml:"targets_unmatched"` // probes without a summary line
	RecordsTotal     int       `json:"records_total" yaml:"records_total"`
	StartedAt        time.Time `json:"started_at" yaml:"started_at"`
	LastProbeAt      time.Time `json:"last_probe_at,omitempty" yaml:"last_probe_at,omitempty"`
}

// Snapshot represents a point-in-time copy of the ranking
type Snapshot struct {
	Results []WorldResult `json:"results" yaml:"results"`
	Stats   Stats         `json:"stats" yaml:"stats"`
	Updated time.Time     `json:"updated" yaml:"updated"`
}

// Best returns the lowest-latency record, if any
func (s *Snapshot) Best() (WorldResult, bool) {
	if len(s.Results) == 0 {
		return WorldResult{}, false
	}
	return s.Results[0], true
}
