package pipeline

// LaneStats is a snapshot of one lane's task counters. Counters are mutated
// only inside the lane under its lock; callers always receive a copy.
type LaneStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Snapshot aggregates per-lane stats plus a summed total.
type Snapshot struct {
	Lanes map[string]LaneStats `json:"lanes"`
	Total LaneStats            `json:"total"`
}

func (s *Snapshot) add(name string, stats LaneStats) {
	if s.Lanes == nil {
		s.Lanes = make(map[string]LaneStats)
	}
	s.Lanes[name] = stats
	s.Total.Pending += stats.Pending
	s.Total.Running += stats.Running
	s.Total.Completed += stats.Completed
	s.Total.Failed += stats.Failed
}
