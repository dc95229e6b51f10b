package services

import (
	"fmt"
	"sync"
)

// OutcomeStats accumulates a numeric outcome series under one key.
type OutcomeStats struct {
	Count uint64  `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// InMemoryRecorder is the process-local metrics sink. Keys are rendered
// printf formats; the rendered names are the dashboard contract.
type InMemoryRecorder struct {
	mu       sync.Mutex
	hits     map[string]uint64
	outcomes map[string]OutcomeStats
}

func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{
		hits:     make(map[string]uint64),
		outcomes: make(map[string]OutcomeStats),
	}
}

func (r *InMemoryRecorder) RecordHit(format string, args ...interface{}) {
	key := render(format, args...)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.hits[key]++
}

func (r *InMemoryRecorder) RecordOutcome(value float64, format string, args ...interface{}) {
	key := render(format, args...)

	r.mu.Lock()
	defer r.mu.Unlock()

	stats := r.outcomes[key]
	if stats.Count == 0 || value < stats.Min {
		stats.Min = value
	}
	if stats.Count == 0 || value > stats.Max {
		stats.Max = value
	}
	stats.Count++
	stats.Sum += value
	r.outcomes[key] = stats
}

// HitCount returns the current count for a rendered key.
func (r *InMemoryRecorder) HitCount(key string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.hits[key]
}

// Snapshot copies out all counters for the stats endpoint.
func (r *InMemoryRecorder) Snapshot() (map[string]uint64, map[string]OutcomeStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hits := make(map[string]uint64, len(r.hits))
	for k, v := range r.hits {
		hits[k] = v
	}
	outcomes := make(map[string]OutcomeStats, len(r.outcomes))
	for k, v := range r.outcomes {
		outcomes[k] = v
	}
	return hits, outcomes
}

func render(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
