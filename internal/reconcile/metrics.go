package reconcile

import (
	"sync"
	"time"
)

// Metrics tracks counters for a single reconciliation run, grounded on
// account-balance-processor/go/server/server.go's ProcessorMetrics: a
// mutex-guarded struct with a GetMetrics-style snapshot rather than a
// Prometheus exporter, since a batch run has no scrape target.
type Metrics struct {
	mu sync.RWMutex

	EntriesInserted   int64
	EntriesEnriched   int64
	RewardsSynthesised int64
	Errors            int64
	LastError         error
	LastProcessedAt   time.Time
	StartedAt         time.Time
}

// NewMetrics constructs a Metrics with StartedAt set to now.
func NewMetrics(now time.Time) *Metrics {
	return &Metrics{StartedAt: now}
}

func (m *Metrics) recordInsert(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EntriesInserted++
	m.LastProcessedAt = now
}

func (m *Metrics) recordEnrich(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EntriesEnriched++
	m.LastProcessedAt = now
}

func (m *Metrics) recordReward(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RewardsSynthesised++
	m.LastProcessedAt = now
}

func (m *Metrics) recordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors++
	m.LastError = err
}

// Snapshot is a point-in-time copy of Metrics safe to JSON-encode.
type Snapshot struct {
	EntriesInserted    int64     `json:"entriesInserted"`
	EntriesEnriched    int64     `json:"entriesEnriched"`
	RewardsSynthesised int64     `json:"rewardsSynthesised"`
	Errors             int64     `json:"errors"`
	LastError          string    `json:"lastError,omitempty"`
	LastProcessedAt    time.Time `json:"lastProcessedAt"`
	StartedAt          time.Time `json:"startedAt"`
}

// GetMetrics returns a snapshot of m, mirroring the teacher's
// GetMetrics() copy-out pattern so callers never hold m's lock.
func (m *Metrics) GetMetrics() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{
		EntriesInserted:    m.EntriesInserted,
		EntriesEnriched:    m.EntriesEnriched,
		RewardsSynthesised: m.RewardsSynthesised,
		Errors:             m.Errors,
		LastProcessedAt:    m.LastProcessedAt,
		StartedAt:          m.StartedAt,
	}
	if m.LastError != nil {
		s.LastError = m.LastError.Error()
	}
	return s
}
