package livestats

import (
	"sync"
	"time"
)

// CampaignStats is the canonical current-stats record for one run. Field
// values are snapshots, never deltas.
type CampaignStats struct {
	RunID            string     `json:"run_id"`
	Workflow         string     `json:"workflow"`
	Executions       int64      `json:"executions"`
	ExecutionsPerSec float64    `json:"executions_per_sec"`
	Crashes          int        `json:"crashes"`
	UniqueCrashes    int        `json:"unique_crashes"`
	Coverage         float64    `json:"coverage,omitempty"`
	CorpusSize       int        `json:"corpus_size"`
	ElapsedTime      int64      `json:"elapsed_time"`
	LastCrashTime    *time.Time `json:"last_crash_time,omitempty"`
}

// Tracker holds the per-run stats records. Reads and writes come from both
// the poller and observer handlers, so access is mutex guarded.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]CampaignStats
}

func NewTracker() *Tracker {
	return &Tracker{stats: make(map[string]CampaignStats)}
}

// Update replaces the record for a run with the latest snapshot.
func (t *Tracker) Update(stats CampaignStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats[stats.RunID] = stats
}

func (t *Tracker) Get(runID string) (CampaignStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.stats[runID]
	return s, ok
}

// Snapshot returns a copy of every tracked record.
func (t *Tracker) Snapshot() []CampaignStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]CampaignStats, 0, len(t.stats))
	for _, s := range t.stats {
		out = append(out, s)
	}
	return out
}

// Forget drops a run once its campaign is known complete.
func (t *Tracker) Forget(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.stats, runID)
}
