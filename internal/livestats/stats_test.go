package livestats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerLifecycle(t *testing.T) {
	tracker := NewTracker()

	tracker.Update(CampaignStats{RunID: "r1", Executions: 100})
	tracker.Update(CampaignStats{RunID: "r2", Executions: 50})

	stats, ok := tracker.Get("r1")
	require.True(t, ok)
	assert.EqualValues(t, 100, stats.Executions)
	assert.Len(t, tracker.Snapshot(), 2)

	tracker.Forget("r1")
	_, ok = tracker.Get("r1")
	assert.False(t, ok)
	assert.Len(t, tracker.Snapshot(), 1)

	// forgetting an unknown run is a no-op
	tracker.Forget("r1")
}
