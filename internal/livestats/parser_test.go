package livestats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(msg string) LogEntry {
	return LogEntry{Timestamp: time.Now(), Message: msg}
}

func TestParseEnvelopeTypedExtra(t *testing.T) {
	env, ok := ParseEnvelope(LogEntry{
		Message: "periodic stats",
		Extra: map[string]any{
			"stats_type": "fuzzing_live_update",
			"executions": float64(5000),
			"crashes":    float64(2),
		},
	})
	require.True(t, ok)
	assert.EqualValues(t, 5000, env.int64Field("executions"))
	assert.Equal(t, 2, env.intField("crashes"))
}

func TestParseEnvelopeExtraWrongType(t *testing.T) {
	_, ok := ParseEnvelope(LogEntry{
		Message: "periodic stats",
		Extra:   map[string]any{"stats_type": "heartbeat"},
	})
	assert.False(t, ok)
}

func TestParseEnvelopeMarkerJSON(t *testing.T) {
	env, ok := ParseEnvelope(entry(`FUZZ_STATS {"executions": 1234, "executions_per_sec": 61.7, "crashes": 1, "unique_crashes": 1, "corpus_size": 9}`))
	require.True(t, ok)
	assert.EqualValues(t, 1234, env.int64Field("executions"))
	assert.Equal(t, 61.7, env.floatField("executions_per_sec"))
	assert.Equal(t, 9, env.intField("corpus_size"))

	_, ok = ParseEnvelope(entry(`LIVE_STATS {"executions": 7}`))
	assert.True(t, ok)
}

func TestParseEnvelopePythonLiteralExtra(t *testing.T) {
	env, ok := ParseEnvelope(entry(`Finished batch extra={'stats_type': 'live_stats', 'executions': 99, 'coverage': None, 'running': True, 'done': False}`))
	require.True(t, ok)
	assert.EqualValues(t, 99, env.int64Field("executions"))
	assert.Nil(t, env["coverage"])
	assert.Equal(t, true, env["running"])
	assert.Equal(t, false, env["done"])
}

func TestParseEnvelopeExtraWithoutStatsType(t *testing.T) {
	_, ok := ParseEnvelope(entry(`request done extra={'status': 200}`))
	assert.False(t, ok)
}

func TestParseEnvelopeNoiseIgnored(t *testing.T) {
	for _, msg := range []string{
		"",
		"starting fuzz run",
		"FUZZ_STATS not-json-at-all",
		"#100 NEW cov: 3 corp: 2/4b",
	} {
		_, ok := ParseEnvelope(entry(msg))
		assert.False(t, ok, "message %q should not parse", msg)
	}
}

func TestParseEnvelopeDuplicateLineIdempotent(t *testing.T) {
	line := entry(`FUZZ_STATS {"executions": 500, "crashes": 1}`)
	first, ok := ParseEnvelope(line)
	require.True(t, ok)
	second, ok := ParseEnvelope(line)
	require.True(t, ok)
	assert.Equal(t, first.int64Field("executions"), second.int64Field("executions"))
}
